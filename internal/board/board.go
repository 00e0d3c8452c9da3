// Package board holds the workflow board domain: board entries, the
// permission-scoped listing filter, role resolution and the reconciliation
// plan that keeps entries aligned with workflow states and content items.
//
// Nothing in this package talks to a database directly. Persistence is
// reached through the Repository and Directory interfaces, which the store
// package implements on top of PostgreSQL.
package board

import (
	"fmt"
	"strings"

	"github.com/ConvertGroupsAS/pimcore-workflow-dashboard/internal/rbac"
)

type AssignType string

const (
	AssignUser AssignType = "USER"
	AssignRole AssignType = "ROLE"
)

const (
	// AllUsers requests every entry of a workflow regardless of assignment.
	AllUsers int64 = -1
	// Unassigned is stored as the assign id of entries whose content item
	// has no owning user.
	Unassigned int64 = 0
)

// Content types known to the host element service.
const (
	ContentObject   = "object"
	ContentDocument = "document"
	ContentAsset    = "asset"
)

// ParseAssignType normalises a user supplied assign type.
func ParseAssignType(value string) (AssignType, error) {
	switch AssignType(strings.ToUpper(strings.TrimSpace(value))) {
	case AssignUser:
		return AssignUser, nil
	case AssignRole:
		return AssignRole, nil
	default:
		return "", fmt.Errorf("%w: unknown assign type %q", ErrValidation, value)
	}
}

func ValidContentType(ctype string) bool {
	switch ctype {
	case ContentObject, ContentDocument, ContentAsset:
		return true
	default:
		return false
	}
}

// Key identifies a board entry and the workflow state it mirrors.
type Key struct {
	ContentID   int64  `json:"contentId"`
	ContentType string `json:"contentType"`
	WorkflowID  int64  `json:"workflowId"`
}

func (k Key) String() string {
	return fmt.Sprintf("(%d, %s, %d)", k.ContentID, k.ContentType, k.WorkflowID)
}

// Content returns the address of the content item behind the key.
func (k Key) Content() ContentRef {
	return ContentRef{Type: k.ContentType, ID: k.ContentID}
}

type ContentRef struct {
	Type string `json:"type"`
	ID   int64  `json:"id"`
}

func (r ContentRef) String() string {
	return fmt.Sprintf("%s:%d", r.Type, r.ID)
}

// Entry is the denormalized tracking record shown on the board.
type Entry struct {
	Key
	AssignType AssignType `json:"assignType"`
	AssignID   int64      `json:"assignId"`
	State      string     `json:"state"`
	Status     string     `json:"status"`
}

type WorkflowState struct {
	Key
	State  string `json:"state"`
	Status string `json:"status"`
}

type ContentItem struct {
	Ref         ContentRef `json:"ref"`
	OwnerUserID *int64     `json:"ownerUserId"`
	DisplayKey  string     `json:"key"`
	FullPath    string     `json:"fullPath"`
}

// OwnerOrUnassigned returns the owning user id, or Unassigned.
func (c ContentItem) OwnerOrUnassigned() int64 {
	if c.OwnerUserID == nil {
		return Unassigned
	}
	return *c.OwnerUserID
}

type User struct {
	ID          int64
	Name        string
	Email       string
	Admin       bool
	RoleIDs     []int64
	Permissions []string
}

// NewEntry builds the entry created for a freshly tracked workflow state.
// The assignment defaults to the content owner.
func NewEntry(state WorkflowState, item ContentItem) Entry {
	return Entry{
		Key:        state.Key,
		AssignType: AssignUser,
		AssignID:   item.OwnerOrUnassigned(),
		State:      state.State,
		Status:     state.Status,
	}
}

// Principal returns the access-check view of the user.
func (u User) Principal() rbac.Principal {
	return rbac.Principal{
		UserID:      u.ID,
		Admin:       u.Admin,
		Permissions: rbac.Normalize(u.Permissions),
	}
}
