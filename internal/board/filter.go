package board

import (
	"context"
	"fmt"
	"strings"

	"github.com/ConvertGroupsAS/pimcore-workflow-dashboard/internal/rbac"
)

// Filter is the predicate used to list the entries of one workflow that a
// principal may see. An unrestricted filter matches every entry of the
// workflow.
type Filter struct {
	WorkflowID int64
	Restricted bool
	UserID     int64
	RoleIDs    []int64
}

// SQL renders the predicate with numbered placeholders starting at $first.
func (f Filter) SQL(first int) (string, []any) {
	var args []any
	arg := func(value any) string {
		args = append(args, value)
		return fmt.Sprintf("$%d", first+len(args)-1)
	}

	clause := "workflow_id = " + arg(f.WorkflowID)
	if !f.Restricted {
		return clause, args
	}

	user := fmt.Sprintf("(assign_type = %s AND assign_id = %s)", arg(string(AssignUser)), arg(f.UserID))
	if len(f.RoleIDs) == 0 {
		return clause + " AND " + user, args
	}

	roleType := arg(string(AssignRole))
	placeholders := make([]string, len(f.RoleIDs))
	for i, roleID := range f.RoleIDs {
		placeholders[i] = arg(roleID)
	}
	role := fmt.Sprintf("(assign_type = %s AND assign_id IN (%s))", roleType, strings.Join(placeholders, ", "))
	return clause + " AND (" + user + " OR " + role + ")", args
}

// Match evaluates the predicate against an entry in memory.
func (f Filter) Match(e Entry) bool {
	if e.WorkflowID != f.WorkflowID {
		return false
	}
	if !f.Restricted {
		return true
	}
	switch e.AssignType {
	case AssignUser:
		return e.AssignID == f.UserID
	case AssignRole:
		for _, roleID := range f.RoleIDs {
			if e.AssignID == roleID {
				return true
			}
		}
	}
	return false
}

// FilterBuilder builds listing filters scoped to what the acting principal
// is allowed to see.
type FilterBuilder struct {
	resolver *Resolver
	authz    rbac.Authorizer
}

func NewFilterBuilder(resolver *Resolver, authz rbac.Authorizer) *FilterBuilder {
	return &FilterBuilder{resolver: resolver, authz: authz}
}

// Build returns the filter for workflowID as requested for userID.
//
// AllUsers is honoured only when the actor can see everything; otherwise it
// silently becomes the actor's own id.
func (b *FilterBuilder) Build(ctx context.Context, actor rbac.Principal, workflowID, userID int64) (Filter, error) {
	if workflowID <= 0 {
		return Filter{}, fmt.Errorf("%w: workflow id must be positive", ErrValidation)
	}
	if userID < AllUsers {
		return Filter{}, fmt.Errorf("%w: invalid user id %d", ErrValidation, userID)
	}

	if userID == AllUsers {
		if b.authz.CanSeeAll(actor) {
			return Filter{WorkflowID: workflowID}, nil
		}
		userID = actor.UserID
	}

	roleIDs, err := b.resolver.ResolveRoles(ctx, userID)
	if err != nil {
		return Filter{}, err
	}
	return Filter{
		WorkflowID: workflowID,
		Restricted: true,
		UserID:     userID,
		RoleIDs:    roleIDs,
	}, nil
}
