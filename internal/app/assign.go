package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/ConvertGroupsAS/pimcore-workflow-dashboard/internal/board"
	"github.com/ConvertGroupsAS/pimcore-workflow-dashboard/internal/notify"
	"github.com/ConvertGroupsAS/pimcore-workflow-dashboard/internal/rbac"
)

const (
	assignUserTitle    = "Workflow: Element %s has been assigned to you"
	assignUserMessage  = "Workflow: Element %s has been assigned to you"
	assignGroupTitle   = "Workflow: Element %s has been assigned to your group"
	assignGroupMessage = "Workflow: Element %s has been assigned to your group"
)

type ChangeAssignInput struct {
	ContentID   int64  `json:"contentId"`
	ContentType string `json:"contentType"`
	WorkflowID  int64  `json:"workflowId"`
	AssignType  string `json:"assignType"`
	AssignID    int64  `json:"assignId"`
}

type assignment struct {
	key        board.Key
	assignType board.AssignType
	assignID   int64
}

func (in ChangeAssignInput) validate() (assignment, error) {
	assignType, err := board.ParseAssignType(in.AssignType)
	if err != nil {
		return assignment{}, err
	}
	ctype := strings.ToLower(strings.TrimSpace(in.ContentType))
	if !board.ValidContentType(ctype) {
		return assignment{}, fmt.Errorf("%w: unknown content type %q", board.ErrValidation, in.ContentType)
	}
	if in.ContentID <= 0 || in.WorkflowID <= 0 {
		return assignment{}, fmt.Errorf("%w: contentId and workflowId must be positive", board.ErrValidation)
	}
	if in.AssignID <= 0 {
		return assignment{}, fmt.Errorf("%w: assignId must be positive", board.ErrValidation)
	}
	return assignment{
		key:        board.Key{ContentID: in.ContentID, ContentType: ctype, WorkflowID: in.WorkflowID},
		assignType: assignType,
		assignID:   in.AssignID,
	}, nil
}

// ChangeAssign reassigns one board entry and notifies the new assignee.
// The entry update and the content lookup share one transaction; the
// notification goes out only after commit and its failure is logged.
func (s *Service) ChangeAssign(ctx context.Context, actor rbac.Principal, input ChangeAssignInput) (board.Entry, error) {
	if !s.authz.CanAccess(actor) {
		return board.Entry{}, errForbidden
	}
	target, err := input.validate()
	if err != nil {
		return board.Entry{}, err
	}

	var (
		entry board.Entry
		item  board.ContentItem
	)
	err = s.store.WithinTx(ctx, func(repo board.Repository) error {
		current, err := repo.GetEntryForUpdate(ctx, target.key)
		if err != nil {
			return fmt.Errorf("lock entry %s: %w", target.key, err)
		}
		if err := repo.UpdateEntryAssignment(ctx, target.key, target.assignType, target.assignID); err != nil {
			return fmt.Errorf("update assignment %s: %w", target.key, err)
		}
		item, err = repo.GetContent(ctx, target.key.Content())
		if err != nil {
			return fmt.Errorf("load content %s: %w", target.key.Content(), err)
		}
		current.AssignType = target.assignType
		current.AssignID = target.assignID
		entry = current
		return nil
	})
	if err != nil {
		return board.Entry{}, err
	}

	s.logger.InfoContext(ctx, "assignment changed",
		"key", target.key.String(),
		"assign_type", string(target.assignType),
		"assign_id", target.assignID,
		"actor", actor.UserID,
	)
	s.dispatch(ctx, actor.UserID, entry, item)
	return entry, nil
}

func (s *Service) dispatch(ctx context.Context, from int64, entry board.Entry, item board.ContentItem) {
	var err error
	switch entry.AssignType {
	case board.AssignRole:
		err = s.notifier.SendToGroup(ctx, entry.AssignID, notify.Message{
			From:    from,
			Title:   fmt.Sprintf(assignGroupTitle, item.DisplayKey),
			Body:    fmt.Sprintf(assignGroupMessage, item.FullPath),
			Element: item,
		})
	default:
		err = s.notifier.SendToUser(ctx, entry.AssignID, notify.Message{
			From:    from,
			Title:   fmt.Sprintf(assignUserTitle, item.DisplayKey),
			Body:    fmt.Sprintf(assignUserMessage, item.FullPath),
			Element: item,
		})
	}
	if err != nil {
		s.logger.WarnContext(ctx, "assignment notification failed",
			"key", entry.Key.String(),
			"assign_type", string(entry.AssignType),
			"assign_id", entry.AssignID,
			"error", err,
		)
	}
}
