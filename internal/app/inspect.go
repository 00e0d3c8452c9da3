package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/ConvertGroupsAS/pimcore-workflow-dashboard/internal/board"
	"github.com/ConvertGroupsAS/pimcore-workflow-dashboard/internal/rbac"
)

// EntryDetail is one board entry next to the host state it mirrors.
// Source is nil when the host no longer records a state for the key, in
// which case the next reconcile run prunes the entry.
type EntryDetail struct {
	Entry   board.Entry          `json:"entry"`
	Source  *board.WorkflowState `json:"source"`
	Content *board.ContentItem   `json:"content"`
	InSync  bool                 `json:"inSync"`
}

// InspectEntry loads one entry together with its workflow state and content
// item. Entries outside the actor's scope are reported as not found.
func (s *Service) InspectEntry(ctx context.Context, actor rbac.Principal, key board.Key) (EntryDetail, error) {
	if !s.authz.CanAccess(actor) {
		return EntryDetail{}, errForbidden
	}
	key.ContentType = strings.ToLower(strings.TrimSpace(key.ContentType))
	if !board.ValidContentType(key.ContentType) {
		return EntryDetail{}, fmt.Errorf("%w: unknown content type %q", board.ErrValidation, key.ContentType)
	}
	filter, err := s.filters.Build(ctx, actor, key.WorkflowID, board.AllUsers)
	if err != nil {
		return EntryDetail{}, err
	}

	var detail EntryDetail
	err = s.store.WithinTx(ctx, func(repo board.Repository) error {
		entry, err := repo.GetEntry(ctx, key)
		if err != nil {
			return err
		}
		if !filter.Match(entry) {
			return fmt.Errorf("board entry %s: %w", key, board.ErrNotFound)
		}
		detail.Entry = entry

		state, err := repo.GetWorkflowState(ctx, key)
		switch {
		case err == nil:
			detail.Source = &state
		case !board.IsNotFound(err):
			return fmt.Errorf("load workflow state %s: %w", key, err)
		}

		item, err := repo.GetContent(ctx, key.Content())
		switch {
		case err == nil:
			detail.Content = &item
		case !board.IsNotFound(err):
			return fmt.Errorf("load content %s: %w", key.Content(), err)
		}
		return nil
	})
	if err != nil {
		return EntryDetail{}, err
	}

	detail.InSync = detail.Source != nil && detail.Content != nil &&
		detail.Source.State == detail.Entry.State && detail.Source.Status == detail.Entry.Status
	return detail, nil
}
