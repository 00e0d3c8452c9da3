package board

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// Plan is the set of writes that brings board entries in line with the
// workflow states and the content items that still exist.
type Plan struct {
	Prune   []Key
	Create  []Entry
	Refresh []Entry
	// Unchanged counts entries whose state and status already match.
	Unchanged int
}

// Empty reports whether applying the plan would write nothing.
func (p Plan) Empty() bool {
	return len(p.Prune) == 0 && len(p.Create) == 0 && len(p.Refresh) == 0
}

type ReconcileStats struct {
	Pruned    int `json:"pruned"`
	Created   int `json:"created"`
	Refreshed int `json:"refreshed"`
	Unchanged int `json:"unchanged"`
}

func (p Plan) Stats() ReconcileStats {
	return ReconcileStats{
		Pruned:    len(p.Prune),
		Created:   len(p.Create),
		Refreshed: len(p.Refresh),
		Unchanged: p.Unchanged,
	}
}

// PlanReconcile diffs the current entries against states and contents.
// contents holds only the content items that exist.
//
// An entry is pruned when its workflow state or its content item is gone.
// Every state whose content exists yields a new entry, or a refresh of the
// existing entry's state and status. Assignments are never part of a refresh.
func PlanReconcile(entries []Entry, states []WorkflowState, contents map[ContentRef]ContentItem) Plan {
	stateByKey := make(map[Key]WorkflowState, len(states))
	for _, state := range states {
		stateByKey[state.Key] = state
	}

	var plan Plan
	kept := make(map[Key]Entry, len(entries))
	for _, entry := range entries {
		_, hasState := stateByKey[entry.Key]
		_, hasContent := contents[entry.Content()]
		if !hasState || !hasContent {
			plan.Prune = append(plan.Prune, entry.Key)
			continue
		}
		kept[entry.Key] = entry
	}

	for _, state := range states {
		item, ok := contents[state.Content()]
		if !ok {
			continue
		}
		existing, ok := kept[state.Key]
		if !ok {
			plan.Create = append(plan.Create, NewEntry(state, item))
			continue
		}
		if existing.State == state.State && existing.Status == state.Status {
			plan.Unchanged++
			continue
		}
		existing.State = state.State
		existing.Status = state.Status
		plan.Refresh = append(plan.Refresh, existing)
	}

	sort.Slice(plan.Prune, func(i, j int) bool { return keyLess(plan.Prune[i], plan.Prune[j]) })
	sort.Slice(plan.Create, func(i, j int) bool { return keyLess(plan.Create[i].Key, plan.Create[j].Key) })
	sort.Slice(plan.Refresh, func(i, j int) bool { return keyLess(plan.Refresh[i].Key, plan.Refresh[j].Key) })
	return plan
}

func keyLess(a, b Key) bool {
	if a.WorkflowID != b.WorkflowID {
		return a.WorkflowID < b.WorkflowID
	}
	if a.ContentType != b.ContentType {
		return a.ContentType < b.ContentType
	}
	return a.ContentID < b.ContentID
}

// LoadPlan reads entries, states and the content items they reference from
// repo and computes the plan. A missing content item is expected; any other
// lookup failure is returned.
func LoadPlan(ctx context.Context, repo Repository) (Plan, error) {
	entries, err := repo.ListEntries(ctx)
	if err != nil {
		return Plan{}, fmt.Errorf("list board entries: %w", err)
	}
	states, err := repo.ListWorkflowStates(ctx)
	if err != nil {
		return Plan{}, fmt.Errorf("list workflow states: %w", err)
	}

	refs := make(map[ContentRef]struct{}, len(entries)+len(states))
	for _, entry := range entries {
		refs[entry.Content()] = struct{}{}
	}
	for _, state := range states {
		refs[state.Content()] = struct{}{}
	}

	contents := make(map[ContentRef]ContentItem, len(refs))
	for ref := range refs {
		item, err := repo.GetContent(ctx, ref)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return Plan{}, fmt.Errorf("lookup content %s: %w", ref, err)
		}
		contents[ref] = item
	}

	return PlanReconcile(entries, states, contents), nil
}

// ApplyPlan writes the plan through repo. Prunes go first.
func ApplyPlan(ctx context.Context, repo Repository, plan Plan) error {
	for _, key := range plan.Prune {
		if err := repo.DeleteEntry(ctx, key); err != nil {
			return fmt.Errorf("delete board entry %s: %w", key, err)
		}
	}
	for _, entry := range plan.Create {
		if err := repo.InsertEntry(ctx, entry); err != nil {
			return fmt.Errorf("insert board entry %s: %w", entry.Key, err)
		}
	}
	for _, entry := range plan.Refresh {
		if err := repo.UpdateEntryState(ctx, entry.Key, entry.State, entry.Status); err != nil {
			return fmt.Errorf("refresh board entry %s: %w", entry.Key, err)
		}
	}
	return nil
}
