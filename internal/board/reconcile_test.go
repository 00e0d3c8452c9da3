package board_test

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/ConvertGroupsAS/pimcore-workflow-dashboard/internal/board"
	"github.com/ConvertGroupsAS/pimcore-workflow-dashboard/internal/board/boardtest"
)

func reconcile(t *testing.T, mem *boardtest.Memory) board.Plan {
	t.Helper()
	var plan board.Plan
	err := mem.WithinTx(context.Background(), func(repo board.Repository) error {
		var err error
		plan, err = board.LoadPlan(context.Background(), repo)
		if err != nil {
			return err
		}
		return board.ApplyPlan(context.Background(), repo, plan)
	})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	return plan
}

func TestPlanReconcileCreatesEntryFromOwner(t *testing.T) {
	key := board.Key{ContentID: 10, ContentType: "object", WorkflowID: 1}
	owner := int64(7)
	plan := board.PlanReconcile(nil,
		[]board.WorkflowState{{Key: key, State: "review", Status: "open"}},
		map[board.ContentRef]board.ContentItem{key.Content(): {Ref: key.Content(), OwnerUserID: &owner}},
	)

	want := board.Entry{Key: key, AssignType: board.AssignUser, AssignID: 7, State: "review", Status: "open"}
	if len(plan.Create) != 1 || plan.Create[0] != want {
		t.Fatalf("Create = %+v, want [%+v]", plan.Create, want)
	}
	if len(plan.Prune) != 0 || len(plan.Refresh) != 0 {
		t.Fatalf("unexpected prune/refresh: %+v", plan)
	}
}

func TestPlanReconcileUnownedContentIsUnassigned(t *testing.T) {
	key := board.Key{ContentID: 11, ContentType: "asset", WorkflowID: 1}
	plan := board.PlanReconcile(nil,
		[]board.WorkflowState{{Key: key, State: "draft", Status: "new"}},
		map[board.ContentRef]board.ContentItem{key.Content(): {Ref: key.Content()}},
	)

	if len(plan.Create) != 1 {
		t.Fatalf("Create = %+v, want one entry", plan.Create)
	}
	if got := plan.Create[0]; got.AssignType != board.AssignUser || got.AssignID != board.Unassigned {
		t.Fatalf("expected unassigned user entry, got %+v", got)
	}
}

func TestPlanReconcileRefreshKeepsAssignment(t *testing.T) {
	key := board.Key{ContentID: 10, ContentType: "object", WorkflowID: 1}
	existing := board.Entry{Key: key, AssignType: board.AssignRole, AssignID: 5, State: "review", Status: "open"}
	plan := board.PlanReconcile([]board.Entry{existing},
		[]board.WorkflowState{{Key: key, State: "approved", Status: "closed"}},
		map[board.ContentRef]board.ContentItem{key.Content(): {Ref: key.Content()}},
	)

	want := board.Entry{Key: key, AssignType: board.AssignRole, AssignID: 5, State: "approved", Status: "closed"}
	if len(plan.Refresh) != 1 || plan.Refresh[0] != want {
		t.Fatalf("Refresh = %+v, want [%+v]", plan.Refresh, want)
	}
}

func TestPlanReconcileSkipsStateWithoutContent(t *testing.T) {
	key := board.Key{ContentID: 10, ContentType: "object", WorkflowID: 1}
	plan := board.PlanReconcile(
		[]board.Entry{{Key: key, AssignType: board.AssignUser, AssignID: 7}},
		[]board.WorkflowState{{Key: key, State: "review", Status: "open"}},
		map[board.ContentRef]board.ContentItem{},
	)

	if !reflect.DeepEqual(plan.Prune, []board.Key{key}) {
		t.Fatalf("Prune = %v, want [%v]", plan.Prune, key)
	}
	if len(plan.Create) != 0 || len(plan.Refresh) != 0 {
		t.Fatalf("unexpected create/refresh: %+v", plan)
	}
}

func TestReconcileScenarioCreate(t *testing.T) {
	mem := boardtest.NewMemory()
	key := board.Key{ContentID: 10, ContentType: "object", WorkflowID: 1}
	mem.PutState(key, "review", "open")
	mem.PutContent("object", 10, 7, "car", "/cars/car")

	reconcile(t, mem)

	entry, ok := mem.Entry(key)
	if !ok {
		t.Fatalf("entry %v was not created", key)
	}
	want := board.Entry{Key: key, AssignType: board.AssignUser, AssignID: 7, State: "review", Status: "open"}
	if entry != want {
		t.Fatalf("entry = %+v, want %+v", entry, want)
	}
}

func TestReconcileScenarioPruneMissingContent(t *testing.T) {
	mem := boardtest.NewMemory()
	key := board.Key{ContentID: 10, ContentType: "object", WorkflowID: 1}
	mem.PutState(key, "review", "open")
	mem.PutEntry(board.Entry{Key: key, AssignType: board.AssignUser, AssignID: 7, State: "review", Status: "open"})

	reconcile(t, mem)

	if _, ok := mem.Entry(key); ok {
		t.Fatalf("entry %v should have been pruned", key)
	}
}

func TestReconcileKeepsOnlyEntriesWithStateAndContent(t *testing.T) {
	mem := boardtest.NewMemory()
	both := board.Key{ContentID: 1, ContentType: "object", WorkflowID: 1}
	stateOnly := board.Key{ContentID: 2, ContentType: "object", WorkflowID: 1}
	contentOnly := board.Key{ContentID: 3, ContentType: "document", WorkflowID: 1}
	neither := board.Key{ContentID: 4, ContentType: "asset", WorkflowID: 2}

	mem.PutState(both, "a", "open")
	mem.PutContent("object", 1, 0, "one", "/one")
	mem.PutState(stateOnly, "a", "open")
	mem.PutContent("document", 3, 0, "three", "/three")
	for _, key := range []board.Key{stateOnly, contentOnly, neither} {
		mem.PutEntry(board.Entry{Key: key, AssignType: board.AssignUser, AssignID: 1})
	}

	reconcile(t, mem)

	entries := mem.Entries()
	if len(entries) != 1 || entries[0].Key != both {
		t.Fatalf("entries = %+v, want only %v", entries, both)
	}
}

func TestReconcileIsIdempotent(t *testing.T) {
	mem := boardtest.NewMemory()
	for i := int64(1); i <= 3; i++ {
		mem.PutState(board.Key{ContentID: i, ContentType: "object", WorkflowID: 1}, "review", "open")
		mem.PutContent("object", i, i, "item", "/item")
	}
	mem.PutEntry(board.Entry{Key: board.Key{ContentID: 9, ContentType: "object", WorkflowID: 1}})

	reconcile(t, mem)
	first := mem.Entries()
	writes := mem.Writes

	plan := reconcile(t, mem)

	if !reflect.DeepEqual(mem.Entries(), first) {
		t.Fatalf("second run changed entries: %+v, want %+v", mem.Entries(), first)
	}
	if !plan.Empty() || plan.Unchanged != 3 {
		t.Fatalf("second plan = %+v, want empty with 3 unchanged", plan)
	}
	if mem.Writes != writes {
		t.Fatalf("second run wrote %d entries", mem.Writes-writes)
	}
}

func TestReconcileFailureRollsBackEverything(t *testing.T) {
	mem := boardtest.NewMemory()
	stale := board.Entry{Key: board.Key{ContentID: 9, ContentType: "object", WorkflowID: 1}}
	mem.PutEntry(stale)
	mem.PutState(board.Key{ContentID: 1, ContentType: "object", WorkflowID: 1}, "review", "open")
	mem.PutContent("object", 1, 0, "one", "/one")
	mem.Fail("InsertEntry", errors.New("disk full"))

	err := mem.WithinTx(context.Background(), func(repo board.Repository) error {
		plan, err := board.LoadPlan(context.Background(), repo)
		if err != nil {
			return err
		}
		return board.ApplyPlan(context.Background(), repo, plan)
	})

	if err == nil {
		t.Fatal("expected insert failure")
	}
	if entries := mem.Entries(); !reflect.DeepEqual(entries, []board.Entry{stale}) {
		t.Fatalf("prune must not survive a failed upsert, entries = %+v", entries)
	}
}

func TestLoadPlanPropagatesLookupFailure(t *testing.T) {
	mem := boardtest.NewMemory()
	mem.PutState(board.Key{ContentID: 1, ContentType: "object", WorkflowID: 1}, "review", "open")
	boom := errors.New("connection reset")
	mem.Fail("GetContent", boom)

	err := mem.WithinTx(context.Background(), func(repo board.Repository) error {
		_, err := board.LoadPlan(context.Background(), repo)
		return err
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected %v, got %v", boom, err)
	}
}
