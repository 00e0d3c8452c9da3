package app

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/ConvertGroupsAS/pimcore-workflow-dashboard/internal/board"
	"github.com/ConvertGroupsAS/pimcore-workflow-dashboard/internal/board/boardtest"
	"github.com/ConvertGroupsAS/pimcore-workflow-dashboard/internal/config"
	"github.com/ConvertGroupsAS/pimcore-workflow-dashboard/internal/notify"
	"github.com/ConvertGroupsAS/pimcore-workflow-dashboard/internal/rbac"
)

type fakeStore struct {
	*boardtest.Memory
	pingFn func(context.Context) error
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

type sentNotification struct {
	group bool
	to    int64
	msg   notify.Message
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sentNotification
	err  error
}

func (f *fakeNotifier) SendToUser(_ context.Context, userID int64, msg notify.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentNotification{to: userID, msg: msg})
	return f.err
}

func (f *fakeNotifier) SendToGroup(_ context.Context, roleID int64, msg notify.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentNotification{group: true, to: roleID, msg: msg})
	return f.err
}

func newTestService(fs *fakeStore, fn *fakeNotifier) (*Service, *bytes.Buffer) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	var notifier notify.Channel
	if fn != nil {
		notifier = fn
	}
	return newService(config.Config{JWTSecret: "test-secret"}, fs, notifier, logger), &logs
}

var (
	carKey = board.Key{ContentID: 10, ContentType: board.ContentObject, WorkflowID: 1}
	editor = rbac.Principal{UserID: 3, Permissions: []rbac.Permission{rbac.PermissionBoard}}
	admin  = rbac.Principal{UserID: 1, Admin: true}
)

func seededStore() *fakeStore {
	mem := boardtest.NewMemory()
	mem.PutUser(board.User{ID: 1, Name: "Admin", Admin: true})
	mem.PutUser(board.User{ID: 3, Name: "Editor", Permissions: []string{"workflow_board"}})
	mem.PutUser(board.User{ID: 7, Name: "Avery", RoleIDs: []int64{4, 5}})
	mem.PutUser(board.User{ID: 8, Name: "Blake", RoleIDs: []int64{5}})
	mem.PutState(carKey, "review", "open")
	mem.PutContent(board.ContentObject, 10, 7, "car", "/cars/car")
	mem.PutEntry(board.Entry{Key: carKey, AssignType: board.AssignUser, AssignID: 7, State: "review", Status: "open"})
	return &fakeStore{Memory: mem}
}

func TestChangeAssignToRoleNotifiesGroupOnce(t *testing.T) {
	fs := seededStore()
	fn := &fakeNotifier{}
	svc, _ := newTestService(fs, fn)

	entry, err := svc.ChangeAssign(context.Background(), editor, ChangeAssignInput{
		ContentID:   10,
		ContentType: "object",
		WorkflowID:  1,
		AssignType:  "role",
		AssignID:    5,
	})
	if err != nil {
		t.Fatalf("ChangeAssign() error = %v", err)
	}
	if entry.AssignType != board.AssignRole || entry.AssignID != 5 {
		t.Fatalf("unexpected entry: %+v", entry)
	}

	stored, ok := fs.Entry(carKey)
	if !ok || stored.AssignType != board.AssignRole || stored.AssignID != 5 {
		t.Fatalf("assignment not persisted: %+v", stored)
	}

	if len(fn.sent) != 1 {
		t.Fatalf("expected exactly one notification, got %d", len(fn.sent))
	}
	sent := fn.sent[0]
	if !sent.group || sent.to != 5 || sent.msg.From != editor.UserID {
		t.Fatalf("unexpected notification: %+v", sent)
	}
	if sent.msg.Title != "Workflow: Element car has been assigned to your group" {
		t.Fatalf("unexpected title %q", sent.msg.Title)
	}
	if sent.msg.Body != "Workflow: Element /cars/car has been assigned to your group" {
		t.Fatalf("unexpected body %q", sent.msg.Body)
	}
}

func TestChangeAssignToUserUsesUserTemplate(t *testing.T) {
	fs := seededStore()
	fn := &fakeNotifier{}
	svc, _ := newTestService(fs, fn)

	if _, err := svc.ChangeAssign(context.Background(), editor, ChangeAssignInput{
		ContentID: 10, ContentType: "object", WorkflowID: 1, AssignType: "USER", AssignID: 8,
	}); err != nil {
		t.Fatalf("ChangeAssign() error = %v", err)
	}
	if len(fn.sent) != 1 || fn.sent[0].group || fn.sent[0].to != 8 {
		t.Fatalf("unexpected notifications: %+v", fn.sent)
	}
	if !strings.HasSuffix(fn.sent[0].msg.Title, "assigned to you") {
		t.Fatalf("unexpected title %q", fn.sent[0].msg.Title)
	}
}

func TestChangeAssignMissingContentRollsBack(t *testing.T) {
	fs := seededStore()
	fs.RemoveContent(board.ContentObject, 10)
	fn := &fakeNotifier{}
	svc, _ := newTestService(fs, fn)

	_, err := svc.ChangeAssign(context.Background(), editor, ChangeAssignInput{
		ContentID: 10, ContentType: "object", WorkflowID: 1, AssignType: "ROLE", AssignID: 5,
	})
	if !errors.Is(err, board.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	stored, _ := fs.Entry(carKey)
	if stored.AssignType != board.AssignUser || stored.AssignID != 7 {
		t.Fatalf("assignment must be rolled back, got %+v", stored)
	}
	if len(fn.sent) != 0 {
		t.Fatalf("no notification expected, got %+v", fn.sent)
	}
}

func TestChangeAssignMissingEntry(t *testing.T) {
	svc, _ := newTestService(seededStore(), &fakeNotifier{})

	_, err := svc.ChangeAssign(context.Background(), editor, ChangeAssignInput{
		ContentID: 99, ContentType: "object", WorkflowID: 1, AssignType: "USER", AssignID: 7,
	})
	if !errors.Is(err, board.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestChangeAssignValidation(t *testing.T) {
	tests := []struct {
		name  string
		input ChangeAssignInput
	}{
		{name: "unknown assign type", input: ChangeAssignInput{ContentID: 10, ContentType: "object", WorkflowID: 1, AssignType: "TEAM", AssignID: 5}},
		{name: "unknown content type", input: ChangeAssignInput{ContentID: 10, ContentType: "page", WorkflowID: 1, AssignType: "USER", AssignID: 5}},
		{name: "zero assign id", input: ChangeAssignInput{ContentID: 10, ContentType: "object", WorkflowID: 1, AssignType: "USER"}},
		{name: "negative content id", input: ChangeAssignInput{ContentID: -1, ContentType: "object", WorkflowID: 1, AssignType: "USER", AssignID: 5}},
		{name: "missing workflow", input: ChangeAssignInput{ContentID: 10, ContentType: "object", AssignType: "USER", AssignID: 5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := seededStore()
			svc, _ := newTestService(fs, &fakeNotifier{})
			_, err := svc.ChangeAssign(context.Background(), editor, tt.input)
			if !errors.Is(err, board.ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
			if fs.Commits != 0 {
				t.Fatalf("validation must happen before any transaction")
			}
		})
	}
}

func TestChangeAssignNotificationFailureIsLogged(t *testing.T) {
	fs := seededStore()
	fn := &fakeNotifier{err: errors.New("smtp down")}
	svc, logs := newTestService(fs, fn)

	if _, err := svc.ChangeAssign(context.Background(), editor, ChangeAssignInput{
		ContentID: 10, ContentType: "object", WorkflowID: 1, AssignType: "ROLE", AssignID: 5,
	}); err != nil {
		t.Fatalf("notification failure must not fail the change: %v", err)
	}
	stored, _ := fs.Entry(carKey)
	if stored.AssignType != board.AssignRole {
		t.Fatalf("assignment must stay committed, got %+v", stored)
	}
	if !strings.Contains(logs.String(), "assignment notification failed") {
		t.Fatalf("expected failure to be logged, logs=%s", logs.String())
	}
}

func TestChangeAssignCommitFailure(t *testing.T) {
	fs := seededStore()
	fs.Fail("Commit", errors.New("serialization failure"))
	fn := &fakeNotifier{}
	svc, _ := newTestService(fs, fn)

	_, err := svc.ChangeAssign(context.Background(), editor, ChangeAssignInput{
		ContentID: 10, ContentType: "object", WorkflowID: 1, AssignType: "ROLE", AssignID: 5,
	})
	if !errors.Is(err, board.ErrTransaction) {
		t.Fatalf("expected ErrTransaction, got %v", err)
	}
	if len(fn.sent) != 0 {
		t.Fatalf("nothing may be announced for a failed commit, got %+v", fn.sent)
	}
}

func TestChangeAssignRequiresBoardPermission(t *testing.T) {
	svc, _ := newTestService(seededStore(), &fakeNotifier{})

	_, err := svc.ChangeAssign(context.Background(), rbac.Principal{UserID: 7}, ChangeAssignInput{
		ContentID: 10, ContentType: "object", WorkflowID: 1, AssignType: "ROLE", AssignID: 5,
	})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "FORBIDDEN" {
		t.Fatalf("expected FORBIDDEN, got %v", err)
	}
}

func seedListing(fs *fakeStore) {
	entries := []board.Entry{
		{Key: board.Key{ContentID: 1, ContentType: "object", WorkflowID: 1}, AssignType: board.AssignUser, AssignID: 7},
		{Key: board.Key{ContentID: 2, ContentType: "object", WorkflowID: 1}, AssignType: board.AssignRole, AssignID: 4},
		{Key: board.Key{ContentID: 3, ContentType: "object", WorkflowID: 1}, AssignType: board.AssignRole, AssignID: 5},
		{Key: board.Key{ContentID: 4, ContentType: "object", WorkflowID: 1}, AssignType: board.AssignRole, AssignID: 6},
		{Key: board.Key{ContentID: 5, ContentType: "object", WorkflowID: 1}, AssignType: board.AssignUser, AssignID: 8},
		{Key: board.Key{ContentID: 6, ContentType: "object", WorkflowID: 2}, AssignType: board.AssignUser, AssignID: 7},
	}
	for _, entry := range entries {
		fs.PutEntry(entry)
	}
}

func TestListEntriesUserSeesOwnAndRoleEntries(t *testing.T) {
	fs := &fakeStore{Memory: boardtest.NewMemory()}
	fs.PutUser(board.User{ID: 7, RoleIDs: []int64{4, 5}, Permissions: []string{"workflow_board"}})
	seedListing(fs)
	svc, _ := newTestService(fs, nil)
	avery := rbac.Principal{UserID: 7, Permissions: []rbac.Permission{rbac.PermissionBoard}}

	page, err := svc.ListEntries(context.Background(), avery, 1, 7, 0, 0)
	if err != nil {
		t.Fatalf("ListEntries() error = %v", err)
	}
	if page.Total != 3 || len(page.Data) != 3 || page.Limit != defaultPageSize {
		t.Fatalf("unexpected page: %+v", page)
	}
	for i, want := range []int64{1, 2, 3} {
		if page.Data[i].ContentID != want {
			t.Fatalf("data[%d] = %+v, want content %d", i, page.Data[i], want)
		}
	}

	all, err := svc.ListEntries(context.Background(), avery, 1, board.AllUsers, 0, 0)
	if err != nil {
		t.Fatalf("ListEntries(all) error = %v", err)
	}
	if all.Total != page.Total || !reflect.DeepEqual(all.Data, page.Data) {
		t.Fatalf("all without capability must equal own listing, got %+v want %+v", all, page)
	}
}

func TestListEntriesAdminSeesAll(t *testing.T) {
	fs := &fakeStore{Memory: boardtest.NewMemory()}
	seedListing(fs)
	svc, _ := newTestService(fs, nil)

	page, err := svc.ListEntries(context.Background(), admin, 1, board.AllUsers, -5, 1000)
	if err != nil {
		t.Fatalf("ListEntries() error = %v", err)
	}
	if page.Total != 5 || len(page.Data) != 5 {
		t.Fatalf("unexpected page: %+v", page)
	}
	if page.Offset != 0 || page.Limit != maxPageSize {
		t.Fatalf("paging not clamped: offset=%d limit=%d", page.Offset, page.Limit)
	}
}

func TestListEntriesPaging(t *testing.T) {
	fs := &fakeStore{Memory: boardtest.NewMemory()}
	seedListing(fs)
	svc, _ := newTestService(fs, nil)

	page, err := svc.ListEntries(context.Background(), admin, 1, board.AllUsers, 4, 2)
	if err != nil {
		t.Fatalf("ListEntries() error = %v", err)
	}
	if page.Total != 5 || len(page.Data) != 1 || page.Data[0].ContentID != 5 {
		t.Fatalf("unexpected page: %+v", page)
	}

	past, err := svc.ListEntries(context.Background(), admin, 1, board.AllUsers, 10, 2)
	if err != nil {
		t.Fatalf("ListEntries() error = %v", err)
	}
	if past.Total != 5 || len(past.Data) != 0 {
		t.Fatalf("unexpected page past the end: %+v", past)
	}
}

func TestListEntriesRejectsPrincipalWithoutPermission(t *testing.T) {
	fs := &fakeStore{Memory: boardtest.NewMemory()}
	svc, _ := newTestService(fs, nil)

	_, err := svc.ListEntries(context.Background(), rbac.Principal{UserID: 7}, 1, 7, 0, 0)
	if status, code, _, _ := mapError(err); status != 403 || code != "FORBIDDEN" {
		t.Fatalf("expected 403 FORBIDDEN, got %d %s", status, code)
	}
}

func TestListEntriesUnknownUser(t *testing.T) {
	fs := &fakeStore{Memory: boardtest.NewMemory()}
	svc, _ := newTestService(fs, nil)

	_, err := svc.ListEntries(context.Background(), admin, 1, 42, 0, 0)
	if !errors.Is(err, board.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestReconcileReturnsStatsAndLogsRun(t *testing.T) {
	fs := &fakeStore{Memory: boardtest.NewMemory()}
	fs.PutState(carKey, "review", "open")
	fs.PutContent(board.ContentObject, 10, 7, "car", "/cars/car")
	stale := board.Key{ContentID: 11, ContentType: "object", WorkflowID: 1}
	fs.PutEntry(board.Entry{Key: stale, AssignType: board.AssignUser, AssignID: 8})
	svc, logs := newTestService(fs, nil)

	stats, err := svc.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if stats != (board.ReconcileStats{Pruned: 1, Created: 1}) {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	entry, ok := fs.Entry(carKey)
	if !ok || entry.AssignID != 7 || entry.State != "review" {
		t.Fatalf("unexpected entry: %+v", entry)
	}
	if _, ok := fs.Entry(stale); ok {
		t.Fatalf("stale entry must be pruned")
	}
	if !strings.Contains(logs.String(), `"run_id"`) {
		t.Fatalf("expected run id in logs, got %s", logs.String())
	}

	again, err := svc.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("second Reconcile() error = %v", err)
	}
	if again != (board.ReconcileStats{Unchanged: 1}) {
		t.Fatalf("second run must be a no-op, got %+v", again)
	}
}

func TestReconcileFailureIsReturned(t *testing.T) {
	fs := &fakeStore{Memory: boardtest.NewMemory()}
	fs.PutState(carKey, "review", "open")
	fs.Fail("GetContent", errors.New("connection reset"))
	svc, _ := newTestService(fs, nil)

	if _, err := svc.Reconcile(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}
