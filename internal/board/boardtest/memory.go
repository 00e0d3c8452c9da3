// Package boardtest provides an in-memory board store for tests.
package boardtest

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ConvertGroupsAS/pimcore-workflow-dashboard/internal/board"
)

// Memory implements board.Transactor, board.EntryReader and board.Directory.
// Entry writes made inside WithinTx are discarded when fn fails or when a
// "Commit" failure is injected.
type Memory struct {
	mu       sync.Mutex
	entries  map[board.Key]board.Entry
	states   map[board.Key]board.WorkflowState
	contents map[board.ContentRef]board.ContentItem
	users    map[int64]board.User
	failures map[string]error

	// Writes counts entry writes that were committed.
	Writes  int
	Commits int
}

func NewMemory() *Memory {
	return &Memory{
		entries:  make(map[board.Key]board.Entry),
		states:   make(map[board.Key]board.WorkflowState),
		contents: make(map[board.ContentRef]board.ContentItem),
		users:    make(map[int64]board.User),
		failures: make(map[string]error),
	}
}

// Fail makes the named operation return err until cleared with a nil err.
func (m *Memory) Fail(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, op)
		return
	}
	m.failures[op] = err
}

func (m *Memory) PutState(key board.Key, state, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[key] = board.WorkflowState{Key: key, State: state, Status: status}
}

func (m *Memory) RemoveState(key board.Key) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, key)
}

// PutContent registers a content item. owner 0 means no owning user.
func (m *Memory) PutContent(ctype string, cid int64, owner int64, key, path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ref := board.ContentRef{Type: ctype, ID: cid}
	item := board.ContentItem{Ref: ref, DisplayKey: key, FullPath: path}
	if owner != 0 {
		item.OwnerUserID = &owner
	}
	m.contents[ref] = item
}

func (m *Memory) RemoveContent(ctype string, cid int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.contents, board.ContentRef{Type: ctype, ID: cid})
}

func (m *Memory) PutEntry(entry board.Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[entry.Key] = entry
}

func (m *Memory) PutUser(user board.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[user.ID] = user
}

func (m *Memory) Entry(key board.Key) (board.Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[key]
	return entry, ok
}

// Entries returns a copy of all entries ordered by key.
func (m *Memory) Entries() []board.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sortedEntries()
}

func (m *Memory) sortedEntries() []board.Entry {
	out := make([]board.Entry, 0, len(m.entries))
	for _, entry := range m.entries {
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Key, out[j].Key
		if a.WorkflowID != b.WorkflowID {
			return a.WorkflowID < b.WorkflowID
		}
		if a.ContentType != b.ContentType {
			return a.ContentType < b.ContentType
		}
		return a.ContentID < b.ContentID
	})
	return out
}

func (m *Memory) WithinTx(ctx context.Context, fn func(board.Repository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := make(map[board.Key]board.Entry, len(m.entries))
	for key, entry := range m.entries {
		snapshot[key] = entry
	}
	tx := &memoryTx{m: m}

	if err := fn(tx); err != nil {
		m.entries = snapshot
		return err
	}
	if err := m.failures["Commit"]; err != nil {
		m.entries = snapshot
		return fmt.Errorf("%w: commit: %v", board.ErrTransaction, err)
	}
	m.Writes += tx.writes
	m.Commits++
	return nil
}

func (m *Memory) CountEntries(ctx context.Context, filter board.Filter) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failures["CountEntries"]; err != nil {
		return 0, err
	}
	count := 0
	for _, entry := range m.entries {
		if filter.Match(entry) {
			count++
		}
	}
	return count, nil
}

func (m *Memory) FindEntries(ctx context.Context, filter board.Filter, offset, limit int) ([]board.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failures["FindEntries"]; err != nil {
		return nil, err
	}
	var matched []board.Entry
	for _, entry := range m.sortedEntries() {
		if filter.Match(entry) {
			matched = append(matched, entry)
		}
	}
	if offset >= len(matched) {
		return []board.Entry{}, nil
	}
	matched = matched[offset:]
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}
	return matched, nil
}

// GetUser and ListRoleMemberIDs read users without locking; tests register
// users before exercising the code under test.
func (m *Memory) GetUser(ctx context.Context, userID int64) (board.User, error) {
	user, ok := m.users[userID]
	if !ok {
		return board.User{}, fmt.Errorf("user %d: %w", userID, board.ErrNotFound)
	}
	return user, nil
}

func (m *Memory) ListRoleMemberIDs(ctx context.Context, roleID int64) ([]int64, error) {
	var members []int64
	for _, user := range m.users {
		for _, id := range user.RoleIDs {
			if id == roleID {
				members = append(members, user.ID)
				break
			}
		}
	}
	sort.Slice(members, func(i, j int) bool { return members[i] < members[j] })
	return members, nil
}

type memoryTx struct {
	m      *Memory
	writes int
}

func (t *memoryTx) fail(op string) error {
	return t.m.failures[op]
}

func (t *memoryTx) GetContent(ctx context.Context, ref board.ContentRef) (board.ContentItem, error) {
	if err := t.fail("GetContent"); err != nil {
		return board.ContentItem{}, err
	}
	item, ok := t.m.contents[ref]
	if !ok {
		return board.ContentItem{}, fmt.Errorf("content %s: %w", ref, board.ErrNotFound)
	}
	return item, nil
}

func (t *memoryTx) ListWorkflowStates(ctx context.Context) ([]board.WorkflowState, error) {
	if err := t.fail("ListWorkflowStates"); err != nil {
		return nil, err
	}
	out := make([]board.WorkflowState, 0, len(t.m.states))
	for _, state := range t.m.states {
		out = append(out, state)
	}
	return out, nil
}

func (t *memoryTx) GetWorkflowState(ctx context.Context, key board.Key) (board.WorkflowState, error) {
	if err := t.fail("GetWorkflowState"); err != nil {
		return board.WorkflowState{}, err
	}
	state, ok := t.m.states[key]
	if !ok {
		return board.WorkflowState{}, fmt.Errorf("workflow state %s: %w", key, board.ErrNotFound)
	}
	return state, nil
}

func (t *memoryTx) ListEntries(ctx context.Context) ([]board.Entry, error) {
	if err := t.fail("ListEntries"); err != nil {
		return nil, err
	}
	return t.m.sortedEntries(), nil
}

func (t *memoryTx) GetEntry(ctx context.Context, key board.Key) (board.Entry, error) {
	if err := t.fail("GetEntry"); err != nil {
		return board.Entry{}, err
	}
	return t.GetEntryForUpdate(ctx, key)
}

func (t *memoryTx) GetEntryForUpdate(ctx context.Context, key board.Key) (board.Entry, error) {
	entry, ok := t.m.entries[key]
	if !ok {
		return board.Entry{}, fmt.Errorf("board entry %s: %w", key, board.ErrNotFound)
	}
	return entry, nil
}

func (t *memoryTx) InsertEntry(ctx context.Context, entry board.Entry) error {
	if err := t.fail("InsertEntry"); err != nil {
		return err
	}
	if _, exists := t.m.entries[entry.Key]; exists {
		return fmt.Errorf("board entry %s already exists", entry.Key)
	}
	t.m.entries[entry.Key] = entry
	t.writes++
	return nil
}

func (t *memoryTx) UpdateEntryState(ctx context.Context, key board.Key, state, status string) error {
	if err := t.fail("UpdateEntryState"); err != nil {
		return err
	}
	entry, ok := t.m.entries[key]
	if !ok {
		return fmt.Errorf("board entry %s: %w", key, board.ErrNotFound)
	}
	entry.State = state
	entry.Status = status
	t.m.entries[key] = entry
	t.writes++
	return nil
}

func (t *memoryTx) UpdateEntryAssignment(ctx context.Context, key board.Key, assignType board.AssignType, assignID int64) error {
	if err := t.fail("UpdateEntryAssignment"); err != nil {
		return err
	}
	entry, ok := t.m.entries[key]
	if !ok {
		return fmt.Errorf("board entry %s: %w", key, board.ErrNotFound)
	}
	entry.AssignType = assignType
	entry.AssignID = assignID
	t.m.entries[key] = entry
	t.writes++
	return nil
}

func (t *memoryTx) DeleteEntry(ctx context.Context, key board.Key) error {
	if err := t.fail("DeleteEntry"); err != nil {
		return err
	}
	delete(t.m.entries, key)
	t.writes++
	return nil
}
