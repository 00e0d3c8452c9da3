package board

import "context"

// Directory is the host user/role directory.
type Directory interface {
	// GetUser returns ErrNotFound when no such user exists.
	GetUser(ctx context.Context, userID int64) (User, error)
	ListRoleMemberIDs(ctx context.Context, roleID int64) ([]int64, error)
}

type ContentLookup interface {
	// GetContent returns ErrNotFound when the item does not exist.
	GetContent(ctx context.Context, ref ContentRef) (ContentItem, error)
}

type StateSource interface {
	ListWorkflowStates(ctx context.Context) ([]WorkflowState, error)
	// GetWorkflowState returns ErrNotFound when no state is recorded for key.
	GetWorkflowState(ctx context.Context, key Key) (WorkflowState, error)
}

// Repository is the view of the store available inside one transaction.
type Repository interface {
	ContentLookup
	StateSource

	ListEntries(ctx context.Context) ([]Entry, error)
	GetEntry(ctx context.Context, key Key) (Entry, error)
	// GetEntryForUpdate loads and row-locks an entry until the transaction ends.
	GetEntryForUpdate(ctx context.Context, key Key) (Entry, error)
	InsertEntry(ctx context.Context, entry Entry) error
	UpdateEntryState(ctx context.Context, key Key, state, status string) error
	UpdateEntryAssignment(ctx context.Context, key Key, assignType AssignType, assignID int64) error
	DeleteEntry(ctx context.Context, key Key) error
}

// Transactor runs fn in a single transaction. A nil return from fn commits,
// anything else rolls back and is returned unchanged.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(Repository) error) error
}

// EntryReader serves paginated listings outside a transaction.
type EntryReader interface {
	CountEntries(ctx context.Context, filter Filter) (int, error)
	FindEntries(ctx context.Context, filter Filter, offset, limit int) ([]Entry, error)
}
