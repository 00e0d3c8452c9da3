package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/ConvertGroupsAS/pimcore-workflow-dashboard/internal/board"
)

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries holds every statement; it runs against the pool or a transaction.
type queries struct {
	q queryer
}

type PostgresStore struct {
	queries
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{queries: queries{q: db}, db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// WithinTx runs fn in a read-committed transaction. Commit failures,
// serialization failures and deadlocks are reported as board.ErrTransaction.
func (s *PostgresStore) WithinTx(ctx context.Context, fn func(board.Repository) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("%w: begin: %v", board.ErrTransaction, err)
	}

	if err := fn(&queries{q: tx}); err != nil {
		_ = tx.Rollback()
		if isRetryable(err) {
			return fmt.Errorf("%w: %v", board.ErrTransaction, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", board.ErrTransaction, err)
	}
	return nil
}

const entryColumns = `cid, ctype, workflow_id, assign_type, assign_id, state, status`

func scanEntry(row interface{ Scan(...any) error }) (board.Entry, error) {
	var entry board.Entry
	var assignType string
	err := row.Scan(
		&entry.ContentID,
		&entry.ContentType,
		&entry.WorkflowID,
		&assignType,
		&entry.AssignID,
		&entry.State,
		&entry.Status,
	)
	entry.AssignType = board.AssignType(assignType)
	return entry, err
}

func (s *queries) ListEntries(ctx context.Context) ([]board.Entry, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+entryColumns+`
		FROM workflow_board_elements
		ORDER BY workflow_id, ctype, cid
	`)
	if err != nil {
		return nil, fmt.Errorf("list board entries: %w", err)
	}
	defer rows.Close()
	return collectEntries(rows)
}

func collectEntries(rows *sql.Rows) ([]board.Entry, error) {
	items := make([]board.Entry, 0)
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan board entry: %w", err)
		}
		items = append(items, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate board entries: %w", err)
	}
	return items, nil
}

func (s *queries) GetEntry(ctx context.Context, key board.Key) (board.Entry, error) {
	return s.getEntry(ctx, key, "")
}

func (s *queries) GetEntryForUpdate(ctx context.Context, key board.Key) (board.Entry, error) {
	return s.getEntry(ctx, key, "FOR UPDATE")
}

func (s *queries) getEntry(ctx context.Context, key board.Key, lockClause string) (board.Entry, error) {
	entry, err := scanEntry(s.q.QueryRowContext(ctx, `
		SELECT `+entryColumns+`
		FROM workflow_board_elements
		WHERE cid=$1 AND ctype=$2 AND workflow_id=$3
		`+lockClause, key.ContentID, key.ContentType, key.WorkflowID))
	if errors.Is(err, sql.ErrNoRows) {
		return board.Entry{}, fmt.Errorf("board entry %s: %w", key, board.ErrNotFound)
	}
	if err != nil {
		return board.Entry{}, fmt.Errorf("get board entry %s: %w", key, err)
	}
	return entry, nil
}

func (s *queries) InsertEntry(ctx context.Context, entry board.Entry) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO workflow_board_elements (cid, ctype, workflow_id, assign_type, assign_id, state, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, entry.ContentID, entry.ContentType, entry.WorkflowID, string(entry.AssignType), entry.AssignID, entry.State, entry.Status)
	if err != nil {
		return fmt.Errorf("insert board entry: %w", err)
	}
	return nil
}

func (s *queries) UpdateEntryState(ctx context.Context, key board.Key, state, status string) error {
	return s.updateEntry(ctx, key, `state=$4, status=$5`, state, status)
}

func (s *queries) UpdateEntryAssignment(ctx context.Context, key board.Key, assignType board.AssignType, assignID int64) error {
	return s.updateEntry(ctx, key, `assign_type=$4, assign_id=$5`, string(assignType), assignID)
}

func (s *queries) updateEntry(ctx context.Context, key board.Key, set string, values ...any) error {
	args := append([]any{key.ContentID, key.ContentType, key.WorkflowID}, values...)
	result, err := s.q.ExecContext(ctx, `
		UPDATE workflow_board_elements
		SET `+set+`, updated_at=NOW()
		WHERE cid=$1 AND ctype=$2 AND workflow_id=$3
	`, args...)
	if err != nil {
		return fmt.Errorf("update board entry: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update board entry: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("board entry %s: %w", key, board.ErrNotFound)
	}
	return nil
}

func (s *queries) DeleteEntry(ctx context.Context, key board.Key) error {
	_, err := s.q.ExecContext(ctx, `
		DELETE FROM workflow_board_elements
		WHERE cid=$1 AND ctype=$2 AND workflow_id=$3
	`, key.ContentID, key.ContentType, key.WorkflowID)
	if err != nil {
		return fmt.Errorf("delete board entry: %w", err)
	}
	return nil
}

func (s *queries) CountEntries(ctx context.Context, filter board.Filter) (int, error) {
	where, args := filter.SQL(1)
	var total int
	err := s.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM workflow_board_elements WHERE `+where, args...).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("count board entries: %w", err)
	}
	return total, nil
}

func (s *queries) FindEntries(ctx context.Context, filter board.Filter, offset, limit int) ([]board.Entry, error) {
	where, args := filter.SQL(1)
	query := `
		SELECT ` + entryColumns + `
		FROM workflow_board_elements
		WHERE ` + where + `
		ORDER BY workflow_id, ctype, cid
		LIMIT $` + fmt.Sprint(len(args)+1) + ` OFFSET $` + fmt.Sprint(len(args)+2)
	rows, err := s.q.QueryContext(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, fmt.Errorf("find board entries: %w", err)
	}
	defer rows.Close()
	return collectEntries(rows)
}

func (s *queries) ListWorkflowStates(ctx context.Context) ([]board.WorkflowState, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT cid, ctype, workflow_id, state, status
		FROM element_workflow_state
		ORDER BY workflow_id, ctype, cid
	`)
	if err != nil {
		return nil, fmt.Errorf("list workflow states: %w", err)
	}
	defer rows.Close()

	items := make([]board.WorkflowState, 0)
	for rows.Next() {
		var item board.WorkflowState
		if err := rows.Scan(&item.ContentID, &item.ContentType, &item.WorkflowID, &item.State, &item.Status); err != nil {
			return nil, fmt.Errorf("scan workflow state: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate workflow states: %w", err)
	}
	return items, nil
}

func (s *queries) GetWorkflowState(ctx context.Context, key board.Key) (board.WorkflowState, error) {
	item := board.WorkflowState{Key: key}
	err := s.q.QueryRowContext(ctx, `
		SELECT state, status
		FROM element_workflow_state
		WHERE cid=$1 AND ctype=$2 AND workflow_id=$3
	`, key.ContentID, key.ContentType, key.WorkflowID).Scan(&item.State, &item.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return board.WorkflowState{}, fmt.Errorf("workflow state %s: %w", key, board.ErrNotFound)
	}
	if err != nil {
		return board.WorkflowState{}, fmt.Errorf("get workflow state %s: %w", key, err)
	}
	return item, nil
}

func (s *queries) GetContent(ctx context.Context, ref board.ContentRef) (board.ContentItem, error) {
	item := board.ContentItem{Ref: ref}
	var owner sql.NullInt64
	err := s.q.QueryRowContext(ctx, `
		SELECT owner_user_id, element_key, full_path
		FROM elements
		WHERE ctype=$1 AND cid=$2
	`, ref.Type, ref.ID).Scan(&owner, &item.DisplayKey, &item.FullPath)
	if errors.Is(err, sql.ErrNoRows) {
		return board.ContentItem{}, fmt.Errorf("content %s: %w", ref, board.ErrNotFound)
	}
	if err != nil {
		return board.ContentItem{}, fmt.Errorf("get content %s: %w", ref, err)
	}
	if owner.Valid {
		item.OwnerUserID = &owner.Int64
	}
	return item, nil
}

func (s *queries) GetUser(ctx context.Context, userID int64) (board.User, error) {
	var user board.User
	var email sql.NullString
	err := s.q.QueryRowContext(ctx, `SELECT id, name, email, is_admin FROM users WHERE id=$1`, userID).
		Scan(&user.ID, &user.Name, &email, &user.Admin)
	if errors.Is(err, sql.ErrNoRows) {
		return board.User{}, fmt.Errorf("user %d: %w", userID, board.ErrNotFound)
	}
	if err != nil {
		return board.User{}, fmt.Errorf("lookup user: %w", err)
	}
	user.Email = email.String

	if user.RoleIDs, err = s.int64Column(ctx, `SELECT role_id FROM user_roles WHERE user_id=$1 ORDER BY role_id`, userID); err != nil {
		return board.User{}, fmt.Errorf("read roles: %w", err)
	}

	rows, err := s.q.QueryContext(ctx, `SELECT permission FROM user_permissions WHERE user_id=$1 ORDER BY permission`, userID)
	if err != nil {
		return board.User{}, fmt.Errorf("read permissions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var permission string
		if err := rows.Scan(&permission); err != nil {
			return board.User{}, fmt.Errorf("scan permission: %w", err)
		}
		user.Permissions = append(user.Permissions, permission)
	}
	if err := rows.Err(); err != nil {
		return board.User{}, fmt.Errorf("iterate permissions: %w", err)
	}
	return user, nil
}

func (s *queries) ListRoleMemberIDs(ctx context.Context, roleID int64) ([]int64, error) {
	ids, err := s.int64Column(ctx, `SELECT user_id FROM user_roles WHERE role_id=$1 ORDER BY user_id`, roleID)
	if err != nil {
		return nil, fmt.Errorf("list role members: %w", err)
	}
	return ids, nil
}

func (s *queries) int64Column(ctx context.Context, query string, args ...any) ([]int64, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// InsertNotifications writes inbox rows in one statement.
func (s *queries) InsertNotifications(ctx context.Context, items []Notification) error {
	if len(items) == 0 {
		return nil
	}
	values := make([]string, 0, len(items))
	args := make([]any, 0, len(items)*6)
	for i, item := range items {
		base := i * 6
		values = append(values, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d)", base+1, base+2, base+3, base+4, base+5, base+6))
		args = append(args, item.RecipientID, item.SenderID, item.Title, item.Message, item.LinkedType, item.LinkedID)
	}
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO notifications (recipient_id, sender_id, title, message, linked_ctype, linked_cid)
		VALUES `+strings.Join(values, ", "), args...)
	if err != nil {
		return fmt.Errorf("insert notifications: %w", err)
	}
	return nil
}

func (s *queries) ListNotifications(ctx context.Context, recipientID int64, limit int) ([]Notification, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, recipient_id, sender_id, title, message, linked_ctype, linked_cid, is_read, created_at
		FROM notifications
		WHERE recipient_id=$1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, recipientID, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	items := make([]Notification, 0)
	for rows.Next() {
		var item Notification
		if err := rows.Scan(&item.ID, &item.RecipientID, &item.SenderID, &item.Title, &item.Message, &item.LinkedType, &item.LinkedID, &item.Read, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}
	return items, nil
}
