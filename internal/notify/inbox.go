package notify

import (
	"context"
	"fmt"

	"github.com/ConvertGroupsAS/pimcore-workflow-dashboard/internal/board"
	"github.com/ConvertGroupsAS/pimcore-workflow-dashboard/internal/store"
)

type inboxStore interface {
	InsertNotifications(ctx context.Context, items []store.Notification) error
}

// Inbox writes notifications into the host notifications table. Group
// messages are expanded to one row per role member.
type Inbox struct {
	store    inboxStore
	resolver *board.Resolver
}

func NewInbox(s inboxStore, resolver *board.Resolver) *Inbox {
	return &Inbox{store: s, resolver: resolver}
}

func (i *Inbox) SendToUser(ctx context.Context, userID int64, msg Message) error {
	return i.deliver(ctx, board.AssignUser, userID, msg)
}

func (i *Inbox) SendToGroup(ctx context.Context, roleID int64, msg Message) error {
	return i.deliver(ctx, board.AssignRole, roleID, msg)
}

func (i *Inbox) deliver(ctx context.Context, assignType board.AssignType, id int64, msg Message) error {
	recipients, err := i.resolver.Audience(ctx, assignType, id)
	if err != nil {
		return err
	}
	if len(recipients) == 0 {
		return nil
	}

	rows := make([]store.Notification, 0, len(recipients))
	for _, recipient := range recipients {
		rows = append(rows, store.Notification{
			RecipientID: recipient,
			SenderID:    msg.From,
			Title:       msg.Title,
			Message:     msg.Body,
			LinkedType:  msg.Element.Ref.Type,
			LinkedID:    msg.Element.Ref.ID,
		})
	}
	if err := i.store.InsertNotifications(ctx, rows); err != nil {
		return fmt.Errorf("deliver to inbox: %w", err)
	}
	return nil
}
