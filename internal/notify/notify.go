// Package notify delivers assignment notifications to users and role
// members.
//
// Delivery is a side effect outside the board's transaction: callers send
// after committing and only log failures. Channels can be combined with
// Fanout; the inbox channel writes host notification rows, the mailer sends
// SMTP mail and the Redis publisher emits events for live clients.
package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/ConvertGroupsAS/pimcore-workflow-dashboard/internal/board"
)

// Message is one notification. Element is the content item it links to.
type Message struct {
	From    int64
	Title   string
	Body    string
	Element board.ContentItem
}

type Channel interface {
	SendToUser(ctx context.Context, userID int64, msg Message) error
	SendToGroup(ctx context.Context, roleID int64, msg Message) error
}

// Fanout sends every message through all channels and joins their errors.
type Fanout []Channel

func (f Fanout) SendToUser(ctx context.Context, userID int64, msg Message) error {
	var errs []error
	for _, channel := range f {
		if err := channel.SendToUser(ctx, userID, msg); err != nil {
			errs = append(errs, fmt.Errorf("%T: %w", channel, err))
		}
	}
	return errors.Join(errs...)
}

func (f Fanout) SendToGroup(ctx context.Context, roleID int64, msg Message) error {
	var errs []error
	for _, channel := range f {
		if err := channel.SendToGroup(ctx, roleID, msg); err != nil {
			errs = append(errs, fmt.Errorf("%T: %w", channel, err))
		}
	}
	return errors.Join(errs...)
}

// Discard drops every message.
type Discard struct{}

func (Discard) SendToUser(context.Context, int64, Message) error  { return nil }
func (Discard) SendToGroup(context.Context, int64, Message) error { return nil }
