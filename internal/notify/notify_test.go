package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/ConvertGroupsAS/pimcore-workflow-dashboard/internal/board"
	"github.com/ConvertGroupsAS/pimcore-workflow-dashboard/internal/board/boardtest"
	"github.com/ConvertGroupsAS/pimcore-workflow-dashboard/internal/config"
	"github.com/ConvertGroupsAS/pimcore-workflow-dashboard/internal/store"
)

type recordingStore struct {
	rows []store.Notification
	err  error
}

func (s *recordingStore) InsertNotifications(_ context.Context, items []store.Notification) error {
	if s.err != nil {
		return s.err
	}
	s.rows = append(s.rows, items...)
	return nil
}

type recordingChannel struct {
	users  []int64
	groups []int64
	err    error
}

func (c *recordingChannel) SendToUser(_ context.Context, userID int64, _ Message) error {
	c.users = append(c.users, userID)
	return c.err
}

func (c *recordingChannel) SendToGroup(_ context.Context, roleID int64, _ Message) error {
	c.groups = append(c.groups, roleID)
	return c.err
}

var carMessage = Message{
	From:    1,
	Title:   "Workflow: Element car has been assigned to your group",
	Body:    "Workflow: Element car has been assigned to your group",
	Element: board.ContentItem{Ref: board.ContentRef{Type: "object", ID: 10}, DisplayKey: "car", FullPath: "/cars/car"},
}

func TestInboxSendToGroupExpandsMembers(t *testing.T) {
	mem := boardtest.NewMemory()
	mem.PutUser(board.User{ID: 7, RoleIDs: []int64{4, 5}})
	mem.PutUser(board.User{ID: 8, RoleIDs: []int64{5}})
	mem.PutUser(board.User{ID: 9, RoleIDs: []int64{4}})
	rows := &recordingStore{}
	inbox := NewInbox(rows, board.NewResolver(mem))

	if err := inbox.SendToGroup(context.Background(), 5, carMessage); err != nil {
		t.Fatalf("SendToGroup() error = %v", err)
	}

	if len(rows.rows) != 2 {
		t.Fatalf("wrote %d rows, want 2", len(rows.rows))
	}
	for i, recipient := range []int64{7, 8} {
		row := rows.rows[i]
		if row.RecipientID != recipient || row.SenderID != 1 || row.LinkedType != "object" || row.LinkedID != 10 {
			t.Errorf("row %d = %+v, want recipient %d linked to object:10", i, row, recipient)
		}
	}
}

func TestInboxSendToUser(t *testing.T) {
	rows := &recordingStore{}
	inbox := NewInbox(rows, board.NewResolver(boardtest.NewMemory()))

	if err := inbox.SendToUser(context.Background(), 7, carMessage); err != nil {
		t.Fatalf("SendToUser() error = %v", err)
	}
	if len(rows.rows) != 1 || rows.rows[0].RecipientID != 7 || rows.rows[0].Title != carMessage.Title {
		t.Fatalf("unexpected rows: %+v", rows.rows)
	}
}

func TestInboxEmptyRoleWritesNothing(t *testing.T) {
	rows := &recordingStore{err: errors.New("should not be called")}
	inbox := NewInbox(rows, board.NewResolver(boardtest.NewMemory()))

	if err := inbox.SendToGroup(context.Background(), 6, carMessage); err != nil {
		t.Fatalf("SendToGroup() error = %v", err)
	}
}

func TestInboxStoreFailure(t *testing.T) {
	boom := errors.New("insert failed")
	inbox := NewInbox(&recordingStore{err: boom}, board.NewResolver(boardtest.NewMemory()))

	if err := inbox.SendToUser(context.Background(), 7, carMessage); !errors.Is(err, boom) {
		t.Fatalf("expected %v, got %v", boom, err)
	}
}

func TestRedisPublisherPublishesEvent(t *testing.T) {
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub := client.Subscribe(ctx, "board-events")
	t.Cleanup(func() { _ = sub.Close() })
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	publisher := NewRedisPublisher(client, "board-events")
	if err := publisher.SendToGroup(ctx, 5, carMessage); err != nil {
		t.Fatalf("SendToGroup() error = %v", err)
	}

	msg, err := sub.ReceiveMessage(ctx)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}

	var event Event
	if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if event.Audience != "group" || event.RecipientID != 5 || event.ElementPath != "/cars/car" || event.ElementID != 10 {
		t.Fatalf("unexpected event: %+v", event)
	}
}

func TestFanoutSendsToEveryChannel(t *testing.T) {
	boom := errors.New("smtp down")
	ok := &recordingChannel{}
	failing := &recordingChannel{err: boom}
	fanout := Fanout{failing, ok}

	if err := fanout.SendToGroup(context.Background(), 5, carMessage); !errors.Is(err, boom) {
		t.Fatalf("expected %v, got %v", boom, err)
	}
	if !reflect.DeepEqual(ok.groups, []int64{5}) || !reflect.DeepEqual(failing.groups, []int64{5}) {
		t.Fatalf("every channel should see the group send: ok=%v failing=%v", ok.groups, failing.groups)
	}

	if err := fanout.SendToUser(context.Background(), 7, carMessage); !errors.Is(err, boom) {
		t.Fatalf("expected %v, got %v", boom, err)
	}
	if !reflect.DeepEqual(ok.users, []int64{7}) {
		t.Fatalf("ok.users = %v, want [7]", ok.users)
	}
}

func TestFromConfig(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tests := []struct {
		name     string
		channels []string
		wantErr  bool
	}{
		{name: "blank list", channels: []string{" "}},
		{name: "unconfigured smtp is skipped", channels: []string{"email"}},
		{name: "redis without client", channels: []string{"redis"}, wantErr: true},
		{name: "unknown channel", channels: []string{"pager"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			channel, err := FromConfig(config.Config{NotifyChannels: tt.channels}, nil, nil, logger)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("FromConfig() error = %v", err)
			}
			if _, ok := channel.(Discard); !ok {
				t.Fatalf("channel = %T, want Discard", channel)
			}
		})
	}

	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	channel, err := FromConfig(config.Config{NotifyChannels: []string{"Redis"}, RedisChannel: "events"}, nil, client, logger)
	if err != nil {
		t.Fatalf("FromConfig(redis) error = %v", err)
	}
	fanout, ok := channel.(Fanout)
	if !ok || len(fanout) != 1 {
		t.Fatalf("channel = %#v, want one-channel Fanout", channel)
	}
	if _, ok := fanout[0].(*RedisPublisher); !ok {
		t.Fatalf("fanout[0] = %T, want *RedisPublisher", fanout[0])
	}
}
