package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Event is the JSON payload published for every notification.
type Event struct {
	Audience    string    `json:"audience"`
	RecipientID int64     `json:"recipient_id"`
	SenderID    int64     `json:"sender_id"`
	Title       string    `json:"title"`
	Message     string    `json:"message"`
	ElementType string    `json:"element_type"`
	ElementID   int64     `json:"element_id"`
	ElementPath string    `json:"element_path"`
	SentAt      time.Time `json:"sent_at"`
}

// RedisPublisher publishes notifications on a Redis pub/sub channel so
// connected clients can refresh their board.
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

func NewRedisPublisher(client *redis.Client, channel string) *RedisPublisher {
	return &RedisPublisher{client: client, channel: channel}
}

func (p *RedisPublisher) SendToUser(ctx context.Context, userID int64, msg Message) error {
	return p.publish(ctx, "user", userID, msg)
}

func (p *RedisPublisher) SendToGroup(ctx context.Context, roleID int64, msg Message) error {
	return p.publish(ctx, "group", roleID, msg)
}

func (p *RedisPublisher) publish(ctx context.Context, audience string, recipient int64, msg Message) error {
	payload, err := json.Marshal(Event{
		Audience:    audience,
		RecipientID: recipient,
		SenderID:    msg.From,
		Title:       msg.Title,
		Message:     msg.Body,
		ElementType: msg.Element.Ref.Type,
		ElementID:   msg.Element.Ref.ID,
		ElementPath: msg.Element.FullPath,
		SentAt:      time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}
