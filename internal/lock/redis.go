package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only while it still holds our token, so an
// expired lease never removes a lock taken over by another run.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisLocker implements Locker with SET NX PX on a shared Redis.
type RedisLocker struct {
	client *redis.Client
	prefix string
}

// NewRedisLocker connects to redisURL and verifies the connection.
func NewRedisLocker(redisURL string) (*RedisLocker, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisLockerWithClient(client), nil
}

func NewRedisLockerWithClient(client *redis.Client) *RedisLocker {
	return &RedisLocker{
		client: client,
		prefix: "lock:",
	}
}

func (l *RedisLocker) key(name string) string {
	return l.prefix + name
}

func (l *RedisLocker) TryLock(ctx context.Context, name string, ttl time.Duration) (Lease, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key(name), token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", name, err)
	}
	if !ok {
		return nil, ErrLocked
	}
	return &redisLease{client: l.client, key: l.key(name), token: token}, nil
}

// Client exposes the underlying connection so other Redis users can share it.
func (l *RedisLocker) Client() *redis.Client {
	return l.client
}

func (l *RedisLocker) Close() error {
	return l.client.Close()
}

func (l *RedisLocker) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

type redisLease struct {
	client *redis.Client
	key    string
	token  string
}

func (r *redisLease) Extend(ctx context.Context, ttl time.Duration) error {
	extended, err := extendScript.Run(ctx, r.client, []string{r.key}, r.token, ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("extend lock: %w", err)
	}
	if extended == 0 {
		return ErrLeaseLost
	}
	return nil
}

func (r *redisLease) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, r.client, []string{r.key}, r.token).Err(); err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}
