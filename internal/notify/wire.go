package notify

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/ConvertGroupsAS/pimcore-workflow-dashboard/internal/board"
	"github.com/ConvertGroupsAS/pimcore-workflow-dashboard/internal/config"
	"github.com/ConvertGroupsAS/pimcore-workflow-dashboard/internal/store"
)

// FromConfig builds the channels listed in cfg.NotifyChannels. The Redis
// channel needs a client; email is skipped with a warning while SMTP is not
// configured.
func FromConfig(cfg config.Config, s *store.PostgresStore, redisClient *redis.Client, logger *slog.Logger) (Channel, error) {
	var fanout Fanout
	for _, name := range cfg.NotifyChannels {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "":
		case "inbox":
			fanout = append(fanout, NewInbox(s, board.NewResolver(s)))
		case "email":
			mailer := NewMailer(SMTPConfig{
				Host:     cfg.SMTPHost,
				Port:     cfg.SMTPPort,
				Username: cfg.SMTPUsername,
				Password: cfg.SMTPPassword,
				From:     cfg.SMTPFrom,
				FromName: cfg.SMTPFromName,
			}, s)
			if !mailer.IsConfigured() {
				logger.Warn("email notifications enabled but SMTP is not configured, skipping")
				continue
			}
			fanout = append(fanout, mailer)
		case "redis":
			if redisClient == nil {
				return nil, fmt.Errorf("notify channel redis requires REDIS_URL")
			}
			fanout = append(fanout, NewRedisPublisher(redisClient, cfg.RedisChannel))
		default:
			return nil, fmt.Errorf("unknown notify channel %q", name)
		}
	}
	if len(fanout) == 0 {
		return Discard{}, nil
	}
	return fanout, nil
}
