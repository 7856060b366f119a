package cache

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"stockledger/internal/infrastructure/storage/postgres"
	"stockledger/pkg/logger"
)

var _ postgres.OutboxHandler = (*AlertPublisher)(nil)

// AlertPublisher relays outbox alerts to a Redis Pub/Sub channel. An error
// leaves the message in the outbox for retry.
type AlertPublisher struct {
	client  *redis.Client
	channel string
}

// NewAlertPublisher creates a publisher. The caller owns the client.
func NewAlertPublisher(client *redis.Client, channel string) *AlertPublisher {
	return &AlertPublisher{client: client, channel: channel}
}

// Handle implements postgres.OutboxHandler.
func (p *AlertPublisher) Handle(ctx context.Context, msg *postgres.OutboxMessage) error {
	a, err := msg.Alert()
	if err != nil {
		return err
	}

	receivers, err := p.client.Publish(ctx, p.channel, msg.Payload).Result()
	if err != nil {
		return fmt.Errorf("publish alert %s: %w", a.ID, err)
	}

	logger.Debug(ctx, "alert published",
		"alert_id", a.ID,
		"type", a.Type,
		"severity", a.Severity,
		"channel", p.channel,
		"receivers", receivers)
	return nil
}
