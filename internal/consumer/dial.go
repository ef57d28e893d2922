package consumer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/streadway/amqp"

	"github.com/CyberwizD/Distributed-Notification-System/services/webshell_bridge/pkg/retry"
)

// Dial connects to RabbitMQ, retrying with backoff while the broker is
// still coming up.
func Dial(ctx context.Context, url string, cfg retry.Config, logger *slog.Logger) (*amqp.Connection, error) {
	var conn *amqp.Connection
	attempt := 0
	err := retry.Do(ctx, cfg, func() error {
		attempt++
		c, err := amqp.Dial(url)
		if err != nil {
			logger.Warn("rabbitmq not reachable", slog.Int("attempt", attempt), slog.Any("error", err))
			return err
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("connect rabbitmq: %w", err)
	}
	return conn, nil
}
