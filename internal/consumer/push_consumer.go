package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/streadway/amqp"

	"github.com/CyberwizD/Distributed-Notification-System/services/webshell_bridge/internal/models"
	"github.com/CyberwizD/Distributed-Notification-System/services/webshell_bridge/pkg/metrics"
)

// EventHandler receives the decoded vendor callbacks. Workers call it
// concurrently; issuedAt lets it order token refreshes.
type EventHandler interface {
	OnNewToken(ctx context.Context, token string, issuedAt time.Time)
	OnMessageReceived(msg models.InboundMessage)
}

// PushEventConsumer turns queued push events into messaging callbacks.
type PushEventConsumer struct {
	base     *BaseConsumer
	handler  EventHandler
	validate *validator.Validate
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

func NewPushEventConsumer(base *BaseConsumer, handler EventHandler, metrics *metrics.Metrics, logger *slog.Logger) *PushEventConsumer {
	return &PushEventConsumer{
		base:     base,
		handler:  handler,
		validate: validator.New(),
		metrics:  metrics,
		logger:   logger,
	}
}

func (p *PushEventConsumer) Start(ctx context.Context) error {
	return p.base.Start(ctx, p.handleDelivery)
}

func (p *PushEventConsumer) handleDelivery(ctx context.Context, msg amqp.Delivery) error {
	event, err := p.decode(msg.Body)
	if err != nil {
		p.logger.Error("push event dead-lettered", slog.String("message_id", msg.MessageId), slog.Any("error", err))
		p.metrics.IncConsumed("invalid")
		_ = msg.Reject(false)
		return err
	}

	p.metrics.IncConsumed(event.Type)
	switch event.Type {
	case models.EventTokenRefreshed:
		p.handler.OnNewToken(ctx, event.Token, event.SentAt)
	case models.EventMessageReceived:
		p.handler.OnMessageReceived(event.Message())
	}
	return msg.Ack(false)
}

func (p *PushEventConsumer) decode(body []byte) (*models.PushEvent, error) {
	var event models.PushEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("unmarshal push event: %w", err)
	}
	if err := p.validate.Struct(&event); err != nil {
		return nil, fmt.Errorf("invalid push event: %w", err)
	}
	return &event, nil
}
