package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/CyberwizD/Distributed-Notification-System/services/webshell_bridge/internal/models"
	"github.com/CyberwizD/Distributed-Notification-System/services/webshell_bridge/pkg/logger"
)

// TokenCache remembers the last registration token across restarts.
type TokenCache interface {
	LastToken(ctx context.Context) (string, error)
	StoreToken(ctx context.Context, token string) error
}

// MessagingService receives the push vendor callbacks and hands them to
// the delivery agent and the message forwarder.
//
// Token callbacks may arrive on several goroutines. They are handed off one
// at a time, and a token issued before the last applied one is dropped.
type MessagingService struct {
	agent     *TokenDeliveryAgent
	forwarder *MessageForwarder
	cache     TokenCache
	logger    *slog.Logger

	tokenMu    sync.Mutex
	lastIssued time.Time
}

// NewMessagingService wires the callbacks. cache may be nil.
func NewMessagingService(agent *TokenDeliveryAgent, forwarder *MessageForwarder, cache TokenCache, logger *slog.Logger) *MessagingService {
	return &MessagingService{
		agent:     agent,
		forwarder: forwarder,
		cache:     cache,
		logger:    logger,
	}
}

// OnNewToken is called whenever the messaging service issues a new token.
// issuedAt orders concurrent refreshes; a zero value means unknown and the
// token is applied in arrival order.
func (s *MessagingService) OnNewToken(ctx context.Context, token string, issuedAt time.Time) {
	if token == "" {
		s.logger.Warn("messaging service reported an empty token")
		return
	}

	s.tokenMu.Lock()
	defer s.tokenMu.Unlock()

	if !issuedAt.IsZero() {
		if issuedAt.Before(s.lastIssued) {
			s.logger.Info("dropping stale registration token",
				slog.String("token", logger.TokenPrefix(token)),
				slog.Time("issued_at", issuedAt),
				slog.Time("last_issued_at", s.lastIssued),
			)
			return
		}
		s.lastIssued = issuedAt
	}
	s.logger.Info("registration token refreshed", slog.String("token", logger.TokenPrefix(token)))

	if s.cache != nil {
		if err := s.cache.StoreToken(ctx, token); err != nil {
			s.logger.Warn("failed to cache registration token", slog.Any("error", err))
		}
	}
	s.agent.OnTokenRefreshed(token)
}

// OnMessageReceived is called for every inbound push message.
func (s *MessagingService) OnMessageReceived(msg models.InboundMessage) {
	attrs := []any{
		slog.String("message_id", msg.MessageID),
		slog.String("from", msg.From),
		slog.Bool("notification", msg.Notification != nil),
	}
	if len(msg.Data) > 0 {
		attrs = append(attrs, slog.Any("data", msg.Data))
	}
	s.logger.Info("push message received", attrs...)
	s.forwarder.Forward(msg)
}

// Bootstrap hands the last known token to the agent at startup.
func (s *MessagingService) Bootstrap(ctx context.Context) {
	if s.cache == nil {
		s.logger.Info("no token cache configured, waiting for token refresh")
		return
	}
	token, err := s.cache.LastToken(ctx)
	if err != nil {
		s.logger.Error("failed to fetch registration token", slog.Any("error", err))
		return
	}
	if token == "" {
		s.logger.Info("no registration token known yet")
		return
	}
	s.logger.Info("registration token restored", slog.String("token", logger.TokenPrefix(token)))
	s.agent.OnTokenRefreshed(token)
}
