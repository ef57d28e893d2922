package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/CyberwizD/Distributed-Notification-System/services/webshell_bridge/internal/models"
	"github.com/CyberwizD/Distributed-Notification-System/services/webshell_bridge/pkg/logger"
)

const statusQueueSize = 256

// StatusWriter persists delivery cycle rows.
type StatusWriter interface {
	Begin(ctx context.Context, deliveryID, status, tokenPrefix string) error
	UpdateStatus(ctx context.Context, deliveryID, status, detail string) error
}

type statusWrite struct {
	ctx        context.Context
	deliveryID string
	status     string
	fn         func(context.Context) error
}

// StatusUpdater records delivery outcomes without blocking the caller.
// Writes are applied in call order by a single writer goroutine, each one
// bounded by timeout.
type StatusUpdater struct {
	store   StatusWriter
	timeout time.Duration
	logger  *slog.Logger

	mu      sync.RWMutex
	closed  bool
	queue   chan statusWrite
	pending sync.WaitGroup
	stopped chan struct{}
}

// NewStatusUpdater returns an updater writing to store. A nil store makes
// every Mark call a no-op.
func NewStatusUpdater(store StatusWriter, timeout time.Duration, logger *slog.Logger) *StatusUpdater {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	s := &StatusUpdater{
		store:   store,
		timeout: timeout,
		logger:  logger,
		queue:   make(chan statusWrite, statusQueueSize),
		stopped: make(chan struct{}),
	}
	if store != nil {
		go s.run()
	}
	return s
}

func (s *StatusUpdater) MarkPending(ctx context.Context, deliveryID, token string) {
	prefix := logger.TokenPrefix(token)
	s.enqueue(ctx, deliveryID, models.DeliveryPending, func(ctx context.Context) error {
		return s.store.Begin(ctx, deliveryID, models.DeliveryPending, prefix)
	})
}

func (s *StatusUpdater) MarkDelivered(ctx context.Context, deliveryID string) {
	s.update(ctx, deliveryID, models.DeliveryDelivered, "")
}

func (s *StatusUpdater) MarkAbandoned(ctx context.Context, deliveryID, detail string) {
	s.update(ctx, deliveryID, models.DeliveryAbandoned, detail)
}

func (s *StatusUpdater) MarkFailed(ctx context.Context, deliveryID, detail string) {
	s.update(ctx, deliveryID, models.DeliveryFailed, detail)
}

// Wait blocks until every write queued so far has been applied.
func (s *StatusUpdater) Wait() {
	s.pending.Wait()
}

// Close applies the queued writes and stops the writer. Mark calls made
// after Close are dropped.
func (s *StatusUpdater) Close() {
	if s.store == nil {
		return
	}
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()
	<-s.stopped
}

func (s *StatusUpdater) update(ctx context.Context, deliveryID, status, detail string) {
	s.enqueue(ctx, deliveryID, status, func(ctx context.Context) error {
		return s.store.UpdateStatus(ctx, deliveryID, status, detail)
	})
}

func (s *StatusUpdater) enqueue(ctx context.Context, deliveryID, status string, fn func(context.Context) error) {
	if s.store == nil {
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}

	s.pending.Add(1)
	select {
	case s.queue <- statusWrite{ctx: context.WithoutCancel(ctx), deliveryID: deliveryID, status: status, fn: fn}:
	default:
		s.pending.Done()
		s.logger.Warn("status queue full, update dropped",
			slog.String("delivery_id", deliveryID),
			slog.String("status", status),
		)
	}
}

func (s *StatusUpdater) run() {
	defer close(s.stopped)
	for w := range s.queue {
		s.apply(w)
		s.pending.Done()
	}
}

func (s *StatusUpdater) apply(w statusWrite) {
	ctx, cancel := context.WithTimeout(w.ctx, s.timeout)
	defer cancel()
	if err := w.fn(ctx); err != nil {
		s.logger.Error("failed to update delivery status",
			slog.String("delivery_id", w.deliveryID),
			slog.String("status", w.status),
			slog.Any("error", err),
		)
	}
}
