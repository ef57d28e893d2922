package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/CyberwizD/Distributed-Notification-System/services/webshell_bridge/internal/mainloop"
	"github.com/CyberwizD/Distributed-Notification-System/services/webshell_bridge/internal/models"
	"github.com/CyberwizD/Distributed-Notification-System/services/webshell_bridge/internal/webview"
	"github.com/CyberwizD/Distributed-Notification-System/services/webshell_bridge/pkg/logger"
	"github.com/CyberwizD/Distributed-Notification-System/services/webshell_bridge/pkg/metrics"
)

// ErrEmptyToken is logged when the messaging service reports an empty token.
var ErrEmptyToken = errors.New("empty registration token")

var errNotConfirmed = errors.New("content surface returned no confirmation")

// DeliveryPhase is where the pending token currently is in its cycle.
type DeliveryPhase string

const (
	PhaseIdle       DeliveryPhase = "idle"
	PhaseWaiting    DeliveryPhase = "waiting"
	PhaseEvaluating DeliveryPhase = "evaluating"
	PhaseAbandoned  DeliveryPhase = "abandoned"
	PhaseFailed     DeliveryPhase = "failed"
)

// DeliveryObserver records the outcome of every delivery cycle.
type DeliveryObserver interface {
	MarkPending(ctx context.Context, deliveryID, token string)
	MarkDelivered(ctx context.Context, deliveryID string)
	MarkAbandoned(ctx context.Context, deliveryID, detail string)
	MarkFailed(ctx context.Context, deliveryID, detail string)
}

// DeliveryState is a snapshot of the agent for health reporting.
type DeliveryState struct {
	Pending     bool          `json:"pending"`
	TokenPrefix string        `json:"token_prefix,omitempty"`
	Phase       DeliveryPhase `json:"phase"`
	DeliveryID  string        `json:"delivery_id,omitempty"`
	ReadyChecks int           `json:"ready_checks"`
	BridgeWaits int           `json:"bridge_waits"`
	LastError   string        `json:"last_error,omitempty"`
}

// TokenDeliveryAgent hands the most recent registration token to the web
// content once the bridge and its content surface are ready.
//
// Every method may be called from any goroutine; the work itself runs on the
// main loop. The mutex only protects the snapshot read by State and
// PendingToken.
type TokenDeliveryAgent struct {
	host     webview.Host
	loop     mainloop.Scheduler
	policy   DeliveryPolicy
	platform string
	observer DeliveryObserver
	metrics  *metrics.Metrics
	logger   *slog.Logger

	mu         sync.Mutex
	pending    string
	attempt    *DeliveryAttempt
	phase      DeliveryPhase
	step       uint64
	evaluating string
	inflight   *DeliveryAttempt
	rerun      bool
	lastErr    string
}

func NewTokenDeliveryAgent(
	host webview.Host,
	loop mainloop.Scheduler,
	policy DeliveryPolicy,
	platform string,
	observer DeliveryObserver,
	metrics *metrics.Metrics,
	logger *slog.Logger,
) *TokenDeliveryAgent {
	if platform == "" {
		platform = "android"
	}
	return &TokenDeliveryAgent{
		host:     host,
		loop:     loop,
		policy:   policy,
		platform: platform,
		observer: observer,
		metrics:  metrics,
		logger:   logger,
		phase:    PhaseIdle,
	}
}

// OnTokenRefreshed replaces any undelivered token with token and starts a
// new delivery cycle.
func (a *TokenDeliveryAgent) OnTokenRefreshed(token string) {
	if token == "" {
		a.logger.Warn("ignoring token refresh", slog.Any("error", ErrEmptyToken))
		return
	}
	a.metrics.IncTokenReceived()
	a.loop.Post(func() { a.startCycle(token) })
}

// AttemptDelivery tries to deliver the pending token now. It does nothing
// when no token is pending, while an evaluation is outstanding, or after
// the current cycle was abandoned or failed.
func (a *TokenDeliveryAgent) AttemptDelivery() {
	a.loop.Post(a.attemptDelivery)
}

// Resume starts a fresh cycle for a token that is still pending, typically
// because the content surface just finished loading.
func (a *TokenDeliveryAgent) Resume() {
	a.loop.Post(func() {
		a.mu.Lock()
		token := a.pending
		busy := a.evaluating != ""
		phase := a.phase
		a.mu.Unlock()

		if token == "" || busy {
			return
		}
		a.logger.Info("resuming token delivery",
			slog.String("token", logger.TokenPrefix(token)),
			slog.String("previous_phase", string(phase)),
		)
		a.startCycle(token)
	})
}

// PendingToken returns the token not yet confirmed by the web content.
func (a *TokenDeliveryAgent) PendingToken() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pending
}

func (a *TokenDeliveryAgent) State() DeliveryState {
	a.mu.Lock()
	defer a.mu.Unlock()

	state := DeliveryState{
		Pending:   a.pending != "",
		Phase:     a.phase,
		LastError: a.lastErr,
	}
	if a.pending != "" {
		state.TokenPrefix = logger.TokenPrefix(a.pending)
	}
	if a.attempt != nil {
		state.DeliveryID = a.attempt.ID
		state.ReadyChecks = a.attempt.ReadyChecks()
		state.BridgeWaits = a.attempt.BridgeWaits()
	}
	return state
}

func (a *TokenDeliveryAgent) startCycle(token string) {
	a.mu.Lock()
	if a.evaluating != "" && a.evaluating == token {
		superseded := a.pending != token
		// the outstanding evaluation already carries token
		a.pending = token
		a.attempt = a.inflight
		a.phase = PhaseEvaluating
		a.lastErr = ""
		a.rerun = false
		a.step++
		a.mu.Unlock()
		a.logger.Debug("token already being delivered",
			slog.String("token", logger.TokenPrefix(token)),
			slog.Bool("superseded_newer", superseded),
		)
		return
	}
	if a.pending != "" && a.pending != token {
		a.logger.Info("superseding undelivered token",
			slog.String("previous", logger.TokenPrefix(a.pending)),
			slog.String("token", logger.TokenPrefix(token)),
		)
	}
	a.pending = token
	a.attempt = NewDeliveryAttempt(a.policy)
	a.phase = PhaseWaiting
	a.lastErr = ""
	a.step++
	id := a.attempt.ID
	busy := a.evaluating != ""
	if busy {
		a.rerun = true
	}
	a.mu.Unlock()

	a.observer.MarkPending(context.Background(), id, token)
	if busy {
		a.logger.Debug("evaluation outstanding, delivery deferred", slog.String("delivery_id", id))
		return
	}
	a.attemptDelivery()
}

func (a *TokenDeliveryAgent) attemptDelivery() {
	a.mu.Lock()
	if a.pending == "" || a.evaluating != "" || a.phase == PhaseAbandoned || a.phase == PhaseFailed {
		a.mu.Unlock()
		return
	}
	a.step++
	token := a.pending
	attempt := a.attempt
	a.mu.Unlock()

	bridge := a.host.Bridge()
	if bridge == nil {
		a.mu.Lock()
		delay := attempt.BridgeUnavailable()
		a.mu.Unlock()
		a.logger.Debug("bridge not ready, retrying", slog.Duration("delay", delay))
		a.scheduleRetry(delay, metrics.ReasonBridge)
		return
	}

	surface := bridge.Surface()
	if surface == nil {
		a.mu.Lock()
		delay, ok := attempt.SurfaceNotLoaded()
		checks := attempt.ReadyChecks()
		a.mu.Unlock()
		if !ok {
			a.abandon(attempt, checks)
			return
		}
		a.logger.Debug("content surface not loaded, retrying",
			slog.Int("check", checks),
			slog.Int("max", attempt.MaxAttempts()),
			slog.Duration("delay", delay),
		)
		a.scheduleRetry(delay, metrics.ReasonSurface)
		return
	}

	script, err := TokenScript(models.TokenPayload{Token: token, Platform: a.platform})
	if err != nil {
		a.fail(attempt.ID, token, err)
		return
	}

	a.mu.Lock()
	a.evaluating = token
	a.inflight = attempt
	a.phase = PhaseEvaluating
	a.mu.Unlock()

	a.logger.Debug("delivering token", slog.String("token", logger.TokenPrefix(token)), slog.String("delivery_id", attempt.ID))
	surface.Evaluate(script, func(result string, err error) {
		a.onEvaluated(attempt.ID, token, result, err)
	})
}

func (a *TokenDeliveryAgent) scheduleRetry(delay time.Duration, reason string) {
	a.mu.Lock()
	step := a.step
	a.phase = PhaseWaiting
	a.mu.Unlock()

	a.metrics.IncRetry(reason)
	a.loop.PostDelayed(delay, func() {
		a.mu.Lock()
		stale := step != a.step
		a.mu.Unlock()
		if stale {
			return
		}
		a.attemptDelivery()
	})
}

func (a *TokenDeliveryAgent) onEvaluated(deliveryID, token, result string, err error) {
	if err == nil && (result == "" || result == "null") {
		err = errNotConfirmed
	}

	a.mu.Lock()
	a.evaluating = ""
	a.inflight = nil
	rerun := a.rerun
	a.rerun = false
	current := a.pending == token && !rerun
	if err == nil && current {
		a.pending = ""
		a.phase = PhaseIdle
		a.lastErr = ""
	}
	a.mu.Unlock()

	if err != nil {
		if current {
			a.fail(deliveryID, token, err)
		} else {
			a.logger.Warn("superseded token delivery failed", slog.String("delivery_id", deliveryID), slog.Any("error", err))
			a.observer.MarkFailed(context.Background(), deliveryID, err.Error())
			a.metrics.IncTokenOutcome(metrics.OutcomeFailed)
		}
	} else {
		a.logger.Info("token delivered to web content",
			slog.String("token", logger.TokenPrefix(token)),
			slog.String("delivery_id", deliveryID),
			slog.String("result", result),
		)
		a.observer.MarkDelivered(context.Background(), deliveryID)
		a.metrics.IncTokenOutcome(metrics.OutcomeDelivered)
	}

	if rerun {
		a.attemptDelivery()
	}
}

func (a *TokenDeliveryAgent) abandon(attempt *DeliveryAttempt, checks int) {
	detail := fmt.Sprintf("content surface not loaded after %d checks", checks)

	a.mu.Lock()
	a.phase = PhaseAbandoned
	a.lastErr = detail
	a.mu.Unlock()

	a.logger.Error("token delivery abandoned",
		slog.String("delivery_id", attempt.ID),
		slog.Int("checks", checks),
	)
	a.observer.MarkAbandoned(context.Background(), attempt.ID, detail)
	a.metrics.IncTokenOutcome(metrics.OutcomeAbandoned)
}

func (a *TokenDeliveryAgent) fail(deliveryID, token string, err error) {
	a.mu.Lock()
	if a.pending == token {
		a.phase = PhaseFailed
		a.lastErr = err.Error()
	}
	a.mu.Unlock()

	a.logger.Error("token delivery failed",
		slog.String("delivery_id", deliveryID),
		slog.String("token", logger.TokenPrefix(token)),
		slog.Any("error", err),
	)
	a.observer.MarkFailed(context.Background(), deliveryID, err.Error())
	a.metrics.IncTokenOutcome(metrics.OutcomeFailed)
}
