package services

import (
	"time"

	"github.com/google/uuid"

	"github.com/CyberwizD/Distributed-Notification-System/services/webshell_bridge/pkg/retry"
)

// DeliveryPolicy holds the retry rules for the token handshake.
type DeliveryPolicy struct {
	// BridgeRetryDelay applies while the bridge is not constructed. Unbounded.
	BridgeRetryDelay time.Duration
	// SurfaceRetryDelay applies while the content surface is not loaded.
	SurfaceRetryDelay time.Duration
	// SurfaceMaxAttempts bounds the readiness checks of one cycle.
	SurfaceMaxAttempts int
}

func DefaultDeliveryPolicy() DeliveryPolicy {
	return DeliveryPolicy{
		BridgeRetryDelay:   500 * time.Millisecond,
		SurfaceRetryDelay:  time.Second,
		SurfaceMaxAttempts: 10,
	}
}

// DeliveryAttempt is the retry state of one delivery cycle. A cycle starts
// when a token is refreshed (or resumed) and ends when it is delivered,
// abandoned or failed.
type DeliveryAttempt struct {
	ID      string
	bridge  retry.Budget
	surface retry.Budget
}

func NewDeliveryAttempt(policy DeliveryPolicy) *DeliveryAttempt {
	return &DeliveryAttempt{
		ID:      uuid.NewString(),
		bridge:  retry.Budget{Delay: policy.BridgeRetryDelay},
		surface: retry.Budget{Max: policy.SurfaceMaxAttempts, Delay: policy.SurfaceRetryDelay},
	}
}

// BridgeUnavailable records a check that found no bridge.
func (a *DeliveryAttempt) BridgeUnavailable() time.Duration {
	delay, _ := a.bridge.Spend()
	return delay
}

// SurfaceNotLoaded records a check that found the content surface missing.
// ok is false once the bound is reached.
func (a *DeliveryAttempt) SurfaceNotLoaded() (delay time.Duration, ok bool) {
	return a.surface.Spend()
}

// ReadyChecks is the number of failed content-surface checks so far.
func (a *DeliveryAttempt) ReadyChecks() int {
	return a.surface.Used()
}

// BridgeWaits is the number of failed bridge checks so far.
func (a *DeliveryAttempt) BridgeWaits() int {
	return a.bridge.Used()
}

// MaxAttempts is the content-surface check bound.
func (a *DeliveryAttempt) MaxAttempts() int {
	return a.surface.Max
}
