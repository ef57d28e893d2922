package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CyberwizD/Distributed-Notification-System/services/webshell_bridge/internal/mainloop"
	"github.com/CyberwizD/Distributed-Notification-System/services/webshell_bridge/internal/models"
	"github.com/CyberwizD/Distributed-Notification-System/services/webshell_bridge/internal/webview"
	"github.com/CyberwizD/Distributed-Notification-System/services/webshell_bridge/pkg/logger"
	"github.com/CyberwizD/Distributed-Notification-System/services/webshell_bridge/pkg/metrics"
)

type fakeSurface struct {
	scripts []string
	respond func(script string, done func(string, error))
}

func (s *fakeSurface) Evaluate(script string, done func(string, error)) {
	s.scripts = append(s.scripts, script)
	if s.respond != nil {
		s.respond(script, done)
		return
	}
	done("true", nil)
}

// fakeBridge reports no surface for the first loadAfter checks.
type fakeBridge struct {
	surface   webview.Surface
	loadAfter int
	checks    int
}

func (b *fakeBridge) Surface() webview.Surface {
	b.checks++
	if b.surface == nil || b.checks <= b.loadAfter {
		return nil
	}
	return b.surface
}

// fakeHost reports no bridge for the first availableAfter checks.
type fakeHost struct {
	bridge         webview.Bridge
	availableAfter int
	calls          int
}

func (h *fakeHost) Bridge() webview.Bridge {
	h.calls++
	if h.bridge == nil || h.calls <= h.availableAfter {
		return nil
	}
	return h.bridge
}

type observed struct {
	status string
	id     string
	detail string
}

type recordingObserver struct {
	mu     sync.Mutex
	events []observed
}

func (o *recordingObserver) add(status, id, detail string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, observed{status: status, id: id, detail: detail})
}

func (o *recordingObserver) MarkPending(_ context.Context, id, token string) {
	o.add(models.DeliveryPending, id, token)
}
func (o *recordingObserver) MarkDelivered(_ context.Context, id string) {
	o.add(models.DeliveryDelivered, id, "")
}
func (o *recordingObserver) MarkAbandoned(_ context.Context, id, detail string) {
	o.add(models.DeliveryAbandoned, id, detail)
}
func (o *recordingObserver) MarkFailed(_ context.Context, id, detail string) {
	o.add(models.DeliveryFailed, id, detail)
}

func (o *recordingObserver) statuses() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, 0, len(o.events))
	for _, e := range o.events {
		out = append(out, e.status)
	}
	return out
}

type agentFixture struct {
	agent    *TokenDeliveryAgent
	loop     *mainloop.Manual
	observer *recordingObserver
}

func newAgentFixture(host webview.Host) *agentFixture {
	loop := mainloop.NewManual()
	observer := &recordingObserver{}
	agent := NewTokenDeliveryAgent(host, loop, DefaultDeliveryPolicy(), "android", observer, metrics.New(), logger.Discard())
	return &agentFixture{agent: agent, loop: loop, observer: observer}
}

func readyHost() (*fakeHost, *fakeBridge, *fakeSurface) {
	surface := &fakeSurface{}
	bridge := &fakeBridge{surface: surface}
	return &fakeHost{bridge: bridge}, bridge, surface
}

func TestDeliversImmediatelyWhenReady(t *testing.T) {
	host, _, surface := readyHost()
	f := newAgentFixture(host)

	f.agent.OnTokenRefreshed("abc123")
	f.loop.RunPending()

	require.Len(t, surface.scripts, 1)
	assert.Contains(t, surface.scripts[0], `{"token":"abc123","platform":"android"}`)
	assert.Empty(t, f.agent.PendingToken())
	assert.Equal(t, PhaseIdle, f.agent.State().Phase)
	assert.Equal(t, []string{models.DeliveryPending, models.DeliveryDelivered}, f.observer.statuses())
	assert.Zero(t, f.loop.Pending())
}

func TestEmptyTokenIgnored(t *testing.T) {
	host, _, surface := readyHost()
	f := newAgentFixture(host)

	f.agent.OnTokenRefreshed("")
	f.loop.RunPending()

	assert.Empty(t, surface.scripts)
	assert.Empty(t, f.observer.statuses())
}

func TestMostRecentTokenWins(t *testing.T) {
	surface := &fakeSurface{}
	host := &fakeHost{}
	f := newAgentFixture(host)

	f.agent.OnTokenRefreshed("T1")
	f.agent.OnTokenRefreshed("T2")
	f.loop.RunPending()
	assert.Equal(t, "T2", f.agent.PendingToken())

	host.bridge = &fakeBridge{surface: surface}
	f.loop.Advance(500 * time.Millisecond)
	f.loop.Advance(time.Minute)

	require.Len(t, surface.scripts, 1)
	assert.Contains(t, surface.scripts[0], `"token":"T2"`)
	assert.NotContains(t, surface.scripts[0], "T1")
	assert.Empty(t, f.agent.PendingToken())
}

func TestAttemptDeliveryIdempotentWhenEmpty(t *testing.T) {
	host, bridge, surface := readyHost()
	f := newAgentFixture(host)

	f.agent.AttemptDelivery()
	f.agent.AttemptDelivery()
	f.loop.RunPending()

	assert.Empty(t, surface.scripts)
	assert.Zero(t, host.calls)
	assert.Zero(t, bridge.checks)
	assert.Zero(t, f.loop.Pending())
	assert.Equal(t, PhaseIdle, f.agent.State().Phase)
}

func TestBridgeUnavailableThenAvailable(t *testing.T) {
	for _, k := range []int{1, 5, 9, 25} {
		host, _, surface := readyHost()
		host.availableAfter = k
		f := newAgentFixture(host)

		f.agent.OnTokenRefreshed("abc123")
		f.loop.RunPending()
		for i := 0; i < k; i++ {
			require.Empty(t, surface.scripts, "k=%d: delivered too early", k)
			f.loop.Advance(500 * time.Millisecond)
		}

		assert.Len(t, surface.scripts, 1, "k=%d", k)
		assert.Empty(t, f.agent.PendingToken(), "k=%d", k)
		assert.Equal(t, k+1, host.calls, "k=%d", k)

		f.loop.Advance(time.Minute)
		assert.Len(t, surface.scripts, 1, "k=%d: no delivery after success", k)
	}
}

func TestSurfaceNeverLoadsAbandonsAfterTenChecks(t *testing.T) {
	bridge := &fakeBridge{}
	host := &fakeHost{bridge: bridge}
	f := newAgentFixture(host)

	f.agent.OnTokenRefreshed("abc123")
	f.loop.RunPending()
	for i := 0; i < 9; i++ {
		f.loop.Advance(time.Second)
	}

	assert.Equal(t, 10, bridge.checks)
	assert.Zero(t, f.loop.Pending(), "no retry after the bound")

	f.loop.Advance(time.Hour)
	assert.Equal(t, 10, bridge.checks)
	assert.Equal(t, "abc123", f.agent.PendingToken())

	state := f.agent.State()
	assert.Equal(t, PhaseAbandoned, state.Phase)
	assert.Equal(t, 10, state.ReadyChecks)
	assert.Contains(t, state.LastError, "10 checks")
	assert.Equal(t, []string{models.DeliveryPending, models.DeliveryAbandoned}, f.observer.statuses())

	// explicit attempts do not revive an abandoned cycle
	f.agent.AttemptDelivery()
	f.loop.RunPending()
	assert.Equal(t, 10, bridge.checks)
}

func TestSurfaceLoadsWithinBound(t *testing.T) {
	surface := &fakeSurface{}
	bridge := &fakeBridge{surface: surface, loadAfter: 3}
	f := newAgentFixture(&fakeHost{bridge: bridge})

	f.agent.OnTokenRefreshed("abc123")
	f.loop.RunPending()
	f.loop.Advance(3 * time.Second)

	assert.Len(t, surface.scripts, 1)
	assert.Equal(t, 4, bridge.checks)
	assert.Empty(t, f.agent.PendingToken())
}

func TestResumeRevivesAbandonedToken(t *testing.T) {
	surface := &fakeSurface{}
	bridge := &fakeBridge{}
	f := newAgentFixture(&fakeHost{bridge: bridge})

	f.agent.OnTokenRefreshed("abc123")
	f.loop.RunPending()
	f.loop.Advance(time.Minute)
	require.Equal(t, PhaseAbandoned, f.agent.State().Phase)

	bridge.surface = surface
	f.agent.Resume()
	f.loop.RunPending()

	require.Len(t, surface.scripts, 1)
	assert.Empty(t, f.agent.PendingToken())
	assert.Equal(t, []string{
		models.DeliveryPending, models.DeliveryAbandoned,
		models.DeliveryPending, models.DeliveryDelivered,
	}, f.observer.statuses())
}

func TestResumeWithoutPendingTokenIsNoop(t *testing.T) {
	host, _, surface := readyHost()
	f := newAgentFixture(host)

	f.agent.Resume()
	f.loop.RunPending()
	assert.Empty(t, surface.scripts)
	assert.Empty(t, f.observer.statuses())
}

func TestEvaluationErrorKeepsTokenWithoutRetry(t *testing.T) {
	host, _, surface := readyHost()
	surface.respond = func(_ string, done func(string, error)) {
		done("", errors.New("SyntaxError"))
	}
	f := newAgentFixture(host)

	f.agent.OnTokenRefreshed("abc123")
	f.loop.RunPending()
	f.loop.Advance(time.Minute)

	assert.Len(t, surface.scripts, 1)
	assert.Equal(t, "abc123", f.agent.PendingToken())
	assert.Equal(t, PhaseFailed, f.agent.State().Phase)
	assert.Equal(t, "SyntaxError", f.agent.State().LastError)
	assert.Equal(t, []string{models.DeliveryPending, models.DeliveryFailed}, f.observer.statuses())
}

func TestNullResultIsNotConfirmation(t *testing.T) {
	host, _, surface := readyHost()
	surface.respond = func(_ string, done func(string, error)) { done("null", nil) }
	f := newAgentFixture(host)

	f.agent.OnTokenRefreshed("abc123")
	f.loop.RunPending()

	assert.Equal(t, "abc123", f.agent.PendingToken())
	assert.Equal(t, PhaseFailed, f.agent.State().Phase)
}

func TestTokenArrivingDuringEvaluationWaitsForIt(t *testing.T) {
	var held []func(string, error)
	host, _, surface := readyHost()
	surface.respond = func(_ string, done func(string, error)) { held = append(held, done) }
	f := newAgentFixture(host)

	f.agent.OnTokenRefreshed("T1")
	f.loop.RunPending()
	require.Len(t, surface.scripts, 1)
	assert.Equal(t, PhaseEvaluating, f.agent.State().Phase)

	f.agent.OnTokenRefreshed("T2")
	f.loop.RunPending()
	assert.Len(t, surface.scripts, 1, "only one evaluation in flight")

	held[0]("true", nil)
	require.Len(t, surface.scripts, 2)
	assert.Contains(t, surface.scripts[1], `"token":"T2"`)
	assert.Equal(t, "T2", f.agent.PendingToken(), "T1 confirmation must not clear T2")

	held[1]("true", nil)
	assert.Empty(t, f.agent.PendingToken())
}

func TestSameTokenDuringEvaluationIsNotResent(t *testing.T) {
	var held []func(string, error)
	host, _, surface := readyHost()
	surface.respond = func(_ string, done func(string, error)) { held = append(held, done) }
	f := newAgentFixture(host)

	f.agent.OnTokenRefreshed("T1")
	f.loop.RunPending()
	f.agent.OnTokenRefreshed("T1")
	f.loop.RunPending()

	held[0]("true", nil)
	assert.Len(t, surface.scripts, 1)
	assert.Empty(t, f.agent.PendingToken())
}

func TestTokenReturningDuringEvaluationWins(t *testing.T) {
	var held []func(string, error)
	host, _, surface := readyHost()
	surface.respond = func(_ string, done func(string, error)) { held = append(held, done) }
	f := newAgentFixture(host)

	f.agent.OnTokenRefreshed("T1")
	f.loop.RunPending()
	f.agent.OnTokenRefreshed("T2")
	f.loop.RunPending()
	f.agent.OnTokenRefreshed("T1")
	f.loop.RunPending()

	assert.Equal(t, "T1", f.agent.PendingToken())
	assert.Equal(t, PhaseEvaluating, f.agent.State().Phase)

	held[0]("true", nil)
	f.loop.Advance(time.Minute)

	require.Len(t, surface.scripts, 1, "T2 must not be sent after T1 returned")
	assert.Contains(t, surface.scripts[0], `"token":"T1"`)
	assert.Empty(t, f.agent.PendingToken())
	assert.Equal(t, PhaseIdle, f.agent.State().Phase)
}

func TestSupersededRetryIsDropped(t *testing.T) {
	surface := &fakeSurface{}
	host := &fakeHost{}
	f := newAgentFixture(host)

	f.agent.OnTokenRefreshed("T1")
	f.loop.RunPending()
	f.loop.Advance(200 * time.Millisecond)

	host.bridge = &fakeBridge{surface: surface}
	f.agent.OnTokenRefreshed("T2")
	f.loop.RunPending()
	require.Len(t, surface.scripts, 1)

	callsAfterDelivery := host.calls
	f.loop.Advance(time.Minute)
	assert.Len(t, surface.scripts, 1)
	assert.Equal(t, callsAfterDelivery, host.calls, "the T1 retry must not run")
}

func TestStateReportsTokenPrefixOnly(t *testing.T) {
	f := newAgentFixture(&fakeHost{})
	f.agent.OnTokenRefreshed("0123456789abcdefghijKLMNOP")
	f.loop.RunPending()

	state := f.agent.State()
	assert.True(t, state.Pending)
	assert.Equal(t, "0123456789abcdefghij...", state.TokenPrefix)
	assert.Equal(t, PhaseWaiting, state.Phase)
	assert.Equal(t, 1, state.BridgeWaits)
	assert.NotEmpty(t, state.DeliveryID)
}
