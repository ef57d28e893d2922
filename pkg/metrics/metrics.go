package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels for token deliveries.
const (
	OutcomeDelivered = "delivered"
	OutcomeAbandoned = "abandoned"
	OutcomeFailed    = "failed"
)

// Outcome labels for forwarded messages.
const (
	MessageForwarded        = "forwarded"
	MessageDroppedDataOnly  = "dropped_data_only"
	MessageDroppedNoSurface = "dropped_no_surface"
	MessageFailed           = "failed"
)

// Retry reasons.
const (
	ReasonBridge  = "bridge_unavailable"
	ReasonSurface = "surface_not_loaded"
)

// Metrics holds the bridge counters on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	eventsConsumed   *prometheus.CounterVec
	tokensReceived   prometheus.Counter
	tokenOutcomes    *prometheus.CounterVec
	deliveryRetries  *prometheus.CounterVec
	messagesOutcomes *prometheus.CounterVec
	bridgeAttached   prometheus.Gauge
}

// New returns a Metrics collector with every series registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		eventsConsumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "webshell_bridge_events_consumed_total",
			Help: "Upstream push events consumed from the queue.",
		}, []string{"type"}),
		tokensReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "webshell_bridge_tokens_received_total",
			Help: "Registration tokens handed to the delivery agent.",
		}),
		tokenOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "webshell_bridge_token_deliveries_total",
			Help: "Token delivery cycles by outcome.",
		}, []string{"outcome"}),
		deliveryRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "webshell_bridge_token_retries_total",
			Help: "Scheduled token delivery retries by reason.",
		}, []string{"reason"}),
		messagesOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "webshell_bridge_messages_total",
			Help: "Inbound push messages by forwarding outcome.",
		}, []string{"outcome"}),
		bridgeAttached: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "webshell_bridge_attached",
			Help: "1 while a bridge is attached to the shell.",
		}),
	}
	reg.MustRegister(
		m.eventsConsumed,
		m.tokensReceived,
		m.tokenOutcomes,
		m.deliveryRetries,
		m.messagesOutcomes,
		m.bridgeAttached,
		collectors.NewGoCollector(),
	)
	return m
}

func (m *Metrics) IncConsumed(eventType string) { m.eventsConsumed.WithLabelValues(eventType).Inc() }
func (m *Metrics) IncTokenReceived()            { m.tokensReceived.Inc() }
func (m *Metrics) IncTokenOutcome(outcome string) {
	m.tokenOutcomes.WithLabelValues(outcome).Inc()
}
func (m *Metrics) IncRetry(reason string)          { m.deliveryRetries.WithLabelValues(reason).Inc() }
func (m *Metrics) IncMessage(outcome string)       { m.messagesOutcomes.WithLabelValues(outcome).Inc() }
func (m *Metrics) SetBridgeAttached(attached bool) { m.bridgeAttached.Set(boolToFloat(attached)) }

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
