package routes

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/CyberwizD/Distributed-Notification-System/services/webshell_bridge/internal/services"
	"github.com/CyberwizD/Distributed-Notification-System/services/webshell_bridge/pkg/metrics"
)

// DeliveryReporter reports the token delivery agent's state.
type DeliveryReporter interface {
	State() services.DeliveryState
}

// AttachReporter reports whether a bridge is attached to the shell.
type AttachReporter interface {
	Attached() bool
}

// NewRouter wires health and metrics endpoints, plus the remote surface
// endpoint when bridge is not nil.
func NewRouter(metrics *metrics.Metrics, started time.Time, delivery DeliveryReporter, shell AttachReporter, bridge http.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"success": true,
			"message": "webshell bridge healthy",
			"meta": map[string]interface{}{
				"uptime_seconds":  int(time.Since(started).Seconds()),
				"timestamp":       time.Now().UTC(),
				"bridge_attached": shell.Attached(),
				"token_delivery":  delivery.State(),
			},
		})
	})
	mux.Handle("/metrics", metrics.Handler())
	if bridge != nil {
		mux.Handle("/bridge", bridge)
	}
	return mux
}
