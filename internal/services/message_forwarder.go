package services

import (
	"log/slog"

	"github.com/CyberwizD/Distributed-Notification-System/services/webshell_bridge/internal/mainloop"
	"github.com/CyberwizD/Distributed-Notification-System/services/webshell_bridge/internal/models"
	"github.com/CyberwizD/Distributed-Notification-System/services/webshell_bridge/internal/webview"
	"github.com/CyberwizD/Distributed-Notification-System/services/webshell_bridge/pkg/metrics"
)

// MessageForwarder dispatches inbound push messages to the web content.
// Forwarding is best effort: a message that cannot be delivered right now
// is dropped, never queued.
type MessageForwarder struct {
	host            webview.Host
	loop            mainloop.Scheduler
	forwardDataOnly bool
	metrics         *metrics.Metrics
	logger          *slog.Logger
}

func NewMessageForwarder(host webview.Host, loop mainloop.Scheduler, forwardDataOnly bool, metrics *metrics.Metrics, logger *slog.Logger) *MessageForwarder {
	return &MessageForwarder{
		host:            host,
		loop:            loop,
		forwardDataOnly: forwardDataOnly,
		metrics:         metrics,
		logger:          logger,
	}
}

// Forward schedules msg for dispatch on the main loop and returns at once.
func (f *MessageForwarder) Forward(msg models.InboundMessage) {
	f.loop.Post(func() { f.forward(msg) })
}

func (f *MessageForwarder) forward(msg models.InboundMessage) {
	log := f.logger.With(slog.String("message_id", msg.MessageID))

	if msg.Notification == nil && !f.forwardDataOnly {
		log.Info("data-only message not forwarded", slog.Int("data_keys", len(msg.Data)))
		f.metrics.IncMessage(metrics.MessageDroppedDataOnly)
		return
	}

	surface := f.surface()
	if surface == nil {
		log.Debug("no content surface, message dropped")
		f.metrics.IncMessage(metrics.MessageDroppedNoSurface)
		return
	}

	payload := models.MessagePayload{Data: msg.Data}
	if msg.Notification != nil {
		payload.Title = msg.Notification.Title
		payload.Body = msg.Notification.Body
	}
	script, err := MessageScript(payload)
	if err != nil {
		log.Error("failed to build message script", slog.Any("error", err))
		f.metrics.IncMessage(metrics.MessageFailed)
		return
	}

	surface.Evaluate(script, func(_ string, err error) {
		if err != nil {
			log.Error("failed to dispatch message to web content", slog.Any("error", err))
			f.metrics.IncMessage(metrics.MessageFailed)
			return
		}
		log.Debug("message forwarded to web content")
		f.metrics.IncMessage(metrics.MessageForwarded)
	})
}

func (f *MessageForwarder) surface() webview.Surface {
	bridge := f.host.Bridge()
	if bridge == nil {
		return nil
	}
	return bridge.Surface()
}
