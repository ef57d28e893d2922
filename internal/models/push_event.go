package models

import "time"

// Push event types published by the upstream push receiver.
const (
	EventTokenRefreshed  = "token_refreshed"
	EventMessageReceived = "message_received"
)

// PushEvent is the queue envelope carrying one vendor callback.
type PushEvent struct {
	Type         string            `json:"type" validate:"required,oneof=token_refreshed message_received"`
	Token        string            `json:"token,omitempty" validate:"required_if=Type token_refreshed"`
	MessageID    string            `json:"message_id,omitempty"`
	From         string            `json:"from,omitempty"`
	Notification *Notification     `json:"notification,omitempty"`
	Data         map[string]string `json:"data,omitempty"`
	// SentAt is when the push receiver got the callback. It orders token
	// refreshes handled by concurrent workers.
	SentAt time.Time `json:"sent_at,omitempty"`
}

// Notification is the user-visible part of a push message.
type Notification struct {
	Title string `json:"title,omitempty"`
	Body  string `json:"body,omitempty"`
}

// InboundMessage is one received push message. It is forwarded once and
// never stored.
type InboundMessage struct {
	MessageID    string
	From         string
	Notification *Notification
	Data         map[string]string
}

// Message converts a message_received event.
func (e *PushEvent) Message() InboundMessage {
	data := make(map[string]string, len(e.Data))
	for k, v := range e.Data {
		data[k] = v
	}
	var n *Notification
	if e.Notification != nil {
		copied := *e.Notification
		n = &copied
	}
	return InboundMessage{
		MessageID:    e.MessageID,
		From:         e.From,
		Notification: n,
		Data:         data,
	}
}
