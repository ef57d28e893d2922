package services

import (
	"encoding/json"
	"fmt"

	"github.com/CyberwizD/Distributed-Notification-System/services/webshell_bridge/internal/models"
)

// DOM contract shared with the web content.
const (
	TokenEventName   = "fcm-token-received"
	MessageEventName = "fcm-message-received"
	PendingTokenSlot = "__pendingFCMToken"
)

// TokenScript builds the script that hands a token to the web content. The
// payload is mirrored on window so a listener registered later can pick it
// up, and the script completes with true so the caller can confirm it ran.
func TokenScript(payload models.TokenPayload) (string, error) {
	literal, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("serialize token payload: %w", err)
	}
	return fmt.Sprintf(`(function () {
  var tokenData = %s;
  window.%s = tokenData;
  if (window.dispatchEvent) {
    window.dispatchEvent(new CustomEvent(%q, { detail: tokenData }));
  } else {
    console.warn('window.dispatchEvent is missing, token kept in window.%s');
  }
  return true;
})();`, literal, PendingTokenSlot, TokenEventName, PendingTokenSlot), nil
}

// MessageScript builds the script that dispatches one push message.
func MessageScript(payload models.MessagePayload) (string, error) {
	if payload.Data == nil {
		payload.Data = map[string]string{}
	}
	literal, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("serialize message payload: %w", err)
	}
	return fmt.Sprintf(`window.dispatchEvent(new CustomEvent(%q, { detail: %s }));`, MessageEventName, literal), nil
}
