package models

// TokenPayload is the detail of the token event seen by the web content.
type TokenPayload struct {
	Token    string `json:"token"`
	Platform string `json:"platform"`
}

// MessagePayload is the detail of the message event seen by the web content.
type MessagePayload struct {
	Title string            `json:"title,omitempty"`
	Body  string            `json:"body,omitempty"`
	Data  map[string]string `json:"data"`
}
