// Package web hosts the browser-facing side of the gateway: the WebSocket
// command/event channel, page routing, static assets, and the health and
// metrics endpoints.
package web

// CommandType identifies the kind of browser command.
type CommandType string

const (
	CmdRestore CommandType = "restore"
	CmdLogin   CommandType = "login"
	CmdSend    CommandType = "send"
)

// Command is the JSON structure a browser sends over the WebSocket.
type Command struct {
	Type      CommandType `json:"type"`
	SessionID string      `json:"sessionId,omitempty"`
	Email     string      `json:"email,omitempty"`
	Password  string      `json:"password,omitempty"`
	ChatID    int64       `json:"chatId,omitempty"`
	Text      string      `json:"text,omitempty"`
}
