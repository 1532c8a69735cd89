package gateway

import "github.com/theman001/KakaoWebTalk/internal/loco"

// EventType identifies the kind of browser-bound event.
type EventType string

const (
	EvtAuthRequired    EventType = "authRequired"
	EvtAuthSuccess     EventType = "authSuccess"
	EvtAuthFailed      EventType = "authFailed"
	EvtMessageReceived EventType = "messageReceived"
	EvtBackendEvent    EventType = "backendEvent"
	EvtChatError       EventType = "chatError"
)

// Event is the JSON structure sent to a browser over its channel.
type Event struct {
	Type      EventType     `json:"type"`
	SessionID string        `json:"sessionId,omitempty"`
	UserID    int64         `json:"userId,omitempty"`
	Reason    string        `json:"reason,omitempty"`
	ChatID    int64         `json:"chatId,omitempty"`
	Sender    string        `json:"sender,omitempty"`
	Text      string        `json:"text,omitempty"`
	Method    string        `json:"method,omitempty"`
	Body      loco.Document `json:"body,omitempty"`
}

// Emitter delivers events to one connected browser. Implementations must be
// safe for concurrent use: the relay emits from both command handlers and
// the per-connection dispatch goroutine.
type Emitter interface {
	Emit(ev Event)
}

func authRequired() Event {
	return Event{Type: EvtAuthRequired}
}

func authSuccess(sessionID string, userID int64) Event {
	return Event{Type: EvtAuthSuccess, SessionID: sessionID, UserID: userID}
}

func authFailed(reason string) Event {
	return Event{Type: EvtAuthFailed, Reason: reason}
}

func messageReceived(chatID int64, sender, text string) Event {
	return Event{Type: EvtMessageReceived, ChatID: chatID, Sender: sender, Text: text}
}

func backendEvent(method string, body loco.Document) Event {
	return Event{Type: EvtBackendEvent, Method: method, Body: body}
}

func chatError(reason string) Event {
	return Event{Type: EvtChatError, Reason: reason}
}
