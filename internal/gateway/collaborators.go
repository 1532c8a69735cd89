package gateway

import "context"

// SessionRecord is the credential material persisted per browser session.
type SessionRecord struct {
	UserID    int64
	AuthToken string
	DeviceID  string
	Revision  int64
}

// Store is the narrow persistence interface the relay consumes. The store is
// responsible for its own consistency; the relay never holds a lock across a
// store call.
type Store interface {
	// SaveSession persists sessionID → record.
	SaveSession(sessionID string, rec SessionRecord) error

	// RestoreSession looks up a previously saved session.
	// Returns (nil, nil) when the session is unknown.
	RestoreSession(sessionID string) (*SessionRecord, error)

	// AppendMessage records an inbound chat message. Best-effort: failures
	// are logged by the caller and never block relay.
	AppendMessage(chatID int64, senderID, text string) error
}

// Credentials is the result of a successful credential exchange.
type Credentials struct {
	UserID    int64
	AuthToken string
	DeviceID  string
}

// Identity performs the external credential exchange. Its device-attestation
// internals are opaque to the relay; it either produces credentials or fails.
type Identity interface {
	Login(ctx context.Context, email, password string) (*Credentials, error)
}
