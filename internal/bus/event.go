package bus

import "time"

// Event kinds published by flashd components.
const (
	KindRequestDone    = "dispatch.request"
	KindSessionCreated = "session.created"
	KindSessionReset   = "session.reset"
	KindSessionExpired = "session.expired"
	KindFlashSwept     = "flash.swept"
	KindDaemonStatus   = "daemon.status"
)

// Event is a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// RequestDone is the payload of KindRequestDone.
type RequestDone struct {
	Method   string
	Path     string
	Status   int
	Duration time.Duration
}

// SessionChange is the payload of the session.* kinds.
type SessionChange struct {
	SessionID string
	// Count is the number of sessions affected, used by KindSessionExpired.
	Count int
}

// FlashSwept is the payload of KindFlashSwept.
type FlashSwept struct {
	SessionID string
	Kept      int
	Dropped   int
}
