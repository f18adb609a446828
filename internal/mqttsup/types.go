package mqttsup

import "time"

// ConnectionState is published on every observed connection transition,
// including failed connect attempts.
type ConnectionState struct {
	IsConnected   bool
	AttemptNumber int
	LastError     error
	UpdatedAtUTC  time.Time
}

// Message is one delivery on any topic this supervisor is subscribed to.
type Message struct {
	Topic   string
	Payload []byte
}
