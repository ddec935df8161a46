package chat

import (
	"fmt"
	"time"
)

// Role identifies who produced a turn.
type Role string

const (
	RoleUser   Role = "user"
	RoleRouter Role = "router"
	RoleExpert Role = "expert"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleRouter, RoleExpert:
		return true
	default:
		return false
	}
}

// Payload carries the structured part of a turn.
type Payload struct {
	Intent      string         `json:"intent,omitempty"`
	Confidence  float64        `json:"confidence,omitempty"`
	HandlerID   string         `json:"handlerId,omitempty"`
	HandlerName string         `json:"handlerName,omitempty"`
	RequestID   string         `json:"requestId,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Turn is one immutable entry of a session history. Seq is assigned by the
// store and orders turns within a session.
type Turn struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	Seq       int64     `json:"seq"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Payload   *Payload  `json:"payload,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Validate checks the fields a caller must supply before append.
func (t Turn) Validate() error {
	if !t.Role.Valid() {
		return fmt.Errorf("invalid turn role %q", t.Role)
	}
	return nil
}

// Clone deep-copies the payload so stored turns cannot be mutated through
// returned values.
func (t Turn) Clone() Turn {
	if t.Payload != nil {
		p := *t.Payload
		p.Metadata = CloneMemory(p.Metadata)
		t.Payload = &p
	}
	return t
}
