// Package eventbus is the durable domain-event fan-out described by
// spec.md 4.6. Envelopes are reverse-DNS typed, carry a schema-less
// payload, and flow through a Postgres-backed queue with pg_notify
// wake-up, grounded on the teacher's persistAndNotify pattern
// (pkg/events/publisher.go).
package eventbus

import "time"

// Metadata carries the envelope's provenance (spec.md 3, 6).
type Metadata struct {
	UserID *string `json:"userId,omitempty"`
	Source string  `json:"source,omitempty"`
}

// Envelope is the domain-event wrapper. Type is intentionally a bare
// string, never a closed enum — the achievement engine and every other
// handler must accept new types introduced without a code change
// (spec.md 9).
type Envelope struct {
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload"`
	Metadata  Metadata       `json:"metadata"`
	Timestamp time.Time      `json:"timestamp"`
}

// New builds an Envelope stamped with the current time. Callers that
// need exact reproducibility (tests, replays) may overwrite Timestamp
// afterwards; Bus.Emit keeps any non-zero Timestamp as it is (spec.md
// 4.6).
func New(eventType string, payload map[string]any, meta Metadata) Envelope {
	return Envelope{Type: eventType, Payload: payload, Metadata: meta, Timestamp: time.Now()}
}

// UserID extracts the metadata userId, falling back to a "userId" key
// inside the payload — several achievement/notification triggers carry
// the affected user only in the payload (e.g. event.rsvp).
func (e Envelope) UserID() (string, bool) {
	if e.Metadata.UserID != nil && *e.Metadata.UserID != "" {
		return *e.Metadata.UserID, true
	}
	if v, ok := e.Payload["userId"]; ok {
		if s, ok := v.(string); ok && s != "" {
			return s, true
		}
	}
	return "", false
}
