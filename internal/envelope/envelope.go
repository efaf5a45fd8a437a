// Package envelope implements the message bus's canonical wire format:
// wrapping, unwrapping, validation, and idempotency key derivation.
package envelope

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jrepp/prism-msgbus/internal/canonical"
)

// SchemaVersion is the current envelope schema version.
const SchemaVersion = "1.0"

// Envelope is the structured record carried on every queue message.
type Envelope struct {
	EventType      string         `json:"event_type"`
	Service        string         `json:"service"`
	Payload        map[string]any `json:"payload"`
	IdempotencyKey string         `json:"idempotency_key"`
	TraceID        string         `json:"trace_id"`
	Timestamp      time.Time      `json:"timestamp"`
	Version        string         `json:"version"`
}

// requiredFields names every field that must be present on receive.
// Used by Validate to report which one is missing.
var requiredFields = []string{
	"event_type", "service", "payload", "idempotency_key", "trace_id", "timestamp", "version",
}

// Wrap builds a new envelope for eventType/payload/service, deriving the
// idempotency key per the canonical payload algorithm.
func Wrap(eventType string, payload map[string]any, service string) (*Envelope, error) {
	if eventType == "" {
		return nil, fmt.Errorf("envelope: event_type must not be empty")
	}
	if service == "" {
		return nil, fmt.Errorf("envelope: service must not be empty")
	}

	key, err := IdempotencyKey(eventType, payload)
	if err != nil {
		return nil, fmt.Errorf("envelope: derive idempotency key: %w", err)
	}

	return &Envelope{
		EventType:      eventType,
		Service:        service,
		Payload:        payload,
		IdempotencyKey: key,
		TraceID:        uuid.New().String(),
		Timestamp:      time.Now().UTC(),
		Version:        SchemaVersion,
	}, nil
}

// IdempotencyKey computes the 64-hex-char SHA-256 digest over
// event_type + "|" + canonical(payload).
func IdempotencyKey(eventType string, payload map[string]any) (string, error) {
	canonicalPayload, err := canonical.Bytes(payload)
	if err != nil {
		return "", err
	}

	h := sha256.New()
	h.Write([]byte(eventType))
	h.Write([]byte("|"))
	h.Write(canonicalPayload)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Unwrap returns the envelope's payload.
func Unwrap(e *Envelope) map[string]any {
	return e.Payload
}

// Validate reports whether every required field is present, and if not,
// which fields are missing.
func (e *Envelope) Validate() (bool, []string) {
	var missing []string

	if e.EventType == "" {
		missing = append(missing, "event_type")
	}
	if e.Service == "" {
		missing = append(missing, "service")
	}
	if e.Payload == nil {
		missing = append(missing, "payload")
	}
	if e.IdempotencyKey == "" {
		missing = append(missing, "idempotency_key")
	}
	if e.TraceID == "" {
		missing = append(missing, "trace_id")
	}
	if e.Timestamp.IsZero() {
		missing = append(missing, "timestamp")
	}
	if e.Version == "" {
		missing = append(missing, "version")
	}

	return len(missing) == 0, missing
}

// GetEventType returns the envelope's event type.
func (e *Envelope) GetEventType() string {
	return e.EventType
}

// GetTraceID returns the envelope's trace ID.
func (e *Envelope) GetTraceID() string {
	return e.TraceID
}

// ToJSON is the wire encoding used by the publisher.
func (e *Envelope) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// FromJSON decodes a message body into an Envelope. A decode failure
// is the DECODE-state validation_error in the consumer loop.
func FromJSON(body []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(body, &e); err != nil {
		return nil, fmt.Errorf("envelope: decode: %w", err)
	}
	return &e, nil
}
