package queue

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventDocumentProcess is the event type carried by pipeline jobs.
const EventDocumentProcess = "document.process"

// JobKey derives the deterministic dedup key for a document's pipeline job.
// At most one queued-or-running job may hold this key at any time.
func JobKey(documentID int64) string {
	return fmt.Sprintf("quaero:job:doc:%d", documentID)
}

// Envelope is the canonical message wrapper persisted to the Redis stream.
type Envelope struct {
	EventID    string          `json:"event_id"`
	EventType  string          `json:"event_type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Data       json.RawMessage `json:"data"`
}

// ProcessPayload is the data carried by a document.process envelope.
type ProcessPayload struct {
	DocumentID int64 `json:"document_id"`
}

// ValidateBasic ensures mandatory envelope fields are present.
func (e *Envelope) ValidateBasic() error {
	if e.EventID == "" {
		return fmt.Errorf("event_id is required")
	}
	if e.EventType == "" {
		return fmt.Errorf("event_type is required")
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	if len(e.Data) == 0 {
		return fmt.Errorf("data payload is required")
	}
	return nil
}

// Marshal returns the JSON encoding of the envelope.
func (e *Envelope) Marshal() ([]byte, error) {
	if err := e.ValidateBasic(); err != nil {
		return nil, err
	}
	return json.Marshal(e)
}

// UnmarshalEnvelope parses JSON bytes into an Envelope and validates
// required fields.
func UnmarshalEnvelope(b []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return env, fmt.Errorf("unmarshal envelope: %w", err)
	}
	if err := env.ValidateBasic(); err != nil {
		return env, err
	}
	return env, nil
}
