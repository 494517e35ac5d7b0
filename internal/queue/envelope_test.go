package queue

import (
	"encoding/json"
	"testing"
	"time"
)

func TestJobKey(t *testing.T) {
	if got := JobKey(42); got != "quaero:job:doc:42" {
		t.Fatalf("unexpected job key %q", got)
	}
	if JobKey(1) == JobKey(2) {
		t.Fatalf("job keys must be distinct per document")
	}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	payload, err := json.Marshal(ProcessPayload{DocumentID: 7})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	env := Envelope{
		EventID:    "evt-1",
		EventType:  EventDocumentProcess,
		OccurredAt: time.Now().UTC(),
		Data:       payload,
	}
	raw, err := env.Marshal()
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	decoded, err := UnmarshalEnvelope(raw)
	if err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if decoded.EventType != EventDocumentProcess {
		t.Fatalf("unexpected event type %q", decoded.EventType)
	}
	var p ProcessPayload
	if err := json.Unmarshal(decoded.Data, &p); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if p.DocumentID != 7 {
		t.Fatalf("expected document id 7, got %d", p.DocumentID)
	}
}

func TestEnvelopeValidateBasic(t *testing.T) {
	cases := []struct {
		name string
		env  Envelope
	}{
		{"missing event id", Envelope{EventType: EventDocumentProcess, Data: []byte(`{}`)}},
		{"missing event type", Envelope{EventID: "evt", Data: []byte(`{}`)}},
		{"missing data", Envelope{EventID: "evt", EventType: EventDocumentProcess}},
	}
	for _, tc := range cases {
		if err := tc.env.ValidateBasic(); err == nil {
			t.Fatalf("%s: expected validation error", tc.name)
		}
	}
}

func TestUnmarshalEnvelopeRejectsGarbage(t *testing.T) {
	if _, err := UnmarshalEnvelope([]byte("not json")); err == nil {
		t.Fatalf("expected error for malformed envelope")
	}
}
