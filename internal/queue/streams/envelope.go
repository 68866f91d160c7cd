package streams

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Envelope is the wrapper every message carries on a stream.
type Envelope struct {
	EventID        string          `json:"event_id"`
	EventType      string          `json:"event_type"`
	OccurredAt     time.Time       `json:"occurred_at"`
	TraceID        string          `json:"trace_id,omitempty"`
	Attempt        int             `json:"attempt"`
	PayloadVersion string          `json:"payload_version"`
	Data           json.RawMessage `json:"data"`
}

// ValidateBasic checks the fields every envelope needs before schema
// validation.
func (e *Envelope) ValidateBasic() error {
	switch {
	case e.EventID == "":
		return errors.New("event_id is required")
	case e.EventType == "":
		return errors.New("event_type is required")
	case e.PayloadVersion == "":
		return errors.New("payload_version is required")
	case e.Attempt < 0:
		return errors.New("attempt must be >= 0")
	case len(e.Data) == 0:
		return errors.New("data is required")
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	return nil
}

// Retry returns a copy scheduled as the next delivery attempt. The copy gets
// a fresh event id so it is not mistaken for the original.
func (e Envelope) Retry() Envelope {
	next := e
	next.EventID = ""
	next.OccurredAt = time.Time{}
	next.Attempt++
	return next
}

func (e *Envelope) Marshal() ([]byte, error) {
	if err := e.ValidateBasic(); err != nil {
		return nil, err
	}
	return json.Marshal(e)
}

// UnmarshalEnvelope decodes and validates an envelope.
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
