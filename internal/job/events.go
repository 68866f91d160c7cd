package job

import (
	"encoding/json"
	"time"

	"github.com/mohammad-safakhou/realism/internal/artifact"
)

// SpendEvent records one cost-bearing tool dispatch.
type SpendEvent struct {
	JobID       string    `json:"jobId"`
	Tool        string    `json:"tool"`
	Description string    `json:"description"`
	Cost        float64   `json:"cost"`
	Timestamp   time.Time `json:"timestamp"`
}

// EventType tags a progress event in a job's stream.
type EventType string

const (
	EventToolCall EventType = "tool_call"
	EventArtifact EventType = "artifact"
	EventComplete EventType = "complete"
	EventError    EventType = "error"
)

// Terminal reports whether a viewer should stop reading after this event.
func (t EventType) Terminal() bool {
	return t == EventComplete || t == EventError
}

// CompletePayload closes a successful run.
type CompletePayload struct {
	JobID string  `json:"jobId"`
	Total float64 `json:"total"`
}

// ErrorPayload closes a failed run.
type ErrorPayload struct {
	Message string `json:"message"`
}

// StreamEvent is one entry of a job's progress log. Payload holds a
// SpendEvent, artifact.Artifact, CompletePayload or ErrorPayload according to
// Type.
type StreamEvent struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func newEvent(t EventType, payload any) StreamEvent {
	raw, err := json.Marshal(payload)
	if err != nil {
		raw = []byte("null")
	}
	return StreamEvent{Type: t, Payload: raw}
}

func ToolCallEvent(ev SpendEvent) StreamEvent { return newEvent(EventToolCall, ev) }

func ArtifactEvent(a artifact.Artifact) StreamEvent { return newEvent(EventArtifact, a) }

func CompleteEvent(jobID string, total float64) StreamEvent {
	return newEvent(EventComplete, CompletePayload{JobID: jobID, Total: total})
}

func ErrorEvent(message string) StreamEvent {
	return newEvent(EventError, ErrorPayload{Message: message})
}
