package orchestrator

import (
	"errors"
	"fmt"

	"github.com/mohammad-safakhou/realism/internal/artifact"
	"github.com/sashabaranov/go-openai"
)

// RunState is the lifecycle of one job run as seen by the engine.
type RunState string

const (
	StateNew       RunState = "new"
	StateRunning   RunState = "running"
	StateCompleted RunState = "completed"
	StateFailed    RunState = "failed"
)

// ErrIllegalTransition is returned when a checkpoint is moved along an edge
// missing from the transition table.
var ErrIllegalTransition = errors.New("illegal run state transition")

var transitions = map[RunState][]RunState{
	StateNew:     {StateRunning},
	StateRunning: {StateRunning, StateCompleted, StateFailed},
}

// CanTransition reports whether from -> to is an edge of the run state table.
func CanTransition(from, to RunState) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further steps are accepted in s.
func (s RunState) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// ToolCall is a persisted tool-call request from the model.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Message is one entry of the persisted conversation.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
}

// Checkpoint is the resumable context of one job run.
type Checkpoint struct {
	Messages         []Message       `json:"messages"`
	Iteration        int             `json:"iteration"`
	SpendAccumulator float64         `json:"spendAccumulator"`
	GeneratedAssets  artifact.Assets `json:"generatedAssets"`
	State            RunState        `json:"state"`
	Batch            *Batch          `json:"batch,omitempty"`
}

// Batch is the tool-call batch of the current iteration. Calls before Next
// have had all of their effects recorded.
type Batch struct {
	Calls []ToolCall `json:"calls"`
	Next  int        `json:"next"`
}

func (b *Batch) pending() bool { return b != nil && b.Next < len(b.Calls) }

// newCheckpoint seeds a run with the system prompt and the goal, already
// moved to running at iteration zero.
func newCheckpoint(systemPrompt, goal string) (*Checkpoint, error) {
	cp := &Checkpoint{
		Messages: []Message{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: goal},
		},
		State: StateNew,
	}
	if err := cp.advance(StateRunning); err != nil {
		return nil, err
	}
	return cp, nil
}

func (c *Checkpoint) advance(to RunState) error {
	from := c.State
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	c.State = to
	return nil
}

func (c *Checkpoint) append(m Message) {
	c.Messages = append(c.Messages, m)
}

// chatMessages converts the persisted history into request messages.
func (c *Checkpoint) chatMessages() []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(c.Messages))
	for _, m := range c.Messages {
		msg := openai.ChatCompletionMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
			Name:       m.Name,
		}
		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolType(tc.Type),
				Function: openai.FunctionCall{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			})
		}
		out = append(out, msg)
	}
	return out
}

func fromChatToolCalls(calls []openai.ToolCall) []ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]ToolCall, 0, len(calls))
	for _, tc := range calls {
		typ := string(tc.Type)
		if typ == "" {
			typ = string(openai.ToolTypeFunction)
		}
		out = append(out, ToolCall{
			ID:       tc.ID,
			Type:     typ,
			Function: FunctionCall{Name: tc.Function.Name, Arguments: tc.Function.Arguments},
		})
	}
	return out
}
