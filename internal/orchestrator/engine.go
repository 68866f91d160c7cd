package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mohammad-safakhou/realism/internal/artifact"
	"github.com/mohammad-safakhou/realism/internal/budget"
	"github.com/mohammad-safakhou/realism/internal/job"
	"github.com/mohammad-safakhou/realism/internal/tools"
	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

const (
	maxIterationsMessage = "Job took too many steps. Partial results may be available."
	maxIterationsReason  = "Max iterations reached"
	callingTools         = "Calling tools."
	abortMessage         = "Job stopped after an internal error. Partial results may be available."
)

// CheckpointStore persists serialized checkpoints.
type CheckpointStore interface {
	SaveState(ctx context.Context, jobID string, raw []byte, ttl time.Duration) error
	LoadState(ctx context.Context, jobID string) ([]byte, bool, error)
	DeleteState(ctx context.Context, jobID string) error
}

// EventLog is the append-only progress record of a job.
type EventLog interface {
	AppendSpendEvent(ctx context.Context, ev job.SpendEvent) error
	AppendStreamEvent(ctx context.Context, jobID string, ev job.StreamEvent) error
}

type ArtifactStore interface {
	SetArtifact(ctx context.Context, jobID string, a artifact.Artifact) error
}

// SpendRecorder reports charges to the job lifecycle owner.
type SpendRecorder interface {
	AddSpend(ctx context.Context, id string, amount float64) (job.Job, error)
}

// ToolRunner prices and executes tool calls.
type ToolRunner interface {
	Prepare(call tools.Call) tools.Prepared
	Execute(ctx context.Context, p tools.Prepared) tools.Result
}

// Config tunes the engine.
type Config struct {
	Model         string
	MaxTokens     int
	MaxIterations int
	MaxAttempts   int
	Backoff       time.Duration
	CheckpointTTL time.Duration
	WrapUpRatio   float64
}

// DefaultConfig returns production settings.
func DefaultConfig() Config {
	return Config{
		Model:         "openai/gpt-4o",
		MaxTokens:     4096,
		MaxIterations: 15,
		MaxAttempts:   3,
		Backoff:       2 * time.Second,
		CheckpointTTL: 24 * time.Hour,
		WrapUpRatio:   budget.DefaultWrapUpRatio,
	}
}

func (c Config) normalize() Config {
	def := DefaultConfig()
	if c.Model == "" {
		c.Model = def.Model
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = def.MaxTokens
	}
	if c.MaxIterations <= 0 {
		c.MaxIterations = def.MaxIterations
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.Backoff < 0 {
		c.Backoff = def.Backoff
	}
	if c.CheckpointTTL <= 0 {
		c.CheckpointTTL = def.CheckpointTTL
	}
	if c.WrapUpRatio <= 0 || c.WrapUpRatio > 1 {
		c.WrapUpRatio = def.WrapUpRatio
	}
	return c
}

// Outcome classifies a finished step.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	OutcomeSkipped   Outcome = "skipped"
)

// StepResult is what one invocation reports to its caller. Done=false asks
// for another step at Iteration unless Fenced is set.
type StepResult struct {
	Done       bool               `json:"done"`
	Iteration  int                `json:"iteration"`
	Outcome    Outcome            `json:"outcome,omitempty"`
	Artifact   *artifact.Artifact `json:"artifact,omitempty"`
	SpendTotal float64            `json:"spendTotal,omitempty"`
	Reason     string             `json:"reason,omitempty"`
	Fenced     bool               `json:"fenced,omitempty"`
}

// Engine advances job runs one model round at a time.
type Engine struct {
	checkpoints CheckpointStore
	events      EventLog
	artifacts   ArtifactStore
	spend       SpendRecorder
	model       Completer
	tools       ToolRunner
	cfg         Config
	logger      *zap.Logger
	tracer      trace.Tracer
	steps       otelmetric.Int64Counter
	now         func() time.Time
	sleepFn     func(ctx context.Context, d time.Duration) error
}

// Deps groups the engine's collaborators.
type Deps struct {
	Checkpoints CheckpointStore
	Events      EventLog
	Artifacts   ArtifactStore
	Spend       SpendRecorder
	Model       Completer
	Tools       ToolRunner
}

type Option func(*Engine)

func WithConfig(cfg Config) Option { return func(e *Engine) { e.cfg = cfg } }

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) {
		if t != nil {
			e.tracer = t
		}
	}
}

// WithMeter registers the engine's step counter.
func WithMeter(m otelmetric.Meter) Option {
	return func(e *Engine) {
		if m == nil {
			return
		}
		c, err := m.Int64Counter("orchestrator_steps_total")
		if err == nil {
			e.steps = c
		}
	}
}

// WithClock overrides the time source for spend event timestamps.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// WithSleep overrides how retry backoff waits.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Engine) { e.sleepFn = fn }
}

func NewEngine(d Deps, opts ...Option) *Engine {
	e := &Engine{
		checkpoints: d.Checkpoints,
		events:      d.Events,
		artifacts:   d.Artifacts,
		spend:       d.Spend,
		model:       d.Model,
		tools:       d.Tools,
		cfg:         DefaultConfig(),
		logger:      zap.NewNop(),
		tracer:      noop.NewTracerProvider().Tracer("orchestrator"),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.cfg = e.cfg.normalize()
	return e
}

func (e *Engine) loadCheckpoint(ctx context.Context, j job.Job) (*Checkpoint, error) {
	raw, ok, err := e.checkpoints.LoadState(ctx, j.ID)
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	if !ok {
		return newCheckpoint(SystemPrompt(j, e.cfg.WrapUpRatio), j.Goal)
	}
	var cp Checkpoint
	if err := json.Unmarshal(raw, &cp); err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	if cp.State == "" {
		cp.State = StateRunning
	}
	return &cp, nil
}

func (e *Engine) saveCheckpoint(ctx context.Context, jobID string, cp *Checkpoint) error {
	raw, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	if err := e.checkpoints.SaveState(ctx, jobID, raw, e.cfg.CheckpointTTL); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// Step runs at most one model round for j. expectedIteration, when set, must
// equal the checkpoint's iteration or the call is a no-op. A returned error
// means infrastructure failed and the step may be retried.
func (e *Engine) Step(ctx context.Context, j job.Job, expectedIteration *int) (StepResult, error) {
	ctx, span := e.tracer.Start(ctx, "orchestrator.step", trace.WithAttributes(attribute.String("job.id", j.ID)))
	defer span.End()

	if !j.Status.Runnable() {
		return StepResult{Done: true, Outcome: OutcomeSkipped}, nil
	}

	cp, err := e.loadCheckpoint(ctx, j)
	if err != nil {
		return StepResult{}, err
	}
	if expectedIteration != nil && *expectedIteration != cp.Iteration {
		return StepResult{Done: false, Iteration: cp.Iteration, Fenced: true}, nil
	}
	if cp.State.Terminal() {
		return StepResult{Done: true, Outcome: OutcomeSkipped, Iteration: cp.Iteration}, nil
	}
	if e.steps != nil {
		e.steps.Add(ctx, 1)
	}
	log := e.logger.With(zap.String("job_id", j.ID), zap.Int("iteration", cp.Iteration))

	if cp.Iteration >= e.cfg.MaxIterations {
		return e.fail(ctx, j.ID, cp, maxIterationsReason, maxIterationsMessage)
	}

	if cp.Batch == nil {
		resp, failure := e.complete(ctx, openai.ChatCompletionRequest{
			Model:      e.cfg.Model,
			Messages:   cp.chatMessages(),
			Tools:      tools.OpenAITools(),
			ToolChoice: "auto",
			MaxTokens:  e.cfg.MaxTokens,
		})
		if failure != nil {
			log.Warn("model call failed", zap.String("reason", failure.Reason))
			return e.fail(ctx, j.ID, cp, failure.Reason, failure.Message)
		}
		if len(resp.Choices) == 0 {
			return e.fail(ctx, j.ID, cp, "No message in LLM response", "Unexpected response from AI model.")
		}
		msg := resp.Choices[0].Message

		content := msg.Content
		if content == "" && len(msg.ToolCalls) > 0 {
			content = callingTools
		}
		calls := fromChatToolCalls(msg.ToolCalls)
		cp.append(Message{Role: openai.ChatMessageRoleAssistant, Content: content, ToolCalls: calls})

		if len(calls) == 0 {
			return e.finish(ctx, j, cp, msg.Content)
		}
		cp.Batch = &Batch{Calls: calls}
		if err := e.saveCheckpoint(ctx, j.ID, cp); err != nil {
			return StepResult{}, err
		}
	} else if cp.Batch.pending() {
		log.Info("resuming tool batch", zap.Int("next", cp.Batch.Next), zap.Int("calls", len(cp.Batch.Calls)))
	}

	ledger := budget.NewLedger(j.Budget, cp.SpendAccumulator).WithRatio(e.cfg.WrapUpRatio)
	for cp.Batch.pending() {
		tc := cp.Batch.Calls[cp.Batch.Next]
		p := e.tools.Prepare(tools.Call{ID: tc.ID, Name: tc.Function.Name, Arguments: tc.Function.Arguments})
		wrapUp := ledger.Charge(p.Cost)

		ev := job.SpendEvent{
			JobID:       j.ID,
			Tool:        tc.Function.Name,
			Description: p.Description,
			Cost:        p.Cost,
			Timestamp:   e.now().UTC(),
		}
		// Nothing of this call is recorded yet, so a retry resumes here.
		if err := e.events.AppendSpendEvent(ctx, ev); err != nil {
			return StepResult{}, fmt.Errorf("append spend event: %w", err)
		}
		if _, err := e.spend.AddSpend(ctx, j.ID, p.Cost); err != nil {
			return e.abort(ctx, j.ID, cp, fmt.Errorf("add spend: %w", err))
		}
		if err := e.events.AppendStreamEvent(ctx, j.ID, job.ToolCallEvent(ev)); err != nil {
			return e.abort(ctx, j.ID, cp, fmt.Errorf("append tool_call event: %w", err))
		}

		res := e.tools.Execute(ctx, p)
		if res.AudioURL != "" {
			cp.GeneratedAssets.AudioURL = res.AudioURL
		}
		if res.ImageURL != "" {
			cp.GeneratedAssets.ImageURL = res.ImageURL
		}
		cp.append(Message{
			Role:       openai.ChatMessageRoleTool,
			Content:    res.ModelVisible,
			ToolCallID: tc.ID,
			Name:       tc.Function.Name,
		})
		cp.SpendAccumulator = ledger.Total()
		cp.Batch.Next++

		if wrapUp != nil {
			log.Info("budget wrap-up threshold reached", zap.Float64("spent", ledger.Total()), zap.Float64("budget", j.Budget))
			cp.append(Message{Role: openai.ChatMessageRoleUser, Content: ledger.WrapUpMessage()})
			cp.Batch.Next = len(cp.Batch.Calls)
		}
		if err := e.saveCheckpoint(ctx, j.ID, cp); err != nil {
			return e.abort(ctx, j.ID, cp, err)
		}
	}

	if err := cp.advance(StateRunning); err != nil {
		return StepResult{}, err
	}
	cp.Batch = nil
	cp.Iteration++
	if err := e.saveCheckpoint(ctx, j.ID, cp); err != nil {
		return StepResult{}, err
	}
	return StepResult{Done: false, Iteration: cp.Iteration}, nil
}

func (e *Engine) finish(ctx context.Context, j job.Job, cp *Checkpoint, text string) (StepResult, error) {
	parsed, _ := artifact.Parse(text)
	a := artifact.Finalize(parsed, text, j.Goal, cp.GeneratedAssets)

	if err := e.artifacts.SetArtifact(ctx, j.ID, a); err != nil {
		return StepResult{}, fmt.Errorf("store artifact: %w", err)
	}
	if err := e.events.AppendStreamEvent(ctx, j.ID, job.ArtifactEvent(a)); err != nil {
		return StepResult{}, fmt.Errorf("append artifact event: %w", err)
	}
	if err := e.events.AppendStreamEvent(ctx, j.ID, job.CompleteEvent(j.ID, cp.SpendAccumulator)); err != nil {
		return StepResult{}, fmt.Errorf("append complete event: %w", err)
	}
	if err := cp.advance(StateCompleted); err != nil {
		return StepResult{}, err
	}
	if err := e.checkpoints.DeleteState(ctx, j.ID); err != nil {
		return StepResult{}, fmt.Errorf("delete checkpoint: %w", err)
	}
	return StepResult{
		Done:       true,
		Iteration:  cp.Iteration,
		Outcome:    OutcomeCompleted,
		Artifact:   &a,
		SpendTotal: cp.SpendAccumulator,
	}, nil
}

// fail emits the viewer-facing error before removing the checkpoint.
func (e *Engine) fail(ctx context.Context, jobID string, cp *Checkpoint, reason, message string) (StepResult, error) {
	if err := e.events.AppendStreamEvent(ctx, jobID, job.ErrorEvent(message)); err != nil {
		return StepResult{}, fmt.Errorf("append error event: %w", err)
	}
	if err := cp.advance(StateFailed); err != nil {
		return StepResult{}, err
	}
	if err := e.checkpoints.DeleteState(ctx, jobID); err != nil {
		return StepResult{}, fmt.Errorf("delete checkpoint: %w", err)
	}
	return StepResult{Done: true, Iteration: cp.Iteration, Outcome: OutcomeFailed, Reason: reason}, nil
}

// abort ends a run whose current tool call was only partly recorded. Replaying
// the call would record it twice, so the run fails instead of retrying.
func (e *Engine) abort(ctx context.Context, jobID string, cp *Checkpoint, cause error) (StepResult, error) {
	reason := "Failed to record tool call: " + cause.Error()
	e.logger.Error("tool call partly recorded, failing run", zap.String("job_id", jobID), zap.Error(cause))
	res, err := e.fail(context.WithoutCancel(ctx), jobID, cp, reason, abortMessage)
	if err != nil {
		e.logger.Error("failing run after partial record", zap.String("job_id", jobID), zap.Error(err))
		return StepResult{Done: true, Iteration: cp.Iteration, Outcome: OutcomeFailed, Reason: reason}, nil
	}
	return res, nil
}
