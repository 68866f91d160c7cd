package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mohammad-safakhou/realism/internal/artifact"
	"github.com/mohammad-safakhou/realism/internal/job"
	"github.com/mohammad-safakhou/realism/internal/sapiom"
	"github.com/mohammad-safakhou/realism/internal/store"
	"github.com/mohammad-safakhou/realism/internal/tools"
	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type reply struct {
	resp openai.ChatCompletionResponse
	err  error
}

type scriptedModel struct {
	mu       sync.Mutex
	replies  []reply
	fallback *reply
	requests []openai.ChatCompletionRequest
}

func (m *scriptedModel) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if len(m.replies) == 0 {
		if m.fallback != nil {
			return m.fallback.resp, m.fallback.err
		}
		return openai.ChatCompletionResponse{}, errors.New("script exhausted")
	}
	r := m.replies[0]
	m.replies = m.replies[1:]
	return r.resp, r.err
}

func (m *scriptedModel) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

func toolReply(calls ...openai.ToolCall) reply {
	return reply{resp: openai.ChatCompletionResponse{Choices: []openai.ChatCompletionChoice{{
		Message: openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, ToolCalls: calls},
	}}}}
}

func finalReply(text string) reply {
	return reply{resp: openai.ChatCompletionResponse{Choices: []openai.ChatCompletionChoice{{
		Message: openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: text},
	}}}}
}

func call(id, name, args string) openai.ToolCall {
	return openai.ToolCall{ID: id, Type: openai.ToolTypeFunction, Function: openai.FunctionCall{Name: name, Arguments: args}}
}

type stubBackend struct {
	mu    sync.Mutex
	calls []string
}

func (b *stubBackend) record(name string) {
	b.mu.Lock()
	b.calls = append(b.calls, name)
	b.mu.Unlock()
}

func (b *stubBackend) Search(_ context.Context, q, _ string) (sapiom.SearchResponse, error) {
	b.record("search")
	return sapiom.SearchResponse{Results: []sapiom.SearchResult{{Title: "r", URL: "https://r", Snippet: q}}}, nil
}

func (b *stubBackend) Fetch(context.Context, string) (sapiom.FetchResponse, error) {
	b.record("fetch")
	return sapiom.FetchResponse{Markdown: "# page"}, nil
}

func (b *stubBackend) Extract(context.Context, string) (sapiom.ExtractResponse, error) {
	b.record("extract")
	return sapiom.ExtractResponse{}, errors.New("unused")
}

func (b *stubBackend) Screenshot(context.Context, string) (sapiom.ScreenshotResponse, error) {
	b.record("screenshot")
	return sapiom.ScreenshotResponse{}, errors.New("anchor unavailable")
}

func (b *stubBackend) GenerateImage(context.Context, string, string) (sapiom.ImageResponse, error) {
	b.record("image")
	return sapiom.ImageResponse{Images: []sapiom.Image{{URL: "https://fal.media/cover.png"}}}, nil
}

func (b *stubBackend) TextToSpeech(context.Context, string, string) (sapiom.SpeechResponse, error) {
	b.record("tts")
	return sapiom.SpeechResponse{AudioURL: "https://audio/pitch.mp3"}, nil
}

type harness struct {
	engine  *Engine
	store   *store.Memory
	jobs    *job.Service
	model   *scriptedModel
	backend *stubBackend
	sleeps  []time.Duration
	job     job.Job
}

func newHarness(t *testing.T, goal string, budget float64, replies ...reply) *harness {
	t.Helper()
	h := &harness{store: store.NewMemory(), model: &scriptedModel{replies: replies}, backend: &stubBackend{}}
	h.jobs = job.NewService(h.store)
	j, err := h.jobs.Create(context.Background(), job.CreateParams{ID: "job-1", UserID: "u1", Goal: goal, Budget: budget})
	require.NoError(t, err)
	h.job = j
	h.engine = NewEngine(Deps{
		Checkpoints: h.store,
		Events:      h.store,
		Artifacts:   h.store,
		Spend:       h.jobs,
		Model:       h.model,
		Tools:       tools.NewDispatcher(h.backend),
	}, WithSleep(func(_ context.Context, d time.Duration) error {
		h.sleeps = append(h.sleeps, d)
		return nil
	}), WithClock(func() time.Time { return time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC) }))
	return h
}

func (h *harness) step(t *testing.T, expected *int) StepResult {
	t.Helper()
	res, err := h.engine.Step(context.Background(), h.job, expected)
	require.NoError(t, err)
	return res
}

func (h *harness) events(t *testing.T) []job.StreamEvent {
	t.Helper()
	evs, _, err := h.store.StreamEvents(context.Background(), h.job.ID, 0)
	require.NoError(t, err)
	return evs
}

func (h *harness) checkpoint(t *testing.T) (*Checkpoint, bool) {
	t.Helper()
	raw, ok, err := h.store.LoadState(context.Background(), h.job.ID)
	require.NoError(t, err)
	if !ok {
		return nil, false
	}
	var cp Checkpoint
	require.NoError(t, json.Unmarshal(raw, &cp))
	return &cp, true
}

func (h *harness) seed(t *testing.T, cp Checkpoint) {
	t.Helper()
	raw, err := json.Marshal(cp)
	require.NoError(t, err)
	require.NoError(t, h.store.SaveState(context.Background(), h.job.ID, raw, time.Hour))
}

func intp(v int) *int { return &v }

func toolCallCosts(t *testing.T, evs []job.StreamEvent) []float64 {
	t.Helper()
	var out []float64
	for _, ev := range evs {
		if ev.Type != job.EventToolCall {
			continue
		}
		var se job.SpendEvent
		require.NoError(t, json.Unmarshal(ev.Payload, &se))
		out = append(out, se.Cost)
	}
	return out
}

func TestRunStateTransitionTable(t *testing.T) {
	all := []RunState{StateNew, StateRunning, StateCompleted, StateFailed}
	allowed := map[[2]RunState]bool{
		{StateNew, StateRunning}:       true,
		{StateRunning, StateRunning}:   true,
		{StateRunning, StateCompleted}: true,
		{StateRunning, StateFailed}:    true,
	}
	for _, from := range all {
		for _, to := range all {
			assert.Equal(t, allowed[[2]RunState{from, to}], CanTransition(from, to), "%s -> %s", from, to)
		}
	}

	cp := &Checkpoint{State: StateCompleted}
	assert.ErrorIs(t, cp.advance(StateRunning), ErrIllegalTransition)
	assert.True(t, StateFailed.Terminal())
	assert.False(t, StateRunning.Terminal())
}

func TestStepDispatchesToolsAndCheckpoints(t *testing.T) {
	h := newHarness(t, "Research EV charging", 1,
		toolReply(call("c1", tools.Search, `{"query":"ev charging"}`), call("c2", tools.Fetch, `{"url":"https://example.com"}`)),
	)
	res := h.step(t, nil)
	assert.False(t, res.Done)
	assert.Equal(t, 1, res.Iteration)

	req := h.model.requests[0]
	assert.Equal(t, "openai/gpt-4o", req.Model)
	assert.Equal(t, "auto", req.ToolChoice)
	assert.Equal(t, 4096, req.MaxTokens)
	assert.Len(t, req.Tools, 6)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, openai.ChatMessageRoleSystem, req.Messages[0].Role)
	assert.Equal(t, "Research EV charging", req.Messages[1].Content)

	cp, ok := h.checkpoint(t)
	require.True(t, ok)
	assert.Equal(t, 1, cp.Iteration)
	assert.Equal(t, StateRunning, cp.State)
	assert.InDelta(t, 0.016, cp.SpendAccumulator, 1e-9)
	require.Len(t, cp.Messages, 5)
	assert.Equal(t, callingTools, cp.Messages[2].Content)
	require.Len(t, cp.Messages[2].ToolCalls, 2)
	assert.Equal(t, "c1", cp.Messages[3].ToolCallID)
	assert.Equal(t, tools.Search, cp.Messages[3].Name)
	assert.Equal(t, "c2", cp.Messages[4].ToolCallID)

	spend, err := h.store.ListSpendEvents(context.Background(), h.job.ID)
	require.NoError(t, err)
	require.Len(t, spend, 2)
	assert.Equal(t, `Searching: "ev charging"`, spend[0].Description)
	assert.Equal(t, "Reading: https://example.com", spend[1].Description)

	stored, err := h.jobs.Get(context.Background(), h.job.ID)
	require.NoError(t, err)
	assert.InDelta(t, 0.016, stored.SpendTotal, 1e-9)
	assert.Equal(t, []float64{0.006, 0.010}, toolCallCosts(t, h.events(t)))
}

func TestStepIsIdempotentUnderStaleIteration(t *testing.T) {
	h := newHarness(t, "goal", 1,
		toolReply(call("c1", tools.Search, `{"query":"a"}`)),
		toolReply(call("c2", tools.Search, `{"query":"b"}`)),
	)
	h.step(t, intp(0))
	h.step(t, intp(1))

	before, _, err := h.store.LoadState(context.Background(), h.job.ID)
	require.NoError(t, err)
	eventsBefore := len(h.events(t))
	spendBefore, _ := h.store.ListSpendEvents(context.Background(), h.job.ID)
	modelCalls := h.model.calls()

	for _, stale := range []int{0, 1, 3, 99} {
		res := h.step(t, intp(stale))
		assert.False(t, res.Done)
		assert.Equal(t, 2, res.Iteration)
		assert.True(t, res.Fenced)
	}

	after, _, err := h.store.LoadState(context.Background(), h.job.ID)
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after))
	assert.Len(t, h.events(t), eventsBefore)
	spendAfter, _ := h.store.ListSpendEvents(context.Background(), h.job.ID)
	assert.Len(t, spendAfter, len(spendBefore))
	assert.Equal(t, modelCalls, h.model.calls())
}

func TestStepFencingOnFreshJobDoesNotCreateCheckpoint(t *testing.T) {
	h := newHarness(t, "goal", 1)
	res := h.step(t, intp(4))
	assert.True(t, res.Fenced)
	assert.Equal(t, 0, res.Iteration)
	_, ok := h.checkpoint(t)
	assert.False(t, ok)
	assert.Zero(t, h.model.calls())
}

func TestStepIterationIsMonotonic(t *testing.T) {
	h := newHarness(t, "goal", 10)
	h.model.fallback = &reply{resp: toolReply(call("c", tools.Search, `{"query":"q"}`)).resp}
	for i := 0; i < 5; i++ {
		res := h.step(t, intp(i))
		assert.Equal(t, i+1, res.Iteration)
	}
}

func TestCompleteTotalMatchesToolCallCosts(t *testing.T) {
	h := newHarness(t, "Make a podcast about tides", 2,
		toolReply(call("c1", tools.Search, `{"query":"tides"}`), call("c2", tools.DeepSearch, `{"query":"tides"}`)),
		toolReply(call("c3", tools.TextToSpeech, `{"text":"the tides are pulled by the moon"}`), call("c4", "sapiom_mystery", `{}`)),
		finalReply("Script\n\nARTIFACT_JSON\n{\"type\":\"audio\",\"title\":\"Tides\",\"summary\":\"A short podcast\"}\nEND_ARTIFACT_JSON"),
	)
	h.step(t, intp(0))
	h.step(t, intp(1))
	res := h.step(t, intp(2))
	require.True(t, res.Done)
	assert.Equal(t, OutcomeCompleted, res.Outcome)

	evs := h.events(t)
	costs := toolCallCosts(t, evs)
	var sum float64
	for _, c := range costs {
		sum += c
	}
	last := evs[len(evs)-1]
	require.Equal(t, job.EventComplete, last.Type)
	var payload job.CompletePayload
	require.NoError(t, json.Unmarshal(last.Payload, &payload))
	assert.Equal(t, sum, payload.Total)
	assert.Equal(t, sum, res.SpendTotal)
	assert.Equal(t, job.EventArtifact, evs[len(evs)-2].Type)

	require.NotNil(t, res.Artifact)
	assert.Equal(t, artifact.TypeAudio, res.Artifact.Type)
	assert.Equal(t, "https://audio/pitch.mp3", res.Artifact.AudioURL)
	assert.Equal(t, "Script", res.Artifact.Content)

	_, ok := h.checkpoint(t)
	assert.False(t, ok, "checkpoint must be deleted on completion")
	stored, err := h.store.GetArtifact(context.Background(), h.job.ID)
	require.NoError(t, err)
	assert.Equal(t, "Tides", stored.Title)
}

func TestScenarioCoverImageAndPitch(t *testing.T) {
	h := newHarness(t, "Generate a cover image and one-paragraph pitch", 0.50,
		toolReply(call("c1", tools.GenerateImage, `{"prompt":"minimal book cover, ocean at dusk"}`)),
		finalReply("Pitch paragraph.\n\nARTIFACT_JSON\n{\"type\":\"document\",\"title\":\"Ocean Pitch\",\"summary\":\"cover and pitch\"}\nEND_ARTIFACT_JSON"),
	)
	h.step(t, intp(0))
	res := h.step(t, intp(1))
	require.True(t, res.Done)

	var first job.SpendEvent
	evs := h.events(t)
	require.Equal(t, job.EventToolCall, evs[0].Type)
	require.NoError(t, json.Unmarshal(evs[0].Payload, &first))
	assert.Equal(t, tools.GenerateImage, first.Tool)
	assert.Equal(t, 0.040, first.Cost)

	require.NotNil(t, res.Artifact)
	assert.Contains(t, []artifact.Type{artifact.TypeImage, artifact.TypeMixed}, res.Artifact.Type)
	assert.Equal(t, "https://fal.media/cover.png", res.Artifact.ImageURL)
}

func TestScenarioBudgetWrapUpAbandonsBatch(t *testing.T) {
	h := newHarness(t, "goal", 0.50,
		toolReply(
			call("c1", tools.Search, `{"query":"a"}`),
			call("c2", tools.Fetch, `{"url":"https://example.com"}`),
			call("c3", tools.GenerateImage, `{"prompt":"x"}`),
		),
	)
	h.seed(t, Checkpoint{
		Messages:         []Message{{Role: "system", Content: "s"}, {Role: "user", Content: "goal"}},
		Iteration:        3,
		SpendAccumulator: 0.46,
		State:            StateRunning,
	})
	res := h.step(t, intp(3))
	assert.False(t, res.Done)
	assert.Equal(t, 4, res.Iteration)

	assert.Equal(t, []string{"search"}, h.backend.calls)
	assert.Equal(t, []float64{0.006}, toolCallCosts(t, h.events(t)))

	cp, ok := h.checkpoint(t)
	require.True(t, ok)
	last := cp.Messages[len(cp.Messages)-1]
	assert.Equal(t, openai.ChatMessageRoleUser, last.Role)
	assert.Equal(t, "Budget limit approaching ($0.466 of $0.50 spent). Wrap up now and produce your final artifact with what you have.", last.Content)
	assert.Equal(t, "c1", cp.Messages[len(cp.Messages)-2].ToolCallID)
}

func TestScenarioFinalTextWithoutMarkers(t *testing.T) {
	goal := "Write a concise briefing on the state of small modular reactors in Europe this year"
	text := "Small modular reactors are moving from paper to permits across Europe."
	h := newHarness(t, goal, 1, finalReply(text))
	res := h.step(t, nil)
	require.True(t, res.Done)
	require.NotNil(t, res.Artifact)
	assert.Equal(t, artifact.TypeDocument, res.Artifact.Type)
	assert.Equal(t, goal[:60], res.Artifact.Title)
	assert.Equal(t, text, res.Artifact.Content)
	assert.Zero(t, res.SpendTotal)
}

func TestScenarioMaxIterations(t *testing.T) {
	h := newHarness(t, "goal", 10)
	h.model.fallback = &reply{resp: toolReply(call("c", tools.Search, `{"query":"q"}`)).resp}
	for i := 0; i < 15; i++ {
		res := h.step(t, intp(i))
		require.False(t, res.Done, "step %d", i)
	}
	calls := h.model.calls()

	res := h.step(t, intp(15))
	assert.True(t, res.Done)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, "Max iterations reached", res.Reason)
	assert.Equal(t, calls, h.model.calls())

	_, ok := h.checkpoint(t)
	assert.False(t, ok)
	evs := h.events(t)
	last := evs[len(evs)-1]
	assert.Equal(t, job.EventError, last.Type)
	assert.JSONEq(t, `{"message":"Job took too many steps. Partial results may be available."}`, string(last.Payload))
}

func TestModelRetriesServerErrors(t *testing.T) {
	h := newHarness(t, "goal", 1,
		reply{err: &openai.APIError{HTTPStatusCode: 502, Message: "bad gateway"}},
		reply{err: errors.New("connection reset")},
		finalReply("done"),
	)
	res := h.step(t, nil)
	assert.True(t, res.Done)
	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, h.sleeps)
}

func TestModelFailures(t *testing.T) {
	cases := []struct {
		name    string
		replies []reply
		reason  string
		message string
		sleeps  int
	}{
		{
			name:    "client error",
			replies: []reply{{err: &openai.APIError{HTTPStatusCode: 400, Message: "bad request " + strings.Repeat("x", 600)}}},
			reason:  "LLM API error 400: " + ("bad request " + strings.Repeat("x", 600))[:500],
			message: "AI model error (400): " + ("bad request " + strings.Repeat("x", 600))[:200],
		},
		{
			name:    "network exhausted",
			replies: []reply{{err: errors.New("dial tcp: refused")}, {err: errors.New("dial tcp: refused")}, {err: errors.New("dial tcp: refused")}},
			reason:  "Network error calling LLM: dial tcp: refused",
			message: "Failed to reach the AI model. Please try again.",
			sleeps:  2,
		},
		{
			name: "server errors exhausted",
			replies: []reply{
				{err: &openai.APIError{HTTPStatusCode: 500}},
				{err: &openai.RequestError{HTTPStatusCode: 503, Err: errors.New("unavailable")}},
				{err: &openai.APIError{HTTPStatusCode: 500}},
			},
			reason:  "LLM call failed after retries",
			message: "AI model failed after retries.",
			sleeps:  2,
		},
		{
			name:    "no choices",
			replies: []reply{{resp: openai.ChatCompletionResponse{}}},
			reason:  "No message in LLM response",
			message: "Unexpected response from AI model.",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, "goal", 1, tc.replies...)
			h.seed(t, Checkpoint{Messages: []Message{{Role: "user", Content: "goal"}}, Iteration: 2, State: StateRunning})
			res := h.step(t, intp(2))
			assert.True(t, res.Done)
			assert.Equal(t, OutcomeFailed, res.Outcome)
			assert.Equal(t, tc.reason, res.Reason)
			assert.Len(t, h.sleeps, tc.sleeps)

			evs := h.events(t)
			require.Len(t, evs, 1)
			var payload job.ErrorPayload
			require.NoError(t, json.Unmarshal(evs[0].Payload, &payload))
			assert.Equal(t, tc.message, payload.Message)
			_, ok := h.checkpoint(t)
			assert.False(t, ok)
		})
	}
}

func TestStepSkipsWhenJobNotRunnable(t *testing.T) {
	for _, st := range []job.Status{job.StatusPaused, job.StatusComplete, job.StatusFailed} {
		h := newHarness(t, "goal", 1, finalReply("x"))
		h.job.Status = st
		res := h.step(t, intp(0))
		assert.True(t, res.Done)
		assert.Equal(t, OutcomeSkipped, res.Outcome)
		assert.Zero(t, h.model.calls())
		assert.Empty(t, h.events(t))
	}
}

func TestToolFailureIsChargedAndReported(t *testing.T) {
	h := newHarness(t, "goal", 1, toolReply(call("c1", tools.Screenshot, `{"url":"https://example.com"}`)))
	h.step(t, nil)
	cp, ok := h.checkpoint(t)
	require.True(t, ok)
	toolMsg := cp.Messages[len(cp.Messages)-1]
	assert.Equal(t, openai.ChatMessageRoleTool, toolMsg.Role)
	assert.JSONEq(t, `{"error":"Tool execution failed: anchor unavailable"}`, toolMsg.Content)
	assert.Equal(t, []float64{0.010}, toolCallCosts(t, h.events(t)))
}

func TestSystemPrompt(t *testing.T) {
	p := SystemPrompt(job.Job{ID: "job-7", Goal: "Track rent prices", Budget: 2}, 0.9)
	assert.Contains(t, p, "GOAL: Track rent prices")
	assert.Contains(t, p, "BUDGET: $2.00")
	assert.Contains(t, p, "JOB_ID: job-7")
	assert.Contains(t, p, "approaching $1.80")
	assert.Contains(t, p, "ARTIFACT_JSON")
	assert.Contains(t, p, "END_ARTIFACT_JSON")
}

// flakyLog fails the n-th append of one kind once and passes everything else
// to the underlying store.
type flakyLog struct {
	*store.Memory
	failSpendAt  int
	failStreamAt int
	spends       int
	streams      int
}

func (f *flakyLog) AppendSpendEvent(ctx context.Context, ev job.SpendEvent) error {
	f.spends++
	if f.spends == f.failSpendAt {
		return errors.New("redis: connection reset")
	}
	return f.Memory.AppendSpendEvent(ctx, ev)
}

func (f *flakyLog) AppendStreamEvent(ctx context.Context, jobID string, ev job.StreamEvent) error {
	f.streams++
	if f.streams == f.failStreamAt {
		return errors.New("redis: connection reset")
	}
	return f.Memory.AppendStreamEvent(ctx, jobID, ev)
}

func TestStepRetryResumesBatchWithoutDuplicates(t *testing.T) {
	h := newHarness(t, "goal", 1,
		toolReply(call("c1", tools.Search, `{"query":"a"}`), call("c2", tools.Search, `{"query":"b"}`)),
		finalReply("ARTIFACT_JSON {\"type\":\"document\",\"title\":\"Done\"} END_ARTIFACT_JSON"),
	)
	h.engine.events = &flakyLog{Memory: h.store, failSpendAt: 2}

	_, err := h.engine.Step(context.Background(), h.job, intp(0))
	require.Error(t, err)
	cp, ok := h.checkpoint(t)
	require.True(t, ok)
	require.NotNil(t, cp.Batch)
	assert.Equal(t, 1, cp.Batch.Next)
	assert.Equal(t, 0, cp.Iteration)

	res := h.step(t, intp(0))
	assert.False(t, res.Done)
	assert.Equal(t, 1, res.Iteration)
	assert.Equal(t, 1, h.model.calls(), "retry must not replay the model call")
	assert.Equal(t, []string{"search", "search"}, h.backend.calls)

	res = h.step(t, intp(1))
	require.True(t, res.Done)
	assert.Equal(t, OutcomeCompleted, res.Outcome)

	spend, err := h.store.ListSpendEvents(context.Background(), h.job.ID)
	require.NoError(t, err)
	assert.Len(t, spend, 2)
	evs := h.events(t)
	assert.Equal(t, []float64{0.006, 0.006}, toolCallCosts(t, evs))
	var payload job.CompletePayload
	require.NoError(t, json.Unmarshal(evs[len(evs)-1].Payload, &payload))
	assert.InDelta(t, 0.012, payload.Total, 1e-9)
	stored, err := h.jobs.Get(context.Background(), h.job.ID)
	require.NoError(t, err)
	assert.InDelta(t, 0.012, stored.SpendTotal, 1e-9)
}

func TestStepFailsRunWhenCallIsPartlyRecorded(t *testing.T) {
	h := newHarness(t, "goal", 1,
		toolReply(call("c1", tools.Search, `{"query":"a"}`), call("c2", tools.Search, `{"query":"b"}`)),
	)
	h.engine.events = &flakyLog{Memory: h.store, failStreamAt: 2}

	res := h.step(t, intp(0))
	assert.True(t, res.Done)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Contains(t, res.Reason, "append tool_call event")
	assert.Equal(t, []string{"search"}, h.backend.calls, "the partly recorded call must not execute")

	evs := h.events(t)
	require.NotEmpty(t, evs)
	assert.Equal(t, job.EventError, evs[len(evs)-1].Type)
	_, ok := h.checkpoint(t)
	assert.False(t, ok)
}
