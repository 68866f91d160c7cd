package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/mohammad-safakhou/realism/internal/helpers"
	"github.com/mohammad-safakhou/realism/internal/sapiom"
	"go.uber.org/zap"
)

// MaxContentChars bounds page text placed in the model context.
const MaxContentChars = 8000

// Backend is the set of hosted services the dispatcher calls.
type Backend interface {
	Search(ctx context.Context, query, depth string) (sapiom.SearchResponse, error)
	Fetch(ctx context.Context, pageURL string) (sapiom.FetchResponse, error)
	Extract(ctx context.Context, pageURL string) (sapiom.ExtractResponse, error)
	Screenshot(ctx context.Context, pageURL string) (sapiom.ScreenshotResponse, error)
	GenerateImage(ctx context.Context, prompt, model string) (sapiom.ImageResponse, error)
	TextToSpeech(ctx context.Context, text, voiceID string) (sapiom.SpeechResponse, error)
}

// Renderer is a local page renderer used after the hosted paths fail.
type Renderer interface {
	Read(ctx context.Context, rawURL string) (Page, error)
	Screenshot(ctx context.Context, rawURL string) (Capture, error)
}

// Call is one tool-call request from the model.
type Call struct {
	ID        string
	Name      string
	Arguments string
}

// Result is a tool's model-visible output plus any media kept out of the
// model context.
type Result struct {
	ModelVisible string
	AudioURL     string
	ImageURL     string
}

// Prepared is a decoded call with its charge and spend description.
type Prepared struct {
	Call        Call
	Args        Args
	Cost        float64
	Description string
}

type Dispatcher struct {
	backend  Backend
	renderer Renderer
	logger   *zap.Logger
}

type DispatcherOption func(*Dispatcher)

// WithRenderer enables the local browser fallback.
func WithRenderer(r Renderer) DispatcherOption {
	return func(d *Dispatcher) { d.renderer = r }
}

func WithDispatcherLogger(l *zap.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

func NewDispatcher(backend Backend, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{backend: backend, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Prepare decodes a call's arguments, falling back to the empty variant when
// they are malformed, and prices it.
func (d *Dispatcher) Prepare(call Call) Prepared {
	args, err := DecodeArgs(call.Name, call.Arguments)
	if err != nil {
		d.logger.Warn("tool arguments rejected", zap.String("tool", call.Name), zap.Error(err))
	}
	return Prepared{
		Call:        call,
		Args:        args,
		Cost:        EstimateCost(call.Name),
		Description: Describe(args),
	}
}

// Execute runs a prepared call. Failures are reported to the model as an
// error object rather than returned.
func (d *Dispatcher) Execute(ctx context.Context, p Prepared) Result {
	res, err := d.execute(ctx, p.Args)
	if err != nil {
		d.logger.Info("tool failed", zap.String("tool", p.Call.Name), zap.Error(err))
		return Result{ModelVisible: encode(map[string]string{"error": "Tool execution failed: " + err.Error()})}
	}
	return res
}

var whitespace = regexp.MustCompile(`\s+`)

func (d *Dispatcher) execute(ctx context.Context, args Args) (Result, error) {
	switch a := args.(type) {
	case SearchArgs:
		if a.Query == "" {
			return Result{}, errors.New("query is required")
		}
		depth := a.Depth
		if depth == "" {
			depth = "standard"
		}
		out, err := d.backend.Search(ctx, a.Query, depth)
		if err != nil {
			return Result{}, err
		}
		return Result{ModelVisible: encode(out)}, nil

	case DeepSearchArgs:
		if a.Query == "" {
			return Result{}, errors.New("query is required")
		}
		out, err := d.backend.Search(ctx, a.Query, "deep")
		if err != nil {
			return Result{}, err
		}
		return Result{ModelVisible: encode(out)}, nil

	case FetchArgs:
		return d.fetch(ctx, a.URL)

	case ScreenshotArgs:
		return d.screenshot(ctx, a.URL)

	case ImageArgs:
		if a.Prompt == "" {
			return Result{}, errors.New("prompt is required")
		}
		out, err := d.backend.GenerateImage(ctx, a.Prompt, a.Model)
		if err != nil {
			return Result{}, err
		}
		return Result{ModelVisible: encode(out), ImageURL: out.FirstURL()}, nil

	case SpeechArgs:
		if a.Text == "" {
			return Result{}, errors.New("text is required")
		}
		out, err := d.backend.TextToSpeech(ctx, a.Text, a.VoiceID)
		if err != nil {
			return Result{}, err
		}
		visible := struct {
			Status    string `json:"status"`
			WordCount int    `json:"wordCount"`
			Format    string `json:"format"`
			AudioURL  string `json:"audioUrl"`
		}{"audio_generated", len(whitespace.Split(a.Text, -1)), "mp3", out.AudioURL}
		return Result{ModelVisible: encode(visible), AudioURL: out.AudioURL}, nil
	}
	return Result{}, fmt.Errorf("unknown tool: %s", args.Tool())
}

func (d *Dispatcher) fetch(ctx context.Context, url string) (Result, error) {
	if url == "" {
		return Result{}, errors.New("url is required")
	}
	md, err := d.backend.Fetch(ctx, url)
	if err == nil {
		return Result{ModelVisible: encode(map[string]string{
			"content": helpers.Truncate(md.Markdown, MaxContentChars),
			"url":     url,
		})}, nil
	}
	d.logger.Debug("markdown fetch failed, trying extract", zap.String("url", url), zap.Error(err))
	out, err := d.backend.Extract(ctx, url)
	if err == nil {
		out.Content = helpers.Truncate(out.Content, MaxContentChars)
		return Result{ModelVisible: encode(out)}, nil
	}
	if d.renderer == nil {
		return Result{}, err
	}
	d.logger.Debug("extract failed, rendering locally", zap.String("url", url), zap.Error(err))
	page, rerr := d.renderer.Read(ctx, url)
	if rerr != nil {
		return Result{}, errors.Join(err, rerr)
	}
	page.Content = helpers.Truncate(page.Content, MaxContentChars)
	return Result{ModelVisible: encode(page)}, nil
}

func (d *Dispatcher) screenshot(ctx context.Context, url string) (Result, error) {
	if url == "" {
		return Result{}, errors.New("url is required")
	}
	out, err := d.backend.Screenshot(ctx, url)
	if err == nil {
		out.Image = helpers.Truncate(out.Image, MaxContentChars)
		return Result{ModelVisible: encode(out)}, nil
	}
	if d.renderer == nil {
		return Result{}, err
	}
	capture, rerr := d.renderer.Screenshot(ctx, url)
	if rerr != nil {
		return Result{}, errors.Join(err, rerr)
	}
	capture.Image = helpers.Truncate(capture.Image, MaxContentChars)
	return Result{ModelVisible: encode(capture)}, nil
}

func encode(v any) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return `{"error":"Tool execution failed: unencodable result"}`
	}
	return strings.TrimRight(buf.String(), "\n")
}
