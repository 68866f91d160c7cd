package sapiom

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mohammad-safakhou/realism/internal/helpers"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const maxResponseBytes = 8 << 20

// Endpoints are the base URLs of the Sapiom-proxied services.
type Endpoints struct {
	Linkup     string
	Anchor     string
	FAL        string
	ElevenLabs string
	Prelude    string
	Governance string
}

// DefaultEndpoints returns the production service URLs.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		Linkup:     "https://linkup.services.sapiom.ai",
		Anchor:     "https://anchor-browser.services.sapiom.ai",
		FAL:        "https://fal.services.sapiom.ai",
		ElevenLabs: "https://elevenlabs.services.sapiom.ai",
		Prelude:    "https://prelude.services.sapiom.ai",
		Governance: "https://api.sapiom.ai",
	}
}

// Error is a non-2xx or undecodable response from a backend.
type Error struct {
	Status  int
	URL     string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("sapiom %d at %s: %s", e.Status, e.URL, e.Message)
}

// Client calls the tool backends. Every request carries the API key as a
// bearer token and waits on a shared rate limiter.
type Client struct {
	http      *http.Client
	apiKey    string
	endpoints Endpoints
	limiter   *rate.Limiter
	logger    *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

func WithEndpoints(e Endpoints) Option {
	return func(c *Client) { c.endpoints = e }
}

// WithRateLimit caps outbound requests per second. rps <= 0 disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

func New(apiKey string, opts ...Option) *Client {
	c := &Client{
		http:      &http.Client{Timeout: 45 * time.Second},
		apiKey:    apiKey,
		endpoints: DefaultEndpoints(),
		limiter:   rate.NewLimiter(rate.Limit(10), 5),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Endpoints returns the configured service URLs.
func (c *Client) Endpoints() Endpoints { return c.endpoints }

func (c *Client) postJSON(ctx context.Context, url string, body, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", url, err)
	}
	text, readErr := helpers.ReadAllAndClose(resp.Body, maxResponseBytes)
	c.logger.Debug("sapiom call", zap.String("url", url), zap.Int("status", resp.StatusCode), zap.Duration("took", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &Error{Status: resp.StatusCode, URL: url, Message: strings.TrimSpace(string(text))}
	}
	if readErr != nil {
		return fmt.Errorf("read %s: %w", url, readErr)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(text, out); err != nil {
		snippet := string(text)
		if len(snippet) > 200 {
			snippet = snippet[:200]
		}
		return &Error{Status: resp.StatusCode, URL: url, Message: "non-JSON response: " + snippet}
	}
	return nil
}
