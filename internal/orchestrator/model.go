package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// Completer issues one chat completion. *openai.Client satisfies it.
type Completer interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// modelFailure is a terminal model-call failure: Reason is stored on the job,
// Message is shown to viewers.
type modelFailure struct {
	Reason  string
	Message string
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// statusOf extracts the HTTP status from a go-openai error. Zero means the
// request never got a response.
func statusOf(err error) (int, string) {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode, apiErr.Message
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode, reqErr.Error()
	}
	return 0, ""
}

func (e *Engine) sleep(ctx context.Context, d time.Duration) error {
	if e.sleepFn != nil {
		return e.sleepFn(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// complete calls the model, retrying network errors and 5xx responses with
// linear backoff.
func (e *Engine) complete(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, *modelFailure) {
	attempts := e.cfg.MaxAttempts
	for attempt := 0; attempt < attempts; attempt++ {
		resp, err := e.model.CreateChatCompletion(ctx, req)
		if err == nil {
			return resp, nil
		}
		status, body := statusOf(err)
		switch {
		case status == 0:
			if attempt == attempts-1 {
				return resp, &modelFailure{
					Reason:  fmt.Sprintf("Network error calling LLM: %v", err),
					Message: "Failed to reach the AI model. Please try again.",
				}
			}
		case status >= http.StatusInternalServerError:
			if attempt == attempts-1 {
				return resp, &modelFailure{
					Reason:  "LLM call failed after retries",
					Message: "AI model failed after retries.",
				}
			}
		default:
			return resp, &modelFailure{
				Reason:  fmt.Sprintf("LLM API error %d: %s", status, clip(body, 500)),
				Message: fmt.Sprintf("AI model error (%d): %s", status, clip(body, 200)),
			}
		}
		e.logger.Warn("model call failed, retrying",
			zap.Int("attempt", attempt+1), zap.Int("status", status), zap.Error(err))
		if serr := e.sleep(ctx, e.cfg.Backoff*time.Duration(attempt+1)); serr != nil {
			return openai.ChatCompletionResponse{}, &modelFailure{
				Reason:  fmt.Sprintf("Network error calling LLM: %v", serr),
				Message: "Failed to reach the AI model. Please try again.",
			}
		}
	}
	return openai.ChatCompletionResponse{}, &modelFailure{
		Reason:  "LLM call failed after retries",
		Message: "AI model failed after retries.",
	}
}
