// Package classifier decides whether a goal is a one-off task or an ongoing
// monitoring job.
package classifier

import (
	"context"
	"strings"

	"github.com/mohammad-safakhou/realism/internal/job"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

const (
	DefaultModel = "openai/gpt-4o-mini"
	maxTokens    = 16

	systemPrompt = `You classify user goals as either one-time tasks or ongoing monitoring tasks. Reply with exactly one word: either "one-shot" or "persistent". Use "persistent" if the goal involves monitoring, watching, tracking, repeating, or being notified about future events. Use "one-shot" for everything else.`
)

var persistentKeywords = []string{
	"monitor", "watch", "track", "alert", "notify",
	"every day", "daily", "weekly", "every week",
	"keep an eye", "whenever", "each time", "recurring",
}

// Completer issues one chat completion. *openai.Client satisfies it.
type Completer interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

type Classifier struct {
	model  Completer
	name   string
	logger *zap.Logger
}

type Option func(*Classifier)

func WithModel(name string) Option {
	return func(c *Classifier) {
		if name != "" {
			c.name = name
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Classifier) {
		if l != nil {
			c.logger = l
		}
	}
}

// New builds a classifier. A nil model makes every decision by keyword.
func New(model Completer, opts ...Option) *Classifier {
	c := &Classifier{model: model, name: DefaultModel, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classify never fails: any model error or unexpected answer falls back to
// keyword matching.
func (c *Classifier) Classify(ctx context.Context, goal string) job.Type {
	if c.model != nil {
		resp, err := c.model.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:     c.name,
			MaxTokens: maxTokens,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
				{Role: openai.ChatMessageRoleUser, Content: goal},
			},
		})
		switch {
		case err != nil:
			c.logger.Warn("classifier call failed, using keywords", zap.Error(err))
		case len(resp.Choices) > 0:
			answer := strings.ToLower(strings.TrimSpace(resp.Choices[0].Message.Content))
			switch job.Type(answer) {
			case job.TypeOneShot, job.TypePersistent:
				return job.Type(answer)
			}
			c.logger.Debug("unexpected classifier answer", zap.String("answer", answer))
		}
	}
	return ByKeyword(goal)
}

// ByKeyword marks goals mentioning repetition or monitoring as persistent.
func ByKeyword(goal string) job.Type {
	lower := strings.ToLower(goal)
	for _, kw := range persistentKeywords {
		if strings.Contains(lower, kw) {
			return job.TypePersistent
		}
	}
	return job.TypeOneShot
}
