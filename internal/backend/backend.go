// internal/backend/backend.go
//
// Inference backend abstraction. The only implementation talks to an
// OpenAI-compatible chat completion endpoint, which covers hosted APIs
// and a local Ollama alike. Failures surface as ErrUnavailable; the
// conversation treats them as a missing turn, never as a crash.

package backend

import (
	"context"
	"errors"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// ErrUnavailable wraps every transport-level completion failure.
var ErrUnavailable = errors.New("backend: unavailable")

// Message is one chat message.
type Message struct {
	Role    string
	Content string
}

// Chat message roles, as the wire protocol spells them.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Request is one completion request. ContextHint carries the resource
// signal's suggested context size; backends that cannot honor it use it
// to bound MaxTokens instead.
type Request struct {
	System      string
	Messages    []Message
	MaxTokens   int
	ContextHint int
}

// Client produces completions.
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Logger is the minimal logging dependency.
type Logger interface {
	Printf(format string, args ...any)
}

// OpenAI talks to any OpenAI-compatible endpoint.
type OpenAI struct {
	client     *openai.Client
	model      string
	maxRetries int
	backoff    time.Duration
	logger     Logger
}

// NewOpenAI builds a client for the given endpoint. An empty apiKey is
// fine for local servers that ignore authentication.
func NewOpenAI(baseURL, apiKey, model string, maxRetries int, logger Logger) *OpenAI {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &OpenAI{
		client:     openai.NewClientWithConfig(cfg),
		model:      model,
		maxRetries: maxRetries,
		backoff:    time.Second,
		logger:     logger,
	}
}

// Complete runs one chat completion with exponential backoff between
// attempts.
func (c *OpenAI) Complete(ctx context.Context, req Request) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	for _, m := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	maxTokens := req.MaxTokens
	if req.ContextHint > 0 && (maxTokens == 0 || maxTokens > req.ContextHint/2) {
		maxTokens = req.ContextHint / 2
	}

	var lastErr error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:     c.model,
			Messages:  messages,
			MaxTokens: maxTokens,
		})
		if err == nil {
			if len(resp.Choices) == 0 {
				return "", fmt.Errorf("%w: empty choice list", ErrUnavailable)
			}
			return resp.Choices[0].Message.Content, nil
		}
		lastErr = err
		if c.logger != nil {
			c.logger.Printf("backend: attempt %d/%d failed: %v", attempt, c.maxRetries, err)
		}
		if attempt == c.maxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
		case <-time.After(time.Duration(attempt) * c.backoff):
		}
	}
	return "", fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
}
