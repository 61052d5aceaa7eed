package inference

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// ErrDisabled is returned when no backend is configured; callers take
// their deterministic fallback path on it.
var ErrDisabled = errors.New("inference backend disabled")

// Error wraps a backend failure (timeout, transport, malformed output).
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("inference: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

const DefaultTimeout = 10 * time.Second

// Client wraps the remote inference backend. Every call is bounded by
// the configured timeout and honors caller cancellation.
type Client struct {
	api         *openai.Client
	model       string
	maxTokens   int
	temperature float32
	timeout     time.Duration
	logger      *zap.Logger
}

type Options struct {
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

// New returns a client, or nil when no API key is configured. A nil
// *Client is valid: its methods return ErrDisabled.
func New(opts Options, logger *zap.Logger) *Client {
	if opts.APIKey == "" {
		return nil
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Client{
		api:         openai.NewClient(opts.APIKey),
		model:       opts.Model,
		maxTokens:   opts.MaxTokens,
		temperature: float32(opts.Temperature),
		timeout:     opts.Timeout,
		logger:      logger,
	}
}

// Enabled reports whether the backend can be called at all.
func (c *Client) Enabled() bool { return c != nil }

// Turn is one prior exchange line supplied as conversation context.
type Turn struct {
	Assistant bool
	Content   string
}

// Complete sends one instruction/content pair and returns the text of
// the first choice.
func (c *Client) Complete(ctx context.Context, systemInstructions, userContent string) (string, error) {
	return c.Converse(ctx, systemInstructions, nil, userContent)
}

// Converse is Complete with prior exchange turns placed before the
// current message as chat context.
func (c *Client) Converse(ctx context.Context, systemInstructions string, turns []Turn, userContent string) (string, error) {
	if c == nil {
		return "", ErrDisabled
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    buildMessages(systemInstructions, turns, userContent),
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
	})
	if err != nil {
		return "", &Error{Op: "complete", Err: err}
	}
	if len(resp.Choices) == 0 {
		return "", &Error{Op: "complete", Err: errors.New("empty response")}
	}

	c.logger.Debug("inference call completed",
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens))

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func buildMessages(systemInstructions string, turns []Turn, userContent string) []openai.ChatCompletionMessage {
	messages := make([]openai.ChatCompletionMessage, 0, len(turns)+2)
	if systemInstructions != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: systemInstructions,
		})
	}
	for _, t := range turns {
		role := openai.ChatMessageRoleUser
		if t.Assistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: t.Content})
	}
	return append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: userContent,
	})
}

// CompleteJSON asks for structured output and unmarshals it into out.
// Malformed output is an *Error, never a partial result.
func (c *Client) CompleteJSON(ctx context.Context, systemInstructions, userContent string, out any) error {
	text, err := c.Complete(ctx, systemInstructions, userContent)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(stripFences(text)), out); err != nil {
		c.logger.Error("inference returned malformed JSON",
			zap.Error(err), zap.String("response", text))
		return &Error{Op: "parse", Err: err}
	}
	return nil
}

// stripFences removes a markdown code fence the backend sometimes wraps
// JSON in.
func stripFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}
