// Package llm adapts hosted chat-completion APIs to a single Completer
// interface: send the conversation, get the assistant's reply text.
package llm

import (
	"context"
	"fmt"

	"github.com/RichardoC/goblin/internal/models"
)

// Completer sends one conversation to a remote model and returns the text of
// its first choice. Implementations do not retry.
type Completer interface {
	Complete(ctx context.Context, history []models.Message, opts ...CallOption) (string, error)
}

// Streamer is implemented by completers that can deliver the reply as it is
// generated. onDelta is called once per chunk; the full reply is returned.
type Streamer interface {
	Stream(ctx context.Context, history []models.Message, onDelta func(delta string) error, opts ...CallOption) (string, error)
}

// CallOptions are per-call generation parameters. Zero values mean "use the
// adapter default".
type CallOptions struct {
	Model       string
	Temperature *float64
	TopP        *float64
	MaxTokens   int
}

// CallOption configures a single Complete or Stream call.
type CallOption func(*CallOptions)

func WithModel(model string) CallOption {
	return func(o *CallOptions) { o.Model = model }
}

func WithTemperature(t float64) CallOption {
	return func(o *CallOptions) { o.Temperature = &t }
}

func WithTopP(p float64) CallOption {
	return func(o *CallOptions) { o.TopP = &p }
}

func WithMaxTokens(n int) CallOption {
	return func(o *CallOptions) { o.MaxTokens = n }
}

func applyOptions(defaultModel string, opts []CallOption) CallOptions {
	o := CallOptions{Model: defaultModel}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Model == "" {
		o.Model = defaultModel
	}
	return o
}

// validateHistory enforces the input contract shared by all adapters: at least
// one message, known roles, and the last message is the user turn being answered.
func validateHistory(provider string, history []models.Message) error {
	if len(history) == 0 {
		return &Error{Kind: ErrInvalidInput, Provider: provider, Message: "empty history"}
	}
	for i, m := range history {
		if !m.Role.Valid() {
			return &Error{Kind: ErrInvalidInput, Provider: provider, Message: fmt.Sprintf("message %d has unknown role %q", i, m.Role)}
		}
	}
	if last := history[len(history)-1]; last.Role != models.RoleUser {
		return &Error{Kind: ErrInvalidInput, Provider: provider, Message: fmt.Sprintf("last message must be from user, got %q", last.Role)}
	}
	return nil
}
