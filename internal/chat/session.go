// Package chat holds the conversation for one chat session and mediates each
// round-trip with the model.
package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/RichardoC/goblin/internal/llm"
	"github.com/RichardoC/goblin/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrInvalidInput is returned for empty user text.
var ErrInvalidInput = llm.ErrInvalidInput

// Options configure a Session.
type Options struct {
	SystemPrompt string
	Personas     []string
	Model        string
	Temperature  *float64
	MaxTokens    int

	// MaxTurns bounds the history to the last MaxTurns user/assistant pairs
	// plus the system message. Zero keeps everything.
	MaxTurns int

	// RollbackOnError removes the user message again when the model call fails.
	RollbackOnError bool

	Logger *zap.Logger
}

type Option func(*Options)

func WithSystemPrompt(prompt string) Option {
	return func(o *Options) { o.SystemPrompt = prompt }
}

// WithPersonas records which persona files the system prompt came from.
func WithPersonas(names []string) Option {
	return func(o *Options) { o.Personas = append([]string(nil), names...) }
}

func WithModel(model string) Option {
	return func(o *Options) { o.Model = model }
}

func WithTemperature(t float64) Option {
	return func(o *Options) { o.Temperature = &t }
}

func WithMaxTokens(n int) Option {
	return func(o *Options) { o.MaxTokens = n }
}

func WithMaxTurns(n int) Option {
	return func(o *Options) { o.MaxTurns = n }
}

func WithRollbackOnError(rollback bool) Option {
	return func(o *Options) { o.RollbackOnError = rollback }
}

func WithLogger(logger *zap.Logger) Option {
	return func(o *Options) { o.Logger = logger }
}

// Session is an ordered message history bound to one model client. It is not
// safe for concurrent use; callers must serialize Send and Reset.
type Session struct {
	id        string
	startedAt time.Time
	completer llm.Completer
	opts      Options
	logger    *zap.Logger

	messages []models.Message
}

func New(completer llm.Completer, opts ...Option) *Session {
	var o Options
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Session{
		id:        uuid.Must(uuid.NewV7()).String(),
		startedAt: time.Now(),
		completer: completer,
		opts:      o,
	}
	s.logger = logger.With(zap.String("session_id", s.id))
	s.Reset()
	return s
}

func (s *Session) ID() string { return s.id }

func (s *Session) StartedAt() time.Time { return s.startedAt }

func (s *Session) Model() string { return s.opts.Model }

func (s *Session) Personas() []string { return append([]string(nil), s.opts.Personas...) }

// Len returns the number of messages, including the system message.
func (s *Session) Len() int { return len(s.messages) }

// Messages returns a copy of the history in chronological order.
func (s *Session) Messages() []models.Message {
	out := make([]models.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Reset clears the history back to the configured system message, if any.
func (s *Session) Reset() {
	s.messages = nil
	if strings.TrimSpace(s.opts.SystemPrompt) != "" {
		s.messages = append(s.messages, models.Message{Role: models.RoleSystem, Content: s.opts.SystemPrompt})
	}
}

// Send appends userText, asks the model for a reply with the full history and
// appends the reply. Model errors are returned unchanged.
func (s *Session) Send(ctx context.Context, userText string) (string, error) {
	return s.roundTrip(ctx, userText, func(history []models.Message) (string, error) {
		return s.completer.Complete(ctx, history, s.callOptions()...)
	})
}

// SendStream is Send with the reply delivered incrementally to onDelta. It
// falls back to a single delta when the model client cannot stream.
func (s *Session) SendStream(ctx context.Context, userText string, onDelta func(string) error) (string, error) {
	return s.roundTrip(ctx, userText, func(history []models.Message) (string, error) {
		if st, ok := s.completer.(llm.Streamer); ok {
			return st.Stream(ctx, history, onDelta, s.callOptions()...)
		}
		reply, err := s.completer.Complete(ctx, history, s.callOptions()...)
		if err == nil && onDelta != nil {
			err = onDelta(reply)
		}
		return reply, err
	})
}

func (s *Session) roundTrip(ctx context.Context, userText string, call func([]models.Message) (string, error)) (string, error) {
	if strings.TrimSpace(userText) == "" {
		return "", fmt.Errorf("empty message: %w", ErrInvalidInput)
	}

	s.messages = append(s.messages, models.Message{Role: models.RoleUser, Content: userText})

	start := time.Now()
	reply, err := call(s.Messages())
	if err != nil {
		if s.opts.RollbackOnError {
			s.messages = s.messages[:len(s.messages)-1]
		}
		s.logger.Warn("model call failed",
			zap.Error(err),
			zap.String("kind", llm.KindName(err)),
			zap.Bool("rolled_back", s.opts.RollbackOnError),
			zap.Duration("elapsed", time.Since(start)))
		return "", err
	}

	s.messages = append(s.messages, models.Message{Role: models.RoleAssistant, Content: reply})
	s.trim()

	s.logger.Debug("round-trip complete",
		zap.Int("history", len(s.messages)),
		zap.Duration("elapsed", time.Since(start)))
	return reply, nil
}

func (s *Session) callOptions() []llm.CallOption {
	var opts []llm.CallOption
	if s.opts.Model != "" {
		opts = append(opts, llm.WithModel(s.opts.Model))
	}
	if s.opts.Temperature != nil {
		opts = append(opts, llm.WithTemperature(*s.opts.Temperature))
	}
	if s.opts.MaxTokens > 0 {
		opts = append(opts, llm.WithMaxTokens(s.opts.MaxTokens))
	}
	return opts
}

// trim applies the MaxTurns window. The leading system message always stays.
func (s *Session) trim() {
	if s.opts.MaxTurns <= 0 {
		return
	}
	limit := 2 * s.opts.MaxTurns

	var system []models.Message
	rest := s.messages
	if len(rest) > 0 && rest[0].Role == models.RoleSystem {
		system, rest = rest[:1], rest[1:]
	}
	if len(rest) <= limit {
		return
	}

	trimmed := make([]models.Message, 0, len(system)+limit)
	trimmed = append(trimmed, system...)
	trimmed = append(trimmed, rest[len(rest)-limit:]...)
	s.messages = trimmed
}

// Transcript snapshots the session for saving.
func (s *Session) Transcript(endedAt time.Time) models.Transcript {
	return models.Transcript{
		ID:        s.id,
		Model:     s.opts.Model,
		Personas:  s.Personas(),
		StartedAt: s.startedAt,
		EndedAt:   endedAt,
		Messages:  s.Messages(),
	}
}
