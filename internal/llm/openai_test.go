package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/RichardoC/goblin/internal/models"
	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap/zaptest"
)

type fakeModel struct {
	messages []llms.MessageContent
	opts     llms.CallOptions
	chunks   []string
	reply    string
	err      error
}

func (f *fakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	f.messages = messages
	for _, opt := range options {
		opt(&f.opts)
	}
	if f.err != nil {
		return nil, f.err
	}
	if f.opts.StreamingFunc != nil {
		for _, c := range f.chunks {
			if err := f.opts.StreamingFunc(ctx, []byte(c)); err != nil {
				return nil, err
			}
		}
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: f.reply}}}, nil
}

func (f *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

func TestNewOpenAI_MissingToken(t *testing.T) {
	_, err := NewOpenAI(OpenAIConfig{BaseURL: "http://localhost:11434/v1/"}, nil)
	if !errors.Is(err, ErrAuthentication) {
		t.Fatalf("got %v, want ErrAuthentication", err)
	}
}

func TestOpenAI_Complete(t *testing.T) {
	fake := &fakeModel{reply: "Fine"}
	o := newOpenAI(fake, "hunyuan-standard", zaptest.NewLogger(t))

	history := []models.Message{
		{Role: models.RoleSystem, Content: "be brief"},
		{Role: models.RoleUser, Content: "Hello"},
		{Role: models.RoleAssistant, Content: "Hi there"},
		{Role: models.RoleUser, Content: "How are you"},
	}
	reply, err := o.Complete(context.Background(), history, WithTemperature(0.2), WithMaxTokens(256))
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if reply != "Fine" {
		t.Errorf("got reply %q, want %q", reply, "Fine")
	}

	wantTypes := []llms.ChatMessageType{
		llms.ChatMessageTypeSystem,
		llms.ChatMessageTypeHuman,
		llms.ChatMessageTypeAI,
		llms.ChatMessageTypeHuman,
	}
	if len(fake.messages) != len(wantTypes) {
		t.Fatalf("got %d messages, want %d", len(fake.messages), len(wantTypes))
	}
	for i, want := range wantTypes {
		if fake.messages[i].Role != want {
			t.Errorf("message %d role = %q, want %q", i, fake.messages[i].Role, want)
		}
		part, ok := fake.messages[i].Parts[0].(llms.TextContent)
		if !ok || part.Text != history[i].Content {
			t.Errorf("message %d text = %v, want %q", i, fake.messages[i].Parts[0], history[i].Content)
		}
	}

	if fake.opts.Model != "hunyuan-standard" {
		t.Errorf("got model %q, want %q", fake.opts.Model, "hunyuan-standard")
	}
	if fake.opts.Temperature != 0.2 {
		t.Errorf("got temperature %v, want 0.2", fake.opts.Temperature)
	}
	if fake.opts.MaxTokens != 256 {
		t.Errorf("got max tokens %d, want 256", fake.opts.MaxTokens)
	}
	if fake.opts.StreamingFunc != nil {
		t.Error("Complete should not set a streaming func")
	}
}

func TestOpenAI_Stream(t *testing.T) {
	fake := &fakeModel{chunks: []string{"Hi", " ", "there"}, reply: "Hi there"}
	o := newOpenAI(fake, "m", zaptest.NewLogger(t))

	var got []string
	reply, err := o.Stream(context.Background(), []models.Message{{Role: models.RoleUser, Content: "Hello"}}, func(d string) error {
		got = append(got, d)
		return nil
	})
	if err != nil {
		t.Fatalf("Stream failed: %v", err)
	}
	if reply != "Hi there" {
		t.Errorf("got reply %q, want %q", reply, "Hi there")
	}
	if len(got) != 3 {
		t.Errorf("got %d deltas, want 3", len(got))
	}
}

func TestOpenAI_Complete_InvalidHistory(t *testing.T) {
	o := newOpenAI(&fakeModel{}, "m", zaptest.NewLogger(t))

	_, err := o.Complete(context.Background(), []models.Message{{Role: models.RoleAssistant, Content: "x"}})
	if !errors.Is(err, ErrInvalidInput) {
		t.Errorf("got %v, want ErrInvalidInput", err)
	}
}

func TestOpenAI_Complete_NoChoices(t *testing.T) {
	o := newOpenAI(&noChoiceModel{}, "m", zaptest.NewLogger(t))

	_, err := o.Complete(context.Background(), []models.Message{{Role: models.RoleUser, Content: "x"}})
	if !errors.Is(err, ErrTransport) {
		t.Errorf("got %v, want ErrTransport", err)
	}
}

type noChoiceModel struct{ fakeModel }

func (n *noChoiceModel) GenerateContent(context.Context, []llms.MessageContent, ...llms.CallOption) (*llms.ContentResponse, error) {
	return &llms.ContentResponse{}, nil
}

func TestClassifyOpenAI(t *testing.T) {
	tests := []struct {
		msg  string
		want error
	}{
		{"API returned unexpected status code: 401: invalid token", ErrAuthentication},
		{"API returned unexpected status code: 403", ErrAuthentication},
		{"API returned unexpected status code: 429: slow down", ErrQuotaExceeded},
		{"API returned unexpected status code: 500", ErrService},
		{"error, status code: 502, message: bad gateway", ErrService},
		{"You exceeded your current quota", ErrQuotaExceeded},
		{"failed to decode response", ErrTransport},
		{"model not found", ErrService},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			err := classifyOpenAI(errors.New(tt.msg))
			if !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestClassifyOpenAI_Deadline(t *testing.T) {
	if err := classifyOpenAI(context.DeadlineExceeded); !errors.Is(err, ErrTransport) {
		t.Errorf("got %v, want ErrTransport", err)
	}
}
