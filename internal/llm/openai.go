package llm

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/RichardoC/goblin/internal/models"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"
)

const (
	ProviderOpenAI = "openai"

	// DefaultOpenAIBaseURL is Hunyuan's OpenAI-compatible endpoint.
	DefaultOpenAIBaseURL = "https://api.hunyuan.cloud.tencent.com/v1"
)

// OpenAIConfig configures an OpenAI-compatible endpoint.
type OpenAIConfig struct {
	BaseURL string
	Token   string
	Model   string
}

// OpenAI is a Completer for any OpenAI-compatible chat endpoint, using
// langchaingo as the client.
type OpenAI struct {
	llm    llms.Model
	model  string
	logger *zap.Logger
}

func NewOpenAI(cfg OpenAIConfig, logger *zap.Logger) (*OpenAI, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, &Error{Kind: ErrAuthentication, Provider: ProviderOpenAI, Message: "api token is required"}
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOpenAIBaseURL
	}

	llm, err := openai.New(
		openai.WithToken(cfg.Token),
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithModel(cfg.Model),
	)
	if err != nil {
		return nil, classifyOpenAI(err)
	}
	return newOpenAI(llm, cfg.Model, logger), nil
}

func newOpenAI(llm llms.Model, model string, logger *zap.Logger) *OpenAI {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OpenAI{llm: llm, model: model, logger: logger}
}

func (o *OpenAI) Complete(ctx context.Context, history []models.Message, opts ...CallOption) (string, error) {
	return o.generate(ctx, history, nil, opts)
}

func (o *OpenAI) Stream(ctx context.Context, history []models.Message, onDelta func(string) error, opts ...CallOption) (string, error) {
	if onDelta == nil {
		onDelta = func(string) error { return nil }
	}
	return o.generate(ctx, history, onDelta, opts)
}

func (o *OpenAI) generate(ctx context.Context, history []models.Message, onDelta func(string) error, opts []CallOption) (string, error) {
	if err := validateHistory(ProviderOpenAI, history); err != nil {
		return "", err
	}
	co := applyOptions(o.model, opts)

	callOpts := []llms.CallOption{llms.WithModel(co.Model)}
	if co.Temperature != nil {
		callOpts = append(callOpts, llms.WithTemperature(*co.Temperature))
	}
	if co.TopP != nil {
		callOpts = append(callOpts, llms.WithTopP(*co.TopP))
	}
	if co.MaxTokens > 0 {
		callOpts = append(callOpts, llms.WithMaxTokens(co.MaxTokens))
	}
	if onDelta != nil {
		callOpts = append(callOpts, llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
			if len(chunk) == 0 {
				return nil
			}
			return onDelta(string(chunk))
		}))
	}

	resp, err := o.llm.GenerateContent(ctx, toMessageContent(history), callOpts...)
	if err != nil {
		return "", classifyOpenAI(err)
	}
	if resp == nil || len(resp.Choices) == 0 || resp.Choices[0] == nil {
		return "", malformed(ProviderOpenAI, "no choices")
	}
	return resp.Choices[0].Content, nil
}

func toMessageContent(history []models.Message) []llms.MessageContent {
	out := make([]llms.MessageContent, 0, len(history))
	for _, m := range history {
		var t llms.ChatMessageType
		switch m.Role {
		case models.RoleSystem:
			t = llms.ChatMessageTypeSystem
		case models.RoleAssistant:
			t = llms.ChatMessageTypeAI
		default:
			t = llms.ChatMessageTypeHuman
		}
		out = append(out, llms.TextParts(t, m.Content))
	}
	return out
}

var statusCodePattern = regexp.MustCompile(`status code:? (\d{3})`)

// classifyOpenAI recovers the HTTP status from langchaingo's error text, since
// the client does not expose a typed API error.
func classifyOpenAI(err error) error {
	if isTransportFailure(err) {
		return &Error{Kind: ErrTransport, Provider: ProviderOpenAI, Err: err}
	}

	e := &Error{Kind: ErrService, Provider: ProviderOpenAI, Err: err}
	if m := statusCodePattern.FindStringSubmatch(err.Error()); m != nil {
		status, _ := strconv.Atoi(m[1])
		e.Kind = classifyHTTPStatus(status)
		e.Code = m[1]
		return e
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "unauthorized"), strings.Contains(msg, "invalid api key"), strings.Contains(msg, "incorrect api key"):
		e.Kind = ErrAuthentication
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "quota"):
		e.Kind = ErrQuotaExceeded
	case strings.Contains(msg, "decode"), strings.Contains(msg, "unmarshal"), strings.Contains(msg, "eof"):
		e.Kind = ErrTransport
	}
	return e
}
