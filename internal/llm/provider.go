package llm

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Settings selects and configures a provider.
type Settings struct {
	Provider string
	Model    string
	Timeout  time.Duration
	Hunyuan  HunyuanConfig
	OpenAI   OpenAIConfig
}

// New builds the Completer named by s.Provider, wrapped for tracing.
func New(s Settings, logger *zap.Logger) (Completer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var (
		c   Completer
		err error
	)
	switch s.Provider {
	case ProviderHunyuan, "":
		cfg := s.Hunyuan
		cfg.Model = s.Model
		cfg.Timeout = s.Timeout
		c, err = NewHunyuan(cfg, logger.Named(ProviderHunyuan))
	case ProviderOpenAI:
		cfg := s.OpenAI
		cfg.Model = s.Model
		c, err = NewOpenAI(cfg, logger.Named(ProviderOpenAI))
	default:
		return nil, fmt.Errorf("unknown provider %q", s.Provider)
	}
	if err != nil {
		return nil, err
	}

	name := s.Provider
	if name == "" {
		name = ProviderHunyuan
	}
	logger.Info("model client ready",
		zap.String("provider", name),
		zap.String("model", s.Model))
	return Traced(c, name, nil), nil
}
