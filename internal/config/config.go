// Package config loads goblin's settings from defaults, an optional config
// file, a .env file and the environment, and watches the file for changes.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/RichardoC/goblin/internal/llm"
	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// EnvPrefix is prepended to every key when read from the environment,
// e.g. GOBLIN_SERVER_ADDR.
const EnvPrefix = "GOBLIN"

type Config struct {
	Provider string        `mapstructure:"provider"`
	Hunyuan  HunyuanConfig `mapstructure:"hunyuan"`
	OpenAI   OpenAIConfig  `mapstructure:"openai"`
	Model    ModelConfig   `mapstructure:"model"`
	Prompts  PromptsConfig `mapstructure:"prompts"`
	Logs     LogsConfig    `mapstructure:"logs"`
	Session  SessionConfig `mapstructure:"session"`
	Server   ServerConfig  `mapstructure:"server"`
	Database DBConfig      `mapstructure:"database"`
	Log      LogConfig     `mapstructure:"log"`
}

type HunyuanConfig struct {
	SecretID  string `mapstructure:"secret_id"`
	SecretKey string `mapstructure:"secret_key"`
	Region    string `mapstructure:"region"`
	Endpoint  string `mapstructure:"endpoint"`
}

type OpenAIConfig struct {
	BaseURL string `mapstructure:"base_url"`
	Token   string `mapstructure:"token"`
}

type ModelConfig struct {
	Default     string        `mapstructure:"default"`
	Catalog     string        `mapstructure:"catalog"`
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type PromptsConfig struct {
	Dir string `mapstructure:"dir"`
}

type LogsConfig struct {
	Dir string `mapstructure:"dir"`
}

type SessionConfig struct {
	MaxTurns    int           `mapstructure:"max_turns"`
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`

	// RollbackOnError is nil unless set in the file or environment, so each
	// front end can keep its own default.
	RollbackOnError *bool `mapstructure:"rollback_on_error"`
}

// Rollback reports session.rollback_on_error, or def when it is unset.
func (s SessionConfig) Rollback(def bool) bool {
	if s.RollbackOnError == nil {
		return def
	}
	return *s.RollbackOnError
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

type DBConfig struct {
	Path string `mapstructure:"path"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

var defaults = map[string]any{
	"provider":                  llm.ProviderHunyuan,
	"hunyuan.secret_id":         "",
	"hunyuan.secret_key":        "",
	"hunyuan.region":            "",
	"hunyuan.endpoint":          llm.DefaultHunyuanEndpoint,
	"openai.base_url":           llm.DefaultOpenAIBaseURL,
	"openai.token":              "",
	"model.default":             "hunyuan-a13b",
	"model.catalog":             "models.json",
	"model.temperature":         0.7,
	"model.max_tokens":          512,
	"model.timeout":             60 * time.Second,
	"prompts.dir":               "prompts",
	"logs.dir":                  "logs",
	"session.max_turns":         0,
	"session.idle_timeout":      time.Hour,
	"server.addr":               ":7860",
	"database.path":             "goblin.db",
	"log.level":                 "info",
	"log.development":           false,
}

// Extra environment names accepted for a key, in priority order after the
// GOBLIN_ prefixed name.
var envAliases = map[string][]string{
	"hunyuan.secret_id":  {"TENCENTCLOUD_SECRET_ID", "SECRET_ID"},
	"hunyuan.secret_key": {"TENCENTCLOUD_SECRET_KEY", "SECRET_KEY"},
	"hunyuan.region":     {"TENCENTCLOUD_REGION", "REGION"},
	"openai.token":       {"OPENAI_API_KEY"},
	"model.default":      {"MODEL_NAME"},

	// no default, so it only appears when set
	"session.rollback_on_error": nil,
}

// Loader holds the current configuration and reloads it when the file changes.
type Loader struct {
	v        *viper.Viper
	value    Config
	mu       sync.RWMutex
	watchers []func(old, new Config)
	logger   *zap.Logger
}

// Load reads configuration. path may be empty; envFiles are loaded into the
// process environment first and may be missing.
func Load(path string, envFiles ...string) (*Loader, error) {
	if err := loadEnvFiles(envFiles); err != nil {
		return nil, err
	}

	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, aliases := range envAliases {
		names := append([]string{EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))}, aliases...)
		if err := v.BindEnv(append([]string{key}, names...)...); err != nil {
			return nil, err
		}
	}

	l := &Loader{v: v, logger: zap.NewNop()}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	cfg, err := l.decode()
	if err != nil {
		return nil, err
	}
	l.value = cfg

	if path != "" {
		l.watch()
	}
	return l, nil
}

func loadEnvFiles(files []string) error {
	for _, f := range files {
		if f == "" {
			continue
		}
		// godotenv never overrides variables that are already set
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

func (l *Loader) decode() (Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	return cfg, nil
}

// Get returns a copy of the current configuration.
func (l *Loader) Get() Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.value
}

// SetLogger sets the logger used to report reload failures. Load runs before
// the logger exists, so it starts out as a no-op.
func (l *Loader) SetLogger(logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.logger = logger
}

// OnChange registers a callback for configuration file changes.
func (l *Loader) OnChange(callback func(old, new Config)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.watchers = append(l.watchers, callback)
}

func (l *Loader) watch() {
	var (
		debounceTimer *time.Timer
		debounceMu    sync.Mutex
	)

	l.v.OnConfigChange(func(_ fsnotify.Event) {
		debounceMu.Lock()
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
		debounceTimer = time.AfterFunc(100*time.Millisecond, l.reload)
		debounceMu.Unlock()
	})

	l.v.WatchConfig()
}

func (l *Loader) reload() {
	l.mu.Lock()
	old := l.value
	logger := l.logger
	if err := l.v.ReadInConfig(); err != nil {
		l.mu.Unlock()
		logger.Warn("config reload failed; keeping previous settings",
			zap.String("file", l.v.ConfigFileUsed()), zap.Error(err))
		return
	}
	cfg, err := l.decode()
	if err != nil {
		l.mu.Unlock()
		logger.Warn("config reload failed; keeping previous settings",
			zap.String("file", l.v.ConfigFileUsed()), zap.Error(err))
		return
	}
	l.value = cfg
	watchers := make([]func(old, new Config), len(l.watchers))
	copy(watchers, l.watchers)
	l.mu.Unlock()

	if reflect.DeepEqual(old, cfg) {
		return
	}
	for _, cb := range watchers {
		func() {
			defer func() { _ = recover() }()
			cb(old, cfg)
		}()
	}
}

// Validate checks the settings needed before serving any request. Missing
// credentials are reported as llm.ErrAuthentication.
func (c Config) Validate() error {
	switch c.Provider {
	case llm.ProviderHunyuan:
		if c.Hunyuan.SecretID == "" || c.Hunyuan.SecretKey == "" {
			return fmt.Errorf("hunyuan.secret_id and hunyuan.secret_key must be set (TENCENTCLOUD_SECRET_ID / TENCENTCLOUD_SECRET_KEY): %w", llm.ErrAuthentication)
		}
	case llm.ProviderOpenAI:
		if c.OpenAI.Token == "" {
			return fmt.Errorf("openai.token must be set (OPENAI_API_KEY): %w", llm.ErrAuthentication)
		}
		if c.OpenAI.BaseURL == "" {
			return errors.New("openai.base_url must be set")
		}
	default:
		return fmt.Errorf("unknown provider %q", c.Provider)
	}

	if c.Model.Default == "" {
		return errors.New("model.default must be set")
	}
	if c.Model.Temperature < 0 || c.Model.Temperature > 2 {
		return fmt.Errorf("model.temperature %v out of range [0, 2]", c.Model.Temperature)
	}
	if c.Model.MaxTokens < 0 {
		return fmt.Errorf("model.max_tokens %d must not be negative", c.Model.MaxTokens)
	}
	if c.Session.MaxTurns < 0 {
		return fmt.Errorf("session.max_turns %d must not be negative", c.Session.MaxTurns)
	}
	if c.Model.Timeout < 0 {
		return fmt.Errorf("model.timeout %v must not be negative", c.Model.Timeout)
	}
	return nil
}

// LLMSettings converts the provider section into llm.Settings.
func (c Config) LLMSettings() llm.Settings {
	return llm.Settings{
		Provider: c.Provider,
		Model:    c.Model.Default,
		Timeout:  c.Model.Timeout,
		Hunyuan: llm.HunyuanConfig{
			SecretID:  c.Hunyuan.SecretID,
			SecretKey: c.Hunyuan.SecretKey,
			Region:    c.Hunyuan.Region,
			Endpoint:  c.Hunyuan.Endpoint,
		},
		OpenAI: llm.OpenAIConfig{
			BaseURL: c.OpenAI.BaseURL,
			Token:   c.OpenAI.Token,
		},
	}
}
