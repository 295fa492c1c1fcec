package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"goa.design/relay/features/model/middleware"
	"goa.design/relay/features/model/openai"
	"goa.design/relay/features/search/cache"
	"goa.design/relay/research"
)

type (
	// Config is the complete relay configuration. Values come from an optional
	// YAML file overlaid by environment variables.
	Config struct {
		Model      ModelConfig    `yaml:"model"`
		Search     SearchConfig   `yaml:"search"`
		Store      StoreConfig    `yaml:"store"`
		Redis      RedisConfig    `yaml:"redis"`
		Stream     StreamConfig   `yaml:"stream"`
		Guardrails string         `yaml:"guardrails" validate:"omitempty,oneof=judge rules"`
		Timeouts   TimeoutsConfig `yaml:"timeouts"`
	}

	// ModelConfig selects the model provider. Provider "none" runs the
	// deterministic pipeline without a model.
	ModelConfig struct {
		Provider string  `yaml:"provider" validate:"required,oneof=openai anthropic none"`
		APIKey   string  `yaml:"api_key" validate:"required_unless=Provider none"`
		BaseURL  string  `yaml:"base_url" validate:"omitempty,url"`
		Name     string  `yaml:"name" validate:"required_unless=Provider none"`
		TPM      float64 `yaml:"tpm" validate:"gte=0"`
	}

	// SearchConfig configures the Tavily search capability.
	SearchConfig struct {
		APIKey     string        `yaml:"api_key" validate:"required"`
		MaxResults int           `yaml:"max_results" validate:"gte=1,lte=10"`
		CacheTTL   time.Duration `yaml:"cache_ttl" validate:"gte=0"`
	}

	// StoreConfig selects the session store.
	StoreConfig struct {
		Kind          string `yaml:"kind" validate:"required,oneof=file mongo redis"`
		Dir           string `yaml:"dir" validate:"required_if=Kind file"`
		MongoURI      string `yaml:"mongo_uri" validate:"required_if=Kind mongo"`
		MongoDatabase string `yaml:"mongo_database" validate:"required_if=Kind mongo"`
	}

	// RedisConfig locates the Redis server used by the redis store and the
	// Pulse event stream.
	RedisConfig struct {
		URL      string `yaml:"url" validate:"required"`
		Password string `yaml:"password"`
	}

	// StreamConfig enables the turn event outputs. EventLog persists events in
	// the Mongo database of StoreConfig.
	StreamConfig struct {
		Pulse    bool `yaml:"pulse"`
		EventLog bool `yaml:"event_log"`
	}

	// TimeoutsConfig bounds external calls.
	TimeoutsConfig struct {
		Model     time.Duration `yaml:"model" validate:"gte=0"`
		Tool      time.Duration `yaml:"tool" validate:"gte=0"`
		Guardrail time.Duration `yaml:"guardrail" validate:"gte=0"`
	}
)

// Default model identifiers per provider.
const (
	defaultGeminiModel    = "gemini-2.5-flash"
	defaultOpenAIModel    = "gpt-4o-mini"
	defaultAnthropicModel = "claude-3-5-haiku-latest"
)

// defaultConfig returns the configuration used when nothing overrides it.
func defaultConfig() Config {
	return Config{
		Model:  ModelConfig{Provider: "openai", TPM: middleware.DefaultTPM},
		Search: SearchConfig{MaxResults: research.DefaultMaxResults, CacheTTL: cache.DefaultTTL},
		Store:  StoreConfig{Kind: "file", Dir: ".", MongoDatabase: "relay"},
		Redis:  RedisConfig{URL: "localhost:6379"},
	}
}

// LoadConfig builds the configuration from the YAML file at path (optional)
// and the environment read through getenv, then validates it.
func LoadConfig(path string, getenv func(string) string) (Config, error) {
	cfg := defaultConfig()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg, getenv); err != nil {
		return Config{}, err
	}
	cfg.resolveModel(getenv)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration and reports every invalid field.
func (c Config) Validate() error {
	err := validator.New(validator.WithRequiredStructEnabled()).Struct(c)
	if err == nil {
		if c.Stream.EventLog && c.Store.MongoURI == "" {
			return errors.New("invalid config: the event log requires MONGO_URI")
		}
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("invalid config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// resolveModel fills the provider key and default model. The OpenAI provider
// targets the Gemini endpoint when only a Gemini key is available.
func (c *Config) resolveModel(getenv func(string) string) {
	m := &c.Model
	switch m.Provider {
	case "openai":
		if m.APIKey == "" {
			if k := getenv("OPENAI_API_KEY"); k != "" {
				m.APIKey = k
			} else if k := getenv("GEMINI_API_KEY"); k != "" {
				m.APIKey = k
				if m.BaseURL == "" {
					m.BaseURL = openai.GeminiBaseURL
				}
			}
		}
		if m.Name == "" {
			m.Name = defaultOpenAIModel
			if m.BaseURL == openai.GeminiBaseURL {
				m.Name = defaultGeminiModel
			}
		}
	case "anthropic":
		if m.APIKey == "" {
			m.APIKey = getenv("ANTHROPIC_API_KEY")
		}
		if m.Name == "" {
			m.Name = defaultAnthropicModel
		}
	}
}

func applyEnv(cfg *Config, getenv func(string) string) error {
	var errs []error
	str := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v := getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	float := func(key string, dst *float64) {
		if v := getenv(key); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = f
		}
	}
	boolean := func(key string, dst *bool) {
		if v := getenv(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}

	str("RELAY_MODEL_PROVIDER", &cfg.Model.Provider)
	str("RELAY_MODEL_BASE_URL", &cfg.Model.BaseURL)
	str("RELAY_MODEL", &cfg.Model.Name)
	float("RELAY_MODEL_TPM", &cfg.Model.TPM)
	str("TAVILY_API_KEY", &cfg.Search.APIKey)
	dur("RELAY_SEARCH_CACHE_TTL", &cfg.Search.CacheTTL)
	str("RELAY_STORE", &cfg.Store.Kind)
	str("RELAY_STORE_DIR", &cfg.Store.Dir)
	str("MONGO_URI", &cfg.Store.MongoURI)
	str("MONGO_DATABASE", &cfg.Store.MongoDatabase)
	str("REDIS_URL", &cfg.Redis.URL)
	str("REDIS_PASSWORD", &cfg.Redis.Password)
	boolean("RELAY_STREAM_PULSE", &cfg.Stream.Pulse)
	boolean("RELAY_EVENT_LOG", &cfg.Stream.EventLog)
	str("RELAY_GUARDRAILS", &cfg.Guardrails)
	dur("RELAY_MODEL_TIMEOUT", &cfg.Timeouts.Model)
	dur("RELAY_TOOL_TIMEOUT", &cfg.Timeouts.Tool)
	dur("RELAY_GUARDRAIL_TIMEOUT", &cfg.Timeouts.Guardrail)
	return errors.Join(errs...)
}
