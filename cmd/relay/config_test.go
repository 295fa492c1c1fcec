package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/relay/features/model/openai"
)

func envMap(kv map[string]string) func(string) string {
	return func(k string) string { return kv[k] }
}

func TestLoadConfigFromEnv(t *testing.T) {
	cfg, err := LoadConfig("", envMap(map[string]string{
		"GEMINI_API_KEY":      "g-key",
		"TAVILY_API_KEY":      "t-key",
		"RELAY_STORE_DIR":     "/tmp/relay",
		"RELAY_TOOL_TIMEOUT":  "5s",
		"RELAY_STREAM_PULSE":  "true",
		"RELAY_MODEL_TPM":     "1200",
		"RELAY_GUARDRAILS":    "rules",
		"RELAY_MODEL_TIMEOUT": "45s",
	}))
	require.NoError(t, err)

	assert.Equal(t, "openai", cfg.Model.Provider)
	assert.Equal(t, "g-key", cfg.Model.APIKey)
	assert.Equal(t, openai.GeminiBaseURL, cfg.Model.BaseURL)
	assert.Equal(t, defaultGeminiModel, cfg.Model.Name)
	assert.InDelta(t, 1200, cfg.Model.TPM, 0)
	assert.Equal(t, "t-key", cfg.Search.APIKey)
	assert.Equal(t, "file", cfg.Store.Kind)
	assert.Equal(t, "/tmp/relay", cfg.Store.Dir)
	assert.True(t, cfg.Stream.Pulse)
	assert.Equal(t, "rules", cfg.Guardrails)
	assert.Equal(t, 5*time.Second, cfg.Timeouts.Tool)
	assert.Equal(t, 45*time.Second, cfg.Timeouts.Model)
}

func TestLoadConfigPrefersOpenAIKey(t *testing.T) {
	cfg, err := LoadConfig("", envMap(map[string]string{
		"OPENAI_API_KEY": "o-key",
		"GEMINI_API_KEY": "g-key",
		"TAVILY_API_KEY": "t-key",
	}))
	require.NoError(t, err)
	assert.Equal(t, "o-key", cfg.Model.APIKey)
	assert.Empty(t, cfg.Model.BaseURL)
	assert.Equal(t, defaultOpenAIModel, cfg.Model.Name)
}

func TestLoadConfigYAMLOverlaidByEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
model:
  provider: anthropic
  name: claude-test
search:
  api_key: yaml-tavily
  max_results: 5
store:
  kind: mongo
  mongo_uri: mongodb://yaml:27017
timeouts:
  guardrail: 3s
`), 0o600))

	cfg, err := LoadConfig(path, envMap(map[string]string{
		"ANTHROPIC_API_KEY": "a-key",
		"MONGO_URI":         "mongodb://env:27017",
	}))
	require.NoError(t, err)
	assert.Equal(t, "anthropic", cfg.Model.Provider)
	assert.Equal(t, "a-key", cfg.Model.APIKey)
	assert.Equal(t, "claude-test", cfg.Model.Name)
	assert.Equal(t, "yaml-tavily", cfg.Search.APIKey)
	assert.Equal(t, 5, cfg.Search.MaxResults)
	assert.Equal(t, "mongo", cfg.Store.Kind)
	assert.Equal(t, "mongodb://env:27017", cfg.Store.MongoURI)
	assert.Equal(t, "relay", cfg.Store.MongoDatabase)
	assert.Equal(t, 3*time.Second, cfg.Timeouts.Guardrail)
}

func TestLoadConfigErrors(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"missing model key", map[string]string{"TAVILY_API_KEY": "t"}, "Model.APIKey"},
		{"missing search key", map[string]string{"GEMINI_API_KEY": "g"}, "Search.APIKey"},
		{"unknown provider", map[string]string{"RELAY_MODEL_PROVIDER": "llama", "TAVILY_API_KEY": "t"}, "Model.Provider"},
		{"unknown store", map[string]string{"GEMINI_API_KEY": "g", "TAVILY_API_KEY": "t", "RELAY_STORE": "sqlite"}, "Store.Kind"},
		{"mongo without uri", map[string]string{"GEMINI_API_KEY": "g", "TAVILY_API_KEY": "t", "RELAY_STORE": "mongo"}, "Store.MongoURI"},
		{"bad guardrails", map[string]string{"GEMINI_API_KEY": "g", "TAVILY_API_KEY": "t", "RELAY_GUARDRAILS": "strict"}, "Guardrails"},
		{"bad duration", map[string]string{"GEMINI_API_KEY": "g", "TAVILY_API_KEY": "t", "RELAY_TOOL_TIMEOUT": "soon"}, "RELAY_TOOL_TIMEOUT"},
		{"bad bool", map[string]string{"GEMINI_API_KEY": "g", "TAVILY_API_KEY": "t", "RELAY_STREAM_PULSE": "maybe"}, "RELAY_STREAM_PULSE"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadConfig("", envMap(tc.env))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestLoadConfigWithoutModel(t *testing.T) {
	cfg, err := LoadConfig("", envMap(map[string]string{
		"RELAY_MODEL_PROVIDER": "none",
		"TAVILY_API_KEY":       "t",
	}))
	require.NoError(t, err)
	assert.Empty(t, cfg.Model.APIKey)
}

func TestLoadStoreConfigNeedsNoKeys(t *testing.T) {
	cfg, err := loadStoreConfig("", envMap(map[string]string{"RELAY_STORE": "redis", "REDIS_URL": "cache:6379"}))
	require.NoError(t, err)
	assert.Equal(t, "redis", cfg.Store.Kind)
	assert.Equal(t, "cache:6379", cfg.Redis.URL)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"), envMap(nil))
	assert.ErrorContains(t, err, "read config")
}
