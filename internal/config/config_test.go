package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "echo", cfg.Backend.Kind)
	assert.Equal(t, 64, cfg.Queue.Capacity)
	assert.True(t, cfg.Worker.AutoSaveNewGame)
}

func TestLoad_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tapestry.yaml")
	content := `
log:
  level: debug
backend:
  kind: ollama
  model: llama3
  timeout: 30s
store:
  kind: memory
  redact_patterns:
    - "\\d{16}"
queue:
  capacity: 8
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := load(path, []string{
		"TAPESTRY_QUEUE_CAPACITY=16",
		"TAPESTRY_STORE_FALLBACK_KEYS=a, b",
		"TAPESTRY_WORKER_AUTOSAVE_EXIT=false",
		"TAPESTRY_UNKNOWN_THING=1",
		"HOME=/root",
	})
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format, "defaults survive a partial section")
	assert.Equal(t, "ollama", cfg.Backend.Kind)
	assert.Equal(t, 30*time.Second, cfg.Backend.Timeout)
	assert.Equal(t, []string{`\d{16}`}, cfg.Store.RedactPatterns)
	assert.Equal(t, 16, cfg.Queue.Capacity, "env wins over file")
	assert.Equal(t, []string{"a", "b"}, cfg.Store.FallbackKeys)
	assert.False(t, cfg.Worker.AutoSaveExit)
	assert.True(t, cfg.Worker.AutoSaveNewGame)
}

func TestLoad_NoFile(t *testing.T) {
	cfg, err := load("", []string{"TAPESTRY_HTTP_ADDR=:9090"})
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.HTTP.Addr)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := load(filepath.Join(t.TempDir(), "nope.yaml"), nil)
	assert.ErrorContains(t, err, "failed to read config")
}

func TestLoad_UnknownKey(t *testing.T) {
	_, err := load("", []string{"TAPESTRY_BACKEND_FLAVOUR=spicy"})
	assert.ErrorContains(t, err, "invalid config")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown backend", func(c *Config) { c.Backend.Kind = "gpt2" }, "backend.kind"},
		{"unknown store", func(c *Config) { c.Store.Kind = "s3" }, "store.kind"},
		{"unknown queue", func(c *Config) { c.Queue.Kind = "kafka" }, "queue.kind"},
		{"zero capacity", func(c *Config) { c.Queue.Capacity = 0 }, "queue.capacity"},
		{"zero backend timeout", func(c *Config) { c.Backend.Timeout = 0 }, "backend.timeout"},
		{"postgres without dsn", func(c *Config) { c.Store.Kind = "postgres" }, "postgres_dsn"},
		{"ollama without model", func(c *Config) { c.Backend.Kind = "ollama" }, "backend.model"},
		{"process without command", func(c *Config) { c.Backend.Kind = "process" }, "backend.command"},
		{"fast redis poll", func(c *Config) {
			c.Queue.Kind = "redis"
			c.Queue.PollInterval = time.Millisecond
		}, "poll_interval"},
		{"redis queue over file store", func(c *Config) { c.Queue.Kind = "redis" }, "shared store"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}
}

func TestValidate_OpenAIModelOptional(t *testing.T) {
	cfg := Default()
	cfg.Backend.Kind = "openai"
	assert.NoError(t, cfg.Validate())
}

func TestLoad_ProcessArgsFromEnv(t *testing.T) {
	cfg, err := load("", []string{
		"TAPESTRY_BACKEND_KIND=process",
		"TAPESTRY_BACKEND_COMMAND=python3",
		"TAPESTRY_BACKEND_ARGS=generate.py,--fast",
	})
	require.NoError(t, err)
	assert.Equal(t, "python3", cfg.Backend.Command)
	assert.Equal(t, []string{"generate.py", "--fast"}, cfg.Backend.Args)
}

func TestLoad_EpisodeURLAndBusyTimeoutFromEnv(t *testing.T) {
	cfg, err := load("", []string{
		"TAPESTRY_EPISODE_ENABLED=true",
		"TAPESTRY_EPISODE_URL=http://localhost:9000/episodes",
		"TAPESTRY_AMQP_BUSY_TIMEOUT=5s",
	})
	require.NoError(t, err)
	assert.True(t, cfg.Episode.Enabled)
	assert.Equal(t, "http://localhost:9000/episodes", cfg.Episode.URL)
	assert.Equal(t, 5*time.Second, cfg.AMQP.BusyTimeout)
}
