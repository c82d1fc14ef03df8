package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		Server: ServerConfig{
			Host:      "127.0.0.1",
			Port:      30000,
			ModelPath: "/models/llama",
		},
		Engine: EngineConfig{BaseURL: "http://127.0.0.1:30001"},
		Workers: WorkersConfig{
			Tokenizer:   WorkerConfig{Command: []string{"worker", "--role", "tokenizer"}},
			Scheduler:   WorkerConfig{Command: []string{"worker", "--role", "scheduler"}},
			Detokenizer: WorkerConfig{Command: []string{"worker", "--role", "detokenizer"}},
		},
	}
}

func TestLoad_ParsesFullConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  host: 0.0.0.0
  port: 30000
  api_key: secret
  model_path: /models/llama
  chat_template: chatml
engine:
  base_url: http://127.0.0.1:30001
workers:
  tokenizer:
    command: ["worker", "--role", "tokenizer"]
  scheduler:
    command: ["worker", "--role", "scheduler"]
  detokenizer:
    command: ["worker", "--role", "detokenizer"]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 30000, cfg.Server.Port)
	assert.Equal(t, "secret", cfg.Server.APIKey)
	assert.Equal(t, "chatml", cfg.Server.ChatTemplate)
	assert.Equal(t, "http://127.0.0.1:30001", cfg.Engine.BaseURL)
	assert.Equal(t, []string{"worker", "--role", "scheduler"}, cfg.Workers.Scheduler.Command)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorContains(t, err, "read config file")
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [not: a: mapping"), 0o644))

	_, err := Load(path)
	assert.ErrorContains(t, err, "parse config file")
}

func TestValidate_RejectsBadValues(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"zero port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"port too large", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"missing model path", func(c *Config) { c.Server.ModelPath = " " }, "model_path"},
		{"missing engine url", func(c *Config) { c.Engine.BaseURL = "" }, "engine.base_url"},
		{"missing worker command", func(c *Config) { c.Workers.Scheduler.Command = nil }, "workers.scheduler"},
		{"blank worker argument", func(c *Config) { c.Workers.Tokenizer.Command = []string{"worker", " "} }, "workers.tokenizer"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorContains(t, err, tc.wantErr)
		})
	}
}

func TestURL_DefaultsHost(t *testing.T) {
	cfg := validConfig()
	assert.Equal(t, "http://127.0.0.1:30000", cfg.URL())

	cfg.Server.Host = ""
	assert.Equal(t, "http://127.0.0.1:30000", cfg.URL())
}

func TestServerArgs_NeverEchoesAPIKey(t *testing.T) {
	cfg := validConfig()
	cfg.Server.APIKey = "super-secret"

	args := cfg.ServerArgs()
	assert.Equal(t, true, args["api_key_configured"])
	for _, value := range args {
		if s, ok := value.(string); ok {
			assert.NotContains(t, s, "super-secret")
		}
	}

	cfg.Server.APIKey = ""
	assert.Equal(t, false, cfg.ServerArgs()["api_key_configured"])
}
