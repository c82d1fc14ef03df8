package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration parsed from YAML.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Engine  EngineConfig  `yaml:"engine"`
	Workers WorkersConfig `yaml:"workers"`
}

// ServerConfig defines the HTTP listener and gateway-wide settings.
type ServerConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	APIKey       string `yaml:"api_key"`
	ModelPath    string `yaml:"model_path"`
	ChatTemplate string `yaml:"chat_template"`
}

// EngineConfig locates the tokenizer coordinator the gateway talks to.
type EngineConfig struct {
	BaseURL string `yaml:"base_url"`
}

// WorkersConfig describes the worker processes the gateway supervises.
type WorkersConfig struct {
	Tokenizer   WorkerConfig `yaml:"tokenizer"`
	Scheduler   WorkerConfig `yaml:"scheduler"`
	Detokenizer WorkerConfig `yaml:"detokenizer"`
}

// WorkerConfig is the command line used to spawn one worker process.
type WorkerConfig struct {
	Command []string `yaml:"command"`
}

// Load reads YAML configuration from disk and validates the result.
func Load(path string) (Config, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return Config{}, fmt.Errorf("resolve config path: %w", err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return Config{}, fmt.Errorf("read config file %q: %w", absPath, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config file %q: %w", absPath, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate performs strict sanity checks on the configuration.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be a valid TCP port, got %d", c.Server.Port)
	}
	if strings.TrimSpace(c.Server.ModelPath) == "" {
		return fmt.Errorf("server.model_path must be provided")
	}
	if strings.TrimSpace(c.Engine.BaseURL) == "" {
		return fmt.Errorf("engine.base_url must be provided")
	}

	workers := map[string]WorkerConfig{
		"tokenizer":   c.Workers.Tokenizer,
		"scheduler":   c.Workers.Scheduler,
		"detokenizer": c.Workers.Detokenizer,
	}
	for name, worker := range workers {
		if err := validateWorker(name, worker); err != nil {
			return err
		}
	}
	return nil
}

func validateWorker(name string, worker WorkerConfig) error {
	if len(worker.Command) == 0 {
		return fmt.Errorf("workers.%s: command must be provided", name)
	}
	for _, arg := range worker.Command {
		if strings.TrimSpace(arg) == "" {
			return fmt.Errorf("workers.%s: command must not contain empty arguments", name)
		}
	}
	return nil
}

// URL returns the base URL the gateway itself listens on.
func (c Config) URL() string {
	host := c.Server.Host
	if host == "" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("http://%s:%d", host, c.Server.Port)
}

// ServerArgs flattens the configuration for the introspection endpoint.
// The API key itself is never echoed back, only whether one is set.
func (c Config) ServerArgs() map[string]any {
	return map[string]any{
		"host":                c.Server.Host,
		"port":                c.Server.Port,
		"model_path":          c.Server.ModelPath,
		"chat_template":       c.Server.ChatTemplate,
		"api_key_configured":  c.Server.APIKey != "",
		"engine_base_url":     c.Engine.BaseURL,
		"tokenizer_command":   strings.Join(c.Workers.Tokenizer.Command, " "),
		"scheduler_command":   strings.Join(c.Workers.Scheduler.Command, " "),
		"detokenizer_command": strings.Join(c.Workers.Detokenizer.Command, " "),
	}
}
