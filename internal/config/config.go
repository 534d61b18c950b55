// Package config handles Chalkboard configuration loading.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds all Chalkboard configuration.
type Config struct {
	Listen     string           `yaml:"listen"`
	DBPath     string           `yaml:"db_path"`
	WebDir     string           `yaml:"web_dir"`
	Completion CompletionConfig `yaml:"completion"`
	Audio      AudioConfig      `yaml:"audio"`

	// Models maps a caller-facing model id to the provider slug sent
	// upstream. An id with no entry is passed through unchanged.
	Models      map[string]string `yaml:"models"`
	ImageModels map[string]string `yaml:"image_models"`

	// HistoryTokenBudget caps how much conversation history is replayed
	// to the completion API. Zero disables trimming.
	HistoryTokenBudget int `yaml:"history_token_budget"`

	// BootstrapToken, when set, guarantees a default user exists with
	// this API token. Intended for single-user deployments.
	BootstrapToken string `yaml:"bootstrap_token"`
}

// CompletionConfig defines the upstream completion API.
type CompletionConfig struct {
	BaseURL      string  `yaml:"base_url"`
	APIKey       string  `yaml:"api_key"`
	DefaultModel string  `yaml:"default_model"`
	ImageModel   string  `yaml:"image_model"`
	Temperature  float64 `yaml:"temperature"`

	// ImageEndpoint selects how images are generated: "chat" sends a
	// chat-completion request with a modalities hint, "images" uses the
	// dedicated /images/generations endpoint.
	ImageEndpoint string `yaml:"image_endpoint"`
}

// AudioConfig defines the upstream speech endpoints the server proxies.
type AudioConfig struct {
	TranscriptionURL string `yaml:"transcription_url"`
	SpeechURL        string `yaml:"speech_url"`
}

// Load reads the config file at path (if it exists), applies environment
// overrides, and fills defaults. A missing file is not an error; a missing
// API key is.
func Load(path string) (*Config, error) {
	cfg := &Config{
		Listen: ":8100",
		DBPath: "chalkboard.db",
		WebDir: "web",
		Completion: CompletionConfig{
			BaseURL:       "https://openrouter.ai/api/v1",
			DefaultModel:  "openai/gpt-4o-mini",
			Temperature:   0.7,
			ImageEndpoint: "chat",
		},
		HistoryTokenBudget: 24000,
	}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		case os.IsNotExist(err):
			// Fall through to env and defaults.
		default:
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if cfg.Completion.APIKey == "" {
		return nil, fmt.Errorf("completion API key is required (set CHALKBOARD_API_KEY or completion.api_key)")
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("CHALKBOARD_LISTEN"); v != "" {
		cfg.Listen = v
	}
	if v := os.Getenv("CHALKBOARD_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("CHALKBOARD_API_KEY"); v != "" {
		cfg.Completion.APIKey = v
	}
	if v := os.Getenv("CHALKBOARD_BASE_URL"); v != "" {
		cfg.Completion.BaseURL = v
	}
	if v := os.Getenv("CHALKBOARD_DEFAULT_MODEL"); v != "" {
		cfg.Completion.DefaultModel = v
	}
	if v := os.Getenv("CHALKBOARD_BOOTSTRAP_TOKEN"); v != "" {
		cfg.BootstrapToken = v
	}
}

// ResolveModel maps a caller-facing model id to its provider slug.
func (c *Config) ResolveModel(id string) string {
	if id == "" {
		return c.Completion.DefaultModel
	}
	if slug, ok := c.Models[id]; ok {
		return slug
	}
	return id
}

// ResolveImageModel maps a caller-facing image model id to its provider slug.
func (c *Config) ResolveImageModel(id string) string {
	if id == "" {
		return c.Completion.ImageModel
	}
	if slug, ok := c.ImageModels[id]; ok {
		return slug
	}
	return id
}
