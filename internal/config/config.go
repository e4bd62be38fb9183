// Package config loads taxo settings from ~/.taxo/config.yaml and the
// environment.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Collaborator modes.
const (
	ModeRemote = "remote"
	ModeLocal  = "local"
	ModeFile   = "file"
	ModePage   = "page"
)

// Config represents ~/.taxo/config.yaml
type Config struct {
	Database  string `yaml:"database"`
	Workspace string `yaml:"workspace"`
	Author    string `yaml:"author,omitempty"`
	Addr      string `yaml:"addr"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	Algorithm  AlgorithmConfig  `yaml:"algorithm"`
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	Captions   CaptionsConfig   `yaml:"captions"`
}

// AlgorithmConfig selects the clustering collaborator.
type AlgorithmConfig struct {
	Mode    string        `yaml:"mode"` // remote | local
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// EmbeddingsConfig locates precomputed embeddings for local clustering.
// MaxDim bounds the dimensions kept by PCA; 0 keeps every dimension.
type EmbeddingsConfig struct {
	Path   string `yaml:"path"`
	MaxDim int    `yaml:"max_dim"`
}

// CaptionsConfig selects the captioning collaborator.
type CaptionsConfig struct {
	Mode string `yaml:"mode"` // remote | file | page
	Path string `yaml:"path"`

	// PageURL is the page template for page mode, e.g.
	// https://example.org/items/{subject}
	PageURL string `yaml:"page_url,omitempty"`

	// Refine rewrites captions into category names with a language model.
	Refine bool `yaml:"refine"`
}

// Dir returns ~/.taxo
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".taxo"
	}
	return filepath.Join(home, ".taxo")
}

// DefaultPath returns ~/.taxo/config.yaml
func DefaultPath() string {
	return filepath.Join(Dir(), "config.yaml")
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Database:  filepath.Join(Dir(), "taxo.db"),
		Workspace: "default",
		Addr:      ":8080",
		LogLevel:  "info",
		LogFormat: "text",
		Algorithm: AlgorithmConfig{
			Mode:    ModeRemote,
			BaseURL: "http://localhost:5000",
			Timeout: 60 * time.Second,
		},
		Embeddings: EmbeddingsConfig{
			MaxDim: 20,
		},
		Captions: CaptionsConfig{
			Mode: ModeRemote,
		},
	}
}

// Load reads path over the defaults, then applies environment overrides.
// A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("TAXO_DB"); v != "" {
		c.Database = v
	}
	if v := os.Getenv("TAXO_AUTHOR"); v != "" {
		c.Author = v
	}
	if v := os.Getenv("TAXO_ALGORITHM_URL"); v != "" {
		c.Algorithm.BaseURL = v
	}
}

// Validate checks the collaborator modes and the paths they need.
func (c *Config) Validate() error {
	switch c.Algorithm.Mode {
	case ModeRemote:
	case ModeLocal:
		if c.Embeddings.Path == "" {
			return fmt.Errorf("config: algorithm mode %q needs embeddings.path", ModeLocal)
		}
	default:
		return fmt.Errorf("config: unknown algorithm mode %q", c.Algorithm.Mode)
	}
	if c.Embeddings.MaxDim < 0 {
		return fmt.Errorf("config: embeddings.max_dim must not be negative, got %d", c.Embeddings.MaxDim)
	}

	switch c.Captions.Mode {
	case ModeRemote:
	case ModeFile:
		if c.Captions.Path == "" {
			return fmt.Errorf("config: captions mode %q needs captions.path", ModeFile)
		}
	case ModePage:
		if c.Captions.PageURL == "" {
			return fmt.Errorf("config: captions mode %q needs captions.page_url", ModePage)
		}
	default:
		return fmt.Errorf("config: unknown captions mode %q", c.Captions.Mode)
	}

	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// Save writes the config to path.
func Save(path string, c *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Logger builds the slog logger described by log_level and log_format.
func (c *Config) Logger(w io.Writer) *slog.Logger {
	level, _ := parseLevel(c.LogLevel)
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("config: unknown log level %q", s)
}
