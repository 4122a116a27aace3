package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidSidecallProviders lists the provider names the side-call backend
// understands. Used by [Validate] to warn about unrecognised names.
var ValidSidecallProviders = []string{
	"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.ScriptPath == "" {
		errs = append(errs, errors.New("script_path is required"))
	}

	if cfg.Audio.FrameSamples < 0 {
		errs = append(errs, fmt.Errorf("audio.frame_samples %d must not be negative", cfg.Audio.FrameSamples))
	}

	if cfg.Sidecall.Provider != "" && !slices.Contains(ValidSidecallProviders, cfg.Sidecall.Provider) {
		slog.Warn("unknown sidecall provider name — may be a typo or third-party provider",
			"name", cfg.Sidecall.Provider,
			"known", ValidSidecallProviders,
		)
	}

	// Soft issues the performer should know about before curtain.
	if cfg.Live.APIKey == "" && os.Getenv("GEMINI_API_KEY") == "" {
		slog.Warn("live.api_key is empty and GEMINI_API_KEY is unset; sessions will fail to start")
	}
	if cfg.Archive.PostgresDSN == "" {
		slog.Warn("archive.postgres_dsn is empty; performed sessions will not be archived")
	}

	return errors.Join(errs...)
}
