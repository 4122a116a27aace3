// Package config provides the configuration schema and loader for the Telón
// live session server.
package config

// LogLevel controls log verbosity for the Telón server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for Telón.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Live     LiveConfig     `yaml:"live"`
	Sidecall SidecallConfig `yaml:"sidecall"`
	Audio    AudioConfig    `yaml:"audio"`
	Archive  ArchiveConfig  `yaml:"archive"`

	// ScriptPath points at the YAML scene script to perform.
	ScriptPath string `yaml:"script_path"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// MetricsAddr is the TCP address the Prometheus metrics endpoint listens
	// on (e.g., ":9091"). Empty disables the endpoint.
	MetricsAddr string `yaml:"metrics_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// LiveConfig configures the realtime conversation provider.
type LiveConfig struct {
	// APIKey is the Gemini Live API credential. Falls back to the
	// GEMINI_API_KEY environment variable when empty.
	APIKey string `yaml:"api_key"`

	// Model overrides the default live model.
	Model string `yaml:"model"`

	// BaseURL overrides the default WebSocket endpoint. Leave empty to use
	// the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Voice selects the prebuilt voice for the agent's replies.
	Voice string `yaml:"voice"`
}

// SidecallConfig configures the request/response model used for character
// identity extraction and scene summarization.
type SidecallConfig struct {
	// Provider selects the backend (e.g., "gemini", "openai", "ollama").
	Provider string `yaml:"provider"`

	// Model is the model name within the provider.
	Model string `yaml:"model"`

	// APIKey is the credential for the side-call provider. When empty the
	// backend falls back to its environment variable.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the backend's default endpoint.
	BaseURL string `yaml:"base_url"`
}

// AudioConfig holds capture settings. Sample rates are fixed by the live
// protocol and not configurable.
type AudioConfig struct {
	// MicDevice selects a capture device by name. Empty means the system
	// default microphone.
	MicDevice string `yaml:"mic_device"`

	// FrameSamples is the per-frame sample count sent upstream. Zero means
	// the default of 4096 samples (256 ms at 16 kHz).
	FrameSamples int `yaml:"frame_samples"`
}

// ArchiveConfig configures the optional Postgres session archive.
type ArchiveConfig struct {
	// PostgresDSN is the connection string. Empty disables archiving.
	PostgresDSN string `yaml:"postgres_dsn"`
}
