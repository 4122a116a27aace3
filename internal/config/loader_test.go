package config_test

import (
	"strings"
	"testing"

	"github.com/telonlabs/telon/internal/config"
)

func TestLoadFromReader_FullConfig(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  metrics_addr: ":9091"
  log_level: debug
live:
  api_key: test-key
  model: custom-live-model
  voice: Puck
sidecall:
  provider: gemini
  model: gemini-2.5-pro
audio:
  mic_device: "USB Microphone"
  frame_samples: 2048
archive:
  postgres_dsn: postgres://localhost/telon
script_path: scripts/obra.yaml
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("log_level = %q; want debug", cfg.Server.LogLevel)
	}
	if cfg.Live.Voice != "Puck" {
		t.Errorf("voice = %q; want Puck", cfg.Live.Voice)
	}
	if cfg.Sidecall.Provider != "gemini" {
		t.Errorf("sidecall provider = %q; want gemini", cfg.Sidecall.Provider)
	}
	if cfg.Audio.FrameSamples != 2048 {
		t.Errorf("frame_samples = %d; want 2048", cfg.Audio.FrameSamples)
	}
	if cfg.ScriptPath != "scripts/obra.yaml" {
		t.Errorf("script_path = %q", cfg.ScriptPath)
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	t.Parallel()
	yaml := `
script_path: scripts/obra.yaml
surprise_field: true
`
	if _, err := config.LoadFromReader(strings.NewReader(yaml)); err == nil {
		t.Fatal("expected error for unknown top-level field, got nil")
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: loud
script_path: scripts/obra.yaml
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for invalid log level, got nil")
	}
	if !strings.Contains(err.Error(), "log_level") {
		t.Errorf("error should mention log_level, got: %v", err)
	}
}

func TestValidate_MissingScriptPath(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("server:\n  log_level: info\n"))
	if err == nil {
		t.Fatal("expected error for missing script_path, got nil")
	}
	if !strings.Contains(err.Error(), "script_path") {
		t.Errorf("error should mention script_path, got: %v", err)
	}
}

func TestValidate_NegativeFrameSamples(t *testing.T) {
	t.Parallel()
	yaml := `
audio:
  frame_samples: -1
script_path: scripts/obra.yaml
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for negative frame_samples, got nil")
	}
	if !strings.Contains(err.Error(), "frame_samples") {
		t.Errorf("error should mention frame_samples, got: %v", err)
	}
}

func TestLogLevel_IsValid(t *testing.T) {
	t.Parallel()
	for _, l := range []config.LogLevel{config.LogDebug, config.LogInfo, config.LogWarn, config.LogError} {
		if !l.IsValid() {
			t.Errorf("%q should be valid", l)
		}
	}
	if config.LogLevel("verbose").IsValid() {
		t.Error("\"verbose\" should not be valid")
	}
}
