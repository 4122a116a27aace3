// Package script provides the scene script model and its YAML loader.
//
// A script is the piece the performer brings to the stage: an optional
// pre-prompt describing the overall play, followed by an ordered list of
// scenes. Each scene carries its dramatic mission and two voice switches
// deciding whether the performer speaks into a microphone and whether the
// agent answers out loud.
package script

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Scene is one scene of the script.
type Scene struct {
	// Description is the scene's dramatic mission, handed to the agent as
	// its secret objective for the scene.
	Description string `yaml:"description"`

	// UseUserVoice enables microphone capture for the performer.
	UseUserVoice bool `yaml:"use_user_voice"`

	// UseAIVoice enables audible playback of the agent's replies.
	UseAIVoice bool `yaml:"use_ai_voice"`
}

// Script is a complete multi-scene piece.
type Script struct {
	// PrePrompt is the play-wide framing prepended to the first message of
	// every scene (tone, setting, relationship between the characters).
	PrePrompt string `yaml:"pre_prompt"`

	// Scenes is the ordered scene list. At least one scene is required.
	Scenes []Scene `yaml:"scenes"`
}

// Load reads the YAML script file at path and returns a validated [Script].
func Load(path string) (*Script, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("script: open %q: %w", path, err)
	}
	defer f.Close()

	s, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("script: parse %q: %w", path, err)
	}
	return s, nil
}

// LoadFromReader decodes a YAML script from r and validates the result.
func LoadFromReader(r io.Reader) (*Script, error) {
	s := &Script{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(s); err != nil {
		return nil, fmt.Errorf("script: decode yaml: %w", err)
	}
	if err := Validate(s); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks that s is performable. It returns a joined error listing
// all failures found.
func Validate(s *Script) error {
	var errs []error

	if len(s.Scenes) == 0 {
		errs = append(errs, errors.New("script has no scenes"))
	}
	for i, scene := range s.Scenes {
		if scene.Description == "" {
			errs = append(errs, fmt.Errorf("scenes[%d].description is required", i))
		}
	}

	return errors.Join(errs...)
}
