package keyboard

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Default values for fields the host leaves out.
const (
	DefaultReturnKeyLabel = "Return"
	DefaultAccentColor    = "#81D9FD"
	DefaultSoundEnabled   = true
)

// SessionConfig is the per-session configuration sent by the host.
// Nil fields were not supplied and take the defaults.
type SessionConfig struct {
	InitialValue   *string `json:"initialValue,omitempty"`
	Placeholder    *string `json:"placeholder,omitempty"`
	SoundEnabled   *bool   `json:"soundEnabled,omitempty"`
	ReturnKeyLabel *string `json:"returnKeyLabel,omitempty"`
	AccentColor    *string `json:"accentColor,omitempty"`
}

// Settings is a SessionConfig merged with defaults.
type Settings struct {
	InitialValue   string
	Placeholder    string
	SoundEnabled   bool
	ReturnKeyLabel string
	AccentColor    string
}

// DefaultSettings returns the built-in defaults.
func DefaultSettings() Settings {
	return Settings{
		SoundEnabled:   DefaultSoundEnabled,
		ReturnKeyLabel: DefaultReturnKeyLabel,
		AccentColor:    DefaultAccentColor,
	}
}

// Merge overlays the fields present in cfg onto defaults. The merge is
// shallow: every field is a scalar.
func Merge(defaults Settings, cfg SessionConfig) Settings {
	out := defaults
	// A session never inherits text from the defaults.
	out.InitialValue = ""
	out.Placeholder = ""
	if cfg.InitialValue != nil {
		out.InitialValue = *cfg.InitialValue
	}
	if cfg.Placeholder != nil {
		out.Placeholder = *cfg.Placeholder
	}
	if cfg.SoundEnabled != nil {
		out.SoundEnabled = *cfg.SoundEnabled
	}
	if cfg.ReturnKeyLabel != nil {
		out.ReturnKeyLabel = *cfg.ReturnKeyLabel
	}
	if cfg.AccentColor != nil {
		out.AccentColor = *cfg.AccentColor
	}
	return out
}

const sessionConfigSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "title": "vkbd session configuration",
  "type": "object",
  "properties": {
    "initialValue":   {"type": ["string", "null"]},
    "placeholder":    {"type": ["string", "null"]},
    "soundEnabled":   {"type": ["boolean", "null"]},
    "returnKeyLabel": {"type": ["string", "null"], "maxLength": 32},
    "accentColor":    {"type": ["string", "null"], "pattern": "^#([0-9A-Fa-f]{6}|[0-9A-Fa-f]{8})$"}
  }
}`

var sessionSchema = jsonschema.MustCompileString("vkbd://session-config.schema.json", sessionConfigSchema)

// ParseSessionConfig decodes and validates the JSON form of a session
// configuration. Unknown fields are ignored; fields of the wrong type fail
// with ErrMalformedConfig. An empty payload is an empty configuration.
func ParseSessionConfig(data []byte) (SessionConfig, error) {
	var cfg SessionConfig
	if len(data) == 0 {
		return cfg, nil
	}

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return cfg, fmt.Errorf("%w: %v", ErrMalformedConfig, err)
	}
	if doc == nil {
		return cfg, nil
	}
	if err := sessionSchema.Validate(doc); err != nil {
		return cfg, fmt.Errorf("%w: %v", ErrMalformedConfig, err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("%w: %v", ErrMalformedConfig, err)
	}
	return cfg, nil
}

// EncodeSessionConfig returns the JSON form of cfg.
func EncodeSessionConfig(cfg SessionConfig) ([]byte, error) {
	return json.Marshal(cfg)
}

// String returns a pointer to s, for building SessionConfig literals.
func String(s string) *string { return &s }

// Bool returns a pointer to b, for building SessionConfig literals.
func Bool(b bool) *bool { return &b }
