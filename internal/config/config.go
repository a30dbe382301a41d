// Package config handles configuration loading, validation, and hot reload
// for vkbd.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"vkbd/internal/keyboard"
	"vkbd/internal/logging"
)

// Version is the current configuration schema version.
const Version = 2

// Transports understood by the bridge section.
const (
	TransportDBus   = "dbus"
	TransportSocket = "socket"
	TransportDemo   = "demo"
)

// Config holds the complete application configuration.
type Config struct {
	// Version is the configuration schema version for migrations.
	Version int `toml:"version" json:"version" yaml:"version"`

	// Keyboard holds the defaults merged into every session.
	Keyboard KeyboardConfig `toml:"keyboard" json:"keyboard" yaml:"keyboard"`

	// Bridge selects and tunes the host bridge transport.
	Bridge BridgeConfig `toml:"bridge" json:"bridge" yaml:"bridge"`

	// Journal configures the session journal.
	Journal JournalConfig `toml:"journal" json:"journal" yaml:"journal"`

	// Logging configuration.
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`

	// UI configures the overlay window.
	UI UIConfig `toml:"ui" json:"ui" yaml:"ui"`
}

// KeyboardConfig holds session defaults.
type KeyboardConfig struct {
	// ReturnKeyLabel is the default label of the return key.
	ReturnKeyLabel string `toml:"return_key_label" json:"return_key_label" yaml:"return_key_label"`

	// AccentColor is the default accent as #RRGGBB or #RRGGBBAA.
	AccentColor string `toml:"accent_color" json:"accent_color" yaml:"accent_color"`

	// SoundEnabled is the default for key click sounds.
	SoundEnabled bool `toml:"sound_enabled" json:"sound_enabled" yaml:"sound_enabled"`

	// TransitionMs is the show/hide animation length.
	TransitionMs int `toml:"transition_ms" json:"transition_ms" yaml:"transition_ms"`

	// TintColor is the version 1 name of AccentColor.
	TintColor string `toml:"tint_color,omitempty" json:"tint_color,omitempty" yaml:"tint_color,omitempty"`
}

// BridgeConfig holds host bridge configuration.
type BridgeConfig struct {
	// Transport is "dbus", "socket" or "demo".
	Transport string `toml:"transport" json:"transport" yaml:"transport"`

	// SocketPath is the unix socket used by the socket transport.
	SocketPath string `toml:"socket_path" json:"socket_path" yaml:"socket_path"`

	// DBusName is the well-known bus name of the host.
	DBusName string `toml:"dbus_name" json:"dbus_name" yaml:"dbus_name"`

	// DBusPath is the object path of the host.
	DBusPath string `toml:"dbus_path" json:"dbus_path" yaml:"dbus_path"`

	// CallTimeoutMs bounds EndInput.
	CallTimeoutMs int `toml:"call_timeout_ms" json:"call_timeout_ms" yaml:"call_timeout_ms"`

	// ShowTimeoutMs bounds each wait for a session. 0 waits forever.
	ShowTimeoutMs int `toml:"show_timeout_ms" json:"show_timeout_ms" yaml:"show_timeout_ms"`

	// DictationTimeoutMs bounds a dictation request.
	DictationTimeoutMs int `toml:"dictation_timeout_ms" json:"dictation_timeout_ms" yaml:"dictation_timeout_ms"`

	// DictationGraceMs is how long a released mic may still deliver its
	// transcript.
	DictationGraceMs int `toml:"dictation_grace_ms" json:"dictation_grace_ms" yaml:"dictation_grace_ms"`

	// RetryDelayMs is the back-off after a failed wait.
	RetryDelayMs int `toml:"retry_delay_ms" json:"retry_delay_ms" yaml:"retry_delay_ms"`
}

// JournalConfig holds session journal configuration.
type JournalConfig struct {
	// Enabled turns the journal on.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// Path is the SQLite database file.
	Path string `toml:"path" json:"path" yaml:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `toml:"level" json:"level" yaml:"level"`
	Format     string `toml:"format" json:"format" yaml:"format"`
	Output     string `toml:"output" json:"output" yaml:"output"`
	FilePath   string `toml:"file_path" json:"file_path" yaml:"file_path"`
	MaxSizeMB  int    `toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" json:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" json:"max_age_days" yaml:"max_age_days"`
	Compress   bool   `toml:"compress" json:"compress" yaml:"compress"`
}

// UIConfig holds overlay window configuration.
type UIConfig struct {
	Width  int    `toml:"width" json:"width" yaml:"width"`
	Height int    `toml:"height" json:"height" yaml:"height"`
	Title  string `toml:"title" json:"title" yaml:"title"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	dir := DataDir()

	return &Config{
		Version: Version,
		Keyboard: KeyboardConfig{
			ReturnKeyLabel: keyboard.DefaultReturnKeyLabel,
			AccentColor:    keyboard.DefaultAccentColor,
			SoundEnabled:   keyboard.DefaultSoundEnabled,
			TransitionMs:   int(keyboard.DefaultTransition / time.Millisecond),
		},
		Bridge: BridgeConfig{
			Transport:          TransportDBus,
			SocketPath:         defaultSocketPath(),
			DBusName:           "org.vkbd.Host",
			DBusPath:           "/org/vkbd/Host",
			CallTimeoutMs:      int(keyboard.DefaultCallTimeout / time.Millisecond),
			ShowTimeoutMs:      0,
			DictationTimeoutMs: int(keyboard.DefaultDictationTimeout / time.Millisecond),
			DictationGraceMs:   int(keyboard.DefaultDictationGrace / time.Millisecond),
			RetryDelayMs:       int(keyboard.DefaultRetryDelay / time.Millisecond),
		},
		Journal: JournalConfig{
			Enabled: false,
			Path:    filepath.Join(dir, "journal.db"),
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			FilePath:   logging.DefaultLogPath(),
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 14,
			Compress:   true,
		},
		UI: UIConfig{
			Width:  720,
			Height: 360,
			Title:  "vkbd",
		},
	}
}

// ConfigPath returns the default configuration file path.
func ConfigPath() string {
	return filepath.Join(PlatformConfigDir(), "config.toml")
}

// DataDir returns the base vkbd data directory. VKBD_DATA_DIR overrides
// the platform default.
func DataDir() string {
	if envDir := os.Getenv("VKBD_DATA_DIR"); envDir != "" {
		return envDir
	}
	return PlatformDataDir()
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	return ValidateConfig(c)
}

// ApplyEnvOverrides applies VKBD_* environment variables.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("VKBD_TRANSPORT"); v != "" {
		c.Bridge.Transport = v
	}
	if v := os.Getenv("VKBD_SOCKET_PATH"); v != "" {
		c.Bridge.SocketPath = v
	}
	if v := os.Getenv("VKBD_ACCENT_COLOR"); v != "" {
		c.Keyboard.AccentColor = v
	}
	if v := os.Getenv("VKBD_RETURN_KEY_LABEL"); v != "" {
		c.Keyboard.ReturnKeyLabel = v
	}
	if v := os.Getenv("VKBD_JOURNAL_PATH"); v != "" {
		c.Journal.Path = v
		c.Journal.Enabled = true
	}
	if v := os.Getenv("VKBD_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("VKBD_LOG_PATH"); v != "" {
		c.Logging.FilePath = v
	}
}

// Clone returns a copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}

// EnsureDirectories creates the directories of every configured file.
func (c *Config) EnsureDirectories() error {
	dirs := []string{filepath.Dir(c.Logging.FilePath)}
	if c.Journal.Enabled {
		dirs = append(dirs, filepath.Dir(c.Journal.Path))
	}
	if c.Bridge.Transport == TransportSocket {
		dirs = append(dirs, filepath.Dir(c.Bridge.SocketPath))
	}
	for _, dir := range dirs {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// Defaults returns the session defaults for the keyboard controller.
func (k KeyboardConfig) Defaults() keyboard.Settings {
	return keyboard.Settings{
		ReturnKeyLabel: k.ReturnKeyLabel,
		AccentColor:    k.AccentColor,
		SoundEnabled:   k.SoundEnabled,
	}
}

// Transition returns TransitionMs as a duration.
func (k KeyboardConfig) Transition() time.Duration {
	return ms(k.TransitionMs)
}

// CallTimeout returns CallTimeoutMs as a duration.
func (b BridgeConfig) CallTimeout() time.Duration { return ms(b.CallTimeoutMs) }

// ShowTimeout returns ShowTimeoutMs as a duration.
func (b BridgeConfig) ShowTimeout() time.Duration { return ms(b.ShowTimeoutMs) }

// DictationTimeout returns DictationTimeoutMs as a duration.
func (b BridgeConfig) DictationTimeout() time.Duration { return ms(b.DictationTimeoutMs) }

// DictationGrace returns DictationGraceMs as a duration.
func (b BridgeConfig) DictationGrace() time.Duration { return ms(b.DictationGraceMs) }

// RetryDelay returns RetryDelayMs as a duration.
func (b BridgeConfig) RetryDelay() time.Duration { return ms(b.RetryDelayMs) }

// ControllerOptions returns the keyboard options this configuration sets.
func (c *Config) ControllerOptions() []keyboard.Option {
	return []keyboard.Option{
		keyboard.WithDefaults(c.Keyboard.Defaults()),
		keyboard.WithTransition(c.Keyboard.Transition()),
		keyboard.WithCallTimeout(c.Bridge.CallTimeout()),
		keyboard.WithShowTimeout(c.Bridge.ShowTimeout()),
		keyboard.WithDictationTimeout(c.Bridge.DictationTimeout()),
		keyboard.WithDictationGrace(c.Bridge.DictationGrace()),
		keyboard.WithRetryDelay(c.Bridge.RetryDelay()),
	}
}

// LoggerConfig converts the logging section for logging.New.
func (l LoggingConfig) LoggerConfig() (*logging.Config, error) {
	level, err := logging.ParseLevel(l.Level)
	if err != nil {
		return nil, err
	}
	format, err := logging.ParseFormat(l.Format)
	if err != nil {
		return nil, err
	}
	cfg := logging.DefaultConfig()
	cfg.Level = level
	cfg.Format = format
	cfg.Output = l.Output
	cfg.FilePath = l.FilePath
	cfg.MaxSize = int64(l.MaxSizeMB)
	cfg.MaxBackups = l.MaxBackups
	cfg.MaxAge = l.MaxAgeDays
	cfg.Compress = l.Compress
	return cfg, nil
}

func ms(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}
