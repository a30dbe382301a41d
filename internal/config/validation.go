package config

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Fields returns the names of the invalid fields.
func (e ValidationErrors) Fields() []string {
	fields := make([]string, 0, len(e))
	for _, err := range e {
		fields = append(fields, err.Field)
	}
	return fields
}

var hexColor = regexp.MustCompile(`^#([0-9A-Fa-f]{6}|[0-9A-Fa-f]{8})$`)

// ValidateConfig checks every section and returns all problems at once as
// ValidationErrors.
func ValidateConfig(c *Config) error {
	var errs ValidationErrors

	if c.Version < 1 || c.Version > Version {
		errs = append(errs, ValidationError{
			Field:   "version",
			Message: fmt.Sprintf("unsupported version %d (current: %d)", c.Version, Version),
		})
	}

	errs = append(errs, validateKeyboard(&c.Keyboard)...)
	errs = append(errs, validateBridge(&c.Bridge)...)
	errs = append(errs, validateJournal(&c.Journal)...)
	errs = append(errs, validateLogging(&c.Logging)...)
	errs = append(errs, validateUI(&c.UI)...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateKeyboard(k *KeyboardConfig) ValidationErrors {
	var errs ValidationErrors

	if k.ReturnKeyLabel == "" {
		errs = append(errs, ValidationError{"keyboard.return_key_label", "must not be empty"})
	} else if utf8.RuneCountInString(k.ReturnKeyLabel) > 32 {
		errs = append(errs, ValidationError{"keyboard.return_key_label", "must be at most 32 characters"})
	}
	if !hexColor.MatchString(k.AccentColor) {
		errs = append(errs, ValidationError{
			Field:   "keyboard.accent_color",
			Message: fmt.Sprintf("invalid color %q (expected #RRGGBB or #RRGGBBAA)", k.AccentColor),
		})
	}
	if k.TintColor != "" {
		errs = append(errs, ValidationError{"keyboard.tint_color", "replaced by accent_color"})
	}
	if k.TransitionMs < 0 || k.TransitionMs > 5000 {
		errs = append(errs, ValidationError{"keyboard.transition_ms", "must be between 0 and 5000"})
	}
	return errs
}

func validateBridge(b *BridgeConfig) ValidationErrors {
	var errs ValidationErrors

	switch b.Transport {
	case TransportDBus:
		if b.DBusName == "" {
			errs = append(errs, ValidationError{"bridge.dbus_name", "required for the dbus transport"})
		}
		if !strings.HasPrefix(b.DBusPath, "/") {
			errs = append(errs, ValidationError{"bridge.dbus_path", "must be an absolute object path"})
		}
	case TransportSocket:
		if b.SocketPath == "" {
			errs = append(errs, ValidationError{"bridge.socket_path", "required for the socket transport"})
		}
	case TransportDemo:
	default:
		errs = append(errs, ValidationError{
			Field:   "bridge.transport",
			Message: fmt.Sprintf("invalid transport: %s (valid: dbus, socket, demo)", b.Transport),
		})
	}

	if b.CallTimeoutMs < 1 {
		errs = append(errs, ValidationError{"bridge.call_timeout_ms", "must be positive"})
	}
	if b.ShowTimeoutMs < 0 {
		errs = append(errs, ValidationError{"bridge.show_timeout_ms", "cannot be negative"})
	}
	if b.DictationTimeoutMs < 1 {
		errs = append(errs, ValidationError{"bridge.dictation_timeout_ms", "must be positive"})
	}
	if b.DictationGraceMs < 0 {
		errs = append(errs, ValidationError{"bridge.dictation_grace_ms", "cannot be negative"})
	}
	if b.RetryDelayMs < 0 {
		errs = append(errs, ValidationError{"bridge.retry_delay_ms", "cannot be negative"})
	}
	return errs
}

func validateJournal(j *JournalConfig) ValidationErrors {
	if j.Enabled && j.Path == "" {
		return ValidationErrors{{"journal.path", "required when the journal is enabled"}}
	}
	return nil
}

func validateLogging(l *LoggingConfig) ValidationErrors {
	var errs ValidationErrors

	switch l.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid log level: %s (valid: debug, info, warn, error)", l.Level),
		})
	}

	switch l.Format {
	case "text", "json":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("invalid log format: %s (valid: text, json)", l.Format),
		})
	}

	switch l.Output {
	case "stdout", "stderr":
	case "file", "both":
		if l.FilePath == "" {
			errs = append(errs, ValidationError{"logging.file_path", "required when output includes a file"})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.output",
			Message: fmt.Sprintf("invalid output: %s (valid: stdout, stderr, file, both)", l.Output),
		})
	}

	if l.MaxSizeMB < 1 {
		errs = append(errs, ValidationError{"logging.max_size_mb", "max size must be at least 1 MB"})
	}
	if l.MaxBackups < 0 {
		errs = append(errs, ValidationError{"logging.max_backups", "max backups cannot be negative"})
	}
	if l.MaxAgeDays < 0 {
		errs = append(errs, ValidationError{"logging.max_age_days", "max age cannot be negative"})
	}
	return errs
}

func validateUI(u *UIConfig) ValidationErrors {
	var errs ValidationErrors
	if u.Width < 200 || u.Height < 120 {
		errs = append(errs, ValidationError{"ui", "window must be at least 200x120"})
	}
	return errs
}
