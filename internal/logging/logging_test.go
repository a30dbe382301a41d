package logging

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
		hasError bool
	}{
		{"debug", LevelDebug, false},
		{"DEBUG", LevelDebug, false},
		{"info", LevelInfo, false},
		{"warn", LevelWarn, false},
		{"warning", LevelWarn, false},
		{"error", LevelError, false},
		{"invalid", LevelInfo, true},
		{"", LevelInfo, true},
	}

	for _, test := range tests {
		t.Run(test.input, func(t *testing.T) {
			level, err := ParseLevel(test.input)
			if test.hasError && err == nil {
				t.Error("expected error, got nil")
			}
			if !test.hasError && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !test.hasError && level != test.expected {
				t.Errorf("expected %v, got %v", test.expected, level)
			}
		})
	}
}

func TestLevelString(t *testing.T) {
	for _, level := range []Level{LevelDebug, LevelInfo, LevelWarn, LevelError} {
		parsed, err := ParseLevel(LevelString(level))
		if err != nil {
			t.Fatalf("LevelString(%v) does not parse: %v", level, err)
		}
		if parsed != level {
			t.Errorf("round trip of %v gave %v", level, parsed)
		}
	}
}

func TestParseFormat(t *testing.T) {
	if f, err := ParseFormat("JSON"); err != nil || f != FormatJSON {
		t.Errorf("ParseFormat(JSON) = %v, %v", f, err)
	}
	if f, err := ParseFormat(""); err != nil || f != FormatText {
		t.Errorf("ParseFormat(\"\") = %v, %v", f, err)
	}
	if _, err := ParseFormat("xml"); err == nil {
		t.Error("expected error for xml")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Level != LevelInfo {
		t.Errorf("expected default level Info, got %v", cfg.Level)
	}
	if cfg.Output != "stderr" {
		t.Errorf("expected default output stderr, got %s", cfg.Output)
	}
	if cfg.Component != "vkbd" {
		t.Errorf("expected component vkbd, got %s", cfg.Component)
	}
	if !strings.HasSuffix(cfg.FilePath, "vkbd.log") {
		t.Errorf("unexpected log path %s", cfg.FilePath)
	}
}

func TestShouldRedact(t *testing.T) {
	tests := []struct {
		key    string
		redact bool
	}{
		{"value", true},
		{"Value", true},
		{"transcript", true},
		{"initial_value", true},
		{"placeholder", true},
		{"hmac_key", true},
		{"journal_secret", true},
		{"password", true},
		{"session", false},
		{"length", false},
		{"value_length", false},
		{"phase", false},
		{"error", false},
	}

	for _, test := range tests {
		if got := shouldRedact(test.key); got != test.redact {
			t.Errorf("shouldRedact(%q) = %v, want %v", test.key, got, test.redact)
		}
	}
}

func TestJSONOutputRedactsTypedText(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultConfig()
	cfg.Format = FormatJSON
	cfg.Writer = &buf

	logger, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Info("transcript applied", "transcript", "my pin is 1234", "session", "s-1")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, buf.String())
	}
	if entry["transcript"] != Redacted {
		t.Errorf("transcript not redacted: %v", entry["transcript"])
	}
	if entry["session"] != "s-1" {
		t.Errorf("session = %v", entry["session"])
	}
	if entry["component"] != "vkbd" {
		t.Errorf("component = %v", entry["component"])
	}
	if strings.Contains(buf.String(), "1234") {
		t.Error("typed text leaked into the log")
	}
}

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultConfig()
	cfg.Writer = &buf
	cfg.Component = ""

	logger, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.WithComponent("bridge").Warn("stalled")

	if !strings.Contains(buf.String(), "component=bridge") {
		t.Errorf("missing component in %q", buf.String())
	}
}

func TestLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultConfig()
	cfg.Writer = &buf
	cfg.Level = LevelWarn

	logger, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Info("hidden")
	logger.Warn("shown")

	if strings.Contains(buf.String(), "hidden") {
		t.Error("info entry written at warn level")
	}
	if !strings.Contains(buf.String(), "shown") {
		t.Error("warn entry missing")
	}
}

func TestFileOutput(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Output = "file"
	cfg.FilePath = filepath.Join(t.TempDir(), "logs", "vkbd.log")

	logger, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Info("hello")
	if err := logger.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(cfg.FilePath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "hello") {
		t.Errorf("log file missing entry: %q", data)
	}
}

func TestFileRotatorRotatesBySize(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FilePath = filepath.Join(t.TempDir(), "vkbd.log")
	cfg.MaxSize = 1
	cfg.MaxBackups = 2
	cfg.Compress = false

	r, err := NewFileRotator(cfg)
	if err != nil {
		t.Fatalf("NewFileRotator: %v", err)
	}
	defer r.Close()

	clock := time.Date(2026, 3, 1, 10, 0, 0, 0, time.Local)
	r.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}

	chunk := bytes.Repeat([]byte("x"), 600*1024)
	for i := 0; i < 4; i++ {
		if _, err := r.Write(chunk); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}

	backups, err := r.Backups()
	if err != nil {
		t.Fatalf("Backups: %v", err)
	}
	if len(backups) != 2 {
		t.Errorf("expected 2 backups, got %d: %v", len(backups), backups)
	}

	info, err := os.Stat(cfg.FilePath)
	if err != nil {
		t.Fatalf("stat current: %v", err)
	}
	if info.Size() != int64(len(chunk)) {
		t.Errorf("current file size %d, want %d", info.Size(), len(chunk))
	}
}

func TestFileRotatorRotatesDailyAndCompresses(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FilePath = filepath.Join(t.TempDir(), "vkbd.log")
	cfg.Compress = true

	r, err := NewFileRotator(cfg)
	if err != nil {
		t.Fatalf("NewFileRotator: %v", err)
	}
	defer r.Close()

	day := time.Date(2026, 3, 1, 23, 59, 0, 0, time.Local)
	r.now = func() time.Time { return day }
	r.opened = day

	if _, err := r.Write([]byte("first day\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	day = day.Add(2 * time.Minute)
	if _, err := r.Write([]byte("second day\n")); err != nil {
		t.Fatalf("write: %v", err)
	}

	backups, err := r.Backups()
	if err != nil {
		t.Fatalf("Backups: %v", err)
	}
	if len(backups) != 1 || !strings.HasSuffix(backups[0], ".gz") {
		t.Fatalf("expected one gzipped backup, got %v", backups)
	}

	f, err := os.Open(backups[0])
	if err != nil {
		t.Fatalf("open backup: %v", err)
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		t.Fatalf("gzip reader: %v", err)
	}
	data, err := io.ReadAll(gz)
	if err != nil {
		t.Fatalf("read backup: %v", err)
	}
	if string(data) != "first day\n" {
		t.Errorf("backup content %q", data)
	}
}

func TestCrashHandlerGuard(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultConfig()
	cfg.Writer = &buf
	logger, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	h := &CrashHandler{Dir: t.TempDir(), Version: "test", Component: "vkbd", Logger: logger.Logger}

	err = h.Guard("ui", func() error { panic("boom") })
	if !errors.Is(err, ErrPanicked) {
		t.Fatalf("expected ErrPanicked, got %v", err)
	}

	reports, err := h.Reports()
	if err != nil {
		t.Fatalf("Reports: %v", err)
	}
	if len(reports) != 1 {
		t.Fatalf("expected 1 report, got %d", len(reports))
	}
	if reports[0].PanicValue != "boom" || reports[0].Task != "ui" {
		t.Errorf("unexpected report %+v", reports[0])
	}
	if !strings.Contains(buf.String(), "task panicked") {
		t.Errorf("panic not logged: %q", buf.String())
	}
}

func TestCrashHandlerPassesErrors(t *testing.T) {
	h := &CrashHandler{}
	want := errors.New("plain")
	if err := h.Guard("bridge", func() error { return want }); err != want {
		t.Errorf("Guard returned %v, want %v", err, want)
	}
	if err := h.Guard("bridge", func() error { return nil }); err != nil {
		t.Errorf("Guard returned %v", err)
	}
}
