package logging

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"time"
)

// ErrPanicked is returned by CrashHandler.Guard when fn panicked.
var ErrPanicked = errors.New("recovered from panic")

// CrashReport describes a recovered panic. It never contains keyboard
// text: only the panic value, the stack and the process environment.
type CrashReport struct {
	Timestamp    time.Time `json:"timestamp"`
	Version      string    `json:"version,omitempty"`
	Component    string    `json:"component,omitempty"`
	Task         string    `json:"task"`
	GOOS         string    `json:"goos"`
	GOARCH       string    `json:"goarch"`
	NumGoroutine int       `json:"num_goroutine"`
	PanicValue   string    `json:"panic_value"`
	StackTrace   string    `json:"stack_trace"`
}

// DefaultCrashDir returns the directory crash reports go to, next to the
// default log file.
func DefaultCrashDir() string {
	return filepath.Join(filepath.Dir(DefaultLogPath()), "crashes")
}

// CrashHandler turns panics in long-running tasks into errors and writes a
// JSON report for each one.
type CrashHandler struct {
	Dir       string
	Version   string
	Component string
	Logger    *slog.Logger
}

// Guard runs fn and recovers a panic from it. A panic is logged, written
// to Dir and returned as an error wrapping ErrPanicked.
func (h *CrashHandler) Guard(task string, fn func() error) (err error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		report := CrashReport{
			Timestamp:    time.Now().UTC(),
			Version:      h.Version,
			Component:    h.Component,
			Task:         task,
			GOOS:         runtime.GOOS,
			GOARCH:       runtime.GOARCH,
			NumGoroutine: runtime.NumGoroutine(),
			PanicValue:   fmt.Sprint(r),
			StackTrace:   string(debug.Stack()),
		}
		path, werr := h.write(report)
		logger := h.Logger
		if logger == nil {
			logger = slog.Default()
		}
		logger.Error("task panicked", "task", task, "panic", report.PanicValue, "report", path, "write_error", werr)
		err = fmt.Errorf("%s: %w: %v", task, ErrPanicked, r)
	}()
	return fn()
}

func (h *CrashHandler) write(report CrashReport) (string, error) {
	if h.Dir == "" {
		return "", nil
	}
	if err := os.MkdirAll(h.Dir, 0o750); err != nil {
		return "", fmt.Errorf("create crash dir: %w", err)
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal crash report: %w", err)
	}
	name := fmt.Sprintf("crash-%s-%s.json", report.Task, report.Timestamp.Format("20060102-150405.000000"))
	path := filepath.Join(h.Dir, name)
	if err := os.WriteFile(path, data, 0o640); err != nil {
		return "", fmt.Errorf("write crash report: %w", err)
	}
	return path, nil
}

// Reports reads the reports in Dir, oldest first.
func (h *CrashHandler) Reports() ([]CrashReport, error) {
	matches, err := filepath.Glob(filepath.Join(h.Dir, "crash-*.json"))
	if err != nil {
		return nil, err
	}
	reports := make([]CrashReport, 0, len(matches))
	for _, m := range matches {
		data, err := os.ReadFile(m)
		if err != nil {
			continue
		}
		var r CrashReport
		if json.Unmarshal(data, &r) == nil {
			reports = append(reports, r)
		}
	}
	return reports, nil
}
