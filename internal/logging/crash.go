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
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// ErrPanic wraps a panic recovered by CrashHandler.Guard.
var ErrPanic = errors.New("recovered panic")

// CrashReport is written as JSON for every recovered panic.
type CrashReport struct {
	Timestamp    time.Time      `json:"timestamp"`
	Version      string         `json:"version"`
	GOOS         string         `json:"goos"`
	GOARCH       string         `json:"goarch"`
	NumGoroutine int            `json:"num_goroutine"`
	Operation    string         `json:"operation,omitempty"`
	PanicValue   string         `json:"panic_value"`
	StackTrace   string         `json:"stack_trace"`
	Component    string         `json:"component,omitempty"`
	SessionID    int64          `json:"session_id,omitempty"`
	Context      map[string]any `json:"context,omitempty"`
}

// CrashHandlerConfig configures the crash handler.
type CrashHandlerConfig struct {
	// CrashDir receives crash-*.json reports. Empty disables the files.
	CrashDir  string
	Version   string
	Component string
	Logger    *slog.Logger

	// OnCrash is called after a report is written.
	OnCrash func(CrashReport)
}

// CrashHandler turns panics into reports instead of process exits.
type CrashHandler struct {
	mu        sync.Mutex
	crashDir  string
	version   string
	component string
	sessionID int64
	logger    *slog.Logger
	onCrash   func(CrashReport)
	seq       atomic.Uint64
}

// DefaultCrashDir returns the platform-specific crash report directory.
func DefaultCrashDir() string {
	return filepath.Join(StateDir(), "crashes")
}

// NewCrashHandler creates a CrashHandler.
func NewCrashHandler(cfg *CrashHandlerConfig) *CrashHandler {
	if cfg == nil {
		cfg = &CrashHandlerConfig{CrashDir: DefaultCrashDir()}
	}
	if cfg.CrashDir != "" {
		os.MkdirAll(cfg.CrashDir, 0750)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &CrashHandler{
		crashDir:  cfg.CrashDir,
		version:   cfg.Version,
		component: cfg.Component,
		logger:    logger,
		onCrash:   cfg.OnCrash,
	}
}

// SetSessionID tags later reports with the collector session.
func (h *CrashHandler) SetSessionID(id int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessionID = id
}

// Guard runs fn and converts a panic into an error wrapping ErrPanic.
// The panic is logged and written as a crash report; the caller carries on.
func (h *CrashHandler) Guard(op string, context map[string]any, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			report := h.HandlePanic(op, r, context)
			err = fmt.Errorf("%w in %s: %s", ErrPanic, op, report.PanicValue)
		}
	}()
	return fn()
}

// HandlePanic records a panic value and returns the report.
func (h *CrashHandler) HandlePanic(op string, value any, context map[string]any) CrashReport {
	h.mu.Lock()
	defer h.mu.Unlock()

	report := CrashReport{
		Timestamp:    time.Now().UTC(),
		Version:      h.version,
		GOOS:         runtime.GOOS,
		GOARCH:       runtime.GOARCH,
		NumGoroutine: runtime.NumGoroutine(),
		Operation:    op,
		PanicValue:   fmt.Sprintf("%v", value),
		StackTrace:   string(debug.Stack()),
		Component:    h.component,
		SessionID:    h.sessionID,
		Context:      context,
	}

	path, err := h.write(report)
	attrs := []any{"operation", op, "panic", report.PanicValue}
	if path != "" {
		attrs = append(attrs, "report", path)
	}
	if err != nil {
		attrs = append(attrs, "write_error", err)
	}
	h.logger.Error("recovered from panic", attrs...)

	if h.onCrash != nil {
		h.onCrash(report)
	}
	return report
}

func (h *CrashHandler) write(report CrashReport) (string, error) {
	if h.crashDir == "" {
		return "", nil
	}
	name := fmt.Sprintf("crash-%s-%s-%d.json",
		report.Component, report.Timestamp.Format("20060102-150405"), h.seq.Add(1))
	path := filepath.Join(h.crashDir, name)

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal crash report: %w", err)
	}
	if err := os.WriteFile(path, data, 0640); err != nil {
		return "", fmt.Errorf("write crash report: %w", err)
	}
	return path, nil
}

// Reports reads every crash report in the crash directory, oldest first.
func (h *CrashHandler) Reports() ([]CrashReport, error) {
	if h.crashDir == "" {
		return nil, nil
	}
	files, err := filepath.Glob(filepath.Join(h.crashDir, "crash-*.json"))
	if err != nil {
		return nil, err
	}
	reports := make([]CrashReport, 0, len(files))
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			continue
		}
		var report CrashReport
		if err := json.Unmarshal(data, &report); err != nil {
			continue
		}
		reports = append(reports, report)
	}
	sort.Slice(reports, func(i, j int) bool {
		return reports[i].Timestamp.Before(reports[j].Timestamp)
	})
	return reports, nil
}

// PruneReports removes crash reports older than maxAge and returns how
// many were removed.
func (h *CrashHandler) PruneReports(maxAge time.Duration) (int, error) {
	if h.crashDir == "" {
		return 0, nil
	}
	files, err := filepath.Glob(filepath.Join(h.crashDir, "crash-*.json"))
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, file := range files {
		info, err := os.Stat(file)
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(file); err == nil {
			removed++
		}
	}
	return removed, nil
}
