package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input   string
		want    Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"INFO", LevelInfo, false},
		{"", LevelInfo, false},
		{"warning", LevelWarn, false},
		{"error", LevelError, false},
		{"verbose", LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.input)
		if tt.wantErr {
			assert.Error(t, err, tt.input)
			continue
		}
		require.NoError(t, err, tt.input)
		assert.Equal(t, tt.want, got, tt.input)
		assert.Equal(t, got, mustParse(t, LevelString(got)))
	}
}

func mustParse(t *testing.T, s string) Level {
	t.Helper()
	l, err := ParseLevel(s)
	require.NoError(t, err)
	return l
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("JSON")
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, f)
	assert.Equal(t, "json", f.String())

	_, err = ParseFormat("xml")
	assert.Error(t, err)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, LevelInfo, cfg.Level)
	assert.Equal(t, "stderr", cfg.Output)
	assert.Contains(t, cfg.FilePath, "gazecollect")
	assert.False(t, cfg.RecordKeys)
}

func TestJSONOutputWithComponent(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&Config{Level: LevelInfo, Format: FormatJSON, Output: "stdout", Component: "test", Console: &buf})
	require.NoError(t, err)
	defer logger.Close()

	logger.WithComponent("caret").Info("resolved", "x", 10)
	logger.Debug("hidden")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "resolved", entry["msg"])
	assert.Equal(t, float64(10), entry["x"])
	assert.Equal(t, "caret", entry["component"])
}

func TestTypedTextRedaction(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&Config{Format: FormatText, Output: "stderr", Console: &buf})
	require.NoError(t, err)

	logger.Info("key press", "char", "a", "x", 1)
	assert.Contains(t, buf.String(), "char=[REDACTED]")
	assert.Contains(t, buf.String(), "x=1")

	buf.Reset()
	logger, err = New(&Config{Format: FormatText, Output: "stderr", Console: &buf, RecordKeys: true})
	require.NoError(t, err)
	logger.Info("key press", "char", "a")
	assert.Contains(t, buf.String(), "char=a")
}

func TestFileOutput(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "logs", "test.log")
	var console bytes.Buffer
	logger, err := New(&Config{Output: "both", FilePath: logPath, MaxSizeMB: 1, Console: &console})
	require.NoError(t, err)

	logger.Info("hello")
	require.NoError(t, logger.Sync())
	require.NoError(t, logger.Close())

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "msg=hello")
	assert.Contains(t, console.String(), "msg=hello")
}

func TestFileRotatorRotate(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "test.log")
	r, err := NewFileRotator(&Config{FilePath: logPath, MaxSizeMB: 1, MaxBackups: 2})
	require.NoError(t, err)
	defer r.Close()

	clock := time.Date(2024, 3, 9, 10, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return clock }
	r.opened = clock

	for i := 0; i < 4; i++ {
		_, err := r.Write([]byte("line\n"))
		require.NoError(t, err)
		clock = clock.Add(time.Second)
		require.NoError(t, r.Rotate())
	}
	r.wg.Wait()

	backups, err := r.Backups()
	require.NoError(t, err)
	assert.Len(t, backups, 2)
	_, err = os.Stat(logPath)
	assert.NoError(t, err)
}

func TestFileRotatorDailyRotation(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "test.log")
	r, err := NewFileRotator(&Config{FilePath: logPath, MaxSizeMB: 1, MaxBackups: 5, Compress: true})
	require.NoError(t, err)
	defer r.Close()

	clock := time.Date(2024, 3, 9, 23, 59, 0, 0, time.UTC)
	r.now = func() time.Time { return clock }
	r.opened = clock

	_, err = r.Write([]byte("before midnight\n"))
	require.NoError(t, err)
	clock = clock.Add(2 * time.Minute)
	_, err = r.Write([]byte("after midnight\n"))
	require.NoError(t, err)
	r.wg.Wait()

	backups, err := r.Backups()
	require.NoError(t, err)
	require.Len(t, backups, 1)
	assert.True(t, strings.HasSuffix(backups[0], ".gz"), backups[0])

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Equal(t, "after midnight\n", string(data))
}

func TestCrashHandlerGuard(t *testing.T) {
	dir := t.TempDir()
	var crashed []CrashReport
	h := NewCrashHandler(&CrashHandlerConfig{
		CrashDir:  dir,
		Version:   "1.0.0",
		Component: "test",
		OnCrash:   func(r CrashReport) { crashed = append(crashed, r) },
	})
	h.SetSessionID(7)

	err := h.Guard("handle_event", map[string]any{"kind": "key_down"}, func() error {
		panic("boom")
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPanic))
	assert.Contains(t, err.Error(), "boom")
	require.Len(t, crashed, 1)
	assert.Equal(t, int64(7), crashed[0].SessionID)

	plain := errors.New("plain")
	assert.Equal(t, plain, h.Guard("ok", nil, func() error { return plain }))

	reports, err := h.Reports()
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, "boom", reports[0].PanicValue)
	assert.Equal(t, "handle_event", reports[0].Operation)
	assert.Equal(t, "1.0.0", reports[0].Version)
}

func TestCrashHandlerDistinctReports(t *testing.T) {
	h := NewCrashHandler(&CrashHandlerConfig{CrashDir: t.TempDir(), Component: "test"})
	for i := 0; i < 3; i++ {
		_ = h.Guard("handle_event", nil, func() error { panic(i) })
	}
	reports, err := h.Reports()
	require.NoError(t, err)
	require.Len(t, reports, 3)
	assert.False(t, reports[2].Timestamp.Before(reports[0].Timestamp))

	removed, err := h.PruneReports(-time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 3, removed)
	reports, err = h.Reports()
	require.NoError(t, err)
	assert.Empty(t, reports)
}

func TestPruneReportsKeepsRecent(t *testing.T) {
	dir := t.TempDir()
	h := NewCrashHandler(&CrashHandlerConfig{CrashDir: dir, Component: "test"})
	_ = h.Guard("old", nil, func() error { panic("old") })
	_ = h.Guard("new", nil, func() error { panic("new") })

	files, err := filepath.Glob(filepath.Join(dir, "crash-*.json"))
	require.NoError(t, err)
	require.Len(t, files, 2)
	var oldest string
	for _, f := range files {
		data, err := os.ReadFile(f)
		require.NoError(t, err)
		if strings.Contains(string(data), `"operation": "old"`) {
			oldest = f
		}
	}
	require.NotEmpty(t, oldest)
	past := time.Now().Add(-72 * time.Hour)
	require.NoError(t, os.Chtimes(oldest, past, past))

	removed, err := h.PruneReports(24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	reports, err := h.Reports()
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, "new", reports[0].PanicValue)
}

func TestCrashHandlerWithoutDir(t *testing.T) {
	h := NewCrashHandler(&CrashHandlerConfig{Component: "test"})
	reports, err := h.Reports()
	require.NoError(t, err)
	assert.Empty(t, reports)
	removed, err := h.PruneReports(0)
	require.NoError(t, err)
	assert.Zero(t, removed)
}
