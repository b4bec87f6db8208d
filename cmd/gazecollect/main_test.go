package main

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gazecollect/internal/config"
	"gazecollect/internal/logging"
	"gazecollect/internal/status"
	"gazecollect/internal/store"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestRunFlagsOverrideOnlyWhenSet(t *testing.T) {
	flags := parseRunFlags([]string{
		"--throttle", "250ms",
		"--anchor", "middle",
		"--strategies", "cursor,gui-thread",
		"--metrics-listen", "127.0.0.1:9999",
		"-o", "/tmp/out",
	})

	cfg := config.DefaultConfig()
	cfg.Camera.Device = 3
	flags.apply(cfg)

	assert.Equal(t, 250*time.Millisecond, cfg.Throttle())
	assert.Equal(t, "middle", cfg.Caret.Anchor)
	assert.Equal(t, []string{"cursor", "gui-thread"}, cfg.Caret.Strategies)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "127.0.0.1:9999", cfg.Metrics.Listen)
	assert.Equal(t, "/tmp/out", cfg.Capture.OutputDir)
	assert.Equal(t, 3, cfg.Camera.Device, "unset flag keeps the file value")
	assert.False(t, cfg.Capture.RecordKeys)
	require.NoError(t, cfg.Validate())
}

func TestRunFlagsSurviveReload(t *testing.T) {
	flags := parseRunFlags([]string{"--record-keys"})

	reloaded := config.DefaultConfig()
	reloaded.Capture.RecordKeys = false
	flags.apply(reloaded)
	assert.True(t, reloaded.Capture.RecordKeys)
}

func TestPrintSummary(t *testing.T) {
	var buf bytes.Buffer
	printSummary(&buf, &store.Summary{
		Total:    3,
		Sessions: 1,
		ByKind:   map[string]int64{"mouse": 1, "keyboard": 2},
		ByStatus: map[store.Status]int64{store.StatusStored: 2, store.StatusNoPoint: 1},
		ByStrategy: map[string]int64{
			"event":      1,
			"gui-thread": 1,
		},
		First: time.Date(2024, 3, 9, 14, 0, 0, 0, time.UTC),
		Last:  time.Date(2024, 3, 9, 15, 0, 0, 0, time.UTC),
	})

	out := buf.String()
	assert.Contains(t, out, "Captures: 3")
	assert.Contains(t, out, "First:    2024-03-09 14:00:00")
	assert.Contains(t, out, "By kind:\n  keyboard       2\n  mouse          1\n")
	assert.Contains(t, out, "  no_point       1")
	assert.Contains(t, out, "  gui-thread     1")
}

func TestPrintEmptySummary(t *testing.T) {
	var buf bytes.Buffer
	printSummary(&buf, &store.Summary{})
	assert.Equal(t, "=== Capture Summary ===\nSessions: 0\nCaptures: 0\n", buf.String())
}

func TestNewCrashHandlerPrunesOldReports(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "crash-collector-20240101-000000-1.json")
	fresh := filepath.Join(dir, "crash-collector-20240301-000000-2.json")
	require.NoError(t, os.WriteFile(old, []byte(`{"operation":"handle key_down"}`), 0o640))
	require.NoError(t, os.WriteFile(fresh, []byte(`{"operation":"handle mouse_down"}`), 0o640))
	past := time.Now().Add(-3 * 24 * time.Hour)
	require.NoError(t, os.Chtimes(old, past, past))

	cfg := config.DefaultConfig()
	cfg.Logging.CrashDir = dir
	cfg.Logging.MaxAgeDays = 2
	crash := newCrashHandler(cfg, quiet)

	assert.NoFileExists(t, old)
	assert.FileExists(t, fresh)
	reports, err := crash.Reports()
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, "handle mouse_down", reports[0].Operation)
}

func TestNewCrashHandlerKeepsReportsWithoutRetention(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "crash-collector-20240101-000000-1.json")
	require.NoError(t, os.WriteFile(old, []byte(`{}`), 0o640))
	past := time.Now().Add(-365 * 24 * time.Hour)
	require.NoError(t, os.Chtimes(old, past, past))

	cfg := config.DefaultConfig()
	cfg.Logging.CrashDir = dir
	cfg.Logging.MaxAgeDays = 0
	newCrashHandler(cfg, quiet)

	assert.FileExists(t, old)
}

func TestNewReporterLogsForFileOutput(t *testing.T) {
	var out, logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))

	cfg := config.DefaultConfig()
	cfg.Logging.Output = "both"
	newReporter(cfg, &out, logger).Report(status.CameraReleased)
	assert.Equal(t, "Camera released\n", out.String())
	assert.Contains(t, logs.String(), `message="Camera released"`)

	out.Reset()
	logs.Reset()
	cfg.Logging.Output = "stderr"
	newReporter(cfg, &out, logger).Report(status.CameraReleased)
	assert.Equal(t, "Camera released\n", out.String())
	assert.Empty(t, logs.String())
}

func TestPrintCrashes(t *testing.T) {
	var buf bytes.Buffer
	printCrashes(&buf, nil)
	assert.Empty(t, buf.String())

	base := time.Date(2024, 3, 9, 14, 0, 0, 0, time.Local)
	var reports []logging.CrashReport
	for i := 0; i < 7; i++ {
		reports = append(reports, logging.CrashReport{
			Timestamp:  base.Add(time.Duration(i) * time.Minute),
			Operation:  "handle key_down",
			PanicValue: "driver fault",
		})
	}
	printCrashes(&buf, reports)

	out := buf.String()
	assert.Contains(t, out, "Crash reports: 7")
	assert.NotContains(t, out, "2024-03-09 14:01:00")
	assert.Contains(t, out, "2024-03-09 14:02:00")
	assert.Contains(t, out, "2024-03-09 14:06:00  handle key_down    driver fault")
}

func TestExportWindow(t *testing.T) {
	start, end, ranged, err := exportWindow("", "")
	require.NoError(t, err)
	assert.False(t, ranged)
	assert.True(t, start.Before(end))

	start, end, ranged, err = exportWindow("2024-03-09T14:00:00Z", "2024-03-10")
	require.NoError(t, err)
	assert.True(t, ranged)
	assert.True(t, start.Equal(time.Date(2024, 3, 9, 14, 0, 0, 0, time.UTC)))
	assert.True(t, end.Equal(time.Date(2024, 3, 11, 0, 0, 0, 0, time.Local).Add(-time.Nanosecond)))

	_, end, ranged, err = exportWindow("", "2024-03-09 15:04:05")
	require.NoError(t, err)
	assert.True(t, ranged)
	assert.True(t, end.Equal(time.Date(2024, 3, 9, 15, 4, 5, 0, time.Local)))

	_, _, _, err = exportWindow("yesterday", "")
	assert.ErrorContains(t, err, "--since")

	_, _, _, err = exportWindow("2024-03-10", "2024-03-09T00:00:00Z")
	assert.Error(t, err)
}
