// Package status carries the human-readable lines the collector prints for
// each event outcome.
package status

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// Reporter accepts one status line per call.
type Reporter interface {
	Report(msg string)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(msg string)

func (f ReporterFunc) Report(msg string) { f(msg) }

// Discard drops every line.
var Discard Reporter = ReporterFunc(func(string) {})

// Console writes each line to w.
type Console struct {
	mu sync.Mutex
	w  io.Writer
}

// NewConsole returns a Console writing to w.
func NewConsole(w io.Writer) *Console {
	return &Console{w: w}
}

func (c *Console) Report(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.w, msg)
}

// Log records each line at info level on logger.
func Log(logger *slog.Logger) Reporter {
	return ReporterFunc(func(msg string) {
		logger.Info("status", "message", msg)
	})
}

// Recorder keeps every line in memory.
type Recorder struct {
	mu    sync.Mutex
	lines []string
}

func (r *Recorder) Report(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, msg)
}

// Lines returns a copy of the recorded lines.
func (r *Recorder) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.lines...)
}

// Tee forwards each line to every reporter in order.
func Tee(reporters ...Reporter) Reporter {
	return ReporterFunc(func(msg string) {
		for _, r := range reporters {
			r.Report(msg)
		}
	})
}
