package health

import (
	"context"
	"time"

	"gazecollect/internal/camera"
	"gazecollect/internal/caret"
)

// StoreCheck reports the capture index as unhealthy when ping fails.
func StoreCheck(ping func() error) Check {
	return func(ctx context.Context) CheckResult {
		if err := ping(); err != nil {
			return CheckResult{
				Status:  StatusUnhealthy,
				Message: "capture index unreachable",
				Error:   err.Error(),
			}
		}
		return CheckResult{Status: StatusHealthy, Message: "capture index ok"}
	}
}

// FrameSource is the part of a capture sink the camera check reads.
type FrameSource interface {
	Device() camera.Device
	LastError() error
	Stats() (stored, failed uint64)
}

// CameraCheck is degraded when the device never opened or the most recent
// capture failed.
func CameraCheck(src FrameSource) Check {
	return func(ctx context.Context) CheckResult {
		stored, failed := src.Stats()
		details := map[string]any{
			"device": src.Device().Name(),
			"stored": stored,
			"failed": failed,
		}
		if camera.IsUnavailable(src.Device()) {
			result := CheckResult{
				Status:  StatusDegraded,
				Message: "camera unavailable, captures are recorded without frames",
				Details: details,
			}
			if err := src.LastError(); err != nil {
				result.Error = err.Error()
			}
			return result
		}
		if err := src.LastError(); err != nil {
			return CheckResult{
				Status:  StatusDegraded,
				Message: "last capture failed",
				Details: details,
				Error:   err.Error(),
			}
		}
		return CheckResult{Status: StatusHealthy, Message: "camera ok", Details: details}
	}
}

// CaretCheck is degraded when every caret lookup so far has failed.
func CaretCheck(stats func() caret.Stats) Check {
	return func(ctx context.Context) CheckResult {
		s := stats()
		details := map[string]any{
			"queries":          s.Queries,
			"hits":             s.Hits,
			"failures":         s.Failures,
			"windows":          s.Windows,
			"disabled_windows": s.Disabled,
		}
		if s.Queries > 0 && s.Failures == s.Queries {
			return CheckResult{
				Status:  StatusDegraded,
				Message: "no caret position resolved yet",
				Details: details,
			}
		}
		return CheckResult{Status: StatusHealthy, Message: "caret resolver ok", Details: details}
	}
}

// InputCheck is degraded when no event arrived within idle. A zero last
// event time means the source has not produced anything yet.
func InputCheck(last func() time.Time, idle time.Duration) Check {
	return func(ctx context.Context) CheckResult {
		t := last()
		if t.IsZero() {
			return CheckResult{Status: StatusHealthy, Message: "waiting for input"}
		}
		since := time.Since(t)
		details := map[string]any{"last_event": t, "idle": since.Round(time.Second).String()}
		if idle > 0 && since > idle {
			return CheckResult{Status: StatusDegraded, Message: "no input received recently", Details: details}
		}
		return CheckResult{Status: StatusHealthy, Message: "input flowing", Details: details}
	}
}
