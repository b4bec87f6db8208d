package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"gazecollect/internal/caret"
)

// ErrInvalidConfig is returned when validation fails.
var ErrInvalidConfig = errors.New("invalid configuration")

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
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Is lets callers match any validation failure with ErrInvalidConfig.
func (e ValidationErrors) Is(target error) bool {
	return target == ErrInvalidConfig
}

// Fields returns the names of the failing fields.
func (e ValidationErrors) Fields() []string {
	fields := make([]string, 0, len(e))
	for _, err := range e {
		fields = append(fields, err.Field)
	}
	return fields
}

// ValidateConfig checks every section and returns ValidationErrors if any
// field is invalid.
func ValidateConfig(c *Config) error {
	var errs ValidationErrors

	if c.Version < 1 || c.Version > Version {
		errs = append(errs, ValidationError{
			Field:   "version",
			Message: fmt.Sprintf("unsupported version %d (current: %d)", c.Version, Version),
		})
	}

	errs = append(errs, validateCaret(&c.Caret)...)
	errs = append(errs, validateCapture(&c.Capture)...)
	errs = append(errs, validateCamera(&c.Camera)...)
	errs = append(errs, validateStorage(&c.Storage)...)
	errs = append(errs, validateLogging(&c.Logging)...)
	errs = append(errs, validateMetrics(&c.Metrics)...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateCaret(c *CaretConfig) ValidationErrors {
	var errs ValidationErrors

	if c.ThrottleMs < 1 || c.ThrottleMs > 60000 {
		errs = append(errs, *RangeError("caret.throttle_ms", 1, 60000))
	}
	if _, err := caret.ParseAnchor(c.Anchor); err != nil {
		errs = append(errs, ValidationError{
			Field:   "caret.anchor",
			Message: fmt.Sprintf("invalid anchor: %s (valid: top, middle)", c.Anchor),
		})
	}
	if len(c.Strategies) == 0 {
		errs = append(errs, *RequiredFieldError("caret.strategies"))
	} else if _, err := caret.ParseStrategies(c.Strategies); err != nil {
		errs = append(errs, ValidationError{
			Field:   "caret.strategies",
			Message: err.Error(),
		})
	}
	if c.CapabilityCacheSize < 1 {
		errs = append(errs, ValidationError{
			Field:   "caret.capability_cache_size",
			Message: "capability cache must hold at least one window",
		})
	}

	return errs
}

func validateCapture(c *CaptureConfig) ValidationErrors {
	var errs ValidationErrors

	if c.OutputDir == "" {
		errs = append(errs, *RequiredFieldError("capture.output_dir"))
	}
	for field, dir := range map[string]string{
		"capture.mouse_dir":    c.MouseDir,
		"capture.keyboard_dir": c.KeyboardDir,
	} {
		switch {
		case dir == "":
			errs = append(errs, *RequiredFieldError(field))
		case filepath.IsAbs(dir) || strings.Contains(dir, ".."):
			errs = append(errs, ValidationError{
				Field:   field,
				Message: "must be a relative path inside output_dir",
			})
		}
	}
	if c.MouseDir != "" && c.MouseDir == c.KeyboardDir {
		errs = append(errs, ValidationError{
			Field:   "capture.keyboard_dir",
			Message: "must differ from mouse_dir",
		})
	}
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		errs = append(errs, *RangeError("capture.jpeg_quality", 1, 100))
	}
	if c.MaxWidth < 0 {
		errs = append(errs, ValidationError{
			Field:   "capture.max_width",
			Message: "max width cannot be negative",
		})
	}
	if !c.Clicks && !c.Keys {
		errs = append(errs, ValidationError{
			Field:   "capture",
			Message: "at least one of clicks or keys must be enabled",
		})
	}

	return errs
}

func validateCamera(c *CameraConfig) ValidationErrors {
	if c.Device < 0 {
		return ValidationErrors{{
			Field:   "camera.device",
			Message: "device index cannot be negative",
		}}
	}
	return nil
}

func validateStorage(s *StorageConfig) ValidationErrors {
	var errs ValidationErrors

	if !s.Enabled {
		return nil
	}
	if s.Path == "" {
		errs = append(errs, *RequiredFieldError("storage.path"))
		return errs
	}
	dir := filepath.Dir(expandPath(s.Path))
	if info, err := os.Stat(dir); err == nil && !info.IsDir() {
		errs = append(errs, ValidationError{
			Field:   "storage.path",
			Message: fmt.Sprintf("parent is not a directory: %s", dir),
		})
	}

	return errs
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
			errs = append(errs, ValidationError{
				Field:   "logging.file_path",
				Message: fmt.Sprintf("file path is required when output is '%s'", l.Output),
			})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.output",
			Message: fmt.Sprintf("invalid log output: %s (valid: stdout, stderr, file, both)", l.Output),
		})
	}

	if l.MaxSizeMB < 1 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_size_mb",
			Message: "max size must be at least 1 MB",
		})
	}
	if l.MaxBackups < 0 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_backups",
			Message: "max backups cannot be negative",
		})
	}
	if l.MaxAgeDays < 0 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_age_days",
			Message: "max age cannot be negative",
		})
	}

	return errs
}

func validateMetrics(m *MetricsConfig) ValidationErrors {
	if !m.Enabled {
		return nil
	}
	if m.Listen == "" {
		return ValidationErrors{*RequiredFieldError("metrics.listen")}
	}
	if _, _, err := net.SplitHostPort(m.Listen); err != nil {
		return ValidationErrors{{
			Field:   "metrics.listen",
			Message: fmt.Sprintf("invalid listen address: %v", err),
		}}
	}
	return nil
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

// RequiredFieldError creates a validation error for a required field.
func RequiredFieldError(field string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: "required field is missing",
	}
}

// RangeError creates a validation error for an out-of-range value.
func RangeError(field string, min, max any) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: fmt.Sprintf("value must be between %v and %v", min, max),
	}
}
