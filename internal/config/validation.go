package config

import (
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"

	"doodlegrid/internal/logging"
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

var drivers = map[string]bool{
	"sqlite": true, "postgres": true, "mysql": true, "mongodb": true, "memory": true,
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs ValidationErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if !drivers[c.Storage.Driver] {
		add("storage.driver", "unsupported driver %q", c.Storage.Driver)
	}
	if c.Storage.Driver == "sqlite" && c.Storage.DSN == "" && c.Storage.Database == "" {
		add("storage.dsn", "sqlite needs a file path")
	}
	if c.Session.FlushDebounceMs <= 0 {
		add("session.flush_debounce_ms", "must be positive, got %d", c.Session.FlushDebounceMs)
	}
	if c.Assets.MaxBytes <= 0 {
		add("assets.max_bytes", "must be positive, got %d", c.Assets.MaxBytes)
	}
	if c.Assets.JPEGQuality < 1 || c.Assets.JPEGQuality > 100 {
		add("assets.jpeg_quality", "must be in [1,100], got %d", c.Assets.JPEGQuality)
	}
	if c.Render.ExportQuality < 1 || c.Render.ExportQuality > 100 {
		add("render.export_quality", "must be in [1,100], got %d", c.Render.ExportQuality)
	}
	if c.Render.ThumbSize <= 0 {
		add("render.thumb_size", "must be positive, got %d", c.Render.ThumbSize)
	}
	if c.Render.ViewportWidth <= 0 || c.Render.ViewportHeight <= 0 {
		add("render.viewport", "must be positive, got %dx%d", c.Render.ViewportWidth, c.Render.ViewportHeight)
	}
	if c.Render.ExportMinScale <= 0 || c.Render.ExportMaxScale <= 0 || c.Render.ExportMaxDimension <= 0 {
		add("render.export", "scales and max dimension must be positive")
	}
	if c.Maintenance.AuditSchedule != "" {
		if _, err := cron.ParseStandard(c.Maintenance.AuditSchedule); err != nil {
			add("maintenance.audit_schedule", "%v", err)
		}
	}
	switch c.Maintenance.ImportSlot {
	case "background", "reference", "bg", "ref":
	default:
		add("maintenance.import_slot", "unknown slot %q", c.Maintenance.ImportSlot)
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		add("logging.level", "%v", err)
	}
	if _, err := logging.ParseFormat(c.Logging.Format); err != nil {
		add("logging.format", "%v", err)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// LoggerConfig converts the logging section to a logging.Config.
func (c *Config) LoggerConfig() *logging.Config {
	level, _ := logging.ParseLevel(c.Logging.Level)
	format, _ := logging.ParseFormat(c.Logging.Format)
	return &logging.Config{
		Level:     level,
		Format:    format,
		Output:    c.Logging.Output,
		AddSource: c.Logging.AddSource,
		Component: "doodlegrid",
	}
}
