// Package config loads doodlegrid configuration from TOML, YAML or JSON files
// with DOODLEGRID_* environment overrides.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config is the complete application configuration.
type Config struct {
	Storage     StorageConfig     `toml:"storage" yaml:"storage" json:"storage"`
	Session     SessionConfig     `toml:"session" yaml:"session" json:"session"`
	Assets      AssetsConfig      `toml:"assets" yaml:"assets" json:"assets"`
	Render      RenderConfig      `toml:"render" yaml:"render" json:"render"`
	Maintenance MaintenanceConfig `toml:"maintenance" yaml:"maintenance" json:"maintenance"`
	Logging     LoggingConfig     `toml:"logging" yaml:"logging" json:"logging"`
	HTTP        HTTPConfig        `toml:"http" yaml:"http" json:"http"`
}

// StorageConfig selects the persistence backend. DSN wins over the
// individual connection fields when set.
type StorageConfig struct {
	// Driver is sqlite, postgres, mysql, mongodb or memory.
	Driver   string `toml:"driver" yaml:"driver" json:"driver"`
	DSN      string `toml:"dsn" yaml:"dsn" json:"dsn"`
	Host     string `toml:"host" yaml:"host" json:"host"`
	Port     int    `toml:"port" yaml:"port" json:"port"`
	User     string `toml:"user" yaml:"user" json:"user"`
	Password string `toml:"password" yaml:"password" json:"password"`
	Database string `toml:"database" yaml:"database" json:"database"`
	SSLMode  string `toml:"ssl_mode" yaml:"ssl_mode" json:"ssl_mode"`
}

type SessionConfig struct {
	FlushDebounceMs int `toml:"flush_debounce_ms" yaml:"flush_debounce_ms" json:"flush_debounce_ms"`
}

// FlushDebounce returns the quiet period before a session flush.
func (s SessionConfig) FlushDebounce() time.Duration {
	return time.Duration(s.FlushDebounceMs) * time.Millisecond
}

type AssetsConfig struct {
	// MaxBytes is the size above which uploads are re-encoded as JPEG.
	MaxBytes    int64 `toml:"max_bytes" yaml:"max_bytes" json:"max_bytes"`
	JPEGQuality int   `toml:"jpeg_quality" yaml:"jpeg_quality" json:"jpeg_quality"`
}

type RenderConfig struct {
	ThumbSize          int     `toml:"thumb_size" yaml:"thumb_size" json:"thumb_size"`
	ViewportWidth      int     `toml:"viewport_width" yaml:"viewport_width" json:"viewport_width"`
	ViewportHeight     int     `toml:"viewport_height" yaml:"viewport_height" json:"viewport_height"`
	ExportMinScale     float64 `toml:"export_min_scale" yaml:"export_min_scale" json:"export_min_scale"`
	ExportMaxScale     float64 `toml:"export_max_scale" yaml:"export_max_scale" json:"export_max_scale"`
	ExportMaxDimension int     `toml:"export_max_dimension" yaml:"export_max_dimension" json:"export_max_dimension"`
	ExportQuality      int     `toml:"export_quality" yaml:"export_quality" json:"export_quality"`
}

type MaintenanceConfig struct {
	// AuditSchedule is a cron spec; empty disables the scheduled audit.
	AuditSchedule  string `toml:"audit_schedule" yaml:"audit_schedule" json:"audit_schedule"`
	ImportDir      string `toml:"import_dir" yaml:"import_dir" json:"import_dir"`
	ImportDocument string `toml:"import_document" yaml:"import_document" json:"import_document"`
	ImportSlot     string `toml:"import_slot" yaml:"import_slot" json:"import_slot"`
}

type LoggingConfig struct {
	Level     string `toml:"level" yaml:"level" json:"level"`
	Format    string `toml:"format" yaml:"format" json:"format"`
	Output    string `toml:"output" yaml:"output" json:"output"`
	AddSource bool   `toml:"add_source" yaml:"add_source" json:"add_source"`
}

type HTTPConfig struct {
	Addr string `toml:"addr" yaml:"addr" json:"addr"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			Driver: "sqlite",
			DSN:    filepath.Join(DataDir(), "doodlegrid.db"),
		},
		Session: SessionConfig{FlushDebounceMs: 300},
		Assets: AssetsConfig{
			MaxBytes:    2_000_000,
			JPEGQuality: 70,
		},
		Render: RenderConfig{
			ThumbSize:          320,
			ViewportWidth:      1280,
			ViewportHeight:     800,
			ExportMinScale:     1.5,
			ExportMaxScale:     5,
			ExportMaxDimension: 10_000,
			ExportQuality:      90,
		},
		Maintenance: MaintenanceConfig{
			AuditSchedule: "@every 1h",
			ImportSlot:    "reference",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		HTTP: HTTPConfig{Addr: "127.0.0.1:8080"},
	}
}

// DataDir returns DOODLEGRID_DATA_DIR, or the XDG data directory.
func DataDir() string {
	if v := os.Getenv("DOODLEGRID_DATA_DIR"); v != "" {
		return v
	}
	if v := os.Getenv("XDG_DATA_HOME"); v != "" {
		return filepath.Join(v, "doodlegrid")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "doodlegrid")
}

// ConfigPath returns the default config file location.
func ConfigPath() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "doodlegrid", "config.toml")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "doodlegrid", "config.toml")
}

// ApplyEnvOverrides applies DOODLEGRID_* environment variables.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("DOODLEGRID_STORAGE_DRIVER"); v != "" {
		c.Storage.Driver = v
	}
	if v := os.Getenv("DOODLEGRID_STORAGE_DSN"); v != "" {
		c.Storage.DSN = v
	}
	// Credentials from env only
	if v := os.Getenv("DOODLEGRID_STORAGE_PASSWORD"); v != "" {
		c.Storage.Password = v
	}
	if v := os.Getenv("DOODLEGRID_FLUSH_DEBOUNCE_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Session.FlushDebounceMs = n
		}
	}
	if v := os.Getenv("DOODLEGRID_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("DOODLEGRID_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("DOODLEGRID_HTTP_ADDR"); v != "" {
		c.HTTP.Addr = v
	}
	if v := os.Getenv("DOODLEGRID_IMPORT_DIR"); v != "" {
		c.Maintenance.ImportDir = v
	}
	if v := os.Getenv("DOODLEGRID_IMPORT_DOCUMENT"); v != "" {
		c.Maintenance.ImportDocument = v
	}
}

// Clone returns a copy of c.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}
