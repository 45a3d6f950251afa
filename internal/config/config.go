// Package config loads the YAML server configuration for seedlinkd,
// mirroring the teacher's LoadServerConfig/validate defaulting pattern.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level seedlinkd server configuration.
type Config struct {
	Listen       ListenConfig       `yaml:"listen"`
	TLS          TLSConfig          `yaml:"tls"`
	Storage      StorageConfig      `yaml:"storage"`
	Organization string             `yaml:"organization"`
	Trusted      string             `yaml:"trusted"` // ACL token list, Feed access
	Access       string             `yaml:"access"`  // ACL token list, Client access
	Stations     map[string]Station `yaml:"stations"`
	Logging      LoggingConfig      `yaml:"logging"`
	RateLimit    RateLimitConfig    `yaml:"rate_limit"`
	Maintenance  MaintenanceConfig  `yaml:"maintenance"`
	Archive      ArchiveConfig      `yaml:"archive"`
	Export       ExportConfig       `yaml:"export"`
}

// ListenConfig holds the plaintext and TLS listen addresses.
type ListenConfig struct {
	Port    int `yaml:"port"`
	SSLPort int `yaml:"sslport"`
}

// TLSConfig names certificate material for the optional TLS listener.
// CACert is optional; when set, mutual TLS is required on the feed port.
type TLSConfig struct {
	CACert     string `yaml:"ca_cert"`
	ServerCert string `yaml:"server_cert"`
	ServerKey  string `yaml:"server_key"`
}

// StorageConfig holds the ring storage root and default per-station sizing.
type StorageConfig struct {
	FileBase string `yaml:"filebase"`
	Segments int    `yaml:"segments"` // default ring capacity, in records
	SegSize  string `yaml:"segsize"`  // default blocksize, e.g. "512b"
	RecSize  string `yaml:"recsize"`  // max payload size per record

	SegSizeRaw int64 `yaml:"-"`
	RecSizeRaw int64 `yaml:"-"`
}

// Station is a per-station override of the storage defaults and ACL.
type Station struct {
	Segments int    `yaml:"segments"`
	SegSize  string `yaml:"segsize"`
	RecSize  string `yaml:"recsize"`
	Access   string `yaml:"access"`
	Ordered  bool   `yaml:"ordered"`

	SegSizeRaw int64 `yaml:"-"`
	RecSizeRaw int64 `yaml:"-"`
}

// LoggingConfig selects the slog level/format/destination.
type LoggingConfig struct {
	Level         string `yaml:"level"`
	Format        string `yaml:"format"`
	File          string `yaml:"file"`
	SessionLogDir string `yaml:"session_log_dir"` // per-connection debug log files, disabled when empty
}

// RateLimitConfig configures per-session token-bucket throttling.
type RateLimitConfig struct {
	FeedBytesPerSec     int64 `yaml:"feed_rate_limit"`
	CommandsPerSec      int64 `yaml:"command_rate_limit"`
}

// MaintenanceConfig configures the periodic ring-consistency sweep.
type MaintenanceConfig struct {
	SweepSchedule string `yaml:"sweep_schedule"` // cron expression, default "*/15 * * * *"
}

// ArchiveConfig configures the optional S3-compatible cold-storage archiver.
type ArchiveConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Bucket   string `yaml:"bucket"`
	Endpoint string `yaml:"endpoint"` // non-empty for S3-compatible stores
	Region   string `yaml:"region"`
}

// ExportConfig selects the ring-snapshot export compression backend.
type ExportConfig struct {
	Compression string `yaml:"compression"` // "gzip" (default) or "zstd"
}

// Load reads and validates a YAML config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading server config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing server config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating server config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Listen.Port == 0 && c.Listen.SSLPort == 0 {
		return fmt.Errorf("listen.port or listen.sslport is required")
	}
	if c.Storage.FileBase == "" {
		return fmt.Errorf("storage.filebase is required")
	}
	if c.Storage.Segments <= 0 {
		c.Storage.Segments = 50
	}
	if c.Storage.SegSize == "" {
		c.Storage.SegSize = "512b"
	}
	segsize, err := ParseByteSize(c.Storage.SegSize)
	if err != nil {
		return fmt.Errorf("storage.segsize: %w", err)
	}
	c.Storage.SegSizeRaw = segsize

	if c.Storage.RecSize == "" {
		c.Storage.RecSize = "512b"
	}
	recsize, err := ParseByteSize(c.Storage.RecSize)
	if err != nil {
		return fmt.Errorf("storage.recsize: %w", err)
	}
	c.Storage.RecSizeRaw = recsize

	for name, st := range c.Stations {
		if st.Segments == 0 {
			st.Segments = c.Storage.Segments
		}
		if st.SegSize == "" {
			st.SegSizeRaw = c.Storage.SegSizeRaw
		} else {
			v, err := ParseByteSize(st.SegSize)
			if err != nil {
				return fmt.Errorf("stations.%s.segsize: %w", name, err)
			}
			st.SegSizeRaw = v
		}
		if st.RecSize == "" {
			st.RecSizeRaw = c.Storage.RecSizeRaw
		} else {
			v, err := ParseByteSize(st.RecSize)
			if err != nil {
				return fmt.Errorf("stations.%s.recsize: %w", name, err)
			}
			st.RecSizeRaw = v
		}
		c.Stations[name] = st
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	if c.Maintenance.SweepSchedule == "" {
		c.Maintenance.SweepSchedule = "*/15 * * * *"
	}

	if c.Archive.Enabled && c.Archive.Bucket == "" {
		return fmt.Errorf("archive.bucket is required when archive.enabled is true")
	}

	if c.Export.Compression == "" {
		c.Export.Compression = "gzip"
	}
	if c.Export.Compression != "gzip" && c.Export.Compression != "zstd" {
		return fmt.Errorf("export.compression must be gzip or zstd, got %q", c.Export.Compression)
	}

	return nil
}

// ParseByteSize converts human-readable sizes like "512b", "1mb", "1gb"
// into a byte count.
func ParseByteSize(s string) (int64, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, fmt.Errorf("empty size string")
	}

	type suffix struct {
		s string
		m int64
	}
	suffixes := []suffix{
		{"gb", 1024 * 1024 * 1024},
		{"mb", 1024 * 1024},
		{"kb", 1024},
		{"b", 1},
	}
	for _, sfx := range suffixes {
		if strings.HasSuffix(s, sfx.s) {
			numStr := strings.TrimSuffix(s, sfx.s)
			num, err := strconv.ParseInt(numStr, 10, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid number %q: %w", numStr, err)
			}
			return num * sfx.m, nil
		}
	}
	num, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("unknown size format %q", s)
	}
	return num, nil
}

// SweepInterval is a convenience accessor kept for components that want a
// time.Duration fallback when cron parsing is undesirable (tests).
func (c *MaintenanceConfig) SweepInterval() time.Duration {
	return 15 * time.Minute
}
