package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "server.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("writing test config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `
listen:
  port: 18000
storage:
  filebase: /tmp/seedlink-test
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Storage.Segments != 50 {
		t.Errorf("Storage.Segments = %d, want 50", cfg.Storage.Segments)
	}
	if cfg.Storage.SegSizeRaw != 512 {
		t.Errorf("Storage.SegSizeRaw = %d, want 512", cfg.Storage.SegSizeRaw)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("Logging defaults = %+v", cfg.Logging)
	}
	if cfg.Maintenance.SweepSchedule != "*/15 * * * *" {
		t.Errorf("Maintenance.SweepSchedule = %q", cfg.Maintenance.SweepSchedule)
	}
	if cfg.Export.Compression != "gzip" {
		t.Errorf("Export.Compression = %q, want gzip", cfg.Export.Compression)
	}
}

func TestLoadMissingListenFails(t *testing.T) {
	path := writeConfig(t, `
storage:
  filebase: /tmp/seedlink-test
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error when no listen port is configured")
	}
}

func TestLoadArchiveRequiresBucket(t *testing.T) {
	path := writeConfig(t, `
listen:
  port: 18000
storage:
  filebase: /tmp/seedlink-test
archive:
  enabled: true
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error when archive is enabled without a bucket")
	}
}

func TestStationOverridesInheritDefaults(t *testing.T) {
	path := writeConfig(t, `
listen:
  port: 18000
storage:
  filebase: /tmp/seedlink-test
  segsize: 1kb
stations:
  XX.STA:
    segments: 10
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	st := cfg.Stations["XX.STA"]
	if st.Segments != 10 {
		t.Errorf("Station.Segments = %d, want 10", st.Segments)
	}
	if st.SegSizeRaw != 1024 {
		t.Errorf("Station.SegSizeRaw = %d, want 1024 (inherited)", st.SegSizeRaw)
	}
}

func TestParseByteSize(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"512b", 512},
		{"1kb", 1024},
		{"4mb", 4 * 1024 * 1024},
		{"1gb", 1024 * 1024 * 1024},
		{"100", 100},
	}
	for _, tc := range cases {
		got, err := ParseByteSize(tc.in)
		if err != nil {
			t.Errorf("ParseByteSize(%q) error: %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseByteSize(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestParseByteSizeInvalid(t *testing.T) {
	if _, err := ParseByteSize("not-a-size"); err == nil {
		t.Fatal("expected an error for an unparseable size")
	}
}
