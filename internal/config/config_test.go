package config

import (
	"strings"
	"testing"
	"time"
)

func TestReadConfig(t *testing.T) {
	input := `
data_dir = "/var/lib/recordlake"

[quota]
default_limit = 2147483648

[blobs]
max_size = 8388608

[sync]
resolve_timeout = "5s"

[gc]
interval = "2m"
`
	cfg, err := Read(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if cfg.DataDir != "/var/lib/recordlake" {
		t.Errorf("DataDir = %q", cfg.DataDir)
	}
	if cfg.Quota.DefaultLimit != 2147483648 {
		t.Errorf("DefaultLimit = %d", cfg.Quota.DefaultLimit)
	}
	if cfg.Blobs.MaxSize != 8388608 {
		t.Errorf("MaxSize = %d", cfg.Blobs.MaxSize)
	}
	if cfg.ResolveTimeout() != 5*time.Second {
		t.Errorf("ResolveTimeout = %v", cfg.ResolveTimeout())
	}
	if cfg.GCInterval() != 2*time.Minute {
		t.Errorf("GCInterval = %v", cfg.GCInterval())
	}
}

func TestReadConfigBadDuration(t *testing.T) {
	input := `
data_dir = "/tmp/x"

[gc]
interval = "not-a-duration"
`
	if _, err := Read(strings.NewReader(input)); err == nil {
		t.Fatal("expected error for malformed duration")
	}
}

func TestDefault(t *testing.T) {
	cfg := Default("/tmp/data")
	if cfg.DataDir != "/tmp/data" {
		t.Errorf("DataDir = %q", cfg.DataDir)
	}
	if cfg.Quota.DefaultLimit <= 0 || cfg.Blobs.MaxSize <= 0 {
		t.Errorf("defaults not positive: %+v", cfg)
	}
	if cfg.GCInterval() <= 0 {
		t.Errorf("GCInterval = %v", cfg.GCInterval())
	}
}
