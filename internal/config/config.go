// Package config reads the store's TOML configuration.
package config

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the top-level configuration.
type Config struct {
	DataDir string      `toml:"data_dir"`
	Quota   QuotaConfig `toml:"quota"`
	Blobs   BlobConfig  `toml:"blobs"`
	Sync    SyncConfig  `toml:"sync"`
	GC      GCConfig    `toml:"gc"`
}

// QuotaConfig sets the default per-owner byte budget.
type QuotaConfig struct {
	DefaultLimit int64 `toml:"default_limit"`
}

// BlobConfig bounds blob uploads.
type BlobConfig struct {
	MaxSize int64 `toml:"max_size"`
}

// SyncConfig bounds the network-facing steps of ingestion.
type SyncConfig struct {
	ResolveTimeout duration `toml:"resolve_timeout"`
}

// GCConfig controls the background sweep.
type GCConfig struct {
	Interval duration `toml:"interval"`
}

// duration lets TOML carry values like "10s" or "5m".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns the configuration used when no file is given.
func Default(dataDir string) *Config {
	return &Config{
		DataDir: dataDir,
		Quota:   QuotaConfig{DefaultLimit: 1 << 30},
		Blobs:   BlobConfig{MaxSize: 16 << 20},
		Sync:    SyncConfig{ResolveTimeout: duration{10 * time.Second}},
		GC:      GCConfig{Interval: duration{5 * time.Minute}},
	}
}

// ResolveTimeout returns the configured timeout, zero meaning default.
func (c *Config) ResolveTimeout() time.Duration { return c.Sync.ResolveTimeout.Duration }

// GCInterval returns the configured sweep interval, zero meaning default.
func (c *Config) GCInterval() time.Duration { return c.GC.Interval.Duration }

// Read decodes a Config from the provided reader.
func Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	cfg, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("config %s: data_dir is required", path)
	}
	return cfg, nil
}
