// Package config loads and validates the prom-reaper configuration
// file. The file is TOML; no environment variables are consumed here.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Shared defaults used by config loading and generate-config.
const (
	DefaultListen             = "0.0.0.0:9090"
	DefaultScrapeIntervalSecs = 30
	DefaultSourceTimeoutSecs  = 10
)

// reservedLabelName is managed by Prometheus itself and may never be
// injected through extra_labels.
const reservedLabelName = "__name__"

// Config holds all settings for a prom-reaper instance.
type Config struct {
	Listen             string         `toml:"listen"`
	NumShards          uint32         `toml:"num_shards"`
	ScrapeIntervalSecs uint64         `toml:"scrape_interval_secs"`
	Sources            []SourceConfig `toml:"sources"`
}

// SourceConfig describes one upstream exposition endpoint.
type SourceConfig struct {
	URL         string            `toml:"url"`
	TimeoutSecs uint64            `toml:"timeout_secs"`
	Headers     map[string]string `toml:"headers"`
	// ExtraLabels are attached to every series scraped from this source.
	// They participate in the consistent-hashing key, so they affect
	// shard assignment.
	ExtraLabels map[string]string `toml:"extra_labels"`
}

// ScrapeInterval returns the scrape interval as a duration.
func (c *Config) ScrapeInterval() time.Duration {
	return time.Duration(c.ScrapeIntervalSecs) * time.Second
}

// Timeout returns the per-source fetch timeout as a duration.
func (s *SourceConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutSecs) * time.Second
}

// Load reads the TOML config file at path, applies defaults, and
// validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	cfg := Config{
		Listen:             DefaultListen,
		ScrapeIntervalSecs: DefaultScrapeIntervalSecs,
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	for i := range cfg.Sources {
		if cfg.Sources[i].TimeoutSecs == 0 {
			cfg.Sources[i].TimeoutSecs = DefaultSourceTimeoutSecs
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the semantic constraints the decoder cannot express.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen must not be empty")
	}
	if c.NumShards == 0 {
		return fmt.Errorf("num_shards must be greater than 0")
	}
	if c.ScrapeIntervalSecs == 0 {
		return fmt.Errorf("scrape_interval_secs must be greater than 0")
	}
	if len(c.Sources) == 0 {
		return fmt.Errorf("at least one source is required")
	}

	seen := make(map[string]struct{}, len(c.Sources))
	for i, src := range c.Sources {
		if src.URL == "" {
			return fmt.Errorf("sources[%d]: url must not be empty", i)
		}
		if _, dup := seen[src.URL]; dup {
			return fmt.Errorf("sources[%d]: duplicate url %q", i, src.URL)
		}
		seen[src.URL] = struct{}{}
		for name := range src.ExtraLabels {
			if name == reservedLabelName {
				return fmt.Errorf("sources[%d]: extra_labels may not set reserved label %q", i, reservedLabelName)
			}
			if !IsValidLabelName(name) {
				return fmt.Errorf("sources[%d]: extra_labels: %q is not a valid Prometheus label name (must match [a-zA-Z_][a-zA-Z0-9_]*)", i, name)
			}
		}
	}
	return nil
}

// IsValidLabelName reports whether s is a legal Prometheus label name:
// [a-zA-Z_][a-zA-Z0-9_]*.
func IsValidLabelName(s string) bool {
	if s == "" {
		return false
	}
	for i, c := range s {
		switch {
		case c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z'):
		case c >= '0' && c <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}
