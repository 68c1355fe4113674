// Package config loads an optional edge config file: JIT thresholds, the
// debugger's listen address, and the rate limiter's window, per
// SPEC_FULL.md §7's ambient-config note. No edgevmctl command reads it. The teacher never
// reaches for a YAML library itself (its own config is PHP-side), but
// gopkg.in/yaml.v3 is already an indirect dependency of its module graph;
// this promotes it to direct use the way a config file is the one place
// in the teacher's stack where reaching for a real library over
// hand-rolled encoding/json beats rolling your own.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the edge's tunable runtime knobs, all optional; Default
// returns the values used absent a config file.
type Config struct {
	JIT struct {
		Enabled          bool   `yaml:"enabled"`
		HotLoopThreshold uint32 `yaml:"hot_loop_threshold"`
		MaxTraceLen      int    `yaml:"max_trace_len"`
	} `yaml:"jit"`

	Debug struct {
		ListenAddr string `yaml:"listen_addr"`
	} `yaml:"debug"`

	RateLimit struct {
		Limit  int64    `yaml:"limit"`
		Window Duration `yaml:"window"`
	} `yaml:"rate_limit"`

	Store struct {
		DSN string `yaml:"dsn"`
	} `yaml:"store"`
}

// Duration wraps time.Duration with a YAML unmarshaler that accepts
// Go-style duration strings ("30s", "2m"), since yaml.v3 has no built-in
// notion of time.Duration and would otherwise require the window to be
// written out in raw nanoseconds.
type Duration time.Duration

func (d Duration) String() string { return time.Duration(d).String() }

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Default returns the baseline config used when no file is supplied.
func Default() *Config {
	c := &Config{}
	c.JIT.Enabled = true
	c.JIT.HotLoopThreshold = 8
	c.JIT.MaxTraceLen = 256
	c.Debug.ListenAddr = "127.0.0.1:4711"
	c.RateLimit.Limit = 100
	c.RateLimit.Window = Duration(time.Minute)
	c.Store.DSN = "sqlite://file::memory:?cache=shared"
	return c
}

// Load reads and merges a YAML config file over Default: any field the
// file omits keeps its default value, since the file's target type is
// pre-populated with defaults before Unmarshal runs.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	c := Default()
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return c, nil
}
