// Package config holds the typed service configuration loaded through
// viper. Validation failures are fatal at startup and never at runtime.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// TargetConfig describes one probe target: the URL a candidate proxy must
// fetch, extra request headers, and an optional application-level content
// check for endpoints that report errors inside a 200 response.
type TargetConfig struct {
	URL     string            `mapstructure:"url"`
	Headers map[string]string `mapstructure:"headers"`

	// ExpectJSONCode enables the body check: the response must be a JSON
	// document whose top-level "code" field equals zero.
	ExpectJSONCode bool `mapstructure:"expect_json_code"`
	// FramePrefix/FrameSuffix strip a fixed-length non-JSON wrapper
	// (jsonp-style) before the body is parsed. Zero means no framing.
	FramePrefix int `mapstructure:"frame_prefix"`
	FrameSuffix int `mapstructure:"frame_suffix"`
}

type CheckConfig struct {
	HTTP  TargetConfig `mapstructure:"http"`
	HTTPS TargetConfig `mapstructure:"https"`

	IntervalSeconds int `mapstructure:"interval_seconds"`
	FailLimit       int `mapstructure:"fail_limit"`
	TimeoutSeconds  int `mapstructure:"timeout_seconds"`
	Concurrency     int `mapstructure:"concurrency"`
}

type FetchConfig struct {
	IntervalSeconds int `mapstructure:"interval_seconds"`
	TriggerCount    int `mapstructure:"trigger_count"`
}

type PoolConfig struct {
	TTLMinutes           int `mapstructure:"ttl_minutes"`
	SweepIntervalSeconds int `mapstructure:"sweep_interval_seconds"`
}

// SourceConfig defines one proxy source. Type selects the implementation;
// the remaining fields are per-type credentials and knobs.
type SourceConfig struct {
	Name      string `mapstructure:"name"`
	Type      string `mapstructure:"type"`
	URL       string `mapstructure:"url"`
	OrderID   string `mapstructure:"order_id"`
	APIKey    string `mapstructure:"api_key"`
	BatchSize int    `mapstructure:"batch_size"`
}

type ServerConfig struct {
	Listen string `mapstructure:"listen"`
}

type Config struct {
	Check   CheckConfig    `mapstructure:"check"`
	Fetch   FetchConfig    `mapstructure:"fetch"`
	Pool    PoolConfig     `mapstructure:"pool"`
	Sources []SourceConfig `mapstructure:"sources"`
	Server  ServerConfig   `mapstructure:"server"`
}

// Load unmarshals the already-read viper configuration, applies defaults
// and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Check: CheckConfig{
			IntervalSeconds: 5,
			FailLimit:       3,
			TimeoutSeconds:  15,
			Concurrency:     30,
		},
		Fetch: FetchConfig{
			IntervalSeconds: 5,
			TriggerCount:    100,
		},
		Pool: PoolConfig{
			TTLMinutes:           30,
			SweepIntervalSeconds: 60,
		},
		Server: ServerConfig{
			Listen: ":8080",
		},
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %v", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Check.HTTP.URL == "" {
		return fmt.Errorf("check.http.url is required")
	}
	if c.Check.HTTPS.URL == "" {
		return fmt.Errorf("check.https.url is required")
	}
	if c.Check.Concurrency <= 0 {
		return fmt.Errorf("check.concurrency must be positive")
	}
	if c.Check.FailLimit <= 0 {
		return fmt.Errorf("check.fail_limit must be positive")
	}

	for i, src := range c.Sources {
		if src.Name == "" {
			return fmt.Errorf("sources[%d]: name is required", i)
		}
		switch src.Type {
		case "general":
			if src.URL == "" {
				return fmt.Errorf("source %s: url is required", src.Name)
			}
		case "kdl-open":
			if src.OrderID == "" {
				return fmt.Errorf("source %s: order_id is required", src.Name)
			}
			if src.APIKey == "" {
				return fmt.Errorf("source %s: api_key is required", src.Name)
			}
		default:
			return fmt.Errorf("source %s: unknown type %q", src.Name, src.Type)
		}
	}
	return nil
}

func (c *Config) CheckInterval() time.Duration {
	return time.Duration(c.Check.IntervalSeconds) * time.Second
}

func (c *Config) CheckTimeout() time.Duration {
	return time.Duration(c.Check.TimeoutSeconds) * time.Second
}

func (c *Config) FetchInterval() time.Duration {
	return time.Duration(c.Fetch.IntervalSeconds) * time.Second
}

func (c *Config) ProxyTTL() time.Duration {
	return time.Duration(c.Pool.TTLMinutes) * time.Minute
}

func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Pool.SweepIntervalSeconds) * time.Second
}
