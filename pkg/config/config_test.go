package config

import (
	"strings"
	"testing"

	"github.com/spf13/viper"
)

func loadFromYAML(t *testing.T, yml string) (*Config, error) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
	viper.SetConfigType("yaml")
	if err := viper.ReadConfig(strings.NewReader(yml)); err != nil {
		t.Fatalf("ReadConfig() error = %v", err)
	}
	return Load()
}

const validYAML = `
check:
  http:
    url: http://probe.example.com/ok
    headers:
      User-Agent: pool-checker
  https:
    url: https://probe.example.com/ok
    expect_json_code: true
    frame_prefix: 40
    frame_suffix: 1
  interval_seconds: 10
  fail_limit: 5
  timeout_seconds: 8
  concurrency: 16
fetch:
  interval_seconds: 30
  trigger_count: 50
pool:
  ttl_minutes: 45
sources:
  - name: free-list
    type: general
    url: http://lists.example.com/proxies.txt
  - name: kdl
    type: kdl-open
    order_id: "12345"
    api_key: secret
    batch_size: 20
`

func TestLoad(t *testing.T) {
	cfg, err := loadFromYAML(t, validYAML)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Check.FailLimit != 5 {
		t.Errorf("FailLimit = %d, want 5", cfg.Check.FailLimit)
	}
	if cfg.Check.HTTPS.FramePrefix != 40 || cfg.Check.HTTPS.FrameSuffix != 1 {
		t.Errorf("HTTPS framing = (%d,%d), want (40,1)", cfg.Check.HTTPS.FramePrefix, cfg.Check.HTTPS.FrameSuffix)
	}
	if got := cfg.CheckInterval().Seconds(); got != 10 {
		t.Errorf("CheckInterval = %vs, want 10s", got)
	}
	if got := cfg.ProxyTTL().Minutes(); got != 45 {
		t.Errorf("ProxyTTL = %vm, want 45m", got)
	}
	// sweep interval keeps its default when unset
	if got := cfg.SweepInterval().Seconds(); got != 60 {
		t.Errorf("SweepInterval = %vs, want 60s", got)
	}
	if len(cfg.Sources) != 2 {
		t.Fatalf("Sources count = %d, want 2", len(cfg.Sources))
	}
	if cfg.Sources[1].OrderID != "12345" {
		t.Errorf("OrderID = %q, want %q", cfg.Sources[1].OrderID, "12345")
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name string
		yml  string
	}{
		{
			name: "Missing http check url",
			yml: `
check:
  https:
    url: https://probe.example.com/ok
`,
		},
		{
			name: "Unknown source type",
			yml: `
check:
  http:
    url: http://probe.example.com/ok
  https:
    url: https://probe.example.com/ok
sources:
  - name: bad
    type: carrier-pigeon
`,
		},
		{
			name: "KDL source without credentials",
			yml: `
check:
  http:
    url: http://probe.example.com/ok
  https:
    url: https://probe.example.com/ok
sources:
  - name: kdl
    type: kdl-open
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := loadFromYAML(t, tt.yml); err == nil {
				t.Error("Load() expected error, got nil")
			}
		})
	}
}
