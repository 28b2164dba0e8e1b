package parser

import (
	"testing"
)

func TestParseText(t *testing.T) {
	tests := []struct {
		name      string
		data      string
		wantCount int
	}{
		{
			name:      "Plain list",
			data:      "1.2.3.4:8080\n5.6.7.8:3128\n",
			wantCount: 2,
		},
		{
			name:      "Whitespace and blank lines",
			data:      "  1.2.3.4:8080  \n\n\n10.0.0.1:80\n",
			wantCount: 2,
		},
		{
			name:      "Non-matching lines skipped",
			data:      "not-a-proxy\nexample.com:8080\n1.2.3.4\n1.2.3.4:8080\n",
			wantCount: 1,
		},
		{
			name:      "Octet out of range",
			data:      "256.1.1.1:8080\n",
			wantCount: 0,
		},
		{
			name:      "Port too short",
			data:      "1.2.3.4:7\n",
			wantCount: 0,
		},
		{
			name:      "Empty input",
			data:      "",
			wantCount: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseText("test-source", tt.data)
			if len(got) != tt.wantCount {
				t.Errorf("ParseText() returned %d proxies, want %d", len(got), tt.wantCount)
			}
		})
	}
}

func TestParseTextFields(t *testing.T) {
	proxies := ParseText("kdl-open", "1.2.3.4:8080\n")
	if len(proxies) != 1 {
		t.Fatalf("ParseText() returned %d proxies, want 1", len(proxies))
	}

	p := proxies[0]
	if p.Host != "1.2.3.4" {
		t.Errorf("Host = %q, want %q", p.Host, "1.2.3.4")
	}
	if p.Port != 8080 {
		t.Errorf("Port = %d, want 8080", p.Port)
	}
	if p.Source != "kdl-open" {
		t.Errorf("Source = %q, want %q", p.Source, "kdl-open")
	}
	if p.Type != "http" {
		t.Errorf("Type = %q, want %q", p.Type, "http")
	}
	if p.AddTime.IsZero() {
		t.Error("AddTime should be set")
	}
	if p.HTTP.Latency != -1 || p.HTTPS.Latency != -1 {
		t.Errorf("new candidate should carry -1 latencies, got http=%d https=%d", p.HTTP.Latency, p.HTTPS.Latency)
	}
}
