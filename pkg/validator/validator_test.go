package validator

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"proxy-pool/pkg/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// proxyFromServer turns an httptest server into a candidate proxy record.
// For plain HTTP targets the client sends the whole request to the proxy,
// so a handler that answers directly behaves like a forward proxy.
func proxyFromServer(t *testing.T, srv *httptest.Server) *models.Proxy {
	t.Helper()
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parse server URL: %v", err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatalf("parse server port: %v", err)
	}
	return &models.Proxy{Type: models.HTTPProxy, Host: u.Hostname(), Port: port}
}

func deadProxy(t *testing.T) *models.Proxy {
	t.Helper()
	// Grab a port and close it so a connect attempt is refused.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return &models.Proxy{Type: models.HTTPProxy, Host: "127.0.0.1", Port: port}
}

func TestProbeSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "ok")
	}))
	defer srv.Close()

	target := Target{URL: "http://target.example/check"}
	v := NewWithTargets(target, target, testLogger())

	httpRes, httpsRes := v.Probe(context.Background(), proxyFromServer(t, srv), 5*time.Second)
	if !httpRes.Status {
		t.Errorf("http result = %+v, want reachable", httpRes)
	}
	if !httpsRes.Status {
		t.Errorf("https result = %+v, want reachable", httpsRes)
	}
	if httpRes.Latency < 0 {
		t.Errorf("latency = %d, want >= 0", httpRes.Latency)
	}
}

func TestProbeNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	target := Target{URL: "http://target.example/check"}
	v := NewWithTargets(target, target, testLogger())

	httpRes, _ := v.Probe(context.Background(), proxyFromServer(t, srv), 5*time.Second)
	if httpRes != models.Unreachable {
		t.Errorf("result = %+v, want %+v", httpRes, models.Unreachable)
	}
}

func TestProbeTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer srv.Close()

	target := Target{URL: "http://target.example/check"}
	v := NewWithTargets(target, target, testLogger())

	start := time.Now()
	httpRes, httpsRes := v.Probe(context.Background(), proxyFromServer(t, srv), 50*time.Millisecond)
	if httpRes != models.Unreachable || httpsRes != models.Unreachable {
		t.Errorf("results = %+v/%+v, want unreachable", httpRes, httpsRes)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("probe took %v, timeout not enforced", elapsed)
	}
}

func TestProbeConnectionRefused(t *testing.T) {
	target := Target{URL: "http://target.example/check"}
	v := NewWithTargets(target, target, testLogger())

	httpRes, httpsRes := v.Probe(context.Background(), deadProxy(t), time.Second)
	if httpRes != models.Unreachable || httpsRes != models.Unreachable {
		t.Errorf("results = %+v/%+v, want unreachable", httpRes, httpsRes)
	}
}

func TestProbeCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(time.Second)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	target := Target{URL: "http://target.example/check"}
	v := NewWithTargets(target, target, testLogger())

	httpRes, _ := v.Probe(ctx, proxyFromServer(t, srv), 5*time.Second)
	if httpRes != models.Unreachable {
		t.Errorf("result = %+v, want unreachable", httpRes)
	}
}

func TestProbeContentValidation(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		validate ContentValidator
		want     bool
	}{
		{
			name:     "Code zero accepted",
			body:     `{"code":0,"message":"ok"}`,
			validate: JSONCode,
			want:     true,
		},
		{
			name:     "Non-zero code rejected",
			body:     `{"code":-412,"message":"denied"}`,
			validate: JSONCode,
			want:     false,
		},
		{
			name:     "Malformed body rejected",
			body:     "<html>blocked</html>",
			validate: JSONCode,
			want:     false,
		},
		{
			name:     "Framed body accepted",
			body:     `jsonp({"code":0})`,
			validate: Framed(FrameExtractor(6, 1), JSONCode),
			want:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, tt.body)
			}))
			defer srv.Close()

			target := Target{URL: "http://target.example/check", ValidateBody: tt.validate}
			v := NewWithTargets(target, target, testLogger())

			httpRes, _ := v.Probe(context.Background(), proxyFromServer(t, srv), 5*time.Second)
			if httpRes.Status != tt.want {
				t.Errorf("reachable = %v, want %v", httpRes.Status, tt.want)
			}
		})
	}
}

func TestProbeSendsHeaders(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		fmt.Fprint(w, "ok")
	}))
	defer srv.Close()

	target := Target{
		URL:     "http://target.example/check",
		Headers: map[string]string{"User-Agent": "pool-checker/1.0"},
	}
	v := NewWithTargets(target, target, testLogger())

	v.Probe(context.Background(), proxyFromServer(t, srv), 5*time.Second)
	if gotUA != "pool-checker/1.0" {
		t.Errorf("User-Agent = %q, want %q", gotUA, "pool-checker/1.0")
	}
}

func TestFrameExtractor(t *testing.T) {
	extract := FrameExtractor(3, 1)

	got, err := extract([]byte(`abc{"code":0}x`))
	if err != nil {
		t.Fatalf("FrameExtractor() error = %v", err)
	}
	if string(got) != `{"code":0}` {
		t.Errorf("FrameExtractor() = %q, want %q", got, `{"code":0}`)
	}

	if _, err := extract([]byte("ab")); err == nil {
		t.Error("FrameExtractor() on short body expected error, got nil")
	}
}
