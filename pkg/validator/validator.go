// Package validator performs the HTTP and HTTPS reachability probes that
// drive a proxy's health state.
package validator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"syscall"
	"time"

	"proxy-pool/pkg/config"
	"proxy-pool/pkg/models"
)

// maxBodyBytes caps how much of a probe response is read for validation.
const maxBodyBytes = 1 << 20

// Target is one probe destination routed through the candidate proxy.
type Target struct {
	URL          string
	Headers      map[string]string
	ValidateBody ContentValidator // nil: status-only check
}

func targetFromConfig(tc config.TargetConfig) Target {
	t := Target{URL: tc.URL, Headers: tc.Headers}
	if tc.ExpectJSONCode {
		v := ContentValidator(JSONCode)
		if tc.FramePrefix > 0 || tc.FrameSuffix > 0 {
			v = Framed(FrameExtractor(tc.FramePrefix, tc.FrameSuffix), v)
		}
		t.ValidateBody = v
	}
	return t
}

type Validator struct {
	httpTarget  Target
	httpsTarget Target
	logger      *slog.Logger
}

func New(cfg config.CheckConfig, logger *slog.Logger) *Validator {
	return &Validator{
		httpTarget:  targetFromConfig(cfg.HTTP),
		httpsTarget: targetFromConfig(cfg.HTTPS),
		logger:      logger,
	}
}

// NewWithTargets builds a Validator from explicit targets.
func NewWithTargets(httpTarget, httpsTarget Target, logger *slog.Logger) *Validator {
	return &Validator{httpTarget: httpTarget, httpsTarget: httpsTarget, logger: logger}
}

// Probe fetches both configured targets through the candidate proxy and
// returns a per-protocol result. Probe never returns an error: every
// failure collapses to an unreachable result.
func (v *Validator) Probe(ctx context.Context, proxy *models.Proxy, timeout time.Duration) (httpRes, httpsRes models.ProtocolResult) {
	httpRes = v.probeTarget(ctx, proxy, v.httpTarget, timeout)
	httpsRes = v.probeTarget(ctx, proxy, v.httpsTarget, timeout)
	return httpRes, httpsRes
}

func (v *Validator) probeTarget(ctx context.Context, proxy *models.Proxy, target Target, timeout time.Duration) models.ProtocolResult {
	proxyURL, err := url.Parse(proxy.URL())
	if err != nil {
		v.logger.Error("Invalid proxy endpoint", "proxy", proxy.URL(), "error", err)
		return models.Unreachable
	}

	// One client per probe so a dead proxy can't hold pooled connections.
	transport := &http.Transport{
		Proxy:             http.ProxyURL(proxyURL),
		DisableKeepAlives: true,
	}
	defer transport.CloseIdleConnections()

	client := &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.URL, nil)
	if err != nil {
		v.logger.Error("Failed to build probe request", "url", target.URL, "error", err)
		return models.Unreachable
	}
	for name, value := range target.Headers {
		req.Header.Set(name, value)
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		v.logFailure(ctx, proxy, target.URL, err)
		return models.Unreachable
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	latency := time.Since(start).Milliseconds()
	if err != nil {
		v.logFailure(ctx, proxy, target.URL, err)
		return models.Unreachable
	}

	if resp.StatusCode != http.StatusOK {
		v.logger.Debug("Probe returned non-200 status",
			"proxy", proxy.URL(), "url", target.URL, "status", resp.StatusCode)
		return models.Unreachable
	}

	if target.ValidateBody != nil {
		if err := target.ValidateBody(body); err != nil {
			v.logger.Debug("Probe body rejected",
				"proxy", proxy.URL(), "url", target.URL, "error", err)
			return models.Unreachable
		}
	}

	return models.ProtocolResult{Status: true, Latency: latency}
}

// failureKind classifies a probe failure for diagnostics. Every kind maps
// to the same unreachable result.
type failureKind string

const (
	failureTimeout   failureKind = "timeout"
	failureRefused   failureKind = "refused"
	failureCancelled failureKind = "cancelled"
	failureTransport failureKind = "transport"
)

func classifyFailure(err error) failureKind {
	var netErr net.Error
	switch {
	case errors.Is(err, context.Canceled):
		return failureCancelled
	case errors.As(err, &netErr) && netErr.Timeout():
		return failureTimeout
	case errors.Is(err, syscall.ECONNREFUSED):
		return failureRefused
	default:
		return failureTransport
	}
}

func (v *Validator) logFailure(ctx context.Context, proxy *models.Proxy, targetURL string, err error) {
	kind := classifyFailure(err)
	switch kind {
	case failureCancelled:
		if ctx.Err() != nil {
			// Expected during shutdown, not an anomaly.
			v.logger.Debug("Probe cancelled", "proxy", proxy.URL(), "url", targetURL)
			return
		}
		v.logger.Error("Probe cancelled unexpectedly", "proxy", proxy.URL(), "url", targetURL, "error", err)
	case failureTimeout, failureRefused:
		v.logger.Debug("Probe failed",
			"proxy", proxy.URL(), "url", targetURL, "kind", string(kind), "error", err)
	default:
		v.logger.Debug("Probe transport error",
			"proxy", proxy.URL(), "url", targetURL, "error", err)
	}
}
