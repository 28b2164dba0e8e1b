package source

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"proxy-pool/pkg/config"
	"proxy-pool/pkg/models"
	"proxy-pool/pkg/parser"
)

// generalSource fetches a plain text proxy list (one host:port per line)
// from a fixed URL.
type generalSource struct {
	name   string
	url    string
	logger *slog.Logger

	mu        sync.Mutex
	lastFetch time.Time
}

func newGeneralSource(cfg config.SourceConfig, logger *slog.Logger) *generalSource {
	return &generalSource{
		name:   cfg.Name,
		url:    cfg.URL,
		logger: logger,
	}
}

func (s *generalSource) Name() string { return s.name }

func (s *generalSource) LastFetchTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastFetch
}

func (s *generalSource) setLastFetch(t time.Time) {
	s.mu.Lock()
	s.lastFetch = t
	s.mu.Unlock()
}

func (s *generalSource) FetchProxy(ctx context.Context) ([]models.Proxy, error) {
	s.setLastFetch(time.Now().UTC())

	body, err := fetchText(ctx, s.url)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %v", s.url, err)
	}

	return parser.ParseText(s.name, body), nil
}

func fetchText(ctx context.Context, url string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(body), nil
}
