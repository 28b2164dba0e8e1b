package source

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"proxy-pool/pkg/config"
	"proxy-pool/pkg/models"
	"proxy-pool/pkg/parser"
)

const (
	kdlGetProxyURL  = "http://dev.kdlapi.com/api/getproxy"
	kdlDefaultQuery = "protocol=1&method=1&quality=0&sep=2"
	kdlDefaultBatch = 10
)

// kdlOpenSource pulls open proxies from the KuaiDaiLi vendor API. The API
// answers with a newline-separated list on success; a body starting with
// "ERROR" or a JSON document signals a vendor-side failure.
type kdlOpenSource struct {
	name      string
	endpoint  string
	orderID   string
	apiKey    string
	batchSize int
	logger    *slog.Logger

	mu        sync.Mutex
	lastFetch time.Time
}

func newKDLOpenSource(cfg config.SourceConfig, logger *slog.Logger) *kdlOpenSource {
	endpoint := cfg.URL
	if endpoint == "" {
		endpoint = kdlGetProxyURL
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = kdlDefaultBatch
	}
	return &kdlOpenSource{
		name:      cfg.Name,
		endpoint:  endpoint,
		orderID:   cfg.OrderID,
		apiKey:    cfg.APIKey,
		batchSize: batch,
		logger:    logger,
	}
}

func (s *kdlOpenSource) Name() string { return s.name }

func (s *kdlOpenSource) LastFetchTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastFetch
}

func (s *kdlOpenSource) FetchProxy(ctx context.Context) ([]models.Proxy, error) {
	s.mu.Lock()
	s.lastFetch = time.Now().UTC()
	s.mu.Unlock()

	query, err := url.ParseQuery(kdlDefaultQuery)
	if err != nil {
		return nil, err
	}
	query.Set("orderid", s.orderID)
	query.Set("num", strconv.Itoa(s.batchSize))

	body, err := fetchText(ctx, s.endpoint+"?"+query.Encode())
	if err != nil {
		return nil, fmt.Errorf("failed to fetch proxies: %v", err)
	}

	if strings.HasPrefix(body, "ERROR") || strings.HasPrefix(body, "{") {
		return nil, fmt.Errorf("vendor error response: %s", strings.TrimSpace(body))
	}

	return parser.ParseText(s.name, body), nil
}
