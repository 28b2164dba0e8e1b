// Package source defines the pluggable proxy-source collaborators the
// ingestion loop pulls candidates from.
package source

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"proxy-pool/pkg/config"
	"proxy-pool/pkg/models"
)

// fetchTimeout bounds a single source fetch.
const fetchTimeout = 30 * time.Second

// Source fetches candidate proxies from one upstream list or vendor API.
// FetchProxy may fail partially and returns whatever was parsed; errors are
// logged by the caller, never fatal. LastFetchTime is diagnostics only.
type Source interface {
	Name() string
	LastFetchTime() time.Time
	FetchProxy(ctx context.Context) ([]models.Proxy, error)
}

// New creates a source from its configuration.
func New(cfg config.SourceConfig, logger *slog.Logger) (Source, error) {
	switch cfg.Type {
	case "general":
		return newGeneralSource(cfg, logger), nil
	case "kdl-open":
		return newKDLOpenSource(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unsupported source type: %s", cfg.Type)
	}
}

// FromConfigs builds every configured source. A single bad definition is a
// configuration error and fails the whole startup.
func FromConfigs(cfgs []config.SourceConfig, logger *slog.Logger) ([]Source, error) {
	sources := make([]Source, 0, len(cfgs))
	for _, cfg := range cfgs {
		src, err := New(cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("source %s: %v", cfg.Name, err)
		}
		logger.Info("Added proxy source", "name", cfg.Name, "type", cfg.Type)
		sources = append(sources, src)
	}
	return sources, nil
}
