// Package api exposes the pool over HTTP: a filtered random pick, a status
// snapshot and an administrative delete.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"proxy-pool/pkg/models"

	"github.com/gin-gonic/gin"
)

const shutdownTimeout = 10 * time.Second

// Store is the subset of store operations the API serves from.
type Store interface {
	SampleAvailable(ctx context.Context, filter models.Filter) (*models.Proxy, error)
	CountAvailable(ctx context.Context, filter models.Filter) (int, error)
	CountChecking(ctx context.Context) (int, error)
	CountDue(ctx context.Context, checkInterval time.Duration, failLimit int) (int, error)
	CountTotal(ctx context.Context) (int, error)
	PenalizeProxy(ctx context.Context, id string, failLimit int) (bool, error)
}

type Options struct {
	Listen        string
	FailLimit     int
	CheckInterval time.Duration
}

type Server struct {
	store  Store
	opts   Options
	logger *slog.Logger
	engine *gin.Engine
}

func New(store Store, opts Options, logger *slog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		store:  store,
		opts:   opts,
		logger: logger,
		engine: gin.New(),
	}
	s.engine.Use(gin.Recovery())

	apiGroup := s.engine.Group("/api")
	apiGroup.GET("/proxy", s.getProxy)
	apiGroup.GET("/proxy/status", s.getStatus)
	apiGroup.DELETE("/proxy/:id", s.deleteProxy)

	return s
}

// Router exposes the handler tree, mainly for tests.
func (s *Server) Router() http.Handler {
	return s.engine
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.opts.Listen,
		Handler: s.engine,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

type proxyQuery struct {
	OnlyHTTPS  *bool  `form:"only_https"`
	MaxLatency *int64 `form:"max_latency"`
	MinSuccess *int   `form:"min_success"`
	MaxFail    *int   `form:"max_fail"`
}

func (s *Server) filterFromQuery(q proxyQuery) models.Filter {
	filter := models.DefaultFilter(s.opts.FailLimit)
	if q.OnlyHTTPS != nil {
		filter.OnlyHTTPS = *q.OnlyHTTPS
	}
	if q.MaxLatency != nil {
		filter.MaxLatency = *q.MaxLatency
	}
	if q.MinSuccess != nil {
		filter.MinSuccessCount = *q.MinSuccess
	}
	if q.MaxFail != nil {
		filter.MaxFailCount = *q.MaxFail
	}
	return filter
}

// getProxy answers with one uniformly sampled available proxy. An empty
// pool is a plain not-found, never an error.
func (s *Server) getProxy(c *gin.Context) {
	var q proxyQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	proxy, err := s.store.SampleAvailable(c.Request.Context(), s.filterFromQuery(q))
	if err != nil {
		s.logger.Error("Failed to sample proxy", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store unavailable"})
		return
	}
	if proxy == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no proxy available"})
		return
	}
	c.JSON(http.StatusOK, proxy)
}

type statusResponse struct {
	Available      int `json:"available"`
	HTTPSAvailable int `json:"httpsAvailable"`
	Checking       int `json:"checking"`
	Due            int `json:"due"`
	Total          int `json:"total"`
}

func (s *Server) getStatus(c *gin.Context) {
	ctx := c.Request.Context()

	filter := models.DefaultFilter(s.opts.FailLimit)
	httpsFilter := filter
	httpsFilter.OnlyHTTPS = true

	var (
		resp statusResponse
		err  error
	)
	if resp.Available, err = s.store.CountAvailable(ctx, filter); err == nil {
		if resp.HTTPSAvailable, err = s.store.CountAvailable(ctx, httpsFilter); err == nil {
			if resp.Checking, err = s.store.CountChecking(ctx); err == nil {
				if resp.Due, err = s.store.CountDue(ctx, s.opts.CheckInterval, s.opts.FailLimit); err == nil {
					resp.Total, err = s.store.CountTotal(ctx)
				}
			}
		}
	}
	if err != nil {
		s.logger.Error("Failed to build status", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store unavailable"})
		return
	}

	c.JSON(http.StatusOK, resp)
}

// deleteProxy demotes a proxy that still has failure budget left and
// hard-deletes one that doesn't.
func (s *Server) deleteProxy(c *gin.Context) {
	id := c.Param("id")

	deleted, err := s.store.PenalizeProxy(c.Request.Context(), id, s.opts.FailLimit)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "proxy not found"})
			return
		}
		s.logger.Error("Failed to delete proxy", "id", id, "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store unavailable"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}
