// Package server provides the HTTP API for matchd: ingest, scoring,
// ranking, explanation, fairness reports, and audit replay over the
// match service.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/matchd/internal/config"
	"github.com/fyrsmithlabs/matchd/internal/explain"
	"github.com/fyrsmithlabs/matchd/internal/index"
	"github.com/fyrsmithlabs/matchd/internal/match"
	"github.com/fyrsmithlabs/matchd/internal/normalize"
	"github.com/fyrsmithlabs/matchd/internal/scoring"
)

// Server provides HTTP endpoints for matchd.
type Server struct {
	echo    *echo.Echo
	service *match.Service
	logger  *zap.Logger
	config  config.ServerConfig
}

// NewServer creates a new HTTP server over the match service. Zero
// config fields fall back to the loader defaults.
func NewServer(svc *match.Service, cfg config.ServerConfig, logger *zap.Logger) (*Server, error) {
	if svc == nil {
		return nil, fmt.Errorf("match service cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg.Port == 0 {
		cfg.Port = 8700
	}
	if cfg.ShutdownTimeout.Duration() <= 0 {
		cfg.ShutdownTimeout = config.Duration(10 * time.Second)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	metrics := NewHTTPMetrics(logger)
	e.Use(metrics.MetricsMiddleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})

	s := &Server{
		echo:    e,
		service: svc,
		logger:  logger,
		config:  cfg,
	}

	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.POST("/candidates", s.handleIngestCandidate)
	v1.POST("/jobs", s.handleIngestJob)
	v1.POST("/match/score", s.handleScore)
	v1.POST("/match/rank", s.handleRank)
	v1.POST("/explain", s.handleExplain)
	v1.POST("/fairness/report", s.handleFairnessReport)
	v1.GET("/audit/entries", s.handleAuditEntries)
}

// handleHealth reports liveness plus the indexed corpus counts.
func (s *Server) handleHealth(c echo.Context) error {
	ctx := c.Request().Context()
	resp := HealthResponse{Status: "ok", Service: "matchd"}

	candidates, err := s.service.IndexedCount(ctx, normalize.KindCandidate)
	if err != nil {
		s.logger.Warn("health: counting candidates failed", zap.Error(err))
		resp.Status = "degraded"
		candidates = -1
	}
	jobs, err := s.service.IndexedCount(ctx, normalize.KindJob)
	if err != nil {
		s.logger.Warn("health: counting jobs failed", zap.Error(err))
		resp.Status = "degraded"
		jobs = -1
	}
	resp.Candidates = candidates
	resp.Jobs = jobs

	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleIngestCandidate(c echo.Context) error {
	return s.handleIngest(c, normalize.KindCandidate)
}

func (s *Server) handleIngestJob(c echo.Context) error {
	return s.handleIngest(c, normalize.KindJob)
}

// handleIngest canonicalizes, embeds, and indexes one raw record.
func (s *Server) handleIngest(c echo.Context, kind normalize.EntityKind) error {
	var req IngestRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid ingest request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	ctx := c.Request().Context()
	var (
		attrs *normalize.AttributeSet
		err   error
	)
	if kind == normalize.KindCandidate {
		attrs, err = s.service.IndexCandidate(ctx, req.toRaw())
	} else {
		attrs, err = s.service.IndexJob(ctx, req.toRaw())
	}
	if err != nil {
		return s.httpError("ingest", err)
	}

	return c.JSON(http.StatusCreated, newIngestResponse(attrs))
}

// handleScore scores one candidate/job pair.
func (s *Server) handleScore(c echo.Context) error {
	var req ScoreRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid score request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	score, err := s.service.ScorePair(c.Request().Context(), req.CandidateID, req.JobID, req.Weights)
	if err != nil {
		return s.httpError("scoring", err)
	}

	return c.JSON(http.StatusOK, score)
}

// handleRank returns the ranked top candidates for one job.
func (s *Server) handleRank(c echo.Context) error {
	var req RankRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid rank request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	result, err := s.service.MatchCandidates(c.Request().Context(), match.MatchRequest{
		JobID:   req.JobID,
		K:       req.K,
		Weights: req.Weights,
	})
	if err != nil {
		return s.httpError("ranking", err)
	}

	return c.JSON(http.StatusOK, result)
}

// handleExplain scores a pair and attributes the result to features.
func (s *Server) handleExplain(c echo.Context) error {
	var req ExplainRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid explain request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	explained, err := s.service.ExplainPair(c.Request().Context(), req.CandidateID, req.JobID, req.Strategy)
	if err != nil {
		return s.httpError("explaining", err)
	}

	return c.JSON(http.StatusOK, explained)
}

// handleFairnessReport audits a scored batch for group disparity.
func (s *Server) handleFairnessReport(c echo.Context) error {
	var req FairnessRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid fairness request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	report, err := s.service.AuditBatch(c.Request().Context(), req.BatchID, req.Attribute, req.Scores, req.Groups)
	if err != nil {
		return s.httpError("fairness audit", err)
	}

	return c.JSON(http.StatusOK, report)
}

// handleAuditEntries replays the audit trail from a sequence number.
func (s *Server) handleAuditEntries(c echo.Context) error {
	var from uint64
	if raw := c.QueryParam("from"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			s.logger.Warn("invalid audit query", zap.String("from", raw))
			return echo.NewHTTPError(http.StatusBadRequest, "from must be a non-negative integer")
		}
		from = parsed
	}

	entries, err := s.service.AuditEntries(c.Request().Context(), from)
	if err != nil {
		return s.httpError("audit replay", err)
	}

	return c.JSON(http.StatusOK, AuditEntriesResponse{Entries: entries})
}

// httpError converts a service error into an echo HTTP error. Client
// mistakes carry the underlying message; everything else maps to an
// opaque 500 so internals stay out of responses.
func (s *Server) httpError(op string, err error) error {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error(op+" failed", zap.Error(err))
		return echo.NewHTTPError(status, op+" failed")
	}
	s.logger.Warn(op+" rejected", zap.Error(err))
	return echo.NewHTTPError(status, err.Error())
}

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, match.ErrNotFound) || errors.Is(err, index.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, match.ErrInvalidRequest),
		errors.Is(err, normalize.ErrValidation),
		errors.Is(err, scoring.ErrInvalidWeight),
		errors.Is(err, explain.ErrUnknownStrategy):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Start runs the server and blocks until ctx is cancelled, then shuts
// down gracefully within the configured timeout. Returns
// http.ErrServerClosed after a clean shutdown, any other error on a
// failed start.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))

	errCh := make(chan error, 1)
	go func() {
		if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("server start: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(
			context.Background(),
			s.config.ShutdownTimeout.Duration(),
		)
		defer cancel()

		if err := s.echo.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}

		s.logger.Info("http server stopped")
		return http.ErrServerClosed
	}
}
