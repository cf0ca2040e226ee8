// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/time/rate"

	"github.com/vnexus/disclosure/services/disclosure/pipeline"
	"github.com/vnexus/disclosure/services/disclosure/telemetry"
)

// ServiceVersion is reported by the health endpoint.
const ServiceVersion = "1.0.0"

const (
	analyzePath = "/v1/disclosure/analyze"
	healthPath  = "/v1/disclosure/health"
	statusPath  = "/v1/disclosure/status"
	metricsPath = "/metrics"

	// maxRequestBytes bounds analyze bodies: the text ceiling plus room for
	// segments and entities.
	maxRequestBytes = 2*maxInputBytes + 64*1024
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is a stable machine-readable error code.
	Code string `json:"code"`

	// Stage is the pipeline stage that failed, when known.
	Stage string `json:"stage,omitempty"`

	// RequestID echoes X-Request-ID.
	RequestID string `json:"request_id,omitempty"`
}

// HealthResponse is the body of the health endpoint.
type HealthResponse struct {
	Status       string `json:"status"`
	Version      string `json:"version"`
	Tier         string `json:"tier"`
	RulesVersion string `json:"rules_version"`
	RuleCount    int    `json:"rule_count"`
}

// server holds the HTTP handlers.
type server struct {
	svc     *service
	limiter *rate.Limiter
	logger  *slog.Logger
	started time.Time
}

// newServer creates handlers over svc. A rateLimit of 0 disables limiting.
func newServer(svc *service, rateLimit float64, burst int, logger *slog.Logger) *server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &server{
		svc:     svc,
		logger:  logger.With(slog.String("component", "http")),
		started: time.Now(),
	}
	if rateLimit > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(rateLimit), burst)
	}
	return s
}

// router builds the gin engine.
//
// Endpoints:
//
//	POST /v1/disclosure/analyze - Run the pipeline (rate limited)
//	GET  /v1/disclosure/health  - Liveness and rule set version
//	GET  /v1/disclosure/status  - Pipeline, rule engine and cache status
//	GET  /metrics               - Prometheus metrics
func (s *server) router(serviceName string, middleware ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(serviceName))
	r.Use(requestID())
	r.Use(middleware...)

	r.POST(analyzePath, s.rateLimit(), s.handleAnalyze)
	r.GET(healthPath, s.handleHealth)
	r.GET(statusPath, s.handleStatus)
	r.GET(metricsPath, gin.WrapH(telemetry.MetricsHandler()))
	return r
}

// requestID echoes or assigns X-Request-ID.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

func (s *server) rateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.limiter != nil && !s.limiter.Allow() {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{
				Error:     "rate limit exceeded",
				Code:      "RATE_LIMITED",
				RequestID: c.GetString("request_id"),
			})
			return
		}
		c.Next()
	}
}

// handleAnalyze handles POST /v1/disclosure/analyze.
//
// Request Body:
//
//	pipeline.Input
//
// Response:
//
//	200 OK: pipeline.Result
//	400 Bad Request: Malformed body or invalid input
//	413 Request Entity Too Large: Body over the size limit
//	429 Too Many Requests: Rate limited
//	504 Gateway Timeout: Pipeline deadline exceeded without fallback
//	500 Internal Server Error: Any other pipeline failure
func (s *server) handleAnalyze(c *gin.Context) {
	reqID := c.GetString("request_id")
	logger := s.logger.With(slog.String("request_id", reqID), slog.String("handler", "analyze"))

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxRequestBytes)

	var in pipeline.Input
	if err := c.ShouldBindJSON(&in); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{
				Error: "request body too large", Code: "TOO_LARGE", RequestID: reqID,
			})
			return
		}
		logger.Warn("invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "invalid request body", Code: "INVALID_REQUEST", RequestID: reqID,
		})
		return
	}

	res, err := s.svc.Execute(c.Request.Context(), in)
	if err != nil {
		status, code := classifyError(err)
		resp := ErrorResponse{Error: err.Error(), Code: code, RequestID: reqID}
		if stage, ok := pipeline.StageOf(err); ok {
			resp.Stage = string(stage)
		}
		if status >= http.StatusInternalServerError {
			logger.ErrorContext(c.Request.Context(), "analysis failed", slog.String("error", err.Error()))
		} else {
			logger.Warn("analysis rejected", slog.String("error", err.Error()))
		}
		c.JSON(status, resp)
		return
	}

	logger.InfoContext(c.Request.Context(), "analysis complete",
		slog.String("execution_id", res.Metadata.ExecutionID),
		slog.Int("items", len(res.Report.Items)),
		slog.Float64("confidence", res.Confidence),
		slog.Bool("fallback", res.Metadata.FallbackUsed),
		slog.Bool("cache_hit", res.Metadata.CacheHit),
	)
	c.JSON(http.StatusOK, res)
}

// classifyError maps pipeline errors to HTTP status and error code.
func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, pipeline.ErrInvalidInput):
		return http.StatusBadRequest, "INVALID_INPUT"
	case errors.Is(err, pipeline.ErrTimeout):
		return http.StatusGatewayTimeout, "TIMEOUT"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "CANCELED"
	case errors.Is(err, pipeline.ErrQualityGateFailure):
		return http.StatusUnprocessableEntity, "QUALITY_GATE_FAILED"
	case errors.Is(err, pipeline.ErrStageFailure):
		return http.StatusInternalServerError, "STAGE_FAILED"
	default:
		return http.StatusInternalServerError, "ANALYSIS_FAILED"
	}
}

// handleHealth handles GET /v1/disclosure/health.
func (s *server) handleHealth(c *gin.Context) {
	engine := s.svc.engine()
	c.JSON(http.StatusOK, HealthResponse{
		Status:       "healthy",
		Version:      ServiceVersion,
		Tier:         string(s.svc.orchestrator.Status().Config.Tier),
		RulesVersion: engine.Registry().Version(),
		RuleCount:    engine.Registry().Len(),
	})
}

// handleStatus handles GET /v1/disclosure/status.
func (s *server) handleStatus(c *gin.Context) {
	st := s.svc.Status()
	st.Uptime = time.Since(s.started).Round(time.Second).String()
	c.JSON(http.StatusOK, st)
}
