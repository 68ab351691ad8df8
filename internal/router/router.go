// Package router wires the HTTP surface: completion endpoints, model
// listing, health, metrics and the shared middleware.
package router

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mixaill76/chat_relay/internal/config"
	"github.com/mixaill76/chat_relay/internal/models"
	"github.com/mixaill76/chat_relay/internal/monitoring"
	"github.com/mixaill76/chat_relay/internal/proxy"
	"github.com/mixaill76/chat_relay/internal/security"
)

const requestIDHeader = "X-Request-ID"

type Router struct {
	proxy            *proxy.Proxy
	resolver         *models.Resolver
	monitoringConfig *config.MonitoringConfig
	corsOrigins      []string
	metrics          *monitoring.Metrics
	logger           *slog.Logger
	mux              *http.ServeMux
	errorLog         *errorLog
}

func New(p *proxy.Proxy, resolver *models.Resolver, monitoringConfig *config.MonitoringConfig, corsOrigins []string, metrics *monitoring.Metrics, logger *slog.Logger) *Router {
	r := &Router{
		proxy:            p,
		resolver:         resolver,
		monitoringConfig: monitoringConfig,
		corsOrigins:      corsOrigins,
		metrics:          metrics,
		logger:           logger,
		mux:              http.NewServeMux(),
	}

	r.mux.HandleFunc("GET "+monitoringConfig.HealthCheckPath, r.handleHealth)
	r.mux.HandleFunc("GET /v1/models", r.handleModels)
	r.mux.HandleFunc("POST /v1/chat/completions", p.HandleChatCompletions)
	r.mux.HandleFunc("POST /v1/engines/{model}/completions", p.HandleEngineCompletions)
	if monitoringConfig.PrometheusEnabled {
		r.mux.Handle("GET /metrics", promhttp.Handler())
	}
	r.mux.HandleFunc("/", func(w http.ResponseWriter, req *http.Request) {
		proxy.WriteErrorNotFound(w, "Not Found")
	})

	if monitoringConfig.LogErrors {
		r.errorLog = newErrorLog(monitoringConfig.ErrorsLogPath)
	}

	return r
}

// Close releases the error log file.
func (r *Router) Close() error {
	if r.errorLog == nil {
		return nil
	}
	return r.errorLog.Close()
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	start := time.Now()

	requestID := req.Header.Get(requestIDHeader)
	if requestID == "" {
		requestID = uuid.NewString()
		req.Header.Set(requestIDHeader, requestID)
	}
	w.Header().Set(requestIDHeader, requestID)

	if r.applyCORS(w, req) {
		return
	}

	var reqBody []byte
	if r.errorLog != nil {
		body, err := readAndRestoreBody(req)
		if err != nil {
			proxy.WriteErrorBadRequest(w, "Failed to read request body")
			return
		}
		reqBody = body
	}

	rc := newResponseCapture(w, r.errorLog != nil)
	r.mux.ServeHTTP(rc, req)
	duration := time.Since(start)

	endpoint := req.Pattern
	if endpoint == "" {
		endpoint = "unmatched"
	}
	r.metrics.RecordRequest(endpoint, rc.status, duration)

	attrs := []any{
		"request_id", requestID,
		"method", req.Method,
		"path", req.URL.Path,
		"status", rc.status,
		"duration", duration.String(),
	}
	if r.logger.Enabled(req.Context(), slog.LevelDebug) {
		attrs = append(attrs, "headers", security.MaskSensitiveHeaders(req.Header))
	}
	if !rc.failed() {
		r.logger.Info("Request completed", attrs...)
		return
	}
	r.logger.Warn("Request completed", attrs...)

	if r.errorLog != nil {
		if err := r.errorLog.Record(req, rc, reqBody, duration); err != nil {
			r.logger.Error("Failed to write error log", "path", r.errorLog.path, "error", err)
		}
	}
}

// applyCORS sets CORS headers for allowed origins. It answers preflight
// requests itself and reports whether it did.
func (r *Router) applyCORS(w http.ResponseWriter, req *http.Request) bool {
	origin := req.Header.Get("Origin")
	if origin == "" || !r.originAllowed(origin) {
		return false
	}

	h := w.Header()
	h.Set("Access-Control-Allow-Origin", origin)
	h.Set("Access-Control-Allow-Credentials", "true")
	h.Add("Vary", "Origin")

	if req.Method != http.MethodOptions || req.Header.Get("Access-Control-Request-Method") == "" {
		return false
	}
	h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, "+requestIDHeader)
	h.Set("Access-Control-Max-Age", "600")
	w.WriteHeader(http.StatusNoContent)
	return true
}

func (r *Router) originAllowed(origin string) bool {
	return slices.Contains(r.corsOrigins, "*") || slices.Contains(r.corsOrigins, origin)
}

func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	healthy, status := r.proxy.HealthCheck()

	w.Header().Set("Content-Type", "application/json")
	if !healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	if err := json.NewEncoder(w).Encode(status); err != nil {
		r.logger.Error("Failed to encode health response",
			"endpoint", r.monitoringConfig.HealthCheckPath,
			"error", err.Error(),
		)
		// Headers already sent, cannot send http.Error
		return
	}
}

func (r *Router) handleModels(w http.ResponseWriter, req *http.Request) {
	modelsResp := r.resolver.List()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	if err := json.NewEncoder(w).Encode(modelsResp); err != nil {
		r.logger.Error("Failed to encode models response", "error", err.Error())
		return
	}
}
