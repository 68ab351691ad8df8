package router

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mixaill76/chat_relay/internal/backend"
	"github.com/mixaill76/chat_relay/internal/balancer"
	"github.com/mixaill76/chat_relay/internal/config"
	"github.com/mixaill76/chat_relay/internal/dispatcher"
	"github.com/mixaill76/chat_relay/internal/fail2ban"
	"github.com/mixaill76/chat_relay/internal/models"
	"github.com/mixaill76/chat_relay/internal/monitoring"
	"github.com/mixaill76/chat_relay/internal/openai"
	"github.com/mixaill76/chat_relay/internal/proxy"
	"github.com/mixaill76/chat_relay/internal/proxyhealth"
	"github.com/mixaill76/chat_relay/internal/testhelpers"
	"github.com/mixaill76/chat_relay/internal/worker"
)

type testRouter struct {
	*Router
	pool *balancer.Pool
	fb   *testhelpers.FakeBackend
}

func createTestMonitoringConfig(healthPath string, logErrors bool, errorsLogPath string) *config.MonitoringConfig {
	return &config.MonitoringConfig{
		PrometheusEnabled: true,
		HealthCheckPath:   healthPath,
		LogErrors:         logErrors,
		ErrorsLogPath:     errorsLogPath,
	}
}

func createTestRouter(t *testing.T, monitoringConfig *config.MonitoringConfig, corsOrigins ...string) *testRouter {
	t.Helper()
	logger := testhelpers.NewTestLogger()
	metrics := monitoring.New(true)
	fb := testhelpers.NewFakeBackend("Hello there")

	pool := balancer.New([]balancer.Entry{{Token: "tok-a"}, {Token: "tok-b"}}, nil, fail2ban.New(0))
	resolver, err := models.NewResolver(map[string]string{"gpt-4": "beaver", "gpt-3.5-turbo": "capybara"}, 8, logger)
	require.NoError(t, err)
	clients, err := backend.NewClientCache(fb, 8)
	require.NoError(t, err)
	workers := worker.NewPool(2, 4, logger)
	t.Cleanup(workers.Close)

	d := dispatcher.New(pool, resolver, clients, workers, dispatcher.Config{MaxRetries: 2, BackoffBase: 1}, metrics, logger)
	tracker := proxyhealth.NewTracker(1, metrics, logger)
	d.SetProxyTracker(tracker)

	p := proxy.New(&proxy.Config{
		Dispatcher:     d,
		Pool:           pool,
		ProxyHealth:    tracker,
		Logger:         logger,
		MaxBodySizeMB:  1,
		RequestTimeout: time.Minute,
		Version:        "test-version",
		Commit:         "test-commit",
	})

	rt := New(p, resolver, monitoringConfig, corsOrigins, metrics, logger)
	t.Cleanup(func() { _ = rt.Close() })

	return &testRouter{
		Router: rt,
		pool:   pool,
		fb:     fb,
	}
}

func TestServeHTTP_HealthCheck(t *testing.T) {
	r := createTestRouter(t, createTestMonitoringConfig("/health", false, ""))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body proxy.HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body.Status)
	assert.Equal(t, 2, body.TokensTotal)
	assert.Equal(t, "test-version", body.Version)
}

func TestServeHTTP_HealthCheck_Unhealthy(t *testing.T) {
	r := createTestRouter(t, createTestMonitoringConfig("/healthz", false, ""))
	r.pool.MarkBad("tok-a")
	r.pool.MarkBad("tok-b")

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body proxy.HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "unhealthy", body.Status)
	assert.Equal(t, 2, body.TokensBad)
}

func TestServeHTTP_V1Models(t *testing.T) {
	r := createTestRouter(t, createTestMonitoringConfig("/health", false, ""))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/models", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body models.ModelsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "list", body.Object)
	require.Len(t, body.Data, 2)
	assert.Equal(t, "gpt-3.5-turbo", body.Data[0].ID)
	assert.Equal(t, "gpt-4", body.Data[1].ID)
}

func TestServeHTTP_ChatCompletions(t *testing.T) {
	r := createTestRouter(t, createTestMonitoringConfig("/health", false, ""))

	req := testhelpers.NewTestRequest(http.MethodPost, "/v1/chat/completions", map[string]interface{}{
		"model":    "gpt-4",
		"messages": []map[string]string{{"role": "user", "content": "hi"}},
	})
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp openai.ChatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Hello there", resp.Choices[0].Message.Content)
}

func TestServeHTTP_EngineCompletions(t *testing.T) {
	r := createTestRouter(t, createTestMonitoringConfig("/health", false, ""))

	req := testhelpers.NewTestRequest(http.MethodPost, "/v1/engines/gpt-4/completions", map[string]interface{}{"prompt": "hi"})
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp openai.CompletionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "gpt-4", resp.Model)
	assert.Equal(t, "Hello there", resp.Choices[0].Text)
	assert.Equal(t, "beaver", r.fb.Calls()[0].BotID)
}

func TestServeHTTP_NotFound(t *testing.T) {
	r := createTestRouter(t, createTestMonitoringConfig("/health", false, ""))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/unknown", nil))

	testhelpers.AssertJSONErrorResponse(t, rec, http.StatusNotFound, "not_found_error", "Not Found")
}

func TestServeHTTP_Metrics(t *testing.T) {
	r := createTestRouter(t, createTestMonitoringConfig("/health", false, ""))
	monitoring.RequestsTotal.Reset()

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/models", nil))
	assert.Equal(t, 1.0, testutil.ToFloat64(monitoring.RequestsTotal.WithLabelValues("GET /v1/models", "200")))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "GET /v1/models")
}

func TestServeHTTP_MetricsDisabled(t *testing.T) {
	monitoringConfig := createTestMonitoringConfig("/health", false, "")
	monitoringConfig.PrometheusEnabled = false
	r := createTestRouter(t, monitoringConfig)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServeHTTP_RequestID(t *testing.T) {
	r := createTestRouter(t, createTestMonitoringConfig("/health", false, ""))

	t.Run("generated", func(t *testing.T) {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

		_, err := uuid.Parse(rec.Header().Get(requestIDHeader))
		assert.NoError(t, err)
	})

	t.Run("propagated", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set(requestIDHeader, "client-id-1")
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)

		assert.Equal(t, "client-id-1", rec.Header().Get(requestIDHeader))
	})
}

func TestServeHTTP_CORS(t *testing.T) {
	r := createTestRouter(t, createTestMonitoringConfig("/health", false, ""), "https://bettergpt.chat")

	t.Run("preflight", func(t *testing.T) {
		req := testhelpers.WithHeaders(httptest.NewRequest(http.MethodOptions, "/v1/chat/completions", nil),
			"Origin", "https://bettergpt.chat",
			"Access-Control-Request-Method", "POST",
		)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "https://bettergpt.chat", rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "POST")
	})

	t.Run("simple request", func(t *testing.T) {
		req := testhelpers.WithHeaders(httptest.NewRequest(http.MethodGet, "/v1/models", nil), "Origin", "https://bettergpt.chat")
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "https://bettergpt.chat", rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("disallowed origin", func(t *testing.T) {
		req := testhelpers.WithHeaders(httptest.NewRequest(http.MethodGet, "/v1/models", nil), "Origin", "https://evil.example")
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)

		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestServeHTTP_CORSWildcard(t *testing.T) {
	r := createTestRouter(t, createTestMonitoringConfig("/health", false, ""), "*")

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	req.Header.Set("Origin", "https://anywhere.example")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, "https://anywhere.example", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestServeHTTP_LogsErrorResponses(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "errors.log")
	r := createTestRouter(t, createTestMonitoringConfig("/health", true, logFile))

	badReq := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(`{"messages":[]}`))
	r.ServeHTTP(httptest.NewRecorder(), badReq)
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/models", nil))

	entries := readLogEntries(t, logFile)
	require.Len(t, entries, 1, "only error responses are logged")
	assert.Equal(t, http.StatusBadRequest, entries[0].Status)
	assert.Equal(t, "/v1/chat/completions", entries[0].Path)
	assert.Contains(t, entries[0].Response.Body, "model is required")
	assert.NotEmpty(t, entries[0].RequestID)

	_, err := os.Stat(logFile)
	assert.NoError(t, err)
}
