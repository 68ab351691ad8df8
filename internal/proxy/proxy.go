// Package proxy serves the OpenAI-compatible completion endpoints on top of
// the dispatcher.
package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mixaill76/chat_relay/internal/balancer"
	"github.com/mixaill76/chat_relay/internal/dispatcher"
	"github.com/mixaill76/chat_relay/internal/idgen"
	"github.com/mixaill76/chat_relay/internal/logger"
	"github.com/mixaill76/chat_relay/internal/openai"
	"github.com/mixaill76/chat_relay/internal/proxyhealth"
	"github.com/mixaill76/chat_relay/internal/stream"
)

const defaultMaxBodySizeMB = 10

var (
	Version = "dev"
	Commit  = "unknown"
)

// Config holds all dependencies for creating a Proxy.
type Config struct {
	Dispatcher     *dispatcher.Dispatcher
	Pool           *balancer.Pool
	ProxyHealth    *proxyhealth.Tracker
	Logger         *slog.Logger
	MaxBodySizeMB  int
	RequestTimeout time.Duration
	Version        string
	Commit         string
}

type Proxy struct {
	dispatcher     *dispatcher.Dispatcher
	pool           *balancer.Pool
	proxyHealth    *proxyhealth.Tracker
	logger         *slog.Logger
	maxBodySizeMB  int
	requestTimeout time.Duration
	version        string
	commit         string
	now            func() time.Time
}

func New(cfg *Config) *Proxy {
	version, commit := cfg.Version, cfg.Commit
	if version == "" {
		version = Version
	}
	if commit == "" {
		commit = Commit
	}
	maxBodySizeMB := cfg.MaxBodySizeMB
	if maxBodySizeMB <= 0 {
		maxBodySizeMB = defaultMaxBodySizeMB
	}
	return &Proxy{
		dispatcher:     cfg.Dispatcher,
		pool:           cfg.Pool,
		proxyHealth:    cfg.ProxyHealth,
		logger:         cfg.Logger,
		maxBodySizeMB:  maxBodySizeMB,
		requestTimeout: cfg.RequestTimeout,
		version:        version,
		commit:         commit,
		now:            time.Now,
	}
}

// readJSON decodes the request body into v, enforcing the body size limit.
// It writes the error response itself and reports whether decoding succeeded.
func (p *Proxy) readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	maxBytes := int64(p.maxBodySizeMB) * 1024 * 1024
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteErrorTooLarge(w, "Request body too large")
			return false
		}
		WriteErrorBadRequest(w, "Failed to read request body")
		return false
	}

	if p.logger.Enabled(r.Context(), slog.LevelDebug) {
		p.logger.Debug("Request body",
			"path", r.URL.Path,
			"body", logger.TruncateLongFields(string(body), 500),
		)
	}

	if err := json.Unmarshal(body, v); err != nil {
		WriteErrorBadRequest(w, "Invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func (p *Proxy) instruct(r *http.Request, conversation []openai.Message, model string) (openai.Message, error) {
	ctx := r.Context()
	if p.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.requestTimeout)
		defer cancel()
	}
	return p.dispatcher.Instruct(ctx, conversation, model, 0)
}

func (p *Proxy) logFailure(r *http.Request, model string, err error) {
	status, _ := classifyError(err)
	attrs := []any{
		"path", r.URL.Path,
		"model", model,
		"status", status,
		"error", err,
	}
	if status >= http.StatusInternalServerError {
		p.logger.Error("Request failed", attrs...)
		return
	}
	p.logger.Warn("Request failed", attrs...)
}

// HandleChatCompletions serves POST /v1/chat/completions, replying with a
// single JSON body or an SSE stream when stream is true.
func (p *Proxy) HandleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req openai.ChatRequest
	if !p.readJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Model) == "" {
		WriteErrorBadRequest(w, "model is required")
		return
	}

	reply, err := p.instruct(r, openai.Flatten(req.Messages), req.Model)
	if err != nil {
		p.logFailure(r, req.Model, err)
		writeDispatchError(w, err)
		return
	}

	id := idgen.NewID()
	created := p.now().Unix()

	if req.Stream {
		stream.SetHeaders(w)
		w.WriteHeader(http.StatusOK)
		if err := stream.WriteSSE(w, stream.Encode(reply, id, req.Model, created)); err != nil {
			p.logger.Warn("Stream interrupted", "id", id, "model", req.Model, "error", err)
		}
		return
	}

	writeJSON(w, http.StatusOK, openai.ChatResponse{
		ID:      id,
		Object:  openai.ObjectChatCompletion,
		Created: created,
		Model:   req.Model,
		Choices: []openai.ChatChoice{{
			Index:        0,
			Message:      reply,
			FinishReason: openai.FinishReasonStop,
		}},
	})
}

// HandleEngineCompletions serves the legacy POST
// /v1/engines/{model}/completions endpoint. The prompt is sent as a single
// user turn.
func (p *Proxy) HandleEngineCompletions(w http.ResponseWriter, r *http.Request) {
	model := r.PathValue("model")
	if model == "" {
		WriteErrorBadRequest(w, "model is required")
		return
	}

	var req openai.CompletionRequest
	if !p.readJSON(w, r, &req) {
		return
	}

	conversation := []openai.Message{{Role: openai.RoleUser, Content: req.Prompt}}
	reply, err := p.instruct(r, conversation, model)
	if err != nil {
		p.logFailure(r, model, err)
		writeDispatchError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, openai.CompletionResponse{
		ID:      idgen.NewID(),
		Object:  openai.ObjectTextCompletion,
		Created: p.now().Unix(),
		Model:   model,
		Choices: []openai.CompletionChoice{{Text: reply.Content, Index: 0}},
	})
}
