package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/mixaill76/chat_relay/internal/backend"
	"github.com/mixaill76/chat_relay/internal/backend/anthropic"
	"github.com/mixaill76/chat_relay/internal/backend/gemini"
	"github.com/mixaill76/chat_relay/internal/balancer"
	"github.com/mixaill76/chat_relay/internal/config"
	"github.com/mixaill76/chat_relay/internal/fail2ban"
	"github.com/mixaill76/chat_relay/internal/httputil"
	"github.com/mixaill76/chat_relay/internal/logger"
	"github.com/mixaill76/chat_relay/internal/models"
	"github.com/mixaill76/chat_relay/internal/monitoring"
)

// app holds the components shared by serve and probe.
type app struct {
	cfg      *config.Config
	log      *slog.Logger
	metrics  *monitoring.Metrics
	pool     *balancer.Pool
	resolver *models.Resolver
	clients  *backend.ClientCache
}

// factoryFor builds the backend factory for cfg. Tests replace it.
var factoryFor = newFactory

func newFactory(cfg *config.Config) (backend.Factory, error) {
	httpCfg := httputil.DefaultHTTPClientConfig()
	if cfg.Backend.ResponseHeaderTimeout > 0 {
		httpCfg.ResponseHeaderTimeout = cfg.Backend.ResponseHeaderTimeout
	}

	switch cfg.Backend.Type {
	case config.BackendAnthropic:
		return anthropic.NewFactory(anthropic.Options{
			BaseURL:   cfg.Backend.BaseURL,
			MaxTokens: cfg.Backend.MaxTokens,
			HTTP:      httpCfg,
		}), nil
	case config.BackendGemini:
		return gemini.NewFactory(gemini.Options{
			BaseURL: cfg.Backend.BaseURL,
			HTTP:    httpCfg,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported backend type %q", cfg.Backend.Type)
	}
}

func loadConfig(path string) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, newLogger(cfg), nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	return logger.New(os.Stdout, cfg.Server.LoggingLevel, cfg.Server.LogFormat)
}

func poolEntries(cfg *config.Config) []balancer.Entry {
	tokens := cfg.Tokens()
	entries := make([]balancer.Entry, len(tokens))
	for i, t := range tokens {
		entries[i] = balancer.Entry{Token: t.Token, Proxy: t.Proxy}
	}
	return entries
}

func newApp(cfg *config.Config, log *slog.Logger) (*app, error) {
	entries := poolEntries(cfg)
	if len(entries) == 0 {
		return nil, balancer.ErrEmptyPool
	}

	metrics := monitoring.New(cfg.Monitoring.PrometheusEnabled)

	pool := balancer.New(entries, cfg.Credentials.Proxies, fail2ban.New(cfg.Credentials.BanDuration))
	pool.SetLogger(log)

	resolver, err := models.NewResolver(cfg.Models.Aliases, cfg.Models.CacheSize, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create model resolver: %w", err)
	}

	factory, err := factoryFor(cfg)
	if err != nil {
		return nil, err
	}
	clients, err := backend.NewClientCache(factory, cfg.Backend.ClientCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create client cache: %w", err)
	}

	return &app{
		cfg:      cfg,
		log:      log,
		metrics:  metrics,
		pool:     pool,
		resolver: resolver,
		clients:  clients,
	}, nil
}

// validProxies drops entries that are not usable proxy URLs.
func validProxies(items []string, log *slog.Logger) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if _, err := httputil.ParseProxyURL(item); err != nil {
			log.Warn("Skipping invalid proxy", "error", err)
			continue
		}
		out = append(out, item)
	}
	return out
}
