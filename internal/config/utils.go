package config

import (
	"bufio"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/mixaill76/chat_relay/internal/security"
)

// resolveEnvString resolves environment variable if value is in format "os.environ/VAR_NAME"
func resolveEnvString(value string) string {
	const prefix = "os.environ/"
	if strings.HasPrefix(value, prefix) {
		envVar := strings.TrimPrefix(value, prefix)
		if envValue := os.Getenv(envVar); envValue != "" {
			return envValue
		}
		slog.Warn("environment variable not set, returning empty string",
			"env_var", envVar,
			"pattern", value,
		)
		return ""
	}
	return value
}

// splitList splits a comma-delimited value, dropping blank items.
func splitList(value string) []string {
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// ReadList reads one item per line from path. Blank lines and lines
// starting with # are skipped.
func ReadList(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var out []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// validateBaseURL validates that a URL is properly formed with http/https scheme
func validateBaseURL(section, baseURL string) error {
	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		return fmt.Errorf("%s: invalid base_url: %w", section, err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return fmt.Errorf("%s: base_url must use http or https scheme, got: %s", section, parsedURL.Scheme)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("%s: base_url must have a host", section)
	}
	return nil
}

// PrintConfig outputs the configuration in a structured, readable format to the logger
func PrintConfig(logger *slog.Logger, cfg *Config) {
	logger.Info("=== Configuration Loaded ===")

	logger.Info("server",
		"port", cfg.Server.Port,
		"max_body_size_mb", cfg.Server.MaxBodySizeMB,
		"request_timeout", cfg.Server.RequestTimeout.String(),
		"read_timeout", cfg.Server.ReadTimeout.String(),
		"idle_timeout", cfg.Server.IdleTimeout.String(),
		"logging_level", cfg.Server.LoggingLevel,
		"log_format", cfg.Server.LogFormat,
		"cors_origins", len(cfg.Server.CORSOrigins),
	)

	logger.Info("backend",
		"type", cfg.Backend.Type,
		"base_url", cfg.Backend.BaseURL,
		"max_tokens", cfg.Backend.MaxTokens,
		"workers", cfg.Backend.Workers,
		"queue_size", cfg.Backend.QueueSize,
		"client_cache_size", cfg.Backend.ClientCacheSize,
	)

	tokens := cfg.Tokens()
	logger.Info("credentials",
		"tokens", len(tokens),
		"proxies", len(cfg.Credentials.Proxies),
		"watch_proxies", cfg.Credentials.WatchProxies,
		"min_interval", cfg.Credentials.MinInterval.String(),
		"ban_duration", banDurationToString(cfg.Credentials.BanDuration),
	)
	if len(tokens) <= 10 {
		for i, e := range tokens {
			logger.Info(fmt.Sprintf("  [%d] token", i),
				"token", security.MaskToken(e.Token),
				"proxy", security.MaskProxyURL(e.Proxy),
			)
		}
	}

	logger.Info("retry",
		"max_retries", cfg.Retry.MaxRetries,
		"backoff_base", cfg.Retry.BackoffBase,
		"backoff_unit", cfg.Retry.BackoffUnit.String(),
	)

	logger.Info("models",
		"aliases", len(cfg.Models.Aliases),
		"cache_size", cfg.Models.CacheSize,
	)

	if cfg.Probe.Schedule != "" || cfg.Probe.OnStartup {
		logger.Info("probe (ENABLED)",
			"schedule", cfg.Probe.Schedule,
			"on_startup", cfg.Probe.OnStartup,
			"model", cfg.Probe.Model,
			"workers", cfg.Probe.Workers,
		)
	} else {
		logger.Info("probe", "status", "DISABLED")
	}

	logger.Info("monitoring",
		"prometheus_enabled", cfg.Monitoring.PrometheusEnabled,
		"health_check_path", cfg.Monitoring.HealthCheckPath,
		"log_errors", cfg.Monitoring.LogErrors,
		"errors_log_path", cfg.Monitoring.ErrorsLogPath,
	)

	logger.Info("=== Configuration Ready ===")
}

// banDurationToString converts ban duration to readable string
func banDurationToString(d time.Duration) string {
	if d == 0 {
		return "permanent"
	}
	return d.String()
}
