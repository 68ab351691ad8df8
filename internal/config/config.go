package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mixaill76/chat_relay/internal/httputil"
)

// Environment variables that override the credential lists. Values are
// comma-delimited.
const (
	EnvTokens  = "BACKEND_TOKENS"
	EnvProxies = "BACKEND_PROXIES"
)

const (
	BackendAnthropic = "anthropic"
	BackendGemini    = "gemini"
)

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Backend     BackendConfig     `yaml:"backend"`
	Credentials CredentialsConfig `yaml:"credentials"`
	Retry       RetryConfig       `yaml:"retry"`
	Models      ModelsConfig      `yaml:"models"`
	Probe       ProbeConfig       `yaml:"probe"`
	Supervisor  SupervisorConfig  `yaml:"supervisor"`
	Monitoring  MonitoringConfig  `yaml:"monitoring"`
}

type ServerConfig struct {
	Port           int           `yaml:"port"`
	MaxBodySizeMB  int           `yaml:"max_body_size_mb"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	LoggingLevel   string        `yaml:"logging_level"`
	LogFormat      string        `yaml:"log_format"`
	CORSOrigins    []string      `yaml:"cors_origins"`
}

type BackendConfig struct {
	Type                  string        `yaml:"type"`
	BaseURL               string        `yaml:"base_url"`
	MaxTokens             int64         `yaml:"max_tokens"`
	Workers               int           `yaml:"workers"`
	QueueSize             int           `yaml:"queue_size"`
	ClientCacheSize       int           `yaml:"client_cache_size"`
	ResponseHeaderTimeout time.Duration `yaml:"response_header_timeout"`
}

// EntryConfig binds a token to its own proxy.
type EntryConfig struct {
	Token string `yaml:"token"`
	Proxy string `yaml:"proxy"`
}

type CredentialsConfig struct {
	Tokens       []string      `yaml:"tokens"`
	TokensFile   string        `yaml:"tokens_file"`
	Entries      []EntryConfig `yaml:"entries"`
	Proxies      []string      `yaml:"proxies"`
	ProxiesFile  string        `yaml:"proxies_file"`
	WatchProxies bool          `yaml:"watch_proxies"`
	MinInterval  time.Duration `yaml:"min_interval"`
	BanDuration  time.Duration `yaml:"-"`
}

type RetryConfig struct {
	MaxRetries  int           `yaml:"max_retries"`
	BackoffBase float64       `yaml:"backoff_base"`
	BackoffUnit time.Duration `yaml:"backoff_unit"`
}

type ModelsConfig struct {
	Aliases     map[string]string `yaml:"aliases"`
	AliasesFile string            `yaml:"aliases_file"`
	CacheSize   int               `yaml:"cache_size"`
}

type ProbeConfig struct {
	Schedule  string        `yaml:"schedule"`
	OnStartup bool          `yaml:"on_startup"`
	Model     string        `yaml:"model"`
	Prompt    string        `yaml:"prompt"`
	Workers   int           `yaml:"workers"`
	Timeout   time.Duration `yaml:"timeout"`
}

type SupervisorConfig struct {
	MaxRestarts int           `yaml:"max_restarts"`
	Window      time.Duration `yaml:"window"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool   `yaml:"prometheus_enabled"`
	HealthCheckPath   string `yaml:"health_check_path"`
	LogErrors         bool   `yaml:"log_errors"`
	ErrorsLogPath     string `yaml:"errors_log_path"`
}

// UnmarshalYAML accepts ban_duration as a Go duration or "permanent".
func (c *CredentialsConfig) UnmarshalYAML(value *yaml.Node) error {
	type plain CredentialsConfig
	var temp struct {
		plain       `yaml:",inline"`
		BanDuration string `yaml:"ban_duration"`
	}
	if err := value.Decode(&temp); err != nil {
		return err
	}
	*c = CredentialsConfig(temp.plain)

	banDuration := resolveEnvString(temp.BanDuration)
	if banDuration == "permanent" || banDuration == "" {
		c.BanDuration = 0 // 0 means permanent ban
		return nil
	}
	d, err := time.ParseDuration(banDuration)
	if err != nil {
		return fmt.Errorf("invalid ban_duration: %w", err)
	}
	c.BanDuration = d
	return nil
}

// Load reads path, applies defaults and environment overrides, loads the
// token, proxy and alias files and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ApplyEnv()
	if err := cfg.LoadFiles(); err != nil {
		return nil, err
	}
	cfg.Normalize()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// ApplyEnv replaces the token and proxy lists with BACKEND_TOKENS and
// BACKEND_PROXIES when those are set.
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvTokens); v != "" {
		c.Credentials.Tokens = splitList(v)
		c.Credentials.TokensFile = ""
	}
	if v := os.Getenv(EnvProxies); v != "" {
		c.Credentials.Proxies = splitList(v)
		c.Credentials.ProxiesFile = ""
	}
}

// LoadFiles appends tokens_file and proxies_file entries and merges the
// aliases file under the inline aliases.
func (c *Config) LoadFiles() error {
	if c.Credentials.TokensFile != "" {
		lines, err := ReadList(c.Credentials.TokensFile)
		if err != nil {
			return fmt.Errorf("failed to read tokens_file: %w", err)
		}
		for _, line := range lines {
			fields := strings.Fields(line)
			entry := EntryConfig{Token: fields[0]}
			if len(fields) > 1 {
				entry.Proxy = fields[1]
			}
			c.Credentials.Entries = append(c.Credentials.Entries, entry)
		}
	}

	if c.Credentials.ProxiesFile != "" {
		lines, err := ReadList(c.Credentials.ProxiesFile)
		if err != nil {
			return fmt.Errorf("failed to read proxies_file: %w", err)
		}
		c.Credentials.Proxies = append(c.Credentials.Proxies, lines...)
	}

	if c.Models.AliasesFile != "" {
		aliases, err := LoadAliasesFile(c.Models.AliasesFile)
		if err != nil {
			return err
		}
		if c.Models.Aliases == nil {
			c.Models.Aliases = make(map[string]string, len(aliases))
		}
		for name, id := range aliases {
			if _, ok := c.Models.Aliases[name]; !ok {
				c.Models.Aliases[name] = id
			}
		}
	}
	return nil
}

// Normalize resolves os.environ/ references and fills defaults.
func (c *Config) Normalize() {
	for i, tok := range c.Credentials.Tokens {
		c.Credentials.Tokens[i] = resolveEnvString(strings.TrimSpace(tok))
	}
	for i := range c.Credentials.Entries {
		c.Credentials.Entries[i].Token = resolveEnvString(strings.TrimSpace(c.Credentials.Entries[i].Token))
		c.Credentials.Entries[i].Proxy = resolveEnvString(strings.TrimSpace(c.Credentials.Entries[i].Proxy))
	}
	for i, p := range c.Credentials.Proxies {
		c.Credentials.Proxies[i] = resolveEnvString(strings.TrimSpace(p))
	}
	c.Backend.BaseURL = strings.TrimSuffix(resolveEnvString(c.Backend.BaseURL), "/")

	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.MaxBodySizeMB == 0 {
		c.Server.MaxBodySizeMB = 10
	}
	if c.Server.RequestTimeout == 0 {
		c.Server.RequestTimeout = 2 * time.Minute
	}
	if c.Server.LoggingLevel == "" {
		c.Server.LoggingLevel = "info"
	}
	if c.Server.LogFormat == "" {
		c.Server.LogFormat = "text"
	}
	if c.Backend.Type == "" {
		c.Backend.Type = BackendAnthropic
	}
	if c.Backend.Workers == 0 {
		c.Backend.Workers = 16
	}
	if c.Backend.QueueSize == 0 {
		c.Backend.QueueSize = 4 * c.Backend.Workers
	}
	if c.Retry.MaxRetries == 0 {
		c.Retry.MaxRetries = 5
	}
	if c.Retry.BackoffBase == 0 {
		c.Retry.BackoffBase = 2
	}
	if c.Retry.BackoffUnit == 0 {
		c.Retry.BackoffUnit = time.Second
	}
	if c.Probe.Workers == 0 {
		c.Probe.Workers = 5
	}
	if c.Monitoring.HealthCheckPath == "" {
		c.Monitoring.HealthCheckPath = "/health"
	}
}

// Tokens returns every configured credential in load order: inline tokens
// first, then entries (including those from tokens_file). Duplicates and
// empty tokens are dropped.
func (c *Config) Tokens() []EntryConfig {
	seen := make(map[string]bool)
	var out []EntryConfig
	add := func(e EntryConfig) {
		if e.Token == "" || seen[e.Token] {
			return
		}
		seen[e.Token] = true
		out = append(out, e)
	}
	for _, tok := range c.Credentials.Tokens {
		add(EntryConfig{Token: tok})
	}
	for _, e := range c.Credentials.Entries {
		add(e)
	}
	return out
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}

	if c.Server.MaxBodySizeMB <= 0 {
		return fmt.Errorf("invalid max_body_size_mb: %d", c.Server.MaxBodySizeMB)
	}

	if c.Server.RequestTimeout <= 0 {
		return fmt.Errorf("invalid request_timeout: %v", c.Server.RequestTimeout)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Server.LoggingLevel] {
		return fmt.Errorf("invalid logging_level: %s (must be debug, info, warn or error)", c.Server.LoggingLevel)
	}
	if c.Server.LogFormat != "text" && c.Server.LogFormat != "json" {
		return fmt.Errorf("invalid log_format: %s (must be text or json)", c.Server.LogFormat)
	}

	switch c.Backend.Type {
	case BackendAnthropic, BackendGemini:
	default:
		return fmt.Errorf("invalid backend.type: %s (must be %s or %s)", c.Backend.Type, BackendAnthropic, BackendGemini)
	}
	if c.Backend.BaseURL != "" {
		if err := validateBaseURL("backend", c.Backend.BaseURL); err != nil {
			return err
		}
	}
	if c.Backend.Workers < 0 {
		return fmt.Errorf("invalid backend.workers: %d", c.Backend.Workers)
	}

	if c.Retry.MaxRetries < 1 {
		return fmt.Errorf("invalid retry.max_retries: %d", c.Retry.MaxRetries)
	}
	if c.Retry.BackoffBase < 1 {
		return fmt.Errorf("invalid retry.backoff_base: %v (must be >= 1)", c.Retry.BackoffBase)
	}
	if c.Retry.BackoffUnit < 0 {
		return fmt.Errorf("invalid retry.backoff_unit: %v", c.Retry.BackoffUnit)
	}

	if len(c.Tokens()) == 0 {
		return fmt.Errorf("no tokens configured (set credentials.tokens, credentials.tokens_file or %s)", EnvTokens)
	}
	for i, e := range c.Credentials.Entries {
		if e.Proxy != "" {
			if err := validateProxy(e.Proxy); err != nil {
				return fmt.Errorf("credential entry %d: %w", i, err)
			}
		}
	}
	for i, p := range c.Credentials.Proxies {
		if err := validateProxy(p); err != nil {
			return fmt.Errorf("proxy %d: %w", i, err)
		}
	}
	if c.Credentials.WatchProxies && c.Credentials.ProxiesFile == "" {
		return fmt.Errorf("credentials.watch_proxies requires credentials.proxies_file")
	}
	if (c.Probe.Schedule != "" || c.Probe.OnStartup) && c.Probe.Model == "" {
		return fmt.Errorf("probe.model is required when the probe is enabled")
	}

	if c.Credentials.MinInterval < 0 {
		return fmt.Errorf("invalid credentials.min_interval: %v", c.Credentials.MinInterval)
	}

	if !strings.HasPrefix(c.Monitoring.HealthCheckPath, "/") {
		return fmt.Errorf("invalid health_check_path: %s (must start with /)", c.Monitoring.HealthCheckPath)
	}
	if c.Monitoring.LogErrors && c.Monitoring.ErrorsLogPath == "" {
		return fmt.Errorf("monitoring.log_errors requires monitoring.errors_log_path")
	}

	return nil
}

func validateProxy(raw string) error {
	_, err := httputil.ParseProxyURL(raw)
	return err
}
