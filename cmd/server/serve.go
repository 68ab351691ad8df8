package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mixaill76/chat_relay/internal/config"
	"github.com/mixaill76/chat_relay/internal/dispatcher"
	"github.com/mixaill76/chat_relay/internal/probe"
	"github.com/mixaill76/chat_relay/internal/proxy"
	"github.com/mixaill76/chat_relay/internal/proxyhealth"
	"github.com/mixaill76/chat_relay/internal/ratelimit"
	"github.com/mixaill76/chat_relay/internal/router"
	"github.com/mixaill76/chat_relay/internal/startup"
	"github.com/mixaill76/chat_relay/internal/supervisor"
	"github.com/mixaill76/chat_relay/internal/worker"
)

const shutdownTimeout = 30 * time.Second

var serveFlags struct {
	port   int
	dryRun bool
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the relay HTTP server",
	Long: `Start the relay HTTP server with the specified configuration.

Examples:
  # Start with default config
  server serve

  # Override the listen port
  server serve --config /etc/relay/config.yaml --port 9000

  # Validate config without starting the server
  server serve --dry-run`,
	RunE: runServe,
}

func addServeFlags(cmd *cobra.Command) {
	cmd.Flags().IntVarP(&serveFlags.port, "port", "p", 0, "override server port")
	cmd.Flags().BoolVar(&serveFlags.dryRun, "dry-run", false, "validate config without starting server")
}

func init() {
	rootCmd.AddCommand(serveCmd)
	addServeFlags(serveCmd)
	addServeFlags(rootCmd)
}

// server is a fully wired relay ready to listen.
type server struct {
	*app
	workers    *worker.Pool
	supervisor *supervisor.Supervisor
	prober     *probe.Prober
	scheduler  *probe.Scheduler
	router     *router.Router
}

func newServer(a *app) *server {
	cfg := a.cfg

	workers := worker.NewPool(cfg.Backend.Workers, cfg.Backend.QueueSize, a.log)

	d := dispatcher.New(a.pool, a.resolver, a.clients, workers, dispatcher.Config{
		MaxRetries:  cfg.Retry.MaxRetries,
		BackoffBase: cfg.Retry.BackoffBase,
		BackoffUnit: cfg.Retry.BackoffUnit,
	}, a.metrics, a.log)

	tracker := proxyhealth.NewTracker(0, a.metrics, a.log)
	d.SetProxyTracker(tracker)
	d.SetRateLimiter(ratelimit.New(cfg.Credentials.MinInterval))

	sup := supervisor.New(cfg.Supervisor.MaxRestarts, cfg.Supervisor.Window, a.clients, a.metrics, a.log)
	d.SetFatalReporter(sup)

	var prober *probe.Prober
	var scheduler *probe.Scheduler
	if cfg.Probe.Schedule != "" || cfg.Probe.OnStartup {
		prober = probe.New(a.pool, a.clients, a.resolver, probeOptions(cfg), a.log)
	}
	if cfg.Probe.Schedule != "" {
		scheduler = probe.NewScheduler(prober, cfg.Probe.Schedule, a.log)
	}

	p := proxy.New(&proxy.Config{
		Dispatcher:     d,
		Pool:           a.pool,
		ProxyHealth:    tracker,
		Logger:         a.log,
		MaxBodySizeMB:  cfg.Server.MaxBodySizeMB,
		RequestTimeout: cfg.Server.RequestTimeout,
		Version:        Version,
		Commit:         Commit,
	})

	return &server{
		app:        a,
		workers:    workers,
		supervisor: sup,
		prober:     prober,
		scheduler:  scheduler,
		router:     router.New(p, a.resolver, &cfg.Monitoring, cfg.Server.CORSOrigins, a.metrics, a.log),
	}
}

func probeOptions(cfg *config.Config) probe.Options {
	return probe.Options{
		Model:   cfg.Probe.Model,
		Prompt:  cfg.Probe.Prompt,
		Workers: cfg.Probe.Workers,
		Timeout: cfg.Probe.Timeout,
	}
}

// watchProxies reloads the proxy list whenever the proxies file changes.
func (s *server) watchProxies(ctx context.Context) {
	path := s.cfg.Credentials.ProxiesFile
	go func() {
		err := config.WatchList(ctx, path, func(items []string) {
			s.pool.SetProxies(validProxies(items, s.log))
		}, s.log)
		if err != nil {
			s.log.Error("Proxy file watcher stopped", "path", path, "error", err)
		}
	}()
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig(cfgFile)
	if err != nil {
		return err
	}
	if serveFlags.port != 0 {
		cfg.Server.Port = serveFlags.port
	}

	config.PrintConfig(log, cfg)

	a, err := newApp(cfg, log)
	if err != nil {
		return err
	}
	if serveFlags.dryRun {
		log.Info("Configuration is valid (dry-run mode)")
		return nil
	}

	s := newServer(a)
	defer s.workers.Close()
	defer func() {
		if err := s.router.Close(); err != nil {
			log.Error("Failed to close error log", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if s.scheduler != nil {
		if err := s.scheduler.Start(ctx); err != nil {
			return err
		}
		defer s.scheduler.Stop()
	}
	if cfg.Credentials.WatchProxies {
		s.watchProxies(ctx)
	}
	if cfg.Probe.OnStartup {
		go startup.CheckCredentialsAtStartup(ctx, s.prober, log)
	}

	// No WriteTimeout: streaming replies are bounded by request_timeout.
	httpServer := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:     s.router,
		ReadTimeout: cfg.Server.ReadTimeout,
		IdleTimeout: cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("Starting server", "addr", httpServer.Addr, "version", Version, "commit", Commit)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("Shutting down server")
	case <-s.supervisor.Done():
		runErr = s.supervisor.Err()
		log.Error("Backend supervisor gave up, shutting down", "error", runErr)
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown error", "error", err)
	}

	log.Info("Server stopped")
	return runErr
}
