// Package dispatcher drives one chat request through the credential pool:
// it resolves the model, calls the backend, classifies failures and retries
// with rotation and exponential backoff.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/mixaill76/chat_relay/internal/backend"
	"github.com/mixaill76/chat_relay/internal/balancer"
	"github.com/mixaill76/chat_relay/internal/models"
	"github.com/mixaill76/chat_relay/internal/monitoring"
	"github.com/mixaill76/chat_relay/internal/openai"
	"github.com/mixaill76/chat_relay/internal/proxyhealth"
	"github.com/mixaill76/chat_relay/internal/ratelimit"
	"github.com/mixaill76/chat_relay/internal/security"
	"github.com/mixaill76/chat_relay/internal/worker"
)

var (
	ErrUnknownModel     = errors.New("unknown model")
	ErrRetriesExhausted = errors.New("retries exhausted")
	ErrTimeout          = errors.New("request timed out")
)

// Message is one conversation turn.
type Message = openai.Message

// Attempt describes one backend call made for a request.
type Attempt struct {
	Number int
	Token  string
	Proxy  string
	Kind   backend.Kind
}

// FatalError is a failure no rotation can fix, such as a broken client
// session. It ends the request and is handed to the FatalReporter.
type FatalError struct {
	Attempt Attempt
	Err     error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal backend error on attempt %d: %v", e.Attempt.Number, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// FatalReporter receives fatal errors, typically a supervisor.
type FatalReporter interface {
	ReportFatal(err *FatalError)
}

// Config holds retry tunables.
type Config struct {
	MaxRetries  int
	BackoffBase float64
	BackoffUnit time.Duration
}

const (
	DefaultMaxRetries  = 5
	DefaultBackoffBase = 2.0
	DefaultBackoffUnit = time.Second
)

type Dispatcher struct {
	pool     *balancer.Pool
	resolver *models.Resolver
	clients  *backend.ClientCache
	workers  *worker.Pool
	cfg      Config
	metrics  *monitoring.Metrics
	logger   *slog.Logger

	proxies *proxyhealth.Tracker
	limiter *ratelimit.IntervalLimiter
	fatal   FatalReporter
	sleep   func(ctx context.Context, d time.Duration) error
}

func New(
	pool *balancer.Pool,
	resolver *models.Resolver,
	clients *backend.ClientCache,
	workers *worker.Pool,
	cfg Config,
	metrics *monitoring.Metrics,
	logger *slog.Logger,
) *Dispatcher {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = DefaultBackoffBase
	}
	if cfg.BackoffUnit < 0 {
		cfg.BackoffUnit = 0
	}
	return &Dispatcher{
		pool:     pool,
		resolver: resolver,
		clients:  clients,
		workers:  workers,
		cfg:      cfg,
		metrics:  metrics,
		logger:   logger,
		sleep:    sleepContext,
	}
}

// SetProxyTracker enables per-proxy outcome tracking.
func (d *Dispatcher) SetProxyTracker(t *proxyhealth.Tracker) {
	d.proxies = t
}

// SetRateLimiter spaces out calls made with the same token.
func (d *Dispatcher) SetRateLimiter(l *ratelimit.IntervalLimiter) {
	d.limiter = l
}

// SetFatalReporter registers the receiver of fatal errors.
func (d *Dispatcher) SetFatalReporter(r FatalReporter) {
	d.fatal = r
}

// MaxRetries returns the configured attempt bound.
func (d *Dispatcher) MaxRetries() int {
	return d.cfg.MaxRetries
}

// Instruct answers the last user message of conversation with model. At most
// maxRetries backend calls are made; maxRetries <= 0 uses the configured bound.
//
// Errors: ErrUnknownModel, ErrRetriesExhausted, ErrTimeout (ctx expired),
// *FatalError, balancer.ErrEmptyPool.
func (d *Dispatcher) Instruct(ctx context.Context, conversation []Message, model string, maxRetries int) (Message, error) {
	prompt, ok := lastUserMessage(conversation)
	if !ok {
		return Message{Role: openai.RoleAssistant}, nil
	}
	if maxRetries <= 0 {
		maxRetries = d.cfg.MaxRetries
	}

	internal := d.resolver.Resolve(model)
	botID := ""

	for attempt := 0; attempt < maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return Message{}, fmt.Errorf("%w: %w", ErrTimeout, err)
		}

		d.pool.RotateProxy()
		entry, proxy, err := d.pool.Snapshot()
		if err != nil {
			return Message{}, err
		}
		a := Attempt{Number: attempt + 1, Token: entry.Token, Proxy: proxy}

		text, err := d.call(ctx, entry.Token, proxy, internal, &botID, prompt)
		if err == nil {
			d.metrics.RecordAttempt("success")
			if d.proxies != nil {
				d.proxies.RecordSuccess(proxy)
			}
			d.logger.Debug("Backend call succeeded",
				"attempt", a.Number,
				"model", model,
				"token", security.MaskToken(a.Token),
			)
			return Message{Role: openai.RoleAssistant, Content: text}, nil
		}

		// The caller gave up; leave the pool as it is.
		if ctxErr := ctx.Err(); ctxErr != nil {
			d.metrics.RecordAttempt(backend.KindTimeout.String())
			return Message{}, fmt.Errorf("%w: %w", ErrTimeout, ctxErr)
		}

		a.Kind = backend.KindOf(err)
		d.metrics.RecordAttempt(a.Kind.String())
		d.logAttempt(a, model, maxRetries, err)

		switch a.Kind {
		case backend.KindUnknownModel:
			return Message{}, fmt.Errorf("%w: %s", ErrUnknownModel, model)
		case backend.KindFatal:
			fe := &FatalError{Attempt: a, Err: err}
			if d.fatal != nil {
				d.fatal.ReportFatal(fe)
			}
			return Message{}, fe
		case backend.KindInvalidCredential:
			d.pool.MarkBad(entry.Token)
			d.clients.Evict(entry.Token, proxy)
			d.limiter.Reset(entry.Token)
		case backend.KindConnectionLost, backend.KindTimeout:
			if d.proxies != nil {
				d.proxies.RecordFailure(proxy, err)
			}
		}

		if err := d.pool.RotateToken(); err != nil {
			return Message{}, err
		}

		if attempt < maxRetries-1 {
			if err := d.sleep(ctx, d.backoff(attempt)); err != nil {
				return Message{}, fmt.Errorf("%w: %w", ErrTimeout, err)
			}
		}
	}

	d.metrics.RecordRetriesExhausted()
	d.logger.Warn("Retries exhausted", "model", model, "attempts", maxRetries)
	return Message{}, fmt.Errorf("%w after %d attempts", ErrRetriesExhausted, maxRetries)
}

type callResult struct {
	text string
	err  error
}

// call performs one attempt. The blocking send and drain run on the worker
// pool; call returns when they finish or ctx is done.
func (d *Dispatcher) call(ctx context.Context, token, proxy, internal string, botID *string, prompt string) (string, error) {
	client, err := d.clients.Get(ctx, token, proxy)
	if err != nil {
		return "", err
	}

	if *botID == "" {
		id, err := d.resolver.Verify(ctx, client, internal)
		if err != nil {
			return "", err
		}
		*botID = id
	}
	bot := *botID

	if err := d.limiter.Wait(ctx, token); err != nil {
		return "", err
	}

	done := make(chan callResult, 1)
	job := worker.JobFunc(func(context.Context) error {
		defer func() {
			if r := recover(); r != nil {
				done <- callResult{err: backend.NewError(backend.KindOther, fmt.Errorf("connector panic: %v", r))}
			}
		}()
		text, err := backend.Drain(ctx, client.SendMessage(ctx, bot, prompt))
		done <- callResult{text: text, err: err}
		return err
	})

	if err := d.workers.Submit(ctx, job); err != nil {
		if errors.Is(err, worker.ErrPoolClosed) {
			return "", backend.NewError(backend.KindFatal, err)
		}
		return "", err
	}

	select {
	case r := <-done:
		return r.text, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (d *Dispatcher) backoff(attempt int) time.Duration {
	return time.Duration(float64(d.cfg.BackoffUnit) * math.Pow(d.cfg.BackoffBase, float64(attempt)))
}

func (d *Dispatcher) logAttempt(a Attempt, model string, maxRetries int, err error) {
	attrs := []any{
		"attempt", a.Number,
		"max_retries", maxRetries,
		"model", model,
		"kind", a.Kind.String(),
		"token", security.MaskToken(a.Token),
		"proxy", security.MaskProxyURL(a.Proxy),
		"error", err,
	}
	switch a.Kind {
	case backend.KindOther, backend.KindFatal:
		d.logger.Error("Backend call failed", attrs...)
	case backend.KindUnknownModel:
		d.logger.Info("Backend call failed", attrs...)
	default:
		d.logger.Warn("Backend call failed", attrs...)
	}
}

// lastUserMessage returns the content of the last user turn. Blank content
// counts as absent.
func lastUserMessage(conversation []Message) (string, bool) {
	for i := len(conversation) - 1; i >= 0; i-- {
		if conversation[i].Role != openai.RoleUser {
			continue
		}
		if strings.TrimSpace(conversation[i].Content) == "" {
			return "", false
		}
		return conversation[i].Content, true
	}
	return "", false
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
