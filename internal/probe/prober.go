// Package probe checks every credential in the pool against the backend and
// feeds the outcome back into the pool's bad set.
package probe

import (
	"context"
	"log/slog"
	"time"

	"github.com/mixaill76/chat_relay/internal/backend"
	"github.com/mixaill76/chat_relay/internal/balancer"
	"github.com/mixaill76/chat_relay/internal/models"
	"github.com/mixaill76/chat_relay/internal/security"
	"github.com/mixaill76/chat_relay/internal/worker"
)

const (
	DefaultWorkers = 5
	DefaultTimeout = 30 * time.Second
	DefaultPrompt  = "ping"
)

// Result is the outcome of probing one credential.
type Result struct {
	Index   int           `json:"index"`
	Token   string        `json:"token"`
	Proxy   string        `json:"proxy,omitempty"`
	OK      bool          `json:"ok"`
	Kind    string        `json:"kind,omitempty"`
	Error   string        `json:"error,omitempty"`
	Latency time.Duration `json:"latency"`
}

// Summary counts probe outcomes.
type Summary struct {
	Total   int `json:"total"`
	OK      int `json:"ok"`
	Invalid int `json:"invalid"`
	Failed  int `json:"failed"`
}

type Options struct {
	Model   string
	Prompt  string
	Workers int
	Timeout time.Duration
}

type Prober struct {
	pool     *balancer.Pool
	clients  *backend.ClientCache
	resolver *models.Resolver
	opts     Options
	logger   *slog.Logger
}

func New(pool *balancer.Pool, clients *backend.ClientCache, resolver *models.Resolver, opts Options, logger *slog.Logger) *Prober {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Prompt == "" {
		opts.Prompt = DefaultPrompt
	}
	return &Prober{
		pool:     pool,
		clients:  clients,
		resolver: resolver,
		opts:     opts,
		logger:   logger,
	}
}

type probeJob struct {
	prober  *Prober
	index   int
	entry   balancer.Entry
	proxy   string
	results []Result
}

type probeResult struct{ err error }

func (r probeResult) Error() error { return r.err }

func (j probeJob) Execute(ctx context.Context) worker.Result {
	res := j.prober.probeOne(ctx, j.index, j.entry, j.proxy)
	j.results[j.index] = res
	return probeResult{}
}

// Run probes every credential concurrently and returns one result per pool
// entry, in pool order. Tokens answering with InvalidCredential are marked
// bad; tokens answering successfully are returned to rotation.
func (p *Prober) Run(ctx context.Context) []Result {
	entries := p.pool.Entries()
	proxies := p.pool.Proxies()
	results := make([]Result, len(entries))

	queue := make(chan worker.Job, len(entries))
	for i, e := range entries {
		proxy := e.Proxy
		if proxy == "" && len(proxies) > 0 {
			proxy = proxies[i%len(proxies)]
		}
		queue <- probeJob{prober: p, index: i, entry: e, proxy: proxy, results: results}
	}
	close(queue)

	worker.SpawnWorkerPool(ctx, p.opts.Workers, queue, p.logger).Wait()

	s := Summarize(results)
	p.logger.Info("Credential probe finished",
		"model", p.opts.Model,
		"total", s.Total,
		"ok", s.OK,
		"invalid", s.Invalid,
		"failed", s.Failed,
	)
	return results
}

func (p *Prober) probeOne(ctx context.Context, index int, entry balancer.Entry, proxy string) Result {
	ctx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()

	res := Result{
		Index: index,
		Token: security.MaskToken(entry.Token),
		Proxy: security.MaskProxyURL(proxy),
	}

	start := time.Now()
	err := p.check(ctx, entry.Token, proxy)
	res.Latency = time.Since(start)

	if err == nil {
		res.OK = true
		p.pool.MarkGood(entry.Token)
		return res
	}

	kind := backend.KindOf(err)
	res.Kind = kind.String()
	res.Error = err.Error()
	if kind == backend.KindInvalidCredential {
		p.pool.MarkBad(entry.Token)
	}
	p.logger.Debug("Credential probe failed",
		"token", res.Token,
		"proxy", res.Proxy,
		"kind", res.Kind,
		"error", err,
	)
	return res
}

func (p *Prober) check(ctx context.Context, token, proxy string) error {
	client, err := p.clients.Get(ctx, token, proxy)
	if err != nil {
		return err
	}
	botID, err := p.resolver.Verify(ctx, client, p.resolver.Resolve(p.opts.Model))
	if err != nil {
		return err
	}
	_, err = backend.Drain(ctx, client.SendMessage(ctx, botID, p.opts.Prompt))
	return err
}

// Summarize counts results by outcome.
func Summarize(results []Result) Summary {
	s := Summary{Total: len(results)}
	invalid := backend.KindInvalidCredential.String()
	for _, r := range results {
		switch {
		case r.OK:
			s.OK++
		case r.Kind == invalid:
			s.Invalid++
		default:
			s.Failed++
		}
	}
	return s
}
