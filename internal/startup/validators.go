package startup

import (
	"context"
	"log/slog"

	"github.com/mixaill76/chat_relay/internal/probe"
)

// Prober runs one pass over every credential.
type Prober interface {
	Run(ctx context.Context) []probe.Result
}

// CheckCredentialsAtStartup probes every configured token once.
// Failures are logged as WARN but startup continues (non-blocking); tokens
// rejected as invalid are already marked bad by the prober.
func CheckCredentialsAtStartup(ctx context.Context, prober Prober, log *slog.Logger) probe.Summary {
	log.Info("Checking credentials at startup")

	results := prober.Run(ctx)
	for _, r := range results {
		if r.OK {
			log.Debug("Credential usable at startup", "index", r.Index, "token", r.Token)
			continue
		}
		log.Warn("Credential failed at startup",
			"index", r.Index,
			"token", r.Token,
			"proxy", r.Proxy,
			"kind", r.Kind,
			"error", r.Error,
		)
	}

	s := probe.Summarize(results)
	log.Info("Credential check completed at startup",
		"total", s.Total,
		"ok", s.OK,
		"invalid", s.Invalid,
		"failed", s.Failed,
	)

	if s.Total > 0 && s.OK == 0 {
		log.Error("All credentials failed at startup",
			"total", s.Total,
			"impact", "Requests will fail until a token recovers",
			"action_recommended", "Check the tokens and proxies before production deployment",
		)
	}
	return s
}
