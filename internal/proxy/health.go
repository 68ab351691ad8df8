package proxy

import (
	"github.com/mixaill76/chat_relay/internal/proxyhealth"
)

// HealthResponse is the JSON body of the health endpoint.
type HealthResponse struct {
	Status           string               `json:"status"`
	TokensTotal      int                  `json:"tokens_total"`
	TokensAvailable  int                  `json:"tokens_available"`
	TokensBad        int                  `json:"tokens_bad"`
	CurrentToken     int                  `json:"current_token"`
	Proxies          int                  `json:"proxies"`
	ProxyIndex       int                  `json:"proxy_index"`
	UnhealthyProxies int                  `json:"unhealthy_proxies"`
	ProxyHealth      []proxyhealth.Status `json:"proxy_health,omitempty"`
	Version          string               `json:"version"`
	Commit           string               `json:"commit"`
}

// HealthCheck reports pool and proxy state. The relay is unhealthy when no
// token is usable.
func (p *Proxy) HealthCheck() (bool, *HealthResponse) {
	stats := p.pool.Stats()
	available := stats.Size - stats.Bad
	healthy := available > 0

	status := &HealthResponse{
		Status:          "healthy",
		TokensTotal:     stats.Size,
		TokensAvailable: available,
		TokensBad:       stats.Bad,
		CurrentToken:    stats.Current,
		Proxies:         stats.Proxies,
		ProxyIndex:      stats.ProxyIndex,
		Version:         p.version,
		Commit:          p.commit,
	}
	if p.proxyHealth != nil {
		status.ProxyHealth = p.proxyHealth.Statuses()
		status.UnhealthyProxies = p.proxyHealth.UnhealthyCount()
	}

	if !healthy {
		status.Status = "unhealthy"
	}

	return healthy, status
}
