package models

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mixaill76/chat_relay/internal/backend"
)

const DefaultCacheSize = 128

// Model represents a single model from OpenAI API
type Model struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created,omitempty"`
	OwnedBy string `json:"owned_by,omitempty"`
}

// ModelsResponse represents the response from /v1/models endpoint
type ModelsResponse struct {
	Object string  `json:"object"`
	Data   []Model `json:"data"`
}

// Resolver maps caller-facing model names to backend bot ids.
// The alias table is read-only after construction.
type Resolver struct {
	aliases  map[string]string
	verified *lru.Cache[string, string]
	created  int64
	logger   *slog.Logger
}

// NewResolver builds a resolver over aliases. cacheSize bounds the number of
// verified bot ids remembered between requests.
func NewResolver(aliases map[string]string, cacheSize int, logger *slog.Logger) (*Resolver, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	verified, err := lru.New[string, string](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create model cache: %w", err)
	}

	table := make(map[string]string, len(aliases))
	for name, id := range aliases {
		table[name] = id
	}

	logger.Debug("Model aliases loaded", "count", len(table))

	return &Resolver{
		aliases:  table,
		verified: verified,
		created:  time.Now().Unix(),
		logger:   logger,
	}, nil
}

// Resolve returns the backend id for name. Lookup is case-sensitive; unknown
// names pass through unchanged.
func (r *Resolver) Resolve(name string) string {
	if id, ok := r.aliases[name]; ok {
		return id
	}
	return name
}

// Verify confirms id with the backend. If the backend does not know it, id is
// treated as a display name and looked up. Fails with KindUnknownModel when
// neither succeeds; any other failure is returned unchanged.
func (r *Resolver) Verify(ctx context.Context, client backend.Client, id string) (string, error) {
	if botID, ok := r.verified.Get(id); ok {
		return botID, nil
	}

	known, err := client.KnowsBot(ctx, id)
	if err != nil {
		return "", err
	}
	if known {
		r.verified.Add(id, id)
		return id, nil
	}

	botID, err := client.ResolveBotID(ctx, id)
	if err != nil {
		if backend.KindOf(err) == backend.KindUnknownModel {
			r.logger.Debug("Model not served by backend", "model", id)
		}
		return "", err
	}

	r.logger.Debug("Model resolved by name", "model", id, "bot_id", botID)
	r.verified.Add(id, botID)
	return botID, nil
}

// List returns the configured aliases in /v1/models form, sorted by id.
func (r *Resolver) List() ModelsResponse {
	names := make([]string, 0, len(r.aliases))
	for name := range r.aliases {
		names = append(names, name)
	}
	slices.Sort(names)

	data := make([]Model, 0, len(names))
	for _, name := range names {
		data = append(data, Model{
			ID:      name,
			Object:  "model",
			Created: r.created,
			OwnedBy: "system",
		})
	}
	return ModelsResponse{
		Object: "list",
		Data:   data,
	}
}
