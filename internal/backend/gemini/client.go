// Package gemini connects the relay to the Gemini API.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"

	"google.golang.org/genai"

	"github.com/mixaill76/chat_relay/internal/backend"
	"github.com/mixaill76/chat_relay/internal/httputil"
)

const modelPrefix = "models/"

type Options struct {
	BaseURL string
	HTTP    *httputil.HTTPClientConfig
}

type Factory struct {
	opts Options
}

func NewFactory(opts Options) *Factory {
	return &Factory{opts: opts}
}

func (f *Factory) NewClient(ctx context.Context, token, proxy string) (backend.Client, error) {
	httpCfg := httputil.DefaultHTTPClientConfig()
	if f.opts.HTTP != nil {
		c := *f.opts.HTTP
		httpCfg = &c
	}
	httpCfg.ProxyURL = proxy

	httpClient, err := httputil.NewHTTPClient(httpCfg)
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}

	api, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      token,
		Backend:     genai.BackendGeminiAPI,
		HTTPClient:  httpClient,
		HTTPOptions: genai.HTTPOptions{BaseURL: f.opts.BaseURL},
	})
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return &Client{api: api}, nil
}

type Client struct {
	api *genai.Client
}

// SendMessage streams the reply; the SDK yields deltas which are accumulated
// into cumulative chunks.
func (c *Client) SendMessage(ctx context.Context, botID, prompt string) iter.Seq2[backend.Chunk, error] {
	return func(yield func(backend.Chunk, error) bool) {
		var text strings.Builder
		for resp, err := range c.api.Models.GenerateContentStream(ctx, botID, genai.Text(prompt), nil) {
			if err != nil {
				yield(backend.Chunk{}, classify(err))
				return
			}
			delta := resp.Text()
			if delta == "" {
				continue
			}
			text.WriteString(delta)
			if !yield(backend.Chunk{Text: text.String()}, nil) {
				return
			}
		}
	}
}

func (c *Client) KnowsBot(ctx context.Context, id string) (bool, error) {
	_, err := c.api.Models.Get(ctx, id, nil)
	if err == nil {
		return true, nil
	}
	err = classify(err)
	if backend.KindOf(err) == backend.KindUnknownModel {
		return false, nil
	}
	return false, err
}

func (c *Client) ResolveBotID(ctx context.Context, name string) (string, error) {
	for m, err := range c.api.Models.All(ctx) {
		if err != nil {
			return "", classify(err)
		}
		id := strings.TrimPrefix(m.Name, modelPrefix)
		if strings.EqualFold(m.DisplayName, name) || id == name {
			return id, nil
		}
	}
	return "", backend.NewError(backend.KindUnknownModel, fmt.Errorf("no model named %q", name))
}

func classify(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		if invalidKey(apiErr) {
			return backend.NewError(backend.KindInvalidCredential, err)
		}
		return backend.NewError(backend.KindFromStatus(apiErr.Code), err)
	}
	return backend.NewError(backend.KindOf(err), err)
}

// invalidKey reports whether the API rejected the key itself. Gemini answers a
// bad key with 400 INVALID_ARGUMENT and an API_KEY_INVALID reason.
func invalidKey(apiErr genai.APIError) bool {
	if apiErr.Status == "UNAUTHENTICATED" {
		return true
	}
	if apiErr.Code != 400 {
		return false
	}
	for _, d := range apiErr.Details {
		if reason, _ := d["reason"].(string); reason == "API_KEY_INVALID" {
			return true
		}
	}
	return false
}
