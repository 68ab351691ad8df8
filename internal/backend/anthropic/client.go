// Package anthropic connects the relay to the Anthropic Messages API.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/mixaill76/chat_relay/internal/backend"
	"github.com/mixaill76/chat_relay/internal/httputil"
)

const defaultMaxTokens = 4096

// Options configures every client built by the factory.
type Options struct {
	BaseURL   string
	MaxTokens int64
	HTTP      *httputil.HTTPClientConfig
}

// Factory builds Anthropic clients bound to a token and proxy.
type Factory struct {
	opts Options
}

func NewFactory(opts Options) *Factory {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = defaultMaxTokens
	}
	return &Factory{opts: opts}
}

func (f *Factory) NewClient(_ context.Context, token, proxy string) (backend.Client, error) {
	httpCfg := httputil.DefaultHTTPClientConfig()
	if f.opts.HTTP != nil {
		c := *f.opts.HTTP
		httpCfg = &c
	}
	httpCfg.ProxyURL = proxy

	httpClient, err := httputil.NewHTTPClient(httpCfg)
	if err != nil {
		return nil, fmt.Errorf("anthropic client: %w", err)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(token),
		option.WithHTTPClient(httpClient),
		// Retries belong to the dispatcher, which rotates credentials between attempts.
		option.WithMaxRetries(0),
	}
	if f.opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(f.opts.BaseURL))
	}

	return &Client{
		api:       sdk.NewClient(reqOpts...),
		maxTokens: f.opts.MaxTokens,
	}, nil
}

// Client is one authenticated Anthropic session.
type Client struct {
	api       sdk.Client
	maxTokens int64
}

func (c *Client) SendMessage(ctx context.Context, botID, prompt string) iter.Seq2[backend.Chunk, error] {
	return func(yield func(backend.Chunk, error) bool) {
		stream := c.api.Messages.NewStreaming(ctx, sdk.MessageNewParams{
			Model:     sdk.Model(botID),
			MaxTokens: c.maxTokens,
			Messages: []sdk.MessageParam{
				sdk.NewUserMessage(sdk.NewTextBlock(prompt)),
			},
		})
		defer stream.Close()

		var text strings.Builder
		for stream.Next() {
			event, ok := stream.Current().AsAny().(sdk.ContentBlockDeltaEvent)
			if !ok {
				continue
			}
			delta, ok := event.Delta.AsAny().(sdk.TextDelta)
			if !ok {
				continue
			}
			text.WriteString(delta.Text)
			if !yield(backend.Chunk{Text: text.String()}, nil) {
				return
			}
		}
		if err := stream.Err(); err != nil {
			yield(backend.Chunk{}, classify(err))
		}
	}
}

func (c *Client) KnowsBot(ctx context.Context, id string) (bool, error) {
	_, err := c.api.Models.Get(ctx, id, sdk.ModelGetParams{})
	if err == nil {
		return true, nil
	}
	err = classify(err)
	if backend.KindOf(err) == backend.KindUnknownModel {
		return false, nil
	}
	return false, err
}

// ResolveBotID finds the model whose display name matches name.
func (c *Client) ResolveBotID(ctx context.Context, name string) (string, error) {
	pager := c.api.Models.ListAutoPaging(ctx, sdk.ModelListParams{})
	for pager.Next() {
		m := pager.Current()
		if strings.EqualFold(m.DisplayName, name) || m.ID == name {
			return m.ID, nil
		}
	}
	if err := pager.Err(); err != nil {
		return "", classify(err)
	}
	return "", backend.NewError(backend.KindUnknownModel, fmt.Errorf("no model named %q", name))
}

func classify(err error) error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		return backend.NewError(backend.KindFromStatus(apiErr.StatusCode), err)
	}
	return backend.NewError(backend.KindOf(err), err)
}
