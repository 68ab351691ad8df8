package testhelpers

import (
	"context"
	"iter"
	"sync"
	"time"

	"github.com/mixaill76/chat_relay/internal/backend"
)

// FakeReply is what the fake backend answers to one SendMessage call.
// Chunks are cumulative, like the real connectors.
type FakeReply struct {
	Chunks []string
	Err    error
}

// FakeCall records one SendMessage invocation.
type FakeCall struct {
	Token  string
	Proxy  string
	BotID  string
	Prompt string
}

// FakeBackend is a scriptable backend.Factory for tests.
//
// Reply selection per call: the next entry of Queue if any, else Replies[token],
// else Default.
type FakeBackend struct {
	mu sync.Mutex

	Queue   []FakeReply
	Replies map[string]FakeReply
	Default FakeReply

	// Bots lists ids KnowsBot accepts; nil accepts every id.
	Bots map[string]bool
	// Names maps display names to ids for ResolveBotID.
	Names map[string]string

	// Delay is applied before every reply; it honors context cancellation.
	Delay time.Duration
	// FactoryErr makes NewClient fail.
	FactoryErr error

	calls   []FakeCall
	clients int
}

// NewFakeBackend returns a backend that answers every message with reply.
func NewFakeBackend(reply ...string) *FakeBackend {
	return &FakeBackend{Default: FakeReply{Chunks: reply}}
}

func (b *FakeBackend) NewClient(_ context.Context, token, proxy string) (backend.Client, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.FactoryErr != nil {
		return nil, b.FactoryErr
	}
	b.clients++
	return &fakeClient{backend: b, token: token, proxy: proxy}, nil
}

// Calls returns a copy of the recorded SendMessage calls.
func (b *FakeBackend) Calls() []FakeCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]FakeCall(nil), b.calls...)
}

// ClientsCreated returns how many clients NewClient built.
func (b *FakeBackend) ClientsCreated() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.clients
}

func (b *FakeBackend) next(call FakeCall) FakeReply {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.calls = append(b.calls, call)
	if len(b.Queue) > 0 {
		reply := b.Queue[0]
		b.Queue = b.Queue[1:]
		return reply
	}
	if reply, ok := b.Replies[call.Token]; ok {
		return reply
	}
	return b.Default
}

type fakeClient struct {
	backend *FakeBackend
	token   string
	proxy   string
}

func (c *fakeClient) SendMessage(ctx context.Context, botID, prompt string) iter.Seq2[backend.Chunk, error] {
	return func(yield func(backend.Chunk, error) bool) {
		reply := c.backend.next(FakeCall{Token: c.token, Proxy: c.proxy, BotID: botID, Prompt: prompt})

		if c.backend.Delay > 0 {
			select {
			case <-time.After(c.backend.Delay):
			case <-ctx.Done():
				yield(backend.Chunk{}, backend.NewError(backend.KindTimeout, ctx.Err()))
				return
			}
		}

		for _, text := range reply.Chunks {
			if !yield(backend.Chunk{Text: text}, nil) {
				return
			}
		}
		if reply.Err != nil {
			yield(backend.Chunk{}, reply.Err)
		}
	}
}

func (c *fakeClient) KnowsBot(_ context.Context, id string) (bool, error) {
	if c.backend.Bots == nil {
		return true, nil
	}
	return c.backend.Bots[id], nil
}

func (c *fakeClient) ResolveBotID(_ context.Context, name string) (string, error) {
	if id, ok := c.backend.Names[name]; ok {
		return id, nil
	}
	return "", backend.NewError(backend.KindUnknownModel, nil)
}
