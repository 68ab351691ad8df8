// Package backend defines the capability the relay needs from the conversational
// backend and the closed set of failure kinds its connectors report.
package backend

import (
	"context"
	"errors"
	"io"
	"iter"
	"net"
	"net/http"
	"syscall"
)

// Kind classifies a connector failure for the dispatcher's recovery policy.
type Kind int

const (
	KindOther Kind = iota
	KindRateLimited
	KindInvalidCredential
	KindConnectionLost
	KindTimeout
	KindUnknownModel
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindRateLimited:
		return "rate_limited"
	case KindInvalidCredential:
		return "invalid_credential"
	case KindConnectionLost:
		return "connection_lost"
	case KindTimeout:
		return "timeout"
	case KindUnknownModel:
		return "unknown_model"
	case KindFatal:
		return "fatal"
	default:
		return "other"
	}
}

// Error is returned by connectors for every classified failure.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err with the given kind.
func NewError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// KindOf extracts the failure kind from err. Errors that were not produced by a
// connector are classified from their transport shape.
func KindOf(err error) Kind {
	if err == nil {
		return KindOther
	}

	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}

	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return KindConnectionLost
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return KindConnectionLost
	}

	return KindOther
}

// KindFromStatus maps an upstream HTTP status to a failure kind.
func KindFromStatus(status int) Kind {
	switch status {
	case http.StatusTooManyRequests, 529:
		return KindRateLimited
	case http.StatusUnauthorized, http.StatusForbidden:
		return KindInvalidCredential
	case http.StatusNotFound:
		return KindUnknownModel
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return KindTimeout
	case http.StatusBadGateway, http.StatusServiceUnavailable:
		return KindConnectionLost
	default:
		return KindOther
	}
}

// Chunk is one streamed increment. Text is cumulative: the last chunk of a
// sequence holds the complete reply.
type Chunk struct {
	Text string
}

// Client is an authenticated session with the backend, bound to one token and
// one outbound proxy.
type Client interface {
	// SendMessage streams the reply of bot botID to prompt.
	SendMessage(ctx context.Context, botID, prompt string) iter.Seq2[Chunk, error]
	// KnowsBot reports whether id names a bot the backend serves.
	KnowsBot(ctx context.Context, id string) (bool, error)
	// ResolveBotID maps a display name to the backend's bot id.
	ResolveBotID(ctx context.Context, name string) (string, error)
}

// Factory builds clients. Implementations must not cache; see ClientCache.
type Factory interface {
	NewClient(ctx context.Context, token, proxy string) (Client, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(ctx context.Context, token, proxy string) (Client, error)

func (f FactoryFunc) NewClient(ctx context.Context, token, proxy string) (Client, error) {
	return f(ctx, token, proxy)
}

var errEmptyReply = errors.New("backend produced no chunks")

// Drain consumes seq and returns the text of the last chunk. An empty sequence
// is a KindOther failure.
func Drain(ctx context.Context, seq iter.Seq2[Chunk, error]) (string, error) {
	var (
		last Chunk
		seen bool
	)
	for chunk, err := range seq {
		if err != nil {
			return "", err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", NewError(KindTimeout, ctxErr)
		}
		last = chunk
		seen = true
	}
	if !seen {
		return "", NewError(KindOther, errEmptyReply)
	}
	return last.Text, nil
}
