// Package idgen generates OpenAI-style completion identifiers.
package idgen

import "math/rand/v2"

const (
	Prefix    = "chatcmpl-"
	suffixLen = 29
	alphabet  = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

// NewID returns "chatcmpl-" followed by 29 characters drawn uniformly from
// [A-Za-z0-9]. Safe for concurrent use.
func NewID() string {
	b := make([]byte, len(Prefix)+suffixLen)
	copy(b, Prefix)
	for i := len(Prefix); i < len(b); i++ {
		b[i] = alphabet[rand.IntN(len(alphabet))]
	}
	return string(b)
}
