// Package ident generates identifiers and timestamps for the session models.
package ident

import (
	"crypto/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// Clock returns the current time. Tests substitute a fixed or stepping clock.
type Clock func() time.Time

// Generator hands out ULIDs that sort in creation order, including ids minted
// within the same millisecond.
type Generator struct {
	mu      sync.Mutex
	clock   Clock
	entropy *ulid.MonotonicEntropy
}

func NewGenerator(clock Clock) *Generator {
	if clock == nil {
		clock = time.Now
	}
	return &Generator{
		clock:   clock,
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

// Now returns the generator clock in epoch milliseconds.
func (g *Generator) Now() int64 {
	return g.clock().UnixMilli()
}

// NewULID returns a fresh id together with the epoch-ms timestamp it encodes.
func (g *Generator) NewULID() (string, int64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clock()
	id := ulid.MustNew(ulid.Timestamp(now), g.entropy)
	return id.String(), now.UnixMilli()
}

// NewUUID returns a random UUID string.
func NewUUID() string {
	return uuid.NewString()
}

// PairKey is the order-independent key of a two-party conversation.
func PairKey(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return strings.Join(ids, ":")
}

// SplitPairKey reverses PairKey.
func SplitPairKey(key string) (string, string, bool) {
	a, b, ok := strings.Cut(key, ":")
	if !ok || a == "" || b == "" {
		return "", "", false
	}
	return a, b, true
}
