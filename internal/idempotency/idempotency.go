// Package idempotency deduplicates inbound events by provider message id.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/fairwaydesk/teeflow/internal/domain"
)

// Admitter records first-seen keys. Admit must be atomic per key: of two
// concurrent deliveries carrying the same key, exactly one is admitted.
// Release forgets a key that was admitted but whose processing failed, so
// the provider's retry is admitted again instead of suppressed.
type Admitter interface {
	Admit(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// Guard wraps an Admitter with key synthesis and a retention window.
type Guard struct {
	admitter Admitter
	ttl      time.Duration
}

func NewGuard(admitter Admitter, ttl time.Duration) *Guard {
	return &Guard{admitter: admitter, ttl: ttl}
}

// Admit returns true when the event is seen for the first time and false for
// a replay. A replay is not an error; callers acknowledge it as success and
// perform no further side effect.
func (g *Guard) Admit(ctx context.Context, providerMessageID string) (bool, error) {
	return g.admitter.Admit(ctx, providerMessageID, g.ttl)
}

// Release undoes an Admit after processing failed. The event was never
// processed, so the key must not count as seen or the provider's retry
// would be dropped as a duplicate and the event lost.
func (g *Guard) Release(ctx context.Context, providerMessageID string) error {
	return g.admitter.Release(ctx, providerMessageID)
}

// SynthesizeKey builds a fallback key when the provider supplied no message
// id. Hashing source+subject+arrival gives a weaker guarantee than a real
// provider id: two retries of the same delivery landing in different arrival
// seconds are not caught.
func SynthesizeKey(source domain.Source, subject string, arrival time.Time) string {
	sum := sha256.Sum256([]byte(string(source) + "\x00" + subject + "\x00" + arrival.UTC().Format(time.RFC3339)))
	return "synth-" + hex.EncodeToString(sum[:16])
}

// MemoryAdmitter is an in-process Admitter for tests and development.
type MemoryAdmitter struct {
	mu   sync.Mutex
	seen map[string]time.Time
}

func NewMemoryAdmitter() *MemoryAdmitter {
	return &MemoryAdmitter{seen: make(map[string]time.Time)}
}

func (m *MemoryAdmitter) Admit(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	if expiry, ok := m.seen[key]; ok && now.Before(expiry) {
		return false, nil
	}
	m.seen[key] = now.Add(ttl)
	return true, nil
}

func (m *MemoryAdmitter) Release(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.seen, key)
	return nil
}
