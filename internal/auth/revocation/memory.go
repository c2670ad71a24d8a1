package revocation

import (
	"context"
	"sync"
	"time"

	"github.com/aussiebroadwan/gatekeeper/pkg/clock"
	"github.com/aussiebroadwan/gatekeeper/pkg/cryptox"
)

// MemoryStore is a process-local blacklist for single-replica deployments
// and tests. Expired entries are ignored on read and removed by Sweep.
type MemoryStore struct {
	clock clock.Clock

	mu      sync.RWMutex
	entries map[string]time.Time // fingerprint -> expires at
}

func NewMemoryStore(clk clock.Clock) *MemoryStore {
	return &MemoryStore{clock: clock.Or(clk), entries: make(map[string]time.Time)}
}

func (s *MemoryStore) Revoke(_ context.Context, token string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	fp := cryptox.FingerprintToken(token)
	exp := s.clock.Now().Add(ttl)

	s.mu.Lock()
	if cur, ok := s.entries[fp]; !ok || exp.After(cur) {
		s.entries[fp] = exp
	}
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) IsRevoked(_ context.Context, token string) (bool, error) {
	fp := cryptox.FingerprintToken(token)

	s.mu.RLock()
	exp, ok := s.entries[fp]
	s.mu.RUnlock()

	return ok && s.clock.Now().Before(exp), nil
}

// Sweep drops expired entries and returns how many were removed.
func (s *MemoryStore) Sweep() int {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for fp, exp := range s.entries {
		if !now.Before(exp) {
			delete(s.entries, fp)
			n++
		}
	}
	return n
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
