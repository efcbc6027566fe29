package idempotency

import (
	"context"
	"sync"
	"time"

	"github.com/onay-qr/onay-gateway/internal/platform/clock"
	clockport "github.com/onay-qr/onay-gateway/internal/ports/out/clock"
	"github.com/onay-qr/onay-gateway/internal/ports/out/idempotency"
)

// Store is an in-memory implementation of idempotency.Store. Records older than the
// TTL are neither returned nor kept.
// It is safe for concurrent use.
type Store struct {
	mu    sync.RWMutex
	m     map[idempotency.Fingerprint]idempotency.Record
	ttl   time.Duration
	clock clockport.Clock
}

// NewStore keeps records forever.
func NewStore() *Store {
	return NewStoreWithTTL(0, nil)
}

func NewStoreWithTTL(ttl time.Duration, clk clockport.Clock) *Store {
	if clk == nil {
		clk = clock.NewSystemClock()
	}
	return &Store{
		m:     make(map[idempotency.Fingerprint]idempotency.Record),
		ttl:   ttl,
		clock: clk,
	}
}

func (s *Store) Get(ctx context.Context, fp idempotency.Fingerprint) (idempotency.Record, bool, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.m[fp]
	if !ok || s.expired(rec, s.clock.Now()) {
		return idempotency.Record{}, false, nil
	}
	rec.Body = append([]byte(nil), rec.Body...)
	return rec, true, nil
}

func (s *Store) Put(ctx context.Context, fp idempotency.Fingerprint, rec idempotency.Record) error {
	_ = ctx
	now := s.clock.Now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.Body = append([]byte(nil), rec.Body...)

	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range s.m {
		if s.expired(v, now) {
			delete(s.m, k)
		}
	}
	s.m[fp] = rec
	return nil
}

// Len reports the number of stored records, expired ones included until the next Put.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.m)
}

func (s *Store) expired(rec idempotency.Record, now time.Time) bool {
	return s.ttl > 0 && now.Sub(rec.CreatedAt) >= s.ttl
}
