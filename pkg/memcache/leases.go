// Package mem holds process-local stores used when no shared backend is configured.
package mem

import (
	"context"
	"sync"
	"time"
)

// LeaseStore grants short-lived exclusive ownership of a key.
type LeaseStore interface {
	// Acquire takes the lease for key if it is free or expired. It never blocks:
	// false means another owner currently holds it.
	Acquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)

	// Release drops the lease only if owner still holds it.
	Release(ctx context.Context, key, owner string) error
}

type lease struct {
	owner     string
	expiresAt time.Time
}

type Leases struct {
	mu   sync.Mutex
	data map[string]lease
	now  func() time.Time
}

func NewLeases() *Leases {
	return &Leases{
		data: make(map[string]lease),
		now:  time.Now,
	}
}

// NewLeasesWithClock is NewLeases with an injectable time source.
func NewLeasesWithClock(now func() time.Time) *Leases {
	l := NewLeases()
	l.now = now
	return l
}

func (s *Leases) Acquire(_ context.Context, key, owner string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if cur, ok := s.data[key]; ok && now.Before(cur.expiresAt) && cur.owner != owner {
		return false, nil
	}
	s.data[key] = lease{
		owner:     owner,
		expiresAt: now.Add(ttl),
	}
	return true, nil
}

func (s *Leases) Release(_ context.Context, key, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.data[key]; ok && cur.owner == owner {
		delete(s.data, key)
	}
	return nil
}
