package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	mem "payledger/pkg/memcache"
)

var errLeaseHeld = errors.New("lease held by another worker")

func orderLeaseKey(orderID string) string { return "order:" + orderID }

func subscriptionLeaseKey(userID string) string { return "subscription:" + userID }

// withLease runs fn while holding key. It returns errLeaseHeld without running
// fn when someone else owns the lease.
func withLease(ctx context.Context, leases mem.LeaseStore, key string, ttl time.Duration, fn func() error) error {
	owner := uuid.NewString()
	ok, err := leases.Acquire(ctx, key, owner, ttl)
	if err != nil {
		return err
	}
	if !ok {
		return errLeaseHeld
	}
	defer func() {
		releaseCtx := context.WithoutCancel(ctx)
		if err := leases.Release(releaseCtx, key, owner); err != nil {
			slog.WarnContext(releaseCtx, "lease release failed", "key", key, "error", err)
		}
	}()
	return fn()
}
