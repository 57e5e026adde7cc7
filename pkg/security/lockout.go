package security

import (
	"context"
	"time"

	"github.com/eclosion-app/eclosion/internal/telemetry"
)

// Lockout implements the IP lockout state machine (spec §4.6, §8): Clean (no
// row) -> Warning (1..9 fails) -> LockedOut (fails >= 10, locked_until in
// the future) -> Clean after expiry. Success at any state clears to Clean.
type Lockout struct {
	store *Store
}

func NewLockout(store *Store) *Lockout {
	return &Lockout{store: store}
}

// RecordFailedRemoteUnlock bumps the failure counter for ip via a single
// upsert (spec §5 "Locking discipline"), transitioning to LockedOut exactly
// at the 10th consecutive failure.
func (l *Lockout) RecordFailedRemoteUnlock(ctx context.Context, ip string) error {
	if ip == "" {
		return nil
	}
	failedAttempts, err := l.store.RecordFailedAttempt(ctx, ip, time.Now(), lockoutThreshold, lockoutDuration)
	if err != nil {
		return err
	}
	if failedAttempts == lockoutThreshold {
		telemetry.IPLockoutsTotal.Inc()
	}
	return nil
}

// IsLockedOut reports whether ip is currently locked out. An expired lockout
// row is deleted and reported as not locked out (spec §4.6).
func (l *Lockout) IsLockedOut(ctx context.Context, ip string) (bool, error) {
	if ip == "" {
		return false, nil
	}
	_, lockedUntil, found, err := l.store.GetLockout(ctx, ip)
	if err != nil {
		return false, err
	}
	if !found || lockedUntil == nil {
		return false, nil
	}
	if time.Now().Before(*lockedUntil) {
		return true, nil
	}
	if err := l.store.ClearLockout(ctx, ip); err != nil {
		return false, err
	}
	return false, nil
}

// ClearLockout resets ip to Clean, e.g. on a successful unlock.
func (l *Lockout) ClearLockout(ctx context.Context, ip string) error {
	if ip == "" {
		return nil
	}
	return l.store.ClearLockout(ctx, ip)
}
