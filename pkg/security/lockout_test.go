package security

import (
	"context"
	"io"
	"log/slog"
	"net/netip"
	"path/filepath"
	"testing"
	"time"

	"github.com/eclosion-app/eclosion/internal/platform"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "security_test.db")
	db, err := platform.OpenDB(dbPath)
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if err := platform.RunMigrations(db, logger); err != nil {
		t.Fatalf("running migrations: %v", err)
	}
	return NewStore(db)
}

// TestLockout_TenthFailureLocksOutFifteenMinutes exercises spec.md §8
// scenario 5: 9 failures leave the IP unlocked, the 10th locks it for 15
// minutes, and after 16 minutes it's clean again.
func TestLockout_TenthFailureLocksOutFifteenMinutes(t *testing.T) {
	store := newTestStore(t)
	lockout := NewLockout(store)
	ctx := context.Background()
	const ip = "203.0.113.7"

	for i := 0; i < 9; i++ {
		if err := lockout.RecordFailedRemoteUnlock(ctx, ip); err != nil {
			t.Fatalf("recording failure %d: %v", i+1, err)
		}
	}
	locked, err := lockout.IsLockedOut(ctx, ip)
	if err != nil {
		t.Fatalf("IsLockedOut: %v", err)
	}
	if locked {
		t.Fatal("expected IP not locked out after 9 failures")
	}

	if err := lockout.RecordFailedRemoteUnlock(ctx, ip); err != nil {
		t.Fatalf("recording 10th failure: %v", err)
	}
	locked, err = lockout.IsLockedOut(ctx, ip)
	if err != nil {
		t.Fatalf("IsLockedOut: %v", err)
	}
	if !locked {
		t.Fatal("expected IP locked out after 10th failure")
	}

	_, lockedUntil, found, err := store.GetLockout(ctx, ip)
	if err != nil || !found || lockedUntil == nil {
		t.Fatalf("expected a lockout row with locked_until set, found=%v err=%v", found, err)
	}
	store.db.ExecContext(ctx, `UPDATE ip_lockouts SET locked_until = ? WHERE ip_address = ?`,
		time.Now().Add(-time.Minute).UTC().Format(time.RFC3339), ip)

	locked, err = lockout.IsLockedOut(ctx, ip)
	if err != nil {
		t.Fatalf("IsLockedOut after expiry: %v", err)
	}
	if locked {
		t.Fatal("expected expired lockout to report not locked out")
	}

	if _, _, found, err := store.GetLockout(ctx, ip); err != nil || found {
		t.Fatalf("expected expired lockout row removed, found=%v err=%v", found, err)
	}
}

func TestLockout_SuccessClearsRow(t *testing.T) {
	store := newTestStore(t)
	lockout := NewLockout(store)
	ctx := context.Background()
	const ip = "203.0.113.8"

	for i := 0; i < 5; i++ {
		if err := lockout.RecordFailedRemoteUnlock(ctx, ip); err != nil {
			t.Fatalf("recording failure: %v", err)
		}
	}
	if err := lockout.ClearLockout(ctx, ip); err != nil {
		t.Fatalf("ClearLockout: %v", err)
	}
	if _, _, found, err := store.GetLockout(ctx, ip); err != nil || found {
		t.Fatalf("expected lockout row cleared, found=%v err=%v", found, err)
	}
}

func TestIsPubliclyRoutable(t *testing.T) {
	cases := []struct {
		ip   string
		want bool
	}{
		{"192.168.1.1", false},
		{"127.0.0.1", false},
		{"10.0.0.5", false},
		{"100.64.0.1", false},
		{"198.18.0.1", false},
		{"8.8.8.8", true},
		{"203.0.113.7", true},
	}
	for _, c := range cases {
		addr, err := netip.ParseAddr(c.ip)
		if err != nil {
			t.Fatalf("parsing %s: %v", c.ip, err)
		}
		if got := isPubliclyRoutable(addr); got != c.want {
			t.Errorf("isPubliclyRoutable(%s) = %v, want %v", c.ip, got, c.want)
		}
	}
}
