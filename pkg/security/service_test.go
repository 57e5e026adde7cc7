package security

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	store := newTestStore(t)
	return NewService(store, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestLogEvent_PrivateIPSkipsGeolocationAndPersists(t *testing.T) {
	svc := newTestService(t)
	ctx, cancel := context.WithCancel(context.Background())
	svc.Start(ctx)

	svc.LogEvent(ctx, EventLoginAttempt, true, "192.168.1.50", "", "")

	cancel()
	svc.Close()

	events, err := svc.store.ListEvents(context.Background(), 10)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 persisted event, got %d", len(events))
	}
	if events[0].Country != "" || events[0].City != "" {
		t.Errorf("expected no geolocation for a private IP, got country=%q city=%q", events[0].Country, events[0].City)
	}

	value, found, err := svc.store.GetPreference(context.Background(), PreferenceLastLoginTimestamp)
	if err != nil {
		t.Fatalf("GetPreference: %v", err)
	}
	if !found || value == "" {
		t.Error("expected last_login_timestamp to be set after a successful LOGIN_ATTEMPT")
	}
}

func TestLogEvent_TruncatesDetailsAndUserAgent(t *testing.T) {
	svc := newTestService(t)
	ctx, cancel := context.WithCancel(context.Background())
	svc.Start(ctx)

	longDetails := make([]byte, detailsMaxLen+50)
	for i := range longDetails {
		longDetails[i] = 'x'
	}
	longUA := make([]byte, userAgentMaxLen+50)
	for i := range longUA {
		longUA[i] = 'y'
	}

	svc.LogEvent(ctx, EventUnlockAttempt, false, "", string(longDetails), string(longUA))
	cancel()
	svc.Close()

	events, err := svc.store.ListEvents(context.Background(), 10)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 persisted event, got %d", len(events))
	}
	if len(events[0].Details) != detailsMaxLen {
		t.Errorf("Details length = %d, want %d", len(events[0].Details), detailsMaxLen)
	}
	if len(events[0].UserAgent) != userAgentMaxLen {
		t.Errorf("UserAgent length = %d, want %d", len(events[0].UserAgent), userAgentMaxLen)
	}
}

func TestPurgeExpiredEvents_RemovesOldRows(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	old := time.Now().Add(-100 * 24 * time.Hour).UTC().Format(time.RFC3339)
	if err := svc.store.InsertEvents(ctx, []Event{{EventType: EventLoginAttempt, Success: true, Timestamp: old}}); err != nil {
		t.Fatalf("seeding old event: %v", err)
	}
	if err := svc.store.InsertEvents(ctx, []Event{{EventType: EventLoginAttempt, Success: true, Timestamp: time.Now().UTC().Format(time.RFC3339)}}); err != nil {
		t.Fatalf("seeding recent event: %v", err)
	}

	purged, err := svc.PurgeExpiredEvents(ctx)
	if err != nil {
		t.Fatalf("PurgeExpiredEvents: %v", err)
	}
	if purged != 1 {
		t.Errorf("purged = %d, want 1", purged)
	}

	events, err := svc.store.ListEvents(ctx, 10)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(events) != 1 {
		t.Errorf("expected 1 remaining event, got %d", len(events))
	}
}
