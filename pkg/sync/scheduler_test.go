package sync

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

func TestTickFull_SkipsWithoutActiveSession(t *testing.T) {
	var calls atomic.Int32
	sentinel := &SessionSentinel{}
	s := NewScheduler(Jobs{Full: func() error { calls.Add(1); return nil }}, sentinel,
		slog.New(slog.NewTextHandler(io.Discard, nil)))

	s.tickFull(context.Background())
	if calls.Load() != 0 {
		t.Errorf("expected full job not to run without an active session, ran %d times", calls.Load())
	}
}

func TestTickFull_RunsWhenSessionActive(t *testing.T) {
	var calls atomic.Int32
	sentinel := &SessionSentinel{}
	sentinel.SetActive(true)
	s := NewScheduler(Jobs{Full: func() error { calls.Add(1); return nil }}, sentinel,
		slog.New(slog.NewTextHandler(io.Discard, nil)))

	s.tickFull(context.Background())
	if calls.Load() != 1 {
		t.Errorf("expected full job to run once, ran %d times", calls.Load())
	}
}

func TestTickFull_CoalescesOverlappingRun(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32

	sentinel := &SessionSentinel{}
	sentinel.SetActive(true)
	s := NewScheduler(Jobs{Full: func() error {
		calls.Add(1)
		started <- struct{}{}
		<-release
		return nil
	}}, sentinel, slog.New(slog.NewTextHandler(io.Discard, nil)))

	go s.tickFull(context.Background())
	<-started

	s.tickFull(context.Background())
	if calls.Load() != 1 {
		t.Errorf("expected the overlapping tick to be coalesced, job ran %d times", calls.Load())
	}

	release <- struct{}{}
}

func TestTickLight_SkipsWhenFullSyncRanRecently(t *testing.T) {
	var lightCalls atomic.Int32
	sentinel := &SessionSentinel{}
	sentinel.SetActive(true)
	s := NewScheduler(Jobs{
		Full:  func() error { return nil },
		Light: func() error { lightCalls.Add(1); return nil },
	}, sentinel, slog.New(slog.NewTextHandler(io.Discard, nil)))

	s.tickFull(context.Background())
	s.tickLight(context.Background())

	if lightCalls.Load() != 0 {
		t.Errorf("expected light sync to be skipped after a recent full sync, ran %d times", lightCalls.Load())
	}
}

func TestTickLight_RunsWhenNoRecentFullSync(t *testing.T) {
	var lightCalls atomic.Int32
	sentinel := &SessionSentinel{}
	sentinel.SetActive(true)
	s := NewScheduler(Jobs{Light: func() error { lightCalls.Add(1); return nil }}, sentinel,
		slog.New(slog.NewTextHandler(io.Discard, nil)))

	s.tickLight(context.Background())
	if lightCalls.Load() != 1 {
		t.Errorf("expected light job to run once, ran %d times", lightCalls.Load())
	}
}

func TestTickLight_RunsAfterSkipWindowElapses(t *testing.T) {
	var lightCalls atomic.Int32
	sentinel := &SessionSentinel{}
	sentinel.SetActive(true)
	s := NewScheduler(Jobs{Light: func() error { lightCalls.Add(1); return nil }}, sentinel,
		slog.New(slog.NewTextHandler(io.Discard, nil)))

	s.lastFullCompletedUnixNano.Store(time.Now().Add(-lightSkipWindow - time.Second).UnixNano())
	s.tickLight(context.Background())
	if lightCalls.Load() != 1 {
		t.Errorf("expected light job to run once the skip window has elapsed, ran %d times", lightCalls.Load())
	}
}
