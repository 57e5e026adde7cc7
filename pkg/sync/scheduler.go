package sync

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/eclosion-app/eclosion/internal/telemetry"
)

const (
	fullSyncInterval  = 60 * time.Minute
	lightSyncInterval = 15 * time.Minute

	// lightSkipWindow mirrors fullSyncInterval/4's worth of freshness: if a
	// full sync completed within this window, the light job is redundant.
	lightSkipWindow = 15 * time.Minute
)

// Scheduler runs the full and light sync jobs at fixed intervals, gated by a
// SessionSentinel and coalesced against overlapping runs (spec §4.5, §5).
type Scheduler struct {
	jobs     Jobs
	sentinel *SessionSentinel
	logger   *slog.Logger

	fullInFlight  atomic.Bool
	lightInFlight atomic.Bool

	// lastFullCompletedUnixNano is 0 until the first full sync completes.
	lastFullCompletedUnixNano atomic.Int64
}

func NewScheduler(jobs Jobs, sentinel *SessionSentinel, logger *slog.Logger) *Scheduler {
	return &Scheduler{jobs: jobs, sentinel: sentinel, logger: logger}
}

// Run blocks, driving both tickers until ctx is cancelled. Each job runs
// once immediately at start, matching the teacher's RunScheduleTopUpLoop
// idiom (pkg/roster/worker.go).
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("sync scheduler started",
		"full_interval", fullSyncInterval, "light_interval", lightSyncInterval)

	go s.runLoop(ctx, "full", fullSyncInterval, s.tickFull)
	go s.runLoop(ctx, "light", lightSyncInterval, s.tickLight)

	<-ctx.Done()
	s.logger.Info("sync scheduler stopping")
}

func (s *Scheduler) runLoop(ctx context.Context, name string, interval time.Duration, tick func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick(ctx)
		}
	}
}

func (s *Scheduler) tickFull(ctx context.Context) {
	if !s.sentinel.Active() {
		s.logger.Debug("full sync skipped: no active session")
		return
	}
	if !s.fullInFlight.CompareAndSwap(false, true) {
		s.logger.Debug("full sync coalesced: previous run still in flight")
		telemetry.SyncJobsTotal.WithLabelValues("full", "coalesced").Inc()
		return
	}
	defer s.fullInFlight.Store(false)

	s.runJob(ctx, "full", s.jobs.Full)
	s.lastFullCompletedUnixNano.Store(time.Now().UnixNano())
}

func (s *Scheduler) tickLight(ctx context.Context) {
	if !s.sentinel.Active() {
		s.logger.Debug("light sync skipped: no active session")
		return
	}
	if last := s.lastFullCompletedUnixNano.Load(); last != 0 {
		if time.Since(time.Unix(0, last)) < lightSkipWindow {
			s.logger.Debug("light sync skipped: full sync ran recently")
			telemetry.SyncJobsTotal.WithLabelValues("light", "skipped").Inc()
			return
		}
	}
	if !s.lightInFlight.CompareAndSwap(false, true) {
		s.logger.Debug("light sync coalesced: previous run still in flight")
		telemetry.SyncJobsTotal.WithLabelValues("light", "coalesced").Inc()
		return
	}
	defer s.lightInFlight.Store(false)

	s.runJob(ctx, "light", s.jobs.Light)
}

func (s *Scheduler) runJob(_ context.Context, name string, job func() error) {
	if job == nil {
		return
	}
	start := time.Now()
	err := job()
	telemetry.SyncJobDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())

	if err != nil {
		s.logger.Error("sync job failed", "job", name, "error", err)
		telemetry.SyncJobsTotal.WithLabelValues(name, "error").Inc()
		return
	}
	s.logger.Info("sync job completed", "job", name, "duration", time.Since(start))
	telemetry.SyncJobsTotal.WithLabelValues(name, "ok").Inc()
}
