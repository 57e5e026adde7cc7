package security

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"time"
)

const (
	bufferSize    = 256
	flushInterval = 2 * time.Second
	flushBatch    = 32

	defaultRetention = 90 * 24 * time.Hour
)

// Service ties event logging, geolocation, and lockout tracking together.
// Event writes are async and batched, grounded directly in the teacher's
// internal/audit.Writer (buffered channel, bufferSize/flushInterval/
// flushBatch constants, background run/flush goroutine) since both are
// "append-only event log written off the request's hot path" components.
type Service struct {
	store      *Store
	geolocator *Geolocator
	lockout    *Lockout
	logger     *slog.Logger

	entries chan Event
	wg      sync.WaitGroup
}

func NewService(store *Store, logger *slog.Logger) *Service {
	return &Service{
		store:      store,
		geolocator: NewGeolocator(store),
		lockout:    NewLockout(store),
		logger:     logger,
		entries:    make(chan Event, bufferSize),
	}
}

// Start launches the background flush goroutine and returns immediately.
// The goroutine flushes pending entries and exits once ctx is cancelled or
// Close is called.
func (s *Service) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx)
	}()
}

// Close waits for all pending entries to be flushed.
func (s *Service) Close() {
	close(s.entries)
	s.wg.Wait()
}

// LogEvent resolves geolocation for ip synchronously (consulting the 7-day
// cache; at most one external call), then enqueues the event for async
// persistence (spec §4.6 "Event logging"). On a successful LOGIN_ATTEMPT or
// REMOTE_UNLOCK it also records SecurityPreference[last_login_timestamp].
func (s *Service) LogEvent(ctx context.Context, eventType string, success bool, ip, details, userAgent string) {
	country, city, err := s.geolocator.Lookup(ctx, ip)
	if err != nil {
		s.logger.Warn("geolocation lookup failed", "ip", ip, "error", err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	event := Event{
		EventType: eventType,
		Success:   success,
		Timestamp: now,
		IPAddress: ip,
		Country:   country,
		City:      city,
		Details:   truncate(details, detailsMaxLen),
		UserAgent: truncate(userAgent, userAgentMaxLen),
	}

	select {
	case s.entries <- event:
	default:
		s.logger.Warn("security event buffer full, dropping entry", "event_type", eventType)
	}

	if success && (eventType == EventLoginAttempt || eventType == EventRemoteUnlock) {
		if err := s.store.SetPreference(ctx, PreferenceLastLoginTimestamp, now); err != nil {
			s.logger.Error("recording last_login_timestamp", "error", err)
		}
	}
}

// LogEventFromRequest extracts the client IP and User-Agent from r before
// delegating to LogEvent, mirroring the teacher's LogFromRequest
// convenience wrapper.
func (s *Service) LogEventFromRequest(r *http.Request, eventType string, success bool, details string) {
	ip := clientIP(r).String()
	s.LogEvent(r.Context(), eventType, success, ip, details, r.Header.Get("User-Agent"))
}

// RecordFailedRemoteUnlock and IsLockedOut delegate to the Lockout state
// machine (spec §4.6 "Lockout").
func (s *Service) RecordFailedRemoteUnlock(ctx context.Context, ip string) error {
	return s.lockout.RecordFailedRemoteUnlock(ctx, ip)
}

func (s *Service) IsLockedOut(ctx context.Context, ip string) (bool, error) {
	return s.lockout.IsLockedOut(ctx, ip)
}

func (s *Service) ClearLockout(ctx context.Context, ip string) error {
	return s.lockout.ClearLockout(ctx, ip)
}

// ExportEventsCSV returns a sanitized CSV export of the most recent events.
func (s *Service) ExportEventsCSV(ctx context.Context, limit int) (string, error) {
	events, err := s.store.ListEvents(ctx, limit)
	if err != nil {
		return "", err
	}
	return EventsToCSV(events)
}

// PurgeExpiredEvents deletes events older than the retention window.
func (s *Service) PurgeExpiredEvents(ctx context.Context) (int64, error) {
	return s.store.PurgeOlderThan(ctx, time.Now().Add(-defaultRetention))
}

func (s *Service) run(ctx context.Context) {
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]Event, 0, flushBatch)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := s.store.InsertEvents(context.Background(), batch); err != nil {
			s.logger.Error("flushing security events", "error", err, "count", len(batch))
		}
		batch = batch[:0]
	}

	for {
		select {
		case event, ok := <-s.entries:
			if !ok {
				flush()
				return
			}
			batch = append(batch, event)
			if len(batch) >= flushBatch {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-ctx.Done():
			for {
				select {
				case event, ok := <-s.entries:
					if !ok {
						flush()
						return
					}
					batch = append(batch, event)
				default:
					flush()
					return
				}
			}
		}
	}
}

// clientIP extracts the client IP address from the request, preferring
// X-Forwarded-For and X-Real-IP headers over RemoteAddr (reused in idiom
// from the teacher's internal/audit/audit.go).
func clientIP(r *http.Request) netip.Addr {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.SplitN(xff, ",", 2)
		if addr, err := netip.ParseAddr(strings.TrimSpace(parts[0])); err == nil {
			return addr
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		if addr, err := netip.ParseAddr(strings.TrimSpace(xri)); err == nil {
			return addr
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	addr, _ := netip.ParseAddr(host)
	return addr
}
