package security

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Store provides direct-SQL access to the security tables.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) InsertEvent(ctx context.Context, e Event) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO security_events (event_type, success, timestamp, ip_address, country, city, details, user_agent)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, e.EventType, boolToInt(e.Success), e.Timestamp, nullableString(e.IPAddress),
		nullableString(e.Country), nullableString(e.City), nullableString(e.Details), nullableString(e.UserAgent))
	if err != nil {
		return fmt.Errorf("inserting security event: %w", err)
	}
	return nil
}

func (s *Store) InsertEvents(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning security event batch: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO security_events (event_type, success, timestamp, ip_address, country, city, details, user_agent)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("preparing security event insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range events {
		if _, err := stmt.ExecContext(ctx, e.EventType, boolToInt(e.Success), e.Timestamp, nullableString(e.IPAddress),
			nullableString(e.Country), nullableString(e.City), nullableString(e.Details), nullableString(e.UserAgent)); err != nil {
			return fmt.Errorf("inserting batched security event: %w", err)
		}
	}
	return tx.Commit()
}

func (s *Store) ListEvents(ctx context.Context, limit int) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_type, success, timestamp, ip_address, country, city, details, user_agent
		FROM security_events ORDER BY timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing security events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var success int
		var ip, country, city, details, ua sql.NullString
		if err := rows.Scan(&e.ID, &e.EventType, &success, &e.Timestamp, &ip, &country, &city, &details, &ua); err != nil {
			return nil, fmt.Errorf("scanning security event: %w", err)
		}
		e.Success = success != 0
		e.IPAddress = ip.String
		e.Country = country.String
		e.City = city.String
		e.Details = details.String
		e.UserAgent = ua.String
		out = append(out, e)
	}
	return out, rows.Err()
}

// PurgeOlderThan deletes security events beyond the retention window (spec §3: "Retention: configurable (default 90 days)").
func (s *Store) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM security_events WHERE timestamp < ?`, cutoff.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("purging old security events: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) SetPreference(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO security_preferences (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("setting security preference %s: %w", key, err)
	}
	return nil
}

func (s *Store) GetPreference(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM security_preferences WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("getting security preference %s: %w", key, err)
	}
	return value, true, nil
}

func (s *Store) GetGeolocationCache(ctx context.Context, ip string) (country, city string, cachedAt time.Time, found bool, err error) {
	var c, ct sql.NullString
	var cachedAtStr string
	scanErr := s.db.QueryRowContext(ctx, `
		SELECT country, city, cached_at FROM ip_geolocation_cache WHERE ip_address = ?`, ip).Scan(&c, &ct, &cachedAtStr)
	if scanErr == sql.ErrNoRows {
		return "", "", time.Time{}, false, nil
	}
	if scanErr != nil {
		return "", "", time.Time{}, false, fmt.Errorf("reading geolocation cache: %w", scanErr)
	}
	parsed, parseErr := time.Parse(time.RFC3339, cachedAtStr)
	if parseErr != nil {
		return "", "", time.Time{}, false, fmt.Errorf("parsing geolocation cache timestamp: %w", parseErr)
	}
	return c.String, ct.String, parsed, true, nil
}

func (s *Store) SetGeolocationCache(ctx context.Context, ip, country, city string, cachedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ip_geolocation_cache (ip_address, country, city, cached_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(ip_address) DO UPDATE SET country = excluded.country, city = excluded.city, cached_at = excluded.cached_at
	`, ip, nullableString(country), nullableString(city), cachedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("writing geolocation cache: %w", err)
	}
	return nil
}

// GetLockout returns the current failed_attempts/locked_until for ip, or
// found=false if no row exists ("Clean" state, spec §4.6 state machine).
func (s *Store) GetLockout(ctx context.Context, ip string) (failedAttempts int, lockedUntil *time.Time, found bool, err error) {
	var lockedUntilStr sql.NullString
	scanErr := s.db.QueryRowContext(ctx, `
		SELECT failed_attempts, locked_until FROM ip_lockouts WHERE ip_address = ?`, ip).Scan(&failedAttempts, &lockedUntilStr)
	if scanErr == sql.ErrNoRows {
		return 0, nil, false, nil
	}
	if scanErr != nil {
		return 0, nil, false, fmt.Errorf("reading ip lockout: %w", scanErr)
	}
	if lockedUntilStr.Valid {
		parsed, parseErr := time.Parse(time.RFC3339, lockedUntilStr.String)
		if parseErr != nil {
			return 0, nil, false, fmt.Errorf("parsing locked_until: %w", parseErr)
		}
		lockedUntil = &parsed
	}
	return failedAttempts, lockedUntil, true, nil
}

// RecordFailedAttempt performs the single upsert that bumps failed_attempts
// and conditionally sets locked_until, avoiding a read-modify-write race
// (spec §5 "Locking discipline"). Returns the new failed_attempts count.
func (s *Store) RecordFailedAttempt(ctx context.Context, ip string, now time.Time, lockoutThreshold int, lockoutDuration time.Duration) (int, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ip_lockouts (ip_address, failed_attempts, locked_until, last_attempt)
		VALUES (?, 1, NULL, ?)
		ON CONFLICT(ip_address) DO UPDATE SET
			failed_attempts = ip_lockouts.failed_attempts + 1,
			locked_until = CASE WHEN ip_lockouts.failed_attempts + 1 >= ? THEN ? ELSE ip_lockouts.locked_until END,
			last_attempt = ?
	`, ip, now.UTC().Format(time.RFC3339), lockoutThreshold, now.Add(lockoutDuration).UTC().Format(time.RFC3339), now.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("recording failed remote-unlock attempt: %w", err)
	}

	var failedAttempts int
	if err := s.db.QueryRowContext(ctx, `SELECT failed_attempts FROM ip_lockouts WHERE ip_address = ?`, ip).Scan(&failedAttempts); err != nil {
		return 0, fmt.Errorf("reading failed_attempts after upsert: %w", err)
	}
	return failedAttempts, nil
}

func (s *Store) ClearLockout(ctx context.Context, ip string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM ip_lockouts WHERE ip_address = ?`, ip)
	if err != nil {
		return fmt.Errorf("clearing ip lockout: %w", err)
	}
	return nil
}

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
