// Package security implements the Security & Lockout Subsystem (spec §4.6):
// a structured security-event log, an IP geolocation cache, and a sliding
// brute-force lockout for remote-unlock attempts.
package security

import "time"

// Event types referenced directly by spec.md §7/§8.
const (
	EventLoginAttempt  = "LOGIN_ATTEMPT"
	EventRemoteUnlock  = "REMOTE_UNLOCK"
	EventUnlockAttempt = "UNLOCK_ATTEMPT"
)

// Reserved SecurityPreference keys (spec §3).
const (
	PreferenceLastLoginTimestamp = "last_login_timestamp"
	PreferenceAlertDismissedAt   = "alert_dismissed_at"
)

const (
	detailsMaxLen   = 500
	userAgentMaxLen = 256

	lockoutThreshold = 10
	lockoutDuration  = 15 * time.Minute
)

// Event is a single SecurityEvent row (spec §3).
type Event struct {
	ID        int64  `json:"id"`
	EventType string `json:"event_type"`
	Success   bool   `json:"success"`
	Timestamp string `json:"timestamp"`
	IPAddress string `json:"ip_address,omitempty"`
	Country   string `json:"country,omitempty"`
	City      string `json:"city,omitempty"`
	Details   string `json:"details,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
