// Package audit records security-relevant authentication events (logins,
// logouts, key changes) to the auth_events table and lets users review
// their own history.
//
// Recording is fire-and-forget: a failed write is logged and never fails
// the request that caused it.
package audit

import "time"

// AuditEntry is a single recorded event. UserID is 0 when the actor is
// unknown, e.g. a failed login for a username that does not exist.
type AuditEntry struct {
	ID        int64          `json:"id"`
	UserID    int64          `json:"user_id,omitempty"`
	Action    string         `json:"action"`
	IP        string         `json:"ip,omitempty"`
	UserAgent string         `json:"user_agent,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// EventPage is one page of a user's event history.
type EventPage struct {
	Events  []AuditEntry `json:"events"`
	Total   int          `json:"total"`
	Page    int          `json:"page"`
	PerPage int          `json:"per_page"`
}
