package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// AuditRepository defines the data access contract for the event log.
// All SQL lives in the concrete implementation -- no SQL leaks out.
type AuditRepository interface {
	// Log inserts a new event.
	Log(ctx context.Context, entry *AuditEntry) error

	// ListByUser returns a user's events, most recent first, plus the
	// total count for pagination.
	ListByUser(ctx context.Context, userID int64, limit, offset int) ([]AuditEntry, int, error)
}

// auditRepository implements AuditRepository with MariaDB queries.
type auditRepository struct {
	db *sql.DB
}

// NewAuditRepository creates a new repository backed by the given DB pool.
func NewAuditRepository(db *sql.DB) AuditRepository {
	return &auditRepository{db: db}
}

// Log inserts a new event. The details map is serialized to JSON before
// storage. Nil details and an unknown user are stored as SQL NULL.
func (r *auditRepository) Log(ctx context.Context, entry *AuditEntry) error {
	query := `INSERT INTO auth_events (user_id, action, ip, user_agent, details, created_at)
	          VALUES (?, ?, ?, ?, ?, ?)`

	var detailsJSON []byte
	if entry.Details != nil {
		var err error
		detailsJSON, err = json.Marshal(entry.Details)
		if err != nil {
			return fmt.Errorf("marshaling event details: %w", err)
		}
	}

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	userID := sql.NullInt64{Int64: entry.UserID, Valid: entry.UserID != 0}
	result, err := r.db.ExecContext(ctx, query,
		userID, entry.Action, entry.IP, entry.UserAgent, detailsJSON, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting auth event: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting auth event id: %w", err)
	}
	entry.ID = id
	return nil
}

// ListByUser returns events for a user ordered by most recent first.
func (r *auditRepository) ListByUser(ctx context.Context, userID int64, limit, offset int) ([]AuditEntry, int, error) {
	var total int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM auth_events WHERE user_id = ?`, userID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting auth events: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, action, ip, user_agent, details, created_at
		 FROM auth_events
		 WHERE user_id = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ? OFFSET ?`, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("listing auth events: %w", err)
	}
	defer rows.Close()

	entries, err := scanEventRows(rows)
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

// scanEventRows scans auth_events rows. Expects columns: id, user_id,
// action, ip, user_agent, details, created_at.
func scanEventRows(rows *sql.Rows) ([]AuditEntry, error) {
	var entries []AuditEntry
	for rows.Next() {
		var e AuditEntry
		var userID sql.NullInt64
		var ip, userAgent, detailsJSON sql.NullString
		if err := rows.Scan(&e.ID, &userID, &e.Action, &ip, &userAgent, &detailsJSON, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning auth event: %w", err)
		}
		e.UserID = userID.Int64
		e.IP = ip.String
		e.UserAgent = userAgent.String

		if detailsJSON.Valid && detailsJSON.String != "" {
			if err := json.Unmarshal([]byte(detailsJSON.String), &e.Details); err != nil {
				// Non-fatal: keep the entry visible.
				e.Details = map[string]any{"_parse_error": "invalid JSON"}
			}
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating auth event rows: %w", err)
	}
	return entries, nil
}
