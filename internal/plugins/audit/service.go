package audit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/keyxmakerx/portcullis/internal/apperror"
	"github.com/keyxmakerx/portcullis/internal/plugins/auth"
)

// perPage is the number of events shown per page.
const perPage = 50

// recordTimeout bounds a background write.
const recordTimeout = 5 * time.Second

// AuditService handles business logic for the event log.
type AuditService interface {
	// Log validates and persists an event.
	Log(ctx context.Context, entry *AuditEntry) error

	// ListForUser returns a page of the user's events. Pages are 1-indexed.
	ListForUser(ctx context.Context, userID int64, page int) (*EventPage, error)
}

// auditService implements AuditService.
type auditService struct {
	repo AuditRepository
}

// NewAuditService creates a new audit service with the given repository.
func NewAuditService(repo AuditRepository) AuditService {
	return &auditService{repo: repo}
}

// Log validates and persists an event. Write failures are recorded via
// slog so callers can treat this as fire-and-forget.
func (s *auditService) Log(ctx context.Context, entry *AuditEntry) error {
	if entry.Action == "" {
		return apperror.NewBadRequest("action is required for auth event")
	}

	if err := s.repo.Log(ctx, entry); err != nil {
		slog.Error("failed to write auth event",
			slog.Int64("user_id", entry.UserID),
			slog.String("action", entry.Action),
			slog.Any("error", err),
		)
		return apperror.NewInternal(fmt.Errorf("writing auth event: %w", err))
	}
	return nil
}

// ListForUser returns the paginated event history for a user. Invalid page
// numbers are clamped to 1.
func (s *auditService) ListForUser(ctx context.Context, userID int64, page int) (*EventPage, error) {
	if page < 1 {
		page = 1
	}

	entries, total, err := s.repo.ListByUser(ctx, userID, perPage, (page-1)*perPage)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("listing auth events: %w", err))
	}
	if entries == nil {
		entries = []AuditEntry{}
	}
	return &EventPage{Events: entries, Total: total, Page: page, PerPage: perPage}, nil
}

// Recorder adapts AuditService to auth.EventRecorder. Each event is
// written in its own goroutine, detached from the request's cancellation.
type Recorder struct {
	service AuditService
	wg      sync.WaitGroup
}

// NewRecorder creates a recorder that writes through service.
func NewRecorder(service AuditService) *Recorder {
	return &Recorder{service: service}
}

// Record queues ev for writing and returns immediately.
func (r *Recorder) Record(ctx context.Context, ev auth.Event) {
	entry := &AuditEntry{
		UserID:    ev.UserID,
		Action:    ev.Action,
		IP:        ev.IP,
		UserAgent: ev.UserAgent,
		Details:   ev.Details,
	}

	bg := context.WithoutCancel(ctx)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(bg, recordTimeout)
		defer cancel()
		// Errors are already logged by the service.
		_ = r.service.Log(ctx, entry)
	}()
}

// Wait blocks until every queued event has been written. Called on
// shutdown.
func (r *Recorder) Wait() {
	r.wg.Wait()
}
