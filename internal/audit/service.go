package audit

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
//
// It MUST be append-only. No Update/Delete methods are provided by design.
type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service records security-relevant events.
//
// IMPORTANT:
// - Audit is internal-only; do not expose these records to tenant users.
// - Callers treat audit logging as best-effort: the typed Log* helpers
//   swallow repository errors after logging them.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.Type == "" {
		return ErrInvalidEvent
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, e)
}

// SecurityAlert records a token integrity failure. Satisfies
// capability.SecurityReporter.
func (s *Service) SecurityAlert(ctx context.Context, kind, subject, detail string) {
	err := s.Append(ctx, Event{
		Type:    EventTypeSecurityAlert,
		Subject: subject,
		Kind:    kind,
		Detail:  detail,
	})
	if err != nil {
		slog.Error("audit append failed", "type", EventTypeSecurityAlert, "kind", kind, "err", err)
	}
	slog.Warn("security alert", "kind", kind, "subject", subject, "detail", detail)
}

// LogSessionRevoked records an administrative session termination.
func (s *Service) LogSessionRevoked(ctx context.Context, subject, tenantID, reason, caller string) {
	err := s.Append(ctx, Event{
		Type:     EventTypeSessionRevoked,
		Subject:  subject,
		TenantID: tenantID,
		Kind:     reason,
		Detail:   "revoked by " + caller,
	})
	if err != nil {
		slog.Error("audit append failed", "type", EventTypeSessionRevoked, "err", err)
	}
}
