package scylla

import (
	"context"
	"fmt"

	"verify-service/internal/apperr"
	"verify-service/internal/model"
)

// AuditStore is the append-only persistence contract for the audit trail.
type AuditStore interface {
	InsertAuditEntry(ctx context.Context, e *model.AuditEntry) error
	InsertSecurityEvent(ctx context.Context, ev *model.SecurityEvent, eventDate string) error
}

type AuditRepository struct {
	client *ScyllaClient
}

func NewAuditRepository(client *ScyllaClient) *AuditRepository {
	return &AuditRepository{client: client}
}

func (r *AuditRepository) InsertAuditEntry(ctx context.Context, e *model.AuditEntry) error {
	query := r.client.Prepared.InsertAuditEntry.WithContext(ctx).Bind(
		e.VerifierID, e.Timestamp, e.ID, e.Action, e.Details, e.SourceAddress)

	if err := query.Exec(); err != nil {
		return fmt.Errorf("%w: insert audit entry: %v", apperr.ErrStoreUnavailable, err)
	}
	return nil
}

func (r *AuditRepository) InsertSecurityEvent(ctx context.Context, ev *model.SecurityEvent, eventDate string) error {
	query := r.client.Prepared.InsertSecurityLog.WithContext(ctx).Bind(
		ev.EventBucket, eventDate, ev.Timestamp, ev.EventType, string(ev.Severity), ev.Details)

	if err := query.Exec(); err != nil {
		return fmt.Errorf("%w: insert security event: %v", apperr.ErrStoreUnavailable, err)
	}
	return nil
}
