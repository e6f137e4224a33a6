package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"verify-service/internal/apperr"
	"verify-service/internal/model"
	"verify-service/internal/util"
)

// VerifierStore is the persistence contract the credential store depends
// on. Kept narrow so tests can supply an in-memory implementation.
type VerifierStore interface {
	GetActive(ctx context.Context, id string) (*model.Verifier, error)
	Create(ctx context.Context, v *model.Verifier) error
	RecordFailedAttempt(ctx context.Context, id string, count uint, at time.Time) error
	RecordSuccessfulLogin(ctx context.Context, id string, at time.Time) error
	Deactivate(ctx context.Context, id string) error
}

type VerifierRepository struct {
	client *ScyllaClient
}

func NewVerifierRepository(client *ScyllaClient) *VerifierRepository {
	return &VerifierRepository{client: client}
}

// GetActive loads a verifier by id. Returns apperr.ErrNotFound both when
// the row is absent and when the verifier is deactivated, so callers see
// one shape for "cannot log in as this id".
func (r *VerifierRepository) GetActive(ctx context.Context, id string) (*model.Verifier, error) {
	v := &model.Verifier{}
	var lastFailed, lastSuccess time.Time

	query := r.client.Prepared.GetActiveVerifier.WithContext(ctx).Bind(id)

	err := r.client.ScanWithRetry(query,
		&v.ID, &v.Name, &v.AssignedDate, &v.AssignedShift, &v.AssignedCentre,
		&v.PasswordHash, &v.FailedAttempts, &lastFailed,
		&lastSuccess, &v.IsActive, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, apperr.ErrNotFound
		}
		util.Error("Failed to get verifier",
			zap.String("verifier_id", id),
			zap.Error(err))
		return nil, fmt.Errorf("%w: get verifier: %v", apperr.ErrStoreUnavailable, err)
	}

	if !v.IsActive {
		return nil, apperr.ErrNotFound
	}

	if !lastFailed.IsZero() {
		v.LastFailedAttempt = &lastFailed
	}
	if !lastSuccess.IsZero() {
		v.LastSuccessfulLogin = &lastSuccess
	}

	return v, nil
}

func (r *VerifierRepository) Create(ctx context.Context, v *model.Verifier) error {
	now := time.Now().UTC()
	v.CreatedAt = now
	v.UpdatedAt = now

	var lastFailed, lastSuccess time.Time
	if v.LastFailedAttempt != nil {
		lastFailed = *v.LastFailedAttempt
	}
	if v.LastSuccessfulLogin != nil {
		lastSuccess = *v.LastSuccessfulLogin
	}

	query := r.client.Prepared.CreateVerifier.WithContext(ctx).Bind(
		v.ID, v.Name, v.AssignedDate, v.AssignedShift, v.AssignedCentre,
		v.PasswordHash, v.FailedAttempts, lastFailed,
		lastSuccess, v.IsActive, v.CreatedAt, v.UpdatedAt)

	if err := query.Exec(); err != nil {
		util.Error("Failed to create verifier",
			zap.String("verifier_id", v.ID),
			zap.Error(err))
		return fmt.Errorf("%w: create verifier: %v", apperr.ErrStoreUnavailable, err)
	}

	util.Info("Verifier created",
		zap.String("verifier_id", v.ID),
		zap.String("assigned_centre", v.AssignedCentre))

	return nil
}

func (r *VerifierRepository) RecordFailedAttempt(ctx context.Context, id string, count uint, at time.Time) error {
	query := r.client.Prepared.RecordFailedAttempt.WithContext(ctx).Bind(count, at, at, id)
	if err := query.Exec(); err != nil {
		return fmt.Errorf("%w: record failed attempt: %v", apperr.ErrStoreUnavailable, err)
	}
	return nil
}

func (r *VerifierRepository) RecordSuccessfulLogin(ctx context.Context, id string, at time.Time) error {
	query := r.client.Prepared.RecordSuccessfulLogin.WithContext(ctx).Bind(at, at, id)
	if err := query.Exec(); err != nil {
		return fmt.Errorf("%w: record successful login: %v", apperr.ErrStoreUnavailable, err)
	}
	return nil
}

func (r *VerifierRepository) Deactivate(ctx context.Context, id string) error {
	query := r.client.Prepared.DeactivateVerifier.WithContext(ctx).Bind(time.Now().UTC(), id)
	if err := query.Exec(); err != nil {
		return fmt.Errorf("%w: deactivate verifier: %v", apperr.ErrStoreUnavailable, err)
	}

	util.Info("Verifier deactivated", zap.String("verifier_id", id))
	return nil
}
