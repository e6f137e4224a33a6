package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"verify-service/internal/apperr"
	"verify-service/internal/bucketing"
	"verify-service/internal/model"
	"verify-service/internal/util"
)

// CandidateStore is the persistence contract the directory depends on.
type CandidateStore interface {
	GetByRoll(ctx context.Context, rollNumber string) (*model.Candidate, error)
	Upsert(ctx context.Context, c *model.Candidate) error
}

type CandidateRepository struct {
	client    *ScyllaClient
	bucketing *bucketing.BucketingManager
}

func NewCandidateRepository(client *ScyllaClient, bucketing *bucketing.BucketingManager) *CandidateRepository {
	return &CandidateRepository{
		client:    client,
		bucketing: bucketing,
	}
}

func (r *CandidateRepository) GetByRoll(ctx context.Context, rollNumber string) (*model.Candidate, error) {
	c := &model.Candidate{}
	bucket := r.bucketing.CandidateBucket(rollNumber)

	query := r.client.Prepared.GetCandidate.WithContext(ctx).Bind(bucket, rollNumber)

	err := r.client.ScanWithRetry(query,
		&c.Bucket, &c.RollNumber, &c.Name, &c.ExamDate, &c.Shift, &c.Centre,
		&c.PhotoRef, &c.FingerprintTemplate1, &c.FingerprintTemplate2,
		&c.RetinaTemplate, &c.Phone, &c.Email, &c.FatherName,
		&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, apperr.ErrNotFound
		}
		util.Error("Failed to get candidate",
			zap.String("roll_number", rollNumber),
			zap.Error(err))
		return nil, fmt.Errorf("%w: get candidate: %v", apperr.ErrStoreUnavailable, err)
	}

	return c, nil
}

// Upsert writes a candidate row. Scylla INSERT semantics overwrite
// non-key fields on an existing roll number, which is exactly the
// re-import behavior the directory requires.
func (r *CandidateRepository) Upsert(ctx context.Context, c *model.Candidate) error {
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	c.Bucket = r.bucketing.CandidateBucket(c.RollNumber)

	query := r.client.Prepared.UpsertCandidate.WithContext(ctx).Bind(
		c.Bucket, c.RollNumber, c.Name, c.ExamDate, c.Shift, c.Centre,
		c.PhotoRef, c.FingerprintTemplate1, c.FingerprintTemplate2,
		c.RetinaTemplate, c.Phone, c.Email, c.FatherName,
		c.CreatedAt, c.UpdatedAt)

	if err := query.Exec(); err != nil {
		util.Error("Failed to upsert candidate",
			zap.String("roll_number", c.RollNumber),
			zap.Error(err))
		return fmt.Errorf("%w: upsert candidate: %v", apperr.ErrStoreUnavailable, err)
	}

	return nil
}
