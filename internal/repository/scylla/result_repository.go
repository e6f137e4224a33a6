package scylla

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"verify-service/internal/apperr"
	"verify-service/internal/model"
	"verify-service/internal/util"
)

// ResultStore persists completed verification results. Append-only: no
// update or delete is exposed anywhere.
type ResultStore interface {
	Insert(ctx context.Context, res *model.VerificationResult) error
	ListByRoll(ctx context.Context, rollNumber string) ([]*model.VerificationResult, error)
}

type ResultRepository struct {
	client *ScyllaClient
}

func NewResultRepository(client *ScyllaClient) *ResultRepository {
	return &ResultRepository{client: client}
}

func (r *ResultRepository) Insert(ctx context.Context, res *model.VerificationResult) error {
	query := r.client.Prepared.InsertResult.WithContext(ctx).Bind(
		res.RollNumber, res.Timestamp, res.ID, res.VerifierID,
		res.QRScanPassed, res.FacePassed, res.FaceConfidence,
		res.FingerprintPassed, res.FingerprintConfidence,
		res.RetinaPassed, res.RetinaConfidence, string(res.FinalStatus), res.Notes)

	if err := query.Exec(); err != nil {
		util.Error("Failed to insert verification result",
			zap.String("roll_number", res.RollNumber),
			zap.String("result_id", res.ID),
			zap.Error(err))
		return fmt.Errorf("%w: insert result: %v", apperr.ErrStoreUnavailable, err)
	}

	util.Info("Verification result persisted",
		zap.String("roll_number", res.RollNumber),
		zap.String("verifier_id", res.VerifierID),
		zap.String("final_status", string(res.FinalStatus)))

	return nil
}

func (r *ResultRepository) ListByRoll(ctx context.Context, rollNumber string) ([]*model.VerificationResult, error) {
	iter := r.client.Prepared.ListResultsForRoll.WithContext(ctx).Bind(rollNumber).Iter()

	var results []*model.VerificationResult
	for {
		res := &model.VerificationResult{}
		var status string
		if !iter.Scan(
			&res.RollNumber, &res.Timestamp, &res.ID, &res.VerifierID,
			&res.QRScanPassed, &res.FacePassed, &res.FaceConfidence,
			&res.FingerprintPassed, &res.FingerprintConfidence,
			&res.RetinaPassed, &res.RetinaConfidence, &status, &res.Notes) {
			break
		}
		res.FinalStatus = model.FinalStatus(status)
		results = append(results, res)
	}

	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("%w: list results: %v", apperr.ErrStoreUnavailable, err)
	}

	return results, nil
}
