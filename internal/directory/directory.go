package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"verify-service/internal/apperr"
	"verify-service/internal/client"
	"verify-service/internal/config"
	"verify-service/internal/model"
	"verify-service/internal/repository/scylla"
	"verify-service/internal/util"
	"verify-service/internal/vault"
)

// EventRecorder is the slice of the audit trail the directory needs.
type EventRecorder interface {
	RecordSecurityEvent(ctx context.Context, identifier, eventType string, details map[string]string)
}

// Directory resolves, imports, and searches candidates. All lookups are
// scoped to the requesting verifier's assignment; a candidate outside
// that scope behaves like a permission failure, never like a miss.
type Directory struct {
	candidates scylla.CandidateStore
	vault      *vault.TemplateVault
	es         *client.ESClient
	trail      EventRecorder

	candidateIndex string
	concurrency    int
}

func New(candidates scylla.CandidateStore, tv *vault.TemplateVault, es *client.ESClient,
	trail EventRecorder, esCfg config.ElasticsearchConfig, importCfg config.ImportConfig) *Directory {

	concurrency := importCfg.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}

	return &Directory{
		candidates:     candidates,
		vault:          tv,
		es:             es,
		trail:          trail,
		candidateIndex: esCfg.CandidateIndex,
		concurrency:    concurrency,
	}
}

// Lookup fetches a candidate by roll number on behalf of a verifier.
// Malformed roll numbers are rejected before any store access, and a
// candidate assigned to a different centre, date, or shift comes back as
// apperr.ErrPermissionDenied.
func (d *Directory) Lookup(ctx context.Context, rollNumber string, verifier *model.Verifier) (*model.Candidate, error) {
	rollNumber = strings.TrimSpace(rollNumber)

	if !util.ValidRollNumber(rollNumber) {
		eventType := model.EventInvalidRollLookup
		if util.ContainsSuspicious(rollNumber) {
			eventType = model.EventSQLInjectionAttempt
		}
		d.trail.RecordSecurityEvent(ctx, verifier.ID, eventType, map[string]string{
			"verifier_id": verifier.ID,
			"roll_number": util.SanitizeInput(rollNumber),
		})
		return nil, fmt.Errorf("%w: malformed roll number", apperr.ErrInvalidInput)
	}

	c, err := d.candidates.GetByRoll(ctx, rollNumber)
	if err != nil {
		return nil, err
	}

	if !d.inScope(c, verifier) {
		d.trail.RecordSecurityEvent(ctx, verifier.ID, model.EventPermissionDenied, map[string]string{
			"verifier_id":      verifier.ID,
			"roll_number":      rollNumber,
			"candidate_centre": c.Centre,
			"assigned_centre":  verifier.AssignedCentre,
		})
		return nil, apperr.ErrPermissionDenied
	}

	d.trail.RecordSecurityEvent(ctx, verifier.ID, model.EventDataAccess, map[string]string{
		"verifier_id": verifier.ID,
		"roll_number": rollNumber,
	})

	return c, nil
}

// DecodeQRPayload extracts a roll number from a scanned QR payload. A
// JSON object with a rollNumber field is unwrapped; anything else is
// treated as the roll number itself.
func (d *Directory) DecodeQRPayload(payload string) string {
	payload = strings.TrimSpace(payload)

	if strings.HasPrefix(payload, "{") {
		var decoded struct {
			RollNumber string `json:"rollNumber"`
		}
		if err := json.Unmarshal([]byte(payload), &decoded); err == nil && decoded.RollNumber != "" {
			return strings.TrimSpace(decoded.RollNumber)
		}
	}

	return payload
}

// Template decrypts a stored biometric template for matching.
func (d *Directory) Template(stored string) ([]byte, error) {
	return d.vault.Decrypt(stored)
}

// Import loads a batch of candidate records, encrypting biometric
// templates before they touch the store. Rows fail independently; one
// bad row never aborts the rest. Re-importing an existing roll number
// overwrites the previous record.
func (d *Directory) Import(ctx context.Context, rows []*model.Candidate) *model.ImportReport {
	report := &model.ImportReport{RowErrors: make(map[int]string)}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)

	for i, row := range rows {
		i, row := i, row
		g.Go(func() error {
			if err := d.importOne(gctx, row); err != nil {
				mu.Lock()
				report.RowErrors[i] = err.Error()
				mu.Unlock()
				return nil
			}
			mu.Lock()
			report.Imported++
			mu.Unlock()
			return nil
		})
	}

	// Workers never return errors; per-row failures land in the report.
	_ = g.Wait()

	util.Info("Candidate import finished",
		zap.Int("total", len(rows)),
		zap.Int("imported", report.Imported),
		zap.Int("failed", len(report.RowErrors)))

	return report
}

func (d *Directory) importOne(ctx context.Context, c *model.Candidate) error {
	c.RollNumber = strings.TrimSpace(c.RollNumber)
	if !util.ValidRollNumber(c.RollNumber) {
		return fmt.Errorf("%w: malformed roll number %q", apperr.ErrInvalidInput, util.SanitizeInput(c.RollNumber))
	}
	if c.Name == "" || c.Centre == "" {
		return fmt.Errorf("%w: name and centre are required", apperr.ErrInvalidInput)
	}

	var err error
	if c.FingerprintTemplate1, err = d.sealTemplate(c.FingerprintTemplate1); err != nil {
		return fmt.Errorf("fingerprint template 1: %w", err)
	}
	if c.FingerprintTemplate2, err = d.sealTemplate(c.FingerprintTemplate2); err != nil {
		return fmt.Errorf("fingerprint template 2: %w", err)
	}
	if c.RetinaTemplate, err = d.sealTemplate(c.RetinaTemplate); err != nil {
		return fmt.Errorf("retina template: %w", err)
	}

	if err := d.candidates.Upsert(ctx, c); err != nil {
		return err
	}

	d.indexCandidate(ctx, c)
	return nil
}

// sealTemplate encrypts a plaintext template. Already-encrypted values
// pass through unchanged so re-imports never double-encrypt.
func (d *Directory) sealTemplate(raw string) (string, error) {
	if raw == "" || vault.IsEncrypted(raw) {
		return raw, nil
	}
	return d.vault.Encrypt([]byte(raw))
}

// indexCandidate mirrors the candidate into Elasticsearch for name
// search. Best-effort: the Scylla row is the source of truth.
func (d *Directory) indexCandidate(ctx context.Context, c *model.Candidate) {
	if d.es == nil {
		return
	}

	res, err := d.es.IndexDocument(ctx, d.candidateIndex, c.RollNumber, c)
	if err != nil {
		util.Warn("Failed to index candidate",
			zap.String("roll_number", c.RollNumber),
			zap.Error(err))
		return
	}
	defer res.Body.Close()

	if res.IsError() {
		util.Warn("Candidate indexing rejected",
			zap.String("roll_number", c.RollNumber),
			zap.String("status", res.Status()))
	}
}

type candidateSearchResponse struct {
	Hits struct {
		Hits []struct {
			Source model.Candidate `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// SearchByName finds candidates by name within the verifier's assigned
// centre. Used when a candidate arrives without a readable QR code.
func (d *Directory) SearchByName(ctx context.Context, name string, verifier *model.Verifier) ([]model.Candidate, error) {
	if d.es == nil {
		return nil, fmt.Errorf("%w: search backend not configured", apperr.ErrStoreUnavailable)
	}

	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: empty name", apperr.ErrInvalidInput)
	}
	if util.ContainsSuspicious(name) {
		d.trail.RecordSecurityEvent(ctx, verifier.ID, model.EventSQLInjectionAttempt, map[string]string{
			"verifier_id": verifier.ID,
			"field":       "name",
		})
		return nil, fmt.Errorf("%w: invalid name", apperr.ErrInvalidInput)
	}

	query := map[string]interface{}{
		"size": 20,
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"must": []interface{}{
					map[string]interface{}{
						"match": map[string]interface{}{
							"name": map[string]interface{}{
								"query":     name,
								"fuzziness": "AUTO",
							},
						},
					},
				},
				"filter": []interface{}{
					map[string]interface{}{
						"term": map[string]interface{}{
							"centre": verifier.AssignedCentre,
						},
					},
				},
			},
		},
	}

	res, err := d.es.Search(ctx, d.candidateIndex, query)
	if err != nil {
		return nil, fmt.Errorf("%w: candidate search: %v", apperr.ErrStoreUnavailable, err)
	}

	var parsed candidateSearchResponse
	if err := d.es.ParseResponse(res, &parsed); err != nil {
		return nil, fmt.Errorf("%w: candidate search: %v", apperr.ErrStoreUnavailable, err)
	}

	out := make([]model.Candidate, 0, len(parsed.Hits.Hits))
	for _, hit := range parsed.Hits.Hits {
		out = append(out, hit.Source)
	}

	d.trail.RecordSecurityEvent(ctx, verifier.ID, model.EventDataAccess, map[string]string{
		"verifier_id": verifier.ID,
		"search_name": util.SanitizeInput(name),
		"hit_count":   fmt.Sprintf("%d", len(out)),
	})

	return out, nil
}

func (d *Directory) inScope(c *model.Candidate, v *model.Verifier) bool {
	return c.Centre == v.AssignedCentre &&
		c.ExamDate == v.AssignedDate &&
		c.Shift == v.AssignedShift
}
