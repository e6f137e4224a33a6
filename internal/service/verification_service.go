package service

import (
	"context"
	"fmt"
	"sync"

	"verify-service/internal/apperr"
	"verify-service/internal/audit"
	"verify-service/internal/credential"
	"verify-service/internal/directory"
	"verify-service/internal/model"
	"verify-service/internal/repository/scylla"
	"verify-service/internal/session"
)

// activeSession pairs an open session with the verifier operating it so
// every lookup inside the session is scoped to that verifier's
// assignment.
type activeSession struct {
	session  *session.Session
	verifier *model.Verifier
}

// VerificationService is the application facade the HTTP layer calls.
// It owns the in-memory registry of open sessions; everything durable
// lives behind the stores.
type VerificationService struct {
	credentials *credential.Store
	verifiers   scylla.VerifierStore
	directory   *directory.Directory
	engine      *session.Engine
	results     scylla.ResultStore
	trail       *audit.Trail

	mu       sync.RWMutex
	sessions map[string]*activeSession
}

func NewVerificationService(credentials *credential.Store, verifiers scylla.VerifierStore,
	dir *directory.Directory, engine *session.Engine, results scylla.ResultStore,
	trail *audit.Trail) *VerificationService {

	return &VerificationService{
		credentials: credentials,
		verifiers:   verifiers,
		directory:   dir,
		engine:      engine,
		results:     results,
		trail:       trail,
		sessions:    make(map[string]*activeSession),
	}
}

// Login authenticates a verifier.
func (s *VerificationService) Login(ctx context.Context, id, password, sourceAddress string) (*credential.LoginOutcome, error) {
	return s.credentials.Login(ctx, id, password, sourceAddress)
}

// ProvisionVerifier creates a verifier account and audits the action.
func (s *VerificationService) ProvisionVerifier(ctx context.Context, v *model.Verifier, password, actor, sourceAddress string) error {
	if err := s.credentials.Provision(ctx, v, password); err != nil {
		return err
	}

	return s.trail.RecordAction(ctx, actor, "VERIFIER_PROVISIONED", map[string]string{
		"verifier_id":     v.ID,
		"assigned_centre": v.AssignedCentre,
		"assigned_date":   v.AssignedDate,
		"assigned_shift":  v.AssignedShift,
	}, sourceAddress)
}

// DeactivateVerifier disables a verifier account and audits the action.
func (s *VerificationService) DeactivateVerifier(ctx context.Context, id, actor, sourceAddress string) error {
	if err := s.credentials.Deactivate(ctx, id); err != nil {
		return err
	}

	return s.trail.RecordAction(ctx, actor, "VERIFIER_DEACTIVATED", map[string]string{
		"verifier_id": id,
	}, sourceAddress)
}

// OpenSession starts a verification session for an authenticated
// verifier.
func (s *VerificationService) OpenSession(ctx context.Context, verifierID string) (session.Snapshot, error) {
	verifier, err := s.verifiers.GetActive(ctx, verifierID)
	if err != nil {
		return session.Snapshot{}, err
	}

	sess := s.engine.NewSession(verifier)

	s.mu.Lock()
	s.sessions[sess.ID] = &activeSession{session: sess, verifier: verifier}
	s.mu.Unlock()

	return sess.Snapshot(), nil
}

// Session returns the current view of an open session.
func (s *VerificationService) Session(sessionID string) (session.Snapshot, error) {
	active, err := s.lookup(sessionID)
	if err != nil {
		return session.Snapshot{}, err
	}
	return active.session.Snapshot(), nil
}

// ResolveCandidate attaches a candidate to a session from a scanned QR
// payload or a typed roll number.
func (s *VerificationService) ResolveCandidate(ctx context.Context, sessionID, qrPayload string) (*model.Candidate, error) {
	active, err := s.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	return s.engine.ResolveCandidate(ctx, active.session, active.verifier, qrPayload)
}

// RunStep executes one biometric step of a session.
func (s *VerificationService) RunStep(ctx context.Context, sessionID string, kind model.StepKind, sample []byte) (*model.VerificationStep, error) {
	active, err := s.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	return s.engine.RunStep(ctx, active.session, kind, sample)
}

// CompleteSession finalizes a session and returns its immutable result.
func (s *VerificationService) CompleteSession(ctx context.Context, sessionID, notes string) (*model.VerificationResult, error) {
	active, err := s.lookup(sessionID)
	if err != nil {
		return nil, err
	}

	res, err := s.engine.Complete(ctx, active.session, notes)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	delete(s.sessions, sessionID)
	s.mu.Unlock()

	return res, nil
}

// AbandonSession closes a session without a result.
func (s *VerificationService) AbandonSession(ctx context.Context, sessionID string) error {
	active, err := s.lookup(sessionID)
	if err != nil {
		return err
	}

	if err := s.engine.Abandon(ctx, active.session); err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.sessions, sessionID)
	s.mu.Unlock()

	return nil
}

// ImportCandidates bulk-loads candidate records and audits the import.
func (s *VerificationService) ImportCandidates(ctx context.Context, rows []*model.Candidate, actor, sourceAddress string) (*model.ImportReport, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: empty import", apperr.ErrInvalidInput)
	}

	report := s.directory.Import(ctx, rows)

	if err := s.trail.RecordAction(ctx, actor, "CANDIDATES_IMPORTED", map[string]string{
		"total":    fmt.Sprintf("%d", len(rows)),
		"imported": fmt.Sprintf("%d", report.Imported),
		"failed":   fmt.Sprintf("%d", len(report.RowErrors)),
	}, sourceAddress); err != nil {
		return report, err
	}

	return report, nil
}

// SearchCandidates finds candidates by name within a session verifier's
// assigned centre.
func (s *VerificationService) SearchCandidates(ctx context.Context, sessionID, name string) ([]model.Candidate, error) {
	active, err := s.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	return s.directory.SearchByName(ctx, name, active.verifier)
}

// ResultsForRoll lists the verification history of a roll number.
func (s *VerificationService) ResultsForRoll(ctx context.Context, rollNumber string) ([]*model.VerificationResult, error) {
	return s.results.ListByRoll(ctx, rollNumber)
}

func (s *VerificationService) lookup(sessionID string) (*activeSession, error) {
	s.mu.RLock()
	active, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: unknown session", apperr.ErrNotFound)
	}
	return active, nil
}
