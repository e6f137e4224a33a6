package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"verify-service/internal/apperr"
	"verify-service/internal/config"
	"verify-service/internal/matcher"
	"verify-service/internal/model"
	"verify-service/internal/repository/scylla"
	"verify-service/internal/util"
)

// State is the position of a session in its fixed verification flow.
type State string

const (
	StateSearch      State = "SEARCH"
	StateFace        State = "FACE"
	StateFingerprint State = "FINGERPRINT"
	StateRetina      State = "RETINA"
	StateSummary     State = "SUMMARY"
	StateClosed      State = "CLOSED"
)

// stateForStep maps a biometric step to the state that runs it.
var stateForStep = map[model.StepKind]State{
	model.StepFace:        StateFace,
	model.StepFingerprint: StateFingerprint,
	model.StepRetina:      StateRetina,
}

// nextState advances the flow by one position. The flow never moves
// backward and never skips SUMMARY.
func nextState(s State) State {
	switch s {
	case StateSearch:
		return StateFace
	case StateFace:
		return StateFingerprint
	case StateFingerprint:
		return StateRetina
	case StateRetina:
		return StateSummary
	default:
		return StateClosed
	}
}

// Session is one verifier's in-progress identification of one candidate.
// All mutation goes through the Engine; the mutex covers concurrent
// requests against the same session.
type Session struct {
	ID         string
	VerifierID string
	State      State
	Candidate  *model.Candidate
	Steps      map[model.StepKind]*model.VerificationStep
	CreatedAt  time.Time
	UpdatedAt  time.Time

	mu sync.Mutex
}

// Snapshot returns a copy of the session safe to serialize.
type Snapshot struct {
	ID         string                                    `json:"id"`
	VerifierID string                                    `json:"verifier_id"`
	State      State                                     `json:"state"`
	RollNumber string                                    `json:"roll_number,omitempty"`
	Steps      map[model.StepKind]model.VerificationStep `json:"steps"`
	CreatedAt  time.Time                                 `json:"created_at"`
	UpdatedAt  time.Time                                 `json:"updated_at"`
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		ID:         s.ID,
		VerifierID: s.VerifierID,
		State:      s.State,
		Steps:      make(map[model.StepKind]model.VerificationStep, len(s.Steps)),
		CreatedAt:  s.CreatedAt,
		UpdatedAt:  s.UpdatedAt,
	}
	if s.Candidate != nil {
		snap.RollNumber = s.Candidate.RollNumber
	}
	for kind, step := range s.Steps {
		snap.Steps[kind] = *step
	}
	return snap
}

// CandidateResolver is the slice of the directory the engine needs.
type CandidateResolver interface {
	DecodeQRPayload(payload string) string
	Lookup(ctx context.Context, rollNumber string, verifier *model.Verifier) (*model.Candidate, error)
	Template(stored string) ([]byte, error)
}

// TrailRecorder is the slice of the audit trail the engine needs.
type TrailRecorder interface {
	RecordSecurityEvent(ctx context.Context, identifier, eventType string, details map[string]string)
	PublishResult(ctx context.Context, res *model.VerificationResult)
}

// Engine runs verification sessions through the fixed step flow. A step
// that produces an outcome always advances the flow, pass or fail; a
// failed step can be retried in place without rewinding.
type Engine struct {
	directory CandidateResolver
	matcher   matcher.BiometricMatcher
	results   scylla.ResultStore
	trail     TrailRecorder
	cfg       config.MatcherConfig

	now func() time.Time
}

func NewEngine(dir CandidateResolver, m matcher.BiometricMatcher, results scylla.ResultStore,
	trail TrailRecorder, cfg config.MatcherConfig) *Engine {

	return &Engine{
		directory: dir,
		matcher:   m,
		results:   results,
		trail:     trail,
		cfg:       cfg,
		now:       time.Now,
	}
}

// NewSession opens a session for a verifier, starting in SEARCH.
func (e *Engine) NewSession(verifier *model.Verifier) *Session {
	now := e.now().UTC()
	s := &Session{
		ID:         uuid.NewString(),
		VerifierID: verifier.ID,
		State:      StateSearch,
		Steps:      make(map[model.StepKind]*model.VerificationStep, len(model.StepOrder)),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	for _, kind := range model.StepOrder {
		s.Steps[kind] = &model.VerificationStep{Kind: kind, Status: model.StepPending}
	}

	util.Info("Verification session opened",
		zap.String("session_id", s.ID),
		zap.String("verifier_id", verifier.ID))

	return s
}

// ResolveCandidate decodes the scanned QR payload, resolves the
// candidate, and on success completes the QR step and advances to FACE.
// A failed resolution leaves the session in SEARCH so the verifier can
// rescan or fall back to name search.
func (e *Engine) ResolveCandidate(ctx context.Context, s *Session, verifier *model.Verifier, qrPayload string) (*model.Candidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State != StateSearch {
		return nil, fmt.Errorf("%w: session is not searching", apperr.ErrInvalidInput)
	}

	rollNumber := e.directory.DecodeQRPayload(qrPayload)

	candidate, err := e.directory.Lookup(ctx, rollNumber, verifier)
	if err != nil {
		return nil, err
	}

	s.Candidate = candidate
	s.Steps[model.StepQRScan].Status = model.StepCompleted
	s.State = StateFace
	s.UpdatedAt = e.now().UTC()

	return candidate, nil
}

// RunStep executes one biometric comparison. The step must be the one
// the session is waiting on, or an already-terminal step being retried.
// Whatever the outcome, a first run advances the session; a retry only
// rewrites the step's own record.
func (e *Engine) RunStep(ctx context.Context, s *Session, kind model.StepKind, sample []byte) (*model.VerificationStep, error) {
	expectedState, ok := stateForStep[kind]
	if !ok {
		return nil, fmt.Errorf("%w: unknown step %q", apperr.ErrInvalidInput, kind)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State == StateClosed {
		return nil, fmt.Errorf("%w: session is closed", apperr.ErrInvalidInput)
	}
	if s.Candidate == nil {
		return nil, fmt.Errorf("%w: no candidate resolved", apperr.ErrInvalidInput)
	}

	step := s.Steps[kind]
	isCurrent := s.State == expectedState
	isRetry := step.Status.Terminal()
	if !isCurrent && !isRetry {
		return nil, fmt.Errorf("%w: step %s is not available in state %s", apperr.ErrInvalidInput, kind, s.State)
	}

	step.Status = model.StepInProgress
	step.Confidence = nil

	outcome, confidence := e.compare(ctx, s.Candidate, kind, sample)
	step.Status = outcome
	step.Confidence = confidence

	if isCurrent {
		s.State = nextState(s.State)
	}
	s.UpdatedAt = e.now().UTC()

	return &model.VerificationStep{Kind: kind, Status: step.Status, Confidence: step.Confidence}, nil
}

// compare runs the matcher against the candidate's stored template(s)
// for the step. Device errors and timeouts fail the step rather than
// error out: an unusable scanner must not wedge the session. The match
// flag and the confidence threshold must BOTH hold for a pass.
func (e *Engine) compare(ctx context.Context, c *model.Candidate, kind model.StepKind, sample []byte) (model.StepStatus, *float64) {
	if e.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.CallTimeout)
		defer cancel()
	}

	var best *matcher.MatchResult
	for _, stored := range e.referencesFor(c, kind) {
		reference, err := e.directory.Template(stored)
		if err != nil {
			util.Error("Failed to decrypt reference template",
				zap.String("roll_number", c.RollNumber),
				zap.String("step", string(kind)),
				zap.Error(err))
			continue
		}

		result, err := e.matcher.Match(ctx, reference, sample)
		if err != nil {
			if errors.Is(err, apperr.ErrDevice) || errors.Is(err, context.DeadlineExceeded) {
				util.Warn("Matcher unavailable for step",
					zap.String("step", string(kind)),
					zap.Error(err))
			} else {
				util.Error("Matcher error",
					zap.String("step", string(kind)),
					zap.Error(err))
			}
			continue
		}

		if best == nil || result.Confidence > best.Confidence {
			r := result
			best = &r
		}
	}

	if best == nil {
		return model.StepFailed, nil
	}

	confidence := best.Confidence
	if best.IsMatch && confidence >= e.thresholdFor(kind) {
		return model.StepCompleted, &confidence
	}
	return model.StepFailed, &confidence
}

// referencesFor lists the stored templates to compare for a step. Both
// fingerprint templates are tried and the better score wins.
func (e *Engine) referencesFor(c *model.Candidate, kind model.StepKind) []string {
	var stored []string
	switch kind {
	case model.StepFace:
		stored = []string{c.PhotoRef}
	case model.StepFingerprint:
		stored = []string{c.FingerprintTemplate1, c.FingerprintTemplate2}
	case model.StepRetina:
		stored = []string{c.RetinaTemplate}
	}

	out := stored[:0]
	for _, s := range stored {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (e *Engine) thresholdFor(kind model.StepKind) float64 {
	switch kind {
	case model.StepFace:
		return e.cfg.FaceThreshold
	case model.StepFingerprint:
		return e.cfg.FingerprintThreshold
	default:
		return e.cfg.RetinaThreshold
	}
}

// Complete finalizes a session in SUMMARY: the step outcomes are
// aggregated into one immutable result, persisted, published, and the
// session closes. Exactly one result per completed session.
func (e *Engine) Complete(ctx context.Context, s *Session, notes string) (*model.VerificationResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State != StateSummary {
		return nil, fmt.Errorf("%w: session is not in summary", apperr.ErrInvalidInput)
	}
	if s.Candidate == nil {
		return nil, fmt.Errorf("%w: no candidate resolved", apperr.ErrInvalidInput)
	}

	res := &model.VerificationResult{
		ID:          uuid.NewString(),
		RollNumber:  s.Candidate.RollNumber,
		VerifierID:  s.VerifierID,
		Timestamp:   e.now().UTC(),
		FinalStatus: Aggregate(s.Steps),
		Notes:       notes,
	}
	res.QRScanPassed = s.Steps[model.StepQRScan].Status == model.StepCompleted
	res.FacePassed, res.FaceConfidence = stepOutcome(s.Steps[model.StepFace])
	res.FingerprintPassed, res.FingerprintConfidence = stepOutcome(s.Steps[model.StepFingerprint])
	res.RetinaPassed, res.RetinaConfidence = stepOutcome(s.Steps[model.StepRetina])

	if err := e.results.Insert(ctx, res); err != nil {
		return nil, err
	}

	e.trail.RecordSecurityEvent(ctx, s.VerifierID, model.EventVerificationComplete, map[string]string{
		"session_id":   s.ID,
		"verifier_id":  s.VerifierID,
		"roll_number":  res.RollNumber,
		"final_status": string(res.FinalStatus),
	})
	e.trail.PublishResult(ctx, res)

	s.State = StateClosed
	s.UpdatedAt = e.now().UTC()

	util.Info("Verification session completed",
		zap.String("session_id", s.ID),
		zap.String("roll_number", res.RollNumber),
		zap.String("final_status", string(res.FinalStatus)))

	return res, nil
}

// Abandon closes a session without producing a result.
func (e *Engine) Abandon(ctx context.Context, s *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State == StateClosed {
		return fmt.Errorf("%w: session already closed", apperr.ErrInvalidInput)
	}

	s.State = StateClosed
	s.UpdatedAt = e.now().UTC()

	details := map[string]string{
		"session_id":  s.ID,
		"verifier_id": s.VerifierID,
	}
	if s.Candidate != nil {
		details["roll_number"] = s.Candidate.RollNumber
	}
	e.trail.RecordSecurityEvent(ctx, s.VerifierID, model.EventDataAccess, details)

	util.Info("Verification session abandoned", zap.String("session_id", s.ID))
	return nil
}

func stepOutcome(step *model.VerificationStep) (bool, float64) {
	passed := step.Status == model.StepCompleted
	if step.Confidence == nil {
		return passed, 0
	}
	return passed, *step.Confidence
}
