package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"verify-service/internal/apperr"
	"verify-service/internal/config"
	"verify-service/internal/matcher"
	"verify-service/internal/model"
)

type fakeResolver struct {
	lookupFn func(ctx context.Context, roll string, v *model.Verifier) (*model.Candidate, error)
}

func (f *fakeResolver) DecodeQRPayload(payload string) string { return payload }

func (f *fakeResolver) Lookup(ctx context.Context, roll string, v *model.Verifier) (*model.Candidate, error) {
	return f.lookupFn(ctx, roll, v)
}

func (f *fakeResolver) Template(stored string) ([]byte, error) { return []byte(stored), nil }

type fakeMatcher struct {
	matchFn func(ctx context.Context, reference, sample []byte) (matcher.MatchResult, error)
}

func (f *fakeMatcher) Match(ctx context.Context, reference, sample []byte) (matcher.MatchResult, error) {
	return f.matchFn(ctx, reference, sample)
}

type fakeResults struct {
	inserted []*model.VerificationResult
}

func (f *fakeResults) Insert(_ context.Context, res *model.VerificationResult) error {
	f.inserted = append(f.inserted, res)
	return nil
}

func (f *fakeResults) ListByRoll(_ context.Context, _ string) ([]*model.VerificationResult, error) {
	return f.inserted, nil
}

type fakeTrail struct {
	events    []string
	published []*model.VerificationResult
}

func (f *fakeTrail) RecordSecurityEvent(_ context.Context, _, eventType string, _ map[string]string) {
	f.events = append(f.events, eventType)
}

func (f *fakeTrail) PublishResult(_ context.Context, res *model.VerificationResult) {
	f.published = append(f.published, res)
}

func testCandidate() *model.Candidate {
	return &model.Candidate{
		RollNumber:           "ROLL123456",
		Name:                 "Asha Verma",
		Centre:               "C001",
		ExamDate:             "2026-09-01",
		Shift:                "MORNING",
		PhotoRef:             "photo-template",
		FingerprintTemplate1: "fp-template-1",
		FingerprintTemplate2: "fp-template-2",
		RetinaTemplate:       "retina-template",
	}
}

func testVerifier() *model.Verifier {
	return &model.Verifier{
		ID:             "VER001",
		AssignedCentre: "C001",
		AssignedDate:   "2026-09-01",
		AssignedShift:  "MORNING",
	}
}

func newTestEngine(m *fakeMatcher, results *fakeResults, trail *fakeTrail) *Engine {
	resolver := &fakeResolver{
		lookupFn: func(_ context.Context, roll string, _ *model.Verifier) (*model.Candidate, error) {
			if roll == "ROLL123456" {
				return testCandidate(), nil
			}
			return nil, apperr.ErrNotFound
		},
	}
	cfg := config.MatcherConfig{
		CallTimeout:          time.Second,
		FaceThreshold:        75.0,
		FingerprintThreshold: 75.0,
		RetinaThreshold:      75.0,
	}
	return NewEngine(resolver, m, results, trail, cfg)
}

func passAll() *fakeMatcher {
	return &fakeMatcher{
		matchFn: func(_ context.Context, _, _ []byte) (matcher.MatchResult, error) {
			return matcher.MatchResult{IsMatch: true, Confidence: 92.5}, nil
		},
	}
}

func TestFullFlowVerified(t *testing.T) {
	results := &fakeResults{}
	trail := &fakeTrail{}
	e := newTestEngine(passAll(), results, trail)
	ctx := context.Background()

	s := e.NewSession(testVerifier())
	assert.Equal(t, StateSearch, s.State)

	candidate, err := e.ResolveCandidate(ctx, s, testVerifier(), "ROLL123456")
	require.NoError(t, err)
	assert.Equal(t, "ROLL123456", candidate.RollNumber)
	assert.Equal(t, StateFace, s.State)
	assert.Equal(t, model.StepCompleted, s.Steps[model.StepQRScan].Status)

	for _, kind := range []model.StepKind{model.StepFace, model.StepFingerprint, model.StepRetina} {
		step, err := e.RunStep(ctx, s, kind, []byte("sample"))
		require.NoError(t, err)
		assert.Equal(t, model.StepCompleted, step.Status)
		require.NotNil(t, step.Confidence)
		assert.InDelta(t, 92.5, *step.Confidence, 0.01)
	}
	assert.Equal(t, StateSummary, s.State)

	res, err := e.Complete(ctx, s, "all clear")
	require.NoError(t, err)
	assert.Equal(t, model.StatusVerified, res.FinalStatus)
	assert.Equal(t, "all clear", res.Notes)
	assert.True(t, res.FacePassed)
	assert.True(t, res.FingerprintPassed)
	assert.True(t, res.RetinaPassed)
	assert.Equal(t, StateClosed, s.State)

	require.Len(t, results.inserted, 1)
	require.Len(t, trail.published, 1)
	assert.Contains(t, trail.events, model.EventVerificationComplete)
}

func TestFailedStepStillAdvances(t *testing.T) {
	m := &fakeMatcher{
		matchFn: func(_ context.Context, reference, _ []byte) (matcher.MatchResult, error) {
			if string(reference) == "photo-template" {
				return matcher.MatchResult{IsMatch: false, Confidence: 20}, nil
			}
			return matcher.MatchResult{IsMatch: true, Confidence: 90}, nil
		},
	}
	results := &fakeResults{}
	e := newTestEngine(m, results, &fakeTrail{})
	ctx := context.Background()

	s := e.NewSession(testVerifier())
	_, err := e.ResolveCandidate(ctx, s, testVerifier(), "ROLL123456")
	require.NoError(t, err)

	step, err := e.RunStep(ctx, s, model.StepFace, []byte("sample"))
	require.NoError(t, err)
	assert.Equal(t, model.StepFailed, step.Status)
	// A failed step still moves the flow forward.
	assert.Equal(t, StateFingerprint, s.State)

	_, err = e.RunStep(ctx, s, model.StepFingerprint, []byte("sample"))
	require.NoError(t, err)
	_, err = e.RunStep(ctx, s, model.StepRetina, []byte("sample"))
	require.NoError(t, err)

	res, err := e.Complete(ctx, s, "")
	require.NoError(t, err)
	assert.Equal(t, model.StatusRejected, res.FinalStatus)
	assert.False(t, res.FacePassed)
	assert.True(t, res.FingerprintPassed)
}

func TestMatchBelowThresholdFails(t *testing.T) {
	// The device said "match" but confidence is under the bar; both must
	// hold for a pass.
	m := &fakeMatcher{
		matchFn: func(_ context.Context, _, _ []byte) (matcher.MatchResult, error) {
			return matcher.MatchResult{IsMatch: true, Confidence: 60}, nil
		},
	}
	e := newTestEngine(m, &fakeResults{}, &fakeTrail{})
	ctx := context.Background()

	s := e.NewSession(testVerifier())
	_, err := e.ResolveCandidate(ctx, s, testVerifier(), "ROLL123456")
	require.NoError(t, err)

	step, err := e.RunStep(ctx, s, model.StepFace, []byte("sample"))
	require.NoError(t, err)
	assert.Equal(t, model.StepFailed, step.Status)
	require.NotNil(t, step.Confidence)
	assert.InDelta(t, 60.0, *step.Confidence, 0.01)
}

func TestDeviceErrorFailsStepWithoutConfidence(t *testing.T) {
	m := &fakeMatcher{
		matchFn: func(_ context.Context, _, _ []byte) (matcher.MatchResult, error) {
			return matcher.MatchResult{}, apperr.ErrDevice
		},
	}
	e := newTestEngine(m, &fakeResults{}, &fakeTrail{})
	ctx := context.Background()

	s := e.NewSession(testVerifier())
	_, err := e.ResolveCandidate(ctx, s, testVerifier(), "ROLL123456")
	require.NoError(t, err)

	step, err := e.RunStep(ctx, s, model.StepFace, []byte("sample"))
	require.NoError(t, err)
	assert.Equal(t, model.StepFailed, step.Status)
	assert.Nil(t, step.Confidence)
	// An unusable scanner must not wedge the session.
	assert.Equal(t, StateFingerprint, s.State)
}

func TestFingerprintTriesBothTemplates(t *testing.T) {
	m := &fakeMatcher{
		matchFn: func(_ context.Context, reference, _ []byte) (matcher.MatchResult, error) {
			if string(reference) == "fp-template-2" {
				return matcher.MatchResult{IsMatch: true, Confidence: 88}, nil
			}
			return matcher.MatchResult{IsMatch: false, Confidence: 30}, nil
		},
	}
	e := newTestEngine(m, &fakeResults{}, &fakeTrail{})
	ctx := context.Background()

	s := e.NewSession(testVerifier())
	_, err := e.ResolveCandidate(ctx, s, testVerifier(), "ROLL123456")
	require.NoError(t, err)
	_, err = e.RunStep(ctx, s, model.StepFace, []byte("sample"))
	require.NoError(t, err)

	step, err := e.RunStep(ctx, s, model.StepFingerprint, []byte("sample"))
	require.NoError(t, err)
	assert.Equal(t, model.StepCompleted, step.Status)
	require.NotNil(t, step.Confidence)
	assert.InDelta(t, 88.0, *step.Confidence, 0.01)
}

func TestRetryFailedStepInPlace(t *testing.T) {
	attempt := 0
	m := &fakeMatcher{
		matchFn: func(_ context.Context, reference, _ []byte) (matcher.MatchResult, error) {
			if string(reference) == "photo-template" {
				attempt++
				if attempt == 1 {
					return matcher.MatchResult{IsMatch: false, Confidence: 10}, nil
				}
			}
			return matcher.MatchResult{IsMatch: true, Confidence: 95}, nil
		},
	}
	e := newTestEngine(m, &fakeResults{}, &fakeTrail{})
	ctx := context.Background()

	s := e.NewSession(testVerifier())
	_, err := e.ResolveCandidate(ctx, s, testVerifier(), "ROLL123456")
	require.NoError(t, err)

	step, err := e.RunStep(ctx, s, model.StepFace, []byte("sample"))
	require.NoError(t, err)
	assert.Equal(t, model.StepFailed, step.Status)
	assert.Equal(t, StateFingerprint, s.State)

	// Retrying rewrites the step record without rewinding the flow.
	step, err = e.RunStep(ctx, s, model.StepFace, []byte("sample"))
	require.NoError(t, err)
	assert.Equal(t, model.StepCompleted, step.Status)
	assert.Equal(t, StateFingerprint, s.State)
}

func TestStepOrderEnforced(t *testing.T) {
	e := newTestEngine(passAll(), &fakeResults{}, &fakeTrail{})
	ctx := context.Background()

	s := e.NewSession(testVerifier())
	_, err := e.ResolveCandidate(ctx, s, testVerifier(), "ROLL123456")
	require.NoError(t, err)

	// Retina is not available while the session waits on FACE.
	_, err = e.RunStep(ctx, s, model.StepRetina, []byte("sample"))
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
}

func TestRunStepWithoutCandidate(t *testing.T) {
	e := newTestEngine(passAll(), &fakeResults{}, &fakeTrail{})

	s := e.NewSession(testVerifier())
	_, err := e.RunStep(context.Background(), s, model.StepFace, []byte("sample"))
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
}

func TestCompleteRequiresSummary(t *testing.T) {
	e := newTestEngine(passAll(), &fakeResults{}, &fakeTrail{})
	ctx := context.Background()

	s := e.NewSession(testVerifier())
	_, err := e.ResolveCandidate(ctx, s, testVerifier(), "ROLL123456")
	require.NoError(t, err)

	_, err = e.Complete(ctx, s, "")
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
}

func TestResolveFailureStaysInSearch(t *testing.T) {
	e := newTestEngine(passAll(), &fakeResults{}, &fakeTrail{})
	ctx := context.Background()

	s := e.NewSession(testVerifier())
	_, err := e.ResolveCandidate(ctx, s, testVerifier(), "NOSUCHROLL1")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Equal(t, StateSearch, s.State)

	// A rescan can still succeed.
	_, err = e.ResolveCandidate(ctx, s, testVerifier(), "ROLL123456")
	require.NoError(t, err)
	assert.Equal(t, StateFace, s.State)
}

func TestAbandonClosesSession(t *testing.T) {
	results := &fakeResults{}
	e := newTestEngine(passAll(), results, &fakeTrail{})
	ctx := context.Background()

	s := e.NewSession(testVerifier())
	require.NoError(t, e.Abandon(ctx, s))
	assert.Equal(t, StateClosed, s.State)
	assert.Empty(t, results.inserted)

	assert.ErrorIs(t, e.Abandon(ctx, s), apperr.ErrInvalidInput)
}
