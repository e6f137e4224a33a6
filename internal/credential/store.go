package credential

import (
	"context"
	"errors"
	"strconv"
	"time"

	"go.uber.org/zap"

	"verify-service/internal/apperr"
	"verify-service/internal/config"
	"verify-service/internal/hashing"
	"verify-service/internal/model"
	"verify-service/internal/repository/scylla"
	"verify-service/internal/util"
)

// FailureState is the lockout counter for one submitted verifier id.
type FailureState struct {
	Count       uint
	LastFailure time.Time
}

// LockoutCache tracks login failures atomically across instances.
type LockoutCache interface {
	Failures(ctx context.Context, id string) (FailureState, error)
	RecordFailure(ctx context.Context, id string, now time.Time) (FailureState, error)
	Reset(ctx context.Context, id string) error
}

// EventRecorder is the slice of the audit trail the store needs.
type EventRecorder interface {
	RecordSecurityEvent(ctx context.Context, identifier, eventType string, details map[string]string)
}

// LoginOutcome is the result of one authentication attempt. PasswordHash
// is stripped from the returned verifier before it leaves this package.
type LoginOutcome struct {
	Success       bool
	AccountLocked bool
	Verifier      *model.Verifier
}

// Store authenticates verifiers and enforces the brute-force lockout.
// Every attempt emits exactly one security event and performs at most
// one counter mutation.
type Store struct {
	verifiers scylla.VerifierStore
	lockouts  LockoutCache
	hasher    *hashing.Hasher
	trail     EventRecorder

	maxAttempts     uint
	lockoutDuration time.Duration

	// Injectable clock for lockout-window tests.
	now func() time.Time
}

func NewStore(verifiers scylla.VerifierStore, lockouts LockoutCache,
	hasher *hashing.Hasher, trail EventRecorder, sec config.SecurityConfig) *Store {

	return &Store{
		verifiers:       verifiers,
		lockouts:        lockouts,
		hasher:          hasher,
		trail:           trail,
		maxAttempts:     uint(sec.MaxLoginAttempts),
		lockoutDuration: sec.LockoutDuration,
		now:             time.Now,
	}
}

// Login runs the full attempt sequence: input validation, lockout check,
// verifier lookup, password verification, then counter bookkeeping.
// Lockout is checked before the password, so a locked account rejects
// even a correct password. Failures for unknown ids are counted the same
// as wrong passwords, and the work done for an unknown id matches a real
// hash verification.
func (s *Store) Login(ctx context.Context, id, password, sourceAddress string) (*LoginOutcome, error) {
	now := s.now().UTC()

	if id == "" || password == "" {
		s.trail.RecordSecurityEvent(ctx, sourceAddress, model.EventLoginInvalidInput, map[string]string{
			"source_address": sourceAddress,
			"reason":         "empty credentials",
		})
		return nil, apperr.ErrInvalidInput
	}
	if util.ContainsSuspicious(id) {
		s.trail.RecordSecurityEvent(ctx, sourceAddress, model.EventSQLInjectionAttempt, map[string]string{
			"source_address": sourceAddress,
			"field":          "verifier_id",
		})
		return nil, apperr.ErrInvalidInput
	}

	state, err := s.lockouts.Failures(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.locked(state, now) {
		s.trail.RecordSecurityEvent(ctx, id, model.EventAccountLockedAttempt, map[string]string{
			"verifier_id":     id,
			"source_address":  sourceAddress,
			"failed_attempts": strconv.FormatUint(uint64(state.Count), 10),
		})
		return &LoginOutcome{AccountLocked: true}, apperr.ErrLockout
	}

	verifier, err := s.verifiers.GetActive(ctx, id)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			// Burn the same argon2 work as a real verification so
			// response timing does not reveal which ids exist.
			s.hasher.DummyVerify(password)
			return s.recordFailure(ctx, id, sourceAddress, now, "unknown verifier", false)
		}
		return nil, err
	}

	match, err := s.hasher.Verify(password, verifier.PasswordHash)
	if err != nil {
		util.Error("Password hash verification error",
			zap.String("verifier_id", id),
			zap.Error(err))
		return nil, apperr.ErrAuthentication
	}
	if !match {
		return s.recordFailure(ctx, id, sourceAddress, now, "wrong password", true)
	}

	if err := s.lockouts.Reset(ctx, id); err != nil {
		util.Warn("Failed to reset lockout counter after successful login",
			zap.String("verifier_id", id),
			zap.Error(err))
	}
	if err := s.verifiers.RecordSuccessfulLogin(ctx, id, now); err != nil {
		util.Warn("Failed to record successful login",
			zap.String("verifier_id", id),
			zap.Error(err))
	}

	s.trail.RecordSecurityEvent(ctx, id, model.EventLoginSuccess, map[string]string{
		"verifier_id":    id,
		"source_address": sourceAddress,
	})

	verifier.PasswordHash = ""
	verifier.FailedAttempts = 0
	verifier.LastSuccessfulLogin = &now

	return &LoginOutcome{Success: true, Verifier: verifier}, nil
}

// Provision creates a new active verifier with a freshly hashed password.
func (s *Store) Provision(ctx context.Context, v *model.Verifier, password string) error {
	if v.ID == "" || password == "" {
		return apperr.ErrInvalidInput
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return err
	}
	v.PasswordHash = hash
	v.IsActive = true

	return s.verifiers.Create(ctx, v)
}

// Deactivate disables a verifier. Subsequent logins see the same error
// shape as an unknown id.
func (s *Store) Deactivate(ctx context.Context, id string) error {
	if id == "" {
		return apperr.ErrInvalidInput
	}
	return s.verifiers.Deactivate(ctx, id)
}

func (s *Store) locked(state FailureState, now time.Time) bool {
	return state.Count >= s.maxAttempts &&
		now.Before(state.LastFailure.Add(s.lockoutDuration))
}

func (s *Store) recordFailure(ctx context.Context, id, sourceAddress string, now time.Time, reason string, knownVerifier bool) (*LoginOutcome, error) {
	state, err := s.lockouts.RecordFailure(ctx, id, now)
	if err != nil {
		return nil, err
	}

	// Mirror the counter onto the verifier row so the lockout survives a
	// cache loss. Best-effort.
	if knownVerifier {
		if updateErr := s.verifiers.RecordFailedAttempt(ctx, id, state.Count, now); updateErr != nil {
			util.Warn("Failed to mirror failed-attempt counter",
				zap.String("verifier_id", id),
				zap.Error(updateErr))
		}
	}

	s.trail.RecordSecurityEvent(ctx, id, model.EventLoginFailed, map[string]string{
		"verifier_id":     id,
		"source_address":  sourceAddress,
		"reason":          reason,
		"failed_attempts": strconv.FormatUint(uint64(state.Count), 10),
	})

	return &LoginOutcome{AccountLocked: s.locked(state, now)}, apperr.ErrAuthentication
}
