package credential

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"verify-service/internal/apperr"
	"verify-service/internal/config"
	"verify-service/internal/hashing"
	"verify-service/internal/model"
)

// fastParams keep argon2 cheap in tests.
var fastParams = hashing.Argon2Params{
	Memory:      1024,
	Iterations:  1,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   32,
}

type memoryVerifierStore struct {
	verifiers map[string]*model.Verifier
	mirrored  map[string]uint
}

func newMemoryVerifierStore() *memoryVerifierStore {
	return &memoryVerifierStore{
		verifiers: make(map[string]*model.Verifier),
		mirrored:  make(map[string]uint),
	}
}

func (m *memoryVerifierStore) GetActive(_ context.Context, id string) (*model.Verifier, error) {
	v, ok := m.verifiers[id]
	if !ok || !v.IsActive {
		return nil, apperr.ErrNotFound
	}
	copied := *v
	return &copied, nil
}

func (m *memoryVerifierStore) Create(_ context.Context, v *model.Verifier) error {
	m.verifiers[v.ID] = v
	return nil
}

func (m *memoryVerifierStore) RecordFailedAttempt(_ context.Context, id string, count uint, at time.Time) error {
	m.mirrored[id] = count
	if v, ok := m.verifiers[id]; ok {
		v.FailedAttempts = count
		v.LastFailedAttempt = &at
	}
	return nil
}

func (m *memoryVerifierStore) RecordSuccessfulLogin(_ context.Context, id string, at time.Time) error {
	if v, ok := m.verifiers[id]; ok {
		v.FailedAttempts = 0
		v.LastSuccessfulLogin = &at
	}
	return nil
}

func (m *memoryVerifierStore) Deactivate(_ context.Context, id string) error {
	if v, ok := m.verifiers[id]; ok {
		v.IsActive = false
	}
	return nil
}

type memoryLockoutCache struct {
	states map[string]FailureState
	resets int
}

func newMemoryLockoutCache() *memoryLockoutCache {
	return &memoryLockoutCache{states: make(map[string]FailureState)}
}

func (m *memoryLockoutCache) Failures(_ context.Context, id string) (FailureState, error) {
	return m.states[id], nil
}

func (m *memoryLockoutCache) RecordFailure(_ context.Context, id string, now time.Time) (FailureState, error) {
	state := m.states[id]
	state.Count++
	state.LastFailure = now
	m.states[id] = state
	return state, nil
}

func (m *memoryLockoutCache) Reset(_ context.Context, id string) error {
	delete(m.states, id)
	m.resets++
	return nil
}

type recordedEvent struct {
	identifier string
	eventType  string
	details    map[string]string
}

type eventCapture struct {
	events []recordedEvent
}

func (e *eventCapture) RecordSecurityEvent(_ context.Context, identifier, eventType string, details map[string]string) {
	e.events = append(e.events, recordedEvent{identifier: identifier, eventType: eventType, details: details})
}

func (e *eventCapture) types() []string {
	out := make([]string, len(e.events))
	for i, ev := range e.events {
		out[i] = ev.eventType
	}
	return out
}

type fixture struct {
	store    *Store
	vstore   *memoryVerifierStore
	lockouts *memoryLockoutCache
	events   *eventCapture
	clock    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		vstore:   newMemoryVerifierStore(),
		lockouts: newMemoryLockoutCache(),
		events:   &eventCapture{},
		clock:    time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC),
	}

	hasher := hashing.NewHasher(fastParams)
	f.store = NewStore(f.vstore, f.lockouts, hasher, f.events, config.SecurityConfig{
		MaxLoginAttempts: 3,
		LockoutDuration:  15 * time.Minute,
	})
	f.store.now = func() time.Time { return f.clock }

	require.NoError(t, f.store.Provision(context.Background(), &model.Verifier{
		ID:             "VER001",
		Name:           "Ravi Kumar",
		AssignedCentre: "C001",
	}, "correct horse"))
	f.events.events = nil

	return f
}

func (f *fixture) advance(d time.Duration) { f.clock = f.clock.Add(d) }

func TestLoginSuccess(t *testing.T) {
	f := newFixture(t)

	outcome, err := f.store.Login(context.Background(), "VER001", "correct horse", "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, outcome.Success)
	require.NotNil(t, outcome.Verifier)
	// The hash never leaves the store.
	assert.Empty(t, outcome.Verifier.PasswordHash)
	assert.Equal(t, []string{model.EventLoginSuccess}, f.events.types())
}

func TestLoginWrongPasswordCountsFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	outcome, err := f.store.Login(ctx, "VER001", "wrong", "10.0.0.1")
	assert.ErrorIs(t, err, apperr.ErrAuthentication)
	require.NotNil(t, outcome)
	assert.False(t, outcome.Success)
	assert.False(t, outcome.AccountLocked)

	assert.Equal(t, uint(1), f.lockouts.states["VER001"].Count)
	assert.Equal(t, uint(1), f.vstore.mirrored["VER001"])
	assert.Equal(t, []string{model.EventLoginFailed}, f.events.types())
}

func TestLockoutAfterMaxAttempts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.store.Login(ctx, "VER001", "wrong", "10.0.0.1")
		assert.ErrorIs(t, err, apperr.ErrAuthentication)
	}

	// Even the correct password is refused while the window holds, and
	// the attempt does not bump the counter again.
	outcome, err := f.store.Login(ctx, "VER001", "correct horse", "10.0.0.1")
	assert.ErrorIs(t, err, apperr.ErrLockout)
	require.NotNil(t, outcome)
	assert.True(t, outcome.AccountLocked)
	assert.Equal(t, uint(3), f.lockouts.states["VER001"].Count)

	types := f.events.types()
	assert.Equal(t, model.EventAccountLockedAttempt, types[len(types)-1])
}

func TestLockoutExpiresAfterWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.store.Login(ctx, "VER001", "wrong", "10.0.0.1")
		assert.ErrorIs(t, err, apperr.ErrAuthentication)
	}

	f.advance(16 * time.Minute)

	outcome, err := f.store.Login(ctx, "VER001", "correct horse", "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, outcome.Success)
	// Success clears the counters.
	assert.Equal(t, uint(0), f.lockouts.states["VER001"].Count)
	assert.Equal(t, 1, f.lockouts.resets)
}

func TestThirdFailureLocksImmediately(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var outcome *LoginOutcome
	var err error
	for i := 0; i < 3; i++ {
		outcome, err = f.store.Login(ctx, "VER001", "wrong", "10.0.0.1")
		assert.ErrorIs(t, err, apperr.ErrAuthentication)
	}
	// The failure that reaches the limit already reports the lock.
	assert.True(t, outcome.AccountLocked)
}

func TestUnknownVerifierCountsAndLooksIdentical(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.store.Login(ctx, "GHOST42", "whatever", "10.0.0.1")
	assert.ErrorIs(t, err, apperr.ErrAuthentication)
	assert.Equal(t, uint(1), f.lockouts.states["GHOST42"].Count)
	// The ghost id never lands in the verifier table.
	assert.NotContains(t, f.vstore.mirrored, "GHOST42")
	assert.Equal(t, []string{model.EventLoginFailed}, f.events.types())

	// Repeated probes against the unknown id lock it too.
	for i := 0; i < 2; i++ {
		_, err = f.store.Login(ctx, "GHOST42", "whatever", "10.0.0.1")
		assert.ErrorIs(t, err, apperr.ErrAuthentication)
	}
	_, err = f.store.Login(ctx, "GHOST42", "whatever", "10.0.0.1")
	assert.ErrorIs(t, err, apperr.ErrLockout)
}

func TestLoginEmptyInput(t *testing.T) {
	f := newFixture(t)

	_, err := f.store.Login(context.Background(), "", "", "10.0.0.1")
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
	assert.Equal(t, []string{model.EventLoginInvalidInput}, f.events.types())
	assert.Empty(t, f.lockouts.states)
}

func TestLoginSuspiciousIDFlagged(t *testing.T) {
	f := newFixture(t)

	_, err := f.store.Login(context.Background(), "x' OR '1'='1", "pw", "10.0.0.1")
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
	assert.Equal(t, []string{model.EventSQLInjectionAttempt}, f.events.types())
	// Rejected before any store access.
	assert.Empty(t, f.lockouts.states)
}

func TestDeactivatedVerifierLooksUnknown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.store.Deactivate(ctx, "VER001"))

	_, err := f.store.Login(ctx, "VER001", "correct horse", "10.0.0.1")
	assert.ErrorIs(t, err, apperr.ErrAuthentication)
	assert.Equal(t, []string{model.EventLoginFailed}, f.events.types())
}

func TestExactlyOneEventPerAttempt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _ = f.store.Login(ctx, "VER001", "correct horse", "10.0.0.1")
	_, _ = f.store.Login(ctx, "VER001", "wrong", "10.0.0.1")
	_, _ = f.store.Login(ctx, "", "", "10.0.0.1")

	assert.Len(t, f.events.events, 3)
}
