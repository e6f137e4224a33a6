package matcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"verify-service/internal/apperr"
	"verify-service/internal/config"
)

func TestSimulatedMatcherIdenticalTemplates(t *testing.T) {
	m := &SimulatedMatcher{}

	res, err := m.Match(context.Background(), []byte("template"), []byte("template"))
	require.NoError(t, err)
	assert.True(t, res.IsMatch)
	assert.GreaterOrEqual(t, res.Confidence, 90.0)
}

func TestSimulatedMatcherIsDeterministic(t *testing.T) {
	m := &SimulatedMatcher{}
	ctx := context.Background()

	a, err := m.Match(ctx, []byte("ref"), []byte("sample"))
	require.NoError(t, err)
	b, err := m.Match(ctx, []byte("ref"), []byte("sample"))
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.False(t, a.IsMatch)
	assert.Less(t, a.Confidence, 70.0)
}

func TestSimulatedMatcherEmptyTemplate(t *testing.T) {
	m := &SimulatedMatcher{}

	_, err := m.Match(context.Background(), nil, []byte("sample"))
	assert.ErrorIs(t, err, apperr.ErrDevice)
}

func TestRemoteMatcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.Write([]byte(`{"is_match":true,"confidence":83.5}`))
	}))
	defer srv.Close()

	m := NewRemoteMatcher(config.MatcherConfig{
		RemoteEndpoint: srv.URL,
		CallTimeout:    time.Second,
	})

	res, err := m.Match(context.Background(), []byte("ref"), []byte("sample"))
	require.NoError(t, err)
	assert.True(t, res.IsMatch)
	assert.InDelta(t, 83.5, res.Confidence, 0.01)
}

func TestRemoteMatcherErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	m := NewRemoteMatcher(config.MatcherConfig{RemoteEndpoint: srv.URL, CallTimeout: time.Second})

	_, err := m.Match(context.Background(), []byte("ref"), []byte("sample"))
	assert.ErrorIs(t, err, apperr.ErrDevice)
}

func TestRemoteMatcherTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	m := NewRemoteMatcher(config.MatcherConfig{
		RemoteEndpoint: srv.URL,
		CallTimeout:    20 * time.Millisecond,
	})

	_, err := m.Match(context.Background(), []byte("ref"), []byte("sample"))
	assert.ErrorIs(t, err, apperr.ErrDevice)
}

func TestNewSelectsMode(t *testing.T) {
	assert.IsType(t, &SimulatedMatcher{}, New(config.MatcherConfig{Mode: "simulated"}))
	assert.IsType(t, &RemoteMatcher{}, New(config.MatcherConfig{Mode: "remote", RemoteEndpoint: "http://matcher:9000"}))
	// Remote without an endpoint falls back to simulation.
	assert.IsType(t, &SimulatedMatcher{}, New(config.MatcherConfig{Mode: "remote"}))
}
