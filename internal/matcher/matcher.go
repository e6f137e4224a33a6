package matcher

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spaolacci/murmur3"
	"go.uber.org/zap"

	"verify-service/internal/apperr"
	"verify-service/internal/config"
	"verify-service/internal/util"
)

// MatchResult is the raw outcome of a template comparison. Confidence is
// a 0-100 score; callers decide what score is good enough.
type MatchResult struct {
	IsMatch    bool    `json:"is_match"`
	Confidence float64 `json:"confidence"`
}

// BiometricMatcher compares a stored reference template against a live
// capture sample.
type BiometricMatcher interface {
	Match(ctx context.Context, reference, sample []byte) (MatchResult, error)
}

// New selects the matcher implementation from configuration.
func New(cfg config.MatcherConfig) BiometricMatcher {
	if cfg.Mode == "remote" && cfg.RemoteEndpoint != "" {
		return NewRemoteMatcher(cfg)
	}
	return &SimulatedMatcher{}
}

// RemoteMatcher delegates comparison to an external matching engine over
// HTTP. Device failures and timeouts surface as apperr.ErrDevice.
type RemoteMatcher struct {
	endpoint string
	client   *http.Client
}

func NewRemoteMatcher(cfg config.MatcherConfig) *RemoteMatcher {
	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &RemoteMatcher{
		endpoint: cfg.RemoteEndpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

type remoteMatchRequest struct {
	Reference string `json:"reference"`
	Sample    string `json:"sample"`
}

func (m *RemoteMatcher) Match(ctx context.Context, reference, sample []byte) (MatchResult, error) {
	payload, err := json.Marshal(remoteMatchRequest{
		Reference: base64.StdEncoding.EncodeToString(reference),
		Sample:    base64.StdEncoding.EncodeToString(sample),
	})
	if err != nil {
		return MatchResult{}, fmt.Errorf("%w: encode match request: %v", apperr.ErrDevice, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, bytes.NewReader(payload))
	if err != nil {
		return MatchResult{}, fmt.Errorf("%w: build match request: %v", apperr.ErrDevice, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		util.Warn("Matching engine call failed", zap.Error(err))
		return MatchResult{}, fmt.Errorf("%w: %v", apperr.ErrDevice, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return MatchResult{}, fmt.Errorf("%w: matching engine returned status %d", apperr.ErrDevice, resp.StatusCode)
	}

	var result MatchResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return MatchResult{}, fmt.Errorf("%w: decode match response: %v", apperr.ErrDevice, err)
	}

	return result, nil
}

// SimulatedMatcher is a deterministic stand-in for centres running
// without a matching engine. Identical templates score high; everything
// else scores from a stable hash of both inputs so repeated comparisons
// agree.
type SimulatedMatcher struct{}

func (m *SimulatedMatcher) Match(_ context.Context, reference, sample []byte) (MatchResult, error) {
	if len(reference) == 0 || len(sample) == 0 {
		return MatchResult{}, fmt.Errorf("%w: empty template", apperr.ErrDevice)
	}

	if bytes.Equal(reference, sample) {
		h := murmur3.Sum32(reference)
		return MatchResult{
			IsMatch:    true,
			Confidence: 90 + float64(h%1000)/100,
		}, nil
	}

	h := murmur3.New32()
	h.Write(reference)
	h.Write(sample)
	score := float64(h.Sum32() % 70)

	return MatchResult{
		IsMatch:    false,
		Confidence: score,
	}, nil
}
