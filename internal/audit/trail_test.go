package audit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"verify-service/internal/bucketing"
	"verify-service/internal/config"
	"verify-service/internal/model"
)

type capturedEvent struct {
	event     *model.SecurityEvent
	eventDate string
}

type memoryAuditStore struct {
	mu      sync.Mutex
	entries []*model.AuditEntry
	events  []capturedEvent
}

func (m *memoryAuditStore) InsertAuditEntry(_ context.Context, e *model.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func (m *memoryAuditStore) InsertSecurityEvent(_ context.Context, ev *model.SecurityEvent, eventDate string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, capturedEvent{event: ev, eventDate: eventDate})
	return nil
}

type capturedMessage struct {
	topic   string
	key     string
	headers map[string]string
}

type memoryPublisher struct {
	mu       sync.Mutex
	messages []capturedMessage
}

func (m *memoryPublisher) ProduceMessage(_ context.Context, topic string, key, _ []byte, headers map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, capturedMessage{topic: topic, key: string(key), headers: headers})
	return nil
}

type memoryBatchInserter struct {
	mu   sync.Mutex
	rows [][]interface{}
}

func (m *memoryBatchInserter) BatchInsert(_ context.Context, _ string, data [][]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, data...)
	return nil
}

func testBucketing() *bucketing.BucketingManager {
	return bucketing.NewBucketingManager(&config.Config{
		Bucketing: config.BucketingConfig{CandidateBuckets: 64, EventBuckets: 16},
	})
}

func kafkaCfg() *config.KafkaConfig {
	return &config.KafkaConfig{
		SecurityEventsTopic: "security-events",
		ResultsTopic:        "verification-results",
	}
}

func TestRecordSecurityEventDerivesSeverity(t *testing.T) {
	store := &memoryAuditStore{}
	trail := NewTrail(store, nil, nil, testBucketing(), kafkaCfg())
	defer trail.Close()

	ctx := context.Background()
	trail.RecordSecurityEvent(ctx, "VER001", model.EventAccountLockedAttempt, nil)
	trail.RecordSecurityEvent(ctx, "VER001", model.EventLoginFailed, nil)
	trail.RecordSecurityEvent(ctx, "VER001", model.EventLoginSuccess, nil)
	trail.RecordSecurityEvent(ctx, "VER001", "SOMETHING_NEW", nil)

	require.Len(t, store.events, 4)
	assert.Equal(t, model.SeverityCritical, store.events[0].event.Severity)
	assert.Equal(t, model.SeverityHigh, store.events[1].event.Severity)
	assert.Equal(t, model.SeverityMedium, store.events[2].event.Severity)
	assert.Equal(t, model.SeverityLow, store.events[3].event.Severity)
}

func TestRecordSecurityEventBucketsAndDates(t *testing.T) {
	store := &memoryAuditStore{}
	trail := NewTrail(store, nil, nil, testBucketing(), kafkaCfg())
	defer trail.Close()

	fixed := time.Date(2026, 9, 1, 23, 59, 0, 0, time.UTC)
	trail.now = func() time.Time { return fixed }

	trail.RecordSecurityEvent(context.Background(), "VER001", model.EventDataAccess, map[string]string{"k": "v"})

	require.Len(t, store.events, 1)
	got := store.events[0]
	assert.Equal(t, "2026-09-01", got.eventDate)
	assert.Equal(t, fixed, got.event.Timestamp)
	assert.GreaterOrEqual(t, got.event.EventBucket, 0)
	assert.Less(t, got.event.EventBucket, 16)
	assert.Equal(t, "v", got.event.Details["k"])
}

func TestRecordSecurityEventPublishes(t *testing.T) {
	store := &memoryAuditStore{}
	pub := &memoryPublisher{}
	trail := NewTrail(store, pub, nil, testBucketing(), kafkaCfg())
	defer trail.Close()

	trail.RecordSecurityEvent(context.Background(), "VER001", model.EventUnauthorizedAccess, nil)

	require.Len(t, pub.messages, 1)
	msg := pub.messages[0]
	assert.Equal(t, "security-events", msg.topic)
	assert.Equal(t, "VER001", msg.key)
	assert.Equal(t, string(model.SeverityCritical), msg.headers["severity"])
}

func TestAnalyticsRowsFlushOnClose(t *testing.T) {
	store := &memoryAuditStore{}
	analytics := &memoryBatchInserter{}
	trail := NewTrail(store, nil, analytics, testBucketing(), kafkaCfg())

	ctx := context.Background()
	for i := 0; i < 7; i++ {
		trail.RecordSecurityEvent(ctx, "VER001", model.EventLoginFailed, nil)
	}

	trail.Close()

	analytics.mu.Lock()
	defer analytics.mu.Unlock()
	assert.Len(t, analytics.rows, 7)
}

func TestRecordAction(t *testing.T) {
	store := &memoryAuditStore{}
	trail := NewTrail(store, nil, nil, testBucketing(), kafkaCfg())
	defer trail.Close()

	err := trail.RecordAction(context.Background(), "ADMIN1", "VERIFIER_PROVISIONED",
		map[string]string{"verifier_id": "VER001"}, "10.0.0.1")
	require.NoError(t, err)

	require.Len(t, store.entries, 1)
	entry := store.entries[0]
	assert.Equal(t, "ADMIN1", entry.VerifierID)
	assert.Equal(t, "VERIFIER_PROVISIONED", entry.Action)
	assert.Equal(t, "10.0.0.1", entry.SourceAddress)
	assert.NotEmpty(t, entry.ID)
	assert.False(t, entry.Timestamp.IsZero())
}

func TestPublishResult(t *testing.T) {
	store := &memoryAuditStore{}
	pub := &memoryPublisher{}
	trail := NewTrail(store, pub, nil, testBucketing(), kafkaCfg())
	defer trail.Close()

	trail.PublishResult(context.Background(), &model.VerificationResult{
		ID:          "res-1",
		RollNumber:  "ROLL123456",
		FinalStatus: model.StatusVerified,
	})

	require.Len(t, pub.messages, 1)
	assert.Equal(t, "verification-results", pub.messages[0].topic)
	assert.Equal(t, "ROLL123456", pub.messages[0].key)
}
