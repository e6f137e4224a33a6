package audit

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"verify-service/internal/bucketing"
	"verify-service/internal/config"
	"verify-service/internal/model"
	"verify-service/internal/repository/scylla"
	"verify-service/internal/util"
)

const (
	analyticsInsertQuery = "INSERT INTO security_events (event_date, event_type, severity, event_bucket, created_at, details)"
	analyticsBatchSize   = 100
	analyticsFlushEvery  = 5 * time.Second
	analyticsQueueDepth  = 4096
)

// Publisher is the slice of the Kafka producer the trail needs.
type Publisher interface {
	ProduceMessage(ctx context.Context, topic string, key, value []byte, headers map[string]string) error
}

// BatchInserter is the slice of the ClickHouse client the trail needs.
type BatchInserter interface {
	BatchInsert(ctx context.Context, query string, data [][]interface{}) error
}

// Trail records administrative actions and security events. The Scylla
// write is the source of truth; Kafka and ClickHouse are best-effort
// side channels and their failures never surface to callers.
type Trail struct {
	store     scylla.AuditStore
	publisher Publisher
	analytics BatchInserter
	bucketing *bucketing.BucketingManager
	cfg       *config.KafkaConfig
	now       func() time.Time

	rows chan []interface{}
	wg   sync.WaitGroup
	stop chan struct{}
	once sync.Once
}

func NewTrail(store scylla.AuditStore, publisher Publisher, analytics BatchInserter,
	bm *bucketing.BucketingManager, kafkaCfg *config.KafkaConfig) *Trail {

	t := &Trail{
		store:     store,
		publisher: publisher,
		analytics: analytics,
		bucketing: bm,
		cfg:       kafkaCfg,
		now:       time.Now,
		rows:      make(chan []interface{}, analyticsQueueDepth),
		stop:      make(chan struct{}),
	}

	if analytics != nil {
		t.wg.Add(1)
		go t.flushLoop()
	}

	return t
}

// RecordAction appends an administrative action to the audit log.
func (t *Trail) RecordAction(ctx context.Context, verifierID, action string, details map[string]string, sourceAddress string) error {
	entry := &model.AuditEntry{
		ID:            gocql.TimeUUID().String(),
		VerifierID:    verifierID,
		Action:        action,
		Details:       details,
		Timestamp:     t.now().UTC(),
		SourceAddress: sourceAddress,
	}

	if err := t.store.InsertAuditEntry(ctx, entry); err != nil {
		util.Error("Failed to record audit action",
			zap.String("verifier_id", verifierID),
			zap.String("action", action),
			zap.Error(err))
		return err
	}

	return nil
}

// RecordSecurityEvent classifies and records a security event keyed by
// the identifier involved (verifier id, roll number, or source address).
// Severity is derived from the event type; callers never choose it.
// Fire-and-forget: a trail failure must never abort the operation that
// raised the event.
func (t *Trail) RecordSecurityEvent(ctx context.Context, identifier, eventType string, details map[string]string) {
	now := t.now().UTC()
	ev := &model.SecurityEvent{
		EventBucket: t.bucketing.EventBucket(identifier),
		EventType:   eventType,
		Severity:    model.SeverityFor(eventType),
		Details:     details,
		Timestamp:   now,
	}
	eventDate := t.bucketing.DateBucket(now)

	if err := t.store.InsertSecurityEvent(ctx, ev, eventDate); err != nil {
		util.Error("Failed to persist security event",
			zap.String("event_type", eventType),
			zap.String("severity", string(ev.Severity)),
			zap.Error(err))
	}

	if ev.Severity == model.SeverityCritical || ev.Severity == model.SeverityHigh {
		util.Warn("Security event",
			zap.String("event_type", eventType),
			zap.String("severity", string(ev.Severity)),
			zap.Any("details", details))
	}

	t.publishEvent(ctx, identifier, ev)
	t.enqueueAnalytics(ev, eventDate)
}

// PublishResult pushes a completed verification result to the results
// topic for downstream consumers. Best-effort.
func (t *Trail) PublishResult(ctx context.Context, res *model.VerificationResult) {
	if t.publisher == nil || t.cfg == nil || t.cfg.ResultsTopic == "" {
		return
	}

	payload, err := json.Marshal(res)
	if err != nil {
		util.Error("Failed to marshal verification result", zap.Error(err))
		return
	}

	headers := map[string]string{
		"content-type": "application/json",
		"event":        model.EventVerificationComplete,
	}
	if err := t.publisher.ProduceMessage(ctx, t.cfg.ResultsTopic, []byte(res.RollNumber), payload, headers); err != nil {
		util.Warn("Failed to publish verification result",
			zap.String("roll_number", res.RollNumber),
			zap.Error(err))
	}
}

func (t *Trail) publishEvent(ctx context.Context, identifier string, ev *model.SecurityEvent) {
	if t.publisher == nil || t.cfg == nil || t.cfg.SecurityEventsTopic == "" {
		return
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		util.Error("Failed to marshal security event", zap.Error(err))
		return
	}

	headers := map[string]string{
		"content-type": "application/json",
		"severity":     string(ev.Severity),
	}
	if err := t.publisher.ProduceMessage(ctx, t.cfg.SecurityEventsTopic, []byte(identifier), payload, headers); err != nil {
		util.Warn("Failed to publish security event",
			zap.String("event_type", ev.EventType),
			zap.Error(err))
	}
}

func (t *Trail) enqueueAnalytics(ev *model.SecurityEvent, eventDate string) {
	if t.analytics == nil {
		return
	}

	detailsJSON, err := json.Marshal(ev.Details)
	if err != nil {
		detailsJSON = []byte("{}")
	}

	row := []interface{}{
		eventDate,
		ev.EventType,
		string(ev.Severity),
		int32(ev.EventBucket),
		ev.Timestamp,
		string(detailsJSON),
	}

	select {
	case t.rows <- row:
	default:
		// Analytics is lossy under backpressure; the Scylla copy is
		// already durable.
		util.Warn("Analytics queue full, dropping security event row",
			zap.String("event_type", ev.EventType))
	}
}

// flushLoop drains queued rows into ClickHouse in batches, sending when
// the batch fills or the flush interval elapses.
func (t *Trail) flushLoop() {
	defer t.wg.Done()

	ticker := time.NewTicker(analyticsFlushEvery)
	defer ticker.Stop()

	batch := make([][]interface{}, 0, analyticsBatchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := t.analytics.BatchInsert(ctx, analyticsInsertQuery, batch); err != nil {
			util.Error("Failed to flush security events to analytics",
				zap.Int("rows", len(batch)),
				zap.Error(err))
		}
		cancel()
		batch = batch[:0]
	}

	for {
		select {
		case row := <-t.rows:
			batch = append(batch, row)
			if len(batch) >= analyticsBatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-t.stop:
			for {
				select {
				case row := <-t.rows:
					batch = append(batch, row)
					if len(batch) >= analyticsBatchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}

// Close stops the analytics flusher after draining queued rows.
func (t *Trail) Close() {
	t.once.Do(func() {
		close(t.stop)
	})
	t.wg.Wait()
}
