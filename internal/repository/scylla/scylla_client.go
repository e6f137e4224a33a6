package scylla

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"verify-service/internal/config"
	"verify-service/internal/util"
)

// PreparedStatements holds the statements the repositories actually use.
type PreparedStatements struct {
	CreateVerifier        *gocql.Query
	GetActiveVerifier     *gocql.Query
	RecordFailedAttempt   *gocql.Query
	RecordSuccessfulLogin *gocql.Query
	DeactivateVerifier    *gocql.Query

	UpsertCandidate *gocql.Query
	GetCandidate    *gocql.Query

	InsertResult *gocql.Query

	InsertAuditEntry   *gocql.Query
	InsertSecurityLog  *gocql.Query
	ListResultsForRoll *gocql.Query
}

type ScyllaClient struct {
	Session      *gocql.Session
	config       *config.ScyllaConfig
	Prepared     *PreparedStatements
	prepareMutex sync.RWMutex
	isPrepared   bool
}

func NewScyllaClient(cfg *config.Config, logger *zap.Logger) (*ScyllaClient, error) {
	scyllaConfig := cfg.Scylla

	cluster := gocql.NewCluster(scyllaConfig.Nodes...)
	cluster.Keyspace = scyllaConfig.Keyspace
	cluster.Consistency = gocql.LocalQuorum
	cluster.Timeout = 10 * time.Second
	cluster.ConnectTimeout = 10 * time.Second
	cluster.NumConns = 4
	cluster.SocketKeepalive = 30 * time.Second
	cluster.PageSize = 1000
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		Min:        time.Second,
		Max:        10 * time.Second,
		NumRetries: 3,
	}

	if scyllaConfig.Username != "" && scyllaConfig.Password != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: scyllaConfig.Username,
			Password: scyllaConfig.Password,
		}
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create scylla session: %w", err)
	}

	client := &ScyllaClient{
		Session: session,
		config:  &scyllaConfig,
	}

	if err := client.prepareStatements(); err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	util.Info("ScyllaDB client initialized with prepared statements",
		zap.Strings("nodes", scyllaConfig.Nodes),
		zap.String("keyspace", scyllaConfig.Keyspace))

	return client, nil
}

func (s *ScyllaClient) prepareStatements() error {
	s.prepareMutex.Lock()
	defer s.prepareMutex.Unlock()

	if s.isPrepared {
		return nil
	}

	prepared := &PreparedStatements{}

	prepared.CreateVerifier = s.Session.Query(`
        INSERT INTO verifiers (
            verifier_id, name, assigned_date, assigned_shift, assigned_centre,
            password_hash, failed_attempts, last_failed_attempt,
            last_successful_login, is_active, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	prepared.GetActiveVerifier = s.Session.Query(`
        SELECT verifier_id, name, assigned_date, assigned_shift, assigned_centre,
            password_hash, failed_attempts, last_failed_attempt,
            last_successful_login, is_active, created_at, updated_at
        FROM verifiers WHERE verifier_id = ?`)

	prepared.RecordFailedAttempt = s.Session.Query(`
        UPDATE verifiers SET failed_attempts = ?, last_failed_attempt = ?, updated_at = ?
        WHERE verifier_id = ?`)

	prepared.RecordSuccessfulLogin = s.Session.Query(`
        UPDATE verifiers SET failed_attempts = 0, last_successful_login = ?, updated_at = ?
        WHERE verifier_id = ?`)

	prepared.DeactivateVerifier = s.Session.Query(`
        UPDATE verifiers SET is_active = false, updated_at = ?
        WHERE verifier_id = ?`)

	prepared.UpsertCandidate = s.Session.Query(`
        INSERT INTO candidates (
            candidate_bucket, roll_number, name, exam_date, shift, centre,
            photo_ref, fingerprint_template_1, fingerprint_template_2,
            retina_template, phone, email, father_name, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	prepared.GetCandidate = s.Session.Query(`
        SELECT candidate_bucket, roll_number, name, exam_date, shift, centre,
            photo_ref, fingerprint_template_1, fingerprint_template_2,
            retina_template, phone, email, father_name, created_at, updated_at
        FROM candidates WHERE candidate_bucket = ? AND roll_number = ?`)

	prepared.InsertResult = s.Session.Query(`
        INSERT INTO verification_results (
            roll_number, created_at, result_id, verifier_id,
            qr_scan_passed, face_passed, face_confidence,
            fingerprint_passed, fingerprint_confidence,
            retina_passed, retina_confidence, final_status, notes
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	prepared.ListResultsForRoll = s.Session.Query(`
        SELECT roll_number, created_at, result_id, verifier_id,
            qr_scan_passed, face_passed, face_confidence,
            fingerprint_passed, fingerprint_confidence,
            retina_passed, retina_confidence, final_status, notes
        FROM verification_results WHERE roll_number = ?`)

	prepared.InsertAuditEntry = s.Session.Query(`
        INSERT INTO audit_logs (
            verifier_id, created_at, entry_id, action, details, source_address
        ) VALUES (?, ?, ?, ?, ?, ?)`)

	prepared.InsertSecurityLog = s.Session.Query(`
        INSERT INTO security_logs (
            event_bucket, event_date, created_at, event_type, severity, details
        ) VALUES (?, ?, ?, ?, ?, ?)`)

	s.Prepared = prepared
	s.isPrepared = true

	return nil
}

func (s *ScyllaClient) Close() {
	if s.Session != nil {
		s.Session.Close()
		util.Info("ScyllaDB client closed")
	}
}

func (s *ScyllaClient) HealthCheck() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var clusterName string
	err := s.Session.Query(`SELECT cluster_name FROM system.local`).WithContext(ctx).Scan(&clusterName)
	if err != nil {
		return fmt.Errorf("scylla health check failed: %w", err)
	}
	return nil
}

func (s *ScyllaClient) ScanWithRetry(query *gocql.Query, dest ...interface{}) error {
	var lastErr error
	for i := 0; i < 3; i++ {
		if err := query.Scan(dest...); err != nil {
			lastErr = err
			if err == gocql.ErrNotFound {
				return err
			}
			if i < 2 {
				time.Sleep(time.Duration(i+1) * 100 * time.Millisecond)
				continue
			}
		} else {
			return nil
		}
	}
	return lastErr
}
