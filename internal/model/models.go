package model

import (
	"time"
)

// Verifier is an operator permitted to run candidate verifications at one
// centre/shift/date assignment. Created at provisioning time; the failure
// counters are mutated only by the credential store.
type Verifier struct {
	ID                  string     `json:"id" db:"verifier_id"`
	Name                string     `json:"name" db:"name"`
	AssignedDate        string     `json:"assigned_date" db:"assigned_date"`
	AssignedShift       string     `json:"assigned_shift" db:"assigned_shift"`
	AssignedCentre      string     `json:"assigned_centre" db:"assigned_centre"`
	PasswordHash        string     `json:"-" db:"password_hash"`
	FailedAttempts      uint       `json:"failed_attempts" db:"failed_attempts"`
	LastFailedAttempt   *time.Time `json:"last_failed_attempt,omitempty" db:"last_failed_attempt"`
	LastSuccessfulLogin *time.Time `json:"last_successful_login,omitempty" db:"last_successful_login"`
	IsActive            bool       `json:"is_active" db:"is_active"`
	CreatedAt           time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at" db:"updated_at"`
}

// Candidate is the exam-taker being identified. Biometric templates are
// opaque encrypted-at-rest blobs (empty string when absent).
type Candidate struct {
	RollNumber           string    `json:"roll_number" db:"roll_number"`
	Name                 string    `json:"name" db:"name"`
	ExamDate             string    `json:"exam_date" db:"exam_date"`
	Shift                string    `json:"shift" db:"shift"`
	Centre               string    `json:"centre" db:"centre"`
	PhotoRef             string    `json:"photo_ref" db:"photo_ref"`
	FingerprintTemplate1 string    `json:"-" db:"fingerprint_template_1"`
	FingerprintTemplate2 string    `json:"-" db:"fingerprint_template_2"`
	RetinaTemplate       string    `json:"-" db:"retina_template"`
	Phone                string    `json:"phone" db:"phone"`
	Email                string    `json:"email" db:"email"`
	FatherName           string    `json:"father_name" db:"father_name"`
	Bucket               int       `json:"-" db:"candidate_bucket"`
	CreatedAt            time.Time `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time `json:"updated_at" db:"updated_at"`
}

// StepKind identifies one stage of a verification session.
type StepKind string

const (
	StepQRScan      StepKind = "QR_SCAN"
	StepFace        StepKind = "FACE"
	StepFingerprint StepKind = "FINGERPRINT"
	StepRetina      StepKind = "RETINA"
)

// StepOrder is the fixed order steps run in within a session.
var StepOrder = []StepKind{StepQRScan, StepFace, StepFingerprint, StepRetina}

// StepStatus is the lifecycle state of a single verification step.
type StepStatus string

const (
	StepPending    StepStatus = "PENDING"
	StepInProgress StepStatus = "IN_PROGRESS"
	StepCompleted  StepStatus = "COMPLETED"
	StepFailed     StepStatus = "FAILED"
)

// Terminal reports whether the status is an end state for a step.
func (s StepStatus) Terminal() bool {
	return s == StepCompleted || s == StepFailed
}

// VerificationStep records the outcome of one step within a session.
// Confidence is a 0-100 match score, nil when the step never produced one.
type VerificationStep struct {
	Kind       StepKind   `json:"kind"`
	Status     StepStatus `json:"status"`
	Confidence *float64   `json:"confidence,omitempty"`
}

// FinalStatus is the single disposition of a completed session.
type FinalStatus string

const (
	StatusVerified FinalStatus = "VERIFIED"
	StatusRejected FinalStatus = "REJECTED"
	StatusPartial  FinalStatus = "PARTIAL"
)

// VerificationResult is the immutable record persisted when a session
// reaches SUMMARY. One per completed session, append-only.
type VerificationResult struct {
	ID                    string      `json:"id" db:"result_id"`
	RollNumber            string      `json:"roll_number" db:"roll_number"`
	VerifierID            string      `json:"verifier_id" db:"verifier_id"`
	Timestamp             time.Time   `json:"timestamp" db:"created_at"`
	QRScanPassed          bool        `json:"qr_scan_passed" db:"qr_scan_passed"`
	FacePassed            bool        `json:"face_passed" db:"face_passed"`
	FaceConfidence        float64     `json:"face_confidence" db:"face_confidence"`
	FingerprintPassed     bool        `json:"fingerprint_passed" db:"fingerprint_passed"`
	FingerprintConfidence float64     `json:"fingerprint_confidence" db:"fingerprint_confidence"`
	RetinaPassed          bool        `json:"retina_passed" db:"retina_passed"`
	RetinaConfidence      float64     `json:"retina_confidence" db:"retina_confidence"`
	FinalStatus           FinalStatus `json:"final_status" db:"final_status"`
	Notes                 string      `json:"notes" db:"notes"`
}

// AuditEntry is an append-only record of an administrative action.
type AuditEntry struct {
	ID            string            `json:"id" db:"entry_id"`
	VerifierID    string            `json:"verifier_id" db:"verifier_id"`
	Action        string            `json:"action" db:"action"`
	Details       map[string]string `json:"details" db:"details"`
	Timestamp     time.Time         `json:"timestamp" db:"created_at"`
	SourceAddress string            `json:"source_address" db:"source_address"`
}

// Severity classifies a security event.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Security event types. Severity is derived from the type, never supplied
// by callers.
const (
	EventLoginInvalidInput    = "LOGIN_INVALID_INPUT"
	EventLoginFailed          = "LOGIN_FAILED"
	EventLoginSuccess         = "LOGIN_SUCCESS"
	EventAccountLockedAttempt = "ACCOUNT_LOCKED_ATTEMPT"
	EventSQLInjectionAttempt  = "SQL_INJECTION_ATTEMPT"
	EventUnauthorizedAccess   = "UNAUTHORIZED_ACCESS"
	EventPermissionDenied     = "PERMISSION_DENIED"
	EventDataBreachAttempt    = "DATA_BREACH_ATTEMPT"
	EventDataAccess           = "DATA_ACCESS"
	EventVerificationComplete = "VERIFICATION_COMPLETED"
	EventInvalidRollLookup    = "INVALID_ROLL_LOOKUP"
)

var severityByEventType = map[string]Severity{
	EventAccountLockedAttempt: SeverityCritical,
	EventSQLInjectionAttempt:  SeverityCritical,
	EventUnauthorizedAccess:   SeverityCritical,
	EventLoginFailed:          SeverityHigh,
	EventPermissionDenied:     SeverityHigh,
	EventDataBreachAttempt:    SeverityHigh,
	EventLoginSuccess:         SeverityMedium,
	EventDataAccess:           SeverityMedium,
	EventVerificationComplete: SeverityMedium,
}

// SeverityFor returns the fixed severity for an event type. Unknown types
// are LOW.
func SeverityFor(eventType string) Severity {
	if s, ok := severityByEventType[eventType]; ok {
		return s
	}
	return SeverityLow
}

// SecurityEvent is a classified, severity-tagged record of a
// security-relevant action. Append-only.
type SecurityEvent struct {
	EventBucket int               `json:"event_bucket" db:"event_bucket"`
	EventType   string            `json:"event_type" db:"event_type"`
	Severity    Severity          `json:"severity" db:"severity"`
	Details     map[string]string `json:"details" db:"details"`
	Timestamp   time.Time         `json:"timestamp" db:"created_at"`
}

// ImportReport summarises a bulk candidate import. Row errors are
// independent; an entry here never aborts the remaining rows.
type ImportReport struct {
	Imported  int            `json:"imported"`
	RowErrors map[int]string `json:"row_errors,omitempty"`
}
