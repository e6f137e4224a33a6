package session

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"verify-service/internal/model"
)

func steps(qr, face, fingerprint, retina model.StepStatus) map[model.StepKind]*model.VerificationStep {
	return map[model.StepKind]*model.VerificationStep{
		model.StepQRScan:      {Kind: model.StepQRScan, Status: qr},
		model.StepFace:        {Kind: model.StepFace, Status: face},
		model.StepFingerprint: {Kind: model.StepFingerprint, Status: fingerprint},
		model.StepRetina:      {Kind: model.StepRetina, Status: retina},
	}
}

func TestAggregate(t *testing.T) {
	tests := []struct {
		name  string
		steps map[model.StepKind]*model.VerificationStep
		want  model.FinalStatus
	}{
		{
			name:  "all completed is verified",
			steps: steps(model.StepCompleted, model.StepCompleted, model.StepCompleted, model.StepCompleted),
			want:  model.StatusVerified,
		},
		{
			name:  "one failed step rejects",
			steps: steps(model.StepCompleted, model.StepCompleted, model.StepFailed, model.StepCompleted),
			want:  model.StatusRejected,
		},
		{
			name:  "failure outranks missing steps",
			steps: steps(model.StepCompleted, model.StepFailed, model.StepPending, model.StepPending),
			want:  model.StatusRejected,
		},
		{
			name:  "pending steps leave a partial outcome",
			steps: steps(model.StepCompleted, model.StepCompleted, model.StepPending, model.StepPending),
			want:  model.StatusPartial,
		},
		{
			name:  "in-progress step is not completed",
			steps: steps(model.StepCompleted, model.StepCompleted, model.StepCompleted, model.StepInProgress),
			want:  model.StatusPartial,
		},
		{
			name:  "nothing run at all",
			steps: steps(model.StepPending, model.StepPending, model.StepPending, model.StepPending),
			want:  model.StatusPartial,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Aggregate(tt.steps))
		})
	}
}

func TestAggregateMissingSteps(t *testing.T) {
	// A session abandoned before any step exists should never verify.
	assert.Equal(t, model.StatusPartial, Aggregate(map[model.StepKind]*model.VerificationStep{}))
}
