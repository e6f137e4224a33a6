package session

import (
	"verify-service/internal/model"
)

// Aggregate folds the step outcomes of one session into a final
// disposition. Precedence is fixed: every step completed means VERIFIED,
// any failed step means REJECTED, anything else (steps never reaching a
// terminal state) is PARTIAL.
func Aggregate(steps map[model.StepKind]*model.VerificationStep) model.FinalStatus {
	completed := 0
	for _, kind := range model.StepOrder {
		step, ok := steps[kind]
		if !ok || step == nil {
			continue
		}
		switch step.Status {
		case model.StepFailed:
			return model.StatusRejected
		case model.StepCompleted:
			completed++
		}
	}

	if completed == len(model.StepOrder) {
		return model.StatusVerified
	}
	return model.StatusPartial
}
