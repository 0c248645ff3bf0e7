package settlement

import (
	"errors"
	"fmt"

	"vault-core-go/internal/models"
)

// Sentinel errors for settlement operations
var (
	ErrSettlementInProgress = errors.New("settlement already in progress for account and asset")
	ErrUnknownSettlement    = errors.New("unknown settlement id")
	ErrDoubleResolution     = errors.New("settlement already resolved")
	ErrDirectionMismatch    = errors.New("settlement direction mismatch")
	ErrInvalidAmount        = errors.New("amount must be a positive integer")
	ErrForceResolveTooEarly = errors.New("settlement younger than force-resolve threshold")
)

// InvalidStateTransitionError reports an illegal settlement state transition.
// It is an invariant-violation guard: callers must abort the operation
// without committing any further mutation.
type InvalidStateTransitionError struct {
	SettlementId uint64
	FromState    models.SettlementState
	ToState      models.SettlementState
}

func (e *InvalidStateTransitionError) Error() string {
	return fmt.Sprintf("invalid state transition from %s to %s for settlement %d", e.FromState, e.ToState, e.SettlementId)
}

// allowedTransitions defines the only legal settlement state moves.
func allowedTransitions() map[models.SettlementState][]models.SettlementState {
	return map[models.SettlementState][]models.SettlementState{
		models.StateInitiated:            {models.StateAwaitingConfirmation},
		models.StateAwaitingConfirmation: {models.StateConfirmed, models.StateFailed},
		models.StateConfirmed:            {},
		models.StateFailed:               {},
	}
}

func isValidTransition(from, to models.SettlementState) bool {
	for _, allowed := range allowedTransitions()[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
