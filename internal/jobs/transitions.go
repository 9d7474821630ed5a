package jobs

import "github.com/hmapp/backend/internal/models"

// validTransitions is the closed edge set of the job state machine. cancelled
// and disputed are additionally reachable from every non-terminal state; see
// ValidTransition.
var validTransitions = map[string][]string{
	models.JobStatusDraft:          {models.JobStatusWaitingOffers},
	models.JobStatusWaitingOffers:  {models.JobStatusOffersExpired, models.JobStatusAssigned},
	models.JobStatusOffersExpired:  {models.JobStatusWaitingOffers},
	models.JobStatusAssigned:       {models.JobStatusPaymentPending},
	models.JobStatusPaymentPending: {models.JobStatusInProgress, models.JobStatusPaymentExpired},
	// A payment-expired job releases the technician and may be re-published.
	models.JobStatusPaymentExpired: {models.JobStatusWaitingOffers},
	models.JobStatusInProgress:     {models.JobStatusCompleted},
	models.JobStatusDisputed:       {models.JobStatusCancelled, models.JobStatusCompleted},
}

// ValidTransition reports whether from→to is an edge of the state machine.
func ValidTransition(from, to string) bool {
	if from == models.JobStatusCompleted || from == models.JobStatusCancelled {
		return false
	}
	if to == models.JobStatusCancelled || to == models.JobStatusDisputed {
		return true
	}
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
