package fulfillment

import (
	"errors"

	"github.com/google/uuid"

	"github.com/rxgate/rxgate/internal/domain/order"
	"github.com/rxgate/rxgate/internal/domain/prescription"
)

var (
	ErrInvalidDecision = errors.New("decision must be verified or rejected")
	ErrReasonRequired  = errors.New("rejection requires a reason")
)

// Decisions a reviewer can record. Each doubles as the prescription status
// the decision writes.
const (
	DecisionVerified = prescription.StatusVerified
	DecisionRejected = prescription.StatusRejected
)

// RejectPolicy selects the order state a rejection cascades to. Cancel ends
// the order; retry parks it in pending-prescription so the patient can
// upload a new prescription against it.
type RejectPolicy string

const (
	RejectCancel RejectPolicy = "cancel"
	RejectRetry  RejectPolicy = "retry"
)

func (p RejectPolicy) orderStatus() string {
	if p == RejectRetry {
		return order.StatusPendingPrescription
	}
	return order.StatusCancelled
}

// OrderChange records one order the cascade moved and where it landed.
type OrderChange struct {
	OrderID uuid.UUID `json:"order_id"`
	Status  string    `json:"status"`
}

// NotificationFailure records a post-commit dispatch that failed. Failures
// are reported to the caller but never undo the committed decision.
type NotificationFailure struct {
	OrderID uuid.UUID `json:"order_id"`
	Error   string    `json:"error"`
}

// Result is the outcome of a decision: the prescription's new status, every
// order the cascade touched and any notification dispatches that failed.
type Result struct {
	PrescriptionID       uuid.UUID             `json:"prescription_id"`
	Status               string                `json:"status"`
	Orders               []OrderChange         `json:"orders"`
	NotificationFailures []NotificationFailure `json:"notification_failures,omitempty"`
}

// ExpireResult summarizes one expiry sweep. Skipped counts prescriptions a
// concurrent decision claimed between the scan and the conditional write.
type ExpireResult struct {
	Scanned              int                   `json:"scanned"`
	Expired              int                   `json:"expired"`
	Skipped              int                   `json:"skipped"`
	Failed               int                   `json:"failed"`
	NotificationFailures []NotificationFailure `json:"notification_failures,omitempty"`
}
