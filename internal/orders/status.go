package orders

import "fmt"

type Status string

const (
	StatusWaitingPayment      Status = "WAITING_PAYMENT"
	StatusWaitingConfirmation Status = "WAITING_CONFIRMATION"
	StatusProcessing          Status = "PROCESSING"
	StatusReady               Status = "READY"
	StatusCompleted           Status = "COMPLETED"
	StatusCancelled           Status = "CANCELLED"
	StatusRejected            Status = "REJECTED"
)

// WAITING_PAYMENT -> WAITING_CONFIRMATION is only reachable through the
// payment proof upload, see Engine.UploadPaymentProof.
var validNext = map[Status]map[Status]bool{
	StatusWaitingPayment:      {StatusWaitingConfirmation: true, StatusCancelled: true, StatusRejected: true},
	StatusWaitingConfirmation: {StatusProcessing: true, StatusCancelled: true, StatusRejected: true},
	StatusProcessing:          {StatusReady: true, StatusCancelled: true, StatusRejected: true},
	StatusReady:               {StatusCompleted: true, StatusCancelled: true, StatusRejected: true},
	StatusCompleted:           {},
	StatusCancelled:           {},
	StatusRejected:            {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

// Terminal statuses no longer occupy the seller's preparation queue.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusRejected
}

func (s Status) Valid() bool {
	_, ok := validNext[s]
	return ok
}

func ParseStatus(v string) (Status, error) {
	s := Status(v)
	if !s.Valid() {
		return "", fmt.Errorf("%w: unknown status %q", ErrValidation, v)
	}
	return s, nil
}

// TerminalStatuses is used by stores when computing the active queue tail.
var TerminalStatuses = []Status{StatusCompleted, StatusCancelled, StatusRejected}
