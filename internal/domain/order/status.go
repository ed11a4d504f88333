package order

import "fmt"

// Status is the lifecycle state of an order.
type Status string

const (
	StatusDraft                Status = "DRAFT"
	StatusPending              Status = "PENDIENTE"
	StatusPaid                 Status = "PAGADO"
	StatusAwaitingConfirmation Status = "ESPERANDO_CONFIRMACION"
	StatusPreparing            Status = "PREPARANDO"
	StatusReady                Status = "LISTO"
	StatusPickedUp             Status = "RETIRADO"
	StatusCancelled            Status = "CANCELADO"
)

var validNext = map[Status]map[Status]bool{
	StatusDraft:                {StatusPending: true, StatusCancelled: true},
	StatusPending:              {StatusPaid: true, StatusAwaitingConfirmation: true, StatusCancelled: true},
	StatusAwaitingConfirmation: {StatusPreparing: true, StatusPaid: true},
	StatusPaid:                 {StatusPreparing: true},
	StatusPreparing:            {StatusReady: true, StatusCancelled: true},
	StatusReady:                {StatusPickedUp: true},
	StatusPickedUp:             {},
	StatusCancelled:            {},
}

// CanTransition reports whether an order may move from one status to another.
func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := validNext[s]
	return ok
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return len(validNext[s]) == 0
}

// Paid reports whether an order in status s has been paid for.
func (s Status) Paid() bool {
	switch s {
	case StatusPaid, StatusPreparing, StatusReady, StatusPickedUp:
		return true
	default:
		return false
	}
}

// TransitionError is returned for a status change the lifecycle forbids.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid status transition from %s to %s", e.From, e.To)
}
