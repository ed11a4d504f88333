package order

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	all := []Status{
		StatusDraft, StatusPending, StatusPaid, StatusAwaitingConfirmation,
		StatusPreparing, StatusReady, StatusPickedUp, StatusCancelled,
	}
	allowed := map[[2]Status]bool{
		{StatusDraft, StatusPending}:                  true,
		{StatusDraft, StatusCancelled}:                true,
		{StatusPending, StatusPaid}:                   true,
		{StatusPending, StatusAwaitingConfirmation}:   true,
		{StatusPending, StatusCancelled}:              true,
		{StatusAwaitingConfirmation, StatusPreparing}: true,
		{StatusAwaitingConfirmation, StatusPaid}:      true,
		{StatusPaid, StatusPreparing}:                 true,
		{StatusPreparing, StatusReady}:                true,
		{StatusPreparing, StatusCancelled}:            true,
		{StatusReady, StatusPickedUp}:                 true,
	}

	for _, from := range all {
		for _, to := range all {
			want := allowed[[2]Status{from, to}]
			assert.Equal(t, want, CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestStatus_Predicates(t *testing.T) {
	assert.True(t, StatusPickedUp.Terminal())
	assert.True(t, StatusCancelled.Terminal())
	assert.False(t, StatusReady.Terminal())

	assert.True(t, StatusPreparing.Paid())
	assert.False(t, StatusAwaitingConfirmation.Paid())
	assert.False(t, StatusCancelled.Paid())

	assert.True(t, StatusDraft.Valid())
	assert.False(t, Status("SHIPPED").Valid())
	assert.False(t, CanTransition("SHIPPED", StatusCancelled))
}

func TestTransitionError(t *testing.T) {
	err := &TransitionError{From: StatusReady, To: StatusCancelled}
	assert.Equal(t, "invalid status transition from LISTO to CANCELADO", err.Error())
}
