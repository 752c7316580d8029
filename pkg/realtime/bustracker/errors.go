package bustracker

import (
	"fmt"
	"time"

	"github.com/schoolrun/schoolrun/pkg/sbdf"
)

// ValidationError rejects a malformed inbound payload before it reaches the
// classifier. The offending connection is answered, not penalised.
type ValidationError struct {
	Detail string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid payload: %s", e.Detail)
}

// StaleUpdateError marks an out-of-order location update. The update is
// dropped and logged, state stays untouched.
type StaleUpdateError struct {
	BusIdentifier string
	Received      time.Time
	Current       time.Time
}

func (e *StaleUpdateError) Error() string {
	return fmt.Sprintf("stale location update for bus %s: %s is not after %s",
		e.BusIdentifier, e.Received.Format(time.RFC3339), e.Current.Format(time.RFC3339))
}

// InvalidTransitionError marks an attempted status regression
type InvalidTransitionError struct {
	BusIdentifier string
	From          sbdf.JourneyStatus
	To            sbdf.JourneyStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition for bus %s: %s -> %s", e.BusIdentifier, e.From, e.To)
}

// UnknownBusError marks a command referencing a bus with no active journey.
// Surfaced to callers as "not currently tracking".
type UnknownBusError struct {
	BusIdentifier string
}

func (e *UnknownBusError) Error() string {
	return fmt.Sprintf("bus %s is not currently tracking", e.BusIdentifier)
}
