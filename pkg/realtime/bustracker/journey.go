package bustracker

import (
	"time"

	"github.com/schoolrun/schoolrun/pkg/sbdf"
)

// Minimum smoothed speed (m/s) below which no arrival estimate is produced,
// it stops a stationary bus from reporting an ETA years away
const minimumSpeedForEstimate = 0.5

// BusJourney is the per-bus per-service-day mutable state. It is not safe
// for concurrent use - every mutation for a given bus goes through that
// bus's worker goroutine (see tracker.go).
type BusJourney struct {
	BusIdentifier   string
	RouteIdentifier string
	ServiceDay      string

	Route *sbdf.RouteSnapshot

	Status sbdf.JourneyStatus

	VehicleLocation sbdf.Location
	Speed           float64
	Heading         float64
	RecordedAt      time.Time

	smoothedSpeed    float64
	hasSpeedEstimate bool

	nextStopIndex int

	visits              []sbdf.StopVisit
	cumulativeDelayMins float64

	eventLog []*sbdf.Event

	config TrackerConfig
}

func NewBusJourney(busIdentifier string, route *sbdf.RouteSnapshot, startedAt time.Time, config TrackerConfig) *BusJourney {
	return &BusJourney{
		BusIdentifier:   busIdentifier,
		RouteIdentifier: route.PrimaryIdentifier,
		ServiceDay:      startedAt.Format("2006-01-02"),

		Route: route,

		Status:     sbdf.JourneyStatusPreparing,
		RecordedAt: startedAt,

		config: config,
	}
}

// ApplyLocationUpdate stores a new position and refreshes the speed average
// used for arrival estimates. Updates whose timestamp does not advance the
// stored one are rejected with StaleUpdateError and leave state untouched.
// The first update is always accepted, even with a timestamp behind the
// journey start, so a driver device with a trailing clock is not locked out.
func (j *BusJourney) ApplyLocationUpdate(location sbdf.Location, speed float64, heading float64, recordedAt time.Time) error {
	if !location.IsValid() {
		return &ValidationError{Detail: "location coordinates missing or out of range"}
	}

	if j.VehicleLocation.IsValid() && !recordedAt.After(j.RecordedAt) {
		return &StaleUpdateError{
			BusIdentifier: j.BusIdentifier,
			Received:      recordedAt,
			Current:       j.RecordedAt,
		}
	}

	j.VehicleLocation = location
	j.Speed = speed
	j.Heading = heading
	j.RecordedAt = recordedAt

	if j.hasSpeedEstimate {
		alpha := j.config.SpeedSmoothingFactor
		j.smoothedSpeed = alpha*speed + (1-alpha)*j.smoothedSpeed
	} else {
		j.smoothedSpeed = speed
		j.hasSpeedEstimate = true
	}

	return nil
}

// TransitionTo moves the journey to a new status. The day ordering is
// monotonic - a status never regresses - except for the emergency and
// disconnected shortcuts which are legal from anywhere.
func (j *BusJourney) TransitionTo(newStatus sbdf.JourneyStatus, timestamp time.Time) error {
	if newStatus == j.Status {
		return nil
	}

	if newStatus == sbdf.JourneyStatusEmergency || newStatus == sbdf.JourneyStatusDisconnected {
		j.Status = newStatus
		return nil
	}

	if j.Status.IsTerminal() || newStatus.Rank() < j.Status.Rank() {
		return &InvalidTransitionError{
			BusIdentifier: j.BusIdentifier,
			From:          j.Status,
			To:            newStatus,
		}
	}

	j.Status = newStatus

	return nil
}

// NextStop returns the next unvisited stop in route order, nil once the
// route is exhausted
func (j *BusJourney) NextStop() *sbdf.Stop {
	if j.Route == nil || j.nextStopIndex >= len(j.Route.Stops) {
		return nil
	}

	return j.Route.Stops[j.nextStopIndex]
}

// RecordStopArrival marks the next stop reached and returns the arrival
// delay in minutes (negative when early). Cumulative delay only accumulates
// positive per-stop delays so early arrivals never erase real lateness.
func (j *BusJourney) RecordStopArrival(stop *sbdf.Stop, timestamp time.Time) float64 {
	delayMins := timestamp.Sub(stop.ExpectedArrivalTime).Minutes()

	j.visits = append(j.visits, sbdf.StopVisit{
		StopIdentifier: stop.PrimaryIdentifier,
		ExpectedAt:     stop.ExpectedArrivalTime,
		ArrivedAt:      timestamp,
		DelayMins:      delayMins,
	})

	if delayMins > 0 {
		j.cumulativeDelayMins += delayMins
	}

	j.nextStopIndex++

	return delayMins
}

// AppendEvent adds an immutable record to the day's event log
func (j *BusJourney) AppendEvent(event *sbdf.Event) {
	j.eventLog = append(j.eventLog, event)
}

func (j *BusJourney) distanceToNextStop() float64 {
	nextStop := j.NextStop()
	if nextStop == nil || !j.VehicleLocation.IsValid() {
		return 0
	}

	return j.VehicleLocation.Distance(&nextStop.Location)
}

func (j *BusJourney) estimatedArrival() time.Time {
	nextStop := j.NextStop()
	if nextStop == nil || !j.VehicleLocation.IsValid() || j.smoothedSpeed < minimumSpeedForEstimate {
		return time.Time{}
	}

	travelSeconds := j.distanceToNextStop() / j.smoothedSpeed

	return j.RecordedAt.Add(time.Duration(travelSeconds * float64(time.Second)))
}

// Snapshot returns an immutable read view for late joiners and the
// cold-start query
func (j *BusJourney) Snapshot() *sbdf.JourneySnapshot {
	visits := make([]sbdf.StopVisit, len(j.visits))
	copy(visits, j.visits)

	eventLog := make([]*sbdf.Event, len(j.eventLog))
	copy(eventLog, j.eventLog)

	return &sbdf.JourneySnapshot{
		BusIdentifier:   j.BusIdentifier,
		RouteIdentifier: j.RouteIdentifier,
		ServiceDay:      j.ServiceDay,

		Status: j.Status,

		VehicleLocation: j.VehicleLocation,
		Speed:           j.Speed,
		Heading:         j.Heading,
		RecordedAt:      j.RecordedAt,
		SmoothedSpeed:   j.smoothedSpeed,

		NextStop:            j.NextStop(),
		DistanceToNextStop:  j.distanceToNextStop(),
		EstimatedArrival:    j.estimatedArrival(),
		CumulativeDelayMins: j.cumulativeDelayMins,

		VisitedStops: visits,

		EventLog: eventLog,
	}
}
