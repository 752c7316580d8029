package bustracker

import (
	"time"

	"github.com/schoolrun/schoolrun/pkg/sbdf"
)

// Classifier turns raw location updates into domain events by comparing the
// new position against the next unvisited stop's geo-fence. One classifier
// exists per tracked bus and shares that bus's serialization, so the
// debounce counter needs no locking.
type Classifier struct {
	config TrackerConfig

	samplesInFence int
}

func NewClassifier(config TrackerConfig) *Classifier {
	return &Classifier{config: config}
}

// ClassifyLocationUpdate applies the update to the journey and derives zero
// or more events. Only the next unvisited stop is checked - stops are
// visited strictly in route order, so GPS noise near a later stop on a
// looping route can never produce a false arrival.
func (c *Classifier) ClassifyLocationUpdate(journey *BusJourney, location sbdf.Location, speed float64, heading float64, recordedAt time.Time) ([]*sbdf.Event, error) {
	if err := journey.ApplyLocationUpdate(location, speed, heading, recordedAt); err != nil {
		return nil, err
	}

	var events []*sbdf.Event

	// A preparing bus that reports a position is on its way
	if journey.Status == sbdf.JourneyStatusPreparing {
		journey.TransitionTo(sbdf.JourneyStatusEnRouteToSchool, recordedAt)
	} else if journey.Status == sbdf.JourneyStatusAtSchool && journey.NextStop() != nil {
		// Movement after the school stop begins the homeward leg
		journey.TransitionTo(sbdf.JourneyStatusEnRouteToHome, recordedAt)
	}

	nextStop := journey.NextStop()
	if nextStop == nil {
		return events, nil
	}

	radius := nextStop.GeofenceRadiusMetres
	if radius <= 0 {
		radius = c.config.DefaultGeofenceRadiusMetres
	}

	if journey.VehicleLocation.Distance(&nextStop.Location) <= radius {
		c.samplesInFence++
	} else {
		c.samplesInFence = 0
	}

	if c.samplesInFence < c.config.GeofenceDebounceSamples {
		return events, nil
	}
	c.samplesInFence = 0

	statusAtArrival := journey.Status
	delayMins := journey.RecordStopArrival(nextStop, recordedAt)

	events = append(events, &sbdf.Event{
		Type:           sbdf.EventTypeArrivalAtStop,
		Timestamp:      recordedAt,
		BusIdentifier:  journey.BusIdentifier,
		StopIdentifier: nextStop.PrimaryIdentifier,
		DelayMins:      delayMins,
	})

	if delayMins > c.config.DelayThreshold.Minutes() {
		events = append(events, &sbdf.Event{
			Type:           sbdf.EventTypeDelay,
			Timestamp:      recordedAt,
			BusIdentifier:  journey.BusIdentifier,
			StopIdentifier: nextStop.PrimaryIdentifier,
			DelayMins:      delayMins,
		})
	}

	if nextStop.IsSchool && statusAtArrival == sbdf.JourneyStatusEnRouteToSchool {
		journey.TransitionTo(sbdf.JourneyStatusAtSchool, recordedAt)
	}

	for _, childIdentifier := range nextStop.AssociatedChildren {
		switch statusAtArrival {
		case sbdf.JourneyStatusEnRouteToSchool:
			events = append(events, &sbdf.Event{
				Type:            sbdf.EventTypePickup,
				Timestamp:       recordedAt,
				BusIdentifier:   journey.BusIdentifier,
				ChildIdentifier: childIdentifier,
				StopIdentifier:  nextStop.PrimaryIdentifier,
			})
		case sbdf.JourneyStatusEnRouteToHome:
			events = append(events, &sbdf.Event{
				Type:            sbdf.EventTypeDropoff,
				Timestamp:       recordedAt,
				BusIdentifier:   journey.BusIdentifier,
				ChildIdentifier: childIdentifier,
				StopIdentifier:  nextStop.PrimaryIdentifier,
			})
		}
	}

	// Final stop on the homeward leg ends the day
	if journey.NextStop() == nil && journey.Status == sbdf.JourneyStatusEnRouteToHome {
		journey.TransitionTo(sbdf.JourneyStatusCompleted, recordedAt)
	}

	for _, event := range events {
		journey.AppendEvent(event)
	}

	return events, nil
}

// ClassifyEmergency is driver-originated and never debounced
func (c *Classifier) ClassifyEmergency(journey *BusJourney, detail string, timestamp time.Time) *sbdf.Event {
	journey.TransitionTo(sbdf.JourneyStatusEmergency, timestamp)

	event := &sbdf.Event{
		Type:          sbdf.EventTypeEmergency,
		Timestamp:     timestamp,
		BusIdentifier: journey.BusIdentifier,
		Detail:        detail,
	}
	journey.AppendEvent(event)

	return event
}

// ClassifyIdleTimeout force-transitions a journey whose driver has gone
// quiet past the idle timeout
func (c *Classifier) ClassifyIdleTimeout(journey *BusJourney, timestamp time.Time) *sbdf.Event {
	journey.TransitionTo(sbdf.JourneyStatusDisconnected, timestamp)

	event := &sbdf.Event{
		Type:          sbdf.EventTypeDisconnected,
		Timestamp:     timestamp,
		BusIdentifier: journey.BusIdentifier,
		Detail:        "no location updates received within the idle timeout",
	}
	journey.AppendEvent(event)

	return event
}
