package sbdf

import (
	"fmt"
	"time"
)

type EventType string

const (
	EventTypePickup        EventType = "Pickup"
	EventTypeDropoff       EventType = "Dropoff"
	EventTypeArrivalAtStop EventType = "ArrivalAtStop"
	EventTypeDelay         EventType = "Delay"
	EventTypeEmergency     EventType = "Emergency"
	EventTypeDisconnected  EventType = "Disconnected"
)

// Event is an immutable domain event appended to a journey's event log and
// fanned out to subscribers. Never mutated after creation.
type Event struct {
	Type      EventType `groups:"basic"`
	Timestamp time.Time `groups:"basic"`

	BusIdentifier   string `groups:"basic"`
	ChildIdentifier string `groups:"basic"`
	StopIdentifier  string `groups:"basic"`

	DelayMins float64 `groups:"basic"`

	Detail string `groups:"basic"`
}

func (e *Event) GetNotificationData() EventNotificationData {
	eventNotificationData := EventNotificationData{}

	switch e.Type {
	case EventTypePickup:
		eventNotificationData.Title = "Picked up"
		eventNotificationData.Message = fmt.Sprintf("Your child boarded bus %s at %s", e.BusIdentifier, e.Timestamp.Format("15:04"))
	case EventTypeDropoff:
		eventNotificationData.Title = "Dropped off"
		eventNotificationData.Message = fmt.Sprintf("Your child left bus %s at %s", e.BusIdentifier, e.Timestamp.Format("15:04"))
	case EventTypeArrivalAtStop:
		eventNotificationData.Title = "Bus at stop"
		eventNotificationData.Message = fmt.Sprintf("Bus %s has arrived at %s", e.BusIdentifier, e.StopIdentifier)
	case EventTypeDelay:
		eventNotificationData.Title = "Bus running late"
		eventNotificationData.Message = fmt.Sprintf("Bus %s is running %.0f minutes behind schedule", e.BusIdentifier, e.DelayMins)
	case EventTypeEmergency:
		eventNotificationData.Title = "Emergency reported"
		eventNotificationData.Message = e.Detail

		if eventNotificationData.Message == "" {
			eventNotificationData.Message = fmt.Sprintf("The driver of bus %s has reported an emergency", e.BusIdentifier)
		}
	case EventTypeDisconnected:
		eventNotificationData.Title = "Tracking lost"
		eventNotificationData.Message = fmt.Sprintf("Bus %s has stopped sending location updates", e.BusIdentifier)
	}

	return eventNotificationData
}

type EventNotificationData struct {
	Title   string
	Message string
}
