package sbdf

import "time"

var StopIDFormat = "SCHOOLRUN:STOP:%s"

type Stop struct {
	PrimaryIdentifier string `groups:"basic"`

	PrimaryName string `groups:"basic"`

	Location Location `groups:"basic"`

	// GeofenceRadiusMetres is the circular radius around the stop's location
	// used to detect arrival. Zero means the tracker default applies.
	GeofenceRadiusMetres float64 `groups:"basic"`

	IsSchool bool `groups:"basic"`

	ExpectedArrivalTime time.Time `groups:"basic"`

	// AssociatedChildren are the children picked up or dropped off here
	AssociatedChildren []string `groups:"basic"`
}
