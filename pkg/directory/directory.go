// Package directory holds the relational lookups the tracking core depends
// on but does not own: which children belong to which parents, which driver
// runs which bus, and the day's route for a bus.
package directory

import (
	"context"

	"github.com/schoolrun/schoolrun/pkg/sbdf"
)

// Child as stored in the children collection
type Child struct {
	PrimaryIdentifier string `bson:"primaryidentifier"`

	Name string `bson:"name"`

	ParentIdentifiers []string `bson:"parentidentifiers"`

	BusIdentifier string `bson:"busidentifier"`

	PickupStopIdentifier string `bson:"pickupstopidentifier"`
}

// Bus as stored in the buses collection
type Bus struct {
	PrimaryIdentifier string `bson:"primaryidentifier"`

	Registration string `bson:"registration"`

	DriverIdentifier string `bson:"driveridentifier"`

	RouteIdentifier string `bson:"routeidentifier"`
}

// Route as stored in the routes collection. Stop expected arrival times are
// stored as local time-of-day strings and composed with the service day
// when a snapshot is taken.
type Route struct {
	PrimaryIdentifier string `bson:"primaryidentifier"`

	Name string `bson:"name"`

	BusIdentifier string `bson:"busidentifier"`

	Stops []RouteStop `bson:"stops"`
}

type RouteStop struct {
	Identifier string `bson:"identifier"`

	Name string `bson:"name"`

	Location sbdf.Location `bson:"location"`

	GeofenceRadiusMetres float64 `bson:"geofenceradiusmetres"`

	IsSchool bool `bson:"isschool"`

	ExpectedArrivalTime string `bson:"expectedarrivaltime"` // "15:04"

	ChildIdentifiers []string `bson:"childidentifiers"`
}

// Lookup is the full directory contract consumed by the tracking core:
// route snapshots for the tracker, room authorization for the registry, and
// the child to bus mapping for the cold-start query.
type Lookup interface {
	RouteForBus(ctx context.Context, busIdentifier string) (*sbdf.RouteSnapshot, error)
	CanWatchRoom(ctx context.Context, principal sbdf.Principal, roomKey string) (bool, error)
	BusForChild(ctx context.Context, childIdentifier string) (string, error)
}
