package sbdf

import "time"

var JourneyIDFormat = "SCHOOLRUN:JOURNEY:%s:%s" // service day, bus identifier

type JourneyStatus string

const (
	JourneyStatusPreparing       JourneyStatus = "preparing"
	JourneyStatusEnRouteToSchool JourneyStatus = "en_route_to_school"
	JourneyStatusAtSchool        JourneyStatus = "at_school"
	JourneyStatusEnRouteToHome   JourneyStatus = "en_route_to_home"
	JourneyStatusCompleted       JourneyStatus = "completed"

	// Terminal shortcuts reachable from any non-terminal status
	JourneyStatusEmergency    JourneyStatus = "emergency"
	JourneyStatusDisconnected JourneyStatus = "disconnected"
)

var journeyStatusRank = map[JourneyStatus]int{
	JourneyStatusPreparing:       0,
	JourneyStatusEnRouteToSchool: 1,
	JourneyStatusAtSchool:        2,
	JourneyStatusEnRouteToHome:   3,
	JourneyStatusCompleted:       4,
}

// Rank returns the position of a status in the monotonic day ordering.
// Emergency and disconnected sit outside the ordering and report -1.
func (s JourneyStatus) Rank() int {
	rank, ok := journeyStatusRank[s]
	if !ok {
		return -1
	}

	return rank
}

func (s JourneyStatus) IsTerminal() bool {
	return s == JourneyStatusCompleted || s == JourneyStatusEmergency || s == JourneyStatusDisconnected
}

// JourneySnapshot is the immutable read view of a bus journey handed to new
// subscribers and the cold-start query. Detailed fields are only marshalled
// for admin principals.
type JourneySnapshot struct {
	BusIdentifier   string `groups:"basic"`
	RouteIdentifier string `groups:"basic"`

	ServiceDay string `groups:"basic"`

	Status JourneyStatus `groups:"basic"`

	VehicleLocation  Location  `groups:"basic"`
	Speed            float64   `groups:"basic"`
	Heading          float64   `groups:"basic"`
	RecordedAt       time.Time `groups:"basic"`
	SmoothedSpeed    float64   `groups:"detailed"`

	NextStop            *Stop     `groups:"basic"`
	DistanceToNextStop  float64   `groups:"basic"`
	EstimatedArrival    time.Time `groups:"basic"`
	CumulativeDelayMins float64   `groups:"basic"`

	VisitedStops []StopVisit `groups:"detailed"`

	EventLog []*Event `groups:"detailed"`
}

// StopVisit records an actual arrival against a stop's expectation
type StopVisit struct {
	StopIdentifier string    `groups:"detailed"`
	ExpectedAt     time.Time `groups:"detailed"`
	ArrivedAt      time.Time `groups:"detailed"`
	DelayMins      float64   `groups:"detailed"`
}
