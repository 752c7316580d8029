package sbdf

var RouteIDFormat = "SCHOOLRUN:ROUTE:%s"
var BusIDFormat = "SCHOOLRUN:BUS:%s"

// RouteSnapshot is the day's ordered stop list for a bus. It is sourced from
// the route directory when tracking starts and treated as read-only for the
// lifetime of one journey - a mid-day route edit does not reach a journey
// already in progress.
type RouteSnapshot struct {
	PrimaryIdentifier string `groups:"basic"`

	BusIdentifier string `groups:"basic"`

	RouteName string `groups:"basic"`

	// Stops in strict visiting order, school-bound first
	Stops []*Stop `groups:"basic"`
}

func (r *RouteSnapshot) SchoolStop() *Stop {
	for _, stop := range r.Stops {
		if stop.IsSchool {
			return stop
		}
	}

	return nil
}
