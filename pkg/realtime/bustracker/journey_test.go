package bustracker

import (
	"testing"
	"time"

	"github.com/schoolrun/schoolrun/pkg/sbdf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRoute() *sbdf.RouteSnapshot {
	dayStart := time.Date(2024, 9, 2, 7, 0, 0, 0, time.UTC)

	return &sbdf.RouteSnapshot{
		PrimaryIdentifier: "SCHOOLRUN:ROUTE:R1",
		BusIdentifier:     "SCHOOLRUN:BUS:B1",
		RouteName:         "Morning Run 1",

		Stops: []*sbdf.Stop{
			{
				PrimaryIdentifier:   "SCHOOLRUN:STOP:S1",
				PrimaryName:         "Maple Avenue",
				Location:            sbdf.NewLocation(0, 0),
				ExpectedArrivalTime: dayStart.Add(15 * time.Minute),
				AssociatedChildren:  []string{"CHILD:C1", "CHILD:C2"},
			},
			{
				PrimaryIdentifier:   "SCHOOLRUN:STOP:S2",
				PrimaryName:         "Hillside Primary",
				Location:            sbdf.NewLocation(0, 0.05),
				ExpectedArrivalTime: dayStart.Add(30 * time.Minute),
				IsSchool:            true,
			},
			{
				PrimaryIdentifier:   "SCHOOLRUN:STOP:S3",
				PrimaryName:         "Maple Avenue",
				Location:            sbdf.NewLocation(0, 0),
				ExpectedArrivalTime: dayStart.Add(8 * time.Hour),
				AssociatedChildren:  []string{"CHILD:C1", "CHILD:C2"},
			},
		},
	}
}

func testJourney(t *testing.T) *BusJourney {
	t.Helper()

	return NewBusJourney("SCHOOLRUN:BUS:B1", testRoute(), time.Date(2024, 9, 2, 7, 0, 0, 0, time.UTC), defaultTrackerConfig)
}

func TestApplyLocationUpdateStoresLastUpdate(t *testing.T) {
	journey := testJourney(t)

	base := time.Date(2024, 9, 2, 7, 5, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		location := sbdf.NewLocation(0.001*float64(i), 0.001*float64(i))
		err := journey.ApplyLocationUpdate(location, 10, 90, base.Add(time.Duration(i)*30*time.Second))
		require.NoError(t, err)
	}

	assert.Equal(t, base.Add(4*30*time.Second), journey.RecordedAt)
	assert.Equal(t, 0.004, journey.VehicleLocation.Longitude())
	assert.Equal(t, 0.004, journey.VehicleLocation.Latitude())
}

func TestApplyLocationUpdateRejectsStale(t *testing.T) {
	journey := testJourney(t)

	now := time.Date(2024, 9, 2, 7, 10, 0, 0, time.UTC)

	require.NoError(t, journey.ApplyLocationUpdate(sbdf.NewLocation(0.01, 0.01), 10, 0, now))

	staleErr := journey.ApplyLocationUpdate(sbdf.NewLocation(0.5, 0.5), 99, 180, now.Add(-time.Minute))

	var stale *StaleUpdateError
	require.ErrorAs(t, staleErr, &stale)
	assert.Equal(t, "SCHOOLRUN:BUS:B1", stale.BusIdentifier)

	// State untouched
	assert.Equal(t, now, journey.RecordedAt)
	assert.Equal(t, 0.01, journey.VehicleLocation.Longitude())
	assert.Equal(t, float64(10), journey.Speed)

	// A duplicate timestamp is equally a no-op
	duplicateErr := journey.ApplyLocationUpdate(sbdf.NewLocation(0.5, 0.5), 99, 180, now)
	require.ErrorAs(t, duplicateErr, &stale)
}

func TestApplyLocationUpdateAcceptsFirstUpdateFromTrailingClock(t *testing.T) {
	// Journey starts at 07:00 server time, the driver device's clock is two
	// minutes behind
	journey := testJourney(t)
	behind := time.Date(2024, 9, 2, 6, 58, 0, 0, time.UTC)

	require.NoError(t, journey.ApplyLocationUpdate(sbdf.NewLocation(0, 0.01), 5, 0, behind))
	assert.Equal(t, behind, journey.RecordedAt)

	// Staleness applies from the first accepted update onwards
	err := journey.ApplyLocationUpdate(sbdf.NewLocation(0, 0.011), 5, 0, behind)

	var stale *StaleUpdateError
	require.ErrorAs(t, err, &stale)

	require.NoError(t, journey.ApplyLocationUpdate(sbdf.NewLocation(0, 0.011), 5, 0, behind.Add(30*time.Second)))
}

func TestApplyLocationUpdateRejectsInvalidCoordinates(t *testing.T) {
	journey := testJourney(t)

	err := journey.ApplyLocationUpdate(sbdf.Location{Type: "Point", Coordinates: []float64{200, 95}}, 0, 0, time.Now())

	var validation *ValidationError
	require.ErrorAs(t, err, &validation)
}

func TestTransitionToIsMonotonic(t *testing.T) {
	journey := testJourney(t)
	now := time.Now()

	require.NoError(t, journey.TransitionTo(sbdf.JourneyStatusEnRouteToSchool, now))
	require.NoError(t, journey.TransitionTo(sbdf.JourneyStatusAtSchool, now))
	require.NoError(t, journey.TransitionTo(sbdf.JourneyStatusEnRouteToHome, now))
	require.NoError(t, journey.TransitionTo(sbdf.JourneyStatusCompleted, now))

	for _, status := range []sbdf.JourneyStatus{
		sbdf.JourneyStatusPreparing,
		sbdf.JourneyStatusEnRouteToSchool,
		sbdf.JourneyStatusAtSchool,
		sbdf.JourneyStatusEnRouteToHome,
	} {
		err := journey.TransitionTo(status, now)

		var invalid *InvalidTransitionError
		require.ErrorAs(t, err, &invalid, "transition to %s should fail once completed", status)
		assert.Equal(t, sbdf.JourneyStatusCompleted, journey.Status)
	}
}

func TestTransitionToRejectsRegression(t *testing.T) {
	journey := testJourney(t)
	now := time.Now()

	require.NoError(t, journey.TransitionTo(sbdf.JourneyStatusAtSchool, now))

	err := journey.TransitionTo(sbdf.JourneyStatusEnRouteToSchool, now)

	var invalid *InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, sbdf.JourneyStatusAtSchool, invalid.From)
	assert.Equal(t, sbdf.JourneyStatusEnRouteToSchool, invalid.To)
}

func TestEmergencyAndDisconnectedShortcutsAlwaysLegal(t *testing.T) {
	journey := testJourney(t)
	now := time.Now()

	require.NoError(t, journey.TransitionTo(sbdf.JourneyStatusEnRouteToHome, now))
	require.NoError(t, journey.TransitionTo(sbdf.JourneyStatusEmergency, now))
	assert.Equal(t, sbdf.JourneyStatusEmergency, journey.Status)

	other := testJourney(t)
	require.NoError(t, other.TransitionTo(sbdf.JourneyStatusDisconnected, now))
	assert.Equal(t, sbdf.JourneyStatusDisconnected, other.Status)
}

func TestCumulativeDelayOnlySumsPositiveDelays(t *testing.T) {
	journey := testJourney(t)
	route := journey.Route

	// 3 minutes early at stop 1: ignored
	earlyArrival := route.Stops[0].ExpectedArrivalTime.Add(-3 * time.Minute)
	delay := journey.RecordStopArrival(route.Stops[0], earlyArrival)
	assert.InDelta(t, -3, delay, 0.01)

	// 8 minutes late at stop 2: counted in full
	lateArrival := route.Stops[1].ExpectedArrivalTime.Add(8 * time.Minute)
	delay = journey.RecordStopArrival(route.Stops[1], lateArrival)
	assert.InDelta(t, 8, delay, 0.01)

	snapshot := journey.Snapshot()
	assert.InDelta(t, 8, snapshot.CumulativeDelayMins, 0.01)
}

func TestNextStopAdvancesInRouteOrder(t *testing.T) {
	journey := testJourney(t)

	require.Equal(t, "SCHOOLRUN:STOP:S1", journey.NextStop().PrimaryIdentifier)

	journey.RecordStopArrival(journey.NextStop(), time.Now())
	require.Equal(t, "SCHOOLRUN:STOP:S2", journey.NextStop().PrimaryIdentifier)

	journey.RecordStopArrival(journey.NextStop(), time.Now())
	require.Equal(t, "SCHOOLRUN:STOP:S3", journey.NextStop().PrimaryIdentifier)

	journey.RecordStopArrival(journey.NextStop(), time.Now())
	assert.Nil(t, journey.NextStop())
}

func TestEstimatedArrivalUsesSmoothedSpeed(t *testing.T) {
	journey := testJourney(t)

	base := time.Date(2024, 9, 2, 7, 5, 0, 0, time.UTC)

	// Steady 10 m/s approach towards stop 1
	require.NoError(t, journey.ApplyLocationUpdate(sbdf.NewLocation(0, 0.02), 10, 180, base))
	require.NoError(t, journey.ApplyLocationUpdate(sbdf.NewLocation(0, 0.018), 10, 180, base.Add(30*time.Second)))

	snapshot := journey.Snapshot()
	require.False(t, snapshot.EstimatedArrival.IsZero())
	assert.InDelta(t, 10, snapshot.SmoothedSpeed, 0.01)

	expectedTravelSeconds := snapshot.DistanceToNextStop / 10
	assert.InDelta(t, expectedTravelSeconds, snapshot.EstimatedArrival.Sub(snapshot.RecordedAt).Seconds(), 1)

	// A single absurd speed spike moves the average by the smoothing factor only
	require.NoError(t, journey.ApplyLocationUpdate(sbdf.NewLocation(0, 0.016), 50, 180, base.Add(time.Minute)))

	snapshot = journey.Snapshot()
	assert.InDelta(t, 0.3*50+0.7*10, snapshot.SmoothedSpeed, 0.01)
}

func TestSnapshotIsImmutableView(t *testing.T) {
	journey := testJourney(t)

	journey.AppendEvent(&sbdf.Event{Type: sbdf.EventTypeArrivalAtStop, BusIdentifier: journey.BusIdentifier})

	snapshot := journey.Snapshot()
	require.Len(t, snapshot.EventLog, 1)

	journey.AppendEvent(&sbdf.Event{Type: sbdf.EventTypeDelay, BusIdentifier: journey.BusIdentifier})

	// The earlier snapshot does not see the new event
	assert.Len(t, snapshot.EventLog, 1)
	assert.Len(t, journey.Snapshot().EventLog, 2)
}
