package dispatcher

import (
	"context"
	"encoding/json"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/schoolrun/schoolrun/pkg/realtime/registry"
	"github.com/schoolrun/schoolrun/pkg/sbdf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentMessage struct {
	MessageType string
	Payload     []byte
}

type fakeConnection struct {
	id        string
	principal sbdf.Principal

	mutex sync.Mutex
	sent  []sentMessage
}

func newFakeConnection(id string, role sbdf.Role) *fakeConnection {
	return &fakeConnection{
		id:        id,
		principal: sbdf.Principal{UserIdentifier: "USER:" + id, Role: role},
	}
}

func (c *fakeConnection) ID() string {
	return c.id
}

func (c *fakeConnection) Principal() sbdf.Principal {
	return c.principal
}

func (c *fakeConnection) Send(messageType string, payload []byte) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.sent = append(c.sent, sentMessage{MessageType: messageType, Payload: payload})
}

func (c *fakeConnection) received() []sentMessage {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return append([]sentMessage{}, c.sent...)
}

type allowAllAuthorization struct{}

func (allowAllAuthorization) CanWatchRoom(ctx context.Context, principal sbdf.Principal, roomKey string) (bool, error) {
	return true, nil
}

func testSnapshot() *sbdf.JourneySnapshot {
	return &sbdf.JourneySnapshot{
		BusIdentifier:   "SCHOOLRUN:BUS:B1",
		RouteIdentifier: "SCHOOLRUN:ROUTE:R1",
		ServiceDay:      "2024-09-02",
		Status:          sbdf.JourneyStatusEnRouteToSchool,
		SmoothedSpeed:   11.4,
		RecordedAt:      time.Date(2024, 9, 2, 7, 10, 0, 0, time.UTC),
	}
}

func subscribed(t *testing.T, reg *registry.Registry, connection *fakeConnection, rooms ...string) {
	t.Helper()

	for _, room := range rooms {
		require.NoError(t, reg.Subscribe(context.Background(), connection, room))
	}
}

func TestDispatchEventTargetsBusRoom(t *testing.T) {
	reg := registry.NewRegistry(allowAllAuthorization{})
	dispatcher := NewDispatcher(reg, nil)

	watcher := newFakeConnection("conn-1", sbdf.RoleParent)
	bystander := newFakeConnection("conn-2", sbdf.RoleParent)

	subscribed(t, reg, watcher, sbdf.BusRoom("SCHOOLRUN:BUS:B1"))
	subscribed(t, reg, bystander, sbdf.BusRoom("SCHOOLRUN:BUS:B2"))

	dispatcher.DispatchEvent(&sbdf.Event{
		Type:           sbdf.EventTypeArrivalAtStop,
		BusIdentifier:  "SCHOOLRUN:BUS:B1",
		StopIdentifier: "SCHOOLRUN:STOP:S1",
	}, testSnapshot())

	assert.Eventually(t, func() bool {
		return len(watcher.received()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, "stop:arrival", watcher.received()[0].MessageType)
	assert.Empty(t, bystander.received())
}

func TestDispatchEventAlsoTargetsChildRoom(t *testing.T) {
	reg := registry.NewRegistry(allowAllAuthorization{})
	dispatcher := NewDispatcher(reg, nil)

	parent := newFakeConnection("conn-1", sbdf.RoleParent)
	subscribed(t, reg, parent, sbdf.ChildRoom("CHILD:C1"))

	dispatcher.DispatchEvent(&sbdf.Event{
		Type:            sbdf.EventTypePickup,
		BusIdentifier:   "SCHOOLRUN:BUS:B1",
		ChildIdentifier: "CHILD:C1",
		StopIdentifier:  "SCHOOLRUN:STOP:S1",
	}, testSnapshot())

	assert.Eventually(t, func() bool {
		return len(parent.received()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, "child:pickup", parent.received()[0].MessageType)
}

func TestDispatchEventDeliversOncePerConnection(t *testing.T) {
	reg := registry.NewRegistry(allowAllAuthorization{})
	dispatcher := NewDispatcher(reg, nil)

	// Watching both the bus and the child the event references
	parent := newFakeConnection("conn-1", sbdf.RoleParent)
	subscribed(t, reg, parent, sbdf.BusRoom("SCHOOLRUN:BUS:B1"), sbdf.ChildRoom("CHILD:C1"))

	dispatcher.DispatchEvent(&sbdf.Event{
		Type:            sbdf.EventTypeDropoff,
		BusIdentifier:   "SCHOOLRUN:BUS:B1",
		ChildIdentifier: "CHILD:C1",
		StopIdentifier:  "SCHOOLRUN:STOP:S3",
	}, testSnapshot())

	assert.Eventually(t, func() bool {
		return len(parent.received()) >= 1
	}, 2*time.Second, 10*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	assert.Len(t, parent.received(), 1)
}

func TestDispatchEventScopesPayloadByRole(t *testing.T) {
	reg := registry.NewRegistry(allowAllAuthorization{})
	dispatcher := NewDispatcher(reg, nil)

	parent := newFakeConnection("conn-1", sbdf.RoleParent)
	admin := newFakeConnection("conn-2", sbdf.RoleAdmin)
	subscribed(t, reg, parent, sbdf.BusRoom("SCHOOLRUN:BUS:B1"))
	subscribed(t, reg, admin, sbdf.BusRoom("SCHOOLRUN:BUS:B1"))

	dispatcher.DispatchEvent(&sbdf.Event{
		Type:          sbdf.EventTypeDelay,
		BusIdentifier: "SCHOOLRUN:BUS:B1",
		DelayMins:     7,
	}, testSnapshot())

	assert.Eventually(t, func() bool {
		return len(parent.received()) == 1 && len(admin.received()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	parentPayload := string(parent.received()[0].Payload)
	adminPayload := string(admin.received()[0].Payload)

	assert.True(t, strings.Contains(parentPayload, "BusIdentifier"))
	assert.False(t, strings.Contains(parentPayload, "SmoothedSpeed"))
	assert.True(t, strings.Contains(adminPayload, "SmoothedSpeed"))
}

func TestDispatchEventSurvivesMarshalFailureForOneRole(t *testing.T) {
	reg := registry.NewRegistry(allowAllAuthorization{})
	dispatcher := NewDispatcher(reg, nil)

	parent := newFakeConnection("conn-1", sbdf.RoleParent)
	admin := newFakeConnection("conn-2", sbdf.RoleAdmin)
	subscribed(t, reg, parent, sbdf.BusRoom("SCHOOLRUN:BUS:B1"))
	subscribed(t, reg, admin, sbdf.BusRoom("SCHOOLRUN:BUS:B1"))

	// NaN is not JSON-encodable, so the admin's detailed payload cannot be
	// marshalled while the parent's basic payload can
	snapshot := testSnapshot()
	snapshot.SmoothedSpeed = math.NaN()

	dispatcher.DispatchEvent(&sbdf.Event{
		Type:          sbdf.EventTypeArrivalAtStop,
		BusIdentifier: "SCHOOLRUN:BUS:B1",
	}, snapshot)

	assert.Eventually(t, func() bool {
		return len(parent.received()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.Empty(t, admin.received())
}

func TestDispatchLocationUpdate(t *testing.T) {
	reg := registry.NewRegistry(allowAllAuthorization{})
	dispatcher := NewDispatcher(reg, nil)

	watcher := newFakeConnection("conn-1", sbdf.RoleParent)
	subscribed(t, reg, watcher, sbdf.BusRoom("SCHOOLRUN:BUS:B1"))

	dispatcher.DispatchLocationUpdate(testSnapshot())

	assert.Eventually(t, func() bool {
		return len(watcher.received()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	message := watcher.received()[0]
	assert.Equal(t, "bus:location_update", message.MessageType)

	var decoded map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(message.Payload, &decoded))
	assert.Contains(t, decoded, "snapshot")
}

func TestDispatchSnapshotTargetsSingleConnection(t *testing.T) {
	reg := registry.NewRegistry(allowAllAuthorization{})
	dispatcher := NewDispatcher(reg, nil)

	joiner := newFakeConnection("conn-1", sbdf.RoleParent)
	other := newFakeConnection("conn-2", sbdf.RoleParent)
	subscribed(t, reg, other, sbdf.BusRoom("SCHOOLRUN:BUS:B1"))

	dispatcher.DispatchSnapshot(joiner, testSnapshot())

	assert.Eventually(t, func() bool {
		return len(joiner.received()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, "tracking:snapshot", joiner.received()[0].MessageType)
	assert.Empty(t, other.received())
}
