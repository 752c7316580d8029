package registry

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/schoolrun/schoolrun/pkg/sbdf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConnection struct {
	id        string
	principal sbdf.Principal

	mutex sync.Mutex
	sent  []string
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

	c.sent = append(c.sent, messageType)
}

type fakeAuthorization struct {
	deniedRooms map[string]bool
	err         error
}

func (f *fakeAuthorization) CanWatchRoom(ctx context.Context, principal sbdf.Principal, roomKey string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}

	return !f.deniedRooms[roomKey], nil
}

func TestSubscribeAddsConnectionToRoom(t *testing.T) {
	reg := NewRegistry(&fakeAuthorization{})
	connection := newFakeConnection("conn-1", sbdf.RoleParent)

	room := sbdf.BusRoom("SCHOOLRUN:BUS:B1")
	require.NoError(t, reg.Subscribe(context.Background(), connection, room))

	subscribers := reg.SubscribersOf(room)
	require.Len(t, subscribers, 1)
	assert.Equal(t, "conn-1", subscribers[0].ID())
	assert.Equal(t, []string{room}, reg.Rooms(connection))
}

func TestSubscribeIsIdempotent(t *testing.T) {
	reg := NewRegistry(&fakeAuthorization{})
	connection := newFakeConnection("conn-1", sbdf.RoleParent)

	room := sbdf.ChildRoom("CHILD:C1")
	require.NoError(t, reg.Subscribe(context.Background(), connection, room))
	require.NoError(t, reg.Subscribe(context.Background(), connection, room))

	assert.Len(t, reg.SubscribersOf(room), 1)
}

func TestSubscribeRejectsMalformedRoomKey(t *testing.T) {
	reg := NewRegistry(&fakeAuthorization{})
	connection := newFakeConnection("conn-1", sbdf.RoleParent)

	assert.Error(t, reg.Subscribe(context.Background(), connection, "not-a-room"))
	assert.Error(t, reg.Subscribe(context.Background(), connection, "fleet:SCHOOLRUN:BUS:B1"))
	assert.Error(t, reg.Subscribe(context.Background(), connection, "bus:"))
}

func TestSubscribeRejectsUnauthorisedRoom(t *testing.T) {
	room := sbdf.BusRoom("SCHOOLRUN:BUS:B1")

	reg := NewRegistry(&fakeAuthorization{deniedRooms: map[string]bool{room: true}})
	connection := newFakeConnection("conn-1", sbdf.RoleParent)

	err := reg.Subscribe(context.Background(), connection, room)

	var authError *AuthorizationError
	require.ErrorAs(t, err, &authError)
	assert.Equal(t, room, authError.RoomKey)
	assert.Empty(t, reg.SubscribersOf(room))
}

func TestSubscribeSurfacesAuthorizationLookupFailure(t *testing.T) {
	lookupError := errors.New("directory unavailable")
	reg := NewRegistry(&fakeAuthorization{err: lookupError})
	connection := newFakeConnection("conn-1", sbdf.RoleParent)

	err := reg.Subscribe(context.Background(), connection, sbdf.BusRoom("SCHOOLRUN:BUS:B1"))

	assert.ErrorIs(t, err, lookupError)
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	reg := NewRegistry(&fakeAuthorization{})
	connection := newFakeConnection("conn-1", sbdf.RoleParent)

	room := sbdf.BusRoom("SCHOOLRUN:BUS:B1")
	require.NoError(t, reg.Subscribe(context.Background(), connection, room))

	reg.Unsubscribe(connection, room)
	reg.Unsubscribe(connection, room)
	reg.Unsubscribe(connection, sbdf.ChildRoom("CHILD:NEVER-JOINED"))

	assert.Empty(t, reg.SubscribersOf(room))
	assert.Empty(t, reg.Rooms(connection))
}

func TestConnectionClosedRemovesAllSubscriptions(t *testing.T) {
	reg := NewRegistry(&fakeAuthorization{})
	closing := newFakeConnection("conn-1", sbdf.RoleParent)
	staying := newFakeConnection("conn-2", sbdf.RoleParent)

	busRoom := sbdf.BusRoom("SCHOOLRUN:BUS:B1")
	childRoom := sbdf.ChildRoom("CHILD:C1")

	require.NoError(t, reg.Subscribe(context.Background(), closing, busRoom))
	require.NoError(t, reg.Subscribe(context.Background(), closing, childRoom))
	require.NoError(t, reg.Subscribe(context.Background(), staying, busRoom))

	reg.ConnectionClosed(closing)

	subscribers := reg.SubscribersOf(busRoom)
	require.Len(t, subscribers, 1)
	assert.Equal(t, "conn-2", subscribers[0].ID())
	assert.Empty(t, reg.SubscribersOf(childRoom))
	assert.Empty(t, reg.Rooms(closing))
}

func TestConnectionClosedWithoutSubscriptions(t *testing.T) {
	reg := NewRegistry(&fakeAuthorization{})

	assert.NotPanics(t, func() {
		reg.ConnectionClosed(newFakeConnection("conn-1", sbdf.RoleParent))
	})
}

func TestSubscribersOfUnknownRoomIsEmpty(t *testing.T) {
	reg := NewRegistry(&fakeAuthorization{})

	assert.Empty(t, reg.SubscribersOf(sbdf.BusRoom("SCHOOLRUN:BUS:NOBODY")))
}
