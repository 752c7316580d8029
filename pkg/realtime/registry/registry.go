// Package registry maintains the mapping between live socket connections
// and the bus/child rooms they are subscribed to. State is process-local
// and intentionally lost on restart - reconnecting clients re-subscribe.
package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/schoolrun/schoolrun/pkg/sbdf"
)

// Connection is a live subscriber. Implemented by the websocket layer; the
// registry and dispatcher never see transport types.
type Connection interface {
	ID() string
	Principal() sbdf.Principal
	Send(messageType string, payload []byte)
}

// AuthorizationLookup answers whether a principal may watch a room.
// Implemented by the directory package: parents may watch their own
// children, drivers their assigned bus, admins anything.
type AuthorizationLookup interface {
	CanWatchRoom(ctx context.Context, principal sbdf.Principal, roomKey string) (bool, error)
}

// AuthorizationError rejects a subscribe on a room the principal may not watch
type AuthorizationError struct {
	UserIdentifier string
	RoomKey        string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("user %s is not permitted to watch room %s", e.UserIdentifier, e.RoomKey)
}

// Registry is explicitly constructed at process start and injected wherever
// it is needed - there is deliberately no package-level instance.
type Registry struct {
	mutex sync.RWMutex

	rooms       map[string]map[string]Connection
	connections map[string]map[string]struct{}

	authorization AuthorizationLookup
}

func NewRegistry(authorization AuthorizationLookup) *Registry {
	return &Registry{
		rooms:       map[string]map[string]Connection{},
		connections: map[string]map[string]struct{}{},

		authorization: authorization,
	}
}

// Subscribe adds a connection to a room. Idempotent - subscribing twice is
// a no-op.
func (r *Registry) Subscribe(ctx context.Context, connection Connection, roomKey string) error {
	if _, _, ok := sbdf.ParseRoomKey(roomKey); !ok {
		return fmt.Errorf("malformed room key %q", roomKey)
	}

	allowed, err := r.authorization.CanWatchRoom(ctx, connection.Principal(), roomKey)
	if err != nil {
		return fmt.Errorf("authorization lookup failed for room %s: %w", roomKey, err)
	}
	if !allowed {
		return &AuthorizationError{
			UserIdentifier: connection.Principal().UserIdentifier,
			RoomKey:        roomKey,
		}
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.rooms[roomKey] == nil {
		r.rooms[roomKey] = map[string]Connection{}
	}
	r.rooms[roomKey][connection.ID()] = connection

	if r.connections[connection.ID()] == nil {
		r.connections[connection.ID()] = map[string]struct{}{}
	}
	r.connections[connection.ID()][roomKey] = struct{}{}

	log.Debug().
		Str("connection", connection.ID()).
		Str("room", roomKey).
		Msg("Subscribed connection to room")

	return nil
}

// Unsubscribe is idempotent, unknown rooms and absent subscriptions are no-ops
func (r *Registry) Unsubscribe(connection Connection, roomKey string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.removeLocked(connection.ID(), roomKey)
}

// ConnectionClosed removes the connection from every room it joined. It is
// the only cleanup path and is safe to call with no subscriptions at all.
func (r *Registry) ConnectionClosed(connection Connection) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	for roomKey := range r.connections[connection.ID()] {
		r.removeLocked(connection.ID(), roomKey)
	}
}

// SubscribersOf returns a snapshot of the connections in a room. Unknown
// rooms give an empty result, never an error. The snapshot is not
// linearized with concurrent subscribe/unsubscribe calls - a connection
// leaving mid-dispatch may still receive one in-flight event.
func (r *Registry) SubscribersOf(roomKey string) []Connection {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	room := r.rooms[roomKey]

	subscribers := make([]Connection, 0, len(room))
	for _, connection := range room {
		subscribers = append(subscribers, connection)
	}

	return subscribers
}

// Rooms returns the rooms a connection is currently subscribed to
func (r *Registry) Rooms(connection Connection) []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	rooms := make([]string, 0, len(r.connections[connection.ID()]))
	for roomKey := range r.connections[connection.ID()] {
		rooms = append(rooms, roomKey)
	}

	return rooms
}

func (r *Registry) removeLocked(connectionID string, roomKey string) {
	if room := r.rooms[roomKey]; room != nil {
		delete(room, connectionID)

		if len(room) == 0 {
			delete(r.rooms, roomKey)
		}
	}

	if subscriptions := r.connections[connectionID]; subscriptions != nil {
		delete(subscriptions, roomKey)

		if len(subscriptions) == 0 {
			delete(r.connections, connectionID)
		}
	}
}
