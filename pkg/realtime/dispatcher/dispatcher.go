// Package dispatcher fans classified journey events and fresh snapshots out
// to the subscribed connections. Delivery is best-effort at-most-once per
// connection per event - consistency for any observer that misses one is
// re-established by the next snapshot push or location update.
package dispatcher

import (
	"encoding/json"

	"github.com/adjust/rmq/v5"
	"github.com/liip/sheriff"
	"github.com/rs/zerolog/log"
	"github.com/schoolrun/schoolrun/pkg/realtime/registry"
	"github.com/schoolrun/schoolrun/pkg/sbdf"
	"github.com/sourcegraph/conc/pool"
)

const maxDeliveryGoroutines = 64

var eventMessageNames = map[sbdf.EventType]string{
	sbdf.EventTypeArrivalAtStop: "stop:arrival",
	sbdf.EventTypePickup:        "child:pickup",
	sbdf.EventTypeDropoff:       "child:dropoff",
	sbdf.EventTypeDelay:         "bus:delay",
	sbdf.EventTypeEmergency:     "bus:emergency",
	sbdf.EventTypeDisconnected:  "bus:disconnected",
}

type outboundMessage struct {
	Event    *sbdf.Event           `json:"event,omitempty" groups:"basic"`
	Snapshot *sbdf.JourneySnapshot `json:"snapshot" groups:"basic"`
}

// Dispatcher delivers through a bounded goroutine pool so one stuck
// subscriber cannot delay classification of the next location update.
// Per-bus relative ordering of dispatch calls is preserved by the bus
// worker that invokes them.
type Dispatcher struct {
	registry *registry.Registry

	// EventQueue additionally receives every domain event for the
	// out-of-process notification pipeline. May be nil.
	EventQueue rmq.Queue

	deliveryPool *pool.Pool
}

func NewDispatcher(connectionRegistry *registry.Registry, eventQueue rmq.Queue) *Dispatcher {
	deliveryPool := pool.New()
	deliveryPool.WithMaxGoroutines(maxDeliveryGoroutines)

	return &Dispatcher{
		registry: connectionRegistry,

		EventQueue: eventQueue,

		deliveryPool: deliveryPool,
	}
}

// DispatchEvent targets the bus room always and the child room when the
// event references a child
func (d *Dispatcher) DispatchEvent(event *sbdf.Event, snapshot *sbdf.JourneySnapshot) {
	messageName, known := eventMessageNames[event.Type]
	if !known {
		log.Error().Str("type", string(event.Type)).Msg("Unknown event type, not dispatching")
		return
	}

	rooms := []string{sbdf.BusRoom(event.BusIdentifier)}
	if event.ChildIdentifier != "" {
		rooms = append(rooms, sbdf.ChildRoom(event.ChildIdentifier))
	}

	d.deliver(rooms, messageName, &outboundMessage{Event: event, Snapshot: snapshot})

	if d.EventQueue != nil {
		eventBytes, _ := json.Marshal(event)

		if err := d.EventQueue.PublishBytes(eventBytes); err != nil {
			log.Error().Err(err).Str("type", string(event.Type)).Msg("Failed to publish event to queue")
		}
	}
}

// DispatchLocationUpdate pushes the refreshed snapshot to the bus room
func (d *Dispatcher) DispatchLocationUpdate(snapshot *sbdf.JourneySnapshot) {
	d.deliver([]string{sbdf.BusRoom(snapshot.BusIdentifier)}, "bus:location_update", &outboundMessage{Snapshot: snapshot})
}

// DispatchSnapshot sends the current state to a single connection, used so
// late joiners are not blind until the next update
func (d *Dispatcher) DispatchSnapshot(connection registry.Connection, snapshot *sbdf.JourneySnapshot) {
	payload, err := marshalForRole(&outboundMessage{Snapshot: snapshot}, connection.Principal().Role)
	if err != nil {
		log.Error().Err(err).Str("bus", snapshot.BusIdentifier).Msg("Failed to marshal snapshot")
		return
	}

	d.deliveryPool.Go(func() {
		connection.Send("tracking:snapshot", payload)
	})
}

func (d *Dispatcher) deliver(rooms []string, messageName string, message *outboundMessage) {
	// Marshal once per role rather than once per subscriber
	payloads := map[sbdf.Role][]byte{}

	seen := map[string]struct{}{}

	for _, roomKey := range rooms {
		for _, connection := range d.registry.SubscribersOf(roomKey) {
			if _, alreadyTargeted := seen[connection.ID()]; alreadyTargeted {
				continue
			}
			seen[connection.ID()] = struct{}{}

			role := connection.Principal().Role

			payload, marshalled := payloads[role]
			if !marshalled {
				var err error
				payload, err = marshalForRole(message, role)
				if err != nil {
					// Skip this subscriber, the rest still get the event
					log.Error().Err(err).Str("message", messageName).Str("role", string(role)).Msg("Failed to marshal outbound message")
					continue
				}
				payloads[role] = payload
			}

			d.deliveryPool.Go(func() {
				connection.Send(messageName, payload)
			})
		}
	}
}

func marshalForRole(message *outboundMessage, role sbdf.Role) ([]byte, error) {
	groups := []string{"basic"}
	if role == sbdf.RoleAdmin {
		groups = append(groups, "detailed")
	}

	reduced, err := sheriff.Marshal(&sheriff.Options{
		Groups: groups,
	}, message)
	if err != nil {
		return nil, err
	}

	return json.Marshal(reduced)
}
