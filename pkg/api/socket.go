package api

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/schoolrun/schoolrun/pkg/directory"
	"github.com/schoolrun/schoolrun/pkg/realtime/bustracker"
	"github.com/schoolrun/schoolrun/pkg/realtime/dispatcher"
	"github.com/schoolrun/schoolrun/pkg/realtime/registry"
	"github.com/schoolrun/schoolrun/pkg/sbdf"
)

type inboundMessage struct {
	Type string `json:"type"`

	Room string `json:"room,omitempty"`

	BusIdentifier   string `json:"bus_id,omitempty"`
	RouteIdentifier string `json:"route_id,omitempty"`

	Latitude  *float64 `json:"lat,omitempty"`
	Longitude *float64 `json:"lng,omitempty"`
	Speed     float64  `json:"speed,omitempty"`
	Heading   float64  `json:"heading,omitempty"`
	Timestamp string   `json:"timestamp,omitempty"`

	Detail string `json:"detail,omitempty"`
}

type outboundFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// socketConnection adapts one websocket to the registry's Connection
// contract. Writes are serialized with a mutex because the dispatcher's
// delivery pool sends from multiple goroutines.
type socketConnection struct {
	id        string
	principal sbdf.Principal

	conn *websocket.Conn

	writeMutex sync.Mutex
}

func (c *socketConnection) ID() string {
	return c.id
}

func (c *socketConnection) Principal() sbdf.Principal {
	return c.principal
}

func (c *socketConnection) Send(messageType string, payload []byte) {
	frame, _ := json.Marshal(outboundFrame{
		Type: messageType,
		Data: payload,
	})

	c.writeMutex.Lock()
	defer c.writeMutex.Unlock()

	if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		// Mid-disconnect connections simply miss the event
		log.Debug().Err(err).Str("connection", c.id).Msg("Failed to write to socket")
	}
}

func (c *socketConnection) sendError(detail string) {
	payload, _ := json.Marshal(errorPayload{Error: detail})
	c.Send("error", payload)
}

type errorPayload struct {
	Error string `json:"error"`
}

// SocketHandler owns the per-connection message loop
type SocketHandler struct {
	Registry   *registry.Registry
	Dispatcher *dispatcher.Dispatcher
	Tracker    *bustracker.Tracker
	Lookup     directory.Lookup
}

func (h *SocketHandler) Handle(conn *websocket.Conn) {
	principal, _ := conn.Locals(principalLocalsKey).(sbdf.Principal)

	connection := &socketConnection{
		id:        uuid.New().String(),
		principal: principal,
		conn:      conn,
	}

	log.Info().
		Str("connection", connection.id).
		Str("user", principal.UserIdentifier).
		Str("role", string(principal.Role)).
		Msg("Socket connected")

	defer func() {
		h.Registry.ConnectionClosed(connection)
		conn.Close()

		log.Info().Str("connection", connection.id).Msg("Socket disconnected")
	}()

	for {
		_, messageBytes, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var message inboundMessage
		if err := json.Unmarshal(messageBytes, &message); err != nil {
			connection.sendError("malformed message")
			continue
		}

		h.handleMessage(connection, &message)
	}
}

func (h *SocketHandler) handleMessage(connection *socketConnection, message *inboundMessage) {
	switch message.Type {
	case "join":
		h.handleJoin(connection, message.Room)
	case "leave":
		h.Registry.Unsubscribe(connection, message.Room)
	case "tracking:start":
		h.handleTrackingStart(connection, message)
	case "tracking:end":
		h.handleTrackingEnd(connection, message)
	case "location:update":
		h.handleLocationUpdate(connection, message)
	case "emergency:report":
		h.handleEmergency(connection, message)
	default:
		connection.sendError("unknown message type")
	}
}

func (h *SocketHandler) handleJoin(connection *socketConnection, roomKey string) {
	err := h.Registry.Subscribe(context.Background(), connection, roomKey)

	var authorizationError *registry.AuthorizationError
	if errors.As(err, &authorizationError) {
		connection.sendError("you are not permitted to join this room")
		return
	} else if err != nil {
		connection.sendError("failed to join room")
		return
	}

	// Push the current state so late joiners are not blind until the next
	// location update
	kind, identifier, _ := sbdf.ParseRoomKey(roomKey)

	busIdentifier := identifier
	if kind == sbdf.RoomKindChild {
		var err error
		busIdentifier, err = h.Lookup.BusForChild(context.Background(), identifier)
		if err != nil {
			return
		}
	}

	snapshot, err := h.Tracker.Snapshot(busIdentifier)
	if err != nil {
		// Not currently tracking, nothing to push
		return
	}

	h.Dispatcher.DispatchSnapshot(connection, snapshot)
}

// requireDriveAuthority checks that the connection may issue driver commands
// for a bus: its driver, or an admin
func (h *SocketHandler) requireDriveAuthority(connection *socketConnection, busIdentifier string) bool {
	principal := connection.principal

	if principal.Role != sbdf.RoleDriver && principal.Role != sbdf.RoleAdmin {
		connection.sendError("only drivers may issue tracking commands")
		return false
	}

	allowed, err := h.Lookup.CanWatchRoom(context.Background(), principal, sbdf.BusRoom(busIdentifier))
	if err != nil || !allowed {
		connection.sendError("you are not assigned to this bus")
		return false
	}

	return true
}

func (h *SocketHandler) handleTrackingStart(connection *socketConnection, message *inboundMessage) {
	if message.BusIdentifier == "" {
		connection.sendError("bus_id is required")
		return
	}

	if !h.requireDriveAuthority(connection, message.BusIdentifier) {
		return
	}

	if err := h.Tracker.StartTracking(context.Background(), message.BusIdentifier); err != nil {
		log.Error().Err(err).Str("bus", message.BusIdentifier).Msg("Failed to start tracking")
		connection.sendError("failed to start tracking")
	}
}

func (h *SocketHandler) handleTrackingEnd(connection *socketConnection, message *inboundMessage) {
	if message.BusIdentifier == "" {
		connection.sendError("bus_id is required")
		return
	}

	if !h.requireDriveAuthority(connection, message.BusIdentifier) {
		return
	}

	var unknownBus *bustracker.UnknownBusError
	if err := h.Tracker.EndTracking(message.BusIdentifier); errors.As(err, &unknownBus) {
		connection.sendError("bus is not currently tracking")
	}
}

func (h *SocketHandler) handleLocationUpdate(connection *socketConnection, message *inboundMessage) {
	if message.BusIdentifier == "" {
		connection.sendError("bus_id is required")
		return
	}

	// Malformed position data is rejected at the boundary, it never reaches
	// the classifier
	if message.Latitude == nil || message.Longitude == nil ||
		math.IsNaN(*message.Latitude) || math.IsNaN(*message.Longitude) {
		connection.sendError("lat and lng are required")
		return
	}

	recordedAt, err := time.Parse(time.RFC3339, message.Timestamp)
	if err != nil {
		connection.sendError("timestamp must be RFC3339")
		return
	}

	if !h.requireDriveAuthority(connection, message.BusIdentifier) {
		return
	}

	location := sbdf.NewLocation(*message.Longitude, *message.Latitude)

	var unknownBus *bustracker.UnknownBusError
	if err := h.Tracker.SubmitLocation(message.BusIdentifier, location, message.Speed, message.Heading, recordedAt); errors.As(err, &unknownBus) {
		connection.sendError("bus is not currently tracking")
	}
}

func (h *SocketHandler) handleEmergency(connection *socketConnection, message *inboundMessage) {
	if message.BusIdentifier == "" {
		connection.sendError("bus_id is required")
		return
	}

	if !h.requireDriveAuthority(connection, message.BusIdentifier) {
		return
	}

	var unknownBus *bustracker.UnknownBusError
	if err := h.Tracker.ReportEmergency(message.BusIdentifier, message.Detail); errors.As(err, &unknownBus) {
		connection.sendError("bus is not currently tracking")
	}
}
