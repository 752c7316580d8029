package sbdf

import (
	"fmt"
	"strings"
)

type Role string

const (
	RoleParent Role = "parent"
	RoleDriver Role = "driver"
	RoleAdmin  Role = "admin"
)

// Principal is the authenticated identity behind a connection or request
type Principal struct {
	UserIdentifier string
	Role           Role
}

const (
	RoomKindBus   = "bus"
	RoomKindChild = "child"
)

func BusRoom(busIdentifier string) string {
	return fmt.Sprintf("%s:%s", RoomKindBus, busIdentifier)
}

func ChildRoom(childIdentifier string) string {
	return fmt.Sprintf("%s:%s", RoomKindChild, childIdentifier)
}

// ParseRoomKey splits a room key into its kind and subject identifier
func ParseRoomKey(roomKey string) (kind string, identifier string, ok bool) {
	kind, identifier, ok = strings.Cut(roomKey, ":")

	if !ok || identifier == "" {
		return "", "", false
	}

	if kind != RoomKindBus && kind != RoomKindChild {
		return "", "", false
	}

	return kind, identifier, true
}
