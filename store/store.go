package store

import (
	"errors"
	"time"
)

// Store is the room directory: a read model of which rooms are live, how
// many participants they hold and when they were last active. It is written
// asynchronously by the hub and read by the HTTP API. Losing it loses no
// signaling state.
type Store interface {
	PutRoom(r Room, ttl time.Duration) error
	GetRoom(id string) (Room, error)
	RemoveRoom(id string) error
	ListRooms() ([]Room, error)

	// Close releases the store's connections and background workers.
	Close() error
}

// Room represents the properties of a room in the store.
type Room struct {
	ID           string    `json:"id"`
	Participants int       `json:"participants"`
	LastActive   time.Time `json:"last_active"`
}

// ErrRoomNotFound indicates that the requested room was not found.
var ErrRoomNotFound = errors.New("room not found")
