package hub

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// EventType is the closed set of event names exchanged with connections.
type EventType string

// Inbound events, sent by connections.
const (
	TypeJoinRoom  EventType = "join-room"
	TypeLeaveRoom EventType = "leave-room"
	TypeSignal    EventType = "signal"
	TypeBroadcast EventType = "broadcast"
)

// Outbound events, sent to connections. TypeSignal is used in both directions.
const (
	TypeConnected            EventType = "connected"
	TypeParticipantJoined    EventType = "participant-joined"
	TypeExistingParticipants EventType = "existing-participants"
	TypeParticipantLeft      EventType = "participant-left"
	TypeRoomBroadcast        EventType = "room-broadcast"
	TypeError                EventType = "error"
)

var (
	// ErrUnknownEvent is returned when an inbound event name is not recognised.
	ErrUnknownEvent = errors.New("unknown event type")

	// ErrInvalidEvent is returned when an inbound event is missing a required field.
	ErrInvalidEvent = errors.New("invalid event")
)

// Event is a decoded inbound event from a connection. Only the field that
// matches Type is populated.
type Event struct {
	Type   EventType
	ConnID string

	Join      JoinRoom
	Signal    Signal
	Broadcast Broadcast
}

// JoinRoom is the payload of a join-room event.
type JoinRoom struct {
	RoomID        string `json:"roomId"`
	ParticipantID string `json:"participantId"`
}

// Signal is the payload of an inbound signal event. Payload is never
// interpreted.
type Signal struct {
	Target  string          `json:"target"`
	Payload json.RawMessage `json:"payload"`
}

// Broadcast is the payload of an inbound broadcast event.
type Broadcast struct {
	Payload json.RawMessage `json:"payload"`
}

// Participant is one joined connection as seen by other members of a room.
type Participant struct {
	ParticipantID string `json:"participantId"`
	ConnectionID  string `json:"connectionId"`
}

type inWrap struct {
	Type EventType       `json:"type"`
	Data json.RawMessage `json:"data"`
}

type msgWrap struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

type msgConnected struct {
	ConnectionID string `json:"connectionId"`
}

type msgExisting struct {
	ParticipantIDs []string      `json:"participantIds"`
	Participants   []Participant `json:"participants"`
}

type msgError struct {
	Message string `json:"message"`
}

// DecodeEvent parses and validates a raw inbound message. Anything that is
// not one of the known inbound events, or lacks a required field, is rejected
// here so that the hub only ever sees well-formed events.
func DecodeEvent(b []byte) (Event, error) {
	var (
		w   inWrap
		out Event
	)
	if err := json.Unmarshal(b, &w); err != nil {
		return out, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	out.Type = w.Type

	switch w.Type {
	case TypeJoinRoom:
		if err := unmarshalData(w.Data, &out.Join); err != nil {
			return out, err
		}
		if out.Join.RoomID == "" {
			return out, fmt.Errorf("%w: roomId is required", ErrInvalidEvent)
		}

	case TypeLeaveRoom:

	case TypeSignal:
		if err := unmarshalData(w.Data, &out.Signal); err != nil {
			return out, err
		}
		if out.Signal.Target == "" {
			return out, fmt.Errorf("%w: target is required", ErrInvalidEvent)
		}

	case TypeBroadcast:
		if err := unmarshalData(w.Data, &out.Broadcast); err != nil {
			return out, err
		}

	default:
		return out, fmt.Errorf("%w: %q", ErrUnknownEvent, w.Type)
	}

	return out, nil
}

func unmarshalData(b json.RawMessage, v interface{}) error {
	if len(b) == 0 {
		return fmt.Errorf("%w: data is required", ErrInvalidEvent)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	return nil
}

// makePayload prepares an outbound message.
func makePayload(typ EventType, data interface{}) []byte {
	b, _ := json.Marshal(msgWrap{
		Type:      typ,
		Timestamp: time.Now(),
		Data:      data,
	})
	return b
}

// makeRelayPayload prepares an outbound message that carries an opaque
// payload. The envelope is assembled by hand because json.Marshal compacts
// and HTML-escapes RawMessage values, and the payload must reach the target
// exactly as the sender wrote it.
func makeRelayPayload(typ EventType, from, participantID string, payload json.RawMessage) []byte {
	ts, _ := json.Marshal(time.Now())

	b := make([]byte, 0, len(payload)+128)
	b = append(b, `{"type":`...)
	b = appendString(b, string(typ))
	b = append(b, `,"timestamp":`...)
	b = append(b, ts...)
	b = append(b, `,"data":{"from":`...)
	b = appendString(b, from)
	if participantID != "" {
		b = append(b, `,"participantId":`...)
		b = appendString(b, participantID)
	}
	b = append(b, `,"payload":`...)
	if len(payload) == 0 {
		b = append(b, "null"...)
	} else {
		b = append(b, payload...)
	}
	return append(b, "}}"...)
}

func appendString(b []byte, s string) []byte {
	q, _ := json.Marshal(s)
	return append(b, q...)
}
