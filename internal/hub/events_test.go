package hub

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
)

func TestDecodeEvent(t *testing.T) {
	cases := []struct {
		name string
		in   string
		typ  EventType
		err  error
	}{
		{"join", `{"type":"join-room","data":{"roomId":"r1","participantId":"alice"}}`, TypeJoinRoom, nil},
		{"join without participant", `{"type":"join-room","data":{"roomId":"r1"}}`, TypeJoinRoom, nil},
		{"join without room", `{"type":"join-room","data":{"participantId":"alice"}}`, "", ErrInvalidEvent},
		{"join without data", `{"type":"join-room"}`, "", ErrInvalidEvent},
		{"leave", `{"type":"leave-room"}`, TypeLeaveRoom, nil},
		{"signal", `{"type":"signal","data":{"target":"c2","payload":{"a":1}}}`, TypeSignal, nil},
		{"signal without target", `{"type":"signal","data":{"payload":{}}}`, "", ErrInvalidEvent},
		{"broadcast", `{"type":"broadcast","data":{"payload":"hi"}}`, TypeBroadcast, nil},
		{"broadcast without data", `{"type":"broadcast"}`, "", ErrInvalidEvent},
		{"unknown", `{"type":"participant-joined","data":{}}`, "", ErrUnknownEvent},
		{"no type", `{"data":{}}`, "", ErrUnknownEvent},
		{"not json", `join-room r1`, "", ErrInvalidEvent},
		{"wrong field type", `{"type":"join-room","data":{"roomId":5}}`, "", ErrInvalidEvent},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			ev, err := DecodeEvent([]byte(c.in))
			if c.err != nil {
				if !errors.Is(err, c.err) {
					t.Fatalf("error = %v; want %v", err, c.err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if ev.Type != c.typ {
				t.Fatalf("type = %q; want %q", ev.Type, c.typ)
			}
		})
	}
}

func TestDecodeEventFields(t *testing.T) {
	ev, err := DecodeEvent([]byte(`{"type":"join-room","data":{"roomId":"r1","participantId":"alice"}}`))
	if err != nil {
		t.Fatal(err)
	}
	if ev.Join.RoomID != "r1" || ev.Join.ParticipantID != "alice" {
		t.Fatalf("join = %+v", ev.Join)
	}

	payload := `{ "sdp" : "v=0\r\n" }`
	ev, err = DecodeEvent([]byte(`{"type":"signal","data":{"target":"c2","payload":` + payload + `}}`))
	if err != nil {
		t.Fatal(err)
	}
	if ev.Signal.Target != "c2" {
		t.Fatalf("target = %q", ev.Signal.Target)
	}
	if string(ev.Signal.Payload) != payload {
		t.Fatalf("payload = %s; want %s", ev.Signal.Payload, payload)
	}
}

func TestMakeRelayPayload(t *testing.T) {
	payload := json.RawMessage("{\n  \"candidate\": \"a=<x> & y\",\n  \"n\":  [1, 2.50]\n}")
	b := makeRelayPayload(TypeSignal, "c1", "", payload)

	if !json.Valid(b) {
		t.Fatalf("invalid JSON: %s", b)
	}
	if !bytes.Contains(b, payload) {
		t.Fatalf("payload not carried verbatim: %s", b)
	}

	var m struct {
		Type EventType `json:"type"`
		Data struct {
			From          string          `json:"from"`
			ParticipantID *string         `json:"participantId"`
			Payload       json.RawMessage `json:"payload"`
		} `json:"data"`
	}
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatal(err)
	}
	if m.Type != TypeSignal || m.Data.From != "c1" {
		t.Fatalf("unexpected envelope %+v", m)
	}
	if m.Data.ParticipantID != nil {
		t.Fatal("signal envelope should not carry participantId")
	}
	if !bytes.Equal(m.Data.Payload, payload) {
		t.Fatalf("payload = %s; want %s", m.Data.Payload, payload)
	}
}

func TestMakeRelayPayloadEscapesIDs(t *testing.T) {
	b := makeRelayPayload(TypeRoomBroadcast, `c"1`, `al\ice`, nil)
	if !json.Valid(b) {
		t.Fatalf("invalid JSON: %s", b)
	}

	var m struct {
		Data struct {
			From          string `json:"from"`
			ParticipantID string `json:"participantId"`
		} `json:"data"`
	}
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatal(err)
	}
	if m.Data.From != `c"1` || m.Data.ParticipantID != `al\ice` {
		t.Fatalf("unexpected data %+v", m.Data)
	}
	if !bytes.Contains(b, []byte(`"payload":null}`)) {
		t.Fatalf("empty payload should encode as null: %s", b)
	}
}
