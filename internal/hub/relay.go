package hub

import (
	"encoding/json"

	"github.com/sirupsen/logrus"
)

// relay forwards an opaque signaling payload to a single target connection.
// Signals to targets that are not connected and joined to a room are
// silently dropped.
func (h *Hub) relay(from, target string, payload json.RawMessage) {
	c, ok := h.conns[target]
	if !ok {
		h.dropSignal(from, target)
		return
	}
	if _, joined := h.reg.RoomOf(target); !joined {
		h.dropSignal(from, target)
		return
	}

	if h.send(c, makeRelayPayload(TypeSignal, from, "", payload)) {
		incSignal("relayed")
		h.log.WithFields(logrus.Fields{"conn": from, "target": target}).Debug("relayed signal")
	}
}

func (h *Hub) dropSignal(from, target string) {
	incSignal("dropped")
	h.log.WithFields(logrus.Fields{"conn": from, "target": target}).Debug("dropped signal to absent target")
}

// broadcast forwards an opaque payload to every other member of the
// sender's room. Senders that are not in a room are ignored.
func (h *Hub) broadcast(from string, payload json.RawMessage) {
	roomID, ok := h.reg.RoomOf(from)
	if !ok {
		return
	}
	participantID, _ := h.reg.ParticipantOf(from)

	var (
		msg = makeRelayPayload(TypeRoomBroadcast, from, participantID, payload)
		n   = 0
	)
	for _, id := range h.reg.MembersOf(roomID) {
		if id == from {
			continue
		}
		if c, ok := h.conns[id]; ok && h.send(c, msg) {
			n++
		}
	}
	if n > 0 {
		addBroadcasts(n)
	}
	h.touchRoom(roomID)
}
