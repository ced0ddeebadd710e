package hub

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/huddle-app/huddle/store"
	"github.com/sirupsen/logrus"
)

// Config represents the app configuration.
type Config struct {
	Address        string   `koanf:"address"`
	AllowedOrigins []string `koanf:"allowed_origins"`
	LogLevel       string   `koanf:"log_level"`

	WSTimeout       time.Duration `koanf:"websocket_timeout"`
	MaxMessageSize  int64         `koanf:"max_message_size"`
	MaxMessageQueue int           `koanf:"max_message_queue"`
	MaxPeersPerRoom int           `koanf:"max_peers_per_room"`
	MaxRooms        int           `koanf:"max_rooms"`
	RoomTTL         time.Duration `koanf:"room_ttl"`
}

var (
	// ErrHubClosed is returned by requests made after the hub has stopped.
	ErrHubClosed = errors.New("hub is closed")

	// ErrRoomNotFound is returned for rooms that have no members.
	ErrRoomNotFound = errors.New("room not found")

	errRoomFull     = errors.New("room is full")
	errTooManyRooms = errors.New("too many active rooms")
)

// Conn is a live transport connection as seen by the hub. The transport owns
// it; the hub only addresses it by ID and queues data on it.
type Conn interface {
	ID() string

	// Send queues b for delivery without blocking. It returns false if the
	// connection cannot accept more data.
	Send(b []byte) bool

	// Close terminates the connection. It must be safe to call more than once.
	Close()
}

type reqType int

const (
	reqConnect reqType = iota
	reqDisconnect
	reqEvent
	reqSnapshot
)

// request is a unit of work processed by the hub's event loop. Connects,
// events and disconnects share one queue so that a connection's requests
// are always processed in the order the transport delivered them.
type request struct {
	typ    reqType
	conn   Conn
	connID string
	ev     Event
	roomID string
	reply  chan snapshot
}

type snapshot struct {
	participants []Participant
	ok           bool
}

type dirUpdate struct {
	room   store.Room
	remove bool
}

// Hub is the single owner of room membership. All membership changes,
// notifications and relays happen on the goroutine running Run, one request
// at a time, so the registry needs no locking.
type Hub struct {
	Store store.Store

	reg   *Registry
	conns map[string]Conn

	reqQ chan request
	dirQ chan dirUpdate
	done chan struct{}
	once sync.Once

	cfg *Config
	log *logrus.Logger
}

// NewHub returns a new instance of Hub. st may be nil, in which case no room
// directory is maintained.
func NewHub(cfg *Config, st store.Store, l *logrus.Logger) *Hub {
	qSize := cfg.MaxMessageQueue
	if qSize <= 0 {
		qSize = 1024
	}

	return &Hub{
		Store: st,
		reg:   NewRegistry(),
		conns: make(map[string]Conn),

		reqQ: make(chan request, qSize),
		dirQ: make(chan dirUpdate, qSize),
		done: make(chan struct{}),

		cfg: cfg,
		log: l,
	}
}

// Run is a blocking function that processes hub requests until ctx is
// cancelled, after which every connection is closed. It should be invoked
// as a goroutine.
func (h *Hub) Run(ctx context.Context) {
	var wg sync.WaitGroup
	if h.Store != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.runDirectory(ctx)
		}()
	}

	// Directory entries expire unless they are refreshed.
	var refresh <-chan time.Time
	if h.Store != nil && h.cfg.RoomTTL > 0 {
		t := time.NewTicker(h.cfg.RoomTTL / 2)
		defer t.Stop()
		refresh = t.C
	}

loop:
	for {
		select {
		case <-ctx.Done():
			break loop

		case req := <-h.reqQ:
			h.process(req)

		case <-refresh:
			for _, id := range h.reg.Rooms() {
				h.touchRoom(id)
			}
		}
	}

	h.once.Do(func() { close(h.done) })
	wg.Wait()
	h.shutdown()
}

// Connect registers a newly opened transport connection.
func (h *Hub) Connect(c Conn) error {
	return h.queue(request{typ: reqConnect, conn: c})
}

// Disconnect reports that a transport connection has gone away.
func (h *Hub) Disconnect(connID string) error {
	return h.queue(request{typ: reqDisconnect, connID: connID})
}

// Dispatch queues an inbound event from a connection.
func (h *Hub) Dispatch(ev Event) error {
	return h.queue(request{typ: reqEvent, ev: ev})
}

// Participants returns the current participants of a room.
func (h *Hub) Participants(ctx context.Context, roomID string) ([]Participant, error) {
	reply := make(chan snapshot, 1)
	if err := h.queue(request{typ: reqSnapshot, roomID: roomID, reply: reply}); err != nil {
		return nil, err
	}

	select {
	case s := <-reply:
		if !s.ok {
			return nil, ErrRoomNotFound
		}
		return s.participants, nil
	case <-h.done:
		return nil, ErrHubClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *Hub) queue(req request) error {
	select {
	case <-h.done:
		return ErrHubClosed
	default:
	}

	select {
	case h.reqQ <- req:
		return nil
	case <-h.done:
		return ErrHubClosed
	}
}

// process handles a single request to completion.
func (h *Hub) process(req request) {
	switch req.typ {
	case reqConnect:
		h.connect(req.conn)
	case reqDisconnect:
		h.disconnect(req.connID)
	case reqEvent:
		h.handleEvent(req.ev)
	case reqSnapshot:
		req.reply <- h.snapshot(req.roomID)
	}
}

func (h *Hub) handleEvent(ev Event) {
	if _, ok := h.conns[ev.ConnID]; !ok {
		h.log.WithField("conn", ev.ConnID).Debug("event from unknown connection")
		return
	}

	switch ev.Type {
	case TypeJoinRoom:
		h.join(ev.ConnID, ev.Join)
	case TypeLeaveRoom:
		h.leave(ev.ConnID)
	case TypeSignal:
		h.relay(ev.ConnID, ev.Signal.Target, ev.Signal.Payload)
	case TypeBroadcast:
		h.broadcast(ev.ConnID, ev.Broadcast.Payload)
	default:
		h.log.WithFields(logrus.Fields{"conn": ev.ConnID, "type": ev.Type}).Warn("unknown event type")
	}
}

func (h *Hub) connect(c Conn) {
	id := c.ID()
	if _, ok := h.conns[id]; ok {
		h.log.WithField("conn", id).Warn("duplicate connection ID, ignoring")
		return
	}

	h.conns[id] = c
	setConnections(len(h.conns))
	h.send(c, makePayload(TypeConnected, msgConnected{ConnectionID: id}))
	h.log.WithField("conn", id).Debug("connected")
}

func (h *Hub) disconnect(connID string) {
	c, ok := h.conns[connID]
	if !ok {
		return
	}

	h.leave(connID)
	delete(h.conns, connID)
	setConnections(len(h.conns))
	c.Close()
	h.log.WithField("conn", connID).Debug("disconnected")
}

// join moves a connection into a room and notifies both sides.
func (h *Hub) join(connID string, j JoinRoom) {
	c := h.conns[connID]

	cur, joined := h.reg.RoomOf(connID)
	if joined && cur == j.RoomID {
		h.send(c, h.makeExistingPayload(connID, j.RoomID))
		return
	}

	if err := h.checkCapacity(connID, j.RoomID); err != nil {
		h.log.WithFields(logrus.Fields{"conn": connID, "room": j.RoomID}).Infof("join refused: %v", err)
		h.send(c, makePayload(TypeError, msgError{Message: err.Error()}))
		return
	}

	// The old room hears about the departure before the new room hears
	// about the arrival.
	if joined {
		h.leave(connID)
	}

	h.reg.Join(connID, j.RoomID, j.ParticipantID)
	setRooms(h.reg.NumRooms())
	incRoomEvent("join")

	// Notify all other peers of the new addition.
	msg := makePayload(TypeParticipantJoined, Participant{
		ParticipantID: j.ParticipantID,
		ConnectionID:  connID,
	})
	for _, id := range h.reg.MembersOf(j.RoomID) {
		if id == connID {
			continue
		}
		if m, ok := h.conns[id]; ok {
			h.send(m, msg)
		}
	}

	// Tell the newcomer whom to start signaling with.
	h.send(c, h.makeExistingPayload(connID, j.RoomID))
	h.touchRoom(j.RoomID)

	h.log.WithFields(logrus.Fields{
		"conn":        connID,
		"room":        j.RoomID,
		"participant": j.ParticipantID,
	}).Info("joined room")
}

// leave removes a connection from its room and notifies those remaining.
// It is a no-op for connections that are not in a room.
func (h *Hub) leave(connID string) {
	roomID, participantID, ok := h.reg.Leave(connID)
	if !ok {
		return
	}
	setRooms(h.reg.NumRooms())
	incRoomEvent("leave")

	msg := makePayload(TypeParticipantLeft, Participant{
		ParticipantID: participantID,
		ConnectionID:  connID,
	})
	for _, id := range h.reg.MembersOf(roomID) {
		if m, ok := h.conns[id]; ok {
			h.send(m, msg)
		}
	}
	h.touchRoom(roomID)

	h.log.WithFields(logrus.Fields{
		"conn":        connID,
		"room":        roomID,
		"participant": participantID,
	}).Info("left room")
}

// checkCapacity reports whether connID may move into roomID. A room the
// connection is the last member of is vacated by the move and doesn't count
// towards the room limit.
func (h *Hub) checkCapacity(connID, roomID string) error {
	n := h.reg.Count(roomID)
	if h.cfg.MaxPeersPerRoom > 0 && n >= h.cfg.MaxPeersPerRoom {
		return errRoomFull
	}
	if h.cfg.MaxRooms > 0 && n == 0 {
		rooms := h.reg.NumRooms()
		if cur, ok := h.reg.RoomOf(connID); ok && h.reg.Count(cur) == 1 {
			rooms--
		}
		if rooms >= h.cfg.MaxRooms {
			return errTooManyRooms
		}
	}
	return nil
}

// participants lists the members of a room, optionally skipping one.
func (h *Hub) participants(roomID, skip string) []Participant {
	ids := h.reg.MembersOf(roomID)
	out := make([]Participant, 0, len(ids))
	for _, id := range ids {
		if id == skip {
			continue
		}
		p, _ := h.reg.ParticipantOf(id)
		out = append(out, Participant{ParticipantID: p, ConnectionID: id})
	}
	return out
}

// makeExistingPayload prepares the list of a room's members excluding connID.
func (h *Hub) makeExistingPayload(connID, roomID string) []byte {
	peers := h.participants(roomID, connID)
	ids := make([]string, 0, len(peers))
	for _, p := range peers {
		ids = append(ids, p.ParticipantID)
	}
	return makePayload(TypeExistingParticipants, msgExisting{
		ParticipantIDs: ids,
		Participants:   peers,
	})
}

func (h *Hub) snapshot(roomID string) snapshot {
	if h.reg.Count(roomID) == 0 {
		return snapshot{}
	}
	return snapshot{participants: h.participants(roomID, ""), ok: true}
}

// send queues data on a connection. A connection that can't keep up is
// closed; its transport will report the disconnect.
func (h *Hub) send(c Conn, b []byte) bool {
	if c.Send(b) {
		return true
	}
	h.log.WithField("conn", c.ID()).Warn("outbound queue full, closing connection")
	c.Close()
	return false
}

// touchRoom queues a directory update for a room without blocking.
func (h *Hub) touchRoom(roomID string) {
	if h.Store == nil {
		return
	}

	n := h.reg.Count(roomID)
	u := dirUpdate{
		room:   store.Room{ID: roomID, Participants: n, LastActive: time.Now()},
		remove: n == 0,
	}
	select {
	case h.dirQ <- u:
	default:
		h.log.WithField("room", roomID).Warn("room directory queue full, dropping update")
	}
}

// runDirectory writes queued directory updates to the store.
func (h *Hub) runDirectory(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case u := <-h.dirQ:
			var err error
			if u.remove {
				err = h.Store.RemoveRoom(u.room.ID)
			} else {
				err = h.Store.PutRoom(u.room, h.cfg.RoomTTL)
			}
			if err != nil {
				h.log.WithField("room", u.room.ID).Errorf("error updating room directory: %v", err)
			}
		}
	}
}

// shutdown closes all connections and clears the directory entries this
// hub published.
func (h *Hub) shutdown() {
	for _, id := range h.reg.Rooms() {
		if h.Store != nil {
			if err := h.Store.RemoveRoom(id); err != nil {
				h.log.WithField("room", id).Errorf("error removing room from directory: %v", err)
			}
		}
	}
	for id, c := range h.conns {
		c.Close()
		delete(h.conns, id)
	}
	h.reg = NewRegistry()
	setConnections(0)
	setRooms(0)
	h.log.Info("hub stopped")
}
