package hub

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/xid"
	"github.com/sirupsen/logrus"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	defaultPongWait       = 60 * time.Second
	defaultMaxMessageSize = 64 * 1024
	defaultQueueSize      = 256
)

// Peer represents an individual websocket connection into the hub.
type Peer struct {
	id string

	// Fixed identity established by the transport (e.g. a verified token).
	// When set it overrides the participant ID in join requests.
	identity string

	ws *websocket.Conn

	// Channel for outbound messages.
	dataQ chan []byte

	hub *Hub

	done chan struct{}
	once sync.Once
}

// Attach wraps an upgraded websocket connection in a Peer, registers it with
// the hub and starts its listener and writer goroutines.
func (h *Hub) Attach(ws *websocket.Conn, identity string) (*Peer, error) {
	p := newPeer(xid.New().String(), identity, ws, h)
	if err := h.Connect(p); err != nil {
		ws.Close()
		return nil, err
	}

	go p.RunWriter()
	go p.RunListener()
	return p, nil
}

// newPeer returns a new instance of Peer.
func newPeer(id, identity string, ws *websocket.Conn, h *Hub) *Peer {
	size := h.cfg.MaxMessageQueue
	if size <= 0 {
		size = defaultQueueSize
	}
	return &Peer{
		id:       id,
		identity: identity,
		ws:       ws,
		dataQ:    make(chan []byte, size),
		hub:      h,
		done:     make(chan struct{}),
	}
}

// ID returns the connection ID assigned to the peer.
func (p *Peer) ID() string {
	return p.id
}

// Send queues a message to be written to the peer's WS without blocking.
func (p *Peer) Send(b []byte) bool {
	select {
	case <-p.done:
		return false
	default:
	}

	select {
	case p.dataQ <- b:
		return true
	default:
		return false
	}
}

// Close signals the writer to send a close frame and shut the connection.
func (p *Peer) Close() {
	p.once.Do(func() { close(p.done) })
}

// RunListener is a blocking function that reads incoming messages from a peer's
// WS connection until its dropped or there's an error. This should be invoked
// as a goroutine.
func (p *Peer) RunListener() {
	pongWait := p.pongWait()

	maxSize := p.hub.cfg.MaxMessageSize
	if maxSize <= 0 {
		maxSize = defaultMaxMessageSize
	}
	p.ws.SetReadLimit(maxSize)
	p.ws.SetReadDeadline(time.Now().Add(pongWait))
	p.ws.SetPongHandler(func(string) error {
		p.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, m, err := p.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				p.hub.log.WithField("conn", p.id).Debugf("websocket read error: %v", err)
			}
			break
		}
		p.processMessage(m)
	}

	// WS connection is closed.
	p.hub.Disconnect(p.id)
	p.Close()
	p.ws.Close()
}

// RunWriter is a blocking function that writes messages in a peer's queue to the
// peer's WS connection and keeps it alive with pings. This should be invoked
// as a goroutine.
func (p *Peer) RunWriter() {
	ticker := time.NewTicker(pingPeriod(p.pongWait()))
	defer func() {
		ticker.Stop()
		p.ws.Close()
	}()

	for {
		select {
		// Wait for outgoing message to appear in the channel.
		case message := <-p.dataQ:
			if err := p.writeWSData(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			if err := p.writeWSData(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-p.done:
			p.flush()
			p.writeWSData(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// flush writes whatever is already queued before the connection is closed.
func (p *Peer) flush() {
	for {
		select {
		case message := <-p.dataQ:
			if err := p.writeWSData(websocket.TextMessage, message); err != nil {
				return
			}
		default:
			return
		}
	}
}

// writeWSData writes the given payload to the peer's WS connection.
func (p *Peer) writeWSData(msgType int, payload []byte) error {
	p.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return p.ws.WriteMessage(msgType, payload)
}

// processMessage validates an incoming message and hands it to the hub.
// Malformed messages stop here.
func (p *Peer) processMessage(b []byte) {
	ev, err := DecodeEvent(b)
	if err != nil {
		p.hub.log.WithField("conn", p.id).Debugf("rejected message: %v", err)
		return
	}
	ev.ConnID = p.id

	if ev.Type == TypeJoinRoom {
		if p.identity != "" {
			ev.Join.ParticipantID = p.identity
		}
		if ev.Join.ParticipantID == "" {
			p.hub.log.WithField("conn", p.id).Debug("rejected join without participantId")
			return
		}
	}

	if err := p.hub.Dispatch(ev); err != nil && !errors.Is(err, ErrHubClosed) {
		p.hub.log.WithFields(logrus.Fields{"conn": p.id, "type": ev.Type}).Errorf("error dispatching event: %v", err)
	}
}

func (p *Peer) pongWait() time.Duration {
	if p.hub.cfg.WSTimeout > 0 {
		return p.hub.cfg.WSTimeout
	}
	return defaultPongWait
}

// pingPeriod must be less than pongWait.
func pingPeriod(pongWait time.Duration) time.Duration {
	return (pongWait * 9) / 10
}
