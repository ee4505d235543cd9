package server

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/periscopehq/periscope/api/pkg/protocol"
	"github.com/periscopehq/periscope/api/pkg/system"
	"github.com/periscopehq/periscope/api/pkg/types"
)

const (
	// frameBuffer is deliberately small: a viewer that cannot keep up gets
	// newer frames, not a growing backlog.
	frameBuffer = 8
	// controlBuffer holds results, events and intervention envelopes. These
	// are never dropped; a client that stalls past this is disconnected.
	controlBuffer = 256
)

// client is one attached viewer/controller connection, transport-agnostic.
// The WebSocket and NDJSON handlers both drain the same two channels.
type client struct {
	id        string
	sessionID string

	frames  chan []byte
	control chan []byte

	closed    chan struct{}
	closeOnce sync.Once
}

func (c *client) close() {
	c.closeOnce.Do(func() { close(c.closed) })
}

// sendFrame never blocks. When the client is behind, the oldest buffered
// frame is evicted to make room: a stalled viewer resumes on recent frames,
// not a stale backlog.
func (c *client) sendFrame(b []byte) {
	for {
		select {
		case c.frames <- b:
			return
		case <-c.closed:
			return
		default:
		}
		select {
		case <-c.frames:
		default:
		}
	}
}

// sendControl never drops. A client whose control buffer is full is broken
// and gets disconnected instead.
func (c *client) sendControl(b []byte) {
	select {
	case c.control <- b:
	case <-c.closed:
	default:
		log.Warn().
			Str("client_id", c.id).
			Str("session_id", c.sessionID).
			Msg("client control buffer overflow, disconnecting")
		c.close()
	}
}

// Hub indexes attached clients by session and fans session output out to
// them. It is the registry's Publisher and the coordinator's Sender.
type Hub struct {
	mu        sync.RWMutex
	bySession map[string]map[*client]struct{}
}

func NewHub() *Hub {
	return &Hub{bySession: make(map[string]map[*client]struct{})}
}

func (h *Hub) register(sessionID string) *client {
	c := &client{
		id:        system.GenerateClientID(),
		sessionID: sessionID,
		frames:    make(chan []byte, frameBuffer),
		control:   make(chan []byte, controlBuffer),
		closed:    make(chan struct{}),
	}
	h.mu.Lock()
	set, ok := h.bySession[sessionID]
	if !ok {
		set = make(map[*client]struct{})
		h.bySession[sessionID] = set
	}
	set[c] = struct{}{}
	h.mu.Unlock()
	return c
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if set, ok := h.bySession[c.sessionID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.bySession, c.sessionID)
		}
	}
	h.mu.Unlock()
	c.close()
}

func (h *Hub) clients(sessionID string) []*client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	set := h.bySession[sessionID]
	out := make([]*client, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	return out
}

// PublishFrame serializes once and fans out with drop-on-slow semantics.
func (h *Hub) PublishFrame(sessionID string, frame types.Frame) {
	b := protocol.Serialize(protocol.NewFrameMessage(frame))
	for _, c := range h.clients(sessionID) {
		c.sendFrame(b)
	}
}

// PublishEvent fans an event envelope out losslessly.
func (h *Hub) PublishEvent(sessionID string, name string, data any) {
	b := protocol.Serialize(protocol.NewEvent(name, data))
	for _, c := range h.clients(sessionID) {
		c.sendControl(b)
	}
}

// SendToSession broadcasts an arbitrary protocol envelope losslessly.
func (h *Hub) SendToSession(sessionID string, message any) {
	b := protocol.Serialize(message)
	for _, c := range h.clients(sessionID) {
		c.sendControl(b)
	}
}

// SessionClosed disconnects every client still attached to the session.
func (h *Hub) SessionClosed(sessionID string) {
	h.mu.Lock()
	set := h.bySession[sessionID]
	delete(h.bySession, sessionID)
	h.mu.Unlock()
	for c := range set {
		c.close()
	}
}
