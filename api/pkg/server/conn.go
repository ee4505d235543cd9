package server

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/periscopehq/periscope/api/pkg/command"
	"github.com/periscopehq/periscope/api/pkg/protocol"
	"github.com/periscopehq/periscope/api/pkg/session"
	"github.com/periscopehq/periscope/api/pkg/types"
)

// deliveryBuffer bounds in-flight commands per connection; a full buffer
// applies backpressure to the connection's read loop.
const deliveryBuffer = 128

// attach registers a transport connection with the hub and the registry and
// queues the warm-up messages: a ready event followed by the last frame, so
// a late joiner paints immediately.
func (s *Server) attach(sess *session.Session) *client {
	c := s.hub.register(sess.ID)
	if err := s.registry.AddClient(sess.ID, c.id); err != nil {
		log.Debug().Err(err).Str("session_id", sess.ID).Msg("attach raced session destruction")
	}

	c.sendControl(protocol.Serialize(protocol.NewEvent(protocol.EventReady, map[string]any{
		"sessionId": sess.ID,
		"viewport":  sess.Viewport(),
		"url":       sess.CurrentURL(),
	})))
	if f := sess.LastFrame(); f != nil {
		c.sendFrame(protocol.Serialize(protocol.NewFrameMessage(*f)))
	}
	return c
}

func (s *Server) detach(c *client) {
	s.registry.RemoveClient(c.sessionID, c.id)
	s.hub.unregister(c)
}

// deliveryTask produces one serialized envelope, blocking until its command
// resolves. Tasks run strictly in submission order per connection, which is
// what keeps result delivery FIFO even though commands resolve on other
// goroutines.
type deliveryTask func() []byte

func runDeliveries(c *client, tasks <-chan deliveryTask) {
	for {
		select {
		case t := <-tasks:
			if b := t(); b != nil {
				c.sendControl(b)
			}
		case <-c.closed:
			return
		}
	}
}

func submit(c *client, tasks chan<- deliveryTask, t deliveryTask) {
	select {
	case tasks <- t:
	case <-c.closed:
	}
}

// handleClientMessage processes one raw client message from either
// transport.
func (s *Server) handleClientMessage(sess *session.Session, c *client, tasks chan<- deliveryTask, raw []byte) {
	// Malformed messages are dropped, not answered; the error event is
	// reserved for session-plane failures.
	msg, err := protocol.ParseClient(raw)
	if err != nil {
		log.Debug().Err(err).Str("client_id", c.id).Msg("dropping malformed client message")
		return
	}

	switch m := msg.(type) {
	case *protocol.Ping:
		c.sendControl(protocol.Serialize(&protocol.Pong{Type: protocol.TypePong, T: m.T}))
		sess.Touch()

	case *protocol.Input:
		if !sess.Ready() {
			return
		}
		sess.Touch()
		sess.Channel.DispatchInput(m)

	case *protocol.Command:
		sess.Touch()
		s.dispatchCommand(sess, c, tasks, m)
	}
}

func (s *Server) dispatchCommand(sess *session.Session, c *client, tasks chan<- deliveryTask, cmd *protocol.Command) {
	if cmd.Method == "requestHumanIntervention" {
		s.dispatchIntervention(sess, c, tasks, cmd)
		return
	}

	if !sess.Ready() {
		notReady := sess.NotReadyError()
		submit(c, tasks, func() []byte {
			return protocol.Serialize(protocol.NewErrorResult(cmd.ID, notReady))
		})
		return
	}

	pending := sess.Queue.Enqueue(cmd.Method, cmd.Params)
	submit(c, tasks, func() []byte {
		out := pending.Wait(context.Background())
		if out.Err != nil {
			return protocol.Serialize(protocol.NewErrorResult(cmd.ID, out.Err))
		}
		if cmd.Method == "setViewport" {
			s.applyViewportResult(sess.ID, out)
		}
		return protocol.Serialize(protocol.NewResult(cmd.ID, out.Result))
	})
}

// dispatchIntervention parks the command on the rendezvous instead of the
// queue; the result envelope is withheld until a human resolves it.
func (s *Server) dispatchIntervention(sess *session.Session, c *client, tasks chan<- deliveryTask, cmd *protocol.Command) {
	if !sess.Ready() {
		notReady := sess.NotReadyError()
		submit(c, tasks, func() []byte {
			return protocol.Serialize(protocol.NewErrorResult(cmd.ID, notReady))
		})
		return
	}

	reason, _ := cmd.Params["reason"].(string)
	instructions, _ := cmd.Params["instructions"].(string)
	iv, err := s.coordinator.Create(sess.ID, cmd.ID, reason, instructions)
	if err != nil {
		cmdErr := command.Classify(err)
		submit(c, tasks, func() []byte {
			return protocol.Serialize(protocol.NewErrorResult(cmd.ID, cmdErr))
		})
		return
	}

	submit(c, tasks, func() []byte {
		return s.awaitInterventionResult(context.Background(), cmd.ID, iv.ID)
	})
}

// awaitInterventionResult blocks until the rendezvous resolves and renders
// the final result envelope for the originating command.
func (s *Server) awaitInterventionResult(ctx context.Context, commandID, interventionID string) []byte {
	status, waitErr := s.coordinator.Await(ctx, interventionID)
	if waitErr != nil || status != types.InterventionCompleted {
		return protocol.Serialize(protocol.NewErrorResult(commandID,
			protocol.NewCommandError(protocol.ErrCodeCancelled, "intervention was cancelled")))
	}
	resolvedAt := int64(0)
	if iv, ok := s.coordinator.Get(interventionID); ok {
		resolvedAt = iv.ResolvedAt.UnixMilli()
	}
	return protocol.Serialize(protocol.NewResult(commandID, map[string]any{
		"interventionId": interventionID,
		"resolvedAt":     resolvedAt,
	}))
}

// applyViewportResult propagates a successful setViewport into the session
// record and the screencast capture size.
func (s *Server) applyViewportResult(sessionID string, out command.Outcome) {
	res, ok := out.Result.(map[string]any)
	if !ok {
		return
	}
	vp, ok := res["viewport"].(map[string]any)
	if !ok {
		return
	}
	width, wok := vp["width"].(int)
	height, hok := vp["height"].(int)
	if !wok || !hok || width <= 0 || height <= 0 {
		return
	}
	if err := s.registry.UpdateSessionScreencast(sessionID, width, height); err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("screencast resize failed")
	}
}
