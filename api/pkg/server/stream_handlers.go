package server

import (
	"bufio"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/periscopehq/periscope/api/pkg/protocol"
	"github.com/periscopehq/periscope/api/pkg/session"
	"github.com/periscopehq/periscope/api/pkg/system"
)

// handleSessionStream is the fallback transport for environments without
// WebSocket: a long-lived NDJSON response carrying the same envelopes, one
// per line.
func (s *Server) handleSessionStream(w http.ResponseWriter, r *http.Request) {
	sess, err := s.registry.GetSession(mux.Vars(r)["id"])
	if err != nil {
		system.WriteError(w, system.NewHTTPError404(err.Error()), protocol.ErrCodeSessionNotFound)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		system.WriteError(w, system.NewHTTPError500("streaming unsupported"), protocol.ErrCodeConnectionFailed)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	c := s.attach(sess)
	defer s.detach(c)
	log.Info().Str("session_id", sess.ID).Str("client_id", c.id).Msg("ndjson client attached")

	writeLine := func(msg []byte) bool {
		if _, err := w.Write(append(msg, '\n')); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	// Sentinel line so the client learns its id and can detect liveness
	// before the first event.
	if !writeLine(protocol.Serialize(protocol.NewEvent("connected", map[string]any{
		"sessionId": sess.ID,
		"clientId":  c.id,
	}))) {
		return
	}

	for {
		// Control envelopes (results, events) outrank frames so a burst of
		// frames cannot starve a command result.
		select {
		case msg := <-c.control:
			if !writeLine(msg) {
				return
			}
		case <-c.closed:
			writeLine(protocol.Serialize(protocol.NewEvent(protocol.EventError, map[string]any{
				"code":    protocol.ErrCodeConnectionClosed,
				"message": "session closed",
			})))
			return
		default:
			select {
			case msg := <-c.control:
				if !writeLine(msg) {
					return
				}
			case msg := <-c.frames:
				if !writeLine(msg) {
					return
				}
			case <-c.closed:
				writeLine(protocol.Serialize(protocol.NewEvent(protocol.EventError, map[string]any{
					"code":    protocol.ErrCodeConnectionClosed,
					"message": "session closed",
				})))
				return
			case <-r.Context().Done():
				return
			}
		}
	}
}

// handleSessionInput is the upstream half of the fallback transport: the
// body carries client envelopes, one per line. Input and ping lines are
// fire-and-forget; cmd lines run synchronously and their result envelopes
// come back in the response body, one NDJSON line each, in submission
// order. A body without commands is acknowledged with {"ok": true}.
func (s *Server) handleSessionInput(w http.ResponseWriter, r *http.Request) {
	sess, err := s.registry.GetSession(mux.Vars(r)["id"])
	if err != nil {
		system.WriteError(w, system.NewHTTPError404(err.Error()), protocol.ErrCodeSessionNotFound)
		return
	}

	var results [][]byte
	scanner := bufio.NewScanner(r.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		msg, err := protocol.ParseClient(line)
		if err != nil {
			system.WriteError(w, &system.HTTPError{
				StatusCode: http.StatusBadRequest,
				Message:    err.Error(),
			}, protocol.ErrCodeInvalidParams)
			return
		}
		switch m := msg.(type) {
		case *protocol.Ping:
			sess.Touch()
		case *protocol.Input:
			if sess.Ready() {
				sess.Touch()
				sess.Channel.DispatchInput(m)
			}
		case *protocol.Command:
			sess.Touch()
			results = append(results, s.runCommandSync(r, sess, m))
		}
	}
	if err := scanner.Err(); err != nil {
		system.WriteError(w, &system.HTTPError{
			StatusCode: http.StatusBadRequest,
			Message:    "failed to read request body",
		}, protocol.ErrCodeInvalidParams)
		return
	}

	if len(results) == 0 {
		system.WriteJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	for _, res := range results {
		if _, err := w.Write(append(res, '\n')); err != nil {
			return
		}
	}
}

// runCommandSync resolves one command and returns its serialized result
// envelope.
func (s *Server) runCommandSync(r *http.Request, sess *session.Session, cmd *protocol.Command) []byte {
	if cmd.Method == "requestHumanIntervention" {
		return s.runInterventionSync(r, sess, cmd)
	}

	if !sess.Ready() {
		return protocol.Serialize(protocol.NewErrorResult(cmd.ID, sess.NotReadyError()))
	}

	out := sess.Queue.Enqueue(cmd.Method, cmd.Params).Wait(r.Context())
	if out.Err != nil {
		return protocol.Serialize(protocol.NewErrorResult(cmd.ID, out.Err))
	}
	if cmd.Method == "setViewport" {
		s.applyViewportResult(sess.ID, out)
	}
	return protocol.Serialize(protocol.NewResult(cmd.ID, out.Result))
}

func (s *Server) runInterventionSync(r *http.Request, sess *session.Session, cmd *protocol.Command) []byte {
	if !sess.Ready() {
		return protocol.Serialize(protocol.NewErrorResult(cmd.ID, sess.NotReadyError()))
	}
	reason, _ := cmd.Params["reason"].(string)
	instructions, _ := cmd.Params["instructions"].(string)
	iv, err := s.coordinator.Create(sess.ID, cmd.ID, reason, instructions)
	if err != nil {
		return protocol.Serialize(protocol.NewErrorResult(cmd.ID,
			protocol.NewCommandError(protocol.ErrCodeCommandFailed, err.Error())))
	}
	return s.awaitInterventionResult(r.Context(), cmd.ID, iv.ID)
}
