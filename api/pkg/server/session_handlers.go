package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/periscopehq/periscope/api/pkg/protocol"
	"github.com/periscopehq/periscope/api/pkg/session"
	"github.com/periscopehq/periscope/api/pkg/system"
	"github.com/periscopehq/periscope/api/pkg/types"
)

// describe builds the REST representation, including the transport URLs a
// client needs to attach.
func (s *Server) describe(sess *session.Session) types.SessionDescriptor {
	base := s.baseURL()
	return types.SessionDescriptor{
		ID:           sess.ID,
		Status:       string(sess.State()),
		WSURL:        system.WSURL(base) + "/sessions/" + sess.ID + "/ws",
		StreamURL:    base + "/sessions/" + sess.ID + "/stream",
		InputURL:     base + "/sessions/" + sess.ID + "/input",
		ViewerURL:    base + "/sessions/" + sess.ID + "/viewer",
		Viewport:     sess.Viewport(),
		CreatedAt:    sess.CreatedAt(),
		ClientCount:  sess.ClientCount(),
		LastActivity: sess.LastActivity(),
		URL:          sess.CurrentURL(),
	}
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req types.CreateSessionRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			system.WriteError(w, &system.HTTPError{
				StatusCode: http.StatusBadRequest,
				Message:    "invalid request body: " + err.Error(),
			}, protocol.ErrCodeInvalidParams)
			return
		}
	}

	sess, err := s.registry.CreateSession(r.Context(), session.CreateOptions{
		Viewport:   req.Viewport,
		Profile:    req.Profile,
		InitialURL: req.InitialURL,
	})
	if err != nil {
		if errors.Is(err, session.ErrSessionLimit) {
			system.WriteError(w, system.NewHTTPError429(err.Error()), protocol.ErrCodeSessionLimitReached)
			return
		}
		log.Error().Err(err).Msg("session creation failed")
		system.WriteError(w, system.NewHTTPError500(err.Error()), protocol.ErrCodeSessionCreationFailed)
		return
	}
	system.WriteJSON(w, http.StatusCreated, s.describe(sess))
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := s.registry.ListSessions()
	out := make([]types.SessionDescriptor, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, s.describe(sess))
	}
	system.WriteJSON(w, http.StatusOK, map[string]any{
		"sessions": out,
		"count":    len(out),
		"max":      s.registry.MaxSessions(),
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.registry.GetSession(mux.Vars(r)["id"])
	if err != nil {
		system.WriteError(w, system.NewHTTPError404(err.Error()), protocol.ErrCodeSessionNotFound)
		return
	}
	system.WriteJSON(w, http.StatusOK, s.describe(sess))
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !s.registry.HasSession(id) {
		system.WriteError(w, system.NewHTTPError404("session not found: "+id), protocol.ErrCodeSessionNotFound)
		return
	}
	if err := s.registry.DestroySession(id); err != nil {
		system.WriteError(w, system.NewHTTPError500(err.Error()), protocol.ErrCodeCommandFailed)
		return
	}
	system.WriteJSON(w, http.StatusOK, map[string]any{"deleted": id})
}
