package server

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/periscopehq/periscope/api/pkg/system"
)

func (s *Server) handleListInterventions(w http.ResponseWriter, r *http.Request) {
	pending := s.coordinator.ListPending()
	system.WriteJSON(w, http.StatusOK, map[string]any{
		"interventions": pending,
		"count":         len(pending),
	})
}

// handleCompleteIntervention is the endpoint the human (or the viewer page)
// hits after resolving the page state.
func (s *Server) handleCompleteIntervention(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.coordinator.Complete(id); err != nil {
		system.WriteError(w, system.NewHTTPError404(err.Error()), "")
		return
	}
	system.WriteJSON(w, http.StatusOK, map[string]any{"completed": id})
}

func (s *Server) handleCancelIntervention(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.coordinator.Cancel(id); err != nil {
		system.WriteError(w, system.NewHTTPError404(err.Error()), "")
		return
	}
	system.WriteJSON(w, http.StatusOK, map[string]any{"cancelled": id})
}
