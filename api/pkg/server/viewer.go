package server

import (
	_ "embed"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/periscopehq/periscope/api/pkg/protocol"
	"github.com/periscopehq/periscope/api/pkg/system"
)

//go:embed viewer.html
var viewerHTML []byte

// handleViewer serves the embedded interactive viewer page. The page itself
// attaches over the WebSocket transport like any other client.
func (s *Server) handleViewer(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !s.registry.HasSession(id) {
		system.WriteError(w, system.NewHTTPError404("session not found: "+id), protocol.ErrCodeSessionNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(viewerHTML)
}
