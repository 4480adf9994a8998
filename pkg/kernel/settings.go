package kernel

import (
	"encoding/json"
	"net/http"
)

// GET /v1/settings
func (s *Server) handleGetSettings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.settings.GetMaskedConfig())
}

// handleUpdateSettings merges the body over the live config, persists it and
// hot-reloads providers. Omitted fields keep their current values; masked or
// empty secrets are left unchanged.
// PUT /v1/settings
func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	update := s.settings.GetConfig()
	if err := json.NewDecoder(r.Body).Decode(update); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if err := s.settings.UpdateConfig(r.Context(), update); err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.settings.GetMaskedConfig())
}
