package web

import (
	"net/http"

	"github.com/vbonduro/shelflife/internal/assistant"
)

func (s *Server) handleIngredients(w http.ResponseWriter, r *http.Request) {
	names, err := s.service.AvailableIngredients(r.Context(), r.PathValue("user"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if names == nil {
		names = []string{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"ingredients": names})
}

type assistantRequest struct {
	Intent   string `json:"intent"`
	Question string `json:"question"`
}

func (s *Server) handleAssistant(w http.ResponseWriter, r *http.Request) {
	var req assistantRequest
	if !s.decode(w, r, &req) {
		return
	}

	answer, err := s.service.Ask(r.Context(), r.PathValue("user"), assistant.Intent(req.Intent), req.Question)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"answer": answer})
}
