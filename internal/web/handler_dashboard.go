package web

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/vbonduro/shelflife/internal/record"
	"github.com/vbonduro/shelflife/internal/service"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status, err := s.service.Status(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleDropped(w http.ResponseWriter, r *http.Request) {
	dropped, err := s.service.Dropped(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	out := make([]droppedView, len(dropped))
	for i, d := range dropped {
		out[i] = newDroppedView(d)
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"dropped": out})
}

// handleGrocery accepts repeated incoming=<food>:<quantity> parameters for
// quantities already on order.
func (s *Server) handleGrocery(w http.ResponseWriter, r *http.Request) {
	incoming := make(map[string]float64)
	for _, v := range r.URL.Query()["incoming"] {
		name, qty, ok := strings.Cut(v, ":")
		if !ok || strings.TrimSpace(name) == "" {
			s.writeError(w, http.StatusBadRequest, "incoming must look like food:quantity")
			return
		}
		q, err := strconv.ParseFloat(strings.TrimSpace(qty), 64)
		if err != nil || q < 0 {
			s.writeError(w, http.StatusBadRequest, "incoming quantity must be a non-negative number")
			return
		}
		incoming[strings.TrimSpace(name)] += q
	}

	list, err := s.service.GroceryList(r.Context(), r.PathValue("user"), incoming)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"items": list})
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	trend, ok := s.trendRange(w, r)
	if !ok {
		return
	}
	d, err := s.service.Dashboard(r.Context(), r.PathValue("user"), trend)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleGlobalDashboard(w http.ResponseWriter, r *http.Request) {
	trend, ok := s.trendRange(w, r)
	if !ok {
		return
	}
	d, err := s.service.GlobalDashboard(r.Context(), trend)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, d)
}

func (s *Server) trendRange(w http.ResponseWriter, r *http.Request) (service.TrendRange, bool) {
	var tr service.TrendRange
	q := r.URL.Query()
	for key, dst := range map[string]*time.Time{"from": &tr.From, "to": &tr.To} {
		v := q.Get(key)
		if v == "" {
			continue
		}
		d := record.ParseDate(v)
		if d == nil {
			s.writeError(w, http.StatusBadRequest, key+" is not a recognised date")
			return tr, false
		}
		*dst = *d
	}
	if !tr.From.IsZero() && !tr.To.IsZero() && tr.From.After(tr.To) {
		s.writeError(w, http.StatusBadRequest, "from must not be after to")
		return tr, false
	}
	return tr, true
}
