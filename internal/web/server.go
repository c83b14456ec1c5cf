package web

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/vbonduro/shelflife/internal/record"
	"github.com/vbonduro/shelflife/internal/service"
)

// maxBodyBytes bounds request bodies; imports are the largest payload.
const maxBodyBytes = 4 << 20

type Server struct {
	service *service.PantryService
	parser  *record.Parser
	mux     *http.ServeMux
	logger  *slog.Logger
}

func NewServer(svc *service.PantryService, parser *record.Parser, logger *slog.Logger) *Server {
	s := &Server{
		service: svc,
		parser:  parser,
		mux:     http.NewServeMux(),
		logger:  logger,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.HandleFunc("GET /integrity/dropped", s.handleDropped)
	s.mux.HandleFunc("GET /dashboard", s.handleGlobalDashboard)

	s.mux.HandleFunc("GET /users/{user}/items", s.handleListItems)
	s.mux.HandleFunc("POST /users/{user}/items", s.handleAddItem)
	s.mux.HandleFunc("GET /users/{user}/items/expiring", s.handleExpiring)
	s.mux.HandleFunc("POST /users/{user}/items/{food}/actions", s.handleAction)
	s.mux.HandleFunc("POST /users/{user}/import", s.handleImport)
	s.mux.HandleFunc("GET /users/{user}/grocery", s.handleGrocery)
	s.mux.HandleFunc("GET /users/{user}/dashboard", s.handleDashboard)
	s.mux.HandleFunc("GET /users/{user}/ingredients", s.handleIngredients)
	s.mux.HandleFunc("POST /users/{user}/assistant", s.handleAssistant)
}

// securityHeaders adds defensive HTTP response headers to every response.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		next.ServeHTTP(w, r)
	})
}

// statusRecorder wraps http.ResponseWriter to capture the written status code.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func requestLogger(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	}
	requestLogger(s.logger, securityHeaders(s.mux)).ServeHTTP(w, r)
}

func (s *Server) ListenAndServe(addr string) error {
	s.logger.Info("starting server", "addr", addr)
	srv := &http.Server{
		Addr:         addr,
		Handler:      s,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return srv.ListenAndServe()
}
