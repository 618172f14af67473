// Package api exposes the operational HTTP interface: health, metrics,
// pipeline stats, and per-domain record lookup.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/webtaxon/webtaxon/internal/domain"
	"github.com/webtaxon/webtaxon/internal/metrics"
	"github.com/webtaxon/webtaxon/internal/pipeline"
)

// Server wires HTTP handlers to the domain record store.
type Server struct {
	router chi.Router
	store  pipeline.Store
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(store pipeline.Store, logger *zap.Logger) *Server {
	s := &Server{store: store, logger: logger}

	r := chi.NewRouter()
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(30 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/stats", s.getStats)
		r.Route("/domains/{domain}", func(r chi.Router) {
			r.Get("/", s.getDomain)
			r.Post("/flag", s.flagDomain)
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) getStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		s.logger.Error("stats query failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "stats query failed")
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

type domainResponse struct {
	Domain           string     `json:"domain"`
	Scraped          bool       `json:"scraped"`
	Classified       bool       `json:"classified"`
	ScrapeError      *string    `json:"scrape_error,omitempty"`
	LastScraped      *time.Time `json:"last_scraped,omitempty"`
	Category         *string    `json:"category,omitempty"`
	Subcategory      *string    `json:"subcategory,omitempty"`
	Confidence       *int       `json:"confidence,omitempty"`
	Explanation      *string    `json:"explanation,omitempty"`
	Source           *string    `json:"source,omitempty"`
	ClassifierError  *string    `json:"classifier_error,omitempty"`
	LastClassified   *time.Time `json:"last_classified,omitempty"`
	FlaggedForReview bool       `json:"flagged_for_review"`
}

func (s *Server) getDomain(w http.ResponseWriter, r *http.Request) {
	dom := domain.Normalize(chi.URLParam(r, "domain"))
	if err := domain.Validate(dom); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid domain")
		return
	}

	rec, err := s.store.GetDomainData(r.Context(), dom)
	if err != nil {
		s.logger.Error("domain lookup failed", zap.String("domain", dom), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "domain lookup failed")
		return
	}
	if rec == nil {
		s.writeError(w, http.StatusNotFound, "domain not found")
		return
	}

	s.writeJSON(w, http.StatusOK, domainResponse{
		Domain:           rec.Domain,
		Scraped:          rec.Scraped(),
		Classified:       rec.Classified(),
		ScrapeError:      rec.ScrapeError,
		LastScraped:      rec.LastScraped,
		Category:         rec.Category,
		Subcategory:      rec.Subcategory,
		Confidence:       rec.Confidence,
		Explanation:      rec.Explanation,
		Source:           rec.Source,
		ClassifierError:  rec.ClassifierError,
		LastClassified:   rec.LastClassified,
		FlaggedForReview: rec.FlaggedForReview,
	})
}

func (s *Server) flagDomain(w http.ResponseWriter, r *http.Request) {
	dom := domain.Normalize(chi.URLParam(r, "domain"))
	if err := domain.Validate(dom); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid domain")
		return
	}
	if err := s.store.FlagForReview(r.Context(), dom); err != nil {
		s.writeError(w, http.StatusNotFound, "domain not found")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"domain": dom, "status": "flagged"})
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Request-ID", uuid.NewString())
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
