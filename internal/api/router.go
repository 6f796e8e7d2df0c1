package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/alexdev-tb/prescription-pdf/internal/auth"
	"github.com/alexdev-tb/prescription-pdf/pkg/apperror"
)

type RouterConfig struct {
	Handler  *Handler
	Verifier *auth.Verifier
	Limiter  *IPRateLimiter

	// TrustProxy rewrites RemoteAddr from forwarding headers, which also
	// changes the rate limiter key. Leave it off unless a proxy sets them.
	TrustProxy bool

	// Site serves everything outside /api and /health.
	Site http.Handler
	Log  zerolog.Logger
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	if cfg.TrustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(requestLogger(cfg.Log))
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	h := cfg.Handler
	r.Get("/health", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", h.Status)

		r.Group(func(r chi.Router) {
			r.Use(cfg.Verifier.Middleware(writeError))
			r.Get("/jobs/{id}", h.GetJob)
		})

		r.Group(func(r chi.Router) {
			r.Use(assignJobID)
			r.Use(cfg.Limiter.Middleware)
			r.Use(cfg.Verifier.Middleware(writeError))
			r.Post("/prescriptions", h.RenderPrescription)
		})

		r.NotFound(func(w http.ResponseWriter, r *http.Request) {
			writeError(w, r, apperror.NotFound("route not found"))
		})
		r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
			writeError(w, r, apperror.New(http.StatusMethodNotAllowed, apperror.CodeMethodNotAllow, "method not allowed"))
		})
	})

	if cfg.Site != nil {
		r.Handle("/*", cfg.Site)
	}

	return r
}
