package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"appmarket/internal/auth"
	"appmarket/internal/metrics"
)

type Handlers struct {
	Submissions *SubmissionHandler
	Apps        *AppHandler
	Admin       *AdminHandler
}

// NewRouter собирает HTTP API: /v1 требует bearer-токен, команды модерации требуют роль admin
func NewRouter(h Handlers, verifier *auth.Verifier, timeout time.Duration) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.InstrumentHandler)
	if timeout > 0 {
		r.Use(middleware.Timeout(timeout))
	}

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(verifier.Middleware)

		r.With(auth.RequireRole(auth.RoleDeveloper)).Post("/submissions", h.Submissions.Finalize)

		r.Route("/apps/{appId}", func(r chi.Router) {
			r.Get("/versions", h.Apps.ListVersions)
			r.With(auth.RequireRole(auth.RoleDeveloper)).Put("/price", h.Apps.UpdatePrice)

			r.Group(func(r chi.Router) {
				r.Use(auth.RequireRole(auth.RoleAdmin))
				r.Post("/versions/{versionId}/approve", h.Admin.Approve)
				r.Post("/versions/{versionId}/unpublish", h.Admin.Unpublish)
			})
		})

		r.With(auth.RequireRole(auth.RoleAdmin)).Post("/admin/reconcile", h.Admin.Reconcile)
	})

	return r
}
