package routes

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/upb/authority-gate/app"
	"github.com/upb/authority-gate/handlers"
	"github.com/upb/authority-gate/middleware"
	"github.com/upb/authority-gate/utils"
)

// maxRequestedTTL caps the X-Mandate-TTL a caller may ask for
const maxRequestedTTL = time.Hour

// SetupRoutes configures the decision service routes served by authorityd
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := newRouter(deps)
	admin := middleware.NewAdminAuth(deps.Config.Server.AdminToken, deps.Logger)

	health := newHealthHandler(deps)
	r.Get("/healthz", health.HandleHealth)
	r.Get("/readyz", health.HandleReadiness)

	authorize := handlers.NewAuthorizeHandler(deps.Engine, maxRequestedTTL, deps.Clock, deps.Logger)
	if deps.Audit != nil {
		authorize.WithAudit(deps.Audit)
	}
	policies := handlers.NewPolicyHandler(deps.Policies, deps.Logger)
	mandates := handlers.NewMandateHandler(deps.Signer, nil, deps.Clock, deps.Logger)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/authorize", authorize.HandleAuthorize)

		r.Route("/policies", func(r chi.Router) {
			r.Get("/", policies.HandleGetPolicies)
			r.With(admin.RequireAdmin).Post("/reload", policies.HandleReload)
		})

		r.Post("/mandates/verify", mandates.HandleVerify)

		// Audit queries need the database
		if deps.Audit != nil {
			audit := handlers.NewAuditHandler(deps.Audit, deps.Logger)
			r.Route("/audit", func(r chi.Router) {
				r.Use(admin.RequireAdmin)
				r.Get("/decisions", audit.HandleListDecisions)
				r.Get("/mandates/{mandateID}", audit.HandleMandateDecisions)
			})
		}
	})

	return r
}

// SetupWorkerRoutes configures the operational routes of a gated worker:
// health and the gate's mandate cache
func SetupWorkerRoutes(deps *app.Dependencies) http.Handler {
	r := newRouter(deps)
	admin := middleware.NewAdminAuth(deps.Config.Server.AdminToken, deps.Logger)

	health := newHealthHandler(deps)
	r.Get("/healthz", health.HandleHealth)
	r.Get("/readyz", health.HandleReadiness)

	mandates := handlers.NewMandateHandler(deps.Signer, deps.Gate.Cache(), deps.Clock, deps.Logger)
	r.Route("/v1/cache", func(r chi.Router) {
		r.Get("/stats", mandates.HandleCacheStats)
		r.With(admin.RequireAdmin).Delete("/", mandates.HandleCacheClear)
	})

	return r
}

// newRouter builds a router with the shared middleware chain
func newRouter(deps *app.Dependencies) chi.Router {
	r := chi.NewRouter()

	// Core middleware
	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(30 * time.Second))

	origins := deps.Config.Server.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", middleware.RequestIDHeader, handlers.MandateTTLHeader},
		ExposedHeaders: []string{middleware.RequestIDHeader},
		MaxAge:         300,
	}))

	// 404 handler
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteNotFound(w, "endpoint not found")
	})

	return r
}

func newHealthHandler(deps *app.Dependencies) *handlers.HealthHandler {
	var db *sql.DB
	if deps.DB != nil {
		db = deps.DB.DB
	}
	health := handlers.NewHealthHandler(db, deps.Logger)
	if deps.Redis != nil {
		health.WithCheck("redis", func(ctx context.Context) error {
			return deps.Redis.Ping(ctx).Err()
		})
	}
	return health
}
