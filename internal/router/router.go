package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/kiwari-pos/alert-console/internal/audit"
	"github.com/kiwari-pos/alert-console/internal/config"
	"github.com/kiwari-pos/alert-console/internal/enum"
	"github.com/kiwari-pos/alert-console/internal/handler"
	mw "github.com/kiwari-pos/alert-console/internal/middleware"
	"github.com/kiwari-pos/alert-console/internal/ws"
	log "github.com/sirupsen/logrus"
)

// Services are the running components the routes delegate to.
type Services struct {
	Operators   handler.OperatorStore
	Session     handler.CardSession
	Alerts      handler.AlertsAPI
	Recorder    audit.Recorder
	Hub         *ws.Hub
	CardOptions []handler.CardOption
}

// New creates a Chi router with all console routes wired up.
// Applies authentication and role-based middleware as needed.
func New(cfg *config.Config, svc Services) chi.Router {
	r := chi.NewRouter()

	// Standard middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// CORS configuration
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300, // 5 minutes
	}))

	// Public routes
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","version":"1.0.0"}`))
	})

	// Auth routes (public)
	authHandler := handler.NewAuthHandler(svc.Operators, cfg.JWTSecret)
	authHandler.RegisterRoutes(r)

	// WebSocket route (handles auth internally via query param)
	r.Get("/ws/alerts", func(w http.ResponseWriter, r *http.Request) {
		ws.ServeWS(svc.Hub, cfg.JWTSecret, w, r)
	})

	// Protected routes (require authentication)
	r.Group(func(r chi.Router) {
		r.Use(mw.Authenticate(cfg.JWTSecret))

		cardHandler := handler.NewCardHandler(svc.Session, svc.Alerts, svc.Recorder, svc.CardOptions...)
		cardHandler.RegisterRoutes(r)

		// Admin-only routes
		r.Group(func(r chi.Router) {
			r.Use(mw.RequireRole(enum.RoleAdmin))
			auditHandler := handler.NewAuditHandler(svc.Recorder)
			auditHandler.RegisterRoutes(r)
		})
	})

	log.Debug("Router initialized with all handlers")
	return r
}
