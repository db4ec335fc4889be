package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/kiwari-pos/kanban/internal/config"
	"github.com/kiwari-pos/kanban/internal/enum"
	"github.com/kiwari-pos/kanban/internal/handler"
	mw "github.com/kiwari-pos/kanban/internal/middleware"
	"github.com/kiwari-pos/kanban/internal/ws"
	"go.uber.org/zap"
)

// New creates a Chi router with the board routes wired up.
// Reads need any authenticated user of the tenant; actions need a buying role.
func New(cfg *config.Config, kanbanHandler *handler.KanbanHandler, hub *ws.Hub, logger *zap.Logger) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(mw.RequestLogger(logger))
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300, // 5 minutes
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	// WebSocket route (handles auth internally via query param)
	r.Get("/ws/kanban", func(w http.ResponseWriter, r *http.Request) {
		ws.ServeWS(hub, cfg.JWTSecret, cfg.TenantID, w, r)
	})

	r.Group(func(r chi.Router) {
		r.Use(mw.Authenticate(cfg.JWTSecret))
		r.Use(mw.RequireTenant(cfg.TenantID))

		r.Route("/kanban", func(r chi.Router) {
			kanbanHandler.RegisterRoutes(r)

			r.Group(func(r chi.Router) {
				r.Use(mw.RequireRole(enum.RoleOwner, enum.RoleManager, enum.RolePurchaser, enum.RoleService))
				kanbanHandler.RegisterActionRoutes(r)
			})
		})
	})

	return r
}
