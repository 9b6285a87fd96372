package api

import (
	"net/http"

	"github.com/dij0s/eXPOSE/internal/auth"
	"github.com/go-chi/chi/v5"
)

// Routes groups the handlers mounted on the dashboard router. Sim, WS and
// Metrics are optional.
type Routes struct {
	Dashboard *DashboardHandler
	Fleet     *FleetHandler
	Sim       *SimulatorHandler
	Auth      *auth.Authenticator
	WS        http.Handler
	Metrics   http.Handler
}

// Register mounts every route on r
func Register(r chi.Router, routes Routes) {
	// Public routes (read-only views)
	r.Route("/api", func(r chi.Router) {
		r.Get("/connection", routes.Dashboard.GetConnection)
		r.Post("/connection/reconnect", routes.Dashboard.Reconnect)
		r.Get("/agents", routes.Dashboard.GetAgents)
		r.Get("/timeline", routes.Dashboard.GetTimeline)
		r.Post("/timeline/select", routes.Dashboard.Select)
		r.Get("/timers", routes.Dashboard.GetTimers)
		r.Get("/map", routes.Dashboard.GetMap)

		r.Get("/penalties", routes.Fleet.ListPenalties)
		r.Post("/penalties/{agent}", routes.Fleet.AddPenalty)
		r.Get("/notifications", routes.Fleet.ListNotifications)
		r.Post("/notifications/{id}/dismiss", routes.Fleet.DismissNotification)
		r.Get("/fleet/health", routes.Fleet.GetFleetHealth)

		// Fleet commands require an operator token
		r.Group(func(r chi.Router) {
			r.Use(routes.Auth.Middleware)
			r.With(auth.RequireRole(auth.RoleOperator)).Post("/ban", routes.Fleet.Ban)

			if routes.Sim != nil {
				r.Route("/admin/sim", func(r chi.Router) {
					r.Use(auth.RequireRole(auth.RoleAdmin))
					r.Get("/status", routes.Sim.GetStatus)
					r.Post("/start", routes.Sim.Start)
					r.Post("/stop", routes.Sim.Stop)
				})
			}
		})
	})

	if routes.WS != nil {
		r.Get("/ws", routes.WS.ServeHTTP)
	}
	if routes.Metrics != nil {
		r.Get("/metrics", routes.Metrics.ServeHTTP)
	}
}
