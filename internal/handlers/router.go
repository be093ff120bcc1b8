package handlers

import (
	"math/rand"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/ukydev/fleet-simulation/internal/auth"
	"github.com/ukydev/fleet-simulation/internal/db"
	"github.com/ukydev/fleet-simulation/internal/middleware"
	"github.com/ukydev/fleet-simulation/internal/models"
)

// RouterConfig carries the dependencies of the HTTP API.
type RouterConfig struct {
	Auth       *auth.Service
	Users      db.UserCollection
	Simulation SimulationController
	Vehicles   db.VehicleStore
	Metrics    http.Handler
	Rand       *rand.Rand

	// Requests per client per minute; zero disables rate limiting.
	RateLimit int
}

// NewRouter wires the control API.
func NewRouter(cfg RouterConfig) *mux.Router {
	router := mux.NewRouter()
	router.Use(middleware.Logging)
	if cfg.RateLimit > 0 {
		router.Use(middleware.NewRateLimitMiddleware().RateLimit(cfg.RateLimit, 60))
	}

	authMW := middleware.NewAuthMiddleware(cfg.Auth)
	router.Use(authMW.Authenticate)

	router.HandleFunc("/health", Health).Methods("GET")
	if cfg.Metrics != nil {
		router.Handle("/metrics", cfg.Metrics).Methods("GET")
	}

	authHandler := NewAuthHandler(cfg.Auth, cfg.Users)
	router.HandleFunc("/api/auth/login", authHandler.Login).Methods("POST")
	router.HandleFunc("/api/auth/me", authHandler.Me).Methods("GET")

	control := authMW.RequirePermission(models.PermControlSimulation)
	view := authMW.RequirePermission(models.PermViewSimulation)

	sim := NewSimulationHandler(cfg.Simulation)
	api := router.PathPrefix("/api/simulation").Subrouter()
	api.Handle("/start", control(http.HandlerFunc(sim.Start))).Methods("POST")
	api.Handle("/stop", control(http.HandlerFunc(sim.Stop))).Methods("POST")
	api.Handle("/reset", control(http.HandlerFunc(sim.Reset))).Methods("POST")
	api.Handle("/step", control(http.HandlerFunc(sim.Step))).Methods("POST")
	api.Handle("/status", view(http.HandlerFunc(sim.Status))).Methods("GET")

	if cfg.Vehicles != nil {
		rng := cfg.Rand
		if rng == nil {
			rng = rand.New(rand.NewSource(rand.Int63()))
		}
		fleet := NewFleetHandler(cfg.Vehicles, rng)
		seed := authMW.RequirePermission(models.PermSeedFleet)
		router.Handle("/api/fleet/seed", seed(http.HandlerFunc(fleet.Seed))).Methods("POST")
	}

	return router
}
