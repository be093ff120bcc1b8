package handlers

import (
	"context"
	"encoding/json"
	"math/rand"
	"net/http"
	"strconv"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/ukydev/fleet-simulation/internal/clock"
	"github.com/ukydev/fleet-simulation/internal/db"
	"github.com/ukydev/fleet-simulation/internal/middleware"
)

// SimulationController is the control surface of the simulation clock.
type SimulationController interface {
	Start() bool
	Stop() bool
	Reset()
	ResetFull()
	Step(ctx context.Context) bool
	Status() clock.Status
}

// ControlResponse is returned by every control endpoint.
type ControlResponse struct {
	Action  string       `json:"action"`
	Changed bool         `json:"changed"`
	Message string       `json:"message"`
	Status  clock.Status `json:"status"`
}

// SimulationHandler exposes start/stop/reset/step and status over HTTP.
type SimulationHandler struct {
	sim SimulationController
}

func NewSimulationHandler(sim SimulationController) *SimulationHandler {
	return &SimulationHandler{sim: sim}
}

func (h *SimulationHandler) Start(w http.ResponseWriter, r *http.Request) {
	changed := h.sim.Start()
	msg := "Simulation started"
	if !changed {
		msg = "Simulation already running"
	}
	h.respond(w, r, http.StatusOK, "start", changed, msg)
}

func (h *SimulationHandler) Stop(w http.ResponseWriter, r *http.Request) {
	changed := h.sim.Stop()
	msg := "Simulation stopped"
	if !changed {
		msg = "Simulation already stopped"
	}
	h.respond(w, r, http.StatusOK, "stop", changed, msg)
}

// Reset rewinds the clock. With ?full=true the next first tick also
// realigns every vehicle's status window.
func (h *SimulationHandler) Reset(w http.ResponseWriter, r *http.Request) {
	full := false
	if raw := r.URL.Query().Get("full"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			http.Error(w, "Invalid full parameter", http.StatusBadRequest)
			return
		}
		full = v
	}

	if full {
		h.sim.ResetFull()
		h.respond(w, r, http.StatusOK, "reset", true, "Simulation fully reset")
		return
	}
	h.sim.Reset()
	h.respond(w, r, http.StatusOK, "reset", true, "Simulation reset")
}

func (h *SimulationHandler) Step(w http.ResponseWriter, r *http.Request) {
	if !h.sim.Step(r.Context()) {
		h.respond(w, r, http.StatusConflict, "step", false, "Simulation is running, stop it before stepping")
		return
	}
	h.respond(w, r, http.StatusOK, "step", true, "Executed one tick")
}

func (h *SimulationHandler) Status(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.sim.Status())
}

func (h *SimulationHandler) respond(w http.ResponseWriter, r *http.Request, code int, action string, changed bool, msg string) {
	fields := log.Fields{
		"action":  action,
		"changed": changed,
	}
	if claims, ok := middleware.GetUserFromContext(r.Context()); ok {
		fields["username"] = claims.Username
	}
	log.WithFields(fields).Info(msg)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(ControlResponse{
		Action:  action,
		Changed: changed,
		Message: msg,
		Status:  h.sim.Status(),
	})
}

// SeedRequest asks for size new vehicles.
type SeedRequest struct {
	Size int `json:"size"`
}

// FleetHandler adds vehicles to a running simulation.
type FleetHandler struct {
	vehicles db.VehicleStore
	maxSize  int

	mu  sync.Mutex
	rng *rand.Rand
}

func NewFleetHandler(vehicles db.VehicleStore, rng *rand.Rand) *FleetHandler {
	return &FleetHandler{vehicles: vehicles, maxSize: 500, rng: rng}
}

// Seed inserts new, uninitialized vehicles; the next tick initializes them.
func (h *FleetHandler) Seed(w http.ResponseWriter, r *http.Request) {
	var req SeedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if req.Size <= 0 || req.Size > h.maxSize {
		http.Error(w, "size must be between 1 and "+strconv.Itoa(h.maxSize), http.StatusBadRequest)
		return
	}

	h.mu.Lock()
	created, err := db.SeedFleet(r.Context(), h.vehicles, req.Size, h.rng)
	h.mu.Unlock()
	if err != nil {
		log.WithError(err).WithField("created", created).Error("Failed to seed fleet")
		http.Error(w, "Failed to seed fleet", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]int{"created": created})
}

// Health reports liveness.
func Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
}
