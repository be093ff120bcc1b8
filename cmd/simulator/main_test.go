package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ukydev/fleet-simulation/internal/clock"
	"github.com/ukydev/fleet-simulation/internal/handlers"
	"github.com/ukydev/fleet-simulation/internal/models"
	"github.com/ukydev/fleet-simulation/internal/orchestrator"
)

// fakeAPI mimics the control endpoints and records what it saw.
type fakeAPI struct {
	mu       sync.Mutex
	paths    []string
	auth     []string
	ticks    int64
	running  bool
	seedSize int
}

type apiState struct {
	paths    []string
	auth     []string
	ticks    int64
	running  bool
	seedSize int
}

// seen returns a copy of the recorded state.
func (f *fakeAPI) seen() apiState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return apiState{
		paths:    append([]string(nil), f.paths...),
		auth:     append([]string(nil), f.auth...),
		ticks:    f.ticks,
		running:  f.running,
		seedSize: f.seedSize,
	}
}

func (f *fakeAPI) status() clock.Status {
	return clock.Status{
		RunID:          "run-1",
		Running:        f.running,
		TickCount:      f.ticks,
		MinutesPerTick: 30,
		SimulatedNow:   time.Date(2025, 1, 6, 8, 0, 0, 0, time.UTC).Add(time.Duration(f.ticks*30) * time.Minute),
		LastSummary: &orchestrator.Summary{
			Vehicles:     3,
			Distribution: map[models.VehicleStatus]int{models.VehicleIdle: 2, models.VehicleTransporting: 1},
		},
	}
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paths = append(f.paths, r.Method+" "+r.URL.RequestURI())
	f.auth = append(f.auth, r.Header.Get("Authorization"))

	w.Header().Set("Content-Type", "application/json")
	control := func(code int, action string, changed bool, msg string) {
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(handlers.ControlResponse{Action: action, Changed: changed, Message: msg, Status: f.status()})
	}

	switch r.URL.Path {
	case "/api/simulation/start":
		changed := !f.running
		f.running = true
		control(http.StatusOK, "start", changed, "Simulation started")
	case "/api/simulation/stop":
		changed := f.running
		f.running = false
		control(http.StatusOK, "stop", changed, "Simulation stopped")
	case "/api/simulation/reset":
		f.ticks = 0
		msg := "Simulation reset"
		if r.URL.Query().Get("full") == "true" {
			msg = "Simulation fully reset"
		}
		control(http.StatusOK, "reset", true, msg)
	case "/api/simulation/step":
		if f.running {
			control(http.StatusConflict, "step", false, "Simulation is running, stop it before stepping")
			return
		}
		f.ticks++
		control(http.StatusOK, "step", true, "Executed one tick")
	case "/api/simulation/status":
		json.NewEncoder(w).Encode(f.status())
	case "/api/fleet/seed":
		var req handlers.SeedRequest
		json.NewDecoder(r.Body).Decode(&req)
		f.seedSize = req.Size
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]int{"created": req.Size})
	case "/api/auth/login":
		var req models.LoginRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Password != "password123" {
			http.Error(w, "Invalid credentials", http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(models.LoginResponse{Token: "tok-" + req.Username})
	default:
		http.NotFound(w, r)
	}
}

func run(t *testing.T, api *fakeAPI, args ...string) (string, error) {
	t.Helper()
	server := httptest.NewServer(api)
	t.Cleanup(server.Close)

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--api-url", server.URL + "/", "--token", "secret"}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestStartStop(t *testing.T) {
	api := &fakeAPI{}

	out, err := run(t, api, "start")
	require.NoError(t, err)
	assert.Contains(t, out, "start: Simulation started")
	assert.True(t, api.seen().running)

	_, err = run(t, api, "stop")
	require.NoError(t, err)
	assert.False(t, api.seen().running)

	assert.Equal(t, []string{"POST /api/simulation/start", "POST /api/simulation/stop"}, api.seen().paths)
	for _, header := range api.seen().auth {
		assert.Equal(t, "Bearer secret", header)
	}
}

func TestStep_Count(t *testing.T) {
	api := &fakeAPI{}

	out, err := run(t, api, "step", "-n", "3")
	require.NoError(t, err)
	assert.Equal(t, int64(3), api.seen().ticks)
	assert.Contains(t, out, "TICK:")
	assert.Contains(t, out, "2025-01-06T09:30:00Z")
}

func TestStep_RefusedWhileRunning(t *testing.T) {
	api := &fakeAPI{running: true}

	_, err := run(t, api, "step")
	if err == nil {
		t.Fatal("expected error when stepping a running simulation")
	}
	if !strings.Contains(err.Error(), "step refused") {
		t.Errorf("unexpected error: %v", err)
	}
	if api.seen().ticks != 0 {
		t.Errorf("expected no ticks, got %d", api.seen().ticks)
	}
}

func TestReset_Full(t *testing.T) {
	api := &fakeAPI{ticks: 5}

	out, err := run(t, api, "reset", "--full")
	require.NoError(t, err)
	assert.Contains(t, out, "Simulation fully reset")
	assert.Equal(t, []string{"POST /api/simulation/reset?full=true"}, api.seen().paths)
}

func TestStatus_Table(t *testing.T) {
	api := &fakeAPI{ticks: 2}

	out, err := run(t, api, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "run-1")
	assert.Contains(t, out, "IDLE:")
	assert.Contains(t, out, "TRANSPORTING:")
	// Statuses are listed alphabetically.
	assert.Less(t, strings.Index(out, "IDLE:"), strings.Index(out, "TRANSPORTING:"))
}

func TestStatus_JSON(t *testing.T) {
	api := &fakeAPI{ticks: 4}

	out, err := run(t, api, "status", "--json")
	require.NoError(t, err)

	var status clock.Status
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	assert.Equal(t, int64(4), status.TickCount)
}

func TestSeed(t *testing.T) {
	api := &fakeAPI{}

	out, err := run(t, api, "seed", "--size", "7")
	require.NoError(t, err)
	assert.Equal(t, 7, api.seen().seedSize)
	assert.Contains(t, out, "Created 7 vehicles")
}

func TestLogin(t *testing.T) {
	api := &fakeAPI{}

	out, err := run(t, api, "login", "-u", "dispatcher", "-P", "password123")
	require.NoError(t, err)
	assert.Equal(t, "tok-dispatcher\n", out)

	_, err = run(t, api, "login", "-u", "dispatcher", "-P", "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestClient_TokenFromEnv(t *testing.T) {
	t.Setenv("SIM_AUTH_TOKEN", "env-token")
	api := &fakeAPI{}
	server := httptest.NewServer(api)
	defer server.Close()

	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"--api-url", server.URL, "start"})
	require.NoError(t, root.Execute())
	assert.Equal(t, []string{"Bearer env-token"}, api.seen().auth)
}
