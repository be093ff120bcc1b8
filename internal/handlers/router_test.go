package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/fleet-simulation/internal/auth"
	"github.com/ukydev/fleet-simulation/internal/clock"
	"github.com/ukydev/fleet-simulation/internal/db"
	"github.com/ukydev/fleet-simulation/internal/metrics"
	"github.com/ukydev/fleet-simulation/internal/models"
	"github.com/ukydev/fleet-simulation/internal/orchestrator"
	"github.com/ukydev/fleet-simulation/internal/vehiclestatus"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var epoch = time.Date(2025, 1, 6, 8, 0, 0, 0, time.UTC)

type testServer struct {
	router  http.Handler
	clock   *clock.Clock
	store   *db.MemoryStore
	auth    *auth.Service
	metrics *metrics.Collector
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()

	store := db.NewMemoryStore()
	require.NoError(t, db.SeedActions(ctx, store))
	_, err := db.SeedFleet(ctx, store, 4, rand.New(rand.NewSource(3)))
	require.NoError(t, err)

	collector, err := metrics.NewCollector(prometheus.NewRegistry())
	require.NoError(t, err)

	updater := orchestrator.NewStateUpdater(store, store, store, vehiclestatus.NewSeeded(5), collector, orchestrator.DefaultConfig())
	c := clock.New(epoch, 30, updater,
		clock.WithInitializer(orchestrator.NewInitializer(updater)),
		clock.WithMetrics(collector))

	authService, err := auth.NewService()
	require.NoError(t, err)

	router := NewRouter(RouterConfig{
		Auth:       authService,
		Users:      store,
		Simulation: c,
		Vehicles:   store,
		Metrics:    collector.Handler(),
		Rand:       rand.New(rand.NewSource(9)),
	})
	return &testServer{router: router, clock: c, store: store, auth: authService, metrics: collector}
}

func (s *testServer) do(t *testing.T, method, path string, role models.Role, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, path, bytes.NewBuffer(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if role != "" {
		token, _, err := s.auth.GenerateToken(&models.User{
			ID:       primitive.NewObjectID(),
			Username: "user-" + string(role),
			Role:     role,
		})
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decodeControl(t *testing.T, w *httptest.ResponseRecorder) ControlResponse {
	t.Helper()
	var resp ControlResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestRouter_PublicEndpoints(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, "GET", "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")

	w = s.do(t, "GET", "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "fleetsim_running")
}

func TestRouter_RequiresToken(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, "GET", "/api/simulation/status", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, "POST", "/api/simulation/start", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.False(t, s.clock.IsRunning())
}

func TestRouter_ViewerCannotControl(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, "GET", "/api/simulation/status", models.RoleViewer, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	for _, path := range []string{"/api/simulation/start", "/api/simulation/stop", "/api/simulation/reset", "/api/simulation/step"} {
		w := s.do(t, "POST", path, models.RoleViewer, nil)
		assert.Equal(t, http.StatusForbidden, w.Code, path)
	}
	assert.Equal(t, int64(0), s.clock.TickCount())
}

func TestRouter_StartStopIdempotent(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, "POST", "/api/simulation/start", models.RoleOperator, nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeControl(t, w)
	assert.True(t, resp.Changed)
	assert.True(t, resp.Status.Running)

	w = s.do(t, "POST", "/api/simulation/start", models.RoleOperator, nil)
	resp = decodeControl(t, w)
	assert.False(t, resp.Changed)
	assert.Equal(t, "Simulation already running", resp.Message)

	w = s.do(t, "POST", "/api/simulation/stop", models.RoleOperator, nil)
	resp = decodeControl(t, w)
	assert.True(t, resp.Changed)
	assert.False(t, resp.Status.Running)

	w = s.do(t, "POST", "/api/simulation/stop", models.RoleOperator, nil)
	assert.False(t, decodeControl(t, w).Changed)
}

func TestRouter_StepAdvancesSimulatedTime(t *testing.T) {
	s := newTestServer(t)

	for i := 0; i < 3; i++ {
		w := s.do(t, "POST", "/api/simulation/step", models.RoleOperator, nil)
		require.Equal(t, http.StatusOK, w.Code)
	}
	s.clock.Wait()

	w := s.do(t, "GET", "/api/simulation/status", models.RoleViewer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var status clock.Status
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, int64(3), status.TickCount)
	assert.True(t, status.SimulatedNow.Equal(epoch.Add(90*time.Minute)))
	require.NotNil(t, status.LastSummary)
	assert.Equal(t, 4, status.LastSummary.Vehicles)

	vehicles, err := s.store.FindAllVehicles(context.Background())
	require.NoError(t, err)
	for _, v := range vehicles {
		assert.NotEmpty(t, v.Status)
	}
}

func TestRouter_StepConflictWhileRunning(t *testing.T) {
	s := newTestServer(t)
	require.True(t, s.clock.Start())

	w := s.do(t, "POST", "/api/simulation/step", models.RoleOperator, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	resp := decodeControl(t, w)
	assert.False(t, resp.Changed)
	assert.Equal(t, int64(0), s.clock.TickCount())
}

func TestRouter_Reset(t *testing.T) {
	s := newTestServer(t)
	s.do(t, "POST", "/api/simulation/step", models.RoleOperator, nil)
	s.do(t, "POST", "/api/simulation/step", models.RoleOperator, nil)
	s.clock.Wait()
	require.Equal(t, int64(2), s.clock.TickCount())
	before := s.clock.Status().RunID

	w := s.do(t, "POST", "/api/simulation/reset", models.RoleOperator, nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeControl(t, w)
	assert.Equal(t, int64(0), resp.Status.TickCount)
	assert.NotEqual(t, before, resp.Status.RunID)

	w = s.do(t, "POST", "/api/simulation/reset?full=true", models.RoleOperator, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Simulation fully reset", decodeControl(t, w).Message)

	w = s.do(t, "POST", "/api/simulation/reset?full=maybe", models.RoleOperator, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRouter_SeedFleet(t *testing.T) {
	s := newTestServer(t)

	body, _ := json.Marshal(SeedRequest{Size: 3})
	w := s.do(t, "POST", "/api/fleet/seed", models.RoleOperator, body)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, "POST", "/api/fleet/seed", models.RoleManager, body)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.JSONEq(t, `{"created":3}`, w.Body.String())

	vehicles, err := s.store.FindAllVehicles(context.Background())
	require.NoError(t, err)
	assert.Len(t, vehicles, 7)

	bad, _ := json.Marshal(SeedRequest{Size: 0})
	w = s.do(t, "POST", "/api/fleet/seed", models.RoleAdmin, bad)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, "POST", "/api/fleet/seed", models.RoleAdmin, []byte("{"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRouter_LoginAndMe(t *testing.T) {
	s := newTestServer(t)
	hash, err := s.auth.HashPassword("password123")
	require.NoError(t, err)
	require.NoError(t, s.store.InsertUser(context.Background(), &models.User{
		Username:     "admin",
		PasswordHash: hash,
		Role:         models.RoleAdmin,
	}))

	body, _ := json.Marshal(models.LoginRequest{Username: "admin", Password: "password123"})
	w := s.do(t, "POST", "/api/auth/login", "", body)
	require.Equal(t, http.StatusOK, w.Code)

	var login models.LoginResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &login))

	req := httptest.NewRequest("GET", "/api/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+login.Token)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"username":"admin"`)

	user, err := s.store.FindUserByUsername(context.Background(), "admin")
	require.NoError(t, err)
	assert.NotNil(t, user.LastLogin)
}

func TestRouter_MethodMismatch(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, "GET", "/api/simulation/start", models.RoleAdmin, nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}
