package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnv_Defaults(t *testing.T) {
	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "8081", cfg.Port)
	assert.Equal(t, DriverMemory, cfg.StoreDriver)
	assert.Equal(t, 7*time.Second, cfg.TickInterval)
	assert.Equal(t, 30, cfg.MinutesPerTick)
	assert.Equal(t, int64(2), cfg.DemandEvery)
	assert.Equal(t, int64(4), cfg.ShipOutEvery)
	assert.Equal(t, int64(10), cfg.StatusReportEvery)
	assert.Equal(t, 60, cfg.MaxStayMinutes)
	assert.Equal(t, 5*time.Second, cfg.StoreTimeout)
	assert.Equal(t, 10, cfg.FleetSize)
	assert.False(t, cfg.AutoStart)
	assert.Zero(t, cfg.Epoch.Second())
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("STORE_DRIVER", "SQLite")
	t.Setenv("TICK_INTERVAL", "500ms")
	t.Setenv("MINUTES_PER_TICK", "15")
	t.Setenv("SIM_EPOCH", "2025-01-06T08:00:00Z")
	t.Setenv("RANDOM_SEED", "42")
	t.Setenv("AUTO_START", "true")
	t.Setenv("DEMAND_EVERY", "0")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, DriverSQLite, cfg.StoreDriver)
	assert.Equal(t, 500*time.Millisecond, cfg.TickInterval)
	assert.Equal(t, 15, cfg.MinutesPerTick)
	assert.True(t, cfg.Epoch.Equal(time.Date(2025, 1, 6, 8, 0, 0, 0, time.UTC)))
	assert.Equal(t, int64(42), cfg.RandomSeed)
	assert.True(t, cfg.AutoStart)
	assert.Equal(t, int64(0), cfg.DemandEvery)
}

func TestFromEnv_Invalid(t *testing.T) {
	tests := []struct {
		name, key, value string
	}{
		{"bad int", "MINUTES_PER_TICK", "thirty"},
		{"zero minutes", "MINUTES_PER_TICK", "0"},
		{"bad duration", "TICK_INTERVAL", "soon"},
		{"bad epoch", "SIM_EPOCH", "yesterday"},
		{"bad driver", "STORE_DRIVER", "postgres"},
		{"bad seed", "RANDOM_SEED", "x"},
		{"negative gate", "SHIP_OUT_EVERY", "-1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := FromEnv()
			assert.Error(t, err)
		})
	}
}

func TestLoad_ReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, godotenv.Write(map[string]string{"MQTT_BROKER": "tcp://broker:1883"}, filepath.Join(dir, ".env")))

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	t.Setenv("MQTT_BROKER", "")
	os.Unsetenv("MQTT_BROKER")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "tcp://broker:1883", cfg.MQTTBroker)
}

func TestConfigureLogging(t *testing.T) {
	t.Cleanup(func() {
		log.SetLevel(log.InfoLevel)
		log.SetFormatter(&log.TextFormatter{})
	})

	require.NoError(t, ConfigureLogging("debug", "json"))
	assert.Equal(t, log.DebugLevel, log.GetLevel())
	_, isJSON := log.StandardLogger().Formatter.(*log.JSONFormatter)
	assert.True(t, isJSON)

	assert.Error(t, ConfigureLogging("loud", "text"))
	assert.Error(t, ConfigureLogging("info", "xml"))
}
