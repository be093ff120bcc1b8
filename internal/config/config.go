// Package config loads the simulation settings from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

// Store drivers.
const (
	DriverMemory = "memory"
	DriverMongo  = "mongo"
	DriverSQLite = "sqlite"
)

// Config holds every setting of the server.
type Config struct {
	Port string

	StoreDriver  string
	MongoURI     string
	MongoDB      string
	SQLitePath   string
	StoreTimeout time.Duration

	TickInterval   time.Duration
	MinutesPerTick int
	Epoch          time.Time
	AutoStart      bool
	RandomSeed     int64
	Workers        int
	MaxStayMinutes int
	SummaryEvery   int64

	DemandEvery       int64
	ShipOutEvery      int64
	StatusReportEvery int64
	DemandBatch       int
	MaxPendingDemand  int
	MaxDemandWait     time.Duration
	FleetSize         int

	MQTTBroker      string
	MQTTClientID    string
	MQTTTopicPrefix string

	LogLevel  string
	LogFormat string

	AdminUsername string
	AdminPassword string
}

// Load reads a .env file when present and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.WithError(err).Warn("Failed to read .env file")
	}
	return FromEnv()
}

// FromEnv builds the configuration from environment variables only.
func FromEnv() (*Config, error) {
	var errs []error
	intVar := func(key string, def int) int {
		v, err := getInt(key, def)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}
	durVar := func(key string, def time.Duration) time.Duration {
		v, err := getDuration(key, def)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}

	cfg := &Config{
		Port:         getEnv("PORT", "8081"),
		StoreDriver:  strings.ToLower(getEnv("STORE_DRIVER", DriverMemory)),
		MongoURI:     getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDB:      getEnv("MONGO_DB", "fleet_simulation"),
		SQLitePath:   getEnv("SQLITE_PATH", "fleet_simulation.db"),
		StoreTimeout: durVar("STORE_TIMEOUT", 5*time.Second),

		TickInterval:   durVar("TICK_INTERVAL", 7*time.Second),
		MinutesPerTick: intVar("MINUTES_PER_TICK", 30),
		AutoStart:      getBool("AUTO_START", false),
		Workers:        intVar("WORKERS", 8),
		MaxStayMinutes: intVar("MAX_STAY_MINUTES", 60),
		SummaryEvery:   int64(intVar("SUMMARY_EVERY", 10)),

		DemandEvery:       int64(intVar("DEMAND_EVERY", 2)),
		ShipOutEvery:      int64(intVar("SHIP_OUT_EVERY", 4)),
		StatusReportEvery: int64(intVar("STATUS_REPORT_EVERY", 10)),
		DemandBatch:       intVar("DEMAND_BATCH", 3),
		MaxPendingDemand:  intVar("MAX_PENDING_DEMAND", 20),
		MaxDemandWait:     durVar("MAX_DEMAND_WAIT", 6*time.Hour),
		FleetSize:         intVar("FLEET_SIZE", 10),

		MQTTBroker:      os.Getenv("MQTT_BROKER"),
		MQTTClientID:    os.Getenv("MQTT_CLIENT_ID"),
		MQTTTopicPrefix: getEnv("MQTT_TOPIC_PREFIX", "fleetsim"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),

		AdminUsername: getEnv("ADMIN_USERNAME", "admin"),
		AdminPassword: os.Getenv("ADMIN_PASSWORD"),
	}

	if seed := os.Getenv("RANDOM_SEED"); seed != "" {
		n, err := strconv.ParseInt(seed, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("RANDOM_SEED: %w", err))
		}
		cfg.RandomSeed = n
	}

	cfg.Epoch = time.Now().UTC().Truncate(time.Minute)
	if raw := os.Getenv("SIM_EPOCH"); raw != "" {
		epoch, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("SIM_EPOCH: %w", err))
		} else {
			cfg.Epoch = epoch
		}
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case DriverMemory, DriverMongo, DriverSQLite:
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	if c.MinutesPerTick <= 0 {
		return fmt.Errorf("MINUTES_PER_TICK must be positive, got %d", c.MinutesPerTick)
	}
	if c.TickInterval <= 0 {
		return fmt.Errorf("TICK_INTERVAL must be positive, got %s", c.TickInterval)
	}
	if c.MaxStayMinutes <= 0 {
		return fmt.Errorf("MAX_STAY_MINUTES must be positive, got %d", c.MaxStayMinutes)
	}
	if c.DemandEvery < 0 || c.ShipOutEvery < 0 || c.StatusReportEvery < 0 {
		return errors.New("gate cadences must not be negative")
	}
	return nil
}

// ConfigureLogging sets the global logrus level and formatter.
func ConfigureLogging(level, format string) error {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("LOG_LEVEL: %w", err)
	}
	log.SetLevel(lvl)

	switch strings.ToLower(format) {
	case "json":
		log.SetFormatter(&log.JSONFormatter{TimestampFormat: time.RFC3339})
	case "", "text":
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339})
	default:
		return fmt.Errorf("unknown LOG_FORMAT %q", format)
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getDuration(key string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func getBool(key string, def bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		log.WithField("key", key).Warn("Invalid boolean, using default")
		return def
	}
	return b
}
