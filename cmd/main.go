package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	_ "go.uber.org/automaxprocs"
	"golang.org/x/sync/errgroup"

	"github.com/ukydev/fleet-simulation/internal/auth"
	"github.com/ukydev/fleet-simulation/internal/clock"
	"github.com/ukydev/fleet-simulation/internal/config"
	"github.com/ukydev/fleet-simulation/internal/db"
	"github.com/ukydev/fleet-simulation/internal/handlers"
	"github.com/ukydev/fleet-simulation/internal/metrics"
	"github.com/ukydev/fleet-simulation/internal/models"
	"github.com/ukydev/fleet-simulation/internal/orchestrator"
	"github.com/ukydev/fleet-simulation/internal/trigger"
	"github.com/ukydev/fleet-simulation/internal/vehiclestatus"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "fleetsim",
		Short: "Fleet simulation server",
		Long: `Runs a discrete-time simulation of a vehicle fleet. Each tick advances
simulated time, moves vehicles through their status machine and dispatches
transport assignments. The HTTP API starts, stops, steps and resets the clock.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(seedCmd())
	return rootCmd
}

// serveCmd runs the HTTP API and the tick driver until interrupted.
func serveCmd() *cobra.Command {
	var port string
	var autoStart bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the simulation server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Port = port
			}
			if cmd.Flags().Changed("auto-start") {
				cfg.AutoStart = autoStart
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}

	cmd.Flags().StringVarP(&port, "port", "p", "8081", "HTTP port (overrides PORT)")
	cmd.Flags().BoolVar(&autoStart, "auto-start", false, "Start the clock immediately (overrides AUTO_START)")
	return cmd
}

// seedCmd fills the store with the action catalog and a fleet.
func seedCmd() *cobra.Command {
	var size int

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Seed the action catalog and the fleet",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close(context.Background())

			if err := db.SeedActions(cmd.Context(), store); err != nil {
				return err
			}
			created, err := db.SeedFleet(cmd.Context(), store, size, newRand(cfg.RandomSeed, 1))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created %d vehicles in %s store\n", created, cfg.StoreDriver)
			return nil
		},
	}

	cmd.Flags().IntVarP(&size, "size", "n", 10, "Number of vehicles to create")
	return cmd
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := config.ConfigureLogging(cfg.LogLevel, cfg.LogFormat); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openStore connects the configured backend.
func openStore(cfg *config.Config) (db.Store, error) {
	switch cfg.StoreDriver {
	case config.DriverMongo:
		client, err := db.ConnectMongo(cfg.MongoURI)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
		}
		log.WithField("database", cfg.MongoDB).Info("Connected to MongoDB")
		return db.NewMongoStore(client, cfg.MongoDB), nil
	case config.DriverSQLite:
		store, err := db.NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		log.WithField("path", cfg.SQLitePath).Info("Opened SQLite store")
		return store, nil
	default:
		log.Info("Using in-memory store")
		return db.NewMemoryStore(), nil
	}
}

// newRand derives a generator from seed; salt keeps components on
// independent streams. A zero seed is time based.
func newRand(seed, salt int64) *rand.Rand {
	if seed == 0 {
		return rand.New(rand.NewSource(time.Now().UnixNano() + salt))
	}
	return rand.New(rand.NewSource(seed + salt))
}

// simulation is the wired engine behind the API.
type simulation struct {
	store    db.Store
	metrics  *metrics.Collector
	updater  *orchestrator.StateUpdater
	clock    *clock.Clock
	reporter *trigger.StatusReporter
}

// buildSimulation wires machine, orchestrator, triggers and clock. publisher
// may be nil, in which case gate firings are not announced over MQTT.
func buildSimulation(cfg *config.Config, store db.Store, reg prometheus.Registerer, publisher trigger.Publisher) (*simulation, error) {
	collector, err := metrics.NewCollector(reg)
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}

	var machine *vehiclestatus.Machine
	if cfg.RandomSeed != 0 {
		machine = vehiclestatus.NewSeeded(cfg.RandomSeed)
	} else {
		machine = vehiclestatus.New(nil)
	}

	updater := orchestrator.NewStateUpdater(store, store, store, machine, collector, orchestrator.Config{
		MaxStayMinutes: cfg.MaxStayMinutes,
		SummaryEvery:   cfg.SummaryEvery,
		StoreTimeout:   cfg.StoreTimeout,
		Workers:        cfg.Workers,
	})

	demand := trigger.NewDemandGenerator(store, store, cfg.DemandBatch, cfg.MaxPendingDemand, newRand(cfg.RandomSeed, 2))
	shipOut := trigger.NewShipOut(store, cfg.MaxDemandWait)
	reporter := trigger.NewStatusReporter(store, store, cfg.Epoch)

	announce := func(kind string, t trigger.Trigger) trigger.Trigger {
		if publisher == nil {
			return t
		}
		return trigger.Multi{t, trigger.NewMQTTPublisher(publisher, cfg.MQTTTopicPrefix, kind, 0)}
	}

	opts := []clock.Option{
		clock.WithInitializer(orchestrator.NewInitializer(updater)),
		clock.WithMetrics(collector),
		clock.WithTriggerTimeout(cfg.StoreTimeout * 6),
	}
	if cfg.DemandEvery > 0 {
		opts = append(opts, clock.WithGate("demand", cfg.DemandEvery, announce("demand", demand)))
	}
	if cfg.ShipOutEvery > 0 {
		opts = append(opts, clock.WithGate("ship_out", cfg.ShipOutEvery, announce("ship_out", shipOut)))
	}
	if cfg.StatusReportEvery > 0 {
		opts = append(opts, clock.WithGate("status", cfg.StatusReportEvery, announce("status", reporter)))
	}

	return &simulation{
		store:    store,
		metrics:  collector,
		updater:  updater,
		clock:    clock.New(cfg.Epoch, cfg.MinutesPerTick, updater, opts...),
		reporter: reporter,
	}, nil
}

// bootstrap loads reference data, an initial fleet when the store is empty
// and the admin account when a password is configured.
func bootstrap(ctx context.Context, cfg *config.Config, store db.Store, authService *auth.Service) error {
	if err := db.SeedActions(ctx, store); err != nil {
		return err
	}

	vehicles, err := store.FindAllVehicles(ctx)
	if err != nil {
		return fmt.Errorf("list vehicles: %w", err)
	}
	if len(vehicles) == 0 && cfg.FleetSize > 0 {
		created, err := db.SeedFleet(ctx, store, cfg.FleetSize, newRand(cfg.RandomSeed, 1))
		if err != nil {
			return err
		}
		log.WithField("created_vehicles", created).Info("Vehicle creation completed")
	}

	if cfg.AdminPassword == "" {
		log.Warn("ADMIN_PASSWORD not set; no admin account provisioned")
		return nil
	}
	return ensureAdmin(ctx, store, authService, cfg.AdminUsername, cfg.AdminPassword)
}

func ensureAdmin(ctx context.Context, users db.UserCollection, authService *auth.Service, username, password string) error {
	_, err := users.FindUserByUsername(ctx, username)
	if err == nil {
		return nil
	}
	if !errors.Is(err, db.ErrNotFound) {
		return fmt.Errorf("look up admin: %w", err)
	}

	if err := authService.ValidateUsername(username); err != nil {
		return err
	}
	if err := authService.ValidatePassword(password); err != nil {
		return err
	}
	hash, err := authService.HashPassword(password)
	if err != nil {
		return err
	}
	if err := users.InsertUser(ctx, &models.User{
		Username:     username,
		PasswordHash: hash,
		Role:         models.RoleAdmin,
	}); err != nil {
		return fmt.Errorf("create admin: %w", err)
	}
	log.WithField("username", username).Info("Created admin account")
	return nil
}

func serve(ctx context.Context, cfg *config.Config) error {
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close(context.Background())

	authService, err := auth.NewService()
	if err != nil {
		return err
	}
	if err := bootstrap(ctx, cfg, store, authService); err != nil {
		return err
	}

	var publisher trigger.Publisher
	if cfg.MQTTBroker != "" {
		client, err := trigger.ConnectMQTT(cfg.MQTTBroker, cfg.MQTTClientID, 10*time.Second)
		if err != nil {
			return err
		}
		defer client.Disconnect(250)
		publisher = client
	}

	sim, err := buildSimulation(cfg, store, nil, publisher)
	if err != nil {
		return err
	}

	router := handlers.NewRouter(handlers.RouterConfig{
		Auth:       authService,
		Users:      store,
		Simulation: sim.clock,
		Vehicles:   store,
		Metrics:    sim.metrics.Handler(),
		Rand:       newRand(cfg.RandomSeed, 3),
		RateLimit:  120,
	})
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if cfg.AutoStart {
		sim.clock.Start()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithFields(log.Fields{
			"port":             cfg.Port,
			"store":            cfg.StoreDriver,
			"tick_interval":    cfg.TickInterval.String(),
			"minutes_per_tick": cfg.MinutesPerTick,
			"epoch":            cfg.Epoch.Format(time.RFC3339),
		}).Info("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return clock.NewDriver(sim.clock, clock.NewTicker(cfg.TickInterval)).Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		sim.clock.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	log.WithField("ticks", sim.clock.TickCount()).Info("Simulation server stopped")
	return err
}
