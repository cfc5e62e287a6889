package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"cat_feeder/internal/actuator"
	"cat_feeder/internal/backup"
	"cat_feeder/internal/calibration"
	"cat_feeder/internal/clock"
	"cat_feeder/internal/config"
	"cat_feeder/internal/estop"
	"cat_feeder/internal/handlers"
	"cat_feeder/internal/hardware"
	"cat_feeder/internal/health"
	"cat_feeder/internal/logger"
	"cat_feeder/internal/models"
	"cat_feeder/internal/notify"
	"cat_feeder/internal/policy"
	"cat_feeder/internal/repository"
	"cat_feeder/internal/repository/db"
	"cat_feeder/internal/resource"
	"cat_feeder/internal/scheduler"
	"cat_feeder/internal/sensor"
	"cat_feeder/internal/server"
	"cat_feeder/internal/service"
	"cat_feeder/internal/workqueue"
)

const (
	driverSerial      = "serial"
	queuePingEvery    = time.Minute
	sessionSweepEvery = time.Minute
)

// @title        Cat Feeder API
// @version      1.0
// @description  Scheduled and manual feeding, scale and gate calibration, logs and health.
// @BasePath     /
// @securityDefinitions.apikey  BearerAuth
// @in                          header
// @name                        Authorization
func main() {
	configPath := flag.String("config", "", "path to config file (default configs/config.yml)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Get(logger.InfoLevel).Fatalw("error reading config", "err", err)
	}

	// init logger
	log := logger.Get(cfg.Log.Level)
	defer func() { _ = log.Sync() }()

	if err := cfg.Validate(); err != nil {
		log.Fatalw("invalid config", "err", err)
	}
	loc, err := cfg.Location()
	if err != nil {
		log.Fatalw("invalid schedule.time_zone", "tz", cfg.Schedule.TimeZone, "err", err)
	}

	// open DB
	sqlDB, err := openDB(cfg.DB.Path, log)
	if err != nil {
		log.Fatalw("failed to init sqlite", "err", err)
	}
	defer func() {
		if cerr := sqlDB.Close(); cerr != nil {
			log.Errorw("failed to close sqlite", "err", cerr)
		}
	}()

	// hardware link
	dev := openDevice(cfg, log)
	if err := dev.Connect(); err != nil {
		log.Fatalw("failed to connect hardware", "driver", cfg.Hardware.Driver, "err", err)
	}
	defer func() {
		if cerr := dev.Close(); cerr != nil {
			log.Errorw("failed to close hardware", "err", cerr)
		}
	}()

	// context for background goroutines
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clk := clock.Real{}
	repos := repository.NewRepository(sqlDB)
	scaleLock := resource.NewLock("scale")
	gateLock := resource.NewLock("gate")

	sens := sensor.New(dev, cfg.SensorSettings(), clk, log.Named("sensor"))
	engine := calibration.New(sens, repos.Profiles, scaleLock, cfg.CalibrationSettings(), clk, log.Named("calibration"))
	if err := engine.Load(ctx); err != nil {
		log.Warnw("calibration_load_failed", "err", err)
	}
	scale := sensor.NewScale(sens, engine, cfg.ScaleSettings(), clk)

	gate := actuator.New(dev, scale, repos.Profiles, gateLock, scaleLock, cfg.GateSettings(), clk, log.Named("actuator"))
	if err := gate.Load(ctx); err != nil {
		log.Warnw("actuator_load_failed", "err", err)
	}
	// the gate must start closed whatever state the last run left it in
	if err := gate.EnsureClosed(ctx); err != nil {
		log.Errorw("initial_gate_close_failed", "err", err)
	}

	latch := estop.New(clk)
	limits := cfg.Limits()
	pol := policy.New(limits)
	tracker := policy.NewTracker(loc, latch)

	queue := workqueue.New(cfg.Queue.Size, log.Named("queue"))
	var queueDone sync.WaitGroup
	queueDone.Add(1)
	go func() {
		defer queueDone.Done()
		queue.Run(ctx)
	}()

	monitor := health.New(health.NewHostCollector(cfg.DB.Path), cfg.HealthSettings(), clk, log.Named("health"))

	// remote estop messages arriving before the services exist are ignored
	var ready atomic.Pointer[service.Service]
	pub := openPublisher(cfg, func(engaged bool) {
		if s := ready.Load(); s != nil {
			s.SetEmergencyStop(context.Background(), engaged, "mqtt")
		}
	}, log)
	defer pub.Close()

	backups := backup.New(repos.Profiles, repos.Rules, repos.Feedings, func(r models.FeedingRule) error {
		return scheduler.ValidateRule(r, limits.MaxPortion)
	}, log.Named("backup"))

	services := service.NewService(service.Deps{
		Repos:     repos,
		Scale:     scale,
		ScaleLock: scaleLock,
		Engine:    engine,
		Gate:      gate,
		Estop:     latch,
		Policy:    pol,
		Tracker:   tracker,
		Queue:     queue,
		Monitor:   monitor,
		Publisher: pub,
		Backup:    backups,
		Clock:     clk,
		Log:       log,
	}, service.Options{
		Location:    loc,
		MaxDeferral: cfg.Schedule.MaxDeferral,
		WeightMonitor: service.WeightMonitorConfig{
			MinCatGrams:       cfg.Monitor.MinCatGrams,
			MaxCatGrams:       cfg.Monitor.MaxCatGrams,
			CatDetectionDelay: cfg.Monitor.CatDetectionDelay,
			LogInterval:       cfg.Monitor.LogInterval,
		},
		RetentionDays: cfg.Retention.Days,
		SigningKey:    cfg.Auth.SigningKey,
		TokenTTL:      cfg.Auth.TokenTTL,

		SessionIdleTimeout: cfg.Calibration.SessionIdleTimeout,
	})

	ready.Store(services)

	seedRules(ctx, services, cfg.Schedule.Rules, log)
	if err := services.Rebuild(ctx); err != nil {
		log.Errorw("safety_rebuild_failed", "err", err)
	}
	services.Events.Emit(ctx, models.EventStartup, "feeder started", map[string]any{
		"driver": cfg.Hardware.Driver,
		"tz":     loc.String(),
	})

	var bgDone sync.WaitGroup
	bgDone.Add(1)
	go func() {
		defer bgDone.Done()
		services.Run(ctx, service.Intervals{
			SchedulerTick: cfg.Schedule.Tick,
			WeightPoll:    cfg.Monitor.Interval,
			Health:        cfg.Health.Interval,
			Retention:     cfg.Retention.Interval,
			QueuePing:     queuePingEvery,
			SessionSweep:  sessionSweepEvery,
		})
	}()

	// start HTTP server
	apiHandler := handlers.NewHandler(services, log.Named("http"))
	srv := &server.Server{}
	runHTTPServer(srv, cfg.HTTP, apiHandler, log)

	// graceful shutdown
	waitForSignal(log)
	shutdown(cancel, srv, services, cfg.HTTP.ShutdownTimeout, log)
	bgDone.Wait()
	queueDone.Wait()
}

// openDB initializes the SQLite database using configuration.
func openDB(path string, log *logger.Logger) (*sql.DB, error) {
	if path == "" {
		log.Infow("db.path not set in config; using default file", "default", "cat_feeder.db")
		path = "cat_feeder.db"
	}
	return db.InitDB(path)
}

func openDevice(cfg *config.Config, log *logger.Logger) hardware.Device {
	if cfg.Hardware.Driver == driverSerial {
		return hardware.NewSerial(cfg.Hardware.Port, cfg.Hardware.Baud, log.Named("serial"))
	}
	log.Infow("using simulated hardware")
	return hardware.NewSim(cfg.SimSettings(), clock.Real{})
}

// openPublisher dials MQTT when enabled. A broker that cannot be reached at
// startup disables publishing instead of stopping the feeder.
func openPublisher(cfg *config.Config, onEstop notify.EstopFunc, log *logger.Logger) notify.Publisher {
	if !cfg.MQTT.Enabled {
		return notify.Nop{}
	}
	m, err := notify.Dial(cfg.MQTTSettings(), onEstop, log.Named("mqtt"))
	if err != nil {
		log.Errorw("mqtt_dial_failed", "broker", cfg.MQTT.Broker, "err", err)
		return notify.Nop{}
	}
	return m
}

func seedRules(ctx context.Context, services *service.Service, rules []config.RuleConfig, log *logger.Logger) {
	if len(rules) == 0 {
		return
	}
	seed := make([]models.FeedingRule, 0, len(rules))
	for _, r := range rules {
		seed = append(seed, r.Rule())
	}
	n, err := services.SeedRules(ctx, seed)
	if err != nil {
		log.Errorw("rule_seed_failed", "err", err)
		return
	}
	if n > 0 {
		log.Infow("rules_seeded", "count", n)
	}
}

// runHTTPServer runs the HTTP server in a separate goroutine.
func runHTTPServer(srv *server.Server, cfg config.HTTPConfig, handler *handlers.Handler, log *logger.Logger) {
	go func() {
		port := cfg.Port
		if port == "" {
			port = "8080"
		}
		err := srv.Run(port, handler.InitRoutes(), server.Options{WriteTimeout: cfg.WriteTimeout})
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalw("error starting server", "err", err)
		}
	}()
}

func waitForSignal(log *logger.Logger) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Infow("shutting down", "signal", sig.String())
}

// shutdown drains HTTP, stops the background loops and closes the gate.
func shutdown(cancel context.CancelFunc, srv *server.Server, services *service.Service, timeout time.Duration, log *logger.Logger) {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
	defer shutdownCancel()

	// allow in-flight requests to complete
	if err := srv.Shutdown(ctx); err != nil {
		log.Errorw("server forced to shutdown", "err", err)
	}

	// stop background goroutines
	cancel()

	if err := services.Shutdown(ctx); err != nil {
		log.Errorw("feeder shutdown incomplete", "err", err)
	}
}
