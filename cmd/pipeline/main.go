// Package main provides the entry point for the line collection service.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yourusername/line-drive/internal/alerting"
	"github.com/yourusername/line-drive/internal/collector"
	"github.com/yourusername/line-drive/internal/config"
	"github.com/yourusername/line-drive/internal/database"
	"github.com/yourusername/line-drive/internal/health"
	"github.com/yourusername/line-drive/internal/logger"
	"github.com/yourusername/line-drive/internal/metrics"
	"github.com/yourusername/line-drive/internal/pipeline"
	"github.com/yourusername/line-drive/internal/repository"
	"github.com/yourusername/line-drive/internal/resolver"
	"github.com/yourusername/line-drive/internal/scheduler"
	"github.com/yourusername/line-drive/internal/sharp"
)

// Set at build time via -ldflags.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	// Load configuration
	cfg, err := config.Load(os.Getenv("LINE_DRIVE_CONFIG"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Load AWS secrets if enabled
	if os.Getenv("AWS_SECRETS_ENABLED") == "true" {
		region := os.Getenv("AWS_REGION")
		secretName := os.Getenv("AWS_SECRET_NAME")
		if region == "" || secretName == "" {
			log.Fatalf("AWS_REGION and AWS_SECRET_NAME environment variables must be set when AWS_SECRETS_ENABLED is true")
		}
		if err := config.LoadSecretsFromAWS(cfg, region, secretName); err != nil {
			log.Fatalf("Failed to load secrets: %v", err)
		}
	}

	// Validate configuration
	if err := config.Validate(cfg); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Set up logging
	appLog := logger.NewLogger(cfg.App.LogLevel, cfg.App.Environment)
	appLog.WithFields(logrus.Fields{
		"environment": cfg.App.Environment,
		"log_level":   cfg.App.LogLevel,
		"version":     version,
	}).Info("Line Drive collection service starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database connection and apply pending migrations
	db, err := database.Initialize(ctx, cfg)
	if err != nil {
		appLog.WithError(err).Fatal("Failed to initialize database")
	}
	defer db.Close()

	appLog.Info("Database connection established")

	// Initialize repositories
	repos, err := repository.NewRepositories(db)
	if err != nil {
		appLog.WithError(err).Fatal("Failed to create repositories")
	}

	// Register Prometheus collectors
	metrics.InitRegistry()

	// Alerting: sinks, per-severity throttling, persistence
	audit := logger.NewAuditLogger(appLog)
	sinks, err := alerting.BuildSinks(cfg.Alerting.Sinks, appLog)
	if err != nil {
		appLog.WithError(err).Fatal("Failed to build alert sinks")
	}
	dispatcher := alerting.NewDispatcher(&cfg.Alerting, sinks, repos.Alert, audit, appLog)

	// The health tracker owns the circuit breakers; collectors see them
	// only through the gate interface.
	tracker := health.NewTracker(cfg, repos.Attempt, repos.Recovery, dispatcher, audit, appLog)

	gates := make(map[string]collector.Gate)
	for name, br := range tracker.Breakers() {
		gates[name] = br
	}

	// Source collectors
	collectors, err := collector.BuildEnabled(cfg, gates, appLog)
	if err != nil {
		appLog.WithError(err).Fatal("Failed to build collectors")
	}

	parsers := make(map[string]collector.Parser, len(collectors))
	var schedule collector.Collector
	for _, c := range collectors {
		tracker.RegisterProbe(c)
		parsers[c.Name()] = c
		if c.Name() == collector.SourceMlbsched {
			schedule = c
		}
	}
	if schedule == nil {
		appLog.Warn("Schedule collector disabled; outcome resolution will not run")
	}

	// Identity resolution
	res := resolver.New(cfg.Identity, repos.Game, repos.Sportsbook, appLog.WithField("component", "resolver"))

	// Pipeline zones
	reliability := cfg.ReliabilityTable()
	rawZone := pipeline.NewRawProcessor(repos.RawRecord, &cfg.Pipeline, appLog)
	stagingZone := pipeline.NewStagingProcessor(parsers, res, repos.RawRecord, repos.Line, repos.Game, repos.Quarantine, reliability, &cfg.Pipeline, audit, appLog)
	curatedZone := pipeline.NewCuratedProcessor(repos.Line, sharp.New(cfg.Pipeline.Sharp), &cfg.Pipeline, appLog)

	orchestrator := pipeline.NewOrchestrator(&cfg.Pipeline, collectors, rawZone, stagingZone, curatedZone,
		repos.Run, repos.Attempt, tracker.Events(), appLog)
	reviver := pipeline.NewReviver(res, repos.Quarantine, repos.Line, repos.Game, reliability, audit, appLog)
	outcomes := pipeline.NewOutcomeResolver(schedule, rawZone, repos.Game, repos.Line, appLog)

	// Operational HTTP server: container probes, collector health snapshots,
	// manual recovery and the metrics endpoint.
	var metricsHandler http.Handler
	if cfg.Metrics.Enabled {
		metricsHandler = metrics.Handler()
	}
	server := health.NewServer(health.ServerConfig{
		ServiceName: cfg.App.Name,
		Version:     version,
		Commit:      commit,
		Port:        strconv.Itoa(cfg.Health.ListenPort),
		Logger:      appLog,
		DB:          db,
		Tracker:     tracker,
		Metrics:     metricsHandler,
		MetricsPath: cfg.Metrics.Path,
	})

	// Recurring jobs: sweeps, revival, outcome resolution, retention
	sched := scheduler.New(appLog)
	jobs := scheduler.NewJobs(cfg, orchestrator, reviver, outcomes, repos.RawRecord, repos.Attempt, dispatcher, audit, appLog)
	if err := jobs.ScheduleAll(sched); err != nil {
		appLog.WithError(err).Fatal("Failed to schedule jobs")
	}

	// Set up signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		if err := tracker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			appLog.WithError(err).Error("Health tracker stopped unexpectedly")
		}
	}()

	if err := server.Start(ctx); err != nil {
		appLog.WithError(err).Fatal("Failed to start operational server")
	}

	if err := sched.Start(); err != nil {
		appLog.WithError(err).Fatal("Failed to start scheduler")
	}
	server.SetReady(true)

	appLog.WithFields(logrus.Fields{
		"collectors":  len(collectors),
		"alert_sinks": len(sinks),
		"listen_port": cfg.Health.ListenPort,
	}).Info("Collection service is running")

	// Wait for shutdown signal
	sig := <-sigChan
	appLog.WithField("signal", sig).Info("Shutdown signal received")

	// Graceful shutdown: stop taking traffic, let running jobs drain, then
	// cancel the tracker and close the pool.
	server.SetReady(false)
	if err := sched.Stop(); err != nil {
		appLog.WithError(err).Error("Error during scheduler shutdown")
	}
	cancel()

	// Give components time to cleanup
	time.Sleep(2 * time.Second)

	appLog.Info("Collection service shut down")
}
