package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/basekick-labs/rowhouse/internal/api"
	"github.com/basekick-labs/rowhouse/internal/config"
	"github.com/basekick-labs/rowhouse/internal/logger"
	"github.com/basekick-labs/rowhouse/internal/metrics"
	"github.com/basekick-labs/rowhouse/internal/mqtt"
	"github.com/basekick-labs/rowhouse/internal/scheduler"
	"github.com/basekick-labs/rowhouse/internal/shutdown"
)

// Version is set at build time
var Version = "dev"

const usage = `rowhouse flattens nested documents into typed tables.

Usage:
  rowhouse run [--prefix p] [--event file] [key...]   process input objects once
  rowhouse serve                                      run the HTTP API, MQTT and scheduler
  rowhouse discover [flags] file...                   find the split path of a sample
  rowhouse version                                    print the version

Configuration comes from rowhouse.toml and ROWHOUSE_* environment variables.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cmd, args := os.Args[1], os.Args[2:]
	switch cmd {
	case "run":
		os.Exit(runCommand(args))
	case "serve":
		os.Exit(serveCommand(args))
	case "discover":
		os.Exit(discoverCommand(args))
	case "version", "--version":
		fmt.Println(Version)
	case "help", "-h", "--help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}
}

// loadConfig loads and validates the configuration and sets up logging
// and metrics.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	logger.Setup(cfg.Log.Level, cfg.Log.Format)
	metrics.Init(logger.Get("metrics"))
	return cfg, nil
}

func serveCommand(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	log.Info().Str("version", Version).Msg("Starting rowhouse...")

	ctx := context.Background()
	c, err := build(ctx, cfg)
	if err != nil {
		log.Error().Err(err).Msg("Failed to initialize")
		return 1
	}

	coordinator := shutdown.New(time.Duration(cfg.Server.ShutdownTimeout)*time.Second, logger.Get("shutdown"))
	coordinator.Register("sinks", c.sinks, shutdown.PrioritySinks)
	if c.ledger != nil {
		coordinator.Register("ledger", c.ledger, shutdown.PriorityLedger)
	}
	if c.output != nil {
		coordinator.Register("output-storage", c.output, shutdown.PriorityStorage)
	}
	coordinator.Register("input-storage", c.input, shutdown.PriorityStorage)
	coordinator.RegisterHook("pipeline-totals", func(ctx context.Context) error {
		snap := metrics.Get().Snapshot()
		log.Info().
			Interface("objects", snap["objects_processed_total"]).
			Interface("failed", snap["objects_failed_total"]).
			Interface("rows", snap["rows_total"]).
			Msg("Processing totals")
		return nil
	}, shutdown.PriorityPipeline)

	server := api.NewServer(&api.ServerConfig{
		Port:            cfg.Server.Port,
		ReadTimeout:     time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout:    time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:     time.Duration(cfg.Server.IdleTimeout) * time.Second,
		ShutdownTimeout: time.Duration(cfg.Server.ShutdownTimeout) * time.Second,
		BodyLimit:       int(cfg.Server.MaxPayloadSize),
		EnablePprof:     cfg.Server.EnablePprof,
		TLSCertFile:     tlsFile(cfg, cfg.Server.TLSCertFile),
		TLSKeyFile:      tlsFile(cfg, cfg.Server.TLSKeyFile),
	}, logger.Get("api"))
	server.RegisterRoutes()

	server.AddReadyCheck("input-storage", func(ctx context.Context) error {
		_, err := c.input.Exists(ctx, ".rowhouse-ready")
		return err
	})
	if c.ledger != nil {
		server.AddReadyCheck("ledger", c.ledger.Ping)
	}

	api.NewUnfurlHandler(c.processor, c.decoder, logger.Get("unfurl-api")).RegisterRoutes(server.GetApp())
	api.NewProcessHandler(c.pipeline, logger.Get("process-api")).RegisterRoutes(server.GetApp())

	if cfg.MQTT.Enabled {
		sub, err := mqtt.NewSubscriber(&mqtt.Subscription{
			Broker:                cfg.MQTT.Broker,
			ClientID:              cfg.MQTT.ClientID,
			Topics:                cfg.MQTT.Topics,
			QoS:                   cfg.MQTT.QoS,
			Username:              cfg.MQTT.Username,
			Password:              cfg.MQTT.Password,
			TLSEnabled:            cfg.MQTT.TLSEnabled,
			TLSCAPath:             cfg.MQTT.TLSCAPath,
			TLSCertPath:           cfg.MQTT.TLSCertPath,
			TLSKeyPath:            cfg.MQTT.TLSKeyPath,
			TLSInsecureSkipVerify: cfg.MQTT.TLSInsecureSkipVerify,
			Workers:               cfg.MQTT.Workers,
			QueueSize:             cfg.MQTT.QueueSize,
		}, func(ctx context.Context, topic string, payload []byte) error {
			_, err := c.pipeline.ProcessEvent(ctx, payload)
			return err
		}, logger.Get("mqtt"))
		if err != nil {
			log.Error().Err(err).Msg("Invalid MQTT configuration")
			coordinator.Shutdown()
			return 1
		}
		if err := sub.Start(); err != nil {
			log.Error().Err(err).Msg("Failed to connect to MQTT broker - notifications disabled")
		} else {
			coordinator.RegisterHook("mqtt", func(ctx context.Context) error {
				return sub.Stop()
			}, shutdown.PriorityMQTT)
			server.AddReadyCheck("mqtt", func(ctx context.Context) error {
				if st := sub.GetStats(); st.Status != mqtt.StatusRunning {
					return fmt.Errorf("mqtt %s: %s", st.Status, st.Error)
				}
				return nil
			})
		}
	}

	if cfg.Scheduler.Enabled {
		scan, err := scheduler.NewScanScheduler(&scheduler.ScanSchedulerConfig{
			Scanner:  c.pipeline,
			Prefixes: cfg.Scheduler.Prefixes,
			Schedule: cfg.Scheduler.Schedule,
			Timeout:  time.Duration(cfg.Scheduler.TimeoutMinutes) * time.Minute,
			Logger:   logger.Get("scheduler"),
		})
		if err != nil {
			log.Error().Err(err).Msg("Invalid scheduler configuration")
			coordinator.Shutdown()
			return 1
		}
		if err := scan.Start(); err != nil {
			log.Error().Err(err).Msg("Failed to start scan scheduler")
			coordinator.Shutdown()
			return 1
		}
		coordinator.RegisterHook("scan-scheduler", func(ctx context.Context) error {
			scan.Stop()
			return nil
		}, shutdown.PriorityScheduler)
	}

	coordinator.RegisterHook("http-server", func(ctx context.Context) error {
		return server.Shutdown(time.Duration(cfg.Server.ShutdownTimeout) * time.Second)
	}, shutdown.PriorityHTTPServer)

	if err := server.Start(); err != nil {
		log.Error().Err(err).Msg("Failed to start HTTP server")
		coordinator.Shutdown()
		return 1
	}

	protocol := "HTTP"
	if cfg.Server.TLSEnabled {
		protocol = "HTTPS"
	}
	log.Info().
		Int("port", cfg.Server.Port).
		Str("protocol", protocol).
		Str("version", Version).
		Msg("rowhouse is ready")

	sig := coordinator.WaitForSignal()
	log.Info().Str("signal", sig.String()).Msg("Initiating graceful shutdown...")

	if err := coordinator.Shutdown(); err != nil {
		log.Error().Err(err).Msg("Shutdown completed with errors")
		return 1
	}
	log.Info().Msg("rowhouse shutdown complete")
	return 0
}

func tlsFile(cfg *config.Config, path string) string {
	if !cfg.Server.TLSEnabled {
		return ""
	}
	return path
}
