// NBE Bridge - pellet burner controller to Home Assistant over MQTT.
//
// The bridge polls an NBE (Blackstar+/Scotte) controller over its UDP
// protocol, publishes the values described by the resource schema as
// Home Assistant entities, and writes setpoint and switch commands back.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/OhmegaStar/nbe-blackstar-homeassistant/internal/api"
	"github.com/OhmegaStar/nbe-blackstar-homeassistant/internal/bridges/nbe"
	"github.com/OhmegaStar/nbe-blackstar-homeassistant/internal/infrastructure/config"
	"github.com/OhmegaStar/nbe-blackstar-homeassistant/internal/infrastructure/database"
	"github.com/OhmegaStar/nbe-blackstar-homeassistant/internal/infrastructure/influxdb"
	"github.com/OhmegaStar/nbe-blackstar-homeassistant/internal/infrastructure/logging"
	"github.com/OhmegaStar/nbe-blackstar-homeassistant/internal/infrastructure/mqtt"
	"github.com/OhmegaStar/nbe-blackstar-homeassistant/internal/resource"
	"github.com/OhmegaStar/nbe-blackstar-homeassistant/internal/state"
	"github.com/OhmegaStar/nbe-blackstar-homeassistant/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	defaultConfigPath = "configs/config.yaml"
	configEnvVar      = "NBE_BRIDGE_CONFIG"
)

func main() {
	flags := pflag.NewFlagSet("nbe-bridge", pflag.ContinueOnError)
	configPath := flags.StringP("config", "c", "", "path to the YAML config file (env "+configEnvVar+")")
	showVersion := flags.Bool("version", false, "print version and exit")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	if *showVersion {
		fmt.Printf("nbe-bridge %s (%s, %s)\n", version, commit, date)
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, resolveConfigPath(*configPath)); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// resolveConfigPath picks the flag value, then the environment, then the default.
func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if path := os.Getenv(configEnvVar); path != "" {
		return path
	}
	return defaultConfigPath
}

// run wires the bridge and blocks until ctx is cancelled. Deferred cleanups
// run in reverse order of startup.
func run(ctx context.Context, configPath string) error {
	log := logging.Default()
	log.Info("starting NBE bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded", "path", configPath, "device", cfg.Device.String())

	// Schema and entities
	topics := mqtt.NewTopics(cfg.DeviceID(), cfg.Bridge.DiscoveryPrefix)
	registry, err := resource.LoadFile(cfg.Schema.Path, resource.DeviceFromConfig(cfg), topics, log)
	if err != nil {
		return fmt.Errorf("loading schema: %w", err)
	}
	log.Info("schema loaded", "path", cfg.Schema.Path, "resources", registry.Len())

	// Value history (optional)
	var (
		db      *database.DB
		history nbe.HistoryRecorder
		reader  api.HistoryReader
	)
	checks := make(map[string]api.HealthChecker)
	if cfg.Database.Enabled {
		db, err = openDatabase(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()

		repo := state.NewRepository(db.DB)
		if days := cfg.Database.HistoryRetentionDays; days > 0 {
			removed, pruneErr := repo.Prune(ctx, time.Duration(days)*24*time.Hour)
			if pruneErr != nil {
				log.Warn("failed to prune value history", "error", pruneErr)
			} else if removed > 0 {
				log.Info("pruned value history", "rows", removed, "retention_days", days)
			}
		}
		history, reader = repo, repo
		checks["database"] = db
	} else {
		log.Info("value history disabled")
	}

	// Telemetry (optional)
	var telemetry nbe.TelemetryWriter
	if cfg.InfluxDB.Enabled {
		influxClient, influxErr := influxdb.Connect(cfg.InfluxDB)
		if influxErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", influxErr)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
		telemetry = influxClient
		checks["influxdb"] = influxClient
	} else {
		log.Info("InfluxDB disabled")
	}

	// MQTT, with the availability topic as last will
	mqttClient, err := mqtt.Connect(cfg.MQTT, &mqtt.Will{
		Topic:   topics.Availability(),
		Payload: mqtt.PayloadOffline,
	})
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log)
	checks["mqtt"] = mqttClient
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	controller := nbe.NewClient(nbe.ClientConfig{
		Host:     cfg.Device.Host,
		Port:     cfg.Device.Port,
		Serial:   cfg.Device.Serial,
		Password: cfg.Device.Password,
		Timeout:  cfg.GetDeviceTimeout(),
	})

	bridge, err := nbe.NewBridge(nbe.Options{
		Config:     cfg,
		Registry:   registry,
		MQTTClient: mqttClient,
		Protocol:   controller,
		History:    history,
		Telemetry:  telemetry,
		Logger:     log,
		Version:    version,
	})
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}

	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected, re-announcing entities")
		bridge.HandleReconnect()
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	if err := bridge.Start(ctx); err != nil {
		return fmt.Errorf("starting bridge: %w", err)
	}
	defer bridge.Stop()

	// Status API (optional)
	if cfg.API.Enabled {
		deps := api.Deps{
			Config:  cfg.API,
			Logger:  log,
			Bridge:  bridge,
			History: reader,
			Version: version,
			Checks:  checks,
		}
		if db != nil {
			deps.DB = db.DB
		}
		srv, apiErr := api.New(deps)
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if apiErr := srv.Start(ctx); apiErr != nil {
			return fmt.Errorf("starting API server: %w", apiErr)
		}
		defer func() {
			if closeErr := srv.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	}

	log.Info("initialisation complete",
		"device_id", cfg.DeviceID(),
		"controller", controller.Address(),
		"refresh_interval", cfg.GetRefreshInterval().String(),
	)

	if err := bridge.Run(ctx); err != nil {
		return fmt.Errorf("bridge stopped: %w", err)
	}

	log.Info("shutdown signal received, cleaning up")
	return nil
}

// openDatabase opens the SQLite store and applies pending migrations.
func openDatabase(ctx context.Context, cfg *config.Config, log *logging.Logger) (*database.DB, error) {
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Migrate(ctx, migrations.FS); err != nil {
		db.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database ready", "path", cfg.Database.Path)
	return db, nil
}
