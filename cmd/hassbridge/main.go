// Home Assistant ⇄ QuIXI sync bridge.
//
// This is the main entry point. The bridge keeps a local mirror of Home
// Assistant entity state and answers chat commands received over QuIXI:
//   - status, devices, control, sync and help
//   - live state changes mirrored to MQTT and the status API websocket
//
// Usage:
//
//	hassbridge                 run the bridge
//	hassbridge token <subject> print a status API bearer token
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/subsubl/hass-quixi-bridge/migrations"

	"github.com/subsubl/hass-quixi-bridge/internal/api"
	"github.com/subsubl/hass-quixi-bridge/internal/audit"
	"github.com/subsubl/hass-quixi-bridge/internal/bridge"
	"github.com/subsubl/hass-quixi-bridge/internal/command"
	"github.com/subsubl/hass-quixi-bridge/internal/hass"
	"github.com/subsubl/hass-quixi-bridge/internal/infrastructure/config"
	"github.com/subsubl/hass-quixi-bridge/internal/infrastructure/database"
	"github.com/subsubl/hass-quixi-bridge/internal/infrastructure/influxdb"
	"github.com/subsubl/hass-quixi-bridge/internal/infrastructure/logging"
	"github.com/subsubl/hass-quixi-bridge/internal/infrastructure/mqtt"
	"github.com/subsubl/hass-quixi-bridge/internal/quixi"
	"github.com/subsubl/hass-quixi-bridge/internal/state"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

const (
	// Default configuration file path
	defaultConfigPath = "configs/config.yaml"

	// Lifetime of tokens printed by the token subcommand
	defaultTokenTTL = 24 * time.Hour
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "token" {
		if err := printToken(os.Stdout, os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// Cancel on Ctrl+C or SIGTERM for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// It returns nil on clean shutdown.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting hassbridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Command audit log (optional)
	var db *database.DB
	var auditRepo audit.Repository
	if cfg.Database.Enabled {
		db, err = database.Open(cfg.Database)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()

		if migrateErr := db.Migrate(ctx); migrateErr != nil {
			return fmt.Errorf("running migrations: %w", migrateErr)
		}
		auditRepo = audit.NewSQLiteRepository(db.DB)
		log.Info("command audit log ready", "path", cfg.Database.Path)
	} else {
		log.Info("command audit log disabled")
	}

	// MQTT carries inbound commands, health and the state mirror (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log)
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	} else {
		log.Info("MQTT disabled, no inbound command source")
	}

	// Telemetry (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
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
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	hubClient, err := newHubClient(cfg, log)
	if err != nil {
		return fmt.Errorf("creating hub client: %w", err)
	}

	// Change notifiers: MQTT state mirror and the API websocket
	var notifiers bridge.MultiNotifier
	if mqttClient != nil && cfg.MQTT.PublishState {
		notifiers = append(notifiers, bridge.MQTTNotifier{
			Publisher: mqttClient,
			QoS:       mqttClient.QoS(),
			Logger:    log.With("component", "state_mirror"),
		})
	}
	var wsHub *api.Hub
	if cfg.API.Enabled {
		wsHub = api.NewHub(cfg.API.WebSocket, log.With("component", "websocket"))
		notifiers = append(notifiers, wsHub)
	}

	engineOpts := bridge.EngineOptions{
		Hub:            bridge.HassHub{Client: hubClient},
		Cache:          state.NewCache(),
		ReconnectDelay: cfg.GetReconnectDelay(),
		Logger:         log.With("component", "sync"),
	}
	if len(notifiers) > 0 {
		engineOpts.Notifier = notifiers
	}
	if influxClient != nil {
		engineOpts.Telemetry = influxClient
	}
	engine, err := bridge.NewEngine(engineOpts)
	if err != nil {
		return fmt.Errorf("creating sync engine: %w", err)
	}

	// Status API (optional)
	if cfg.API.Enabled {
		server, apiErr := api.New(api.Deps{
			Config:   cfg.API,
			Security: cfg.Security,
			Logger:   log.With("component", "api"),
			Engine:   engine,
			Audit:    auditRepo,
			MQTT:     mqttView(mqttClient),
			HubURL:   hubClient.URL(),
			Version:  version,
			Hub:      wsHub,
		})
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := server.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			log.Info("stopping API server")
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error stopping API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("status API disabled")
	}

	opts := bridge.Options{Engine: engine, Logger: log}
	if mqttClient != nil {
		commands, cmdErr := newCommandLoop(cfg, log, hubClient, engine, auditRepo, influxClient, mqttClient)
		if cmdErr != nil {
			return cmdErr
		}
		opts.Commands = commands

		opts.Health = bridge.NewHealthReporter(bridge.HealthReporterConfig{
			Version:   version,
			Interval:  cfg.GetHealthInterval(),
			Publisher: mqttClient,
			Source:    engine,
			QoS:       mqttClient.QoS(),
			Logger:    log.With("component", "health"),
		})
	}

	b, err := bridge.New(opts)
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}
	if err := b.Start(ctx); err != nil {
		return fmt.Errorf("starting bridge: %w", err)
	}

	log.Info("initialisation complete, waiting for shutdown signal",
		"hub", hubClient.URL(),
		"quixi", cfg.QuIXI.APIURL,
	)

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	if err := b.Stop(); err != nil {
		log.Error("bridge stopped with error", "error", err)
	}

	// Deferred Close() calls run in reverse order: API, InfluxDB, MQTT, database.
	log.Info("hassbridge stopped")
	return nil
}

// newHubClient builds the Home Assistant client from configuration.
func newHubClient(cfg *config.Config, log *logging.Logger) (*hass.Client, error) {
	return hass.NewClient(hass.Options{
		URL:     cfg.Hub.URL,
		Token:   cfg.Hub.Token,
		Timeout: cfg.GetRequestTimeout(),
		Retry: &hass.RetryPolicy{
			MaxRetries:   cfg.Sync.FetchRetries,
			InitialDelay: cfg.GetFetchInitialDelay(),
			Multiplier:   2,
		},
		Logger: log.With("component", "hass"),
	})
}

// newCommandLoop wires the MQTT command source, the router and the QuIXI
// reply client into a bridge task.
func newCommandLoop(
	cfg *config.Config,
	log *logging.Logger,
	hubClient *hass.Client,
	engine *bridge.Engine,
	auditRepo audit.Repository,
	influxClient *influxdb.Client,
	mqttClient *mqtt.Client,
) (bridge.Task, error) {
	replier, err := newQuIXIClient(cfg.QuIXI, cfg.GetRequestTimeout(), log)
	if err != nil {
		return nil, fmt.Errorf("creating QuIXI client: %w", err)
	}

	routerOpts := command.Options{
		Hub:             hubClient,
		Resyncer:        engine,
		Replier:         replier,
		DeviceListLimit: cfg.Sync.DevicesListLimit,
		Audit:           auditRepo,
		Logger:          log.With("component", "commands"),
	}
	if influxClient != nil {
		routerOpts.Telemetry = influxClient
	}
	router, err := command.NewRouter(routerOpts)
	if err != nil {
		return nil, fmt.Errorf("creating command router: %w", err)
	}

	source, err := command.NewMQTTSource(mqttClient, command.MQTTSourceConfig{
		Topic:  cfg.MQTT.CommandTopic,
		QoS:    mqttClient.QoS(),
		Logger: log.With("component", "command_source"),
	})
	if err != nil {
		return nil, fmt.Errorf("subscribing to commands: %w", err)
	}
	log.Info("listening for commands", "topic", cfg.MQTT.CommandTopic)

	return func(ctx context.Context) error {
		defer source.Close() //nolint:errcheck // best effort on shutdown
		return router.Serve(ctx, source)
	}, nil
}

// newQuIXIClient builds the reply client, signing messages when a key file
// is configured.
func newQuIXIClient(cfg config.QuIXIConfig, timeout time.Duration, log *logging.Logger) (*quixi.Client, error) {
	opts := quixi.Options{
		APIURL:  cfg.APIURL,
		Channel: cfg.Channel,
		Timeout: timeout,
		Logger:  log.With("component", "quixi"),
	}
	if cfg.PrivateKeyFile != "" {
		signer, err := quixi.LoadRSASigner(cfg.PrivateKeyFile)
		if err != nil {
			return nil, err
		}
		opts.Signer = signer
		log.Info("outbound messages will be signed", "key_file", cfg.PrivateKeyFile)
	} else {
		log.Warn("no private key configured, outbound messages are unsigned")
	}
	return quixi.NewClient(opts)
}

// mqttView avoids handing the API a typed-nil client.
func mqttView(c *mqtt.Client) api.MQTTView {
	if c == nil {
		return nil
	}
	return c
}

// getConfigPath returns the configuration file path.
// Uses HASSBRIDGE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("HASSBRIDGE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies the infrastructure connections that are enabled.
// Nil clients are skipped.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if db != nil {
		if err := db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}

	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}

// printToken writes a status API bearer token for args[0] to w.
func printToken(w io.Writer, args []string) error {
	if len(args) != 1 || args[0] == "" {
		return errors.New("usage: hassbridge token <subject>")
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Security.JWT.Secret == "" {
		return errors.New("security.jwt.secret is not configured")
	}

	token, err := api.IssueToken(cfg.Security.JWT.Secret, args[0], defaultTokenTTL)
	if err != nil {
		return fmt.Errorf("issuing token: %w", err)
	}
	_, err = fmt.Fprintln(w, token)
	return err
}
