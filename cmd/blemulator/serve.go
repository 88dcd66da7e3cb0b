package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-blemulator/internal/api"
	"github.com/nerrad567/gray-logic-blemulator/internal/ble"
	"github.com/nerrad567/gray-logic-blemulator/internal/bridges/blesim"
	"github.com/nerrad567/gray-logic-blemulator/internal/engine"
	"github.com/nerrad567/gray-logic-blemulator/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-blemulator/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-blemulator/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-blemulator/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-blemulator/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-blemulator/internal/infrastructure/tracing"
	"github.com/nerrad567/gray-logic-blemulator/migrations"
)

// shutdownStepTimeout bounds each best-effort shutdown step.
const shutdownStepTimeout = 5 * time.Second

// serveOptions are the flags of the serve command.
type serveOptions struct {
	*globalOptions
	strict bool
}

func newServeCommand(global *globalOptions) *cobra.Command {
	opts := &serveOptions{globalOptions: global}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the simulated adapter",
		Example: `blemulator serve
blemulator serve --config /etc/blemulator/config.yaml --strict`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts)
		},
	}

	cmd.Flags().BoolVar(&opts.strict, "strict", false,
		"shut down on the first protocol violation by the simulation engine")

	return cmd
}

// run is the actual application logic, separated from the command for
// testability. It blocks until ctx is cancelled or, in strict mode, the
// engine violates the protocol.
func run(ctx context.Context, opts *serveOptions) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting blemulator",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := opts.configPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if opts.strict {
		cfg.Adapter.Strict = true
	}
	log.Info("configuration loaded", "path", configPath, "adapter_id", cfg.Adapter.ID)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)
	adapterID := cfg.Adapter.ID

	// Tracing
	tracerProvider, shutdownTracing, err := tracing.Setup(ctx, cfg.Tracing, version)
	if err != nil {
		return fmt.Errorf("setting up tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownStepTimeout)
		defer cancel()
		if shutdownErr := shutdownTracing(shutdownCtx); shutdownErr != nil {
			log.Error("error shutting down tracing", "error", shutdownErr)
		}
	}()

	// Connect to MQTT broker. The will marks this adapter offline on its
	// retained health topic if the process dies without a clean shutdown.
	lwtPayload, err := json.Marshal(blesim.NewLWTMessage(adapterID))
	if err != nil {
		return fmt.Errorf("encoding last will: %w", err)
	}
	mqttClient, err := mqtt.Connect(cfg.MQTT, mqtt.WithWill(blesim.HealthTopic(adapterID), lwtPayload))
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log.Component("mqtt", adapterID))
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

	// Traffic recorder (optional)
	var recorder blesim.Recorder
	var db *database.DB
	if cfg.Recorder.Enabled {
		db, err = openDatabase(ctx, cfg.Database)
		if err != nil {
			return err
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()

		traffic := blesim.NewTrafficRecorder(db.DB, adapterID)
		traffic.SetLogger(log.Component("recorder", adapterID))
		if startErr := traffic.Start(ctx); startErr != nil {
			return fmt.Errorf("starting traffic recorder: %w", startErr)
		}
		defer traffic.Stop()
		recorder = traffic
		log.Info("traffic recorder started", "session_id", traffic.SessionID())

		if cfg.GetRetention() > 0 {
			retention, retErr := blesim.NewRetention(db.DB, blesim.RetentionConfig{
				Schedule:      cfg.Recorder.PruneSchedule,
				MaxAge:        cfg.GetRetention(),
				KeepSessionID: traffic.SessionID(),
			})
			if retErr != nil {
				return fmt.Errorf("configuring recorder retention: %w", retErr)
			}
			retention.SetLogger(log.Component("retention", adapterID))
			if pruned, pruneErr := retention.RunOnce(ctx); pruneErr != nil {
				log.Warn("initial recorder prune failed", "error", pruneErr)
			} else if pruned > 0 {
				log.Info("pruned recorder sessions", "count", pruned)
			}
			retention.Start(ctx)
			defer retention.Stop()
		}
	} else {
		log.Info("traffic recorder disabled")
	}

	// Connect to InfluxDB (optional)
	var metrics blesim.Metrics
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
		metrics = blesim.NewTimeSeriesMetrics(adapterID, influxClient)
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// WebSocket hub, created ahead of the adapter so it can observe events
	apiLog := log.Component("api", adapterID)
	hub := api.NewHub(cfg.WebSocket, apiLog)
	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	go hub.Run(hubCtx)

	// Simulation channel
	channel, err := blesim.NewMQTTChannel(blesim.MQTTChannelConfig{
		AdapterID:       adapterID,
		QoS:             byte(cfg.MQTT.QoS), //nolint:gosec // validated to 0..2
		Client:          mqttClient,
		BreakerFailures: uint32(cfg.Channel.BreakerFailures), //nolint:gosec // validated non-negative
		BreakerTimeout:  cfg.GetBreakerTimeout(),
		Logger:          log.Component("channel", adapterID),
	})
	if err != nil {
		return fmt.Errorf("creating simulation channel: %w", err)
	}
	defer channel.Close()

	// Protocol violations by the engine: always logged, fatal in strict mode
	fatalCh := make(chan error, 1)
	onFatal := func(err error) {
		log.Error("simulation protocol violation", "error", err, "strict", cfg.Adapter.Strict)
		if cfg.Adapter.Strict {
			select {
			case fatalCh <- err:
			default:
			}
		}
	}

	adapter, err := blesim.New(blesim.Options{
		Channel:        channel,
		Logger:         log.Component("adapter", adapterID),
		Recorder:       recorder,
		Metrics:        metrics,
		TracerProvider: tracerProvider,
		Observer:       hub.ObserveAdapterEvent,
		OnFatal:        onFatal,
		InboxSize:      cfg.Adapter.InboxSize,
	})
	if err != nil {
		return fmt.Errorf("creating adapter: %w", err)
	}
	if startErr := adapter.Start(ctx); startErr != nil {
		return fmt.Errorf("starting adapter: %w", startErr)
	}
	defer func() {
		log.Info("stopping adapter")
		adapter.Stop()
	}()

	if cfg.Adapter.LogLevel != "" {
		if levelErr := adapter.SetLogLevel(ctx, ble.LogLevel(cfg.Adapter.LogLevel)); levelErr != nil {
			return fmt.Errorf("setting adapter log level: %w", levelErr)
		}
	}

	// Local simulation engine (optional)
	var supervisor *engine.Supervisor
	if cfg.EngineEnabled() {
		supervisor = newEngineSupervisor(cfg, log.Component("engine", adapterID))
		if startErr := supervisor.Start(ctx); startErr != nil {
			return fmt.Errorf("starting simulation engine: %w", startErr)
		}
		defer func() {
			if stopErr := supervisor.Stop(); stopErr != nil {
				log.Error("error stopping simulation engine", "error", stopErr)
			}
		}()
	} else {
		log.Info("no local engine configured, expecting one on the broker")
	}

	if clientErr := createClient(ctx, adapter, log); clientErr != nil {
		return clientErr
	}
	defer destroyClient(adapter, log)

	// Health reporting
	health := blesim.NewHealthReporter(blesim.HealthReporterConfig{
		AdapterID: adapterID,
		Version:   version,
		Interval:  cfg.GetHealthInterval(),
		Publisher: mqttClient,
		Adapter:   adapter,
		Channel:   channel,
	})
	health.SetLogger(log.Component("health", adapterID))
	if pubErr := health.PublishStarting(); pubErr != nil {
		log.Warn("failed to publish starting health", "error", pubErr)
	}
	health.Start(ctx)
	defer health.Stop()

	// HTTP API (optional)
	if cfg.API.Enabled {
		server, apiErr := api.New(api.Deps{
			Config:      cfg.API,
			WS:          cfg.WebSocket,
			Logger:      apiLog,
			Adapter:     adapter,
			Channel:     channel,
			Hub:         hub,
			Engine:      engineStats(supervisor),
			CallTimeout: cfg.GetCallTimeout(),
			Version:     version,
		})
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := server.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
		log.Info("API server started", "host", cfg.API.Host, "port", cfg.API.Port)
	} else {
		log.Info("API server disabled")
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, cleaning up")
	case fatal := <-fatalCh:
		log.Error("strict mode: shutting down after protocol violation", "error", fatal)
		runErr = fmt.Errorf("strict mode: %w", fatal)
	}

	// Deferred calls run in reverse order: API, health (publishes
	// "stopping"), client, engine, adapter, hub, InfluxDB, recorder, database,
	// MQTT, tracing.
	return runErr
}

// newEngineSupervisor builds the supervisor for a locally launched engine.
// The engine is told which adapter and broker to serve through its
// environment; configured entries come last and so take precedence.
func newEngineSupervisor(cfg *config.Config, log *logging.Logger) *engine.Supervisor {
	env := []string{
		"BLEMULATOR_ADAPTER_ID=" + cfg.Adapter.ID,
		"BLEMULATOR_MQTT_HOST=" + cfg.MQTT.Broker.Host,
		fmt.Sprintf("BLEMULATOR_MQTT_PORT=%d", cfg.MQTT.Broker.Port),
	}
	sup := engine.NewSupervisor(engine.Config{
		Command:         cfg.Engine.Command,
		Args:            cfg.Engine.Args,
		Env:             append(env, cfg.Engine.Env...),
		WorkDir:         cfg.Engine.WorkDir,
		Restart:         cfg.Engine.Restart,
		RestartDelay:    time.Duration(cfg.Engine.RestartDelay) * time.Second,
		MaxRestartDelay: time.Duration(cfg.Engine.MaxRestartDelay) * time.Second,
		MaxRestarts:     cfg.Engine.MaxRestarts,
		StopTimeout:     time.Duration(cfg.Engine.StopTimeout) * time.Second,
		OnExit: func(err error) {
			if err != nil {
				log.Warn("simulation engine exited", "error", err)
			}
		},
	})
	sup.SetLogger(log)
	return sup
}

// engineStats avoids handing the API a typed nil.
func engineStats(sup *engine.Supervisor) api.EngineStatsSource {
	if sup == nil {
		return nil
	}
	return sup
}

// openDatabase opens SQLite and applies the embedded migrations.
func openDatabase(ctx context.Context, cfg config.DatabaseConfig) (*database.DB, error) {
	db, err := database.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if _, err := db.Migrate(ctx, migrations.Source); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return db, nil
}

// createClient registers the adapter's client with the engine.
//
// The engine may come up after the adapter, so the reply is not awaited;
// its outcome is only logged. A registration refused synchronously is an
// error.
func createClient(ctx context.Context, adapter *blesim.Adapter, log *logging.Logger) error {
	onState := func(state ble.AdapterState) {
		log.Info("adapter state changed", "state", state)
	}
	err := adapter.CreateClient(ctx, "", onState, func(_ struct{}, err error) {
		if err != nil {
			log.Error("engine rejected client creation", "error", err)
			return
		}
		log.Info("client created")
	})
	if err != nil {
		return fmt.Errorf("creating client: %w", err)
	}
	return nil
}

// destroyClient deregisters the client, waiting briefly for the engine.
func destroyClient(adapter *blesim.Adapter, log *logging.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownStepTimeout)
	defer cancel()

	done := make(chan error, 1)
	if err := adapter.DestroyClient(ctx, func(_ struct{}, err error) { done <- err }); err != nil {
		if !errors.Is(err, blesim.ErrAdapterStopped) {
			log.Warn("failed to destroy client", "error", err)
		}
		return
	}

	select {
	case err := <-done:
		if err != nil {
			log.Warn("engine rejected client destruction", "error", err)
		}
	case <-ctx.Done():
		log.Warn("client destruction not acknowledged", "timeout", shutdownStepTimeout)
	}
}

// healthCheck verifies all infrastructure connections are healthy.
// db and influxClient may be nil when their features are disabled.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if db != nil {
		if err := db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}

	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}
