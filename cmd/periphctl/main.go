// periphctl - network peripheral controller
//
// This is the main entry point for the periphctl daemon. It exposes the
// board's GPIO, analog, I2C, SPI and I2S peripherals as named modules and
// runs authenticated JSON command batches against them over HTTP, WebSocket
// and (optionally) MQTT.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nerrad567/periphctl/internal/api"
	"github.com/nerrad567/periphctl/internal/dispatch"
	"github.com/nerrad567/periphctl/internal/history"
	"github.com/nerrad567/periphctl/internal/infrastructure/config"
	"github.com/nerrad567/periphctl/internal/infrastructure/database"
	"github.com/nerrad567/periphctl/internal/infrastructure/influxdb"
	"github.com/nerrad567/periphctl/internal/infrastructure/logging"
	"github.com/nerrad567/periphctl/internal/infrastructure/mqtt"
	"github.com/nerrad567/periphctl/internal/metrics"
	"github.com/nerrad567/periphctl/internal/remote"
	"github.com/nerrad567/periphctl/internal/settings"
	"github.com/nerrad567/periphctl/internal/telemetry"
	"github.com/nerrad567/periphctl/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// It returns nil on a clean shutdown once ctx is cancelled.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting periphctl",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cfg, err := config.Load(config.Path())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"device_id", cfg.Device.ID,
		"backend", cfg.Hardware.Backend,
	)

	// Database and schema
	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(ctx, migrations.FS); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database ready", "path", db.Path())

	// Settings document, seeded from config on first boot
	store := settings.NewStore(db.DB)
	seed := settings.Settings{
		WiFiSSID:     cfg.Security.WiFi.SSID,
		WiFiPassword: cfg.Security.WiFi.Password,
		APIKey:       cfg.Security.APIKey,
	}
	if err := store.Load(ctx, seed); err != nil {
		return fmt.Errorf("loading settings: %w", err)
	}
	if key, _ := store.APIKey(ctx); key == "" { //nolint:errcheck // store is loaded
		log.Warn("no api_key configured; every command batch will be rejected")
	}

	// Hardware and modules
	hw, err := openHardware(cfg.Hardware)
	if err != nil {
		return err
	}
	defer hw.Close()

	reg, err := bootModules(ctx, cfg, hw, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := reg.DeinitAll(); err != nil {
			log.Warn("deinitialising modules", "error", err)
		}
	}()

	exec := dispatch.NewExecutor(reg,
		dispatch.WithCommandTimeout(cfg.Hardware.CommandTimeout()),
		dispatch.WithSilentUnknownCommands(cfg.Hardware.SilentUnknownCommands),
		dispatch.WithLogger(log.With("component", "executor")),
	)
	dispatcher := dispatch.NewDispatcher(exec, store, log.With("component", "dispatcher"))

	checks := map[string]api.HealthChecker{"database": db}
	stats := map[string]api.StatsFunc{}

	// Observers
	hub := api.NewHub(cfg.WebSocket, log)
	go hub.Run(ctx)
	dispatcher.AddObserver(hub)

	var historyRepo history.Repository
	if cfg.History.Enabled {
		historyRepo = history.NewSQLiteRepository(db.DB)
		recorder := history.NewRecorder(historyRepo,
			history.WithBuffer(cfg.History.Buffer),
			history.WithRetention(cfg.History.Retention()),
			history.WithLogger(log.With("component", "history")),
		)
		recCtx, stopRecorder := context.WithCancel(ctx)
		recorder.Start(recCtx)
		defer func() {
			stopRecorder()
			recorder.Wait()
		}()
		dispatcher.AddObserver(recorder)
		stats["history"] = func() any { return map[string]uint64{"dropped": recorder.Dropped()} }
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New(dispatcher)
		dispatcher.AddObserver(m)
	}

	influxClient, err := connectInfluxDB(cfg, log)
	if err != nil {
		return err
	}
	if influxClient != nil {
		defer influxClient.Close()
		dispatcher.AddObserver(telemetry.NewInflux(influxClient, cfg.Hardware.SampleInterval()))
		checks["influxdb"] = influxClient
	}

	mqttClient, err := connectMQTT(cfg, log)
	if err != nil {
		return err
	}
	if mqttClient != nil {
		defer mqttClient.Close()
		checks["mqtt"] = mqttClient

		channel := remote.NewChannel(mqttClient, dispatcher,
			remote.WithLogger(log.With("component", "remote")),
		)
		if err := channel.Start(ctx); err != nil {
			return fmt.Errorf("starting mqtt command channel: %w", err)
		}
		defer channel.Stop()
		dispatcher.AddObserver(channel)
		stats["mqtt"] = func() any { return channel.Stats() }
	}

	// HTTP API
	deps := api.Deps{
		Config:     cfg.API,
		WS:         cfg.WebSocket,
		Logger:     log,
		Dispatcher: dispatcher,
		Settings:   store,
		History:    historyRepo,
		Checks:     checks,
		Stats:      stats,
		Hub:        hub,
		DeviceID:   cfg.Device.ID,
		Version:    version,
	}
	if m != nil {
		deps.Metrics = m.Handler()
		deps.MetricsPath = cfg.Metrics.Path
	}
	srv, err := api.New(deps)
	if err != nil {
		return fmt.Errorf("creating api server: %w", err)
	}
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("starting api server: %w", err)
	}
	defer srv.Close()

	log.Info("periphctl started",
		"address", srv.Addr(),
		"modules", reg.Len(),
	)

	<-ctx.Done()
	log.Info("shutting down")

	return nil
}

// connectInfluxDB returns nil when InfluxDB is disabled. A configured but
// unreachable server is logged and skipped; telemetry is not worth refusing
// to boot over.
func connectInfluxDB(cfg *config.Config, log *logging.Logger) (*influxdb.Client, error) {
	if !cfg.InfluxDB.Enabled {
		return nil, nil
	}
	client, err := influxdb.Connect(cfg.InfluxDB, cfg.Device.ID)
	if err != nil {
		log.Warn("influxdb unavailable, telemetry disabled", "url", cfg.InfluxDB.URL, "error", err)
		return nil, nil
	}
	client.SetOnError(func(err error) {
		log.Warn("influxdb write failed", "error", err)
	})
	log.Info("influxdb connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	return client, nil
}

// connectMQTT returns nil when MQTT is disabled. Unlike InfluxDB, a broker
// that was asked for and cannot be reached is a boot failure.
func connectMQTT(cfg *config.Config, log *logging.Logger) (*mqtt.Client, error) {
	if !cfg.MQTT.Enabled {
		return nil, nil
	}
	client, err := mqtt.Connect(cfg.MQTT, cfg.Device.ID)
	if err != nil {
		return nil, fmt.Errorf("connecting to mqtt: %w", err)
	}
	client.SetLogger(log)
	client.SetOnDisconnect(func(err error) {
		log.Warn("mqtt connection lost", "error", err)
	})
	client.SetOnConnect(func() {
		log.Info("mqtt connected")
	})
	log.Info("mqtt connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"base_topic", client.Topics().Base(),
	)
	return client, nil
}
