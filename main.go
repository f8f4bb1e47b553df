// Command kick-chat-monitor watches a mirrored Kick chat page and runs user-configured
// triggers against every new message.
// It:
//   - Loads configuration and initializes structured logging.
//   - Opens the config store: Postgres with versioned migrations and LISTEN/NOTIFY when
//     DB_DSN is set, otherwise an in-memory store.
//   - Starts the event loop, the page bridge, the notification relay and the monitor core.
//   - Exposes the HTTP API with /healthz, /readyz, /status, /metrics, trigger management
//     and the /bridge WebSocket endpoint.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/onnwee/kick-chat-monitor/action"
	"github.com/onnwee/kick-chat-monitor/bridge"
	"github.com/onnwee/kick-chat-monitor/chat"
	"github.com/onnwee/kick-chat-monitor/config"
	"github.com/onnwee/kick-chat-monitor/db"
	"github.com/onnwee/kick-chat-monitor/dom"
	"github.com/onnwee/kick-chat-monitor/loop"
	"github.com/onnwee/kick-chat-monitor/monitor"
	"github.com/onnwee/kick-chat-monitor/relay"
	"github.com/onnwee/kick-chat-monitor/server"
	"github.com/onnwee/kick-chat-monitor/telemetry"
)

var version = "dev"

func setupLogging() {
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", map[bool]string{true: "json", false: "text"}[format == "json"]))
}

// openStore returns the configured store and a release function.
func openStore(ctx context.Context, cfg *config.Config) (db.ConfigStore, func(), error) {
	if cfg.DBDsn == "" {
		slog.Info("DB_DSN not set, configuration is kept in memory", slog.String("component", "db"))
		return db.NewMemoryStore(), func() {}, nil
	}
	database, err := db.Connect(cfg.DBDsn)
	if err != nil {
		return nil, nil, err
	}

	slog.Info("running database migrations", slog.String("component", "db_migrate"))
	if err := db.RunMigrations(database); err != nil {
		slog.Warn("versioned migrations failed, attempting fallback to embedded SQL",
			slog.Any("err", err),
			slog.String("component", "db_migrate"))
		if err := db.Migrate(ctx, database); err != nil {
			_ = database.Close()
			return nil, nil, err
		}
	}

	store := db.NewPGStore(database, cfg.DBDsn)
	go store.Watch(ctx)
	return store, func() {
		if err := database.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}, nil
}

// notificationSinks returns the configured sinks beyond the log and the page.
func notificationSinks(cfg *config.Config) (sinks []relay.Sink, closers []func()) {
	if cfg.NotifyWebhookURL != "" {
		sinks = append(sinks, &relay.WebhookSink{URL: cfg.NotifyWebhookURL, Token: cfg.NotifyWebhookToken})
	}
	if cfg.NATSURL != "" {
		ns, err := relay.DialNATS(cfg.NATSURL, cfg.NATSSubject)
		if err != nil {
			slog.Warn("nats sink disabled", slog.Any("err", err))
		} else {
			sinks = append(sinks, ns)
			closers = append(closers, func() { _ = ns.Close() })
		}
	}
	return sinks, closers
}

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load()

	setupLogging()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	telemetry.Init()

	shutdown, err := telemetry.InitTracing("kick-chat-monitor", version, cfg.OTLPEndpoint)
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		slog.Error("failed to open config store", slog.Any("err", err))
		os.Exit(1)
	}
	defer closeStore()

	l := loop.New()
	go l.Run(ctx)

	doc := dom.NewDocument()
	hub := bridge.NewHub(doc, bridge.Options{Token: cfg.BridgeToken, PingInterval: 30 * time.Second})
	go hub.Run(ctx)
	defer hub.Close()

	extra, closers := notificationSinks(cfg)
	for _, c := range closers {
		defer c()
	}
	notifier := relay.New(relay.Options{RatePerMinute: cfg.NotifyRatePerMinute}, append([]relay.Sink{relay.LogSink{}, hub}, extra...)...)
	go notifier.Run(ctx)

	selectors := chat.DefaultSelectors()
	selectors.Container = cfg.ContainerSelectors()
	selectors.Entry = cfg.EntrySelector

	mon := monitor.New(store, doc, l, monitor.Options{
		Selectors:      selectors,
		HealthInterval: cfg.HealthCheckInterval,
		Actions: action.Deps{
			Notifier:       notifier,
			Audio:          hub,
			Tone:           action.Tone{FrequencyHz: cfg.ToneFrequencyHz, Duration: cfg.ToneDuration},
			InputSelectors: cfg.InputSelectors(),
			SendSelectors:  action.DefaultSendSelectors,
		},
	})
	go func() {
		if err := mon.Run(ctx); err != nil {
			slog.Error("monitor exited with error", slog.Any("err", err))
			stop()
		}
	}()

	// Enable pprof profiling endpoints in debug mode (ENABLE_PPROF=1)
	if cfg.EnablePprof {
		pprofAddr := os.Getenv("PPROF_ADDR")
		if pprofAddr == "" {
			pprofAddr = "localhost:6060"
		}
		go func() {
			slog.Info("pprof profiling enabled", slog.String("addr", pprofAddr))
			srv := &http.Server{
				Addr:              pprofAddr,
				Handler:           nil, // default mux exposes /debug/pprof
				ReadHeaderTimeout: 5 * time.Second,
				ReadTimeout:       10 * time.Second,
				WriteTimeout:      10 * time.Second,
				IdleTimeout:       60 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil {
				slog.Error("pprof server error", slog.Any("err", err))
			}
		}()
	}

	handler := server.NewMux(ctx, server.Deps{Config: cfg, Store: store, Monitor: mon, Bridge: hub})
	go func() {
		if err := server.Start(ctx, handler, cfg.HTTPAddr); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
			stop()
		}
	}()
	slog.Info("kick-chat-monitor started", slog.String("addr", cfg.HTTPAddr), slog.String("version", version))

	<-ctx.Done()
	slog.Info("shutting down")
	<-l.Done()
}
