package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"kestrel-chat-server/config"
	"kestrel-chat-server/domain"
	"kestrel-chat-server/hub"
	"kestrel-chat-server/presence"
	"kestrel-chat-server/protocol"
	"kestrel-chat-server/registry"
	"kestrel-chat-server/router"
	"kestrel-chat-server/telemetry"
	ws "kestrel-chat-server/websocket"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Warn("no .env file found, using environment variables")
	}
	setupLogger()

	configPath := flag.String("config", "config.yaml", "path to the config file")
	flag.Parse()

	cfg, watchable, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load config", "path", *configPath, "error", err)
		os.Exit(1)
	}

	if port := os.Getenv("PORT"); port != "" {
		cfg.Listen = ":" + port
	}

	shutdownMetrics, err := telemetry.Init(context.Background())
	if err != nil {
		slog.Error("failed to initialize telemetry", "error", err)
		os.Exit(1)
	}

	reg := registry.New()
	h := hub.New()
	pm := presence.New(reg, h, time.Duration(cfg.GracePeriod))
	rt := router.New(reg, h)
	ty := presence.NewTypingRelay(reg, h)
	events := protocol.NewHandler(pm, rt, ty)
	wsHandler := ws.NewHandler(h, events, cfg.AllowedOrigins, connLimits(cfg))

	registerGauges(h)

	watchCtx, stopWatch := context.WithCancel(context.Background())
	defer stopWatch()
	if watchable {
		go func() {
			err := config.Watch(watchCtx, *configPath, func(next *config.Config) {
				wsHandler.SetOrigins(next.AllowedOrigins)
				wsHandler.SetLimits(connLimits(next))
			})
			if err != nil {
				slog.Error("config watcher failed", "error", err)
			}
		}()
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", wsHandler)
	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/stats", statsHandler(h, reg))
	mux.HandleFunc("/roster", rosterHandler(reg))

	server := &http.Server{
		Addr:    cfg.Listen,
		Handler: mux,
	}

	go func() {
		slog.Info("server starting", "addr", cfg.Listen, "grace_period", cfg.GracePeriod.String())
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("server shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
	h.CloseAll()

	if err := shutdownMetrics(ctx); err != nil {
		slog.Error("telemetry shutdown error", "error", err)
	}
}

// loadConfig falls back to defaults when the file at path does not exist.
// The second return reports whether the file is there to be watched.
func loadConfig(path string) (*config.Config, bool, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		slog.Warn("config file not found, using defaults", "path", path)
		return config.Default(), false, nil
	}
	return nil, false, err
}

func connLimits(cfg *config.Config) ws.ConnLimits {
	return ws.ConnLimits{
		MaxMessageSize: cfg.MaxMessageSize,
		SendBuffer:     cfg.SendBuffer,
		RateBurst:      cfg.RateLimit.Burst,
		RateInterval:   time.Duration(cfg.RateLimit.RefillInterval),
	}
}

func setupLogger() {
	level := slog.LevelInfo
	switch os.Getenv("LOG_LEVEL") {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})))
}

func registerGauges(h *hub.Hub) {
	meter := otel.Meter("kestrel-chat-server")
	gauge, err := meter.Int64ObservableGauge("chat_connected_clients",
		metric.WithDescription("Live WebSocket connections"))
	if err != nil {
		slog.Warn("failed to create gauge", "error", err)
		return
	}
	_, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(gauge, int64(h.Count()))
		return nil
	}, gauge)
	if err != nil {
		slog.Warn("failed to register gauge callback", "error", err)
	}
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func statsHandler(h *hub.Hub, reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]int{
			"clients":   h.Count(),
			"presences": reg.Len(),
		})
	}
}

func rosterHandler(reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := reg.Snapshot()
		roster := make([]domain.RosterEntry, 0, len(snap))
		for _, e := range snap {
			roster = append(roster, domain.RosterEntry{
				Identity:    e.ID,
				DisplayName: e.Record.DisplayName,
				Status:      e.Record.Status,
			})
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(roster)
	}
}
