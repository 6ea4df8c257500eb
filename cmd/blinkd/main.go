package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/blinkwatch/blinkwatch/internal/aggstore"
	"github.com/blinkwatch/blinkwatch/internal/api"
	"github.com/blinkwatch/blinkwatch/internal/config"
	"github.com/blinkwatch/blinkwatch/internal/health"
	"github.com/blinkwatch/blinkwatch/internal/hub"
	"github.com/blinkwatch/blinkwatch/internal/logger"
	"github.com/blinkwatch/blinkwatch/internal/notify"
	"github.com/blinkwatch/blinkwatch/internal/pipeline"
)

const shutdownTimeout = 5 * time.Second

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	envFile := flag.String("env", ".env", "optional dotenv file with secrets; missing files are ignored")
	flag.Parse()

	envErr := godotenv.Load(*envFile)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "blinkd: failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Format, "blinkd")
	if err != nil {
		fmt.Fprintf(os.Stderr, "blinkd: failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync() //nolint:errcheck

	if envErr != nil && !errors.Is(envErr, os.ErrNotExist) {
		log.Warn("failed to read env file", zap.String("path", *envFile), zap.Error(envErr))
	}

	log.Info("blinkd starting",
		zap.String("config", *configPath),
		zap.String("http_addr", cfg.Server.HTTPAddr),
		zap.String("grpc_addr", cfg.Server.GRPCAddr),
		zap.String("store", cfg.Store.Backend),
		zap.String("auth_mode", cfg.Server.Auth.Mode),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Aggregate store with a buffered writer in front of it.
	backend, err := openStore(ctx, cfg.Store, log)
	if err != nil {
		log.Error("failed to open aggregate store", zap.String("backend", cfg.Store.Backend), zap.Error(err))
		os.Exit(1)
	}
	defer backend.Close() //nolint:errcheck

	records := aggstore.NewAsync(backend, cfg.Store.BufferSize, log.Named("aggstore"))
	records.SetEnabled(cfg.Store.Enabled)
	go records.Run(ctx)

	sink, closeSinks := buildSinks(cfg.Notify, log)
	defer closeSinks()

	settings, err := cfg.Trigger.Settings()
	if err != nil {
		log.Error("invalid trigger settings", zap.Error(err))
		os.Exit(1)
	}
	mon := pipeline.New(pipeline.Options{
		Analyzer:          cfg.Detection.AnalyzerOptions(),
		Blink:             cfg.Detection.BlinkOptions(),
		Trigger:           settings,
		HistoryCapacity:   cfg.Detection.HistoryCapacity,
		EvaluateInterval:  cfg.Trigger.EvaluateInterval,
		CalibrationWindow: cfg.Detection.CalibrationWindow,
	}, sink, log.Named("pipeline"), pipeline.WithRecorder(records))
	go mon.Run(ctx)

	// WebSocket hub: periodic stats plus every blink and alert.
	wsHub := hub.New(mon.Stats, cfg.Server.BroadcastInterval, log.Named("hub"))
	go wsHub.Run(ctx)
	go forwardEvents(ctx, mon, wsHub)

	// Hot reload swaps trigger settings and the store toggle. Detection and
	// listener changes need a restart.
	go func() {
		err := config.Watch(ctx, *configPath, log.Named("config"), func(updated *config.Config) {
			s, err := updated.Trigger.Settings()
			if err != nil {
				log.Warn("reloaded trigger settings rejected", zap.Error(err))
				return
			}
			mon.UpdateSettings(s)
			records.SetEnabled(updated.Store.Enabled)
			log.Info("config hot-reloaded", zap.String("mode", string(s.Mode)))
		})
		if err != nil {
			log.Error("config watcher stopped", zap.Error(err))
		}
	}()

	var grpcSrv *health.Server
	if cfg.Server.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
		if err != nil {
			log.Error("failed to listen on gRPC address", zap.String("addr", cfg.Server.GRPCAddr), zap.Error(err))
			os.Exit(1)
		}
		grpcSrv = health.New(health.Options{
			AuthMode:   cfg.Server.Auth.Mode,
			AuthHeader: cfg.Server.Auth.Header,
			AuthKey:    cfg.Server.Auth.Key(),
		}, log.Named("health"))
		go func() {
			log.Info("gRPC health listening", zap.String("addr", cfg.Server.GRPCAddr))
			if err := grpcSrv.Serve(lis); err != nil {
				log.Error("gRPC server stopped", zap.Error(err))
			}
		}()
	}

	gin.SetMode(gin.ReleaseMode)
	httpSrv := &http.Server{
		Addr: cfg.Server.HTTPAddr,
		Handler: api.New(api.Deps{
			Monitor: mon,
			Store:   records,
			Hub:     wsHub,
			Auth:    cfg.Server.Auth,
			Log:     log.Named("api"),
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info("HTTP server listening", zap.String("addr", cfg.Server.HTTPAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server stopped", zap.Error(err))
			cancel()
		}
	}()

	if grpcSrv != nil {
		grpcSrv.SetServing(true)
	}

	<-ctx.Done()
	log.Info("blinkd shutting down")

	if grpcSrv != nil {
		grpcSrv.Stop()
	}
	shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
	defer done()
	httpSrv.Shutdown(shutdownCtx) //nolint:errcheck
	if n := records.Flush(shutdownCtx); n > 0 {
		log.Warn("aggregate records lost on shutdown", zap.Int("count", n))
	}
}

// openStore connects the configured aggregate backend.
func openStore(ctx context.Context, sc config.StoreConfig, log *zap.Logger) (aggstore.Store, error) {
	switch sc.Backend {
	case "redis":
		return aggstore.DialRedis(ctx, sc.Redis.Addr, sc.Redis.Password(), sc.Redis.DB, sc.Redis.KeyPrefix)
	case "postgres":
		pg, err := aggstore.OpenPostgres(ctx, sc.Postgres.DSN())
		if err != nil {
			return nil, err
		}
		if err := pg.Migrate(ctx); err != nil {
			pg.Close() //nolint:errcheck
			return nil, fmt.Errorf("migrate: %w", err)
		}
		return pg, nil
	default:
		log.Info("using in-memory aggregate store")
		return aggstore.NewMemory(), nil
	}
}

// buildSinks assembles alert delivery. Alerts are always logged; a target
// that cannot be built is skipped with an error log.
func buildSinks(nc config.NotifyConfig, log *zap.Logger) (notify.Sink, func()) {
	sinks := []notify.Sink{notify.NewLog(log.Named("alerts"))}
	closers := []func(){}

	for _, w := range nc.Webhooks {
		s, err := notify.NewWebhook(w.Type, w.URL(), log.Named("webhook"))
		if err != nil {
			log.Error("skipping webhook", zap.String("type", w.Type), zap.Error(err))
			continue
		}
		sinks = append(sinks, s)
	}

	if nc.MQTT.Broker != "" {
		m, err := notify.DialMQTT(nc.MQTT.Broker, nc.MQTT.ClientID, nc.MQTT.Username,
			nc.MQTT.Password(), nc.MQTT.Topic, log.Named("mqtt"))
		if err != nil {
			log.Error("skipping mqtt", zap.String("broker", nc.MQTT.Broker), zap.Error(err))
		} else {
			sinks = append(sinks, m)
			closers = append(closers, m.Close)
		}
	}

	return notify.NewMulti(log, sinks...), func() {
		for _, c := range closers {
			c()
		}
	}
}

// forwardEvents relays monitor events to WebSocket clients until ctx ends.
func forwardEvents(ctx context.Context, mon *pipeline.Monitor, h *hub.Hub) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-mon.Events():
			switch ev.Kind {
			case pipeline.EventBlink:
				h.Publish(hub.EventBlink, ev.Blink)
			case pipeline.EventAlert:
				h.Publish(hub.EventAlert, ev.Decision)
			}
		}
	}
}
