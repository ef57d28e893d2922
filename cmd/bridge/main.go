package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/CyberwizD/Distributed-Notification-System/services/webshell_bridge/internal/config"
	"github.com/CyberwizD/Distributed-Notification-System/services/webshell_bridge/internal/consumer"
	"github.com/CyberwizD/Distributed-Notification-System/services/webshell_bridge/internal/mainloop"
	"github.com/CyberwizD/Distributed-Notification-System/services/webshell_bridge/internal/repository"
	"github.com/CyberwizD/Distributed-Notification-System/services/webshell_bridge/internal/routes"
	"github.com/CyberwizD/Distributed-Notification-System/services/webshell_bridge/internal/services"
	"github.com/CyberwizD/Distributed-Notification-System/services/webshell_bridge/internal/webview"
	"github.com/CyberwizD/Distributed-Notification-System/services/webshell_bridge/internal/webview/jsruntime"
	"github.com/CyberwizD/Distributed-Notification-System/services/webshell_bridge/internal/webview/remote"
	"github.com/CyberwizD/Distributed-Notification-System/services/webshell_bridge/pkg/logger"
	"github.com/CyberwizD/Distributed-Notification-System/services/webshell_bridge/pkg/metrics"
	"github.com/CyberwizD/Distributed-Notification-System/services/webshell_bridge/pkg/retry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logr := logger.New(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logr)

	if err := run(cfg, logr); err != nil {
		logr.Error("webshell bridge failed", slog.Any("error", err))
		os.Exit(1)
	}
	logr.Info("webshell bridge stopped")
}

// run wires every component and blocks until a shutdown signal or a
// consumer failure. Resources opened here are released before it returns.
func run(cfg *config.Config, logr *slog.Logger) error {
	logr.Info("starting webshell bridge",
		slog.String("app", cfg.AppName),
		slog.String("surface_mode", cfg.SurfaceMode),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metricsCollector := metrics.New()
	loop := mainloop.NewLooper(logr)
	shell := webview.NewShell()
	shell.OnAttachChange(metricsCollector.SetBridgeAttached)

	var statusWriter services.StatusWriter
	if cfg.DatabaseURL != "" {
		db, err := repository.OpenPostgres(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		store, err := repository.NewStatusStore(db, cfg.StatusTable)
		if err != nil {
			return err
		}
		statusWriter = store
	} else {
		logr.Info("DATABASE_URL not set, delivery statuses are not persisted")
	}
	statusUpdater := services.NewStatusUpdater(statusWriter, cfg.StatusWriteTimeout, logr)
	defer statusUpdater.Close()

	var tokenCache services.TokenCache
	if cfg.RedisURL != "" {
		rdb, err := repository.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		cache := repository.NewTokenCache(rdb, cfg.AppName, cfg.TokenTTL)
		defer cache.Close()
		tokenCache = cache
	}

	policy := services.DeliveryPolicy{
		BridgeRetryDelay:   cfg.BridgeRetryDelay,
		SurfaceRetryDelay:  cfg.SurfaceRetryDelay,
		SurfaceMaxAttempts: cfg.SurfaceMaxAttempts,
	}
	agent := services.NewTokenDeliveryAgent(shell, loop, policy, cfg.Platform, statusUpdater, metricsCollector, logr)
	forwarder := services.NewMessageForwarder(shell, loop, cfg.ForwardDataOnly, metricsCollector, logr)
	messaging := services.NewMessagingService(agent, forwarder, tokenCache, logr)
	shell.OnReady(agent.Resume)

	conn, err := consumer.Dial(ctx, cfg.RabbitURL, retry.Config{
		MaxAttempts:    cfg.ConnectMaxAttempts,
		InitialBackoff: cfg.ConnectBackoff,
		MaxBackoff:     cfg.ConnectMaxBackoff,
		JitterFactor:   0.2,
	}, logr)
	if err != nil {
		return err
	}
	defer conn.Close()

	base := consumer.NewBaseConsumer(conn, consumer.Topology{
		Exchange:   cfg.PushExchange,
		RoutingKey: cfg.PushRoutingKey,
		Queue:      cfg.PushQueue,
		DLQ:        cfg.DeadLetterQueue,
	}, cfg.PrefetchCount, cfg.WorkerCount, logr)
	pushConsumer := consumer.NewPushEventConsumer(base, messaging, metricsCollector, logr)

	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		loop.Run(ctx)
	}()
	defer func() {
		stop()
		<-loopDone
	}()

	var bridgeHandler http.Handler
	switch cfg.SurfaceMode {
	case config.SurfaceRemote:
		server := remote.NewServer(shell, loop, remote.Config{
			EvaluateTimeout: cfg.EvaluateTimeout,
			AllowedOrigins:  cfg.AllowedOrigins,
		}, logr)
		defer server.Close()
		bridgeHandler = server
	default:
		if err := startEmbedded(cfg, shell, loop, logr); err != nil {
			return fmt.Errorf("start embedded surface: %w", err)
		}
	}

	httpSrv := startHTTPServer(cfg.HTTPPort, routes.NewRouter(metricsCollector, time.Now(), agent, shell, bridgeHandler), logr)
	defer shutdownHTTP(httpSrv, logr)

	messaging.Bootstrap(ctx)

	if err := pushConsumer.Start(ctx); err != nil {
		return fmt.Errorf("push consumer: %w", err)
	}
	return nil
}

// startEmbedded attaches a goja runtime as the bridge and loads the web
// bundle on the main loop, announcing readiness once it has run.
func startEmbedded(cfg *config.Config, shell *webview.Shell, loop mainloop.Scheduler, logr *slog.Logger) error {
	rt, err := jsruntime.New(cfg.EvaluateTimeout, logr)
	if err != nil {
		return err
	}
	shell.Attach(rt)

	loop.Post(func() {
		if err := rt.LoadFile(cfg.WebBundlePath); err != nil {
			logr.Error("failed to load web bundle", slog.String("path", cfg.WebBundlePath), slog.Any("error", err))
			return
		}
		logr.Info("web bundle loaded", slog.String("path", cfg.WebBundlePath))
		shell.NotifyReady()
	})
	return nil
}

func startHTTPServer(port string, handler http.Handler, logr *slog.Logger) *http.Server {
	if port == "" {
		port = "8082"
	}
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: handler,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Error("http server error", slog.Any("error", err))
		}
	}()
	return srv
}

func shutdownHTTP(srv *http.Server, logr *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logr.Error("failed to shutdown http server", slog.Any("error", err))
	}
}
