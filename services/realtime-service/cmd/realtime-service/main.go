package main

import (
	"context"
	"net/http"
	"time"

	"github.com/Aquahulk/HealTara-sub003/libs/config"
	"github.com/Aquahulk/HealTara-sub003/libs/events"
	"github.com/Aquahulk/HealTara-sub003/libs/httpx"
	"github.com/Aquahulk/HealTara-sub003/libs/metrics"
	otelx "github.com/Aquahulk/HealTara-sub003/libs/otel"
	"github.com/Aquahulk/HealTara-sub003/libs/runtime"
	"github.com/Aquahulk/HealTara-sub003/services/realtime-service/internal/handlers"
	"github.com/Aquahulk/HealTara-sub003/services/realtime-service/internal/hub"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	config.LoadDotenv()

	service := config.String("SERVICE_NAME", "realtime-service")
	port, err := config.Port("PORT", "8092")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	// Without Redis each replica only sees its own publishes, so a single
	// instance colocated with the scheduling service is still coherent.
	var bus events.Bus
	var rdb *redis.Client
	if addr := config.String("REDIS_ADDR", ""); addr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: addr})
		defer func() { _ = rdb.Close() }()
		bus = events.NewRedisBus(rdb, logger)
	} else {
		logger.Warn("REDIS_ADDR not set; serving in-process events only")
		bus = events.NewLocalBus()
	}
	defer func() { _ = bus.Close() }()

	roomHub := hub.New(bus)
	wsHandler := handlers.NewWSHandler(roomHub, logger)
	sseHandler := handlers.NewSSEHandler(roomHub, logger)

	checks := []runtime.ReadyCheck{}
	if rdb != nil {
		checks = append(checks, runtime.ReadyCheck{Name: "redis", Check: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
	}
	mux := runtime.NewBaseMuxWithReady(checks...)
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("GET /ws", wsHandler.Serve)
	mux.HandleFunc("GET /stream", sseHandler.Serve)

	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "realtime")
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: httpHandler,
		// No write timeouts: ws and sse connections are long-lived.
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}
