package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Aquahulk/HealTara-sub003/libs/auth"
	"github.com/Aquahulk/HealTara-sub003/libs/config"
	"github.com/Aquahulk/HealTara-sub003/libs/db"
	"github.com/Aquahulk/HealTara-sub003/libs/events"
	"github.com/Aquahulk/HealTara-sub003/libs/httpx"
	"github.com/Aquahulk/HealTara-sub003/libs/kafkax"
	"github.com/Aquahulk/HealTara-sub003/libs/metrics"
	otelx "github.com/Aquahulk/HealTara-sub003/libs/otel"
	"github.com/Aquahulk/HealTara-sub003/libs/runtime"
	"github.com/Aquahulk/HealTara-sub003/services/scheduling-service/internal/booking"
	"github.com/Aquahulk/HealTara-sub003/services/scheduling-service/internal/cache"
	"github.com/Aquahulk/HealTara-sub003/services/scheduling-service/internal/consumer"
	"github.com/Aquahulk/HealTara-sub003/services/scheduling-service/internal/directory"
	"github.com/Aquahulk/HealTara-sub003/services/scheduling-service/internal/handlers"
	"github.com/Aquahulk/HealTara-sub003/services/scheduling-service/internal/inbox"
	"github.com/Aquahulk/HealTara-sub003/services/scheduling-service/internal/model"
	"github.com/Aquahulk/HealTara-sub003/services/scheduling-service/internal/outbox"
	"github.com/Aquahulk/HealTara-sub003/services/scheduling-service/internal/storage"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	config.LoadDotenv()

	service := config.String("SERVICE_NAME", "scheduling-service")
	port, err := config.Port("PORT", "8091")
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

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	jwtSecret, err := config.RequiredString("JWT_SECRET")
	if err != nil {
		panic(err)
	}

	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	// Redis carries the realtime bus, the availability cache and the rate
	// limiter. Without it the service still works on a single instance.
	var rdb *redis.Client
	if addr := config.String("REDIS_ADDR", ""); addr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: addr})
		defer func() { _ = rdb.Close() }()
	}

	var bus events.Bus
	if rdb != nil {
		bus = events.NewRedisBus(rdb, logger)
	} else {
		logger.Warn("REDIS_ADDR not set; realtime events stay in-process")
		bus = events.NewLocalBus()
	}

	availCache := cache.New(rdb, config.Duration("AVAILABILITY_CACHE_TTL", 3*time.Second))

	apptRepo := storage.NewAppointmentRepository(pool)
	scheduleRepo := storage.NewScheduleRepository(pool)
	outboxRepo := outbox.NewRepository(pool)

	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   config.String("KAFKA_BROKERS", ""),
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	directoryProvider, err := directory.NewProvider(config.String("DIRECTORY_GRPC_ADDR", ""))
	if err != nil {
		logger.Error("directory provider init failed; using local schedules", "err", err)
		directoryProvider = nil
	}

	inboxRepo := inbox.NewRepository(pool)
	scheduleConsumer := consumer.New(logger, inboxRepo, consumer.Config{
		Brokers: config.String("KAFKA_BROKERS", ""),
		GroupID: config.String("KAFKA_GROUP_ID", "scheduling-service"),
		Topic:   config.String("KAFKA_CONSUME_TOPIC", "directory.doctor-schedule.updated.v1"),
	}, scheduleProjection(pool, scheduleRepo, availCache, logger))
	go scheduleConsumer.Run(ctx)

	coord := booking.NewCoordinator(apptRepo, scheduleRepo, outboxRepo, bus, availCache, directoryProvider, logger)
	apptHandler := handlers.NewAppointmentHandler(coord, logger)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(config.String("KAFKA_BROKERS", ""))},
	)
	mux.Handle("/metrics", metrics.Handler())

	requireAuth := handlers.RequireAuth(auth.NewVerifier(jwtSecret, config.String("AUTH_JWKS_URL", "")))
	mux.HandleFunc("GET /api/v1/availability", apptHandler.Availability)
	mux.Handle("POST /api/v1/appointments", requireAuth(http.HandlerFunc(apptHandler.Create)))
	mux.Handle("GET /api/v1/appointments", requireAuth(http.HandlerFunc(apptHandler.List)))
	mux.Handle("PATCH /api/v1/appointments/{id}", requireAuth(http.HandlerFunc(apptHandler.Update)))
	mux.Handle("POST /api/v1/appointments/{id}/cancel", requireAuth(http.HandlerFunc(apptHandler.Cancel)))

	limiter := rateLimiter(rdb, logger)
	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins: parseList(config.String("CORS_ALLOWED_ORIGINS", "")),
			AllowedMethods: []string{"GET", "POST", "PATCH", "OPTIONS"},
			AllowedHeaders: []string{"Authorization", "Content-Type", "Idempotency-Key"},
			MaxAge:         10 * time.Minute,
		}),
		limiter,
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "scheduling")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
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

func parseList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func rateLimiter(rdb *redis.Client, logger *slog.Logger) httpx.Middleware {
	limit := config.Int("RATE_LIMIT_PER_MINUTE", 120)
	if rdb != nil {
		return httpx.NewRedisRateLimiter(rdb, limit, time.Minute, "scheduling").Middleware(logger, true)
	}
	return httpx.NewRateLimiter(limit, time.Minute).Middleware()
}

// scheduleProjection applies directory schedule events to the local working
// hours tables so availability reads never call out of process.
func scheduleProjection(pool *db.Pool, repo *storage.ScheduleRepository, availCache *cache.AvailabilityCache, logger *slog.Logger) consumer.Handler {
	type windowPayload struct {
		DayOfWeek int    `json:"day_of_week"`
		Start     string `json:"start"`
		End       string `json:"end"`
	}
	type schedulePayload struct {
		DoctorID          string          `json:"doctor_id"`
		HospitalID        string          `json:"hospital_id"`
		Windows           []windowPayload `json:"windows"`
		SlotPeriodMinutes int             `json:"slot_period_minutes"`
	}

	return func(ctx context.Context, msg kafka.Message) error {
		var payload schedulePayload
		if err := json.Unmarshal(msg.Value, &payload); err != nil {
			logger.Error("invalid schedule event", "err", err, "topic", msg.Topic)
			return nil
		}
		if payload.DoctorID == "" {
			logger.Error("schedule event missing doctor_id", "topic", msg.Topic)
			return nil
		}

		hours := make([]model.WorkingHours, 0, len(payload.Windows))
		for _, w := range payload.Windows {
			if w.DayOfWeek < 0 || w.DayOfWeek > 6 || w.Start == "" || w.End == "" {
				logger.Warn("skipping malformed schedule window", "doctor_id", payload.DoctorID)
				continue
			}
			hours = append(hours, model.WorkingHours{
				DoctorID:  payload.DoctorID,
				DayOfWeek: w.DayOfWeek,
				StartTime: w.Start,
				EndTime:   w.End,
			})
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback(ctx) }()

		if err := repo.ReplaceWorkingHours(ctx, tx, payload.DoctorID, hours); err != nil {
			return err
		}
		if payload.SlotPeriodMinutes > 0 {
			if err := repo.UpsertSlotPeriod(ctx, tx, model.SlotPeriod{
				DoctorID:   payload.DoctorID,
				HospitalID: payload.HospitalID,
				Minutes:    payload.SlotPeriodMinutes,
			}); err != nil {
				return err
			}
		}
		if payload.HospitalID != "" {
			if err := repo.UpsertHospitalDoctor(ctx, tx, payload.HospitalID, payload.DoctorID); err != nil {
				return err
			}
		}
		if err := tx.Commit(ctx); err != nil {
			return err
		}

		// Cached views computed under the old schedule are now wrong for
		// every date; drop them all.
		availCache.InvalidateDoctor(ctx, payload.DoctorID)
		return nil
	}
}
