package main

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/pracsuite/pracsuite/libs/config"
	"github.com/pracsuite/pracsuite/libs/db"
	"github.com/pracsuite/pracsuite/libs/httpx"
	"github.com/pracsuite/pracsuite/libs/kafkax"
	otelx "github.com/pracsuite/pracsuite/libs/otel"
	"github.com/pracsuite/pracsuite/libs/runtime"
	"github.com/pracsuite/pracsuite/services/scheduling-service/internal/consumer"
	"github.com/pracsuite/pracsuite/services/scheduling-service/internal/directory"
	"github.com/pracsuite/pracsuite/services/scheduling-service/internal/generator"
	"github.com/pracsuite/pracsuite/services/scheduling-service/internal/handlers"
	"github.com/pracsuite/pracsuite/services/scheduling-service/internal/holds"
	"github.com/pracsuite/pracsuite/services/scheduling-service/internal/inbox"
	"github.com/pracsuite/pracsuite/services/scheduling-service/internal/outbox"
	"github.com/pracsuite/pracsuite/services/scheduling-service/internal/storage"
)

func main() {
	service := config.String("SERVICE_NAME", "scheduling-service")
	port, err := config.Port("PORT", "8084")
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
	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr: config.String("REDIS_ADDR", "localhost:6379"),
	})
	defer func() { _ = rdb.Close() }()

	dirRepo := storage.NewDirectoryRepository(pool)
	ruleRepo := storage.NewRuleRepository(pool)
	outboxRepo := outbox.NewRepository(pool)
	holdRepo := storage.NewHoldRepository(pool, outboxRepo)
	store := storage.NewScheduleStore(pool, dirRepo, ruleRepo, outboxRepo, holdRepo)

	platform, err := directory.NewProvider(config.String("DIRECTORY_GRPC_ADDR", ""))
	if err != nil {
		logger.Error("directory provider init failed; using local mirror", "err", err)
		platform = nil
	}
	settings := &directory.Settings{Platform: platform, Fallback: dirRepo}

	brokers := config.String("KAFKA_BROKERS", "")
	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   brokers,
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	if strings.TrimSpace(brokers) != "" {
		inboxRepo := inbox.NewRepository(pool)
		syncConsumer := consumer.New(logger, inboxRepo, consumer.Config{
			Brokers: brokers,
			GroupID: config.String("KAFKA_GROUP_ID", "scheduling-service"),
			Topics:  directory.Topics(),
		}, directory.NewSyncHandler(logger, dirRepo))
		go syncConsumer.Run(ctx)
	}

	reclaim := holds.NewReclaimWorker(holdRepo, logger,
		config.Duration("HOLD_RECLAIM_EVERY", time.Minute),
		config.Duration("HOLD_RECLAIM_GRACE", time.Hour))
	go reclaim.Run(ctx)

	gen := generator.New(store, generator.NewRedisLocker(rdb, logger), logger)
	holdMgr := holds.NewManager(holdRepo, settings, logger)

	scheduleHandler := handlers.NewScheduleHandler(gen, store, logger)
	sessionHandler := handlers.NewSessionHandler(store, logger)
	ruleHandler := handlers.NewRuleHandler(ruleRepo, dirRepo, logger)
	holdHandler := handlers.NewHoldHandler(holdMgr, logger)

	if err := startGrpcServer(ctx, logger, store); err != nil {
		logger.Error("grpc server failed to start", "err", err)
	}

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
		runtime.ReadyCheck{Name: "redis", Check: httpx.RedisReadyCheck(rdb)},
	)

	mux.HandleFunc("/api/v1/schedules/generate", scheduleHandler.Generate)
	mux.HandleFunc("/api/v1/schedules/draft-copy", scheduleHandler.DraftCopy)
	mux.HandleFunc("/api/v1/schedules/publish", scheduleHandler.Publish)
	mux.HandleFunc("/api/v1/schedules", scheduleHandler.List)
	mux.HandleFunc("/api/v1/assignments/validate", scheduleHandler.ValidateAssignment)
	mux.HandleFunc("/api/v1/sessions/status", sessionHandler.UpdateStatus)
	mux.HandleFunc("/api/v1/sessions/cancel", sessionHandler.Cancel)
	mux.HandleFunc("/api/v1/rules", ruleHandler.List)
	mux.HandleFunc("/api/v1/rules/save", ruleHandler.Save)
	mux.HandleFunc("/api/v1/rules/review", ruleHandler.Review)
	mux.HandleFunc("/api/v1/rules/analyze", ruleHandler.Analyze)
	mux.HandleFunc("/api/v1/exceptions", ruleHandler.ListExceptions)
	mux.HandleFunc("/api/v1/exceptions/create", ruleHandler.CreateException)
	mux.HandleFunc("/api/v1/exceptions/review", ruleHandler.ReviewException)

	// Public booking routes get a per-client rate limit; internal
	// routes do not.
	publicLimiter := httpx.NewRedisRateLimiter(rdb,
		config.Int("PUBLIC_RATE_LIMIT", 60), time.Minute, "ratelimit:holds")
	limit := publicLimiter.Middleware(logger, true)
	mux.Handle("/api/v1/public/holds", limit(http.HandlerFunc(holdHandler.Acquire)))
	mux.Handle("/api/v1/public/holds/convert", limit(http.HandlerFunc(holdHandler.Convert)))
	mux.Handle("/api/v1/public/holds/release", limit(http.HandlerFunc(holdHandler.Release)))

	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithBodyLimit(1<<20),
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
