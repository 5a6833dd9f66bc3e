package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	redisclient "github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/fairwaydesk/teeflow/internal/adapters/crdb"
	mongoadapter "github.com/fairwaydesk/teeflow/internal/adapters/mongo"
	redisadapter "github.com/fairwaydesk/teeflow/internal/adapters/redis"
	"github.com/fairwaydesk/teeflow/internal/availability"
	"github.com/fairwaydesk/teeflow/internal/config"
	"github.com/fairwaydesk/teeflow/internal/engine"
	httphandler "github.com/fairwaydesk/teeflow/internal/http"
	"github.com/fairwaydesk/teeflow/internal/idempotency"
	"github.com/fairwaydesk/teeflow/internal/observability"
	"github.com/fairwaydesk/teeflow/internal/outbox"
	"github.com/fairwaydesk/teeflow/internal/rateLimit"
	"github.com/fairwaydesk/teeflow/internal/waitlist"
	"github.com/fairwaydesk/teeflow/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	shutdown, err := observability.SetupOTel(context.Background(), cfg.OTLPEndpoint)
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdown()

	logger := observability.NewLogger()

	pool, err := pgxpool.New(context.Background(), cfg.CRDBDSN)
	if err != nil {
		log.Fatalf("failed to connect to crdb: %v", err)
	}
	defer pool.Close()
	repo := crdb.NewRepository(pool)

	mongoClient, err := mongo.Connect(context.Background(), options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		log.Fatalf("failed to connect to mongo: %v", err)
	}
	defer mongoClient.Disconnect(context.Background())
	audit := mongoadapter.NewTransitionAudit(mongoClient.Database("teeflow"), logger)

	redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
	cache := redisadapter.NewCache(redisClient)
	guard := idempotency.NewGuard(redisadapter.NewAdmitter(redisClient), cfg.DedupTTL)
	rl := rateLimit.NewRateLimiter(cache)

	rabbitConn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("failed to connect to rabbitmq: %v", err)
	}
	defer rabbitConn.Close()

	dispatcher := outbox.NewDispatcher(repo)
	gateway := availability.NewHTTPGateway(cfg.AvailabilityURL, &http.Client{Timeout: 10 * time.Second})
	avail := availability.NewPolicy(gateway, cfg.AvailabilityAttempts, cfg.AvailabilityBackoff, logger)

	taskPool := worker.NewPool(cfg.WorkerCount, cfg.WorkerQueueDepth, logger)
	poolCtx, poolCancel := context.WithCancel(context.Background())
	defer poolCancel()
	go taskPool.Run(poolCtx)

	eng := engine.New(engine.Config{
		TenantID:            cfg.TenantID,
		PerPlayerFee:        cfg.PerPlayerFee,
		InquiryDedupeWindow: cfg.InquiryDedupeWindow,
	}, repo, avail, dispatcher, audit, taskPool, logger)

	wl := waitlist.NewService(crdb.NewWaitlistRepository(repo), repo, avail, dispatcher, cfg.TenantID, cfg.PerPlayerFee, logger)

	handlers := httphandler.NewHandlers(cfg, eng, guard, repo, cache, repo, wl, logger)
	r := httphandler.SetupRouter(handlers, logger, rl)

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: r,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()
	logger.Info("booking api listening on ", cfg.ListenAddr)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutdown Server ...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server Shutdown:", err)
	}
	poolCancel()
	logger.Info("Server exiting")
}
