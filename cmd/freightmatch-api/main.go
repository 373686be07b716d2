// README: Entry point; loads config, wires stores, lock, broker and notifier, starts HTTP and generation workers.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"freightmatch/internal/config"
	"freightmatch/internal/events"
	httptransport "freightmatch/internal/http"
	"freightmatch/internal/infra"
	"freightmatch/internal/lock"
	"freightmatch/internal/modules/candidate"
	"freightmatch/internal/modules/matching"
	"freightmatch/internal/modules/request"
	"freightmatch/internal/modules/scoring"
	"freightmatch/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	logger, err := infra.NewLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("exit", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	db, err := infra.NewDB(ctx, cfg.DB.DSN, cfg.DB.MaxConns)
	if err != nil {
		return err
	}
	defer db.Close()

	var redisClient *redis.Client
	if cfg.Matching.LockBackend == config.LockRedis || cfg.Matching.CacheTTL > 0 {
		if redisClient, err = infra.NewRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB); err != nil {
			return err
		}
		defer redisClient.Close()
	}

	var locker lock.Locker = lock.NewLocal()
	if cfg.Matching.LockBackend == config.LockRedis {
		locker = lock.NewRedis(redisClient, cfg.Matching.LockTTL, logger)
	}

	var pool candidate.Provider = candidate.NewPGProvider(db)
	if redisClient != nil && cfg.Matching.CacheTTL > 0 {
		pool = candidate.NewCachedProvider(pool, redisClient, cfg.Matching.CacheTTL, logger)
	}

	var mq *infra.RabbitMQ
	if cfg.Matching.DispatchMode == config.DispatchAMQP {
		if mq, err = infra.NewRabbitMQ(cfg.RabbitMQ.URL, logger); err != nil {
			return err
		}
		defer mq.Close()
	}

	var billing matching.BillingTrigger = events.NewLogBilling(logger)
	if mq != nil {
		billing = events.NewBillingPublisher(mq, logger)
	}

	var notifier matching.Notifier = events.NewLogNotifier(logger)
	if cfg.Firebase.ProjectID != "" {
		client, err := infra.NewMessaging(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsFile)
		if err != nil {
			logger.Warn("fcm unavailable; notifications go to the log", zap.Error(err))
		} else {
			notifier = events.NewFCMNotifier(client, logger)
		}
	}

	requests := request.NewPGStore(db, cfg.Matching.LockWait)
	deps := matching.Deps{
		Requests: requests,
		Matches:  matching.NewPGStore(db),
		Pool:     pool,
		Engine:   scoring.NewEngine(cfg.Scoring),
		Locker:   locker,
		UoW:      infra.NewUnitOfWork(db),
		Billing:  billing,
		Notifier: notifier,
		Config:   cfg.Matching,
		Logger:   logger,
	}
	gen := matching.NewGenerator(deps)
	matchingSvc := matching.NewService(deps, matching.NewCoordinator(deps))

	var wg sync.WaitGroup
	var dispatcher request.Dispatcher
	var local *worker.LocalDispatcher
	if mq != nil {
		dispatcher = worker.NewQueueDispatcher(mq, logger)
		for i := 0; i < cfg.Matching.Workers; i++ {
			consumer := worker.NewConsumer(mq, gen, fmt.Sprintf("freightmatch-%d", i), cfg.Matching.Prefetch, logger)
			wg.Add(1)
			go func() {
				defer wg.Done()
				consumer.Run(ctx)
			}()
		}
	} else {
		local = worker.NewLocalDispatcher(gen, cfg.Matching.Workers, generationTimeout(cfg.Matching), logger)
		dispatcher = local
	}

	if logger.Core().Enabled(zapcore.DebugLevel) {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := httptransport.NewRouter(httptransport.RouterDeps{
		Requests:  request.NewService(requests, dispatcher, logger),
		Matching:  matchingSvc,
		Generator: gen,
		Logger:    logger,
	})

	logger.Info("starting",
		zap.String("addr", cfg.HTTP.Addr),
		zap.String("dispatch", cfg.Matching.DispatchMode),
		zap.String("lock", cfg.Matching.LockBackend),
		zap.Int("fan_out", cfg.Matching.FanOut))

	err = httptransport.NewServer(cfg.HTTP.Addr, router, cfg.HTTP.ShutdownTimeout, logger).Run(ctx)
	cancel()

	wg.Wait()
	if local != nil {
		local.Wait()
	}
	gen.Drain()
	matchingSvc.Drain()
	logger.Info("stopped")
	return err
}

// generationTimeout bounds one in-process generation: every provider attempt,
// the backoff between them, and the lock wait.
func generationTimeout(c config.MatchingConfig) time.Duration {
	attempts := time.Duration(c.MaxAttempts)
	return attempts*(c.ProviderTimeout+c.MaxBackoff) + c.LockWait
}
