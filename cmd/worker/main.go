package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/qs3c/credit_go_server/config"
	"github.com/qs3c/credit_go_server/internal/database"
	"github.com/qs3c/credit_go_server/internal/pkg/cache"
	"github.com/qs3c/credit_go_server/internal/pkg/catalog"
	"github.com/qs3c/credit_go_server/internal/pkg/logger"
	"github.com/qs3c/credit_go_server/internal/pkg/pubsub"
	"github.com/qs3c/credit_go_server/internal/pkg/queue"
	"github.com/qs3c/credit_go_server/internal/repository"
	"github.com/qs3c/credit_go_server/internal/service"
	"github.com/qs3c/credit_go_server/internal/worker"
)

func main() {
	// 加载配置
	cfg, err := config.Load("config.yaml")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Server.Mode)

	// 初始化数据库
	db, err := database.NewMySQL(&cfg.Database, false)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect database")
	}

	// 初始化 Redis
	rdb, err := database.NewRedis(&cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect redis")
	}

	products, err := catalog.New(cfg.Catalog)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid product catalog")
	}

	userRepo := repository.NewUserRepository(db)
	ledger := service.NewLedgerService(db,
		repository.NewCreditRepository(db),
		repository.NewCreditTransactionRepository(db),
		log)
	ledger.SetBalanceCache(cache.NewBalanceCache(rdb, cfg.Credit.BalanceCacheTTL))
	ledger.SetNotifier(pubsub.NewPublisher(rdb))

	webhookService := service.NewWebhookService(db,
		repository.NewSubscriptionRepository(db),
		repository.NewPaymentTransactionRepository(db),
		userRepo, ledger, products, cfg.Payment.Provider, log)
	webhookEvents := service.NewWebhookEventService(
		repository.NewWebhookEventRepository(db), webhookService, cfg.Payment.WebhookSecret, log)

	processor := worker.NewProcessor(webhookEvents, cfg.Replay.MaxAttempts, log)

	// 创建 context 用于优雅关闭
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info().Msg("received shutdown signal")
		cancel()
	}()

	log.Info().Int("max_workers", cfg.Replay.MaxWorkers).Msg("replay worker started")
	processor.Run(ctx, queue.NewQueue(rdb, cfg.Replay.QueueName), cfg.Replay.MaxWorkers, 5*time.Second)
	log.Info().Msg("worker shutdown complete")
}
