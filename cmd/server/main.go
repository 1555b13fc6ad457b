package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/qs3c/credit_go_server/config"
	"github.com/qs3c/credit_go_server/internal/api"
	"github.com/qs3c/credit_go_server/internal/api/handler"
	"github.com/qs3c/credit_go_server/internal/database"
	"github.com/qs3c/credit_go_server/internal/pkg/cache"
	"github.com/qs3c/credit_go_server/internal/pkg/catalog"
	"github.com/qs3c/credit_go_server/internal/pkg/cron"
	"github.com/qs3c/credit_go_server/internal/pkg/logger"
	"github.com/qs3c/credit_go_server/internal/pkg/pubsub"
	"github.com/qs3c/credit_go_server/internal/pkg/queue"
	"github.com/qs3c/credit_go_server/internal/pkg/ws"
	"github.com/qs3c/credit_go_server/internal/repository"
	"github.com/qs3c/credit_go_server/internal/service"
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
	db, err := database.NewMySQL(&cfg.Database, cfg.Server.Mode == "debug")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect database")
	}
	log.Info().Msg("database connected")

	// 初始化 Redis
	rdb, err := database.NewRedis(&cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect redis")
	}
	log.Info().Msg("redis connected")

	products, err := catalog.New(cfg.Catalog)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid product catalog")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 初始化 Repository
	userRepo := repository.NewUserRepository(db)
	creditRepo := repository.NewCreditRepository(db)
	txnRepo := repository.NewCreditTransactionRepository(db)
	subRepo := repository.NewSubscriptionRepository(db)
	payRepo := repository.NewPaymentTransactionRepository(db)
	eventRepo := repository.NewWebhookEventRepository(db)

	// 初始化 Service
	publisher := pubsub.NewPublisher(rdb)
	ledger := service.NewLedgerService(db, creditRepo, txnRepo, log)
	ledger.SetBalanceCache(cache.NewBalanceCache(rdb, cfg.Credit.BalanceCacheTTL))
	ledger.SetNotifier(publisher)

	dailyCredit := service.NewDailyCreditService(creditRepo, userRepo, ledger, cfg, log)
	webhookService := service.NewWebhookService(db, subRepo, payRepo, userRepo, ledger, products, cfg.Payment.Provider, log)
	webhookEvents := service.NewWebhookEventService(eventRepo, webhookService, cfg.Payment.WebhookSecret, log)
	subscriptionService := service.NewSubscriptionService(subRepo, userRepo)

	// WebSocket Hub，积分变动经 Redis 广播到各实例
	wsHub := ws.NewHub(log)
	go func() {
		if err := pubsub.NewSubscriber(rdb).Subscribe(ctx, wsHub.HandleCredit); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("credit event subscriber stopped")
		}
	}()

	// 定时任务
	cronService := cron.NewService(creditRepo, eventRepo, queue.NewQueue(rdb, cfg.Replay.QueueName), cfg.Replay, log)
	cronService.Start()
	defer cronService.Stop()

	// 初始化 Handler
	creditHandler := handler.NewCreditHandler(ledger, log)
	subscriptionHandler := handler.NewSubscriptionHandler(subscriptionService)
	webhookHandler := handler.NewWebhookHandler(webhookEvents, log)
	pricingHandler := handler.NewPricingHandler(products)
	websocketHandler := handler.NewWebSocketHandler(wsHub, cfg.JWT.Secret, cfg.CORS.AllowedOrigins, log)

	// 初始化 Router
	router := api.NewRouter(
		creditHandler,
		subscriptionHandler,
		webhookHandler,
		pricingHandler,
		websocketHandler,
		dailyCredit,
		cfg,
		log,
	)
	engine := router.Setup()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	go func() {
		log.Info().Str("addr", addr).Msg("server starting")
		if err := engine.Run(addr); err != nil {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	<-sigChan
	log.Info().Msg("received shutdown signal")
}
