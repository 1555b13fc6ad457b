package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/qs3c/credit_go_server/config"
	"github.com/qs3c/credit_go_server/internal/database"
	"github.com/qs3c/credit_go_server/internal/pkg/cache"
	"github.com/qs3c/credit_go_server/internal/pkg/catalog"
	"github.com/qs3c/credit_go_server/internal/pkg/logger"
	"github.com/qs3c/credit_go_server/internal/pkg/pubsub"
	"github.com/qs3c/credit_go_server/internal/repository"
	"github.com/qs3c/credit_go_server/internal/service"
)

var (
	dryRun   = flag.Bool("dry-run", true, "Only list pending events, don't replay them")
	eventID  = flag.Int64("id", 0, "Replay a single webhook event by id")
	limit    = flag.Int("limit", 100, "Max events to handle in one run")
	attempts = flag.Int("max-attempts", 1000, "Skip events that already failed this many times")
)

func main() {
	flag.Parse()

	// 加载配置
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Server.Mode)

	db, err := database.NewMySQL(&cfg.Database, false)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect database")
	}

	// 重放会发放积分，必须同步失效余额缓存
	rdb, err := database.NewRedis(&cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect redis")
	}

	products, err := catalog.New(cfg.Catalog)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid product catalog")
	}

	ledger := service.NewLedgerService(db,
		repository.NewCreditRepository(db),
		repository.NewCreditTransactionRepository(db),
		log)
	ledger.SetBalanceCache(cache.NewBalanceCache(rdb, cfg.Credit.BalanceCacheTTL))
	ledger.SetNotifier(pubsub.NewPublisher(rdb))
	webhookService := service.NewWebhookService(db,
		repository.NewSubscriptionRepository(db),
		repository.NewPaymentTransactionRepository(db),
		repository.NewUserRepository(db),
		ledger, products, cfg.Payment.Provider, log)
	eventRepo := repository.NewWebhookEventRepository(db)
	webhookEvents := service.NewWebhookEventService(eventRepo, webhookService, cfg.Payment.WebhookSecret, log)

	ctx := context.Background()

	if *eventID > 0 {
		if err := webhookEvents.Replay(ctx, *eventID); err != nil {
			log.Fatal().Err(err).Int64("webhook_event_id", *eventID).Msg("replay failed")
		}
		log.Info().Int64("webhook_event_id", *eventID).Msg("replay done")
		return
	}

	events, err := eventRepo.ListPendingReplay(ctx, time.Now().UTC(), *attempts, *limit)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to list pending events")
	}

	failed := 0
	for _, event := range events {
		log.Info().
			Int64("webhook_event_id", event.ID).
			Str("event_id", event.ProviderEventID).
			Str("event_type", event.EventType).
			Int("attempts", event.Attempts).
			Str("last_error", event.ProcessingError).
			Msg("pending webhook event")

		if *dryRun {
			continue
		}
		if err := webhookEvents.Replay(ctx, event.ID); err != nil {
			failed++
		}
	}

	log.Info().Int("pending", len(events)).Int("failed", failed).Bool("dry_run", *dryRun).Msg("replay run finished")
}
