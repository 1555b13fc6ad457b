package cron

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/qs3c/credit_go_server/config"
	"github.com/qs3c/credit_go_server/internal/pkg/queue"
	"github.com/qs3c/credit_go_server/internal/repository"
)

// ReplayPusher 重放任务入队
type ReplayPusher interface {
	Push(ctx context.Context, msg *queue.ReplayMessage) error
}

type Service struct {
	creditRepo *repository.CreditRepository
	eventRepo  *repository.WebhookEventRepository
	pusher     ReplayPusher
	replay     config.ReplayConfig
	log        zerolog.Logger
	now        func() time.Time
	stopChan   chan struct{}
}

func NewService(
	creditRepo *repository.CreditRepository,
	eventRepo *repository.WebhookEventRepository,
	pusher ReplayPusher,
	replay config.ReplayConfig,
	log zerolog.Logger,
) *Service {
	if replay.Interval <= 0 {
		replay.Interval = time.Minute
	}
	if replay.BatchSize <= 0 {
		replay.BatchSize = 50
	}
	if replay.MaxAttempts <= 0 {
		replay.MaxAttempts = 5
	}
	return &Service{
		creditRepo: creditRepo,
		eventRepo:  eventRepo,
		pusher:     pusher,
		replay:     replay,
		log:        log.With().Str("component", "cron").Logger(),
		now:        func() time.Time { return time.Now().UTC() },
		stopChan:   make(chan struct{}),
	}
}

// Start 启动定时任务
func (s *Service) Start() {
	go s.runDailyExpiryReport()
	go s.runReplaySweep()
	s.log.Info().Dur("replay_interval", s.replay.Interval).Msg("cron service started")
}

// Stop 停止定时任务
func (s *Service) Stop() {
	close(s.stopChan)
	s.log.Info().Msg("cron service stopped")
}

// runDailyExpiryReport 每个 UTC 零点统计前一天过期未用完的积分
func (s *Service) runDailyExpiryReport() {
	now := s.now()
	nextMidnight := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)
	timer := time.NewTimer(nextMidnight.Sub(now))

	for {
		select {
		case <-s.stopChan:
			timer.Stop()
			return
		case <-timer.C:
			s.reportExpired(context.Background())
			timer.Reset(24 * time.Hour)
		}
	}
}

// reportExpired 过期额度不落库修改，余额查询按 expires_at 过滤，这里只做统计
func (s *Service) reportExpired(ctx context.Context) (count, remaining int64) {
	to := s.now()
	from := to.Add(-24 * time.Hour)

	count, remaining, err := s.creditRepo.ExpiredUnusedStats(ctx, from, to)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to collect expired credit stats")
		return 0, 0
	}

	s.log.Info().
		Time("from", from).
		Time("to", to).
		Int64("grants", count).
		Int64("credits", remaining).
		Msg("credits expired unused")
	return count, remaining
}

func (s *Service) runReplaySweep() {
	ticker := time.NewTicker(s.replay.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.sweepReplay(context.Background())
		}
	}
}

// sweepReplay 把处理失败的回调推入重放队列，返回入队数量
func (s *Service) sweepReplay(ctx context.Context) int {
	before := s.now().Add(-s.replay.MinAge)

	events, err := s.eventRepo.ListPendingReplay(ctx, before, s.replay.MaxAttempts, s.replay.BatchSize)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to list pending webhook events")
		return 0
	}

	pushed := 0
	for _, event := range events {
		msg := &queue.ReplayMessage{
			WebhookEventID:  event.ID,
			Provider:        event.Provider,
			ProviderEventID: event.ProviderEventID,
			Attempt:         event.Attempts + 1,
		}
		if err := s.pusher.Push(ctx, msg); err != nil {
			s.log.Error().Err(err).Int64("webhook_event_id", event.ID).Msg("failed to enqueue webhook replay")
			continue
		}
		pushed++
	}

	if pushed > 0 {
		s.log.Info().Int("count", pushed).Msg("webhook events queued for replay")
	}
	return pushed
}
