package worker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/qs3c/credit_go_server/internal/pkg/queue"
)

// Replayer 重放单条回调事件
type Replayer interface {
	Replay(ctx context.Context, webhookEventID int64) error
}

// Source 重放任务来源
type Source interface {
	Pop(ctx context.Context, timeout time.Duration) (*queue.ReplayMessage, error)
}

// Processor 回调重放处理器
type Processor struct {
	replayer    Replayer
	maxAttempts int
	log         zerolog.Logger
}

// NewProcessor 创建任务处理器
func NewProcessor(replayer Replayer, maxAttempts int, log zerolog.Logger) *Processor {
	return &Processor{
		replayer:    replayer,
		maxAttempts: maxAttempts,
		log:         log.With().Str("component", "replay_worker").Logger(),
	}
}

// Process 处理一条重放任务
func (p *Processor) Process(ctx context.Context, msg *queue.ReplayMessage) error {
	if p.maxAttempts > 0 && msg.Attempt > p.maxAttempts {
		p.log.Warn().
			Int64("webhook_event_id", msg.WebhookEventID).
			Int("attempt", msg.Attempt).
			Msg("replay attempts exhausted")
		return nil
	}

	start := time.Now()
	err := p.replayer.Replay(ctx, msg.WebhookEventID)

	ev := p.log.Info()
	if err != nil {
		ev = p.log.Error().Err(err)
	}
	ev.Int64("webhook_event_id", msg.WebhookEventID).
		Str("event_id", msg.ProviderEventID).
		Int("attempt", msg.Attempt).
		Dur("elapsed", time.Since(start)).
		Msg("webhook replay finished")
	return err
}

// Run 启动 workers 个协程消费队列，ctx 取消后等待全部退出
func (p *Processor) Run(ctx context.Context, source Source, workers int, popTimeout time.Duration) {
	if workers <= 0 {
		workers = 1
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					p.log.Debug().Int("worker", workerID).Msg("worker shutting down")
					return
				default:
				}

				msg, err := source.Pop(ctx, popTimeout)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					p.log.Error().Err(err).Int("worker", workerID).Msg("failed to pop replay message")
					continue
				}
				if msg == nil {
					continue // 超时，继续等待
				}

				// 失败已记录在 webhook_events 上，由定时扫描再次入队
				_ = p.Process(ctx, msg)
			}
		}(i)
	}
	wg.Wait()
}
