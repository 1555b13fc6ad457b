package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/qs3c/credit_go_server/internal/model"
	"github.com/qs3c/credit_go_server/internal/model/dto"
	"github.com/qs3c/credit_go_server/internal/pkg/creem"
	"github.com/qs3c/credit_go_server/internal/repository"
)

// EventHandler 处理已解析的支付事件
type EventHandler interface {
	HandleEvent(ctx context.Context, event *dto.PaymentEvent) error
}

// WebhookEventService 回调落库、验签、分发及失败重放
type WebhookEventService struct {
	events   *repository.WebhookEventRepository
	handler  EventHandler
	secret   string
	provider string
	log      zerolog.Logger
	now      func() time.Time
}

func NewWebhookEventService(
	events *repository.WebhookEventRepository,
	handler EventHandler,
	secret string,
	log zerolog.Logger,
) *WebhookEventService {
	return &WebhookEventService{
		events:   events,
		handler:  handler,
		secret:   secret,
		provider: creem.Provider,
		log:      log.With().Str("component", "webhook_event").Logger(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Receive 处理一次回调投递。
// 签名无效返回 ErrInvalidSignature，报文无法解析返回 creem.ErrInvalidPayload，
// 其余错误表示处理失败，需要支付平台重试。
func (s *WebhookEventService) Receive(ctx context.Context, payload []byte, signature string) error {
	if !creem.VerifySignature(payload, signature, s.secret) {
		// 未验签的报文不落库，避免占用真实事件的去重键
		ev := s.log.Warn().Int("payload_bytes", len(payload))
		if event, err := creem.ParseEvent(payload); err == nil {
			ev = ev.Str("event_id", event.EventID).Str("event_type", event.Type)
		}
		ev.Msg("webhook signature invalid")
		return ErrInvalidSignature
	}

	event, err := creem.ParseEvent(payload)
	if err != nil {
		return err
	}

	stored, created, err := s.events.Record(ctx, &model.WebhookEvent{
		Provider:        s.provider,
		ProviderEventID: event.EventID,
		EventType:       event.Type,
		PayloadJSON:     string(payload),
		SignatureValid:  true,
	})
	if err != nil {
		return fmt.Errorf("record webhook event: %w", err)
	}

	if !created && !stored.SignatureValid {
		// 旧版本遗留的未验签记录，用本次验签通过的原文覆盖
		if err := s.events.PromoteSigned(ctx, stored.ID, event.Type, string(payload)); err != nil {
			return fmt.Errorf("promote webhook event: %w", err)
		}
		s.log.Warn().
			Str("event_id", event.EventID).
			Int64("webhook_event_id", stored.ID).
			Msg("unsigned webhook record replaced by signed delivery")
		stored.EventType = event.Type
		stored.PayloadJSON = string(payload)
		stored.SignatureValid = true
	}

	if !created && stored.ProcessedAt != nil {
		s.log.Info().
			Str("event_id", event.EventID).
			Int64("webhook_event_id", stored.ID).
			Msg("webhook already processed")
		return nil
	}

	return s.process(ctx, stored, event)
}

// Replay 重新处理一条已落库但未成功的回调
func (s *WebhookEventService) Replay(ctx context.Context, webhookEventID int64) error {
	stored, err := s.events.GetByID(ctx, webhookEventID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.log.Warn().Int64("webhook_event_id", webhookEventID).Msg("replay target not found")
			return nil
		}
		return err
	}
	if stored.ProcessedAt != nil || !stored.SignatureValid {
		return nil
	}

	event, err := creem.ParseEvent([]byte(stored.PayloadJSON))
	if err != nil {
		if markErr := s.events.MarkFailed(ctx, stored.ID, err.Error()); markErr != nil {
			s.log.Error().Err(markErr).Int64("webhook_event_id", stored.ID).Msg("mark webhook failed")
		}
		return err
	}

	s.log.Info().
		Int64("webhook_event_id", stored.ID).
		Str("event_id", stored.ProviderEventID).
		Int("attempts", stored.Attempts).
		Msg("replaying webhook event")
	return s.process(ctx, stored, event)
}

func (s *WebhookEventService) process(ctx context.Context, stored *model.WebhookEvent, event *dto.PaymentEvent) error {
	if err := s.handler.HandleEvent(ctx, event); err != nil {
		if markErr := s.events.MarkFailed(ctx, stored.ID, err.Error()); markErr != nil {
			s.log.Error().Err(markErr).Int64("webhook_event_id", stored.ID).Msg("mark webhook failed")
		}
		return err
	}

	if err := s.events.MarkProcessed(ctx, stored.ID, s.now()); err != nil {
		// 事件本身已处理完成，重放是幂等的
		s.log.Error().Err(err).Int64("webhook_event_id", stored.ID).Msg("mark webhook processed failed")
	}
	return nil
}
