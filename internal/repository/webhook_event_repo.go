package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/qs3c/credit_go_server/internal/model"
)

type WebhookEventRepository struct {
	db *gorm.DB
}

func NewWebhookEventRepository(db *gorm.DB) *WebhookEventRepository {
	return &WebhookEventRepository{db: db}
}

// Record 记录回调原文，同一事件重复投递时返回已有记录
func (r *WebhookEventRepository) Record(ctx context.Context, event *model.WebhookEvent) (*model.WebhookEvent, bool, error) {
	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "provider"}, {Name: "provider_event_id"}},
		DoNothing: true,
	}).Create(event)
	if result.Error != nil {
		return nil, false, result.Error
	}

	stored, err := r.GetByProviderEventID(ctx, event.Provider, event.ProviderEventID)
	if err != nil {
		return nil, false, err
	}
	return stored, result.RowsAffected > 0, nil
}

func (r *WebhookEventRepository) GetByID(ctx context.Context, id int64) (*model.WebhookEvent, error) {
	var event model.WebhookEvent
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&event).Error
	if err != nil {
		return nil, err
	}
	return &event, nil
}

func (r *WebhookEventRepository) GetByProviderEventID(ctx context.Context, provider, providerEventID string) (*model.WebhookEvent, error) {
	var event model.WebhookEvent
	err := r.db.WithContext(ctx).
		Where("provider = ? AND provider_event_id = ?", provider, providerEventID).
		First(&event).Error
	if err != nil {
		return nil, err
	}
	return &event, nil
}

// PromoteSigned 用验签通过的原文覆盖未验签记录
func (r *WebhookEventRepository) PromoteSigned(ctx context.Context, id int64, eventType, payload string) error {
	return r.db.WithContext(ctx).Model(&model.WebhookEvent{}).
		Where("id = ? AND signature_valid = ?", id, false).
		Updates(map[string]interface{}{
			"event_type":       eventType,
			"payload_json":     payload,
			"signature_valid":  true,
			"processing_error": "",
		}).Error
}

// MarkProcessed 标记处理成功
func (r *WebhookEventRepository) MarkProcessed(ctx context.Context, id int64, at time.Time) error {
	return r.db.WithContext(ctx).Model(&model.WebhookEvent{}).Where("id = ?", id).Updates(map[string]interface{}{
		"processed_at":     at,
		"processing_error": "",
		"attempts":         gorm.Expr("attempts + 1"),
	}).Error
}

// MarkFailed 记录处理失败原因
func (r *WebhookEventRepository) MarkFailed(ctx context.Context, id int64, reason string) error {
	return r.db.WithContext(ctx).Model(&model.WebhookEvent{}).Where("id = ?", id).Updates(map[string]interface{}{
		"processing_error": reason,
		"attempts":         gorm.Expr("attempts + 1"),
	}).Error
}

// ListPendingReplay 未处理成功、重试次数未满且已超过 before 的事件
func (r *WebhookEventRepository) ListPendingReplay(ctx context.Context, before time.Time, maxAttempts, limit int) ([]model.WebhookEvent, error) {
	var events []model.WebhookEvent
	err := r.db.WithContext(ctx).
		Where("processed_at IS NULL AND signature_valid = ?", true).
		Where("attempts < ? AND updated_at < ?", maxAttempts, before).
		Order("id ASC").
		Limit(limit).
		Find(&events).Error
	return events, err
}
