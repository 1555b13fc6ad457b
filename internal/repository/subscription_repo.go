package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/qs3c/credit_go_server/internal/model"
)

type SubscriptionRepository struct {
	db *gorm.DB
}

func NewSubscriptionRepository(db *gorm.DB) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

// WithTx 返回绑定到事务的仓库
func (r *SubscriptionRepository) WithTx(tx *gorm.DB) *SubscriptionRepository {
	return &SubscriptionRepository{db: tx}
}

func (r *SubscriptionRepository) Create(ctx context.Context, sub *model.Subscription) error {
	return r.db.WithContext(ctx).Create(sub).Error
}

func (r *SubscriptionRepository) Update(ctx context.Context, sub *model.Subscription) error {
	return r.db.WithContext(ctx).Save(sub).Error
}

// Upsert 按支付平台订阅 ID 插入或更新，返回落库后的记录
func (r *SubscriptionRepository) Upsert(ctx context.Context, sub *model.Subscription) (*model.Subscription, error) {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "payment_subscription_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"user_id",
			"payment_customer_id",
			"product_id",
			"plan_type",
			"status",
			"amount",
			"currency",
			"expires_at",
			"next_billing_at",
			"updated_at",
		}),
	}).Create(sub).Error
	if err != nil {
		return nil, err
	}
	return r.GetByPaymentID(ctx, sub.PaymentSubscriptionID)
}

func (r *SubscriptionRepository) GetByID(ctx context.Context, id int64) (*model.Subscription, error) {
	var sub model.Subscription
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *SubscriptionRepository) GetByPaymentID(ctx context.Context, paymentSubscriptionID string) (*model.Subscription, error) {
	var sub model.Subscription
	err := r.db.WithContext(ctx).Where("payment_subscription_id = ?", paymentSubscriptionID).First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// GetActiveByUser 用户当前生效的订阅，多条时取最早创建的
func (r *SubscriptionRepository) GetActiveByUser(ctx context.Context, userID int64) (*model.Subscription, error) {
	var sub model.Subscription
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, model.SubscriptionStatusActive).
		Order("created_at ASC, id ASC").
		First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// UpdateStatus 更新订阅状态，canceledAt 非空时同时记录取消时间
func (r *SubscriptionRepository) UpdateStatus(ctx context.Context, id int64, status string, canceledAt *time.Time) error {
	fields := map[string]interface{}{"status": status}
	if canceledAt != nil {
		fields["canceled_at"] = *canceledAt
	}
	return r.db.WithContext(ctx).Model(&model.Subscription{}).Where("id = ?", id).Updates(fields).Error
}

// CancelOtherActive 取消用户除 keepID 外的所有生效订阅
func (r *SubscriptionRepository) CancelOtherActive(ctx context.Context, userID, keepID int64, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Model(&model.Subscription{}).
		Where("user_id = ? AND status = ? AND id <> ?", userID, model.SubscriptionStatusActive, keepID).
		Updates(map[string]interface{}{
			"status":      model.SubscriptionStatusCanceled,
			"canceled_at": now,
		})
	return result.RowsAffected, result.Error
}

func (r *SubscriptionRepository) ListByUser(ctx context.Context, userID int64) ([]model.Subscription, error) {
	var subs []model.Subscription
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC, id DESC").Find(&subs).Error
	return subs, err
}
