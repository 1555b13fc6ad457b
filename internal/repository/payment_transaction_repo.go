package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/qs3c/credit_go_server/internal/model"
)

type PaymentTransactionRepository struct {
	db *gorm.DB
}

func NewPaymentTransactionRepository(db *gorm.DB) *PaymentTransactionRepository {
	return &PaymentTransactionRepository{db: db}
}

// WithTx 返回绑定到事务的仓库
func (r *PaymentTransactionRepository) WithTx(tx *gorm.DB) *PaymentTransactionRepository {
	return &PaymentTransactionRepository{db: tx}
}

// CreateIfAbsent 按支付平台交易号去重插入，已处理过时返回 false
func (r *PaymentTransactionRepository) CreateIfAbsent(ctx context.Context, pt *model.PaymentTransaction) (bool, error) {
	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "payment_transaction_id"}},
		DoNothing: true,
	}).Create(pt)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *PaymentTransactionRepository) GetByPaymentID(ctx context.Context, paymentTransactionID string) (*model.PaymentTransaction, error) {
	var pt model.PaymentTransaction
	err := r.db.WithContext(ctx).Where("payment_transaction_id = ?", paymentTransactionID).First(&pt).Error
	if err != nil {
		return nil, err
	}
	return &pt, nil
}

func (r *PaymentTransactionRepository) ListByUser(ctx context.Context, userID int64) ([]model.PaymentTransaction, error) {
	var pts []model.PaymentTransaction
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("id DESC").Find(&pts).Error
	return pts, err
}
