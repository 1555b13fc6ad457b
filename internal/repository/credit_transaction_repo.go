package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/qs3c/credit_go_server/internal/model"
)

type CreditTransactionRepository struct {
	db *gorm.DB
}

func NewCreditTransactionRepository(db *gorm.DB) *CreditTransactionRepository {
	return &CreditTransactionRepository{db: db}
}

// WithTx 返回绑定到事务的仓库
func (r *CreditTransactionRepository) WithTx(tx *gorm.DB) *CreditTransactionRepository {
	return &CreditTransactionRepository{db: tx}
}

// Create 写入流水及其明细
func (r *CreditTransactionRepository) Create(ctx context.Context, txn *model.CreditTransaction) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(txn).Error; err != nil {
			return err
		}
		return r.createEntries(tx, txn)
	})
}

// CreateRefund 写入退款流水，同一笔消费已有退款时返回 false 且不写入
func (r *CreditTransactionRepository) CreateRefund(ctx context.Context, txn *model.CreditTransaction) (bool, error) {
	created := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Omit(clause.Associations).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "related_transaction_id"}},
			DoNothing: true,
		}).Create(txn)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return nil
		}
		created = true
		return r.createEntries(tx, txn)
	})
	return created, err
}

func (r *CreditTransactionRepository) createEntries(tx *gorm.DB, txn *model.CreditTransaction) error {
	if len(txn.Entries) == 0 {
		return nil
	}
	for i := range txn.Entries {
		txn.Entries[i].TransactionID = txn.ID
	}
	return tx.Create(&txn.Entries).Error
}

func (r *CreditTransactionRepository) GetByID(ctx context.Context, id int64) (*model.CreditTransaction, error) {
	var txn model.CreditTransaction
	err := r.db.WithContext(ctx).
		Preload("Entries", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		Where("id = ?", id).First(&txn).Error
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

// GetRefundOf 查询引用某笔消费的退款流水
func (r *CreditTransactionRepository) GetRefundOf(ctx context.Context, consumeID int64) (*model.CreditTransaction, error) {
	var txn model.CreditTransaction
	err := r.db.WithContext(ctx).Where("related_transaction_id = ?", consumeID).First(&txn).Error
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

func (r *CreditTransactionRepository) ExistsRefundOf(ctx context.Context, consumeID int64) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.CreditTransaction{}).
		Where("related_transaction_id = ?", consumeID).
		Count(&count).Error
	return count > 0, err
}

// ListByUser 分页查询用户流水，txType 为空时不过滤
func (r *CreditTransactionRepository) ListByUser(ctx context.Context, userID int64, txType string, page, pageSize int) ([]model.CreditTransaction, int64, error) {
	var txns []model.CreditTransaction
	var total int64

	query := r.db.WithContext(ctx).Model(&model.CreditTransaction{}).Where("user_id = ?", userID)
	if txType != "" {
		query = query.Where("type = ?", txType)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	if err := query.Order("id DESC").Offset(offset).Limit(pageSize).Find(&txns).Error; err != nil {
		return nil, 0, err
	}

	return txns, total, nil
}

// ConsumeStats 用户消费总量与次数
func (r *CreditTransactionRepository) ConsumeStats(ctx context.Context, userID int64) (total int64, count int64, err error) {
	var row struct {
		Total int64
		Count int64
	}
	err = r.db.WithContext(ctx).Model(&model.CreditTransaction{}).
		Select("COALESCE(SUM(-amount), 0) AS total, COUNT(*) AS count").
		Where("user_id = ? AND type = ?", userID, model.CreditTxTypeConsume).
		Scan(&row).Error
	return row.Total, row.Count, err
}
