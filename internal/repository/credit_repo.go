package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/qs3c/credit_go_server/internal/model"
)

type CreditRepository struct {
	db *gorm.DB
}

func NewCreditRepository(db *gorm.DB) *CreditRepository {
	return &CreditRepository{db: db}
}

// WithTx 返回绑定到事务的仓库
func (r *CreditRepository) WithTx(tx *gorm.DB) *CreditRepository {
	return &CreditRepository{db: tx}
}

func (r *CreditRepository) Create(ctx context.Context, grant *model.CreditGrant) error {
	return r.db.WithContext(ctx).Create(grant).Error
}

// CreateIfAbsent 按 (user_id, dedup_key) 去重插入，已存在时返回 false
func (r *CreditRepository) CreateIfAbsent(ctx context.Context, grant *model.CreditGrant) (bool, error) {
	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "dedup_key"}},
		DoNothing: true,
	}).Create(grant)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *CreditRepository) GetByID(ctx context.Context, id int64) (*model.CreditGrant, error) {
	var grant model.CreditGrant
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&grant).Error
	if err != nil {
		return nil, err
	}
	return &grant, nil
}

// GetByIDForUpdate 事务内加行锁读取
func (r *CreditRepository) GetByIDForUpdate(ctx context.Context, id int64) (*model.CreditGrant, error) {
	var grant model.CreditGrant
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&grant).Error
	if err != nil {
		return nil, err
	}
	return &grant, nil
}

// ListConsumable 未过期且有剩余额度的积分，按发放时间先进先出
func (r *CreditRepository) ListConsumable(ctx context.Context, userID int64, now time.Time) ([]model.CreditGrant, error) {
	var grants []model.CreditGrant
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND amount > consumed", userID).
		Where("expires_at IS NULL OR expires_at >= ?", now).
		Order("issued_at ASC, id ASC").
		Find(&grants).Error
	return grants, err
}

// SumAvailable 未过期额度的剩余总和
func (r *CreditRepository) SumAvailable(ctx context.Context, userID int64, now time.Time) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).Model(&model.CreditGrant{}).
		Select("COALESCE(SUM(amount - consumed), 0)").
		Where("user_id = ? AND amount > consumed", userID).
		Where("expires_at IS NULL OR expires_at >= ?", now).
		Scan(&total).Error
	return total, err
}

// NextExpiry 计入余额的额度中最早的过期时间，没有会过期的额度时返回 nil
func (r *CreditRepository) NextExpiry(ctx context.Context, userID int64, now time.Time) (*time.Time, error) {
	var grants []model.CreditGrant
	err := r.db.WithContext(ctx).
		Select("id", "expires_at").
		Where("user_id = ? AND amount > consumed", userID).
		Where("expires_at IS NOT NULL AND expires_at >= ?", now).
		Order("expires_at ASC").
		Limit(1).
		Find(&grants).Error
	if err != nil || len(grants) == 0 {
		return nil, err
	}
	return grants[0].ExpiresAt, nil
}

// Debit 原子扣减，剩余额度不足时不修改并返回 false
func (r *CreditRepository) Debit(ctx context.Context, id int64, amount int64) (bool, error) {
	result := r.db.WithContext(ctx).Model(&model.CreditGrant{}).
		Where("id = ? AND amount - consumed >= ?", id, amount).
		Update("consumed", gorm.Expr("consumed + ?", amount))
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// Restore 退回已消费额度，consumed 最低为 0
func (r *CreditRepository) Restore(ctx context.Context, id int64, amount int64) error {
	return r.db.WithContext(ctx).Model(&model.CreditGrant{}).
		Where("id = ?", id).
		Update("consumed", gorm.Expr("CASE WHEN consumed >= ? THEN consumed - ? ELSE 0 END", amount, amount)).Error
}

// ExistsIssuedSince 指定类型的额度是否在 since 之后发放过
func (r *CreditRepository) ExistsIssuedSince(ctx context.Context, userID int64, grantType string, since time.Time) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.CreditGrant{}).
		Where("user_id = ? AND type = ? AND issued_at >= ?", userID, grantType, since).
		Count(&count).Error
	return count > 0, err
}

// ListByUser 用户全部额度，新的在前
func (r *CreditRepository) ListByUser(ctx context.Context, userID int64) ([]model.CreditGrant, error) {
	var grants []model.CreditGrant
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("issued_at DESC, id DESC").
		Find(&grants).Error
	return grants, err
}

// TypesByIDs 批量查询额度类型
func (r *CreditRepository) TypesByIDs(ctx context.Context, ids []int64) (map[int64]string, error) {
	types := make(map[int64]string, len(ids))
	if len(ids) == 0 {
		return types, nil
	}

	var grants []model.CreditGrant
	err := r.db.WithContext(ctx).Select("id", "type").Where("id IN ?", ids).Find(&grants).Error
	if err != nil {
		return nil, err
	}
	for _, g := range grants {
		types[g.ID] = g.Type
	}
	return types, nil
}

// ExpiredUnusedStats 统计在 [from, to) 内过期且仍有剩余的额度
func (r *CreditRepository) ExpiredUnusedStats(ctx context.Context, from, to time.Time) (count int64, remaining int64, err error) {
	var row struct {
		Count     int64
		Remaining int64
	}
	err = r.db.WithContext(ctx).Model(&model.CreditGrant{}).
		Select("COUNT(*) AS count, COALESCE(SUM(amount - consumed), 0) AS remaining").
		Where("expires_at >= ? AND expires_at < ? AND amount > consumed", from, to).
		Scan(&row).Error
	return row.Count, row.Remaining, err
}
