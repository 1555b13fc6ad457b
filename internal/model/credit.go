package model

import (
	"time"
)

// 积分类型
const (
	CreditTypeDailyFree        = "daily_free"
	CreditTypeCreditPackPrefix = "credit_pack_"
)

// CreditGrant 一笔可消费的积分额度
type CreditGrant struct {
	ID                  int64      `gorm:"primaryKey" json:"id"`
	UserID              int64      `gorm:"not null;index;uniqueIndex:ux_credit_grants_user_dedup,priority:1" json:"user_id"`
	Type                string     `gorm:"size:64;not null;index" json:"type"` // daily_free, monthly_basic, credit_pack_xxx
	Amount              int64      `gorm:"not null" json:"amount"`
	Consumed            int64      `gorm:"not null;default:0" json:"consumed"`
	IssuedAt            time.Time  `gorm:"not null;index" json:"issued_at"`
	ExpiresAt           *time.Time `gorm:"index" json:"expires_at,omitempty"`
	SourceTransactionID *int64     `gorm:"index" json:"source_transaction_id,omitempty"`
	DedupKey            *string    `gorm:"size:191;uniqueIndex:ux_credit_grants_user_dedup,priority:2" json:"-"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

func (CreditGrant) TableName() string {
	return "credit_grants"
}

// Remaining 剩余可用额度
func (g *CreditGrant) Remaining() int64 {
	if g.Consumed >= g.Amount {
		return 0
	}
	return g.Amount - g.Consumed
}

// ActiveAt 在给定时间点是否仍未过期
func (g *CreditGrant) ActiveAt(t time.Time) bool {
	return g.ExpiresAt == nil || !g.ExpiresAt.Before(t)
}
