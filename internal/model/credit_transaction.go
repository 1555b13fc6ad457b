package model

import (
	"time"
)

const (
	CreditTxTypeConsume = "consume"
	CreditTxTypeRefund  = "refund"
)

// CreditTransaction 积分流水，写入后不可修改
type CreditTransaction struct {
	ID            int64  `gorm:"primaryKey" json:"id"`
	UserID        int64  `gorm:"not null;index" json:"user_id"`
	CreditGrantID int64  `gorm:"not null;index" json:"credit_grant_id"` // 第一笔被扣减的额度
	Type          string `gorm:"size:20;not null;index" json:"type"`
	Amount        int64  `gorm:"not null" json:"amount"` // 消费为负，退款为正
	BalanceBefore int64  `json:"balance_before"`
	BalanceAfter  int64  `json:"balance_after"`
	// 只有退款记录会设置；唯一索引保证一笔消费最多退款一次
	RelatedTransactionID *int64                   `gorm:"uniqueIndex" json:"related_transaction_id,omitempty"`
	Note                 string                   `gorm:"size:500" json:"note"`
	Entries              []CreditTransactionEntry `gorm:"foreignKey:TransactionID" json:"entries,omitempty"`
	CreatedAt            time.Time                `gorm:"index" json:"created_at"`
}

func (CreditTransaction) TableName() string {
	return "credit_transactions"
}

// CreditTransactionEntry 一笔流水在单个额度上的明细
type CreditTransactionEntry struct {
	ID            int64     `gorm:"primaryKey" json:"id"`
	TransactionID int64     `gorm:"not null;index" json:"transaction_id"`
	CreditGrantID int64     `gorm:"not null;index" json:"credit_grant_id"`
	Amount        int64     `gorm:"not null" json:"amount"`
	BalanceBefore int64     `json:"balance_before"`
	BalanceAfter  int64     `json:"balance_after"`
	CreatedAt     time.Time `json:"created_at"`
}

func (CreditTransactionEntry) TableName() string {
	return "credit_transaction_entries"
}
