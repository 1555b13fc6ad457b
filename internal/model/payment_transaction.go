package model

import (
	"time"
)

const (
	PaymentTypeOneTime      = "one_time_payment"
	PaymentTypeSubscription = "subscription_payment"
)

// PaymentTransaction 一次实际扣款（订单），支付平台交易号全局唯一
type PaymentTransaction struct {
	ID                   int64     `gorm:"primaryKey" json:"id"`
	UserID               int64     `gorm:"not null;index" json:"user_id"`
	SubscriptionID       *int64    `gorm:"index" json:"subscription_id,omitempty"`
	PaymentPlatform      string    `gorm:"size:20;not null" json:"payment_platform"`
	PaymentTransactionID string    `gorm:"size:191;not null;uniqueIndex" json:"payment_transaction_id"`
	ProductID            string    `gorm:"size:191" json:"product_id"`
	Type                 string    `gorm:"size:32;not null" json:"type"`
	Amount               int64     `json:"amount"` // 最小货币单位
	Currency             string    `gorm:"size:8" json:"currency"`
	CreatedAt            time.Time `json:"created_at"`
}

func (PaymentTransaction) TableName() string {
	return "payment_transactions"
}
