package model

import (
	"time"
)

const (
	SubscriptionStatusActive   = "active"
	SubscriptionStatusCanceled = "canceled"
	SubscriptionStatusPaused   = "paused"
	SubscriptionStatusExpired  = "expired"
)

type Subscription struct {
	ID                    int64      `gorm:"primaryKey" json:"id"`
	UserID                int64      `gorm:"not null;index:idx_subscriptions_user_status,priority:1" json:"user_id"`
	PaymentPlatform       string     `gorm:"size:20;not null" json:"payment_platform"`
	PaymentSubscriptionID string     `gorm:"size:191;not null;uniqueIndex" json:"payment_subscription_id"`
	PaymentCustomerID     string     `gorm:"size:191" json:"payment_customer_id"`
	ProductID             string     `gorm:"size:191" json:"product_id"`
	PlanType              string     `gorm:"size:32;not null" json:"plan_type"` // 订阅 SKU，如 monthly_basic
	Status                string     `gorm:"size:20;not null;default:active;index:idx_subscriptions_user_status,priority:2" json:"status"`
	Amount                int64      `json:"amount"`
	Currency              string     `gorm:"size:8" json:"currency"`
	StartedAt             time.Time  `gorm:"not null" json:"started_at"`
	ExpiresAt             *time.Time `json:"expires_at,omitempty"`
	NextBillingAt         *time.Time `json:"next_billing_at,omitempty"`
	CanceledAt            *time.Time `json:"canceled_at,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

func (Subscription) TableName() string {
	return "subscriptions"
}
