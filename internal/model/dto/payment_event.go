package dto

import (
	"time"
)

// 支付平台事件类型
const (
	EventCheckoutCompleted    = "checkout.completed"
	EventSubscriptionActive   = "subscription.active"
	EventSubscriptionPaid     = "subscription.paid"
	EventSubscriptionCanceled = "subscription.canceled"
	EventSubscriptionExpired  = "subscription.expired"
	EventSubscriptionPaused   = "subscription.paused"
)

const (
	BillingTypeOneTime   = "onetime"
	BillingTypeRecurring = "recurring"
)

// PaymentEvent 已验签并解析的支付平台事件
type PaymentEvent struct {
	EventID        string
	Type           string
	SubscriptionID string
	TransactionID  string
	CustomerID     string
	CustomerEmail  string
	ProductID      string
	BillingType    string
	Metadata       map[string]string
	UserID         int64 // 0 表示 metadata 中没有可用的用户 ID
	AmountPaid     int64 // 本次扣款金额，最小货币单位
	ProductPrice   int64
	Currency       string // 产品币种
	PaidCurrency   string // 扣款币种
	PeriodEnd      *time.Time
	NextBillingAt  *time.Time
	CreatedAt      time.Time
}

// IsOneTime 是否一次性购买
func (e *PaymentEvent) IsOneTime() bool {
	return e.BillingType == BillingTypeOneTime
}
