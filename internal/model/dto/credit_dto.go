package dto

// ConsumeRequest 消费积分请求
type ConsumeRequest struct {
	Amount int64  `json:"amount" binding:"required,gt=0"`
	Note   string `json:"note" binding:"max=500"`
}

// ConsumeResult 消费结果
type ConsumeResult struct {
	TransactionID int64 `json:"transaction_id"`
	Amount        int64 `json:"amount"`
	Balance       int64 `json:"balance"`
}

// RefundRequest 退款请求
type RefundRequest struct {
	TransactionID int64  `json:"transaction_id" binding:"required,gt=0"`
	Note          string `json:"note" binding:"max=500"`
}

// RefundResult 退款结果
type RefundResult struct {
	TransactionID        int64 `json:"transaction_id"`
	RelatedTransactionID int64 `json:"related_transaction_id"`
	Amount               int64 `json:"amount"`
	Balance              int64 `json:"balance"`
	// 扣减额度已被回滚到 0 的部分，正常为 0
	Shortfall int64 `json:"shortfall,omitempty"`
}

// BalanceResponse 积分余额
type BalanceResponse struct {
	Balance     int64 `json:"balance"`
	DailyIssued bool  `json:"daily_issued"`
}

// GrantInfo 积分额度信息
type GrantInfo struct {
	ID        int64  `json:"id"`
	Type      string `json:"type"`
	Amount    int64  `json:"amount"`
	Consumed  int64  `json:"consumed"`
	Remaining int64  `json:"remaining"`
	IssuedAt  string `json:"issued_at"`
	ExpiresAt string `json:"expires_at,omitempty"`
	Expired   bool   `json:"expired"`
}

// TransactionListRequest 积分流水查询参数
type TransactionListRequest struct {
	Page     int    `form:"page,default=1"`
	PageSize int    `form:"page_size,default=20"`
	Type     string `form:"type"` // consume, refund
}

// TransactionRecord 积分流水记录
type TransactionRecord struct {
	ID                   int64  `json:"id"`
	Type                 string `json:"type"`
	Amount               int64  `json:"amount"`
	CreditGrantID        int64  `json:"credit_grant_id"`
	GrantType            string `json:"grant_type"`
	BalanceBefore        int64  `json:"balance_before"`
	BalanceAfter         int64  `json:"balance_after"`
	RelatedTransactionID *int64 `json:"related_transaction_id,omitempty"`
	Note                 string `json:"note"`
	CreatedAt            string `json:"created_at"`
}

// TransactionEntry 流水在单个额度上的扣减/退回
type TransactionEntry struct {
	CreditGrantID int64 `json:"credit_grant_id"`
	Amount        int64 `json:"amount"`
	BalanceBefore int64 `json:"balance_before"`
	BalanceAfter  int64 `json:"balance_after"`
}

// TransactionDetail 流水详情
type TransactionDetail struct {
	TransactionRecord
	Entries []TransactionEntry `json:"entries"`
}

// UsageStats 积分使用统计
type UsageStats struct {
	TotalConsumed int64 `json:"total_consumed"`
	TotalRecords  int64 `json:"total_records"`
	AvgPerRecord  int64 `json:"avg_per_record"`
}

// SubscriptionInfo 订阅信息
type SubscriptionInfo struct {
	ID                    int64  `json:"id"`
	PlanType              string `json:"plan_type"`
	Status                string `json:"status"`
	PaymentSubscriptionID string `json:"payment_subscription_id"`
	Amount                int64  `json:"amount"`
	Currency              string `json:"currency"`
	StartedAt             string `json:"started_at"`
	ExpiresAt             string `json:"expires_at,omitempty"`
	NextBillingAt         string `json:"next_billing_at,omitempty"`
	CanceledAt            string `json:"canceled_at,omitempty"`
}

// SubscriptionOverview 当前订阅与历史
type SubscriptionOverview struct {
	UserType string             `json:"user_type"`
	Current  *SubscriptionInfo  `json:"current"`
	History  []SubscriptionInfo `json:"history"`
}
