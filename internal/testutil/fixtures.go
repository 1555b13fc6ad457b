package testutil

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/credit_go_server/internal/model"
)

var seq int64

func nextSeq() int64 {
	return atomic.AddInt64(&seq, 1)
}

// TestUser 创建测试用户
func TestUser(t *testing.T, db *gorm.DB, opts ...func(*model.User)) *model.User {
	t.Helper()

	n := nextSeq()
	email := fmt.Sprintf("test_%d@example.com", n)
	user := &model.User{
		Username: fmt.Sprintf("testuser_%d", n),
		Email:    &email,
		Type:     model.UserTypeFree,
	}

	for _, opt := range opts {
		opt(user)
	}

	if err := db.Create(user).Error; err != nil {
		t.Fatalf("Failed to create test user: %v", err)
	}

	return user
}

// WithEmail 设置邮箱
func WithEmail(email string) func(*model.User) {
	return func(u *model.User) {
		u.Email = &email
	}
}

// WithUserType 设置用户类型
func WithUserType(userType string) func(*model.User) {
	return func(u *model.User) {
		u.Type = userType
	}
}

// TestGrant 创建测试积分额度
func TestGrant(t *testing.T, db *gorm.DB, userID int64, amount int64, opts ...func(*model.CreditGrant)) *model.CreditGrant {
	t.Helper()

	grant := &model.CreditGrant{
		UserID:   userID,
		Type:     "monthly_basic",
		Amount:   amount,
		IssuedAt: time.Now().UTC(),
	}

	for _, opt := range opts {
		opt(grant)
	}

	if err := db.Create(grant).Error; err != nil {
		t.Fatalf("Failed to create test grant: %v", err)
	}

	return grant
}

// WithGrantType 设置额度类型
func WithGrantType(grantType string) func(*model.CreditGrant) {
	return func(g *model.CreditGrant) {
		g.Type = grantType
	}
}

// WithConsumed 设置已消费数量
func WithConsumed(consumed int64) func(*model.CreditGrant) {
	return func(g *model.CreditGrant) {
		g.Consumed = consumed
	}
}

// WithIssuedAt 设置发放时间
func WithIssuedAt(issuedAt time.Time) func(*model.CreditGrant) {
	return func(g *model.CreditGrant) {
		g.IssuedAt = issuedAt
	}
}

// WithExpiresAt 设置过期时间
func WithExpiresAt(expiresAt time.Time) func(*model.CreditGrant) {
	return func(g *model.CreditGrant) {
		g.ExpiresAt = &expiresAt
	}
}

// TestSubscription 创建测试订阅
func TestSubscription(t *testing.T, db *gorm.DB, userID int64, paymentSubscriptionID string, opts ...func(*model.Subscription)) *model.Subscription {
	t.Helper()

	sub := &model.Subscription{
		UserID:                userID,
		PaymentPlatform:       "creem",
		PaymentSubscriptionID: paymentSubscriptionID,
		PlanType:              "monthly_basic",
		Status:                model.SubscriptionStatusActive,
		StartedAt:             time.Now().UTC(),
	}

	for _, opt := range opts {
		opt(sub)
	}

	if err := db.Create(sub).Error; err != nil {
		t.Fatalf("Failed to create test subscription: %v", err)
	}

	return sub
}

// WithSubscriptionStatus 设置订阅状态
func WithSubscriptionStatus(status string) func(*model.Subscription) {
	return func(s *model.Subscription) {
		s.Status = status
	}
}

// WithPlanType 设置订阅 SKU
func WithPlanType(planType string) func(*model.Subscription) {
	return func(s *model.Subscription) {
		s.PlanType = planType
	}
}
