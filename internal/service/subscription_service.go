package service

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/credit_go_server/internal/model"
	"github.com/qs3c/credit_go_server/internal/model/dto"
	"github.com/qs3c/credit_go_server/internal/repository"
)

type SubscriptionService struct {
	subRepo  *repository.SubscriptionRepository
	userRepo *repository.UserRepository
}

func NewSubscriptionService(subRepo *repository.SubscriptionRepository, userRepo *repository.UserRepository) *SubscriptionService {
	return &SubscriptionService{
		subRepo:  subRepo,
		userRepo: userRepo,
	}
}

// GetOverview 当前生效订阅及历史记录
func (s *SubscriptionService) GetOverview(ctx context.Context, userID int64) (*dto.SubscriptionOverview, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUnknownUser
		}
		return nil, err
	}

	subs, err := s.subRepo.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	overview := &dto.SubscriptionOverview{
		UserType: user.Type,
		History:  make([]dto.SubscriptionInfo, 0, len(subs)),
	}

	active, err := s.subRepo.GetActiveByUser(ctx, userID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	if active != nil {
		info := toSubscriptionInfo(active)
		overview.Current = &info
	}

	for i := range subs {
		overview.History = append(overview.History, toSubscriptionInfo(&subs[i]))
	}
	return overview, nil
}

func toSubscriptionInfo(sub *model.Subscription) dto.SubscriptionInfo {
	info := dto.SubscriptionInfo{
		ID:                    sub.ID,
		PlanType:              sub.PlanType,
		Status:                sub.Status,
		PaymentSubscriptionID: sub.PaymentSubscriptionID,
		Amount:                sub.Amount,
		Currency:              sub.Currency,
		StartedAt:             sub.StartedAt.Format(time.RFC3339),
		ExpiresAt:             formatTimePtr(sub.ExpiresAt),
		NextBillingAt:         formatTimePtr(sub.NextBillingAt),
		CanceledAt:            formatTimePtr(sub.CanceledAt),
	}
	return info
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}
