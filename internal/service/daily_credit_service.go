package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/qs3c/credit_go_server/config"
	"github.com/qs3c/credit_go_server/internal/model"
	"github.com/qs3c/credit_go_server/internal/repository"
)

const dailyFreeDedupPrefix = "daily_free:"

type DailyCreditService struct {
	creditRepo *repository.CreditRepository
	userRepo   *repository.UserRepository
	ledger     *LedgerService
	amount     int64
	log        zerolog.Logger
	now        func() time.Time
}

func NewDailyCreditService(
	creditRepo *repository.CreditRepository,
	userRepo *repository.UserRepository,
	ledger *LedgerService,
	cfg *config.Config,
	log zerolog.Logger,
) *DailyCreditService {
	return &DailyCreditService{
		creditRepo: creditRepo,
		userRepo:   userRepo,
		ledger:     ledger,
		amount:     cfg.Credit.DailyFreeAmount,
		log:        log.With().Str("component", "daily_credit").Logger(),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// DayWindow 返回 t 所在 UTC 自然日的起止时间
func DayWindow(t time.Time) (start, end time.Time) {
	t = t.UTC()
	start = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	end = start.Add(24*time.Hour - time.Millisecond)
	return start, end
}

// IssueDailyCreditIfDue 免费用户每个 UTC 日发放一次积分，当天有效
func (s *DailyCreditService) IssueDailyCreditIfDue(ctx context.Context, userID int64, userType string) (bool, error) {
	if userType != model.UserTypeFree || s.amount <= 0 {
		return false, nil
	}

	now := s.now()
	todayStart, todayEnd := DayWindow(now)

	issued, err := s.creditRepo.ExistsIssuedSince(ctx, userID, model.CreditTypeDailyFree, todayStart)
	if err != nil {
		return false, fmt.Errorf("check daily credit: %w", err)
	}
	if issued {
		return false, nil
	}

	key := dailyFreeDedupPrefix + todayStart.Format("2006-01-02")
	grant := &model.CreditGrant{
		UserID:    userID,
		Type:      model.CreditTypeDailyFree,
		Amount:    s.amount,
		IssuedAt:  now,
		ExpiresAt: &todayEnd,
		DedupKey:  &key,
	}

	// 并发请求由 (user_id, dedup_key) 唯一索引兜底
	created, err := s.ledger.IssueGrant(ctx, nil, grant)
	if err != nil {
		return false, fmt.Errorf("issue daily credit: %w", err)
	}
	if !created {
		s.log.Debug().Int64("user_id", userID).Str("dedup_key", key).Msg("daily credit already issued")
		return false, nil
	}

	s.ledger.NotifyGranted(ctx, grant)
	return true, nil
}

// IssueForUser 按用户当前套餐判断是否发放
func (s *DailyCreditService) IssueForUser(ctx context.Context, userID int64) (bool, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, ErrUnknownUser
		}
		return false, err
	}
	return s.IssueDailyCreditIfDue(ctx, user.ID, user.Type)
}
