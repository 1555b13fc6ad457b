package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/qs3c/credit_go_server/internal/model"
	"github.com/qs3c/credit_go_server/internal/model/dto"
	"github.com/qs3c/credit_go_server/internal/pkg/catalog"
	"github.com/qs3c/credit_go_server/internal/repository"
)

const paymentDedupPrefix = "payment:"

// ProductCatalog 产品 ID 反查 SKU
type ProductCatalog interface {
	PlanByProductID(productID string) (*catalog.Plan, bool)
	CreditPackByProductID(productID string) (*catalog.CreditPack, bool)
}

type WebhookService struct {
	db       *gorm.DB
	subRepo  *repository.SubscriptionRepository
	payRepo  *repository.PaymentTransactionRepository
	userRepo *repository.UserRepository
	ledger   *LedgerService
	catalog  ProductCatalog
	provider string
	log      zerolog.Logger
	now      func() time.Time
}

func NewWebhookService(
	db *gorm.DB,
	subRepo *repository.SubscriptionRepository,
	payRepo *repository.PaymentTransactionRepository,
	userRepo *repository.UserRepository,
	ledger *LedgerService,
	catalog ProductCatalog,
	provider string,
	log zerolog.Logger,
) *WebhookService {
	return &WebhookService{
		db:       db,
		subRepo:  subRepo,
		payRepo:  payRepo,
		userRepo: userRepo,
		ledger:   ledger,
		catalog:  catalog,
		provider: provider,
		log:      log.With().Str("component", "webhook").Logger(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// HandleEvent 处理一条已验签的支付事件。
// 返回错误表示需要支付平台重试；数据不完整的事件记录日志后按成功处理。
func (s *WebhookService) HandleEvent(ctx context.Context, event *dto.PaymentEvent) error {
	logger := s.log.With().
		Str("event_id", event.EventID).
		Str("event_type", event.Type).
		Logger()

	var err error
	switch event.Type {
	case dto.EventCheckoutCompleted:
		err = s.checkoutCompleted(ctx, event)
	case dto.EventSubscriptionActive:
		if err = s.subscriptionActive(ctx, event); err == nil {
			s.grantAccess(ctx, event)
		}
	case dto.EventSubscriptionPaid:
		if err = s.subscriptionPaid(ctx, event); err == nil {
			s.grantAccess(ctx, event)
		}
	case dto.EventSubscriptionCanceled:
		_, err = s.updateStatus(ctx, event, model.SubscriptionStatusCanceled)
	case dto.EventSubscriptionExpired, dto.EventSubscriptionPaused:
		status := model.SubscriptionStatusExpired
		if event.Type == dto.EventSubscriptionPaused {
			status = model.SubscriptionStatusPaused
		}
		var sub *model.Subscription
		if sub, err = s.updateStatus(ctx, event, status); err == nil {
			err = s.revokeAccess(ctx, event, sub)
		}
	default:
		logger.Debug().Msg("ignored event type")
		return nil
	}

	if err != nil {
		if IsDroppedEvent(err) {
			logger.Error().Err(err).
				Int64("user_id", event.UserID).
				Str("product_id", event.ProductID).
				Str("subscription_id", event.SubscriptionID).
				Msg("event dropped")
			return nil
		}
		logger.Error().Err(err).Msg("event handling failed")
		return err
	}
	return nil
}

func (s *WebhookService) ensureUser(ctx context.Context, userID int64) error {
	if userID == 0 {
		return ErrMissingUserID
	}
	exists, err := s.userRepo.ExistsByID(ctx, userID)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %d", ErrUnknownUser, userID)
	}
	return nil
}

func (s *WebhookService) resolvePlan(productID string) (*catalog.Plan, error) {
	plan, ok := s.catalog.PlanByProductID(productID)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnresolvedProduct, productID)
	}
	return plan, nil
}

// checkoutCompleted 一次性积分包购买
func (s *WebhookService) checkoutCompleted(ctx context.Context, event *dto.PaymentEvent) error {
	if !event.IsOneTime() {
		s.log.Debug().Str("event_id", event.EventID).Str("billing_type", event.BillingType).Msg("subscription checkout ignored")
		return nil
	}

	if err := s.ensureUser(ctx, event.UserID); err != nil {
		return err
	}
	pack, ok := s.catalog.CreditPackByProductID(event.ProductID)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnresolvedProduct, event.ProductID)
	}

	paymentID := event.TransactionID
	if paymentID == "" {
		paymentID = event.EventID
	}

	now := s.now()
	var grant *model.CreditGrant
	duplicate := false

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		pt := &model.PaymentTransaction{
			UserID:               event.UserID,
			PaymentPlatform:      s.provider,
			PaymentTransactionID: paymentID,
			ProductID:            event.ProductID,
			Type:                 model.PaymentTypeOneTime,
			Amount:               event.AmountPaid,
			Currency:             event.PaidCurrency,
		}
		created, err := s.payRepo.WithTx(tx).CreateIfAbsent(ctx, pt)
		if err != nil {
			return fmt.Errorf("record payment %s: %w", paymentID, err)
		}
		if !created {
			duplicate = true
			return nil
		}

		key := paymentDedupPrefix + paymentID
		grant = &model.CreditGrant{
			UserID:              event.UserID,
			Type:                model.CreditTypeCreditPackPrefix + pack.ID,
			Amount:              pack.Credits,
			IssuedAt:            now,
			SourceTransactionID: &pt.ID,
			DedupKey:            &key,
		}
		if pack.ValidDays > 0 {
			expiresAt := now.AddDate(0, 0, pack.ValidDays)
			grant.ExpiresAt = &expiresAt
		}
		if _, err := s.ledger.IssueGrant(ctx, tx, grant); err != nil {
			return fmt.Errorf("grant credit pack %s: %w", pack.ID, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if duplicate {
		s.log.Info().Str("event_id", event.EventID).Str("payment_transaction_id", paymentID).Msg("duplicate checkout ignored")
		return nil
	}

	s.ledger.NotifyGranted(ctx, grant)
	return nil
}

// subscriptionActive 订阅生效，同一用户只保留一条生效订阅
func (s *WebhookService) subscriptionActive(ctx context.Context, event *dto.PaymentEvent) error {
	if event.SubscriptionID == "" {
		return ErrMissingSubscriptionID
	}
	if err := s.ensureUser(ctx, event.UserID); err != nil {
		return err
	}
	plan, err := s.resolvePlan(event.ProductID)
	if err != nil {
		return err
	}

	now := s.now()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		subs := s.subRepo.WithTx(tx)

		sub, err := subs.GetByPaymentID(ctx, event.SubscriptionID)
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			sub, err = subs.Upsert(ctx, s.newSubscription(event, plan, model.SubscriptionStatusActive, now))
			if err != nil {
				return fmt.Errorf("create subscription: %w", err)
			}
		case err != nil:
			return err
		default:
			if isTerminal(sub.Status) {
				s.log.Warn().
					Str("subscription_id", event.SubscriptionID).
					Str("status", sub.Status).
					Msg("active event for finished subscription ignored")
				return nil
			}
			s.refreshSubscription(sub, event, plan)
			sub.Status = model.SubscriptionStatusActive
			if err := subs.Update(ctx, sub); err != nil {
				return fmt.Errorf("update subscription: %w", err)
			}
		}

		canceled, err := subs.CancelOtherActive(ctx, event.UserID, sub.ID, now)
		if err != nil {
			return fmt.Errorf("cancel previous subscriptions: %w", err)
		}
		if canceled > 0 {
			s.log.Info().Int64("user_id", event.UserID).Int64("canceled", canceled).Msg("previous active subscriptions canceled")
		}

		return s.userRepo.WithTx(tx).UpdateFields(ctx, event.UserID, map[string]interface{}{
			"current_subscription_id": sub.ID,
		})
	})
}

// subscriptionPaid 续费或首付，订阅信息每次都刷新，积分按交易号只发一次
func (s *WebhookService) subscriptionPaid(ctx context.Context, event *dto.PaymentEvent) error {
	if event.SubscriptionID == "" {
		return ErrMissingSubscriptionID
	}
	if err := s.ensureUser(ctx, event.UserID); err != nil {
		return err
	}
	plan, err := s.resolvePlan(event.ProductID)
	if err != nil {
		return err
	}

	now := s.now()
	var grant *model.CreditGrant
	duplicate := false

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		subs := s.subRepo.WithTx(tx)

		sub, err := subs.GetByPaymentID(ctx, event.SubscriptionID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// paid 可能先于 active 到达
			sub, err = subs.GetActiveByUser(ctx, event.UserID)
		}
		if errors.Is(err, gorm.ErrRecordNotFound) {
			sub, err = subs.Upsert(ctx, s.newSubscription(event, plan, model.SubscriptionStatusActive, now))
		}
		if err != nil {
			return fmt.Errorf("resolve subscription: %w", err)
		}

		s.refreshSubscription(sub, event, plan)
		if sub.Status == model.SubscriptionStatusPaused {
			sub.Status = model.SubscriptionStatusActive
		}
		if err := subs.Update(ctx, sub); err != nil {
			return fmt.Errorf("update subscription: %w", err)
		}

		subID := sub.ID
		if err := s.userRepo.WithTx(tx).UpdatePlan(ctx, event.UserID, plan.PlanType, &subID); err != nil {
			return fmt.Errorf("update user plan: %w", err)
		}

		if event.AmountPaid <= 0 || event.TransactionID == "" {
			s.log.Info().
				Str("subscription_id", event.SubscriptionID).
				Int64("amount_paid", event.AmountPaid).
				Msg("no credits granted for subscription payment")
			return nil
		}

		pt := &model.PaymentTransaction{
			UserID:               event.UserID,
			SubscriptionID:       &subID,
			PaymentPlatform:      s.provider,
			PaymentTransactionID: event.TransactionID,
			ProductID:            event.ProductID,
			Type:                 model.PaymentTypeSubscription,
			Amount:               event.AmountPaid,
			Currency:             event.PaidCurrency,
		}
		created, err := s.payRepo.WithTx(tx).CreateIfAbsent(ctx, pt)
		if err != nil {
			return fmt.Errorf("record payment %s: %w", event.TransactionID, err)
		}
		if !created {
			duplicate = true
			return nil
		}

		key := paymentDedupPrefix + event.TransactionID
		grant = &model.CreditGrant{
			UserID:              event.UserID,
			Type:                plan.SKU,
			Amount:              plan.Credits,
			IssuedAt:            now,
			ExpiresAt:           event.PeriodEnd,
			SourceTransactionID: &pt.ID,
			DedupKey:            &key,
		}
		if _, err := s.ledger.IssueGrant(ctx, tx, grant); err != nil {
			return fmt.Errorf("grant subscription credits: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if duplicate {
		s.log.Info().Str("event_id", event.EventID).Str("payment_transaction_id", event.TransactionID).Msg("duplicate subscription payment ignored")
		return nil
	}
	if grant != nil {
		s.ledger.NotifyGranted(ctx, grant)
	}
	return nil
}

// updateStatus 处理取消、过期、暂停。订阅尚未落库时按事件内容直接建一条对应状态的记录
func (s *WebhookService) updateStatus(ctx context.Context, event *dto.PaymentEvent, status string) (*model.Subscription, error) {
	if event.SubscriptionID == "" {
		return nil, ErrMissingSubscriptionID
	}

	now := s.now()
	sub, err := s.subRepo.GetByPaymentID(ctx, event.SubscriptionID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return s.createWithStatus(ctx, event, status, now)
	}
	if err != nil {
		return nil, err
	}

	var canceledAt *time.Time
	if status == model.SubscriptionStatusCanceled {
		canceledAt = &now
		if sub.CanceledAt != nil {
			canceledAt = sub.CanceledAt
		}
	}
	if err := s.subRepo.UpdateStatus(ctx, sub.ID, status, canceledAt); err != nil {
		return nil, fmt.Errorf("update subscription status: %w", err)
	}
	sub.Status = status
	sub.CanceledAt = canceledAt

	s.log.Info().
		Str("subscription_id", event.SubscriptionID).
		Int64("user_id", sub.UserID).
		Str("status", status).
		Msg("subscription status updated")
	return sub, nil
}

func (s *WebhookService) createWithStatus(ctx context.Context, event *dto.PaymentEvent, status string, now time.Time) (*model.Subscription, error) {
	if err := s.ensureUser(ctx, event.UserID); err != nil {
		return nil, err
	}
	plan, err := s.resolvePlan(event.ProductID)
	if err != nil {
		return nil, err
	}

	sub := s.newSubscription(event, plan, status, now)
	if status == model.SubscriptionStatusCanceled {
		sub.CanceledAt = &now
	}
	stored, err := s.subRepo.Upsert(ctx, sub)
	if err != nil {
		return nil, fmt.Errorf("create subscription: %w", err)
	}

	s.log.Warn().
		Str("subscription_id", event.SubscriptionID).
		Str("status", status).
		Msg("status event arrived before subscription was created")
	return stored, nil
}

func (s *WebhookService) newSubscription(event *dto.PaymentEvent, plan *catalog.Plan, status string, now time.Time) *model.Subscription {
	return &model.Subscription{
		UserID:                event.UserID,
		PaymentPlatform:       s.provider,
		PaymentSubscriptionID: event.SubscriptionID,
		PaymentCustomerID:     event.CustomerID,
		ProductID:             event.ProductID,
		PlanType:              plan.SKU,
		Status:                status,
		Amount:                event.ProductPrice,
		Currency:              event.Currency,
		StartedAt:             now,
		ExpiresAt:             event.PeriodEnd,
		NextBillingAt:         event.NextBillingAt,
	}
}

func (s *WebhookService) refreshSubscription(sub *model.Subscription, event *dto.PaymentEvent, plan *catalog.Plan) {
	sub.ProductID = event.ProductID
	sub.PlanType = plan.SKU
	sub.Amount = event.ProductPrice
	sub.Currency = event.Currency
	sub.ExpiresAt = event.PeriodEnd
	sub.NextBillingAt = event.NextBillingAt
	if event.CustomerID != "" {
		sub.PaymentCustomerID = event.CustomerID
	}
}

// grantAccess 预留扩展点
func (s *WebhookService) grantAccess(ctx context.Context, event *dto.PaymentEvent) {
	s.log.Debug().Str("event_id", event.EventID).Int64("user_id", event.UserID).Msg("grant access")
}

// revokeAccess 降级为免费用户，已发放的积分保留到自然过期
func (s *WebhookService) revokeAccess(ctx context.Context, event *dto.PaymentEvent, sub *model.Subscription) error {
	userID := event.UserID
	if userID == 0 && sub != nil {
		userID = sub.UserID
	}
	if userID == 0 {
		return ErrMissingUserID
	}

	// 用户还有其他生效订阅时不降级
	active, err := s.subRepo.GetActiveByUser(ctx, userID)
	if err == nil {
		s.log.Info().
			Int64("user_id", userID).
			Int64("active_subscription_id", active.ID).
			Msg("revoke skipped, user has another active subscription")
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	if err := s.userRepo.UpdatePlan(ctx, userID, model.UserTypeFree, nil); err != nil {
		return fmt.Errorf("revoke access: %w", err)
	}

	s.log.Info().
		Int64("user_id", userID).
		Str("email", event.CustomerEmail).
		Str("reason", event.Type).
		Msg("access revoked")
	return nil
}

func isTerminal(status string) bool {
	return status == model.SubscriptionStatusCanceled || status == model.SubscriptionStatusExpired
}
