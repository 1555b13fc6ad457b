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
	"github.com/qs3c/credit_go_server/internal/pkg/pubsub"
	"github.com/qs3c/credit_go_server/internal/repository"
)

const defaultConsumeAttempts = 3

// errGrantChanged 扣减时额度已被其他请求修改，需要重新读取后重试
var errGrantChanged = errors.New("credit grant changed during consume")

// BalanceCache 余额缓存
type BalanceCache interface {
	Get(ctx context.Context, userID int64) (int64, bool, error)
	Version(ctx context.Context, userID int64) (int64, error)
	Set(ctx context.Context, userID, version, balance int64, ttl time.Duration) (bool, error)
	Invalidate(ctx context.Context, userID int64) error
}

// CreditNotifier 积分变动通知
type CreditNotifier interface {
	PublishCredit(ctx context.Context, msg *pubsub.CreditMessage) error
}

type LedgerService struct {
	db         *gorm.DB
	creditRepo *repository.CreditRepository
	txnRepo    *repository.CreditTransactionRepository
	cache      BalanceCache
	notifier   CreditNotifier
	log        zerolog.Logger
	now        func() time.Time

	maxAttempts int
}

func NewLedgerService(
	db *gorm.DB,
	creditRepo *repository.CreditRepository,
	txnRepo *repository.CreditTransactionRepository,
	log zerolog.Logger,
) *LedgerService {
	return &LedgerService{
		db:          db,
		creditRepo:  creditRepo,
		txnRepo:     txnRepo,
		log:         log.With().Str("component", "ledger").Logger(),
		now:         func() time.Time { return time.Now().UTC() },
		maxAttempts: defaultConsumeAttempts,
	}
}

// SetBalanceCache 设置余额缓存，未设置时每次查库
func (s *LedgerService) SetBalanceCache(cache BalanceCache) {
	s.cache = cache
}

// SetNotifier 设置积分变动通知
func (s *LedgerService) SetNotifier(notifier CreditNotifier) {
	s.notifier = notifier
}

// Consume 按发放时间先进先出扣减积分
func (s *LedgerService) Consume(ctx context.Context, userID int64, amount int64, note string) (*dto.ConsumeResult, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	var txn *model.CreditTransaction
	var balance int64
	var err error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		txn, balance, err = s.consumeOnce(ctx, userID, amount, note)
		if !errors.Is(err, errGrantChanged) {
			break
		}
		s.log.Debug().Int64("user_id", userID).Int("attempt", attempt).Msg("grant changed during consume, retrying")
	}
	if errors.Is(err, errGrantChanged) {
		s.log.Warn().Int64("user_id", userID).Int64("amount", amount).Msg("consume gave up after concurrent updates")
		return nil, ErrConcurrentUpdate
	}
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Int64("user_id", userID).
		Int64("amount", amount).
		Int64("transaction_id", txn.ID).
		Int("grants", len(txn.Entries)).
		Msg("credits consumed")

	s.afterMutation(ctx, &pubsub.CreditMessage{
		UserID:        userID,
		Reason:        pubsub.ReasonConsume,
		Delta:         -amount,
		TransactionID: txn.ID,
	})

	return &dto.ConsumeResult{
		TransactionID: txn.ID,
		Amount:        amount,
		Balance:       balance,
	}, nil
}

// consumeOnce 余额在同一事务内算出，提交后不再有可能失败的读
func (s *LedgerService) consumeOnce(ctx context.Context, userID int64, amount int64, note string) (*model.CreditTransaction, int64, error) {
	now := s.now()
	var txn *model.CreditTransaction
	var balance int64

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		credits := s.creditRepo.WithTx(tx)

		grants, err := credits.ListConsumable(ctx, userID, now)
		if err != nil {
			return fmt.Errorf("list consumable grants: %w", err)
		}
		if len(grants) == 0 {
			return ErrNoAvailableCredit
		}

		var total int64
		for i := range grants {
			total += grants[i].Remaining()
		}
		if total < amount {
			return ErrInsufficientCredit
		}

		remaining := amount
		entries := make([]model.CreditTransactionEntry, 0, len(grants))
		for i := range grants {
			if remaining == 0 {
				break
			}
			g := &grants[i]
			before := g.Remaining()
			take := before
			if take > remaining {
				take = remaining
			}

			ok, err := credits.Debit(ctx, g.ID, take)
			if err != nil {
				return fmt.Errorf("debit grant %d: %w", g.ID, err)
			}
			if !ok {
				return errGrantChanged
			}

			entries = append(entries, model.CreditTransactionEntry{
				CreditGrantID: g.ID,
				Amount:        -take,
				BalanceBefore: before,
				BalanceAfter:  before - take,
			})
			remaining -= take
		}

		first := entries[0]
		txn = &model.CreditTransaction{
			UserID:        userID,
			CreditGrantID: first.CreditGrantID,
			Type:          model.CreditTxTypeConsume,
			Amount:        -amount,
			BalanceBefore: first.BalanceBefore,
			BalanceAfter:  first.BalanceAfter,
			Note:          note,
			Entries:       entries,
		}
		if err := s.txnRepo.WithTx(tx).Create(ctx, txn); err != nil {
			return err
		}

		balance, err = credits.SumAvailable(ctx, userID, now)
		if err != nil {
			return fmt.Errorf("sum balance: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return txn, s.floorBalance(userID, balance), nil
}

// Refund 退还一笔消费，每笔消费只能退一次
func (s *LedgerService) Refund(ctx context.Context, consumeTransactionID int64, note string) (*dto.RefundResult, error) {
	orig, err := s.loadConsume(ctx, consumeTransactionID)
	if err != nil {
		return nil, err
	}
	return s.refund(ctx, orig, note)
}

// RefundForUser 退还用户自己的消费
func (s *LedgerService) RefundForUser(ctx context.Context, userID, consumeTransactionID int64, note string) (*dto.RefundResult, error) {
	orig, err := s.loadConsume(ctx, consumeTransactionID)
	if err != nil {
		return nil, err
	}
	if orig.UserID != userID {
		return nil, ErrTransactionNotFound
	}
	return s.refund(ctx, orig, note)
}

func (s *LedgerService) loadConsume(ctx context.Context, id int64) (*model.CreditTransaction, error) {
	orig, err := s.txnRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	if orig.Type != model.CreditTxTypeConsume {
		return nil, ErrNotAConsumeTransaction
	}
	if -orig.Amount <= 0 {
		return nil, ErrInvalidRefundAmount
	}
	return orig, nil
}

type restoreItem struct {
	grantID int64
	amount  int64
}

func (s *LedgerService) refund(ctx context.Context, orig *model.CreditTransaction, note string) (*dto.RefundResult, error) {
	exists, err := s.txnRepo.ExistsRefundOf(ctx, orig.ID)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrAlreadyRefunded
	}

	refundAmount := -orig.Amount

	// 没有明细的旧流水整笔退回到 credit_grant_id
	items := make([]restoreItem, 0, len(orig.Entries))
	for _, e := range orig.Entries {
		if e.Amount < 0 {
			items = append(items, restoreItem{grantID: e.CreditGrantID, amount: -e.Amount})
		}
	}
	if len(items) == 0 {
		items = append(items, restoreItem{grantID: orig.CreditGrantID, amount: refundAmount})
	}

	var refundTxn *model.CreditTransaction
	var shortfall, balance int64
	now := s.now()

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		credits := s.creditRepo.WithTx(tx)

		// 行锁保证流水里的前后余额与实际回滚的数量一致
		entries := make([]model.CreditTransactionEntry, 0, len(items))
		applied := make([]int64, len(items))
		for i, item := range items {
			grant, err := credits.GetByIDForUpdate(ctx, item.grantID)
			if err != nil {
				return fmt.Errorf("load grant %d: %w", item.grantID, err)
			}
			applied[i] = item.amount
			if applied[i] > grant.Consumed {
				applied[i] = grant.Consumed
			}
			shortfall += item.amount - applied[i]

			before := grant.Remaining()
			entries = append(entries, model.CreditTransactionEntry{
				CreditGrantID: grant.ID,
				Amount:        applied[i],
				BalanceBefore: before,
				BalanceAfter:  before + applied[i],
			})
		}

		related := orig.ID
		first := entries[0]
		refundTxn = &model.CreditTransaction{
			UserID:               orig.UserID,
			CreditGrantID:        first.CreditGrantID,
			Type:                 model.CreditTxTypeRefund,
			Amount:               refundAmount,
			BalanceBefore:        first.BalanceBefore,
			BalanceAfter:         first.BalanceAfter,
			RelatedTransactionID: &related,
			Note:                 note,
			Entries:              entries,
		}

		// 先写退款流水，唯一索引挡住并发的重复退款
		created, err := s.txnRepo.WithTx(tx).CreateRefund(ctx, refundTxn)
		if err != nil {
			return fmt.Errorf("create refund: %w", err)
		}
		if !created {
			return ErrAlreadyRefunded
		}

		for i, item := range items {
			if applied[i] == 0 {
				continue
			}
			if err := credits.Restore(ctx, item.grantID, applied[i]); err != nil {
				return fmt.Errorf("restore grant %d: %w", item.grantID, err)
			}
		}

		balance, err = credits.SumAvailable(ctx, orig.UserID, now)
		if err != nil {
			return fmt.Errorf("sum balance: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if shortfall > 0 {
		s.log.Warn().
			Int64("user_id", orig.UserID).
			Int64("consume_transaction_id", orig.ID).
			Int64("refund_transaction_id", refundTxn.ID).
			Int64("shortfall", shortfall).
			Msg("refund hit consumed floor, ledger inconsistent")
	}

	s.log.Info().
		Int64("user_id", orig.UserID).
		Int64("amount", refundAmount).
		Int64("transaction_id", refundTxn.ID).
		Int64("related_transaction_id", orig.ID).
		Msg("credits refunded")

	s.afterMutation(ctx, &pubsub.CreditMessage{
		UserID:        orig.UserID,
		Reason:        pubsub.ReasonRefund,
		Delta:         refundAmount - shortfall,
		TransactionID: refundTxn.ID,
	})

	return &dto.RefundResult{
		TransactionID:        refundTxn.ID,
		RelatedTransactionID: orig.ID,
		Amount:               refundAmount,
		Balance:              s.floorBalance(orig.UserID, balance),
		Shortfall:            shortfall,
	}, nil
}

// AvailableBalance 未过期额度的剩余总和
func (s *LedgerService) AvailableBalance(ctx context.Context, userID int64) (int64, error) {
	var version int64
	cacheable := false
	if s.cache != nil {
		balance, ok, err := s.cache.Get(ctx, userID)
		if err != nil {
			s.log.Warn().Err(err).Int64("user_id", userID).Msg("balance cache read failed")
		} else if ok {
			return balance, nil
		}

		// 版本号要在查库之前读，查库期间的变动会让这次写缓存失效
		if version, err = s.cache.Version(ctx, userID); err == nil {
			cacheable = true
		}
	}

	now := s.now()
	balance, err := s.creditRepo.SumAvailable(ctx, userID, now)
	if err != nil {
		return 0, err
	}
	balance = s.floorBalance(userID, balance)

	if cacheable {
		s.cacheBalance(ctx, userID, version, balance, now)
	}
	return balance, nil
}

func (s *LedgerService) floorBalance(userID, balance int64) int64 {
	if balance < 0 {
		s.log.Warn().Int64("user_id", userID).Int64("balance", balance).Msg("negative balance")
		return 0
	}
	return balance
}

// cacheBalance 缓存不能活过最早一笔额度的过期时间
func (s *LedgerService) cacheBalance(ctx context.Context, userID, version, balance int64, now time.Time) {
	var ttl time.Duration
	next, err := s.creditRepo.NextExpiry(ctx, userID, now)
	if err != nil {
		s.log.Warn().Err(err).Int64("user_id", userID).Msg("load next expiry failed")
		return
	}
	if next != nil {
		ttl = next.Sub(now)
		if ttl <= 0 {
			return
		}
	}

	if _, err := s.cache.Set(ctx, userID, version, balance, ttl); err != nil {
		s.log.Warn().Err(err).Int64("user_id", userID).Msg("balance cache write failed")
	}
}

// IssueGrant 发放一笔积分，tx 为空时直接写库；带去重键的重复发放返回 false
func (s *LedgerService) IssueGrant(ctx context.Context, tx *gorm.DB, grant *model.CreditGrant) (bool, error) {
	if grant.Amount <= 0 {
		return false, ErrInvalidAmount
	}
	if grant.IssuedAt.IsZero() {
		grant.IssuedAt = s.now()
	}

	credits := s.creditRepo
	if tx != nil {
		credits = credits.WithTx(tx)
	}

	if grant.DedupKey == nil {
		if err := credits.Create(ctx, grant); err != nil {
			return false, err
		}
		return true, nil
	}
	return credits.CreateIfAbsent(ctx, grant)
}

// NotifyGranted 发放事务提交后调用
func (s *LedgerService) NotifyGranted(ctx context.Context, grant *model.CreditGrant) {
	s.log.Info().
		Int64("user_id", grant.UserID).
		Int64("grant_id", grant.ID).
		Str("type", grant.Type).
		Int64("amount", grant.Amount).
		Msg("credits granted")

	s.afterMutation(ctx, &pubsub.CreditMessage{
		UserID:  grant.UserID,
		Reason:  pubsub.ReasonGrant,
		Delta:   grant.Amount,
		GrantID: grant.ID,
	})
}

func (s *LedgerService) afterMutation(ctx context.Context, msg *pubsub.CreditMessage) {
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, msg.UserID); err != nil {
			s.log.Warn().Err(err).Int64("user_id", msg.UserID).Msg("balance cache invalidate failed")
		}
	}
	if s.notifier != nil {
		if err := s.notifier.PublishCredit(ctx, msg); err != nil {
			s.log.Warn().Err(err).Int64("user_id", msg.UserID).Msg("publish credit event failed")
		}
	}
}

// ListGrants 用户全部额度
func (s *LedgerService) ListGrants(ctx context.Context, userID int64) ([]dto.GrantInfo, error) {
	grants, err := s.creditRepo.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	items := make([]dto.GrantInfo, 0, len(grants))
	for i := range grants {
		g := &grants[i]
		info := dto.GrantInfo{
			ID:        g.ID,
			Type:      g.Type,
			Amount:    g.Amount,
			Consumed:  g.Consumed,
			Remaining: g.Remaining(),
			IssuedAt:  g.IssuedAt.Format(time.RFC3339),
			Expired:   !g.ActiveAt(now),
		}
		if g.ExpiresAt != nil {
			info.ExpiresAt = g.ExpiresAt.Format(time.RFC3339)
		}
		items = append(items, info)
	}
	return items, nil
}

// ListTransactions 分页查询积分流水
func (s *LedgerService) ListTransactions(ctx context.Context, userID int64, req *dto.TransactionListRequest) ([]dto.TransactionRecord, int64, error) {
	if req.Page < 1 {
		req.Page = 1
	}
	if req.PageSize < 1 || req.PageSize > 100 {
		req.PageSize = 20
	}

	txns, total, err := s.txnRepo.ListByUser(ctx, userID, req.Type, req.Page, req.PageSize)
	if err != nil {
		return nil, 0, err
	}

	ids := make([]int64, 0, len(txns))
	for i := range txns {
		ids = append(ids, txns[i].CreditGrantID)
	}
	grantTypes, err := s.creditRepo.TypesByIDs(ctx, ids)
	if err != nil {
		return nil, 0, err
	}

	records := make([]dto.TransactionRecord, 0, len(txns))
	for i := range txns {
		records = append(records, toTransactionRecord(&txns[i], grantTypes))
	}
	return records, total, nil
}

// GetTransaction 用户自己的一条流水及其明细
func (s *LedgerService) GetTransaction(ctx context.Context, userID, id int64) (*dto.TransactionDetail, error) {
	txn, err := s.txnRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	if txn.UserID != userID {
		return nil, ErrTransactionNotFound
	}

	grantTypes, err := s.creditRepo.TypesByIDs(ctx, []int64{txn.CreditGrantID})
	if err != nil {
		return nil, err
	}

	detail := &dto.TransactionDetail{
		TransactionRecord: toTransactionRecord(txn, grantTypes),
		Entries:           make([]dto.TransactionEntry, 0, len(txn.Entries)),
	}
	for _, e := range txn.Entries {
		detail.Entries = append(detail.Entries, dto.TransactionEntry{
			CreditGrantID: e.CreditGrantID,
			Amount:        e.Amount,
			BalanceBefore: e.BalanceBefore,
			BalanceAfter:  e.BalanceAfter,
		})
	}
	return detail, nil
}

func toTransactionRecord(t *model.CreditTransaction, grantTypes map[int64]string) dto.TransactionRecord {
	return dto.TransactionRecord{
		ID:                   t.ID,
		Type:                 t.Type,
		Amount:               t.Amount,
		CreditGrantID:        t.CreditGrantID,
		GrantType:            grantTypes[t.CreditGrantID],
		BalanceBefore:        t.BalanceBefore,
		BalanceAfter:         t.BalanceAfter,
		RelatedTransactionID: t.RelatedTransactionID,
		Note:                 t.Note,
		CreatedAt:            t.CreatedAt.Format(time.RFC3339),
	}
}

// UsageStats 积分消费统计
func (s *LedgerService) UsageStats(ctx context.Context, userID int64) (*dto.UsageStats, error) {
	total, count, err := s.txnRepo.ConsumeStats(ctx, userID)
	if err != nil {
		return nil, err
	}

	stats := &dto.UsageStats{
		TotalConsumed: total,
		TotalRecords:  count,
	}
	if count > 0 {
		stats.AvgPerRecord = total / count
	}
	return stats, nil
}
