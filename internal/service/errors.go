package service

import "errors"

// 积分账本
var (
	ErrInvalidAmount          = errors.New("积分数量必须大于 0")
	ErrNoAvailableCredit      = errors.New("没有可用积分")
	ErrInsufficientCredit     = errors.New("积分不足")
	ErrTransactionNotFound    = errors.New("积分流水不存在")
	ErrNotAConsumeTransaction = errors.New("只能退还消费流水")
	ErrAlreadyRefunded        = errors.New("该消费已退款")
	ErrInvalidRefundAmount    = errors.New("退款数量无效")
	ErrConcurrentUpdate       = errors.New("积分并发更新冲突，请重试")
)

// 支付回调，这几类错误的事件会被记录后丢弃，不再重试
var (
	ErrMissingUserID         = errors.New("回调缺少用户 ID")
	ErrUnresolvedProduct     = errors.New("无法识别的产品 ID")
	ErrMissingSubscriptionID = errors.New("回调缺少订阅 ID")
	ErrUnknownUser           = errors.New("用户不存在")
)

// IsDroppedEvent 回调是否因数据不完整被丢弃
func IsDroppedEvent(err error) bool {
	return errors.Is(err, ErrMissingUserID) ||
		errors.Is(err, ErrUnresolvedProduct) ||
		errors.Is(err, ErrMissingSubscriptionID) ||
		errors.Is(err, ErrUnknownUser)
}

// ErrInvalidSignature 回调签名校验失败
var ErrInvalidSignature = errors.New("回调签名无效")
