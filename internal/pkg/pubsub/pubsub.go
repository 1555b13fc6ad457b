package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
)

const (
	ChannelCreditEvents = "credit_events"
)

// 消息类型
const (
	TypeBalanceUpdated = "balance_updated"
)

// 余额变动原因
const (
	ReasonConsume = "consume"
	ReasonRefund  = "refund"
	ReasonGrant   = "grant"
)

// CreditMessage 积分变动消息
type CreditMessage struct {
	Type          string `json:"type"`
	UserID        int64  `json:"user_id"`
	Reason        string `json:"reason"`
	Delta         int64  `json:"delta"`
	TransactionID int64  `json:"transaction_id,omitempty"`
	GrantID       int64  `json:"grant_id,omitempty"`
	Message       string `json:"message,omitempty"`
}

// Publisher Redis 发布者
type Publisher struct {
	client *redis.Client
}

// NewPublisher 创建发布者
func NewPublisher(client *redis.Client) *Publisher {
	return &Publisher{client: client}
}

// PublishCredit 发布积分变动消息
func (p *Publisher) PublishCredit(ctx context.Context, msg *CreditMessage) error {
	if msg.Type == "" {
		msg.Type = TypeBalanceUpdated
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal credit message: %w", err)
	}

	return p.client.Publish(ctx, ChannelCreditEvents, data).Err()
}

// Subscriber Redis 订阅者
type Subscriber struct {
	client *redis.Client
}

// NewSubscriber 创建订阅者
func NewSubscriber(client *redis.Client) *Subscriber {
	return &Subscriber{client: client}
}

// Subscribe 订阅积分变动消息，ctx 取消后返回
func (s *Subscriber) Subscribe(ctx context.Context, handler func(*CreditMessage)) error {
	pubsub := s.client.Subscribe(ctx, ChannelCreditEvents)
	defer pubsub.Close()

	// 确认订阅已建立
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe %s: %w", ChannelCreditEvents, err)
	}

	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}

			var creditMsg CreditMessage
			if err := json.Unmarshal([]byte(msg.Payload), &creditMsg); err != nil {
				continue // 忽略解析错误
			}

			handler(&creditMsg)
		}
	}
}
