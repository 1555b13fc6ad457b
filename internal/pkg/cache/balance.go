package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	balanceKeyPrefix = "credit:balance:"
	versionKeyPrefix = "credit:balance:ver:"

	versionTTL = 24 * time.Hour
)

// 版本号与读取时一致才写入，避免旧快照覆盖 Invalidate
var setIfVersionScript = redis.NewScript(`
local v = redis.call('GET', KEYS[2])
if (v or '0') ~= ARGV[1] then
	return 0
end
redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
return 1
`)

// BalanceCache 用户可用积分的短期缓存
type BalanceCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewBalanceCache(client *redis.Client, ttl time.Duration) *BalanceCache {
	return &BalanceCache{client: client, ttl: ttl}
}

func balanceKey(userID int64) string {
	return balanceKeyPrefix + strconv.FormatInt(userID, 10)
}

func versionKey(userID int64) string {
	return versionKeyPrefix + strconv.FormatInt(userID, 10)
}

// Get 读取缓存，未命中时 ok 为 false
func (c *BalanceCache) Get(ctx context.Context, userID int64) (int64, bool, error) {
	val, err := c.client.Get(ctx, balanceKey(userID)).Int64()
	if err != nil {
		if err == redis.Nil {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to get balance cache: %w", err)
	}
	return val, true, nil
}

// Version 当前失效版本号，查库前读取，写缓存时带回
func (c *BalanceCache) Version(ctx context.Context, userID int64) (int64, error) {
	v, err := c.client.Get(ctx, versionKey(userID)).Int64()
	if err != nil {
		if err == redis.Nil {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get balance version: %w", err)
	}
	return v, nil
}

// Set 版本号未变化时写入余额。ttl 超过默认值或不大于 0 时使用默认值；
// 期间发生过 Invalidate 则放弃写入并返回 false
func (c *BalanceCache) Set(ctx context.Context, userID, version, balance int64, ttl time.Duration) (bool, error) {
	if ttl <= 0 || ttl > c.ttl {
		ttl = c.ttl
	}
	ms := ttl.Milliseconds()
	if ms <= 0 {
		return false, nil
	}

	res, err := setIfVersionScript.Run(ctx, c.client,
		[]string{balanceKey(userID), versionKey(userID)},
		strconv.FormatInt(version, 10), balance, ms,
	).Int()
	if err != nil {
		return false, fmt.Errorf("failed to set balance cache: %w", err)
	}
	return res == 1, nil
}

// Invalidate 删除缓存并推进版本号，余额变动后调用
func (c *BalanceCache) Invalidate(ctx context.Context, userID int64) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, versionKey(userID))
		pipe.Expire(ctx, versionKey(userID), versionTTL)
		pipe.Del(ctx, balanceKey(userID))
		return nil
	})
	return err
}
