// internal/service/ads/infrastructure/adapter/replay_queue_redis_adapter.go
package adapter

import (
	"context"
	"encoding/json"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"nova/internal/pkg/redis"
	"nova/internal/service/ads/domain"
)

const (
	spendReplayListKey     = "ads:replay:spend"
	frequencyReplayListKey = "ads:replay:frequency"
	dedupeKeyPrefix        = "ads:dedupe:"
)

// SpendReplayRedisAdapter 是 port.SpendReplayQueue 的 Redis 实现。
// 写台账失败的记录 LPUSH 进列表，后台循环 RPOP 重放，FIFO。
type SpendReplayRedisAdapter struct {
	redisClient *redis.Client
}

func NewSpendReplayRedisAdapter(redisClient *redis.Client) *SpendReplayRedisAdapter {
	return &SpendReplayRedisAdapter{redisClient: redisClient}
}

func (a *SpendReplayRedisAdapter) Push(ctx context.Context, rec *domain.SpendRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return a.redisClient.GetClient().LPush(ctx, spendReplayListKey, payload).Err()
}

func (a *SpendReplayRedisAdapter) Pop(ctx context.Context) (*domain.SpendRecord, error) {
	raw, err := a.redisClient.GetClient().RPop(ctx, spendReplayListKey).Result()
	if err != nil {
		if err == goredis.Nil {
			return nil, nil
		}
		return nil, err
	}
	var rec domain.SpendRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// FrequencyReplayRedisAdapter 是 port.FrequencyReplayQueue 的 Redis 实现。
type FrequencyReplayRedisAdapter struct {
	redisClient *redis.Client
}

func NewFrequencyReplayRedisAdapter(redisClient *redis.Client) *FrequencyReplayRedisAdapter {
	return &FrequencyReplayRedisAdapter{redisClient: redisClient}
}

func (a *FrequencyReplayRedisAdapter) Push(ctx context.Context, item *domain.FrequencyIncrement) error {
	payload, err := json.Marshal(item)
	if err != nil {
		return err
	}
	return a.redisClient.GetClient().LPush(ctx, frequencyReplayListKey, payload).Err()
}

func (a *FrequencyReplayRedisAdapter) Pop(ctx context.Context) (*domain.FrequencyIncrement, error) {
	raw, err := a.redisClient.GetClient().RPop(ctx, frequencyReplayListKey).Result()
	if err != nil {
		if err == goredis.Nil {
			return nil, nil
		}
		return nil, err
	}
	var item domain.FrequencyIncrement
	if err := json.Unmarshal([]byte(raw), &item); err != nil {
		return nil, err
	}
	return &item, nil
}

// DedupeRedisAdapter 是 port.DedupeWindow 的 Redis 实现。
// SETNX 带 TTL：首次写入成功即首见，窗口过期后同一 id 会被重新接受。
type DedupeRedisAdapter struct {
	redisClient *redis.Client
}

func NewDedupeRedisAdapter(redisClient *redis.Client) *DedupeRedisAdapter {
	return &DedupeRedisAdapter{redisClient: redisClient}
}

func (a *DedupeRedisAdapter) FirstSeen(ctx context.Context, messageID string, ttl time.Duration) (bool, error) {
	return a.redisClient.GetClient().SetNX(ctx, dedupeKeyPrefix+messageID, 1, ttl).Result()
}
