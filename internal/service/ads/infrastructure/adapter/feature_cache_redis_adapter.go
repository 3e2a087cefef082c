// internal/service/ads/infrastructure/adapter/feature_cache_redis_adapter.go
package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"nova/internal/pkg/redis"
	"nova/internal/service/ads/domain"
)

const bumpEngagementScriptName = "bump_engagement"

// FeatureCacheRedisAdapter 是 port.FeatureCache 的 Redis 实现。
// 画像整体以 JSON 存一个 key，行为计数用 Lua 脚本原子累加。
type FeatureCacheRedisAdapter struct {
	redisClient *redis.Client
}

// NewFeatureCacheRedisAdapter 创建特征缓存适配器，创建时加载所需 Lua 脚本。
func NewFeatureCacheRedisAdapter(redisClient *redis.Client) (*FeatureCacheRedisAdapter, error) {
	if err := redisClient.LoadScriptFromContent(bumpEngagementScriptName, bumpEngagementScript); err != nil {
		return nil, fmt.Errorf("failed to load engagement script: %w", err)
	}
	return &FeatureCacheRedisAdapter{redisClient: redisClient}, nil
}

func featureKey(userID string) string {
	return fmt.Sprintf("ads:features:{%s}", userID)
}

func counterKey(userID string) string {
	return fmt.Sprintf("ads:counters:{%s}", userID)
}

// Get 读取用户画像；key 不存在返回 domain.ErrCacheMiss。
func (a *FeatureCacheRedisAdapter) Get(ctx context.Context, userID string) (*domain.UserFeatures, error) {
	raw, err := a.redisClient.GetClient().Get(ctx, featureKey(userID)).Result()
	if err != nil {
		if err == goredis.Nil {
			return nil, domain.ErrCacheMiss
		}
		return nil, err
	}
	var features domain.UserFeatures
	if err := json.Unmarshal([]byte(raw), &features); err != nil {
		// 损坏的缓存条目等同于未命中，下一次 Set 会覆盖掉
		return nil, domain.ErrCacheMiss
	}
	return &features, nil
}

func (a *FeatureCacheRedisAdapter) Set(ctx context.Context, features *domain.UserFeatures, ttl time.Duration) error {
	payload, err := json.Marshal(features)
	if err != nil {
		return err
	}
	return a.redisClient.GetClient().Set(ctx, featureKey(features.UserID), payload, ttl).Err()
}

// BumpEngagement 原子地累加行为计数并刷新 last_activity 与 TTL。
// 缓存里没有该用户画像时脚本返回 0，静默跳过。
func (a *FeatureCacheRedisAdapter) BumpEngagement(ctx context.Context, userID string, interaction domain.InteractionType, ttl time.Duration) error {
	keys := []string{featureKey(userID), counterKey(userID)}
	args := []interface{}{string(interaction), time.Now().Unix(), int(ttl.Seconds())}
	_, err := a.redisClient.RunScript(ctx, bumpEngagementScriptName, keys, args...)
	return err
}

var bumpEngagementScript = `
-- KEYS[1]: 画像 JSON 的 key, 例如: ads:features:{user-42}
-- KEYS[2]: 行为计数 hash 的 key, 例如: ads:counters:{user-42}
-- ARGV[1]: 行为类型, 例如: click
-- ARGV[2]: 当前 unix 时间戳
-- ARGV[3]: TTL 秒数

-- 画像不存在就什么都不做, 计数器不能先于画像出现
if redis.call('exists', KEYS[1]) == 0 then
    return 0
end

redis.call('hincrby', KEYS[2], ARGV[1], 1)
redis.call('hset', KEYS[2], 'last_activity', ARGV[2])
redis.call('expire', KEYS[1], ARGV[3])
redis.call('expire', KEYS[2], ARGV[3])
return 1
`
