// internal/service/ads/domain/port/ports.go
package port

import (
	"context"
	"time"

	"nova/internal/service/ads/domain"
)

// FeatureCache 是短 TTL 的用户特征缓存。
// 未命中返回 domain.ErrCacheMiss；读失败一律按"无画像"降级，不阻塞投放。
type FeatureCache interface {
	Get(ctx context.Context, userID string) (*domain.UserFeatures, error)
	Set(ctx context.Context, features *domain.UserFeatures, ttl time.Duration) error
	// BumpEngagement 原子地累加行为计数并刷新 last_activity 与 TTL。
	// 缓存里没有该用户时静默跳过。
	BumpEngagement(ctx context.Context, userID string, interaction domain.InteractionType, ttl time.Duration) error
}

// RewardQueue 投递 bandit 奖励消息。
type RewardQueue interface {
	Enqueue(ctx context.Context, msg *domain.BanditRewardMessage) error
}

// DedupeWindow 是 at-least-once 投递下的去重窗口。
// FirstSeen 返回 true 表示首次见到该 id，false 表示窗口内已处理过。
type DedupeWindow interface {
	FirstSeen(ctx context.Context, messageID string, ttl time.Duration) (bool, error)
}

// SpendReplayQueue 暂存写台账失败的消费记录，等待后台重放。
// Pop 队列为空时返回 (nil, nil)。
type SpendReplayQueue interface {
	Push(ctx context.Context, rec *domain.SpendRecord) error
	Pop(ctx context.Context) (*domain.SpendRecord, error)
}

// FrequencyReplayQueue 暂存写失败的频控自增，语义同 SpendReplayQueue。
type FrequencyReplayQueue interface {
	Push(ctx context.Context, item *domain.FrequencyIncrement) error
	Pop(ctx context.Context) (*domain.FrequencyIncrement, error)
}

// RuleEngine 评估计划上可选的自定义定向表达式。
type RuleEngine interface {
	Evaluate(rule string, fact map[string]interface{}) (bool, error)
}
