// internal/service/ads/domain/repository.go
package domain

import (
	"context"
	"time"
)

// SpendRecord 是消费台账里的一条追加记录。台账是消费的唯一事实来源。
type SpendRecord struct {
	CampaignID int64     `json:"campaign_id"`
	UserID     string    `json:"user_id"`
	Amount     float64   `json:"amount"`
	EventType  string    `json:"event_type"`
	CreatedAt  time.Time `json:"created_at"`
}

// FrequencyIncrement 是一次待重放的频控自增。
type FrequencyIncrement struct {
	UserID     string    `json:"user_id"`
	CampaignID int64     `json:"campaign_id"`
	Day        time.Time `json:"day"`
}

// CampaignRepository 读取计划/创意目录。
type CampaignRepository interface {
	GetCampaign(ctx context.Context, id int64) (*Campaign, error)
	// ListActiveCampaigns 返回 status=active、未过期且剩余预算 > 0 的计划。
	ListActiveCampaigns(ctx context.Context, now time.Time) ([]*Campaign, error)
	// ListAdsByCampaigns 一次批量取回多个计划的创意，避免请求路径上的 N+1。
	ListAdsByCampaigns(ctx context.Context, campaignIDs []int64) (map[int64][]*Ad, error)
}

// SpendLedger 读写消费台账。
type SpendLedger interface {
	GetTodaySpend(ctx context.Context, campaignID int64, dayStart time.Time) (float64, error)
	AppendSpendRecord(ctx context.Context, rec *SpendRecord) error
}

// FrequencyRepository 读写 (user, campaign) 维度的当日展示计数。
type FrequencyRepository interface {
	// GetCounts 是单次批量查询：一次请求只打一趟存储。
	GetCounts(ctx context.Context, userID string, campaignIDs []int64, day time.Time) (map[int64]int, error)
	Increment(ctx context.Context, userID string, campaignID int64, day time.Time) error
}

// InteractionRepository 追加交互日志（append-only）。
type InteractionRepository interface {
	Append(ctx context.Context, event *InteractionEvent) error
}

// ExperimentRepository 读写实验及其事件。
type ExperimentRepository interface {
	GetExperiment(ctx context.Context, id string) (*Experiment, error)
	// ActiveExperimentForCampaign 返回计划当前在跑的增量实验，没有时返回 (nil, nil)。
	ActiveExperimentForCampaign(ctx context.Context, campaignID int64, now time.Time) (*Experiment, error)
	AppendEvent(ctx context.Context, event *ExperimentEvent) error
	ListEvents(ctx context.Context, experimentID string) ([]*ExperimentEvent, error)
}

// ConfigRepository 管理带版本的算法配置。
type ConfigRepository interface {
	GetActive(ctx context.Context, name string) (*AlgorithmConfig, error)
	// SwapActive 在一个事务里把旧版本下线、插入 version=旧+1 的新激活版本。
	// 返回新版本号。
	SwapActive(ctx context.Context, cfg *AlgorithmConfig) (int, error)
}
