// internal/service/ads/application/dto.go
package application

import "time"

// AdCandidate 是返回给 feed 组装方的已评分候选。
// 注意：这里是对外边界，字段集就是脱敏白名单——
// 任何用户原始特征都不允许出现在这个结构里。
type AdCandidate struct {
	AdID           int64   `json:"ad_id"`
	CampaignID     int64   `json:"campaign_id"`
	Creative       string  `json:"creative"`
	EffectiveBid   float64 `json:"effective_bid"`
	QualityScore   float64 `json:"quality_score"`
	TargetingScore float64 `json:"targeting_score"`
}

// EligibleAdsResult 是一次 feed 请求的产出。
// 候选不做截断也不做排序：竞价出清是下游的事。
type EligibleAdsResult struct {
	FeedGenerationID string        `json:"feed_generation_id"`
	Candidates       []AdCandidate `json:"candidates"`
}

// RecordInteractionResult 告知调用方事件是否被接受。
type RecordInteractionResult struct {
	Accepted bool   `json:"accepted"`
	Error    string `json:"error,omitempty"`
}

// PacingSnapshot 是单个计划步调状态的只读快照，
// 供管理接口与 websocket 监控消费。
type PacingSnapshot struct {
	CampaignID  int64     `json:"campaign_id"`
	DailyBudget float64   `json:"daily_budget"`
	ActualSpend float64   `json:"actual_spend"`
	TargetSpend float64   `json:"target_spend"`
	Multiplier  float64   `json:"multiplier"`
	LastUpdate  time.Time `json:"last_update"`
}
