// internal/service/ads/domain/config.go
package domain

import "math"

// AlgorithmConfigName 是投放算法使用的配置名。
const AlgorithmConfigName = "ads_algorithm"

// weightSumTolerance 是三个权重之和允许偏离 1.0 的容差。
const weightSumTolerance = 0.01

// AlgorithmConfig 是投放算法的带版本配置。
// 同一 Name 下任意时刻只有一个版本处于激活状态；
// 更新走 校验 -> 事务内旧版本下线 + 新版本插入，失败不会留下半套配置。
type AlgorithmConfig struct {
	Name    string `json:"config_name" validate:"required"`
	Version int    `json:"version"`

	ExplorationRate  float64 `json:"exploration_rate" validate:"gte=0,lte=0.5"`
	GhostAdRate      float64 `json:"ghost_ad_rate" validate:"gte=0,lte=0.2"`
	MaxAdsPerFeed    int     `json:"max_ads_per_feed" validate:"gte=1,lte=10"`
	DiversityWeight  float64 `json:"diversity_weight" validate:"gte=0,lte=1"`
	EngagementWeight float64 `json:"engagement_weight" validate:"gte=0,lte=1"`
	RevenueWeight    float64 `json:"revenue_weight" validate:"gte=0,lte=1"`
	QualityThreshold float64 `json:"quality_threshold" validate:"gte=0,lte=1"`
	MaxCandidates    int     `json:"max_candidates" validate:"gte=100,lte=5000"`
	FinalFeedSize    int     `json:"final_feed_size" validate:"gte=10,lte=200"`

	Active bool `json:"active"`
}

// ValidateWeights 校验三个加权项之和为 1.0（±容差）。
// 结构体 tag 覆盖不了跨字段约束，所以单独成方法。
func (c *AlgorithmConfig) ValidateWeights() error {
	sum := c.DiversityWeight + c.EngagementWeight + c.RevenueWeight
	if math.Abs(sum-1.0) > weightSumTolerance {
		return &ValidationError{
			Field:  "diversity_weight+engagement_weight+revenue_weight",
			Reason: "must sum to 1.0 (±0.01)",
		}
	}
	return nil
}

// DefaultAlgorithmConfig 是没有任何激活配置时的兜底值。
func DefaultAlgorithmConfig() *AlgorithmConfig {
	return &AlgorithmConfig{
		Name:             AlgorithmConfigName,
		Version:          0,
		ExplorationRate:  0.1,
		GhostAdRate:      0.05,
		MaxAdsPerFeed:    3,
		DiversityWeight:  0.2,
		EngagementWeight: 0.5,
		RevenueWeight:    0.3,
		QualityThreshold: 0.3,
		MaxCandidates:    1000,
		FinalFeedSize:    50,
		Active:           true,
	}
}
