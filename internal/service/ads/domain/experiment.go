// internal/service/ads/domain/experiment.go
package domain

import "time"

// 实验分组。
const (
	AssignmentControl   = "control"
	AssignmentTreatment = "treatment"
)

// Experiment 是一次增量实验（ghost-ad 对照）。
type Experiment struct {
	ID         string
	Name       string
	CampaignID int64
	Status     string
	StartDate  time.Time
	EndDate    time.Time
}

// ExperimentEvent 是按分组记录的实验事件行，追加后不可变。
type ExperimentEvent struct {
	ID              int64
	ExperimentID    string
	UserID          string
	CampaignID      int64
	Assignment      string
	EventType       InteractionType
	ConversionValue float64
	CreatedAt       time.Time
}

// DailyMetrics 是按 天 × 分组 聚合出的指标桶。
type DailyMetrics struct {
	Day         string // 2006-01-02
	Assignment  string
	Impressions int64
	Conversions int64
	Revenue     float64
}

// ExperimentSummary 是实验的描述性汇总。
// Descriptive 恒为 true：这些数字来自固定阈值的启发式推导，
// 不是严格的统计推断，调用方不应把它当显著性检验用。
type ExperimentSummary struct {
	ExperimentID   string         `json:"experiment_id"`
	Metrics        []DailyMetrics `json:"metrics"`
	EffectSize     float64        `json:"effect_size"`
	ConfidenceLow  float64        `json:"confidence_low"`
	ConfidenceHigh float64        `json:"confidence_high"`
	Power          float64        `json:"power"`
	Recommendation string         `json:"recommendation"`
	Descriptive    bool           `json:"descriptive"`
}
