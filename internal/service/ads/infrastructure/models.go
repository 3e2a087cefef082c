// internal/service/ads/infrastructure/models.go
package infrastructure

import "time"

// CampaignModel 是 Campaign 领域对象在数据库中的表示。
// Targeting 以 JSON 列存储，读取时由 mapper 反序列化。
type CampaignModel struct {
	ID              int64 `gorm:"primaryKey"`
	Name            string
	DailyBudget     float64
	TotalBudget     float64
	RemainingBudget float64
	StartDate       time.Time
	EndDate         time.Time
	BaseBid         float64
	QualityScore    float64
	Targeting       string `gorm:"type:json"`
	Status          string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (CampaignModel) TableName() string {
	return "ad_campaigns"
}

// AdModel 是广告创意的数据库表示。
type AdModel struct {
	ID         int64 `gorm:"primaryKey"`
	CampaignID int64 `gorm:"index"`
	Creative   string
	CreatedAt  time.Time
}

func (AdModel) TableName() string {
	return "ads"
}

// SpendRecordModel 是消费台账的一行，只追加不更新。
type SpendRecordModel struct {
	ID         int64 `gorm:"primaryKey;autoIncrement"`
	CampaignID int64 `gorm:"index:idx_spend_campaign_day"`
	UserID     string
	Amount     float64
	EventType  string
	CreatedAt  time.Time `gorm:"index:idx_spend_campaign_day"`
}

func (SpendRecordModel) TableName() string {
	return "ad_spend_ledger"
}

// FrequencyRecordModel 按 (user, campaign, day) 记录当日展示次数。
type FrequencyRecordModel struct {
	UserID     string    `gorm:"primaryKey"`
	CampaignID int64     `gorm:"primaryKey"`
	Day        time.Time `gorm:"primaryKey;type:date"`
	Count      int
	UpdatedAt  time.Time
}

func (FrequencyRecordModel) TableName() string {
	return "ad_frequency_counters"
}

// InteractionModel 是交互日志的一行，只追加不更新。
type InteractionModel struct {
	ID               int64 `gorm:"primaryKey;autoIncrement"`
	UserID           string
	ItemID           string
	ItemType         string
	InteractionType  string
	Duration         float64
	Position         int
	DeviceType       string
	SessionID        string
	FeedGenerationID string
	BanditContextID  string
	BanditArmID      string
	CampaignID       int64
	ExperimentID     string
	Assignment       string
	ConversionValue  float64
	CreatedAt        time.Time
}

func (InteractionModel) TableName() string {
	return "user_interactions"
}

// ExperimentModel 是增量实验的数据库表示。
type ExperimentModel struct {
	ID         string `gorm:"primaryKey"`
	Name       string
	CampaignID int64 `gorm:"index"`
	Status     string
	StartDate  time.Time
	EndDate    time.Time
	CreatedAt  time.Time
}

func (ExperimentModel) TableName() string {
	return "ad_experiments"
}

// ExperimentEventModel 是按分组记录的实验事件行。
type ExperimentEventModel struct {
	ID              int64  `gorm:"primaryKey;autoIncrement"`
	ExperimentID    string `gorm:"index"`
	UserID          string
	CampaignID      int64
	Assignment      string
	EventType       string
	ConversionValue float64
	CreatedAt       time.Time
}

func (ExperimentEventModel) TableName() string {
	return "ad_experiment_events"
}

// AlgorithmConfigModel 是带版本的算法配置。
// 同一 config_name 下最多一行 active=true，切换在事务内完成。
type AlgorithmConfigModel struct {
	ID               int64  `gorm:"primaryKey;autoIncrement"`
	ConfigName       string `gorm:"index:idx_config_name_active"`
	Version          int
	ExplorationRate  float64
	GhostAdRate      float64
	MaxAdsPerFeed    int
	DiversityWeight  float64
	EngagementWeight float64
	RevenueWeight    float64
	QualityThreshold float64
	MaxCandidates    int
	FinalFeedSize    int
	Active           bool `gorm:"index:idx_config_name_active"`
	CreatedAt        time.Time
}

func (AlgorithmConfigModel) TableName() string {
	return "ad_algorithm_configs"
}
