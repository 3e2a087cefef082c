// internal/service/ads/domain/interaction.go
package domain

import "time"

// InteractionType 是用户行为枚举。
type InteractionType string

const (
	InteractionView       InteractionType = "view"
	InteractionClick      InteractionType = "click"
	InteractionLike       InteractionType = "like"
	InteractionShare      InteractionType = "share"
	InteractionComment    InteractionType = "comment"
	InteractionConversion InteractionType = "conversion"
	InteractionSkip       InteractionType = "skip"
)

// ItemTypeAd 标记交互对象是广告，触发消费记账/频控/实验记录。
const ItemTypeAd = "ad"

var validInteractionTypes = map[InteractionType]struct{}{
	InteractionView: {}, InteractionClick: {}, InteractionLike: {},
	InteractionShare: {}, InteractionComment: {}, InteractionConversion: {},
	InteractionSkip: {},
}

// Valid 判断行为类型是否在允许的枚举内。
func (t InteractionType) Valid() bool {
	_, ok := validInteractionTypes[t]
	return ok
}

// rewardTable 把行为类型映射为 bandit 奖励值。
var rewardTable = map[InteractionType]float64{
	InteractionView:       0.1,
	InteractionClick:      1.0,
	InteractionLike:       0.8,
	InteractionShare:      1.5,
	InteractionComment:    1.2,
	InteractionConversion: 5.0,
	InteractionSkip:       -0.1,
}

// RewardFor 返回行为对应的奖励；未知类型奖励为 0。
func RewardFor(t InteractionType) float64 {
	return rewardTable[t]
}

// IsEngagement 判断行为是否触发实时特征更新。
func (t InteractionType) IsEngagement() bool {
	switch t {
	case InteractionClick, InteractionLike, InteractionShare, InteractionConversion:
		return true
	}
	return false
}

// BanditContext 标记这次展示来自哪个探索决策。
type BanditContext struct {
	ContextID string `json:"context_id"`
	ArmID     string `json:"arm_id"`
}

// InteractionEvent 是一次用户行为事件。创建后不可变，
// 下游按 at-least-once 语义消费。
type InteractionEvent struct {
	UserID           string          `json:"user_id"`
	ItemID           string          `json:"item_id"`
	ItemType         string          `json:"item_type"`
	Type             InteractionType `json:"interaction_type"`
	Duration         float64         `json:"duration"`
	Position         int             `json:"position"`
	DeviceType       string          `json:"device_type"`
	SessionID        string          `json:"session_id"`
	FeedGenerationID string          `json:"feed_generation_id"`

	Bandit          *BanditContext `json:"bandit_context,omitempty"`
	CampaignID      int64          `json:"campaign_id,omitempty"`
	ExperimentID    string         `json:"experiment_id,omitempty"`
	Assignment      string         `json:"assignment,omitempty"`
	ConversionValue float64        `json:"conversion_value,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Validate 校验必填字段并归一化可选数值字段。
// 校验失败的事件不会有任何东西落库。
func (e *InteractionEvent) Validate() error {
	if e.ItemID == "" {
		return &ValidationError{Field: "item_id", Reason: "is required"}
	}
	if e.ItemType == "" {
		return &ValidationError{Field: "item_type", Reason: "is required"}
	}
	if e.Type == "" {
		return &ValidationError{Field: "interaction_type", Reason: "is required"}
	}
	if !e.Type.Valid() {
		return &ValidationError{Field: "interaction_type", Reason: "unknown value " + string(e.Type)}
	}
	if e.Duration < 0 {
		e.Duration = 0
	}
	if e.Position < 0 {
		e.Position = 0
	}
	return nil
}

// BanditRewardMessage 是投喂给奖励更新器的队列消息。
// MessageID 用于 at-least-once 投递下的去重窗口。
type BanditRewardMessage struct {
	MessageID string    `json:"message_id"`
	ContextID string    `json:"context_id"`
	ArmID     string    `json:"arm_id"`
	Reward    float64   `json:"reward"`
	Timestamp time.Time `json:"timestamp"`
}
