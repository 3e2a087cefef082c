// internal/service/ads/domain/campaign.go
package domain

import "time"

// CampaignStatus 定义了广告计划的生命周期状态。
// 流转: active -> paused (超支/管理操作) -> active (预算重置) -> ended (过期)。
type CampaignStatus string

const (
	CampaignActive CampaignStatus = "active"
	CampaignPaused CampaignStatus = "paused"
	CampaignEnded  CampaignStatus = "ended"
)

// Campaign 是广告计划聚合的根实体。
// 对本引擎来说它基本是只读的：创建/编辑走计划管理流程，
// 这里只会因消费事件递减 RemainingBudget。
type Campaign struct {
	ID              int64
	Name            string
	DailyBudget     float64
	TotalBudget     float64
	RemainingBudget float64
	StartDate       time.Time
	EndDate         time.Time
	BaseBid         float64
	QualityScore    float64
	Targeting       TargetingRules
	Status          CampaignStatus
}

// IsDeliverable 判断计划当前是否可参与投放。
func (c *Campaign) IsDeliverable(now time.Time) bool {
	return c.Status == CampaignActive &&
		!c.EndDate.Before(now) &&
		c.RemainingBudget > 0
}

// MarkPaused 将计划置为暂停（超支或管理操作）。
func (c *Campaign) MarkPaused() {
	if c.Status == CampaignActive {
		c.Status = CampaignPaused
	}
}

// MarkEnded 计划到期后的终态，不可逆。
func (c *Campaign) MarkEnded() {
	c.Status = CampaignEnded
}

// Ad 是广告创意。多条 Ad 归属一个 Campaign，生命周期不超过其 Campaign。
// Creative 对本引擎是不透明负载，原样透传给 feed 组装方。
type Ad struct {
	ID         int64
	CampaignID int64
	Creative   string
}
