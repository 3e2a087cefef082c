// internal/service/ads/infrastructure/mapper.go
package infrastructure

import (
	"encoding/json"

	"github.com/pkg/errors"

	"nova/internal/service/ads/domain"
)

// ToDomainCampaign 将数据库模型转换为领域模型。
// Targeting 列里的 JSON 解析失败会返回错误，调用方应跳过该计划而不是让它裸跑。
func ToDomainCampaign(model *CampaignModel) (*domain.Campaign, error) {
	if model == nil {
		return nil, nil
	}
	var rules domain.TargetingRules
	if model.Targeting != "" {
		if err := json.Unmarshal([]byte(model.Targeting), &rules); err != nil {
			return nil, errors.Wrapf(err, "campaign %d has malformed targeting rules", model.ID)
		}
	}
	return &domain.Campaign{
		ID:              model.ID,
		Name:            model.Name,
		DailyBudget:     model.DailyBudget,
		TotalBudget:     model.TotalBudget,
		RemainingBudget: model.RemainingBudget,
		StartDate:       model.StartDate,
		EndDate:         model.EndDate,
		BaseBid:         model.BaseBid,
		QualityScore:    model.QualityScore,
		Targeting:       rules,
		Status:          domain.CampaignStatus(model.Status),
	}, nil
}

// ToDomainAd 将创意数据库模型转换为领域模型。
func ToDomainAd(model *AdModel) *domain.Ad {
	if model == nil {
		return nil
	}
	return &domain.Ad{
		ID:         model.ID,
		CampaignID: model.CampaignID,
		Creative:   model.Creative,
	}
}

// FromDomainSpendRecord 将台账记录转换为数据库模型（用于追加）。
func FromDomainSpendRecord(rec *domain.SpendRecord) *SpendRecordModel {
	return &SpendRecordModel{
		CampaignID: rec.CampaignID,
		UserID:     rec.UserID,
		Amount:     rec.Amount,
		EventType:  rec.EventType,
		CreatedAt:  rec.CreatedAt,
	}
}

// FromDomainInteraction 将交互事件转换为数据库模型，bandit 上下文拍平成两列。
func FromDomainInteraction(event *domain.InteractionEvent) *InteractionModel {
	model := &InteractionModel{
		UserID:           event.UserID,
		ItemID:           event.ItemID,
		ItemType:         event.ItemType,
		InteractionType:  string(event.Type),
		Duration:         event.Duration,
		Position:         event.Position,
		DeviceType:       event.DeviceType,
		SessionID:        event.SessionID,
		FeedGenerationID: event.FeedGenerationID,
		CampaignID:       event.CampaignID,
		ExperimentID:     event.ExperimentID,
		Assignment:       event.Assignment,
		ConversionValue:  event.ConversionValue,
		CreatedAt:        event.CreatedAt,
	}
	if event.Bandit != nil {
		model.BanditContextID = event.Bandit.ContextID
		model.BanditArmID = event.Bandit.ArmID
	}
	return model
}

// ToDomainExperiment 将实验数据库模型转换为领域模型。
func ToDomainExperiment(model *ExperimentModel) *domain.Experiment {
	if model == nil {
		return nil
	}
	return &domain.Experiment{
		ID:         model.ID,
		Name:       model.Name,
		CampaignID: model.CampaignID,
		Status:     model.Status,
		StartDate:  model.StartDate,
		EndDate:    model.EndDate,
	}
}

// ToDomainExperimentEvent 将实验事件数据库模型转换为领域模型。
func ToDomainExperimentEvent(model *ExperimentEventModel) *domain.ExperimentEvent {
	if model == nil {
		return nil
	}
	return &domain.ExperimentEvent{
		ID:              model.ID,
		ExperimentID:    model.ExperimentID,
		UserID:          model.UserID,
		CampaignID:      model.CampaignID,
		Assignment:      model.Assignment,
		EventType:       domain.InteractionType(model.EventType),
		ConversionValue: model.ConversionValue,
		CreatedAt:       model.CreatedAt,
	}
}

// FromDomainExperimentEvent 将实验事件转换为数据库模型（用于追加）。
func FromDomainExperimentEvent(event *domain.ExperimentEvent) *ExperimentEventModel {
	return &ExperimentEventModel{
		ExperimentID:    event.ExperimentID,
		UserID:          event.UserID,
		CampaignID:      event.CampaignID,
		Assignment:      event.Assignment,
		EventType:       string(event.EventType),
		ConversionValue: event.ConversionValue,
		CreatedAt:       event.CreatedAt,
	}
}

// ToDomainAlgorithmConfig 将配置数据库模型转换为领域模型。
func ToDomainAlgorithmConfig(model *AlgorithmConfigModel) *domain.AlgorithmConfig {
	if model == nil {
		return nil
	}
	return &domain.AlgorithmConfig{
		Name:             model.ConfigName,
		Version:          model.Version,
		ExplorationRate:  model.ExplorationRate,
		GhostAdRate:      model.GhostAdRate,
		MaxAdsPerFeed:    model.MaxAdsPerFeed,
		DiversityWeight:  model.DiversityWeight,
		EngagementWeight: model.EngagementWeight,
		RevenueWeight:    model.RevenueWeight,
		QualityThreshold: model.QualityThreshold,
		MaxCandidates:    model.MaxCandidates,
		FinalFeedSize:    model.FinalFeedSize,
		Active:           model.Active,
	}
}

// FromDomainAlgorithmConfig 将配置领域模型转换为数据库模型（用于插入新版本）。
func FromDomainAlgorithmConfig(cfg *domain.AlgorithmConfig) *AlgorithmConfigModel {
	return &AlgorithmConfigModel{
		ConfigName:       cfg.Name,
		Version:          cfg.Version,
		ExplorationRate:  cfg.ExplorationRate,
		GhostAdRate:      cfg.GhostAdRate,
		MaxAdsPerFeed:    cfg.MaxAdsPerFeed,
		DiversityWeight:  cfg.DiversityWeight,
		EngagementWeight: cfg.EngagementWeight,
		RevenueWeight:    cfg.RevenueWeight,
		QualityThreshold: cfg.QualityThreshold,
		MaxCandidates:    cfg.MaxCandidates,
		FinalFeedSize:    cfg.FinalFeedSize,
		Active:           cfg.Active,
	}
}
