// internal/service/ads/infrastructure/gorm_repository.go
package infrastructure

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"nova/internal/pkg/logger"
	"nova/internal/service/ads/domain"
)

// GormCampaignRepository 是 CampaignRepository 的 GORM 实现。
type GormCampaignRepository struct {
	db *gorm.DB
}

func NewGormCampaignRepository(db *gorm.DB) *GormCampaignRepository {
	return &GormCampaignRepository{db: db}
}

func (r *GormCampaignRepository) GetCampaign(ctx context.Context, id int64) (*domain.Campaign, error) {
	var model CampaignModel
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrCampaignNotFound
		}
		return nil, err
	}
	return ToDomainCampaign(&model)
}

// ListActiveCampaigns 返回可投放的计划。
// 定向规则损坏的行记日志跳过，不让一条坏数据拖垮整次投放。
func (r *GormCampaignRepository) ListActiveCampaigns(ctx context.Context, now time.Time) ([]*domain.Campaign, error) {
	var models []CampaignModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND end_date >= ? AND remaining_budget > 0", string(domain.CampaignActive), now).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	campaigns := make([]*domain.Campaign, 0, len(models))
	for i := range models {
		c, err := ToDomainCampaign(&models[i])
		if err != nil {
			logger.Ctx(ctx).Warn().Err(err).Int64("campaign_id", models[i].ID).
				Msg("skipping campaign with malformed targeting")
			continue
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, nil
}

func (r *GormCampaignRepository) ListAdsByCampaigns(ctx context.Context, campaignIDs []int64) (map[int64][]*domain.Ad, error) {
	if len(campaignIDs) == 0 {
		return map[int64][]*domain.Ad{}, nil
	}
	var models []AdModel
	err := r.db.WithContext(ctx).Where("campaign_id IN ?", campaignIDs).Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make(map[int64][]*domain.Ad, len(campaignIDs))
	for i := range models {
		ad := ToDomainAd(&models[i])
		out[ad.CampaignID] = append(out[ad.CampaignID], ad)
	}
	return out, nil
}

// GormSpendLedger 是 SpendLedger 的 GORM 实现。台账只追加，当日消费用 SUM 聚合。
type GormSpendLedger struct {
	db *gorm.DB
}

func NewGormSpendLedger(db *gorm.DB) *GormSpendLedger {
	return &GormSpendLedger{db: db}
}

func (r *GormSpendLedger) GetTodaySpend(ctx context.Context, campaignID int64, dayStart time.Time) (float64, error) {
	var total float64
	err := r.db.WithContext(ctx).Model(&SpendRecordModel{}).
		Where("campaign_id = ? AND created_at >= ?", campaignID, dayStart).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return total, nil
}

func (r *GormSpendLedger) AppendSpendRecord(ctx context.Context, rec *domain.SpendRecord) error {
	return r.db.WithContext(ctx).Create(FromDomainSpendRecord(rec)).Error
}

// GormFrequencyRepository 是 FrequencyRepository 的 GORM 实现。
type GormFrequencyRepository struct {
	db *gorm.DB
}

func NewGormFrequencyRepository(db *gorm.DB) *GormFrequencyRepository {
	return &GormFrequencyRepository{db: db}
}

// GetCounts 单次批量查询当日计数，未出现的计划在结果里缺省为 0。
func (r *GormFrequencyRepository) GetCounts(ctx context.Context, userID string, campaignIDs []int64, day time.Time) (map[int64]int, error) {
	counts := make(map[int64]int, len(campaignIDs))
	if len(campaignIDs) == 0 {
		return counts, nil
	}
	var models []FrequencyRecordModel
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND campaign_id IN ? AND day = ?", userID, campaignIDs, day).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	for i := range models {
		counts[models[i].CampaignID] = models[i].Count
	}
	return counts, nil
}

// Increment 用 upsert 做原子自增，避免 读-改-写 的竞态。
func (r *GormFrequencyRepository) Increment(ctx context.Context, userID string, campaignID int64, day time.Time) error {
	record := FrequencyRecordModel{
		UserID:     userID,
		CampaignID: campaignID,
		Day:        day,
		Count:      1,
		UpdatedAt:  time.Now(),
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "campaign_id"}, {Name: "day"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"count":      gorm.Expr("count + 1"),
			"updated_at": time.Now(),
		}),
	}).Create(&record).Error
}

// GormInteractionRepository 是 InteractionRepository 的 GORM 实现。
type GormInteractionRepository struct {
	db *gorm.DB
}

func NewGormInteractionRepository(db *gorm.DB) *GormInteractionRepository {
	return &GormInteractionRepository{db: db}
}

func (r *GormInteractionRepository) Append(ctx context.Context, event *domain.InteractionEvent) error {
	return r.db.WithContext(ctx).Create(FromDomainInteraction(event)).Error
}

// GormExperimentRepository 是 ExperimentRepository 的 GORM 实现。
type GormExperimentRepository struct {
	db *gorm.DB
}

func NewGormExperimentRepository(db *gorm.DB) *GormExperimentRepository {
	return &GormExperimentRepository{db: db}
}

func (r *GormExperimentRepository) GetExperiment(ctx context.Context, id string) (*domain.Experiment, error) {
	var model ExperimentModel
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrExperimentNotFound
		}
		return nil, err
	}
	return ToDomainExperiment(&model), nil
}

func (r *GormExperimentRepository) ActiveExperimentForCampaign(ctx context.Context, campaignID int64, now time.Time) (*domain.Experiment, error) {
	var model ExperimentModel
	err := r.db.WithContext(ctx).
		Where("campaign_id = ? AND status = ? AND start_date <= ? AND end_date >= ?",
			campaignID, "running", now, now).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return ToDomainExperiment(&model), nil
}

func (r *GormExperimentRepository) AppendEvent(ctx context.Context, event *domain.ExperimentEvent) error {
	return r.db.WithContext(ctx).Create(FromDomainExperimentEvent(event)).Error
}

func (r *GormExperimentRepository) ListEvents(ctx context.Context, experimentID string) ([]*domain.ExperimentEvent, error) {
	var models []ExperimentEventModel
	err := r.db.WithContext(ctx).
		Where("experiment_id = ?", experimentID).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	events := make([]*domain.ExperimentEvent, 0, len(models))
	for i := range models {
		events = append(events, ToDomainExperimentEvent(&models[i]))
	}
	return events, nil
}

// GormConfigRepository 是 ConfigRepository 的 GORM 实现。
type GormConfigRepository struct {
	db *gorm.DB
}

func NewGormConfigRepository(db *gorm.DB) *GormConfigRepository {
	return &GormConfigRepository{db: db}
}

func (r *GormConfigRepository) GetActive(ctx context.Context, name string) (*domain.AlgorithmConfig, error) {
	var model AlgorithmConfigModel
	err := r.db.WithContext(ctx).
		Where("config_name = ? AND active = ?", name, true).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrConfigNotFound
		}
		return nil, err
	}
	return ToDomainAlgorithmConfig(&model), nil
}

// SwapActive 在一个事务里把旧版本下线并插入新激活版本。
// 事务失败时旧版本原封不动，不会留下半套配置。
func (r *GormConfigRepository) SwapActive(ctx context.Context, cfg *domain.AlgorithmConfig) (int, error) {
	var newVersion int
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current AlgorithmConfigModel
		err := tx.Where("config_name = ? AND active = ?", cfg.Name, true).First(&current).Error
		switch {
		case err == nil:
			newVersion = current.Version + 1
			if err := tx.Model(&AlgorithmConfigModel{}).
				Where("config_name = ? AND active = ?", cfg.Name, true).
				Update("active", false).Error; err != nil {
				return err
			}
		case errors.Is(err, gorm.ErrRecordNotFound):
			newVersion = 1
		default:
			return err
		}

		model := FromDomainAlgorithmConfig(cfg)
		model.Version = newVersion
		model.Active = true
		model.CreatedAt = time.Now()
		return tx.Create(model).Error
	})
	if err != nil {
		return 0, err
	}
	return newVersion, nil
}
