// internal/service/ads/application/delivery_service.go
package application

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"nova/internal/pkg/logger"
	"nova/internal/service/ads/domain"
	"nova/internal/service/ads/domain/port"
)

// DeliveryService 驱动 feed 请求的候选管道：
// 定向过滤 -> 质量门槛 -> 频控 -> 步调过滤 -> ghost-ad 分流 -> 评分。
// 整条链路无状态、可并发调用；对共享步调状态只做无锁读。
type DeliveryService struct {
	campaigns   domain.CampaignRepository
	frequency   domain.FrequencyRepository
	features    port.FeatureCache
	rules       port.RuleEngine
	pacing      *PacingService
	config      *ConfigService
	experiments *ExperimentService

	// ghostEnabled 是部署级开关；关掉后不做任何实验分流，也不记分组事件。
	ghostEnabled bool

	timeout time.Duration
	tracer  trace.Tracer
	now     func() time.Time
	randF   func() float64
}

func NewDeliveryService(
	campaigns domain.CampaignRepository,
	frequency domain.FrequencyRepository,
	features port.FeatureCache,
	rules port.RuleEngine,
	pacing *PacingService,
	config *ConfigService,
	experiments *ExperimentService,
	ghostEnabled bool,
	timeout time.Duration,
	tracer trace.Tracer,
) *DeliveryService {
	return &DeliveryService{
		campaigns:    campaigns,
		frequency:    frequency,
		features:     features,
		rules:        rules,
		pacing:       pacing,
		config:       config,
		experiments:  experiments,
		ghostEnabled: ghostEnabled,
		timeout:      timeout,
		tracer:       tracer,
		now:          time.Now,
		randF:        randFloat,
	}
}

// WithClock / WithRand 注入可控时钟与随机源，仅测试使用。
func (s *DeliveryService) WithClock(now func() time.Time) *DeliveryService {
	s.now = now
	return s
}

func (s *DeliveryService) WithRand(f func() float64) *DeliveryService {
	s.randF = f
	return s
}

// GetEligibleAds 返回用户本次 feed 请求的全部可投候选。
// 单个依赖故障永远不会让调用方拿到错误：读路径统一 fail-open，
// 最坏情况是返回一个更小（或未经步调过滤）的候选列表。
func (s *DeliveryService) GetEligibleAds(ctx context.Context, userID string, reqCtx *domain.RequestContext) (*EligibleAdsResult, error) {
	ctx, span := s.tracer.Start(ctx, "delivery.GetEligibleAds")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID))

	// 整条管道共享一个延迟预算；预算内打不通的依赖按"无额外限制"降级
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	now := reqCtx.Now
	if now.IsZero() {
		now = s.now()
		reqCtx.Now = now
	}

	cfg := s.config.Active(ctx)
	features := s.loadFeatures(ctx, userID)

	campaigns, err := s.campaigns.ListActiveCampaigns(ctx, now)
	if err != nil {
		span.RecordError(err)
		logger.Ctx(ctx).Warn().Err(err).Msg("campaign catalog unavailable, serving empty candidate list")
		return &EligibleAdsResult{FeedGenerationID: uuid.New().String()}, nil
	}

	eligible := s.filterByTargeting(ctx, campaigns, features, reqCtx, cfg)
	eligible = s.filterByFrequencyCap(ctx, eligible, userID, now)
	eligible = s.pacing.FilterByPacing(ctx, eligible)
	eligible = s.assignGhostArms(ctx, eligible, userID, cfg, now)

	result := s.score(ctx, eligible, features)
	span.SetAttributes(attribute.Int("delivery.candidates", len(result.Candidates)))
	return result, nil
}

// loadFeatures 读取用户画像。未命中或缓存故障都按空画像继续。
func (s *DeliveryService) loadFeatures(ctx context.Context, userID string) *domain.UserFeatures {
	features, err := s.features.Get(ctx, userID)
	if err != nil {
		if err != domain.ErrCacheMiss {
			logger.Ctx(ctx).Warn().Err(err).Str("user_id", userID).
				Msg("feature cache unavailable, continuing without profile")
		}
		return &domain.UserFeatures{UserID: userID}
	}
	return features
}

// filterByTargeting 做结构化定向 + 可选 CEL 规则 + 质量门槛过滤。
// 单个计划的规则坏了只牺牲它自己：记一条异常日志后跳过（fail-closed per-candidate）。
func (s *DeliveryService) filterByTargeting(ctx context.Context, campaigns []*domain.Campaign, features *domain.UserFeatures, reqCtx *domain.RequestContext, cfg *domain.AlgorithmConfig) []*domain.Campaign {
	ctx, span := s.tracer.Start(ctx, "delivery.FilterByTargeting")
	defer span.End()

	out := make([]*domain.Campaign, 0, len(campaigns))
	for _, c := range campaigns {
		if !c.IsDeliverable(reqCtx.Now) {
			continue
		}
		if c.QualityScore < cfg.QualityThreshold {
			candidatesFiltered.WithLabelValues("quality").Inc()
			continue
		}
		if !c.Targeting.Matches(features, reqCtx) {
			candidatesFiltered.WithLabelValues("targeting").Inc()
			continue
		}
		if rule := c.Targeting.CustomRule; rule != "" {
			ok, err := s.rules.Evaluate(rule, c.Targeting.Fact(features, reqCtx))
			if err != nil {
				logger.Ctx(ctx).Warn().Err(err).Int64("campaign_id", c.ID).
					Msg("malformed targeting rule, excluding campaign")
				candidatesFiltered.WithLabelValues("malformed_rule").Inc()
				continue
			}
			if !ok {
				candidatesFiltered.WithLabelValues("custom_rule").Inc()
				continue
			}
		}
		out = append(out, c)
		if len(out) >= cfg.MaxCandidates {
			break
		}
	}
	span.SetAttributes(attribute.Int("delivery.after_targeting", len(out)))
	return out
}

// filterByFrequencyCap 按 (user, campaign) 的当日展示数过滤。
// 一次批量查询拿全部计数；存储不可达时按"无额外限制"放行。
func (s *DeliveryService) filterByFrequencyCap(ctx context.Context, campaigns []*domain.Campaign, userID string, now time.Time) []*domain.Campaign {
	if len(campaigns) == 0 {
		return campaigns
	}
	ctx, span := s.tracer.Start(ctx, "delivery.FilterByFrequencyCap")
	defer span.End()

	ids := make([]int64, len(campaigns))
	for i, c := range campaigns {
		ids[i] = c.ID
	}

	counts, err := s.frequency.GetCounts(ctx, userID, ids, domain.DayStart(now))
	if err != nil {
		span.RecordError(err)
		logger.Ctx(ctx).Warn().Err(err).Msg("frequency store unavailable, skipping cap filter")
		return campaigns
	}

	out := make([]*domain.Campaign, 0, len(campaigns))
	for _, c := range campaigns {
		if counts[c.ID] >= c.Targeting.FrequencyCap() {
			candidatesFiltered.WithLabelValues("frequency").Inc()
			continue
		}
		out = append(out, c)
	}
	span.SetAttributes(attribute.Int("delivery.after_frequency", len(out)))
	return out
}

// assignGhostArms 做增量实验的 ghost-ad 分流：
// 命中 control 组的候选被扣下不投，但照常记一条分组事件，
// 这样因果对比才有对照数据。实验记录失败不影响投放。
func (s *DeliveryService) assignGhostArms(ctx context.Context, campaigns []*domain.Campaign, userID string, cfg *domain.AlgorithmConfig, now time.Time) []*domain.Campaign {
	if !s.ghostEnabled || cfg.GhostAdRate <= 0 || s.experiments == nil {
		return campaigns
	}
	out := make([]*domain.Campaign, 0, len(campaigns))
	for _, c := range campaigns {
		exp := s.experiments.ActiveForCampaign(ctx, c.ID, now)
		if exp == nil {
			out = append(out, c)
			continue
		}
		assignment := domain.AssignmentTreatment
		if s.randF() < cfg.GhostAdRate {
			assignment = domain.AssignmentControl
		}
		s.experiments.RecordAssignment(ctx, exp.ID, userID, c.ID, assignment)
		if assignment == domain.AssignmentControl {
			candidatesFiltered.WithLabelValues("ghost_control").Inc()
			continue
		}
		out = append(out, c)
	}
	return out
}

// score 为候选计算定向分与有效出价，并把结果收敛进脱敏 DTO。
// DTO 构造就是强制的脱敏步骤：只有白名单字段能离开本层。
func (s *DeliveryService) score(ctx context.Context, campaigns []*domain.Campaign, features *domain.UserFeatures) *EligibleAdsResult {
	result := &EligibleAdsResult{FeedGenerationID: uuid.New().String()}
	if len(campaigns) == 0 {
		return result
	}

	ids := make([]int64, len(campaigns))
	for i, c := range campaigns {
		ids[i] = c.ID
	}
	adsByCampaign, err := s.campaigns.ListAdsByCampaigns(ctx, ids)
	if err != nil {
		logger.Ctx(ctx).Warn().Err(err).Msg("ad catalog unavailable, serving empty candidate list")
		return result
	}

	for _, c := range campaigns {
		multiplier := s.pacing.GetPacingMultiplier(ctx, c.ID)
		targetingScore := c.Targeting.MatchScore(features)
		for _, ad := range adsByCampaign[c.ID] {
			result.Candidates = append(result.Candidates, AdCandidate{
				AdID:           ad.ID,
				CampaignID:     c.ID,
				Creative:       ad.Creative,
				EffectiveBid:   c.BaseBid * multiplier,
				QualityScore:   c.QualityScore,
				TargetingScore: targetingScore,
			})
		}
	}
	return result
}
