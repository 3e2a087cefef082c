// internal/service/ads/application/experiment_service.go
package application

import (
	"context"
	"math"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"nova/internal/pkg/logger"
	"nova/internal/service/ads/domain"
)

// 推荐语的固定阈值。这些数字驱动的是一段描述性文案，不是统计检验。
const (
	strongEffectThreshold   = 0.1
	positiveEffectThreshold = 0.02
	negativeEffectThreshold = -0.02
)

// ExperimentService 负责增量实验的事件簿记与按需汇总。
type ExperimentService struct {
	repo   domain.ExperimentRepository
	tracer trace.Tracer
}

func NewExperimentService(repo domain.ExperimentRepository, tracer trace.Tracer) *ExperimentService {
	return &ExperimentService{repo: repo, tracer: tracer}
}

// RecordExperimentEvent 追加一条不可变的实验事件行。
func (s *ExperimentService) RecordExperimentEvent(ctx context.Context, event *domain.ExperimentEvent) error {
	ctx, span := s.tracer.Start(ctx, "experiment.RecordEvent")
	defer span.End()
	span.SetAttributes(
		attribute.String("experiment.id", event.ExperimentID),
		attribute.String("experiment.assignment", event.Assignment),
	)

	if event.Assignment != domain.AssignmentControl && event.Assignment != domain.AssignmentTreatment {
		return &domain.ValidationError{Field: "assignment", Reason: "must be control or treatment"}
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	return s.repo.AppendEvent(ctx, event)
}

// RecordAssignment 在投放时记录 ghost-ad 分组展示事件。
// 失败只记日志：实验簿记绝不能反压投放。
func (s *ExperimentService) RecordAssignment(ctx context.Context, experimentID, userID string, campaignID int64, assignment string) {
	event := &domain.ExperimentEvent{
		ExperimentID: experimentID,
		UserID:       userID,
		CampaignID:   campaignID,
		Assignment:   assignment,
		EventType:    domain.InteractionView,
		CreatedAt:    time.Now(),
	}
	if err := s.repo.AppendEvent(ctx, event); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("experiment_id", experimentID).
			Msg("ghost assignment event append failed")
	}
}

// ActiveForCampaign 查计划当前在跑的实验；查询失败按"没有实验"降级。
func (s *ExperimentService) ActiveForCampaign(ctx context.Context, campaignID int64, now time.Time) *domain.Experiment {
	exp, err := s.repo.ActiveExperimentForCampaign(ctx, campaignID, now)
	if err != nil {
		logger.Ctx(ctx).Warn().Err(err).Int64("campaign_id", campaignID).
			Msg("experiment lookup failed, serving without ghost split")
		return nil
	}
	return exp
}

// ComputeDailyMetrics 把事件按 天 × 分组 聚合成指标桶。
func (s *ExperimentService) ComputeDailyMetrics(events []*domain.ExperimentEvent) []domain.DailyMetrics {
	type bucketKey struct {
		day        string
		assignment string
	}
	buckets := make(map[bucketKey]*domain.DailyMetrics)
	for _, e := range events {
		key := bucketKey{day: e.CreatedAt.Format("2006-01-02"), assignment: e.Assignment}
		b, ok := buckets[key]
		if !ok {
			b = &domain.DailyMetrics{Day: key.day, Assignment: key.assignment}
			buckets[key] = b
		}
		switch e.EventType {
		case domain.InteractionView:
			b.Impressions++
		case domain.InteractionConversion:
			b.Conversions++
			b.Revenue += e.ConversionValue
		}
	}

	out := make([]domain.DailyMetrics, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Day != out[j].Day {
			return out[i].Day < out[j].Day
		}
		return out[i].Assignment < out[j].Assignment
	})
	return out
}

// GetExperimentSummary 按需计算实验汇总。实验不存在时原样上抛 NotFound。
func (s *ExperimentService) GetExperimentSummary(ctx context.Context, experimentID string) (*domain.ExperimentSummary, error) {
	ctx, span := s.tracer.Start(ctx, "experiment.GetSummary")
	defer span.End()
	span.SetAttributes(attribute.String("experiment.id", experimentID))

	exp, err := s.repo.GetExperiment(ctx, experimentID)
	if err != nil {
		return nil, err
	}
	events, err := s.repo.ListEvents(ctx, exp.ID)
	if err != nil {
		return nil, err
	}
	return s.SummarizeExperiment(exp, events), nil
}

// SummarizeExperiment 从事件推导效果量、粗略置信区间/功效和推荐语。
// 这是固定阈值的启发式汇总，Descriptive 恒为 true，
// 结果只用于人工参考，不构成统计推断。
func (s *ExperimentService) SummarizeExperiment(exp *domain.Experiment, events []*domain.ExperimentEvent) *domain.ExperimentSummary {
	metrics := s.ComputeDailyMetrics(events)

	var ctrl, treat struct {
		impressions int64
		conversions int64
	}
	for _, m := range metrics {
		switch m.Assignment {
		case domain.AssignmentControl:
			ctrl.impressions += m.Impressions
			ctrl.conversions += m.Conversions
		case domain.AssignmentTreatment:
			treat.impressions += m.Impressions
			treat.conversions += m.Conversions
		}
	}

	ctrlRate := safeRate(ctrl.conversions, ctrl.impressions)
	treatRate := safeRate(treat.conversions, treat.impressions)
	effect := treatRate - ctrlRate

	// 正态近似下的区间宽度；样本太小时区间会大到失去意义，这正是想要的效果
	se := math.Sqrt(varRate(ctrlRate, ctrl.impressions) + varRate(treatRate, treat.impressions))
	ciLow, ciHigh := effect-1.96*se, effect+1.96*se

	// 粗糙的功效启发：样本量相对 1 万的饱和比例
	power := math.Min(1.0, float64(ctrl.impressions+treat.impressions)/10000.0)

	summary := &domain.ExperimentSummary{
		ExperimentID:   exp.ID,
		Metrics:        metrics,
		EffectSize:     effect,
		ConfidenceLow:  ciLow,
		ConfidenceHigh: ciHigh,
		Power:          power,
		Descriptive:    true,
	}

	switch {
	case effect > strongEffectThreshold:
		summary.Recommendation = "strong positive incrementality: treatment clearly outperforms control"
	case effect > positiveEffectThreshold:
		summary.Recommendation = "moderate positive incrementality: treatment ahead of control"
	case effect < negativeEffectThreshold:
		summary.Recommendation = "negative incrementality: treatment underperforms control, review targeting"
	default:
		summary.Recommendation = "inconclusive: no meaningful difference between arms yet"
	}
	return summary
}

func safeRate(numerator, denominator int64) float64 {
	if denominator == 0 {
		return 0
	}
	return float64(numerator) / float64(denominator)
}

func varRate(rate float64, n int64) float64 {
	if n == 0 {
		return 0
	}
	return rate * (1 - rate) / float64(n)
}
