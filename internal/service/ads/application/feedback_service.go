// internal/service/ads/application/feedback_service.go
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

const (
	// featureTTL 是实时特征更新后的缓存存活时间。
	featureTTL = time.Hour
	// sideEffectQueueSize 是旁路副作用的有界缓冲。
	// 满了就丢弃并记日志——宁可丢一次特征更新也不能反压投放路径。
	sideEffectQueueSize = 4096
	// sideEffectWorkers 是副作用工作协程数。
	sideEffectWorkers = 8

	frequencyRetryDelay = 100 * time.Millisecond
)

// FeedbackService 是交互反馈处理器。
// 主路径只做两件事：校验 + 交互日志落库，落库成功即向调用方返回成功；
// 特征更新 / 广告记账 / 频控自增 / bandit 入队都是相互独立的
// fire-and-forget 副作用，由后台 worker 用消息传递的方式执行，
// 任何一步失败只影响自己，不会级联。
type FeedbackService struct {
	interactions domain.InteractionRepository
	campaigns    domain.CampaignRepository
	frequency    domain.FrequencyRepository
	experiments  domain.ExperimentRepository
	features     port.FeatureCache
	rewards      port.RewardQueue
	freqReplay   port.FrequencyReplayQueue
	pacing       *PacingService

	tracer trace.Tracer
	now    func() time.Time
	jobs   chan *domain.InteractionEvent
}

func NewFeedbackService(
	interactions domain.InteractionRepository,
	campaigns domain.CampaignRepository,
	frequency domain.FrequencyRepository,
	experiments domain.ExperimentRepository,
	features port.FeatureCache,
	rewards port.RewardQueue,
	freqReplay port.FrequencyReplayQueue,
	pacing *PacingService,
	tracer trace.Tracer,
) *FeedbackService {
	return &FeedbackService{
		interactions: interactions,
		campaigns:    campaigns,
		frequency:    frequency,
		experiments:  experiments,
		features:     features,
		rewards:      rewards,
		freqReplay:   freqReplay,
		pacing:       pacing,
		tracer:       tracer,
		now:          time.Now,
		jobs:         make(chan *domain.InteractionEvent, sideEffectQueueSize),
	}
}

// WithClock 注入可控时钟，仅测试使用。
func (s *FeedbackService) WithClock(now func() time.Time) *FeedbackService {
	s.now = now
	return s
}

// RecordInteraction 接收一条交互事件。
// 校验失败同步返回 ValidationError 且什么都不落库；
// 交互日志写入成功即返回 accepted，后续副作用异步执行。
func (s *FeedbackService) RecordInteraction(ctx context.Context, event *domain.InteractionEvent) (*RecordInteractionResult, error) {
	ctx, span := s.tracer.Start(ctx, "feedback.RecordInteraction")
	defer span.End()
	span.SetAttributes(
		attribute.String("interaction.type", string(event.Type)),
		attribute.String("interaction.item_type", event.ItemType),
	)

	if err := event.Validate(); err != nil {
		interactionsTotal.WithLabelValues("rejected").Inc()
		span.RecordError(err)
		return &RecordInteractionResult{Accepted: false, Error: err.Error()}, err
	}

	if event.CreatedAt.IsZero() {
		event.CreatedAt = s.now()
	}

	if err := s.interactions.Append(ctx, event); err != nil {
		interactionsTotal.WithLabelValues("persist_failed").Inc()
		span.RecordError(err)
		logger.Ctx(ctx).Error().Err(err).Msg("interaction log append failed")
		return &RecordInteractionResult{Accepted: false, Error: "interaction log unavailable"}, err
	}
	interactionsTotal.WithLabelValues("accepted").Inc()

	// 主持久化完成即算成功；副作用交给 worker，不等结果
	select {
	case s.jobs <- event:
	default:
		sideEffectFailures.WithLabelValues("queue_overflow").Inc()
		logger.Ctx(ctx).Warn().Str("user_id", event.UserID).
			Msg("side effect queue full, dropping post-persist effects for event")
	}

	return &RecordInteractionResult{Accepted: true}, nil
}

// StartWorkers 启动副作用工作协程池，随服务生命周期运行。
func (s *FeedbackService) StartWorkers(ctx context.Context) {
	logger.Logger().Info().Int("workers", sideEffectWorkers).Msg("✅ feedback side-effect workers started")
	done := make(chan struct{})
	for i := 0; i < sideEffectWorkers; i++ {
		go func() {
			for {
				select {
				case event := <-s.jobs:
					s.processSideEffects(context.Background(), event)
				case <-ctx.Done():
					done <- struct{}{}
					return
				}
			}
		}()
	}
	for i := 0; i < sideEffectWorkers; i++ {
		<-done
	}
	logger.Logger().Info().Msg("🛑 feedback side-effect workers stopped")
}

// processSideEffects 依次执行三组互不依赖的副作用。
// 每一组自带错误隔离：失败记日志/指标后继续下一组。
func (s *FeedbackService) processSideEffects(ctx context.Context, event *domain.InteractionEvent) {
	ctx, span := s.tracer.Start(ctx, "feedback.ProcessSideEffects")
	defer span.End()

	s.updateFeatures(ctx, event)
	s.handleAdEvent(ctx, event)
	s.enqueueReward(ctx, event)
}

// updateFeatures 对强互动行为做实时特征更新。缓存未命中静默跳过。
func (s *FeedbackService) updateFeatures(ctx context.Context, event *domain.InteractionEvent) {
	if !event.Type.IsEngagement() {
		return
	}
	if err := s.features.BumpEngagement(ctx, event.UserID, event.Type, featureTTL); err != nil {
		sideEffectFailures.WithLabelValues("feature_update").Inc()
		logger.Ctx(ctx).Warn().Err(err).Str("user_id", event.UserID).
			Msg("feature cache update failed")
	}
}

// handleAdEvent 处理广告专属副作用：消费记账、view 的频控自增、
// 以及带 experiment_id 时的实验事件行。
func (s *FeedbackService) handleAdEvent(ctx context.Context, event *domain.InteractionEvent) {
	if event.ItemType != domain.ItemTypeAd || event.CampaignID == 0 {
		return
	}

	// 消费金额：click 按当前有效 CPC 计，其余广告事件记 0 金额流水
	amount := 0.0
	if event.Type == domain.InteractionClick {
		if campaign, err := s.campaigns.GetCampaign(ctx, event.CampaignID); err != nil {
			sideEffectFailures.WithLabelValues("spend_lookup").Inc()
			logger.Ctx(ctx).Warn().Err(err).Int64("campaign_id", event.CampaignID).
				Msg("cannot resolve campaign for click spend")
		} else {
			amount = campaign.BaseBid * s.pacing.GetPacingMultiplier(ctx, event.CampaignID)
		}
	}
	s.pacing.RecordSpend(ctx, &domain.SpendRecord{
		CampaignID: event.CampaignID,
		UserID:     event.UserID,
		Amount:     amount,
		EventType:  string(event.Type),
		CreatedAt:  event.CreatedAt,
	})

	if event.Type == domain.InteractionView {
		s.incrementFrequency(ctx, event)
	}

	if event.ExperimentID != "" {
		expEvent := &domain.ExperimentEvent{
			ExperimentID:    event.ExperimentID,
			UserID:          event.UserID,
			CampaignID:      event.CampaignID,
			Assignment:      event.Assignment,
			EventType:       event.Type,
			ConversionValue: event.ConversionValue,
			CreatedAt:       event.CreatedAt,
		}
		if err := s.experiments.AppendEvent(ctx, expEvent); err != nil {
			sideEffectFailures.WithLabelValues("experiment_event").Inc()
			logger.Ctx(ctx).Warn().Err(err).Str("experiment_id", event.ExperimentID).
				Msg("experiment event append failed")
		}
	}
}

// incrementFrequency 做持久化频控自增：失败退避重试一次，
// 仍失败则进重放队列，不允许静默丢失。
func (s *FeedbackService) incrementFrequency(ctx context.Context, event *domain.InteractionEvent) {
	day := domain.DayStart(event.CreatedAt)
	err := s.frequency.Increment(ctx, event.UserID, event.CampaignID, day)
	if err != nil {
		time.Sleep(frequencyRetryDelay)
		err = s.frequency.Increment(ctx, event.UserID, event.CampaignID, day)
	}
	if err == nil {
		return
	}
	sideEffectFailures.WithLabelValues("frequency_increment").Inc()
	logger.Ctx(ctx).Warn().Err(err).Str("user_id", event.UserID).
		Int64("campaign_id", event.CampaignID).Msg("frequency increment failed, queueing for replay")
	if s.freqReplay != nil {
		item := &domain.FrequencyIncrement{UserID: event.UserID, CampaignID: event.CampaignID, Day: day}
		if pushErr := s.freqReplay.Push(ctx, item); pushErr != nil {
			logger.Ctx(ctx).Error().Err(pushErr).Msg("CRITICAL: frequency increment lost, replay queue unavailable")
		}
	}
}

// enqueueReward 把带 bandit 上下文的事件换算成奖励消息入队。
func (s *FeedbackService) enqueueReward(ctx context.Context, event *domain.InteractionEvent) {
	if event.Bandit == nil {
		return
	}
	msg := &domain.BanditRewardMessage{
		MessageID: uuid.New().String(),
		ContextID: event.Bandit.ContextID,
		ArmID:     event.Bandit.ArmID,
		Reward:    domain.RewardFor(event.Type),
		Timestamp: event.CreatedAt,
	}
	if err := s.rewards.Enqueue(ctx, msg); err != nil {
		sideEffectFailures.WithLabelValues("bandit_enqueue").Inc()
		logger.Ctx(ctx).Warn().Err(err).Str("context_id", msg.ContextID).
			Msg("bandit reward enqueue failed")
	}
}

// StartFrequencyReplayLoop 周期性重放失败的频控自增。
func (s *FeedbackService) StartFrequencyReplayLoop(ctx context.Context) {
	if s.freqReplay == nil {
		return
	}
	logger.Logger().Info().Msg("✅ frequency replay loop started")
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.drainFrequencyReplay(ctx)
		case <-ctx.Done():
			logger.Logger().Info().Msg("🛑 frequency replay loop shutting down")
			return
		}
	}
}

func (s *FeedbackService) drainFrequencyReplay(ctx context.Context) {
	for {
		item, err := s.freqReplay.Pop(ctx)
		if err != nil {
			logger.Ctx(ctx).Warn().Err(err).Msg("frequency replay read failed")
			return
		}
		if item == nil {
			return
		}
		if err := s.frequency.Increment(ctx, item.UserID, item.CampaignID, item.Day); err != nil {
			if pushErr := s.freqReplay.Push(ctx, item); pushErr != nil {
				logger.Ctx(ctx).Error().Err(pushErr).Msg("CRITICAL: frequency increment lost during replay")
			}
			return
		}
	}
}
