// internal/service/ads/application/bandit_service.go
package application

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"nova/internal/pkg/logger"
	"nova/internal/service/ads/domain"
	"nova/internal/service/ads/domain/port"
)

// dedupeTTL 是奖励消息去重窗口的长度。
const dedupeTTL = 24 * time.Hour

type armKey struct {
	ContextID string
	ArmID     string
}

// ArmStats 是单个 (context, arm) 的奖励累积：运行均值 + 计数。
// 后验建模（Beta/高斯等）属于外部策略，这里只维护充分统计量。
type ArmStats struct {
	Count int64   `json:"count"`
	Mean  float64 `json:"mean"`
}

// BanditService 消费奖励消息并更新探索状态。
// 它运行在独立的消费进程里，和投放路径不共享任何锁。
type BanditService struct {
	dedupe port.DedupeWindow
	tracer trace.Tracer

	mu   sync.RWMutex
	arms map[armKey]*ArmStats
}

func NewBanditService(dedupe port.DedupeWindow, tracer trace.Tracer) *BanditService {
	return &BanditService{
		dedupe: dedupe,
		tracer: tracer,
		arms:   make(map[armKey]*ArmStats),
	}
}

// HandleReward 应用一条奖励消息。
// kafka 是 at-least-once 的：先过去重窗口，窗口内见过的消息直接跳过。
// 去重窗口本身不可用时选择照常累加——宁可偶尔重复计数也不丢奖励信号。
func (s *BanditService) HandleReward(ctx context.Context, msg *domain.BanditRewardMessage) error {
	ctx, span := s.tracer.Start(ctx, "bandit.HandleReward", trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()
	span.SetAttributes(
		attribute.String("bandit.context_id", msg.ContextID),
		attribute.String("bandit.arm_id", msg.ArmID),
		attribute.Float64("bandit.reward", msg.Reward),
	)

	if s.dedupe != nil && msg.MessageID != "" {
		first, err := s.dedupe.FirstSeen(ctx, msg.MessageID, dedupeTTL)
		if err != nil {
			logger.Ctx(ctx).Warn().Err(err).Msg("dedupe window unavailable, applying reward anyway")
		} else if !first {
			banditRewardsApplied.WithLabelValues("duplicate").Inc()
			span.AddEvent("duplicate reward skipped")
			return nil
		}
	}

	s.mu.Lock()
	key := armKey{ContextID: msg.ContextID, ArmID: msg.ArmID}
	stats, ok := s.arms[key]
	if !ok {
		stats = &ArmStats{}
		s.arms[key] = stats
	}
	stats.Count++
	stats.Mean += (msg.Reward - stats.Mean) / float64(stats.Count)
	s.mu.Unlock()

	banditRewardsApplied.WithLabelValues("applied").Inc()
	return nil
}

// ArmStats 返回单个臂的累积快照；没见过的臂返回零值。
func (s *BanditService) ArmStats(contextID, armID string) ArmStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if stats, ok := s.arms[armKey{ContextID: contextID, ArmID: armID}]; ok {
		return *stats
	}
	return ArmStats{}
}

// Snapshot 导出全部臂的累积状态，供管理端诊断。
func (s *BanditService) Snapshot() map[string]ArmStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]ArmStats, len(s.arms))
	for key, stats := range s.arms {
		out[key.ContextID+"/"+key.ArmID] = *stats
	}
	return out
}
