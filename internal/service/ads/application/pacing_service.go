// internal/service/ads/application/pacing_service.go
package application

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"nova/internal/pkg/logger"
	"nova/internal/service/ads/domain"
	"nova/internal/service/ads/domain/port"
)

// LeaderLock 是重算循环的 leader 选举入口（多副本部署时由 zk 锁实现）。
// 为 nil 时视为单实例，总是 leader。
type LeaderLock interface {
	TryLock() (bool, error)
	Unlock() error
}

// largeSpendRatio: 单笔消费超过日预算的这个比例时，不等周期 tick，立刻触发重算。
const largeSpendRatio = 0.1

// spendWriteRetryDelay 是台账写失败后重试前的退避间隔。
const spendWriteRetryDelay = 100 * time.Millisecond

// pacingEntry 用独立的小锁保护单个计划的状态，
// 一个计划的重算永远不会卡住另一个计划。
type pacingEntry struct {
	mu    sync.Mutex
	state *domain.PacingState
}

// PacingService 是预算步调控制器。
// 它独占持有全部 PacingState：其他组件只能通过访问器读派生出的乘数，
// 永远拿不到裸的共享结构。台账是唯一事实来源，这里的状态丢了可重建。
type PacingService struct {
	campaigns domain.CampaignRepository
	ledger    domain.SpendLedger
	replay    port.SpendReplayQueue

	gains    domain.PIDGains
	interval time.Duration
	tracer   trace.Tracer
	now      func() time.Time
	leader   LeaderLock

	mu      sync.RWMutex
	entries map[int64]*pacingEntry
}

// NewPacingService 创建步调控制器。interval 是周期重算间隔。
func NewPacingService(campaigns domain.CampaignRepository, ledger domain.SpendLedger, replay port.SpendReplayQueue, interval time.Duration, tracer trace.Tracer, leader LeaderLock) *PacingService {
	return &PacingService{
		campaigns: campaigns,
		ledger:    ledger,
		replay:    replay,
		gains:     domain.DefaultPIDGains,
		interval:  interval,
		tracer:    tracer,
		now:       time.Now,
		leader:    leader,
		entries:   make(map[int64]*pacingEntry),
	}
}

// WithClock 注入可控时钟，仅测试使用。
func (s *PacingService) WithClock(now func() time.Time) *PacingService {
	s.now = now
	return s
}

// GetPacingMultiplier 返回计划当前的步调乘数，必要时惰性初始化。
// 初始化只读一次台账；台账不可用时降级返回 1.0 并告警——
// 步调记账挂了不能把广告投放一起拖死。
func (s *PacingService) GetPacingMultiplier(ctx context.Context, campaignID int64) float64 {
	if entry := s.lookup(campaignID); entry != nil {
		entry.mu.Lock()
		m := entry.state.Multiplier
		entry.mu.Unlock()
		return m
	}

	entry, _, err := s.initEntry(ctx, campaignID)
	if err != nil {
		logger.Ctx(ctx).Warn().Err(err).
			Int64("campaign_id", campaignID).
			Msg("pacing state init failed, failing open with multiplier 1.0")
		return 1.0
	}
	entry.mu.Lock()
	m := entry.state.Multiplier
	entry.mu.Unlock()
	return m
}

// RecordSpend 记录一笔消费：先落台账（带一次退避重试，仍失败则入重放队列，
// 绝不丢），再累加内存状态。大额消费触发即时重算。
func (s *PacingService) RecordSpend(ctx context.Context, rec *domain.SpendRecord) {
	ctx, span := s.tracer.Start(ctx, "pacing.RecordSpend")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("campaign.id", rec.CampaignID),
		attribute.Float64("spend.amount", rec.Amount),
	)

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}

	appendErr := s.appendWithRetry(ctx, rec)
	if appendErr != nil {
		span.RecordError(appendErr)
		logger.Ctx(ctx).Error().Err(appendErr).
			Int64("campaign_id", rec.CampaignID).
			Msg("spend write failed twice, queued for replay")
		if s.replay != nil {
			if pushErr := s.replay.Push(ctx, rec); pushErr != nil {
				// 台账和重放队列同时挂：只剩日志这条线索，必须喊出来
				logger.Ctx(ctx).Error().Err(pushErr).
					Int64("campaign_id", rec.CampaignID).
					Msg("CRITICAL: spend record lost, replay queue also unavailable")
			} else {
				spendReplayedTotal.Inc()
			}
		}
	}

	entry := s.lookup(rec.CampaignID)
	created := false
	if entry == nil {
		var err error
		if entry, created, err = s.initEntry(ctx, rec.CampaignID); err != nil {
			logger.Ctx(ctx).Warn().Err(err).Int64("campaign_id", rec.CampaignID).
				Msg("cannot track spend in pacing state")
			return
		}
	}

	entry.mu.Lock()
	// 刚落账的记录已经被惰性初始化的台账快照算进去了，再加一次会重复记账。
	// 只有初始化发生在本次调用里且落账成功时才跳过。
	if !created || appendErr != nil {
		entry.state.AddSpend(rec.Amount)
	}
	if rec.Amount > entry.state.DailyBudget*largeSpendRatio {
		// 大额消费不等周期 tick。Recompute 自带最小间隔保护，不会被刷爆。
		s.recomputeLocked(entry.state)
	}
	entry.mu.Unlock()
}

// FilterByPacing 过滤掉处于"超支暂停"派生状态的计划（乘数 < 0.1）。
func (s *PacingService) FilterByPacing(ctx context.Context, campaigns []*domain.Campaign) []*domain.Campaign {
	out := make([]*domain.Campaign, 0, len(campaigns))
	for _, c := range campaigns {
		if s.GetPacingMultiplier(ctx, c.ID) < domain.MinMultiplier {
			candidatesFiltered.WithLabelValues("pacing").Inc()
			logger.Ctx(ctx).Info().Int64("campaign_id", c.ID).
				Msg("campaign paused for overspend, dropped from candidates")
			continue
		}
		out = append(out, c)
	}
	return out
}

// StartRecomputeLoop 是长驻的周期重算循环。
// 多副本部署时只有持有 zk 锁的实例执行重算，其余副本的状态
// 最多落后一个重算周期——投放路径可以接受这种程度的陈旧。
func (s *PacingService) StartRecomputeLoop(ctx context.Context) {
	logger.Logger().Info().Dur("interval", s.interval).Msg("✅ pacing recompute loop started")
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if !s.acquireLeadership(ctx) {
				continue
			}
			s.RecomputeAll(ctx)
			s.releaseLeadership(ctx)
		case <-ctx.Done():
			logger.Logger().Info().Msg("🛑 pacing recompute loop shutting down")
			return
		}
	}
}

// RecomputeAll 对所有被跟踪的计划并发执行一轮重算。
// 每个计划是独立的工作单元，互不阻塞。
func (s *PacingService) RecomputeAll(ctx context.Context) {
	ctx, span := s.tracer.Start(ctx, "pacing.RecomputeAll")
	defer span.End()

	s.evictInactive(ctx)

	s.mu.RLock()
	entries := make([]*pacingEntry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	g, _ := errgroup.WithContext(ctx)
	for _, entry := range entries {
		entry := entry
		g.Go(func() error {
			entry.mu.Lock()
			s.recomputeLocked(entry.state)
			entry.mu.Unlock()
			return nil
		})
	}
	// 单个计划的重算不产生错误，但 errgroup 给了我们统一的 fan-out/join 点
	_ = g.Wait()
	span.SetAttributes(attribute.Int("pacing.tracked_campaigns", len(entries)))
}

// Snapshot 导出所有计划的步调快照，供管理接口和 websocket 监控使用。
func (s *PacingService) Snapshot() []PacingSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]PacingSnapshot, 0, len(s.entries))
	for _, entry := range s.entries {
		entry.mu.Lock()
		st := entry.state
		out = append(out, PacingSnapshot{
			CampaignID:  st.CampaignID,
			DailyBudget: st.DailyBudget,
			ActualSpend: st.ActualSpend,
			TargetSpend: st.TargetSpend,
			Multiplier:  st.Multiplier,
			LastUpdate:  st.LastUpdate,
		})
		entry.mu.Unlock()
	}
	return out
}

// StartReplayLoop 周期性地把重放队列里的消费记录写回台账。
func (s *PacingService) StartReplayLoop(ctx context.Context) {
	if s.replay == nil {
		return
	}
	logger.Logger().Info().Msg("✅ spend replay loop started")
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.drainReplay(ctx)
		case <-ctx.Done():
			logger.Logger().Info().Msg("🛑 spend replay loop shutting down")
			return
		}
	}
}

func (s *PacingService) drainReplay(ctx context.Context) {
	for {
		rec, err := s.replay.Pop(ctx)
		if err != nil {
			logger.Ctx(ctx).Warn().Err(err).Msg("replay queue read failed")
			return
		}
		if rec == nil {
			return
		}
		if err := s.ledger.AppendSpendRecord(ctx, rec); err != nil {
			// 台账还没恢复，塞回去下轮再试
			if pushErr := s.replay.Push(ctx, rec); pushErr != nil {
				logger.Ctx(ctx).Error().Err(pushErr).
					Int64("campaign_id", rec.CampaignID).
					Msg("CRITICAL: spend record lost during replay")
			}
			return
		}
		logger.Ctx(ctx).Info().Int64("campaign_id", rec.CampaignID).
			Float64("amount", rec.Amount).Msg("replayed spend record into ledger")
	}
}

func (s *PacingService) appendWithRetry(ctx context.Context, rec *domain.SpendRecord) error {
	if err := s.ledger.AppendSpendRecord(ctx, rec); err == nil {
		return nil
	}
	select {
	case <-time.After(spendWriteRetryDelay):
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "spend write cancelled before retry")
	}
	return errors.Wrap(s.ledger.AppendSpendRecord(ctx, rec), "spend write retry")
}

// recomputeLocked 执行一次 PID 重算并更新监控指标。调用方必须持有 entry 锁。
func (s *PacingService) recomputeLocked(st *domain.PacingState) {
	prev := st.Multiplier
	if !st.Recompute(s.gains, s.now()) {
		return
	}
	label := strconv.FormatInt(st.CampaignID, 10)
	pacingMultiplierGauge.WithLabelValues(label).Set(st.Multiplier)

	// 超支兜底是策略结果不是故障，按运营事件记录
	if st.Multiplier == 0 && prev != 0 {
		overspendStopsTotal.WithLabelValues("hard").Inc()
		logger.Logger().Warn().Int64("campaign_id", st.CampaignID).
			Float64("actual_spend", st.ActualSpend).
			Float64("daily_budget", st.DailyBudget).
			Msg("hard overspend stop engaged")
	} else if st.Multiplier == domain.SoftStopCap && prev > domain.SoftStopCap {
		overspendStopsTotal.WithLabelValues("soft").Inc()
		logger.Logger().Info().Int64("campaign_id", st.CampaignID).
			Msg("soft overspend cap engaged")
	}
}

func (s *PacingService) lookup(campaignID int64) *pacingEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries[campaignID]
}

// initEntry 惰性创建计划的步调状态：读计划拿日预算，读台账拿今日已消费。
// 返回的 bool 表示这次调用真的创建了状态（而不是输给了并发的初始化）。
func (s *PacingService) initEntry(ctx context.Context, campaignID int64) (*pacingEntry, bool, error) {
	campaign, err := s.campaigns.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, false, errors.Wrap(err, "load campaign for pacing init")
	}

	now := s.now()
	spent, err := s.ledger.GetTodaySpend(ctx, campaignID, domain.DayStart(now))
	if err != nil {
		return nil, false, errors.Wrap(err, "load today spend for pacing init")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// 和并发的初始化竞争时以先到者为准
	if existing, ok := s.entries[campaignID]; ok {
		return existing, false, nil
	}
	entry := &pacingEntry{state: domain.NewPacingState(campaignID, campaign.DailyBudget, spent, now)}
	s.entries[campaignID] = entry
	pacingMultiplierGauge.WithLabelValues(strconv.FormatInt(campaignID, 10)).Set(entry.state.Multiplier)
	return entry, true, nil
}

// evictInactive 丢弃已结束/暂停计划的状态（生命周期要求）。
// 目录读失败时保守地什么都不丢。
func (s *PacingService) evictInactive(ctx context.Context) {
	active, err := s.campaigns.ListActiveCampaigns(ctx, s.now())
	if err != nil {
		logger.Ctx(ctx).Warn().Err(err).Msg("cannot list active campaigns, keeping all pacing state")
		return
	}
	activeSet := make(map[int64]struct{}, len(active))
	for _, c := range active {
		activeSet[c.ID] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.entries {
		if _, ok := activeSet[id]; !ok {
			delete(s.entries, id)
			pacingMultiplierGauge.DeleteLabelValues(strconv.FormatInt(id, 10))
		}
	}
}

func (s *PacingService) acquireLeadership(ctx context.Context) bool {
	if s.leader == nil {
		return true
	}
	ok, err := s.leader.TryLock()
	if err != nil {
		logger.Ctx(ctx).Warn().Err(err).Msg("pacing leader election failed, skipping tick")
		return false
	}
	return ok
}

func (s *PacingService) releaseLeadership(ctx context.Context) {
	if s.leader == nil {
		return
	}
	if err := s.leader.Unlock(); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Msg("pacing leader unlock failed")
	}
}
