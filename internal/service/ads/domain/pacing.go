// internal/service/ads/domain/pacing.go
package domain

import "time"

// PID 增益与输出边界。这些是全局调优常量，不是算法形状的一部分；
// 超支阈值（软 1.0×、硬 1.1×）是否该按计划配置仍是待定的产品决策。
const (
	MinMultiplier = 0.1
	MaxMultiplier = 3.0

	// SoftStopRatio: 当日消费达到日预算后，乘数上限压到 SoftStopCap。
	SoftStopRatio = 1.0
	SoftStopCap   = 0.2
	// HardStopRatio: 超过日预算 10% 后硬停，乘数归零。
	HardStopRatio = 1.1

	// 两次重算之间的最小间隔，防止密集消费事件打爆控制器。
	MinRecomputeGap = time.Minute
)

// PIDGains 是步调控制器的三项增益。
type PIDGains struct {
	Kp float64
	Ki float64
	Kd float64
}

// DefaultPIDGains 是线上默认增益。
var DefaultPIDGains = PIDGains{Kp: 0.8, Ki: 0.2, Kd: 0.1}

// PacingState 是单个计划的步调控制状态。
// 纯内存派生值：丢了可以随时从消费台账重建，它自身从不反写台账。
type PacingState struct {
	CampaignID  int64
	DailyBudget float64
	ActualSpend float64
	TargetSpend float64
	Multiplier  float64
	LastUpdate  time.Time

	integral  float64
	prevError float64
}

// NewPacingState 惰性初始化：用台账里今天已消费的金额和时间比例目标起步，
// 并立刻做一次重算得到初始乘数。
func NewPacingState(campaignID int64, dailyBudget, spentToday float64, now time.Time) *PacingState {
	s := &PacingState{
		CampaignID:  campaignID,
		DailyBudget: dailyBudget,
		ActualSpend: spentToday,
		Multiplier:  1.0,
	}
	s.Recompute(DefaultPIDGains, now)
	return s
}

// TargetForTime 返回时间比例消费目标: dailyBudget * 当日已过小时数 / 24。
func (s *PacingState) TargetForTime(now time.Time) float64 {
	dayStart := DayStart(now)
	hoursIntoDay := now.Sub(dayStart).Hours()
	return s.DailyBudget * hoursIntoDay / 24.0
}

// AddSpend 累加当日实际消费。调用方负责并发保护（控制器独占状态）。
func (s *PacingState) AddSpend(amount float64) {
	s.ActualSpend += amount
}

// Recompute 执行一次 PID 更新。距上次更新不足 MinRecomputeGap 时跳过，
// 返回 false；否则计算新乘数并返回 true。
// 超支兜底（软/硬停）在 PID 之后施加，保证无论控制器历史如何都能止损。
func (s *PacingState) Recompute(gains PIDGains, now time.Time) bool {
	dtMinutes := 1.0
	if !s.LastUpdate.IsZero() {
		elapsed := now.Sub(s.LastUpdate)
		if elapsed < MinRecomputeGap {
			return false
		}
		dtMinutes = elapsed.Minutes()
	}

	s.TargetSpend = s.TargetForTime(now)

	err := s.TargetSpend - s.ActualSpend
	s.integral += err * dtMinutes
	derivative := (err - s.prevError) / dtMinutes
	rawOutput := gains.Kp*err + gains.Ki*s.integral + gains.Kd*derivative

	multiplier := 1.0 + (rawOutput/s.DailyBudget)*2.0
	multiplier = clamp(multiplier, MinMultiplier, MaxMultiplier)

	switch {
	case s.ActualSpend >= s.DailyBudget*HardStopRatio:
		multiplier = 0
	case s.ActualSpend >= s.DailyBudget*SoftStopRatio && multiplier > SoftStopCap:
		multiplier = SoftStopCap
	}

	s.Multiplier = multiplier
	s.prevError = err
	s.LastUpdate = now
	return true
}

// PausedForOverspend 判断计划是否处于"超支暂停"的派生状态。
func (s *PacingState) PausedForOverspend() bool {
	return s.Multiplier < MinMultiplier
}

// DayStart 返回本地时区当日零点。步调目标与频控重置共用这一天的定义。
func DayStart(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
