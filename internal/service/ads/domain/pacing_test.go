// internal/service/ads/domain/pacing_test.go
package domain

import (
	"testing"
	"time"
)

func dayAt(hour, minute int) time.Time {
	return time.Date(2025, 6, 10, hour, minute, 0, 0, time.Local)
}

func TestNewPacingStateInitialMultiplier(t *testing.T) {
	t.Parallel()

	// 正午时刻，日预算 100，已消费 0：落后于目标，乘数应该被顶满
	st := NewPacingState(1, 100, 0, dayAt(12, 0))

	if st.TargetSpend != 50 {
		t.Fatalf("expected target spend 50 at noon, got %v", st.TargetSpend)
	}
	// err=50, dt=1min: raw = (0.8+0.2+0.1)*50 = 55, multiplier = 1 + 55/100*2 = 2.1
	if st.Multiplier < 2.09 || st.Multiplier > 2.11 {
		t.Fatalf("expected multiplier around 2.1, got %v", st.Multiplier)
	}
	if st.Multiplier > MaxMultiplier || st.Multiplier < MinMultiplier {
		t.Fatalf("multiplier out of bounds: %v", st.Multiplier)
	}
}

func TestRecomputeBounds(t *testing.T) {
	t.Parallel()

	// 严重超前消费：误差为大负值，乘数应贴到下界而不是变成负数
	st := NewPacingState(2, 100, 90, dayAt(1, 0))
	if st.ActualSpend >= st.DailyBudget*SoftStopRatio {
		t.Fatalf("test setup broken: spend should be below soft stop")
	}
	if st.Multiplier != MinMultiplier {
		t.Fatalf("expected multiplier at floor %v, got %v", MinMultiplier, st.Multiplier)
	}
}

func TestRecomputeMinGap(t *testing.T) {
	t.Parallel()

	st := NewPacingState(3, 100, 10, dayAt(6, 0))
	before := st.Multiplier

	if st.Recompute(DefaultPIDGains, dayAt(6, 0).Add(30*time.Second)) {
		t.Fatalf("recompute within the minimum gap should be skipped")
	}
	if st.Multiplier != before {
		t.Fatalf("skipped recompute must not change the multiplier")
	}

	if !st.Recompute(DefaultPIDGains, dayAt(6, 0).Add(2*time.Minute)) {
		t.Fatalf("recompute past the minimum gap should run")
	}
}

func TestSoftStopCapsMultiplier(t *testing.T) {
	t.Parallel()

	// 已消费 = 日预算：软停生效，乘数不得超过 SoftStopCap
	st := NewPacingState(4, 100, 100, dayAt(23, 0))
	if st.Multiplier > SoftStopCap {
		t.Fatalf("expected soft stop cap %v, got %v", SoftStopCap, st.Multiplier)
	}
	if st.Multiplier == 0 {
		t.Fatalf("soft stop must not zero out the multiplier")
	}
}

func TestHardStopZeroesMultiplier(t *testing.T) {
	t.Parallel()

	st := NewPacingState(5, 100, 111, dayAt(23, 0))
	if st.Multiplier != 0 {
		t.Fatalf("expected hard stop at >=110%% of budget, got multiplier %v", st.Multiplier)
	}
	if !st.PausedForOverspend() {
		t.Fatalf("hard stopped campaign should report paused for overspend")
	}
}

func TestHardStopRecoversNextDay(t *testing.T) {
	t.Parallel()

	st := NewPacingState(6, 100, 111, dayAt(23, 0))
	if st.Multiplier != 0 {
		t.Fatalf("expected hard stop, got %v", st.Multiplier)
	}

	// 新的一天：台账重建出 0 消费，状态从头来
	next := NewPacingState(6, 100, 0, dayAt(23, 0).Add(2*time.Hour))
	if next.Multiplier == 0 {
		t.Fatalf("fresh day state must not inherit the hard stop")
	}
}

func TestPacingConvergesTowardTarget(t *testing.T) {
	t.Parallel()

	// 模拟一天：每 5 分钟重算一次，每个 tick 按乘数比例产生消费。
	// 稳定后实际消费应该贴着时间比例目标走，日终不超硬停线。
	const budget = 240.0
	st := NewPacingState(7, budget, 0, dayAt(0, 5))

	baseSpendPerTick := budget / 288.0 // 均匀消费时每 5 分钟应花的钱
	now := dayAt(0, 5)
	for i := 0; i < 287; i++ {
		now = now.Add(5 * time.Minute)
		st.AddSpend(baseSpendPerTick * st.Multiplier)
		st.Recompute(DefaultPIDGains, now)
	}

	if st.ActualSpend >= budget*HardStopRatio {
		t.Fatalf("controller let spend run through the hard stop: %v", st.ActualSpend)
	}
	// 日终误差应收敛在预算的 15% 以内
	drift := st.ActualSpend - st.TargetSpend
	if drift < 0 {
		drift = -drift
	}
	if drift > budget*0.15 {
		t.Fatalf("end of day drift too large: spend=%v target=%v", st.ActualSpend, st.TargetSpend)
	}
}

func TestDayStart(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 10, 17, 45, 12, 0, time.Local)
	start := DayStart(now)
	if start.Hour() != 0 || start.Minute() != 0 || start.Day() != 10 {
		t.Fatalf("unexpected day start: %v", start)
	}
}
