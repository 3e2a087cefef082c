// internal/service/ads/application/feedback_service_test.go
package application

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel"

	"nova/internal/service/ads/domain"
)

type feedbackFixture struct {
	interactions *fakeInteractionRepo
	repo         *fakeCampaignRepo
	frequency    *fakeFrequencyRepo
	expRepo      *fakeExperimentRepo
	features     *fakeFeatureCache
	rewards      *fakeRewardQueue
	freqReplay   *fakeFreqReplay
	ledger       *fakeSpendLedger
	svc          *FeedbackService
}

func newFeedbackFixture(campaigns ...*domain.Campaign) *feedbackFixture {
	f := &feedbackFixture{
		interactions: &fakeInteractionRepo{},
		repo:         newFakeCampaignRepo(campaigns...),
		frequency:    newFakeFrequencyRepo(),
		expRepo:      newFakeExperimentRepo(),
		features:     newFakeFeatureCache(),
		rewards:      &fakeRewardQueue{},
		freqReplay:   &fakeFreqReplay{},
		ledger:       newFakeSpendLedger(),
	}
	tracer := otel.Tracer("test")
	noon := time.Date(2025, 6, 10, 12, 0, 0, 0, time.Local)
	pacing := NewPacingService(f.repo, f.ledger, &fakeSpendReplay{}, time.Minute, tracer, nil).
		WithClock(fixedClock(noon))
	f.svc = NewFeedbackService(
		f.interactions, f.repo, f.frequency, f.expRepo,
		f.features, f.rewards, f.freqReplay, pacing, tracer,
	).WithClock(fixedClock(noon))
	return f
}

func adClickEvent() *domain.InteractionEvent {
	return &domain.InteractionEvent{
		UserID:     "u1",
		ItemID:     "ad-10",
		ItemType:   domain.ItemTypeAd,
		Type:       domain.InteractionClick,
		CampaignID: 1,
	}
}

func TestRecordInteractionRejectsInvalidWithoutPersisting(t *testing.T) {
	f := newFeedbackFixture(testCampaign(1, 100))

	event := adClickEvent()
	event.Type = "invented"
	result, err := f.svc.RecordInteraction(context.Background(), event)

	if err == nil || !domain.IsValidation(err) {
		t.Fatalf("expected a validation error, got %v", err)
	}
	if result.Accepted {
		t.Fatalf("invalid event must not be accepted")
	}
	if len(f.interactions.events) != 0 {
		t.Fatalf("nothing may be persisted for a rejected event")
	}
	if len(f.ledger.appended) != 0 || len(f.rewards.msgs) != 0 {
		t.Fatalf("rejected event must not trigger side effects")
	}
}

func TestRecordInteractionAcceptsAndPersists(t *testing.T) {
	f := newFeedbackFixture(testCampaign(1, 100))

	result, err := f.svc.RecordInteraction(context.Background(), adClickEvent())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Accepted {
		t.Fatalf("valid event should be accepted")
	}
	if len(f.interactions.events) != 1 {
		t.Fatalf("interaction log must have the event")
	}
	if f.interactions.events[0].CreatedAt.IsZero() {
		t.Fatalf("created_at should be stamped on persist")
	}
}

func TestRecordInteractionSurfacesLogOutage(t *testing.T) {
	f := newFeedbackFixture(testCampaign(1, 100))
	f.interactions.err = domain.ErrDependencyUnavailable

	result, err := f.svc.RecordInteraction(context.Background(), adClickEvent())
	if err == nil {
		t.Fatalf("log outage must surface to the caller")
	}
	if result.Accepted {
		t.Fatalf("event must not be reported accepted when the log write failed")
	}
}

func TestClickSideEffectsRecordSpendAtEffectiveBid(t *testing.T) {
	c := testCampaign(1, 100)
	f := newFeedbackFixture(c)
	f.ledger.today[1] = 50 // 正午贴目标，乘数 ~1.0

	f.svc.processSideEffects(context.Background(), adClickEvent())

	if len(f.ledger.appended) != 1 {
		t.Fatalf("click must append a spend record")
	}
	rec := f.ledger.appended[0]
	if rec.EventType != string(domain.InteractionClick) {
		t.Fatalf("unexpected spend event type %s", rec.EventType)
	}
	// amount = BaseBid * multiplier ≈ 0.5 * 1.0
	if rec.Amount < c.BaseBid*0.9 || rec.Amount > c.BaseBid*1.1 {
		t.Fatalf("click spend should be base bid times pacing multiplier, got %v", rec.Amount)
	}
}

func TestViewSideEffectsIncrementFrequency(t *testing.T) {
	f := newFeedbackFixture(testCampaign(1, 100))

	event := adClickEvent()
	event.Type = domain.InteractionView
	event.CreatedAt = time.Date(2025, 6, 10, 12, 0, 0, 0, time.Local)
	f.svc.processSideEffects(context.Background(), event)

	if got := f.frequency.counts[freqKey("u1", 1)]; got != 1 {
		t.Fatalf("view must increment the frequency counter, got %d", got)
	}
	// view 是 0 金额流水，照样进台账
	if len(f.ledger.appended) != 1 || f.ledger.appended[0].Amount != 0 {
		t.Fatalf("view should append a zero-amount ledger row")
	}
}

func TestFrequencyIncrementFailureQueuesReplay(t *testing.T) {
	f := newFeedbackFixture(testCampaign(1, 100))
	f.frequency.failsLeft = 2 // 首写与重试都失败

	event := adClickEvent()
	event.Type = domain.InteractionView
	event.CreatedAt = time.Date(2025, 6, 10, 12, 0, 0, 0, time.Local)
	f.svc.processSideEffects(context.Background(), event)

	if len(f.freqReplay.items) != 1 {
		t.Fatalf("failed increment must land in the replay queue")
	}
	item := f.freqReplay.items[0]
	if item.UserID != "u1" || item.CampaignID != 1 {
		t.Fatalf("unexpected replay item: %+v", item)
	}

	// 存储恢复后，重放循环应把计数补上
	f.svc.drainFrequencyReplay(context.Background())
	if got := f.frequency.counts[freqKey("u1", 1)]; got != 1 {
		t.Fatalf("replay should restore the increment, got %d", got)
	}
}

func TestEngagementUpdatesFeatureCache(t *testing.T) {
	f := newFeedbackFixture(testCampaign(1, 100))

	f.svc.processSideEffects(context.Background(), adClickEvent())
	if len(f.features.bumps) != 1 || f.features.bumps[0] != "u1/click" {
		t.Fatalf("click should bump engagement counters, got %v", f.features.bumps)
	}

	// view 不属于强互动，不触发特征更新
	view := adClickEvent()
	view.Type = domain.InteractionView
	f.svc.processSideEffects(context.Background(), view)
	if len(f.features.bumps) != 1 {
		t.Fatalf("view must not bump engagement counters")
	}
}

func TestBanditContextEnqueuesReward(t *testing.T) {
	f := newFeedbackFixture(testCampaign(1, 100))

	event := adClickEvent()
	event.Type = domain.InteractionConversion
	event.Bandit = &domain.BanditContext{ContextID: "ctx-1", ArmID: "arm-a"}
	f.svc.processSideEffects(context.Background(), event)

	if len(f.rewards.msgs) != 1 {
		t.Fatalf("bandit context must produce a reward message")
	}
	msg := f.rewards.msgs[0]
	if msg.Reward != 5.0 {
		t.Fatalf("conversion reward should be 5.0, got %v", msg.Reward)
	}
	if msg.MessageID == "" || msg.ContextID != "ctx-1" || msg.ArmID != "arm-a" {
		t.Fatalf("unexpected reward message: %+v", msg)
	}
}

func TestNonBanditEventSkipsRewardQueue(t *testing.T) {
	f := newFeedbackFixture(testCampaign(1, 100))

	f.svc.processSideEffects(context.Background(), adClickEvent())
	if len(f.rewards.msgs) != 0 {
		t.Fatalf("event without bandit context must not enqueue a reward")
	}
}

func TestExperimentEventRecordedForTaggedInteraction(t *testing.T) {
	f := newFeedbackFixture(testCampaign(1, 100))

	event := adClickEvent()
	event.Type = domain.InteractionConversion
	event.ExperimentID = "exp-1"
	event.Assignment = domain.AssignmentTreatment
	event.ConversionValue = 19.9
	f.svc.processSideEffects(context.Background(), event)

	if len(f.expRepo.events) != 1 {
		t.Fatalf("tagged interaction must create an experiment event")
	}
	got := f.expRepo.events[0]
	if got.ExperimentID != "exp-1" || got.Assignment != domain.AssignmentTreatment || got.ConversionValue != 19.9 {
		t.Fatalf("unexpected experiment event: %+v", got)
	}
}

func TestNonAdInteractionSkipsAdSideEffects(t *testing.T) {
	f := newFeedbackFixture(testCampaign(1, 100))

	event := adClickEvent()
	event.ItemType = "post"
	event.CampaignID = 0
	f.svc.processSideEffects(context.Background(), event)

	if len(f.ledger.appended) != 0 {
		t.Fatalf("organic content must not hit the spend ledger")
	}
	if got := f.frequency.counts[freqKey("u1", 1)]; got != 0 {
		t.Fatalf("organic content must not touch frequency counters")
	}
	// 但强互动照样更新特征
	if len(f.features.bumps) != 1 {
		t.Fatalf("organic click should still bump engagement")
	}
}
