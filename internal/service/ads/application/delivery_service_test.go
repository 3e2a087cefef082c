// internal/service/ads/application/delivery_service_test.go
package application

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel"

	"nova/internal/service/ads/domain"
)

type deliveryFixture struct {
	repo      *fakeCampaignRepo
	ledger    *fakeSpendLedger
	frequency *fakeFrequencyRepo
	features  *fakeFeatureCache
	rules     *fakeRuleEngine
	configs   *fakeConfigRepo
	expRepo   *fakeExperimentRepo
	svc       *DeliveryService
}

func newDeliveryFixture(campaigns ...*domain.Campaign) *deliveryFixture {
	f := &deliveryFixture{
		repo:      newFakeCampaignRepo(campaigns...),
		ledger:    newFakeSpendLedger(),
		frequency: newFakeFrequencyRepo(),
		features:  newFakeFeatureCache(),
		rules:     &fakeRuleEngine{results: map[string]bool{}, errs: map[string]error{}},
		configs:   &fakeConfigRepo{},
		expRepo:   newFakeExperimentRepo(),
	}
	tracer := otel.Tracer("test")
	noon := time.Date(2025, 6, 10, 12, 0, 0, 0, time.Local)
	pacing := NewPacingService(f.repo, f.ledger, &fakeSpendReplay{}, time.Minute, tracer, nil).
		WithClock(fixedClock(noon))
	config := NewConfigService(f.configs, tracer)
	experiments := NewExperimentService(f.expRepo, tracer)
	f.svc = NewDeliveryService(
		f.repo, f.frequency, f.features, f.rules,
		pacing, config, experiments, true, 500*time.Millisecond, tracer,
	).WithClock(fixedClock(noon))
	return f
}

func deliveryRequest() *domain.RequestContext {
	return &domain.RequestContext{
		Location:   "US",
		DeviceType: "ios",
		SessionID:  "sess-1",
		Now:        time.Date(2025, 6, 10, 12, 0, 0, 0, time.Local),
	}
}

func TestGetEligibleAdsHappyPath(t *testing.T) {
	c := testCampaign(1, 100)
	f := newDeliveryFixture(c)
	f.ledger.today[1] = 50
	f.repo.ads[1] = []*domain.Ad{{ID: 10, CampaignID: 1, Creative: "banner-a"}}

	result, err := f.svc.GetEligibleAds(context.Background(), "u1", deliveryRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.FeedGenerationID == "" {
		t.Fatalf("feed generation id must be set")
	}
	if len(result.Candidates) != 1 {
		t.Fatalf("expected one candidate, got %d", len(result.Candidates))
	}

	got := result.Candidates[0]
	if got.AdID != 10 || got.CampaignID != 1 {
		t.Fatalf("unexpected candidate: %+v", got)
	}
	// 消费正中目标时乘数 ~1.0，有效出价应接近 BaseBid
	if got.EffectiveBid < c.BaseBid*0.9 || got.EffectiveBid > c.BaseBid*1.1 {
		t.Fatalf("effective bid should track base bid at on-target pacing: %v", got.EffectiveBid)
	}
}

func TestGetEligibleAdsCatalogOutageServesEmpty(t *testing.T) {
	f := newDeliveryFixture(testCampaign(1, 100))
	f.repo.listErr = domain.ErrDependencyUnavailable

	result, err := f.svc.GetEligibleAds(context.Background(), "u1", deliveryRequest())
	if err != nil {
		t.Fatalf("catalog outage must not surface an error, got %v", err)
	}
	if len(result.Candidates) != 0 {
		t.Fatalf("expected empty candidate list on outage")
	}
}

func TestGetEligibleAdsTargetingMismatch(t *testing.T) {
	c := testCampaign(1, 100)
	c.Targeting = domain.TargetingRules{Devices: []string{"android"}}
	f := newDeliveryFixture(c)
	f.repo.ads[1] = []*domain.Ad{{ID: 10, CampaignID: 1}}

	result, err := f.svc.GetEligibleAds(context.Background(), "u1", deliveryRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Candidates) != 0 {
		t.Fatalf("ios request must not see android-only campaign")
	}
}

func TestGetEligibleAdsQualityThreshold(t *testing.T) {
	c := testCampaign(1, 100)
	c.QualityScore = 0.1 // 低于默认门槛 0.3
	f := newDeliveryFixture(c)
	f.repo.ads[1] = []*domain.Ad{{ID: 10, CampaignID: 1}}

	result, _ := f.svc.GetEligibleAds(context.Background(), "u1", deliveryRequest())
	if len(result.Candidates) != 0 {
		t.Fatalf("low quality campaign must be filtered")
	}
}

func TestFrequencyCapBoundary(t *testing.T) {
	c := testCampaign(1, 100) // 默认频控上限 5
	f := newDeliveryFixture(c)
	f.repo.ads[1] = []*domain.Ad{{ID: 10, CampaignID: 1}}

	// 今天已看 4 次：还差一次，照常投
	f.frequency.counts[freqKey("u1", 1)] = 4
	result, _ := f.svc.GetEligibleAds(context.Background(), "u1", deliveryRequest())
	if len(result.Candidates) != 1 {
		t.Fatalf("4 impressions should still deliver under a cap of 5")
	}

	// 第 5 次之后：到顶，不再投
	f.frequency.counts[freqKey("u1", 1)] = 5
	result, _ = f.svc.GetEligibleAds(context.Background(), "u1", deliveryRequest())
	if len(result.Candidates) != 0 {
		t.Fatalf("5 impressions must hit the cap")
	}
}

func TestFrequencyStoreOutageFailsOpen(t *testing.T) {
	c := testCampaign(1, 100)
	f := newDeliveryFixture(c)
	f.repo.ads[1] = []*domain.Ad{{ID: 10, CampaignID: 1}}
	f.frequency.getErr = domain.ErrDependencyUnavailable

	result, err := f.svc.GetEligibleAds(context.Background(), "u1", deliveryRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Candidates) != 1 {
		t.Fatalf("frequency outage must not block delivery")
	}
}

func TestCustomRuleExcludesOnFailure(t *testing.T) {
	blocked := testCampaign(1, 100)
	blocked.Targeting.CustomRule = `device == "android"`
	broken := testCampaign(2, 100)
	broken.Targeting.CustomRule = `this is not an expression`
	passing := testCampaign(3, 100)
	passing.Targeting.CustomRule = `device == "ios"`

	f := newDeliveryFixture(blocked, broken, passing)
	f.rules.results[blocked.Targeting.CustomRule] = false
	f.rules.errs[broken.Targeting.CustomRule] = domain.ErrDependencyUnavailable
	f.rules.results[passing.Targeting.CustomRule] = true
	f.repo.ads[1] = []*domain.Ad{{ID: 10, CampaignID: 1}}
	f.repo.ads[2] = []*domain.Ad{{ID: 20, CampaignID: 2}}
	f.repo.ads[3] = []*domain.Ad{{ID: 30, CampaignID: 3}}

	result, _ := f.svc.GetEligibleAds(context.Background(), "u1", deliveryRequest())
	if len(result.Candidates) != 1 || result.Candidates[0].CampaignID != 3 {
		t.Fatalf("only the passing rule campaign should survive, got %+v", result.Candidates)
	}
}

func TestGhostAdControlWithheldButRecorded(t *testing.T) {
	c := testCampaign(1, 100)
	f := newDeliveryFixture(c)
	f.repo.ads[1] = []*domain.Ad{{ID: 10, CampaignID: 1}}
	f.expRepo.active[1] = &domain.Experiment{ID: "exp-1", CampaignID: 1, Status: "running"}
	f.svc.WithRand(func() float64 { return 0.0 }) // 必中 control

	result, _ := f.svc.GetEligibleAds(context.Background(), "u1", deliveryRequest())
	if len(result.Candidates) != 0 {
		t.Fatalf("control assignment must withhold the ad")
	}
	if len(f.expRepo.events) != 1 {
		t.Fatalf("control assignment must still record an experiment event")
	}
	if f.expRepo.events[0].Assignment != domain.AssignmentControl {
		t.Fatalf("expected control assignment, got %s", f.expRepo.events[0].Assignment)
	}
}

func TestGhostAdTreatmentDelivers(t *testing.T) {
	c := testCampaign(1, 100)
	f := newDeliveryFixture(c)
	f.repo.ads[1] = []*domain.Ad{{ID: 10, CampaignID: 1}}
	f.expRepo.active[1] = &domain.Experiment{ID: "exp-1", CampaignID: 1, Status: "running"}
	f.svc.WithRand(func() float64 { return 0.99 }) // 必中 treatment

	result, _ := f.svc.GetEligibleAds(context.Background(), "u1", deliveryRequest())
	if len(result.Candidates) != 1 {
		t.Fatalf("treatment assignment must deliver")
	}
	if len(f.expRepo.events) != 1 || f.expRepo.events[0].Assignment != domain.AssignmentTreatment {
		t.Fatalf("treatment assignment must be recorded")
	}
}

func TestGhostAdsDisabledSkipsSplit(t *testing.T) {
	c := testCampaign(1, 100)
	f := newDeliveryFixture(c)
	f.repo.ads[1] = []*domain.Ad{{ID: 10, CampaignID: 1}}
	f.expRepo.active[1] = &domain.Experiment{ID: "exp-1", CampaignID: 1, Status: "running"}
	f.svc.ghostEnabled = false
	f.svc.WithRand(func() float64 { return 0.0 }) // 开关关着时必中 control 也无效

	result, _ := f.svc.GetEligibleAds(context.Background(), "u1", deliveryRequest())
	if len(result.Candidates) != 1 {
		t.Fatalf("disabled ghost split must deliver normally")
	}
	if len(f.expRepo.events) != 0 {
		t.Fatalf("disabled ghost split must not record assignments, got %d", len(f.expRepo.events))
	}
}

func TestFeatureCacheOutageServesWithoutProfile(t *testing.T) {
	c := testCampaign(1, 100)
	f := newDeliveryFixture(c)
	f.repo.ads[1] = []*domain.Ad{{ID: 10, CampaignID: 1}}
	f.features.getErr = domain.ErrDependencyUnavailable

	result, err := f.svc.GetEligibleAds(context.Background(), "u1", deliveryRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Candidates) != 1 {
		t.Fatalf("cache outage must degrade to an empty profile, not block")
	}
}
