// internal/service/ads/application/fakes_test.go
package application

import (
	"context"
	"fmt"
	"sync"
	"time"

	"nova/internal/service/ads/domain"
)

// 这个文件集中放各个端口的内存假实现，供本包测试共用。
// 每个假实现都带可注入的失败开关，用来验证降级路径。

type fakeCampaignRepo struct {
	mu        sync.Mutex
	campaigns map[int64]*domain.Campaign
	ads       map[int64][]*domain.Ad
	getErr    error
	listErr   error
	adsErr    error
}

func newFakeCampaignRepo(campaigns ...*domain.Campaign) *fakeCampaignRepo {
	repo := &fakeCampaignRepo{
		campaigns: make(map[int64]*domain.Campaign),
		ads:       make(map[int64][]*domain.Ad),
	}
	for _, c := range campaigns {
		repo.campaigns[c.ID] = c
	}
	return repo
}

func (r *fakeCampaignRepo) GetCampaign(ctx context.Context, id int64) (*domain.Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.getErr != nil {
		return nil, r.getErr
	}
	c, ok := r.campaigns[id]
	if !ok {
		return nil, domain.ErrCampaignNotFound
	}
	return c, nil
}

func (r *fakeCampaignRepo) ListActiveCampaigns(ctx context.Context, now time.Time) ([]*domain.Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listErr != nil {
		return nil, r.listErr
	}
	out := make([]*domain.Campaign, 0, len(r.campaigns))
	for _, c := range r.campaigns {
		if c.IsDeliverable(now) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *fakeCampaignRepo) ListAdsByCampaigns(ctx context.Context, campaignIDs []int64) (map[int64][]*domain.Ad, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.adsErr != nil {
		return nil, r.adsErr
	}
	out := make(map[int64][]*domain.Ad)
	for _, id := range campaignIDs {
		out[id] = r.ads[id]
	}
	return out, nil
}

type fakeSpendLedger struct {
	mu         sync.Mutex
	today      map[int64]float64
	appended   []*domain.SpendRecord
	failsLeft  int // 前 N 次 Append 失败
	getErr     error
	appendErrs int // 累计 Append 失败次数
}

func newFakeSpendLedger() *fakeSpendLedger {
	return &fakeSpendLedger{today: make(map[int64]float64)}
}

// GetTodaySpend 和真实台账一样做 SUM：基数 today 加上已追加的当日流水。
func (l *fakeSpendLedger) GetTodaySpend(ctx context.Context, campaignID int64, dayStart time.Time) (float64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.getErr != nil {
		return 0, l.getErr
	}
	total := l.today[campaignID]
	for _, rec := range l.appended {
		if rec.CampaignID == campaignID && !rec.CreatedAt.Before(dayStart) {
			total += rec.Amount
		}
	}
	return total, nil
}

func (l *fakeSpendLedger) AppendSpendRecord(ctx context.Context, rec *domain.SpendRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failsLeft > 0 {
		l.failsLeft--
		l.appendErrs++
		return domain.ErrDependencyUnavailable
	}
	l.appended = append(l.appended, rec)
	return nil
}

type fakeFrequencyRepo struct {
	mu        sync.Mutex
	counts    map[string]int
	failsLeft int
	getErr    error
}

func newFakeFrequencyRepo() *fakeFrequencyRepo {
	return &fakeFrequencyRepo{counts: make(map[string]int)}
}

func freqKey(userID string, campaignID int64) string {
	return fmt.Sprintf("%s/%d", userID, campaignID)
}

func (r *fakeFrequencyRepo) GetCounts(ctx context.Context, userID string, campaignIDs []int64, day time.Time) (map[int64]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.getErr != nil {
		return nil, r.getErr
	}
	out := make(map[int64]int)
	for _, id := range campaignIDs {
		out[id] = r.counts[freqKey(userID, id)]
	}
	return out, nil
}

func (r *fakeFrequencyRepo) Increment(ctx context.Context, userID string, campaignID int64, day time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failsLeft > 0 {
		r.failsLeft--
		return domain.ErrDependencyUnavailable
	}
	r.counts[freqKey(userID, campaignID)]++
	return nil
}

type fakeInteractionRepo struct {
	mu     sync.Mutex
	events []*domain.InteractionEvent
	err    error
}

func (r *fakeInteractionRepo) Append(ctx context.Context, event *domain.InteractionEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, event)
	return nil
}

type fakeExperimentRepo struct {
	mu          sync.Mutex
	experiments map[string]*domain.Experiment
	active      map[int64]*domain.Experiment
	events      []*domain.ExperimentEvent
	appendErr   error
	activeErr   error
}

func newFakeExperimentRepo() *fakeExperimentRepo {
	return &fakeExperimentRepo{
		experiments: make(map[string]*domain.Experiment),
		active:      make(map[int64]*domain.Experiment),
	}
}

func (r *fakeExperimentRepo) GetExperiment(ctx context.Context, id string) (*domain.Experiment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	exp, ok := r.experiments[id]
	if !ok {
		return nil, domain.ErrExperimentNotFound
	}
	return exp, nil
}

func (r *fakeExperimentRepo) ActiveExperimentForCampaign(ctx context.Context, campaignID int64, now time.Time) (*domain.Experiment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.activeErr != nil {
		return nil, r.activeErr
	}
	return r.active[campaignID], nil
}

func (r *fakeExperimentRepo) AppendEvent(ctx context.Context, event *domain.ExperimentEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.appendErr != nil {
		return r.appendErr
	}
	r.events = append(r.events, event)
	return nil
}

func (r *fakeExperimentRepo) ListEvents(ctx context.Context, experimentID string) ([]*domain.ExperimentEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.ExperimentEvent, 0)
	for _, e := range r.events {
		if e.ExperimentID == experimentID {
			out = append(out, e)
		}
	}
	return out, nil
}

type fakeConfigRepo struct {
	mu      sync.Mutex
	active  *domain.AlgorithmConfig
	getErr  error
	swapErr error
	swaps   int
}

func (r *fakeConfigRepo) GetActive(ctx context.Context, name string) (*domain.AlgorithmConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.getErr != nil {
		return nil, r.getErr
	}
	if r.active == nil {
		return nil, domain.ErrConfigNotFound
	}
	return r.active, nil
}

func (r *fakeConfigRepo) SwapActive(ctx context.Context, cfg *domain.AlgorithmConfig) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.swapErr != nil {
		return 0, r.swapErr
	}
	version := 1
	if r.active != nil {
		version = r.active.Version + 1
	}
	next := *cfg
	next.Version = version
	next.Active = true
	r.active = &next
	r.swaps++
	return version, nil
}

type fakeFeatureCache struct {
	mu       sync.Mutex
	features map[string]*domain.UserFeatures
	getErr   error
	bumps    []string
	bumpErr  error
}

func newFakeFeatureCache() *fakeFeatureCache {
	return &fakeFeatureCache{features: make(map[string]*domain.UserFeatures)}
}

func (c *fakeFeatureCache) Get(ctx context.Context, userID string) (*domain.UserFeatures, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return nil, c.getErr
	}
	f, ok := c.features[userID]
	if !ok {
		return nil, domain.ErrCacheMiss
	}
	return f, nil
}

func (c *fakeFeatureCache) Set(ctx context.Context, features *domain.UserFeatures, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.features[features.UserID] = features
	return nil
}

func (c *fakeFeatureCache) BumpEngagement(ctx context.Context, userID string, interaction domain.InteractionType, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bumpErr != nil {
		return c.bumpErr
	}
	c.bumps = append(c.bumps, userID+"/"+string(interaction))
	return nil
}

type fakeRewardQueue struct {
	mu   sync.Mutex
	msgs []*domain.BanditRewardMessage
	err  error
}

func (q *fakeRewardQueue) Enqueue(ctx context.Context, msg *domain.BanditRewardMessage) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.msgs = append(q.msgs, msg)
	return nil
}

type fakeDedupe struct {
	mu   sync.Mutex
	seen map[string]bool
	err  error
}

func newFakeDedupe() *fakeDedupe {
	return &fakeDedupe{seen: make(map[string]bool)}
}

func (d *fakeDedupe) FirstSeen(ctx context.Context, messageID string, ttl time.Duration) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return false, d.err
	}
	if d.seen[messageID] {
		return false, nil
	}
	d.seen[messageID] = true
	return true, nil
}

type fakeSpendReplay struct {
	mu    sync.Mutex
	items []*domain.SpendRecord
}

func (q *fakeSpendReplay) Push(ctx context.Context, rec *domain.SpendRecord) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, rec)
	return nil
}

func (q *fakeSpendReplay) Pop(ctx context.Context) (*domain.SpendRecord, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, nil
	}
	rec := q.items[0]
	q.items = q.items[1:]
	return rec, nil
}

type fakeFreqReplay struct {
	mu    sync.Mutex
	items []*domain.FrequencyIncrement
}

func (q *fakeFreqReplay) Push(ctx context.Context, item *domain.FrequencyIncrement) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, item)
	return nil
}

func (q *fakeFreqReplay) Pop(ctx context.Context) (*domain.FrequencyIncrement, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, nil
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item, nil
}

type fakeRuleEngine struct {
	results map[string]bool
	errs    map[string]error
}

func (e *fakeRuleEngine) Evaluate(rule string, fact map[string]interface{}) (bool, error) {
	if err, ok := e.errs[rule]; ok {
		return false, err
	}
	return e.results[rule], nil
}
