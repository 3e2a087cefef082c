// internal/service/ads/domain/targeting.go
package domain

import "time"

// DefaultDailyFrequencyCap 是计划未显式配置频控时的每日上限。
const DefaultDailyFrequencyCap = 5

// TargetingRules 是定向谓词。每个维度独立可空：
// 未设置的维度对任何用户都命中（开放世界默认），
// 设置了的维度之间是合取关系，必须全部命中。
type TargetingRules struct {
	AgeGroups         []string `json:"age_groups,omitempty"`
	Locations         []string `json:"locations,omitempty"`
	Interests         []string `json:"interests,omitempty"`
	Devices           []string `json:"devices,omitempty"`
	DailyFrequencyCap *int     `json:"daily_frequency_cap,omitempty"`
	// CustomRule 是可选的 CEL 表达式，作用于定向 fact，
	// 用于结构化维度覆盖不了的长尾定向条件。
	CustomRule string `json:"custom_rule,omitempty"`
}

// UserFeatures 是从特征缓存读出的用户画像快照。
// 允许过期、允许缺失，投放路径对它是 best-effort 的。
type UserFeatures struct {
	UserID        string           `json:"user_id"`
	AgeGroup      string           `json:"age_group"`
	TopCategories []string         `json:"top_categories"`
	Counters      map[string]int64 `json:"counters,omitempty"`
	LastActivity  time.Time        `json:"last_activity"`
}

// RequestContext 是单次 feed 请求携带的上下文信号。
type RequestContext struct {
	Location   string
	DeviceType string
	SessionID  string
	Now        time.Time
}

// FrequencyCap 返回每日频控上限，未配置时取默认值。
func (r *TargetingRules) FrequencyCap() int {
	if r.DailyFrequencyCap != nil && *r.DailyFrequencyCap > 0 {
		return *r.DailyFrequencyCap
	}
	return DefaultDailyFrequencyCap
}

// Matches 评估结构化定向维度（CustomRule 由基础设施层的规则引擎单独评估）。
func (r *TargetingRules) Matches(f *UserFeatures, reqCtx *RequestContext) bool {
	if len(r.AgeGroups) > 0 && !contains(r.AgeGroups, f.AgeGroup) {
		return false
	}
	// 地域维度只有在规则和请求都带了地域时才约束
	if len(r.Locations) > 0 && reqCtx.Location != "" && !contains(r.Locations, reqCtx.Location) {
		return false
	}
	if len(r.Interests) > 0 && overlapCount(r.Interests, f.TopCategories) == 0 {
		return false
	}
	if len(r.Devices) > 0 && !contains(r.Devices, reqCtx.DeviceType) {
		return false
	}
	return true
}

// MatchScore 计算定向匹配分：只对计划实际约束了的维度打分，
// 年龄命中 1 个权重单位，兴趣重合按比例最多 2 个单位，按总权重归一。
// 什么都没约束的计划返回 0.5——"未知但不惩罚"。
func (r *TargetingRules) MatchScore(f *UserFeatures) float64 {
	var score, totalWeight float64

	if len(r.AgeGroups) > 0 {
		totalWeight += 1.0
		if contains(r.AgeGroups, f.AgeGroup) {
			score += 1.0
		}
	}
	if len(r.Interests) > 0 {
		totalWeight += 2.0
		overlap := float64(overlapCount(r.Interests, f.TopCategories))
		score += 2.0 * overlap / float64(len(r.Interests))
	}

	if totalWeight == 0 {
		return 0.5
	}
	return score / totalWeight
}

// Fact 把定向输入拍平成规则引擎可消费的 fact。
func (r *TargetingRules) Fact(f *UserFeatures, reqCtx *RequestContext) map[string]interface{} {
	interests := make([]string, len(f.TopCategories))
	copy(interests, f.TopCategories)
	return map[string]interface{}{
		"age_group": f.AgeGroup,
		"interests": interests,
		"location":  reqCtx.Location,
		"device":    reqCtx.DeviceType,
	}
}

func contains(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

func overlapCount(a, b []string) int {
	set := make(map[string]struct{}, len(a))
	for _, s := range a {
		set[s] = struct{}{}
	}
	n := 0
	for _, s := range b {
		if _, ok := set[s]; ok {
			n++
		}
	}
	return n
}
