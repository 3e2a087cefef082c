// internal/service/ads/domain/errors.go
package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrCampaignNotFound 引用的计划不存在。直接上抛给调用方，不重试。
	ErrCampaignNotFound = errors.New("campaign not found")
	// ErrExperimentNotFound 引用的实验不存在。
	ErrExperimentNotFound = errors.New("experiment not found")
	// ErrConfigNotFound 没有处于激活状态的算法配置。
	ErrConfigNotFound = errors.New("algorithm config not found")
	// ErrDependencyUnavailable 台账/缓存/队列不可达。
	// 读路径遇到它时就地降级（fail-open），写路径必须重试或入重放队列。
	ErrDependencyUnavailable = errors.New("dependency unavailable")
	// ErrCacheMiss 特征缓存未命中，非错误语义，调用方按空画像继续。
	ErrCacheMiss = errors.New("cache miss")
)

// ValidationError 指出具体哪个字段违反了哪条约束，
// 管理端接口要求把它原样透出给调用方。
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: field %q %s", e.Field, e.Reason)
}

// IsValidation 判断错误链上是否有校验错误。
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
