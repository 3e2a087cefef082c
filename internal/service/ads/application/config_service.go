// internal/service/ads/application/config_service.go
package application

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"nova/internal/pkg/logger"
	"nova/internal/service/ads/domain"
)

// 热路径上每次投放都要读配置，用一个短 TTL 的本地缓存挡住数据库。
const configCacheTTL = 30 * time.Second

// ConfigService 管理算法配置的读取与原子切换。
type ConfigService struct {
	repo     domain.ConfigRepository
	validate *validator.Validate
	tracer   trace.Tracer

	mu        sync.RWMutex
	cached    *domain.AlgorithmConfig
	fetchedAt time.Time
}

func NewConfigService(repo domain.ConfigRepository, tracer trace.Tracer) *ConfigService {
	return &ConfigService{
		repo:     repo,
		validate: validator.New(),
		tracer:   tracer,
	}
}

// Active 返回当前生效配置。仓储不可用时退回内置默认值，投放永不因配置读失败而中断。
func (s *ConfigService) Active(ctx context.Context) *domain.AlgorithmConfig {
	s.mu.RLock()
	if s.cached != nil && time.Since(s.fetchedAt) < configCacheTTL {
		cfg := s.cached
		s.mu.RUnlock()
		return cfg
	}
	s.mu.RUnlock()

	cfg, err := s.repo.GetActive(ctx, domain.AlgorithmConfigName)
	if err != nil {
		logger.Ctx(ctx).Warn().Err(err).Msg("active config fetch failed, using defaults")
		return domain.DefaultAlgorithmConfig()
	}

	s.mu.Lock()
	s.cached = cfg
	s.fetchedAt = time.Now()
	s.mu.Unlock()
	return cfg
}

// Update 校验并切换生效配置。任何一条校验失败都不落库，当前生效版本保持不变。
func (s *ConfigService) Update(ctx context.Context, cfg *domain.AlgorithmConfig) (int, error) {
	ctx, span := s.tracer.Start(ctx, "config.Update")
	defer span.End()

	if err := s.validate.Struct(cfg); err != nil {
		if errs, ok := err.(validator.ValidationErrors); ok && len(errs) > 0 {
			fe := errs[0]
			return 0, &domain.ValidationError{
				Field:  fe.Field(),
				Reason: fmt.Sprintf("failed %s=%s constraint", fe.Tag(), fe.Param()),
			}
		}
		return 0, err
	}
	if err := cfg.ValidateWeights(); err != nil {
		return 0, err
	}

	version, err := s.repo.SwapActive(ctx, cfg)
	if err != nil {
		return 0, err
	}
	span.SetAttributes(attribute.Int("config.version", version))

	// 切换成功后立刻失效本地缓存，下一次 Active 读到新版本
	s.mu.Lock()
	s.cached = nil
	s.mu.Unlock()

	logger.Ctx(ctx).Info().Int("version", version).Msg("✅ algorithm config swapped")
	return version, nil
}
