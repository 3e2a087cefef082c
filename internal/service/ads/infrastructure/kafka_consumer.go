// internal/service/ads/infrastructure/kafka_consumer.go
package infrastructure

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"

	"nova/internal/pkg/logger"
	"nova/internal/pkg/mq"
	"nova/internal/service/ads/application"
	"nova/internal/service/ads/domain"
)

// RewardConsumerAdapter 是一个驱动适配器，监听奖励主题并驱动 BanditService。
type RewardConsumerAdapter struct {
	reader  *kafka.Reader
	appSvc  *application.BanditService
	wg      sync.WaitGroup
	stopped bool
}

func NewRewardConsumerAdapter(reader *kafka.Reader, appSvc *application.BanditService) *RewardConsumerAdapter {
	return &RewardConsumerAdapter{
		reader: reader,
		appSvc: appSvc,
	}
}

// Start 开始消费奖励主题。这是一个长期运行的方法。
func (a *RewardConsumerAdapter) Start(ctx context.Context) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		logger.Logger().Info().Str("topic", a.reader.Config().Topic).
			Msg("✅ reward consumer started")
		for {
			if a.stopped {
				return
			}
			// FetchMessage 而不是 ReadMessage，处理成功后才提交 offset
			msg, err := a.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					logger.Logger().Info().Msg("🛑 reward consumer shutting down")
					return
				}
				logger.Logger().Error().Err(err).Msg("reward fetch failed, retrying")
				time.Sleep(1 * time.Second)
				continue
			}

			a.processMessage(ctx, msg)

			if err := a.reader.CommitMessages(ctx, msg); err != nil {
				logger.Logger().Error().Err(err).Msg("reward offset commit failed")
			}
		}
	}()
}

// Stop 优雅地停止消费者。
func (a *RewardConsumerAdapter) Stop() {
	a.stopped = true
	a.reader.Close()
	a.wg.Wait()
	logger.Logger().Info().Msg("✅ reward consumer stopped")
}

// processMessage 反序列化奖励消息并交给应用服务。
// 解析不了的消息记日志跳过，照常提交 offset，坏消息不能卡死分区。
func (a *RewardConsumerAdapter) processMessage(parentCtx context.Context, msg kafka.Message) {
	var reward domain.BanditRewardMessage
	if err := json.Unmarshal(msg.Value, &reward); err != nil {
		logger.Logger().Error().Err(err).Msg("malformed reward message skipped")
		return
	}

	propagator := otel.GetTextMapPropagator()
	headerCarrier := mq.KafkaHeaderCarrier(msg.Headers)
	ctx := propagator.Extract(parentCtx, &headerCarrier)

	if err := a.appSvc.HandleReward(ctx, &reward); err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("message_id", reward.MessageID).
			Msg("reward handling failed")
	}
}
