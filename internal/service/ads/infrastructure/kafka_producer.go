// internal/service/ads/infrastructure/kafka_producer.go
package infrastructure

import (
	"context"
	"encoding/json"

	"github.com/segmentio/kafka-go"

	"nova/internal/pkg/logger"
	"nova/internal/pkg/mq"
	"nova/internal/service/ads/domain"
)

// RewardProducerAdapter 是 port.RewardQueue 的 Kafka 实现。
// 以 ContextID 作为分区键，同一决策上下文的奖励落在同一分区，保序。
type RewardProducerAdapter struct {
	writer *kafka.Writer
}

func NewRewardProducerAdapter(writer *kafka.Writer) *RewardProducerAdapter {
	return &RewardProducerAdapter{writer: writer}
}

func (p *RewardProducerAdapter) Enqueue(ctx context.Context, msg *domain.BanditRewardMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := mq.ProduceMessage(ctx, p.writer, []byte(msg.ContextID), payload); err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("message_id", msg.MessageID).
			Msg("failed to produce bandit reward")
		return err
	}
	return nil
}
