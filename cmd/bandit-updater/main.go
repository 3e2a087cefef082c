// cmd/bandit-updater/main.go
package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"

	"nova/internal/pkg/bootstrap"
	"nova/internal/pkg/mq"
	"nova/internal/pkg/redis"
	"nova/internal/service/ads/application"
	"nova/internal/service/ads/infrastructure"
	"nova/internal/service/ads/infrastructure/adapter"
)

const (
	serviceName           = "bandit-updater"
	servicePort           = 8086
	rewardConsumerGroupID = "bandit-reward-consumer-group"
)

// 奖励更新器独立部署：消费奖励主题并维护 arm 统计，
// 崩溃或重启不影响投放主链路。
func main() {
	bootstrap.Init()
	cfg := bootstrap.GetCurrentConfig()

	redisClient, err := redis.NewClient(cfg.Infra.Redis.Addr)
	if err != nil {
		log.Fatalf("failed to initialize redis client: %v", err)
	}
	dedupe := adapter.NewDedupeRedisAdapter(redisClient)

	tracer := otel.Tracer(serviceName)
	banditSvc := application.NewBanditService(dedupe, tracer)

	rewardReader := mq.NewKafkaReader(cfg.Infra.Kafka.Brokers, cfg.Infra.Kafka.RewardTopic, rewardConsumerGroupID)
	consumer := infrastructure.NewRewardConsumerAdapter(rewardReader, banditSvc)

	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		Port:        servicePort,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			appCtx.Mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
			appCtx.Mux.Handle("/metrics", promhttp.Handler())
			appCtx.Mux.HandleFunc("/admin/arms", func(w http.ResponseWriter, r *http.Request) {
				writeArmsSnapshot(w, banditSvc)
			})
		},
		BackgroundTasks: []func(ctx context.Context){
			func(ctx context.Context) {
				consumer.Start(ctx)
				<-ctx.Done()
				consumer.Stop()
			},
		},
	})
}

func writeArmsSnapshot(w http.ResponseWriter, svc *application.BanditService) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(svc.Snapshot())
}
