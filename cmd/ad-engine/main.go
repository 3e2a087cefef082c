// cmd/ad-engine/main.go
package main

import (
	"context"
	"log"
	"time"

	"go.opentelemetry.io/otel"

	"nova/internal/pkg/bootstrap"
	"nova/internal/pkg/mq"
	"nova/internal/pkg/redis"
	"nova/internal/pkg/zookeeper"
	"nova/internal/service/ads/application"
	"nova/internal/service/ads/infrastructure"
	"nova/internal/service/ads/infrastructure/adapter"
	"nova/internal/service/ads/infrastructure/rule"
	"nova/internal/service/ads/interfaces"
)

const (
	serviceName       = "ad-engine"
	servicePort       = 8085
	pacingLeaderScope = "ad-pacing-recompute"
)

// main 函数是应用的"组装根" (Composition Root)
// 它的核心职责是：创建并组装所有依赖项，然后启动应用。
func main() {
	bootstrap.Init()
	cfg := bootstrap.GetCurrentConfig()

	// 1. 初始化基础设施组件
	db, err := infrastructure.OpenMysql(
		cfg.Infra.Mysql.Host,
		cfg.Infra.Mysql.Port,
		cfg.Infra.Mysql.User,
		cfg.Infra.Mysql.Password,
		cfg.Infra.Mysql.Database,
	)
	if err != nil {
		log.Fatalf("failed to initialize mysql: %v", err)
	}

	redisClient, err := redis.NewClient(cfg.Infra.Redis.Addr)
	if err != nil {
		log.Fatalf("failed to initialize redis client: %v", err)
	}

	featureCache, err := adapter.NewFeatureCacheRedisAdapter(redisClient)
	if err != nil {
		log.Fatalf("failed to initialize feature cache: %v", err)
	}
	spendReplay := adapter.NewSpendReplayRedisAdapter(redisClient)
	freqReplay := adapter.NewFrequencyReplayRedisAdapter(redisClient)

	ruleEngine, err := rule.NewCELRuleEngineAdapter()
	if err != nil {
		log.Fatalf("failed to initialize rule engine: %v", err)
	}

	zkConn, err := zookeeper.Connect(cfg.Infra.Zookeeper.Servers)
	if err != nil {
		log.Fatalf("failed to connect zookeeper: %v", err)
	}
	pacingLeaderLock, err := zookeeper.NewDistributedLock(zkConn, pacingLeaderScope)
	if err != nil {
		log.Fatalf("failed to initialize pacing leader lock: %v", err)
	}

	rewardWriter := mq.NewKafkaWriter(cfg.Infra.Kafka.Brokers, cfg.Infra.Kafka.RewardTopic)
	defer rewardWriter.Close()

	// 2. 仓储与出站适配器
	campaignRepo := infrastructure.NewGormCampaignRepository(db)
	spendLedger := infrastructure.NewGormSpendLedger(db)
	frequencyRepo := infrastructure.NewGormFrequencyRepository(db)
	interactionRepo := infrastructure.NewGormInteractionRepository(db)
	experimentRepo := infrastructure.NewGormExperimentRepository(db)
	configRepo := infrastructure.NewGormConfigRepository(db)
	rewardQueue := infrastructure.NewRewardProducerAdapter(rewardWriter)

	// 3. 应用服务
	tracer := otel.Tracer(serviceName)
	recomputeInterval := time.Duration(cfg.App.PacingRecomputeIntervalSeconds) * time.Second
	deliveryTimeout := time.Duration(cfg.App.DeliveryTimeoutMillis) * time.Millisecond

	pacingSvc := application.NewPacingService(
		campaignRepo, spendLedger, spendReplay, recomputeInterval, tracer, pacingLeaderLock)
	configSvc := application.NewConfigService(configRepo, tracer)
	experimentSvc := application.NewExperimentService(experimentRepo, tracer)
	deliverySvc := application.NewDeliveryService(
		campaignRepo, frequencyRepo, featureCache, ruleEngine,
		pacingSvc, configSvc, experimentSvc,
		cfg.App.FeatureFlags.EnableGhostAds, deliveryTimeout, tracer)
	feedbackSvc := application.NewFeedbackService(
		interactionRepo, campaignRepo, frequencyRepo, experimentRepo,
		featureCache, rewardQueue, freqReplay, pacingSvc, tracer)

	// 4. 入站适配器 + 服务启动
	handler := interfaces.NewAdsHandler(deliverySvc, feedbackSvc, pacingSvc, configSvc, experimentSvc)
	monitor := interfaces.NewPacingMonitorHandler(pacingSvc)

	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		Port:        servicePort,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			handler.RegisterRoutes(appCtx.Mux)
			if cfg.App.FeatureFlags.EnablePacingMonitor {
				monitor.RegisterRoutes(appCtx.Mux)
			}
		},
		BackgroundTasks: []func(ctx context.Context){
			pacingSvc.StartRecomputeLoop,
			pacingSvc.StartReplayLoop,
			feedbackSvc.StartWorkers,
			feedbackSvc.StartFrequencyReplayLoop,
		},
	})
}
