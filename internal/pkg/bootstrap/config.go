// internal/pkg/bootstrap/config.go
package bootstrap

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/nacos-group/nacos-sdk-go/v2/clients"
	"github.com/nacos-group/nacos-sdk-go/v2/clients/config_client"
	"github.com/nacos-group/nacos-sdk-go/v2/common/constant"
	"github.com/nacos-group/nacos-sdk-go/v2/vo"
	"gopkg.in/yaml.v3"
)

// Config 是所有服务共享的基础设施配置。
// 来源优先级: 环境变量 > nacos 配置中心 > 本地 yaml 文件 > 默认值。
// 注意: 投放算法自身的参数 (权重、探索率等) 不在这里，
// 它们走数据库里带版本号的 algorithm_configs 表，见 application.ConfigService。
type Config struct {
	App struct {
		// 预算步调重算周期（秒），默认 60。
		PacingRecomputeIntervalSeconds int `yaml:"pacingRecomputeIntervalSeconds"`
		// 候选过滤请求的总延迟预算（毫秒）。
		DeliveryTimeoutMillis int `yaml:"deliveryTimeoutMillis"`
		FeatureFlags          struct {
			// 是否开启 pacing 快照的 websocket 推送。
			EnablePacingMonitor bool `yaml:"enablePacingMonitor"`
			// 是否开启 ghost-ad 增量实验分流。
			EnableGhostAds bool `yaml:"enableGhostAds"`
		} `yaml:"featureFlags"`
	} `yaml:"app"`

	Infra struct {
		Mysql struct {
			Host     string `yaml:"host"`
			Port     int    `yaml:"port"`
			User     string `yaml:"user"`
			Password string `yaml:"password"`
			Database string `yaml:"database"`
		} `yaml:"mysql"`
		Redis struct {
			Addr string `yaml:"addr"`
		} `yaml:"redis"`
		Kafka struct {
			Brokers     []string `yaml:"brokers"`
			RewardTopic string   `yaml:"rewardTopic"`
		} `yaml:"kafka"`
		Jaeger struct {
			Endpoint string `yaml:"endpoint"`
		} `yaml:"jaeger"`
		Zookeeper struct {
			Servers []string `yaml:"servers"`
		} `yaml:"zookeeper"`
	} `yaml:"infra"`
}

var (
	currentConfig     atomic.Value // *Config
	nacosConfigClient config_client.IConfigClient
)

// GetCurrentConfig 返回当前生效的配置快照。
// 配置中心推送新配置后，后续调用会拿到新的快照，已持有的旧快照不受影响。
func GetCurrentConfig() *Config {
	if c, ok := currentConfig.Load().(*Config); ok {
		return c
	}
	return defaultConfig()
}

// Init 加载配置。必须在任何 GetCurrentConfig 调用之前执行。
func Init() {
	cfg := defaultConfig()

	// 1. 本地 yaml 文件（可选）
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			log.Fatalf("FATAL: cannot read config file %s: %v", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			log.Fatalf("FATAL: cannot parse config file %s: %v", path, err)
		}
	}

	// 2. nacos 配置中心（可选，设置了 NACOS_CONFIG_DATA_ID 才启用）
	if dataID := os.Getenv("NACOS_CONFIG_DATA_ID"); dataID != "" {
		if err := loadFromNacos(cfg, dataID); err != nil {
			log.Fatalf("FATAL: cannot load config from nacos: %v", err)
		}
	}

	// 3. 环境变量覆盖（容器部署时最常用的入口）
	applyEnvOverrides(cfg)

	currentConfig.Store(cfg)
}

func defaultConfig() *Config {
	cfg := &Config{}
	cfg.App.PacingRecomputeIntervalSeconds = 60
	cfg.App.DeliveryTimeoutMillis = 50
	cfg.Infra.Mysql.Host = "localhost"
	cfg.Infra.Mysql.Port = 3306
	cfg.Infra.Mysql.User = "root"
	cfg.Infra.Mysql.Database = "nova"
	cfg.Infra.Redis.Addr = "localhost:6379"
	cfg.Infra.Kafka.Brokers = []string{"localhost:9092"}
	cfg.Infra.Kafka.RewardTopic = "bandit-reward-topic"
	cfg.Infra.Jaeger.Endpoint = "http://localhost:14268/api/traces"
	cfg.Infra.Zookeeper.Servers = []string{"localhost:2181"}
	return cfg
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MYSQL_HOST"); v != "" {
		cfg.Infra.Mysql.Host = v
	}
	if v := os.Getenv("MYSQL_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Infra.Mysql.Port = p
		}
	}
	if v := os.Getenv("MYSQL_USER"); v != "" {
		cfg.Infra.Mysql.User = v
	}
	if v := os.Getenv("MYSQL_PASSWORD"); v != "" {
		cfg.Infra.Mysql.Password = v
	}
	if v := os.Getenv("MYSQL_DATABASE"); v != "" {
		cfg.Infra.Mysql.Database = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Infra.Redis.Addr = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Infra.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("JAEGER_ENDPOINT"); v != "" {
		cfg.Infra.Jaeger.Endpoint = v
	}
	if v := os.Getenv("ZK_SERVERS"); v != "" {
		cfg.Infra.Zookeeper.Servers = strings.Split(v, ",")
	}
}

// loadFromNacos 从配置中心拉取 yaml 配置并注册变更监听。
// 变更时整体替换 currentConfig，保证读到的永远是一个完整的配置快照。
func loadFromNacos(cfg *Config, dataID string) error {
	serverConfigs, err := createNacosServerConfigs(getEnv("NACOS_SERVER_ADDRS", "localhost:8848"))
	if err != nil {
		return err
	}
	clientConfig := createNacosClientConfig(os.Getenv("NACOS_NAMESPACE"))
	group := getEnv("NACOS_GROUP", "DEFAULT_GROUP")

	nacosConfigClient, err = clients.NewConfigClient(vo.NacosClientParam{
		ClientConfig:  &clientConfig,
		ServerConfigs: serverConfigs,
	})
	if err != nil {
		return fmt.Errorf("failed to create nacos config client: %w", err)
	}

	content, err := nacosConfigClient.GetConfig(vo.ConfigParam{DataId: dataID, Group: group})
	if err != nil {
		return fmt.Errorf("failed to get config %s from nacos: %w", dataID, err)
	}
	if err := yaml.Unmarshal([]byte(content), cfg); err != nil {
		return fmt.Errorf("failed to parse nacos config %s: %w", dataID, err)
	}

	return nacosConfigClient.ListenConfig(vo.ConfigParam{
		DataId: dataID,
		Group:  group,
		OnChange: func(namespace, group, dataId, data string) {
			next := defaultConfig()
			if err := yaml.Unmarshal([]byte(data), next); err != nil {
				log.Printf("ERROR: ignoring invalid config push from nacos: %v", err)
				return
			}
			applyEnvOverrides(next)
			currentConfig.Store(next)
			log.Printf("INFO: config reloaded from nacos (dataId=%s)", dataId)
		},
	})
}

func createNacosServerConfigs(addrs string) ([]constant.ServerConfig, error) {
	var serverConfigs []constant.ServerConfig
	for _, addr := range strings.Split(addrs, ",") {
		parts := strings.Split(addr, ":")
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid nacos address format: %s", addr)
		}
		port, err := strconv.ParseUint(parts[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid port in nacos address: %s", parts[1])
		}
		serverConfigs = append(serverConfigs, *constant.NewServerConfig(parts[0], port))
	}
	return serverConfigs, nil
}

func createNacosClientConfig(namespaceID string) constant.ClientConfig {
	return *constant.NewClientConfig(
		constant.WithNotLoadCacheAtStart(true),
		constant.WithLogDir("/tmp/nacos/log"),
		constant.WithCacheDir("/tmp/nacos/cache"),
		constant.WithLogLevel("warn"),
		constant.WithNamespaceId(namespaceID),
	)
}
