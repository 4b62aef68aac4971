package config

import (
	"os"
	"strconv"
	"time"

	"github.com/taipham2710/OTA-Webserver/internal/common/config"
)

// Config OTA 服务配置
type Config struct {
	Database config.DatabaseConfig
	Redis    config.RedisConfig
	MQTT     config.MQTTConfig
	Scorer   config.ScorerConfig

	// 异常检测配置
	Anomaly struct {
		// 特征窗口配置
		Window struct {
			Size int // 按条数取最近 W 条遥测事件，默认 10
		}

		// 特征名列表来源（JSON 文件路径，为空使用内置参考列表）
		FeatureNamesFile string

		// Redis 缓存配置
		Cache struct {
			StateKeyPrefix string // 当前异常状态缓存键前缀，如 "ota:device:"
			StateSuffix    string // 当前异常状态缓存键后缀，如 ":anomaly"
			StateTTL       int    // 当前状态 TTL（秒），默认 60秒
			RealtimeSuffix string // 实时遥测缓存键后缀，如 ":realtime"
			RealtimeTTL    int    // 实时遥测 TTL（秒），默认 300秒
		}
	}

	// 遥测接入配置
	Telemetry struct {
		Topic         string // MQTT 订阅主题，如 "telemetry/+/data"
		Stream        string // Redis Stream 名称
		ConsumerGroup string
		ConsumerName  string
		BatchSize     int64 // 每次读取的消息数量
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置
func Load() (*Config, error) {
	cfg := &Config{}

	// 从环境变量加载（默认值）
	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = getEnvInt("DB_PORT", 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "otadb")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = 0

	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "tcp://localhost:1883")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "ota-webserver")
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", "")
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", "")
	cfg.MQTT.QoS = 1

	cfg.Scorer.BaseURL = getEnv("SCORER_URL", "http://localhost:8500")
	cfg.Scorer.Timeout = time.Duration(getEnvInt("SCORER_TIMEOUT_SEC", 10)) * time.Second

	// 异常检测配置
	cfg.Anomaly.Window.Size = getEnvInt("ANOMALY_WINDOW_SIZE", 10)
	cfg.Anomaly.FeatureNamesFile = getEnv("FEATURE_NAMES_FILE", "")
	cfg.Anomaly.Cache.StateKeyPrefix = getEnv("CACHE_STATE_PREFIX", "ota:device:")
	cfg.Anomaly.Cache.StateSuffix = ":anomaly"
	cfg.Anomaly.Cache.StateTTL = 60 // 60秒
	cfg.Anomaly.Cache.RealtimeSuffix = ":realtime"
	cfg.Anomaly.Cache.RealtimeTTL = 300 // 5分钟

	// 遥测接入配置
	cfg.Telemetry.Topic = getEnv("TELEMETRY_TOPIC", "telemetry/+/data")
	cfg.Telemetry.Stream = getEnv("TELEMETRY_STREAM", "ota:streams:telemetry")
	cfg.Telemetry.ConsumerGroup = getEnv("TELEMETRY_CONSUMER_GROUP", "ota-telemetry-writers")
	cfg.Telemetry.ConsumerName = getEnv("TELEMETRY_CONSUMER_NAME", "ota-webserver-1")
	cfg.Telemetry.BatchSize = 10

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}
