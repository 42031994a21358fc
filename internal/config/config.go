package config

import (
	"fmt"
	"os"
	"strconv"
)

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MaxIdle  int
}

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// RedisConfig Redis配置
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Config Vital Focus 聚合服务配置
type Config struct {
	Database DatabaseConfig
	Redis    RedisConfig

	// 聚合服务特定配置
	Aggregator struct {
		// 租户 ID（用于多租户场景，当前先支持单个租户）
		TenantID string

		// 卡片创建触发条件
		// 监听设备/住户/床位绑定关系变化的方式
		// 选项：polling（轮询）、events（事件驱动）
		TriggerMode string // "polling" 或 "events"

		// 轮询模式配置
		Polling struct {
			Interval int // 轮询间隔（秒），默认 60 秒
		}

		// Redis Streams 配置（用于接收拓扑事件）
		EventStream   string // 事件流名称，如 "card:events"
		ConsumerGroup string // 消费者组名称，如 "vital-focus-group"
		ConsumerName  string // 消费者名称，如 "vital-focus-1"
		BatchSize     int    // 批量处理大小，默认 10

		// 数据聚合配置
		Aggregation struct {
			Enabled  bool // 是否启用数据聚合功能
			Interval int  // 聚合间隔（秒），默认 10 秒
			// 卡片报警展示列表上限（仅限制展示列表，不影响计数）
			MaxAlarms int
			// 设备连接状态判定窗口（秒）：最新数据早于该窗口视为 offline
			StaleAfter int
		}
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
	cfg.Database.Database = getEnv("DB_NAME", "owlrd")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = 0

	// 聚合服务配置
	cfg.Aggregator.TenantID = getEnv("TENANT_ID", "")
	cfg.Aggregator.TriggerMode = getEnv("CARD_TRIGGER_MODE", "polling")
	cfg.Aggregator.Polling.Interval = getEnvInt("CARD_POLLING_INTERVAL", 60)
	cfg.Aggregator.EventStream = getEnv("CARD_EVENT_STREAM", "card:events")
	cfg.Aggregator.ConsumerGroup = getEnv("CARD_CONSUMER_GROUP", "vital-focus-group")
	cfg.Aggregator.ConsumerName = getEnv("CARD_CONSUMER_NAME", "vital-focus-1")
	cfg.Aggregator.BatchSize = 10 // 默认批量处理 10 条消息

	// 数据聚合配置
	cfg.Aggregator.Aggregation.Enabled = getEnv("CARD_AGGREGATION_ENABLED", "true") == "true"
	cfg.Aggregator.Aggregation.Interval = getEnvInt("CARD_AGGREGATION_INTERVAL", 10)
	cfg.Aggregator.Aggregation.MaxAlarms = getEnvInt("CARD_MAX_ALARMS", 20)
	cfg.Aggregator.Aggregation.StaleAfter = getEnvInt("CARD_STALE_AFTER", 300)

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
		if v, err := strconv.Atoi(value); err == nil && v > 0 {
			return v
		}
	}
	return defaultValue
}
