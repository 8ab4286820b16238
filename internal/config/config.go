package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 全局配置结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Business BusinessConfig `mapstructure:"business"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Port     int     `mapstructure:"port"`
	Mode     string  `mapstructure:"mode"`
	WorkerID int64   `mapstructure:"worker_id"` // 雪花算法机器ID，多实例部署时必须不同
	BidRPS   float64 `mapstructure:"bid_rps"`
	BidBurst int     `mapstructure:"bid_burst"`
}

type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"` // mysql | postgres
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	LogSQL       bool   `mapstructure:"log_sql"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	AuctionEvents string `mapstructure:"auction_events"`
}

// QueueConfig 后台任务队列参数
type QueueConfig struct {
	Workers         int `mapstructure:"workers"`
	BatchSize       int `mapstructure:"batch_size"`
	PollIntervalMs  int `mapstructure:"poll_interval_ms"`
	LeaseSeconds    int `mapstructure:"lease_seconds"`
	MaxAttempts     int `mapstructure:"max_attempts"`
	BackoffMs       int `mapstructure:"backoff_ms"`
	FailedRetention int `mapstructure:"failed_retention"`
}

func (q QueueConfig) PollInterval() time.Duration {
	return time.Duration(q.PollIntervalMs) * time.Millisecond
}

func (q QueueConfig) Lease() time.Duration {
	return time.Duration(q.LeaseSeconds) * time.Second
}

func (q QueueConfig) Backoff() time.Duration {
	return time.Duration(q.BackoffMs) * time.Millisecond
}

type BusinessConfig struct {
	MaxRetryCount     int    `mapstructure:"max_retry_count"`
	MaintenanceCron   string `mapstructure:"maintenance_cron"`
	RetentionCron     string `mapstructure:"retention_cron"`
	SettleStaleAfterS int    `mapstructure:"settle_stale_after_sec"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // text | json
}

var GlobalConfig *Config

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.worker_id", 1)
	v.SetDefault("server.bid_rps", 500)
	v.SetDefault("server.bid_burst", 1000)

	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.max_open_conns", 50)
	v.SetDefault("database.max_idle_conns", 10)

	v.SetDefault("kafka.topic.auction_events", "auction.events")

	v.SetDefault("queue.workers", 8)
	v.SetDefault("queue.batch_size", 50)
	v.SetDefault("queue.poll_interval_ms", 200)
	v.SetDefault("queue.lease_seconds", 60)
	v.SetDefault("queue.max_attempts", 10)
	v.SetDefault("queue.backoff_ms", 1000)
	v.SetDefault("queue.failed_retention", 500)

	v.SetDefault("business.max_retry_count", 5)
	v.SetDefault("business.maintenance_cron", "@every 30s")
	v.SetDefault("business.retention_cron", "@every 5m")
	v.SetDefault("business.settle_stale_after_sec", 300)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// LoadConfig 加载配置文件，环境变量 AUCTION_* 覆盖文件中的同名配置
// 例如 AUCTION_DATABASE_HOST 覆盖 database.host
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("AUCTION")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	GlobalConfig = config
	return config, nil
}
