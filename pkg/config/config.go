package config

import (
	"os"
	"strconv"
	"time"
)

// DBConfig 数据库配置
type DBConfig struct {
	Host          string        `yaml:"host"`
	Port          int           `yaml:"port"`
	User          string        `yaml:"user"`
	Password      string        `yaml:"password"`
	Name          string        `yaml:"name"`
	MaxConns      int32         `yaml:"max_conns"`
	MinConns      int32         `yaml:"min_conns"`
	SlowThreshold time.Duration `yaml:"slow_threshold"`
}

// MQConfig 消息队列配置
type MQConfig struct {
	URL        string `yaml:"url"`
	Queue      string `yaml:"queue"`
	MaxRetries int64  `yaml:"max_retries"`
}

// RedisConfig Redis配置
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	DedupTTL time.Duration `yaml:"dedup_ttl"`
}

// JWTConfig JWT配置
type JWTConfig struct {
	Secret string        `yaml:"secret"`
	TTL    time.Duration `yaml:"ttl"`
}

// AuthConfig 注册时授予 admin 角色的邮箱
type AuthConfig struct {
	AdminEmails []string `yaml:"admin_emails"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Port         string   `yaml:"port"`
	Mode         string   `yaml:"mode"`
	AllowOrigins []string `yaml:"allow_origins"`
}

// OtelConfig OpenTelemetry 配置
type OtelConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Endpoint    string `yaml:"endpoint"`
	ServiceName string `yaml:"service_name"`
}

// OutboxConfig Outbox Dispatcher 配置
type OutboxConfig struct {
	Interval   time.Duration `yaml:"interval"`
	BatchSize  int           `yaml:"batch_size"`
	MaxRetries int           `yaml:"max_retries"`
}

// StoreConfig 选择存储实现：postgres 或 memory（本地调试）
type StoreConfig struct {
	Driver string `yaml:"driver"`
}

// Config 应用总配置
type Config struct {
	Env      string       `yaml:"env"`
	LogLevel string       `yaml:"log_level"`
	Store    StoreConfig  `yaml:"store"`
	DB       DBConfig     `yaml:"db"`
	MQ       MQConfig     `yaml:"mq"`
	Redis    RedisConfig  `yaml:"redis"`
	JWT      JWTConfig    `yaml:"jwt"`
	Auth     AuthConfig   `yaml:"auth"`
	Server   ServerConfig `yaml:"server"`
	Otel     OtelConfig   `yaml:"otel"`
	Outbox   OutboxConfig `yaml:"outbox"`
}

// applyDefaults 补齐未配置的字段
func (c *Config) applyDefaults() {
	if c.Store.Driver == "" {
		c.Store.Driver = "postgres"
	}
	if c.Server.Port == "" {
		c.Server.Port = ":8080"
	}
	if c.JWT.TTL == 0 {
		c.JWT.TTL = 24 * time.Hour
	}
	if c.DB.MaxConns == 0 {
		c.DB.MaxConns = 10
	}
	if c.DB.MinConns == 0 {
		c.DB.MinConns = 2
	}
	if c.MQ.Queue == "" {
		c.MQ.Queue = "taskhive.progress.q"
	}
	if c.MQ.MaxRetries == 0 {
		c.MQ.MaxRetries = 3
	}
	if c.Redis.DedupTTL == 0 {
		c.Redis.DedupTTL = 24 * time.Hour
	}
	if c.Outbox.Interval == 0 {
		c.Outbox.Interval = time.Second
	}
	if c.Outbox.BatchSize == 0 {
		c.Outbox.BatchSize = 100
	}
	if c.Outbox.MaxRetries == 0 {
		c.Outbox.MaxRetries = 5
	}
	if c.Otel.ServiceName == "" {
		c.Otel.ServiceName = "taskhive"
	}
}

// OverrideDBFromEnv 从环境变量覆盖数据库配置
func OverrideDBFromEnv(cfg *DBConfig) {
	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.Host = host
	}
	if port := os.Getenv("DB_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Port = p
		}
	}
	if user := os.Getenv("DB_USER"); user != "" {
		cfg.User = user
	}
	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.Password = password
	}
	if name := os.Getenv("DB_NAME"); name != "" {
		cfg.Name = name
	}
}

// OverrideMQFromEnv 从环境变量覆盖MQ配置
func OverrideMQFromEnv(cfg *MQConfig) {
	if url := os.Getenv("MQ_URL"); url != "" {
		cfg.URL = url
	}
}

// OverrideRedisFromEnv 从环境变量覆盖Redis配置
func OverrideRedisFromEnv(cfg *RedisConfig) {
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Addr = addr
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.Password = password
	}
}

// OverrideJWTFromEnv 从环境变量覆盖JWT配置
func OverrideJWTFromEnv(cfg *JWTConfig) {
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		cfg.Secret = secret
	}
}

// OverrideServerFromEnv 从环境变量覆盖服务器配置
func OverrideServerFromEnv(cfg *ServerConfig) {
	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.Port = port
	}
}

// OverrideStoreFromEnv 从环境变量覆盖存储驱动
func OverrideStoreFromEnv(cfg *StoreConfig) {
	if driver := os.Getenv("STORE_DRIVER"); driver != "" {
		cfg.Driver = driver
	}
}
