// Package config 提供 TOML 配置加载、.env 与环境变量覆盖以及校验
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 服务配置
type Config struct {
	ServiceName string `mapstructure:"service_name"`
	Version     string `mapstructure:"version"`
	// 环境：dev, staging, prod
	Environment string          `mapstructure:"environment"`
	HTTP        HTTPConfig      `mapstructure:"http"`
	GRPC        GRPCConfig      `mapstructure:"grpc"`
	Database    DatabaseConfig  `mapstructure:"database"`
	Redis       RedisConfig     `mapstructure:"redis"`
	Kafka       KafkaConfig     `mapstructure:"kafka"`
	Logger      LoggerConfig    `mapstructure:"logger"`
	Metrics     MetricsConfig   `mapstructure:"metrics"`
	RateLimit   RateLimitConfig `mapstructure:"rate_limit"`
	Vault       VaultConfig     `mapstructure:"vault"`
	Oracle      OracleConfig    `mapstructure:"oracle"`
	Pricing     PricingConfig   `mapstructure:"pricing"`
	Scheduler   SchedulerConfig `mapstructure:"scheduler"`
}

// HTTPConfig HTTP 服务配置
type HTTPConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	// 读写超时（秒）
	ReadTimeout  int `mapstructure:"read_timeout"`
	WriteTimeout int `mapstructure:"write_timeout"`
	// 允许的跨域来源，为空时允许全部
	AllowOrigins []string `mapstructure:"allow_origins"`
}

// Addr 监听地址
func (c HTTPConfig) Addr() string { return fmt.Sprintf("%s:%d", c.Host, c.Port) }

// GRPCConfig gRPC 服务配置
type GRPCConfig struct {
	Host                 string `mapstructure:"host"`
	Port                 int    `mapstructure:"port"`
	MaxConcurrentStreams int    `mapstructure:"max_concurrent_streams"`
}

func (c GRPCConfig) Addr() string { return fmt.Sprintf("%s:%d", c.Host, c.Port) }

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// 驱动：memory, mysql, postgres
	Driver          string `mapstructure:"driver"`
	DSN             string `mapstructure:"dsn"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`
	LogEnabled      bool   `mapstructure:"log_enabled"`
	// 慢查询阈值（毫秒）
	SlowQueryThreshold int  `mapstructure:"slow_query_threshold"`
	AutoMigrate        bool `mapstructure:"auto_migrate"`
}

// RedisConfig Redis 配置，用于报价缓存与分布式限流
type RedisConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	Password    string `mapstructure:"password"`
	DB          int    `mapstructure:"db"`
	MaxPoolSize int    `mapstructure:"max_pool_size"`
	// 超时（秒）
	ConnTimeout  int `mapstructure:"conn_timeout"`
	ReadTimeout  int `mapstructure:"read_timeout"`
	WriteTimeout int `mapstructure:"write_timeout"`
}

// KafkaConfig Kafka 配置
type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	// 金库事件主题
	Topic string `mapstructure:"topic"`
	// 发送失败事件的死信主题
	DLQTopic string `mapstructure:"dlq_topic"`
}

// LoggerConfig 日志配置
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
	WithCaller bool   `mapstructure:"with_caller"`
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

// RateLimitConfig HTTP 命令接口限流
type RateLimitConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// 每秒请求数
	Rate  int `mapstructure:"rate"`
	Burst int `mapstructure:"burst"`
}

// GenesisBalance 进程内储备资产账本的初始余额
type GenesisBalance struct {
	Address string `mapstructure:"address"`
	Amount  string `mapstructure:"amount"`
	// 预先授权给金库账户的额度
	Allowance string `mapstructure:"allowance"`
}

// VaultConfig 金库配置
type VaultConfig struct {
	Owner          string           `mapstructure:"owner"`
	Account        string           `mapstructure:"account"`
	Asset          string           `mapstructure:"asset"`
	AssetDecimals  int32            `mapstructure:"asset_decimals"`
	StakingAccount string           `mapstructure:"staking_account"`
	Genesis        []GenesisBalance `mapstructure:"genesis"`
}

// OracleConfig 报价配置
type OracleConfig struct {
	// 静态报价源的 USD 价格
	StaticPrice string `mapstructure:"static_price"`
	// 报价最大有效期（秒），0 表示不检查
	MaxAge int `mapstructure:"max_age"`
	// Redis 缓存有效期（秒），0 表示不缓存
	CacheTTL int `mapstructure:"cache_ttl"`
}

// PricingConfig 期权定价模型
type PricingConfig struct {
	// 模型：fixed, black_scholes
	Model        string  `mapstructure:"model"`
	FixedPrice   string  `mapstructure:"fixed_price"`
	Volatility   float64 `mapstructure:"volatility"`
	RiskFreeRate float64 `mapstructure:"risk_free_rate"`
}

// SchedulerConfig 定时任务配置，cron 表达式带秒字段
type SchedulerConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	CompoundSpec  string `mapstructure:"compound_spec"`
	OutboxSpec    string `mapstructure:"outbox_spec"`
	ExpiryWatch   string `mapstructure:"expiry_watch_spec"`
	CleanupSpec   string `mapstructure:"cleanup_spec"`
	OutboxBatch   int    `mapstructure:"outbox_batch"`
	OutboxRetain  int    `mapstructure:"outbox_retain_hours"`
	KeeperAddress string `mapstructure:"keeper"`
}

// Load 读取 .env（可选）与 TOML 文件，APP_ 前缀的环境变量覆盖文件值。
// configPath 为空时仅使用默认值与环境变量。
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate 校验配置
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("service_name is required")
	}
	if c.Environment == "" {
		c.Environment = "dev"
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTP.Port)
	}
	if c.GRPC.Port <= 0 || c.GRPC.Port > 65535 {
		return fmt.Errorf("invalid gRPC port: %d", c.GRPC.Port)
	}
	switch c.Database.Driver {
	case "memory":
	case "mysql", "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database DSN is required for %s driver", c.Database.Driver)
		}
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}
	if c.Kafka.Enabled && (len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "") {
		return fmt.Errorf("kafka brokers and topic are required when kafka is enabled")
	}

	for name, addr := range map[string]string{
		"vault.owner":           c.Vault.Owner,
		"vault.account":         c.Vault.Account,
		"vault.staking_account": c.Vault.StakingAccount,
	} {
		if !common.IsHexAddress(addr) {
			return fmt.Errorf("%s must be a hex address: %q", name, addr)
		}
	}
	if c.Vault.Asset == "" {
		return fmt.Errorf("vault.asset is required")
	}
	for i, g := range c.Vault.Genesis {
		if !common.IsHexAddress(g.Address) {
			return fmt.Errorf("vault.genesis[%d].address must be a hex address: %q", i, g.Address)
		}
	}

	switch c.Pricing.Model {
	case "fixed":
	case "black_scholes":
		if c.Pricing.Volatility <= 0 {
			return fmt.Errorf("pricing.volatility must be positive for black_scholes")
		}
	default:
		return fmt.Errorf("unsupported pricing model: %s", c.Pricing.Model)
	}
	if c.Scheduler.KeeperAddress != "" && !common.IsHexAddress(c.Scheduler.KeeperAddress) {
		return fmt.Errorf("scheduler.keeper must be a hex address: %q", c.Scheduler.KeeperAddress)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service_name", "optionvault")
	v.SetDefault("environment", "dev")

	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.read_timeout", 30)
	v.SetDefault("http.write_timeout", 30)

	v.SetDefault("grpc.host", "0.0.0.0")
	v.SetDefault("grpc.port", 50051)
	v.SetDefault("grpc.max_concurrent_streams", 1000)

	v.SetDefault("database.driver", "memory")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 300)
	v.SetDefault("database.slow_query_threshold", 1000)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.max_pool_size", 10)
	v.SetDefault("redis.conn_timeout", 5)
	v.SetDefault("redis.read_timeout", 3)
	v.SetDefault("redis.write_timeout", 3)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.topic", "optionvault.events")
	v.SetDefault("kafka.dlq_topic", "optionvault.events.dlq")

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
	v.SetDefault("logger.output", "stdout")
	v.SetDefault("logger.file_path", "logs/optionvault.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 10)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.with_caller", false)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("rate_limit.enabled", false)
	v.SetDefault("rate_limit.rate", 50)
	v.SetDefault("rate_limit.burst", 100)

	v.SetDefault("vault.owner", "")
	v.SetDefault("vault.account", "")
	v.SetDefault("vault.staking_account", "")
	v.SetDefault("vault.asset", "DPX")
	v.SetDefault("vault.asset_decimals", 18)

	v.SetDefault("oracle.static_price", "100")
	v.SetDefault("oracle.max_age", 0)
	v.SetDefault("oracle.cache_ttl", 0)

	v.SetDefault("pricing.model", "fixed")
	v.SetDefault("pricing.fixed_price", "5")
	v.SetDefault("pricing.volatility", 0.8)
	v.SetDefault("pricing.risk_free_rate", 0.0)

	v.SetDefault("scheduler.enabled", false)
	v.SetDefault("scheduler.keeper", "")
	v.SetDefault("scheduler.compound_spec", "0 0 * * * *")
	v.SetDefault("scheduler.outbox_spec", "*/5 * * * * *")
	v.SetDefault("scheduler.expiry_watch_spec", "0 * * * * *")
	v.SetDefault("scheduler.cleanup_spec", "0 30 3 * * *")
	v.SetDefault("scheduler.outbox_batch", 100)
	v.SetDefault("scheduler.outbox_retain_hours", 72)
}

// GetEnv 获取环境变量，支持默认值
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
