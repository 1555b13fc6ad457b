package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	CORS     CORSConfig     `mapstructure:"cors"`
	Credit   CreditConfig   `mapstructure:"credit"`
	Payment  PaymentConfig  `mapstructure:"payment"`
	Catalog  CatalogConfig  `mapstructure:"catalog"`
	Replay   ReplayConfig   `mapstructure:"replay"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

type DatabaseConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Username     string `mapstructure:"username"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type JWTConfig struct {
	Secret      string `mapstructure:"secret"`
	ExpireHours int    `mapstructure:"expire_hours"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
}

type CreditConfig struct {
	DailyFreeAmount int64         `mapstructure:"daily_free_amount"` // 免费用户每日积分
	BalanceCacheTTL time.Duration `mapstructure:"balance_cache_ttl"`
}

type PaymentConfig struct {
	Provider      string `mapstructure:"provider"`
	WebhookSecret string `mapstructure:"webhook_secret"`
}

// CatalogConfig 商品目录：订阅 SKU 与点数包，及其在支付平台的产品 ID
type CatalogConfig struct {
	Subscriptions map[string]SubscriptionPlanConfig `mapstructure:"subscriptions"`
	CreditPacks   []CreditPackConfig                `mapstructure:"credit_packs"`
}

type SubscriptionPlanConfig struct {
	PlanType     string   `mapstructure:"plan_type"`     // basic, plus, pro
	BillingCycle string   `mapstructure:"billing_cycle"` // monthly, yearly
	Price        int64    `mapstructure:"price"`
	Credits      int64    `mapstructure:"credits"`
	PeriodMonths int      `mapstructure:"period_months"`
	ProductIDs   []string `mapstructure:"product_ids"` // 最新的放最后
}

type CreditPackConfig struct {
	ID         string   `mapstructure:"id"`
	Name       string   `mapstructure:"name"`
	Price      int64    `mapstructure:"price"`
	Credits    int64    `mapstructure:"credits"`
	ValidDays  int      `mapstructure:"valid_days"`
	ProductIDs []string `mapstructure:"product_ids"`
}

// ReplayConfig 失败 webhook 的重放设置
type ReplayConfig struct {
	QueueName   string        `mapstructure:"queue_name"`
	Interval    time.Duration `mapstructure:"interval"`
	MinAge      time.Duration `mapstructure:"min_age"`
	BatchSize   int           `mapstructure:"batch_size"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	MaxWorkers  int           `mapstructure:"max_workers"`
}

func Load(configPath string) (*Config, error) {
	// .env 可选，只用于本地开发
	_ = godotenv.Load()

	// 优先尝试读取 config.local.yaml（包含真实密钥，不提交到git）
	dir := filepath.Dir(configPath)
	localConfigPath := filepath.Join(dir, "config.local.yaml")

	if _, err := os.Stat(localConfigPath); err == nil {
		configPath = localConfigPath
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	// 环境变量覆盖
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.mode", "debug")
	v.SetDefault("credit.daily_free_amount", 10)
	v.SetDefault("credit.balance_cache_ttl", "30s")
	v.SetDefault("payment.provider", "creem")
	v.SetDefault("replay.queue_name", "webhook_replay")
	v.SetDefault("replay.interval", "5m")
	v.SetDefault("replay.min_age", "10m")
	v.SetDefault("replay.batch_size", 50)
	v.SetDefault("replay.max_attempts", 5)
	v.SetDefault("replay.max_workers", 2)
}
