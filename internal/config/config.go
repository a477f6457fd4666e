package config

import (
	"errors"
	"fmt"
	"github.com/spf13/viper"
	"os"
	"strings"
	"time"
)

const (
	DefaultConfigPath = "config/config.yaml"
	envPrefix         = "STOREFRONT"
)

type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Server     ServerConfig     `mapstructure:"server"`
	MySQL      MySQLConfig      `mapstructure:"mysql"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Razorpay   RazorpayConfig   `mapstructure:"razorpay"`
	Shiprocket ShiprocketConfig `mapstructure:"shiprocket"`
	Admin      AdminConfig      `mapstructure:"admin"`
	WhatsApp   WhatsAppConfig   `mapstructure:"whatsapp"`
	Sweeper    SweeperConfig    `mapstructure:"sweeper"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
}

type AppConfig struct {
	Name        string `mapstructure:"name"`
	Env         string `mapstructure:"env"`
	LogLevel    string `mapstructure:"log_level"`
	OrderPrefix string `mapstructure:"order_prefix"`
	Currency    string `mapstructure:"currency"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type MySQLConfig struct {
	DSN            string `mapstructure:"dsn"`
	MigrateRetries int    `mapstructure:"migrate_retries"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers       []string `mapstructure:"brokers"`
	OrderTopic    string   `mapstructure:"order_topic"`
	ConsumerGroup string   `mapstructure:"consumer_group"`
}

type RazorpayConfig struct {
	KeyID         string        `mapstructure:"key_id"`
	KeySecret     string        `mapstructure:"key_secret"`
	WebhookSecret string        `mapstructure:"webhook_secret"`
	BaseURL       string        `mapstructure:"base_url"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

type ShiprocketConfig struct {
	Email         string `mapstructure:"email"`
	Password      string `mapstructure:"password"`
	BaseURL       string `mapstructure:"base_url"`
	PickupPincode string `mapstructure:"pickup_pincode"`
	AutoCreate    bool   `mapstructure:"auto_create"`
}

type AdminConfig struct {
	PasswordHash string        `mapstructure:"password_hash"`
	JWTSecret    string        `mapstructure:"jwt_secret"`
	TokenTTL     time.Duration `mapstructure:"token_ttl"`
}

type WhatsAppConfig struct {
	Number string `mapstructure:"number"`
	Brand  string `mapstructure:"brand"`
}

type SweeperConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// Every key needs a default so environment variables are seen by Unmarshal even without a file.
func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "storefront-service")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.order_prefix", "INTRU")
	v.SetDefault("app.currency", "INR")
	v.SetDefault("server.port", 8082)
	v.SetDefault("mysql.dsn", "")
	v.SetDefault("mysql.migrate_retries", 3)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("kafka.brokers", []string{"localhost:9092", "localhost:9093", "localhost:9094"})
	v.SetDefault("kafka.order_topic", "order-topic")
	v.SetDefault("kafka.consumer_group", "storefront-shipment-group")
	v.SetDefault("razorpay.key_id", "")
	v.SetDefault("razorpay.key_secret", "")
	v.SetDefault("razorpay.webhook_secret", "")
	v.SetDefault("razorpay.base_url", "https://api.razorpay.com/v1")
	v.SetDefault("razorpay.timeout", 15*time.Second)
	v.SetDefault("shiprocket.email", "")
	v.SetDefault("shiprocket.password", "")
	v.SetDefault("shiprocket.base_url", "https://apiv2.shiprocket.in/v1/external")
	v.SetDefault("shiprocket.pickup_pincode", "")
	v.SetDefault("shiprocket.auto_create", false)
	v.SetDefault("admin.password_hash", "")
	v.SetDefault("admin.jwt_secret", "")
	v.SetDefault("admin.token_ttl", 24*time.Hour)
	v.SetDefault("whatsapp.number", "")
	v.SetDefault("whatsapp.brand", "Intru")
	v.SetDefault("sweeper.interval", 5*time.Minute)
	v.SetDefault("rate_limit.rps", 5)
	v.SetDefault("rate_limit.burst", 10)
}

// Load reads the YAML file at configPath when it exists and overlays STOREFRONT_* environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			v.SetConfigFile(configPath)
			v.SetConfigType("yaml")
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read config failed: %w", err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("stat config failed: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config failed: %w", err)
	}

	return &cfg, nil
}

// Validate checks what the service cannot boot without. Gateway and carrier credentials are
// optional here; the operations that need them fail with a configuration error.
func (c *Config) Validate() error {
	if c.MySQL.DSN == "" {
		return fmt.Errorf("mysql.dsn is required")
	}
	if c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required")
	}
	if c.Admin.JWTSecret == "" {
		return fmt.Errorf("admin.jwt_secret is required")
	}
	if len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers is required")
	}
	if c.Sweeper.Interval <= 0 {
		return fmt.Errorf("sweeper.interval must be positive")
	}
	return nil
}
