package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"

	redisbroker "github.com/meditrack/reminder-api/pkg/messaging/redis"
)

type DatabaseConfig struct {
	Host     string `mapstructure:"host" envconfig:"DB_HOST" validate:"required"`
	Port     int    `mapstructure:"port" envconfig:"DB_PORT" validate:"required"`
	User     string `mapstructure:"user" envconfig:"DB_USER" validate:"required"`
	Password string `mapstructure:"password" envconfig:"DB_PASSWORD"`
	Name     string `mapstructure:"name" envconfig:"DB_NAME" validate:"required"`
	SSLMode  string `mapstructure:"sslmode" envconfig:"DB_SSLMODE"`
}

type ServerConfig struct {
	Port         int           `mapstructure:"port" envconfig:"SERVER_PORT"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type RedisConfig struct {
	URL          string        `mapstructure:"url" envconfig:"REDIS_URL"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
}

type EmailConfig struct {
	Host     string `mapstructure:"host" envconfig:"SMTP_HOST"`
	Port     int    `mapstructure:"port" envconfig:"SMTP_PORT"`
	Username string `mapstructure:"username" envconfig:"SMTP_USERNAME"`
	Password string `mapstructure:"password" envconfig:"SMTP_PASSWORD"`
	From     string `mapstructure:"from" envconfig:"SMTP_FROM"`
}

type PushConfig struct {
	GatewayURL string `mapstructure:"gateway_url" envconfig:"PUSH_GATEWAY_URL"`
	APIKey     string `mapstructure:"api_key" envconfig:"PUSH_API_KEY"`
}

// SchedulerConfig carries every pipeline tunable. Intervals are global
// configuration, not per-user settings.
type SchedulerConfig struct {
	ReminderSweepInterval time.Duration `mapstructure:"reminder_sweep_interval"`
	ReminderLookahead     time.Duration `mapstructure:"reminder_lookahead"`
	MissedDoseAfter       time.Duration `mapstructure:"missed_dose_after"`
	RefillThreshold       int           `mapstructure:"refill_threshold"`

	BatchInterval      time.Duration `mapstructure:"batch_interval"`
	BatchCapacity      int           `mapstructure:"batch_capacity"`
	BatchSweepInterval time.Duration `mapstructure:"batch_sweep_interval"`

	RetrySweepInterval time.Duration `mapstructure:"retry_sweep_interval"`
	RetryDelay         time.Duration `mapstructure:"retry_delay"`
	MaxRetries         int           `mapstructure:"max_retries"`

	RatePushInterval  time.Duration `mapstructure:"rate_push_interval"`
	RateEmailInterval time.Duration `mapstructure:"rate_email_interval"`

	SendTimeout    time.Duration `mapstructure:"send_timeout"`
	StaleAfter     time.Duration `mapstructure:"stale_after"`
	RetentionDays  int           `mapstructure:"retention_days"`
	ChannelSendsPS float64       `mapstructure:"channel_sends_per_second"`
}

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Email     EmailConfig     `mapstructure:"email"`
	Push      PushConfig      `mapstructure:"push"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Environment variables win over file values.
	if err := envconfig.Process("", &config); err != nil {
		return nil, fmt.Errorf("failed to process env overrides: %w", err)
	}

	if err := validator.New().Struct(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", "10s")
	viper.SetDefault("server.write_timeout", "10s")
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("redis.max_retries", 3)
	viper.SetDefault("redis.retry_backoff", "100ms")
	viper.SetDefault("redis.pool_size", 10)
	viper.SetDefault("redis.min_idle_conns", 2)

	viper.SetDefault("scheduler.reminder_sweep_interval", "1m")
	viper.SetDefault("scheduler.reminder_lookahead", "1h")
	viper.SetDefault("scheduler.missed_dose_after", "1h")
	viper.SetDefault("scheduler.refill_threshold", 5)
	viper.SetDefault("scheduler.batch_interval", "15m")
	viper.SetDefault("scheduler.batch_capacity", 5)
	viper.SetDefault("scheduler.batch_sweep_interval", "1m")
	viper.SetDefault("scheduler.retry_sweep_interval", "1m")
	viper.SetDefault("scheduler.retry_delay", "5m")
	viper.SetDefault("scheduler.max_retries", 3)
	viper.SetDefault("scheduler.rate_push_interval", "5m")
	viper.SetDefault("scheduler.rate_email_interval", "10m")
	viper.SetDefault("scheduler.send_timeout", "10s")
	viper.SetDefault("scheduler.stale_after", "24h")
	viper.SetDefault("scheduler.retention_days", 30)
	viper.SetDefault("scheduler.channel_sends_per_second", 20)
}

// ToBrokerConfig maps the redis section onto the broker settings.
func (c *Config) ToBrokerConfig() redisbroker.Config {
	return redisbroker.Config{
		URL:          c.Redis.URL,
		MaxRetries:   c.Redis.MaxRetries,
		RetryBackoff: c.Redis.RetryBackoff,
		PoolSize:     c.Redis.PoolSize,
		MinIdleConns: c.Redis.MinIdleConns,
	}
}
