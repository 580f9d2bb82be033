package config

import (
	"fmt"
	"log"
	"time"

	pkgconfig "trainingportal/pkg/config"
	"trainingportal/pkg/otel"
)

type Config struct {
	Server    pkgconfig.ServerConfig `yaml:"server"`
	DB        pkgconfig.DBConfig     `yaml:"db"`
	MQ        pkgconfig.MQConfig     `yaml:"mq"`
	Redis     pkgconfig.RedisConfig  `yaml:"redis"`
	SMTP      pkgconfig.SMTPConfig   `yaml:"smtp"`
	Logging   LoggingConfig          `yaml:"logging"`
	Otel      otel.Config            `yaml:"otel"`
	Storage   StorageConfig          `yaml:"storage"`
	Transport TransportConfig        `yaml:"transport"`
	Scheduler SchedulerConfig        `yaml:"scheduler"`
	Reminders ReminderConfig         `yaml:"reminders"`
	Schedule  ScheduleConfig         `yaml:"schedule"`
	Notify    NotifyConfig           `yaml:"notify"`
	Consumer  ConsumerConfig         `yaml:"consumer"`
}

type LoggingConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// StorageConfig selects the store backend: "postgres" or "memory".
type StorageConfig struct {
	Driver   string `yaml:"driver"`
	Migrate  bool   `yaml:"migrate"`
	SeedFile string `yaml:"seed_file"` // memory driver only
}

// TransportConfig selects and tunes the outbound mail transport.
type TransportConfig struct {
	Driver        string        `yaml:"driver"` // smtp, amqp or log
	SendTimeout   time.Duration `yaml:"send_timeout"`
	RatePerSecond float64       `yaml:"rate_per_second"`
	Burst         int           `yaml:"burst"`
	Concurrency   int           `yaml:"concurrency"`
	Breaker       BreakerConfig `yaml:"breaker"`
}

type BreakerConfig struct {
	FailureThreshold    int           `yaml:"failure_threshold"`
	SuccessThreshold    int           `yaml:"success_threshold"`
	Timeout             time.Duration `yaml:"timeout"`
	HalfOpenMaxRequests int           `yaml:"half_open_max_requests"`
}

// SchedulerConfig holds cron specs for the periodic triggers.
type SchedulerConfig struct {
	Enabled      bool   `yaml:"enabled"`
	ReminderSpec string `yaml:"reminder_spec"`
	QueueSpec    string `yaml:"queue_spec"`
	RunOnStart   bool   `yaml:"run_on_start"`
}

type ReminderConfig struct {
	Dedupe     string        `yaml:"dedupe"` // none, log or redis
	OverdueCap time.Duration `yaml:"overdue_cap"`
}

type ScheduleConfig struct {
	BatchSize   int           `yaml:"batch_size"`
	MaxRetries  int           `yaml:"max_retries"`
	RetryMode   string        `yaml:"retry_mode"` // none or backoff
	BackoffBase time.Duration `yaml:"backoff_base"`

	// ClaimTimeout returns processing entries older than this to pending.
	ClaimTimeout time.Duration `yaml:"claim_timeout"`
}

type NotifyConfig struct {
	AsyncWait time.Duration `yaml:"async_wait"`
	PortalURL string        `yaml:"portal_url"` // base for links in mail bodies
}

// ConsumerConfig enables the notification.requested queue consumer.
type ConsumerConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Queue      string `yaml:"queue"`
	RoutingKey string `yaml:"routing_key"`
}

// Default returns a configuration usable without any files.
func Default() Config {
	return Config{
		Server:  pkgconfig.ServerConfig{Port: ":8080"},
		DB:      pkgconfig.DBConfig{Host: "localhost", Port: 5432, SSLMode: "disable", MaxConns: 10},
		MQ:      pkgconfig.MQConfig{Exchange: "events"},
		Logging: LoggingConfig{Level: "info"},
		Otel:    otel.Config{ServiceName: "notification-engine", ServiceVersion: "dev"},
		Storage: StorageConfig{Driver: "postgres", Migrate: true},
		Transport: TransportConfig{
			Driver:        "log",
			SendTimeout:   6 * time.Second,
			RatePerSecond: 20,
			Burst:         5,
			Concurrency:   4,
			Breaker: BreakerConfig{
				FailureThreshold:    5,
				SuccessThreshold:    2,
				Timeout:             30 * time.Second,
				HalfOpenMaxRequests: 3,
			},
		},
		Scheduler: SchedulerConfig{
			Enabled:      true,
			ReminderSpec: "0 9 * * *",
			QueueSpec:    "0 * * * *",
		},
		Reminders: ReminderConfig{Dedupe: "log", OverdueCap: 30 * 24 * time.Hour},
		Schedule: ScheduleConfig{
			BatchSize:    50,
			MaxRetries:   3,
			RetryMode:    "backoff",
			BackoffBase:  15 * time.Minute,
			ClaimTimeout: 30 * time.Minute,
		},
		Notify: NotifyConfig{AsyncWait: 5 * time.Second, PortalURL: "http://localhost:3000"},
		Consumer: ConsumerConfig{
			Queue:      "notification.requested.q",
			RoutingKey: "notification.requested",
		},
	}
}

// Load reads configuration for CONFIG_ENV from CONFIG_DIR and exits on error.
func Load() *Config {
	env := pkgconfig.GetConfigEnv()
	configDir := pkgconfig.GetEnv("CONFIG_DIR", "config")

	cfg, err := LoadFrom(env, configDir)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

// LoadFrom decodes layered files over Default, then applies environment overrides.
func LoadFrom(env, configDir string) (*Config, error) {
	cfg := Default()
	if err := pkgconfig.Decode(env, configDir, &cfg); err != nil {
		return nil, err
	}

	// environment variables win
	pkgconfig.OverrideDBFromEnv(&cfg.DB)
	pkgconfig.OverrideMQFromEnv(&cfg.MQ)
	pkgconfig.OverrideRedisFromEnv(&cfg.Redis)
	pkgconfig.OverrideSMTPFromEnv(&cfg.SMTP)
	pkgconfig.OverrideServerFromEnv(&cfg.Server)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects unknown driver and mode names.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	switch c.Transport.Driver {
	case "smtp", "amqp", "log":
	default:
		return fmt.Errorf("unknown transport driver %q", c.Transport.Driver)
	}
	switch c.Reminders.Dedupe {
	case "none", "log", "redis":
	default:
		return fmt.Errorf("unknown reminder dedupe mode %q", c.Reminders.Dedupe)
	}
	switch c.Schedule.RetryMode {
	case "none", "backoff":
	default:
		return fmt.Errorf("unknown schedule retry mode %q", c.Schedule.RetryMode)
	}
	if c.Reminders.Dedupe == "redis" && c.Redis.Addr == "" {
		return fmt.Errorf("reminders.dedupe=redis requires redis.addr")
	}
	if c.Schedule.BatchSize <= 0 {
		return fmt.Errorf("schedule.batch_size must be positive")
	}
	if c.Transport.SendTimeout <= 0 {
		return fmt.Errorf("transport.send_timeout must be positive")
	}
	return nil
}
