package main

import (
	"fmt"
	"os"
	"time"

	"knightshade/internal/common/cache"
	"knightshade/internal/common/db"
	"knightshade/internal/common/http/middleware"
	"knightshade/internal/common/mail"
	"knightshade/internal/common/mq"
	"knightshade/internal/common/storage"
	"knightshade/internal/submission/judge"
	submissionservice "knightshade/internal/submission/service"
	"knightshade/pkg/utils/logger"

	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPAddr        = "0.0.0.0:8080"
	defaultReadTimeout     = 5 * time.Second
	defaultWriteTimeout    = 15 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 15 * time.Second
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`
}

// AuthConfig holds token issuing and login throttle settings.
type AuthConfig struct {
	JWTSecret       string        `yaml:"jwtSecret"`
	JWTIssuer       string        `yaml:"jwtIssuer"`
	AccessTokenTTL  time.Duration `yaml:"accessTokenTTL"`
	RefreshTokenTTL time.Duration `yaml:"refreshTokenTTL"`
	LoginFailTTL    time.Duration `yaml:"loginFailTTL"`
	LoginFailLimit  int           `yaml:"loginFailLimit"`
	CookieDomain    string        `yaml:"cookieDomain"`
	CookieSecure    bool          `yaml:"cookieSecure"`
}

// EmailConfig holds verification mail settings.
type EmailConfig struct {
	VerifyBaseURL string         `yaml:"verifyBaseURL"`
	TokenTTL      time.Duration  `yaml:"tokenTTL"`
	SendOnceTTL   time.Duration  `yaml:"sendOnceTTL"`
	Consumer      ConsumerConfig `yaml:"consumer"`
}

// ConsumerConfig holds Kafka consumer settings for one topic.
type ConsumerConfig struct {
	ConsumerGroup   string        `yaml:"consumerGroup"`
	Concurrency     int           `yaml:"concurrency"`
	MaxRetries      int           `yaml:"maxRetries"`
	RetryDelay      time.Duration `yaml:"retryDelay"`
	DeadLetterTopic string        `yaml:"deadLetterTopic"`
}

func (c ConsumerConfig) toSubscribeOptions() mq.SubscribeOptions {
	return mq.SubscribeOptions{
		ConsumerGroup:   c.ConsumerGroup,
		Concurrency:     c.Concurrency,
		MaxRetries:      c.MaxRetries,
		RetryDelay:      c.RetryDelay,
		DeadLetterTopic: c.DeadLetterTopic,
	}
}

// SubmissionConfig holds submission settings.
type SubmissionConfig struct {
	Reconciler submissionservice.ReconcilerConfig `yaml:"reconciler"`
	CacheTTL   time.Duration                      `yaml:"cacheTTL"`
	EmptyTTL   time.Duration                      `yaml:"emptyTTL"`
	RateLimit  middleware.RateLimitPolicy         `yaml:"rateLimit"`
}

// ProfileConfig holds avatar storage settings.
type ProfileConfig struct {
	Bucket     string        `yaml:"bucket"`
	PresignTTL time.Duration `yaml:"presignTTL"`
}

// RateLimitConfig holds per-route rate limit policies.
type RateLimitConfig struct {
	Login    middleware.RateLimitPolicy `yaml:"login"`
	Register middleware.RateLimitPolicy `yaml:"register"`
}

// AppConfig holds the full server configuration.
type AppConfig struct {
	Server     ServerConfig          `yaml:"server"`
	Logger     logger.Config         `yaml:"logger"`
	Database   db.MySQLConfig        `yaml:"database"`
	Redis      cache.RedisConfig     `yaml:"redis"`
	Kafka      mq.KafkaConfig        `yaml:"kafka"`
	MinIO      storage.MinIOConfig   `yaml:"minio"`
	SMTP       mail.SMTPConfig       `yaml:"smtp"`
	Judge      judge.Config          `yaml:"judge"`
	Auth       AuthConfig            `yaml:"auth"`
	Email      EmailConfig           `yaml:"email"`
	Submission SubmissionConfig      `yaml:"submission"`
	Profile    ProfileConfig         `yaml:"profile"`
	RateLimit  RateLimitConfig       `yaml:"rateLimit"`
	CORS       middleware.CORSConfig `yaml:"cors"`
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config file failed: %w", err)
	}
	return nil
}

func loadAppConfig(path string) (*AppConfig, error) {
	var cfg AppConfig
	if err := loadYAML(path, &cfg); err != nil {
		return nil, err
	}

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaultHTTPAddr
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = defaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = defaultIdleTimeout
	}

	if cfg.Database.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	if cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("redis.addr is required")
	}
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, fmt.Errorf("kafka.brokers is required")
	}
	if cfg.Judge.BaseURL == "" {
		return nil, fmt.Errorf("judge.baseURL is required")
	}
	if cfg.Auth.JWTSecret == "" {
		return nil, fmt.Errorf("auth.jwtSecret is required")
	}

	if cfg.Submission.CacheTTL == 0 {
		cfg.Submission.CacheTTL = 10 * time.Minute
	}
	if cfg.Submission.EmptyTTL == 0 {
		cfg.Submission.EmptyTTL = time.Minute
	}
	if cfg.Submission.RateLimit.Window == 0 {
		cfg.Submission.RateLimit.Window = time.Minute
	}
	if cfg.Submission.RateLimit.UserMax == 0 {
		cfg.Submission.RateLimit.UserMax = 30
	}
	if cfg.Submission.RateLimit.IPMax == 0 {
		cfg.Submission.RateLimit.IPMax = 60
	}

	if cfg.RateLimit.Login.Window == 0 {
		cfg.RateLimit.Login.Window = time.Minute
	}
	if cfg.RateLimit.Login.IPMax == 0 {
		cfg.RateLimit.Login.IPMax = 20
	}
	if cfg.RateLimit.Register.Window == 0 {
		cfg.RateLimit.Register.Window = time.Minute
	}
	if cfg.RateLimit.Register.IPMax == 0 {
		cfg.RateLimit.Register.IPMax = 10
	}

	if cfg.Profile.Bucket == "" {
		cfg.Profile.Bucket = cfg.MinIO.Bucket
	}

	return &cfg, nil
}
