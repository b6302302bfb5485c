// Package config предоставялет структуры и функцию для парсинга и загрузки конфига
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/shopspring/decimal"

	"github.com/magabrotheeeer/billing-ledger/internal/models"
)

// Config общая структура для хранения настроек
type Config struct {
	Env                     string `yaml:"env" env-default:"local"`
	StorageConnectionString string `yaml:"storage_connection_string" env:"STORAGE_CONNECTION_STRING"`
	MigrationsPath          string `yaml:"migrations_path" env-default:"./migrations"`
	RedisConnection         `yaml:"redis_connection"`
	HTTPServer              `yaml:"http_server"`
	JWTToken                `yaml:"jwttoken"`
	RabbitMQ                `yaml:"rabbitmq"`
	SMTP                    `yaml:"smtp"`
	Billing                 `yaml:"billing"`
	Webhook                 `yaml:"webhook"`
	Operations              `yaml:"operations"`
	Sweeper                 `yaml:"sweeper"`
	RateLimit               `yaml:"rate_limit"`
}

// HTTPServer структура для настройки сервера
type HTTPServer struct {
	AddressHTTP string        `yaml:"addresshttp" env-default:":8080"`
	TimeoutHTTP time.Duration `yaml:"timeouthttp" env-default:"10s"`
	IdleTimeout time.Duration `yaml:"idle_timeout" env-default:"60s"`
}

// RedisConnection структура для настройки подключения к redis
type RedisConnection struct {
	AddressRedis string        `yaml:"addressredis"`
	Password     string        `yaml:"password" env:"REDIS_PASSWORD"`
	User         string        `yaml:"user"`
	DB           int           `yaml:"db"`
	MaxRetries   int           `yaml:"max_retries"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	TimeoutRedis time.Duration `yaml:"timeoutredis"`
}

// JWTToken секрет, которым сервис идентификации подписывает токены
type JWTToken struct {
	JWTSecretKey string        `yaml:"jwt_secret_key" env:"JWT_SECRET_KEY"`
	TokenTTL     time.Duration `yaml:"token_ttl"`
}

// RabbitMQ параметры подключения к брокеру
type RabbitMQ struct {
	RabbitMQURL        string        `yaml:"url" env:"RABBITMQ_URL"`
	RabbitMQMaxRetries int           `yaml:"max_retries" env-default:"5"`
	RabbitMQRetryDelay time.Duration `yaml:"retry_delay" env-default:"2s"`
}

// SMTP параметры почтового сервера для уведомлений оператора
type SMTP struct {
	SMTPHost      string `yaml:"host"`
	SMTPPort      string `yaml:"port" env-default:"587"`
	SMTPUser      string `yaml:"user"`
	SMTPPass      string `yaml:"password" env:"SMTP_PASSWORD"`
	OperatorEmail string `yaml:"operator_email"`
}

// Billing цены и параметры биллинга. Денежные суммы задаются строками,
// чтобы не терять точность на float.
type Billing struct {
	WelcomeGrant       string            `yaml:"welcome_grant" env-default:"100"`
	Timezone           string            `yaml:"timezone" env-default:"America/New_York"`
	Prices             map[string]string `yaml:"prices"`
	SubscriptionPeriod time.Duration     `yaml:"subscription_period" env-default:"720h"`
	TrialPeriod        time.Duration     `yaml:"trial_period" env-default:"168h"`
	TrialPlan          string            `yaml:"trial_plan" env-default:"tier2"`
	PlanCacheTTL       time.Duration     `yaml:"plan_cache_ttl" env-default:"5m"`
	UsageRetention     time.Duration     `yaml:"usage_retention" env-default:"2160h"`
}

// Webhook параметры проверки вебхуков платёжного шлюза
type Webhook struct {
	Secret          string `yaml:"secret" env:"WEBHOOK_SECRET"`
	TenantID        string `yaml:"tenant_id"`
	SignatureHeader string `yaml:"signature_header" env-default:"X-Api-Signature"`
}

// Operations адрес исполнителя платных операций
type Operations struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout" env-default:"30s"`
}

// Sweeper период фоновой обработки подписок
type Sweeper struct {
	Interval time.Duration `yaml:"interval" env-default:"1m"`
}

// RateLimit параметры ограничения запросов на пользователя
type RateLimit struct {
	RPS   float64 `yaml:"rps" env-default:"5"`
	Burst int     `yaml:"burst" env-default:"10"`
}

// WelcomeGrantAmount приветственный грант в виде decimal.
func (b Billing) WelcomeGrantAmount() (decimal.Decimal, error) {
	const op = "config.WelcomeGrantAmount"
	if b.WelcomeGrant == "" {
		return decimal.Zero, nil
	}
	v, err := decimal.NewFromString(b.WelcomeGrant)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: %w", op, err)
	}
	if v.IsNegative() {
		return decimal.Zero, fmt.Errorf("%s: negative welcome grant %s", op, v)
	}
	if !v.IsZero() && !models.ValidAmount(v) {
		return decimal.Zero, fmt.Errorf("%s: welcome grant %s has more than %d decimal places", op, v, models.AmountScale)
	}
	return v, nil
}

// PriceTable цены операций в виде decimal. Все цены должны быть положительными.
func (b Billing) PriceTable() (map[string]decimal.Decimal, error) {
	const op = "config.PriceTable"
	prices := make(map[string]decimal.Decimal, len(b.Prices))
	for operation, raw := range b.Prices {
		v, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: price of %s: %w", op, operation, err)
		}
		if !models.ValidAmount(v) {
			return nil, fmt.Errorf("%s: price of %s must be positive with at most %d decimal places", op, operation, models.AmountScale)
		}
		prices[operation] = v
	}
	return prices, nil
}

// MustLoad функция для загрузки конфига, возвращает конфиг, сгенерированный из config/config.go
func MustLoad() *Config {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		log.Fatal("CONFIG_PATH is not set")
	}
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		log.Fatalf("file: %s - does not exist", configPath)
	}
	var cfg Config

	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		log.Fatalf("cannot read config: %s", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %s", err)
	}
	return &cfg
}

// Validate проверяет параметры, общие для всех сервисов.
func (c *Config) Validate() error {
	if c.Sweeper.Interval <= 0 {
		return fmt.Errorf("sweeper.interval must be positive, got %s", c.Sweeper.Interval)
	}
	if c.RateLimit.RPS <= 0 || c.RateLimit.Burst <= 0 {
		return errors.New("rate_limit.rps and rate_limit.burst must be positive")
	}
	return nil
}

// Validate проверяет параметры приёма вебхуков. Без tenant_id сервис не может
// отличить свои события от событий соседних развёртываний.
func (w Webhook) Validate() error {
	if w.Secret == "" {
		return errors.New("webhook.secret is required")
	}
	if w.TenantID == "" {
		return errors.New("webhook.tenant_id is required")
	}
	return nil
}

func (c *Config) String() string {
	return fmt.Sprintf(
		"Env: %s\n"+
			"MigrationsPath: %s\n"+
			"RedisConnection:\n"+
			"  Addr: %s\n"+
			"  DB: %d\n"+
			"HTTPServer:\n"+
			"  Address: %s\n"+
			"  Timeout: %s\n"+
			"  IdleTimeout: %s\n"+
			"Billing:\n"+
			"  WelcomeGrant: %s\n"+
			"  Timezone: %s\n"+
			"  SubscriptionPeriod: %s\n"+
			"Webhook:\n"+
			"  TenantID: %s\n"+
			"Operations:\n"+
			"  BaseURL: %s\n",
		c.Env,
		c.MigrationsPath,
		c.AddressRedis,
		c.DB,
		c.AddressHTTP,
		c.TimeoutHTTP,
		c.IdleTimeout,
		c.WelcomeGrant,
		c.Timezone,
		c.SubscriptionPeriod,
		c.TenantID,
		c.BaseURL,
	)
}
