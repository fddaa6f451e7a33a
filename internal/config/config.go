package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config top-level struct
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Postgres   PostgresConfig   `yaml:"postgres"`
	Redis      RedisConfig      `yaml:"redis"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	RateLimit  RateLimitConfig  `yaml:"ratelimit"`
	Log        LogConfig        `yaml:"log"`
	Wallet     WalletConfig     `yaml:"wallet"`
	Tournament TournamentConfig `yaml:"tournament"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

type PostgresConfig struct {
	DSN           string        `yaml:"dsn"`
	LockTimeout   time.Duration `yaml:"lock_timeout"`
	MaxOpenConns  int           `yaml:"max_open_conns"`
	SlowThreshold time.Duration `yaml:"slow_threshold"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type RateLimitConfig struct {
	RPS   int `yaml:"rps"`
	Burst int `yaml:"burst"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// WalletConfig bounds user-initiated money movement.
type WalletConfig struct {
	Currency      string          `yaml:"currency"`
	DepositMin    decimal.Decimal `yaml:"deposit_min"`
	DepositMax    decimal.Decimal `yaml:"deposit_max"`
	WithdrawalMin decimal.Decimal `yaml:"withdrawal_min"`
	WithdrawalMax decimal.Decimal `yaml:"withdrawal_max"`
	DepositTTL    time.Duration   `yaml:"deposit_ttl"`
}

type TournamentConfig struct {
	CommissionRate     decimal.Decimal `yaml:"commission_rate"`
	IntegrityTolerance decimal.Decimal `yaml:"integrity_tolerance"`
}

type SchedulerConfig struct {
	StateInterval     time.Duration `yaml:"state_interval"`
	RankingInterval   time.Duration `yaml:"ranking_interval"`
	FinalizeInterval  time.Duration `yaml:"finalize_interval"`
	IntegrityInterval time.Duration `yaml:"integrity_interval"`
	AuditInterval     time.Duration `yaml:"audit_interval"`
	MetricsAddr       string        `yaml:"metrics_addr"`
}

// Default returns the configuration used for any value the file leaves out.
func Default() Config {
	return Config{
		Server:    ServerConfig{Port: 8080},
		Postgres:  PostgresConfig{LockTimeout: 3 * time.Second, MaxOpenConns: 20, SlowThreshold: 200 * time.Millisecond},
		Kafka:     KafkaConfig{Topic: "tournament-ledger-events"},
		RateLimit: RateLimitConfig{RPS: 20, Burst: 40},
		Log:       LogConfig{Level: "info"},
		Wallet: WalletConfig{
			Currency:      "PEN",
			DepositMin:    decimal.RequireFromString("5.00"),
			DepositMax:    decimal.RequireFromString("10000.00"),
			WithdrawalMin: decimal.RequireFromString("10.00"),
			WithdrawalMax: decimal.RequireFromString("5000.00"),
			DepositTTL:    24 * time.Hour,
		},
		Tournament: TournamentConfig{
			CommissionRate:     decimal.RequireFromString("0.10"),
			IntegrityTolerance: decimal.RequireFromString("0.01"),
		},
		Scheduler: SchedulerConfig{
			StateInterval:     30 * time.Second,
			RankingInterval:   time.Minute,
			FinalizeInterval:  time.Minute,
			IntegrityInterval: 15 * time.Minute,
			AuditInterval:     time.Hour,
			MetricsAddr:       ":9102",
		},
	}
}

// Load reads yaml file over the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	// override DSN password from env if present
	if pw := os.Getenv("POSTGRES_PASSWORD"); pw != "" {
		cfg.Postgres.DSN = cfg.Postgres.DSN + " password=" + pw
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
	}
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.Kafka.Brokers = strings.Split(brokers, ",")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the services cannot run with.
func (c *Config) Validate() error {
	var errs []error
	w := c.Wallet
	if !w.DepositMin.IsPositive() || w.DepositMax.LessThan(w.DepositMin) {
		errs = append(errs, fmt.Errorf("wallet: invalid deposit bounds [%s, %s]", w.DepositMin, w.DepositMax))
	}
	if !w.WithdrawalMin.IsPositive() || w.WithdrawalMax.LessThan(w.WithdrawalMin) {
		errs = append(errs, fmt.Errorf("wallet: invalid withdrawal bounds [%s, %s]", w.WithdrawalMin, w.WithdrawalMax))
	}
	if w.DepositTTL <= 0 {
		errs = append(errs, errors.New("wallet: deposit_ttl must be positive"))
	}
	t := c.Tournament
	if t.CommissionRate.IsNegative() || t.CommissionRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		errs = append(errs, fmt.Errorf("tournament: commission_rate %s outside [0, 1)", t.CommissionRate))
	}
	if t.IntegrityTolerance.IsNegative() {
		errs = append(errs, errors.New("tournament: integrity_tolerance must not be negative"))
	}
	s := c.Scheduler
	for name, d := range map[string]time.Duration{
		"state_interval":     s.StateInterval,
		"ranking_interval":   s.RankingInterval,
		"finalize_interval":  s.FinalizeInterval,
		"integrity_interval": s.IntegrityInterval,
		"audit_interval":     s.AuditInterval,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("scheduler: %s must be positive", name))
		}
	}
	return errors.Join(errs...)
}
