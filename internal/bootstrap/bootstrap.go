// Package bootstrap wires the infrastructure shared by the binaries.
package bootstrap

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/richardliu001/prediction-tournament/internal/config"
	"github.com/richardliu001/prediction-tournament/internal/logger"
	"github.com/richardliu001/prediction-tournament/internal/metrics"
	"github.com/richardliu001/prediction-tournament/internal/model"
	"github.com/richardliu001/prediction-tournament/internal/repo"
	"github.com/richardliu001/prediction-tournament/internal/service"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const defaultConfigPath = "internal/config/config.yaml"

// ConfigPath reads -config, then CONFIG_PATH, then the shipped file.
func ConfigPath() string {
	path := flag.String("config", "", "path to the yaml config")
	flag.Parse()
	if *path != "" {
		return *path
	}
	if env := os.Getenv("CONFIG_PATH"); env != "" {
		return env
	}
	return defaultConfigPath
}

type Deps struct {
	Config  *config.Config
	Log     *zap.SugaredLogger
	DB      *gorm.DB
	Redis   *redis.Client
	Kafka   *kafka.Writer
	Repo    *repo.Repository
	Metrics *metrics.Metrics
}

// Open loads config and connects postgres, redis and the kafka writer.
// migrate runs AutoMigrate; only the server does that.
func Open(ctx context.Context, path string, migrate bool) (*Deps, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log, err := logger.NewLogger(cfg.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	gdb, err := gorm.Open(postgres.Open(cfg.Postgres.DSN), &gorm.Config{
		PrepareStmt:    true,
		TranslateError: true,
		Logger:         logger.NewGormLogger(log, cfg.Postgres.SlowThreshold),
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
	if migrate {
		if err := gdb.AutoMigrate(model.All()...); err != nil {
			return nil, fmt.Errorf("auto-migrate: %w", err)
		}
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		// the leaderboard falls back to the database
		log.Warnw("redis unavailable, leaderboard cache disabled", "addr", cfg.Redis.Addr, "err", err)
		_ = rdb.Close()
		rdb = nil
	}

	kw := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Kafka.Brokers...),
		Topic:                  cfg.Kafka.Topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}

	return &Deps{
		Config:  cfg,
		Log:     log,
		DB:      gdb,
		Redis:   rdb,
		Kafka:   kw,
		Repo:    repo.NewRepository(gdb, rdb, kw, log).WithLockTimeout(cfg.Postgres.LockTimeout),
		Metrics: metrics.New(prometheus.DefaultRegisterer),
	}, nil
}

// Services builds the application services from the loaded config.
func (d *Deps) Services() (*service.WalletService, *service.FundingService, *service.TournamentService) {
	cfg := d.Config
	w := service.NewWalletService(d.Repo, d.Log, d.Metrics, cfg.Wallet.Currency)
	f := service.NewFundingService(d.Repo, w, service.FundingLimits{
		DepositMin:    cfg.Wallet.DepositMin,
		DepositMax:    cfg.Wallet.DepositMax,
		WithdrawalMin: cfg.Wallet.WithdrawalMin,
		WithdrawalMax: cfg.Wallet.WithdrawalMax,
		DepositTTL:    cfg.Wallet.DepositTTL,
	}, d.Log)
	t := service.NewTournamentService(d.Repo, w, service.TournamentSettings{
		CommissionRate:     cfg.Tournament.CommissionRate,
		IntegrityTolerance: cfg.Tournament.IntegrityTolerance,
	}, d.Metrics, d.Log)
	return w, f, t
}

func (d *Deps) Close() {
	if err := d.Kafka.Close(); err != nil {
		d.Log.Warnw("close kafka writer", "err", err)
	}
	if d.Redis != nil {
		_ = d.Redis.Close()
	}
	if sqlDB, err := d.DB.DB(); err == nil {
		_ = sqlDB.Close()
	}
	_ = d.Log.Sync()
}
