package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/richardliu001/prediction-tournament/internal/model"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrTryLater is returned when a lock could not be acquired in time or the
	// store aborted the transaction because of contention.
	ErrTryLater = errors.New("resource busy, try later")
	// ErrStaleState means a conditional update matched no row.
	ErrStaleState = errors.New("row changed concurrently")
)

// RepositoryInterface restricts Repo methods so services can be tested with fakes.
type RepositoryInterface interface {
	DB(ctx context.Context) *gorm.DB
	Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error
	WalletStore
	FundingStore
	TournamentStore
	OutboxStore
	LeaderboardCache
}

type OutboxStore interface {
	CreateOutboxEvent(ctx context.Context, tx *gorm.DB, evt *model.OutboxEvent) error
	PollOutbox(ctx context.Context, limit int) ([]model.OutboxEvent, error)
	MarkOutboxProcessed(ctx context.Context, id uint64) error
	PublishEvent(ctx context.Context, evt model.OutboxEvent) error
}

// Repository implements RepositoryInterface.
type Repository struct {
	db          *gorm.DB
	rdb         *redis.Client
	writer      *kafka.Writer
	log         *zap.SugaredLogger
	lockTimeout time.Duration
}

// NewRepository constructs repo.
func NewRepository(db *gorm.DB, rdb *redis.Client, w *kafka.Writer, logger *zap.SugaredLogger) *Repository {
	return &Repository{db: db, rdb: rdb, writer: w, log: logger}
}

// WithLockTimeout bounds how long a transaction waits for a row lock.
// Only honoured on postgres.
func (r *Repository) WithLockTimeout(d time.Duration) *Repository {
	r.lockTimeout = d
	return r
}

// DB returns underlying *gorm.DB
func (r *Repository) DB(ctx context.Context) *gorm.DB { return r.db.WithContext(ctx) }

// Transaction runs fn in a single ACID transaction. Lock timeouts, deadlocks
// and serialization failures surface as ErrTryLater.
func (r *Repository) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if r.lockTimeout > 0 && tx.Dialector.Name() == "postgres" {
			stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", r.lockTimeout.Milliseconds())
			if err := tx.Exec(stmt).Error; err != nil {
				return err
			}
		}
		return fn(tx)
	})
	if err != nil && isTransient(err) {
		return fmt.Errorf("%w: %w", ErrTryLater, err)
	}
	return err
}

func lockByID[T any](ctx context.Context, tx *gorm.DB, entity, id string) (*T, error) {
	var row T
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).First(&row).Error
	if err != nil {
		return nil, notFound(err, entity, id)
	}
	return &row, nil
}

func getByID[T any](ctx context.Context, db *gorm.DB, entity, id string) (*T, error) {
	var row T
	if err := db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		return nil, notFound(err, entity, id)
	}
	return &row, nil
}

// updateGuarded applies updates to the row matching where and fails with
// ErrStaleState when nothing matched.
func updateGuarded(ctx context.Context, tx *gorm.DB, m interface{}, updates map[string]interface{}, where string, args ...interface{}) error {
	res := tx.WithContext(ctx).Model(m).Where(where, args...).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleState
	}
	return nil
}

func notFound(err error, entity, id string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s %s: %w", entity, id, ErrNotFound)
	}
	return err
}

// IsUniqueViolation reports whether err was caused by a unique constraint.
func IsUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isTransient(err error) bool {
	if errors.Is(err, ErrStaleState) {
		return true
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case "55P03", "40P01", "40001":
		return true
	}
	return false
}
