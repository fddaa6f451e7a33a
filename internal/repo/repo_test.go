package repo

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/richardliu001/prediction-tournament/internal/logger"
	"github.com/richardliu001/prediction-tournament/internal/model"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newTestRepo(t *testing.T) (*Repository, *gorm.DB) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(model.All()...))

	return NewRepository(db, nil, &kafka.Writer{}, must(logger.NewLogger("error"))), db
}

func must(l *zap.SugaredLogger, err error) *zap.SugaredLogger {
	if err != nil {
		panic(err)
	}
	return l
}

func TestEnsureWallet_CreatesOnce(t *testing.T) {
	repo, db := newTestRepo(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 2; i++ {
		require.NoError(t, repo.Transaction(ctx, func(tx *gorm.DB) error {
			w, err := repo.EnsureWallet(ctx, tx, "u1", "PEN")
			if err != nil {
				return err
			}
			ids = append(ids, w.ID)
			return nil
		}))
	}
	assert.Equal(t, ids[0], ids[1])

	var n int64
	require.NoError(t, db.Model(&model.Wallet{}).Count(&n).Error)
	assert.Equal(t, int64(1), n)

	w, err := repo.GetWalletByUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, model.WalletActive, w.Status)
	assert.Equal(t, "PEN", w.Currency)

	_, err = repo.GetWalletByUser(ctx, "nobody")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestWalletIDsByUser(t *testing.T) {
	repo, db := newTestRepo(t)
	ctx := context.Background()
	want := map[string]string{}
	for _, u := range []string{"a", "b", "c"} {
		require.NoError(t, repo.Transaction(ctx, func(tx *gorm.DB) error {
			w, err := repo.EnsureWallet(ctx, tx, u, "PEN")
			if err == nil {
				want[u] = w.ID
			}
			return err
		}))
	}

	got, err := repo.WalletIDsByUser(ctx, db, []string{"a", "c", "missing"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": want["a"], "c": want["c"]}, got)

	got, err = repo.WalletIDsByUser(ctx, db, nil)
	require.NoError(t, err)
	assert.Empty(t, got)

	page, err := repo.ListWalletIDs(ctx, "", 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	rest, err := repo.ListWalletIDs(ctx, page[1], 2)
	require.NoError(t, err)
	assert.Len(t, rest, 1)
}

func TestLedgerEntry_KeyIsUnique(t *testing.T) {
	repo, db := newTestRepo(t)
	ctx := context.Background()
	entry := func(seq int64) *model.LedgerEntry {
		return &model.LedgerEntry{
			WalletID:      "w1",
			Sequence:      seq,
			Direction:     model.Credit,
			Category:      model.CategoryBonus,
			Amount:        decimal.NewFromInt(5),
			BalanceBefore: decimal.Zero,
			BalanceAfter:  decimal.NewFromInt(5),
			Status:        model.EntryCompleted,
			ExternalKey:   "bonus:1",
		}
	}
	first := entry(1)
	require.NoError(t, repo.CreateLedgerEntry(ctx, db, first))
	err := repo.CreateLedgerEntry(ctx, db, entry(2))
	assert.True(t, IsUniqueViolation(err), "got %v", err)

	ok, found, err := repo.EntryExists(ctx, db, "bonus:1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, first.ID, found.ID)
	ok, _, err = repo.EntryExists(ctx, db, "")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, repo.UpdateLedgerEntryStatus(ctx, db, first.ID, model.EntryCompleted, model.EntryReversed))
	err = repo.UpdateLedgerEntryStatus(ctx, db, first.ID, model.EntryCompleted, model.EntryReversed)
	assert.ErrorIs(t, err, ErrStaleState)
}

func TestOutbox_PollAndMark(t *testing.T) {
	repo, db := newTestRepo(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		evt, err := NewEvent("Wallet", fmt.Sprintf("w%d", i), model.EventLedgerEntryPosted, map[string]int{"n": i})
		require.NoError(t, err)
		require.NoError(t, repo.CreateOutboxEvent(ctx, db, evt))
	}

	evts, err := repo.PollOutbox(ctx, 2)
	require.NoError(t, err)
	require.Len(t, evts, 2)
	assert.Equal(t, `{"n":0}`, evts[0].Payload)

	for _, e := range evts {
		require.NoError(t, repo.MarkOutboxProcessed(ctx, e.ID))
	}
	evts, err = repo.PollOutbox(ctx, 10)
	require.NoError(t, err)
	require.Len(t, evts, 1)
	assert.Equal(t, "w2", evts[0].AggregateID)
}

func TestTransaction_PostgresContentionIsTransient(t *testing.T) {
	r, db := newTestRepo(t)
	ctx := context.Background()

	for _, code := range []string{"55P03", "40P01", "40001"} {
		err := r.Transaction(ctx, func(tx *gorm.DB) error {
			if _, err := r.EnsureWallet(ctx, tx, "u-"+code, "PEN"); err != nil {
				return err
			}
			return fmt.Errorf("lock wallet: %w", &pgconn.PgError{Code: code})
		})
		require.Error(t, err, code)
		assert.True(t, errors.Is(err, ErrTryLater), code)
		var pgErr *pgconn.PgError
		require.True(t, errors.As(err, &pgErr), code)
		assert.Equal(t, code, pgErr.Code)

		var n int64
		require.NoError(t, db.Model(&model.Wallet{}).Where("user_id = ?", "u-"+code).Count(&n).Error)
		assert.Zero(t, n, "rolled back on %s", code)
	}

	for _, code := range []string{"23505", "22003"} {
		err := r.Transaction(ctx, func(tx *gorm.DB) error {
			return &pgconn.PgError{Code: code}
		})
		require.Error(t, err)
		assert.False(t, errors.Is(err, ErrTryLater), code)
	}
}
