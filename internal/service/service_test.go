package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/richardliu001/prediction-tournament/internal/model"
	"github.com/richardliu001/prediction-tournament/internal/repo"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// testClock is a settable clock shared by the services under test.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type testEnv struct {
	ctx        context.Context
	db         *gorm.DB
	repo       *repo.Repository
	clock      *testClock
	wallet     *WalletService
	funding    *FundingService
	tournament *TournamentService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	// one private in-memory database per test
	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
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

	log := zap.NewNop().Sugar()
	r := repo.NewRepository(db, nil, &kafka.Writer{}, log)
	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}

	w := NewWalletService(r, log, nil, "PEN").WithClock(clock.Now)
	f := NewFundingService(r, w, DefaultFundingLimits(), log).WithClock(clock.Now)
	ts := NewTournamentService(r, w, DefaultTournamentSettings(), nil, log).WithClock(clock.Now)
	return &testEnv{ctx: context.Background(), db: db, repo: r, clock: clock, wallet: w, funding: f, tournament: ts}
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// fund credits a user through an admin adjustment.
func (e *testEnv) fund(t *testing.T, userID, amount string) {
	t.Helper()
	_, err := e.wallet.ManualAdjustment(e.ctx, userID, dec(amount), model.Credit, "test funding", "admin-1")
	require.NoError(t, err)
}

func (e *testEnv) balance(t *testing.T, userID string) string {
	t.Helper()
	b, err := e.wallet.GetBalance(e.ctx, userID)
	require.NoError(t, err)
	return b.StringFixed(2)
}

func (e *testEnv) entryCount(t *testing.T, userID string) int {
	t.Helper()
	w, err := e.wallet.GetWallet(e.ctx, userID)
	require.NoError(t, err)
	chain, err := e.repo.ListWalletChain(e.ctx, w.ID)
	require.NoError(t, err)
	return len(chain)
}

func (e *testEnv) requireConsistent(t *testing.T, userID string) {
	t.Helper()
	w, err := e.wallet.GetWallet(e.ctx, userID)
	require.NoError(t, err)
	rep, err := e.wallet.AuditWallet(e.ctx, w.ID)
	require.NoError(t, err)
	require.True(t, rep.Consistent, "audit of %s: %+v", userID, rep)
}
