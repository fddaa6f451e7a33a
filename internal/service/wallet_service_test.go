package service

import (
	"sync"
	"testing"
	"time"

	"github.com/richardliu001/prediction-tournament/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestWalletService_FullFlow(t *testing.T) {
	env := newTestEnv(t)
	ctx := env.ctx

	e, err := env.wallet.Credit(ctx, Posting{UserID: "u1", Amount: dec("100"), Category: model.CategoryBonus, IdempotencyKey: "bonus-1"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), e.Sequence)
	assert.Equal(t, "0.00", e.BalanceBefore.StringFixed(2))
	assert.Equal(t, "100.00", e.BalanceAfter.StringFixed(2))

	_, err = env.wallet.Debit(ctx, Posting{UserID: "u1", Amount: dec("130"), Category: model.CategoryFee})
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	e, err = env.wallet.Debit(ctx, Posting{UserID: "u1", Amount: dec("30"), Category: model.CategoryFee})
	require.NoError(t, err)
	assert.Equal(t, int64(2), e.Sequence)
	assert.Equal(t, "100.00", e.BalanceBefore.StringFixed(2))
	assert.Equal(t, "70.00", e.BalanceAfter.StringFixed(2))

	assert.Equal(t, "70.00", env.balance(t, "u1"))
	w, err := env.wallet.GetWallet(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "30.00", w.TotalSpent.StringFixed(2))
	assert.Equal(t, uint64(2), w.Version)

	hist, err := env.wallet.GetHistory(ctx, "u1", 10, time.Time{})
	require.NoError(t, err)
	assert.Len(t, hist, 2) // bonus + fee; the failed debit left nothing
	env.requireConsistent(t, "u1")

	var outbox int64
	require.NoError(t, env.db.Model(&model.OutboxEvent{}).Count(&outbox).Error)
	assert.Equal(t, int64(2), outbox)
}

func TestWalletService_Idempotency(t *testing.T) {
	env := newTestEnv(t)
	p := Posting{UserID: "u1", Amount: dec("25.50"), Category: model.CategoryBonus, IdempotencyKey: "promo:u1"}

	first, err := env.wallet.Credit(env.ctx, p)
	require.NoError(t, err)
	again, err := env.wallet.Credit(env.ctx, p)
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, "25.50", env.balance(t, "u1"))
	assert.Equal(t, 1, env.entryCount(t, "u1"))

	p.Amount = dec("30")
	_, err = env.wallet.Credit(env.ctx, p)
	assert.ErrorIs(t, err, ErrDuplicateIdempotencyKey)

	// same key on another wallet
	p.UserID, p.Amount = "u2", dec("25.50")
	_, err = env.wallet.Credit(env.ctx, p)
	assert.ErrorIs(t, err, ErrDuplicateIdempotencyKey)
	assert.Equal(t, "25.50", env.balance(t, "u1"))
}

func TestWalletService_InvalidInput(t *testing.T) {
	env := newTestEnv(t)
	for _, amt := range []string{"0", "-5", "1.005"} {
		_, err := env.wallet.Credit(env.ctx, Posting{UserID: "u1", Amount: dec(amt), Category: model.CategoryBonus})
		assert.ErrorIs(t, err, ErrInvalidAmount, amt)
	}

	_, err := env.wallet.Credit(env.ctx, Posting{
		UserID:   "u1",
		Amount:   dec("1"),
		Category: model.CategoryBonus,
		Metadata: model.Metadata{model.MetaTournamentID: "t-1"},
	})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = env.wallet.Credit(env.ctx, Posting{UserID: "u1", Amount: dec("1"), Category: "LOTTERY"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = env.wallet.ManualAdjustment(env.ctx, "u1", dec("1"), model.Credit, "", "admin-1")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestWalletService_ConcurrentDebitsNeverNegative(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, "u1", "100")

	var wg sync.WaitGroup
	var mu sync.Mutex
	ok, short := 0, 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.wallet.Debit(env.ctx, Posting{UserID: "u1", Amount: dec("30"), Category: model.CategoryFee})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				ok++
			} else if assert.ErrorIs(t, err, ErrInsufficientBalance) {
				short++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, ok)
	assert.Equal(t, 7, short)
	assert.Equal(t, "10.00", env.balance(t, "u1"))
	env.requireConsistent(t, "u1")
}

func TestWalletService_Status(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, "u1", "50")

	_, err := env.wallet.SetWalletStatus(env.ctx, "u1", model.WalletFrozen, "admin-1")
	require.NoError(t, err)

	_, err = env.wallet.Debit(env.ctx, Posting{UserID: "u1", Amount: dec("10"), Category: model.CategoryFee})
	assert.ErrorIs(t, err, ErrWalletNotActive)
	// frozen wallets still receive money
	_, err = env.wallet.Credit(env.ctx, Posting{UserID: "u1", Amount: dec("10"), Category: model.CategoryBonus})
	assert.NoError(t, err)

	_, err = env.wallet.SetWalletStatus(env.ctx, "u1", model.WalletClosed, "admin-1")
	assert.ErrorIs(t, err, ErrInvalidStateTransition)

	_, err = env.wallet.SetWalletStatus(env.ctx, "u1", model.WalletActive, "admin-1")
	require.NoError(t, err)
	_, err = env.wallet.ManualAdjustment(env.ctx, "u1", dec("60"), model.Debit, "payout offline", "admin-1")
	require.NoError(t, err)

	w, err := env.wallet.SetWalletStatus(env.ctx, "u1", model.WalletClosed, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, model.WalletClosed, w.Status)

	_, err = env.wallet.Credit(env.ctx, Posting{UserID: "u1", Amount: dec("1"), Category: model.CategoryBonus})
	assert.ErrorIs(t, err, ErrWalletNotActive)
	_, err = env.wallet.SetWalletStatus(env.ctx, "u1", model.WalletActive, "admin-1")
	assert.ErrorIs(t, err, ErrInvalidStateTransition)
}

func TestWalletService_Reverse(t *testing.T) {
	env := newTestEnv(t)
	e, err := env.wallet.Credit(env.ctx, Posting{UserID: "u1", Amount: dec("40"), Category: model.CategoryBonus})
	require.NoError(t, err)

	var comp *model.LedgerEntry
	err = env.repo.Transaction(env.ctx, func(tx *gorm.DB) error {
		comp, err = env.wallet.ReverseTx(env.ctx, tx, e.ID, "granted twice")
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, model.Debit, comp.Direction)
	assert.Equal(t, model.CategoryAdminAdjustment, comp.Category)
	assert.Equal(t, e.ID, comp.Metadata.Data()[model.MetaReversalOf])
	assert.Equal(t, "0.00", env.balance(t, "u1"))
	env.requireConsistent(t, "u1")

	err = env.repo.Transaction(env.ctx, func(tx *gorm.DB) error {
		_, err := env.wallet.ReverseTx(env.ctx, tx, e.ID, "again")
		return err
	})
	assert.ErrorIs(t, err, ErrInvalidStateTransition)
}

func TestWalletService_AuditDetectsDrift(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, "u1", "20")
	w, err := env.wallet.GetWallet(env.ctx, "u1")
	require.NoError(t, err)

	require.NoError(t, env.db.Model(&model.Wallet{}).Where("id = ?", w.ID).Update("balance", dec("25")).Error)

	rep, err := env.wallet.AuditWallet(env.ctx, w.ID)
	require.NoError(t, err)
	assert.False(t, rep.Consistent)
	assert.Equal(t, "20.00", rep.LedgerBalance.StringFixed(2))
	assert.Equal(t, "25.00", rep.StoredBalance.StringFixed(2))

	bad, err := env.wallet.AuditAll(env.ctx, 1)
	require.NoError(t, err)
	require.Len(t, bad, 1)
	assert.Equal(t, w.ID, bad[0].WalletID)
}
