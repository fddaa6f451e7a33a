package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/richardliu001/prediction-tournament/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type WalletStore interface {
	EnsureWallet(ctx context.Context, tx *gorm.DB, userID, currency string) (*model.Wallet, error)
	GetWalletForUpdate(ctx context.Context, tx *gorm.DB, walletID string) (*model.Wallet, error)
	GetWallet(ctx context.Context, walletID string) (*model.Wallet, error)
	GetWalletByUser(ctx context.Context, userID string) (*model.Wallet, error)
	UpdateWallet(ctx context.Context, tx *gorm.DB, w *model.Wallet, oldVersion uint64) error
	ListWalletIDs(ctx context.Context, afterID string, limit int) ([]string, error)
	WalletIDsByUser(ctx context.Context, tx *gorm.DB, userIDs []string) (map[string]string, error)
	CreateLedgerEntry(ctx context.Context, tx *gorm.DB, e *model.LedgerEntry) error
	EntryExists(ctx context.Context, tx *gorm.DB, externalKey string) (bool, *model.LedgerEntry, error)
	GetLedgerEntryForUpdate(ctx context.Context, tx *gorm.DB, entryID string) (*model.LedgerEntry, error)
	UpdateLedgerEntryStatus(ctx context.Context, tx *gorm.DB, entryID string, from, to model.EntryStatus) error
	ListLedgerEntries(ctx context.Context, walletID string, limit int, since time.Time) ([]model.LedgerEntry, error)
	ListWalletChain(ctx context.Context, walletID string) ([]model.LedgerEntry, error)
	OpenObligations(ctx context.Context, tx *gorm.DB, w *model.Wallet) (Obligations, error)
}

// EnsureWallet creates the user's wallet if it does not exist yet and
// returns it locked for the rest of tx.
func (r *Repository) EnsureWallet(ctx context.Context, tx *gorm.DB, userID, currency string) (*model.Wallet, error) {
	w := &model.Wallet{UserID: userID, Currency: currency, Status: model.WalletActive}
	if err := tx.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}}, DoNothing: true}).
		Create(w).Error; err != nil {
		return nil, err
	}
	var locked model.Wallet
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).First(&locked).Error
	if err != nil {
		return nil, notFound(err, "wallet of user", userID)
	}
	return &locked, nil
}

// GetWalletForUpdate locks wallet row.
func (r *Repository) GetWalletForUpdate(ctx context.Context, tx *gorm.DB, walletID string) (*model.Wallet, error) {
	return lockByID[model.Wallet](ctx, tx, "wallet", walletID)
}

func (r *Repository) GetWallet(ctx context.Context, walletID string) (*model.Wallet, error) {
	return getByID[model.Wallet](ctx, r.db, "wallet", walletID)
}

func (r *Repository) GetWalletByUser(ctx context.Context, userID string) (*model.Wallet, error) {
	var w model.Wallet
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&w).Error; err != nil {
		return nil, notFound(err, "wallet of user", userID)
	}
	return &w, nil
}

// UpdateWallet writes the mutable wallet columns with optimistic lock.
func (r *Repository) UpdateWallet(ctx context.Context, tx *gorm.DB, w *model.Wallet, oldVersion uint64) error {
	err := updateGuarded(ctx, tx, &model.Wallet{}, map[string]interface{}{
		"balance":          w.Balance,
		"total_deposited":  w.TotalDeposited,
		"total_withdrawn":  w.TotalWithdrawn,
		"total_won":        w.TotalWon,
		"total_spent":      w.TotalSpent,
		"status":           w.Status,
		"entry_seq":        w.EntrySeq,
		"last_activity_at": w.LastActivityAt,
		"version":          oldVersion + 1,
		"updated_at":       time.Now(),
	}, "id = ? AND version = ?", w.ID, oldVersion)
	if errors.Is(err, ErrStaleState) {
		return fmt.Errorf("wallet %s: optimistic lock conflict: %w", w.ID, err)
	}
	if err != nil {
		return err
	}
	w.Version = oldVersion + 1
	return nil
}

// ListWalletIDs pages through wallet ids in ascending order.
func (r *Repository) ListWalletIDs(ctx context.Context, afterID string, limit int) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&model.Wallet{}).
		Where("id > ?", afterID).Order("id").Limit(limit).Pluck("id", &ids).Error
	return ids, err
}

// WalletIDsByUser maps user id to wallet id for the users that have a wallet.
// No rows are locked.
func (r *Repository) WalletIDsByUser(ctx context.Context, tx *gorm.DB, userIDs []string) (map[string]string, error) {
	out := make(map[string]string, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}
	var rows []model.Wallet
	if err := tx.WithContext(ctx).Select("id", "user_id").Where("user_id IN ?", userIDs).Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, w := range rows {
		out[w.UserID] = w.ID
	}
	return out, nil
}

// CreateLedgerEntry inserts record.
func (r *Repository) CreateLedgerEntry(ctx context.Context, tx *gorm.DB, e *model.LedgerEntry) error {
	return tx.WithContext(ctx).Create(e).Error
}

// EntryExists checks duplicate by idempotency key.
func (r *Repository) EntryExists(ctx context.Context, tx *gorm.DB, externalKey string) (bool, *model.LedgerEntry, error) {
	if externalKey == "" {
		return false, nil, nil
	}
	var e model.LedgerEntry
	err := tx.WithContext(ctx).Where("external_key = ?", externalKey).First(&e).Error
	if err == nil {
		return true, &e, nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil, nil
	}
	return false, nil, err
}

func (r *Repository) GetLedgerEntryForUpdate(ctx context.Context, tx *gorm.DB, entryID string) (*model.LedgerEntry, error) {
	return lockByID[model.LedgerEntry](ctx, tx, "ledger entry", entryID)
}

// UpdateLedgerEntryStatus moves an entry between statuses; amounts and
// balance snapshots are never touched.
func (r *Repository) UpdateLedgerEntryStatus(ctx context.Context, tx *gorm.DB, entryID string, from, to model.EntryStatus) error {
	return updateGuarded(ctx, tx, &model.LedgerEntry{}, map[string]interface{}{
		"status":     to,
		"updated_at": time.Now(),
	}, "id = ? AND status = ?", entryID, from)
}

// ListLedgerEntries fetches recent entries of a wallet.
func (r *Repository) ListLedgerEntries(ctx context.Context, walletID string, limit int, since time.Time) ([]model.LedgerEntry, error) {
	var entries []model.LedgerEntry
	err := r.db.WithContext(ctx).
		Where("wallet_id = ? AND created_at >= ?", walletID, since).
		Order("sequence asc").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}

// ListWalletChain returns every entry of a wallet in sequence order.
func (r *Repository) ListWalletChain(ctx context.Context, walletID string) ([]model.LedgerEntry, error) {
	var entries []model.LedgerEntry
	err := r.db.WithContext(ctx).Where("wallet_id = ?", walletID).Order("sequence asc").Find(&entries).Error
	return entries, err
}

// Obligations counts what can still move money into or out of a wallet.
type Obligations struct {
	PendingEntries  int64
	OpenWithdrawals int64
	ActiveEntries   int64
}

func (o Obligations) Any() bool {
	return o.PendingEntries > 0 || o.OpenWithdrawals > 0 || o.ActiveEntries > 0
}

func (r *Repository) OpenObligations(ctx context.Context, tx *gorm.DB, w *model.Wallet) (Obligations, error) {
	var o Obligations
	db := tx.WithContext(ctx)
	if err := db.Model(&model.LedgerEntry{}).
		Where("wallet_id = ? AND status = ?", w.ID, model.EntryPending).
		Count(&o.PendingEntries).Error; err != nil {
		return o, err
	}
	if err := db.Model(&model.WithdrawalRequest{}).
		Where("user_id = ? AND status IN ?", w.UserID, []model.WithdrawalStatus{model.WithdrawalPending, model.WithdrawalProcessing}).
		Count(&o.OpenWithdrawals).Error; err != nil {
		return o, err
	}
	err := db.Model(&model.TournamentEntry{}).
		Where("user_id = ? AND status = ?", w.UserID, model.EntryActive).
		Count(&o.ActiveEntries).Error
	return o, err
}
