package repo

import (
	"context"
	"errors"
	"time"

	"github.com/richardliu001/prediction-tournament/internal/model"
	"gorm.io/gorm"
)

type FundingStore interface {
	CreateDeposit(ctx context.Context, tx *gorm.DB, d *model.DepositRequest) error
	GetDeposit(ctx context.Context, id string) (*model.DepositRequest, error)
	GetDepositForUpdate(ctx context.Context, tx *gorm.DB, id string) (*model.DepositRequest, error)
	FindPendingDeposit(ctx context.Context, tx *gorm.DB, userID string) (*model.DepositRequest, error)
	UpdateDeposit(ctx context.Context, tx *gorm.DB, id string, from model.DepositStatus, updates map[string]interface{}) error
	ListDeposits(ctx context.Context, status model.DepositStatus, limit int) ([]model.DepositRequest, error)
	ListExpiredDeposits(ctx context.Context, now time.Time, limit int) ([]model.DepositRequest, error)

	CreateWithdrawal(ctx context.Context, tx *gorm.DB, w *model.WithdrawalRequest) error
	GetWithdrawal(ctx context.Context, id string) (*model.WithdrawalRequest, error)
	GetWithdrawalForUpdate(ctx context.Context, tx *gorm.DB, id string) (*model.WithdrawalRequest, error)
	FindOpenWithdrawal(ctx context.Context, tx *gorm.DB, userID string) (*model.WithdrawalRequest, error)
	UpdateWithdrawal(ctx context.Context, tx *gorm.DB, id string, from model.WithdrawalStatus, updates map[string]interface{}) error
	ListWithdrawals(ctx context.Context, statuses []model.WithdrawalStatus, limit int) ([]model.WithdrawalRequest, error)
}

func (r *Repository) CreateDeposit(ctx context.Context, tx *gorm.DB, d *model.DepositRequest) error {
	return tx.WithContext(ctx).Create(d).Error
}

func (r *Repository) GetDeposit(ctx context.Context, id string) (*model.DepositRequest, error) {
	return getByID[model.DepositRequest](ctx, r.db, "deposit request", id)
}

func (r *Repository) GetDepositForUpdate(ctx context.Context, tx *gorm.DB, id string) (*model.DepositRequest, error) {
	return lockByID[model.DepositRequest](ctx, tx, "deposit request", id)
}

// FindPendingDeposit returns the user's PENDING deposit, or nil.
func (r *Repository) FindPendingDeposit(ctx context.Context, tx *gorm.DB, userID string) (*model.DepositRequest, error) {
	var d model.DepositRequest
	err := tx.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, model.DepositPending).
		Order("created_at desc").First(&d).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// UpdateDeposit applies updates only while the request is still in status from.
func (r *Repository) UpdateDeposit(ctx context.Context, tx *gorm.DB, id string, from model.DepositStatus, updates map[string]interface{}) error {
	updates["updated_at"] = time.Now()
	return updateGuarded(ctx, tx, &model.DepositRequest{}, updates, "id = ? AND status = ?", id, from)
}

func (r *Repository) ListDeposits(ctx context.Context, status model.DepositStatus, limit int) ([]model.DepositRequest, error) {
	var out []model.DepositRequest
	err := r.db.WithContext(ctx).Where("status = ?", status).Order("created_at").Limit(limit).Find(&out).Error
	return out, err
}

func (r *Repository) ListExpiredDeposits(ctx context.Context, now time.Time, limit int) ([]model.DepositRequest, error) {
	var out []model.DepositRequest
	err := r.db.WithContext(ctx).
		Where("status = ? AND expires_at <= ?", model.DepositPending, now).
		Order("expires_at").Limit(limit).Find(&out).Error
	return out, err
}

func (r *Repository) CreateWithdrawal(ctx context.Context, tx *gorm.DB, w *model.WithdrawalRequest) error {
	return tx.WithContext(ctx).Create(w).Error
}

func (r *Repository) GetWithdrawal(ctx context.Context, id string) (*model.WithdrawalRequest, error) {
	return getByID[model.WithdrawalRequest](ctx, r.db, "withdrawal request", id)
}

func (r *Repository) GetWithdrawalForUpdate(ctx context.Context, tx *gorm.DB, id string) (*model.WithdrawalRequest, error) {
	return lockByID[model.WithdrawalRequest](ctx, tx, "withdrawal request", id)
}

// FindOpenWithdrawal returns the user's PENDING or PROCESSING withdrawal, or nil.
func (r *Repository) FindOpenWithdrawal(ctx context.Context, tx *gorm.DB, userID string) (*model.WithdrawalRequest, error) {
	var w model.WithdrawalRequest
	err := tx.WithContext(ctx).
		Where("user_id = ? AND status IN ?", userID, []model.WithdrawalStatus{model.WithdrawalPending, model.WithdrawalProcessing}).
		First(&w).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (r *Repository) UpdateWithdrawal(ctx context.Context, tx *gorm.DB, id string, from model.WithdrawalStatus, updates map[string]interface{}) error {
	updates["updated_at"] = time.Now()
	return updateGuarded(ctx, tx, &model.WithdrawalRequest{}, updates, "id = ? AND status = ?", id, from)
}

func (r *Repository) ListWithdrawals(ctx context.Context, statuses []model.WithdrawalStatus, limit int) ([]model.WithdrawalRequest, error) {
	var out []model.WithdrawalRequest
	err := r.db.WithContext(ctx).Where("status IN ?", statuses).Order("created_at").Limit(limit).Find(&out).Error
	return out, err
}
