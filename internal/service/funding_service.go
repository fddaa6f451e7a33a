package service

import (
	"context"
	"fmt"
	"time"

	"github.com/richardliu001/prediction-tournament/internal/model"
	"github.com/richardliu001/prediction-tournament/internal/repo"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// FundingLimits bounds user-initiated deposits and withdrawals.
type FundingLimits struct {
	DepositMin    decimal.Decimal
	DepositMax    decimal.Decimal
	WithdrawalMin decimal.Decimal
	WithdrawalMax decimal.Decimal
	DepositTTL    time.Duration
}

// DefaultFundingLimits mirrors the shipped configuration.
func DefaultFundingLimits() FundingLimits {
	return FundingLimits{
		DepositMin:    decimal.RequireFromString("5.00"),
		DepositMax:    decimal.RequireFromString("10000.00"),
		WithdrawalMin: decimal.RequireFromString("10.00"),
		WithdrawalMax: decimal.RequireFromString("5000.00"),
		DepositTTL:    24 * time.Hour,
	}
}

// FundingService runs the deposit and withdrawal workflows. Every balance
// change goes through the WalletService.
type FundingService struct {
	repo   repo.RepositoryInterface
	wallet *WalletService
	limits FundingLimits
	log    *zap.SugaredLogger
	now    func() time.Time
}

func NewFundingService(r repo.RepositoryInterface, w *WalletService, limits FundingLimits, logger *zap.SugaredLogger) *FundingService {
	return &FundingService{repo: r, wallet: w, limits: limits, log: logger, now: time.Now}
}

// WithClock replaces the wall clock, for tests.
func (s *FundingService) WithClock(now func() time.Time) *FundingService {
	s.now = now
	return s
}

func inRange(amt, min, max decimal.Decimal) error {
	if !validAmount(amt) || amt.LessThan(min) || amt.GreaterThan(max) {
		return fmt.Errorf("%w: %s not within [%s, %s]", ErrInvalidAmount, amt, min, max)
	}
	return nil
}

// RequestDeposit records a deposit the user claims to have sent. At most one
// unexpired PENDING request per user.
func (s *FundingService) RequestDeposit(ctx context.Context, userID string, amount decimal.Decimal, method model.PaymentMethod, proof string) (*model.DepositRequest, error) {
	if err := inRange(amount, s.limits.DepositMin, s.limits.DepositMax); err != nil {
		return nil, err
	}
	if !method.Valid() {
		return nil, invalidInput("unknown payment method %q", method)
	}
	var out *model.DepositRequest
	err := s.repo.Transaction(ctx, func(tx *gorm.DB) error {
		w, err := s.repo.EnsureWallet(ctx, tx, userID, s.wallet.currency)
		if err != nil {
			return err
		}
		now := s.now()
		pending, err := s.repo.FindPendingDeposit(ctx, tx, userID)
		if err != nil {
			return err
		}
		if pending != nil {
			if !pending.Expired(now) {
				return fmt.Errorf("deposit %s is pending: %w", pending.ID, ErrDuplicateRequest)
			}
			if err := s.repo.UpdateDeposit(ctx, tx, pending.ID, model.DepositPending, map[string]interface{}{
				"status": model.DepositExpired,
			}); err != nil {
				return err
			}
		}
		d := &model.DepositRequest{
			UserID:         userID,
			WalletID:       w.ID,
			Amount:         amount,
			Method:         method,
			Status:         model.DepositPending,
			ProofReference: proof,
			ExpiresAt:      now.Add(s.limits.DepositTTL),
		}
		if err := s.repo.CreateDeposit(ctx, tx, d); err != nil {
			return err
		}
		out = d
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Infow("deposit requested", "deposit_id", out.ID, "user_id", userID, "amount", amount, "method", method)
	return out, nil
}

// ApproveDeposit credits the wallet for a verified deposit.
func (s *FundingService) ApproveDeposit(ctx context.Context, depositID, approver string) (*model.DepositRequest, error) {
	var out *model.DepositRequest
	expired := false
	err := s.repo.Transaction(ctx, func(tx *gorm.DB) error {
		d, err := s.repo.GetDepositForUpdate(ctx, tx, depositID)
		if err != nil {
			return err
		}
		if d.Status != model.DepositPending {
			return invalidTransition("deposit %s is %s", d.ID, d.Status)
		}
		now := s.now()
		if d.Expired(now) {
			expired = true
			return s.repo.UpdateDeposit(ctx, tx, d.ID, model.DepositPending, map[string]interface{}{
				"status": model.DepositExpired,
			})
		}
		e, err := s.wallet.CreditTx(ctx, tx, Posting{
			WalletID:       d.WalletID,
			Amount:         d.Amount,
			Category:       model.CategoryDeposit,
			Description:    "deposit via " + string(d.Method),
			Reference:      d.ID,
			IdempotencyKey: "deposit:" + d.ID,
			CreatedBy:      &approver,
			Metadata:       model.Metadata{model.MetaDepositID: d.ID, model.MetaMethod: string(d.Method)},
		})
		if err != nil {
			return err
		}
		if err := s.repo.UpdateDeposit(ctx, tx, d.ID, model.DepositPending, map[string]interface{}{
			"status":          model.DepositApproved,
			"ledger_entry_id": e.ID,
			"processed_by":    approver,
			"processed_at":    now,
		}); err != nil {
			return err
		}
		d.Status, d.LedgerEntryID, d.ProcessedBy, d.ProcessedAt = model.DepositApproved, &e.ID, &approver, &now
		out = d
		return emitEvent(ctx, s.repo, tx, "Deposit", d.ID, model.EventDepositApproved, fundingPayload{
			RequestID:     d.ID,
			UserID:        d.UserID,
			WalletID:      d.WalletID,
			Amount:        d.Amount,
			LedgerEntryID: e.ID,
			ProcessedBy:   approver,
			At:            now,
		})
	})
	if err != nil {
		return nil, err
	}
	if expired {
		s.log.Infow("deposit expired on approval", "deposit_id", depositID)
		return nil, fmt.Errorf("deposit %s: %w", depositID, ErrDepositExpired)
	}
	s.log.Infow("deposit approved", "deposit_id", out.ID, "approver", approver, "amount", out.Amount)
	return out, nil
}

// RejectDeposit closes a pending deposit without touching the wallet.
func (s *FundingService) RejectDeposit(ctx context.Context, depositID, approver, reason string) (*model.DepositRequest, error) {
	if reason == "" {
		return nil, invalidInput("rejection needs a reason")
	}
	var out *model.DepositRequest
	err := s.repo.Transaction(ctx, func(tx *gorm.DB) error {
		d, err := s.repo.GetDepositForUpdate(ctx, tx, depositID)
		if err != nil {
			return err
		}
		if d.Status != model.DepositPending {
			return invalidTransition("deposit %s is %s", d.ID, d.Status)
		}
		now := s.now()
		if err := s.repo.UpdateDeposit(ctx, tx, d.ID, model.DepositPending, map[string]interface{}{
			"status":           model.DepositRejected,
			"processed_by":     approver,
			"processed_at":     now,
			"rejection_reason": reason,
		}); err != nil {
			return err
		}
		d.Status, d.ProcessedBy, d.ProcessedAt, d.RejectionReason = model.DepositRejected, &approver, &now, reason
		out = d
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Infow("deposit rejected", "deposit_id", depositID, "approver", approver, "reason", reason)
	return out, nil
}

// ExpireDeposits marks every PENDING request past its window EXPIRED and
// returns how many were expired.
func (s *FundingService) ExpireDeposits(ctx context.Context, now time.Time) (int, error) {
	n := 0
	for {
		batch, err := s.repo.ListExpiredDeposits(ctx, now, 100)
		if err != nil {
			return n, err
		}
		for _, d := range batch {
			err := s.repo.Transaction(ctx, func(tx *gorm.DB) error {
				return s.repo.UpdateDeposit(ctx, tx, d.ID, model.DepositPending, map[string]interface{}{
					"status": model.DepositExpired,
				})
			})
			if err != nil && !isStale(err) {
				return n, err
			}
			if err == nil {
				n++
			}
		}
		if len(batch) < 100 {
			break
		}
	}
	if n > 0 {
		s.log.Infow("deposits expired", "count", n)
	}
	return n, nil
}

// RequestWithdrawal freezes the amount with a PENDING debit until the payout
// is completed or cancelled.
func (s *FundingService) RequestWithdrawal(ctx context.Context, userID string, amount decimal.Decimal, method model.PaymentMethod, destination string) (*model.WithdrawalRequest, error) {
	if err := inRange(amount, s.limits.WithdrawalMin, s.limits.WithdrawalMax); err != nil {
		return nil, err
	}
	if !method.Valid() {
		return nil, invalidInput("unknown payment method %q", method)
	}
	if destination == "" {
		return nil, invalidInput("withdrawal needs a destination")
	}
	var out *model.WithdrawalRequest
	err := s.repo.Transaction(ctx, func(tx *gorm.DB) error {
		w, err := s.repo.EnsureWallet(ctx, tx, userID, s.wallet.currency)
		if err != nil {
			return err
		}
		open, err := s.repo.FindOpenWithdrawal(ctx, tx, userID)
		if err != nil {
			return err
		}
		if open != nil {
			return fmt.Errorf("withdrawal %s is %s: %w", open.ID, open.Status, ErrDuplicateRequest)
		}
		req := &model.WithdrawalRequest{
			UserID:      userID,
			WalletID:    w.ID,
			Amount:      amount,
			Method:      method,
			Destination: destination,
			Status:      model.WithdrawalPending,
		}
		req.ID = newID()
		e, err := s.wallet.FreezeTx(ctx, tx, Posting{
			WalletID:       w.ID,
			Amount:         amount,
			Category:       model.CategoryWithdrawal,
			Description:    "withdrawal via " + string(method),
			Reference:      req.ID,
			IdempotencyKey: "withdrawal:" + req.ID,
			Metadata:       model.Metadata{model.MetaWithdrawalID: req.ID, model.MetaMethod: string(method)},
		})
		if err != nil {
			return err
		}
		req.LedgerEntryID = e.ID
		if err := s.repo.CreateWithdrawal(ctx, tx, req); err != nil {
			return err
		}
		out = req
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Infow("withdrawal requested", "withdrawal_id", out.ID, "user_id", userID, "amount", amount)
	return out, nil
}

// ProcessWithdrawal marks a withdrawal as picked up by an operator.
func (s *FundingService) ProcessWithdrawal(ctx context.Context, id, processor string) (*model.WithdrawalRequest, error) {
	var out *model.WithdrawalRequest
	err := s.repo.Transaction(ctx, func(tx *gorm.DB) error {
		w, err := s.repo.GetWithdrawalForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if w.Status != model.WithdrawalPending {
			return invalidTransition("withdrawal %s is %s", w.ID, w.Status)
		}
		now := s.now()
		if err := s.repo.UpdateWithdrawal(ctx, tx, w.ID, model.WithdrawalPending, map[string]interface{}{
			"status":       model.WithdrawalProcessing,
			"processed_by": processor,
			"processed_at": now,
		}); err != nil {
			return err
		}
		w.Status, w.ProcessedBy, w.ProcessedAt = model.WithdrawalProcessing, &processor, &now
		out = w
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Infow("withdrawal processing", "withdrawal_id", id, "processor", processor)
	return out, nil
}

// CompleteWithdrawal confirms the payout. The frozen entry becomes COMPLETED;
// the balance was already reduced at request time.
func (s *FundingService) CompleteWithdrawal(ctx context.Context, id, processor, externalTxID string) (*model.WithdrawalRequest, error) {
	if externalTxID == "" {
		return nil, invalidInput("completion needs the external transaction id")
	}
	var out *model.WithdrawalRequest
	err := s.repo.Transaction(ctx, func(tx *gorm.DB) error {
		w, err := s.repo.GetWithdrawalForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if w.Status != model.WithdrawalProcessing {
			return invalidTransition("withdrawal %s is %s", w.ID, w.Status)
		}
		if _, err := s.wallet.CompletePendingTx(ctx, tx, w.LedgerEntryID); err != nil {
			return err
		}
		now := s.now()
		if err := s.repo.UpdateWithdrawal(ctx, tx, w.ID, model.WithdrawalProcessing, map[string]interface{}{
			"status":                  model.WithdrawalCompleted,
			"external_transaction_id": externalTxID,
			"completed_at":            now,
		}); err != nil {
			return err
		}
		w.Status, w.ExternalTransactionID, w.CompletedAt = model.WithdrawalCompleted, &externalTxID, &now
		out = w
		return emitEvent(ctx, s.repo, tx, "Withdrawal", w.ID, model.EventWithdrawalCompleted, fundingPayload{
			RequestID:     w.ID,
			UserID:        w.UserID,
			WalletID:      w.WalletID,
			Amount:        w.Amount,
			LedgerEntryID: w.LedgerEntryID,
			ProcessedBy:   processor,
			At:            now,
		})
	})
	if err != nil {
		return nil, err
	}
	s.log.Infow("withdrawal completed", "withdrawal_id", id, "external_tx", externalTxID)
	return out, nil
}

// CancelWithdrawal returns the frozen amount to the wallet.
func (s *FundingService) CancelWithdrawal(ctx context.Context, id, reason string) (*model.WithdrawalRequest, error) {
	return s.unwind(ctx, id, "", reason, model.WithdrawalCancelled)
}

// RejectWithdrawal is an operator refusal; the funds go back like a cancel.
func (s *FundingService) RejectWithdrawal(ctx context.Context, id, processor, reason string) (*model.WithdrawalRequest, error) {
	if reason == "" {
		return nil, invalidInput("rejection needs a reason")
	}
	return s.unwind(ctx, id, processor, reason, model.WithdrawalRejected)
}

func (s *FundingService) unwind(ctx context.Context, id, processor, reason string, to model.WithdrawalStatus) (*model.WithdrawalRequest, error) {
	var out *model.WithdrawalRequest
	err := s.repo.Transaction(ctx, func(tx *gorm.DB) error {
		w, err := s.repo.GetWithdrawalForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if !w.Status.Open() {
			return invalidTransition("withdrawal %s is %s", w.ID, w.Status)
		}
		if _, err := s.wallet.ReverseTx(ctx, tx, w.LedgerEntryID, reason); err != nil {
			return err
		}
		updates := map[string]interface{}{"status": to, "cancel_reason": reason}
		if processor != "" {
			updates["processed_by"] = processor
			updates["processed_at"] = s.now()
		}
		if err := s.repo.UpdateWithdrawal(ctx, tx, w.ID, w.Status, updates); err != nil {
			return err
		}
		w.Status, w.CancelReason = to, reason
		out = w
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Infow("withdrawal unwound", "withdrawal_id", id, "status", to, "reason", reason)
	return out, nil
}

func (s *FundingService) GetDeposit(ctx context.Context, id string) (*model.DepositRequest, error) {
	return s.repo.GetDeposit(ctx, id)
}

func (s *FundingService) GetWithdrawal(ctx context.Context, id string) (*model.WithdrawalRequest, error) {
	return s.repo.GetWithdrawal(ctx, id)
}

func (s *FundingService) ListPendingDeposits(ctx context.Context, limit int) ([]model.DepositRequest, error) {
	return s.repo.ListDeposits(ctx, model.DepositPending, clampLimit(limit))
}

// ListPendingWithdrawals returns the PENDING and PROCESSING requests, oldest first.
func (s *FundingService) ListPendingWithdrawals(ctx context.Context, limit int) ([]model.WithdrawalRequest, error) {
	return s.repo.ListWithdrawals(ctx, []model.WithdrawalStatus{model.WithdrawalPending, model.WithdrawalProcessing}, clampLimit(limit))
}
