package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/richardliu001/prediction-tournament/internal/metrics"
	"github.com/richardliu001/prediction-tournament/internal/model"
	"github.com/richardliu001/prediction-tournament/internal/repo"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Posting describes one balance movement. Either WalletID or UserID must be
// set; a UserID posting creates the wallet on first use.
type Posting struct {
	WalletID       string
	UserID         string
	Amount         decimal.Decimal
	Category       model.Category
	Description    string
	Reference      string
	IdempotencyKey string
	CreatedBy      *string
	Metadata       model.Metadata
}

// WalletService glues business logic and repository. It is the only writer
// of wallets and ledger entries.
type WalletService struct {
	repo     repo.RepositoryInterface
	log      *zap.SugaredLogger
	metrics  *metrics.Metrics
	currency string
	now      func() time.Time
}

// NewWalletService returns WalletService.
func NewWalletService(r repo.RepositoryInterface, logger *zap.SugaredLogger, m *metrics.Metrics, currency string) *WalletService {
	if currency == "" {
		currency = "PEN"
	}
	return &WalletService{repo: r, log: logger, metrics: m, currency: currency, now: time.Now}
}

// WithClock replaces the wall clock, for tests.
func (s *WalletService) WithClock(now func() time.Time) *WalletService {
	s.now = now
	return s
}

func validAmount(amt decimal.Decimal) bool {
	return amt.IsPositive() && amt.Equal(amt.Round(2))
}

// Credit adds money in its own transaction.
func (s *WalletService) Credit(ctx context.Context, p Posting) (*model.LedgerEntry, error) {
	var out *model.LedgerEntry
	err := s.repo.Transaction(ctx, func(tx *gorm.DB) error {
		e, err := s.CreditTx(ctx, tx, p)
		out = e
		return err
	})
	return out, err
}

// Debit subtracts money in its own transaction.
func (s *WalletService) Debit(ctx context.Context, p Posting) (*model.LedgerEntry, error) {
	var out *model.LedgerEntry
	err := s.repo.Transaction(ctx, func(tx *gorm.DB) error {
		e, err := s.DebitTx(ctx, tx, p)
		out = e
		return err
	})
	return out, err
}

// CreditTx posts a COMPLETED credit inside tx. It never fails for lack of funds.
func (s *WalletService) CreditTx(ctx context.Context, tx *gorm.DB, p Posting) (*model.LedgerEntry, error) {
	return s.post(ctx, tx, p, model.Credit, model.EntryCompleted, false)
}

// DebitTx posts a COMPLETED debit inside tx.
func (s *WalletService) DebitTx(ctx context.Context, tx *gorm.DB, p Posting) (*model.LedgerEntry, error) {
	return s.post(ctx, tx, p, model.Debit, model.EntryCompleted, false)
}

// FreezeTx posts a PENDING debit: the money leaves the balance now and the
// entry is later completed or reversed.
func (s *WalletService) FreezeTx(ctx context.Context, tx *gorm.DB, p Posting) (*model.LedgerEntry, error) {
	return s.post(ctx, tx, p, model.Debit, model.EntryPending, false)
}

func (s *WalletService) lockWallet(ctx context.Context, tx *gorm.DB, p Posting) (*model.Wallet, error) {
	if p.WalletID != "" {
		return s.repo.GetWalletForUpdate(ctx, tx, p.WalletID)
	}
	if p.UserID == "" {
		return nil, invalidInput("posting needs a wallet or a user")
	}
	return s.repo.EnsureWallet(ctx, tx, p.UserID, s.currency)
}

// post is the single code path that changes a balance. Compensating entries
// skip the wallet status check and leave the running totals alone.
func (s *WalletService) post(ctx context.Context, tx *gorm.DB, p Posting, dir model.Direction, status model.EntryStatus, compensating bool) (*model.LedgerEntry, error) {
	if !validAmount(p.Amount) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidAmount, p.Amount)
	}
	if !p.Category.Valid() {
		return nil, invalidInput("unknown category %q", p.Category)
	}
	if err := p.Metadata.Validate(p.Category); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	key := p.IdempotencyKey
	if key == "" {
		key = uuid.NewString()
	}

	w, err := s.lockWallet(ctx, tx, p)
	if err != nil {
		return nil, err
	}

	// checked under the wallet lock so a concurrent retry sees the first write
	existed, prev, err := s.repo.EntryExists(ctx, tx, key)
	if err != nil {
		return nil, err
	}
	if existed {
		if prev.WalletID == w.ID && prev.Direction == dir && prev.Category == p.Category && prev.Amount.Equal(p.Amount) {
			return prev, nil
		}
		return nil, fmt.Errorf("%w: %s", ErrDuplicateIdempotencyKey, key)
	}

	before := w.Balance
	var after decimal.Decimal
	if dir == model.Credit {
		if !compensating && !w.CanCredit() {
			return nil, fmt.Errorf("wallet %s is %s: %w", w.ID, w.Status, ErrWalletNotActive)
		}
		after = before.Add(p.Amount)
	} else {
		if !compensating && !w.CanDebit() {
			return nil, fmt.Errorf("wallet %s is %s: %w", w.ID, w.Status, ErrWalletNotActive)
		}
		if before.LessThan(p.Amount) {
			return nil, fmt.Errorf("balance %s, need %s: %w", before, p.Amount, ErrInsufficientBalance)
		}
		after = before.Sub(p.Amount)
	}

	if !compensating {
		applyTotals(w, dir, p.Category, p.Amount)
	}
	now := s.now()
	oldVersion := w.Version
	w.Balance = after
	w.EntrySeq++
	w.LastActivityAt = &now

	e := &model.LedgerEntry{
		WalletID:      w.ID,
		Sequence:      w.EntrySeq,
		Direction:     dir,
		Category:      p.Category,
		Amount:        p.Amount,
		BalanceBefore: before,
		BalanceAfter:  after,
		Status:        status,
		Description:   p.Description,
		Reference:     p.Reference,
		ExternalKey:   key,
		CreatedBy:     p.CreatedBy,
	}
	if p.Metadata != nil {
		e.Metadata = datatypes.NewJSONType(p.Metadata)
	}
	if err := s.repo.CreateLedgerEntry(ctx, tx, e); err != nil {
		if repo.IsUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateIdempotencyKey, key)
		}
		return nil, err
	}
	if err := s.repo.UpdateWallet(ctx, tx, w, oldVersion); err != nil {
		return nil, err
	}
	if err := emitEvent(ctx, s.repo, tx, "Wallet", w.ID, model.EventLedgerEntryPosted, ledgerEvent(e)); err != nil {
		return nil, err
	}
	s.metrics.EntryPosted(string(e.Category), string(e.Direction))
	s.log.Infow("ledger entry posted",
		"wallet_id", w.ID, "entry_id", e.ID, "seq", e.Sequence, "direction", dir,
		"category", p.Category, "amount", p.Amount, "balance", after, "status", status)
	return e, nil
}

func applyTotals(w *model.Wallet, dir model.Direction, c model.Category, amt decimal.Decimal) {
	if dir == model.Credit {
		switch c {
		case model.CategoryDeposit:
			w.TotalDeposited = w.TotalDeposited.Add(amt)
		case model.CategoryTournamentPrize:
			w.TotalWon = w.TotalWon.Add(amt)
		}
		return
	}
	// withdrawals count once their payout completes
	if c != model.CategoryWithdrawal {
		w.TotalSpent = w.TotalSpent.Add(amt)
	}
}

// CompletePendingTx settles a frozen debit. The balance does not change.
func (s *WalletService) CompletePendingTx(ctx context.Context, tx *gorm.DB, entryID string) (*model.LedgerEntry, error) {
	e, err := s.repo.GetLedgerEntryForUpdate(ctx, tx, entryID)
	if err != nil {
		return nil, err
	}
	if e.Status != model.EntryPending {
		return nil, invalidTransition("ledger entry %s is %s", e.ID, e.Status)
	}
	w, err := s.repo.GetWalletForUpdate(ctx, tx, e.WalletID)
	if err != nil {
		return nil, err
	}
	if err := s.repo.UpdateLedgerEntryStatus(ctx, tx, e.ID, model.EntryPending, model.EntryCompleted); err != nil {
		return nil, err
	}
	if e.Category == model.CategoryWithdrawal && e.Direction == model.Debit {
		oldVersion := w.Version
		now := s.now()
		w.TotalWithdrawn = w.TotalWithdrawn.Add(e.Amount)
		w.LastActivityAt = &now
		if err := s.repo.UpdateWallet(ctx, tx, w, oldVersion); err != nil {
			return nil, err
		}
	}
	e.Status = model.EntryCompleted
	s.log.Infow("pending entry completed", "wallet_id", e.WalletID, "entry_id", e.ID)
	return e, nil
}

// ReverseTx posts the compensating entry of a PENDING or COMPLETED entry and
// marks the original REVERSED. It returns the compensating entry.
func (s *WalletService) ReverseTx(ctx context.Context, tx *gorm.DB, entryID, reason string) (*model.LedgerEntry, error) {
	orig, err := s.repo.GetLedgerEntryForUpdate(ctx, tx, entryID)
	if err != nil {
		return nil, err
	}
	if orig.Status != model.EntryPending && orig.Status != model.EntryCompleted {
		return nil, invalidTransition("ledger entry %s is %s", orig.ID, orig.Status)
	}

	category := model.CategoryAdminAdjustment
	meta := model.Metadata{model.MetaReversalOf: orig.ID}
	if orig.Category == model.CategoryWithdrawal {
		category = model.CategoryWithdrawal
		if id, ok := orig.Metadata.Data()[model.MetaWithdrawalID]; ok {
			meta = meta.With(model.MetaWithdrawalID, id)
		}
	}
	if reason != "" {
		meta = meta.With(model.MetaReason, reason)
	}
	comp, err := s.post(ctx, tx, Posting{
		WalletID:       orig.WalletID,
		Amount:         orig.Amount,
		Category:       category,
		Description:    "reversal of " + orig.ID,
		Reference:      orig.Reference,
		IdempotencyKey: "reversal:" + orig.ID,
		Metadata:       meta,
	}, orig.Direction.Opposite(), model.EntryCompleted, true)
	if err != nil {
		return nil, err
	}
	if err := s.repo.UpdateLedgerEntryStatus(ctx, tx, orig.ID, orig.Status, model.EntryReversed); err != nil {
		return nil, err
	}
	s.log.Infow("ledger entry reversed", "wallet_id", orig.WalletID, "entry_id", orig.ID, "compensation_id", comp.ID, "reason", reason)
	return comp, nil
}

// ManualAdjustment lets an admin correct a balance. Every adjustment is a
// new entry; nothing is edited in place.
func (s *WalletService) ManualAdjustment(ctx context.Context, userID string, amount decimal.Decimal, dir model.Direction, reason, adminID string) (*model.LedgerEntry, error) {
	if reason == "" || adminID == "" {
		return nil, invalidInput("adjustment needs a reason and an admin")
	}
	p := Posting{
		UserID:         userID,
		Amount:         amount,
		Category:       model.CategoryAdminAdjustment,
		Description:    reason,
		IdempotencyKey: "adjust:" + uuid.NewString(),
		CreatedBy:      &adminID,
		Metadata:       model.Metadata{model.MetaReason: reason},
	}
	switch dir {
	case model.Credit:
		return s.Credit(ctx, p)
	case model.Debit:
		return s.Debit(ctx, p)
	}
	return nil, invalidInput("unknown direction %q", dir)
}

// EnsureWallet returns the user's wallet, creating it when absent.
func (s *WalletService) EnsureWallet(ctx context.Context, userID string) (*model.Wallet, error) {
	var out *model.Wallet
	err := s.repo.Transaction(ctx, func(tx *gorm.DB) error {
		w, err := s.repo.EnsureWallet(ctx, tx, userID, s.currency)
		out = w
		return err
	})
	return out, err
}

func (s *WalletService) GetWallet(ctx context.Context, userID string) (*model.Wallet, error) {
	return s.repo.GetWalletByUser(ctx, userID)
}

// GetBalance reads the committed balance straight from the wallet row.
func (s *WalletService) GetBalance(ctx context.Context, userID string) (decimal.Decimal, error) {
	w, err := s.repo.GetWalletByUser(ctx, userID)
	if err != nil {
		return decimal.Zero, err
	}
	return w.Balance, nil
}

// GetHistory lists a user's entries in sequence order.
func (s *WalletService) GetHistory(ctx context.Context, userID string, limit int, since time.Time) ([]model.LedgerEntry, error) {
	w, err := s.repo.GetWalletByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.repo.ListLedgerEntries(ctx, w.ID, clampLimit(limit), since)
}

// SetWalletStatus freezes, unfreezes or closes a wallet. CLOSED is terminal
// and only reachable with a zero balance and nothing left open against it.
func (s *WalletService) SetWalletStatus(ctx context.Context, userID string, status model.WalletStatus, adminID string) (*model.Wallet, error) {
	switch status {
	case model.WalletActive, model.WalletFrozen, model.WalletClosed:
	default:
		return nil, invalidInput("unknown wallet status %q", status)
	}
	cur, err := s.repo.GetWalletByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	var out *model.Wallet
	err = s.repo.Transaction(ctx, func(tx *gorm.DB) error {
		w, err := s.repo.GetWalletForUpdate(ctx, tx, cur.ID)
		if err != nil {
			return err
		}
		if w.Status == status {
			out = w
			return nil
		}
		if w.Status == model.WalletClosed {
			return invalidTransition("wallet %s is closed", w.ID)
		}
		if status == model.WalletClosed && !w.Balance.IsZero() {
			return invalidTransition("wallet %s still holds %s", w.ID, w.Balance)
		}
		if status == model.WalletClosed {
			o, err := s.repo.OpenObligations(ctx, tx, w)
			if err != nil {
				return err
			}
			if o.Any() {
				return invalidTransition("wallet %s has %d pending entries, %d open withdrawals and %d active tournament entries",
					w.ID, o.PendingEntries, o.OpenWithdrawals, o.ActiveEntries)
			}
		}
		oldVersion := w.Version
		w.Status = status
		if err := s.repo.UpdateWallet(ctx, tx, w, oldVersion); err != nil {
			return err
		}
		out = w
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Infow("wallet status changed", "wallet_id", out.ID, "status", status, "admin_id", adminID)
	return out, nil
}

// AuditReport is the outcome of recomputing a wallet from its ledger.
type AuditReport struct {
	WalletID      string
	StoredBalance decimal.Decimal
	LedgerBalance decimal.Decimal
	Entries       int
	// Breaks lists the sequence numbers where the chain does not line up.
	Breaks     []int64
	Consistent bool
}

// AuditWallet recomputes the balance from the ledger and walks the
// before/after chain. It reports and never repairs.
func (s *WalletService) AuditWallet(ctx context.Context, walletID string) (*AuditReport, error) {
	w, err := s.repo.GetWallet(ctx, walletID)
	if err != nil {
		return nil, err
	}
	entries, err := s.repo.ListWalletChain(ctx, walletID)
	if err != nil {
		return nil, err
	}
	rep := &AuditReport{WalletID: walletID, StoredBalance: w.Balance, LedgerBalance: decimal.Zero, Entries: len(entries)}
	running := decimal.Zero
	var lastSeq int64
	for _, e := range entries {
		if e.Sequence != lastSeq+1 {
			rep.Breaks = append(rep.Breaks, e.Sequence)
		}
		lastSeq = e.Sequence
		if !e.Status.AffectsBalance() {
			continue
		}
		if !e.BalanceBefore.Equal(running) || !e.BalanceAfter.Equal(e.BalanceBefore.Add(e.SignedAmount())) {
			rep.Breaks = append(rep.Breaks, e.Sequence)
		}
		running = e.BalanceAfter
		rep.LedgerBalance = rep.LedgerBalance.Add(e.SignedAmount())
	}
	rep.Consistent = len(rep.Breaks) == 0 && rep.LedgerBalance.Equal(w.Balance) && lastSeq == w.EntrySeq
	if !rep.Consistent {
		s.log.Errorw("wallet audit failed",
			"wallet_id", walletID, "stored", w.Balance, "ledger", rep.LedgerBalance, "breaks", rep.Breaks)
	}
	return rep, nil
}

// AuditAll audits every wallet page by page and returns the inconsistent ones.
func (s *WalletService) AuditAll(ctx context.Context, pageSize int) ([]AuditReport, error) {
	if pageSize <= 0 {
		pageSize = 200
	}
	var bad []AuditReport
	after := ""
	for {
		ids, err := s.repo.ListWalletIDs(ctx, after, pageSize)
		if err != nil {
			return bad, err
		}
		for _, id := range ids {
			rep, err := s.AuditWallet(ctx, id)
			if err != nil {
				return bad, err
			}
			if !rep.Consistent {
				bad = append(bad, *rep)
			}
		}
		if len(ids) < pageSize {
			return bad, nil
		}
		after = ids[len(ids)-1]
	}
}

func newID() string { return uuid.NewString() }

func clampLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return 100
	}
	return limit
}
