package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Direction string

const (
	Debit  Direction = "DEBIT"
	Credit Direction = "CREDIT"
)

// Opposite returns the direction that compensates d.
func (d Direction) Opposite() Direction {
	if d == Debit {
		return Credit
	}
	return Debit
}

type Category string

const (
	CategoryDeposit          Category = "DEPOSIT"
	CategoryWithdrawal       Category = "WITHDRAWAL"
	CategoryTournamentEntry  Category = "TOURNAMENT_ENTRY"
	CategoryTournamentPrize  Category = "TOURNAMENT_PRIZE"
	CategoryTournamentRefund Category = "TOURNAMENT_REFUND"
	CategoryBonus            Category = "BONUS"
	CategoryFee              Category = "FEE"
	CategoryAdminAdjustment  Category = "ADMIN_ADJUSTMENT"
)

func (c Category) Valid() bool {
	_, ok := recognizedKeys[c]
	return ok
}

type EntryStatus string

const (
	EntryPending   EntryStatus = "PENDING"
	EntryCompleted EntryStatus = "COMPLETED"
	EntryFailed    EntryStatus = "FAILED"
	EntryCancelled EntryStatus = "CANCELLED"
	EntryReversed  EntryStatus = "REVERSED"
)

// AffectsBalance reports whether an entry in this status has been applied to
// the wallet balance. A reversed entry stays applied; its compensating entry
// carries the opposite sign.
func (s EntryStatus) AffectsBalance() bool {
	return s == EntryCompleted || s == EntryPending || s == EntryReversed
}

type LedgerEntry struct {
	ID            string          `gorm:"primaryKey;size:36"`
	WalletID      string          `gorm:"size:36;not null;uniqueIndex:idx_ledger_wallet_seq,priority:1;index:idx_ledger_wallet_created,priority:1"`
	Sequence      int64           `gorm:"not null;uniqueIndex:idx_ledger_wallet_seq,priority:2"`
	Direction     Direction       `gorm:"size:8;not null"`
	Category      Category        `gorm:"size:32;not null;index"`
	Amount        decimal.Decimal `gorm:"type:numeric(20,2);not null"`
	BalanceBefore decimal.Decimal `gorm:"type:numeric(20,2);not null"`
	BalanceAfter  decimal.Decimal `gorm:"type:numeric(20,2);not null"`
	Status        EntryStatus     `gorm:"size:16;not null;index"`
	Description   string          `gorm:"size:255"`
	Reference     string          `gorm:"size:64;index"`
	ExternalKey   string          `gorm:"size:128;not null;uniqueIndex"`
	CreatedBy     *string         `gorm:"size:36"`
	Metadata      datatypes.JSONType[Metadata]
	CreatedAt     time.Time `gorm:"autoCreateTime;index:idx_ledger_wallet_created,priority:2"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime"`
}

func (LedgerEntry) TableName() string { return "ledger_entries" }

func (e *LedgerEntry) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	return nil
}

// SignedAmount is the amount with the sign it contributes to the balance.
func (e *LedgerEntry) SignedAmount() decimal.Decimal {
	if e.Direction == Debit {
		return e.Amount.Neg()
	}
	return e.Amount
}
