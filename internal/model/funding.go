package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type PaymentMethod string

const (
	MethodYape         PaymentMethod = "YAPE"
	MethodPlin         PaymentMethod = "PLIN"
	MethodBankTransfer PaymentMethod = "BANK_TRANSFER"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodYape, MethodPlin, MethodBankTransfer:
		return true
	}
	return false
}

type DepositStatus string

const (
	DepositPending  DepositStatus = "PENDING"
	DepositApproved DepositStatus = "APPROVED"
	DepositRejected DepositStatus = "REJECTED"
	DepositExpired  DepositStatus = "EXPIRED"
)

type DepositRequest struct {
	ID              string          `gorm:"primaryKey;size:36"`
	UserID          string          `gorm:"size:36;not null;index:idx_deposit_user_status,priority:1"`
	WalletID        string          `gorm:"size:36;not null"`
	Amount          decimal.Decimal `gorm:"type:numeric(20,2);not null"`
	Method          PaymentMethod   `gorm:"size:32;not null"`
	Status          DepositStatus   `gorm:"size:16;not null;index:idx_deposit_user_status,priority:2"`
	ProofReference  string          `gorm:"size:255"`
	LedgerEntryID   *string         `gorm:"size:36"`
	ProcessedBy     *string         `gorm:"size:36"`
	ProcessedAt     *time.Time
	RejectionReason string    `gorm:"size:255"`
	ExpiresAt       time.Time `gorm:"not null;index"`
	CreatedAt       time.Time `gorm:"autoCreateTime"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime"`
}

func (DepositRequest) TableName() string { return "deposit_requests" }

func (d *DepositRequest) BeforeCreate(tx *gorm.DB) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	return nil
}

// Expired reports whether a pending request has outlived its window.
func (d *DepositRequest) Expired(now time.Time) bool {
	return !now.Before(d.ExpiresAt)
}

type WithdrawalStatus string

const (
	WithdrawalPending    WithdrawalStatus = "PENDING"
	WithdrawalProcessing WithdrawalStatus = "PROCESSING"
	WithdrawalCompleted  WithdrawalStatus = "COMPLETED"
	WithdrawalRejected   WithdrawalStatus = "REJECTED"
	WithdrawalCancelled  WithdrawalStatus = "CANCELLED"
)

// Open reports whether funds are still frozen for the request.
func (s WithdrawalStatus) Open() bool {
	return s == WithdrawalPending || s == WithdrawalProcessing
}

type WithdrawalRequest struct {
	ID                    string           `gorm:"primaryKey;size:36"`
	UserID                string           `gorm:"size:36;not null;index:idx_withdrawal_user_status,priority:1"`
	WalletID              string           `gorm:"size:36;not null"`
	Amount                decimal.Decimal  `gorm:"type:numeric(20,2);not null"`
	Method                PaymentMethod    `gorm:"size:32;not null"`
	Destination           string           `gorm:"size:255;not null"`
	Status                WithdrawalStatus `gorm:"size:16;not null;index:idx_withdrawal_user_status,priority:2"`
	LedgerEntryID         string           `gorm:"size:36;not null"`
	ExternalTransactionID *string          `gorm:"size:128"`
	ProcessedBy           *string          `gorm:"size:36"`
	ProcessedAt           *time.Time
	CompletedAt           *time.Time
	CancelReason          string    `gorm:"size:255"`
	CreatedAt             time.Time `gorm:"autoCreateTime"`
	UpdatedAt             time.Time `gorm:"autoUpdateTime"`
}

func (WithdrawalRequest) TableName() string { return "withdrawal_requests" }

func (w *WithdrawalRequest) BeforeCreate(tx *gorm.DB) error {
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	return nil
}
