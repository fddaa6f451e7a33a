package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type WalletStatus string

const (
	WalletActive WalletStatus = "ACTIVE"
	WalletFrozen WalletStatus = "FROZEN"
	WalletClosed WalletStatus = "CLOSED"
)

type Wallet struct {
	ID             string          `gorm:"primaryKey;size:36"`
	UserID         string          `gorm:"size:36;not null;uniqueIndex"`
	Balance        decimal.Decimal `gorm:"type:numeric(20,2);not null;default:0"`
	TotalDeposited decimal.Decimal `gorm:"type:numeric(20,2);not null;default:0"`
	TotalWithdrawn decimal.Decimal `gorm:"type:numeric(20,2);not null;default:0"`
	TotalWon       decimal.Decimal `gorm:"type:numeric(20,2);not null;default:0"`
	TotalSpent     decimal.Decimal `gorm:"type:numeric(20,2);not null;default:0"`
	Status         WalletStatus    `gorm:"size:16;not null;default:'ACTIVE'"`
	Currency       string          `gorm:"size:3;not null;default:'PEN'"`
	Version        uint64          `gorm:"not null;default:0"`
	EntrySeq       int64           `gorm:"not null;default:0"`
	LastActivityAt *time.Time
	CreatedAt      time.Time `gorm:"autoCreateTime"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime"`
}

func (Wallet) TableName() string { return "wallets" }

func (w *Wallet) BeforeCreate(tx *gorm.DB) error {
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	return nil
}

// CanCredit reports whether money may flow into the wallet.
func (w *Wallet) CanCredit() bool { return w.Status != WalletClosed }

// CanDebit reports whether money may leave the wallet.
func (w *Wallet) CanDebit() bool { return w.Status == WalletActive }
