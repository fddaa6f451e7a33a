package service

import (
	"context"
	"time"

	"github.com/richardliu001/prediction-tournament/internal/model"
	"github.com/richardliu001/prediction-tournament/internal/repo"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// emitEvent writes an outbox row inside tx, so the event commits or rolls
// back with the change it announces.
func emitEvent(ctx context.Context, r repo.OutboxStore, tx *gorm.DB, aggregate, id, eventType string, payload interface{}) error {
	evt, err := repo.NewEvent(aggregate, id, eventType, payload)
	if err != nil {
		return err
	}
	return r.CreateOutboxEvent(ctx, tx, evt)
}

// Outbox payloads. Consumers read them as JSON from the event feed.

type ledgerEntryPayload struct {
	WalletID     string            `json:"wallet_id"`
	EntryID      string            `json:"entry_id"`
	Sequence     int64             `json:"sequence"`
	Direction    model.Direction   `json:"direction"`
	Category     model.Category    `json:"category"`
	Amount       decimal.Decimal   `json:"amount"`
	BalanceAfter decimal.Decimal   `json:"balance_after"`
	Status       model.EntryStatus `json:"status"`
}

func ledgerEvent(e *model.LedgerEntry) ledgerEntryPayload {
	return ledgerEntryPayload{
		WalletID:     e.WalletID,
		EntryID:      e.ID,
		Sequence:     e.Sequence,
		Direction:    e.Direction,
		Category:     e.Category,
		Amount:       e.Amount,
		BalanceAfter: e.BalanceAfter,
		Status:       e.Status,
	}
}

type fundingPayload struct {
	RequestID     string          `json:"request_id"`
	UserID        string          `json:"user_id"`
	WalletID      string          `json:"wallet_id"`
	Amount        decimal.Decimal `json:"amount"`
	LedgerEntryID string          `json:"ledger_entry_id"`
	ProcessedBy   string          `json:"processed_by,omitempty"`
	At            time.Time       `json:"at"`
}

type prizePayload struct {
	TournamentID string          `json:"tournament_id"`
	EntryID      string          `json:"entry_id"`
	UserID       string          `json:"user_id"`
	FinalRank    int             `json:"final_rank"`
	Amount       decimal.Decimal `json:"amount"`
}

type tournamentPayload struct {
	TournamentID string                 `json:"tournament_id"`
	Status       model.TournamentStatus `json:"status"`
	Participants int                    `json:"participants"`
	PrizePool    decimal.Decimal        `json:"prize_pool"`
	Reason       string                 `json:"reason,omitempty"`
	At           time.Time              `json:"at"`
}

type refundPayload struct {
	TournamentID string          `json:"tournament_id"`
	EntryID      string          `json:"entry_id"`
	UserID       string          `json:"user_id"`
	Amount       decimal.Decimal `json:"amount"`
}
