package model

import "time"

const (
	EventLedgerEntryPosted   = "LedgerEntryPosted"
	EventDepositApproved     = "DepositApproved"
	EventWithdrawalCompleted = "WithdrawalCompleted"
	EventPrizeAwarded        = "PrizeAwarded"
	EventTournamentFinished  = "TournamentFinished"
	EventTournamentCancelled = "TournamentCancelled"
	EventRefundIssued        = "RefundIssued"
)

type OutboxEvent struct {
	ID          uint64    `gorm:"primaryKey"`
	Aggregate   string    `gorm:"size:64;not null"`
	AggregateID string    `gorm:"size:36;not null"`
	EventType   string    `gorm:"size:64;not null"`
	Payload     string    `gorm:"type:text;not null"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
	Processed   bool      `gorm:"not null;default:false;index"`
	ProcessedAt *time.Time
}

func (OutboxEvent) TableName() string { return "event_outbox" }
