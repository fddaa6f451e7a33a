package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type TournamentType string

const (
	TournamentDaily    TournamentType = "DAILY"
	TournamentWeekly   TournamentType = "WEEKLY"
	TournamentSpecial  TournamentType = "SPECIAL"
	TournamentFreeroll TournamentType = "FREEROLL"
)

type TournamentStatus string

const (
	TournamentUpcoming     TournamentStatus = "UPCOMING"
	TournamentRegistration TournamentStatus = "REGISTRATION"
	TournamentActive       TournamentStatus = "ACTIVE"
	TournamentFinished     TournamentStatus = "FINISHED"
	TournamentCancelled    TournamentStatus = "CANCELLED"
)

var tournamentTransitions = map[TournamentStatus][]TournamentStatus{
	TournamentUpcoming:     {TournamentRegistration, TournamentCancelled},
	TournamentRegistration: {TournamentActive, TournamentCancelled},
	TournamentActive:       {TournamentFinished, TournamentCancelled},
}

// CanTransition reports whether the tournament state machine allows from -> to.
func CanTransition(from, to TournamentStatus) bool {
	for _, s := range tournamentTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s TournamentStatus) Terminal() bool {
	return s == TournamentFinished || s == TournamentCancelled
}

// PayoutTier awards Percentage of the prize pool to the entry finishing at Rank.
type PayoutTier struct {
	Rank       int             `json:"rank"`
	Percentage decimal.Decimal `json:"percentage"`
}

type PayoutStructure []PayoutTier

// BonusTier maps a threshold to a multiplier. How the threshold is compared
// depends on the bonus it belongs to.
type BonusTier struct {
	Threshold  decimal.Decimal `json:"threshold"`
	Multiplier decimal.Decimal `json:"multiplier"`
}

// ScoringRules overrides the default bonus thresholds. Empty tier lists fall
// back to the defaults.
type ScoringRules struct {
	StreakTiers      []BonusTier `json:"streak_tiers,omitempty"`
	PerfectPickTiers []BonusTier `json:"perfect_pick_tiers,omitempty"`
	ROITiers         []BonusTier `json:"roi_tiers,omitempty"`
}

type Tournament struct {
	ID                   string           `gorm:"primaryKey;size:36"`
	Name                 string           `gorm:"size:128;not null"`
	Type                 TournamentType   `gorm:"size:16;not null"`
	BuyIn                decimal.Decimal  `gorm:"type:numeric(20,2);not null;default:0"`
	MaxPlayers           int              `gorm:"not null"`
	CurrentPlayers       int              `gorm:"not null;default:0"`
	PrizePool            decimal.Decimal  `gorm:"type:numeric(20,2);not null;default:0"`
	Status               TournamentStatus `gorm:"size:16;not null;index"`
	RegistrationOpensAt  *time.Time
	RegistrationDeadline time.Time `gorm:"not null"`
	StartTime            time.Time `gorm:"not null"`
	EndTime              time.Time `gorm:"not null;index"`
	RequiredPredictions  int       `gorm:"not null"`
	PayoutStructure      datatypes.JSONType[PayoutStructure]
	ScoringRules         datatypes.JSONType[ScoringRules]
	CancelReason         string `gorm:"size:255"`
	FinishedAt           *time.Time
	CreatedAt            time.Time `gorm:"autoCreateTime"`
	UpdatedAt            time.Time `gorm:"autoUpdateTime"`
}

func (Tournament) TableName() string { return "tournaments" }

func (t *Tournament) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return nil
}

// Paid reports whether joining costs money.
func (t *Tournament) Paid() bool { return t.BuyIn.IsPositive() }

type EntryState string

const (
	EntryActive     EntryState = "ACTIVE"
	EntryEliminated EntryState = "ELIMINATED"
	EntryFinished   EntryState = "FINISHED"
	EntryRefunded   EntryState = "REFUNDED"
)

type TournamentEntry struct {
	ID                   string          `gorm:"primaryKey;size:36"`
	UserID               string          `gorm:"size:36;not null;uniqueIndex:idx_entry_user_tournament,priority:1"`
	TournamentID         string          `gorm:"size:36;not null;uniqueIndex:idx_entry_user_tournament,priority:2;index"`
	BuyInPaid            decimal.Decimal `gorm:"type:numeric(20,2);not null;default:0"`
	LedgerEntryID        *string         `gorm:"size:36"`
	RefundEntryID        *string         `gorm:"size:36"`
	CurrentRank          *int
	FinalRank            *int
	TotalScore           decimal.Decimal `gorm:"type:numeric(12,2);not null;default:0"`
	PredictionsSubmitted int             `gorm:"not null;default:0"`
	CorrectPredictions   int             `gorm:"not null;default:0"`
	ROI                  decimal.Decimal `gorm:"column:roi;type:numeric(12,2);not null;default:0"`
	StreakCount          int             `gorm:"not null;default:0"`
	BonusPoints          decimal.Decimal `gorm:"type:numeric(12,2);not null;default:0"`
	PrizeWon             decimal.Decimal `gorm:"type:numeric(20,2);not null;default:0"`
	Status               EntryState      `gorm:"size:16;not null;index"`
	EntryTime            time.Time       `gorm:"not null"`
	LastRefundError      string          `gorm:"size:255"`
	CreatedAt            time.Time       `gorm:"autoCreateTime"`
	UpdatedAt            time.Time       `gorm:"autoUpdateTime"`
}

func (TournamentEntry) TableName() string { return "tournament_entries" }

func (e *TournamentEntry) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	return nil
}

type PredictionResult string

const (
	ResultPending PredictionResult = "PENDING"
	ResultWon     PredictionResult = "WON"
	ResultLost    PredictionResult = "LOST"
	ResultVoid    PredictionResult = "VOID"
)

// Settled reports whether the result has been decided.
func (r PredictionResult) Settled() bool { return r != ResultPending && r != "" }

type PredictionType string

const (
	PredictionMatchWinner    PredictionType = "MATCH_WINNER"
	PredictionDoubleChance   PredictionType = "DOUBLE_CHANCE"
	PredictionOverUnder      PredictionType = "OVER_UNDER"
	PredictionBothTeamsScore PredictionType = "BOTH_TEAMS_SCORE"
	PredictionHandicap       PredictionType = "HANDICAP"
	PredictionCorrectScore   PredictionType = "CORRECT_SCORE"
	PredictionCombined       PredictionType = "COMBINED"
)

// MatchSnapshot is a value copy of the pick taken at submission time.
type MatchSnapshot struct {
	EventID   string         `json:"event_id"`
	HomeTeam  string         `json:"home_team"`
	AwayTeam  string         `json:"away_team"`
	League    string         `json:"league,omitempty"`
	KickoffAt time.Time      `json:"kickoff_at"`
	Market    PredictionType `json:"market"`
	Selection string         `json:"selection"`
	Legs      int            `json:"legs,omitempty"`
}

type TournamentPrediction struct {
	ID                 string           `gorm:"primaryKey;size:36"`
	EntryID            string           `gorm:"size:36;not null;index"`
	TournamentID       string           `gorm:"size:36;not null;uniqueIndex:idx_prediction_seq,priority:1"`
	UserID             string           `gorm:"size:36;not null;uniqueIndex:idx_prediction_seq,priority:2"`
	SequenceNumber     int              `gorm:"not null;uniqueIndex:idx_prediction_seq,priority:3"`
	SourcePredictionID string           `gorm:"size:64"`
	PredictionType     PredictionType   `gorm:"size:32;not null"`
	SelectedOdds       decimal.Decimal  `gorm:"type:numeric(10,2);not null"`
	SettledOdds        decimal.Decimal  `gorm:"type:numeric(10,2);not null;default:0"`
	Confidence         int              `gorm:"not null"`
	Result             PredictionResult `gorm:"size:8;not null;default:'PENDING'"`
	Points             decimal.Decimal  `gorm:"type:numeric(12,2);not null;default:0"`
	BonusMultiplier    decimal.Decimal  `gorm:"type:numeric(10,6);not null;default:1"`
	FinalPoints        decimal.Decimal  `gorm:"type:numeric(12,2);not null;default:0"`
	IsCorrect          bool             `gorm:"not null;default:false"`
	ROIContribution    decimal.Decimal  `gorm:"column:roi_contribution;type:numeric(12,2);not null;default:0"`
	Snapshot           datatypes.JSONType[MatchSnapshot]
	SettledAt          *time.Time
	CreatedAt          time.Time `gorm:"autoCreateTime"`
	UpdatedAt          time.Time `gorm:"autoUpdateTime"`
}

func (TournamentPrediction) TableName() string { return "tournament_predictions" }

func (p *TournamentPrediction) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}

// EffectiveOdds are the odds the pick was scored at.
func (p *TournamentPrediction) EffectiveOdds() decimal.Decimal {
	if p.SettledOdds.IsPositive() {
		return p.SettledOdds
	}
	return p.SelectedOdds
}
