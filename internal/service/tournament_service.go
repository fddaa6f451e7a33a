package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/richardliu001/prediction-tournament/internal/metrics"
	"github.com/richardliu001/prediction-tournament/internal/model"
	"github.com/richardliu001/prediction-tournament/internal/repo"
	"github.com/richardliu001/prediction-tournament/internal/scoring"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Ledger is the part of the WalletService the settlement engine needs.
type Ledger interface {
	CreditTx(ctx context.Context, tx *gorm.DB, p Posting) (*model.LedgerEntry, error)
	DebitTx(ctx context.Context, tx *gorm.DB, p Posting) (*model.LedgerEntry, error)
}

// TournamentSettings are the economic knobs of the settlement engine.
type TournamentSettings struct {
	CommissionRate     decimal.Decimal
	IntegrityTolerance decimal.Decimal
}

func DefaultTournamentSettings() TournamentSettings {
	return TournamentSettings{
		CommissionRate:     decimal.RequireFromString("0.10"),
		IntegrityTolerance: decimal.RequireFromString("0.01"),
	}
}

// TournamentService owns tournaments, entries and predictions. Money only
// moves through the Ledger.
type TournamentService struct {
	repo     repo.RepositoryInterface
	ledger   Ledger
	settings TournamentSettings
	metrics  *metrics.Metrics
	log      *zap.SugaredLogger
	now      func() time.Time
}

func NewTournamentService(r repo.RepositoryInterface, l Ledger, settings TournamentSettings, m *metrics.Metrics, logger *zap.SugaredLogger) *TournamentService {
	return &TournamentService{repo: r, ledger: l, settings: settings, metrics: m, log: logger, now: time.Now}
}

// WithClock replaces the wall clock, for tests.
func (s *TournamentService) WithClock(now func() time.Time) *TournamentService {
	s.now = now
	return s
}

// poolFor is the prize pool owed for a total of buy-ins. The pool is always
// rounded from the total so per-entry rounding never accumulates.
func (s *TournamentService) poolFor(buyIns decimal.Decimal) decimal.Decimal {
	return buyIns.Mul(decimal.NewFromInt(1).Sub(s.settings.CommissionRate)).Round(2)
}

// NewTournament is the input of CreateTournament.
type NewTournament struct {
	Name                 string
	Type                 model.TournamentType
	BuyIn                decimal.Decimal
	MaxPlayers           int
	RegistrationOpensAt  *time.Time
	RegistrationDeadline time.Time
	StartTime            time.Time
	EndTime              time.Time
	RequiredPredictions  int
	Payouts              model.PayoutStructure
	Rules                model.ScoringRules
}

func (n NewTournament) validate() error {
	switch n.Type {
	case model.TournamentDaily, model.TournamentWeekly, model.TournamentSpecial, model.TournamentFreeroll:
	default:
		return invalidInput("unknown tournament type %q", n.Type)
	}
	if n.Name == "" {
		return invalidInput("tournament needs a name")
	}
	if n.BuyIn.IsNegative() || !n.BuyIn.Equal(n.BuyIn.Round(2)) {
		return fmt.Errorf("%w: buy-in %s", ErrInvalidAmount, n.BuyIn)
	}
	if n.Type == model.TournamentFreeroll && !n.BuyIn.IsZero() {
		return invalidInput("freeroll with buy-in %s", n.BuyIn)
	}
	if n.MaxPlayers <= 0 || n.RequiredPredictions <= 0 {
		return invalidInput("max players and required predictions must be positive")
	}
	if n.RegistrationDeadline.After(n.StartTime) || !n.StartTime.Before(n.EndTime) {
		return invalidInput("need registration deadline <= start < end")
	}
	if n.RegistrationOpensAt != nil && n.RegistrationOpensAt.After(n.RegistrationDeadline) {
		return invalidInput("registration opens after its deadline")
	}
	seen := map[int]bool{}
	total := decimal.Zero
	for _, tier := range n.Payouts {
		if tier.Rank < 1 || seen[tier.Rank] {
			return invalidInput("payout rank %d is invalid or repeated", tier.Rank)
		}
		if !tier.Percentage.IsPositive() {
			return invalidInput("payout for rank %d must be positive", tier.Rank)
		}
		seen[tier.Rank] = true
		total = total.Add(tier.Percentage)
	}
	if total.GreaterThan(decimal.NewFromInt(100)) {
		return invalidInput("payouts sum to %s%%", total)
	}
	return nil
}

// CreateTournament stores a new UPCOMING tournament.
func (s *TournamentService) CreateTournament(ctx context.Context, n NewTournament) (*model.Tournament, error) {
	if err := n.validate(); err != nil {
		return nil, err
	}
	t := &model.Tournament{
		Name:                 n.Name,
		Type:                 n.Type,
		BuyIn:                n.BuyIn,
		MaxPlayers:           n.MaxPlayers,
		PrizePool:            decimal.Zero,
		Status:               model.TournamentUpcoming,
		RegistrationOpensAt:  n.RegistrationOpensAt,
		RegistrationDeadline: n.RegistrationDeadline,
		StartTime:            n.StartTime,
		EndTime:              n.EndTime,
		RequiredPredictions:  n.RequiredPredictions,
		PayoutStructure:      datatypes.NewJSONType(n.Payouts),
		ScoringRules:         datatypes.NewJSONType(n.Rules),
	}
	err := s.repo.Transaction(ctx, func(tx *gorm.DB) error {
		return s.repo.CreateTournament(ctx, tx, t)
	})
	if err != nil {
		return nil, err
	}
	s.log.Infow("tournament created", "tournament_id", t.ID, "name", t.Name, "buy_in", t.BuyIn)
	return t, nil
}

// Transition is one applied state change.
type Transition struct {
	TournamentID string
	From         model.TournamentStatus
	To           model.TournamentStatus
}

func nextStatus(t *model.Tournament, now time.Time) (model.TournamentStatus, bool) {
	switch t.Status {
	case model.TournamentUpcoming:
		if t.RegistrationOpensAt == nil || !now.Before(*t.RegistrationOpensAt) {
			return model.TournamentRegistration, true
		}
	case model.TournamentRegistration:
		if !now.Before(t.StartTime) {
			return model.TournamentActive, true
		}
	}
	return "", false
}

// AdvanceStates moves UPCOMING and REGISTRATION tournaments forward by the
// clock. Finalization is separate; see DueForFinalization.
func (s *TournamentService) AdvanceStates(ctx context.Context, now time.Time) ([]Transition, error) {
	ts, err := s.repo.ListTournaments(ctx, []model.TournamentStatus{model.TournamentUpcoming, model.TournamentRegistration})
	if err != nil {
		return nil, err
	}
	var applied []Transition
	for _, cand := range ts {
		if _, ok := nextStatus(&cand, now); !ok {
			continue
		}
		err := s.repo.Transaction(ctx, func(tx *gorm.DB) error {
			t, err := s.repo.GetTournamentForUpdate(ctx, tx, cand.ID)
			if err != nil {
				return err
			}
			for {
				to, ok := nextStatus(t, now)
				if !ok || !model.CanTransition(t.Status, to) {
					return nil
				}
				if err := s.repo.UpdateTournament(ctx, tx, t.ID, map[string]interface{}{"status": to}); err != nil {
					return err
				}
				applied = append(applied, Transition{TournamentID: t.ID, From: t.Status, To: to})
				t.Status = to
			}
		})
		if err != nil {
			return applied, err
		}
	}
	for _, tr := range applied {
		s.log.Infow("tournament state advanced", "tournament_id", tr.TournamentID, "from", tr.From, "to", tr.To)
	}
	return applied, nil
}

// JoinTournament registers the user and charges the buy-in in the same
// transaction.
func (s *TournamentService) JoinTournament(ctx context.Context, userID, tournamentID string) (*model.TournamentEntry, error) {
	if userID == "" {
		return nil, invalidInput("missing user")
	}
	var out *model.TournamentEntry
	err := s.repo.Transaction(ctx, func(tx *gorm.DB) error {
		t, err := s.repo.GetTournamentForUpdate(ctx, tx, tournamentID)
		if err != nil {
			return err
		}
		now := s.now()
		if t.Status != model.TournamentRegistration {
			return invalidTransition("tournament %s is %s", t.ID, t.Status)
		}
		if now.After(t.RegistrationDeadline) {
			return invalidTransition("registration for %s closed at %s", t.ID, t.RegistrationDeadline.Format(time.RFC3339))
		}
		if t.CurrentPlayers >= t.MaxPlayers {
			return fmt.Errorf("tournament %s has %d/%d players: %w", t.ID, t.CurrentPlayers, t.MaxPlayers, ErrCapacityExceeded)
		}
		existing, err := s.repo.FindEntry(ctx, tx, t.ID, userID)
		if err != nil {
			return err
		}
		if existing != nil {
			return ErrAlreadyEntered
		}

		entry := &model.TournamentEntry{
			ID:           newID(),
			UserID:       userID,
			TournamentID: t.ID,
			BuyInPaid:    decimal.Zero,
			TotalScore:   decimal.Zero,
			ROI:          decimal.Zero,
			BonusPoints:  decimal.Zero,
			PrizeWon:     decimal.Zero,
			Status:       model.EntryActive,
			EntryTime:    now,
		}
		updates := map[string]interface{}{"current_players": t.CurrentPlayers + 1}
		if t.Paid() {
			e, err := s.ledger.DebitTx(ctx, tx, Posting{
				UserID:         userID,
				Amount:         t.BuyIn,
				Category:       model.CategoryTournamentEntry,
				Description:    "buy-in " + t.Name,
				Reference:      entry.ID,
				IdempotencyKey: "entry:" + t.ID + ":" + userID,
				Metadata:       model.Metadata{model.MetaTournamentID: t.ID},
			})
			if err != nil {
				return err
			}
			paid, err := s.repo.SumBuyIns(ctx, tx, t.ID)
			if err != nil {
				return err
			}
			entry.BuyInPaid = t.BuyIn
			entry.LedgerEntryID = &e.ID
			updates["prize_pool"] = s.poolFor(paid.Add(t.BuyIn))
		}
		if err := s.repo.CreateEntry(ctx, tx, entry); err != nil {
			if repo.IsUniqueViolation(err) {
				return ErrAlreadyEntered
			}
			return err
		}
		if err := s.repo.UpdateTournament(ctx, tx, t.ID, updates); err != nil {
			return err
		}
		out = entry
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Infow("tournament joined", "tournament_id", tournamentID, "user_id", userID, "entry_id", out.ID, "buy_in", out.BuyInPaid)
	return out, nil
}

// PredictionInput is a pick as submitted by the user.
type PredictionInput struct {
	SourcePredictionID string
	Type               model.PredictionType
	Odds               decimal.Decimal
	Confidence         int
	Match              model.MatchSnapshot
}

func validPredictionType(t model.PredictionType) bool {
	switch t {
	case model.PredictionMatchWinner, model.PredictionDoubleChance, model.PredictionOverUnder,
		model.PredictionBothTeamsScore, model.PredictionHandicap, model.PredictionCorrectScore, model.PredictionCombined:
		return true
	}
	return false
}

// SubmitPrediction stores a pick for an active entry. The match is stored as
// a value snapshot.
func (s *TournamentService) SubmitPrediction(ctx context.Context, userID, entryID string, sequence int, in PredictionInput) (*model.TournamentPrediction, error) {
	if !validPredictionType(in.Type) {
		return nil, invalidInput("unknown prediction type %q", in.Type)
	}
	if !in.Odds.GreaterThan(decimal.NewFromInt(1)) || !in.Odds.Equal(in.Odds.Round(2)) {
		return nil, invalidInput("odds %s must be above 1.00", in.Odds)
	}
	if in.Confidence < 1 || in.Confidence > 100 {
		return nil, invalidInput("confidence %d outside 1..100", in.Confidence)
	}
	var out *model.TournamentPrediction
	err := s.repo.Transaction(ctx, func(tx *gorm.DB) error {
		e, err := s.repo.GetEntryForUpdate(ctx, tx, entryID)
		if err != nil {
			return err
		}
		if e.UserID != userID {
			return fmt.Errorf("entry %s of user %s: %w", entryID, userID, ErrNotFound)
		}
		if e.Status != model.EntryActive {
			return invalidTransition("entry %s is %s", e.ID, e.Status)
		}
		t, err := s.repo.ReadTournament(ctx, tx, e.TournamentID)
		if err != nil {
			return err
		}
		now := s.now()
		if t.Status != model.TournamentActive || !now.Before(t.EndTime) {
			return invalidTransition("tournament %s is not accepting predictions", t.ID)
		}
		if sequence < 1 || sequence > t.RequiredPredictions {
			return invalidInput("sequence %d outside 1..%d", sequence, t.RequiredPredictions)
		}
		if !in.Match.KickoffAt.IsZero() && !now.Before(in.Match.KickoffAt) {
			return invalidInput("event %s already kicked off", in.Match.EventID)
		}
		preds, err := s.repo.ListPredictions(ctx, tx, e.ID)
		if err != nil {
			return err
		}
		for _, p := range preds {
			if p.SequenceNumber == sequence {
				return fmt.Errorf("sequence %d already used: %w", sequence, ErrDuplicateRequest)
			}
		}
		snap := in.Match
		snap.Market = in.Type
		p := &model.TournamentPrediction{
			EntryID:            e.ID,
			TournamentID:       t.ID,
			UserID:             userID,
			SequenceNumber:     sequence,
			SourcePredictionID: in.SourcePredictionID,
			PredictionType:     in.Type,
			SelectedOdds:       in.Odds,
			SettledOdds:        decimal.Zero,
			Confidence:         in.Confidence,
			Result:             model.ResultPending,
			Points:             decimal.Zero,
			BonusMultiplier:    decimal.NewFromInt(1),
			FinalPoints:        decimal.Zero,
			ROIContribution:    decimal.Zero,
			Snapshot:           datatypes.NewJSONType(snap),
		}
		if err := s.repo.CreatePrediction(ctx, tx, p); err != nil {
			if repo.IsUniqueViolation(err) {
				return fmt.Errorf("sequence %d already used: %w", sequence, ErrDuplicateRequest)
			}
			return err
		}
		if err := s.repo.UpdateEntry(ctx, tx, e.ID, map[string]interface{}{
			"predictions_submitted": len(preds) + 1,
		}); err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Infow("prediction submitted", "entry_id", entryID, "seq", sequence, "type", in.Type, "odds", in.Odds)
	return out, nil
}

// RecordResult settles one pick and recomputes the entry aggregates, all
// under the entry row lock.
func (s *TournamentService) RecordResult(ctx context.Context, predictionID string, result model.PredictionResult, actualOdds *decimal.Decimal) (*model.TournamentPrediction, error) {
	if !result.Settled() || (result != model.ResultWon && result != model.ResultLost && result != model.ResultVoid) {
		return nil, invalidInput("result %q is not a settlement", result)
	}
	var out *model.TournamentPrediction
	err := s.repo.Transaction(ctx, func(tx *gorm.DB) error {
		ref, err := s.repo.GetPrediction(ctx, tx, predictionID)
		if err != nil {
			return err
		}
		e, err := s.repo.GetEntryForUpdate(ctx, tx, ref.EntryID)
		if err != nil {
			return err
		}
		p, err := s.repo.GetPredictionForUpdate(ctx, tx, predictionID)
		if err != nil {
			return err
		}
		if p.Result.Settled() {
			return invalidTransition("prediction %s already %s", p.ID, p.Result)
		}
		if e.Status != model.EntryActive {
			return invalidTransition("entry %s is %s", e.ID, e.Status)
		}
		t, err := s.repo.ReadTournament(ctx, tx, e.TournamentID)
		if err != nil {
			return err
		}
		if t.Status != model.TournamentActive {
			return invalidTransition("tournament %s is %s", t.ID, t.Status)
		}
		preds, err := s.repo.ListPredictions(ctx, tx, e.ID)
		if err != nil {
			return err
		}
		prior := scoring.PriorPicks(preds, p.SequenceNumber)
		o, err := scoring.SettleOne(*p, result, actualOdds, prior, e.ROI, t.ScoringRules.Data())
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		now := s.now()
		if err := s.repo.UpdatePrediction(ctx, tx, p.ID, map[string]interface{}{
			"result":           o.Result,
			"settled_odds":     o.Odds,
			"points":           o.Points,
			"bonus_multiplier": o.BonusMultiplier,
			"final_points":     o.FinalPoints,
			"is_correct":       o.IsCorrect,
			"roi_contribution": o.ROIContribution,
			"settled_at":       now,
		}); err != nil {
			return err
		}
		p.Result, p.SettledOdds, p.Points, p.BonusMultiplier = o.Result, o.Odds, o.Points, o.BonusMultiplier
		p.FinalPoints, p.IsCorrect, p.ROIContribution, p.SettledAt = o.FinalPoints, o.IsCorrect, o.ROIContribution, &now
		for i := range preds {
			if preds[i].ID == p.ID {
				preds[i] = *p
			}
		}
		totals := scoring.Aggregate(preds)
		if err := s.repo.UpdateEntry(ctx, tx, e.ID, map[string]interface{}{
			"total_score":           totals.TotalScore,
			"predictions_submitted": totals.PredictionsSubmitted,
			"correct_predictions":   totals.CorrectPredictions,
			"bonus_points":          totals.BonusPoints,
			"streak_count":          totals.StreakCount,
			"roi":                   totals.ROI,
		}); err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Infow("prediction settled", "prediction_id", predictionID, "result", result, "final_points", out.FinalPoints)
	return out, nil
}

func leaderboardRows(ranked []model.TournamentEntry) []repo.LeaderboardRow {
	rows := make([]repo.LeaderboardRow, len(ranked))
	for i, e := range ranked {
		rows[i] = repo.LeaderboardRow{
			Rank:               i + 1,
			EntryID:            e.ID,
			UserID:             e.UserID,
			TotalScore:         e.TotalScore,
			ROI:                e.ROI,
			CorrectPredictions: e.CorrectPredictions,
		}
	}
	return rows
}

// UpdateRankings re-ranks the ACTIVE entries, persists changed ranks and
// publishes a leaderboard snapshot after commit.
func (s *TournamentService) UpdateRankings(ctx context.Context, tournamentID string) ([]repo.LeaderboardRow, error) {
	var rows []repo.LeaderboardRow
	err := s.repo.Transaction(ctx, func(tx *gorm.DB) error {
		t, err := s.repo.ReadTournament(ctx, tx, tournamentID)
		if err != nil {
			return err
		}
		if t.Status != model.TournamentActive {
			return invalidTransition("tournament %s is %s", t.ID, t.Status)
		}
		entries, err := s.repo.ListEntries(ctx, tx, t.ID, model.EntryActive)
		if err != nil {
			return err
		}
		ranked := scoring.Rank(entries)
		for i, e := range ranked {
			rank := i + 1
			if e.CurrentRank != nil && *e.CurrentRank == rank {
				continue
			}
			if err := s.repo.UpdateEntry(ctx, tx, e.ID, map[string]interface{}{"current_rank": rank}); err != nil {
				return err
			}
		}
		rows = leaderboardRows(ranked)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publishLeaderboard(ctx, tournamentID, rows)
	return rows, nil
}

func (s *TournamentService) publishLeaderboard(ctx context.Context, tournamentID string, rows []repo.LeaderboardRow) {
	if err := s.repo.CacheLeaderboard(ctx, tournamentID, rows); err != nil {
		s.log.Warnw("leaderboard cache write failed", "tournament_id", tournamentID, "err", err)
	}
}

// GetLeaderboard serves the cached snapshot and falls back to ranking the
// stored entries.
func (s *TournamentService) GetLeaderboard(ctx context.Context, tournamentID string, limit int) ([]repo.LeaderboardRow, error) {
	limit = clampLimit(limit)
	rows, err := s.repo.GetCachedLeaderboard(ctx, tournamentID)
	if err == nil {
		if len(rows) > limit {
			rows = rows[:limit]
		}
		return rows, nil
	}
	if !errors.Is(err, redis.Nil) {
		s.log.Warnw("leaderboard cache read failed", "tournament_id", tournamentID, "err", err)
	}
	entries, err := s.repo.ListEntries(ctx, s.repo.DB(ctx), tournamentID, model.EntryActive, model.EntryFinished)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		if _, err := s.repo.GetTournament(ctx, tournamentID); err != nil {
			return nil, err
		}
	}
	rows = leaderboardRows(scoring.Rank(entries))
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

// Prize is one payout of a finalized tournament.
type Prize struct {
	EntryID       string
	UserID        string
	Rank          int
	Amount        decimal.Decimal
	LedgerEntryID string
}

// SettlementResult describes a finalized tournament.
type SettlementResult struct {
	TournamentID    string
	Participants    int
	PrizePool       decimal.Decimal
	Prizes          []Prize
	AlreadyFinished bool
}

type payout struct {
	entry    model.TournamentEntry
	rank     int
	pct      decimal.Decimal
	amount   decimal.Decimal
	walletID string
}

// FinalizeTournament ranks the entries, pays the prizes and closes the
// tournament in one transaction. Finalizing a FINISHED tournament returns
// without side effects.
func (s *TournamentService) FinalizeTournament(ctx context.Context, tournamentID string) (*SettlementResult, error) {
	start := time.Now()
	res := &SettlementResult{TournamentID: tournamentID}
	var ranked []model.TournamentEntry
	err := s.repo.Transaction(ctx, func(tx *gorm.DB) error {
		t, err := s.repo.GetTournamentForUpdate(ctx, tx, tournamentID)
		if err != nil {
			return err
		}
		if t.Status == model.TournamentFinished {
			res.AlreadyFinished = true
			res.Participants = t.CurrentPlayers
			res.PrizePool = t.PrizePool
			return nil
		}
		if !model.CanTransition(t.Status, model.TournamentFinished) {
			return invalidTransition("tournament %s is %s", t.ID, t.Status)
		}
		entries, err := s.repo.LockEntries(ctx, tx, t.ID, model.EntryActive)
		if err != nil {
			return err
		}
		now := s.now()
		if now.Before(t.EndTime) {
			ready, err := s.allSettled(ctx, tx, t, entries)
			if err != nil {
				return err
			}
			if !ready {
				return invalidTransition("tournament %s still has unsettled predictions", t.ID)
			}
		}

		ranked = scoring.Rank(entries)
		for i, e := range ranked {
			rank := i + 1
			if err := s.repo.UpdateEntry(ctx, tx, e.ID, map[string]interface{}{
				"final_rank":   rank,
				"current_rank": rank,
				"status":       model.EntryFinished,
			}); err != nil {
				return err
			}
		}

		payouts, err := s.planPayouts(ctx, tx, t, ranked)
		if err != nil {
			return err
		}
		for _, po := range payouts {
			le, err := s.ledger.CreditTx(ctx, tx, Posting{
				WalletID:       po.walletID,
				UserID:         po.entry.UserID,
				Amount:         po.amount,
				Category:       model.CategoryTournamentPrize,
				Description:    fmt.Sprintf("%s rank %d", t.Name, po.rank),
				Reference:      po.entry.ID,
				IdempotencyKey: "prize:" + t.ID + ":" + po.entry.ID,
				Metadata: model.Metadata{
					model.MetaTournamentID: t.ID,
					model.MetaEntryID:      po.entry.ID,
					model.MetaFinalRank:    strconv.Itoa(po.rank),
					model.MetaPercentage:   po.pct.String(),
				},
			})
			if err != nil {
				return fmt.Errorf("prize for entry %s: %w", po.entry.ID, err)
			}
			if err := s.repo.UpdateEntry(ctx, tx, po.entry.ID, map[string]interface{}{"prize_won": po.amount}); err != nil {
				return err
			}
			if err := emitEvent(ctx, s.repo, tx, "Tournament", t.ID, model.EventPrizeAwarded, prizePayload{
				TournamentID: t.ID, EntryID: po.entry.ID, UserID: po.entry.UserID, FinalRank: po.rank, Amount: po.amount,
			}); err != nil {
				return err
			}
			res.Prizes = append(res.Prizes, Prize{
				EntryID: po.entry.ID, UserID: po.entry.UserID, Rank: po.rank, Amount: po.amount, LedgerEntryID: le.ID,
			})
		}

		if err := s.repo.UpdateTournament(ctx, tx, t.ID, map[string]interface{}{
			"status":      model.TournamentFinished,
			"finished_at": now,
		}); err != nil {
			return err
		}
		res.Participants = len(ranked)
		res.PrizePool = t.PrizePool
		return emitEvent(ctx, s.repo, tx, "Tournament", t.ID, model.EventTournamentFinished, tournamentPayload{
			TournamentID: t.ID, Status: model.TournamentFinished, Participants: len(ranked), PrizePool: t.PrizePool, At: now,
		})
	})
	if err != nil {
		s.log.Errorw("tournament finalization failed", "tournament_id", tournamentID, "err", err)
		return nil, err
	}
	if res.AlreadyFinished {
		return res, nil
	}
	s.metrics.ObserveSettlement(start)
	for range res.Prizes {
		s.metrics.PrizePaid()
	}
	s.publishLeaderboard(ctx, tournamentID, leaderboardRows(ranked))
	s.log.Infow("tournament finalized", "tournament_id", tournamentID, "participants", res.Participants,
		"prize_pool", res.PrizePool, "prizes", len(res.Prizes))
	return res, nil
}

// allSettled reports whether every active entry has submitted and settled
// all required picks. A tournament without entries is never early-ready.
func (s *TournamentService) allSettled(ctx context.Context, tx *gorm.DB, t *model.Tournament, entries []model.TournamentEntry) (bool, error) {
	if len(entries) == 0 {
		return false, nil
	}
	for _, e := range entries {
		if e.PredictionsSubmitted < t.RequiredPredictions {
			return false, nil
		}
	}
	n, err := s.repo.CountUnsettled(ctx, tx, t.ID)
	if err != nil {
		return false, err
	}
	return n == 0, nil
}

// planPayouts returns the prizes to credit, ordered by wallet id so that
// wallet locks are always taken in the same order. Winners without a wallet
// come last; their rows are created inside the transaction.
func (s *TournamentService) planPayouts(ctx context.Context, tx *gorm.DB, t *model.Tournament, ranked []model.TournamentEntry) ([]payout, error) {
	tiers := append(model.PayoutStructure(nil), t.PayoutStructure.Data()...)
	sort.Slice(tiers, func(i, j int) bool { return tiers[i].Rank < tiers[j].Rank })
	var out []payout
	var users []string
	left := t.PrizePool
	for _, tier := range tiers {
		if tier.Rank > len(ranked) {
			break
		}
		// rounding may not pay out more than the pool holds
		amount := decimal.Min(t.PrizePool.Mul(tier.Percentage).Div(decimal.NewFromInt(100)).Round(2), left)
		left = left.Sub(amount)
		if !amount.IsPositive() {
			continue
		}
		e := ranked[tier.Rank-1]
		out = append(out, payout{entry: e, rank: tier.Rank, pct: tier.Percentage, amount: amount})
		users = append(users, e.UserID)
	}
	ids, err := s.repo.WalletIDsByUser(ctx, tx, users)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].walletID = ids[out[i].entry.UserID]
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].walletID, out[j].walletID
		if (a == "") != (b == "") {
			return b == ""
		}
		return a < b
	})
	return out, nil
}

// RefundFailure is one entry whose refund did not go through.
type RefundFailure struct {
	EntryID string
	UserID  string
	Err     string
}

// RefundSummary is the outcome of cancelling a tournament.
type RefundSummary struct {
	TournamentID string
	Refunded     int
	Free         int
	Amount       decimal.Decimal
	Failures     []RefundFailure
}

// CancelTournament cancels and then refunds every entry in its own
// transaction, so one failed refund does not block the others. Calling it
// again on a CANCELLED tournament retries the outstanding refunds.
func (s *TournamentService) CancelTournament(ctx context.Context, tournamentID, reason string) (*RefundSummary, error) {
	if reason == "" {
		return nil, invalidInput("cancellation needs a reason")
	}
	err := s.repo.Transaction(ctx, func(tx *gorm.DB) error {
		t, err := s.repo.GetTournamentForUpdate(ctx, tx, tournamentID)
		if err != nil {
			return err
		}
		if t.Status == model.TournamentCancelled {
			return nil
		}
		if !model.CanTransition(t.Status, model.TournamentCancelled) {
			return invalidTransition("tournament %s is %s", t.ID, t.Status)
		}
		if err := s.repo.UpdateTournament(ctx, tx, t.ID, map[string]interface{}{
			"status":        model.TournamentCancelled,
			"cancel_reason": reason,
		}); err != nil {
			return err
		}
		return emitEvent(ctx, s.repo, tx, "Tournament", t.ID, model.EventTournamentCancelled, tournamentPayload{
			TournamentID: t.ID,
			Status:       model.TournamentCancelled,
			Participants: t.CurrentPlayers,
			PrizePool:    t.PrizePool,
			Reason:       reason,
			At:           s.now(),
		})
	})
	if err != nil {
		return nil, err
	}
	s.log.Infow("tournament cancelled", "tournament_id", tournamentID, "reason", reason)

	entries, err := s.repo.ListEntries(ctx, s.repo.DB(ctx), tournamentID,
		model.EntryActive, model.EntryEliminated, model.EntryFinished)
	if err != nil {
		return nil, err
	}
	sum := &RefundSummary{TournamentID: tournamentID, Amount: decimal.Zero}
	for _, e := range entries {
		paid, err := s.refundEntry(ctx, e.ID, reason)
		if err != nil {
			s.recordRefundFailure(ctx, e, err)
			sum.Failures = append(sum.Failures, RefundFailure{EntryID: e.ID, UserID: e.UserID, Err: err.Error()})
			continue
		}
		if paid.IsPositive() {
			sum.Refunded++
			sum.Amount = sum.Amount.Add(paid)
		} else {
			sum.Free++
		}
	}
	s.log.Infow("tournament refunds done", "tournament_id", tournamentID,
		"refunded", sum.Refunded, "free", sum.Free, "failed", len(sum.Failures), "amount", sum.Amount)
	return sum, nil
}

// refundEntry returns the buy-in of one entry and marks it REFUNDED.
func (s *TournamentService) refundEntry(ctx context.Context, entryID, reason string) (decimal.Decimal, error) {
	paid := decimal.Zero
	err := s.repo.Transaction(ctx, func(tx *gorm.DB) error {
		e, err := s.repo.GetEntryForUpdate(ctx, tx, entryID)
		if err != nil {
			return err
		}
		if e.Status == model.EntryRefunded {
			return nil
		}
		updates := map[string]interface{}{"status": model.EntryRefunded, "last_refund_error": ""}
		if e.BuyInPaid.IsPositive() {
			le, err := s.ledger.CreditTx(ctx, tx, Posting{
				UserID:         e.UserID,
				Amount:         e.BuyInPaid,
				Category:       model.CategoryTournamentRefund,
				Description:    "tournament cancelled",
				Reference:      e.ID,
				IdempotencyKey: "refund:" + e.ID,
				Metadata: model.Metadata{
					model.MetaTournamentID: e.TournamentID,
					model.MetaEntryID:      e.ID,
					model.MetaReason:       reason,
				},
			})
			if err != nil {
				return err
			}
			updates["refund_entry_id"] = le.ID
			paid = e.BuyInPaid
		}
		if err := s.repo.UpdateEntry(ctx, tx, e.ID, updates); err != nil {
			return err
		}
		if !paid.IsPositive() {
			return nil
		}
		return emitEvent(ctx, s.repo, tx, "Tournament", e.TournamentID, model.EventRefundIssued, refundPayload{
			TournamentID: e.TournamentID, EntryID: e.ID, UserID: e.UserID, Amount: paid,
		})
	})
	return paid, err
}

func (s *TournamentService) recordRefundFailure(ctx context.Context, e model.TournamentEntry, cause error) {
	s.metrics.RefundFailed()
	s.log.Errorw("entry refund failed", "tournament_id", e.TournamentID, "entry_id", e.ID, "user_id", e.UserID, "err", cause)
	msg := cause.Error()
	if len(msg) > 255 {
		msg = msg[:255]
	}
	err := s.repo.Transaction(ctx, func(tx *gorm.DB) error {
		return s.repo.UpdateEntry(ctx, tx, e.ID, map[string]interface{}{"last_refund_error": msg})
	})
	if err != nil {
		s.log.Warnw("could not store refund failure", "entry_id", e.ID, "err", err)
	}
}

type IntegrityStatus string

const (
	IntegrityOK        IntegrityStatus = "OK"
	IntegrityCorrected IntegrityStatus = "CORRECTED"
	IntegrityDrift     IntegrityStatus = "DRIFT"
	IntegrityMismatch  IntegrityStatus = "MISMATCH"
)

// IntegrityReport compares the stored prize pool with the one implied by
// the buy-ins actually paid.
type IntegrityReport struct {
	TournamentID string
	Expected     decimal.Decimal
	Actual       decimal.Decimal
	Discrepancy  decimal.Decimal
	Status       IntegrityStatus
}

// VerifyPrizePoolIntegrity recomputes the pool from the entries. Drift within
// tolerance is corrected when autoCorrect is set; anything larger is only
// reported.
func (s *TournamentService) VerifyPrizePoolIntegrity(ctx context.Context, tournamentID string, autoCorrect bool) (*IntegrityReport, error) {
	var rep *IntegrityReport
	err := s.repo.Transaction(ctx, func(tx *gorm.DB) error {
		t, err := s.repo.GetTournamentForUpdate(ctx, tx, tournamentID)
		if err != nil {
			return err
		}
		paid, err := s.repo.SumBuyIns(ctx, tx, t.ID)
		if err != nil {
			return err
		}
		expected := s.poolFor(paid)
		rep = &IntegrityReport{
			TournamentID: t.ID,
			Expected:     expected,
			Actual:       t.PrizePool,
			Discrepancy:  t.PrizePool.Sub(expected),
			Status:       IntegrityOK,
		}
		switch {
		case rep.Discrepancy.IsZero():
		case rep.Discrepancy.Abs().LessThanOrEqual(s.settings.IntegrityTolerance):
			rep.Status = IntegrityDrift
			if autoCorrect {
				if err := s.repo.UpdateTournament(ctx, tx, t.ID, map[string]interface{}{"prize_pool": expected}); err != nil {
					return err
				}
				rep.Status = IntegrityCorrected
			}
		default:
			rep.Status = IntegrityMismatch
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	switch rep.Status {
	case IntegrityMismatch:
		s.metrics.Integrity(string(rep.Status))
		s.log.Errorw("prize pool mismatch", "tournament_id", tournamentID,
			"expected", rep.Expected, "actual", rep.Actual, "discrepancy", rep.Discrepancy)
	case IntegrityDrift, IntegrityCorrected:
		s.metrics.Integrity(string(rep.Status))
		s.log.Warnw("prize pool drift", "tournament_id", tournamentID,
			"expected", rep.Expected, "actual", rep.Actual, "status", rep.Status)
	}
	return rep, nil
}

// DueForFinalization lists ACTIVE tournaments whose end time has passed.
func (s *TournamentService) DueForFinalization(ctx context.Context, now time.Time) ([]model.Tournament, error) {
	ts, err := s.repo.ListTournaments(ctx, []model.TournamentStatus{model.TournamentActive})
	if err != nil {
		return nil, err
	}
	var due []model.Tournament
	for _, t := range ts {
		if !now.Before(t.EndTime) {
			due = append(due, t)
		}
	}
	return due, nil
}

func (s *TournamentService) GetTournament(ctx context.Context, id string) (*model.Tournament, error) {
	return s.repo.GetTournament(ctx, id)
}

func (s *TournamentService) ListByStatus(ctx context.Context, statuses ...model.TournamentStatus) ([]model.Tournament, error) {
	if len(statuses) == 0 {
		statuses = []model.TournamentStatus{model.TournamentUpcoming, model.TournamentRegistration, model.TournamentActive}
	}
	return s.repo.ListTournaments(ctx, statuses)
}

// ListEntries returns every entry of a tournament in entry order.
func (s *TournamentService) ListEntries(ctx context.Context, tournamentID string) ([]model.TournamentEntry, error) {
	if _, err := s.repo.GetTournament(ctx, tournamentID); err != nil {
		return nil, err
	}
	return s.repo.ListEntries(ctx, s.repo.DB(ctx), tournamentID)
}

func (s *TournamentService) ListPredictions(ctx context.Context, entryID string) ([]model.TournamentPrediction, error) {
	return s.repo.ListPredictions(ctx, s.repo.DB(ctx), entryID)
}
