package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/richardliu001/prediction-tournament/internal/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func tier(rank int, pct string) model.PayoutTier {
	return model.PayoutTier{Rank: rank, Percentage: dec(pct)}
}

// newTournament creates a tournament that is open for registration now,
// starts in an hour and ends in five.
func (e *testEnv) newTournament(t *testing.T, buyIn string, maxPlayers, required int, payouts ...model.PayoutTier) *model.Tournament {
	t.Helper()
	now := e.clock.Now()
	typ := model.TournamentDaily
	if dec(buyIn).IsZero() {
		typ = model.TournamentFreeroll
	}
	tr, err := e.tournament.CreateTournament(e.ctx, NewTournament{
		Name:                 "Liga 1 daily",
		Type:                 typ,
		BuyIn:                dec(buyIn),
		MaxPlayers:           maxPlayers,
		RegistrationDeadline: now.Add(time.Hour),
		StartTime:            now.Add(time.Hour),
		EndTime:              now.Add(5 * time.Hour),
		RequiredPredictions:  required,
		Payouts:              payouts,
	})
	require.NoError(t, err)
	_, err = e.tournament.AdvanceStates(e.ctx, now)
	require.NoError(t, err)
	return e.reload(t, tr.ID)
}

func (e *testEnv) reload(t *testing.T, id string) *model.Tournament {
	t.Helper()
	tr, err := e.tournament.GetTournament(e.ctx, id)
	require.NoError(t, err)
	return tr
}

func (e *testEnv) start(t *testing.T) {
	t.Helper()
	e.clock.Advance(time.Hour)
	_, err := e.tournament.AdvanceStates(e.ctx, e.clock.Now())
	require.NoError(t, err)
}

func (e *testEnv) join(t *testing.T, tournamentID string, users ...string) map[string]*model.TournamentEntry {
	t.Helper()
	out := map[string]*model.TournamentEntry{}
	for _, u := range users {
		entry, err := e.tournament.JoinTournament(e.ctx, u, tournamentID)
		require.NoError(t, err, u)
		out[u] = entry
	}
	return out
}

func (e *testEnv) pick(t *testing.T, entry *model.TournamentEntry, seq int, odds string, confidence int) *model.TournamentPrediction {
	t.Helper()
	p, err := e.tournament.SubmitPrediction(e.ctx, entry.UserID, entry.ID, seq, PredictionInput{
		Type:       model.PredictionMatchWinner,
		Odds:       dec(odds),
		Confidence: confidence,
		Match:      model.MatchSnapshot{EventID: fmt.Sprintf("ev-%d", seq), HomeTeam: "Alianza Lima", AwayTeam: "Universitario"},
	})
	require.NoError(t, err)
	return p
}

func (e *testEnv) settle(t *testing.T, p *model.TournamentPrediction, result model.PredictionResult) *model.TournamentPrediction {
	t.Helper()
	out, err := e.tournament.RecordResult(e.ctx, p.ID, result, nil)
	require.NoError(t, err)
	return out
}

func (e *testEnv) entry(t *testing.T, id string) *model.TournamentEntry {
	t.Helper()
	var out model.TournamentEntry
	require.NoError(t, e.db.First(&out, "id = ?", id).Error)
	return &out
}

func (e *testEnv) countCategory(t *testing.T, c model.Category) int64 {
	t.Helper()
	var n int64
	require.NoError(t, e.db.Model(&model.LedgerEntry{}).Where("category = ?", c).Count(&n).Error)
	return n
}

// flakyLedger fails the credits selected by fail and forwards the rest.
type flakyLedger struct {
	Ledger
	credits int
	fail    func(n int, p Posting) bool
}

func (f *flakyLedger) CreditTx(ctx context.Context, tx *gorm.DB, p Posting) (*model.LedgerEntry, error) {
	f.credits++
	if f.fail(f.credits, p) {
		return nil, errors.New("ledger unavailable")
	}
	return f.Ledger.CreditTx(ctx, tx, p)
}

func (e *testEnv) tournamentWith(l Ledger) *TournamentService {
	return NewTournamentService(e.repo, l, DefaultTournamentSettings(), nil, zap.NewNop().Sugar()).WithClock(e.clock.Now)
}

func TestJoin_PrizePoolAccrues(t *testing.T) {
	env := newTestEnv(t)
	users := []string{"u1", "u2", "u3", "u4", "u5"}
	for _, u := range users {
		env.fund(t, u, "20")
	}
	tr := env.newTournament(t, "10", 10, 1)
	require.Equal(t, model.TournamentRegistration, tr.Status)

	entries := env.join(t, tr.ID, users...)

	tr = env.reload(t, tr.ID)
	assert.Equal(t, "45.00", tr.PrizePool.StringFixed(2))
	assert.Equal(t, 5, tr.CurrentPlayers)
	for _, u := range users {
		assert.Equal(t, "10.00", env.balance(t, u))
		assert.Equal(t, "10.00", entries[u].BuyInPaid.StringFixed(2))
		require.NotNil(t, entries[u].LedgerEntryID)
		env.requireConsistent(t, u)
	}
	w, err := env.wallet.GetWallet(env.ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "10.00", w.TotalSpent.StringFixed(2))

	_, err = env.tournament.JoinTournament(env.ctx, "u1", tr.ID)
	assert.ErrorIs(t, err, ErrAlreadyEntered)
	assert.ErrorIs(t, err, ErrDuplicateRequest)
	assert.Equal(t, "10.00", env.balance(t, "u1"))
}

func TestJoin_Rejections(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, "rich", "100")
	env.fund(t, "other", "100")

	_, err := env.tournament.CreateTournament(env.ctx, NewTournament{
		Name: "bad", Type: model.TournamentDaily, BuyIn: dec("5"), MaxPlayers: 2, RequiredPredictions: 1,
		RegistrationDeadline: env.clock.Now(), StartTime: env.clock.Now().Add(time.Hour), EndTime: env.clock.Now().Add(2 * time.Hour),
		Payouts: model.PayoutStructure{tier(1, "70"), tier(2, "40")},
	})
	assert.ErrorIs(t, err, ErrInvalidInput)

	tr := env.newTournament(t, "10", 2, 1)
	env.join(t, tr.ID, "rich")

	_, err = env.tournament.JoinTournament(env.ctx, "poor", tr.ID)
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Equal(t, 1, env.reload(t, tr.ID).CurrentPlayers)

	env.join(t, tr.ID, "other")
	env.fund(t, "late", "50")
	_, err = env.tournament.JoinTournament(env.ctx, "late", tr.ID)
	assert.ErrorIs(t, err, ErrCapacityExceeded)

	env.start(t)
	tr2 := env.newTournament(t, "10", 5, 1)
	env.start(t)
	_, err = env.tournament.JoinTournament(env.ctx, "late", tr2.ID)
	assert.ErrorIs(t, err, ErrInvalidStateTransition)
	assert.Equal(t, "50.00", env.balance(t, "late"))
}

func TestPredictions_ScoreAndAggregate(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, "u1", "20")
	tr := env.newTournament(t, "10", 10, 3)
	entry := env.join(t, tr.ID, "u1")["u1"]

	_, err := env.tournament.SubmitPrediction(env.ctx, "u1", entry.ID, 1, PredictionInput{
		Type: model.PredictionMatchWinner, Odds: dec("2.00"), Confidence: 80,
	})
	assert.ErrorIs(t, err, ErrInvalidStateTransition, "tournament not started")

	env.start(t)
	p1 := env.pick(t, entry, 1, "2.00", 80)
	p2 := env.pick(t, entry, 2, "3.00", 50)

	for _, tc := range []struct {
		seq  int
		odds string
		conf int
		user string
		want error
	}{
		{0, "2.00", 50, "u1", ErrInvalidInput},
		{4, "2.00", 50, "u1", ErrInvalidInput},
		{1, "2.00", 50, "u1", ErrDuplicateRequest},
		{3, "1.00", 50, "u1", ErrInvalidInput},
		{3, "2.00", 0, "u1", ErrInvalidInput},
		{3, "2.00", 50, "u2", ErrNotFound},
	} {
		_, err := env.tournament.SubmitPrediction(env.ctx, tc.user, entry.ID, tc.seq, PredictionInput{
			Type: model.PredictionMatchWinner, Odds: dec(tc.odds), Confidence: tc.conf,
		})
		assert.ErrorIs(t, err, tc.want, "seq %d odds %s", tc.seq, tc.odds)
	}

	s1 := env.settle(t, p1, model.ResultWon)
	assert.Equal(t, "40.00", s1.Points.StringFixed(2))
	assert.Equal(t, "40.00", s1.FinalPoints.StringFixed(2))
	assert.Equal(t, "100.00", s1.ROIContribution.StringFixed(2))

	_, err = env.tournament.RecordResult(env.ctx, p1.ID, model.ResultLost, nil)
	assert.ErrorIs(t, err, ErrInvalidStateTransition)
	_, err = env.tournament.RecordResult(env.ctx, p2.ID, model.ResultPending, nil)
	assert.ErrorIs(t, err, ErrInvalidInput)

	e := env.entry(t, entry.ID)
	assert.Equal(t, "40.00", e.TotalScore.StringFixed(2))
	assert.Equal(t, 1, e.CorrectPredictions)
	assert.Equal(t, 1, e.StreakCount)
	assert.Equal(t, "100.00", e.ROI.StringFixed(2))
	assert.Equal(t, 2, e.PredictionsSubmitted)

	env.settle(t, p2, model.ResultLost)
	e = env.entry(t, entry.ID)
	assert.Equal(t, "40.00", e.TotalScore.StringFixed(2))
	assert.True(t, e.ROI.IsZero())

	preds, err := env.tournament.ListPredictions(env.ctx, entry.ID)
	require.NoError(t, err)
	require.Len(t, preds, 2)
	assert.Equal(t, "Alianza Lima", preds[0].Snapshot.Data().HomeTeam)
	assert.Equal(t, model.PredictionMatchWinner, preds[0].Snapshot.Data().Market)
}

// setupFinal returns an ACTIVE tournament with three entries whose single
// picks are settled so that u1 > u2 > u3.
func setupFinal(t *testing.T, env *testEnv) (*model.Tournament, map[string]*model.TournamentEntry) {
	t.Helper()
	for _, u := range []string{"u1", "u2", "u3"} {
		env.fund(t, u, "20")
	}
	tr := env.newTournament(t, "10", 10, 1, tier(1, "50"), tier(2, "30"), tier(3, "20"))
	entries := env.join(t, tr.ID, "u1", "u2", "u3")
	env.start(t)
	env.settle(t, env.pick(t, entries["u1"], 1, "3.00", 90), model.ResultWon)
	env.settle(t, env.pick(t, entries["u2"], 1, "2.00", 80), model.ResultWon)
	env.settle(t, env.pick(t, entries["u3"], 1, "2.00", 80), model.ResultLost)
	return env.reload(t, tr.ID), entries
}

func TestFinalize_PaysPrizes(t *testing.T) {
	env := newTestEnv(t)
	tr, entries := setupFinal(t, env)
	require.Equal(t, "27.00", tr.PrizePool.StringFixed(2))

	rows, err := env.tournament.UpdateRankings(env.ctx, tr.ID)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, entries["u1"].ID, rows[0].EntryID)
	assert.Equal(t, 2, *env.entry(t, entries["u2"].ID).CurrentRank)

	board, err := env.tournament.GetLeaderboard(env.ctx, tr.ID, 2)
	require.NoError(t, err)
	require.Len(t, board, 2)
	assert.Equal(t, "u1", board[0].UserID)
	assert.Equal(t, "u2", board[1].UserID)

	res, err := env.tournament.FinalizeTournament(env.ctx, tr.ID)
	require.NoError(t, err)
	assert.False(t, res.AlreadyFinished)
	assert.Equal(t, 3, res.Participants)
	require.Len(t, res.Prizes, 3)

	want := map[string]string{"u1": "23.50", "u2": "18.10", "u3": "15.40"}
	for u, bal := range want {
		assert.Equal(t, bal, env.balance(t, u), u)
		env.requireConsistent(t, u)
	}
	for u, rank := range map[string]int{"u1": 1, "u2": 2, "u3": 3} {
		e := env.entry(t, entries[u].ID)
		assert.Equal(t, model.EntryFinished, e.Status)
		require.NotNil(t, e.FinalRank)
		assert.Equal(t, rank, *e.FinalRank)
	}
	assert.Equal(t, "13.50", env.entry(t, entries["u1"].ID).PrizeWon.StringFixed(2))
	w, err := env.wallet.GetWallet(env.ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "13.50", w.TotalWon.StringFixed(2))

	tr = env.reload(t, tr.ID)
	assert.Equal(t, model.TournamentFinished, tr.Status)
	assert.NotNil(t, tr.FinishedAt)

	again, err := env.tournament.FinalizeTournament(env.ctx, tr.ID)
	require.NoError(t, err)
	assert.True(t, again.AlreadyFinished)
	assert.Equal(t, int64(3), env.countCategory(t, model.CategoryTournamentPrize))

	_, err = env.tournament.CancelTournament(env.ctx, tr.ID, "too late")
	assert.ErrorIs(t, err, ErrInvalidStateTransition)
}

func TestFinalize_AllOrNothing(t *testing.T) {
	env := newTestEnv(t)
	tr, entries := setupFinal(t, env)

	broken := env.tournamentWith(&flakyLedger{Ledger: env.wallet, fail: func(n int, _ Posting) bool { return n == 2 }})
	_, err := broken.FinalizeTournament(env.ctx, tr.ID)
	require.Error(t, err)

	assert.Equal(t, model.TournamentActive, env.reload(t, tr.ID).Status)
	assert.Equal(t, int64(0), env.countCategory(t, model.CategoryTournamentPrize))
	for _, u := range []string{"u1", "u2", "u3"} {
		assert.Equal(t, "10.00", env.balance(t, u), u)
		e := env.entry(t, entries[u].ID)
		assert.Equal(t, model.EntryActive, e.Status)
		assert.Nil(t, e.FinalRank)
		assert.True(t, e.PrizeWon.IsZero())
	}

	_, err = env.tournament.FinalizeTournament(env.ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, "23.50", env.balance(t, "u1"))
}

func TestFinalize_Readiness(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, "u1", "20")
	tr := env.newTournament(t, "10", 10, 2, tier(1, "100"))
	entry := env.join(t, tr.ID, "u1")["u1"]

	_, err := env.tournament.FinalizeTournament(env.ctx, tr.ID)
	assert.ErrorIs(t, err, ErrInvalidStateTransition, "registration")

	env.start(t)
	env.settle(t, env.pick(t, entry, 1, "2.00", 60), model.ResultWon)
	_, err = env.tournament.FinalizeTournament(env.ctx, tr.ID)
	assert.ErrorIs(t, err, ErrInvalidStateTransition, "one pick missing")

	due, err := env.tournament.DueForFinalization(env.ctx, env.clock.Now())
	require.NoError(t, err)
	assert.Empty(t, due)

	env.clock.Advance(4 * time.Hour)
	due, err = env.tournament.DueForFinalization(env.ctx, env.clock.Now())
	require.NoError(t, err)
	require.Len(t, due, 1)

	res, err := env.tournament.FinalizeTournament(env.ctx, tr.ID)
	require.NoError(t, err)
	require.Len(t, res.Prizes, 1)
	assert.Equal(t, "9.00", res.Prizes[0].Amount.StringFixed(2))
	assert.Equal(t, "19.00", env.balance(t, "u1"))
}

func TestCancel_RefundsIndependently(t *testing.T) {
	env := newTestEnv(t)
	for _, u := range []string{"u1", "u2", "u3"} {
		env.fund(t, u, "20")
	}
	tr := env.newTournament(t, "10", 10, 1, tier(1, "100"))
	entries := env.join(t, tr.ID, "u1", "u2", "u3")

	broken := env.tournamentWith(&flakyLedger{Ledger: env.wallet, fail: func(_ int, p Posting) bool { return p.UserID == "u2" }})
	sum, err := broken.CancelTournament(env.ctx, tr.ID, "match postponed")
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Refunded)
	assert.Equal(t, "20.00", sum.Amount.StringFixed(2))
	require.Len(t, sum.Failures, 1)
	assert.Equal(t, entries["u2"].ID, sum.Failures[0].EntryID)

	assert.Equal(t, model.TournamentCancelled, env.reload(t, tr.ID).Status)
	assert.Equal(t, "20.00", env.balance(t, "u1"))
	assert.Equal(t, "10.00", env.balance(t, "u2"))
	assert.Equal(t, "20.00", env.balance(t, "u3"))
	failed := env.entry(t, entries["u2"].ID)
	assert.Equal(t, model.EntryActive, failed.Status)
	assert.Contains(t, failed.LastRefundError, "ledger unavailable")
	assert.Equal(t, model.EntryRefunded, env.entry(t, entries["u1"].ID).Status)

	// a second call only retries what is outstanding
	sum, err = env.tournament.CancelTournament(env.ctx, tr.ID, "match postponed")
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Refunded)
	assert.Empty(t, sum.Failures)
	assert.Equal(t, "20.00", env.balance(t, "u2"))
	assert.Empty(t, env.entry(t, entries["u2"].ID).LastRefundError)
	assert.Equal(t, int64(3), env.countCategory(t, model.CategoryTournamentRefund))
	for _, u := range []string{"u1", "u2", "u3"} {
		env.requireConsistent(t, u)
	}
}

func TestCancel_FreeEntries(t *testing.T) {
	env := newTestEnv(t)
	tr := env.newTournament(t, "0", 10, 1)
	env.join(t, tr.ID, "f1", "f2")
	assert.True(t, env.reload(t, tr.ID).PrizePool.IsZero())

	sum, err := env.tournament.CancelTournament(env.ctx, tr.ID, "no sponsor")
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Free)
	assert.Equal(t, 0, sum.Refunded)
	assert.Equal(t, int64(0), env.countCategory(t, model.CategoryTournamentRefund))

	_, err = env.tournament.JoinTournament(env.ctx, "f3", tr.ID)
	assert.ErrorIs(t, err, ErrInvalidStateTransition)
}

func TestVerifyPrizePoolIntegrity(t *testing.T) {
	env := newTestEnv(t)
	for _, u := range []string{"u1", "u2", "u3", "u4", "u5"} {
		env.fund(t, u, "10")
	}
	tr := env.newTournament(t, "10", 10, 1)
	env.join(t, tr.ID, "u1", "u2", "u3", "u4", "u5")

	rep, err := env.tournament.VerifyPrizePoolIntegrity(env.ctx, tr.ID, true)
	require.NoError(t, err)
	assert.Equal(t, IntegrityOK, rep.Status)
	assert.Equal(t, "45.00", rep.Expected.StringFixed(2))

	setPool := func(v string) {
		require.NoError(t, env.db.Model(&model.Tournament{}).Where("id = ?", tr.ID).Update("prize_pool", dec(v)).Error)
	}

	setPool("45.01")
	rep, err = env.tournament.VerifyPrizePoolIntegrity(env.ctx, tr.ID, false)
	require.NoError(t, err)
	assert.Equal(t, IntegrityDrift, rep.Status)
	assert.Equal(t, "45.01", env.reload(t, tr.ID).PrizePool.StringFixed(2))

	rep, err = env.tournament.VerifyPrizePoolIntegrity(env.ctx, tr.ID, true)
	require.NoError(t, err)
	assert.Equal(t, IntegrityCorrected, rep.Status)
	assert.Equal(t, "45.00", env.reload(t, tr.ID).PrizePool.StringFixed(2))

	setPool("50.00")
	rep, err = env.tournament.VerifyPrizePoolIntegrity(env.ctx, tr.ID, true)
	require.NoError(t, err)
	assert.Equal(t, IntegrityMismatch, rep.Status)
	assert.True(t, rep.Discrepancy.Equal(decimal.NewFromInt(5)))
	assert.Equal(t, "50.00", env.reload(t, tr.ID).PrizePool.StringFixed(2))
}

func TestJoin_PoolRoundsFromTotal(t *testing.T) {
	env := newTestEnv(t)
	tr := env.newTournament(t, "2.55", 20, 1)
	for i := 1; i <= 20; i++ {
		u := fmt.Sprintf("u%d", i)
		env.fund(t, u, "2.55")
		env.join(t, tr.ID, u)
		want := dec("2.55").Mul(decimal.NewFromInt(int64(i))).Mul(dec("0.9")).Round(2)
		require.Equal(t, want.StringFixed(2), env.reload(t, tr.ID).PrizePool.StringFixed(2), "after %d joins", i)
	}
	assert.Equal(t, "45.90", env.reload(t, tr.ID).PrizePool.StringFixed(2))

	rep, err := env.tournament.VerifyPrizePoolIntegrity(env.ctx, tr.ID, false)
	require.NoError(t, err)
	assert.Equal(t, IntegrityOK, rep.Status)
	assert.Equal(t, "45.90", rep.Expected.StringFixed(2))

	// the pool a per-entry rounding would have produced
	require.NoError(t, env.db.Model(&model.Tournament{}).Where("id = ?", tr.ID).Update("prize_pool", dec("46.00")).Error)
	rep, err = env.tournament.VerifyPrizePoolIntegrity(env.ctx, tr.ID, true)
	require.NoError(t, err)
	assert.Equal(t, IntegrityMismatch, rep.Status)
	assert.Equal(t, "0.10", rep.Discrepancy.StringFixed(2))
}

func TestPlanPayouts_NeverExceedsPool(t *testing.T) {
	env := newTestEnv(t)
	tr := &model.Tournament{
		PrizePool:       dec("0.05"),
		PayoutStructure: datatypes.NewJSONType(model.PayoutStructure{tier(1, "50"), tier(2, "50")}),
	}
	ranked := []model.TournamentEntry{{ID: "e1", UserID: "u1"}, {ID: "e2", UserID: "u2"}}

	plan, err := env.tournament.planPayouts(env.ctx, env.db, tr, ranked)
	require.NoError(t, err)
	require.Len(t, plan, 2)
	assert.Equal(t, "0.03", plan[0].amount.StringFixed(2))
	assert.Equal(t, "0.02", plan[1].amount.StringFixed(2))
	assert.Equal(t, "0.05", plan[0].amount.Add(plan[1].amount).StringFixed(2))
}

func TestCloseWallet_BlockedByActiveEntry(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, "u1", "10")
	tr := env.newTournament(t, "10", 10, 1)
	env.join(t, tr.ID, "u1")
	require.Equal(t, "0.00", env.balance(t, "u1"))

	_, err := env.wallet.SetWalletStatus(env.ctx, "u1", model.WalletClosed, "admin-1")
	assert.ErrorIs(t, err, ErrInvalidStateTransition)

	_, err = env.tournament.CancelTournament(env.ctx, tr.ID, "no quorum")
	require.NoError(t, err)
	assert.Equal(t, "10.00", env.balance(t, "u1"))
	w, err := env.wallet.GetWallet(env.ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, model.WalletActive, w.Status)
}

func TestAdvanceStates(t *testing.T) {
	env := newTestEnv(t)
	now := env.clock.Now()
	opens := now.Add(30 * time.Minute)
	tr, err := env.tournament.CreateTournament(env.ctx, NewTournament{
		Name:                 "weekend special",
		Type:                 model.TournamentSpecial,
		BuyIn:                dec("5"),
		MaxPlayers:           100,
		RegistrationOpensAt:  &opens,
		RegistrationDeadline: now.Add(2 * time.Hour),
		StartTime:            now.Add(2 * time.Hour),
		EndTime:              now.Add(26 * time.Hour),
		RequiredPredictions:  5,
		Payouts:              model.PayoutStructure{tier(1, "60"), tier(2, "25"), tier(3, "15")},
	})
	require.NoError(t, err)
	assert.Equal(t, model.TournamentUpcoming, tr.Status)

	applied, err := env.tournament.AdvanceStates(env.ctx, now)
	require.NoError(t, err)
	assert.Empty(t, applied)

	applied, err = env.tournament.AdvanceStates(env.ctx, opens)
	require.NoError(t, err)
	require.Len(t, applied, 1)
	assert.Equal(t, model.TournamentRegistration, applied[0].To)

	active, err := env.tournament.ListByStatus(env.ctx)
	require.NoError(t, err)
	assert.Len(t, active, 1)

	applied, err = env.tournament.AdvanceStates(env.ctx, now.Add(3*time.Hour))
	require.NoError(t, err)
	require.Len(t, applied, 1)
	assert.Equal(t, model.TournamentActive, env.reload(t, tr.ID).Status)

	// an overdue UPCOMING tournament moves through registration in one run
	late, err := env.tournament.CreateTournament(env.ctx, NewTournament{
		Name: "late", Type: model.TournamentFreeroll, BuyIn: decimal.Zero, MaxPlayers: 10, RequiredPredictions: 1,
		RegistrationDeadline: now, StartTime: now, EndTime: now.Add(time.Hour),
	})
	require.NoError(t, err)
	applied, err = env.tournament.AdvanceStates(env.ctx, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Len(t, applied, 2)
	assert.Equal(t, model.TournamentActive, env.reload(t, late.ID).Status)
}
