// Package scoring turns settled prediction results into tournament points.
// Everything here is pure: no I/O and no clock.
package scoring

import (
	"errors"
	"sort"

	"github.com/richardliu001/prediction-tournament/internal/model"
	"github.com/shopspring/decimal"
)

// ErrUnsettled is returned when asked to score a PENDING result.
var ErrUnsettled = errors.New("result is not settled")

var (
	hundred = decimal.NewFromInt(100)
	one     = decimal.NewFromInt(1)
	half    = decimal.RequireFromString("0.5")
)

var typeWeights = map[model.PredictionType]decimal.Decimal{
	model.PredictionMatchWinner:    decimal.RequireFromString("1.0"),
	model.PredictionDoubleChance:   decimal.RequireFromString("1.0"),
	model.PredictionOverUnder:      decimal.RequireFromString("1.1"),
	model.PredictionBothTeamsScore: decimal.RequireFromString("1.1"),
	model.PredictionHandicap:       decimal.RequireFromString("1.2"),
	model.PredictionCorrectScore:   decimal.RequireFromString("1.3"),
	model.PredictionCombined:       decimal.RequireFromString("1.5"),
}

// TypeWeight is the multiplier for a market; unknown markets weigh 1.0.
func TypeWeight(t model.PredictionType) decimal.Decimal {
	if w, ok := typeWeights[t]; ok {
		return w
	}
	return one
}

// ImpliedProbability is 100/odds, the break-even win probability in percent.
func ImpliedProbability(odds decimal.Decimal) decimal.Decimal {
	if !odds.IsPositive() {
		return hundred
	}
	return hundred.Div(odds)
}

// BasePoints rewards correct picks more the less likely they were.
func BasePoints(confidence int, odds decimal.Decimal, t model.PredictionType) decimal.Decimal {
	base := decimal.Max(decimal.Zero, hundred.Sub(ImpliedProbability(odds)))
	factor := decimal.Max(half, decimal.NewFromInt(int64(confidence)).Div(hundred))
	return base.Mul(TypeWeight(t)).Mul(factor).Round(2)
}

// Outcome is the scored state of one prediction.
type Outcome struct {
	Result          model.PredictionResult
	Odds            decimal.Decimal
	Points          decimal.Decimal
	BonusMultiplier decimal.Decimal
	FinalPoints     decimal.Decimal
	IsCorrect       bool
	ROIContribution decimal.Decimal
}

// SettleOne scores p with result. prior holds the entry's earlier settled picks
// (see PriorPicks) and currentROI is the entry ROI before this pick.
// actualOdds, when set, replaces the odds selected at submission.
func SettleOne(p model.TournamentPrediction, result model.PredictionResult, actualOdds *decimal.Decimal,
	prior []model.TournamentPrediction, currentROI decimal.Decimal, rules model.ScoringRules) (Outcome, error) {
	odds := p.SelectedOdds
	if actualOdds != nil && actualOdds.GreaterThan(one) {
		odds = *actualOdds
	}
	out := Outcome{
		Result:          result,
		Odds:            odds,
		Points:          decimal.Zero,
		BonusMultiplier: one,
		FinalPoints:     decimal.Zero,
		ROIContribution: decimal.Zero,
	}
	switch result {
	case model.ResultWon:
		out.IsCorrect = true
		out.Points = BasePoints(p.Confidence, odds, p.PredictionType)
		out.BonusMultiplier = BonusMultiplier(prior, currentROI, rules)
		out.FinalPoints = out.Points.Mul(out.BonusMultiplier).Round(2)
		out.ROIContribution = roiOnNotionalStake(odds)
	case model.ResultLost:
		out.ROIContribution = hundred.Neg()
	case model.ResultVoid:
	default:
		return Outcome{}, ErrUnsettled
	}
	return out, nil
}

// roiOnNotionalStake is (stake*odds - stake)/stake*100 for a 100 unit stake.
func roiOnNotionalStake(odds decimal.Decimal) decimal.Decimal {
	stake := hundred
	return stake.Mul(odds).Sub(stake).Div(stake).Mul(hundred).Round(2)
}

// PriorPicks returns the WON/LOST picks of all with a sequence number below
// seq, in sequence order. VOID and PENDING picks are skipped.
func PriorPicks(all []model.TournamentPrediction, seq int) []model.TournamentPrediction {
	var out []model.TournamentPrediction
	for _, p := range all {
		if p.SequenceNumber < seq && (p.Result == model.ResultWon || p.Result == model.ResultLost) {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SequenceNumber < out[j].SequenceNumber })
	return out
}

// Totals are the aggregate figures persisted on an entry.
type Totals struct {
	TotalScore           decimal.Decimal
	PredictionsSubmitted int
	CorrectPredictions   int
	BonusPoints          decimal.Decimal
	StreakCount          int
	ROI                  decimal.Decimal
}

// Aggregate recomputes an entry's totals from all of its picks.
func Aggregate(preds []model.TournamentPrediction) Totals {
	sorted := make([]model.TournamentPrediction, len(preds))
	copy(sorted, preds)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].SequenceNumber < sorted[j].SequenceNumber })

	t := Totals{TotalScore: decimal.Zero, BonusPoints: decimal.Zero, ROI: decimal.Zero, PredictionsSubmitted: len(sorted)}
	roiSum := decimal.Zero
	roiCount := 0
	run := 0
	for _, p := range sorted {
		if !p.Result.Settled() {
			continue
		}
		t.TotalScore = t.TotalScore.Add(p.FinalPoints)
		if extra := p.FinalPoints.Sub(p.Points); extra.IsPositive() {
			t.BonusPoints = t.BonusPoints.Add(extra)
		}
		switch p.Result {
		case model.ResultWon:
			t.CorrectPredictions++
			run++
			if run > t.StreakCount {
				t.StreakCount = run
			}
			roiSum = roiSum.Add(p.ROIContribution)
			roiCount++
		case model.ResultLost:
			run = 0
			roiSum = roiSum.Add(p.ROIContribution)
			roiCount++
		}
	}
	if roiCount > 0 {
		t.ROI = roiSum.Div(decimal.NewFromInt(int64(roiCount))).Round(2)
	}
	return t
}

// Less orders entries for ranking: score, ROI and correct picks descending,
// then earlier entry first. The id breaks any remaining tie.
func Less(a, b *model.TournamentEntry) bool {
	if c := a.TotalScore.Cmp(b.TotalScore); c != 0 {
		return c > 0
	}
	if c := a.ROI.Cmp(b.ROI); c != 0 {
		return c > 0
	}
	if a.CorrectPredictions != b.CorrectPredictions {
		return a.CorrectPredictions > b.CorrectPredictions
	}
	if !a.EntryTime.Equal(b.EntryTime) {
		return a.EntryTime.Before(b.EntryTime)
	}
	return a.ID < b.ID
}

// Rank returns a sorted copy of entries; position i holds rank i+1.
func Rank(entries []model.TournamentEntry) []model.TournamentEntry {
	out := make([]model.TournamentEntry, len(entries))
	copy(out, entries)
	sort.SliceStable(out, func(i, j int) bool { return Less(&out[i], &out[j]) })
	return out
}
