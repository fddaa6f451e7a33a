package scoring

import (
	"sort"

	"github.com/richardliu001/prediction-tournament/internal/model"
	"github.com/shopspring/decimal"
)

func tier(threshold, multiplier string) model.BonusTier {
	return model.BonusTier{Threshold: decimal.RequireFromString(threshold), Multiplier: decimal.RequireFromString(multiplier)}
}

// DefaultRules are the bonus thresholds used when a tournament sets none.
func DefaultRules() model.ScoringRules {
	return model.ScoringRules{
		StreakTiers:      []model.BonusTier{tier("5", "1.25"), tier("4", "1.20"), tier("3", "1.15")},
		PerfectPickTiers: []model.BonusTier{tier("5", "1.5"), tier("10", "1.3"), tier("15", "1.2")},
		ROITiers:         []model.BonusTier{tier("50", "1.25"), tier("25", "1.20"), tier("10", "1.15")},
	}
}

// Normalize fills empty tier lists from DefaultRules.
func Normalize(r model.ScoringRules) model.ScoringRules {
	d := DefaultRules()
	if len(r.StreakTiers) == 0 {
		r.StreakTiers = d.StreakTiers
	}
	if len(r.PerfectPickTiers) == 0 {
		r.PerfectPickTiers = d.PerfectPickTiers
	}
	if len(r.ROITiers) == 0 {
		r.ROITiers = d.ROITiers
	}
	return r
}

// BonusMultiplier is streak x perfect pick x ROI bonus for the next pick.
func BonusMultiplier(prior []model.TournamentPrediction, currentROI decimal.Decimal, rules model.ScoringRules) decimal.Decimal {
	rules = Normalize(rules)
	return StreakBonus(prior, rules).
		Mul(PerfectPickBonus(prior, rules)).
		Mul(ROIBonus(currentROI, rules))
}

// StreakBonus counts the correct picks immediately preceding the next one.
func StreakBonus(prior []model.TournamentPrediction, rules model.ScoringRules) decimal.Decimal {
	streak := 0
	for i := len(prior) - 1; i >= 0 && prior[i].IsCorrect; i-- {
		streak++
	}
	return atLeast(Normalize(rules).StreakTiers, decimal.NewFromInt(int64(streak)))
}

// PerfectPickBonus rewards following a correct long shot. The implied
// probability of the previous pick must fall below a tier threshold.
func PerfectPickBonus(prior []model.TournamentPrediction, rules model.ScoringRules) decimal.Decimal {
	if len(prior) == 0 || !prior[len(prior)-1].IsCorrect {
		return one
	}
	last := prior[len(prior)-1]
	implied := ImpliedProbability(last.EffectiveOdds())
	tiers := sortedTiers(Normalize(rules).PerfectPickTiers, true)
	for _, t := range tiers {
		if implied.LessThan(t.Threshold) {
			return t.Multiplier
		}
	}
	return one
}

// ROIBonus scales with the entry ROI at the time of the pick.
func ROIBonus(roi decimal.Decimal, rules model.ScoringRules) decimal.Decimal {
	return atLeast(Normalize(rules).ROITiers, roi)
}

// atLeast returns the multiplier of the highest tier whose threshold v reaches.
func atLeast(tiers []model.BonusTier, v decimal.Decimal) decimal.Decimal {
	for _, t := range sortedTiers(tiers, false) {
		if v.GreaterThanOrEqual(t.Threshold) {
			return t.Multiplier
		}
	}
	return one
}

func sortedTiers(tiers []model.BonusTier, asc bool) []model.BonusTier {
	out := make([]model.BonusTier, len(tiers))
	copy(out, tiers)
	sort.SliceStable(out, func(i, j int) bool {
		if asc {
			return out[i].Threshold.LessThan(out[j].Threshold)
		}
		return out[i].Threshold.GreaterThan(out[j].Threshold)
	})
	return out
}
