package model

import (
	"fmt"
	"sort"
)

// MetaKey names a recognised ledger metadata field.
type MetaKey string

const (
	MetaDepositID    MetaKey = "deposit_id"
	MetaWithdrawalID MetaKey = "withdrawal_id"
	MetaMethod       MetaKey = "method"
	MetaTournamentID MetaKey = "tournament_id"
	MetaEntryID      MetaKey = "entry_id"
	MetaFinalRank    MetaKey = "final_rank"
	MetaPercentage   MetaKey = "percentage"
	MetaReversalOf   MetaKey = "reversal_of"
	MetaReason       MetaKey = "reason"
	MetaCampaign     MetaKey = "campaign"
	MetaFeeKind      MetaKey = "fee_kind"
)

// Metadata is the typed key/value map attached to a ledger entry.
type Metadata map[MetaKey]string

var recognizedKeys = map[Category][]MetaKey{
	CategoryDeposit:          {MetaDepositID, MetaMethod},
	CategoryWithdrawal:       {MetaWithdrawalID, MetaMethod, MetaReversalOf, MetaReason},
	CategoryTournamentEntry:  {MetaTournamentID},
	CategoryTournamentPrize:  {MetaTournamentID, MetaEntryID, MetaFinalRank, MetaPercentage},
	CategoryTournamentRefund: {MetaTournamentID, MetaEntryID, MetaReason},
	CategoryBonus:            {MetaCampaign, MetaReason},
	CategoryFee:              {MetaFeeKind, MetaReason},
	CategoryAdminAdjustment:  {MetaReason, MetaReversalOf},
}

// RecognizedKeys lists the keys accepted for a category.
func RecognizedKeys(c Category) []MetaKey {
	return recognizedKeys[c]
}

// Validate rejects keys that are not recognised for the category.
func (m Metadata) Validate(c Category) error {
	allowed, ok := recognizedKeys[c]
	if !ok {
		return fmt.Errorf("unknown ledger category %q", c)
	}
	var unknown []string
	for k := range m {
		found := false
		for _, a := range allowed {
			if a == k {
				found = true
				break
			}
		}
		if !found {
			unknown = append(unknown, string(k))
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return fmt.Errorf("metadata keys %v not allowed for %s", unknown, c)
	}
	return nil
}

// With returns a copy of m with k set to v.
func (m Metadata) With(k MetaKey, v string) Metadata {
	out := make(Metadata, len(m)+1)
	for key, val := range m {
		out[key] = val
	}
	out[k] = v
	return out
}
