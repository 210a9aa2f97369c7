package booking

import (
	"sort"
	"time"
)

// PenaltyResult is the outcome of a penalty computation.
type PenaltyResult struct {
	Applied     bool
	AmountCents int64
}

// PenaltyPolicy maps time-to-match and booking price to a cancellation
// penalty. Implementations must be pure: no I/O, no clock reads.
type PenaltyPolicy interface {
	Compute(now, matchTime time.Time, priceCents int64) PenaltyResult
}

// PenaltyTier charges PenaltyPercent of the booking price when the
// cancellation lands at or above MinHoursBefore hours before the match.
type PenaltyTier struct {
	MinHoursBefore int64
	PenaltyPercent int64
}

// TierPolicy is the standard tiered policy: free at or above
// FreeHoursBefore hours out, otherwise the applicable tier's percentage of
// the price. The tier with the smallest MinHoursBefore is the maximum tier.
type TierPolicy struct {
	FreeHoursBefore int64
	Tiers           []PenaltyTier
}

// Compute picks the tier whose MinHoursBefore is the largest value not
// exceeding the remaining hours. Cancelling after the match time is
// deterministic: it charges the maximum tier, never an error.
func (p TierPolicy) Compute(now, matchTime time.Time, priceCents int64) PenaltyResult {
	hoursRemaining := matchTime.Sub(now).Hours()
	if hoursRemaining >= float64(p.FreeHoursBefore) {
		return PenaltyResult{}
	}
	if len(p.Tiers) == 0 {
		return PenaltyResult{Applied: true}
	}

	tiers := make([]PenaltyTier, len(p.Tiers))
	copy(tiers, p.Tiers)
	sort.Slice(tiers, func(i, j int) bool {
		return tiers[i].MinHoursBefore > tiers[j].MinHoursBefore
	})

	if hoursRemaining < 0 {
		hoursRemaining = 0
	}
	tier := tiers[len(tiers)-1]
	for _, t := range tiers {
		if float64(t.MinHoursBefore) <= hoursRemaining {
			tier = t
			break
		}
	}
	return PenaltyResult{
		Applied:     true,
		AmountCents: priceCents * tier.PenaltyPercent / 100,
	}
}

// PolicyFunc adapts a function to PenaltyPolicy.
type PolicyFunc func(now, matchTime time.Time, priceCents int64) PenaltyResult

func (f PolicyFunc) Compute(now, matchTime time.Time, priceCents int64) PenaltyResult {
	return f(now, matchTime, priceCents)
}
