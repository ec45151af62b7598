// Package checkpoint implements the Checkpoint Builder: coarse aggregation
// of MerkleCycles into a second-level Merkle tree and a frac64 reward
// emission payload for external settlement.
package checkpoint

import (
	"fmt"

	"github.com/predictcoord/coordinator/internal/contract"
	"github.com/predictcoord/coordinator/internal/store"
)

// FracDenominator is frac64's fixed-point denominator: 1e9 = 100%.
const FracDenominator uint64 = 1_000_000_000

// defaultTierShare returns the un-redistributed frac64 share for rank, from
// the default tier table: rank 1 gets 35%, ranks 2-5 get 10% each, ranks
// 6-10 get 5% each, anything past 10 gets 0.
func defaultTierShare(rank int) uint64 {
	switch {
	case rank == 1:
		return 350_000_000
	case rank >= 2 && rank <= 5:
		return 100_000_000
	case rank >= 6 && rank <= 10:
		return 50_000_000
	default:
		return 0
	}
}

// DefaultBuildEmission is the fallback BuildEmission callable used when no
// custom one is registered: rank all non-virtual models, allocate the
// default tier schedule, redistribute any residual from unfilled tiers
// equally across every ranked entry, and absorb rounding drift onto rank 1
// so the total is exactly FracDenominator.
func DefaultBuildEmission(ranked []contract.RankedEntry) (store.EmissionPayload, error) {
	n := len(ranked)
	if n == 0 {
		return store.EmissionPayload{}, nil
	}

	base := make([]uint64, n)
	var sum uint64
	for i, entry := range ranked {
		rank := entry.Rank
		if rank == 0 {
			rank = i + 1
		}
		base[i] = defaultTierShare(rank)
		sum += base[i]
	}
	if sum > FracDenominator {
		return store.EmissionPayload{}, fmt.Errorf("checkpoint: default tier shares overflow frac64 denominator: %d > %d", sum, FracDenominator)
	}

	residual := FracDenominator - sum
	share := residual / uint64(n)
	remainder := residual % uint64(n)

	rewards := make([]store.CruncherReward, n)
	var total uint64
	for i, entry := range ranked {
		pct := base[i] + share
		rewards[i] = store.CruncherReward{CruncherIndex: i, ModelID: entry.ModelID, RewardPct: pct}
		total += pct
	}
	// Rank 1 (index 0) absorbs the integer-division remainder so the total
	// lands exactly on FracDenominator.
	rewards[0].RewardPct += remainder
	total += remainder

	if total != FracDenominator {
		return store.EmissionPayload{}, fmt.Errorf("checkpoint: emission invariant violated: sum=%d want=%d", total, FracDenominator)
	}

	return store.EmissionPayload{CruncherRewards: rewards}, nil
}

// ValidateEmission enforces the core emission invariant: the
// cruncher_rewards sum must equal FracDenominator exactly. Called before
// the Checkpoint transaction commits; a non-nil error aborts it.
func ValidateEmission(payload store.EmissionPayload) error {
	var sum uint64
	for _, r := range payload.CruncherRewards {
		sum += r.RewardPct
	}
	if sum != FracDenominator {
		return fmt.Errorf("checkpoint: cruncher_rewards sum to %d, want %d", sum, FracDenominator)
	}
	return nil
}
