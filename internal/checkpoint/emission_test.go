package checkpoint_test

import (
	"testing"

	"github.com/predictcoord/coordinator/internal/checkpoint"
	"github.com/predictcoord/coordinator/internal/contract"
	"github.com/predictcoord/coordinator/internal/store"
)

func TestDefaultBuildEmissionSumsToDenominator(t *testing.T) {
	ranked := make([]contract.RankedEntry, 12)
	for i := range ranked {
		ranked[i] = contract.RankedEntry{ModelID: "model_" + string(rune('a'+i)), Rank: i + 1}
	}

	payload, err := checkpoint.DefaultBuildEmission(ranked)
	if err != nil {
		t.Fatalf("DefaultBuildEmission: %v", err)
	}

	var sum uint64
	for _, r := range payload.CruncherRewards {
		sum += r.RewardPct
	}
	if sum != checkpoint.FracDenominator {
		t.Fatalf("sum = %d, want %d", sum, checkpoint.FracDenominator)
	}
	if len(payload.CruncherRewards) != 12 {
		t.Fatalf("got %d rewards, want 12", len(payload.CruncherRewards))
	}
}

func TestDefaultBuildEmissionRewardsTopRanksMore(t *testing.T) {
	ranked := []contract.RankedEntry{
		{ModelID: "a", Rank: 1},
		{ModelID: "b", Rank: 2},
		{ModelID: "c", Rank: 20},
	}
	payload, err := checkpoint.DefaultBuildEmission(ranked)
	if err != nil {
		t.Fatalf("DefaultBuildEmission: %v", err)
	}
	if payload.CruncherRewards[0].RewardPct <= payload.CruncherRewards[1].RewardPct {
		t.Fatalf("rank 1 reward %d should exceed rank 2 reward %d",
			payload.CruncherRewards[0].RewardPct, payload.CruncherRewards[1].RewardPct)
	}
	if payload.CruncherRewards[1].RewardPct <= payload.CruncherRewards[2].RewardPct {
		t.Fatalf("rank 2 reward %d should exceed rank 20 reward %d",
			payload.CruncherRewards[1].RewardPct, payload.CruncherRewards[2].RewardPct)
	}
}

func TestDefaultBuildEmissionEmpty(t *testing.T) {
	payload, err := checkpoint.DefaultBuildEmission(nil)
	if err != nil {
		t.Fatalf("DefaultBuildEmission: %v", err)
	}
	if len(payload.CruncherRewards) != 0 {
		t.Fatalf("expected no rewards for an empty ranking, got %+v", payload.CruncherRewards)
	}
}

func TestValidateEmissionRejectsWrongSum(t *testing.T) {
	err := checkpoint.ValidateEmission(emissionWithSum(900_000_000))
	if err == nil {
		t.Fatal("expected ValidateEmission to reject a sum below the denominator")
	}
}

func TestValidateEmissionAcceptsExactSum(t *testing.T) {
	err := checkpoint.ValidateEmission(emissionWithSum(checkpoint.FracDenominator))
	if err != nil {
		t.Fatalf("ValidateEmission: %v", err)
	}
}

func emissionWithSum(sum uint64) store.EmissionPayload {
	return store.EmissionPayload{
		CruncherRewards: []store.CruncherReward{{CruncherIndex: 0, RewardPct: sum}},
	}
}
