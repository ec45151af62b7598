package checkpoint

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/predictcoord/coordinator/internal/contract"
	"github.com/predictcoord/coordinator/internal/merkle"
	"github.com/predictcoord/coordinator/internal/observability"
	"github.com/predictcoord/coordinator/internal/store"
)

// Builder runs the periodic Checkpoint build: coarse aggregation of every
// MerkleCycle since the previous Checkpoint into one second-level Merkle
// tree plus a frac64 reward emission payload.
type Builder struct {
	store    *store.Store
	registry *contract.Registry
	contract contract.Config
	crunch   string
	log      *slog.Logger
	metrics  *observability.Metrics
}

// NewBuilder creates a Builder. crunch is the competition identifier stamped
// into every emission payload's Crunch field.
func NewBuilder(s *store.Store, registry *contract.Registry, contractCfg contract.Config, crunch string, log *slog.Logger) *Builder {
	if log == nil {
		log = slog.Default()
	}
	return &Builder{store: s, registry: registry, contract: contractCfg, crunch: crunch, log: log}
}

// SetMetrics attaches the process-wide Prometheus collectors; nil-safe if
// never called.
func (b *Builder) SetMetrics(m *observability.Metrics) { b.metrics = m }

// Report summarizes one completed checkpoint build.
type Report struct {
	CheckpointID string
	CycleCount   int
	ModelCount   int
	MerkleRoot   string
	Skipped      bool
}

// Build runs one checkpoint cycle at wall-clock now. A build with zero
// MerkleCycles collected since the previous Checkpoint is skipped rather
// than committing an empty one, since unlike score ticks checkpoints carry
// an externally-settled emission payload that a prior run may have already
// claimed for this window.
func (b *Builder) Build(now time.Time) (*Report, error) {
	periodStart, err := b.periodStart()
	if err != nil {
		return nil, fmt.Errorf("resolve checkpoint period start: %w", err)
	}
	periodEnd := now

	cycles, err := b.store.MerkleCyclesInRange(store.FormatTime(periodStart), store.FormatTime(periodEnd))
	if err != nil {
		return nil, fmt.Errorf("collect merkle cycles: %w", err)
	}
	if len(cycles) == 0 {
		if b.metrics != nil {
			b.metrics.CheckpointSkipped.Inc()
		}
		return &Report{Skipped: true}, nil
	}

	leaves := make([]string, len(cycles))
	for i, c := range cycles {
		leaves[i] = c.ChainedRoot
	}
	merkleRoot, treeNodes, err := merkle.Build(leaves)
	if err != nil {
		return nil, fmt.Errorf("build checkpoint merkle tree: %w", err)
	}

	storeNodes := make([]store.MerkleNode, 0, len(treeNodes))
	for _, n := range treeNodes {
		storeNodes = append(storeNodes, store.MerkleNode{
			Level:      n.Level,
			Position:   n.Position,
			Hash:       n.Hash,
			LeftChild:  n.Left,
			RightChild: n.Right,
		})
	}

	ranked, err := b.rankModels(periodStart, periodEnd)
	if err != nil {
		return nil, fmt.Errorf("rank models for checkpoint period: %w", err)
	}

	emission, err := b.buildEmission(ranked)
	if err != nil {
		return nil, fmt.Errorf("build emission payload: %w", err)
	}
	emission.Crunch = b.crunch

	cp := store.Checkpoint{
		ID:          store.NewCheckpointID(),
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
		MerkleRoot:  merkleRoot,
		Emission:    emission,
	}
	if err := b.store.CreateCheckpointTx(cp, storeNodes); err != nil {
		return nil, fmt.Errorf("persist checkpoint: %w", err)
	}

	b.log.Info("checkpoint built", "cycles", len(cycles), "models", len(ranked), "merkle_root", merkleRoot)
	if b.metrics != nil {
		b.metrics.CheckpointBuilds.Inc()
	}
	return &Report{
		CheckpointID: cp.ID,
		CycleCount:   len(cycles),
		ModelCount:   len(ranked),
		MerkleRoot:   merkleRoot,
	}, nil
}

// periodStart is the previous Checkpoint's period_end, or the zero time for
// the very first checkpoint, so MerkleCyclesInRange's window never gaps or
// overlaps across checkpoint builds.
func (b *Builder) periodStart() (time.Time, error) {
	prev, err := b.store.LatestCheckpoint()
	if err != nil {
		return time.Time{}, err
	}
	if prev == nil {
		return time.Time{}, nil
	}
	return prev.PeriodEnd, nil
}

// modelSummary accumulates one model's checkpoint-period aggregate across
// every Snapshot collected in the window, weighted by prediction_count.
type modelSummary struct {
	modelID         string
	predictionCount int
	weightedSum     float64
	weightTotal     float64
}

// rankModels aggregates Snapshots over [periodStart, periodEnd) into one
// ranking-key value per non-virtual model, weighted by each snapshot's
// prediction_count, then sorts descending (or ascending, per
// Aggregation.RankingDirection) with model_id as the deterministic
// tie-break.
func (b *Builder) rankModels(periodStart, periodEnd time.Time) ([]contract.RankedEntry, error) {
	snapshots, err := b.store.SnapshotsSince(store.FormatTime(periodStart), store.FormatTime(periodEnd))
	if err != nil {
		return nil, err
	}

	key := b.contract.Aggregation.RankingKey
	if key == "" {
		key = "mean_value"
	}

	byModel := make(map[string]*modelSummary)
	var order []string
	for _, sn := range snapshots {
		if store.IsEnsembleModelID(sn.ModelID) {
			continue
		}
		ms, ok := byModel[sn.ModelID]
		if !ok {
			ms = &modelSummary{modelID: sn.ModelID}
			byModel[sn.ModelID] = ms
			order = append(order, sn.ModelID)
		}
		weight := float64(sn.PredictionCount)
		if weight <= 0 {
			weight = 1
		}
		value := summaryValue(sn.ResultSummary, key)
		ms.predictionCount += sn.PredictionCount
		ms.weightedSum += value * weight
		ms.weightTotal += weight
	}

	type scored struct {
		modelID string
		value   float64
	}
	rows := make([]scored, 0, len(order))
	for _, id := range order {
		ms := byModel[id]
		v := 0.0
		if ms.weightTotal > 0 {
			v = ms.weightedSum / ms.weightTotal
		}
		rows = append(rows, scored{modelID: id, value: v})
	}

	descending := b.contract.Aggregation.RankingDirection != "asc"
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].value != rows[j].value {
			if descending {
				return rows[i].value > rows[j].value
			}
			return rows[i].value < rows[j].value
		}
		return rows[i].modelID < rows[j].modelID
	})

	ranked := make([]contract.RankedEntry, len(rows))
	for i, r := range rows {
		ranked[i] = contract.RankedEntry{ModelID: r.modelID, Rank: i + 1, Score: r.value}
	}
	return ranked, nil
}

func summaryValue(raw json.RawMessage, key string) float64 {
	if len(raw) == 0 {
		return 0
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return 0
	}
	if f, ok := decoded[key].(float64); ok {
		return f
	}
	return 0
}

// buildEmission delegates to the configured BuildEmission callable, falling
// back to DefaultBuildEmission's tier schedule when the optional slot was
// left unconfigured. Either path is validated against the frac64 invariant
// before it is allowed to reach CreateCheckpointTx.
func (b *Builder) buildEmission(ranked []contract.RankedEntry) (store.EmissionPayload, error) {
	fn := b.registry.BuildEmission()
	var payload store.EmissionPayload
	var err error
	if fn != nil {
		payload, err = fn(ranked)
	} else {
		payload, err = DefaultBuildEmission(ranked)
	}
	if err != nil {
		return store.EmissionPayload{}, err
	}
	if err := ValidateEmission(payload); err != nil {
		return store.EmissionPayload{}, err
	}
	return payload, nil
}
