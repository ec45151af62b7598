package score

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/predictcoord/coordinator/internal/store"
)

// rebuildLeaderboard implements Phase G: rank every model by its most recent
// snapshot's Aggregation.RankingKey metric, tie-broken by model_id for
// determinism, and persist the result as a new immutable Leaderboard row.
func (e *Engine) rebuildLeaderboard(now time.Time) (*store.Leaderboard, error) {
	snapshots, err := e.store.LatestSnapshotPerModel()
	if err != nil {
		return nil, fmt.Errorf("load latest snapshot per model: %w", err)
	}
	if len(snapshots) == 0 {
		return nil, nil
	}

	key := e.contract.Aggregation.RankingKey
	if key == "" {
		key = "mean_value"
	}
	descending := e.contract.Aggregation.RankingDirection != "asc"

	type scored struct {
		modelID string
		value   float64
		metrics map[string]float64
	}
	rows := make([]scored, 0, len(snapshots))
	for _, sn := range snapshots {
		metrics := summaryMetrics(sn.ResultSummary)
		rows = append(rows, scored{modelID: sn.ModelID, value: metrics[key], metrics: metrics})
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].value != rows[j].value {
			if descending {
				return rows[i].value > rows[j].value
			}
			return rows[i].value < rows[j].value
		}
		return rows[i].modelID < rows[j].modelID
	})

	entries := make([]store.LeaderboardEntry, len(rows))
	for i, r := range rows {
		entries[i] = store.LeaderboardEntry{
			Rank:    i + 1,
			ModelID: r.modelID,
			Score:   r.value,
			Metrics: r.metrics,
		}
	}

	lb := store.Leaderboard{ID: store.NewLeaderboardID(), Entries: entries}
	if err := e.store.PutLeaderboard(lb); err != nil {
		return nil, fmt.Errorf("persist leaderboard: %w", err)
	}
	return &lb, nil
}

func summaryMetrics(raw json.RawMessage) map[string]float64 {
	out := make(map[string]float64)
	if len(raw) == 0 {
		return out
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return out
	}
	for k, v := range decoded {
		if f, ok := v.(float64); ok {
			out[k] = f
		}
	}
	return out
}
