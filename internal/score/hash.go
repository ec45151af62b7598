package score

import (
	"encoding/json"
	"time"

	"github.com/predictcoord/coordinator/internal/merkle"
	"github.com/predictcoord/coordinator/internal/store"
)

// canonicalHash computes content_hash = SHA256(canonical_json(...)).
// encoding/json already marshals map[string]any keys in sorted order with
// no extra whitespace, which is exactly the sorted-keys, minimal-separators
// canonical form needed here, so no third-party canonical-JSON library is
// pulled in for this single call site.
func canonicalHash(modelID string, periodStart, periodEnd time.Time, predictionCount int, resultSummary json.RawMessage) (string, error) {
	doc := map[string]any{
		"model_id":         modelID,
		"period_start":     store.FormatTime(periodStart),
		"period_end":       store.FormatTime(periodEnd),
		"prediction_count": predictionCount,
		"result_summary":   summaryAsValue(resultSummary),
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return "", err
	}
	return merkle.HashBytes(data), nil
}

// summaryAsValue decodes resultSummary into a plain Go value so its keys
// participate in the outer document's sorted-key canonicalization, rather
// than being embedded as an opaque raw byte blob.
func summaryAsValue(resultSummary json.RawMessage) any {
	if len(resultSummary) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(resultSummary, &v); err != nil {
		return string(resultSummary)
	}
	return v
}
