package builtins_test

import (
	"encoding/json"
	"testing"

	"github.com/predictcoord/coordinator/internal/builtins"
	"github.com/predictcoord/coordinator/internal/store"
	"github.com/yanun0323/decimal"
)

func closeRecord(v float64) store.FeedRecord {
	return store.FeedRecord{Close: decimal.NewFromFloat(v)}
}

func TestWindowedSignalV1ExtractsClosesInOrder(t *testing.T) {
	window := []store.FeedRecord{closeRecord(100), closeRecord(101), closeRecord(99)}
	doc, err := builtins.WindowedSignalV1(window, store.FeedScope{})
	if err != nil {
		t.Fatalf("WindowedSignalV1: %v", err)
	}
	var out struct {
		Closes []float64 `json:"closes"`
	}
	if err := json.Unmarshal(doc, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	want := []float64{100, 101, 99}
	for i, w := range want {
		if out.Closes[i] != w {
			t.Fatalf("closes[%d] = %v, want %v", i, out.Closes[i], w)
		}
	}
}

func TestDirectionV1ClampsToUnitRange(t *testing.T) {
	doc, err := builtins.DirectionV1(json.RawMessage(`{"direction": 5}`))
	if err != nil {
		t.Fatalf("DirectionV1: %v", err)
	}
	var out struct {
		Direction float64 `json:"direction"`
	}
	if err := json.Unmarshal(doc, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Direction != 1 {
		t.Fatalf("direction = %v, want clamped to 1", out.Direction)
	}
}

func TestDirectionV1RejectsNonFinite(t *testing.T) {
	if _, err := builtins.DirectionV1(json.RawMessage(`{"direction": "NaN"}`)); err == nil {
		t.Fatal("expected DirectionV1 to reject a non-numeric direction")
	}
}

func TestCloseToCloseV1ComputesRealizedReturn(t *testing.T) {
	window := []store.FeedRecord{closeRecord(100), closeRecord(110)}
	doc, err := builtins.CloseToCloseV1(store.FeedScope{}, window)
	if err != nil {
		t.Fatalf("CloseToCloseV1: %v", err)
	}
	var out struct {
		RealizedReturn float64 `json:"realized_return"`
	}
	if err := json.Unmarshal(doc, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.RealizedReturn != 0.1 {
		t.Fatalf("realized_return = %v, want 0.1", out.RealizedReturn)
	}
}

func TestCloseToCloseV1NullOnShortWindow(t *testing.T) {
	doc, err := builtins.CloseToCloseV1(store.FeedScope{}, []store.FeedRecord{closeRecord(100)})
	if err != nil {
		t.Fatalf("CloseToCloseV1: %v", err)
	}
	if string(doc) != "null" {
		t.Fatalf("doc = %q, want null for a window too short to support a return", doc)
	}
}

func TestCloseToCloseV1NullOnZeroFirstClose(t *testing.T) {
	window := []store.FeedRecord{closeRecord(0), closeRecord(10)}
	doc, err := builtins.CloseToCloseV1(store.FeedScope{}, window)
	if err != nil {
		t.Fatalf("CloseToCloseV1: %v", err)
	}
	if string(doc) != "null" {
		t.Fatalf("doc = %q, want null for a zero first close", doc)
	}
}

func TestDirectionVsReturnV1RewardsCorrectDirection(t *testing.T) {
	inference := json.RawMessage(`{"direction": 1}`)
	actuals := json.RawMessage(`{"realized_return": 0.05}`)
	score, err := builtins.DirectionVsReturnV1(inference, actuals)
	if err != nil {
		t.Fatalf("DirectionVsReturnV1: %v", err)
	}
	if !score.Success {
		t.Fatal("expected Success to be true")
	}
	if score.Value <= 0 {
		t.Fatalf("score value = %v, want > 0 for a correct directional call", score.Value)
	}
}

func TestDirectionVsReturnV1PenalizesWrongDirection(t *testing.T) {
	inference := json.RawMessage(`{"direction": 1}`)
	actuals := json.RawMessage(`{"realized_return": -0.05}`)
	score, err := builtins.DirectionVsReturnV1(inference, actuals)
	if err != nil {
		t.Fatalf("DirectionVsReturnV1: %v", err)
	}
	if score.Value >= 0 {
		t.Fatalf("score value = %v, want < 0 for a wrong-signed call", score.Value)
	}
}
