package score

import (
	"encoding/json"
	"fmt"

	"github.com/predictcoord/coordinator/internal/contract"
	"github.com/predictcoord/coordinator/internal/store"
)

// safeScore invokes a user-registered ScoringFunc, converting a panic into
// an error so one misbehaving callable cannot take down the tick; the
// caller converts the error into a FAILED prediction rather than
// propagating it.
func safeScore(fn contract.ScoringFunc, inferenceOutput, actuals json.RawMessage) (score store.Score, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scoring function panicked: %v", r)
		}
	}()
	sc, serr := fn(inferenceOutput, actuals)
	if serr != nil {
		return store.Score{}, serr
	}
	return sc, nil
}
