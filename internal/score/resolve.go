package score

import (
	"bytes"
	"fmt"
	"time"

	"github.com/predictcoord/coordinator/internal/store"
)

// resolveInputs implements Phase A: resolve every due Input against ground
// truth, falling back to the null-actuals sentinel once an Input outlives
// the resolution TTL.
func (e *Engine) resolveInputs(now time.Time) (resolved, expired int, err error) {
	due, err := e.store.ResolvableInputs(now)
	if err != nil {
		return 0, 0, fmt.Errorf("list resolvable inputs: %w", err)
	}

	subjectByConfig := make(map[string]string)
	subjectFor := func(configID string) (string, error) {
		if s, ok := subjectByConfig[configID]; ok {
			return s, nil
		}
		cfg, err := e.store.GetScheduledConfig(configID)
		if err != nil {
			return "", err
		}
		subjectByConfig[configID] = cfg.Subject
		return cfg.Subject, nil
	}

	for _, in := range due {
		subject, err := subjectFor(in.ConfigID)
		if err != nil {
			e.log.Warn("resolve input: config lookup failed", "input_id", in.ID, "error", err)
			continue
		}
		scope := e.feedScope(subject)

		window, err := e.store.FeedWindow(scope, in.ResolvableAt, in.ResolvableAt.Add(e.cfg.ResolutionGrace))
		if err != nil {
			e.log.Warn("resolve input: feed window fetch failed", "input_id", in.ID, "error", err)
			continue
		}

		actuals, gerr := e.registry.ResolveGroundTruth()(scope, window)
		if gerr != nil {
			e.log.Warn("resolve input: ResolveGroundTruth errored", "input_id", in.ID, "error", gerr)
			continue
		}
		if actuals == nil || bytes.Equal(bytes.TrimSpace(actuals), []byte("null")) {
			if now.Sub(in.ResolvableAt) >= e.cfg.InputTTL {
				if err := e.expireInput(in); err != nil {
					e.log.Warn("resolve input: expire failed", "input_id", in.ID, "error", err)
					continue
				}
				expired++
			}
			continue
		}

		if err := e.store.ResolveInput(in.ID, actuals); err != nil {
			e.log.Warn("resolve input: commit failed", "input_id", in.ID, "error", err)
			continue
		}
		resolved++
	}
	return resolved, expired, nil
}

func (e *Engine) expireInput(in store.Input) error {
	if err := e.store.ResolveInputWithNullSentinel(in.ID); err != nil {
		return err
	}
	_, err := e.store.FailPredictionsForInput(in.ID, "no ground truth")
	return err
}
