package feed

import (
	"context"
	"time"

	"github.com/predictcoord/coordinator/internal/store"
	"github.com/yanun0323/decimal"
)

// SyntheticAdapter generates deterministic OHLCV bars at a fixed step, for
// tests and demos where no real market-data source is configured.
type SyntheticAdapter struct {
	Step time.Duration
}

// NewSyntheticAdapter creates a SyntheticAdapter producing one bar every step.
func NewSyntheticAdapter(step time.Duration) *SyntheticAdapter {
	if step <= 0 {
		step = time.Minute
	}
	return &SyntheticAdapter{Step: step}
}

func (a *SyntheticAdapter) Poll(ctx context.Context, scope store.FeedScope, since time.Time) ([]store.FeedRecord, error) {
	now := time.Now().UTC().Truncate(a.Step)
	var out []store.FeedRecord
	for t := since.Add(a.Step); !t.After(now); t = t.Add(a.Step) {
		out = append(out, a.barAt(scope, t))
	}
	return out, nil
}

func (a *SyntheticAdapter) Backfill(ctx context.Context, scope store.FeedScope, from, to time.Time) (<-chan Page, error) {
	ch := make(chan Page)
	go func() {
		defer close(ch)
		cursor := from
		for cursor.Before(to) {
			pageEnd := cursor.Add(24 * time.Hour)
			if pageEnd.After(to) {
				pageEnd = to
			}
			var records []store.FeedRecord
			for t := cursor; t.Before(pageEnd); t = t.Add(a.Step) {
				records = append(records, a.barAt(scope, t))
			}
			select {
			case ch <- Page{Records: records, Cursor: pageEnd, Done: !pageEnd.Before(to)}:
			case <-ctx.Done():
				return
			}
			cursor = pageEnd
		}
	}()
	return ch, nil
}

func (a *SyntheticAdapter) barAt(scope store.FeedScope, t time.Time) store.FeedRecord {
	phase := float64(t.Unix()%3600) / 3600.0
	base := 100 + 10*phase
	d := func(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }
	return store.FeedRecord{
		Source:      scope.Source,
		Subject:     scope.Subject,
		Kind:        scope.Kind,
		Granularity: scope.Granularity,
		TsEvent:     t,
		Open:        d(base),
		High:        d(base + 1),
		Low:         d(base - 1),
		Close:       d(base + 0.5),
		Volume:      d(1000 + 10*phase),
	}
}
