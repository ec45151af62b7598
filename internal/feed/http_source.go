package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/predictcoord/coordinator/internal/store"
	"github.com/yanun0323/decimal"
)

// HTTPSourceAdapter polls a REST endpoint for OHLCV bars, the pluggable
// shape for concrete sources like Pyth or Binance. The wire shape below is
// intentionally generic; a deployment wires a concrete base URL and
// subject-to-path mapping through NewHTTPSourceAdapter's arguments.
type HTTPSourceAdapter struct {
	BaseURL    string
	HTTPClient *http.Client
	PathFor    func(scope store.FeedScope) string
}

// NewHTTPSourceAdapter creates an HTTPSourceAdapter against baseURL.
func NewHTTPSourceAdapter(baseURL string, pathFor func(store.FeedScope) string) *HTTPSourceAdapter {
	return &HTTPSourceAdapter{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
		PathFor:    pathFor,
	}
}

type barsResponse struct {
	Bars []wireBar `json:"bars"`
	Next string    `json:"next_cursor,omitempty"`
}

type wireBar struct {
	TsEvent string `json:"ts_event"`
	Open    string `json:"open"`
	High    string `json:"high"`
	Low     string `json:"low"`
	Close   string `json:"close"`
	Volume  string `json:"volume"`
}

func (a *HTTPSourceAdapter) Poll(ctx context.Context, scope store.FeedScope, since time.Time) ([]store.FeedRecord, error) {
	path := a.PathFor(scope)
	query := fmt.Sprintf("%s?since=%s", path, since.UTC().Format(time.RFC3339))
	var resp barsResponse
	if err := a.doRequest(ctx, query, &resp); err != nil {
		return nil, fmt.Errorf("poll %s: %w", scope.Subject, err)
	}
	return decodeBars(scope, resp.Bars)
}

func (a *HTTPSourceAdapter) Backfill(ctx context.Context, scope store.FeedScope, from, to time.Time) (<-chan Page, error) {
	ch := make(chan Page)
	go func() {
		defer close(ch)
		cursor := from
		path := a.PathFor(scope)
		for {
			query := fmt.Sprintf("%s?since=%s&until=%s", path, cursor.UTC().Format(time.RFC3339), to.UTC().Format(time.RFC3339))
			var resp barsResponse
			if err := a.doRequest(ctx, query, &resp); err != nil {
				return
			}
			records, err := decodeBars(scope, resp.Bars)
			if err != nil || len(records) == 0 {
				select {
				case ch <- Page{Cursor: to, Done: true}:
				case <-ctx.Done():
				}
				return
			}
			last := records[len(records)-1].TsEvent
			done := resp.Next == "" || !last.Before(to)
			select {
			case ch <- Page{Records: records, Cursor: last, Done: done}:
			case <-ctx.Done():
				return
			}
			if done {
				return
			}
			cursor = last
		}
	}()
	return ch, nil
}

func decodeBars(scope store.FeedScope, bars []wireBar) ([]store.FeedRecord, error) {
	out := make([]store.FeedRecord, 0, len(bars))
	for _, b := range bars {
		ts, err := time.Parse(time.RFC3339, b.TsEvent)
		if err != nil {
			return nil, fmt.Errorf("parse ts_event %q: %w", b.TsEvent, err)
		}
		out = append(out, store.FeedRecord{
			Source:      scope.Source,
			Subject:     scope.Subject,
			Kind:        scope.Kind,
			Granularity: scope.Granularity,
			TsEvent:     ts,
			Open:        parseDecimalOrZero(b.Open),
			High:        parseDecimalOrZero(b.High),
			Low:         parseDecimalOrZero(b.Low),
			Close:       parseDecimalOrZero(b.Close),
			Volume:      parseDecimalOrZero(b.Volume),
		})
	}
	return out, nil
}

func parseDecimalOrZero(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func (a *HTTPSourceAdapter) doRequest(ctx context.Context, path string, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.BaseURL+path, bytes.NewReader(nil))
	if err != nil {
		return err
	}
	resp, err := a.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		json.Unmarshal(data, &apiErr)
		return fmt.Errorf("source returned %d: %s", resp.StatusCode, apiErr.Error)
	}
	return json.Unmarshal(data, result)
}
