package feed

import (
	"context"
	"fmt"
	"time"

	"github.com/predictcoord/coordinator/internal/store"
)

// Page is one batch of historical records returned by a SourceAdapter's
// Backfill call, paginated so a restart can resume from Page.Cursor.
type Page struct {
	Records []store.FeedRecord
	Cursor  time.Time
	Done    bool
}

// SourceAdapter is the pluggable seam for upstream feed sources (Pyth,
// Binance, etc.): one concrete implementation per FEED_SOURCE value.
type SourceAdapter interface {
	// Poll returns records with ts_event > since for scope, for the live tape.
	Poll(ctx context.Context, scope store.FeedScope, since time.Time) ([]store.FeedRecord, error)
	// Backfill streams historical pages covering [from, to] for scope.
	Backfill(ctx context.Context, scope store.FeedScope, from, to time.Time) (<-chan Page, error)
}

// Registry maps FEED_SOURCE strings to concrete SourceAdapters, fail-fast on
// an unknown source, mirroring the Shared Contract Layer's callable
// registry design.
type Registry struct {
	adapters map[string]SourceAdapter
}

// NewRegistry creates an empty adapter Registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]SourceAdapter)}
}

// Register adds an adapter under name.
func (r *Registry) Register(name string, a SourceAdapter) {
	r.adapters[name] = a
}

// Resolve returns the adapter registered under name, or an error if unknown.
func (r *Registry) Resolve(name string) (SourceAdapter, error) {
	a, ok := r.adapters[name]
	if !ok {
		return nil, fmt.Errorf("feed: unknown FEED_SOURCE %q", name)
	}
	return a, nil
}
