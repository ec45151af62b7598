package feed

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/predictcoord/coordinator/internal/store"
)

// BarRow is one row of a Hive-partitioned backfill parquet file: ts_event,
// source, subject, kind, granularity, open, high, low, close, volume,
// meta(json).
type BarRow struct {
	TsEvent     time.Time `parquet:"ts_event,timestamp(millisecond)"`
	Source      string    `parquet:"source"`
	Subject     string    `parquet:"subject"`
	Kind        string    `parquet:"kind"`
	Granularity string    `parquet:"granularity"`
	Open        string    `parquet:"open"`
	High        string    `parquet:"high"`
	Low         string    `parquet:"low"`
	Close       string    `parquet:"close"`
	Volume      string    `parquet:"volume"`
	Meta        string    `parquet:"meta"`
}

// ParquetWriter writes Hive-partitioned backfill files under dataDir, at
// {source}/{subject}/{kind}/{granularity}/YYYY-MM-DD.parquet.
type ParquetWriter struct {
	DataDir string
}

// NewParquetWriter creates a ParquetWriter rooted at dataDir.
func NewParquetWriter(dataDir string) *ParquetWriter {
	return &ParquetWriter{DataDir: dataDir}
}

// WritePartitioned groups records by UTC day and appends each day's rows to
// its partition file, deduping by ts_event against whatever that file
// already holds.
func (w *ParquetWriter) WritePartitioned(scope store.FeedScope, records []store.FeedRecord) error {
	byDay := make(map[string][]store.FeedRecord)
	for _, r := range records {
		day := r.TsEvent.UTC().Format("2006-01-02")
		byDay[day] = append(byDay[day], r)
	}
	for day, dayRecords := range byDay {
		if err := w.writeDay(scope, day, dayRecords); err != nil {
			return fmt.Errorf("write partition %s: %w", day, err)
		}
	}
	return nil
}

func (w *ParquetWriter) partitionPath(scope store.FeedScope, day string) string {
	return filepath.Join(w.DataDir, scope.Source, scope.Subject, scope.Kind, scope.Granularity, day+".parquet")
}

func (w *ParquetWriter) writeDay(scope store.FeedScope, day string, records []store.FeedRecord) error {
	path := w.partitionPath(scope, day)
	existing, err := readRows(path)
	if err != nil {
		return err
	}

	seen := make(map[int64]struct{}, len(existing)+len(records))
	merged := make([]BarRow, 0, len(existing)+len(records))
	for _, row := range existing {
		seen[row.TsEvent.UnixNano()] = struct{}{}
		merged = append(merged, row)
	}
	for _, r := range records {
		key := r.TsEvent.UnixNano()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		merged = append(merged, toBarRow(r))
	}

	sortRowsByTsEvent(merged)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := parquet.Write(f, merged); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("parquet write: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func toBarRow(r store.FeedRecord) BarRow {
	meta := "{}"
	if len(r.Meta) > 0 {
		meta = string(r.Meta)
	}
	return BarRow{
		TsEvent:     r.TsEvent.UTC(),
		Source:      r.Source,
		Subject:     r.Subject,
		Kind:        r.Kind,
		Granularity: r.Granularity,
		Open:        r.Open.String(),
		High:        r.High.String(),
		Low:         r.Low.String(),
		Close:       r.Close.String(),
		Volume:      r.Volume.String(),
		Meta:        meta,
	}
}

func sortRowsByTsEvent(rows []BarRow) {
	for i := 1; i < len(rows); i++ {
		for j := i; j > 0 && rows[j-1].TsEvent.After(rows[j].TsEvent); j-- {
			rows[j-1], rows[j] = rows[j], rows[j-1]
		}
	}
}

func readRows(path string) ([]BarRow, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}
	pf, err := parquet.OpenFile(f, stat.Size())
	if err != nil {
		return nil, fmt.Errorf("open existing partition: %w", err)
	}
	reader := parquet.NewGenericReader[BarRow](pf)
	defer reader.Close()

	rows := make([]BarRow, reader.NumRows())
	n, err := reader.Read(rows)
	if err != nil && n == 0 {
		return nil, fmt.Errorf("read existing partition: %w", err)
	}
	return rows[:n], nil
}
