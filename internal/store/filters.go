package store

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// SnapshotFilter describes a reporting-surface query over snapshots.
type SnapshotFilter struct {
	ModelID      string     `json:"model_id,omitempty"`
	PeriodAfter  *time.Time `json:"period_after,omitempty"`
	PeriodBefore *time.Time `json:"period_before,omitempty"`
	Sort         string     `json:"sort,omitempty"`
	Order        string     `json:"order,omitempty"`
	Cursor       string     `json:"cursor,omitempty"`
	Limit        int        `json:"limit,omitempty"`
}

// EncodeCursor encodes an offset as a base64 cursor.
func EncodeCursor(offset int) string {
	data, _ := json.Marshal(map[string]int{"offset": offset})
	return base64.StdEncoding.EncodeToString(data)
}

// DecodeCursor decodes a base64 cursor to an offset, defaulting to 0 on failure.
func DecodeCursor(cursor string) int {
	data, err := base64.StdEncoding.DecodeString(cursor)
	if err != nil {
		return 0
	}
	var m map[string]int
	if err := json.Unmarshal(data, &m); err != nil {
		return 0
	}
	return m["offset"]
}

func buildSnapshotQuery(f SnapshotFilter) (query, countQuery string, args, countArgs []interface{}) {
	var conditions []string
	var queryArgs []interface{}

	if f.ModelID != "" {
		conditions = append(conditions, "model_id = ?")
		queryArgs = append(queryArgs, f.ModelID)
	}
	if f.PeriodAfter != nil {
		conditions = append(conditions, "period_end > ?")
		queryArgs = append(queryArgs, formatTime(*f.PeriodAfter))
	}
	if f.PeriodBefore != nil {
		conditions = append(conditions, "period_end < ?")
		queryArgs = append(queryArgs, formatTime(*f.PeriodBefore))
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	sortCol := "period_end"
	if f.Sort == "model_id" {
		sortCol = "model_id"
	}
	order := "DESC"
	if f.Order == "asc" {
		order = "ASC"
	}

	limit := 50
	if f.Limit > 0 && f.Limit <= 1000 {
		limit = f.Limit
	}
	offset := 0
	if f.Cursor != "" {
		offset = DecodeCursor(f.Cursor)
	}

	countQuery = fmt.Sprintf("SELECT COUNT(*) FROM snapshots %s", where)
	countArgs = append([]interface{}{}, queryArgs...)

	query = fmt.Sprintf(`SELECT id, model_id, period_start, period_end, prediction_count,
		result_summary, content_hash, created_at FROM snapshots %s
		ORDER BY %s %s LIMIT ? OFFSET ?`, where, sortCol, order)

	queryArgs = append(queryArgs, limit, offset)
	return query, countQuery, queryArgs, countArgs
}

// SnapshotSearchResult is one page of filtered Snapshots.
type SnapshotSearchResult struct {
	Snapshots []Snapshot
	Total     int
	Cursor    string
	HasMore   bool
}

// SearchSnapshots runs a SnapshotFilter against the store, returning one
// cursor-paginated page.
func (s *Store) SearchSnapshots(f SnapshotFilter) (*SnapshotSearchResult, error) {
	query, countQuery, args, countArgs := buildSnapshotQuery(f)

	var total int
	if err := s.db.Read.QueryRow(countQuery, countArgs...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count snapshots: %w", err)
	}

	rows, err := s.db.Read.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("search snapshots: %w", err)
	}
	defer rows.Close()

	snaps, err := scanSnapshots(rows)
	if err != nil {
		return nil, err
	}

	offset := 0
	if f.Cursor != "" {
		offset = DecodeCursor(f.Cursor)
	}
	limit := 50
	if f.Limit > 0 && f.Limit <= 1000 {
		limit = f.Limit
	}
	hasMore := offset+len(snaps) < total
	nextCursor := ""
	if hasMore {
		nextCursor = EncodeCursor(offset + limit)
	}

	return &SnapshotSearchResult{Snapshots: snaps, Total: total, Cursor: nextCursor, HasMore: hasMore}, nil
}
