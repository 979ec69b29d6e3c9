package store

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"sync-service/internal/database"
	"sync-service/pkg/models"
)

// Timestamps are stored as Unix nanoseconds on every backend.
func nanos(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UnixNano()
}

func fromNanos(v any) (*time.Time, error) {
	if v == nil {
		return nil, nil
	}
	n, err := toInt64(v)
	if err != nil {
		return nil, err
	}
	t := time.Unix(0, n).UTC()
	return &t, nil
}

// toInt64 accepts the integer shapes the drivers hand back: int64 from pgx
// and sqlite, int32/int64 from BSON, and strings from text columns.
func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int32:
		return int64(n), nil
	case int:
		return int64(n), nil
	case float64:
		return int64(n), nil
	case string:
		return strconv.ParseInt(n, 10, 64)
	case nil:
		return 0, nil
	}
	return 0, fmt.Errorf("unexpected numeric type %T", v)
}

func toString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	}
	return fmt.Sprint(v)
}

func configParams(rec *models.SyncConfigRecord) database.Params {
	return database.Params{
		"id":                 rec.ID,
		"table_name":         rec.TableName,
		"last_sync":          nanos(rec.LastSync),
		"last_status":        string(rec.LastStatus),
		"last_modified_time": nanos(rec.LastModifiedTime),
		"last_checksum":      rec.LastChecksum,
		"last_row_count":     rec.LastRowCount,
	}
}

func decodeConfig(row database.Row) (models.SyncConfigRecord, error) {
	rec := models.SyncConfigRecord{
		ID:           toString(row["id"]),
		TableName:    toString(row["table_name"]),
		LastStatus:   models.SyncStatus(toString(row["last_status"])),
		LastChecksum: toString(row["last_checksum"]),
	}
	var err error
	if rec.LastSync, err = fromNanos(row["last_sync"]); err != nil {
		return rec, fmt.Errorf("decode last_sync: %w", err)
	}
	if rec.LastModifiedTime, err = fromNanos(row["last_modified_time"]); err != nil {
		return rec, fmt.Errorf("decode last_modified_time: %w", err)
	}
	if rec.LastRowCount, err = toInt64(row["last_row_count"]); err != nil {
		return rec, fmt.Errorf("decode last_row_count: %w", err)
	}
	if !rec.LastStatus.Valid() {
		return rec, fmt.Errorf("unknown status %q for table %s", rec.LastStatus, rec.TableName)
	}
	return rec, nil
}

func tableParams(snap *models.TableSnapshot) (database.Params, error) {
	rows := snap.Rows
	if rows == nil {
		rows = []models.Row{}
	}
	raw, err := json.Marshal(rows)
	if err != nil {
		return nil, fmt.Errorf("encode rows of %s: %w", snap.TableName, err)
	}
	return database.Params{
		"table_name": snap.TableName,
		"rows_json":  string(raw),
		"row_count":  snap.RowCount,
		"checksum":   snap.Checksum,
		"updated_at": snap.UpdatedAt.UnixNano(),
	}, nil
}

func decodeTable(row database.Row) (models.TableSnapshot, error) {
	snap := models.TableSnapshot{
		TableName: toString(row["table_name"]),
		Checksum:  toString(row["checksum"]),
	}
	if err := json.Unmarshal([]byte(toString(row["rows_json"])), &snap.Rows); err != nil {
		return snap, fmt.Errorf("decode rows of %s: %w", snap.TableName, err)
	}
	var err error
	if snap.RowCount, err = toInt64(row["row_count"]); err != nil {
		return snap, fmt.Errorf("decode row_count: %w", err)
	}
	updated, err := fromNanos(row["updated_at"])
	if err != nil {
		return snap, fmt.Errorf("decode updated_at: %w", err)
	}
	if updated != nil {
		snap.UpdatedAt = *updated
	}
	return snap, nil
}
