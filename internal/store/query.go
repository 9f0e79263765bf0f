package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// itemColumns is the canonical column list shared by every item query.
const itemColumns = `id, kind, task_id, item_id, title, image_name,
	timestamp_ms, report_ms, date_bucket, tz_seconds, tz_changed,
	time_bucket_id, dosage, time_of_day, taken, severity, duration_level,
	note, med_timing, left_count, right_count, created_at, updated_at`

// RunAtomic executes fn inside a single transaction. If fn returns an
// error, every write it made is rolled back and the error is returned;
// otherwise the transaction commits. This is the unit of work the merge
// engine uses per report batch: either the whole batch lands or none of it.
func (db *DB) RunAtomic(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&Tx{tx: sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// LatestItemTime returns the maximum item timestamp across all kinds, or
// nil when the store holds no items. The sync-state tracker seeds its
// marker from this at load time.
func (db *DB) LatestItemTime(ctx context.Context) (*time.Time, error) {
	var ms sql.NullInt64
	err := db.conn.QueryRowContext(ctx, "SELECT MAX(timestamp_ms) FROM history_items").Scan(&ms)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest item time: %w", err)
	}
	if !ms.Valid {
		return nil, nil
	}
	t := time.UnixMilli(ms.Int64).UTC()
	return &t, nil
}

// ItemsForDay returns every item in the given day bucket ordered by
// timestamp ascending. An unknown day yields an empty slice.
func (db *DB) ItemsForDay(ctx context.Context, dayKey string) ([]*Item, error) {
	query := `SELECT ` + itemColumns + `
	FROM history_items
	WHERE date_bucket = ?
	ORDER BY timestamp_ms ASC`

	rows, err := db.conn.QueryContext(ctx, query, dayKey)
	if err != nil {
		return nil, fmt.Errorf("failed to query items for day %s: %w", dayKey, err)
	}
	defer rows.Close()

	return scanItems(rows)
}

// ItemsBetween returns items whose event timestamp falls in [from, to),
// ordered by timestamp ascending. This feeds the CLI and dashboard
// timeline views.
func (db *DB) ItemsBetween(ctx context.Context, from, to time.Time) ([]*Item, error) {
	query := `SELECT ` + itemColumns + `
	FROM history_items
	WHERE timestamp_ms >= ? AND timestamp_ms < ?
	ORDER BY timestamp_ms ASC`

	rows, err := db.conn.QueryContext(ctx, query, from.UnixMilli(), to.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to query items between %s and %s: %w", from, to, err)
	}
	defer rows.Close()

	return scanItems(rows)
}

// ItemCount returns the total number of history items in the store.
func (db *DB) ItemCount(ctx context.Context) (int, error) {
	var count int
	err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM history_items").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get item count: %w", err)
	}
	return count, nil
}

// CountByKind returns the number of items per kind, for stats broadcasts.
func (db *DB) CountByKind(ctx context.Context) (map[Kind]int, error) {
	rows, err := db.conn.QueryContext(ctx, "SELECT kind, COUNT(*) FROM history_items GROUP BY kind")
	if err != nil {
		return nil, fmt.Errorf("failed to count items by kind: %w", err)
	}
	defer rows.Close()

	counts := make(map[Kind]int)
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("failed to scan kind count: %w", err)
		}
		counts[Kind(kind)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating kind counts: %w", err)
	}

	return counts, nil
}

// PurgeReportLogBefore deletes report-log rows fetched before the given
// day key and returns how many were removed. Only the cached report
// metadata is purged; history items are kept forever.
func (db *DB) PurgeReportLogBefore(ctx context.Context, dayKey string) (int64, error) {
	res, err := db.conn.ExecContext(ctx, "DELETE FROM report_log WHERE fetched_day < ?", dayKey)
	if err != nil {
		return 0, fmt.Errorf("failed to purge report log: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count purged rows: %w", err)
	}
	return n, nil
}

// Tx is the write surface the merge engine sees inside RunAtomic.
// All natural-key lookups return (nil, nil) when no row matches.
type Tx struct {
	tx *sql.Tx
}

// InsertItem persists a newly created item.
func (t *Tx) InsertItem(ctx context.Context, it *Item) error {
	if err := it.Validate(); err != nil {
		return fmt.Errorf("invalid item: %w", err)
	}

	query := `
	INSERT INTO history_items (
		id, kind, task_id, item_id, title, image_name,
		timestamp_ms, report_ms, date_bucket, tz_seconds, tz_changed,
		time_bucket_id, dosage, time_of_day, taken, severity, duration_level,
		note, med_timing, left_count, right_count, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := t.tx.ExecContext(ctx, query,
		it.ID,
		string(it.Kind),
		it.TaskID,
		it.ItemID,
		it.Title,
		it.ImageName,
		it.Timestamp.UnixMilli(),
		it.ReportDate.UnixMilli(),
		it.DateBucket,
		it.TZSeconds,
		boolToInt(it.TZChanged),
		emptyToNull(it.TimeBucketID),
		it.Dosage,
		it.TimeOfDay,
		boolToInt(it.Taken),
		it.Severity,
		it.DurationLevel,
		it.Note,
		it.MedTiming,
		it.LeftCount,
		it.RightCount,
		it.CreatedAt.Format(time.RFC3339),
		it.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to insert item %s: %w", it.ID, err)
	}

	return nil
}

// UpdateItem rewrites an existing item's mutable fields by surrogate id.
func (t *Tx) UpdateItem(ctx context.Context, it *Item) error {
	if err := it.Validate(); err != nil {
		return fmt.Errorf("invalid item: %w", err)
	}

	query := `
	UPDATE history_items SET
		title = ?, image_name = ?, timestamp_ms = ?, report_ms = ?,
		date_bucket = ?, tz_seconds = ?, dosage = ?, time_of_day = ?,
		taken = ?, severity = ?, duration_level = ?, note = ?,
		med_timing = ?, updated_at = ?
	WHERE id = ?
	`

	_, err := t.tx.ExecContext(ctx, query,
		it.Title,
		it.ImageName,
		it.Timestamp.UnixMilli(),
		it.ReportDate.UnixMilli(),
		it.DateBucket,
		it.TZSeconds,
		it.Dosage,
		it.TimeOfDay,
		boolToInt(it.Taken),
		it.Severity,
		it.DurationLevel,
		it.Note,
		it.MedTiming,
		it.UpdatedAt.Format(time.RFC3339),
		it.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update item %s: %w", it.ID, err)
	}

	return nil
}

// ExistsAt reports whether any item of the given kind has exactly the
// given event timestamp. Read-only kinds dedup on timestamp alone.
func (t *Tx) ExistsAt(ctx context.Context, kind Kind, ts time.Time) (bool, error) {
	var n int
	err := t.tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM history_items WHERE kind = ? AND timestamp_ms = ?",
		string(kind), ts.UnixMilli(),
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check item existence: %w", err)
	}
	return n > 0, nil
}

// FindByItemKeyAt finds an item by (kind, item identifier, timestamp).
// Symptom and trigger items dedup on this composite key.
func (t *Tx) FindByItemKeyAt(ctx context.Context, kind Kind, itemID string, ts time.Time) (*Item, error) {
	query := `SELECT ` + itemColumns + `
	FROM history_items
	WHERE kind = ? AND item_id = ? AND timestamp_ms = ?
	LIMIT 1`

	return t.findOne(ctx, query, string(kind), itemID, ts.UnixMilli())
}

// FindDose finds a medication item by (identifier, dosage, time-of-day).
// Used when the dose carries a schedule anchor: one row exists per
// scheduled slot, its timestamps updated in place as new reports confirm
// or move the dose.
func (t *Tx) FindDose(ctx context.Context, itemID, dosage, timeOfDay string) (*Item, error) {
	query := `SELECT ` + itemColumns + `
	FROM history_items
	WHERE kind = ? AND item_id = ? AND dosage = ? AND time_of_day = ?
	LIMIT 1`

	return t.findOne(ctx, query, string(KindMedication), itemID, dosage, timeOfDay)
}

// FindDoseAt finds a medication item by (identifier, dosage, timestamp).
// Used when the dose has no schedule anchor, only an explicit logged time.
func (t *Tx) FindDoseAt(ctx context.Context, itemID, dosage string, ts time.Time) (*Item, error) {
	query := `SELECT ` + itemColumns + `
	FROM history_items
	WHERE kind = ? AND item_id = ? AND dosage = ? AND time_of_day = '' AND timestamp_ms = ?
	LIMIT 1`

	return t.findOne(ctx, query, string(KindMedication), itemID, dosage, ts.UnixMilli())
}

// ItemsForDay returns the day's items ordered by timestamp ascending,
// observing this transaction's own uncommitted writes.
func (t *Tx) ItemsForDay(ctx context.Context, dayKey string) ([]*Item, error) {
	query := `SELECT ` + itemColumns + `
	FROM history_items
	WHERE date_bucket = ?
	ORDER BY timestamp_ms ASC`

	rows, err := t.tx.QueryContext(ctx, query, dayKey)
	if err != nil {
		return nil, fmt.Errorf("failed to query items for day %s: %w", dayKey, err)
	}
	defer rows.Close()

	return scanItems(rows)
}

// SetBucketLinks writes each item's recomputed time-bucket link and
// timezone-changed flag back to the store.
func (t *Tx) SetBucketLinks(ctx context.Context, items []*Item) error {
	stmt, err := t.tx.PrepareContext(ctx,
		"UPDATE history_items SET time_bucket_id = ?, tz_changed = ? WHERE id = ?")
	if err != nil {
		return fmt.Errorf("failed to prepare bucket update: %w", err)
	}
	defer stmt.Close()

	for _, it := range items {
		if _, err := stmt.ExecContext(ctx, emptyToNull(it.TimeBucketID), boolToInt(it.TZChanged), it.ID); err != nil {
			return fmt.Errorf("failed to update bucket link for %s: %w", it.ID, err)
		}
	}

	return nil
}

// LogReport records that a report has been folded into the store.
// Re-merging the same report overwrites the row (idempotent).
func (t *Tx) LogReport(ctx context.Context, taskID string, reportDate time.Time, fetchedDay string) error {
	query := `
	INSERT INTO report_log (task_id, report_ms, fetched_day)
	VALUES (?, ?, ?)
	ON CONFLICT(task_id, report_ms) DO UPDATE SET
		fetched_day = excluded.fetched_day
	`

	if _, err := t.tx.ExecContext(ctx, query, taskID, reportDate.UnixMilli(), fetchedDay); err != nil {
		return fmt.Errorf("failed to log report %s@%d: %w", taskID, reportDate.UnixMilli(), err)
	}

	return nil
}

func (t *Tx) findOne(ctx context.Context, query string, args ...interface{}) (*Item, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query item: %w", err)
	}
	defer rows.Close()

	items, err := scanItems(rows)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	return items[0], nil
}

// scanItems is a helper function to scan multiple items from query results.
func scanItems(rows *sql.Rows) ([]*Item, error) {
	var items []*Item

	for rows.Next() {
		var it Item
		var kind string
		var tsMs, reportMs int64
		var tzChanged, taken int
		var timeBucketID sql.NullString
		var createdAt, updatedAt string

		err := rows.Scan(
			&it.ID,
			&kind,
			&it.TaskID,
			&it.ItemID,
			&it.Title,
			&it.ImageName,
			&tsMs,
			&reportMs,
			&it.DateBucket,
			&it.TZSeconds,
			&tzChanged,
			&timeBucketID,
			&it.Dosage,
			&it.TimeOfDay,
			&taken,
			&it.Severity,
			&it.DurationLevel,
			&it.Note,
			&it.MedTiming,
			&it.LeftCount,
			&it.RightCount,
			&createdAt,
			&updatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}

		it.Kind = Kind(kind)
		it.Timestamp = time.UnixMilli(tsMs).UTC()
		it.ReportDate = time.UnixMilli(reportMs).UTC()
		it.TZChanged = tzChanged != 0
		it.Taken = taken != 0
		if timeBucketID.Valid {
			it.TimeBucketID = timeBucketID.String
		}

		if ts, err := time.Parse(time.RFC3339, createdAt); err == nil {
			it.CreatedAt = ts
		}
		if ts, err := time.Parse(time.RFC3339, updatedAt); err == nil {
			it.UpdatedAt = ts
		}

		items = append(items, &it)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating items: %w", err)
	}

	return items, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func emptyToNull(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
