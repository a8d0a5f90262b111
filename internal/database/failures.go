package database

import (
	"database/sql"
	"time"
)

// RecordFailure notes that a segment exhausted its retries in one
// classification pass. Re-recording the same pair overwrites the old entry.
func (db *DB) RecordFailure(segmentID int64, kind Kind, attempts int, lastError string) error {
	_, err := db.conn.Exec(
		`INSERT INTO classification_failures (segment_id, kind, attempts, last_error, failed_at)
		VALUES (?, ?, ?, ?, datetime('now'))
		ON CONFLICT(segment_id, kind) DO UPDATE SET
			attempts = excluded.attempts,
			last_error = excluded.last_error,
			failed_at = excluded.failed_at`,
		segmentID, kind, attempts, lastError,
	)
	return err
}

// ClearFailure removes a failure record, typically after a successful rerun.
func (db *DB) ClearFailure(segmentID int64, kind Kind) error {
	_, err := db.conn.Exec(
		"DELETE FROM classification_failures WHERE segment_id = ? AND kind = ?",
		segmentID, kind,
	)
	return err
}

// ListFailures returns recorded failures, all of them or one pass's.
func (db *DB) ListFailures(kind Kind) ([]Failure, error) {
	query := `SELECT segment_id, kind, attempts, last_error, failed_at
		FROM classification_failures`
	var args []any
	if kind != "" {
		query += " WHERE kind = ?"
		args = append(args, kind)
	}
	query += " ORDER BY segment_id"

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var failures []Failure
	for rows.Next() {
		var f Failure
		var lastError, failedAt sql.NullString
		if err := rows.Scan(&f.SegmentID, &f.Kind, &f.Attempts, &lastError, &failedAt); err != nil {
			return nil, err
		}
		f.LastError = lastError.String
		if failedAt.Valid {
			if t, err := time.Parse("2006-01-02 15:04:05", failedAt.String); err == nil {
				f.FailedAt = t
			}
		}
		failures = append(failures, f)
	}
	return failures, rows.Err()
}
