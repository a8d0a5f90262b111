package database

import (
	"database/sql"
	"fmt"
	"time"
)

// InsertResponse appends one human validation answer. Responses are
// append-only: raters can answer the same segment and aspect more than once
// and every answer is kept.
func (db *DB) InsertResponse(segmentID int64, rater string, aspect Aspect, value int64) (int64, error) {
	var one int
	err := db.conn.QueryRow("SELECT 1 FROM segments WHERE id = ?", segmentID).Scan(&one)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("segment %d: %w", segmentID, ErrIntegrity)
	}
	if err != nil {
		return 0, err
	}

	result, err := db.conn.Exec(
		"INSERT INTO responses (segment_id, rater, aspect, value) VALUES (?, ?, ?, ?)",
		segmentID, rater, aspect, value,
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// ListResponses returns all responses for one aspect, ordered by segment.
func (db *DB) ListResponses(aspect Aspect) ([]Response, error) {
	rows, err := db.conn.Query(
		`SELECT id, segment_id, rater, aspect, value, created_at
		FROM responses WHERE aspect = ? ORDER BY segment_id, id`, aspect,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanResponses(rows)
}

// ListResponsesForSegment returns every response recorded for a segment.
func (db *DB) ListResponsesForSegment(segmentID int64) ([]Response, error) {
	rows, err := db.conn.Query(
		`SELECT id, segment_id, rater, aspect, value, created_at
		FROM responses WHERE segment_id = ? ORDER BY id`, segmentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanResponses(rows)
}

// RatedSegmentIDs returns the distinct segments with at least one response
// for the given aspect.
func (db *DB) RatedSegmentIDs(aspect Aspect) ([]int64, error) {
	rows, err := db.conn.Query(
		"SELECT DISTINCT segment_id FROM responses WHERE aspect = ? ORDER BY segment_id", aspect,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanResponses(rows *sql.Rows) ([]Response, error) {
	var responses []Response
	for rows.Next() {
		var r Response
		var createdAt sql.NullString
		if err := rows.Scan(&r.ID, &r.SegmentID, &r.Rater, &r.Aspect, &r.Value, &createdAt); err != nil {
			return nil, err
		}
		if createdAt.Valid {
			if t, err := time.Parse("2006-01-02 15:04:05", createdAt.String); err == nil {
				r.CreatedAt = t
			}
		}
		responses = append(responses, r)
	}
	return responses, rows.Err()
}
