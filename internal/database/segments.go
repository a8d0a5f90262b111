package database

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

const segmentColumns = `id, outlet, program, date, duration, reporter, title, abstract,
	commercial, empty, in_news, hard_news, event_id, issue_id, topic_id, other_id,
	issue_snapshot, topic_snapshot, other_snapshot, ingested_at`

// InsertSegment inserts a segment keyed by its external archive id.
// Returns false when a segment with that id already exists.
func (db *DB) InsertSegment(s *Segment) (bool, error) {
	if s.Duration < 0 {
		return false, fmt.Errorf("segment %d: negative duration %d", s.ID, s.Duration)
	}
	result, err := db.conn.Exec(
		`INSERT OR IGNORE INTO segments
		(id, outlet, program, date, duration, reporter, title, abstract, commercial, empty, in_news)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.Outlet, s.Program, s.Date, s.Duration,
		s.Reporter, s.Title, s.Abstract, s.Commercial, s.Empty, s.InNews,
	)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// GetSegment returns a single segment by id, or nil if it does not exist.
func (db *DB) GetSegment(id int64) (*Segment, error) {
	row := db.conn.QueryRow(
		"SELECT "+segmentColumns+" FROM segments WHERE id = ?", id,
	)
	s, err := scanSegment(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// SegmentFilter selects subsets of the corpus for taxonomy passes and
// classification batches. Zero values mean "no constraint".
type SegmentFilter struct {
	DateFrom      string
	DateTo        string
	Years         []int
	Outlets       []string
	ProgramSuffix string
	ExcludeEmpty  bool
	ExcludeAds    bool
	InNewsOnly    bool // exclude material outside the news portion of the broadcast
	HardNewsOnly  bool
	IssueNone     bool // issue_id = -1: classified but matched no issue
	Unlabeled     Kind // segments where the given pass has not run yet
	Randomize     bool
	Limit         int
}

// ScanSegments returns segments matching the filter, ordered by date then id
// unless Randomize is set.
func (db *DB) ScanSegments(f SegmentFilter) ([]Segment, error) {
	where, args, err := f.whereClause()
	if err != nil {
		return nil, err
	}
	query := "SELECT " + segmentColumns + " FROM segments" + where

	if f.Randomize {
		query += " ORDER BY RANDOM()"
	} else {
		query += " ORDER BY date, id"
	}
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSegments(rows)
}

// CountSegments returns the number of segments matching the filter.
func (db *DB) CountSegments(f SegmentFilter) (int, error) {
	where, args, err := f.whereClause()
	if err != nil {
		return 0, err
	}
	var count int
	err = db.conn.QueryRow("SELECT COUNT(*) FROM segments"+where, args...).Scan(&count)
	return count, err
}

func (f SegmentFilter) whereClause() (string, []any, error) {
	query := " WHERE 1=1"
	var args []any

	if f.DateFrom != "" {
		query += " AND date >= ?"
		args = append(args, f.DateFrom)
	}
	if f.DateTo != "" {
		query += " AND date <= ?"
		args = append(args, f.DateTo)
	}
	if len(f.Years) > 0 {
		ph := make([]string, len(f.Years))
		for i, y := range f.Years {
			ph[i] = "?"
			args = append(args, fmt.Sprintf("%04d", y))
		}
		query += " AND substr(date, 1, 4) IN (" + strings.Join(ph, ", ") + ")"
	}
	if len(f.Outlets) > 0 {
		ph := make([]string, len(f.Outlets))
		for i, o := range f.Outlets {
			ph[i] = "?"
			args = append(args, o)
		}
		query += " AND outlet IN (" + strings.Join(ph, ", ") + ")"
	}
	if f.ProgramSuffix != "" {
		query += " AND program LIKE ?"
		args = append(args, "%"+f.ProgramSuffix)
	}
	if f.ExcludeEmpty {
		query += " AND empty = 0"
	}
	if f.ExcludeAds {
		query += " AND commercial = 0"
	}
	if f.InNewsOnly {
		query += " AND in_news = 1"
	}
	if f.HardNewsOnly {
		query += " AND hard_news = 1"
	}
	if f.IssueNone {
		query += " AND issue_id = ?"
		args = append(args, NoneCategory)
	}
	if f.Unlabeled != "" {
		col, err := labelColumn(f.Unlabeled)
		if err != nil {
			return "", nil, err
		}
		query += " AND " + col + " IS NULL"
	}

	return query, args, nil
}

// WriteCategory records a classification result for one segment in one
// taxonomy. A categoryID of NoneCategory records "classified, nothing fit".
// Any other id must exist in the taxonomy's table or ErrIntegrity is returned.
func (db *DB) WriteCategory(segmentID int64, kind Kind, categoryID int64, snapshotID string) error {
	col, err := labelColumn(kind)
	if err != nil {
		return err
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := checkSegmentExists(tx, segmentID); err != nil {
		return err
	}
	if err := checkCategoryExists(tx, kind, categoryID); err != nil {
		return err
	}

	query := "UPDATE segments SET " + col + " = ?"
	args := []any{categoryID}
	if snapCol := snapshotColumn(kind); snapCol != "" {
		query += ", " + snapCol + " = ?"
		args = append(args, snapshotID)
	}
	query += " WHERE id = ?"
	args = append(args, segmentID)

	if _, err := tx.Exec(query, args...); err != nil {
		return err
	}
	return tx.Commit()
}

// WriteTopicCategory records a topic label together with the hard/soft news
// decision made in the same model call. Both columns update in one
// transaction so a crash cannot leave the pair half-written.
func (db *DB) WriteTopicCategory(segmentID, topicID int64, hardNews *bool, snapshotID string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := checkSegmentExists(tx, segmentID); err != nil {
		return err
	}
	if err := checkCategoryExists(tx, KindTopic, topicID); err != nil {
		return err
	}

	_, err = tx.Exec(
		"UPDATE segments SET topic_id = ?, hard_news = ?, topic_snapshot = ? WHERE id = ?",
		topicID, hardNews, snapshotID, segmentID,
	)
	if err != nil {
		return err
	}
	return tx.Commit()
}

// ClearLabels resets the given pass for all segments so it can be rerun
// against a revised taxonomy.
func (db *DB) ClearLabels(kind Kind) error {
	col, err := labelColumn(kind)
	if err != nil {
		return err
	}
	query := "UPDATE segments SET " + col + " = NULL"
	if snapCol := snapshotColumn(kind); snapCol != "" {
		query += ", " + snapCol + " = NULL"
	}
	if kind == KindTopic {
		query += ", hard_news = NULL"
	}
	_, err = db.conn.Exec(query)
	return err
}

func labelColumn(kind Kind) (string, error) {
	switch kind {
	case KindEvent:
		return "event_id", nil
	case KindIssue:
		return "issue_id", nil
	case KindTopic:
		return "topic_id", nil
	case KindOther:
		return "other_id", nil
	}
	return "", fmt.Errorf("unknown taxonomy kind %q", kind)
}

// snapshotColumn returns the column recording which taxonomy snapshot a label
// was assigned under. Events have no snapshot: the event list grows
// incrementally and labels always reference the full table.
func snapshotColumn(kind Kind) string {
	switch kind {
	case KindIssue:
		return "issue_snapshot"
	case KindTopic:
		return "topic_snapshot"
	case KindOther:
		return "other_snapshot"
	}
	return ""
}

func checkSegmentExists(tx *sql.Tx, segmentID int64) error {
	var one int
	err := tx.QueryRow("SELECT 1 FROM segments WHERE id = ?", segmentID).Scan(&one)
	if err == sql.ErrNoRows {
		return fmt.Errorf("segment %d: %w", segmentID, ErrIntegrity)
	}
	return err
}

func checkCategoryExists(tx *sql.Tx, kind Kind, categoryID int64) error {
	if categoryID == NoneCategory {
		return nil
	}
	var table string
	switch kind {
	case KindEvent:
		table = "events"
	case KindIssue:
		table = "issues"
	case KindTopic:
		table = "topics"
	case KindOther:
		table = "other_categories"
	default:
		return fmt.Errorf("unknown taxonomy kind %q", kind)
	}
	var one int
	err := tx.QueryRow("SELECT 1 FROM "+table+" WHERE id = ?", categoryID).Scan(&one)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%s %d: %w", kind, categoryID, ErrIntegrity)
	}
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSegment(row rowScanner) (*Segment, error) {
	var s Segment
	var reporter, title, abstract sql.NullString
	var hardNews sql.NullBool
	var eventID, issueID, topicID, otherID sql.NullInt64
	var issueSnap, topicSnap, otherSnap sql.NullString
	var ingestedAt sql.NullString

	err := row.Scan(
		&s.ID, &s.Outlet, &s.Program, &s.Date, &s.Duration,
		&reporter, &title, &abstract,
		&s.Commercial, &s.Empty, &s.InNews, &hardNews,
		&eventID, &issueID, &topicID, &otherID,
		&issueSnap, &topicSnap, &otherSnap, &ingestedAt,
	)
	if err != nil {
		return nil, err
	}

	s.Reporter = reporter.String
	s.Title = title.String
	s.Abstract = abstract.String
	if hardNews.Valid {
		s.HardNews = &hardNews.Bool
	}
	if eventID.Valid {
		s.EventID = &eventID.Int64
	}
	if issueID.Valid {
		s.IssueID = &issueID.Int64
	}
	if topicID.Valid {
		s.TopicID = &topicID.Int64
	}
	if otherID.Valid {
		s.OtherID = &otherID.Int64
	}
	s.IssueSnapshot = issueSnap.String
	s.TopicSnapshot = topicSnap.String
	s.OtherSnapshot = otherSnap.String
	if ingestedAt.Valid {
		if t, err := time.Parse("2006-01-02 15:04:05", ingestedAt.String); err == nil {
			s.IngestedAt = t
		}
	}
	return &s, nil
}

func scanSegments(rows *sql.Rows) ([]Segment, error) {
	var segments []Segment
	for rows.Next() {
		s, err := scanSegment(rows)
		if err != nil {
			return nil, err
		}
		segments = append(segments, *s)
	}
	return segments, rows.Err()
}
