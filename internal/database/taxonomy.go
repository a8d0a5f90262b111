package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventDraft is a model-proposed event for one broadcast date, together with
// the segments that reported it.
type EventDraft struct {
	Description string
	TopStory    bool
	SegmentIDs  []int64
}

// InsertEvents stores the events induced for one date and attaches their
// segments, all in one transaction. Nothing is written if any attachment
// references a missing segment.
func (db *DB) InsertEvents(date, model string, drafts []EventDraft) ([]Event, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	events := make([]Event, 0, len(drafts))
	for _, d := range drafts {
		result, err := tx.Exec(
			"INSERT INTO events (date, description, top_story, model) VALUES (?, ?, ?, ?)",
			date, d.Description, d.TopStory, model,
		)
		if err != nil {
			return nil, err
		}
		id, err := result.LastInsertId()
		if err != nil {
			return nil, err
		}
		for _, segID := range d.SegmentIDs {
			if err := checkSegmentExists(tx, segID); err != nil {
				return nil, err
			}
			if _, err := tx.Exec(
				"UPDATE segments SET event_id = ? WHERE id = ?", id, segID,
			); err != nil {
				return nil, err
			}
		}
		events = append(events, Event{
			ID: id, Date: date, Description: d.Description,
			TopStory: d.TopStory, Model: model,
		})
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return events, nil
}

// GetEvent returns one event by id, or nil if it does not exist.
func (db *DB) GetEvent(id int64) (*Event, error) {
	rows, err := db.conn.Query(
		`SELECT id, date, description, top_story, model, created_at
		FROM events WHERE id = ?`, id,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	events, err := scanEvents(rows)
	if err != nil || len(events) == 0 {
		return nil, err
	}
	return &events[0], nil
}

// AttachSegmentToEvent links one segment to an existing event.
func (db *DB) AttachSegmentToEvent(segmentID, eventID int64) error {
	return db.WriteCategory(segmentID, KindEvent, eventID, "")
}

// ListEventsWindow returns events with dates in [from, to] inclusive.
func (db *DB) ListEventsWindow(from, to string) ([]Event, error) {
	rows, err := db.conn.Query(
		`SELECT id, date, description, top_story, model, created_at
		FROM events WHERE date >= ? AND date <= ? ORDER BY date, id`, from, to,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

// TopStories returns the lead events of a year, at most perDay per date.
func (db *DB) TopStories(year, perDay int) ([]Event, error) {
	rows, err := db.conn.Query(
		`SELECT id, date, description, top_story, model, created_at
		FROM events WHERE top_story = 1 AND substr(date, 1, 4) = ?
		ORDER BY date, id`, fmt.Sprintf("%04d", year),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	events, err := scanEvents(rows)
	if err != nil {
		return nil, err
	}
	if perDay <= 0 {
		return events, nil
	}

	var out []Event
	counts := make(map[string]int)
	for _, e := range events {
		if counts[e.Date] >= perDay {
			continue
		}
		counts[e.Date]++
		out = append(out, e)
	}
	return out, nil
}

// CountEventsForDate returns the number of events already induced for a date.
func (db *DB) CountEventsForDate(date string) (int, error) {
	var count int
	err := db.conn.QueryRow(
		"SELECT COUNT(*) FROM events WHERE date = ?", date,
	).Scan(&count)
	return count, err
}

// SampleEvents returns up to n random events, for topic induction prompts.
func (db *DB) SampleEvents(n int) ([]Event, error) {
	rows, err := db.conn.Query(
		`SELECT id, date, description, top_story, model, created_at
		FROM events ORDER BY RANDOM() LIMIT ?`, n,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

// InsertIssue stores one year-scoped issue and returns its id.
func (db *DB) InsertIssue(year int, title, description string) (int64, error) {
	result, err := db.conn.Exec(
		"INSERT INTO issues (year, title, description) VALUES (?, ?, ?)",
		year, title, description,
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// InsertIssues stores a year's issues in one transaction.
func (db *DB) InsertIssues(year int, issues []Category) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, is := range issues {
		if _, err := tx.Exec(
			"INSERT INTO issues (year, title, description) VALUES (?, ?, ?)",
			year, is.Title, is.Description,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetIssue returns one issue by id, or nil if it does not exist.
func (db *DB) GetIssue(id int64) (*Issue, error) {
	issues, err := db.queryIssues("SELECT id, year, title, description FROM issues WHERE id = ?", id)
	if err != nil || len(issues) == 0 {
		return nil, err
	}
	return &issues[0], nil
}

// ListIssues returns the issues for a single year.
func (db *DB) ListIssues(year int) ([]Issue, error) {
	return db.queryIssues("SELECT id, year, title, description FROM issues WHERE year = ? ORDER BY id", year)
}

// ListIssuesNear returns issues whose year is within neighborhood of the
// given year. A neighborhood of 0 is the year itself.
func (db *DB) ListIssuesNear(year, neighborhood int) ([]Issue, error) {
	return db.queryIssues(
		"SELECT id, year, title, description FROM issues WHERE year BETWEEN ? AND ? ORDER BY year, id",
		year-neighborhood, year+neighborhood,
	)
}

// ListIssuesBefore returns all issues from years earlier than the given
// year, ordered by title then year, for continuity prompting.
func (db *DB) ListIssuesBefore(year int) ([]Issue, error) {
	return db.queryIssues(
		"SELECT id, year, title, description FROM issues WHERE year < ? ORDER BY title, year",
		year,
	)
}

// RenameIssueTitle renames an issue across all years, for approved title
// revisions. Returns the number of rows changed.
func (db *DB) RenameIssueTitle(oldTitle, newTitle string) (int64, error) {
	result, err := db.conn.Exec(
		"UPDATE issues SET title = ? WHERE title = ?", newTitle, oldTitle,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// PriorIssueTitles returns the distinct titles of issues from years before
// the given year, for continuity prompting.
func (db *DB) PriorIssueTitles(year int) ([]string, error) {
	rows, err := db.conn.Query(
		"SELECT DISTINCT title FROM issues WHERE year < ? ORDER BY title", year,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var titles []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		titles = append(titles, t)
	}
	return titles, rows.Err()
}

// UpdateIssue rewrites an issue's title and description in place. Allowed
// even when segments reference the issue: the id, and so the labels, stay
// stable.
func (db *DB) UpdateIssue(id int64, title, description string) error {
	result, err := db.conn.Exec(
		"UPDATE issues SET title = ?, description = ? WHERE id = ?",
		title, description, id,
	)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("issue %d: %w", id, ErrIntegrity)
	}
	return nil
}

// DeleteIssuesForYear removes a year's issues so the builder can rerun.
// Refused when any segment references an issue from that year.
func (db *DB) DeleteIssuesForYear(year int) error {
	var count int
	err := db.conn.QueryRow(
		`SELECT COUNT(*) FROM segments s JOIN issues i ON s.issue_id = i.id
		WHERE i.year = ?`, year,
	).Scan(&count)
	if err != nil {
		return err
	}
	if count > 0 {
		return fmt.Errorf("issues for %d are referenced by %d segments: %w",
			year, count, ErrIntegrity)
	}
	_, err = db.conn.Exec("DELETE FROM issues WHERE year = ?", year)
	return err
}

// InsertTopic stores one global topic and returns its id.
func (db *DB) InsertTopic(title, description string) (int64, error) {
	result, err := db.conn.Exec(
		"INSERT INTO topics (title, description) VALUES (?, ?)", title, description,
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// ListTopics returns all global topics.
func (db *DB) ListTopics() ([]Category, error) {
	return db.queryCategories("SELECT id, title, description FROM topics ORDER BY id")
}

// ReplaceTopics swaps the full topic list in one transaction. Refused when
// any segment already carries a topic label, since replacement would
// invalidate it.
func (db *DB) ReplaceTopics(topics []Category) error {
	referenced, err := db.KindReferenced(KindTopic)
	if err != nil {
		return err
	}
	if referenced {
		return fmt.Errorf("topics are referenced by classified segments: %w", ErrIntegrity)
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM topics"); err != nil {
		return err
	}
	for _, t := range topics {
		if _, err := tx.Exec(
			"INSERT INTO topics (title, description) VALUES (?, ?)",
			t.Title, t.Description,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListOtherCategories returns the fixed residual taxonomy.
func (db *DB) ListOtherCategories() ([]Category, error) {
	return db.queryCategories("SELECT id, title, description FROM other_categories ORDER BY id")
}

// KindReferenced reports whether any segment carries a real label (not the
// none sentinel) in the given taxonomy.
func (db *DB) KindReferenced(kind Kind) (bool, error) {
	col, err := labelColumn(kind)
	if err != nil {
		return false, err
	}
	var count int
	err = db.conn.QueryRow(
		"SELECT COUNT(*) FROM segments WHERE "+col+" IS NOT NULL AND "+col+" != ?",
		NoneCategory,
	).Scan(&count)
	return count > 0, err
}

// CreateSnapshot records the current state of a taxonomy and returns its id.
// Labels written under the snapshot can be traced back to the category list
// the model saw.
func (db *DB) CreateSnapshot(kind Kind) (*Snapshot, error) {
	var table string
	switch kind {
	case KindIssue:
		table = "issues"
	case KindTopic:
		table = "topics"
	case KindOther:
		table = "other_categories"
	default:
		return nil, fmt.Errorf("no snapshots for taxonomy kind %q", kind)
	}

	var count int
	if err := db.conn.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&count); err != nil {
		return nil, err
	}

	snap := &Snapshot{
		ID:         uuid.NewString(),
		Kind:       kind,
		EntryCount: count,
		CreatedAt:  time.Now().UTC(),
	}
	_, err := db.conn.Exec(
		"INSERT INTO taxonomy_snapshots (id, kind, entry_count) VALUES (?, ?, ?)",
		snap.ID, snap.Kind, snap.EntryCount,
	)
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// GetSnapshot returns a snapshot by id, or nil if it does not exist.
func (db *DB) GetSnapshot(id string) (*Snapshot, error) {
	var snap Snapshot
	var createdAt sql.NullString
	err := db.conn.QueryRow(
		"SELECT id, kind, entry_count, created_at FROM taxonomy_snapshots WHERE id = ?", id,
	).Scan(&snap.ID, &snap.Kind, &snap.EntryCount, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if createdAt.Valid {
		if t, err := time.Parse("2006-01-02 15:04:05", createdAt.String); err == nil {
			snap.CreatedAt = t
		}
	}
	return &snap, nil
}

func (db *DB) queryIssues(query string, args ...any) ([]Issue, error) {
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var issues []Issue
	for rows.Next() {
		var i Issue
		if err := rows.Scan(&i.ID, &i.Year, &i.Title, &i.Description); err != nil {
			return nil, err
		}
		issues = append(issues, i)
	}
	return issues, rows.Err()
}

func (db *DB) queryCategories(query string, args ...any) ([]Category, error) {
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cats []Category
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.ID, &c.Title, &c.Description); err != nil {
			return nil, err
		}
		cats = append(cats, c)
	}
	return cats, rows.Err()
}

func scanEvents(rows *sql.Rows) ([]Event, error) {
	var events []Event
	for rows.Next() {
		var e Event
		var model, createdAt sql.NullString
		if err := rows.Scan(&e.ID, &e.Date, &e.Description, &e.TopStory, &model, &createdAt); err != nil {
			return nil, err
		}
		e.Model = model.String
		if createdAt.Valid {
			if t, err := time.Parse("2006-01-02 15:04:05", createdAt.String); err == nil {
				e.CreatedAt = t
			}
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
