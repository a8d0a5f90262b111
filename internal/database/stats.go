package database

import "fmt"

// GetStats returns corpus and classification counts for the status command.
func (db *DB) GetStats() (*Stats, error) {
	stats := &Stats{}
	counts := []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM segments", &stats.Segments},
		{"SELECT COUNT(*) FROM segments WHERE hard_news = 1", &stats.HardNews},
		{"SELECT COUNT(*) FROM events", &stats.Events},
		{"SELECT COUNT(*) FROM issues", &stats.Issues},
		{"SELECT COUNT(*) FROM topics", &stats.Topics},
		{"SELECT COUNT(*) FROM responses", &stats.Responses},
		{"SELECT COUNT(*) FROM classification_failures", &stats.Failures},
		{"SELECT COUNT(*) FROM segments WHERE topic_id IS NOT NULL", &stats.TopicLabeled},
		{"SELECT COUNT(*) FROM segments WHERE issue_id IS NOT NULL", &stats.IssueLabeled},
		{"SELECT COUNT(*) FROM segments WHERE event_id IS NOT NULL", &stats.EventAttached},
	}
	for _, c := range counts {
		if err := db.conn.QueryRow(c.query).Scan(c.dest); err != nil {
			return nil, err
		}
	}
	return stats, nil
}

// YearsInCorpus returns the distinct calendar years present, ascending.
func (db *DB) YearsInCorpus() ([]int, error) {
	rows, err := db.conn.Query(
		"SELECT DISTINCT CAST(substr(date, 1, 4) AS INTEGER) FROM segments ORDER BY 1",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var years []int
	for rows.Next() {
		var y int
		if err := rows.Scan(&y); err != nil {
			return nil, err
		}
		years = append(years, y)
	}
	return years, rows.Err()
}

// DatesInCorpus returns the distinct broadcast dates present, ascending,
// optionally restricted to one year.
func (db *DB) DatesInCorpus(year int) ([]string, error) {
	query := "SELECT DISTINCT date FROM segments"
	var args []any
	if year > 0 {
		query += " WHERE substr(date, 1, 4) = ?"
		args = append(args, fmt.Sprintf("%04d", year))
	}
	query += " ORDER BY date"

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var dates []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		dates = append(dates, d)
	}
	return dates, rows.Err()
}
