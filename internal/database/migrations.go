package database

import "database/sql"

// Migration represents a single schema migration step.
type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}

// migrations is the ordered list of all schema migrations.
// Append new migrations to the end with incrementing Version numbers.
var migrations = []Migration{
	{
		Version:     1,
		Description: "initial schema",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS segments (
    id INTEGER PRIMARY KEY,
    outlet TEXT NOT NULL,
    program TEXT NOT NULL,
    date TEXT NOT NULL,
    duration INTEGER NOT NULL DEFAULT 0 CHECK(duration >= 0),
    reporter TEXT,
    title TEXT,
    abstract TEXT,
    commercial INTEGER NOT NULL DEFAULT 0,
    empty INTEGER NOT NULL DEFAULT 0,
    in_news INTEGER NOT NULL DEFAULT 1,
    hard_news INTEGER,
    event_id INTEGER,
    issue_id INTEGER,
    topic_id INTEGER,
    other_id INTEGER,
    issue_snapshot TEXT,
    topic_snapshot TEXT,
    other_snapshot TEXT,
    ingested_at TEXT DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    date TEXT NOT NULL,
    description TEXT NOT NULL,
    top_story INTEGER NOT NULL DEFAULT 0,
    model TEXT,
    created_at TEXT DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS issues (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    year INTEGER NOT NULL,
    title TEXT NOT NULL,
    description TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS topics (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    title TEXT NOT NULL,
    description TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS other_categories (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    title TEXT NOT NULL,
    description TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS taxonomy_snapshots (
    id TEXT PRIMARY KEY,
    kind TEXT NOT NULL,
    entry_count INTEGER NOT NULL DEFAULT 0,
    created_at TEXT DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS responses (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    segment_id INTEGER NOT NULL REFERENCES segments(id),
    rater TEXT NOT NULL,
    aspect TEXT NOT NULL CHECK(aspect IN (
        'news_type', 'topic_primary', 'topic_secondary',
        'issue_primary', 'issue_secondary')),
    value INTEGER NOT NULL,
    created_at TEXT DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS classification_failures (
    segment_id INTEGER NOT NULL REFERENCES segments(id),
    kind TEXT NOT NULL,
    attempts INTEGER NOT NULL DEFAULT 0,
    last_error TEXT,
    failed_at TEXT DEFAULT (datetime('now')),
    PRIMARY KEY (segment_id, kind)
);

CREATE INDEX IF NOT EXISTS idx_segments_date ON segments(date);
CREATE INDEX IF NOT EXISTS idx_segments_topic ON segments(topic_id);
CREATE INDEX IF NOT EXISTS idx_segments_issue ON segments(issue_id);
CREATE INDEX IF NOT EXISTS idx_segments_event ON segments(event_id);
CREATE INDEX IF NOT EXISTS idx_events_date ON events(date);
CREATE INDEX IF NOT EXISTS idx_issues_year ON issues(year);
CREATE INDEX IF NOT EXISTS idx_responses_segment ON responses(segment_id);
CREATE INDEX IF NOT EXISTS idx_responses_aspect ON responses(aspect);
`)
			return err
		},
	},
	{
		Version:     2,
		Description: "seed residual categories",
		Up: func(tx *sql.Tx) error {
			// Fixed residual taxonomy for hard-news segments that match no
			// issue. Ids are stable because classified segments reference them.
			seed := []struct {
				title       string
				description string
			}{
				{"Business news", "Stock market reports, mergers and acquisitions, SEC investigations, stock buybacks, strikes and labor issues."},
				{"Government procedure", "Presidential, congressional, and judicial appointments, recesses, vacations, resumptions."},
				{"Foreign politics", "Foreign elections, diplomatic events, and other peaceful political news from foreign countries."},
				{"Corruption", "Reports of government and private corruption, financial scams and racketeering, and bribery."},
				{"Foreign turmoil", "Riots, terror attacks, crises, and disorder in foreign countries."},
				{"Natural disasters", "Extreme weather, earthquakes, volcanic eruptions, wildfires, landslides and avalanches."},
				{"Notices", "Memorials, anniversaries, dedications; deaths, health status, and retirements of elder statesmen and celebrities."},
				{"Trials", "High profile criminal and occasionally civil trials."},
				{"Crime", "Reports of murders and other violent crimes, shootouts, prison breaks, kidnappings."},
				{"Weather", "Conventional weather reports for different parts of the US."},
				{"Transportation disasters", "Plane crashes, train derailments, barges crashing, ferries sinking."},
				{"Medical and health news", "New drugs and medical technology, medical and public health research, disease outbreaks."},
				{"Manmade disasters", "Oil spills, toxic dumping, industrial accidents, fires."},
				{"Animal attacks", "Shark attacks, sting ray attacks, bear attacks."},
				{"The Pope", "Papal visits, encyclicals."},
				{"The British Royal Family", "Royal weddings, births, deaths, scandals."},
				{"Space program", "Shuttle launches, new space technology, reports on probes and landers."},
			}
			var count int
			if err := tx.QueryRow("SELECT COUNT(*) FROM other_categories").Scan(&count); err != nil {
				return err
			}
			if count > 0 {
				return nil
			}
			for _, c := range seed {
				if _, err := tx.Exec(
					"INSERT INTO other_categories (title, description) VALUES (?, ?)",
					c.title, c.description,
				); err != nil {
					return err
				}
			}
			return nil
		},
	},
}

// latestVersion returns the highest migration version number.
func latestVersion() int {
	if len(migrations) == 0 {
		return 0
	}
	return migrations[len(migrations)-1].Version
}
