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
CREATE TABLE IF NOT EXISTS articles (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    url TEXT UNIQUE NOT NULL,
    title TEXT NOT NULL,
    source TEXT,
    published_date TEXT,
    content TEXT,
    content_fetched INTEGER DEFAULT 0,
    briefing_date TEXT,
    collected_at TEXT DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS article_scores (
    article_id INTEGER PRIMARY KEY REFERENCES articles(id),
    score INTEGER NOT NULL,
    category TEXT NOT NULL DEFAULT 'general',
    matched_keywords TEXT,
    scored_at TEXT DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS briefings (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    briefing_date TEXT UNIQUE NOT NULL,
    title TEXT NOT NULL,
    executive_summary TEXT NOT NULL DEFAULT '',
    body_markdown TEXT NOT NULL DEFAULT '',
    state TEXT NOT NULL DEFAULT 'PENDING',
    synthesis_method TEXT NOT NULL DEFAULT 'none',
    total_articles INTEGER DEFAULT 0,
    total_iocs INTEGER DEFAULT 0,
    unique_sources INTEGER DEFAULT 0,
    generated_tags_count INTEGER DEFAULT 0,
    tier1_success INTEGER DEFAULT 0,
    tier2_success INTEGER DEFAULT 0,
    tier1_tokens INTEGER DEFAULT 0,
    tier2_tokens INTEGER DEFAULT 0,
    fallback_used INTEGER DEFAULT 0,
    generated_at TEXT DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS briefing_iocs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    briefing_date TEXT NOT NULL,
    kind TEXT NOT NULL,
    value TEXT NOT NULL,
    confidence TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    UNIQUE (briefing_date, kind, value)
);

CREATE TABLE IF NOT EXISTS briefing_tags (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    briefing_date TEXT NOT NULL,
    label TEXT NOT NULL,
    category TEXT NOT NULL,
    confidence REAL NOT NULL,
    count INTEGER NOT NULL DEFAULT 0,
    sources TEXT,
    UNIQUE (briefing_date, label, category)
);

CREATE TABLE IF NOT EXISTS watchlist (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    title TEXT NOT NULL,
    description TEXT,
    keywords TEXT,
    is_active INTEGER DEFAULT 1,
    created_at TEXT DEFAULT (datetime('now')),
    updated_at TEXT DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS article_feedback (
    article_id INTEGER PRIMARY KEY REFERENCES articles(id),
    rating TEXT NOT NULL CHECK(rating IN ('positive', 'negative')),
    created_at TEXT DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS run_reports (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    briefing_date TEXT UNIQUE NOT NULL,
    generated_at TEXT DEFAULT (datetime('now')),
    article_count INTEGER DEFAULT 0,
    ioc_count INTEGER DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_articles_date ON articles(briefing_date);
CREATE INDEX IF NOT EXISTS idx_articles_url ON articles(url);
CREATE INDEX IF NOT EXISTS idx_iocs_date ON briefing_iocs(briefing_date);
CREATE INDEX IF NOT EXISTS idx_tags_date ON briefing_tags(briefing_date);
CREATE INDEX IF NOT EXISTS idx_briefings_date ON briefings(briefing_date);
`)
			return err
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
