package database

import (
	"database/sql"
)

// UpsertBriefing inserts or replaces a briefing for a date.
func (db *DB) UpsertBriefing(b *Briefing) (int64, error) {
	result, err := db.conn.Exec(
		`INSERT OR REPLACE INTO briefings
		(briefing_date, title, executive_summary, body_markdown, state, synthesis_method,
		total_articles, total_iocs, unique_sources, generated_tags_count,
		tier1_success, tier2_success, tier1_tokens, tier2_tokens, fallback_used)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.BriefingDate, b.Title, b.ExecutiveSummary, b.BodyMarkdown, b.State, b.SynthesisMethod,
		b.TotalArticles, b.TotalIOCs, b.UniqueSources, b.GeneratedTagsCount,
		boolToInt(b.Tier1Success), boolToInt(b.Tier2Success), b.Tier1Tokens, b.Tier2Tokens,
		boolToInt(b.FallbackUsed),
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// SetBriefingState updates the lifecycle state of a briefing.
func (db *DB) SetBriefingState(briefingDate, state string) error {
	_, err := db.conn.Exec(
		"UPDATE briefings SET state = ? WHERE briefing_date = ?", state, briefingDate,
	)
	return err
}

// GetBriefing returns the briefing for a date.
func (db *DB) GetBriefing(briefingDate string) (*Briefing, error) {
	row := db.conn.QueryRow(
		`SELECT id, briefing_date, title, executive_summary, body_markdown, state, synthesis_method,
		total_articles, total_iocs, unique_sources, generated_tags_count,
		tier1_success, tier2_success, tier1_tokens, tier2_tokens, fallback_used, generated_at
		FROM briefings WHERE briefing_date = ?`, briefingDate,
	)
	b, err := scanBriefing(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

// GetAllBriefings returns all briefings, newest first.
func (db *DB) GetAllBriefings() ([]Briefing, error) {
	rows, err := db.conn.Query(
		`SELECT id, briefing_date, title, executive_summary, body_markdown, state, synthesis_method,
		total_articles, total_iocs, unique_sources, generated_tags_count,
		tier1_success, tier2_success, tier1_tokens, tier2_tokens, fallback_used, generated_at
		FROM briefings ORDER BY briefing_date DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var briefings []Briefing
	for rows.Next() {
		var b Briefing
		var t1, t2, fb int
		if err := rows.Scan(&b.ID, &b.BriefingDate, &b.Title, &b.ExecutiveSummary, &b.BodyMarkdown,
			&b.State, &b.SynthesisMethod, &b.TotalArticles, &b.TotalIOCs, &b.UniqueSources,
			&b.GeneratedTagsCount, &t1, &t2, &b.Tier1Tokens, &b.Tier2Tokens, &fb, &b.GeneratedAt); err != nil {
			return nil, err
		}
		b.Tier1Success = t1 != 0
		b.Tier2Success = t2 != 0
		b.FallbackUsed = fb != 0
		briefings = append(briefings, b)
	}
	return briefings, rows.Err()
}

// InsertReport inserts or replaces a run report.
func (db *DB) InsertReport(briefingDate string, articleCount, iocCount int) (int64, error) {
	result, err := db.conn.Exec(
		`INSERT OR REPLACE INTO run_reports (briefing_date, article_count, ioc_count)
		VALUES (?, ?, ?)`,
		briefingDate, articleCount, iocCount,
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// GetLastRunDate returns the date of the most recent run report.
// Returns empty string if no runs exist.
func (db *DB) GetLastRunDate() (string, error) {
	row := db.conn.QueryRow(
		"SELECT briefing_date FROM run_reports ORDER BY briefing_date DESC LIMIT 1",
	)

	var date string
	if err := row.Scan(&date); err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", err
	}
	return date, nil
}

// GetStats returns aggregate database statistics.
func (db *DB) GetStats() (*Stats, error) {
	s := &Stats{}

	queries := []struct {
		sql  string
		dest *int
	}{
		{"SELECT COUNT(*) FROM articles", &s.TotalArticles},
		{"SELECT COUNT(*) FROM article_scores", &s.ScoredArticles},
		{"SELECT COUNT(*) FROM article_scores WHERE score > 0", &s.RelevantArticles},
		{"SELECT COUNT(DISTINCT briefing_date) FROM articles", &s.DaysWithArticles},
		{"SELECT COUNT(*) FROM briefings", &s.Briefings},
		{"SELECT COUNT(*) FROM briefing_iocs", &s.TotalIOCs},
		{"SELECT COUNT(*) FROM watchlist", &s.TotalWatchlist},
		{"SELECT COUNT(*) FROM watchlist WHERE is_active = 1", &s.ActiveWatchlist},
	}

	for _, q := range queries {
		if err := db.conn.QueryRow(q.sql).Scan(q.dest); err != nil {
			return nil, err
		}
	}

	return s, nil
}

func scanBriefing(row *sql.Row) (*Briefing, error) {
	var b Briefing
	var t1, t2, fb int
	if err := row.Scan(&b.ID, &b.BriefingDate, &b.Title, &b.ExecutiveSummary, &b.BodyMarkdown,
		&b.State, &b.SynthesisMethod, &b.TotalArticles, &b.TotalIOCs, &b.UniqueSources,
		&b.GeneratedTagsCount, &t1, &t2, &b.Tier1Tokens, &b.Tier2Tokens, &fb, &b.GeneratedAt); err != nil {
		return nil, err
	}
	b.Tier1Success = t1 != 0
	b.Tier2Success = t2 != 0
	b.FallbackUsed = fb != 0
	return &b, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
