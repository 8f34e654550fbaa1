package database

import (
	"database/sql"
	"encoding/json"
)

// InsertScore inserts or replaces a relevance score for an article.
func (db *DB) InsertScore(articleID int64, score int, category string, matchedKeywords []string) error {
	var kwJSON *string
	if matchedKeywords != nil {
		data, err := json.Marshal(matchedKeywords)
		if err != nil {
			return err
		}
		s := string(data)
		kwJSON = &s
	}

	_, err := db.conn.Exec(
		`INSERT OR REPLACE INTO article_scores (article_id, score, category, matched_keywords)
		VALUES (?, ?, ?, ?)`,
		articleID, score, category, kwJSON,
	)
	return err
}

// GetScore returns the relevance score for an article.
func (db *DB) GetScore(articleID int64) (*ArticleScore, error) {
	row := db.conn.QueryRow(
		`SELECT article_id, score, category, matched_keywords, scored_at
		FROM article_scores WHERE article_id = ?`, articleID,
	)

	var s ArticleScore
	var kwJSON *string
	if err := row.Scan(&s.ArticleID, &s.Score, &s.Category, &kwJSON, &s.ScoredAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	if kwJSON != nil {
		if err := json.Unmarshal([]byte(*kwJSON), &s.MatchedKeywords); err != nil {
			s.MatchedKeywords = nil
		}
	}
	return &s, nil
}

// GetScoreMap returns article_id -> score row for all scored articles of a date.
func (db *DB) GetScoreMap(briefingDate string) (map[int64]ArticleScore, error) {
	rows, err := db.conn.Query(
		`SELECT s.article_id, s.score, s.category, s.matched_keywords, s.scored_at
		FROM article_scores s JOIN articles a ON a.id = s.article_id
		WHERE a.briefing_date = ?`, briefingDate,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	m := make(map[int64]ArticleScore)
	for rows.Next() {
		var s ArticleScore
		var kwJSON *string
		if err := rows.Scan(&s.ArticleID, &s.Score, &s.Category, &kwJSON, &s.ScoredAt); err != nil {
			return nil, err
		}
		if kwJSON != nil {
			if err := json.Unmarshal([]byte(*kwJSON), &s.MatchedKeywords); err != nil {
				s.MatchedKeywords = nil
			}
		}
		m[s.ArticleID] = s
	}
	return m, rows.Err()
}
