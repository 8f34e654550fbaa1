package database

import "database/sql"

// UpsertArticleFeedback inserts or updates feedback for an article.
func (db *DB) UpsertArticleFeedback(articleID int64, rating string) error {
	_, err := db.conn.Exec(
		`INSERT OR REPLACE INTO article_feedback (article_id, rating) VALUES (?, ?)`,
		articleID, rating,
	)
	return err
}

// DeleteArticleFeedback removes feedback for an article (toggle off).
func (db *DB) DeleteArticleFeedback(articleID int64) error {
	_, err := db.conn.Exec(`DELETE FROM article_feedback WHERE article_id = ?`, articleID)
	return err
}

// GetArticleFeedback returns feedback for a single article.
func (db *DB) GetArticleFeedback(articleID int64) (*ArticleFeedback, error) {
	row := db.conn.QueryRow(
		`SELECT article_id, rating, created_at FROM article_feedback WHERE article_id = ?`,
		articleID,
	)
	var f ArticleFeedback
	if err := row.Scan(&f.ArticleID, &f.Rating, &f.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &f, nil
}

// GetSourceFeedback aggregates article feedback per source. The relevance
// scorer uses this to boost trusted sources and dampen noisy ones.
func (db *DB) GetSourceFeedback() ([]SourceFeedback, error) {
	rows, err := db.conn.Query(`
		SELECT COALESCE(a.source, 'Unknown') as source,
			SUM(CASE WHEN af.rating = 'positive' THEN 1 ELSE 0 END) as positive,
			SUM(CASE WHEN af.rating = 'negative' THEN 1 ELSE 0 END) as negative
		FROM article_feedback af
		JOIN articles a ON a.id = af.article_id
		GROUP BY COALESCE(a.source, 'Unknown')
		HAVING positive > 0 OR negative > 0
		ORDER BY (positive - negative) DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var feedback []SourceFeedback
	for rows.Next() {
		var sf SourceFeedback
		if err := rows.Scan(&sf.Source, &sf.Positive, &sf.Negative); err != nil {
			return nil, err
		}
		feedback = append(feedback, sf)
	}
	return feedback, rows.Err()
}
