package database

import (
	"database/sql"
)

// InsertArticle inserts an article. Returns the ID on success, 0 if duplicate.
func (db *DB) InsertArticle(url, title string, source, publishedDate, content, briefingDate *string) (int64, error) {
	result, err := db.conn.Exec(
		`INSERT INTO articles (url, title, source, published_date, content, briefing_date)
		VALUES (?, ?, ?, ?, ?, ?)`,
		url, title, source, publishedDate, content, briefingDate,
	)
	if err != nil {
		// Duplicate URL constraint
		return 0, nil //nolint: nilerr
	}
	return result.LastInsertId()
}

// GetArticlesForDate returns articles collected for a briefing date,
// ordered by collected_at then id for a stable sequence.
func (db *DB) GetArticlesForDate(briefingDate string) ([]Article, error) {
	rows, err := db.conn.Query(
		`SELECT id, url, title, source, published_date, content, content_fetched, briefing_date, collected_at
		FROM articles WHERE briefing_date = ? ORDER BY collected_at, id`, briefingDate,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanArticles(rows)
}

// GetArticlesNeedingFetch returns articles with empty content that haven't been fetched.
func (db *DB) GetArticlesNeedingFetch(briefingDate *string) ([]Article, error) {
	query := `SELECT id, url, title, source, published_date, content, content_fetched, briefing_date, collected_at
		FROM articles WHERE (content IS NULL OR content = '') AND content_fetched = 0`
	var args []any
	if briefingDate != nil {
		query += " AND briefing_date = ?"
		args = append(args, *briefingDate)
	}
	query += " ORDER BY collected_at, id"

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanArticles(rows)
}

// UpdateArticleContent updates article content after fetching.
func (db *DB) UpdateArticleContent(articleID int64, content *string) error {
	_, err := db.conn.Exec(
		"UPDATE articles SET content = ?, content_fetched = 1 WHERE id = ?",
		content, articleID,
	)
	return err
}

// MarkArticleFetchAttempted marks that we tried to fetch content.
func (db *DB) MarkArticleFetchAttempted(articleID int64) error {
	_, err := db.conn.Exec(
		"UPDATE articles SET content_fetched = 1 WHERE id = ?", articleID,
	)
	return err
}

// GetUnscoredArticles returns articles that have no relevance score yet.
func (db *DB) GetUnscoredArticles(briefingDate *string) ([]Article, error) {
	query := `SELECT a.id, a.url, a.title, a.source, a.published_date, a.content,
		a.content_fetched, a.briefing_date, a.collected_at
		FROM articles a LEFT JOIN article_scores s ON a.id = s.article_id
		WHERE s.article_id IS NULL`
	var args []any
	if briefingDate != nil {
		query += " AND a.briefing_date = ?"
		args = append(args, *briefingDate)
	}
	query += " ORDER BY a.collected_at, a.id"

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanArticles(rows)
}

// GetQualifyingArticles returns articles scored above the threshold for a
// date, highest score first. Ties order by id for reproducibility.
func (db *DB) GetQualifyingArticles(briefingDate string, threshold int) ([]Article, error) {
	rows, err := db.conn.Query(
		`SELECT a.id, a.url, a.title, a.source, a.published_date, a.content,
		a.content_fetched, a.briefing_date, a.collected_at
		FROM articles a JOIN article_scores s ON a.id = s.article_id
		WHERE a.briefing_date = ? AND s.score > ?
		ORDER BY s.score DESC, a.id`, briefingDate, threshold,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanArticles(rows)
}

// GetArticleByID returns a single article by ID.
func (db *DB) GetArticleByID(articleID int64) (*Article, error) {
	row := db.conn.QueryRow(
		`SELECT id, url, title, source, published_date, content, content_fetched, briefing_date, collected_at
		FROM articles WHERE id = ?`, articleID,
	)
	a, err := scanArticle(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// CountUniqueSources counts distinct sources among qualifying articles.
func (db *DB) CountUniqueSources(briefingDate string, threshold int) (int, error) {
	var n int
	err := db.conn.QueryRow(
		`SELECT COUNT(DISTINCT COALESCE(a.source, ''))
		FROM articles a JOIN article_scores s ON a.id = s.article_id
		WHERE a.briefing_date = ? AND s.score > ? AND a.source IS NOT NULL`,
		briefingDate, threshold,
	).Scan(&n)
	return n, err
}

func scanArticles(rows *sql.Rows) ([]Article, error) {
	var articles []Article
	for rows.Next() {
		var a Article
		var fetched int
		if err := rows.Scan(&a.ID, &a.URL, &a.Title, &a.Source, &a.PublishedDate,
			&a.Content, &fetched, &a.BriefingDate, &a.CollectedAt); err != nil {
			return nil, err
		}
		a.ContentFetched = fetched != 0
		articles = append(articles, a)
	}
	return articles, rows.Err()
}

func scanArticle(row *sql.Row) (*Article, error) {
	var a Article
	var fetched int
	if err := row.Scan(&a.ID, &a.URL, &a.Title, &a.Source, &a.PublishedDate,
		&a.Content, &fetched, &a.BriefingDate, &a.CollectedAt); err != nil {
		return nil, err
	}
	a.ContentFetched = fetched != 0
	return &a, nil
}
