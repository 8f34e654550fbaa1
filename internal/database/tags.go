package database

import "encoding/json"

// ReplaceTags clears and re-inserts the tag set for a briefing date.
func (db *DB) ReplaceTags(briefingDate string, tags []Tag) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM briefing_tags WHERE briefing_date = ?", briefingDate); err != nil {
		return err
	}

	for _, tag := range tags {
		var srcJSON *string
		if tag.Sources != nil {
			data, err := json.Marshal(tag.Sources)
			if err != nil {
				return err
			}
			s := string(data)
			srcJSON = &s
		}
		if _, err := tx.Exec(
			`INSERT INTO briefing_tags (briefing_date, label, category, confidence, count, sources)
			VALUES (?, ?, ?, ?, ?, ?)`,
			briefingDate, tag.Label, tag.Category, tag.Confidence, tag.Count, srcJSON,
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetTags returns the tag set for a briefing date in stored order:
// confidence DESC, count DESC, label ASC.
func (db *DB) GetTags(briefingDate string) ([]Tag, error) {
	rows, err := db.conn.Query(
		`SELECT briefing_date, label, category, confidence, count, sources
		FROM briefing_tags WHERE briefing_date = ?
		ORDER BY confidence DESC, count DESC, label`, briefingDate,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tags []Tag
	for rows.Next() {
		var t Tag
		var srcJSON *string
		if err := rows.Scan(&t.BriefingDate, &t.Label, &t.Category, &t.Confidence, &t.Count, &srcJSON); err != nil {
			return nil, err
		}
		if srcJSON != nil {
			if err := json.Unmarshal([]byte(*srcJSON), &t.Sources); err != nil {
				t.Sources = nil
			}
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}
