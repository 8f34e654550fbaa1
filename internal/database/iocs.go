package database

// ReplaceIOCs clears and re-inserts the IOC set for a briefing date.
// Re-running extraction for a date must not accumulate stale rows.
func (db *DB) ReplaceIOCs(briefingDate string, iocs []IOC) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM briefing_iocs WHERE briefing_date = ?", briefingDate); err != nil {
		return err
	}

	for _, ioc := range iocs {
		if _, err := tx.Exec(
			`INSERT INTO briefing_iocs (briefing_date, kind, value, confidence, description)
			VALUES (?, ?, ?, ?, ?)`,
			briefingDate, ioc.Kind, ioc.Value, ioc.Confidence, ioc.Description,
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetIOCs returns the IOC set for a briefing date, ordered by kind then value.
func (db *DB) GetIOCs(briefingDate string) ([]IOC, error) {
	rows, err := db.conn.Query(
		`SELECT briefing_date, kind, value, confidence, description
		FROM briefing_iocs WHERE briefing_date = ? ORDER BY kind, value`, briefingDate,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var iocs []IOC
	for rows.Next() {
		var ioc IOC
		if err := rows.Scan(&ioc.BriefingDate, &ioc.Kind, &ioc.Value, &ioc.Confidence, &ioc.Description); err != nil {
			return nil, err
		}
		iocs = append(iocs, ioc)
	}
	return iocs, rows.Err()
}
