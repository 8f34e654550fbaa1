package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
)

// InsertWatchlistEntry creates a new watchlist entry.
func (db *DB) InsertWatchlistEntry(title, description string, keywords []string) (int64, error) {
	var kwJSON *string
	if keywords != nil {
		data, err := json.Marshal(keywords)
		if err != nil {
			return 0, err
		}
		s := string(data)
		kwJSON = &s
	}

	result, err := db.conn.Exec(
		`INSERT INTO watchlist (title, description, keywords) VALUES (?, ?, ?)`,
		title, description, kwJSON,
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// GetAllWatchlist returns all watchlist entries.
func (db *DB) GetAllWatchlist() ([]WatchlistEntry, error) {
	return db.queryWatchlist("SELECT id, title, description, keywords, is_active, created_at, updated_at FROM watchlist ORDER BY created_at DESC")
}

// GetActiveWatchlist returns only active watchlist entries.
func (db *DB) GetActiveWatchlist() ([]WatchlistEntry, error) {
	return db.queryWatchlist("SELECT id, title, description, keywords, is_active, created_at, updated_at FROM watchlist WHERE is_active = 1 ORDER BY created_at DESC")
}

// GetWatchlistEntry returns a single entry by ID.
func (db *DB) GetWatchlistEntry(entryID int64) (*WatchlistEntry, error) {
	row := db.conn.QueryRow(
		"SELECT id, title, description, keywords, is_active, created_at, updated_at FROM watchlist WHERE id = ?",
		entryID,
	)
	e, err := scanWatchlistEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// UpdateWatchlistEntry updates specified fields of an entry.
func (db *DB) UpdateWatchlistEntry(entryID int64, title, description *string, keywords []string) error {
	var updates []string
	var args []any

	if title != nil {
		updates = append(updates, "title = ?")
		args = append(args, *title)
	}
	if description != nil {
		updates = append(updates, "description = ?")
		args = append(args, *description)
	}
	if keywords != nil {
		data, err := json.Marshal(keywords)
		if err != nil {
			return err
		}
		updates = append(updates, "keywords = ?")
		args = append(args, string(data))
	}
	if len(updates) == 0 {
		return nil
	}

	updates = append(updates, "updated_at = datetime('now')")
	args = append(args, entryID)

	query := fmt.Sprintf("UPDATE watchlist SET %s WHERE id = ?", strings.Join(updates, ", "))
	_, err := db.conn.Exec(query, args...)
	return err
}

// ToggleWatchlistEntry toggles the active state of an entry.
func (db *DB) ToggleWatchlistEntry(entryID int64) error {
	_, err := db.conn.Exec(
		`UPDATE watchlist SET is_active = NOT is_active, updated_at = datetime('now') WHERE id = ?`,
		entryID,
	)
	return err
}

// DeleteWatchlistEntry removes an entry.
func (db *DB) DeleteWatchlistEntry(entryID int64) error {
	_, err := db.conn.Exec("DELETE FROM watchlist WHERE id = ?", entryID)
	return err
}

func (db *DB) queryWatchlist(query string, args ...any) ([]WatchlistEntry, error) {
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []WatchlistEntry
	for rows.Next() {
		var e WatchlistEntry
		var kwJSON, desc *string
		var active int
		if err := rows.Scan(&e.ID, &e.Title, &desc, &kwJSON, &active, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, err
		}
		e.Description = desc
		e.IsActive = active != 0
		if kwJSON != nil {
			if err := json.Unmarshal([]byte(*kwJSON), &e.Keywords); err != nil {
				e.Keywords = nil
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func scanWatchlistEntry(row *sql.Row) (*WatchlistEntry, error) {
	var e WatchlistEntry
	var kwJSON, desc *string
	var active int
	if err := row.Scan(&e.ID, &e.Title, &desc, &kwJSON, &active, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	e.Description = desc
	e.IsActive = active != 0
	if kwJSON != nil {
		if err := json.Unmarshal([]byte(*kwJSON), &e.Keywords); err != nil {
			e.Keywords = nil
		}
	}
	return &e, nil
}
