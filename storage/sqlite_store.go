package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"sherlock/detect"
	"sherlock/utils"

	_ "github.com/mattn/go-sqlite3" // SQLite driver registration
)

// SQLiteStore persists report records in a local SQLite database. Records
// are insert-only; lookups return the most recent row per task id.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore opens (and if needed creates) the database file.
func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	// Extract the file path before query parameters
	dbPath := dataSourceName
	if idx := strings.Index(dataSourceName, "?"); idx != -1 {
		dbPath = dataSourceName[:idx]
	}

	dbDir := filepath.Dir(dbPath)
	if dbDir != "." && dbDir != "" {
		if err := utils.CreateFolder(dbDir); err != nil {
			return nil, fmt.Errorf("error creating database directory: %w", err)
		}
	}

	// Add busy timeout param to DSN (milliseconds)
	if !strings.Contains(dataSourceName, "_busy_timeout") {
		if strings.Contains(dataSourceName, "?") {
			dataSourceName += "&_busy_timeout=5000"
		} else {
			dataSourceName += "?_busy_timeout=5000"
		}
	}

	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("error connecting to SQLite: %w", err)
	}

	if err := createReportsTable(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("error creating tables: %w", err)
	}

	return &SQLiteStore{db: db, path: dbPath}, nil
}

func createReportsTable(db *sql.DB) error {
	schema := `
    CREATE TABLE IF NOT EXISTS reports (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        task_id TEXT NOT NULL,
        timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
        filename TEXT,
        model TEXT,
        report TEXT NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_reports_task_id ON reports(task_id);
    CREATE INDEX IF NOT EXISTS idx_reports_timestamp ON reports(timestamp);
    `
	_, err := db.Exec(schema)
	return err
}

// Save inserts a new record and returns its row key.
func (s *SQLiteStore) Save(rec Record) (string, error) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	body, err := json.Marshal(rec.Report)
	if err != nil {
		return "", fmt.Errorf("error marshaling report: %w", err)
	}

	result, err := s.db.Exec(
		"INSERT INTO reports (task_id, timestamp, filename, model, report) VALUES (?, ?, ?, ?, ?)",
		rec.TaskID, rec.Timestamp, rec.Filename, rec.ModelID, string(body),
	)
	if err != nil {
		return "", fmt.Errorf("error inserting report: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return "", fmt.Errorf("error reading insert id: %w", err)
	}
	return fmt.Sprintf("reports/%d", id), nil
}

// Load returns the most recent record for the task id.
func (s *SQLiteStore) Load(taskID string) (Record, bool, error) {
	row := s.db.QueryRow(
		"SELECT task_id, timestamp, filename, model, report FROM reports WHERE task_id = ? ORDER BY id DESC LIMIT 1",
		taskID,
	)

	rec, err := scanRecord(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return Record{}, false, nil
		}
		return Record{}, false, err
	}
	return rec, true, nil
}

// List returns summaries ordered by recency.
func (s *SQLiteStore) List(limit, offset int) ([]Summary, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.Query(
		"SELECT id, task_id, timestamp, filename, model, report FROM reports ORDER BY timestamp DESC, id DESC LIMIT ? OFFSET ?",
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("error querying reports: %w", err)
	}
	defer rows.Close()

	var summaries []Summary
	for rows.Next() {
		var (
			id   int64
			rec  Record
			body string
		)
		if err := rows.Scan(&id, &rec.TaskID, &rec.Timestamp, &rec.Filename, &rec.ModelID, &body); err != nil {
			return nil, fmt.Errorf("error scanning row: %w", err)
		}
		if err := json.Unmarshal([]byte(body), &rec.Report); err != nil {
			continue
		}
		summaries = append(summaries, summarize(rec, fmt.Sprintf("reports/%d", id)))
	}
	return summaries, rows.Err()
}

// Delete removes all records for the task id.
func (s *SQLiteStore) Delete(taskID string) (bool, error) {
	result, err := s.db.Exec("DELETE FROM reports WHERE task_id = ?", taskID)
	if err != nil {
		return false, fmt.Errorf("error deleting reports: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("error reading affected rows: %w", err)
	}
	return affected > 0, nil
}

// Stats reports record count and payload size.
func (s *SQLiteStore) Stats() (Stats, error) {
	stats := Stats{Location: s.path}

	row := s.db.QueryRow("SELECT COUNT(*), COALESCE(SUM(LENGTH(report)), 0) FROM reports")
	if err := row.Scan(&stats.Count, &stats.TotalSizeBytes); err != nil {
		return Stats{}, fmt.Errorf("error counting reports: %w", err)
	}
	return stats, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (Record, error) {
	var (
		rec  Record
		body string
	)
	if err := row.Scan(&rec.TaskID, &rec.Timestamp, &rec.Filename, &rec.ModelID, &body); err != nil {
		return Record{}, err
	}
	var report detect.Report
	if err := json.Unmarshal([]byte(body), &report); err != nil {
		return Record{}, fmt.Errorf("error parsing stored report: %w", err)
	}
	rec.Report = report
	return rec, nil
}
