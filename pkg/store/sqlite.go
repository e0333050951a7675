package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore is the default store. The supervisor and every worker process
// open the same file, so WAL mode and a busy timeout are required.
type SQLiteStore struct {
	sqlStore
	path string
}

// NewSQLiteStore creates a new SQLite store
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// - _journal_mode=WAL: readers do not block the single writer
	// - _busy_timeout=10000: wait up to 10 seconds when another process holds the lock
	// - _txlock=immediate: take the write lock at BEGIN so FSM transitions cannot interleave
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=10000&_synchronous=NORMAL&_txlock=immediate", dbPath)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single connection per process to avoid SQLITE_BUSY within the process
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)

	store := &SQLiteStore{
		sqlStore: sqlStore{db: db, placeholder: func(int) string { return "?" }},
		path:     dbPath,
	}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// Path returns the database file
func (s *SQLiteStore) Path() string {
	return s.path
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		model_id TEXT NOT NULL,
		dataset_id TEXT,
		strategy TEXT,
		status TEXT NOT NULL,
		progress REAL NOT NULL DEFAULT 0,
		current_iteration INTEGER NOT NULL DEFAULT 0,
		total_iterations INTEGER NOT NULL DEFAULT 0,
		current_accuracy REAL,
		best_accuracy REAL,
		current_loss REAL,
		best_loss REAL,
		precision_score REAL,
		recall_score REAL,
		f1_score REAL,
		error_message TEXT,
		config TEXT,
		created_at DATETIME NOT NULL,
		started_at DATETIME,
		completed_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS models (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		dataset_id TEXT,
		task TEXT NOT NULL,
		status TEXT NOT NULL,
		accuracy REAL,
		loss REAL,
		artifact_path TEXT,
		hyperparameters TEXT,
		metrics TEXT,
		created_at DATETIME NOT NULL,
		last_trained DATETIME
	);

	CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
	CREATE INDEX IF NOT EXISTS idx_jobs_created ON jobs(created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}
