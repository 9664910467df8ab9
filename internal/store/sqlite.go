package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite connection with initialization logic.
type DB struct {
	*sql.DB
}

// Open creates or opens the SQLite database at the given path, runs schema
// initialization, and configures WAL mode for concurrent reads.
func Open(dbPath string) (*DB, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, ioErr("create db directory", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, ioErr("open sqlite", err)
	}

	db.SetMaxOpenConns(1) // SQLite handles one writer at a time

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, ioErr("init schema", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, ioErr("run migrations", err)
	}

	if err := createIndexes(db); err != nil {
		db.Close()
		return nil, ioErr("create indexes", err)
	}

	return &DB{db}, nil
}

// inTx runs fn inside a transaction, committing only if fn succeeds.
func (db *DB) inTx(fn func(tx *sql.Tx) error) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func initSchema(db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS conversations (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  session_id TEXT NOT NULL,
  timestamp TEXT NOT NULL,
  user_input TEXT NOT NULL,
  response TEXT NOT NULL,
  context TEXT NOT NULL DEFAULT '',
  tags TEXT NOT NULL DEFAULT '[]'
);

CREATE TABLE IF NOT EXISTS learning_patterns (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  pattern_type TEXT NOT NULL,
  pattern_data TEXT NOT NULL,
  pattern_data_hash TEXT NOT NULL DEFAULT '',
  frequency INTEGER NOT NULL DEFAULT 1,
  last_used TEXT NOT NULL,
  success_rate REAL NOT NULL DEFAULT 0.8
);

CREATE TABLE IF NOT EXISTS user_preferences (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  user_id TEXT NOT NULL,
  preference_key TEXT NOT NULL,
  preference_value TEXT NOT NULL,
  timestamp TEXT NOT NULL
);
`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("create tables: %w", err)
	}
	return nil
}

// runMigrations adopts databases written by the earlier memory service,
// which used nova_response/memory_tags column names and had no pattern
// hash. Each step is idempotent so it is safe to call on every open.
func runMigrations(db *sql.DB) error {
	renames := []struct{ table, from, to string }{
		{"conversations", "nova_response", "response"},
		{"conversations", "memory_tags", "tags"},
	}
	for _, r := range renames {
		legacy, err := columnExists(db, r.table, r.from)
		if err != nil {
			return fmt.Errorf("check %s column: %w", r.from, err)
		}
		if !legacy {
			continue
		}
		q := fmt.Sprintf(`ALTER TABLE %s RENAME COLUMN %s TO %s`, r.table, r.from, r.to)
		if _, err := db.Exec(q); err != nil {
			return fmt.Errorf("rename %s.%s: %w", r.table, r.from, err)
		}
	}

	hasHash, err := columnExists(db, "learning_patterns", "pattern_data_hash")
	if err != nil {
		return fmt.Errorf("check pattern_data_hash column: %w", err)
	}
	if !hasHash {
		if _, err := db.Exec(`ALTER TABLE learning_patterns ADD COLUMN pattern_data_hash TEXT NOT NULL DEFAULT ''`); err != nil {
			return fmt.Errorf("add pattern_data_hash: %w", err)
		}
	}

	return backfillPatternHashes(db)
}

// backfillPatternHashes computes hashes for rows inserted before the hash
// column existed and folds rows that turn out to be duplicates.
func backfillPatternHashes(db *sql.DB) error {
	rows, err := db.Query(`SELECT id, pattern_type, pattern_data, frequency FROM learning_patterns WHERE pattern_data_hash = '' ORDER BY id`)
	if err != nil {
		return fmt.Errorf("select unhashed patterns: %w", err)
	}
	type legacyRow struct {
		id        int64
		typ, data string
		frequency int
	}
	var pending []legacyRow
	for rows.Next() {
		var r legacyRow
		if err := rows.Scan(&r.id, &r.typ, &r.data, &r.frequency); err != nil {
			rows.Close()
			return fmt.Errorf("scan legacy pattern: %w", err)
		}
		pending = append(pending, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	keep := make(map[string]int64)
	for _, r := range pending {
		hash := rawDataHash(r.data)
		key := r.typ + "\x00" + hash
		if first, ok := keep[key]; ok {
			if _, err := db.Exec(`UPDATE learning_patterns SET frequency = frequency + ? WHERE id = ?`, r.frequency, first); err != nil {
				return fmt.Errorf("fold legacy pattern: %w", err)
			}
			if _, err := db.Exec(`DELETE FROM learning_patterns WHERE id = ?`, r.id); err != nil {
				return fmt.Errorf("drop legacy pattern: %w", err)
			}
			continue
		}
		keep[key] = r.id
		if _, err := db.Exec(`UPDATE learning_patterns SET pattern_data_hash = ? WHERE id = ?`, hash, r.id); err != nil {
			return fmt.Errorf("backfill pattern hash: %w", err)
		}
	}
	return nil
}

func createIndexes(db *sql.DB) error {
	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_conversations_timestamp ON conversations(timestamp)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_learning_patterns_identity ON learning_patterns(pattern_type, pattern_data_hash)`,
		`CREATE INDEX IF NOT EXISTS idx_learning_patterns_type ON learning_patterns(pattern_type)`,
		`CREATE INDEX IF NOT EXISTS idx_user_preferences_user ON user_preferences(user_id, timestamp)`,
	}
	for _, idx := range indexes {
		if _, err := db.Exec(idx); err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}
	return nil
}

// columnExists checks if a column exists in a table. It properly closes the
// rows cursor before returning, avoiding deadlocks with MaxOpenConns(1).
func columnExists(db *sql.DB, table, column string) (bool, error) {
	rows, err := db.Query(
		fmt.Sprintf("SELECT name FROM pragma_table_info('%s') WHERE name = ?", table),
		column,
	)
	if err != nil {
		return false, err
	}
	found := rows.Next()
	rows.Close()
	if err := rows.Err(); err != nil {
		return false, err
	}
	return found, nil
}
