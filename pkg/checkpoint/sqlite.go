package checkpoint

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// SQLiteStore persists checkpoints in a local SQLite database, one row
// per query name. Useful when a process drives several exports and
// wants a single resumable state file.
type SQLiteStore struct {
	db   *sql.DB
	name string
	mu   sync.Mutex
}

// NewSQLiteStore opens (creating if needed) the database at path and
// scopes the store to the given query name.
func NewSQLiteStore(path, queryName string) (*SQLiteStore, error) {
	if queryName == "" {
		return nil, fmt.Errorf("query name is required")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	schema := `
	CREATE TABLE IF NOT EXISTS checkpoints (
		query_name TEXT PRIMARY KEY,
		next_page INTEGER,
		next_mark TEXT NOT NULL DEFAULT '',
		pages_completed INTEGER NOT NULL DEFAULT 0,
		assets_emitted INTEGER NOT NULL DEFAULT 0,
		total_elements INTEGER,
		last INTEGER NOT NULL DEFAULT 0,
		updated_at TIMESTAMP NOT NULL
	);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &SQLiteStore{db: db, name: queryName}, nil
}

// Save upserts the checkpoint row for this store's query name.
func (s *SQLiteStore) Save(cp Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var nextPage, totalElements sql.NullInt64
	if cp.NextPage != nil {
		nextPage = sql.NullInt64{Int64: int64(*cp.NextPage), Valid: true}
	}
	if cp.TotalElements != nil {
		totalElements = sql.NullInt64{Int64: int64(*cp.TotalElements), Valid: true}
	}

	_, err := s.db.Exec(`
		INSERT INTO checkpoints
			(query_name, next_page, next_mark, pages_completed, assets_emitted, total_elements, last, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(query_name) DO UPDATE SET
			next_page = excluded.next_page,
			next_mark = excluded.next_mark,
			pages_completed = excluded.pages_completed,
			assets_emitted = excluded.assets_emitted,
			total_elements = excluded.total_elements,
			last = excluded.last,
			updated_at = excluded.updated_at`,
		s.name, nextPage, cp.NextMark, cp.PagesCompleted, cp.AssetsEmitted,
		totalElements, boolToInt(cp.Last), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// Load reads this query's checkpoint, or nil when none was saved.
func (s *SQLiteStore) Load() (*Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRow(`
		SELECT next_page, next_mark, pages_completed, assets_emitted, total_elements, last
		FROM checkpoints WHERE query_name = ?`, s.name)

	var (
		cp            Checkpoint
		nextPage      sql.NullInt64
		totalElements sql.NullInt64
		last          int
	)
	err := row.Scan(&nextPage, &cp.NextMark, &cp.PagesCompleted, &cp.AssetsEmitted, &totalElements, &last)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	if nextPage.Valid {
		page := int(nextPage.Int64)
		cp.NextPage = &page
	}
	if totalElements.Valid {
		total := int(totalElements.Int64)
		cp.TotalElements = &total
	}
	cp.Last = last != 0
	return &cp, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var _ Store = (*SQLiteStore)(nil)
var _ Store = (*FileStore)(nil)
