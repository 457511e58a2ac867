// Package store implements the engram entity store: persisted entities,
// relationship edges, and workflow instances backed by SQLite, with a
// synchronous in-memory inverted index over titles and content.
//
// The store is the sole serialization point. Every write acquires the store
// mutex and commits both the durable row and the index mutation inside the
// same critical section, so no reader ever observes an entity without its
// index entries or vice versa.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"

	"engram/internal/logging"
)

// LocalStore is the SQLite-backed entity store.
type LocalStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string

	// seq is the monotonic logical clock. Guarded by mu.
	seq int64

	// index is the inverted title/content index. Guarded by mu.
	index *invertedIndex

	// relObserver, when set, is called (outside mu) with the source and
	// target ids of every relationship write. The validation cache uses it
	// for eager eviction.
	relObserver   func(entityID string)
	relObserverMu sync.RWMutex
}

// NewLocalStore initializes the SQLite database at the given path.
func NewLocalStore(path string) (*LocalStore, error) {
	timer := logging.StartTimer(logging.CategoryStore, "NewLocalStore")
	defer timer.Stop()

	logging.Store("Initializing LocalStore at path: %s", path)

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite journal_mode=WAL: %v", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite synchronous=NORMAL: %v", err)
	}

	s := &LocalStore{db: db, dbPath: path, index: newInvertedIndex()}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.loadSeq(); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.rebuildIndex(); err != nil {
		db.Close()
		return nil, err
	}

	logging.Store("LocalStore ready (seq=%d, %d indexed tokens)", s.seq, s.index.vocabSize())
	return s, nil
}

// initialize creates the required tables.
func (s *LocalStore) initialize() error {
	entityTable := `
	CREATE TABLE IF NOT EXISTS entities (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		title TEXT NOT NULL,
		body TEXT,
		agent TEXT NOT NULL,
		seq INTEGER NOT NULL UNIQUE,
		created_at DATETIME NOT NULL,
		version INTEGER NOT NULL DEFAULT 1,
		payload TEXT,
		deleted INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_entities_kind ON entities(kind);
	CREATE INDEX IF NOT EXISTS idx_entities_seq ON entities(seq);
	`

	relationshipTable := `
	CREATE TABLE IF NOT EXISTS relationships (
		id TEXT PRIMARY KEY,
		rel_type TEXT NOT NULL,
		source_id TEXT NOT NULL,
		target_id TEXT NOT NULL,
		seq INTEGER NOT NULL UNIQUE,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_rel_source ON relationships(source_id);
	CREATE INDEX IF NOT EXISTS idx_rel_target ON relationships(target_id);
	CREATE INDEX IF NOT EXISTS idx_rel_type ON relationships(rel_type);
	`

	instanceTable := `
	CREATE TABLE IF NOT EXISTS workflow_instances (
		id TEXT PRIMARY KEY,
		template_id TEXT NOT NULL,
		task_id TEXT NOT NULL,
		current_state TEXT NOT NULL,
		data TEXT,
		history TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_wfi_task ON workflow_instances(task_id);
	CREATE INDEX IF NOT EXISTS idx_wfi_template ON workflow_instances(template_id);
	`

	for _, stmt := range []string{entityTable, relationshipTable, instanceTable} {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}
	return nil
}

// loadSeq restores the logical clock from the persisted maximum.
func (s *LocalStore) loadSeq() error {
	var maxEntity, maxRel sql.NullInt64
	if err := s.db.QueryRow(`SELECT MAX(seq) FROM entities`).Scan(&maxEntity); err != nil {
		return fmt.Errorf("failed to load entity seq: %w", err)
	}
	if err := s.db.QueryRow(`SELECT MAX(seq) FROM relationships`).Scan(&maxRel); err != nil {
		return fmt.Errorf("failed to load relationship seq: %w", err)
	}
	s.seq = maxEntity.Int64
	if maxRel.Int64 > s.seq {
		s.seq = maxRel.Int64
	}
	return nil
}

// nextSeq advances the logical clock. Caller must hold s.mu.
func (s *LocalStore) nextSeq() int64 {
	s.seq++
	return s.seq
}

// SetRelationshipObserver registers a callback invoked after every
// relationship write with the ids of both endpoints.
func (s *LocalStore) SetRelationshipObserver(fn func(entityID string)) {
	s.relObserverMu.Lock()
	defer s.relObserverMu.Unlock()
	s.relObserver = fn
}

func (s *LocalStore) notifyRelationshipWrite(ids ...string) {
	s.relObserverMu.RLock()
	fn := s.relObserver
	s.relObserverMu.RUnlock()
	if fn == nil {
		return
	}
	for _, id := range ids {
		fn(id)
	}
}

// Close closes the underlying database.
func (s *LocalStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}
