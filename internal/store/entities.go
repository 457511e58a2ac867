package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"engram/internal/logging"
	"engram/internal/types"
)

// payload is the variant-specific JSON column.
type payload struct {
	Task      *types.TaskFields      `json:"task,omitempty"`
	Context   *types.ContextFields   `json:"context,omitempty"`
	Reasoning *types.ReasoningFields `json:"reasoning,omitempty"`
}

// entityID builds a globally unique, lexically monotonic identifier from the
// logical clock. The uuid suffix keeps ids opaque and collision-free across
// databases merged offline.
func entityID(seq int64) string {
	return fmt.Sprintf("%012d-%s", seq, uuid.New().String()[:8])
}

// CreateEntity assigns the identifier and logical timestamp, persists the
// record, and commits the index update before returning. The durable write
// and the index mutation share one critical section: a lookup issued on any
// goroutine the moment CreateEntity returns sees the new entity.
func (s *LocalStore) CreateEntity(e *types.Entity) (*types.Entity, error) {
	timer := logging.StartTimer(logging.CategoryStore, "CreateEntity")
	defer timer.Stop()

	if err := e.Validate(); err != nil {
		return nil, err
	}

	pl, err := json.Marshal(payload{Task: e.Task, Context: e.Context, Reasoning: e.Reasoning})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal entity payload: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *e
	stored.Seq = s.nextSeq()
	stored.ID = entityID(stored.Seq)
	stored.CreatedAt = time.Now().UTC()
	stored.Version = 1

	_, err = s.db.Exec(
		`INSERT INTO entities (id, kind, title, body, agent, seq, created_at, version, payload)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		stored.ID, string(stored.Kind), stored.Title, stored.Body, stored.Agent,
		stored.Seq, stored.CreatedAt, stored.Version, string(pl),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to persist entity: %w", err)
	}

	// Index update is part of the same logical transaction. Title tokens are
	// visible before this call returns; there is no async catch-up.
	s.index.add(stored.ID, stored.Seq, entityTokens(stored.Title, stored.Body))

	logging.StoreDebug("Created %s entity %s (seq=%d title=%q)", stored.Kind, stored.ID, stored.Seq, stored.Title)
	return &stored, nil
}

// GetEntity returns the entity or types.ErrNotFound.
func (s *LocalStore) GetEntity(id string) (*types.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getEntityLocked(id)
}

// getEntityLocked assumes the caller holds at least s.mu.RLock().
func (s *LocalStore) getEntityLocked(id string) (*types.Entity, error) {
	row := s.db.QueryRow(
		`SELECT id, kind, title, COALESCE(body, ''), agent, seq, created_at, version, COALESCE(payload, '{}')
		 FROM entities WHERE id = ? AND deleted = 0`, id)
	return scanEntity(row)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntity(row rowScanner) (*types.Entity, error) {
	var e types.Entity
	var kind, pl string
	err := row.Scan(&e.ID, &kind, &e.Title, &e.Body, &e.Agent, &e.Seq, &e.CreatedAt, &e.Version, &pl)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("entity: %w", types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan entity: %w", err)
	}
	e.Kind = types.EntityKind(kind)

	var p payload
	if err := json.Unmarshal([]byte(pl), &p); err != nil {
		return nil, fmt.Errorf("failed to decode entity payload: %w", err)
	}
	e.Task, e.Context, e.Reasoning = p.Task, p.Context, p.Reasoning
	return &e, nil
}

// UpdateEntity applies a patch under optimistic concurrency. The patch must
// carry the version the caller read; a mismatch fails with types.ErrConflict
// and the caller retries. Title changes reindex inside the critical section.
func (s *LocalStore) UpdateEntity(id string, patch types.EntityPatch) (*types.Entity, error) {
	timer := logging.StartTimer(logging.CategoryStore, "UpdateEntity")
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.getEntityLocked(id)
	if err != nil {
		return nil, err
	}
	if current.Version != patch.Version {
		return nil, fmt.Errorf("entity %s at version %d, patch expects %d: %w",
			id, current.Version, patch.Version, types.ErrConflict)
	}

	updated := *current
	if patch.Title != nil {
		if *patch.Title == "" {
			return nil, fmt.Errorf("%w: entity title cannot be empty", types.ErrInvalid)
		}
		updated.Title = *patch.Title
	}
	if patch.Body != nil {
		updated.Body = *patch.Body
	}
	if patch.Status != nil {
		if updated.Kind != types.KindTask {
			return nil, fmt.Errorf("%w: status patch on %s entity", types.ErrInvalid, updated.Kind)
		}
		if !types.ValidTaskStatus(*patch.Status) {
			return nil, fmt.Errorf("%w: unknown task status %q", types.ErrInvalid, *patch.Status)
		}
		updated.Task = &types.TaskFields{Status: *patch.Status}
	}
	if patch.Tags != nil {
		if updated.Kind != types.KindContext {
			return nil, fmt.Errorf("%w: tags patch on %s entity", types.ErrInvalid, updated.Kind)
		}
		updated.Context = &types.ContextFields{Tags: patch.Tags}
	}
	if patch.Confidence != nil {
		if updated.Kind != types.KindReasoning {
			return nil, fmt.Errorf("%w: confidence patch on %s entity", types.ErrInvalid, updated.Kind)
		}
		if *patch.Confidence < 0 || *patch.Confidence > 1 {
			return nil, fmt.Errorf("%w: confidence %v out of [0,1]", types.ErrInvalid, *patch.Confidence)
		}
		updated.Reasoning = &types.ReasoningFields{Confidence: *patch.Confidence}
	}
	updated.Version = current.Version + 1

	pl, err := json.Marshal(payload{Task: updated.Task, Context: updated.Context, Reasoning: updated.Reasoning})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal entity payload: %w", err)
	}

	res, err := s.db.Exec(
		`UPDATE entities SET title = ?, body = ?, version = ?, payload = ?
		 WHERE id = ? AND version = ? AND deleted = 0`,
		updated.Title, updated.Body, updated.Version, string(pl), id, patch.Version,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update entity: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		// Row vanished or version moved between the read and the write.
		// Both are version conflicts from the caller's perspective under mu.
		return nil, fmt.Errorf("entity %s: %w", id, types.ErrConflict)
	}

	if updated.Title != current.Title || updated.Body != current.Body {
		s.index.remove(id)
		s.index.add(id, updated.Seq, entityTokens(updated.Title, updated.Body))
	}

	logging.StoreDebug("Updated entity %s to version %d", id, updated.Version)
	return &updated, nil
}

// ListEntities returns entities matching the filter in creation order.
func (s *LocalStore) ListEntities(filter types.EntityFilter) ([]*types.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT id, kind, title, COALESCE(body, ''), agent, seq, created_at, version, COALESCE(payload, '{}')
		 FROM entities WHERE deleted = 0`
	var args []interface{}
	if filter.Kind != "" {
		query += " AND kind = ?"
		args = append(args, string(filter.Kind))
	}
	if filter.Agent != "" {
		query += " AND LOWER(agent) = LOWER(?)"
		args = append(args, filter.Agent)
	}
	query += " ORDER BY seq"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list entities: %w", err)
	}
	defer rows.Close()

	var out []*types.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		// Status filtering happens on the decoded payload.
		if filter.Status != "" {
			if e.Task == nil || e.Task.Status != filter.Status {
				continue
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// DeleteEntity soft-deletes an entity and unindexes it. Relationships and
// workflow instances referencing it are retained; an instance for a deleted
// task becomes orphaned and read-only.
func (s *LocalStore) DeleteEntity(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`UPDATE entities SET deleted = 1 WHERE id = ? AND deleted = 0`, id)
	if err != nil {
		return fmt.Errorf("failed to delete entity: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("entity %s: %w", id, types.ErrNotFound)
	}

	s.index.remove(id)
	logging.StoreDebug("Deleted entity %s", id)
	return nil
}

// EntityExists reports whether id names a live entity.
// Caller must hold at least s.mu.RLock() via an exported entry point.
func (s *LocalStore) entityExistsLocked(id string) (bool, error) {
	var one int
	err := s.db.QueryRow(`SELECT 1 FROM entities WHERE id = ? AND deleted = 0`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// TitleOf returns the title for an id, used by NLQ result rendering.
func (s *LocalStore) TitleOf(id string) (string, error) {
	e, err := s.GetEntity(id)
	if err != nil {
		return "", err
	}
	return e.Title, nil
}

// NormalizeAgent trims and defaults the creator agent identifier.
func NormalizeAgent(agent string) string {
	agent = strings.TrimSpace(agent)
	if agent == "" {
		return "unknown"
	}
	return agent
}
