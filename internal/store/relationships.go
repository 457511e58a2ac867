package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"engram/internal/logging"
	"engram/internal/types"
)

// CreateRelationship persists a directed typed edge. Both endpoints must
// exist at creation time; the check runs synchronously inside the store's
// critical section so a concurrent delete cannot slip between the check and
// the write. Self-loops are permitted only for the annotates type.
func (s *LocalStore) CreateRelationship(relType types.RelationType, sourceID, targetID string) (*types.Relationship, error) {
	timer := logging.StartTimer(logging.CategoryStore, "CreateRelationship")
	defer timer.Stop()

	if relType == "" {
		return nil, fmt.Errorf("%w: relationship type cannot be empty", types.ErrInvalid)
	}
	if sourceID == targetID && relType != types.RelAnnotates {
		return nil, fmt.Errorf("%w: self-loop not permitted for relationship type %q", types.ErrInvalid, relType)
	}

	s.mu.Lock()

	for _, id := range []string{sourceID, targetID} {
		ok, err := s.entityExistsLocked(id)
		if err != nil {
			s.mu.Unlock()
			return nil, fmt.Errorf("failed to check entity %s: %w", id, err)
		}
		if !ok {
			s.mu.Unlock()
			return nil, fmt.Errorf("relationship endpoint %s: %w", id, types.ErrNotFound)
		}
	}

	rel := &types.Relationship{
		ID:        uuid.New().String(),
		Type:      relType,
		SourceID:  sourceID,
		TargetID:  targetID,
		Seq:       s.nextSeq(),
		CreatedAt: time.Now().UTC(),
	}

	_, err := s.db.Exec(
		`INSERT INTO relationships (id, rel_type, source_id, target_id, seq, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rel.ID, string(rel.Type), rel.SourceID, rel.TargetID, rel.Seq, rel.CreatedAt,
	)
	s.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to persist relationship: %w", err)
	}

	// Eager cache eviction: no stale validation pass after an edge changes.
	s.notifyRelationshipWrite(sourceID, targetID)

	logging.StoreDebug("Created relationship %s -[%s]-> %s", sourceID, relType, targetID)
	return rel, nil
}

// DeleteRelationship removes an edge and notifies the observer so cached
// validation results covering its endpoints are evicted.
func (s *LocalStore) DeleteRelationship(id string) error {
	s.mu.Lock()

	var sourceID, targetID string
	err := s.db.QueryRow(`SELECT source_id, target_id FROM relationships WHERE id = ?`, id).
		Scan(&sourceID, &targetID)
	if errors.Is(err, sql.ErrNoRows) {
		s.mu.Unlock()
		return fmt.Errorf("relationship %s: %w", id, types.ErrNotFound)
	}
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to load relationship: %w", err)
	}
	if _, err := s.db.Exec(`DELETE FROM relationships WHERE id = ?`, id); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to delete relationship: %w", err)
	}
	s.mu.Unlock()

	s.notifyRelationshipWrite(sourceID, targetID)
	return nil
}

// RelationshipsOf returns every edge whose source or target is the given
// entity, in creation order.
func (s *LocalStore) RelationshipsOf(entityID string) ([]*types.Relationship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT id, rel_type, source_id, target_id, seq, created_at
		 FROM relationships WHERE source_id = ? OR target_id = ? ORDER BY seq`,
		entityID, entityID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query relationships: %w", err)
	}
	defer rows.Close()

	var out []*types.Relationship
	for rows.Next() {
		var r types.Relationship
		var relType string
		if err := rows.Scan(&r.ID, &relType, &r.SourceID, &r.TargetID, &r.Seq, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan relationship: %w", err)
		}
		r.Type = types.RelationType(relType)
		out = append(out, &r)
	}
	return out, rows.Err()
}

// HasRelationship reports whether the entity participates in at least one
// edge of the given type, on either end. The validation gate's requirement
// checks read through this.
func (s *LocalStore) HasRelationship(entityID string, relType types.RelationType) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var one int
	err := s.db.QueryRow(
		`SELECT 1 FROM relationships WHERE rel_type = ? AND (source_id = ? OR target_id = ?) LIMIT 1`,
		string(relType), entityID, entityID,
	).Scan(&one)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, fmt.Errorf("failed to check relationship: %w", err)
}
