package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"engram/internal/logging"
	"engram/internal/types"
)

// =============================================================================
// WORKFLOW INSTANCE PERSISTENCE
// =============================================================================
//
// Instances persist through the entity store so the workflow engine inherits
// the same durability and read-after-write guarantees as entities: an
// instance is queryable the moment InsertInstance returns.

// InsertInstance persists a new instance. When allowMultiple is false and an
// instance already exists for the same (template, task) pair, the insert
// fails with types.ErrConflict. The existence check and the insert share the
// store's critical section so concurrent Start calls cannot both succeed.
func (s *LocalStore) InsertInstance(inst *types.WorkflowInstance, allowMultiple bool) error {
	timer := logging.StartTimer(logging.CategoryStore, "InsertInstance")
	defer timer.Stop()

	dataJSON, historyJSON, err := encodeInstance(inst)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Task must exist at start time.
	ok, err := s.entityExistsLocked(inst.TaskID)
	if err != nil {
		return fmt.Errorf("failed to check task %s: %w", inst.TaskID, err)
	}
	if !ok {
		return fmt.Errorf("task %s: %w", inst.TaskID, types.ErrNotFound)
	}

	if !allowMultiple {
		var one int
		err := s.db.QueryRow(
			`SELECT 1 FROM workflow_instances WHERE template_id = ? AND task_id = ? LIMIT 1`,
			inst.TemplateID, inst.TaskID,
		).Scan(&one)
		if err == nil {
			return fmt.Errorf("instance for template %s and task %s already exists: %w",
				inst.TemplateID, inst.TaskID, types.ErrConflict)
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("failed to check instance uniqueness: %w", err)
		}
	}

	_, err = s.db.Exec(
		`INSERT INTO workflow_instances (id, template_id, task_id, current_state, data, history, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		inst.ID, inst.TemplateID, inst.TaskID, inst.CurrentState,
		dataJSON, historyJSON, inst.CreatedAt, inst.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to persist workflow instance: %w", err)
	}

	logging.StoreDebug("Inserted workflow instance %s (template=%s task=%s)", inst.ID, inst.TemplateID, inst.TaskID)
	return nil
}

// UpdateInstance commits a transition: current state, data, and history are
// written atomically.
func (s *LocalStore) UpdateInstance(inst *types.WorkflowInstance) error {
	dataJSON, historyJSON, err := encodeInstance(inst)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	inst.UpdatedAt = time.Now().UTC()
	res, err := s.db.Exec(
		`UPDATE workflow_instances SET current_state = ?, data = ?, history = ?, updated_at = ?
		 WHERE id = ?`,
		inst.CurrentState, dataJSON, historyJSON, inst.UpdatedAt, inst.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update workflow instance: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("workflow instance %s: %w", inst.ID, types.ErrNotFound)
	}
	return nil
}

// GetInstance returns the latest committed state of an instance. Pure read;
// no caching layer sits between the caller and the store.
func (s *LocalStore) GetInstance(id string) (*types.WorkflowInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(
		`SELECT id, template_id, task_id, current_state, COALESCE(data, '{}'), COALESCE(history, '[]'), created_at, updated_at
		 FROM workflow_instances WHERE id = ?`, id)
	inst, err := scanInstance(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("workflow instance %s: %w", id, types.ErrNotFound)
	}
	return inst, err
}

// InstancesForTask returns all instances bound to a task, in creation order.
func (s *LocalStore) InstancesForTask(taskID string) ([]*types.WorkflowInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT id, template_id, task_id, current_state, COALESCE(data, '{}'), COALESCE(history, '[]'), created_at, updated_at
		 FROM workflow_instances WHERE task_id = ? ORDER BY created_at`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to query instances: %w", err)
	}
	defer rows.Close()

	var out []*types.WorkflowInstance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

func encodeInstance(inst *types.WorkflowInstance) (dataJSON, historyJSON string, err error) {
	d, err := json.Marshal(inst.Data)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal instance data: %w", err)
	}
	h, err := json.Marshal(inst.History)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal instance history: %w", err)
	}
	return string(d), string(h), nil
}

func scanInstance(row rowScanner) (*types.WorkflowInstance, error) {
	var inst types.WorkflowInstance
	var dataJSON, historyJSON string
	err := row.Scan(&inst.ID, &inst.TemplateID, &inst.TaskID, &inst.CurrentState,
		&dataJSON, &historyJSON, &inst.CreatedAt, &inst.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(dataJSON), &inst.Data); err != nil {
		return nil, fmt.Errorf("failed to decode instance data: %w", err)
	}
	if err := json.Unmarshal([]byte(historyJSON), &inst.History); err != nil {
		return nil, fmt.Errorf("failed to decode instance history: %w", err)
	}
	return &inst, nil
}
