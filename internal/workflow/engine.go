package workflow

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"engram/internal/logging"
	"engram/internal/store"
	"engram/internal/types"
)

// Engine manages workflow instances. Each instance is an independent state
// machine: transitioning one never mutates or locks another's state. The
// only shared data is the read-only template definition.
type Engine struct {
	store    *store.LocalStore
	registry *Registry

	// Per-instance locks serialize concurrent transitions on the same
	// instance. Instances for different tasks never contend.
	instMu map[string]*sync.Mutex
	mapMu  sync.Mutex
}

// NewEngine returns an engine over the given store and template registry.
func NewEngine(s *store.LocalStore, r *Registry) *Engine {
	return &Engine{store: s, registry: r, instMu: make(map[string]*sync.Mutex)}
}

// Registry exposes the engine's template registry.
func (e *Engine) Registry() *Registry { return e.registry }

func (e *Engine) lockFor(instanceID string) *sync.Mutex {
	e.mapMu.Lock()
	defer e.mapMu.Unlock()
	mu, ok := e.instMu[instanceID]
	if !ok {
		mu = &sync.Mutex{}
		e.instMu[instanceID] = mu
	}
	return mu
}

// Start creates an instance of the template bound to the task, at the
// template's start state, and persists it before returning: Status issued
// on any goroutine the moment Start returns reflects the new instance.
// Fails with types.ErrConflict when an instance already exists for the
// (template, task) pair and the template forbids multiplicity.
func (e *Engine) Start(templateID, taskID string) (*types.WorkflowInstance, error) {
	timer := logging.StartTimer(logging.CategoryWorkflow, "Start")
	defer timer.Stop()

	tmpl, err := e.registry.Get(templateID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	inst := &types.WorkflowInstance{
		ID:           uuid.New().String(),
		TemplateID:   tmpl.ID,
		TaskID:       taskID,
		CurrentState: tmpl.StartState(),
		Data:         map[string]string{},
		History: []types.TransitionRecord{
			{State: tmpl.StartState(), Transition: "", Timestamp: now},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := e.store.InsertInstance(inst, tmpl.AllowMultiple); err != nil {
		return nil, err
	}

	logging.Workflow("Started instance %s of %s for task %s", inst.ID, tmpl.ID, taskID)
	return inst, nil
}

// Transition applies the labeled transition to the instance. It fails with
// types.ErrInvalidTransition when the label is undefined from the current
// state or a guard evaluates false against the merged (existing plus new)
// instance data. On success the history append and state change commit
// atomically.
func (e *Engine) Transition(instanceID, label string, data map[string]string) (*types.WorkflowInstance, error) {
	timer := logging.StartTimer(logging.CategoryWorkflow, "Transition")
	defer timer.Stop()

	mu := e.lockFor(instanceID)
	mu.Lock()
	defer mu.Unlock()

	inst, err := e.store.GetInstance(instanceID)
	if err != nil {
		return nil, err
	}

	tmpl, err := e.registry.Get(inst.TemplateID)
	if err != nil {
		return nil, err
	}

	// An instance whose task was deleted is orphaned and read-only.
	if _, err := e.store.GetEntity(inst.TaskID); err != nil {
		return nil, fmt.Errorf("instance %s is orphaned, task %s: %w", instanceID, inst.TaskID, types.ErrNotFound)
	}

	ti := tmpl.transitionFrom(inst.CurrentState, label)
	if ti < 0 {
		return nil, fmt.Errorf("no transition %q from state %q: %w", label, inst.CurrentState, types.ErrInvalidTransition)
	}
	tr := &tmpl.Transitions[ti]

	merged := make(map[string]string, len(inst.Data)+len(data))
	for k, v := range inst.Data {
		merged[k] = v
	}
	for k, v := range data {
		merged[k] = v
	}
	if !guardsPass(tr, merged) {
		return nil, fmt.Errorf("guard rejected transition %q from state %q: %w", label, inst.CurrentState, types.ErrInvalidTransition)
	}

	inst.CurrentState = tr.To
	inst.Data = merged
	inst.History = append(inst.History, types.TransitionRecord{
		State:      tr.To,
		Transition: label,
		Timestamp:  time.Now().UTC(),
	})

	if err := e.store.UpdateInstance(inst); err != nil {
		return nil, err
	}

	logging.Workflow("Instance %s: %s -[%s]-> %s", instanceID, tr.From, label, tr.To)
	return inst, nil
}

// Status returns the latest committed view of the instance. Pure read with
// no caching staleness: two calls without an intervening Transition return
// identical results.
func (e *Engine) Status(instanceID string) (*types.WorkflowInstance, error) {
	return e.store.GetInstance(instanceID)
}

// InstancesForTask lists every instance bound to a task.
func (e *Engine) InstancesForTask(taskID string) ([]*types.WorkflowInstance, error) {
	return e.store.InstancesForTask(taskID)
}

// Terminal reports whether the instance currently sits in a terminal state.
func (e *Engine) Terminal(inst *types.WorkflowInstance) bool {
	tmpl, err := e.registry.Get(inst.TemplateID)
	if err != nil {
		return false
	}
	st := tmpl.StateByID(inst.CurrentState)
	return st != nil && st.Type == StateTerminal
}
