// Package types provides shared type definitions used across engram packages.
// This package exists to break import cycles between store, workflow, and
// validation. Types in this package should be foundational data structures
// with no complex dependencies.
package types

import (
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// ENTITY TYPES
// =============================================================================

// EntityKind discriminates the entity sum type.
type EntityKind string

const (
	KindTask      EntityKind = "task"
	KindContext   EntityKind = "context"
	KindReasoning EntityKind = "reasoning"
)

// ValidKind reports whether k is a known entity kind.
func ValidKind(k EntityKind) bool {
	switch k {
	case KindTask, KindContext, KindReasoning:
		return true
	}
	return false
}

// TaskStatus enumerates task lifecycle states.
type TaskStatus string

const (
	TaskOpen       TaskStatus = "open"
	TaskInProgress TaskStatus = "in_progress"
	TaskBlocked    TaskStatus = "blocked"
	TaskDone       TaskStatus = "done"
)

// ValidTaskStatus reports whether s is a known task status.
func ValidTaskStatus(s TaskStatus) bool {
	switch s {
	case TaskOpen, TaskInProgress, TaskBlocked, TaskDone:
		return true
	}
	return false
}

// TaskFields carries the task-specific payload of an entity.
type TaskFields struct {
	Status TaskStatus `json:"status"`
}

// ContextFields carries the context-specific payload of an entity.
type ContextFields struct {
	Tags []string `json:"tags,omitempty"`
}

// ReasoningFields carries the reasoning-specific payload of an entity.
type ReasoningFields struct {
	// Confidence is in [0, 1].
	Confidence float64 `json:"confidence"`
}

// Entity is the stored record. Exactly one of Task, Context, Reasoning is
// non-nil, matching Kind. The ID is opaque, globally unique, and
// monotonically orderable; Seq is the logical clock assigned at creation.
type Entity struct {
	ID        string     `json:"id"`
	Kind      EntityKind `json:"kind"`
	Title     string     `json:"title"`
	Body      string     `json:"body,omitempty"`
	Agent     string     `json:"agent"`
	Seq       int64      `json:"seq"`
	CreatedAt time.Time  `json:"created_at"`
	Version   int64      `json:"version"`

	Task      *TaskFields      `json:"task,omitempty"`
	Context   *ContextFields   `json:"context,omitempty"`
	Reasoning *ReasoningFields `json:"reasoning,omitempty"`
}

// Validate checks the invariants common to all entity kinds plus the
// variant-specific ones.
func (e *Entity) Validate() error {
	if e.Title == "" {
		return fmt.Errorf("%w: entity title cannot be empty", ErrInvalid)
	}
	if !ValidKind(e.Kind) {
		return fmt.Errorf("%w: unknown entity kind %q", ErrInvalid, e.Kind)
	}
	switch e.Kind {
	case KindTask:
		if e.Task == nil {
			return fmt.Errorf("%w: task entity missing task fields", ErrInvalid)
		}
		if !ValidTaskStatus(e.Task.Status) {
			return fmt.Errorf("%w: unknown task status %q", ErrInvalid, e.Task.Status)
		}
	case KindReasoning:
		if e.Reasoning == nil {
			return fmt.Errorf("%w: reasoning entity missing reasoning fields", ErrInvalid)
		}
		if e.Reasoning.Confidence < 0 || e.Reasoning.Confidence > 1 {
			return fmt.Errorf("%w: confidence %v out of [0,1]", ErrInvalid, e.Reasoning.Confidence)
		}
	case KindContext:
		if e.Context == nil {
			return fmt.Errorf("%w: context entity missing context fields", ErrInvalid)
		}
	}
	return nil
}

// EntityPatch describes an optimistic update. Version must match the stored
// entity or the update fails with ErrConflict. Nil fields are left unchanged.
type EntityPatch struct {
	Version int64
	Title   *string
	Body    *string
	Status  *TaskStatus
	Tags    []string
	// Confidence, when non-nil, replaces the reasoning confidence.
	Confidence *float64
}

// EntityFilter narrows List results. Zero values match everything.
type EntityFilter struct {
	Kind   EntityKind
	Agent  string
	Status TaskStatus
}

// =============================================================================
// RELATIONSHIP TYPES
// =============================================================================

// RelationType is an open enumeration of edge types. Arbitrary values are
// accepted; the constants below cover the built-in semantics.
type RelationType string

const (
	RelReferences RelationType = "references"
	RelValidates  RelationType = "validates"
	RelBlocks     RelationType = "blocks"
	RelSupersedes RelationType = "supersedes"
	RelAnnotates  RelationType = "annotates"
	RelReasoning  RelationType = "reasoning"
	RelContext    RelationType = "context"
)

// Relationship is a directed typed edge between two entities.
type Relationship struct {
	ID        string       `json:"id"`
	Type      RelationType `json:"type"`
	SourceID  string       `json:"source_id"`
	TargetID  string       `json:"target_id"`
	Seq       int64        `json:"seq"`
	CreatedAt time.Time    `json:"created_at"`
}

// =============================================================================
// ERRORS
// =============================================================================

// Sentinel errors shared across packages. Callers classify with errors.Is.
var (
	// ErrNotFound reports a missing entity, relationship, or instance.
	ErrNotFound = errors.New("not found")
	// ErrConflict reports an optimistic version mismatch, or a duplicate
	// workflow instance for a template that forbids multiplicity.
	ErrConflict = errors.New("conflict")
	// ErrInvalid reports a store-level invariant violation rejected at call time.
	ErrInvalid = errors.New("invalid")
	// ErrInvalidTransition reports an undefined transition or a failed guard.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrTimeout reports an operation that exceeded its configured budget.
	ErrTimeout = errors.New("timeout")
	// ErrConfig reports a malformed rule-set file or pattern.
	ErrConfig = errors.New("config error")
	// ErrMissingTaskReference reports a commit message with no task reference.
	ErrMissingTaskReference = errors.New("missing task reference")
	// ErrMissingRelationship reports an absent required relationship.
	ErrMissingRelationship = errors.New("missing relationship")
)
