package types

import "time"

// TransitionRecord is one history entry of a workflow instance.
type TransitionRecord struct {
	State      string    `json:"state"`
	Transition string    `json:"transition"`
	Timestamp  time.Time `json:"timestamp"`
}

// WorkflowInstance is a live, per-task execution of a workflow template.
// Instances are never deleted; they only reach a terminal state. An instance
// whose task has been deleted is orphaned and read-only.
type WorkflowInstance struct {
	ID           string             `json:"id"`
	TemplateID   string             `json:"template_id"`
	TaskID       string             `json:"task_id"`
	CurrentState string             `json:"current_state"`
	Data         map[string]string  `json:"data,omitempty"`
	History      []TransitionRecord `json:"history"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
}
