package workflow

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"engram/internal/types"
)

func TestCompileRejectsMultipleStartStates(t *testing.T) {
	tmpl := &Template{
		ID: "bad",
		States: []State{
			{ID: "a", Type: StateStart},
			{ID: "b", Type: StateStart},
		},
	}
	if err := tmpl.Compile(); !errors.Is(err, types.ErrConfig) {
		t.Errorf("Expected ErrConfig for two start states, got %v", err)
	}
}

func TestCompileRejectsMissingStartState(t *testing.T) {
	tmpl := &Template{
		ID:     "bad",
		States: []State{{ID: "a", Type: StateIntermediate}},
	}
	if err := tmpl.Compile(); !errors.Is(err, types.ErrConfig) {
		t.Errorf("Expected ErrConfig for no start state, got %v", err)
	}
}

func TestCompileRejectsTerminalWithOutgoing(t *testing.T) {
	tmpl := &Template{
		ID: "bad",
		States: []State{
			{ID: "a", Type: StateStart},
			{ID: "z", Type: StateTerminal},
		},
		Transitions: []Transition{
			{Label: "go", From: "a", To: "z"},
			{Label: "undead", From: "z", To: "a"},
		},
	}
	if err := tmpl.Compile(); !errors.Is(err, types.ErrConfig) {
		t.Errorf("Expected ErrConfig for terminal outgoing transition, got %v", err)
	}
}

func TestCompileRejectsUnreachableState(t *testing.T) {
	tmpl := &Template{
		ID: "bad",
		States: []State{
			{ID: "a", Type: StateStart},
			{ID: "island", Type: StateIntermediate},
		},
	}
	if err := tmpl.Compile(); !errors.Is(err, types.ErrConfig) {
		t.Errorf("Expected ErrConfig for unreachable state, got %v", err)
	}
}

func TestCompileRejectsUnknownTransitionEndpoint(t *testing.T) {
	tmpl := &Template{
		ID:     "bad",
		States: []State{{ID: "a", Type: StateStart}},
		Transitions: []Transition{
			{Label: "go", From: "a", To: "nowhere"},
		},
	}
	if err := tmpl.Compile(); !errors.Is(err, types.ErrConfig) {
		t.Errorf("Expected ErrConfig for unknown endpoint, got %v", err)
	}
}

func TestBuiltinTemplateRegistered(t *testing.T) {
	r := NewRegistry()
	tmpl, err := r.Get("task-lifecycle")
	if err != nil {
		t.Fatalf("Expected builtin template, got %v", err)
	}
	if tmpl.StartState() != "planned" {
		t.Errorf("Expected start state planned, got %s", tmpl.StartState())
	}
	if st := tmpl.StateByID("done"); st == nil || st.Type != StateTerminal {
		t.Errorf("Expected done terminal, got %+v", st)
	}
}

func TestRegistryRejectsDuplicateID(t *testing.T) {
	r := NewRegistry()
	err := r.Register(taskLifecycleTemplate())
	if !errors.Is(err, types.ErrConflict) {
		t.Errorf("Expected ErrConflict for duplicate id, got %v", err)
	}
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	doc := `
id: review-only
name: Review Only
version: "1"
states:
  - id: draft
    name: Draft
    type: start
  - id: published
    name: Published
    type: terminal
transitions:
  - label: publish
    from: draft
    to: published
`
	if err := os.WriteFile(filepath.Join(dir, "review.yaml"), []byte(doc), 0644); err != nil {
		t.Fatal(err)
	}

	r := NewRegistry()
	if err := r.LoadDir(dir); err != nil {
		t.Fatalf("LoadDir failed: %v", err)
	}
	if _, err := r.Get("review-only"); err != nil {
		t.Errorf("Expected loaded template, got %v", err)
	}

	// Missing directory is fine.
	if err := r.LoadDir(filepath.Join(dir, "absent")); err != nil {
		t.Errorf("Expected nil for missing dir, got %v", err)
	}
}

func TestLoadDirRejectsMalformedTemplate(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("id: [oops"), 0644); err != nil {
		t.Fatal(err)
	}
	r := NewRegistry()
	if err := r.LoadDir(dir); !errors.Is(err, types.ErrConfig) {
		t.Errorf("Expected ErrConfig for malformed yaml, got %v", err)
	}
}
