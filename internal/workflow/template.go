// Package workflow defines workflow templates (named, versioned state
// machine graphs) and drives per-task workflow instances on top of the
// entity store.
package workflow

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"engram/internal/types"
)

// StateType classifies a template state.
type StateType string

const (
	StateStart        StateType = "start"
	StateIntermediate StateType = "intermediate"
	StateTerminal     StateType = "terminal"
)

// State is one node of the template graph.
type State struct {
	ID   string    `yaml:"id"`
	Name string    `yaml:"name"`
	Type StateType `yaml:"type"`
}

// Guard is a predicate over instance data: the transition is enabled only
// when the merged data carries Key with exactly the value Equals.
type Guard struct {
	Key    string `yaml:"key"`
	Equals string `yaml:"equals"`
}

// Transition is a labeled edge of the template graph. From and To name
// state ids within the same template.
type Transition struct {
	Label  string  `yaml:"label"`
	From   string  `yaml:"from"`
	To     string  `yaml:"to"`
	Guards []Guard `yaml:"guards,omitempty"`
}

// Template is a reusable state-machine definition. The template owns flat
// tables of states and transitions; instances store only state ids, so
// there is no ownership cycle between templates and instances. Templates
// are read-only after Compile: transitioning one instance never touches
// template-level mutable data.
type Template struct {
	ID            string       `yaml:"id"`
	Name          string       `yaml:"name"`
	Version       string       `yaml:"version"`
	AllowMultiple bool         `yaml:"allow_multiple"`
	States        []State      `yaml:"states"`
	Transitions   []Transition `yaml:"transitions"`

	// compiled adjacency: state id -> indices into Transitions
	outgoing map[string][]int
	start    string
	states   map[string]*State
}

// Compile validates the graph invariants and builds the adjacency index:
// exactly one start state, terminal states have no outgoing transitions,
// and every state is reachable from start.
func (t *Template) Compile() error {
	if t.ID == "" {
		return fmt.Errorf("%w: template id required", types.ErrConfig)
	}
	if len(t.States) == 0 {
		return fmt.Errorf("%w: template %s has no states", types.ErrConfig, t.ID)
	}

	t.states = make(map[string]*State, len(t.States))
	t.start = ""
	for i := range t.States {
		st := &t.States[i]
		if _, dup := t.states[st.ID]; dup {
			return fmt.Errorf("%w: template %s: duplicate state %q", types.ErrConfig, t.ID, st.ID)
		}
		t.states[st.ID] = st
		if st.Type == StateStart {
			if t.start != "" {
				return fmt.Errorf("%w: template %s: multiple start states", types.ErrConfig, t.ID)
			}
			t.start = st.ID
		}
	}
	if t.start == "" {
		return fmt.Errorf("%w: template %s: no start state", types.ErrConfig, t.ID)
	}

	t.outgoing = make(map[string][]int)
	for i, tr := range t.Transitions {
		from, ok := t.states[tr.From]
		if !ok {
			return fmt.Errorf("%w: template %s: transition %q from unknown state %q", types.ErrConfig, t.ID, tr.Label, tr.From)
		}
		if _, ok := t.states[tr.To]; !ok {
			return fmt.Errorf("%w: template %s: transition %q to unknown state %q", types.ErrConfig, t.ID, tr.Label, tr.To)
		}
		if from.Type == StateTerminal {
			return fmt.Errorf("%w: template %s: terminal state %q has outgoing transition %q", types.ErrConfig, t.ID, tr.From, tr.Label)
		}
		t.outgoing[tr.From] = append(t.outgoing[tr.From], i)
	}

	// Reachability from start.
	visited := map[string]bool{t.start: true}
	frontier := []string{t.start}
	for len(frontier) > 0 {
		cur := frontier[0]
		frontier = frontier[1:]
		for _, ti := range t.outgoing[cur] {
			to := t.Transitions[ti].To
			if !visited[to] {
				visited[to] = true
				frontier = append(frontier, to)
			}
		}
	}
	for id := range t.states {
		if !visited[id] {
			return fmt.Errorf("%w: template %s: state %q unreachable from start", types.ErrConfig, t.ID, id)
		}
	}
	return nil
}

// StartState returns the id of the unique start state.
func (t *Template) StartState() string { return t.start }

// StateByID returns the state or nil.
func (t *Template) StateByID(id string) *State { return t.states[id] }

// transitionFrom finds the labeled transition leaving the given state,
// or -1 when undefined.
func (t *Template) transitionFrom(stateID, label string) int {
	for _, ti := range t.outgoing[stateID] {
		if t.Transitions[ti].Label == label {
			return ti
		}
	}
	return -1
}

// guardsPass evaluates a transition's guards against merged instance data.
func guardsPass(tr *Transition, data map[string]string) bool {
	for _, g := range tr.Guards {
		if data[g.Key] != g.Equals {
			return false
		}
	}
	return true
}

// =============================================================================
// REGISTRY
// =============================================================================

// Registry holds compiled templates. Read-mostly; safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewRegistry returns a registry pre-loaded with the built-in task
// lifecycle template.
func NewRegistry() *Registry {
	r := &Registry{templates: make(map[string]*Template)}
	builtin := taskLifecycleTemplate()
	if err := builtin.Compile(); err != nil {
		// The built-in graph is static; a compile failure is a programming error.
		panic(fmt.Sprintf("builtin template invalid: %v", err))
	}
	r.templates[builtin.ID] = builtin
	return r
}

// Register compiles and adds a template. An id collision is a conflict.
func (r *Registry) Register(t *Template) error {
	if err := t.Compile(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.templates[t.ID]; dup {
		return fmt.Errorf("template %s already registered: %w", t.ID, types.ErrConflict)
	}
	r.templates[t.ID] = t
	return nil
}

// Get returns the template or types.ErrNotFound.
func (r *Registry) Get(id string) (*Template, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.templates[id]
	if !ok {
		return nil, fmt.Errorf("template %s: %w", id, types.ErrNotFound)
	}
	return t, nil
}

// List returns registered templates sorted by id.
func (r *Registry) List() []*Template {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Template, 0, len(r.templates))
	for _, t := range r.templates {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// LoadDir registers every *.yaml template under dir. A missing directory is
// not an error; a malformed file is.
func (r *Registry) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read workflow dir: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".yaml" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return fmt.Errorf("failed to read template %s: %w", entry.Name(), err)
		}
		var t Template
		if err := yaml.Unmarshal(data, &t); err != nil {
			return fmt.Errorf("%w: template %s: %v", types.ErrConfig, entry.Name(), err)
		}
		if err := r.Register(&t); err != nil {
			return err
		}
	}
	return nil
}

// taskLifecycleTemplate is the default workflow bound to task entities:
// planned -> in_progress -> review -> done, with a blocked detour.
func taskLifecycleTemplate() *Template {
	return &Template{
		ID:      "task-lifecycle",
		Name:    "Task Lifecycle",
		Version: "1",
		States: []State{
			{ID: "planned", Name: "Planned", Type: StateStart},
			{ID: "in_progress", Name: "In Progress", Type: StateIntermediate},
			{ID: "review", Name: "Review", Type: StateIntermediate},
			{ID: "blocked", Name: "Blocked", Type: StateIntermediate},
			{ID: "done", Name: "Done", Type: StateTerminal},
		},
		Transitions: []Transition{
			{Label: "start", From: "planned", To: "in_progress"},
			{Label: "block", From: "in_progress", To: "blocked"},
			{Label: "unblock", From: "blocked", To: "in_progress"},
			{Label: "submit", From: "in_progress", To: "review"},
			{Label: "reject", From: "review", To: "in_progress"},
			{Label: "approve", From: "review", To: "done",
				Guards: []Guard{{Key: "reviewed", Equals: "true"}}},
		},
	}
}
