package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"engram/internal/types"
)

func newTestStore(t *testing.T) *LocalStore {
	t.Helper()
	s, err := NewLocalStore(":memory:")
	if err != nil {
		t.Fatalf("Failed to create local store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func mkTask(t *testing.T, s *LocalStore, title string) *types.Entity {
	t.Helper()
	e, err := s.CreateEntity(&types.Entity{
		Kind:  types.KindTask,
		Title: title,
		Agent: "tester",
		Task:  &types.TaskFields{Status: types.TaskOpen},
	})
	if err != nil {
		t.Fatalf("CreateEntity(%q) failed: %v", title, err)
	}
	return e
}

func mkContext(t *testing.T, s *LocalStore, title string, tags ...string) *types.Entity {
	t.Helper()
	e, err := s.CreateEntity(&types.Entity{
		Kind:    types.KindContext,
		Title:   title,
		Agent:   "tester",
		Context: &types.ContextFields{Tags: tags},
	})
	if err != nil {
		t.Fatalf("CreateEntity(%q) failed: %v", title, err)
	}
	return e
}

func TestCreateAndGetEntity(t *testing.T) {
	s := newTestStore(t)

	created := mkTask(t, s, "Implement login flow")
	if created.ID == "" {
		t.Fatal("Expected assigned ID")
	}
	if created.Version != 1 {
		t.Errorf("Expected version 1, got %d", created.Version)
	}

	got, err := s.GetEntity(created.ID)
	if err != nil {
		t.Fatalf("GetEntity failed: %v", err)
	}
	if got.Title != "Implement login flow" {
		t.Errorf("Expected title round-trip, got %q", got.Title)
	}
	if got.Task == nil || got.Task.Status != types.TaskOpen {
		t.Errorf("Expected open task payload, got %+v", got.Task)
	}
}

func TestCreateEntityRejectsInvalid(t *testing.T) {
	s := newTestStore(t)

	_, err := s.CreateEntity(&types.Entity{Kind: types.KindTask, Agent: "tester",
		Task: &types.TaskFields{Status: types.TaskOpen}})
	if !errors.Is(err, types.ErrInvalid) {
		t.Errorf("Expected ErrInvalid for empty title, got %v", err)
	}

	_, err = s.CreateEntity(&types.Entity{Kind: "widget", Title: "x", Agent: "tester"})
	if !errors.Is(err, types.ErrInvalid) {
		t.Errorf("Expected ErrInvalid for unknown kind, got %v", err)
	}

	_, err = s.CreateEntity(&types.Entity{Kind: types.KindReasoning, Title: "x", Agent: "tester",
		Reasoning: &types.ReasoningFields{Confidence: 1.5}})
	if !errors.Is(err, types.ErrInvalid) {
		t.Errorf("Expected ErrInvalid for confidence > 1, got %v", err)
	}
}

func TestGetEntityNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetEntity("no-such-id")
	if !errors.Is(err, types.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestEntityIDsAreMonotonic(t *testing.T) {
	s := newTestStore(t)

	var prev *types.Entity
	for i := 0; i < 10; i++ {
		e := mkTask(t, s, fmt.Sprintf("task %d", i))
		if prev != nil {
			if e.Seq <= prev.Seq {
				t.Fatalf("Seq not monotonic: %d after %d", e.Seq, prev.Seq)
			}
			if e.ID <= prev.ID {
				t.Fatalf("IDs not lexically ordered: %q after %q", e.ID, prev.ID)
			}
		}
		prev = e
	}
}

func TestUpdateEntityOptimisticConflict(t *testing.T) {
	s := newTestStore(t)
	e := mkTask(t, s, "Refactor parser")

	// First writer wins.
	status := types.TaskInProgress
	updated, err := s.UpdateEntity(e.ID, types.EntityPatch{Version: e.Version, Status: &status})
	if err != nil {
		t.Fatalf("UpdateEntity failed: %v", err)
	}
	if updated.Version != 2 {
		t.Errorf("Expected version 2, got %d", updated.Version)
	}

	// Second writer presents the stale version and must get a conflict.
	done := types.TaskDone
	_, err = s.UpdateEntity(e.ID, types.EntityPatch{Version: e.Version, Status: &done})
	if !errors.Is(err, types.ErrConflict) {
		t.Errorf("Expected ErrConflict on stale version, got %v", err)
	}

	// The winning write survives.
	got, err := s.GetEntity(e.ID)
	if err != nil {
		t.Fatalf("GetEntity failed: %v", err)
	}
	if got.Task.Status != types.TaskInProgress {
		t.Errorf("Expected in_progress after conflict, got %s", got.Task.Status)
	}
}

func TestUpdateEntityRejectsCrossKindPatch(t *testing.T) {
	s := newTestStore(t)
	c := mkContext(t, s, "API conventions", "api")

	status := types.TaskDone
	_, err := s.UpdateEntity(c.ID, types.EntityPatch{Version: c.Version, Status: &status})
	if !errors.Is(err, types.ErrInvalid) {
		t.Errorf("Expected ErrInvalid for status patch on context, got %v", err)
	}
}

func TestListEntitiesFilters(t *testing.T) {
	s := newTestStore(t)
	a := mkTask(t, s, "task one")
	mkTask(t, s, "task two")
	mkContext(t, s, "note one")

	done := types.TaskDone
	if _, err := s.UpdateEntity(a.ID, types.EntityPatch{Version: a.Version, Status: &done}); err != nil {
		t.Fatalf("UpdateEntity failed: %v", err)
	}

	tasks, err := s.ListEntities(types.EntityFilter{Kind: types.KindTask})
	if err != nil {
		t.Fatalf("ListEntities failed: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("Expected 2 tasks, got %d", len(tasks))
	}
	// Creation order.
	if tasks[0].Seq > tasks[1].Seq {
		t.Error("Expected list in creation order")
	}

	open, err := s.ListEntities(types.EntityFilter{Kind: types.KindTask, Status: types.TaskOpen})
	if err != nil {
		t.Fatalf("ListEntities failed: %v", err)
	}
	if len(open) != 1 || open[0].Title != "task two" {
		t.Errorf("Expected only 'task two' open, got %d results", len(open))
	}
}

func TestDeleteEntity(t *testing.T) {
	s := newTestStore(t)
	e := mkTask(t, s, "throwaway zebra")

	if err := s.DeleteEntity(e.ID); err != nil {
		t.Fatalf("DeleteEntity failed: %v", err)
	}
	if _, err := s.GetEntity(e.ID); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}
	if err := s.DeleteEntity(e.ID); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("Expected ErrNotFound on double delete, got %v", err)
	}

	// Deleted entities fall out of the index.
	results, _, err := s.Lookup(context.Background(), []string{"zebra"}, 0)
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("Expected no index hits after delete, got %d", len(results))
	}
}

// Entities must be queryable the moment CreateEntity returns, from any
// goroutine, with no settling window.
func TestReadAfterWriteVisibility(t *testing.T) {
	s := newTestStore(t)

	e := mkTask(t, s, "unmistakable quasar title")
	results, _, err := s.Lookup(context.Background(), Tokenize("quasar"), 0)
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if len(results) != 1 || results[0].ID != e.ID {
		t.Fatalf("Entity not visible immediately after create: %+v", results)
	}
}

func TestConcurrentCreatesImmediatelyVisible(t *testing.T) {
	s := newTestStore(t)

	const goroutines = 8
	const perG = 20

	var wg sync.WaitGroup
	errCh := make(chan error, goroutines*perG)
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < perG; i++ {
				token := fmt.Sprintf("marker%dx%d", g, i)
				e, err := s.CreateEntity(&types.Entity{
					Kind:  types.KindTask,
					Title: "concurrent " + token,
					Agent: "tester",
					Task:  &types.TaskFields{Status: types.TaskOpen},
				})
				if err != nil {
					errCh <- err
					return
				}
				results, _, err := s.Lookup(context.Background(), []string{token}, 0)
				if err != nil {
					errCh <- err
					return
				}
				if len(results) != 1 || results[0].ID != e.ID {
					errCh <- fmt.Errorf("entity %s not visible right after create", e.ID)
					return
				}
			}
		}(g)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Error(err)
	}

	// Every create got a distinct seq.
	all, err := s.ListEntities(types.EntityFilter{})
	if err != nil {
		t.Fatalf("ListEntities failed: %v", err)
	}
	if len(all) != goroutines*perG {
		t.Fatalf("Expected %d entities, got %d", goroutines*perG, len(all))
	}
	seen := make(map[int64]bool, len(all))
	for _, e := range all {
		if seen[e.Seq] {
			t.Fatalf("Duplicate seq %d", e.Seq)
		}
		seen[e.Seq] = true
	}
}

func TestNormalizeAgent(t *testing.T) {
	if got := NormalizeAgent("  planner "); got != "planner" {
		t.Errorf("Expected trimmed agent, got %q", got)
	}
	if got := NormalizeAgent(""); got != "unknown" {
		t.Errorf("Expected default agent, got %q", got)
	}
}
