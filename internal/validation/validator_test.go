package validation

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"engram/internal/store"
	"engram/internal/types"
)

func newTestValidator(t *testing.T, mutate func(*Config)) (*Validator, *store.LocalStore) {
	t.Helper()
	s, err := store.NewLocalStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	rules, err := Compile(cfg)
	require.NoError(t, err)
	return New(s, rules), s
}

func mkTask(t *testing.T, s *store.LocalStore, title string) *types.Entity {
	t.Helper()
	e, err := s.CreateEntity(&types.Entity{
		Kind:  types.KindTask,
		Title: title,
		Agent: "tester",
		Task:  &types.TaskFields{Status: types.TaskInProgress},
	})
	require.NoError(t, err)
	return e
}

// linkAll gives the task every relationship the default rule set requires.
func linkAll(t *testing.T, s *store.LocalStore, taskID string) {
	t.Helper()
	reasoning, err := s.CreateEntity(&types.Entity{
		Kind: types.KindReasoning, Title: "why", Agent: "tester",
		Reasoning: &types.ReasoningFields{Confidence: 0.8},
	})
	require.NoError(t, err)
	note, err := s.CreateEntity(&types.Entity{
		Kind: types.KindContext, Title: "background", Agent: "tester",
		Context: &types.ContextFields{},
	})
	require.NoError(t, err)

	_, err = s.CreateRelationship(types.RelReasoning, reasoning.ID, taskID)
	require.NoError(t, err)
	_, err = s.CreateRelationship(types.RelContext, note.ID, taskID)
	require.NoError(t, err)
	_, err = s.CreateRelationship(types.RelReferences, note.ID, taskID)
	require.NoError(t, err)
}

func TestValidatePassesWithAllRelationships(t *testing.T) {
	v, s := newTestValidator(t, nil)
	task := mkTask(t, s, "fully linked")
	linkAll(t, s, task.ID)

	res, err := v.Validate(context.Background(), fmt.Sprintf("[%s] fix the parser", task.ID), Options{})
	require.NoError(t, err)
	assert.True(t, res.Passed)
	assert.Equal(t, task.ID, res.TaskID)
	assert.False(t, res.Exempt)
	assert.Empty(t, res.Failures)
}

func TestValidateReportsMissingRelationships(t *testing.T) {
	v, s := newTestValidator(t, nil)
	task := mkTask(t, s, "bare task")

	res, err := v.Validate(context.Background(), fmt.Sprintf("[%s] fix", task.ID), Options{})
	require.NoError(t, err)
	assert.False(t, res.Passed)

	rules := make(map[string]bool)
	for _, f := range res.Failures {
		rules[f.Rule] = true
		assert.NotEmpty(t, f.Message)
	}
	assert.True(t, rules[ReqReasoning])
	assert.True(t, rules[ReqContext])
	assert.True(t, rules[ReqFileScope])
}

func TestValidateMissingTaskReference(t *testing.T) {
	v, _ := newTestValidator(t, nil)

	res, err := v.Validate(context.Background(), "fix the parser", Options{})
	require.NoError(t, err)
	assert.False(t, res.Passed)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, ReqTaskReference, res.Failures[0].Rule)
	// The failure teaches the supported formats.
	assert.Contains(t, res.Failures[0].Suggestion, "Brackets format")
}

func TestValidateUnknownTask(t *testing.T) {
	v, _ := newTestValidator(t, nil)

	res, err := v.Validate(context.Background(), "[TASK-123] fix", Options{})
	require.NoError(t, err)
	assert.False(t, res.Passed)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, ReqTaskReference, res.Failures[0].Rule)
	assert.Contains(t, res.Failures[0].Message, "TASK-123")
}

func TestValidateFixupSkipsValidation(t *testing.T) {
	v, _ := newTestValidator(t, nil)

	for _, msg := range []string{"fixup! earlier commit", "amend! earlier commit"} {
		res, err := v.Validate(context.Background(), msg, Options{})
		require.NoError(t, err)
		assert.True(t, res.Passed, msg)
		assert.True(t, res.Exempt, msg)
	}
}

func TestValidateChoreSkipsTaskReferenceOnly(t *testing.T) {
	v, s := newTestValidator(t, nil)

	// Without a reference the chore exemption makes the message pass.
	res, err := v.Validate(context.Background(), "chore: tidy imports", Options{})
	require.NoError(t, err)
	assert.True(t, res.Passed)
	assert.False(t, res.Exempt)

	// With a reference, the remaining requirements still apply.
	task := mkTask(t, s, "referenced anyway")
	res, err = v.Validate(context.Background(), fmt.Sprintf("chore: tidy [%s]", task.ID), Options{})
	require.NoError(t, err)
	assert.False(t, res.Passed)
}

func TestValidateDryRunSkipsFileScope(t *testing.T) {
	v, s := newTestValidator(t, nil)
	task := mkTask(t, s, "partially linked")

	reasoning, err := s.CreateEntity(&types.Entity{
		Kind: types.KindReasoning, Title: "why", Agent: "tester",
		Reasoning: &types.ReasoningFields{Confidence: 0.9},
	})
	require.NoError(t, err)
	note, err := s.CreateEntity(&types.Entity{
		Kind: types.KindContext, Title: "bg", Agent: "tester",
		Context: &types.ContextFields{},
	})
	require.NoError(t, err)
	_, err = s.CreateRelationship(types.RelReasoning, reasoning.ID, task.ID)
	require.NoError(t, err)
	_, err = s.CreateRelationship(types.RelContext, note.ID, task.ID)
	require.NoError(t, err)

	msg := fmt.Sprintf("[%s] fix", task.ID)

	res, err := v.Validate(context.Background(), msg, Options{})
	require.NoError(t, err)
	assert.False(t, res.Passed, "file scope requirement should fail without a references edge")

	// The cached facts from the real check serve the dry run, narrowed to
	// the dry-run rule set.
	res, err = v.Validate(context.Background(), msg, Options{DryRun: true})
	require.NoError(t, err)
	assert.True(t, res.Passed, "dry run must not require a references edge")
	assert.True(t, res.Cached)
}

func TestDryRunPassNotServedToRealValidation(t *testing.T) {
	v, s := newTestValidator(t, nil)
	task := mkTask(t, s, "linked except file scope")

	reasoning, err := s.CreateEntity(&types.Entity{
		Kind: types.KindReasoning, Title: "why", Agent: "tester",
		Reasoning: &types.ReasoningFields{Confidence: 0.9},
	})
	require.NoError(t, err)
	note, err := s.CreateEntity(&types.Entity{
		Kind: types.KindContext, Title: "bg", Agent: "tester",
		Context: &types.ContextFields{},
	})
	require.NoError(t, err)
	_, err = s.CreateRelationship(types.RelReasoning, reasoning.ID, task.ID)
	require.NoError(t, err)
	_, err = s.CreateRelationship(types.RelContext, note.ID, task.ID)
	require.NoError(t, err)

	msg := fmt.Sprintf("[%s] fix", task.ID)

	res, err := v.Validate(context.Background(), msg, Options{DryRun: true})
	require.NoError(t, err)
	require.True(t, res.Passed)

	// The real pre-commit check right after must still fail file scope.
	res, err = v.Validate(context.Background(), msg, Options{})
	require.NoError(t, err)
	assert.False(t, res.Passed, "dry-run pass served to a real validation")
	require.Len(t, res.Failures, 1)
	assert.Equal(t, ReqFileScope, res.Failures[0].Rule)
}

func TestValidateDisabledPassesEverything(t *testing.T) {
	v, _ := newTestValidator(t, func(c *Config) { c.Enabled = false })

	res, err := v.Validate(context.Background(), "anything at all", Options{})
	require.NoError(t, err)
	assert.True(t, res.Passed)
	assert.True(t, res.Exempt)
}

func TestValidateTaskIDOverride(t *testing.T) {
	v, s := newTestValidator(t, nil)
	task := mkTask(t, s, "explicit task")
	linkAll(t, s, task.ID)

	res, err := v.Validate(context.Background(), "no reference in message", Options{TaskID: task.ID})
	require.NoError(t, err)
	assert.True(t, res.Passed)
	assert.Equal(t, task.ID, res.TaskID)
}

func TestValidateCacheHit(t *testing.T) {
	v, s := newTestValidator(t, nil)
	task := mkTask(t, s, "cached task")
	linkAll(t, s, task.ID)
	msg := fmt.Sprintf("[%s] fix", task.ID)

	first, err := v.Validate(context.Background(), msg, Options{})
	require.NoError(t, err)
	assert.False(t, first.Cached)

	second, err := v.Validate(context.Background(), msg, Options{})
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Passed, second.Passed)

	// The cache is per task: a different message referencing the same
	// task shares the entry.
	third, err := v.Validate(context.Background(), fmt.Sprintf("[%s] reword the fix", task.ID), Options{})
	require.NoError(t, err)
	assert.True(t, third.Cached)
}

func TestRelationshipWriteEvictsCache(t *testing.T) {
	v, s := newTestValidator(t, nil)
	task := mkTask(t, s, "becomes valid later")
	msg := fmt.Sprintf("[%s] fix", task.ID)

	res, err := v.Validate(context.Background(), msg, Options{})
	require.NoError(t, err)
	assert.False(t, res.Passed)

	// Adding the relationships evicts the cached failure, well inside the TTL.
	linkAll(t, s, task.ID)

	res, err = v.Validate(context.Background(), msg, Options{})
	require.NoError(t, err)
	assert.True(t, res.Passed, "stale cached failure returned after relationship write")
	assert.False(t, res.Cached)
}

func TestWarmCache(t *testing.T) {
	for _, parallel := range []bool{true, false} {
		v, s := newTestValidator(t, func(c *Config) {
			c.Performance.EnableParallelValidation = parallel
		})
		var ids []string
		for i := 0; i < 5; i++ {
			task := mkTask(t, s, fmt.Sprintf("warm target %d", i))
			linkAll(t, s, task.ID)
			ids = append(ids, task.ID)
		}

		require.NoError(t, v.WarmCache(context.Background(), ids))
		assert.Equal(t, len(ids), v.CacheLen())

		// A warmed task serves the next validation from the cache.
		res, err := v.Validate(context.Background(), fmt.Sprintf("[%s] ship it", ids[0]), Options{})
		require.NoError(t, err)
		assert.True(t, res.Passed)
		assert.True(t, res.Cached, "validation after WarmCache should hit the warmed entry")
	}
}
