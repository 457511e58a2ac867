package validation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"engram/internal/logging"
	"engram/internal/store"
	"engram/internal/types"
)

// RuleFailure reports one failed requirement by name so callers can render
// an actionable message rather than a generic rejection.
type RuleFailure struct {
	Rule       string `json:"rule"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion,omitempty"`
}

// Result is the outcome of one validation call.
type Result struct {
	Passed   bool          `json:"passed"`
	TaskID   string        `json:"task_id,omitempty"`
	Exempt   bool          `json:"exempt,omitempty"`
	Failures []RuleFailure `json:"failures,omitempty"`
	// Cached is true when the result came from the cache without
	// recomputation. Instrumentation for callers and tests.
	Cached     bool  `json:"cached,omitempty"`
	DurationMS int64 `json:"duration_ms"`
}

// Options tune a single validation call.
type Options struct {
	// DryRun skips requirements that need a real repository
	// (file scope matching).
	DryRun bool
	// TaskID overrides extraction from the message when non-empty.
	TaskID string
}

// Validator is the commit validation gate.
type Validator struct {
	store *store.LocalStore
	rules *RuleSet
	cache *Cache
}

// New wires a validator to the store. The store's relationship observer is
// registered so relationship writes evict matching cache entries eagerly.
func New(s *store.LocalStore, rules *RuleSet) *Validator {
	v := &Validator{
		store: s,
		rules: rules,
		cache: NewCache(
			time.Duration(rules.Config.Performance.CacheTTLSeconds)*time.Second,
			rules.Config.Performance.MaxCacheEntries,
		),
	}
	s.SetRelationshipObserver(v.cache.InvalidateTask)
	return v
}

// Rules exposes the compiled rule set.
func (v *Validator) Rules() *RuleSet { return v.rules }

// Validate checks a commit message against the active rule set. The
// configured validation timeout bounds the call; on expiry the error wraps
// types.ErrTimeout.
func (v *Validator) Validate(ctx context.Context, message string, opts Options) (*Result, error) {
	timer := logging.StartTimer(logging.CategoryValidation, "Validate")
	defer timer.Stop()

	budget := time.Duration(v.rules.Config.Performance.ValidationTimeoutSeconds) * time.Second
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	type outcome struct {
		res *Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := v.validate(message, opts)
		done <- outcome{res, err}
	}()

	select {
	case out := <-done:
		return out.res, out.err
	case <-ctx.Done():
		return nil, fmt.Errorf("validation exceeded %v: %w", budget, types.ErrTimeout)
	}
}

func (v *Validator) validate(message string, opts Options) (*Result, error) {
	start := time.Now()
	finish := func(r *Result) *Result {
		r.DurationMS = time.Since(start).Milliseconds()
		return r
	}

	if !v.rules.Config.Enabled {
		return finish(&Result{Passed: true, Exempt: true}), nil
	}

	// Exemptions are evaluated in order; the first match wins.
	active := map[string]bool{
		ReqTaskReference: v.rules.Config.RequireTaskReference,
		ReqReasoning:     v.rules.Config.RequireReasoningRelationship,
		ReqContext:       v.rules.Config.RequireContextRelationship,
		ReqFileScope:     v.rules.Config.RequireFileScopeMatch,
	}
	if ex := v.rules.MatchExemption(message); ex != nil {
		if ex.SkipValidation {
			logging.ValidationDebug("Message exempt (pattern %q)", ex.MessagePattern)
			return finish(&Result{Passed: true, Exempt: true}), nil
		}
		for _, rule := range ex.SkipSpecific {
			active[rule] = false
		}
	}
	if opts.DryRun {
		active[ReqFileScope] = false
	}

	// Task reference extraction.
	taskID := opts.TaskID
	if taskID == "" {
		extracted, pattern, ok := v.rules.ExtractTaskID(message)
		if !ok {
			if active[ReqTaskReference] {
				return finish(&Result{
					Passed: false,
					Failures: []RuleFailure{{
						Rule:       ReqTaskReference,
						Message:    "commit message must reference a task",
						Suggestion: v.rules.HelpExamples(),
					}},
				}), nil
			}
			// Nothing to check relationships against.
			return finish(&Result{Passed: true}), nil
		}
		logging.ValidationDebug("Extracted task %q via %s", extracted, pattern)
		taskID = extracted
	}

	// The cache holds per-task relationship facts, not per-call results:
	// a warmed entry serves any later message referencing the task, and
	// dry-run calls cannot poison the entry a real pre-commit check reads.
	key := cacheKey(taskID, v.rules.version)
	facts := v.cache.Get(key)
	hit := facts != nil
	if !hit {
		var cacheable bool
		facts, cacheable = v.checkTask(taskID)
		if cacheable {
			v.cache.Put(key, taskID, facts)
		}
	}

	res := resultFor(facts, active)
	res.Cached = hit
	return finish(res), nil
}

// checkTask verifies the task exists and probes every relationship
// requirement, reading through the store/index layer so results reflect the
// latest committed writes. The full fact set is computed regardless of which
// rules the caller has active; callers narrow it with resultFor. The second
// return is false when the result must not be cached (missing task, storage
// error).
func (v *Validator) checkTask(taskID string) (*Result, bool) {
	res := &Result{TaskID: taskID}

	if _, err := v.store.GetEntity(taskID); err != nil {
		if errors.Is(err, types.ErrNotFound) {
			res.Failures = append(res.Failures, RuleFailure{
				Rule:       ReqTaskReference,
				Message:    fmt.Sprintf("task %q not found in engram", taskID),
				Suggestion: "create the task in engram before committing",
			})
			return res, false
		}
		res.Failures = append(res.Failures, RuleFailure{
			Rule:    ReqTaskReference,
			Message: fmt.Sprintf("failed to access engram storage: %v", err),
		})
		return res, false
	}

	cacheable := true
	for _, req := range []string{ReqReasoning, ReqContext, ReqFileScope} {
		relType := relationForRequirement[req]
		ok, err := v.store.HasRelationship(taskID, relType)
		if err != nil {
			res.Failures = append(res.Failures, RuleFailure{
				Rule:    req,
				Message: fmt.Sprintf("failed to query relationships: %v", err),
			})
			cacheable = false
			continue
		}
		if !ok {
			res.Failures = append(res.Failures, RuleFailure{
				Rule:       req,
				Message:    fmt.Sprintf("task must have a %s relationship", relType),
				Suggestion: fmt.Sprintf("create a %s entity linked to this task", relType),
			})
		}
	}

	res.Passed = len(res.Failures) == 0
	return res, cacheable
}

// resultFor narrows full task facts to the rules active for one call.
// Task existence failures always count; relationship failures count only
// when the rule is active.
func resultFor(facts *Result, active map[string]bool) *Result {
	out := &Result{TaskID: facts.TaskID}
	for _, f := range facts.Failures {
		if f.Rule == ReqTaskReference || active[f.Rule] {
			out.Failures = append(out.Failures, f)
		}
	}
	out.Passed = len(out.Failures) == 0
	return out
}

// WarmCache pre-populates the per-task fact cache for the given task ids,
// so the next Validate referencing any of them is a cache hit. Independent
// tasks warm concurrently when parallel validation is enabled; sub-checks of
// a single task stay sequential.
func (v *Validator) WarmCache(ctx context.Context, taskIDs []string) error {
	warm := func(taskID string) {
		key := cacheKey(taskID, v.rules.version)
		if v.cache.Get(key) != nil {
			return
		}
		if facts, cacheable := v.checkTask(taskID); cacheable {
			v.cache.Put(key, taskID, facts)
		}
	}

	if !v.rules.Config.Performance.EnableParallelValidation {
		for _, id := range taskIDs {
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("warm cache canceled: %w", types.ErrTimeout)
			}
			warm(id)
		}
		return nil
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, id := range taskIDs {
		id := id
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("warm cache canceled: %w", types.ErrTimeout)
			}
			warm(id)
			return nil
		})
	}
	return g.Wait()
}

// CacheLen reports the live cache entry count, for status output and tests.
func (v *Validator) CacheLen() int { return v.cache.Len() }
