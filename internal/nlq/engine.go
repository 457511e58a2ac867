// Package nlq implements the natural-language query engine: free-text
// queries resolved by token matching against the store's inverted index.
// This is deliberately not semantic retrieval; matching is token, substring,
// and fuzzy based.
package nlq

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"engram/internal/logging"
	"engram/internal/store"
	"engram/internal/types"
)

// Scope distinguishes "best match" queries from "list all matches" queries.
type Scope int

const (
	// ScopeAll returns every entity with a token match, creation order
	// ascending among equal scores, so "show tasks about X" surfaces all
	// matches rather than just the best one.
	ScopeAll Scope = iota
	// ScopeBest returns at most one entity: highest score, most recent.
	ScopeBest
)

// Match is one scored query hit.
type Match struct {
	Entity *types.Entity
	Score  int
	// Partial is true when the index scan was cut short by the caller's
	// timeout; the match set is what was found so far.
	Partial bool
}

// stopwords are stripped from queries after normalization. Tokens that
// carry filter intent (kind and status words) are handled before removal.
var stopwords = map[string]struct{}{
	"show": {}, "me": {}, "the": {}, "about": {}, "find": {},
	"what": {}, "list": {}, "all": {}, "a": {}, "an": {}, "of": {}, "for": {},
}

// kindWords map query vocabulary to entity kind filters.
var kindWords = map[string]types.EntityKind{
	"task": types.KindTask, "tasks": types.KindTask,
	"context": types.KindContext, "contexts": types.KindContext, "note": types.KindContext, "notes": types.KindContext,
	"reasoning": types.KindReasoning, "decision": types.KindReasoning, "decisions": types.KindReasoning,
}

var statusPattern = regexp.MustCompile(`(?i)\b(open|in[ _]?progress|blocked|done)\b`)

// agentPattern extracts creator filters ("tasks by planner").
var agentPattern = regexp.MustCompile(`(?i)\bby\s+([a-z0-9._-]+)`)

// Engine resolves natural-language queries through the index layer. It
// never reads a stale index: lookups go straight to the store, which
// updates the index inside the write critical section.
type Engine struct {
	store      *store.LocalStore
	minResults int
	maxResults int
}

// New returns an NLQ engine. minResults triggers the fuzzy fallback scan;
// maxResults caps the returned sequence.
func New(s *store.LocalStore, minResults, maxResults int) *Engine {
	if minResults <= 0 {
		minResults = 5
	}
	if maxResults <= 0 {
		maxResults = 50
	}
	return &Engine{store: s, minResults: minResults, maxResults: maxResults}
}

// parsed is the structured form of a free-text query.
type parsed struct {
	tokens []string
	kind   types.EntityKind
	status types.TaskStatus
	agent  string
}

// parse normalizes the query text exactly like indexing does, extracts kind
// and status filters, and strips stopwords. An empty token list with no
// filters means the query has nothing to match.
func parse(text string) parsed {
	var p parsed

	if m := statusPattern.FindString(text); m != "" {
		norm := strings.ReplaceAll(strings.ToLower(m), " ", "_")
		if norm == "inprogress" || norm == "in_progress" {
			p.status = types.TaskInProgress
		} else {
			p.status = types.TaskStatus(norm)
		}
	}

	if m := agentPattern.FindStringSubmatch(text); len(m) > 1 {
		p.agent = strings.ToLower(m[1])
	}

	for _, tok := range store.Tokenize(text) {
		if kind, ok := kindWords[tok]; ok {
			if p.kind == "" {
				p.kind = kind
			}
			continue
		}
		if _, stop := stopwords[tok]; stop {
			continue
		}
		if p.status != "" && (tok == string(p.status) || tok == "progress" || tok == "in") {
			continue
		}
		if p.agent != "" && (tok == "by" || tok == p.agent) {
			continue
		}
		p.tokens = append(p.tokens, tok)
	}
	return p
}

// Query resolves free text into a ranked entity sequence. Malformed or
// empty input yields an empty sequence, never an error. The context
// deadline bounds the fuzzy fallback scan; on expiry the matches found so
// far come back flagged Partial.
func (e *Engine) Query(ctx context.Context, text string, scope Scope) ([]Match, error) {
	timer := logging.StartTimer(logging.CategoryQuery, "Query")
	defer timer.Stop()

	p := parse(text)
	logging.QueryDebug("Query %q -> tokens=%v kind=%q status=%q", text, p.tokens, p.kind, p.status)

	var scored []store.ScoredEntity
	var partial bool
	if len(p.tokens) > 0 {
		var err error
		scored, partial, err = e.store.Lookup(ctx, p.tokens, e.minResults)
		if err != nil {
			return nil, err
		}
	} else if p.kind != "" || p.status != "" || p.agent != "" {
		// Pure filter query ("list open tasks"): enumerate instead of match.
		entities, err := e.store.ListEntities(types.EntityFilter{Kind: p.kind, Status: p.status, Agent: p.agent})
		if err != nil {
			return nil, err
		}
		out := make([]Match, 0, len(entities))
		for _, ent := range entities {
			out = append(out, Match{Entity: ent, Score: 0})
			if len(out) >= e.maxResults {
				break
			}
		}
		return out, nil
	} else {
		return nil, nil
	}

	matches := make([]Match, 0, len(scored))
	for _, sc := range scored {
		ent, err := e.store.GetEntity(sc.ID)
		if err != nil {
			// Entity deleted between lookup and fetch; skip, don't fail.
			continue
		}
		if p.kind != "" && ent.Kind != p.kind {
			continue
		}
		if p.status != "" && (ent.Task == nil || ent.Task.Status != p.status) {
			continue
		}
		if p.agent != "" && !strings.EqualFold(ent.Agent, p.agent) {
			continue
		}
		matches = append(matches, Match{Entity: ent, Score: sc.Score, Partial: partial})
	}

	switch scope {
	case ScopeBest:
		if len(matches) == 0 {
			return nil, nil
		}
		// Lookup order is already score desc, recency desc.
		return matches[:1], nil
	default:
		// All matches, score descending, creation order ascending on ties.
		sort.SliceStable(matches, func(i, j int) bool {
			if matches[i].Score != matches[j].Score {
				return matches[i].Score > matches[j].Score
			}
			return matches[i].Entity.Seq < matches[j].Entity.Seq
		})
		if len(matches) > e.maxResults {
			matches = matches[:e.maxResults]
		}
		return matches, nil
	}
}
