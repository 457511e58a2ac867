package store

import (
	"context"
	"sort"
	"strings"
	"unicode"

	"github.com/sahilm/fuzzy"

	"engram/internal/logging"
)

// =============================================================================
// INVERTED INDEX
// =============================================================================
//
// The index is owned by LocalStore and mutated only inside the store's write
// critical section, so an entity and its index entries commit atomically
// from any reader's perspective.

// posting is one index entry. Postings are kept in insertion order so that
// ties break deterministically.
type posting struct {
	seq int64
	id  string
}

type invertedIndex struct {
	// postings maps a normalized token to the insertion-ordered entities
	// containing it.
	postings map[string][]posting
	// vocab holds every distinct token in insertion order, for the
	// prefix/fuzzy fallback scan.
	vocab []string
	// docs maps entity id -> indexed tokens, so updates can unindex.
	docs map[string][]string
	// seqOf maps entity id -> creation seq for scoring.
	seqOf map[string]int64
}

func newInvertedIndex() *invertedIndex {
	return &invertedIndex{
		postings: make(map[string][]posting),
		docs:     make(map[string][]string),
		seqOf:    make(map[string]int64),
	}
}

func (ix *invertedIndex) vocabSize() int { return len(ix.vocab) }

// add indexes an entity. Caller must hold the store write lock.
func (ix *invertedIndex) add(id string, seq int64, tokens []string) {
	ix.docs[id] = tokens
	ix.seqOf[id] = seq
	for _, tok := range tokens {
		if _, seen := ix.postings[tok]; !seen {
			ix.vocab = append(ix.vocab, tok)
		}
		ix.postings[tok] = append(ix.postings[tok], posting{seq: seq, id: id})
	}
}

// remove unindexes an entity. Caller must hold the store write lock.
func (ix *invertedIndex) remove(id string) {
	tokens, ok := ix.docs[id]
	if !ok {
		return
	}
	for _, tok := range tokens {
		list := ix.postings[tok]
		kept := list[:0]
		for _, p := range list {
			if p.id != id {
				kept = append(kept, p)
			}
		}
		if len(kept) == 0 {
			delete(ix.postings, tok)
		} else {
			ix.postings[tok] = kept
		}
	}
	delete(ix.docs, id)
	delete(ix.seqOf, id)
}

// Tokenize normalizes text into index tokens: lowercase, punctuation
// stripped, split on whitespace. Duplicates are removed preserving first
// occurrence so postings stay insertion-ordered.
func Tokenize(text string) []string {
	lowered := strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			return unicode.ToLower(r)
		default:
			return ' '
		}
	}, text)

	fields := strings.Fields(lowered)
	seen := make(map[string]struct{}, len(fields))
	tokens := fields[:0]
	for _, f := range fields {
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		tokens = append(tokens, f)
	}
	return tokens
}

// entityTokens derives the indexed token set for an entity (title plus body;
// the title is what the read-after-write contract guarantees).
func entityTokens(title, body string) []string {
	if body == "" {
		return Tokenize(title)
	}
	return Tokenize(title + " " + body)
}

// rebuildIndex reloads all live entities into the inverted index.
// Called once at startup before the store is handed to callers.
func (s *LocalStore) rebuildIndex() error {
	rows, err := s.db.Query(`SELECT id, seq, title, COALESCE(body, '') FROM entities WHERE deleted = 0 ORDER BY seq`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var id, title, body string
		var seq int64
		if err := rows.Scan(&id, &seq, &title, &body); err != nil {
			return err
		}
		s.index.add(id, seq, entityTokens(title, body))
	}
	return rows.Err()
}

// =============================================================================
// LOOKUP
// =============================================================================

// ScoredEntity is one ranked lookup hit.
type ScoredEntity struct {
	ID string
	// Seq is the entity's creation order.
	Seq int64
	// Score is the count of matched query tokens.
	Score int
}

// Lookup ranks entities against a normalized token set. Score is the number
// of matched tokens; ties break by recency (higher seq first). When exact
// matches number fewer than minResults, a secondary fuzzy scan over the
// token vocabulary merges partial/substring token matches (query token
// "alpha" matches title token "alpha123").
//
// The fallback scan honors ctx: on deadline it returns the scored matches
// found so far with partial=true instead of hanging.
func (s *LocalStore) Lookup(ctx context.Context, tokens []string, minResults int) (results []ScoredEntity, partial bool, err error) {
	timer := logging.StartTimer(logging.CategoryIndex, "Lookup")
	defer timer.Stop()

	s.mu.RLock()
	defer s.mu.RUnlock()

	scores := make(map[string]int)
	for _, tok := range tokens {
		for _, p := range s.index.postings[tok] {
			scores[p.id]++
		}
	}

	if len(scores) < minResults {
		partial = s.fuzzyExpand(ctx, tokens, scores)
	}

	results = make([]ScoredEntity, 0, len(scores))
	for id, score := range scores {
		results = append(results, ScoredEntity{ID: id, Seq: s.index.seqOf[id], Score: score})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Seq > results[j].Seq
	})

	logging.IndexDebug("Lookup tokens=%v hits=%d partial=%v", tokens, len(results), partial)
	return results, partial, nil
}

// fuzzyExpand merges substring/fuzzy vocabulary matches into scores.
// Returns true if the scan was cut short by ctx. Caller holds s.mu (read).
func (s *LocalStore) fuzzyExpand(ctx context.Context, tokens []string, scores map[string]int) bool {
	for _, tok := range tokens {
		select {
		case <-ctx.Done():
			return true
		default:
		}

		matched := make(map[string]struct{})
		// Prefix pass first: cheapest and highest precision.
		for _, vt := range s.index.vocab {
			if vt != tok && strings.HasPrefix(vt, tok) {
				matched[vt] = struct{}{}
			}
		}
		if len(matched) == 0 {
			for _, m := range fuzzy.Find(tok, s.index.vocab) {
				if m.Str != tok {
					matched[m.Str] = struct{}{}
				}
			}
		}

		// Credit each entity at most once per query token, counting the
		// exact pass: an entity holding both the token and a variant of
		// it ("alpha" and "alphabet") scores 1 for this token, not 2.
		credited := make(map[string]struct{})
		for _, p := range s.index.postings[tok] {
			credited[p.id] = struct{}{}
		}
		for vt := range matched {
			for _, p := range s.index.postings[vt] {
				if _, dup := credited[p.id]; dup {
					continue
				}
				credited[p.id] = struct{}{}
				scores[p.id]++
			}
		}
	}
	return false
}
