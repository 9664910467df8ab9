// Package relevance scores stored conversations against a recall query
// using lexical overlap.
package relevance

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dgraph-io/ristretto"

	"github.com/iammorganparry/clive/apps/recall/internal/models"
)

// DefaultThreshold is the score a candidate must exceed to be recalled.
const DefaultThreshold = 0.3

// TokenSet is the set of lowercased whitespace-separated words of a text.
type TokenSet map[string]struct{}

// Tokenize lowercases s and splits it on whitespace.
func Tokenize(s string) TokenSet {
	fields := strings.Fields(strings.ToLower(s))
	set := make(TokenSet, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

// Jaccard returns |a ∩ b| / |a ∪ b|, or 0 when either set is empty.
func Jaccard(a, b TokenSet) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}
	intersection := 0
	for k := range small {
		if _, ok := large[k]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	return float64(intersection) / float64(union)
}

// Score is the Jaccard similarity of the token sets of query and stored.
func Score(query, stored string) float64 {
	return Jaccard(Tokenize(query), Tokenize(stored))
}

// ValidQuery reports whether query has at least one token.
func ValidQuery(query string) bool {
	return strings.TrimSpace(query) != ""
}

// Ranker filters and orders candidates by relevance. Tokenized stored
// inputs are memoized by their text.
type Ranker struct {
	threshold float64
	tokens    *ristretto.Cache
}

// NewRanker creates a ranker. cacheSize bounds the number of memoized
// tokens; zero disables memoization.
func NewRanker(threshold float64, cacheSize int64) (*Ranker, error) {
	r := &Ranker{threshold: threshold}
	if cacheSize <= 0 {
		return r, nil
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cacheSize * 10,
		MaxCost:     cacheSize,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("token cache: %w", err)
	}
	r.tokens = cache
	return r, nil
}

// Close releases the token cache.
func (r *Ranker) Close() {
	if r.tokens != nil {
		r.tokens.Close()
	}
}

// Rank scores every candidate against query and returns those scoring
// strictly above the threshold, best first. Candidates are expected oldest
// first; equal scores are ordered most recent first. limit <= 0 returns
// every match.
func (r *Ranker) Rank(query string, candidates []models.ConversationRecord, limit int) []models.ScoredConversation {
	q := Tokenize(query)
	if len(q) == 0 {
		return nil
	}

	var matches []models.ScoredConversation
	for i := len(candidates) - 1; i >= 0; i-- {
		c := candidates[i]
		score := Jaccard(q, r.tokensFor(c))
		if score > r.threshold {
			matches = append(matches, models.ScoredConversation{ConversationRecord: c, RelevanceScore: score})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].RelevanceScore > matches[j].RelevanceScore
	})

	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches
}

func (r *Ranker) tokensFor(rec models.ConversationRecord) TokenSet {
	if r.tokens == nil || rec.UserInput == "" {
		return Tokenize(rec.UserInput)
	}
	if v, ok := r.tokens.Get(rec.UserInput); ok {
		if set, ok := v.(TokenSet); ok {
			return set
		}
	}
	set := Tokenize(rec.UserInput)
	r.tokens.Set(rec.UserInput, set, int64(len(set)+1))
	return set
}
