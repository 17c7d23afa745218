// Package reranker provides hybrid re-ranking of vector search results
// for improving answer grounding quality.
package reranker

import (
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/seekerlabs/ragd/internal/index"
)

// DefaultAlpha is the default weight given to the vector score in the
// blended ranking. The remainder weights the lexical overlap score.
const DefaultAlpha = 0.6

// stopwords are dropped during tokenization so that function words do not
// inflate lexical overlap.
var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "and": {}, "or": {}, "but": {}, "if": {},
	"then": {}, "else": {}, "when": {}, "at": {}, "by": {}, "for": {},
	"in": {}, "of": {}, "on": {}, "to": {}, "up": {}, "with": {}, "as": {},
	"is": {}, "are": {}, "was": {}, "were": {}, "be": {}, "been": {},
	"being": {}, "from": {}, "that": {}, "this": {}, "these": {},
	"those": {}, "it": {}, "its": {}, "into": {}, "about": {}, "over": {},
	"after": {}, "before": {}, "between": {}, "while": {}, "can": {},
	"could": {}, "should": {}, "would": {}, "may": {}, "might": {},
	"do": {}, "does": {}, "did": {},
}

// Candidate is a search match annotated with re-ranking scores.
type Candidate struct {
	index.Match

	// LexicalScore is the binary-cosine term overlap with the query (0-1).
	LexicalScore float64

	// BlendedScore is alpha*vector + (1-alpha)*lexical, the sort key.
	BlendedScore float64
}

// Hybrid blends normalized vector similarity with lexical term overlap.
//
// Vector scores are min-max normalized across the candidate set, with the
// minimum seeded at 0 and the maximum seeded at 1 so a degenerate score
// range cannot blow up the normalization. Lexical overlap is cosine
// similarity on binary term vectors after stopword filtering.
type Hybrid struct {
	// Alpha is the vector-score weight in [0,1]. 0 ranks purely by
	// lexical overlap, 1 purely by normalized vector score.
	Alpha float64
}

// NewHybrid creates a Hybrid reranker with the given alpha. Alpha outside
// [0,1] is clamped.
func NewHybrid(alpha float64) *Hybrid {
	if alpha < 0 {
		alpha = 0
	}
	if alpha > 1 {
		alpha = 1
	}
	return &Hybrid{Alpha: alpha}
}

// Rerank scores and re-orders candidates by blended relevance to the
// query, best first. The sort is stable, so candidates with equal blended
// scores keep their original vector-rank order. The input slice is not
// modified.
func (h *Hybrid) Rerank(query string, matches []index.Match) []Candidate {
	alpha := h.Alpha

	if len(matches) == 0 {
		return []Candidate{}
	}

	min, max := minMaxScores(matches)
	denom := max - min
	if denom == 0 {
		denom = 1
	}

	queryTerms := tokenize(query)

	candidates := make([]Candidate, len(matches))
	for i, m := range matches {
		vec := (float64(m.Score) - min) / denom
		lex := lexicalScore(queryTerms, tokenize(candidateText(m)))
		candidates[i] = Candidate{
			Match:        m,
			LexicalScore: lex,
			BlendedScore: alpha*vec + (1-alpha)*lex,
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].BlendedScore > candidates[j].BlendedScore
	})
	return candidates
}

// candidateText extracts the candidate text used for lexical comparison.
func candidateText(m index.Match) string {
	return index.String(m.Metadata, "text")
}

// minMaxScores returns the score range seeded with [0, 1].
func minMaxScores(matches []index.Match) (float64, float64) {
	min, max := 0.0, 1.0
	for _, m := range matches {
		s := float64(m.Score)
		if s < min {
			min = s
		}
		if s > max {
			max = s
		}
	}
	return min, max
}

// tokenize lowercases, splits on non-alphanumeric runes, and drops
// stopwords, returning the set of distinct terms.
func tokenize(s string) map[string]struct{} {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	terms := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if _, stop := stopwords[f]; stop {
			continue
		}
		terms[f] = struct{}{}
	}
	return terms
}

// lexicalScore computes cosine similarity on binary term vectors.
func lexicalScore(query, doc map[string]struct{}) float64 {
	if len(query) == 0 || len(doc) == 0 {
		return 0
	}
	inter := 0
	for t := range query {
		if _, ok := doc[t]; ok {
			inter++
		}
	}
	return float64(inter) / math.Sqrt(float64(len(query))*float64(len(doc)))
}
