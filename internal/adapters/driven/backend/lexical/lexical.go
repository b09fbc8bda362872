// Package lexical provides the term-overlap scoring shared by backends
// that have no native full-text ranking.
package lexical

import (
	"sort"
	"strings"
	"unicode"

	"github.com/custodia-labs/memweave/internal/core/domain"
)

// Terms splits s into unique lower-case words.
func Terms(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]bool, len(fields))
	out := fields[:0]
	for _, f := range fields {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	return out
}

// Score returns the fraction of query terms present in content, in [0,1].
func Score(content string, queryTerms []string) float64 {
	if len(queryTerms) == 0 {
		return 0
	}
	have := make(map[string]bool)
	for _, t := range Terms(content) {
		have[t] = true
	}
	matched := 0
	for _, q := range queryTerms {
		if have[q] {
			matched++
		}
	}
	return float64(matched) / float64(len(queryTerms))
}

// Rank scores records against query and returns hits for backend,
// best first, ties broken by record ID.
func Rank(backend string, records []domain.Record, query domain.Query) []domain.SearchHit {
	terms := Terms(query.Text)
	hits := make([]domain.SearchHit, 0)
	for _, r := range records {
		if query.Namespace != "" && r.Namespace != query.Namespace {
			continue
		}
		score := Score(r.Content, terms)
		if score <= 0 {
			continue
		}
		hits = append(hits, domain.SearchHit{RecordID: r.ID, Score: score, Backend: backend})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].RecordID < hits[j].RecordID
	})
	if query.Limit > 0 && len(hits) > query.Limit {
		hits = hits[:query.Limit]
	}
	return hits
}
