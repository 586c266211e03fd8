package store

import (
	"context"
	"sort"
	"strings"

	"github.com/awender/crosstalk/internal/callout"
)

// maxScanSessions bounds the retrieval scan to the most recent sessions.
const maxScanSessions = 20

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "and": {}, "or": {}, "but": {},
	"is": {}, "are": {}, "was": {}, "were": {}, "be": {}, "been": {},
	"do": {}, "does": {}, "did": {}, "can": {}, "could": {}, "would": {},
	"will": {}, "should": {}, "have": {}, "has": {}, "had": {},
	"i": {}, "you": {}, "we": {}, "they": {}, "it": {}, "he": {}, "she": {},
	"to": {}, "of": {}, "in": {}, "on": {}, "at": {}, "for": {}, "with": {},
	"that": {}, "this": {}, "what": {}, "how": {}, "why": {}, "when": {},
	"where": {}, "which": {}, "who": {},
}

// Retriever scores past-transcript lines by keyword overlap with a query.
type Retriever struct {
	store *Store
}

// NewRetriever wraps a store for callout excerpt retrieval.
func NewRetriever(s *Store) *Retriever {
	return &Retriever{store: s}
}

type scoredExcerpt struct {
	excerpt callout.Excerpt
	score   int
}

// Retrieve scans recent session transcripts for lines sharing keywords with
// the query. Errors and an exhausted context both yield what was found so far.
func (r *Retriever) Retrieve(ctx context.Context, query string, limit int) ([]callout.Excerpt, error) {
	keywords := keywordSet(query)
	if len(keywords) == 0 || limit <= 0 {
		return nil, nil
	}

	metas, err := r.store.ListSessions()
	if err != nil {
		return nil, err
	}
	if len(metas) > maxScanSessions {
		metas = metas[:maxScanSessions]
	}

	var scored []scoredExcerpt
	for _, meta := range metas {
		if ctx.Err() != nil {
			break
		}
		text, err := r.store.LoadTranscript(meta.ID)
		if err != nil {
			continue
		}
		for _, line := range strings.Split(text, "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			score := overlap(keywords, line)
			if score == 0 {
				continue
			}
			scored = append(scored, scoredExcerpt{
				excerpt: callout.Excerpt{SessionID: meta.ID, Text: line},
				score:   score,
			})
		}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].score > scored[j].score
	})
	if len(scored) > limit {
		scored = scored[:limit]
	}
	out := make([]callout.Excerpt, 0, len(scored))
	for _, s := range scored {
		out = append(out, s.excerpt)
	}
	return out, nil
}

func keywordSet(query string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, word := range strings.Fields(strings.ToLower(query)) {
		word = strings.Trim(word, ".,!?;:'\"")
		if len(word) < 3 {
			continue
		}
		if _, skip := stopwords[word]; skip {
			continue
		}
		set[word] = struct{}{}
	}
	return set
}

func overlap(keywords map[string]struct{}, line string) int {
	score := 0
	seen := make(map[string]struct{})
	for _, word := range strings.Fields(strings.ToLower(line)) {
		word = strings.Trim(word, ".,!?;:'\"")
		if _, dup := seen[word]; dup {
			continue
		}
		seen[word] = struct{}{}
		if _, hit := keywords[word]; hit {
			score++
		}
	}
	return score
}
