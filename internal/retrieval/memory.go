package retrieval

import (
	"context"
	"fmt"

	"github.com/blevesearch/bleve"
	"github.com/syedmozamilshah/healthverse/internal/triage"
)

// Memory is a self-contained retriever over the bundled case corpus using an
// in-memory BM25 index. It serves deployments without a vector store and
// keeps tests deterministic.
type Memory struct {
	index bleve.Index
	cases map[string]Case
}

// indexedCase is the shape handed to bleve for indexing.
type indexedCase struct {
	Summary string `json:"summary"`
}

// NewMemory builds the in-memory retriever from the given cases; pass
// Corpus() for the bundled set.
func NewMemory(cases []Case) (*Memory, error) {
	index, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("creating index: %w", err)
	}
	byID := make(map[string]Case, len(cases))
	for _, c := range cases {
		if err := index.Index(c.ID, indexedCase{Summary: c.Summary}); err != nil {
			return nil, fmt.Errorf("indexing case %s: %w", c.ID, err)
		}
		byID[c.ID] = c
	}
	return &Memory{index: index, cases: byID}, nil
}

// Retrieve returns the topK most similar prior cases. BM25 scores are
// normalized by the best hit so similarity lands in [0,1].
func (m *Memory) Retrieve(_ context.Context, query string, topK int) ([]triage.Evidence, error) {
	if topK <= 0 {
		topK = 5
	}
	search := bleve.NewSearchRequestOptions(bleve.NewMatchQuery(query), topK, 0, false)
	res, err := m.index.Search(search)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", triage.ErrRetrievalUnavailable, err)
	}

	var out []triage.Evidence
	var top float64
	for i, hit := range res.Hits {
		if i == 0 {
			top = hit.Score
		}
		c, ok := m.cases[hit.ID]
		if !ok {
			continue
		}
		sim := 0.0
		if top > 0 {
			sim = hit.Score / top
		}
		out = append(out, triage.Evidence{
			CaseSummary: c.Summary,
			Outcome:     c.Outcome,
			Similarity:  sim,
		})
	}
	return out, nil
}
