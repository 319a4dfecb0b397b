package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/syedmozamilshah/healthverse/config"
	"github.com/syedmozamilshah/healthverse/internal/triage"
)

// Embedder turns query text into a vector for similarity search.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Qdrant retrieves similar prior cases from a Qdrant collection over its
// HTTP API. Every transport or decode failure surfaces as
// triage.ErrRetrievalUnavailable so the confidence model degrades to
// conversational signal instead of aborting.
type Qdrant struct {
	cfg        config.RetrievalConfig
	embedder   Embedder
	httpClient *http.Client
}

// NewQdrant creates a Qdrant-backed retriever.
func NewQdrant(cfg config.RetrievalConfig, embedder Embedder) *Qdrant {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Qdrant{
		cfg:        cfg,
		embedder:   embedder,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Retrieve embeds the query and runs a similarity search against the case
// collection. Cosine scores are clamped to [0,1].
func (q *Qdrant) Retrieve(ctx context.Context, query string, topK int) ([]triage.Evidence, error) {
	if topK <= 0 {
		topK = 5
	}
	vecs, err := q.embedder.Embed(ctx, []string{query})
	if err != nil || len(vecs) == 0 {
		return nil, fmt.Errorf("%w: embedding query: %v", triage.ErrRetrievalUnavailable, err)
	}

	requestBody := map[string]interface{}{
		"vector":          vecs[0],
		"limit":           topK,
		"score_threshold": q.cfg.ScoreThreshold,
		"with_payload":    true,
	}
	var parsed struct {
		Result []struct {
			Score   float64 `json:"score"`
			Payload struct {
				CaseSummary string `json:"case_summary"`
				Outcome     string `json:"outcome"`
			} `json:"payload"`
		} `json:"result"`
	}
	url := fmt.Sprintf("%s/collections/%s/points/search", q.cfg.QdrantEndpoint, q.cfg.Collection)
	if err := q.post(ctx, url, requestBody, &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", triage.ErrRetrievalUnavailable, err)
	}

	var out []triage.Evidence
	for _, hit := range parsed.Result {
		outcome, ok := triage.ParseSpecialist(hit.Payload.Outcome)
		if !ok {
			continue
		}
		sim := hit.Score
		if sim < 0 {
			sim = 0
		}
		if sim > 1 {
			sim = 1
		}
		out = append(out, triage.Evidence{
			CaseSummary: hit.Payload.CaseSummary,
			Outcome:     outcome,
			Similarity:  sim,
		})
	}
	return out, nil
}

// Seed creates the collection if needed and upserts the given cases with
// their embeddings. Used by the seed command.
func (q *Qdrant) Seed(ctx context.Context, cases []Case) error {
	if len(cases) == 0 {
		return nil
	}
	texts := make([]string, len(cases))
	for i, c := range cases {
		texts[i] = c.Summary
	}
	vecs, err := q.embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("embedding corpus: %w", err)
	}
	if len(vecs) != len(cases) {
		return fmt.Errorf("embedding count mismatch: got %d for %d cases", len(vecs), len(cases))
	}

	collectionURL := fmt.Sprintf("%s/collections/%s", q.cfg.QdrantEndpoint, q.cfg.Collection)
	createBody := map[string]interface{}{
		"vectors": map[string]interface{}{
			"size":     len(vecs[0]),
			"distance": "Cosine",
		},
	}
	// Creating an existing collection fails; ignore that and rely on upsert.
	_ = q.put(ctx, collectionURL, createBody, nil)

	points := make([]map[string]interface{}, len(cases))
	for i, c := range cases {
		points[i] = map[string]interface{}{
			"id":     i + 1,
			"vector": vecs[i],
			"payload": map[string]interface{}{
				"case_summary": c.Summary,
				"outcome":      string(c.Outcome),
			},
		}
	}
	upsertBody := map[string]interface{}{"points": points}
	if err := q.put(ctx, collectionURL+"/points?wait=true", upsertBody, nil); err != nil {
		return fmt.Errorf("upserting corpus: %w", err)
	}
	return nil
}

func (q *Qdrant) post(ctx context.Context, url string, body, out interface{}) error {
	return q.send(ctx, http.MethodPost, url, body, out)
}

func (q *Qdrant) put(ctx context.Context, url string, body, out interface{}) error {
	return q.send(ctx, http.MethodPut, url, body, out)
}

func (q *Qdrant) send(ctx context.Context, method, url string, body, out interface{}) error {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if q.cfg.QdrantAPIKey != "" {
		req.Header.Set("api-key", q.cfg.QdrantAPIKey)
	}

	resp, err := q.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API returned status: %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
