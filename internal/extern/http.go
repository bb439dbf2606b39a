package extern

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
)

// httpClient wraps one external HTTP endpoint behind a circuit breaker.
type httpClient struct {
	url     string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

func newHTTPClient(name, url string, timeout time.Duration) *httpClient {
	if timeout == 0 {
		timeout = 2 * time.Second
	}
	return &httpClient{
		url:     url,
		client:  &http.Client{Timeout: timeout},
		breaker: newBreaker(name, 3, 30*time.Second),
	}
}

// post sends a JSON body and decodes the JSON response into out.
func (c *httpClient) post(ctx context.Context, body interface{}, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("extern: marshal request: %w", err)
	}

	_, err = execute(c.breaker, func() (struct{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
		if err != nil {
			return struct{}{}, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			return struct{}{}, err
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode != http.StatusOK {
			data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return struct{}{}, fmt.Errorf("extern: %s returned %d: %s", c.url, resp.StatusCode, data)
		}
		return struct{}{}, json.NewDecoder(resp.Body).Decode(out)
	})
	return err
}

// HTTPEmbedder calls an embedding endpoint: POST {"text": ...} returning
// {"embedding": [...]}.
type HTTPEmbedder struct {
	c *httpClient
}

// NewHTTPEmbedder builds an embedder client for the given endpoint.
func NewHTTPEmbedder(url string, timeout time.Duration) *HTTPEmbedder {
	return &HTTPEmbedder{c: newHTTPClient("embedder", url, timeout)}
}

// Embed returns the vector for text.
func (e *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	var resp struct {
		Embedding []float32 `json:"embedding"`
	}
	if err := e.c.post(ctx, map[string]string{"text": text}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Embedding) == 0 {
		return nil, fmt.Errorf("extern: embedder returned empty vector")
	}
	return resp.Embedding, nil
}

// HTTPRewriter calls a summary-rewrite endpoint: POST {"category", "prior",
// "facts"} returning {"summary": ...}.
type HTTPRewriter struct {
	c *httpClient
}

// NewHTTPRewriter builds a rewriter client for the given endpoint.
func NewHTTPRewriter(url string, timeout time.Duration) *HTTPRewriter {
	return &HTTPRewriter{c: newHTTPClient("rewriter", url, timeout)}
}

// Rewrite returns a wholesale replacement summary for the category.
func (r *HTTPRewriter) Rewrite(ctx context.Context, category, priorSummary string, facts []string) (string, error) {
	var resp struct {
		Summary string `json:"summary"`
	}
	req := map[string]interface{}{
		"category": category,
		"prior":    priorSummary,
		"facts":    facts,
	}
	if err := r.c.post(ctx, req, &resp); err != nil {
		return "", err
	}
	return resp.Summary, nil
}

// HTTPJudge calls a sufficiency endpoint: POST {"query", "context"}
// returning {"sufficient": bool}.
type HTTPJudge struct {
	c *httpClient
}

// NewHTTPJudge builds a sufficiency-judge client for the given endpoint.
func NewHTTPJudge(url string, timeout time.Duration) *HTTPJudge {
	return &HTTPJudge{c: newHTTPClient("judge", url, timeout)}
}

// Sufficient reports whether context already answers query.
func (j *HTTPJudge) Sufficient(ctx context.Context, query, context string) (bool, error) {
	var resp struct {
		Sufficient bool `json:"sufficient"`
	}
	req := map[string]string{"query": query, "context": context}
	if err := j.c.post(ctx, req, &resp); err != nil {
		return false, err
	}
	return resp.Sufficient, nil
}
