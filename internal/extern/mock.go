package extern

import (
	"context"
	"strings"
)

// MockEmbedder returns deterministic vectors derived from the input text.
// Identical texts map to identical vectors, so similarity comparisons in
// tests behave predictably.
type MockEmbedder struct {
	Dim int

	// Err, when set, is returned from every call.
	Err error
}

// Embed returns a deterministic unit-ish vector for text.
func (m *MockEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	dim := m.Dim
	if dim == 0 {
		dim = 8
	}
	vec := make([]float32, dim)
	for i, r := range strings.ToLower(text) {
		vec[i%dim] += float32(r%13) / 13.0
	}
	return vec, nil
}

// MockRewriter joins the facts into a single paragraph.
type MockRewriter struct {
	Err error

	// Calls records the categories rewritten, in order.
	Calls []string
}

// Rewrite returns a deterministic summary built from the fact texts.
func (m *MockRewriter) Rewrite(_ context.Context, category, _ string, facts []string) (string, error) {
	if m.Err != nil {
		return "", m.Err
	}
	m.Calls = append(m.Calls, category)
	return category + ": " + strings.Join(facts, "; "), nil
}

// MockJudge returns a fixed verdict.
type MockJudge struct {
	Verdict bool
	Err     error

	// Calls counts invocations.
	Calls int
}

// Sufficient returns the configured verdict.
func (m *MockJudge) Sufficient(_ context.Context, _, _ string) (bool, error) {
	m.Calls++
	if m.Err != nil {
		return false, m.Err
	}
	return m.Verdict, nil
}
