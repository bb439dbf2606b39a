package extern

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPEmbedder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		_, _ = w.Write([]byte(`{"embedding": [0.1, 0.2, 0.3]}`))
	}))
	defer srv.Close()

	emb := NewHTTPEmbedder(srv.URL, time.Second)
	vec, err := emb.Embed(context.Background(), "Marcus")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
}

func TestHTTPEmbedderEmptyVector(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"embedding": []}`))
	}))
	defer srv.Close()

	emb := NewHTTPEmbedder(srv.URL, time.Second)
	_, err := emb.Embed(context.Background(), "Marcus")
	assert.Error(t, err)
}

func TestHTTPRewriter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"summary": "Marcus works at Anthropic."}`))
	}))
	defer srv.Close()

	rw := NewHTTPRewriter(srv.URL, time.Second)
	summary, err := rw.Rewrite(context.Background(), "work", "", []string{"Marcus works_at Anthropic"})
	require.NoError(t, err)
	assert.Equal(t, "Marcus works at Anthropic.", summary)
}

func TestHTTPJudge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"sufficient": true}`))
	}))
	defer srv.Close()

	judge := NewHTTPJudge(srv.URL, time.Second)
	ok, err := judge.Sufficient(context.Background(), "where does Marcus work", "Marcus works at Anthropic")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCircuitOpensAfterConsecutiveFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	judge := NewHTTPJudge(srv.URL, time.Second)
	ctx := context.Background()

	// Three consecutive failures trip the breaker.
	for i := 0; i < 3; i++ {
		_, err := judge.Sufficient(ctx, "q", "c")
		require.Error(t, err)
	}
	reached := calls.Load()

	// Subsequent calls fail fast without touching the endpoint.
	_, err := judge.Sufficient(ctx, "q", "c")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, reached, calls.Load(), "open circuit still forwarded a request")
}

func TestNon200IsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	emb := NewHTTPEmbedder(srv.URL, time.Second)
	_, err := emb.Embed(context.Background(), "Marcus")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnavailable, "single failure should not read as open circuit")
}

func TestMockEmbedderDeterministic(t *testing.T) {
	m := &MockEmbedder{}
	a, err := m.Embed(context.Background(), "Marcus")
	require.NoError(t, err)
	b, err := m.Embed(context.Background(), "Marcus")
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c, err := m.Embed(context.Background(), "Sarah")
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestMockEmbedderErr(t *testing.T) {
	m := &MockEmbedder{Err: ErrUnavailable}
	_, err := m.Embed(context.Background(), "Marcus")
	assert.True(t, errors.Is(err, ErrUnavailable))
}
