package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var fastRetry = RetryConfig{MaxRetries: 2, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}

// newEmbedServer answers /embeddings with data[] in reverse order. Each
// vector holds the number parsed from the input text "tN".
func newEmbedServer(t *testing.T, calls *int32, sizes *[]int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/embeddings", r.URL.Path)
		require.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		atomic.AddInt32(calls, 1)
		var req openAIEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		*sizes = append(*sizes, len(req.Input))
		type item struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		}
		data := make([]item, 0, len(req.Input))
		for i := len(req.Input) - 1; i >= 0; i-- {
			n, err := strconv.Atoi(req.Input[i][1:])
			require.NoError(t, err)
			data = append(data, item{Index: i, Embedding: []float32{float32(n)}})
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": data})
	}))
}

func newTestOpenAIEmbedder(t *testing.T, baseURL string) IEmbedder {
	t.Helper()
	p, err := NewEmbedProvider("openai", map[string]interface{}{"api_key": "k", "base_url": baseURL})
	require.NoError(t, err)
	return NewEmbedder(p, "text-embedding-3-small", EmbedderOptions{Dimension: 1, Retry: fastRetry})
}

func TestEmbedBatch_SplitsIntoBatchesAndKeepsOrder(t *testing.T) {
	var calls int32
	var sizes []int
	srv := newEmbedServer(t, &calls, &sizes)
	defer srv.Close()

	texts := make([]string, 150)
	for i := range texts {
		texts[i] = fmt.Sprintf("t%d", i)
	}
	e := newTestOpenAIEmbedder(t, srv.URL)
	vectors, err := e.EmbedBatch(context.Background(), texts, TaskTypeRetrievalDocument)
	require.NoError(t, err)
	require.Equal(t, int32(2), atomic.LoadInt32(&calls))
	require.Equal(t, []int{100, 50}, sizes)
	require.Len(t, vectors, 150)
	for i, vec := range vectors {
		require.Equal(t, []float32{float32(i)}, vec)
	}
}

func TestEmbedBatch_EmptyInputMakesNoCall(t *testing.T) {
	var calls int32
	var sizes []int
	srv := newEmbedServer(t, &calls, &sizes)
	defer srv.Close()

	vectors, err := newTestOpenAIEmbedder(t, srv.URL).EmbedBatch(context.Background(), nil, "")
	require.NoError(t, err)
	require.Empty(t, vectors)
	require.Zero(t, atomic.LoadInt32(&calls))
}

func TestEmbedBatch_DimensionMismatch(t *testing.T) {
	var calls int32
	var sizes []int
	srv := newEmbedServer(t, &calls, &sizes)
	defer srv.Close()

	p, err := NewEmbedProvider("openai", map[string]interface{}{"api_key": "k", "base_url": srv.URL})
	require.NoError(t, err)
	e := NewEmbedder(p, "m", EmbedderOptions{Dimension: 3})
	_, err = e.Embed(context.Background(), "t1", "")
	require.ErrorIs(t, err, ErrBadResponse)
}

func TestEmbed_RetriesTransientFailure(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"data":[{"index":0,"embedding":[0.5]}]}`))
	}))
	defer srv.Close()

	vec, err := newTestOpenAIEmbedder(t, srv.URL).Embed(context.Background(), "hello", "")
	require.NoError(t, err)
	require.Equal(t, []float32{0.5}, vec)
	require.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestEmbed_DoesNotRetryClientError(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"bad key"}`))
	}))
	defer srv.Close()

	_, err := newTestOpenAIEmbedder(t, srv.URL).Embed(context.Background(), "hello", "")
	require.Error(t, err)
	var se *StatusError
	require.True(t, errors.As(err, &se))
	require.Equal(t, http.StatusUnauthorized, se.StatusCode)
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestEmbed_MissingKeyIsUnavailable(t *testing.T) {
	p, err := NewEmbedProvider("openai", map[string]interface{}{"api_key_env": "CONVORAG_TEST_UNSET_KEY"})
	require.NoError(t, err)
	_, err = NewEmbedder(p, "m", EmbedderOptions{Retry: fastRetry}).Embed(context.Background(), "x", "")
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestResolveAPIKey_FromEnv(t *testing.T) {
	t.Setenv("CONVORAG_TEST_KEY", " secret ")
	require.Equal(t, "secret", resolveAPIKey("", "CONVORAG_TEST_KEY"))
	require.Equal(t, "inline", resolveAPIKey("inline", "CONVORAG_TEST_KEY"))
}

func TestComplete_SendsSystemPromptAndTemperature(t *testing.T) {
	var got openAIChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"  the answer  "}}]}`))
	}))
	defer srv.Close()

	p, err := NewProvider("openai", map[string]interface{}{"api_key": "k", "base_url": srv.URL})
	require.NoError(t, err)
	g := NewGenerator(p, "gpt-4o-mini", GeneratorOptions{Retry: fastRetry})
	out, err := g.Complete(context.Background(), "be factual", "what happened?", GenerateOptions{Temperature: 0.2, MaxTokens: 300})
	require.NoError(t, err)
	require.Equal(t, "the answer", out)
	require.Equal(t, "gpt-4o-mini", got.Model)
	require.Len(t, got.Messages, 2)
	require.Equal(t, "system", got.Messages[0].Role)
	require.Equal(t, "be factual", got.Messages[0].Content)
	require.Equal(t, "user", got.Messages[1].Role)
	require.InDelta(t, 0.2, got.Temperature, 1e-9)
	require.Equal(t, 300, got.MaxTokens)
}

func TestOpenRouter_SetsAttributionHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "https://example.com", r.Header.Get("HTTP-Referer"))
		require.Equal(t, "convorag", r.Header.Get("X-Title"))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer srv.Close()

	p, err := NewProvider("openrouter", map[string]interface{}{
		"api_key":      "k",
		"base_url":     srv.URL,
		"http_referer": "https://example.com",
		"x_title":      "convorag",
	})
	require.NoError(t, err)
	out, err := NewGenerator(p, "m", GeneratorOptions{}).Complete(context.Background(), "", "hi", GenerateOptions{})
	require.NoError(t, err)
	require.Equal(t, "ok", out)
}
