package embed

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amanmcp/codesearch/internal/ratelimit"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func fakeEmbedHandler(dims int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req batchEmbedRequest
		_ = json.NewDecoder(r.Body).Decode(&req)

		values := make([]float32, dims)
		for i := range values {
			values[i] = 0.1
		}
		resp := batchEmbedResponse{}
		resp.Embeddings = []struct {
			Values []float32 `json:"values"`
		}{{Values: values}}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}
}

func newTestClient(t *testing.T, srv *httptest.Server, profile ratelimit.ModelProfile) *Client {
	t.Helper()
	governor := ratelimit.NewGovernor(profile)
	return NewClient(Config{
		Endpoint:   srv.URL,
		APIKey:     "test-key",
		Model:      "text-embedding-004",
		Dimensions: 8,
		Profile:    profile,
	}, governor)
}

func TestClient_Embed_SingleText(t *testing.T) {
	srv := newTestServer(t, fakeEmbedHandler(8))
	c := newTestClient(t, srv, ProfileFor("text-embedding-004", 8))
	defer c.Close()

	vec, err := c.Embed(t.Context(), "func main() {}", TaskDocument)
	require.NoError(t, err)
	assert.Len(t, vec, 8)
}

func TestClient_Embed_EmptyTextReturnsZeroVector(t *testing.T) {
	srv := newTestServer(t, fakeEmbedHandler(8))
	c := newTestClient(t, srv, ProfileFor("text-embedding-004", 8))
	defer c.Close()

	vec, err := c.Embed(t.Context(), "   ", TaskDocument)
	require.NoError(t, err)
	assert.Equal(t, make([]float32, 8), vec)
}

func TestClient_EmbedBatch_ParallelProfilePreservesOrder(t *testing.T) {
	srv := newTestServer(t, fakeEmbedHandler(8))
	profile := ProfileFor("text-embedding-004", 8)
	profile.BatchSize = 4
	c := newTestClient(t, srv, profile)
	defer c.Close()

	texts := []string{"a", "b", "c", "d", "e"}
	out, err := c.EmbedBatch(t.Context(), texts, TaskDocument)
	require.NoError(t, err)
	require.Len(t, out, len(texts))
	for _, v := range out {
		assert.Len(t, v, 8)
	}
}

func TestClient_EmbedBatch_SerialProfile(t *testing.T) {
	srv := newTestServer(t, fakeEmbedHandler(8))
	profile := ProfileFor("text-embedding-004-free", 8)
	c := newTestClient(t, srv, profile)
	defer c.Close()

	out, err := c.EmbedBatch(t.Context(), []string{"x", "y"}, TaskQuery)
	require.NoError(t, err)
	require.Len(t, out, 2)
}

func TestClient_EmbedBatch_RetriesOnServerError(t *testing.T) {
	attempts := 0
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fakeEmbedHandler(8)(w, r)
	})
	profile := ProfileFor("text-embedding-004", 8)
	c := newTestClient(t, srv, profile)
	defer c.Close()

	vec, err := c.Embed(t.Context(), "retry me", TaskDocument)
	require.NoError(t, err)
	assert.Len(t, vec, 8)
	assert.GreaterOrEqual(t, attempts, 2)
}

func TestClient_EmbedBatch_NonRetryableStatusFailsFast(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	profile := ProfileFor("text-embedding-004-free", 8)
	profile.RPMLimit = 0 // no governor wait in this test
	c := newTestClient(t, srv, profile)
	defer c.Close()

	_, err := c.Embed(t.Context(), "unauthorized", TaskDocument)
	require.Error(t, err)
}

func TestClient_EmptyBatchReturnsNil(t *testing.T) {
	srv := newTestServer(t, fakeEmbedHandler(8))
	c := newTestClient(t, srv, ProfileFor("text-embedding-004", 8))
	defer c.Close()

	out, err := c.EmbedBatch(t.Context(), nil, TaskDocument)
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestProfileFor_UnknownModelFallsBackToSerial(t *testing.T) {
	profile := ProfileFor("some-unknown-model", 512)
	assert.False(t, profile.Parallel)
	assert.Equal(t, 512, profile.Dimensions)
}
