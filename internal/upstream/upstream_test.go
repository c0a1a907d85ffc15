package upstream

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapBuildsEnvelopeWithGeneratedRequestID(t *testing.T) {
	env := Wrap("proj-1", "gemini-2.5-pro", map[string]interface{}{"k": "v"})
	assert.Equal(t, "proj-1", env.Project)
	assert.Equal(t, "gemini-2.5-pro", env.Model)
	assert.Equal(t, "antigravity", env.UserAgent)
	assert.Equal(t, "agent", env.RequestType)
	assert.Contains(t, env.RequestID, "agent-")
	assert.Equal(t, map[string]interface{}{"k": "v"}, env.Request)
}

func TestUnwrapPeelsResponseField(t *testing.T) {
	wrapped := map[string]interface{}{"response": map[string]interface{}{"text": "hi"}}
	assert.Equal(t, map[string]interface{}{"text": "hi"}, Unwrap(wrapped))

	flat := map[string]interface{}{"text": "hi"}
	assert.Equal(t, flat, Unwrap(flat))
}

func TestUnwrapStreamChunkDelegatesToUnwrap(t *testing.T) {
	chunk := map[string]interface{}{"response": map[string]interface{}{"text": "hi"}}
	assert.Equal(t, map[string]interface{}{"text": "hi"}, UnwrapStreamChunk(chunk))
}

func TestShouldFailover(t *testing.T) {
	assert.True(t, shouldFailover(429))
	assert.True(t, shouldFailover(408))
	assert.True(t, shouldFailover(404))
	assert.True(t, shouldFailover(500))
	assert.True(t, shouldFailover(503))
	assert.False(t, shouldFailover(200))
	assert.False(t, shouldFailover(400))
	assert.False(t, shouldFailover(401))
}

func withBaseURLs(t *testing.T, urls []string) {
	t.Helper()
	original := BaseURLs
	BaseURLs = urls
	t.Cleanup(func() { BaseURLs = original })
}

func TestDoReturnsFirstSuccessfulBaseURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()
	withBaseURLs(t, []string{srv.URL})

	c := NewClient()
	result, err := c.Do(context.Background(), "/test", nil, Wrap("p", "m", nil), false)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, result.StatusCode)
	body, _ := io.ReadAll(result.Body)
	result.Body.Close()
	assert.JSONEq(t, `{"ok":true}`, string(body))
}

func TestDoFailsOverToSecondBaseURLOn5xx(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer bad.Close()
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer good.Close()
	withBaseURLs(t, []string{bad.URL, good.URL})

	c := NewClient()
	result, err := c.Do(context.Background(), "/test", nil, Wrap("p", "m", nil), false)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, result.StatusCode)
	result.Body.Close()
}

func TestDoReturnsLastStatusWhenAllBaseURLsFail(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer bad.Close()
	withBaseURLs(t, []string{bad.URL, bad.URL})

	c := NewClient()
	result, err := c.Do(context.Background(), "/test", nil, Wrap("p", "m", nil), false)
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, result.StatusCode)
	result.Body.Close()
}

func TestDoDoesNotFailoverOnNonFailoverStatus(t *testing.T) {
	calls := 0
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer bad.Close()
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer good.Close()
	withBaseURLs(t, []string{bad.URL, good.URL})

	c := NewClient()
	result, err := c.Do(context.Background(), "/test", nil, Wrap("p", "m", nil), false)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, result.StatusCode)
	assert.Equal(t, 1, calls)
	result.Body.Close()
}
