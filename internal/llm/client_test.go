package llm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComplete_ReturnsFirstTextBlock(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		w.Write([]byte(`{"content":[{"type":"text","text":"hello world"}]}`))
	}))
	defer srv.Close()

	c := New("test-key", "claude-3-5-sonnet-latest", srv.URL)
	out, err := c.Complete(context.Background(), "hi", 100)
	require.NoError(t, err)
	assert.Equal(t, "hello world", out)
}

func TestComplete_PropagatesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"type":"rate_limit_error","message":"slow down"}}`))
	}))
	defer srv.Close()

	c := New("test-key", "claude-3-5-sonnet-latest", srv.URL)
	_, err := c.Complete(context.Background(), "hi", 100)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate_limit_error")
}

func TestHasAPIKey(t *testing.T) {
	assert.True(t, New("k", "m", "").HasAPIKey())
	assert.False(t, New("", "m", "").HasAPIKey())
}
