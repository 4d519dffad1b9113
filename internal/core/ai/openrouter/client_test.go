package openrouter

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"recipe-modifier/internal/core/ai/provider"
	"recipe-modifier/internal/pkg/common"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClient(provider.Config{
		APIKey:  "sk-test-123456789",
		Model:   "test/model",
		BaseURL: srv.URL,
		Timeout: 2 * time.Second,
		Title:   "Recipe Modifier",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestClient_Generate(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test-123456789", r.Header.Get("Authorization"))
		assert.Equal(t, "Recipe Modifier", r.Header.Get("X-Title"))

		var body chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "test/model", body.Model)
		assert.Len(t, body.Messages, 2)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"gen-1","model":"test/model","choices":[{"message":{"role":"assistant","content":"{\"title\":\"x\"}"},"finish_reason":"stop"}],"usage":{"prompt_tokens":10,"completion_tokens":5,"total_tokens":15}}`))
	})

	resp, err := c.Generate(context.Background(), provider.NewRequest("", provider.Prompt{System: "s", User: "u"}, 100, 0.3))
	require.NoError(t, err)
	assert.Equal(t, `{"title":"x"}`, resp.Content)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Equal(t, 15, resp.Usage.TotalTokens)
}

func TestClient_ClassifiesStatus(t *testing.T) {
	cases := []struct {
		status int
		want   *common.CustomError
	}{
		{http.StatusUnauthorized, common.ErrAuthentication},
		{http.StatusTooManyRequests, common.ErrRateLimit},
		{http.StatusBadRequest, common.ErrModel},
		{http.StatusBadGateway, common.ErrNetwork},
	}
	for _, tc := range cases {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(`{"error":{"message":"nope"}}`))
			})
			_, err := c.Generate(context.Background(), provider.NewRequest("", provider.Prompt{User: "u"}, 0, 0))
			require.Error(t, err)
			assert.True(t, errors.Is(err, tc.want), "got %v", err)
		})
	}
}

func TestClient_ErrorInsideOKResponse(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"error":{"message":"upstream overloaded","code":503}}`))
	})
	_, err := c.Generate(context.Background(), provider.NewRequest("", provider.Prompt{User: "u"}, 0, 0))
	assert.True(t, errors.Is(err, common.ErrNetwork))
}

func TestClient_EmptyChoicesIsModelError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[]}`))
	})
	_, err := c.Generate(context.Background(), provider.NewRequest("", provider.Prompt{User: "u"}, 0, 0))
	assert.True(t, errors.Is(err, common.ErrModel))
}

func TestClient_DeadlineIsTimeout(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.Generate(ctx, provider.NewRequest("", provider.Prompt{User: "u"}, 0, 0))
	assert.True(t, errors.Is(err, common.ErrTimeout), "got %v", err)
}

func TestNewClient_RequiresKey(t *testing.T) {
	_, err := NewClient(provider.Config{})
	assert.Error(t, err)
}
