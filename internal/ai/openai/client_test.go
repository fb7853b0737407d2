package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avask/liverelay/internal/ai"
	"github.com/avask/liverelay/pkg/logger"
)

func testClient(srvURL string) *Client {
	return NewClient("test-key", logger.NewNop(), srvURL, 5*time.Second)
}

func TestChatCompletion(t *testing.T) {
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Write([]byte(`{"choices":[{"message":{"content":"hello there"}}]}`))
	}))
	defer srv.Close()

	text, err := testClient(srv.URL).ChatCompletion(context.Background(),
		[]ai.ChatMessage{{Role: "user", Content: "hi"}},
		ai.ChatConfig{Model: "gpt-4o-mini", Temperature: 0.7})
	require.NoError(t, err)
	assert.Equal(t, "hello there", text)

	assert.Equal(t, "gpt-4o-mini", gotBody["model"])
	messages := gotBody["messages"].([]interface{})
	require.Len(t, messages, 1)
	assert.Equal(t, "hi", messages[0].(map[string]interface{})["content"])
}

func TestChatCompletionNoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).ChatCompletion(context.Background(), nil, ai.ChatConfig{})
	assert.ErrorIs(t, err, ai.ErrMalformed)
}

func TestChatCompletionUndecodable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json at all`))
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).ChatCompletion(context.Background(), nil, ai.ChatConfig{})
	assert.ErrorIs(t, err, ai.ErrMalformed)
}

func TestChatCompletionUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).ChatCompletion(context.Background(), nil, ai.ChatConfig{})
	require.Error(t, err)
	// An upstream failure is not the same thing as a malformed success
	assert.NotErrorIs(t, err, ai.ErrMalformed)
}

func TestChatCompletionRequiresKey(t *testing.T) {
	client := NewClient("", logger.NewNop(), "https://api.test", 5*time.Second)
	_, err := client.ChatCompletion(context.Background(), nil, ai.ChatConfig{})
	assert.Error(t, err)
}
