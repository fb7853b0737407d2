package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avask/liverelay/pkg/logger"
)

func TestAuthorize(t *testing.T) {
	var got Request
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		assert.Equal(t, "/v2/authorize", r.URL.Path)
		w.Write([]byte(`{"token":"abc123"}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "", "sekrit", 5*time.Second, logger.NewNop())
	res, err := client.Authorize(context.Background(), "room-1", "worker-room-1", UserInfo{
		Username: "bot",
		Bot:      true,
	})
	require.NoError(t, err)

	assert.Equal(t, "Bearer sekrit", gotAuth)
	assert.Equal(t, "room-1", got.Room)
	assert.Equal(t, "worker-room-1", got.UserID)
	assert.True(t, got.UserInfo.Bot)

	// Body is passed through untouched
	assert.Equal(t, `{"token":"abc123"}`, res.Body)
	assert.Equal(t, "abc123", res.Token())
}

func TestAuthorizeRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad secret", http.StatusForbidden)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "", "wrong", 5*time.Second, logger.NewNop())
	_, err := client.Authorize(context.Background(), "room-1", "u1", UserInfo{})
	assert.Error(t, err)
}

func TestAuthorizeValidation(t *testing.T) {
	client := NewClient("https://collab.test", "", "s", 5*time.Second, logger.NewNop())

	_, err := client.Authorize(context.Background(), "", "u1", UserInfo{})
	assert.Error(t, err)

	_, err = client.Authorize(context.Background(), "room-1", "", UserInfo{})
	assert.Error(t, err)
}

func TestTokenFallsBackToRawBody(t *testing.T) {
	res := &TokenResponse{Body: "opaque-token-string"}
	assert.Equal(t, "opaque-token-string", res.Token())
}

func TestBotUserID(t *testing.T) {
	assert.Equal(t, "worker-room-1", BotUserID("room-1"))
}
