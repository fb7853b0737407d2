package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avask/liverelay/internal/ai"
	"github.com/avask/liverelay/internal/auth"
	"github.com/avask/liverelay/internal/config"
	"github.com/avask/liverelay/internal/live"
	"github.com/avask/liverelay/internal/observability"
	"github.com/avask/liverelay/internal/relay"
	"github.com/avask/liverelay/internal/storage/sqlite"
	"github.com/avask/liverelay/pkg/logger"
)

// stubRoom is the minimal live.Room needed for ingress tests; the session
// never progresses past connecting.
type stubRoom struct{}

func (stubRoom) Connect()                                    {}
func (stubRoom) SubscribeOthers(live.OthersHandler)          {}
func (stubRoom) SubscribeEvents(live.EventHandler)           {}
func (stubRoom) SubscribeStatus(live.StatusHandler)          {}
func (stubRoom) SubscribeLostConnection(live.LostConnectionHandler) {}
func (stubRoom) Others() []live.User                         { return nil }
func (stubRoom) Status() live.Status                         { return live.StatusConnecting }
func (stubRoom) UpdatePresence(live.Presence) error          { return nil }
func (stubRoom) BroadcastEvent(live.Event) error             { return nil }
func (stubRoom) Leave()                                      {}

type stubClient struct {
	mu     sync.Mutex
	enters int
}

func (c *stubClient) Enter(ctx context.Context, roomID string, opts live.EnterOptions) (live.Room, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enters++
	return stubRoom{}, nil
}

func (c *stubClient) enterCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enters
}

type stubAuthorizer struct {
	mu       sync.Mutex
	err      error
	requests []auth.Request
}

func (a *stubAuthorizer) Authorize(ctx context.Context, room, userID string, userInfo auth.UserInfo) (*auth.TokenResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return nil, a.err
	}
	a.requests = append(a.requests, auth.Request{Room: room, UserID: userID, UserInfo: userInfo})
	return &auth.TokenResponse{Body: `{"token":"signed-token"}`}, nil
}

type stubGenerator struct{}

func (stubGenerator) ChatCompletion(ctx context.Context, messages []ai.ChatMessage, cfg ai.ChatConfig) (string, error) {
	return "", fmt.Errorf("not used")
}

type stubEventReader struct {
	events []*sqlite.SessionEvent
	err    error
}

func (r *stubEventReader) GetEvents(roomID string, limit int) ([]*sqlite.SessionEvent, error) {
	return r.events, r.err
}

func testServerConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	cfg.Server.Port = 8080
	cfg.Collab.BaseURL = "https://collab.test"
	cfg.Collab.Secret = "shared-secret"
	cfg.OpenAI.APIKey = "test-key"
	cfg.Metrics.Enabled = true
	require.NoError(t, cfg.Validate())
	return cfg
}

type apiRig struct {
	handler    http.Handler
	client     *stubClient
	authorizer *stubAuthorizer
}

func newAPIRig(t *testing.T, events EventReader) *apiRig {
	t.Helper()
	cfg := testServerConfig(t)
	client := &stubClient{}
	authorizer := &stubAuthorizer{}
	metrics := observability.NewMetrics("test")
	registry := relay.NewRegistry(client, authorizer, stubGenerator{}, cfg, logger.NewNop(), metrics, nil)
	server := NewServer(cfg, registry, authorizer, events, metrics, logger.NewNop())
	return &apiRig{
		handler:    server.Handler(),
		client:     client,
		authorizer: authorizer,
	}
}

func (r *apiRig) get(path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	r.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestRootWithoutRoomID(t *testing.T) {
	rig := newAPIRig(t, nil)

	rec := rig.get("/")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Not Found", rec.Body.String())
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRootAuthorizesUser(t *testing.T) {
	rig := newAPIRig(t, nil)

	rec := rig.get("/?roomId=room-1&userId=user-42&username=alice")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `{"token":"signed-token"}`, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	require.Len(t, rig.authorizer.requests, 1)
	req := rig.authorizer.requests[0]
	assert.Equal(t, "room-1", req.Room)
	assert.Equal(t, "user-42", req.UserID)
	assert.Equal(t, "alice", req.UserInfo.Username)
	assert.False(t, req.UserInfo.Bot)

	// No session is spun up on the authorization path
	assert.Equal(t, 0, rig.client.enterCount())
}

func TestRootAuthorizeDefaultsUsername(t *testing.T) {
	rig := newAPIRig(t, nil)

	rec := rig.get("/?roomId=room-1&userId=user-42")
	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, rig.authorizer.requests, 1)
	assert.Equal(t, "anonymous", rig.authorizer.requests[0].UserInfo.Username)
}

func TestRootAuthorizeFailure(t *testing.T) {
	rig := newAPIRig(t, nil)
	rig.authorizer.err = fmt.Errorf("provider down")

	rec := rig.get("/?roomId=room-1&userId=user-42")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRootEnsuresSession(t *testing.T) {
	rig := newAPIRig(t, nil)

	rec := rig.get("/?roomId=room-1")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Ok", rec.Body.String())
	assert.Equal(t, 1, rig.client.enterCount())

	// Repeated pings reuse the live session
	rec = rig.get("/?roomId=room-1")
	assert.Equal(t, "Ok", rec.Body.String())
	assert.Equal(t, 1, rig.client.enterCount())
}

func TestRootSessionFailureStillOk(t *testing.T) {
	rig := newAPIRig(t, nil)
	rig.authorizer.err = fmt.Errorf("provider down")

	// Bot authorization failing is logged, not surfaced to the pinger
	rec := rig.get("/?roomId=room-1")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Ok", rec.Body.String())
}

func TestHealth(t *testing.T) {
	rig := newAPIRig(t, nil)

	rec := rig.get("/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestRooms(t *testing.T) {
	rig := newAPIRig(t, nil)
	rig.get("/?roomId=room-b")
	rig.get("/?roomId=room-a")

	rec := rig.get("/api/rooms")
	assert.Equal(t, http.StatusOK, rec.Code)

	var payload struct {
		Rooms []relay.RoomStatus `json:"rooms"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.Len(t, payload.Rooms, 2)
	assert.Equal(t, "room-a", payload.Rooms[0].RoomID)
	assert.Equal(t, "room-b", payload.Rooms[1].RoomID)
}

func TestRoomEvents(t *testing.T) {
	reader := &stubEventReader{events: []*sqlite.SessionEvent{
		{ID: 2, RoomID: "room-1", Event: "connected", CreatedAt: time.Now().UTC()},
		{ID: 1, RoomID: "room-1", Event: "session_created", CreatedAt: time.Now().UTC()},
	}}
	rig := newAPIRig(t, reader)

	rec := rig.get("/api/rooms/room-1/events")
	assert.Equal(t, http.StatusOK, rec.Code)

	var payload struct {
		RoomID string                 `json:"room_id"`
		Events []*sqlite.SessionEvent `json:"events"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, "room-1", payload.RoomID)
	require.Len(t, payload.Events, 2)
	assert.Equal(t, "connected", payload.Events[0].Event)
}

func TestRoomEventsStorageDisabled(t *testing.T) {
	rig := newAPIRig(t, nil)

	rec := rig.get("/api/rooms/room-1/events")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	rig := newAPIRig(t, nil)

	rec := rig.get("/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPreflight(t *testing.T) {
	rig := newAPIRig(t, nil)

	rec := httptest.NewRecorder()
	rig.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
