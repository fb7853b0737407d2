package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/avask/liverelay/internal/auth"
	"github.com/avask/liverelay/internal/config"
	"github.com/avask/liverelay/internal/relay"
	"github.com/avask/liverelay/internal/storage/sqlite"
	"github.com/avask/liverelay/pkg/logger"
)

// Registry is the slice of the room registry the handlers need
type Registry interface {
	Manager(roomID string) *relay.Manager
	Snapshot() []relay.RoomStatus
}

// Authorizer mints room tokens for human participants
type Authorizer interface {
	Authorize(ctx context.Context, room, userID string, userInfo auth.UserInfo) (*auth.TokenResponse, error)
}

// EventReader exposes the session event audit log. Nil when storage is off.
type EventReader interface {
	GetEvents(roomID string, limit int) ([]*sqlite.SessionEvent, error)
}

// Handlers holds the HTTP handlers and their dependencies
type Handlers struct {
	cfg        *config.Config
	registry   Registry
	authorizer Authorizer
	events     EventReader
	logger     *logger.Logger
}

// HandleRoot is the single ingress endpoint the room clients hit.
//
// Contract:
//   - no roomId        -> 404 "Not Found"
//   - roomId + userId  -> authorize that user, return the token body verbatim
//   - roomId only      -> make sure the bot session exists, return "Ok"
func (h *Handlers) HandleRoot(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	roomID := q.Get("roomId")
	if roomID == "" {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("Not Found"))
		return
	}

	if userID := q.Get("userId"); userID != "" {
		username := q.Get("username")
		if username == "" {
			username = "anonymous"
		}

		res, err := h.authorizer.Authorize(r.Context(), roomID, userID, auth.UserInfo{
			Username: username,
		})
		if err != nil {
			h.logger.Error("User authorization failed",
				logger.String("room_id", roomID),
				logger.String("user_id", userID),
				logger.Error(err))
			http.Error(w, "Failed to authorize", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(res.Body))
		return
	}

	// A wake-up ping for the room. Session construction failures are logged
	// but not surfaced; the next ping retries.
	if err := h.registry.Manager(roomID).EnsureSession(r.Context()); err != nil {
		h.logger.Error("Failed to ensure room session",
			logger.String("room_id", roomID),
			logger.Error(err))
	}
	w.Write([]byte("Ok"))
}

// HandleHealth reports liveness
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleRooms returns the status of every room the relay has seen
func (h *Handlers) HandleRooms(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"rooms": h.registry.Snapshot(),
	})
}

// HandleRoomEvents returns the recent session lifecycle events for one room
func (h *Handlers) HandleRoomEvents(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		http.Error(w, "Event storage is disabled", http.StatusNotFound)
		return
	}

	roomID := chi.URLParam(r, "roomID")
	events, err := h.events.GetEvents(roomID, h.cfg.Storage.MaxEventsInAPI)
	if err != nil {
		h.logger.Error("Failed to load session events",
			logger.String("room_id", roomID),
			logger.Error(err))
		http.Error(w, "Failed to load events", http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []*sqlite.SessionEvent{}
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"room_id": roomID,
		"events":  events,
	})
}

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("Failed to encode response", logger.Error(err))
	}
}
