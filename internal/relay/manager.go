package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/avask/liverelay/internal/ai"
	"github.com/avask/liverelay/internal/auth"
	"github.com/avask/liverelay/internal/config"
	"github.com/avask/liverelay/internal/live"
	"github.com/avask/liverelay/internal/observability"
	"github.com/avask/liverelay/pkg/logger"
)

// Authorizer mints room tokens for the bot identity
type Authorizer interface {
	Authorize(ctx context.Context, room, userID string, userInfo auth.UserInfo) (*auth.TokenResponse, error)
}

// EventRecorder receives session lifecycle events for audit storage.
// Implementations must not block; recording failures are theirs to log.
type EventRecorder interface {
	RecordEvent(roomID, event, detail string)
}

// Lifecycle event names passed to the EventRecorder
const (
	EventSessionCreated  = "session_created"
	EventConnected       = "connected"
	EventReconnectFailed = "reconnect_failed"
	EventReinitialized   = "reinitialized"
	EventLeftInactive    = "left_inactive"
	EventLeftShutdown    = "left_shutdown"
)

// Manager owns the bot session for exactly one room. At any moment it holds at
// most one live session handle and at most one armed inactivity timer; every
// guard runs under the same mutex so concurrent triggers collapse into one
// decision.
type Manager struct {
	roomID     string
	client     live.Client
	authorizer Authorizer
	generator  ai.ChatProvider
	genConfig  ai.ChatConfig
	genTimeout time.Duration
	botConfig  config.BotConfig
	logger     *logger.Logger
	metrics    *observability.Metrics
	recorder   EventRecorder

	mu          sync.Mutex
	room        live.Room
	leaveTimer  *time.Timer
	othersCount int
}

// NewManager creates a manager for one room. recorder may be nil.
func NewManager(
	roomID string,
	client live.Client,
	authorizer Authorizer,
	generator ai.ChatProvider,
	cfg *config.Config,
	log *logger.Logger,
	metrics *observability.Metrics,
	recorder EventRecorder,
) *Manager {
	return &Manager{
		roomID:     roomID,
		client:     client,
		authorizer: authorizer,
		generator:  generator,
		genConfig: ai.ChatConfig{
			Model:       cfg.OpenAI.Model,
			Temperature: cfg.OpenAI.Temperature,
			MaxTokens:   cfg.OpenAI.MaxTokens,
		},
		genTimeout: time.Duration(cfg.OpenAI.TimeoutSeconds) * time.Second,
		botConfig:  cfg.Bot,
		logger:     log.Named("relay").With(logger.String("room_id", roomID)),
		metrics:    metrics,
		recorder:   recorder,
	}
}

// RoomID returns the room this manager serves
func (m *Manager) RoomID() string {
	return m.roomID
}

// Status reports the current session status, or disconnected when no session
// exists.
func (m *Manager) Status() live.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.room == nil {
		return live.StatusDisconnected
	}
	return m.room.Status()
}

// OthersCount returns the most recently observed number of other participants
func (m *Manager) OthersCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.othersCount
}

// EnsureSession makes sure a live bot session exists for the room. It is
// idempotent: when a session is already present and not disconnected it does
// nothing. A disconnected leftover handle is discarded and replaced. The guard
// and the handle swap happen under one lock, so two concurrent calls can never
// both construct a session.
func (m *Manager) EnsureSession(ctx context.Context) error {
	_, err := m.ensure(ctx)
	return err
}

// ensure reports whether a new session was actually constructed
func (m *Manager) ensure(ctx context.Context) (bool, error) {
	m.mu.Lock()

	if m.room != nil && m.room.Status() != live.StatusDisconnected {
		m.mu.Unlock()
		m.logger.Debug("Session already active, nothing to do")
		return false, nil
	}

	if m.room != nil {
		m.logger.Info("Discarding disconnected session before creating a new one")
		m.room = nil
	}
	// A timer armed for a discarded session must not block re-arming
	if m.leaveTimer != nil {
		m.leaveTimer.Stop()
		m.leaveTimer = nil
	}

	token, err := m.authorizeBot(ctx)
	if err != nil {
		m.mu.Unlock()
		return false, fmt.Errorf("failed to authorize bot for room %s: %w", m.roomID, err)
	}

	room, err := m.client.Enter(ctx, m.roomID, live.EnterOptions{
		Token:           token,
		InitialPresence: live.Presence{IsTyping: false},
	})
	if err != nil {
		m.mu.Unlock()
		return false, fmt.Errorf("failed to enter room %s: %w", m.roomID, err)
	}
	m.room = room
	m.mu.Unlock()

	m.subscribe(room)
	room.Connect()

	m.logger.Info("Session created")
	m.record(EventSessionCreated, "")
	m.metrics.SessionEvents.WithLabelValues(EventSessionCreated).Inc()
	return true, nil
}

// Shutdown leaves the room if a session is live
func (m *Manager) Shutdown() {
	m.mu.Lock()
	room := m.room
	m.room = nil
	if m.leaveTimer != nil {
		m.leaveTimer.Stop()
		m.leaveTimer = nil
	}
	m.mu.Unlock()

	if room != nil {
		room.Leave()
		m.record(EventLeftShutdown, "")
	}
}

func (m *Manager) authorizeBot(ctx context.Context) (string, error) {
	res, err := m.authorizer.Authorize(ctx, m.roomID, auth.BotUserID(m.roomID), auth.UserInfo{
		Username: m.botConfig.Username,
		Bot:      true,
	})
	if err != nil {
		return "", err
	}
	return res.Token(), nil
}

// subscribe installs all four handlers on a freshly entered room. Each handler
// closes over its own room handle so signals from superseded sessions can be
// told apart from the current one.
func (m *Manager) subscribe(room live.Room) {
	room.SubscribeOthers(func(others []live.User) {
		m.handleOthers(room, others)
	})
	room.SubscribeEvents(func(event live.Event) {
		m.handleEvent(room, event)
	})
	// Transport dispatches status transitions serially per room, so this
	// flag needs no lock. It keeps a session that never connected from
	// decrementing the active gauge on its way out.
	var wasConnected bool
	room.SubscribeStatus(func(status live.Status) {
		m.handleStatus(room, status, &wasConnected)
	})
	room.SubscribeLostConnection(func(event live.LostEvent) {
		m.handleLostConnection(room, event)
	})
}

// handleOthers arms the inactivity timer when the room empties and disarms it
// when anyone is present. The timer check-and-set is atomic with the update of
// the participant count, and successive empty notifications never stack a
// second timer.
func (m *Manager) handleOthers(room live.Room, others []live.User) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.othersCount = len(others)

	if len(others) < 1 {
		if m.leaveTimer != nil {
			// Already counting down
			return
		}
		m.logger.Info("Room is empty, arming inactivity timer",
			logger.Duration("timeout", m.botConfig.InactivityTimeout()))
		m.leaveTimer = time.AfterFunc(m.botConfig.InactivityTimeout(), func() {
			m.leaveIdle(room)
		})
		return
	}

	if m.leaveTimer != nil {
		m.logger.Info("Participants present, disarming inactivity timer",
			logger.Int("others", len(others)))
		m.leaveTimer.Stop()
		m.leaveTimer = nil
	}
}

// leaveIdle fires when the inactivity timer expires. A timer that lost the
// disarm race or belongs to a superseded session does nothing.
func (m *Manager) leaveIdle(room live.Room) {
	m.mu.Lock()
	if m.leaveTimer == nil || m.room != room {
		m.mu.Unlock()
		return
	}
	m.leaveTimer = nil
	m.room = nil
	m.mu.Unlock()

	m.logger.Info("Room stayed empty, leaving")
	room.Leave()
	m.record(EventLeftInactive, "")
	m.metrics.SessionEvents.WithLabelValues(EventLeftInactive).Inc()
}

// handleEvent reacts to chat messages. Both reply rules are evaluated for
// every message: a command reply and a lonely-user reply can both fire on the
// same event.
func (m *Manager) handleEvent(room live.Room, event live.Event) {
	if event.Type != live.EventTypeMessage {
		return
	}
	// Never respond to our own broadcasts
	if event.Data.Username == m.botConfig.Username {
		return
	}

	// Participant count at receipt time, so rule two is not skewed by joins
	// or leaves that happen while rule one is generating.
	othersAtReceipt := len(room.Others())

	text := event.Data.Text
	m.logger.Debug("Message received",
		logger.String("username", event.Data.Username),
		logger.Int("others", othersAtReceipt))

	if strings.HasPrefix(text, m.botConfig.CommandPrefix) {
		instruction := strings.TrimPrefix(text, m.botConfig.CommandPrefix)
		m.reply(room, []ai.ChatMessage{
			{Role: "user", Content: instruction},
		})
	}

	if othersAtReceipt == 1 {
		m.reply(room, []ai.ChatMessage{
			{Role: "user", Content: m.botConfig.LonelyUserPrompt},
			{Role: "user", Content: text},
		})
	}
}

// reply generates one bot message and broadcasts it. The typing indicator is
// raised before the generation call and always cleared before returning. A
// malformed or empty generation result falls back to a fixed reply; a failed
// call is logged and produces no broadcast at all.
func (m *Manager) reply(room live.Room, turns []ai.ChatMessage) {
	if err := room.UpdatePresence(live.Presence{IsTyping: true}); err != nil {
		m.logger.Warn("Failed to publish typing presence", logger.Error(err))
	}
	defer func() {
		if err := room.UpdatePresence(live.Presence{IsTyping: false}); err != nil {
			m.logger.Warn("Failed to clear typing presence", logger.Error(err))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), m.genTimeout)
	defer cancel()

	text, err := m.generator.ChatCompletion(ctx, turns, m.genConfig)
	switch {
	case errors.Is(err, ai.ErrMalformed):
		m.logger.Warn("Generation response malformed, using fallback reply")
		m.metrics.GenerationRequests.WithLabelValues("malformed").Inc()
		text = m.botConfig.FallbackReply
	case err != nil:
		m.logger.Error("Generation call failed", logger.Error(err))
		m.metrics.GenerationRequests.WithLabelValues("failed").Inc()
		return
	case strings.TrimSpace(text) == "":
		m.logger.Warn("Generation returned empty text, using fallback reply")
		m.metrics.GenerationRequests.WithLabelValues("malformed").Inc()
		text = m.botConfig.FallbackReply
	default:
		m.metrics.GenerationRequests.WithLabelValues("ok").Inc()
	}

	if err := room.BroadcastEvent(live.Event{
		Type: live.EventTypeMessage,
		Data: live.ChatMessage{Text: text, Username: m.botConfig.Username},
	}); err != nil {
		m.logger.Error("Failed to broadcast reply", logger.Error(err))
	}
}

// handleStatus announces the bot's arrival once the session connects
func (m *Manager) handleStatus(room live.Room, status live.Status, wasConnected *bool) {
	switch status {
	case live.StatusConnected:
		*wasConnected = true
		m.logger.Info("Session connected")
		m.record(EventConnected, "")
		m.metrics.SessionEvents.WithLabelValues(EventConnected).Inc()
		m.metrics.ActiveSessions.Inc()
		if err := room.BroadcastEvent(live.Event{
			Type: live.EventTypeMessage,
			Data: live.ChatMessage{Text: m.botConfig.JoinAnnouncement, Username: m.botConfig.Username},
		}); err != nil {
			m.logger.Warn("Failed to broadcast join announcement", logger.Error(err))
		}
	case live.StatusDisconnected:
		m.logger.Debug("Session disconnected")
		if *wasConnected {
			*wasConnected = false
			m.metrics.ActiveSessions.Dec()
		}
	default:
		m.logger.Debug("Connection status changed", logger.String("status", string(status)))
	}
}

// handleLostConnection logs recoverable loss phases and rebuilds the session
// when the transport gives up. Rebuilding goes through the same guard as
// ensure: a stale failed signal arriving while a healthy session exists is a
// no-op, because that session does not report disconnected.
func (m *Manager) handleLostConnection(room live.Room, event live.LostEvent) {
	switch event {
	case live.LostEventLost:
		m.logger.Warn("Connection lost, transport is retrying")
	case live.LostEventRestored:
		m.logger.Info("Connection restored")
	case live.LostEventFailed:
		m.logger.Error("Connection could not be restored, reinitializing session")
		m.record(EventReconnectFailed, "")
		m.metrics.SessionEvents.WithLabelValues(EventReconnectFailed).Inc()
		m.metrics.ReconnectFailures.Inc()

		created, err := m.ensure(context.Background())
		if err != nil {
			m.logger.Error("Failed to reinitialize session", logger.Error(err))
			return
		}
		if !created {
			m.logger.Debug("Healthy session already in place, not reinitializing")
			return
		}
		m.record(EventReinitialized, "")
		m.metrics.SessionEvents.WithLabelValues(EventReinitialized).Inc()
	}
}

func (m *Manager) record(event, detail string) {
	if m.recorder == nil {
		return
	}
	m.recorder.RecordEvent(m.roomID, event, detail)
}
