package live

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/avask/liverelay/pkg/logger"
)

// TokenFunc mints a fresh room token. The driver calls it when re-dialing
// after a dropped connection so reconnects do not reuse an expired token.
type TokenFunc func(ctx context.Context, roomID string) (string, error)

// WSClientConfig holds websocket transport settings
type WSClientConfig struct {
	// WebsocketBaseURL is the provider's websocket endpoint, e.g. wss://host
	WebsocketBaseURL string

	// RoomPath is the path prefix rooms hang off of; the room id is appended
	RoomPath string

	// ReconnectInterval is the pause between reconnect attempts
	ReconnectInterval time.Duration

	// MaxReconnectAttempts bounds the retry loop before the connection is
	// reported as failed
	MaxReconnectAttempts int
}

// WSClient joins provider rooms over websocket. It implements Client.
type WSClient struct {
	cfg    WSClientConfig
	token  TokenFunc
	logger *logger.Logger
	dialer *websocket.Dialer
}

// NewWSClient creates a websocket room client. token may be nil, in which case
// reconnects reuse the token passed to Enter.
func NewWSClient(cfg WSClientConfig, token TokenFunc, log *logger.Logger) *WSClient {
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = 2 * time.Second
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = 5
	}
	return &WSClient{
		cfg:    cfg,
		token:  token,
		logger: log.Named("live"),
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

// Enter constructs a session handle for the given room. The connection is not
// started until Connect is called on the returned Room.
func (c *WSClient) Enter(ctx context.Context, roomID string, opts EnterOptions) (Room, error) {
	if roomID == "" {
		return nil, fmt.Errorf("roomID is required")
	}
	if opts.Token == "" {
		return nil, fmt.Errorf("token is required")
	}

	roomCtx, cancel := context.WithCancel(context.Background())
	id := uuid.New().String()
	r := &wsRoom{
		id:      id,
		roomID:  roomID,
		client:  c,
		token:   opts.Token,
		initial: opts.InitialPresence,
		status:  StatusConnecting,
		ctx:     roomCtx,
		cancel:  cancel,
		logger: c.logger.With(
			logger.String("room_id", roomID),
			logger.String("session_id", id[:8])),
	}
	return r, nil
}

// frame is the wire envelope for room traffic in both directions
type frame struct {
	Type  string          `json:"type"`
	Data  json.RawMessage `json:"data,omitempty"`
	Event *Event          `json:"event,omitempty"`
}

// wsRoom is one live websocket session onto one room
type wsRoom struct {
	id      string
	roomID  string
	client  *WSClient
	token   string
	initial Presence
	logger  *logger.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	conn    *websocket.Conn
	status  Status
	others  []User
	leaving bool

	// connectOnce guards the run goroutine, dispatchedJoined guards the
	// single "connected" status dispatch per session handle
	connectOnce      sync.Once
	dispatchedJoined bool

	handlersMu      sync.RWMutex
	othersHandlers  []OthersHandler
	eventHandlers   []EventHandler
	statusHandlers  []StatusHandler
	lostHandlers    []LostConnectionHandler
}

func (r *wsRoom) Connect() {
	r.connectOnce.Do(func() {
		go r.run()
	})
}

func (r *wsRoom) SubscribeOthers(h OthersHandler) {
	r.handlersMu.Lock()
	r.othersHandlers = append(r.othersHandlers, h)
	r.handlersMu.Unlock()
}

func (r *wsRoom) SubscribeEvents(h EventHandler) {
	r.handlersMu.Lock()
	r.eventHandlers = append(r.eventHandlers, h)
	r.handlersMu.Unlock()
}

func (r *wsRoom) SubscribeStatus(h StatusHandler) {
	r.handlersMu.Lock()
	r.statusHandlers = append(r.statusHandlers, h)
	r.handlersMu.Unlock()
}

func (r *wsRoom) SubscribeLostConnection(h LostConnectionHandler) {
	r.handlersMu.Lock()
	r.lostHandlers = append(r.lostHandlers, h)
	r.handlersMu.Unlock()
}

func (r *wsRoom) Others() []User {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]User, len(r.others))
	copy(out, r.others)
	return out
}

func (r *wsRoom) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

func (r *wsRoom) UpdatePresence(presence Presence) error {
	data, err := json.Marshal(presence)
	if err != nil {
		return err
	}
	return r.writeFrame(frame{Type: "presence", Data: data})
}

func (r *wsRoom) BroadcastEvent(event Event) error {
	return r.writeFrame(frame{Type: "broadcast", Event: &event})
}

// Leave closes the session. Safe to call more than once.
func (r *wsRoom) Leave() {
	r.mu.Lock()
	if r.leaving {
		r.mu.Unlock()
		return
	}
	r.leaving = true
	conn := r.conn
	r.mu.Unlock()

	if conn != nil {
		// Best-effort goodbye so the provider drops presence immediately
		// instead of waiting for its own timeout.
		deadline := time.Now().Add(2 * time.Second)
		_ = conn.SetWriteDeadline(deadline)
		_ = conn.WriteJSON(frame{Type: "leave"})
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		_ = conn.Close()
	}
	r.cancel()
	r.setStatus(StatusDisconnected)
}

// run drives the connection lifecycle: dial, pump, reconnect, give up.
func (r *wsRoom) run() {
	if err := r.dial(r.token); err != nil {
		r.logger.Warn("Initial room dial failed", logger.Error(err))
		if !r.reconnect() {
			// The handle must report disconnected before the failed signal
			// goes out, so the rebuild path sees it as discardable.
			r.setStatus(StatusDisconnected)
			r.emitLost(LostEventFailed)
			return
		}
	}
	r.markConnected()

	for {
		err := r.readLoop()
		if r.isLeaving() || r.ctx.Err() != nil {
			r.setStatus(StatusDisconnected)
			return
		}
		r.logger.Warn("Room connection dropped", logger.Error(err))
		r.emitLost(LostEventLost)
		if !r.reconnect() {
			// The handle must report disconnected before the failed signal
			// goes out, so the rebuild path sees it as discardable.
			r.setStatus(StatusDisconnected)
			r.emitLost(LostEventFailed)
			return
		}
		r.emitLost(LostEventRestored)
	}
}

func (r *wsRoom) dial(token string) error {
	wsURL := strings.TrimRight(r.client.cfg.WebsocketBaseURL, "/") +
		r.client.cfg.RoomPath + "/" + r.roomID + "?token=" + token

	conn, _, err := r.client.dialer.DialContext(r.ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", r.roomID, err)
	}

	r.mu.Lock()
	r.conn = conn
	r.mu.Unlock()

	if err := r.UpdatePresence(r.initial); err != nil {
		r.logger.Warn("Failed to publish initial presence", logger.Error(err))
	}
	return nil
}

// reconnect retries the dial with a fresh token until it succeeds or the
// attempt budget runs out. Returns true when a connection is back up.
func (r *wsRoom) reconnect() bool {
	for attempt := 1; attempt <= r.client.cfg.MaxReconnectAttempts; attempt++ {
		select {
		case <-r.ctx.Done():
			return false
		case <-time.After(r.client.cfg.ReconnectInterval):
		}

		token := r.token
		if r.client.token != nil {
			fresh, err := r.client.token(r.ctx, r.roomID)
			if err != nil {
				r.logger.Warn("Token refresh failed, reusing previous token",
					logger.Error(err),
					logger.Int("attempt", attempt))
			} else {
				token = fresh
				r.token = fresh
			}
		}

		if err := r.dial(token); err != nil {
			r.logger.Warn("Reconnect attempt failed",
				logger.Int("attempt", attempt),
				logger.Int("max_attempts", r.client.cfg.MaxReconnectAttempts),
				logger.Error(err))
			continue
		}
		r.logger.Info("Reconnected to room", logger.Int("attempt", attempt))
		return true
	}
	return false
}

// readLoop pumps inbound frames until the connection errors out
func (r *wsRoom) readLoop() error {
	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("no connection")
	}

	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			return err
		}

		switch f.Type {
		case "others":
			var users []User
			if err := json.Unmarshal(f.Data, &users); err != nil {
				r.logger.Warn("Undecodable others frame", logger.Error(err))
				continue
			}
			r.mu.Lock()
			r.others = users
			r.mu.Unlock()
			r.emitOthers(users)
		case "event":
			if f.Event == nil {
				continue
			}
			// Event handlers can sit in slow generation calls; they must not
			// stall the read pump. Roster and status dispatch stay in-order
			// on this goroutine.
			go r.emitEvent(*f.Event)
		default:
			// Frame types we do not consume (storage updates, presence
			// echoes) are dropped on the floor.
		}
	}
}

func (r *wsRoom) writeFrame(f frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil || r.leaving {
		return fmt.Errorf("room %s is not connected", r.roomID)
	}
	_ = r.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return r.conn.WriteJSON(f)
}

// markConnected dispatches the connected status exactly once per handle.
// Later recoveries are reported through the lost-connection subscription.
func (r *wsRoom) markConnected() {
	r.mu.Lock()
	first := !r.dispatchedJoined
	r.dispatchedJoined = true
	r.status = StatusConnected
	r.mu.Unlock()
	if first {
		r.emitStatus(StatusConnected)
	}
}

func (r *wsRoom) setStatus(status Status) {
	r.mu.Lock()
	if r.status == status {
		r.mu.Unlock()
		return
	}
	r.status = status
	r.mu.Unlock()
	r.emitStatus(status)
}

func (r *wsRoom) isLeaving() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leaving
}

func (r *wsRoom) emitOthers(users []User) {
	r.handlersMu.RLock()
	handlers := r.othersHandlers
	r.handlersMu.RUnlock()
	for _, h := range handlers {
		h(users)
	}
}

func (r *wsRoom) emitEvent(event Event) {
	r.handlersMu.RLock()
	handlers := r.eventHandlers
	r.handlersMu.RUnlock()
	for _, h := range handlers {
		h(event)
	}
}

func (r *wsRoom) emitStatus(status Status) {
	r.handlersMu.RLock()
	handlers := r.statusHandlers
	r.handlersMu.RUnlock()
	for _, h := range handlers {
		h(status)
	}
}

func (r *wsRoom) emitLost(event LostEvent) {
	r.handlersMu.RLock()
	handlers := r.lostHandlers
	r.handlersMu.RUnlock()
	for _, h := range handlers {
		h(event)
	}
}
