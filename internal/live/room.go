package live

import "context"

// Status is the simplified connection state of a room session as observed by
// the relay. Loss phases (lost/restored/failed) travel on a separate
// subscription, mirroring how the upstream transport reports them.
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
)

// LostEvent is a connection-loss phase signal
type LostEvent string

const (
	// LostEventLost means the connection dropped and the transport is retrying
	LostEventLost LostEvent = "lost"
	// LostEventRestored means a retry succeeded
	LostEventRestored LostEvent = "restored"
	// LostEventFailed means the transport exhausted its retries
	LostEventFailed LostEvent = "failed"
)

// EventTypeMessage is the only broadcast event type the relay reacts to
const EventTypeMessage = "message"

// Presence is the ephemeral per-participant state published into a room
type Presence struct {
	IsTyping bool `json:"isTyping"`
}

// ChatMessage is the payload of a "message" broadcast event
type ChatMessage struct {
	Text     string `json:"text"`
	Username string `json:"username"`
}

// Event is a broadcast event flowing through a room
type Event struct {
	Type string      `json:"type"`
	Data ChatMessage `json:"data"`
}

// User describes another participant currently present in a room
type User struct {
	ID       string `json:"id"`
	Username string `json:"username,omitempty"`
	Bot      bool   `json:"bot,omitempty"`
}

// Handler types for room subscriptions
type (
	OthersHandler         func(others []User)
	EventHandler          func(event Event)
	StatusHandler         func(status Status)
	LostConnectionHandler func(event LostEvent)
)

// Room is a single session handle onto one room. Handlers are installed once
// after Enter and before Connect. Others, status, and lost-connection handlers
// are dispatched in order from the transport's own goroutine; event handlers
// may run concurrently, since they can block on slow downstream calls.
type Room interface {
	// Connect starts the connection. Called once, after subscriptions are
	// installed, so no transition is dispatched into an empty handler set.
	Connect()

	SubscribeOthers(OthersHandler)
	SubscribeEvents(EventHandler)
	SubscribeStatus(StatusHandler)
	SubscribeLostConnection(LostConnectionHandler)

	// Others returns the most recently observed set of other participants
	Others() []User

	// Status returns the current connection status
	Status() Status

	// UpdatePresence publishes the bot's presence state
	UpdatePresence(presence Presence) error

	// BroadcastEvent publishes a broadcast event into the room
	BroadcastEvent(event Event) error

	// Leave closes the session. The handle cannot be reused afterwards.
	Leave()
}

// EnterOptions carries the parameters for joining a room
type EnterOptions struct {
	// Token is the signed payload minted by the authorization collaborator
	Token string

	// InitialPresence is published as soon as the connection is up
	InitialPresence Presence
}

// Client creates room session handles. Enter constructs the handle without
// blocking on the connection outcome; all further behavior is event-driven.
type Client interface {
	Enter(ctx context.Context, roomID string, opts EnterOptions) (Room, error)
}
