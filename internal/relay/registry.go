package relay

import (
	"sort"
	"sync"

	"github.com/avask/liverelay/internal/ai"
	"github.com/avask/liverelay/internal/config"
	"github.com/avask/liverelay/internal/live"
	"github.com/avask/liverelay/internal/observability"
	"github.com/avask/liverelay/pkg/logger"
)

// Registry hands out the single Manager for each room id, creating it on
// first use. Managers live for the lifetime of the process; the per-room
// session inside them comes and goes.
type Registry struct {
	client     live.Client
	authorizer Authorizer
	generator  ai.ChatProvider
	cfg        *config.Config
	logger     *logger.Logger
	metrics    *observability.Metrics
	recorder   EventRecorder

	mu       sync.Mutex
	managers map[string]*Manager
}

// NewRegistry creates the room manager registry. recorder may be nil.
func NewRegistry(
	client live.Client,
	authorizer Authorizer,
	generator ai.ChatProvider,
	cfg *config.Config,
	log *logger.Logger,
	metrics *observability.Metrics,
	recorder EventRecorder,
) *Registry {
	return &Registry{
		client:     client,
		authorizer: authorizer,
		generator:  generator,
		cfg:        cfg,
		logger:     log,
		metrics:    metrics,
		recorder:   recorder,
		managers:   make(map[string]*Manager),
	}
}

// Manager returns the manager for the given room, creating it if needed
func (r *Registry) Manager(roomID string) *Manager {
	r.mu.Lock()
	defer r.mu.Unlock()

	if m, ok := r.managers[roomID]; ok {
		return m
	}
	m := NewManager(roomID, r.client, r.authorizer, r.generator, r.cfg, r.logger, r.metrics, r.recorder)
	r.managers[roomID] = m
	return m
}

// RoomStatus is a point-in-time view of one room's session for the status API
type RoomStatus struct {
	RoomID      string `json:"room_id"`
	Status      string `json:"status"`
	OthersCount int    `json:"others_count"`
}

// Snapshot returns the state of every known room, sorted by room id
func (r *Registry) Snapshot() []RoomStatus {
	r.mu.Lock()
	managers := make([]*Manager, 0, len(r.managers))
	for _, m := range r.managers {
		managers = append(managers, m)
	}
	r.mu.Unlock()

	out := make([]RoomStatus, 0, len(managers))
	for _, m := range managers {
		out = append(out, RoomStatus{
			RoomID:      m.RoomID(),
			Status:      string(m.Status()),
			OthersCount: m.OthersCount(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RoomID < out[j].RoomID })
	return out
}

// Shutdown leaves every live room session
func (r *Registry) Shutdown() {
	r.mu.Lock()
	managers := make([]*Manager, 0, len(r.managers))
	for _, m := range r.managers {
		managers = append(managers, m)
	}
	r.mu.Unlock()

	for _, m := range managers {
		m.Shutdown()
	}
}
