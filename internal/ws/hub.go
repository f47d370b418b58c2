package ws

import (
	"log/slog"
	"sync"

	"github.com/tinymud/tinymud/internal/model"
)

// Hub fans broadcasts out to the sessions subscribed to one place.
// Subscriptions mutate the session map directly under the hub lock;
// only broadcasts go through the event loop. A closed hub refuses new
// subscriptions, so nothing can block on it after cleanup.
type Hub struct {
	address model.Address
	logger  *slog.Logger

	mu       sync.RWMutex
	closed   bool
	sessions map[*Session]bool

	broadcast chan []byte
	done      chan struct{}
}

// NewHub creates a hub for a place
func NewHub(address model.Address, logger *slog.Logger) *Hub {
	return &Hub{
		address:   address,
		logger:    logger.With(slog.String("place", string(address))),
		sessions:  make(map[*Session]bool),
		broadcast: make(chan []byte, 256),
		done:      make(chan struct{}),
	}
}

// Run starts the hub's event loop
func (h *Hub) Run() {
	for {
		select {
		case message := <-h.broadcast:
			h.mu.RLock()
			dropped := 0
			for sess := range h.sessions {
				if !sess.enqueue(message) {
					dropped++
				}
			}
			h.mu.RUnlock()
			if dropped > 0 {
				h.logger.Warn("broadcast partially dropped - slow clients",
					slog.Int("dropped", dropped))
			}

		case <-h.done:
			return
		}
	}
}

// Register subscribes a session to this place. Reports false once the
// hub is closed; the caller must obtain a live hub and retry.
func (h *Hub) Register(sess *Session) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.sessions[sess] = true
	h.logger.Debug("session subscribed", slog.Int("subscribers", len(h.sessions)))
	return true
}

// Unregister removes a session's subscription. No-op on a closed hub.
func (h *Hub) Unregister(sess *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	delete(h.sessions, sess)
	h.logger.Debug("session unsubscribed", slog.Int("subscribers", len(h.sessions)))
}

// Broadcast sends a message to all subscribed sessions
func (h *Hub) Broadcast(message []byte) {
	select {
	case h.broadcast <- message:
	default:
		h.logger.Warn("broadcast dropped - hub buffer full")
	}
}

// Close shuts down the hub and drops its subscriptions
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	h.sessions = make(map[*Session]bool)
	close(h.done)
}

// SubscriberCount returns the number of subscribed sessions
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// HubManager manages the hub for every place with subscribers.
// Subscribing and cleanup both run under the manager lock, so a hub
// handed to a subscriber is always live.
type HubManager struct {
	mu     sync.RWMutex
	hubs   map[model.Address]*Hub
	logger *slog.Logger
}

// NewHubManager creates a new HubManager
func NewHubManager(logger *slog.Logger) *HubManager {
	return &HubManager{
		hubs:   make(map[model.Address]*Hub),
		logger: logger.With(slog.String("component", "hub")),
	}
}

// GetOrCreateHub returns the hub for a place, creating one if needed
func (m *HubManager) GetOrCreateHub(addr model.Address) *Hub {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getOrCreateLocked(addr)
}

func (m *HubManager) getOrCreateLocked(addr model.Address) *Hub {
	if hub, ok := m.hubs[addr]; ok {
		return hub
	}
	hub := NewHub(addr, m.logger)
	m.hubs[addr] = hub
	go hub.Run()
	return hub
}

// Subscribe registers the session with the place's hub, creating the
// hub if needed. Runs under the manager lock so cleanup cannot close
// the hub between lookup and registration.
func (m *HubManager) Subscribe(addr model.Address, sess *Session) *Hub {
	m.mu.Lock()
	defer m.mu.Unlock()
	hub := m.getOrCreateLocked(addr)
	hub.Register(sess)
	return hub
}

// Unsubscribe removes the session from the place's hub, if one exists
func (m *HubManager) Unsubscribe(addr model.Address, sess *Session) {
	m.mu.RLock()
	hub := m.hubs[addr]
	m.mu.RUnlock()
	if hub != nil {
		hub.Unregister(sess)
	}
}

// GetHub returns the hub for a place, or nil if nobody subscribes to it
func (m *HubManager) GetHub(addr model.Address) *Hub {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.hubs[addr]
}

// CleanupEmptyHubs removes hubs with no subscribers
func (m *HubManager) CleanupEmptyHubs() {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for addr, hub := range m.hubs {
		if hub.SubscriberCount() == 0 {
			hub.Close()
			delete(m.hubs, addr)
			removed++
		}
	}
	if removed > 0 {
		m.logger.Info("empty hubs cleaned up", slog.Int("removed", removed))
	}
}
