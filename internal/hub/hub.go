// Package hub manages live WebSocket subscriber connections, their
// channel memberships and broadcast delivery.
package hub

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// Hub is the channel registry. Membership maps are mutated only by
// connection lifecycle events and by subscribe/unsubscribe requests
// from the owning connection.
type Hub struct {
	mu       sync.RWMutex
	clients  map[*Client]bool
	channels map[string]map[*Client]bool
	logger   *slog.Logger
}

// NewHub returns an empty registry.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:  make(map[*Client]bool),
		channels: make(map[string]map[*Client]bool),
		logger:   logger.With("component", "hub"),
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c] = true
	total := len(h.clients)
	h.mu.Unlock()

	h.logger.Info("Client connected", "connectionID", c.ID, "userID", c.UserID, "clients", total)
}

// unregister drops the client from every channel and from the client
// set. Safe to call more than once.
func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	for name, members := range h.channels {
		delete(members, c)
		if len(members) == 0 {
			delete(h.channels, name)
		}
	}
	total := len(h.clients)
	h.mu.Unlock()

	h.logger.Info("Client disconnected", "connectionID", c.ID, "clients", total)
}

// Subscribe adds the client to a channel. Returns false without
// side effects when the client is already a member. The channel name
// must have been validated by the caller.
func (h *Hub) Subscribe(c *Client, channel string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	members, ok := h.channels[channel]
	if !ok {
		members = make(map[*Client]bool)
		h.channels[channel] = members
	}
	if members[c] {
		return false
	}
	members[c] = true
	return true
}

// Unsubscribe removes the client from a channel. Returns false when
// the client was not a member.
func (h *Hub) Unsubscribe(c *Client, channel string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	members, ok := h.channels[channel]
	if !ok || !members[c] {
		return false
	}
	delete(members, c)
	if len(members) == 0 {
		delete(h.channels, channel)
	}
	return true
}

// UnsubscribeAll removes the client from every channel. Called
// unconditionally on disconnect.
func (h *Hub) UnsubscribeAll(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for name, members := range h.channels {
		delete(members, c)
		if len(members) == 0 {
			delete(h.channels, name)
		}
	}
}

// Broadcast serializes the message once and sends it to every open
// member of the channel. Delivery is best-effort: clients with a full
// send buffer are skipped and scheduled for closure, and one failed
// delivery never aborts the rest. Returns the delivered count.
func (h *Hub) Broadcast(channel string, msg Message) int {
	payload, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("Failed to marshal broadcast", "channel", channel, "error", err)
		return 0
	}

	h.mu.RLock()
	members := make([]*Client, 0, len(h.channels[channel]))
	for c := range h.channels[channel] {
		members = append(members, c)
	}
	h.mu.RUnlock()

	delivered := 0
	var slow []*Client
	for _, c := range members {
		if c.trySend(payload) {
			delivered++
		} else {
			slow = append(slow, c)
		}
	}

	// Closing happens outside the membership iteration so the maps
	// are only mutated through the normal lifecycle path.
	for _, c := range slow {
		h.logger.Warn("Dropping slow client", "connectionID", c.ID, "channel", channel)
		c.close()
	}
	return delivered
}

// Stats returns the subscriber count per channel.
func (h *Hub) Stats() map[string]int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	stats := make(map[string]int, len(h.channels))
	for name, members := range h.channels {
		stats[name] = len(members)
	}
	return stats
}

// ClientCount returns the number of live connections.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Channels returns the channel names the client is currently in.
func (h *Hub) Channels(c *Client) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var names []string
	for name, members := range h.channels {
		if members[c] {
			names = append(names, name)
		}
	}
	return names
}
