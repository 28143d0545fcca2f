package usecases

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/samirrijal/bilbotrack/internal/core/domain"
	"github.com/samirrijal/bilbotrack/internal/core/ports"
	"github.com/samirrijal/bilbotrack/internal/pkg/metrics"
)

// Hub tracks channel membership and fans events out to sessions. It does
// no authorization; callers check access before Join.
type Hub struct {
	mu       sync.RWMutex
	channels map[string]map[string]ports.Session // channel -> session id -> session
	joined   map[string]map[string]struct{}      // session id -> channels
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{
		channels: make(map[string]map[string]ports.Session),
		joined:   make(map[string]map[string]struct{}),
	}
}

// Join adds a session to a channel, creating the channel if needed.
// Joining twice is a no-op.
func (h *Hub) Join(session ports.Session, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	members, ok := h.channels[channel]
	if !ok {
		members = make(map[string]ports.Session)
		h.channels[channel] = members
	}
	if _, ok := members[session.ID()]; ok {
		return
	}
	members[session.ID()] = session

	chans, ok := h.joined[session.ID()]
	if !ok {
		chans = make(map[string]struct{})
		h.joined[session.ID()] = chans
	}
	chans[channel] = struct{}{}
	metrics.ChannelMemberships.Inc()
}

// Leave removes a session from a channel. Leaving a channel the session is
// not in is a no-op. Empty channels are kept.
func (h *Hub) Leave(sessionID, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(sessionID, channel)
}

// LeaveAll removes a session from every channel it joined and returns how
// many memberships were dropped.
func (h *Hub) LeaveAll(sessionID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	chans := h.joined[sessionID]
	n := len(chans)
	for ch := range chans {
		h.leaveLocked(sessionID, ch)
	}
	delete(h.joined, sessionID)
	return n
}

func (h *Hub) leaveLocked(sessionID, channel string) {
	members, ok := h.channels[channel]
	if !ok {
		return
	}
	if _, ok := members[sessionID]; !ok {
		return
	}
	delete(members, sessionID)
	if chans, ok := h.joined[sessionID]; ok {
		delete(chans, channel)
		if len(chans) == 0 {
			delete(h.joined, sessionID)
		}
	}
	metrics.ChannelMemberships.Dec()
}

// Members returns the session IDs currently in a channel.
func (h *Hub) Members(channel string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]string, 0, len(h.channels[channel]))
	for id := range h.channels[channel] {
		out = append(out, id)
	}
	return out
}

// Channels returns the channels a session has joined.
func (h *Hub) Channels(sessionID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]string, 0, len(h.joined[sessionID]))
	for ch := range h.joined[sessionID] {
		out = append(out, ch)
	}
	return out
}

// Publish encodes event once and delivers it to every current member of
// channel. It implements ports.ChannelPublisher.
func (h *Hub) Publish(_ context.Context, channel string, event domain.ChannelEvent) error {
	event.Channel = channel
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", event.Type, err)
	}
	h.PublishRaw(channel, payload)
	return nil
}

// PublishRaw delivers an already-encoded payload and returns how many
// sessions accepted it. Delivery happens outside the lock and a session
// that refuses a payload never affects the others.
func (h *Hub) PublishRaw(channel string, payload []byte) int {
	h.mu.RLock()
	members := make([]ports.Session, 0, len(h.channels[channel]))
	for _, s := range h.channels[channel] {
		members = append(members, s)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, s := range members {
		if s.Deliver(payload) {
			delivered++
			metrics.BroadcastDelivered.Inc()
		} else {
			metrics.BroadcastDropped.Inc()
		}
	}
	return delivered
}
