// Miniflare-TRE - local development harness for the Cloudflare Workers runtime
// Copyright 2026 Miniflare-TRE contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cloudflare/miniflare-tre

package websocket

import (
	"context"
	"sort"
	"sync"

	"github.com/cloudflare/miniflare-tre/internal/logging"
)

// ShutdownReason identifies why the hub is shutting down.
type ShutdownReason string

const (
	// ShutdownReasonContextCanceled indicates the parent context was canceled.
	// This is the normal graceful shutdown path (e.g., SIGTERM).
	ShutdownReasonContextCanceled ShutdownReason = "context_canceled"

	// ShutdownReasonContextDeadline indicates the context deadline was exceeded.
	// This may indicate a hung operation during shutdown.
	ShutdownReasonContextDeadline ShutdownReason = "context_deadline"
)

// closeServiceRestart is the WebSocket close code used to signal a
// reconfiguration to live-reload subscribers. 1012 ("Service Restart") is
// not one of the codes gorilla/websocket names as a constant, so it's
// defined here.
const closeServiceRestart = 1012

const closeServiceRestartReason = "Service Restart"

// Hub maintains the set of live-reload subscriber connections and fans out
// a close-with-reload notification to all of them on reconfiguration.
//
// There is no broadcast payload: a live-reload subscriber only ever needs
// to know that a reload happened, which it learns from the connection
// closing with code 1012. The hub itself carries no other message types.
type Hub struct {
	clients    map[*Client]bool
	reload     chan struct{}
	Register   chan *Client
	Unregister chan *Client
	mu         sync.RWMutex
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		reload:     make(chan struct{}, 1),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
	}
}

// RunWithContext starts the hub with context support for graceful shutdown.
// This method is designed for use with suture supervision.
//
// When the context is canceled:
//  1. All connected clients are gracefully closed
//  2. The method returns ctx.Err()
//
// DETERMINISM: Uses priority-based selection to ensure predictable behavior:
//   - Priority 1: Context cancellation (shutdown)
//   - Priority 2: Client lifecycle events (Register/Unregister)
//   - Priority 3: Reload fan-out
func (h *Hub) RunWithContext(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.logGracefulShutdown(ctx)
			return ctx.Err()
		default:
		}

		select {
		case client := <-h.Register:
			h.addClient(client)
			continue
		case client := <-h.Unregister:
			h.removeClient(client)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			h.logGracefulShutdown(ctx)
			return ctx.Err()

		case client := <-h.Register:
			h.addClient(client)

		case client := <-h.Unregister:
			h.removeClient(client)

		case <-h.reload:
			h.fanOutReload()
		}
	}
}

func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	h.mu.Unlock()
	logging.Info().Int("total_clients", h.GetClientCount()).Msg("live-reload subscriber connected")
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	h.mu.Unlock()
	logging.Info().Int("total_clients", h.GetClientCount()).Msg("live-reload subscriber disconnected")
}

// logGracefulShutdown logs the shutdown with structured fields for observability.
func (h *Hub) logGracefulShutdown(ctx context.Context) {
	clientCount := h.GetClientCount()
	h.closeAllClients()
	reason := getShutdownReason(ctx)

	logging.Info().
		Str("component", "reload-hub").
		Str("reason", string(reason)).
		Int("clients_closed", clientCount).
		Msg("live-reload hub stopped")
}

// getShutdownReason determines the shutdown reason from the context error.
func getShutdownReason(ctx context.Context) ShutdownReason {
	switch ctx.Err() {
	case context.Canceled:
		return ShutdownReasonContextCanceled
	case context.DeadlineExceeded:
		return ShutdownReasonContextDeadline
	default:
		return ShutdownReasonContextCanceled
	}
}

// sortedClientsLocked returns the currently registered clients sorted by ID.
// Must be called with h.mu held.
func (h *Hub) sortedClientsLocked() []*Client {
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool {
		return clients[i].id < clients[j].id
	})
	return clients
}

// fanOutReload closes every connected subscriber with code 1012 ("Service
// Restart"), closes its send channel so its writePump exits, and clears
// the client set. Per the supersede-reload invariant,
// this is only ever called once per successful, non-superseded
// reconfiguration.
func (h *Hub) fanOutReload() {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := h.sortedClientsLocked()
	for _, client := range clients {
		if client.conn != nil {
			client.closeWithReload()
		}
		close(client.send)
		delete(h.clients, client)
	}

	logging.Info().Int("subscribers_notified", len(clients)).Msg("live-reload fan-out")
}

// closeAllClients closes every connected client without a reload reason.
// Called during hub shutdown, as distinct from a reload fan-out.
func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := h.sortedClientsLocked()
	for _, client := range clients {
		close(client.send)
		delete(h.clients, client)
	}
}

// Reload signals the hub to close every connected live-reload subscriber
// with code 1012 ("Service Restart") and clear the subscriber set. It is
// non-blocking: if a reload is already pending, this is a no-op, since a
// single fan-out observes the latest state regardless of how many
// reconfigurations queued behind it.
func (h *Hub) Reload() {
	select {
	case h.reload <- struct{}{}:
	default:
	}
}

// GetClientCount returns the number of connected live-reload subscribers.
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
