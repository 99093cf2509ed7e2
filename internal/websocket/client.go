// Miniflare-TRE - local development harness for the Cloudflare Workers runtime
// Copyright 2026 Miniflare-TRE contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cloudflare/miniflare-tre

package websocket

import (
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cloudflare/miniflare-tre/internal/logging"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// clientIDCounter generates unique, monotonically increasing IDs for clients.
// DETERMINISM: This ensures clients can be sorted in a consistent order for
// shutdown and reload fan-out, eliminating non-deterministic map iteration
// order.
var clientIDCounter atomic.Uint64

// Client is a single live-reload subscriber connection. It carries no
// application messages: the only events a subscriber ever observes are a
// ping (to keep the connection alive) and a close frame, either a plain
// shutdown close or a reload close carrying code 1012.
type Client struct {
	// id is a unique identifier for this client, used for deterministic
	// ordering during reload fan-out and shutdown.
	id   uint64
	hub  *Hub
	conn *websocket.Conn
	send chan struct{}
}

// NewClient creates a new Client with a unique deterministic ID.
func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		id:   clientIDCounter.Add(1),
		hub:  hub,
		conn: conn,
		send: make(chan struct{}),
	}
}

// ID returns the client's unique identifier for deterministic ordering.
func (c *Client) ID() uint64 {
	return c.id
}

// closeWithReload closes the underlying connection with close code 1012
// ("Service Restart"), signaling the browser to reconnect and reload.
func (c *Client) closeWithReload() {
	deadline := time.Now().Add(writeWait)
	msg := websocket.FormatCloseMessage(closeServiceRestart, closeServiceRestartReason)
	if err := c.conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
		logging.Debug().Err(err).Msg("failed to write reload close frame")
	}
	_ = c.conn.Close()
}

// readPump reads from the connection solely to detect disconnects and keep
// the read deadline extended via pong frames. Live-reload subscribers never
// send application messages.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister <- c
		_ = c.conn.Close() // Explicitly ignore error - best-effort cleanup
	}()

	c.conn.SetReadLimit(1024)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logging.Error().Err(err).Msg("failed to set read deadline")
		return
	}

	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Debug().Err(err).Msg("unexpected websocket close error")
			}
			return
		}
	}
}

// writePump sends periodic pings and closes the connection when the hub
// unregisters the client (send channel closed).
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close() // Explicitly ignore error - best-effort cleanup
	}()

	for {
		select {
		case _, ok := <-c.send:
			if !ok {
				if err := c.conn.WriteControl(websocket.CloseMessage, []byte{}, time.Now().Add(writeWait)); err != nil {
					logging.Debug().Err(err).Msg("failed to write close message")
				}
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logging.Error().Err(err).Msg("failed to set write deadline for ping")
				return
			}

			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Start begins reading and writing for the client.
func (c *Client) Start() {
	go c.writePump()
	go c.readPump()
}
