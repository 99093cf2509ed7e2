// Miniflare-TRE - local development harness for the Cloudflare Workers runtime
// Copyright 2026 Miniflare-TRE contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cloudflare/miniflare-tre

/*
Package websocket implements the live-reload subscriber hub used by the
loopback server's /cdn-cgi/mf/reload endpoint.

A browser connects to /cdn-cgi/mf/reload and holds the socket open. It
carries no application messages in either direction: the only thing a
subscriber ever learns is that a reload happened, signaled by the server
closing the connection with WebSocket close code 1012 ("Service Restart").
The client is expected to reconnect and reload the page.

Key Components:

  - Hub: tracks the set of open subscriber connections and fans out a
    close-with-reload to all of them when told to reload
  - Client: one subscriber connection, with read/write goroutines for
    liveness (ping/pong) and shutdown

Architecture:

	┌──────────┐
	│   Hub    │ ← Reload() fans out to every connection
	└────┬─────┘
	     │
	┌────┴─────┬─────────┬─────────┐
	│          │         │         │
	│ Client1  │ Client2 │ Client3 │ Client4
	│          │         │         │
	└──────────┴─────────┴─────────┘

Each client has two goroutines:
  - readPump: reads from the connection solely to detect disconnects
  - writePump: sends periodic pings and performs the close handshake

Reload fan-out:

	hub := websocket.NewHub()
	go hub.RunWithContext(ctx)

	// on each WebSocket upgrade to /cdn-cgi/mf/reload:
	client := websocket.NewClient(hub, conn)
	client.Start()
	hub.Register <- client

	// after a successful, non-superseded reconfiguration:
	hub.Reload()

Reload() is non-blocking and idempotent while a fan-out is pending: several
calls queued before the hub processes any of them collapse into a single
fan-out, matching the requirement that an intermediate reconfiguration
superseded by a later one does not produce its own reload.

DETERMINISM:

Both the fan-out and the shutdown path close client connections in
ascending client-ID order (clients are assigned IDs from an atomic
counter), so behavior does not depend on Go map iteration order.

See Also:

  - github.com/gorilla/websocket: underlying WebSocket library
  - internal/loopback: mounts the hub behind /cdn-cgi/mf/reload
  - internal/supervisor: calls Reload() after each successful,
    non-superseded reconfiguration
*/
package websocket
