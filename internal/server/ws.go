/*
 * This file is part of Aegis (https://github.com/aegislabs/aegis).
 * Copyright (C) 2025 Aegis Labs
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program. If not, see <https://www.gnu.org/licenses/>.
 */

package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/aegislabs/aegis-hub/internal/logging"
	"github.com/aegislabs/aegis-hub/internal/metrics"
)

// wsMessage is the envelope pushed to dashboard clients
type wsMessage struct {
	Kind    string      `json:"kind"`
	Payload interface{} `json:"payload"`
}

// Push kinds
const (
	wsKindLog        = "log"
	wsKindIncident   = "incident"
	wsKindDetections = "detections"
	wsKindStatus     = "status"
)

// wsHub fans hub events out to connected dashboard clients. Slow
// clients are dropped rather than allowed to stall the broadcast.
type wsHub struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*wsClient]struct{}
}

type wsClient struct {
	conn *websocket.Conn
	send chan wsMessage
}

func newWSHub() *wsHub {
	return &wsHub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The hub binds to loopback; the dashboard runs on file:// or
			// a local dev server, so origin checks stay permissive.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*wsClient]struct{}),
	}
}

// HandleWS upgrades the connection and registers the client
func (h *wsHub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.LogWarn("websocket upgrade failed",
			zap.Error(err),
		)
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan wsMessage, 64),
	}

	h.mu.Lock()
	h.clients[client] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()
	metrics.SetWebsocketClients(count)

	go h.writePump(client)
	go h.readPump(client)
}

// Broadcast queues a message for every connected client
func (h *wsHub) Broadcast(kind string, payload interface{}) {
	msg := wsMessage{Kind: kind, Payload: payload}

	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		select {
		case client.send <- msg:
		default:
			// Client is not keeping up; drop it
			delete(h.clients, client)
			close(client.send)
		}
	}
	metrics.SetWebsocketClients(len(h.clients))
}

// Close disconnects all clients
func (h *wsHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
	metrics.SetWebsocketClients(0)
}

func (h *wsHub) writePump(client *wsClient) {
	defer func() { _ = client.conn.Close() }()

	for msg := range client.send {
		_ = client.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := client.conn.WriteJSON(msg); err != nil {
			h.remove(client)
			return
		}
	}
	_ = client.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// readPump discards client messages and notices disconnects
func (h *wsHub) readPump(client *wsClient) {
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			h.remove(client)
			return
		}
	}
}

func (h *wsHub) remove(client *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	metrics.SetWebsocketClients(len(h.clients))
}
