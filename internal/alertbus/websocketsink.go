// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package alertbus

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dcsentinel/agent/internal/domain"
)

var (
	_ Sink         = (*WebSocketSink)(nil)
	_ http.Handler = (*WebSocketSink)(nil)
)

// WebSocketSink fans out alerts to every connected operator client, for
// `dcsentinel status --watch`-style live tailing of the alert stream. It
// implements both Sink (for registration on a Bus) and http.Handler (to
// be mounted directly as a route).
type WebSocketSink struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]chan domain.Alert
}

// NewWebSocketSink builds a sink ready to both receive alerts and accept
// client connections. CORS is left to the caller's reverse proxy, matching
// this codebase's other external-facing components.
func NewWebSocketSink() *WebSocketSink {
	return &WebSocketSink{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]chan domain.Alert),
	}
}

// Send implements Sink, broadcasting alert to every connected client. A
// client whose outbound buffer is full is dropped rather than blocking
// the rest of the alert bus.
func (s *WebSocketSink) Send(_ context.Context, alert domain.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn, ch := range s.clients {
		select {
		case ch <- alert:
		default:
			delete(s.clients, conn)
			close(ch)
			_ = conn.Close()
		}
	}
	return nil
}

// ServeHTTP upgrades the request to a websocket and streams alerts to it
// until the client disconnects.
func (s *WebSocketSink) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	ch := make(chan domain.Alert, 32)
	s.mu.Lock()
	s.clients[conn] = ch
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.clients, conn)
		s.mu.Unlock()
		_ = conn.Close()
	}()

	pingTicker := time.NewTicker(30 * time.Second)
	defer pingTicker.Stop()

	for {
		select {
		case alert, ok := <-ch:
			if !ok {
				return
			}
			if err := conn.WriteJSON(alert); err != nil {
				return
			}
		case <-pingTicker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
