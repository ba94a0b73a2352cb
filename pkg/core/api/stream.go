/*
 * Copyright 2025 AudioRack Live.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/audiorack/gearsync/pkg/models"
)

var errNotJoin = errors.New("first message must be a join")

const (
	joinWait   = 10 * time.Second
	writeWait  = 10 * time.Second
	readWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

// handleSync upgrades the connection and streams committed mutation events
// for one team scope. There is no replay: events published before the join
// completes are never delivered, so clients resynchronize with a list fetch
// after every (re)connect.
func (s *APIServer) handleSync(w http.ResponseWriter, r *http.Request) {
	user, ok := s.requestUser(w, r)
	if !ok {
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return s.checkWebSocketOrigin(r)
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().
			Err(err).
			Str("remote_addr", r.RemoteAddr).
			Str("origin", r.Header.Get("Origin")).
			Msg("Failed to upgrade to WebSocket")

		return
	}

	defer func() {
		_ = conn.Close()
	}()

	team, err := awaitJoin(conn, user.TeamID)
	if err != nil {
		s.logger.Debug().Err(err).Str("remote_addr", r.RemoteAddr).Msg("Subscription handshake failed")
		sendErrorMessage(conn, "expected join message")

		return
	}

	clientID := uuid.NewString()
	sub := s.broadcaster.Subscribe(team, clientID)

	defer s.broadcaster.Unsubscribe(sub)

	if err := writeMessage(conn, models.SyncMessage{
		Type:      models.MessageTypeJoined,
		Team:      team,
		Timestamp: time.Now().UTC(),
	}); err != nil {
		return
	}

	s.logger.Info().
		Str("client_id", clientID).
		Str("team", team).
		Str("user", user.Name).
		Msg("Subscription established")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Reader goroutine exists only to detect disconnects; clients send
	// nothing after the join message.
	go s.readUntilClose(conn, cancel)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-sub.Done():
			// Evicted by the broadcaster. The client reconnects and
			// resynchronizes.
			return

		case msg, chanOpen := <-sub.Events():
			if !chanOpen {
				return
			}

			if err := writeMessage(conn, msg); err != nil {
				s.logger.Debug().Err(err).Str("client_id", clientID).Msg("Subscriber write failed")
				return
			}

		case <-ticker.C:
			if err := writeMessage(conn, models.SyncMessage{
				Type:      models.MessageTypePing,
				Timestamp: time.Now().UTC(),
			}); err != nil {
				return
			}
		}
	}
}

// awaitJoin reads the mandatory first client frame. An empty team falls back
// to the authenticated user's team.
func awaitJoin(conn *websocket.Conn, defaultTeam string) (string, error) {
	if err := conn.SetReadDeadline(time.Now().Add(joinWait)); err != nil {
		return "", err
	}

	var join models.SyncMessage
	if err := conn.ReadJSON(&join); err != nil {
		return "", err
	}

	if join.Type != models.MessageTypeJoin {
		return "", errNotJoin
	}

	team := join.Team
	if team == "" {
		team = defaultTeam
	}

	return team, nil
}

func (s *APIServer) readUntilClose(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()

	for {
		if err := conn.SetReadDeadline(time.Now().Add(readWait)); err != nil {
			return
		}

		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				s.logger.Debug().Err(err).Msg("Unexpected WebSocket close")
			}

			return
		}
	}
}

func writeMessage(conn *websocket.Conn, msg models.SyncMessage) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}

	return conn.WriteJSON(msg)
}

func sendErrorMessage(conn *websocket.Conn, text string) {
	_ = writeMessage(conn, models.SyncMessage{
		Type:      models.MessageTypeError,
		Error:     text,
		Timestamp: time.Now().UTC(),
	})
}

// checkWebSocketOrigin validates the upgrade origin against the CORS
// configuration. No Origin header means a non-browser client; allow it.
func (s *APIServer) checkWebSocketOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	for _, allowed := range s.corsConfig.AllowedOrigins {
		if allowed == origin || allowed == "*" {
			return true
		}
	}

	s.logger.Warn().
		Str("origin", origin).
		Msg("WebSocket origin not allowed")

	return false
}
