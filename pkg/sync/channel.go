package sync

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"

	"github.com/audiorack/gearsync/pkg/logger"
	"github.com/audiorack/gearsync/pkg/models"
)

// EventType classifies what the channel surfaces to the cache.
type EventType int

const (
	// EventConnected fires once the join handshake completes. It doubles as
	// the resynchronization signal: events published while disconnected were
	// dropped, so the consumer must do a full refresh.
	EventConnected EventType = iota
	EventDisconnected
	EventEquipmentUpdate
	EventStatsUpdate
	EventActivityUpdate
)

// Event is one item of the channel's typed event sequence.
type Event struct {
	Type    EventType
	Message *models.SyncMessage
}

const (
	channelWriteWait      = 10 * time.Second
	channelReadWait       = 60 * time.Second
	maxReconnectInterval  = 30 * time.Second
	initReconnectInterval = 500 * time.Millisecond
)

// Channel maintains the persistent subscription connection for one scope and
// reconnects with exponential backoff after a drop. Consumers read the typed
// sequence from Events; closing the context ends it.
type Channel struct {
	baseURL string
	team    string
	token   string
	dialer  *websocket.Dialer
	events  chan Event
	logger  logger.Logger
}

// NewChannel creates a subscription channel for one team scope. baseURL is
// the server's HTTP URL; the channel derives the WebSocket endpoint from it.
func NewChannel(baseURL, token, team string, log logger.Logger) *Channel {
	return &Channel{
		baseURL: baseURL,
		team:    team,
		token:   token,
		dialer:  websocket.DefaultDialer,
		events:  make(chan Event, 64),
		logger:  log.WithComponent("sync-channel"),
	}
}

// Events is the channel's typed event sequence. It closes when Run returns.
func (ch *Channel) Events() <-chan Event { return ch.events }

func (ch *Channel) wsURL() string {
	u := ch.baseURL
	u = strings.Replace(u, "https://", "wss://", 1)
	u = strings.Replace(u, "http://", "ws://", 1)

	return u + "/api/sync"
}

// Run connects and keeps the subscription alive until ctx is canceled.
func (ch *Channel) Run(ctx context.Context) {
	defer close(ch.events)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = initReconnectInterval
	bo.MaxInterval = maxReconnectInterval

	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := ch.connect(ctx)
		if err != nil {
			wait := bo.NextBackOff()
			ch.logger.Debug().Err(err).Dur("retry_in", wait).Msg("Subscription connect failed")

			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}

			continue
		}

		bo.Reset()
		ch.emit(ctx, Event{Type: EventConnected})

		ch.readLoop(ctx, conn)

		_ = conn.Close()
		ch.emit(ctx, Event{Type: EventDisconnected})
	}
}

// connect dials, joins the scope, and waits for the server's ack.
func (ch *Channel) connect(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+ch.token)

	conn, resp, err := ch.dialer.DialContext(ctx, ch.wsURL(), header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	if err := conn.SetWriteDeadline(time.Now().Add(channelWriteWait)); err != nil {
		_ = conn.Close()
		return nil, err
	}

	join := models.SyncMessage{
		Type:      models.MessageTypeJoin,
		Team:      ch.team,
		Timestamp: time.Now().UTC(),
	}
	if err := conn.WriteJSON(join); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("join: %w", err)
	}

	if err := conn.SetReadDeadline(time.Now().Add(channelReadWait)); err != nil {
		_ = conn.Close()
		return nil, err
	}

	var ack models.SyncMessage
	if err := conn.ReadJSON(&ack); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("join ack: %w", err)
	}

	if ack.Type != models.MessageTypeJoined {
		_ = conn.Close()
		return nil, fmt.Errorf("unexpected handshake reply %q", ack.Type)
	}

	ch.logger.Info().Str("team", ack.Team).Msg("Subscription joined")

	return conn, nil
}

func (ch *Channel) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		if ctx.Err() != nil {
			return
		}

		if err := conn.SetReadDeadline(time.Now().Add(channelReadWait)); err != nil {
			return
		}

		var msg models.SyncMessage
		if err := conn.ReadJSON(&msg); err != nil {
			ch.logger.Debug().Err(err).Msg("Subscription read failed")
			return
		}

		switch msg.Type {
		case models.MessageTypePing:
			// Keepalive only; resets the read deadline on the next pass.
		case models.MessageTypeEquipmentUpdate:
			ch.emit(ctx, Event{Type: EventEquipmentUpdate, Message: &msg})
		case models.MessageTypeStatsUpdate:
			ch.emit(ctx, Event{Type: EventStatsUpdate, Message: &msg})
		case models.MessageTypeActivityUpdate:
			ch.emit(ctx, Event{Type: EventActivityUpdate, Message: &msg})
		case models.MessageTypeError:
			ch.logger.Warn().Str("error", msg.Error).Msg("Server error frame")
		}
	}
}

func (ch *Channel) emit(ctx context.Context, ev Event) {
	select {
	case ch.events <- ev:
	case <-ctx.Done():
	}
}
