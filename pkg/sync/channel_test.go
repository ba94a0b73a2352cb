package sync

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiorack/gearsync/pkg/logger"
	"github.com/audiorack/gearsync/pkg/models"
)

// syncServer is a minimal scripted server for channel tests: it performs the
// join handshake, runs the script, and closes the connection.
func syncServer(t *testing.T, script func(conn *websocket.Conn)) *httptest.Server {
	t.Helper()

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/sync", r.URL.Path)

		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)

		defer conn.Close()

		var join models.SyncMessage
		require.NoError(t, conn.ReadJSON(&join))
		require.Equal(t, models.MessageTypeJoin, join.Type)

		require.NoError(t, conn.WriteJSON(models.SyncMessage{
			Type:      models.MessageTypeJoined,
			Team:      join.Team,
			Timestamp: time.Now().UTC(),
		}))

		if script != nil {
			script(conn)
		}
	}))
}

func nextEvent(t *testing.T, ch *Channel) Event {
	t.Helper()

	select {
	case ev, ok := <-ch.Events():
		require.True(t, ok, "event stream closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for channel event")
		return Event{}
	}
}

func TestChannel_ConnectJoinReceive(t *testing.T) {
	eq := &models.Equipment{ID: uuid.New(), Name: "FX6", TeamID: models.DefaultTeam}

	srv := syncServer(t, func(conn *websocket.Conn) {
		ev := models.NewEquipmentUpdate(models.DefaultTeam, models.OperationUpdate, eq, nil)
		require.NoError(t, conn.WriteJSON(ev))

		// Keep the connection open long enough for the client to read.
		time.Sleep(200 * time.Millisecond)
	})
	defer srv.Close()

	ch := NewChannel(srv.URL, "token", models.DefaultTeam, logger.NewTestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go ch.Run(ctx)

	ev := nextEvent(t, ch)
	assert.Equal(t, EventConnected, ev.Type)

	ev = nextEvent(t, ch)
	require.Equal(t, EventEquipmentUpdate, ev.Type)
	require.NotNil(t, ev.Message)
	require.NotNil(t, ev.Message.Equipment)
	assert.Equal(t, eq.ID, ev.Message.Equipment.ID)
}

func TestChannel_DisconnectSurfacedThenReconnect(t *testing.T) {
	srv := syncServer(t, nil) // server drops the connection right after the handshake
	defer srv.Close()

	ch := NewChannel(srv.URL, "token", models.DefaultTeam, logger.NewTestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go ch.Run(ctx)

	assert.Equal(t, EventConnected, nextEvent(t, ch).Type)
	assert.Equal(t, EventDisconnected, nextEvent(t, ch).Type)

	// Backoff then rejoin the same scope.
	assert.Equal(t, EventConnected, nextEvent(t, ch).Type)
}

func TestChannel_PingFramesNotSurfaced(t *testing.T) {
	srv := syncServer(t, func(conn *websocket.Conn) {
		require.NoError(t, conn.WriteJSON(models.SyncMessage{Type: models.MessageTypePing, Timestamp: time.Now().UTC()}))
		require.NoError(t, conn.WriteJSON(models.NewStatsUpdate(models.DefaultTeam, &models.StatsSnapshot{})))

		time.Sleep(200 * time.Millisecond)
	})
	defer srv.Close()

	ch := NewChannel(srv.URL, "token", models.DefaultTeam, logger.NewTestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go ch.Run(ctx)

	require.Equal(t, EventConnected, nextEvent(t, ch).Type)

	// The ping is swallowed; the next surfaced event is the stats update.
	ev := nextEvent(t, ch)
	assert.Equal(t, EventStatsUpdate, ev.Type)
}

func TestChannel_EventStreamClosesOnCancel(t *testing.T) {
	srv := syncServer(t, func(_ *websocket.Conn) {
		time.Sleep(200 * time.Millisecond)
	})
	defer srv.Close()

	ch := NewChannel(srv.URL, "token", models.DefaultTeam, logger.NewTestLogger())

	ctx, cancel := context.WithCancel(context.Background())

	go ch.Run(ctx)

	require.Equal(t, EventConnected, nextEvent(t, ch).Type)

	cancel()

	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ch.Events():
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond, "event stream must close when canceled")
}
