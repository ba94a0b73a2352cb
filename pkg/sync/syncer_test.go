package sync

import (
	"context"
	"encoding/json"
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

// gatewayServer stands in for the whole server side: the resync endpoints plus
// a sync channel that pushes one scripted event after the handshake.
func gatewayServer(t *testing.T, seeded, pushed *models.Equipment) *httptest.Server {
	t.Helper()

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

	writeEnvelope := func(w http.ResponseWriter, data any) {
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(models.APIResponse{Success: true, Data: data}))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/equipment", func(w http.ResponseWriter, _ *http.Request) {
		writeEnvelope(w, []*models.Equipment{seeded})
	})
	mux.HandleFunc("/api/equipment/deleted", func(w http.ResponseWriter, _ *http.Request) {
		writeEnvelope(w, []*models.ArchivedEquipment{})
	})
	mux.HandleFunc("/api/equipment/stats", func(w http.ResponseWriter, _ *http.Request) {
		writeEnvelope(w, &models.StatsSnapshot{Overview: models.StatsOverview{Total: 1}})
	})
	mux.HandleFunc("/api/sync", func(w http.ResponseWriter, r *http.Request) {
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

		require.NoError(t, conn.WriteJSON(models.NewEquipmentUpdate(join.Team, models.OperationCreate, pushed, nil)))

		time.Sleep(500 * time.Millisecond)
	})

	return httptest.NewServer(mux)
}

func awaitEvent(t *testing.T, events <-chan Event, want EventType) {
	t.Helper()

	deadline := time.After(2 * time.Second)

	for {
		select {
		case ev := <-events:
			if ev.Type == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %v", want)
		}
	}
}

func TestSyncer_ConnectResyncsThenStreams(t *testing.T) {
	now := time.Now().UTC()
	seeded := &models.Equipment{ID: uuid.New(), Name: "HF45", TeamID: models.DefaultTeam, UpdatedAt: now}
	pushed := &models.Equipment{ID: uuid.New(), Name: "FX6", TeamID: models.DefaultTeam, UpdatedAt: now}

	srv := gatewayServer(t, seeded, pushed)
	defer srv.Close()

	client := NewClient(srv.URL, logger.NewTestLogger())
	client.SetToken("token")

	user := &models.User{ID: uuid.New(), Phone: "+15550100", Name: "Dana", TeamID: models.DefaultTeam}

	syncer := NewSyncer(client, user, logger.NewTestLogger(),
		WithListIntervals(time.Hour, time.Hour),
		WithStatsIntervals(time.Hour, time.Hour))

	events := make(chan Event, 16)
	syncer.OnEvent = func(ev Event) { events <- ev }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go syncer.Run(ctx)

	awaitEvent(t, events, EventConnected)

	cache := syncer.Cache()
	assert.True(t, cache.Connected())

	_, ok := cache.Get(seeded.ID)
	assert.True(t, ok, "connect must pull the server listing")

	awaitEvent(t, events, EventEquipmentUpdate)

	got, ok := cache.Get(pushed.ID)
	require.True(t, ok, "streamed insert must land in the cache")
	assert.Equal(t, "FX6", got.Name)
}

func TestSyncer_DisconnectFlipsConnectivity(t *testing.T) {
	now := time.Now().UTC()
	seeded := &models.Equipment{ID: uuid.New(), Name: "HF45", TeamID: models.DefaultTeam, UpdatedAt: now}

	srv := gatewayServer(t, seeded, seeded)
	defer srv.Close()

	client := NewClient(srv.URL, logger.NewTestLogger())
	client.SetToken("token")

	user := &models.User{ID: uuid.New(), Phone: "+15550100", Name: "Dana", TeamID: models.DefaultTeam}

	syncer := NewSyncer(client, user, logger.NewTestLogger(),
		WithListIntervals(time.Hour, time.Hour),
		WithStatsIntervals(time.Hour, time.Hour))

	events := make(chan Event, 16)
	syncer.OnEvent = func(ev Event) { events <- ev }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go syncer.Run(ctx)

	awaitEvent(t, events, EventConnected)
	require.True(t, syncer.Cache().Connected())

	// The scripted handler returns after half a second and drops the socket.
	awaitEvent(t, events, EventDisconnected)
	assert.False(t, syncer.Cache().Connected())
}
