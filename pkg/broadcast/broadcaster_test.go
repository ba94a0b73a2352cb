package broadcast

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiorack/gearsync/pkg/logger"
	"github.com/audiorack/gearsync/pkg/models"
)

func newTestBroadcaster(t *testing.T, opts ...Option) *Broadcaster {
	t.Helper()

	b, err := New(logger.NewTestLogger(), opts...)
	require.NoError(t, err)
	t.Cleanup(b.Close)

	return b
}

func testEvent(name string) models.SyncMessage {
	return models.NewEquipmentUpdate("crew", models.OperationUpdate,
		&models.Equipment{ID: uuid.New(), Name: name}, nil)
}

func collect(t *testing.T, sub *Subscriber, n int) []models.SyncMessage {
	t.Helper()

	out := make([]models.SyncMessage, 0, n)

	for len(out) < n {
		select {
		case msg, ok := <-sub.Events():
			require.True(t, ok, "stream closed after %d events", len(out))
			out = append(out, msg)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for event %d", len(out))
		}
	}

	return out
}

func TestPublish_AllMembersSameOrder(t *testing.T) {
	b := newTestBroadcaster(t)
	ctx := context.Background()

	subA := b.Subscribe("crew", "a")
	subB := b.Subscribe("crew", "b")

	const n = 50
	for i := 0; i < n; i++ {
		require.NoError(t, b.Publish(ctx, "crew", testEvent(fmt.Sprintf("gear-%d", i))))
	}

	gotA := collect(t, subA, n)
	gotB := collect(t, subB, n)

	for i := 0; i < n; i++ {
		want := fmt.Sprintf("gear-%d", i)
		assert.Equal(t, want, gotA[i].Equipment.Name)
		assert.Equal(t, want, gotB[i].Equipment.Name)
	}
}

func TestPublish_ExactlyOncePerMember(t *testing.T) {
	b := newTestBroadcaster(t)

	sub := b.Subscribe("crew", "a")
	require.NoError(t, b.Publish(context.Background(), "crew", testEvent("solo")))

	got := collect(t, sub, 1)
	assert.Equal(t, "solo", got[0].Equipment.Name)

	select {
	case msg := <-sub.Events():
		t.Fatalf("unexpected duplicate event: %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublish_ScopeIsolation(t *testing.T) {
	b := newTestBroadcaster(t)

	crew := b.Subscribe("crew", "a")
	stage := b.Subscribe("stage", "b")

	require.NoError(t, b.Publish(context.Background(), "crew", testEvent("crew-only")))

	collect(t, crew, 1)

	select {
	case msg := <-stage.Events():
		t.Fatalf("event leaked across scopes: %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribe_StopsDeliveryAndClosesStream(t *testing.T) {
	b := newTestBroadcaster(t)

	sub := b.Subscribe("crew", "a")
	b.Unsubscribe(sub)

	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("Done not closed after unsubscribe")
	}

	_, ok := <-sub.Events()
	assert.False(t, ok, "events channel should be closed")

	assert.Zero(t, b.SubscriberCount("crew"))
	require.NoError(t, b.Publish(context.Background(), "crew", testEvent("after")))
}

func TestSlowSubscriberEvicted(t *testing.T) {
	b := newTestBroadcaster(t, WithQueueSize(1))
	ctx := context.Background()

	sub := b.Subscribe("crew", "slow")

	require.NoError(t, b.Publish(ctx, "crew", testEvent("first")))
	require.NoError(t, b.Publish(ctx, "crew", testEvent("overflow")))

	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("slow subscriber was not evicted")
	}

	assert.Zero(t, b.SubscriberCount("crew"))
}

func TestStatsEventsUseDistinctType(t *testing.T) {
	b := newTestBroadcaster(t)

	sub := b.Subscribe("crew", "a")
	require.NoError(t, b.PublishStats(context.Background(), "crew", &models.StatsSnapshot{
		Overview: models.StatsOverview{Total: 3},
	}))

	got := collect(t, sub, 1)
	assert.Equal(t, models.MessageTypeStatsUpdate, got[0].Type)
	assert.Equal(t, 3, got[0].Stats.Overview.Total)
	assert.Nil(t, got[0].Equipment)
}
