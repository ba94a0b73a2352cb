package sync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiorack/gearsync/pkg/logger"
	"github.com/audiorack/gearsync/pkg/models"
)

type fakeGateway struct {
	mu sync.Mutex

	createFn  func(ctx context.Context, req *models.CreateEquipmentRequest) (*models.Equipment, error)
	updateFn  func(ctx context.Context, id uuid.UUID, patch *models.EquipmentPatch) (*models.Equipment, error)
	deleteFn  func(ctx context.Context, id uuid.UUID, reason *string) (*models.ArchivedEquipment, error)
	restoreFn func(ctx context.Context, archivedID uuid.UUID) (*models.Equipment, error)
	listFn    func(ctx context.Context, filter models.ListFilter) ([]*models.Equipment, error)

	updateCalls []*models.EquipmentPatch
}

func (f *fakeGateway) CreateEquipment(ctx context.Context, req *models.CreateEquipmentRequest) (*models.Equipment, error) {
	return f.createFn(ctx, req)
}

func (f *fakeGateway) UpdateEquipment(ctx context.Context, id uuid.UUID, patch *models.EquipmentPatch) (*models.Equipment, error) {
	f.mu.Lock()
	f.updateCalls = append(f.updateCalls, patch)
	f.mu.Unlock()

	return f.updateFn(ctx, id, patch)
}

func (f *fakeGateway) DeleteEquipment(ctx context.Context, id uuid.UUID, reason *string) (*models.ArchivedEquipment, error) {
	return f.deleteFn(ctx, id, reason)
}

func (f *fakeGateway) RestoreEquipment(ctx context.Context, archivedID uuid.UUID) (*models.Equipment, error) {
	return f.restoreFn(ctx, archivedID)
}

func (f *fakeGateway) ListEquipment(ctx context.Context, filter models.ListFilter) ([]*models.Equipment, error) {
	if f.listFn != nil {
		return f.listFn(ctx, filter)
	}

	return nil, nil
}

func (*fakeGateway) ListArchived(context.Context) ([]*models.ArchivedEquipment, error) {
	return nil, nil
}

func (*fakeGateway) Stats(context.Context) (*models.StatsSnapshot, error) {
	return &models.StatsSnapshot{}, nil
}

var testActor = models.Actor{ID: uuid.MustParse("b1b7a25a-2b60-4c7e-a8fb-5eb0d6e8d6a0"), Name: "Dana"}

func newTestCache(gw Gateway, seed ...*models.Equipment) *Cache {
	c := NewCache(gw, testActor, models.DefaultTeam, logger.NewTestLogger())

	for _, eq := range seed {
		c.records = append(c.records, eq.Clone())
	}

	return c
}

func seedRecord() *models.Equipment {
	return &models.Equipment{
		ID:        uuid.New(),
		Name:      "FX6",
		Category:  models.CategoryCamera,
		Status:    models.StatusPending,
		Condition: models.ConditionGood,
		Location:  "Rack 1",
		Priority:  models.PriorityMedium,
		TeamID:    models.DefaultTeam,
		IsActive:  true,
		UpdatedAt: time.Now().Add(-time.Hour).UTC(),
	}
}

// committed builds the server-side result of applying a patch, stamping the
// audit fields the way the store does.
func committed(eq *models.Equipment, patch *models.EquipmentPatch, actor models.Actor) *models.Equipment {
	return patch.ApplyTo(eq, actor, time.Now().UTC())
}

func TestUpdate_OptimisticApplyThenConverge(t *testing.T) {
	rec := seedRecord()
	status := models.StatusChecked

	var server *models.Equipment

	gw := &fakeGateway{
		updateFn: func(_ context.Context, id uuid.UUID, patch *models.EquipmentPatch) (*models.Equipment, error) {
			assert.Equal(t, rec.ID, id)
			server = committed(rec, patch, testActor)

			return server, nil
		},
	}

	c := newTestCache(gw, rec)

	require.NoError(t, c.Update(context.Background(), rec.ID, &models.EquipmentPatch{Status: &status}))

	got, ok := c.Get(rec.ID)
	require.True(t, ok)
	assert.Equal(t, models.StatusChecked, got.Status)
	assert.Equal(t, server.UpdatedAt, got.UpdatedAt)
	assert.Equal(t, testActor.ID, got.CheckedBy)
	assert.Equal(t, stateClean, c.stateOf(rec.ID))
}

func TestUpdate_RollbackOnFailure(t *testing.T) {
	rec := seedRecord()
	status := models.StatusChecked

	gw := &fakeGateway{
		updateFn: func(context.Context, uuid.UUID, *models.EquipmentPatch) (*models.Equipment, error) {
			// The optimistic value must already be visible while in flight.
			return nil, errors.New("store unavailable")
		},
	}

	c := newTestCache(gw, rec)

	before, _ := c.Get(rec.ID)

	err := c.Update(context.Background(), rec.ID, &models.EquipmentPatch{Status: &status})
	require.Error(t, err)

	after, ok := c.Get(rec.ID)
	require.True(t, ok)
	assert.Equal(t, before, after)
	assert.Equal(t, stateClean, c.stateOf(rec.ID))
}

func TestUpdate_OptimisticValueVisibleInFlight(t *testing.T) {
	rec := seedRecord()
	status := models.StatusChecked

	inFlight := make(chan struct{})
	release := make(chan struct{})

	var c *Cache

	gw := &fakeGateway{
		updateFn: func(_ context.Context, _ uuid.UUID, patch *models.EquipmentPatch) (*models.Equipment, error) {
			close(inFlight)
			<-release

			return committed(rec, patch, testActor), nil
		},
	}

	c = newTestCache(gw, rec)

	done := make(chan error, 1)

	go func() {
		done <- c.Update(context.Background(), rec.ID, &models.EquipmentPatch{Status: &status})
	}()

	<-inFlight

	got, ok := c.Get(rec.ID)
	require.True(t, ok)
	assert.Equal(t, models.StatusChecked, got.Status, "optimistic status must show before the request resolves")
	assert.Equal(t, stateSpeculativePending, c.stateOf(rec.ID))

	close(release)
	require.NoError(t, <-done)
}

func TestUpdate_UnknownRecord(t *testing.T) {
	c := newTestCache(&fakeGateway{})

	status := models.StatusChecked
	err := c.Update(context.Background(), uuid.New(), &models.EquipmentPatch{Status: &status})
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestHandleEvent_EchoAfterResolveIsIdempotent(t *testing.T) {
	rec := seedRecord()
	status := models.StatusChecked

	var server *models.Equipment

	gw := &fakeGateway{
		updateFn: func(_ context.Context, _ uuid.UUID, patch *models.EquipmentPatch) (*models.Equipment, error) {
			server = committed(rec, patch, testActor)
			return server, nil
		},
	}

	c := newTestCache(gw, rec)
	require.NoError(t, c.Update(context.Background(), rec.ID, &models.EquipmentPatch{Status: &status}))

	// The broadcast echo arrives after the response already reconciled.
	echo := models.NewEquipmentUpdate(models.DefaultTeam, models.OperationUpdate, server, nil)
	c.HandleEvent(&echo)

	records := c.Records()
	require.Len(t, records, 1)
	assert.Equal(t, models.StatusChecked, records[0].Status)
}

func TestHandleEvent_EchoBeforeResolveConfirms(t *testing.T) {
	rec := seedRecord()
	status := models.StatusChecked

	inFlight := make(chan struct{})
	release := make(chan struct{})

	gw := &fakeGateway{
		updateFn: func(_ context.Context, _ uuid.UUID, patch *models.EquipmentPatch) (*models.Equipment, error) {
			server := committed(rec, patch, testActor)
			close(inFlight)
			<-release

			return server, nil
		},
	}

	c := newTestCache(gw, rec)

	done := make(chan error, 1)

	go func() {
		done <- c.Update(context.Background(), rec.ID, &models.EquipmentPatch{Status: &status})
	}()

	<-inFlight

	// The echo (same commit) arrives over the channel before the HTTP
	// response. It must be treated as confirmation, not a foreign edit.
	echoValue := committed(rec, &models.EquipmentPatch{Status: &status}, testActor)
	echo := models.NewEquipmentUpdate(models.DefaultTeam, models.OperationUpdate, echoValue, nil)
	c.HandleEvent(&echo)

	got, _ := c.Get(rec.ID)
	assert.Equal(t, models.StatusChecked, got.Status)

	close(release)
	require.NoError(t, <-done)

	records := c.Records()
	require.Len(t, records, 1)
	assert.Equal(t, models.StatusChecked, records[0].Status)
}

func TestHandleEvent_ForeignEditBufferedUntilResolve(t *testing.T) {
	rec := seedRecord()
	status := models.StatusChecked

	inFlight := make(chan struct{})
	release := make(chan struct{})

	gw := &fakeGateway{
		updateFn: func(_ context.Context, _ uuid.UUID, patch *models.EquipmentPatch) (*models.Equipment, error) {
			close(inFlight)
			<-release

			return committed(rec, patch, testActor), nil
		},
	}

	c := newTestCache(gw, rec)

	done := make(chan error, 1)

	go func() {
		done <- c.Update(context.Background(), rec.ID, &models.EquipmentPatch{Status: &status})
	}()

	<-inFlight

	// A foreign edit (different actor, later commit) arrives mid-flight.
	foreignActor := models.Actor{ID: uuid.New(), Name: "Riley"}
	loc := "Stage Left"
	foreignValue := committed(rec, &models.EquipmentPatch{Location: &loc}, foreignActor)
	foreignValue.Status = models.StatusChecked
	foreignValue.UpdatedAt = time.Now().Add(time.Minute).UTC()

	foreign := models.NewEquipmentUpdate(models.DefaultTeam, models.OperationUpdate, foreignValue, nil)
	c.HandleEvent(&foreign)

	// Not applied yet: the local speculative state must not be clobbered.
	got, _ := c.Get(rec.ID)
	assert.Equal(t, "Rack 1", got.Location)

	close(release)
	require.NoError(t, <-done)

	// After resolution the buffered foreign event lands; the store accepted
	// it second, so it wins.
	got, _ = c.Get(rec.ID)
	assert.Equal(t, "Stage Left", got.Location)
	assert.Equal(t, models.StatusChecked, got.Status)
}

func TestUpdate_SupersededIntentSentAsFollowUp(t *testing.T) {
	rec := seedRecord()
	status := models.StatusChecked
	loc := "Stage Left"

	firstInFlight := make(chan struct{})
	release := make(chan struct{})

	var latest *models.Equipment

	gw := &fakeGateway{}
	gw.updateFn = func(_ context.Context, _ uuid.UUID, patch *models.EquipmentPatch) (*models.Equipment, error) {
		gw.mu.Lock()
		calls := len(gw.updateCalls)
		gw.mu.Unlock()

		base := rec
		if latest != nil {
			base = latest
		}

		if calls == 1 {
			close(firstInFlight)
			<-release
		}

		latest = committed(base, patch, testActor)

		return latest, nil
	}

	c := newTestCache(gw, rec)

	done := make(chan error, 1)

	go func() {
		done <- c.Update(context.Background(), rec.ID, &models.EquipmentPatch{Status: &status})
	}()

	<-firstInFlight

	// Second user intent while the first request is still in flight: the
	// prediction is replaced now, the request goes out after the first
	// resolves.
	require.NoError(t, c.Update(context.Background(), rec.ID, &models.EquipmentPatch{Location: &loc}))

	got, _ := c.Get(rec.ID)
	assert.Equal(t, "Stage Left", got.Location, "superseding intent must show immediately")

	close(release)
	require.NoError(t, <-done)

	gw.mu.Lock()
	calls := gw.updateCalls
	gw.mu.Unlock()

	require.Len(t, calls, 2, "exactly one follow-up request")
	require.NotNil(t, calls[1].Location)
	assert.Equal(t, "Stage Left", *calls[1].Location)
	assert.Nil(t, calls[1].Status, "already-sent intent must not be resent")

	got, _ = c.Get(rec.ID)
	assert.Equal(t, models.StatusChecked, got.Status)
	assert.Equal(t, "Stage Left", got.Location)
	assert.Equal(t, stateClean, c.stateOf(rec.ID))
}

func TestCreate_OptimisticInsertRemovedOnFailure(t *testing.T) {
	gw := &fakeGateway{
		createFn: func(context.Context, *models.CreateEquipmentRequest) (*models.Equipment, error) {
			return nil, models.ErrDuplicateSerial
		},
	}

	c := newTestCache(gw)

	_, err := c.Create(context.Background(), &models.CreateEquipmentRequest{
		Name:     "FX6",
		Category: models.CategoryCamera,
		Location: "Rack 1",
	})
	require.ErrorIs(t, err, models.ErrDuplicateSerial)
	assert.Empty(t, c.Records())
}

func TestCreate_TempRecordReplacedByServerRecord(t *testing.T) {
	serverID := uuid.New()

	inFlight := make(chan struct{})
	release := make(chan struct{})

	gw := &fakeGateway{
		createFn: func(_ context.Context, req *models.CreateEquipmentRequest) (*models.Equipment, error) {
			close(inFlight)
			<-release

			now := time.Now().UTC()

			return &models.Equipment{
				ID:            serverID,
				Name:          req.Name,
				Category:      req.Category,
				Status:        models.StatusPending,
				Condition:     models.ConditionGood,
				Location:      req.Location,
				Priority:      models.PriorityMedium,
				CheckedBy:     testActor.ID,
				CheckedByName: testActor.Name,
				TeamID:        models.DefaultTeam,
				IsActive:      true,
				CreatedAt:     now,
				UpdatedAt:     now,
			}, nil
		},
	}

	c := newTestCache(gw)

	done := make(chan struct{})

	go func() {
		defer close(done)

		eq, err := c.Create(context.Background(), &models.CreateEquipmentRequest{
			Name:     "FX6",
			Category: models.CategoryCamera,
			Location: "Rack 1",
		})
		assert.NoError(t, err)
		assert.Equal(t, serverID, eq.ID)
	}()

	<-inFlight

	records := c.Records()
	require.Len(t, records, 1, "optimistic insert must be visible in flight")
	assert.NotEqual(t, serverID, records[0].ID)

	close(release)
	<-done

	records = c.Records()
	require.Len(t, records, 1, "temporary record must be replaced, not duplicated")
	assert.Equal(t, serverID, records[0].ID)
}

func TestCreate_OwnEchoIgnoredWhileInFlight(t *testing.T) {
	serverID := uuid.New()

	inFlight := make(chan struct{})
	release := make(chan struct{})

	var serverRec *models.Equipment

	gw := &fakeGateway{
		createFn: func(_ context.Context, req *models.CreateEquipmentRequest) (*models.Equipment, error) {
			close(inFlight)
			<-release

			return serverRec, nil
		},
	}

	serverRec = &models.Equipment{
		ID:            serverID,
		Name:          "FX6",
		Category:      models.CategoryCamera,
		CheckedBy:     testActor.ID,
		CheckedByName: testActor.Name,
		TeamID:        models.DefaultTeam,
		IsActive:      true,
		UpdatedAt:     time.Now().UTC(),
	}

	c := newTestCache(gw)

	done := make(chan struct{})

	go func() {
		defer close(done)

		_, err := c.Create(context.Background(), &models.CreateEquipmentRequest{
			Name:     "FX6",
			Category: models.CategoryCamera,
			Location: "Rack 1",
		})
		assert.NoError(t, err)
	}()

	<-inFlight

	// The broadcast echo of our own create arrives before the response.
	echo := models.NewEquipmentUpdate(models.DefaultTeam, models.OperationCreate, serverRec, nil)
	c.HandleEvent(&echo)

	require.Len(t, c.Records(), 1, "echo must not duplicate the optimistic insert")

	close(release)
	<-done

	records := c.Records()
	require.Len(t, records, 1)
	assert.Equal(t, serverID, records[0].ID)
}

func TestDelete_OptimisticRemovalReinsertedOnFailure(t *testing.T) {
	rec := seedRecord()

	gw := &fakeGateway{
		deleteFn: func(context.Context, uuid.UUID, *string) (*models.ArchivedEquipment, error) {
			return nil, errors.New("store unavailable")
		},
	}

	c := newTestCache(gw, rec)

	err := c.Delete(context.Background(), rec.ID, nil)
	require.Error(t, err)

	records := c.Records()
	require.Len(t, records, 1)
	assert.Equal(t, rec.ID, records[0].ID)
}

func TestDelete_MovesRecordToArchiveView(t *testing.T) {
	rec := seedRecord()
	archivedID := uuid.New()

	gw := &fakeGateway{
		deleteFn: func(_ context.Context, id uuid.UUID, reason *string) (*models.ArchivedEquipment, error) {
			require.NotNil(t, reason)

			return &models.ArchivedEquipment{
				ID:             archivedID,
				OriginalID:     id,
				Name:           rec.Name,
				DeletedBy:      testActor.ID,
				DeletionReason: reason,
				DeletedAt:      time.Now().UTC(),
			}, nil
		},
	}

	c := newTestCache(gw, rec)

	reason := "water damage"
	require.NoError(t, c.Delete(context.Background(), rec.ID, &reason))

	assert.Empty(t, c.Records())

	archived := c.Archived()
	require.Len(t, archived, 1)
	assert.Equal(t, archivedID, archived[0].ID)

	// The delete echo arrives afterwards; it must be a no-op.
	echo := models.NewEquipmentUpdate(models.DefaultTeam, models.OperationDelete, nil, archived[0])
	c.HandleEvent(&echo)

	assert.Empty(t, c.Records())
	assert.Len(t, c.Archived(), 1)
}

func TestRestore_RoundTrip(t *testing.T) {
	archivedID := uuid.New()
	serverID := uuid.New()

	entry := &models.ArchivedEquipment{
		ID:         archivedID,
		OriginalID: uuid.New(),
		Name:       "FX6",
		Category:   models.CategoryCamera,
		Status:     models.StatusChecked,
		Condition:  models.ConditionFair,
		Location:   "Rack 1",
		Priority:   models.PriorityHigh,
		TeamID:     models.DefaultTeam,
	}

	gw := &fakeGateway{
		restoreFn: func(_ context.Context, id uuid.UUID) (*models.Equipment, error) {
			require.Equal(t, archivedID, id)

			now := time.Now().UTC()

			return &models.Equipment{
				ID:            serverID,
				Name:          entry.Name,
				Category:      entry.Category,
				Status:        entry.Status,
				Condition:     entry.Condition,
				Location:      entry.Location,
				Priority:      entry.Priority,
				IsReserved:    false,
				LastChecked:   now,
				CheckedBy:     testActor.ID,
				CheckedByName: testActor.Name,
				TeamID:        entry.TeamID,
				IsActive:      true,
				CreatedAt:     now,
				UpdatedAt:     now,
			}, nil
		},
	}

	c := newTestCache(gw)
	c.archived = []*models.ArchivedEquipment{entry}

	restored, err := c.Restore(context.Background(), archivedID)
	require.NoError(t, err)

	assert.Equal(t, serverID, restored.ID)
	assert.NotEqual(t, entry.OriginalID, restored.ID, "restore must mint a new id")
	assert.Equal(t, entry.Status, restored.Status)
	assert.Equal(t, entry.Condition, restored.Condition)
	assert.False(t, restored.IsReserved)

	assert.Empty(t, c.Archived(), "archive entry must be purged")

	records := c.Records()
	require.Len(t, records, 1)
	assert.Equal(t, serverID, records[0].ID)
}

func TestRestore_FailureReinstatesArchiveEntry(t *testing.T) {
	entry := &models.ArchivedEquipment{ID: uuid.New(), Name: "FX6"}

	gw := &fakeGateway{
		restoreFn: func(context.Context, uuid.UUID) (*models.Equipment, error) {
			return nil, models.ErrNotFound
		},
	}

	c := newTestCache(gw)
	c.archived = []*models.ArchivedEquipment{entry}

	_, err := c.Restore(context.Background(), entry.ID)
	require.ErrorIs(t, err, models.ErrNotFound)

	assert.Empty(t, c.Records())
	require.Len(t, c.Archived(), 1)
	assert.Equal(t, entry.ID, c.Archived()[0].ID)
}

func TestHandleEvent_ForeignInsertAndDelete(t *testing.T) {
	c := newTestCache(&fakeGateway{})

	foreign := seedRecord()
	ev := models.NewEquipmentUpdate(models.DefaultTeam, models.OperationCreate, foreign, nil)
	c.HandleEvent(&ev)

	records := c.Records()
	require.Len(t, records, 1)
	assert.Equal(t, foreign.ID, records[0].ID)

	del := models.NewEquipmentUpdate(models.DefaultTeam, models.OperationDelete, nil, &models.ArchivedEquipment{
		ID:         uuid.New(),
		OriginalID: foreign.ID,
	})
	c.HandleEvent(&del)

	assert.Empty(t, c.Records())
	assert.Len(t, c.Archived(), 1)
}

func TestHandleEvent_StaleUpdateIgnored(t *testing.T) {
	rec := seedRecord()
	rec.UpdatedAt = time.Now().UTC()

	c := newTestCache(&fakeGateway{}, rec)

	stale := rec.Clone()
	stale.Location = "Old Shelf"
	stale.UpdatedAt = rec.UpdatedAt.Add(-time.Minute)

	ev := models.NewEquipmentUpdate(models.DefaultTeam, models.OperationUpdate, stale, nil)
	c.HandleEvent(&ev)

	got, _ := c.Get(rec.ID)
	assert.Equal(t, "Rack 1", got.Location)
}

func TestResync_PreservesSpeculativeState(t *testing.T) {
	rec := seedRecord()
	status := models.StatusChecked

	inFlight := make(chan struct{})
	release := make(chan struct{})

	gw := &fakeGateway{
		updateFn: func(_ context.Context, _ uuid.UUID, patch *models.EquipmentPatch) (*models.Equipment, error) {
			close(inFlight)
			<-release

			return committed(rec, patch, testActor), nil
		},
		listFn: func(context.Context, models.ListFilter) ([]*models.Equipment, error) {
			// Server listing still has the stale value.
			return []*models.Equipment{rec.Clone()}, nil
		},
	}

	c := newTestCache(gw, rec)

	done := make(chan error, 1)

	go func() {
		done <- c.Update(context.Background(), rec.ID, &models.EquipmentPatch{Status: &status})
	}()

	<-inFlight

	require.NoError(t, c.Resync(context.Background()))

	got, _ := c.Get(rec.ID)
	assert.Equal(t, models.StatusChecked, got.Status, "refresh must not clobber the speculative value")

	close(release)
	require.NoError(t, <-done)
}

// Two clients, both clean on the same record. A commits an update; the
// broadcast reaches B; both end equal to the store's final value.
func TestConvergence_TwoClients(t *testing.T) {
	rec := seedRecord()
	status := models.StatusChecked

	var server *models.Equipment

	gwA := &fakeGateway{
		updateFn: func(_ context.Context, _ uuid.UUID, patch *models.EquipmentPatch) (*models.Equipment, error) {
			server = committed(rec, patch, testActor)
			return server, nil
		},
	}

	clientA := newTestCache(gwA, rec)

	actorB := models.Actor{ID: uuid.New(), Name: "Riley"}
	clientB := NewCache(&fakeGateway{}, actorB, models.DefaultTeam, logger.NewTestLogger())
	clientB.records = []*models.Equipment{rec.Clone()}

	require.NoError(t, clientA.Update(context.Background(), rec.ID, &models.EquipmentPatch{Status: &status}))

	// Broadcast fan-out: the same post-commit snapshot reaches both members,
	// the originator included.
	ev := models.NewEquipmentUpdate(models.DefaultTeam, models.OperationUpdate, server, nil)
	clientA.HandleEvent(&ev)
	clientB.HandleEvent(&ev)

	gotA, _ := clientA.Get(rec.ID)
	gotB, _ := clientB.Get(rec.ID)

	assert.Equal(t, models.StatusChecked, gotA.Status)
	assert.Equal(t, models.StatusChecked, gotB.Status)
	assert.Equal(t, gotA, gotB, "both clients converge to the store value")
}

func TestDelete_BufferedStaleUpdateDoesNotResurrect(t *testing.T) {
	rec := seedRecord()

	inFlight := make(chan struct{})
	release := make(chan struct{})

	gw := &fakeGateway{
		deleteFn: func(_ context.Context, id uuid.UUID, _ *string) (*models.ArchivedEquipment, error) {
			close(inFlight)
			<-release

			return &models.ArchivedEquipment{
				ID:         uuid.New(),
				OriginalID: id,
				Name:       rec.Name,
				TeamID:     models.DefaultTeam,
				DeletedAt:  time.Now().UTC(),
			}, nil
		},
	}

	c := newTestCache(gw, rec)

	done := make(chan struct{})

	go func() {
		defer close(done)

		assert.NoError(t, c.Delete(context.Background(), rec.ID, nil))
	}()

	<-inFlight

	// A foreign edit committed just before the delete arrives mid-flight and
	// is buffered behind the pending removal.
	status := models.StatusChecked
	foreign := committed(rec, &models.EquipmentPatch{Status: &status}, models.Actor{ID: uuid.New(), Name: "Riley"})
	foreignEv := models.NewEquipmentUpdate(models.DefaultTeam, models.OperationUpdate, foreign, nil)
	c.HandleEvent(&foreignEv)

	close(release)
	<-done

	assert.Empty(t, c.Records(), "deleted record must not come back through the buffered stale update")

	archived := c.Archived()
	require.Len(t, archived, 1)
	assert.Equal(t, rec.ID, archived[0].OriginalID)
}

func TestDelete_QueuedBehindFailedUpdateStillIssued(t *testing.T) {
	rec := seedRecord()

	inFlight := make(chan struct{})
	release := make(chan struct{})
	deleteCalled := make(chan struct{})

	gw := &fakeGateway{
		updateFn: func(context.Context, uuid.UUID, *models.EquipmentPatch) (*models.Equipment, error) {
			close(inFlight)
			<-release

			return nil, errors.New("store unavailable")
		},
		deleteFn: func(_ context.Context, id uuid.UUID, _ *string) (*models.ArchivedEquipment, error) {
			close(deleteCalled)

			return &models.ArchivedEquipment{
				ID:         uuid.New(),
				OriginalID: id,
				Name:       rec.Name,
				TeamID:     models.DefaultTeam,
				DeletedAt:  time.Now().UTC(),
			}, nil
		},
	}

	c := newTestCache(gw, rec)

	done := make(chan struct{})
	status := models.StatusChecked

	go func() {
		defer close(done)

		assert.Error(t, c.Update(context.Background(), rec.ID, &models.EquipmentPatch{Status: &status}))
	}()

	<-inFlight

	require.NoError(t, c.Delete(context.Background(), rec.ID, nil))

	close(release)
	<-done

	select {
	case <-deleteCalled:
	case <-time.After(time.Second):
		t.Fatal("the accepted removal intent must still be issued after the update fails")
	}

	assert.Empty(t, c.Records(), "the record must stay removed; removal was the newest intent")
	require.Len(t, c.Archived(), 1)
}

func TestArchived_ReturnedEntriesAreCopies(t *testing.T) {
	rec := seedRecord()

	gw := &fakeGateway{
		deleteFn: func(_ context.Context, id uuid.UUID, _ *string) (*models.ArchivedEquipment, error) {
			return &models.ArchivedEquipment{
				ID:         uuid.New(),
				OriginalID: id,
				Name:       rec.Name,
				TeamID:     models.DefaultTeam,
				DeletedAt:  time.Now().UTC(),
			}, nil
		},
	}

	c := newTestCache(gw, rec)
	require.NoError(t, c.Delete(context.Background(), rec.ID, nil))

	got := c.Archived()
	require.Len(t, got, 1)

	got[0].Name = "scribbled"

	again := c.Archived()
	assert.Equal(t, rec.Name, again[0].Name, "mutating a returned entry must not change cache state")
}

func TestHandleEvent_ActivityFeed(t *testing.T) {
	c := newTestCache(&fakeGateway{})

	for i := 0; i < activityFeedLimit+5; i++ {
		ev := models.NewActivityUpdate(models.DefaultTeam, &models.HistoryEntry{
			ID:       uuid.New(),
			Action:   models.ActionCreated,
			UserName: "Riley",
		})
		c.HandleEvent(&ev)
	}

	latest := models.NewActivityUpdate(models.DefaultTeam, &models.HistoryEntry{
		ID:       uuid.New(),
		Action:   models.ActionStatusChanged,
		UserName: "Dana",
	})
	c.HandleEvent(&latest)

	feed := c.Activity()
	require.Len(t, feed, activityFeedLimit, "feed is bounded")
	assert.Equal(t, models.ActionStatusChanged, feed[0].Action, "newest entry first")
}
