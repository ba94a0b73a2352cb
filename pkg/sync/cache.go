package sync

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/audiorack/gearsync/pkg/logger"
	"github.com/audiorack/gearsync/pkg/models"
)

// ErrMutationInFlight is returned when a mutation targets a record whose
// in-flight speculative mutation cannot be superseded (a pending delete or a
// pending create that has not been assigned a server id yet).
var ErrMutationInFlight = errors.New("mutation already in flight for this record")

// recordState is the per-id reconciliation state.
type recordState int

const (
	stateClean recordState = iota
	stateSpeculativePending
	stateReconciling
)

type deleteIntent struct {
	reason *string
}

// pendingMutation tracks one in-flight speculative mutation. At most one
// exists per record id; newer user intent supersedes the prediction rather
// than opening a second concurrent request for the same id.
type pendingMutation struct {
	op    models.Operation
	state recordState

	// snapshot is the pre-mutation value restored on rollback. Nil for create.
	snapshot *models.Equipment

	// predicted is the optimistic local value. Nil for delete.
	predicted *models.Equipment

	// sentPatch is the patch currently on the wire, used for echo matching.
	sentPatch *models.EquipmentPatch

	// superseded accumulates intent issued while the request above is still
	// in flight. A follow-up request carries it once the first resolves.
	superseded *models.EquipmentPatch

	// followUpDelete queues a delete issued while an update was in flight.
	followUpDelete *deleteIntent

	// archivedSnapshot restores the archive entry if a restore fails.
	archivedSnapshot *models.ArchivedEquipment

	// buffered holds foreign events that arrived mid-flight. They are applied
	// after the local mutation resolves; last server write wins.
	buffered []*models.SyncMessage
}

// Cache holds the client's local view of the record collection and reconciles
// optimistic local edits against server confirmations and channel events.
// All state transitions run under one mutex, so interleaved user actions and
// event arrivals never observe a half-applied transition.
type Cache struct {
	mu      sync.Mutex
	gateway Gateway
	actor   models.Actor
	team    string
	logger  logger.Logger

	records  []*models.Equipment
	archived []*models.ArchivedEquipment
	stats    *models.StatsSnapshot
	activity []*models.HistoryEntry
	pending  map[uuid.UUID]*pendingMutation

	connected bool
}

// NewCache creates an empty cache for one actor and team scope.
func NewCache(gateway Gateway, actor models.Actor, team string, log logger.Logger) *Cache {
	return &Cache{
		gateway: gateway,
		actor:   actor,
		team:    team,
		logger:  log.WithComponent("sync-cache"),
		pending: make(map[uuid.UUID]*pendingMutation),
	}
}

// Records returns the local view in recency order.
func (c *Cache) Records() []*models.Equipment {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*models.Equipment, len(c.records))
	for i, eq := range c.records {
		out[i] = eq.Clone()
	}

	return out
}

// Get returns the local view of one record.
func (c *Cache) Get(id uuid.UUID) (*models.Equipment, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	eq := c.findLocked(id)
	if eq == nil {
		return nil, false
	}

	return eq.Clone(), true
}

// Archived returns the local view of the archive listing.
func (c *Cache) Archived() []*models.ArchivedEquipment {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*models.ArchivedEquipment, len(c.archived))
	for i, entry := range c.archived {
		out[i] = entry.Clone()
	}

	return out
}

// Activity returns the recent audit-feed entries, newest first.
func (c *Cache) Activity() []*models.HistoryEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*models.HistoryEntry, len(c.activity))
	for i, entry := range c.activity {
		out[i] = entry.Clone()
	}

	return out
}

// Stats returns the last aggregate snapshot seen, if any.
func (c *Cache) Stats() *models.StatsSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.stats
}

// Connected reports the subscription channel state as last told to the cache.
func (c *Cache) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.connected
}

// SetConnected records a channel state change. Called synchronously by the
// channel consumer so the polling cadence can switch immediately.
func (c *Cache) SetConnected(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.connected = v
}

func (c *Cache) stateOf(id uuid.UUID) recordState {
	c.mu.Lock()
	defer c.mu.Unlock()

	if p, ok := c.pending[id]; ok {
		return p.state
	}

	return stateClean
}

// Create optimistically inserts a predicted record at the front of the view,
// then issues the request. On failure the insert is removed; on success the
// temporary record is replaced by the server's, which carries the real id.
func (c *Cache) Create(ctx context.Context, req *models.CreateEquipmentRequest) (*models.Equipment, error) {
	c.mu.Lock()

	temp := c.predictCreate(req)
	c.pending[temp.ID] = &pendingMutation{
		op:        models.OperationCreate,
		state:     stateSpeculativePending,
		predicted: temp,
	}
	c.insertFrontLocked(temp)

	c.mu.Unlock()

	server, err := c.gateway.CreateEquipment(ctx, req)

	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.pending, temp.ID)
	c.removeLocked(temp.ID)

	if err != nil {
		return nil, err
	}

	c.applyServerLocked(server)

	return server.Clone(), nil
}

func (c *Cache) predictCreate(req *models.CreateEquipmentRequest) *models.Equipment {
	now := time.Now().UTC()

	eq := &models.Equipment{
		ID:            uuid.New(),
		Name:          req.Name,
		Category:      req.Category,
		Status:        models.StatusPending,
		Condition:     models.ConditionGood,
		Location:      req.Location,
		Notes:         req.Notes,
		SerialNumber:  req.SerialNumber,
		Barcode:       req.Barcode,
		Vendor:        req.Vendor,
		Model:         req.Model,
		Priority:      models.PriorityMedium,
		LastChecked:   now,
		CheckedBy:     c.actor.ID,
		CheckedByName: c.actor.Name,
		TeamID:        c.team,
		IsActive:      true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if req.Condition != nil {
		eq.Condition = *req.Condition
	}

	if req.Priority != nil {
		eq.Priority = *req.Priority
	}

	return eq
}

// Update applies the patch optimistically and issues the request. A second
// update on the same id while one is in flight supersedes the prediction and
// is sent as a follow-up request once the first resolves.
func (c *Cache) Update(ctx context.Context, id uuid.UUID, patch *models.EquipmentPatch) error {
	c.mu.Lock()

	if p, ok := c.pending[id]; ok {
		if p.op != models.OperationUpdate || p.followUpDelete != nil {
			c.mu.Unlock()
			return ErrMutationInFlight
		}

		if p.superseded == nil {
			p.superseded = &models.EquipmentPatch{}
		}

		p.superseded.Merge(patch)
		p.predicted = patch.ApplyTo(p.predicted, c.actor, time.Now().UTC())
		c.replaceLocked(p.predicted)

		c.mu.Unlock()

		return nil
	}

	cur := c.findLocked(id)
	if cur == nil {
		c.mu.Unlock()
		return models.ErrNotFound
	}

	p := &pendingMutation{
		op:        models.OperationUpdate,
		state:     stateSpeculativePending,
		snapshot:  cur.Clone(),
		predicted: patch.ApplyTo(cur, c.actor, time.Now().UTC()),
		sentPatch: patch,
	}
	c.pending[id] = p
	c.replaceLocked(p.predicted)

	c.mu.Unlock()

	server, err := c.gateway.UpdateEquipment(ctx, id, patch)

	return c.resolveUpdate(ctx, id, server, err)
}

// resolveUpdate finishes one update round and issues the follow-up request if
// intent was superseded mid-flight.
func (c *Cache) resolveUpdate(ctx context.Context, id uuid.UUID, server *models.Equipment, reqErr error) error {
	c.mu.Lock()

	p := c.pending[id]
	if p == nil {
		c.mu.Unlock()
		return reqErr
	}

	if reqErr != nil {
		if p.followUpDelete != nil {
			// The caller of Delete was already told the removal was accepted;
			// the failed update round does not cancel that intent. Issue the
			// delete now against the pre-update snapshot.
			intent := p.followUpDelete
			next := &pendingMutation{
				op:       models.OperationDelete,
				state:    stateSpeculativePending,
				snapshot: p.snapshot,
				buffered: p.buffered,
			}
			c.pending[id] = next
			c.mu.Unlock()

			archived, delErr := c.gateway.DeleteEquipment(ctx, id, intent.reason)
			if err := c.resolveDelete(id, archived, delErr); err != nil {
				return errors.Join(reqErr, err)
			}

			return reqErr
		}

		// Rollback to the pre-mutation snapshot, then let any buffered
		// foreign events through.
		c.replaceLocked(p.snapshot)
		delete(c.pending, id)
		c.flushBufferedLocked(p)
		c.mu.Unlock()

		return reqErr
	}

	p.state = stateReconciling
	c.replaceLocked(server.Clone())

	if p.followUpDelete != nil {
		intent := p.followUpDelete
		next := &pendingMutation{
			op:       models.OperationDelete,
			state:    stateSpeculativePending,
			snapshot: server.Clone(),
			buffered: p.buffered,
		}
		c.pending[id] = next
		c.removeLocked(id)
		c.mu.Unlock()

		archived, err := c.gateway.DeleteEquipment(ctx, id, intent.reason)

		return c.resolveDelete(id, archived, err)
	}

	if p.superseded != nil {
		patch := p.superseded
		next := &pendingMutation{
			op:        models.OperationUpdate,
			state:     stateSpeculativePending,
			snapshot:  server.Clone(),
			predicted: patch.ApplyTo(server, c.actor, time.Now().UTC()),
			sentPatch: patch,
			buffered:  p.buffered,
		}
		c.pending[id] = next
		c.replaceLocked(next.predicted)
		c.mu.Unlock()

		followUp, err := c.gateway.UpdateEquipment(ctx, id, patch)

		return c.resolveUpdate(ctx, id, followUp, err)
	}

	delete(c.pending, id)
	c.flushBufferedLocked(p)
	c.mu.Unlock()

	return nil
}

// Delete optimistically removes the record from the view and issues the
// archive request. On failure the record is reinserted at the front.
func (c *Cache) Delete(ctx context.Context, id uuid.UUID, reason *string) error {
	c.mu.Lock()

	if p, ok := c.pending[id]; ok {
		if p.op != models.OperationUpdate || p.followUpDelete != nil {
			c.mu.Unlock()
			return ErrMutationInFlight
		}

		// Queue behind the in-flight update; the newest intent is removal,
		// so the view drops the record now.
		p.followUpDelete = &deleteIntent{reason: reason}
		p.superseded = nil
		c.removeLocked(id)
		c.mu.Unlock()

		return nil
	}

	cur := c.findLocked(id)
	if cur == nil {
		c.mu.Unlock()
		return models.ErrNotFound
	}

	c.pending[id] = &pendingMutation{
		op:       models.OperationDelete,
		state:    stateSpeculativePending,
		snapshot: cur.Clone(),
	}
	c.removeLocked(id)

	c.mu.Unlock()

	archived, err := c.gateway.DeleteEquipment(ctx, id, reason)

	return c.resolveDelete(id, archived, err)
}

func (c *Cache) resolveDelete(id uuid.UUID, archived *models.ArchivedEquipment, reqErr error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	p := c.pending[id]
	if p == nil {
		return reqErr
	}

	delete(c.pending, id)

	if reqErr != nil {
		// Original position is not tracked; reinsert at front.
		c.insertFrontLocked(p.snapshot)
		c.flushBufferedLocked(p)

		return reqErr
	}

	c.upsertArchivedLocked(archived)
	c.flushBufferedLocked(p)

	return nil
}

// Restore optimistically moves an archive entry back into the active view,
// then issues the request. The server assigns the real id; the temporary
// predicted record is replaced on success and removed on failure.
func (c *Cache) Restore(ctx context.Context, archivedID uuid.UUID) (*models.Equipment, error) {
	c.mu.Lock()

	var temp *models.Equipment

	entry := c.findArchivedLocked(archivedID)
	if entry != nil {
		temp = c.predictRestore(entry)
		c.pending[temp.ID] = &pendingMutation{
			op:               models.OperationRestore,
			state:            stateSpeculativePending,
			predicted:        temp,
			archivedSnapshot: entry,
		}
		c.insertFrontLocked(temp)
		c.removeArchivedLocked(archivedID)
	}

	c.mu.Unlock()

	server, err := c.gateway.RestoreEquipment(ctx, archivedID)

	c.mu.Lock()
	defer c.mu.Unlock()

	if temp != nil {
		delete(c.pending, temp.ID)
		c.removeLocked(temp.ID)
	}

	if err != nil {
		if entry != nil {
			c.archived = append([]*models.ArchivedEquipment{entry}, c.archived...)
		}

		return nil, err
	}

	c.applyServerLocked(server)

	return server.Clone(), nil
}

func (c *Cache) predictRestore(entry *models.ArchivedEquipment) *models.Equipment {
	now := time.Now().UTC()

	return &models.Equipment{
		ID:            uuid.New(),
		Name:          entry.Name,
		Category:      entry.Category,
		Status:        entry.Status,
		Condition:     entry.Condition,
		Location:      entry.Location,
		Notes:         entry.Notes,
		SerialNumber:  entry.SerialNumber,
		Barcode:       entry.Barcode,
		Vendor:        entry.Vendor,
		Model:         entry.Model,
		Priority:      entry.Priority,
		IsReserved:    false,
		LastChecked:   now,
		CheckedBy:     c.actor.ID,
		CheckedByName: c.actor.Name,
		TeamID:        entry.TeamID,
		IsActive:      true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// HandleEvent merges one channel event into the local view. Echoes of this
// client's own in-flight mutations are recognized and never applied as
// foreign updates; genuinely concurrent foreign edits to a pending id are
// buffered until the local mutation resolves.
func (c *Cache) HandleEvent(msg *models.SyncMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch msg.Type {
	case models.MessageTypeStatsUpdate:
		c.stats = msg.Stats
		return
	case models.MessageTypeActivityUpdate:
		c.appendActivityLocked(msg.Activity)
		return
	case models.MessageTypeEquipmentUpdate:
	default:
		return
	}

	id, ok := eventTarget(msg)
	if !ok {
		return
	}

	if p, exists := c.pending[id]; exists {
		if c.isEchoLocked(p, msg) {
			// Confirmation of our own in-flight request via the channel.
			// Unless newer intent superseded the prediction, the event's
			// snapshot is exactly what the pending response will carry.
			if p.superseded == nil && p.followUpDelete == nil && msg.Equipment != nil {
				c.replaceLocked(msg.Equipment.Clone())
			}

			return
		}

		p.buffered = append(p.buffered, msg)

		return
	}

	if c.isOwnInsertEchoLocked(msg) {
		return
	}

	c.applyEventLocked(msg)
}

func eventTarget(msg *models.SyncMessage) (uuid.UUID, bool) {
	if msg.Operation == models.OperationDelete {
		if msg.Archived == nil {
			return uuid.Nil, false
		}

		return msg.Archived.OriginalID, true
	}

	if msg.Equipment == nil {
		return uuid.Nil, false
	}

	return msg.Equipment.ID, true
}

// isEchoLocked reports whether the event is the broadcast echo of the
// in-flight mutation for the same id.
func (c *Cache) isEchoLocked(p *pendingMutation, msg *models.SyncMessage) bool {
	if msg.Operation == models.OperationDelete {
		return p.op == models.OperationDelete || p.followUpDelete != nil
	}

	if p.op != msg.Operation || msg.Equipment == nil {
		return false
	}

	if p.sentPatch != nil {
		if p.sentPatch.Status != nil && msg.Equipment.CheckedBy != c.actor.ID {
			return false
		}

		return patchSatisfiedBy(p.sentPatch, msg.Equipment)
	}

	return false
}

// isOwnInsertEchoLocked matches create/restore echoes, which arrive under a
// server-assigned id the pending map cannot key on. The creator's identity is
// stamped into the audit fields, so a matching pending insert by this actor
// with the same name is ours.
func (c *Cache) isOwnInsertEchoLocked(msg *models.SyncMessage) bool {
	if msg.Operation != models.OperationCreate && msg.Operation != models.OperationRestore {
		return false
	}

	if msg.Equipment == nil || msg.Equipment.CheckedBy != c.actor.ID {
		return false
	}

	for _, p := range c.pending {
		if p.op == msg.Operation && p.predicted != nil && p.predicted.Name == msg.Equipment.Name {
			return true
		}
	}

	return false
}

// patchSatisfiedBy reports whether every field the patch sets has the patched
// value in eq.
func patchSatisfiedBy(p *models.EquipmentPatch, eq *models.Equipment) bool {
	if p.Name != nil && eq.Name != *p.Name {
		return false
	}

	if p.Category != nil && eq.Category != *p.Category {
		return false
	}

	if p.Status != nil && eq.Status != *p.Status {
		return false
	}

	if p.Condition != nil && eq.Condition != *p.Condition {
		return false
	}

	if p.Location != nil && eq.Location != *p.Location {
		return false
	}

	if p.Notes != nil && eq.Notes != *p.Notes {
		return false
	}

	if p.Priority != nil && eq.Priority != *p.Priority {
		return false
	}

	return true
}

// applyEventLocked merges a foreign event. Updates only apply when not older
// than the local value; the store serializes commits, so the newest
// UpdatedAt is the winning write.
func (c *Cache) applyEventLocked(msg *models.SyncMessage) {
	switch msg.Operation {
	case models.OperationCreate, models.OperationRestore, models.OperationUpdate:
		eq := msg.Equipment
		if eq == nil {
			return
		}

		cur := c.findLocked(eq.ID)
		if cur == nil {
			if c.tombstonedLocked(eq.ID, eq.UpdatedAt) {
				return
			}

			c.insertFrontLocked(eq.Clone())

			return
		}

		if !eq.UpdatedAt.Before(cur.UpdatedAt) {
			c.replaceLocked(eq.Clone())
		}
	case models.OperationDelete:
		c.removeLocked(msg.Archived.OriginalID)
		c.upsertArchivedLocked(msg.Archived)
	}
}

// activityFeedLimit caps how many audit entries the cache retains; the feed
// is informational and the server keeps the full trail.
const activityFeedLimit = 50

func (c *Cache) appendActivityLocked(entry *models.HistoryEntry) {
	if entry == nil {
		return
	}

	c.activity = append([]*models.HistoryEntry{entry}, c.activity...)

	if len(c.activity) > activityFeedLimit {
		c.activity = c.activity[:activityFeedLimit]
	}
}

// tombstonedLocked reports whether the record was archived at or after the
// event's write time. An update event flushed from a buffer after a delete
// resolved refers to an older commit and must not re-insert the record.
func (c *Cache) tombstonedLocked(id uuid.UUID, writtenAt time.Time) bool {
	for _, entry := range c.archived {
		if entry.OriginalID == id && !entry.DeletedAt.Before(writtenAt) {
			return true
		}
	}

	return false
}

func (c *Cache) flushBufferedLocked(p *pendingMutation) {
	for _, msg := range p.buffered {
		c.applyEventLocked(msg)
	}

	p.buffered = nil
}

// Resync replaces the local view with a full server listing. Records with an
// in-flight speculative mutation keep their predicted value; pending inserts
// stay in the view and pending deletes stay out of it.
func (c *Cache) Resync(ctx context.Context) error {
	items, err := c.gateway.ListEquipment(ctx, models.ListFilter{})
	if err != nil {
		return err
	}

	archived, err := c.gateway.ListArchived(ctx)
	if err != nil {
		return err
	}

	stats, err := c.gateway.Stats(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Stats refresh failed")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	fresh := make([]*models.Equipment, 0, len(items)+len(c.pending))
	seen := make(map[uuid.UUID]struct{}, len(items))

	// Optimistic inserts first; their ids are unknown to the server.
	for id, p := range c.pending {
		if p.op == models.OperationCreate || p.op == models.OperationRestore {
			fresh = append(fresh, p.predicted)
			seen[id] = struct{}{}
		}
	}

	for _, item := range items {
		if _, dup := seen[item.ID]; dup {
			continue
		}

		if p, ok := c.pending[item.ID]; ok {
			if p.op == models.OperationDelete || p.followUpDelete != nil {
				continue
			}

			fresh = append(fresh, p.predicted)
			continue
		}

		fresh = append(fresh, item)
	}

	c.records = fresh
	c.archived = archived

	if stats != nil {
		c.stats = stats
	}

	return nil
}

func (c *Cache) findLocked(id uuid.UUID) *models.Equipment {
	for _, eq := range c.records {
		if eq.ID == id {
			return eq
		}
	}

	return nil
}

func (c *Cache) insertFrontLocked(eq *models.Equipment) {
	c.records = append([]*models.Equipment{eq}, c.records...)
}

// replaceLocked swaps the record in place, preserving list position.
func (c *Cache) replaceLocked(eq *models.Equipment) {
	for i, cur := range c.records {
		if cur.ID == eq.ID {
			c.records[i] = eq
			return
		}
	}

	c.insertFrontLocked(eq)
}

func (c *Cache) removeLocked(id uuid.UUID) {
	for i, cur := range c.records {
		if cur.ID == id {
			c.records = append(c.records[:i], c.records[i+1:]...)
			return
		}
	}
}

func (c *Cache) applyServerLocked(server *models.Equipment) {
	cur := c.findLocked(server.ID)
	if cur == nil {
		c.insertFrontLocked(server.Clone())
		return
	}

	if !server.UpdatedAt.Before(cur.UpdatedAt) {
		c.replaceLocked(server.Clone())
	}
}

func (c *Cache) findArchivedLocked(id uuid.UUID) *models.ArchivedEquipment {
	for _, entry := range c.archived {
		if entry.ID == id {
			return entry
		}
	}

	return nil
}

func (c *Cache) upsertArchivedLocked(entry *models.ArchivedEquipment) {
	if entry == nil {
		return
	}

	for i, cur := range c.archived {
		if cur.ID == entry.ID {
			c.archived[i] = entry
			return
		}
	}

	c.archived = append([]*models.ArchivedEquipment{entry}, c.archived...)
}

func (c *Cache) removeArchivedLocked(id uuid.UUID) {
	for i, cur := range c.archived {
		if cur.ID == id {
			c.archived = append(c.archived[:i], c.archived[i+1:]...)
			return
		}
	}
}
