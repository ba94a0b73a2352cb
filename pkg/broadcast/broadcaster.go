// Package broadcast fans committed mutation events out to every subscriber
// of a team scope.
package broadcast

import (
	"context"
	"sync"

	"github.com/audiorack/gearsync/pkg/logger"
	"github.com/audiorack/gearsync/pkg/models"
)

const defaultQueueSize = 64

// Subscriber is one connected client's membership in a scope. Events arrive
// on Events() in publish order; Done() closes when the subscriber has been
// evicted or unsubscribed.
type Subscriber struct {
	id     string
	team   string
	events chan models.SyncMessage
	done   chan struct{}
	closed bool
}

// ID returns the connection identifier the subscriber registered with.
func (s *Subscriber) ID() string { return s.id }

// Team returns the scope the subscriber joined.
func (s *Subscriber) Team() string { return s.team }

// Events is the ordered event stream for this subscriber. The channel closes
// when the subscription ends.
func (s *Subscriber) Events() <-chan models.SyncMessage { return s.events }

// Done closes when the subscription ends, whichever side ended it.
func (s *Subscriber) Done() <-chan struct{} { return s.done }

// scope is one consistency scope: a named set of live subscribers. Its mutex
// serializes publishes so every member observes the same event order.
type scope struct {
	mu   sync.Mutex
	subs map[*Subscriber]struct{}
}

// Broadcaster owns the scope registry and is the sole writer to every
// subscriber queue.
type Broadcaster struct {
	mu        sync.Mutex
	scopes    map[string]*scope
	queueSize int
	backplane *Backplane
	logger    logger.Logger
}

// Option configures a Broadcaster.
type Option func(*Broadcaster)

// WithQueueSize overrides the per-subscriber outbound buffer.
func WithQueueSize(n int) Option {
	return func(b *Broadcaster) {
		if n > 0 {
			b.queueSize = n
		}
	}
}

// WithBackplane routes publishes through a shared NATS subject so multiple
// server processes keep a total per-scope order.
func WithBackplane(bp *Backplane) Option {
	return func(b *Broadcaster) {
		b.backplane = bp
	}
}

// New creates a Broadcaster.
func New(log logger.Logger, opts ...Option) (*Broadcaster, error) {
	b := &Broadcaster{
		scopes:    make(map[string]*scope),
		queueSize: defaultQueueSize,
		logger:    log.WithComponent("broadcast"),
	}

	for _, o := range opts {
		o(b)
	}

	if b.backplane != nil {
		if err := b.backplane.start(b); err != nil {
			return nil, err
		}
	}

	return b, nil
}

func (b *Broadcaster) scopeFor(team string) *scope {
	b.mu.Lock()
	defer b.mu.Unlock()

	sc, ok := b.scopes[team]
	if !ok {
		sc = &scope{subs: make(map[*Subscriber]struct{})}
		b.scopes[team] = sc
	}

	return sc
}

// Subscribe adds a connection to a scope and returns its subscription.
func (b *Broadcaster) Subscribe(team, clientID string) *Subscriber {
	sub := &Subscriber{
		id:     clientID,
		team:   team,
		events: make(chan models.SyncMessage, b.queueSize),
		done:   make(chan struct{}),
	}

	sc := b.scopeFor(team)

	sc.mu.Lock()
	sc.subs[sub] = struct{}{}
	members := len(sc.subs)
	sc.mu.Unlock()

	b.logger.Debug().
		Str("client_id", clientID).
		Str("team", team).
		Int("members", members).
		Msg("Subscriber joined scope")

	return sub
}

// Unsubscribe removes a connection from its scope and closes its stream.
func (b *Broadcaster) Unsubscribe(sub *Subscriber) {
	sc := b.scopeFor(sub.team)

	sc.mu.Lock()
	b.removeLocked(sc, sub)
	sc.mu.Unlock()
}

// removeLocked must be called with the scope mutex held.
func (b *Broadcaster) removeLocked(sc *scope, sub *Subscriber) {
	if sub.closed {
		return
	}

	sub.closed = true

	delete(sc.subs, sub)
	close(sub.done)
	close(sub.events)

	b.logger.Debug().
		Str("client_id", sub.id).
		Str("team", sub.team).
		Msg("Subscriber left scope")
}

// SubscriberCount reports the current membership of a scope.
func (b *Broadcaster) SubscriberCount(team string) int {
	sc := b.scopeFor(team)

	sc.mu.Lock()
	defer sc.mu.Unlock()

	return len(sc.subs)
}

// PublishEquipment publishes a committed mutation to every member of the
// scope, the originator included. Called once per commit, never for failed
// operations.
func (b *Broadcaster) PublishEquipment(ctx context.Context, team string, op models.Operation, eq *models.Equipment, archived *models.ArchivedEquipment) error {
	return b.Publish(ctx, team, models.NewEquipmentUpdate(team, op, eq, archived))
}

// PublishActivity publishes a recorded audit-trail entry to the scope's
// activity feed.
func (b *Broadcaster) PublishActivity(ctx context.Context, team string, entry *models.HistoryEntry) error {
	return b.Publish(ctx, team, models.NewActivityUpdate(team, entry))
}

// PublishStats publishes a best-effort aggregate snapshot. Losing one of
// these never affects record-view correctness.
func (b *Broadcaster) PublishStats(ctx context.Context, team string, stats *models.StatsSnapshot) error {
	return b.Publish(ctx, team, models.NewStatsUpdate(team, stats))
}

// Publish delivers one event to a scope. With a backplane the event takes a
// round trip through the shared subject and is delivered on arrival, which
// keeps ordering total across processes; without one it is delivered
// in-process directly.
func (b *Broadcaster) Publish(ctx context.Context, team string, msg models.SyncMessage) error {
	if b.backplane != nil {
		return b.backplane.publish(ctx, team, msg)
	}

	b.deliverLocal(team, msg)

	return nil
}

// deliverLocal enqueues the event for every current member of the scope.
// The scope mutex is held across the whole fan-out, so concurrent publishes
// cannot interleave differently for different members. A subscriber whose
// queue is full is evicted; its client reconnects and resynchronizes rather
// than silently missing events.
func (b *Broadcaster) deliverLocal(team string, msg models.SyncMessage) {
	sc := b.scopeFor(team)

	sc.mu.Lock()
	defer sc.mu.Unlock()

	for sub := range sc.subs {
		select {
		case sub.events <- msg:
		default:
			b.logger.Warn().
				Str("client_id", sub.id).
				Str("team", team).
				Msg("Subscriber queue full, evicting")
			b.removeLocked(sc, sub)
		}
	}
}

// Close tears down every scope and the backplane connection.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	scopes := make([]*scope, 0, len(b.scopes))

	for _, sc := range b.scopes {
		scopes = append(scopes, sc)
	}
	b.mu.Unlock()

	for _, sc := range scopes {
		sc.mu.Lock()

		for sub := range sc.subs {
			b.removeLocked(sc, sub)
		}

		sc.mu.Unlock()
	}

	if b.backplane != nil {
		b.backplane.close()
	}
}
