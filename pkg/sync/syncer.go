package sync

import (
	"context"

	"github.com/audiorack/gearsync/pkg/logger"
	"github.com/audiorack/gearsync/pkg/models"
)

// Syncer wires the channel, cache, and poller together: channel events feed
// the cache, connectivity changes flip the polling cadence immediately, and
// every (re)connect triggers a full resynchronization.
type Syncer struct {
	cache   *Cache
	channel *Channel
	poller  *Poller
	logger  logger.Logger

	// OnEvent, when set before Run, observes every channel event after the
	// cache has processed it. Used by interactive clients to refresh output.
	OnEvent func(Event)
}

// NewSyncer assembles the client-side synchronization stack for one logged-in
// user. The token must already be installed on the client.
func NewSyncer(client *Client, user *models.User, log logger.Logger, pollerOpts ...PollerOption) *Syncer {
	cache := NewCache(client, user.Actor(), user.TeamID, log)
	channel := NewChannel(client.baseURL, client.token, user.TeamID, log)
	poller := NewPoller(cache, client, log, pollerOpts...)

	return &Syncer{
		cache:   cache,
		channel: channel,
		poller:  poller,
		logger:  log.WithComponent("syncer"),
	}
}

// Cache exposes the local view and the mutation entry points.
func (s *Syncer) Cache() *Cache { return s.cache }

// Run drives the channel and the polling fallback until ctx is canceled.
func (s *Syncer) Run(ctx context.Context) {
	go s.channel.Run(ctx)
	go s.poller.Run(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-s.channel.Events():
			if !ok {
				return
			}

			s.handle(ctx, ev)
		}
	}
}

func (s *Syncer) handle(ctx context.Context, ev Event) {
	switch ev.Type {
	case EventConnected:
		s.cache.SetConnected(true)
		s.poller.Kick()

		// There is no event replay; the join gap is closed by a full refresh.
		if err := s.cache.Resync(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("Resync after connect failed")
		}
	case EventDisconnected:
		s.cache.SetConnected(false)
		s.poller.Kick()
	case EventEquipmentUpdate, EventStatsUpdate, EventActivityUpdate:
		if ev.Message != nil {
			s.cache.HandleEvent(ev.Message)
		}
	}

	if s.OnEvent != nil {
		s.OnEvent(ev)
	}
}
