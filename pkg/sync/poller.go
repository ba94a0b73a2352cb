package sync

import (
	"context"
	"time"

	"github.com/audiorack/gearsync/pkg/logger"
	"github.com/audiorack/gearsync/pkg/models"
)

// Default polling cadences. The channel is the primary sync path when
// healthy; polling is a consistency backstop there, and the primary path
// when the channel is down.
const (
	DefaultListInterval          = 15 * time.Second
	DefaultDegradedListInterval  = 5 * time.Second
	DefaultStatsInterval         = 20 * time.Second
	DefaultDegradedStatsInterval = 10 * time.Second
)

// Poller periodically refreshes the full listing and the stats snapshot,
// faster while the subscription channel is down.
type Poller struct {
	cache   *Cache
	gateway Gateway
	logger  logger.Logger

	listInterval          time.Duration
	degradedListInterval  time.Duration
	statsInterval         time.Duration
	degradedStatsInterval time.Duration

	kick chan struct{}
}

// PollerOption configures a Poller.
type PollerOption func(*Poller)

// WithListIntervals overrides the healthy and degraded list cadences.
func WithListIntervals(healthy, degraded time.Duration) PollerOption {
	return func(p *Poller) {
		p.listInterval = healthy
		p.degradedListInterval = degraded
	}
}

// WithStatsIntervals overrides the healthy and degraded stats cadences.
func WithStatsIntervals(healthy, degraded time.Duration) PollerOption {
	return func(p *Poller) {
		p.statsInterval = healthy
		p.degradedStatsInterval = degraded
	}
}

// NewPoller creates the polling fallback for a cache.
func NewPoller(cache *Cache, gateway Gateway, log logger.Logger, opts ...PollerOption) *Poller {
	p := &Poller{
		cache:                 cache,
		gateway:               gateway,
		logger:                log.WithComponent("sync-poller"),
		listInterval:          DefaultListInterval,
		degradedListInterval:  DefaultDegradedListInterval,
		statsInterval:         DefaultStatsInterval,
		degradedStatsInterval: DefaultDegradedStatsInterval,
		kick:                  make(chan struct{}, 1),
	}

	for _, o := range opts {
		o(p)
	}

	return p
}

// Kick makes the poller re-evaluate its cadence immediately, for use on
// channel state changes so the degraded interval takes effect without
// waiting out the healthy one.
func (p *Poller) Kick() {
	select {
	case p.kick <- struct{}{}:
	default:
	}
}

func (p *Poller) intervals() (list, stats time.Duration) {
	if p.cache.Connected() {
		return p.listInterval, p.statsInterval
	}

	return p.degradedListInterval, p.degradedStatsInterval
}

// Run polls until ctx is canceled. The initial load is the connect-time
// resynchronization, not the poller, so the first poll waits a full interval.
func (p *Poller) Run(ctx context.Context) {
	lastList := time.Now()
	lastStats := lastList

	for {
		listIv, statsIv := p.intervals()

		now := time.Now()
		nextList := lastList.Add(listIv)
		nextStats := lastStats.Add(statsIv)

		next := nextList
		if nextStats.Before(next) {
			next = nextStats
		}

		var wait time.Duration
		if next.After(now) {
			wait = next.Sub(now)
		}

		select {
		case <-ctx.Done():
			return
		case <-p.kick:
			// Cadence may have changed; recompute the deadlines.
			continue
		case <-time.After(wait):
		}

		now = time.Now()

		if !now.Before(lastList.Add(listIv)) {
			if err := p.refreshList(ctx); err != nil {
				p.logger.Debug().Err(err).Msg("List poll failed")
			}

			lastList = now
		}

		if !now.Before(lastStats.Add(statsIv)) {
			if err := p.refreshStats(ctx); err != nil {
				p.logger.Debug().Err(err).Msg("Stats poll failed")
			}

			lastStats = now
		}
	}
}

func (p *Poller) refreshList(ctx context.Context) error {
	return p.cache.Resync(ctx)
}

func (p *Poller) refreshStats(ctx context.Context) error {
	stats, err := p.gateway.Stats(ctx)
	if err != nil {
		return err
	}

	p.cache.HandleEvent(&models.SyncMessage{
		Type:      models.MessageTypeStatsUpdate,
		Stats:     stats,
		Timestamp: time.Now().UTC(),
	})

	return nil
}
