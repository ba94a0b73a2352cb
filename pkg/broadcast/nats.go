package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"

	"github.com/audiorack/gearsync/pkg/logger"
	"github.com/audiorack/gearsync/pkg/models"
)

// Backplane bridges publishes through a shared NATS subject so that every
// server process delivers the same per-scope event order. One subject per
// scope: <prefix>.<team>. NATS dispatches a subscription's messages
// sequentially, which preserves that order on the receiving side.
type Backplane struct {
	nc     *nats.Conn
	prefix string
	sub    *nats.Subscription
	logger logger.Logger
}

// NewBackplane connects to NATS. The connection reconnects on its own;
// while it is down publishes fail and the gateway surfaces a server error.
func NewBackplane(url, prefix string, log logger.Logger) (*Backplane, error) {
	bpLog := log.WithComponent("backplane")

	nc, err := nats.Connect(url,
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			bpLog.Error().Err(err).Msg("NATS error")
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			bpLog.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			bpLog.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("broadcast: failed to connect to NATS: %w", err)
	}

	return &Backplane{
		nc:     nc,
		prefix: prefix,
		logger: bpLog,
	}, nil
}

func (bp *Backplane) subject(team string) string {
	return bp.prefix + "." + team
}

// start subscribes to every scope subject and feeds arriving events into the
// local fan-out.
func (bp *Backplane) start(b *Broadcaster) error {
	sub, err := bp.nc.Subscribe(bp.prefix+".>", func(m *nats.Msg) {
		var msg models.SyncMessage

		if err := json.Unmarshal(m.Data, &msg); err != nil {
			bp.logger.Error().Err(err).Str("subject", m.Subject).Msg("Dropping undecodable backplane event")
			return
		}

		team := strings.TrimPrefix(m.Subject, bp.prefix+".")
		b.deliverLocal(team, msg)
	})
	if err != nil {
		return fmt.Errorf("broadcast: backplane subscribe: %w", err)
	}

	bp.sub = sub

	return nil
}

func (bp *Backplane) publish(_ context.Context, team string, msg models.SyncMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("broadcast: marshal event: %w", err)
	}

	if err := bp.nc.Publish(bp.subject(team), data); err != nil {
		return fmt.Errorf("broadcast: backplane publish: %w", err)
	}

	return nil
}

func (bp *Backplane) close() {
	if bp.sub != nil {
		_ = bp.sub.Unsubscribe()
	}

	bp.nc.Close()
}
