package sundaebus

import (
	"context"
	"time"

	sundaecli "github.com/SundaeSwap-finance/sundae-bus/sundae-cli"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Dispatcher fans out messages from the log's live feed to subscribed
// connections.
type Dispatcher struct {
	Registry    *Registry
	Logger      zerolog.Logger
	Metrics     sundaecli.Metrics
	Concurrency int // max concurrent deliveries per message (default 50)
}

// Run drains feed until it closes or ctx is done. Delivery failures never
// stop the loop.
func (d *Dispatcher) Run(ctx context.Context, feed <-chan Message) error {
	d.Logger.Info().Msg("live fan-out started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-feed:
			if !ok {
				d.Logger.Warn().Msg("change feed closed")
				return nil
			}
			d.Dispatch(ctx, msg)
		}
	}
}

// Dispatch delivers msg to every current subscriber of its stream and
// returns the number of successful deliveries. A subscriber that fails is
// dropped from the registry; the others are unaffected.
func (d *Dispatcher) Dispatch(ctx context.Context, msg Message) int {
	subs := d.Registry.Subscribers(msg.StreamID)
	if len(subs) == 0 {
		return 0
	}

	defer d.Metrics.Timing(ctx, sundaecli.FanOutTimeMetric, time.Now())

	d.Logger.Debug().
		Str("stream", msg.StreamID).
		Int64("seq", msg.Sequence).
		Int("subscribers", len(subs)).
		Msg("dispatching message")

	concurrency := d.Concurrency
	if concurrency <= 0 {
		concurrency = 50
	}

	var g errgroup.Group
	g.SetLimit(concurrency)

	delivered := make([]bool, len(subs))
	for i, conn := range subs {
		i, conn := i, conn
		g.Go(func() error {
			if err := conn.Deliver(msg); err != nil {
				d.Logger.Info().Err(err).
					Str("connection_id", conn.ID()).
					Str("stream", msg.StreamID).
					Msg("delivery failed, dropping connection")
				d.Metrics.Event(ctx, sundaecli.DeliveryFailedMetric)
				d.Registry.Drop(conn)
				return nil
			}
			delivered[i] = true
			return nil
		})
	}
	_ = g.Wait()

	var n int
	for _, ok := range delivered {
		if ok {
			n++
		}
	}
	return n
}
