package sundaebus

import (
	"context"
	"time"

	sundaecli "github.com/SundaeSwap-finance/sundae-bus/sundae-cli"
)

// Stats is a point-in-time view of the bus.
type Stats struct {
	Connections   int       `json:"connections"`
	Subscriptions int       `json:"subscriptions"`
	Channels      int       `json:"channels"`
	At            time.Time `json:"at"`
}

func (b *Bus) Stats() Stats {
	return Stats{
		Connections:   b.Connections(),
		Subscriptions: b.Registry.Subscriptions(),
		Channels:      b.Membership.Directory.Len(),
		At:            time.Now().UTC(),
	}
}

// ReportStats publishes the connection and subscription gauges.
func (b *Bus) ReportStats(ctx context.Context) (Stats, error) {
	stats := b.Stats()
	b.Metrics.Gauge(ctx, sundaecli.ConnectionsMetric, float64(stats.Connections))
	b.Metrics.Gauge(ctx, sundaecli.SubscribersMetric, float64(stats.Subscriptions))
	b.Logger.Debug().
		Int("connections", stats.Connections).
		Int("subscriptions", stats.Subscriptions).
		Int("channels", stats.Channels).
		Msg("bus stats")
	return stats, nil
}
