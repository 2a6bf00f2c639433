package sundaebus

import (
	"context"

	"github.com/rs/zerolog"
)

// Notifier pushes payload-free refresh signals after membership changes.
type Notifier struct {
	Registry *Registry
	Logger   zerolog.Logger
}

// Notify signals every connection observing identity and every connection
// subscribed to channelID. A connection in both sets is signalled once. It
// returns the number of connections signalled.
func (n *Notifier) Notify(ctx context.Context, channelID, identity string) int {
	targets := map[string]Conn{}
	for _, conn := range n.Registry.Observers(identity) {
		targets[conn.ID()] = conn
	}
	for _, conn := range n.Registry.Subscribers(channelID) {
		targets[conn.ID()] = conn
	}

	var sent int
	for _, conn := range targets {
		if err := conn.Refresh(); err != nil {
			n.Logger.Info().Err(err).
				Str("connection_id", conn.ID()).
				Str("channel", channelID).
				Msg("refresh failed, dropping connection")
			n.Registry.Drop(conn)
			continue
		}
		sent++
	}

	n.Logger.Debug().
		Str("channel", channelID).
		Str("identity", identity).
		Int("connections", sent).
		Msg("membership refresh sent")
	return sent
}
