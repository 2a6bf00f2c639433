package sundaebus

import (
	"context"
	"testing"

	"github.com/tj/assert"
)

func TestStats(t *testing.T) {
	ctx := context.Background()
	bus := newTestBus(NewMemoryLog(), SessionOptions{})
	pipe, _, _ := startSession(t, bus)

	pipe.write("SUB|alice|0", "SUB|bob|0")
	pipe.expect(t, "MSG|alice|1|", "MSG|bob|1|")
	assert.Nil(t, bus.Membership.AddMember(ctx, "team", "alice"))

	stats, err := bus.ReportStats(ctx)
	assert.Nil(t, err)
	assert.Equal(t, 1, stats.Connections)
	assert.Equal(t, 2, stats.Subscriptions)
	assert.Equal(t, 1, stats.Channels)
}
