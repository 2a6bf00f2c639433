package sundaebus

import (
	"time"

	sundaecli "github.com/SundaeSwap-finance/sundae-bus/sundae-cli"
	"github.com/urfave/cli/v2"
)

var BusOpts struct {
	Store             string
	Feed              string
	CatchUpLimit      int
	FanOutConcurrency int
	OutboundBuffer    int
	PendingLimit      int
	ReorderWindow     time.Duration
	SendTimeout       time.Duration
	WriteTimeout      time.Duration
	ReadTimeout       time.Duration
	PublishRate       float64
	PublishBurst      int
}

var BusFlags = []cli.Flag{
	sundaecli.StringFlag("store", "durable log backend (memory, dynamodb)", &BusOpts.Store, "memory"),
	sundaecli.StringFlag("feed", "live change feed (memory, ddb-stream, kinesis)", &BusOpts.Feed, "memory"),
	sundaecli.IntFlag("catch-up-limit", "max messages returned by one catch-up", &BusOpts.CatchUpLimit, DefaultCatchUpLimit),
	sundaecli.IntFlag("fan-out-concurrency", "max concurrent deliveries per message", &BusOpts.FanOutConcurrency, 50),
	sundaecli.IntFlag("outbound-buffer", "frames queued per connection", &BusOpts.OutboundBuffer, 256),
	sundaecli.IntFlag("pending-limit", "live messages held per stream while catch-up runs", &BusOpts.PendingLimit, 1000),
	sundaecli.DurationFlag("reorder-window", "max wait for a missing sequence before later live messages are sent", &BusOpts.ReorderWindow, 250*time.Millisecond),
	sundaecli.DurationFlag("send-timeout", "max wait on a full outbound queue during catch-up before the connection is dropped", &BusOpts.SendTimeout, 5*time.Second),
	sundaecli.DurationFlag("write-timeout", "websocket write deadline", &BusOpts.WriteTimeout, 10*time.Second),
	sundaecli.DurationFlag("read-timeout", "idle time before a silent connection is dropped", &BusOpts.ReadTimeout, 60*time.Second),
	sundaecli.Float64Flag("publish-rate", "PUB frames per second per connection; 0 disables", &BusOpts.PublishRate, 20),
	sundaecli.IntFlag("publish-burst", "PUB burst per connection", &BusOpts.PublishBurst, 40),
}

// SessionOptionsFromFlags returns the session options selected on the
// command line.
func SessionOptionsFromFlags() SessionOptions {
	return SessionOptions{
		OutboundBuffer: BusOpts.OutboundBuffer,
		SendTimeout:    BusOpts.SendTimeout,
		WriteTimeout:   BusOpts.WriteTimeout,
		ReadTimeout:    BusOpts.ReadTimeout,
		PendingLimit:   BusOpts.PendingLimit,
		ReorderWindow:  BusOpts.ReorderWindow,
		PublishRate:    BusOpts.PublishRate,
		PublishBurst:   BusOpts.PublishBurst,
	}
}
