package sundaebus

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	sundaecli "github.com/SundaeSwap-finance/sundae-bus/sundae-cli"
	"github.com/rs/zerolog"
)

// Mirror receives every message accepted by the log, e.g. to forward it to
// an external change stream.
type Mirror interface {
	Send(ctx context.Context, msg Message) error
}

type SessionOptions struct {
	OutboundBuffer int           // frames queued per connection (default 256)
	SendTimeout    time.Duration // max wait for a full outbound queue during catch-up (default 5s)
	WriteTimeout   time.Duration // websocket write deadline (default 10s)
	ReadTimeout    time.Duration // idle time before a silent peer is dropped (default 60s)
	PendingLimit   int           // live messages held per stream during catch-up or reordering (default 1000)
	ReorderWindow  time.Duration // max wait for a missing sequence before later ones are sent (default 250ms)
	PublishRate    float64       // PUB frames per second per connection; 0 disables the limit
	PublishBurst   int
}

func (o SessionOptions) withDefaults() SessionOptions {
	if o.OutboundBuffer <= 0 {
		o.OutboundBuffer = 256
	}
	if o.SendTimeout <= 0 {
		o.SendTimeout = 5 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = 60 * time.Second
	}
	if o.PendingLimit <= 0 {
		o.PendingLimit = 1000
	}
	if o.ReorderWindow <= 0 {
		o.ReorderWindow = 250 * time.Millisecond
	}
	if o.PublishBurst <= 0 {
		o.PublishBurst = 1
	}
	return o
}

type Config struct {
	Log          Log
	Mirror       Mirror
	Logger       zerolog.Logger
	Metrics      sundaecli.Metrics
	CatchUpLimit int
	Session      SessionOptions
}

// Bus owns the process-local state shared by every connection. Independent
// instances share nothing.
type Bus struct {
	Log        Log
	Registry   *Registry
	Resolver   *Resolver
	Membership *Membership
	Mirror     Mirror
	Logger     zerolog.Logger
	Metrics    sundaecli.Metrics
	Session    SessionOptions

	open int64 // sessions currently running
}

func New(cfg Config) *Bus {
	registry := NewRegistry()
	return &Bus{
		Log:      cfg.Log,
		Registry: registry,
		Resolver: &Resolver{Log: cfg.Log, Limit: cfg.CatchUpLimit},
		Membership: &Membership{
			Directory: NewDirectory(),
			Notifier:  &Notifier{Registry: registry, Logger: cfg.Logger},
		},
		Mirror:  cfg.Mirror,
		Logger:  cfg.Logger,
		Metrics: cfg.Metrics,
		Session: cfg.Session.withDefaults(),
	}
}

// Connections returns the number of running sessions, whether or not they
// hold any subscription.
func (b *Bus) Connections() int {
	return int(atomic.LoadInt64(&b.open))
}

// Dispatcher returns a live fan-out bound to this bus's registry.
func (b *Bus) Dispatcher(concurrency int) *Dispatcher {
	return &Dispatcher{
		Registry:    b.Registry,
		Logger:      b.Logger,
		Metrics:     b.Metrics,
		Concurrency: concurrency,
	}
}

// Publish appends body to the stream. Failures are logged and returned to
// the caller; the bus never retries.
func (b *Bus) Publish(ctx context.Context, streamID, dedupKey string, body []byte) (int64, error) {
	if err := ValidateIdentifier("stream", streamID); err != nil {
		return 0, err
	}
	if dedupKey == "" {
		dedupKey = NewDedupKey()
	}

	seq, err := b.Log.Append(ctx, streamID, dedupKey, body)
	if err != nil {
		b.Logger.Error().Err(err).
			Str("stream", streamID).
			Str("dedup_key", dedupKey).
			Msg("append failed")
		b.Metrics.Event(ctx, sundaecli.PublishFailedMetric)
		return 0, err
	}
	b.Metrics.Event(ctx, sundaecli.PublishAcceptedMetric)

	if b.Mirror != nil {
		msg := Message{DedupKey: dedupKey, StreamID: streamID, Sequence: seq, Body: body}
		if err := b.Mirror.Send(ctx, msg); err != nil {
			b.Logger.Warn().Err(err).
				Str("stream", streamID).
				Int64("seq", seq).
				Msg("mirror failed; message is durable and will be recovered by catch-up")
		}
	}
	return seq, nil
}

// reason maps an error to the short text carried by an ERR frame.
func reason(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "invalid request"
	case errors.Is(err, ErrDuplicate):
		return "duplicate"
	case errors.Is(err, ErrConflict):
		return "conflict"
	default:
		return "unavailable"
	}
}
