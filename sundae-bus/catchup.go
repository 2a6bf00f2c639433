package sundaebus

import (
	"context"
	"fmt"
)

// DefaultCatchUpLimit bounds the number of rows replayed by a single catch-up.
const DefaultCatchUpLimit = 1000

// Reply is the outcome of a catch-up. An empty reply carries only the
// sequence the client should adopt as its new watermark; otherwise Messages
// holds the missed rows in ascending order.
type Reply struct {
	Empty    bool
	Next     int64
	Messages []Message
}

func emptyReply(next int64) Reply {
	return Reply{Empty: true, Next: next}
}

// Watermark is the highest sequence the client holds once the reply has been
// delivered.
func (r Reply) Watermark() int64 {
	if r.Empty || len(r.Messages) == 0 {
		return r.Next
	}
	return r.Messages[len(r.Messages)-1].Sequence
}

// Resolver computes what a (re)subscribing client has missed.
type Resolver struct {
	Log   Log
	Limit int
}

func (r *Resolver) limit() int {
	if r.Limit <= 0 {
		return DefaultCatchUpLimit
	}
	return r.Limit
}

// Resolve never replays a sequence the client already reported, and always
// yields a value the client can use as its new watermark.
func (r *Resolver) Resolve(ctx context.Context, streamID string, lastKnown int64) (Reply, error) {
	rows, err := r.Log.Range(ctx, streamID, lastKnown, r.limit())
	if err != nil {
		return Reply{}, fmt.Errorf("catch-up of stream %v from %v: %w", streamID, lastKnown, err)
	}

	switch {
	case lastKnown == 0 && len(rows) == 0:
		return emptyReply(SentinelSequence), nil

	case lastKnown == 0:
		// a client that never synced learns the tip but gets no history
		return emptyReply(rows[len(rows)-1].Sequence), nil

	case lastKnown == SentinelSequence && len(rows) == 0:
		return emptyReply(SentinelSequence), nil

	case len(rows) == 0, len(rows) == 1 && rows[0].Sequence == lastKnown:
		tip, err := r.Log.Range(ctx, streamID, 0, 1)
		if err != nil {
			return Reply{}, fmt.Errorf("catch-up of stream %v: probing tip: %w", streamID, err)
		}
		if len(tip) == 0 {
			return emptyReply(SentinelSequence), nil
		}
		return emptyReply(tip[0].Sequence), nil
	}

	if rows[0].Sequence == lastKnown {
		rows = rows[1:]
	}
	return Reply{Next: rows[len(rows)-1].Sequence, Messages: rows}, nil
}
