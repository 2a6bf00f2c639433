package sundaebus

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryLog is an in-process Log. Every accepted row is also appended to a
// commit-ordered journal that backs the live feed returned by Changes.
type MemoryLog struct {
	// FailInsert, when set, is consulted after the counter has been
	// advanced; a non-nil error aborts the insert and burns the sequence.
	FailInsert func(msg Message) error

	mut      sync.Mutex
	cond     *sync.Cond
	counters map[string]int64
	streams  map[string][]Message
	keys     map[string]struct{}
	journal  []Message
}

var _ Log = (*MemoryLog)(nil)

func NewMemoryLog() *MemoryLog {
	l := &MemoryLog{
		counters: make(map[string]int64),
		streams:  make(map[string][]Message),
		keys:     make(map[string]struct{}),
	}
	l.cond = sync.NewCond(&l.mut)
	return l
}

func (l *MemoryLog) Append(ctx context.Context, streamID, dedupKey string, body []byte) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	l.mut.Lock()
	defer l.mut.Unlock()

	next := SentinelSequence + 1
	if prior, ok := l.counters[streamID]; ok {
		next = prior + 1
	}
	l.counters[streamID] = next

	msg := Message{
		DedupKey: dedupKey,
		StreamID: streamID,
		Sequence: next,
		Body:     append([]byte(nil), body...),
	}
	if _, ok := l.keys[dedupKey]; ok {
		return 0, fmt.Errorf("append to stream %v burned sequence %v: %w", streamID, next, ErrDuplicate)
	}
	if l.FailInsert != nil {
		if err := l.FailInsert(msg); err != nil {
			return 0, fmt.Errorf("append to stream %v burned sequence %v: %w", streamID, next, err)
		}
	}

	l.keys[dedupKey] = struct{}{}
	l.streams[streamID] = append(l.streams[streamID], msg)
	l.journal = append(l.journal, msg)
	l.cond.Broadcast()
	return next, nil
}

// Range returns up to limit rows of the stream with sequence >= minSequence
// in ascending order. When more rows qualify, the newest are returned.
func (l *MemoryLog) Range(ctx context.Context, streamID string, minSequence int64, limit int) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if limit <= 0 {
		return nil, nil
	}

	l.mut.Lock()
	defer l.mut.Unlock()

	rows := l.streams[streamID]
	lower := sort.Search(len(rows), func(i int) bool { return rows[i].Sequence >= minSequence })
	if n := len(rows) - lower; n > limit {
		lower = len(rows) - limit
	}
	if lower == len(rows) {
		return nil, nil
	}
	result := make([]Message, len(rows)-lower)
	copy(result, rows[lower:])
	return result, nil
}

// Tip returns the last assigned sequence of the stream, or 0 when nothing has
// been assigned yet.
func (l *MemoryLog) Tip(streamID string) int64 {
	l.mut.Lock()
	defer l.mut.Unlock()
	return l.counters[streamID]
}

// Changes returns a feed of rows committed after the call, in commit order.
// The feed closes when ctx is done. Slow readers do not block Append; rows
// wait in the journal until read.
func (l *MemoryLog) Changes(ctx context.Context) (<-chan Message, error) {
	l.mut.Lock()
	cursor := len(l.journal)
	l.mut.Unlock()

	ch := make(chan Message)
	go func() {
		defer close(ch)
		stop := broadcastOnDone(ctx, l.cond)
		defer stop()

		for {
			l.mut.Lock()
			for cursor >= len(l.journal) && ctx.Err() == nil {
				l.cond.Wait()
			}
			if ctx.Err() != nil {
				l.mut.Unlock()
				return
			}
			batch := l.journal[cursor:len(l.journal):len(l.journal)]
			cursor = len(l.journal)
			l.mut.Unlock()

			for _, msg := range batch {
				select {
				case ch <- msg:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return ch, nil
}

// broadcastOnDone wakes every waiter of cond once ctx is done, so waiters can
// observe the cancellation.
func broadcastOnDone(ctx context.Context, cond *sync.Cond) (cancel func()) {
	donec := ctx.Done()
	if donec == nil {
		return func() {}
	}

	cancelc := make(chan struct{})
	go func() {
		select {
		case <-donec:
			cond.L.Lock()
			cond.Broadcast()
			cond.L.Unlock()
		case <-cancelc:
		}
	}()
	return func() { close(cancelc) }
}
