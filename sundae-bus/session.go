package sundaebus

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	sundaecli "github.com/SundaeSwap-finance/sundae-bus/sundae-cli"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Transport moves raw frames for a single connection. ReadFrame and
// WriteFrame are each called from one goroutine; Close may be called from
// any goroutine and must unblock both.
type Transport interface {
	ReadFrame() (string, error)
	WriteFrame(frame string) error
	Close() error
}

type subscription struct {
	pending   bool      // catch-up still running
	buffered  []Message // live messages received while pending
	watermark int64     // highest sequence sent to the client
	held      []Message // received above watermark+1, sorted by sequence
	timer     *time.Timer
}

// ready merges msgs into the held set and pops, in order, every message that
// directly follows the watermark. Sequences at or below the watermark are
// discarded.
func (sub *subscription) ready(msgs ...Message) []Message {
	for _, msg := range msgs {
		if msg.Sequence <= sub.watermark {
			continue
		}
		i := sort.Search(len(sub.held), func(i int) bool { return sub.held[i].Sequence >= msg.Sequence })
		if i < len(sub.held) && sub.held[i].Sequence == msg.Sequence {
			continue
		}
		sub.held = append(sub.held, Message{})
		copy(sub.held[i+1:], sub.held[i:])
		sub.held[i] = msg
	}

	var out []Message
	for len(sub.held) > 0 && sub.held[0].Sequence == sub.watermark+1 {
		out = append(out, sub.held[0])
		sub.watermark = sub.held[0].Sequence
		sub.held = sub.held[1:]
	}
	return out
}

// expire stops waiting for the missing sequences and pops everything held.
func (sub *subscription) expire() []Message {
	out := sub.held
	if n := len(out); n > 0 {
		sub.watermark = out[n-1].Sequence
	}
	sub.held = nil
	return out
}

func (sub *subscription) stop() {
	if sub.timer != nil {
		sub.timer.Stop()
		sub.timer = nil
	}
}

// Session is one live client connection. It implements Conn so the registry
// can deliver to it, and owns the connection's read and write loops.
type Session struct {
	id        string
	bus       *Bus
	transport Transport
	opts      SessionOptions
	logger    zerolog.Logger
	limiter   *rate.Limiter

	out       chan string
	done      chan struct{}
	closeOnce sync.Once

	mu   sync.Mutex
	subs map[string]*subscription
}

func (b *Bus) NewSession(transport Transport) *Session {
	id := newULID()
	limit := rate.Inf
	if b.Session.PublishRate > 0 {
		limit = rate.Limit(b.Session.PublishRate)
	}
	return &Session{
		id:        id,
		bus:       b,
		transport: transport,
		opts:      b.Session,
		logger:    b.Logger.With().Str("connection_id", id).Logger(),
		limiter:   rate.NewLimiter(limit, b.Session.PublishBurst),
		out:       make(chan string, b.Session.OutboundBuffer),
		done:      make(chan struct{}),
		subs:      make(map[string]*subscription),
	}
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) String() string {
	return "session " + s.id
}

// Deliver queues a live message without waiting. Messages for streams the
// session is not subscribed to are ignored. While a subscribe is resolving
// catch-up, live messages for that stream are held and flushed after the
// catch-up reply. Messages reach the client in strictly increasing sequence
// order; one that arrives after a higher sequence was sent is dropped.
func (s *Session) Deliver(msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed() {
		return ErrConnectionGone
	}
	sub, ok := s.subs[msg.StreamID]
	if !ok {
		return nil
	}
	if sub.pending {
		if len(sub.buffered) >= s.opts.PendingLimit {
			s.Close()
			return fmt.Errorf("%w: catch-up backlog exceeded on stream %v", ErrConnectionGone, msg.StreamID)
		}
		sub.buffered = append(sub.buffered, msg)
		return nil
	}
	if msg.Sequence <= sub.watermark {
		s.logger.Debug().Str("stream", msg.StreamID).Int64("seq", msg.Sequence).Int64("watermark", sub.watermark).Msg("dropped stale message")
		return nil
	}
	return s.release(msg.StreamID, sub, sub.ready(msg))
}

// release queues ready messages and keeps the reorder timer armed while
// anything is held. The caller holds s.mu.
func (s *Session) release(streamID string, sub *subscription, ready []Message) error {
	for _, msg := range ready {
		if err := s.offer(MsgFrame(msg.StreamID, msg.Sequence, msg.Body)); err != nil {
			return err
		}
	}

	switch {
	case len(sub.held) == 0:
		sub.stop()
	case len(sub.held) > s.opts.PendingLimit:
		s.Close()
		return fmt.Errorf("%w: reorder backlog exceeded on stream %v", ErrConnectionGone, streamID)
	case sub.timer == nil:
		sub.timer = time.AfterFunc(s.opts.ReorderWindow, func() { s.expire(streamID, sub) })
	}
	return nil
}

func (s *Session) expire(streamID string, sub *subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed() || s.subs[streamID] != sub {
		return
	}
	sub.timer = nil
	from := sub.watermark
	held := sub.expire()
	s.logger.Debug().Str("stream", streamID).Int64("from", from).Int64("to", sub.watermark).Msg("gave up on missing sequences")
	_ = s.release(streamID, sub, held)
}

func (s *Session) Refresh() error {
	return s.offer(RefreshFrame())
}

// Close tears down the connection. It is safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		if err := s.transport.Close(); err != nil {
			s.logger.Debug().Err(err).Msg("transport close")
		}
	})
}

func (s *Session) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// offer queues a frame for the write loop without waiting. A full queue
// marks the connection as gone.
func (s *Session) offer(frame string) error {
	select {
	case <-s.done:
		return ErrConnectionGone
	case s.out <- frame:
		return nil
	default:
		s.logger.Warn().Msg("outbound queue full, closing connection")
		s.Close()
		return fmt.Errorf("%w: outbound queue full", ErrConnectionGone)
	}
}

// send queues a frame from the session's own goroutine. A queue that stays
// full past the send timeout marks the connection as gone.
func (s *Session) send(frame string) error {
	select {
	case <-s.done:
		return ErrConnectionGone
	case s.out <- frame:
		return nil
	default:
	}

	timer := time.NewTimer(s.opts.SendTimeout)
	defer timer.Stop()

	select {
	case <-s.done:
		return ErrConnectionGone
	case s.out <- frame:
		return nil
	case <-timer.C:
		s.logger.Warn().Msg("outbound queue full, closing connection")
		s.Close()
		return fmt.Errorf("%w: outbound queue full", ErrConnectionGone)
	}
}

// drain waits until the write loop has emptied the outbound queue to half
// its capacity, so live delivery resumes with room to spare.
func (s *Session) drain() error {
	deadline := time.NewTimer(s.opts.SendTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for len(s.out) > cap(s.out)/2 {
		select {
		case <-s.done:
			return ErrConnectionGone
		case <-deadline.C:
			s.logger.Warn().Msg("outbound queue not draining, closing connection")
			s.Close()
			return fmt.Errorf("%w: outbound queue not draining", ErrConnectionGone)
		case <-ticker.C:
		}
	}
	return nil
}

// Run serves the connection until the client disconnects or ctx is done.
// On return the session holds no registry entries.
func (s *Session) Run(ctx context.Context) error {
	atomic.AddInt64(&s.bus.open, 1)
	defer func() {
		s.bus.Registry.Drop(s)
		atomic.AddInt64(&s.bus.open, -1)
		s.bus.Metrics.Gauge(context.Background(), sundaecli.ConnectionsMetric, float64(s.bus.Connections()))
	}()
	defer s.Close()

	s.logger.Info().Msg("connection opened")
	defer s.logger.Info().Msg("connection closed")

	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-s.done:
		}
	}()
	go s.writeLoop()

	for {
		data, err := s.transport.ReadFrame()
		if err != nil {
			if s.closed() {
				return nil
			}
			return err
		}
		s.handle(ctx, data)
	}
}

func (s *Session) writeLoop() {
	for {
		select {
		case <-s.done:
			return
		case frame := <-s.out:
			if err := s.transport.WriteFrame(frame); err != nil {
				s.logger.Debug().Err(err).Msg("write failed")
				s.Close()
				return
			}
		}
	}
}

func (s *Session) handle(ctx context.Context, data string) {
	frame, err := ParseFrame(data)
	if err != nil {
		action, _, _ := strings.Cut(data, separator)
		s.logger.Debug().Err(err).Str("action", action).Msg("rejected frame")
		_ = s.send(ErrorFrame(action, reason(err)))
		return
	}

	switch frame.Action {
	case ActionSub:
		s.subscribe(ctx, frame.StreamID, frame.Sequence)
	case ActionUnsub:
		s.unsubscribe(frame.StreamID)
	case ActionNotify:
		s.bus.Registry.Observe(s, frame.Identity)
	case ActionPub:
		s.publish(ctx, frame)
	}
}

// subscribe registers for live delivery before resolving catch-up, so
// nothing committed while the catch-up query runs is lost. Live messages
// at or below the catch-up watermark are discarded when flushed.
func (s *Session) subscribe(ctx context.Context, streamID string, lastKnown int64) {
	sub := &subscription{pending: true}
	s.mu.Lock()
	if prior, ok := s.subs[streamID]; ok {
		prior.stop()
	}
	s.subs[streamID] = sub
	s.mu.Unlock()
	s.bus.Registry.Subscribe(s, streamID)

	reply, err := s.bus.Resolver.Resolve(ctx, streamID, lastKnown)
	if err != nil {
		s.logger.Error().Err(err).Str("stream", streamID).Msg("catch-up failed")
		s.unsubscribe(streamID)
		_ = s.send(ErrorFrame(ActionSub, reason(err)))
		return
	}

	if reply.Empty {
		if err := s.send(MsgFrame(streamID, reply.Next, nil)); err != nil {
			return
		}
	}
	for _, msg := range reply.Messages {
		if err := s.send(MsgFrame(msg.StreamID, msg.Sequence, msg.Body)); err != nil {
			return
		}
	}

	// Flush what arrived during catch-up. Sending happens outside the lock so
	// Deliver never waits on this connection; the subscription stays pending
	// until a pass finds nothing more to send.
	watermark := reply.Watermark()
	for {
		s.mu.Lock()
		if s.subs[streamID] != sub {
			s.mu.Unlock()
			return
		}
		if watermark > sub.watermark {
			sub.watermark = watermark
		}
		ready := sub.ready(sub.buffered...)
		sub.buffered = nil
		if len(ready) == 0 && len(s.out) > cap(s.out)/2 {
			s.mu.Unlock()
			if err := s.drain(); err != nil {
				return
			}
			continue
		}
		if len(ready) == 0 {
			sub.pending = false
			err := s.release(streamID, sub, nil)
			s.mu.Unlock()
			if err != nil {
				return
			}
			break
		}
		s.mu.Unlock()

		for _, msg := range ready {
			if err := s.send(MsgFrame(msg.StreamID, msg.Sequence, msg.Body)); err != nil {
				return
			}
		}
	}

	s.logger.Debug().
		Str("stream", streamID).
		Int64("last_known", lastKnown).
		Int64("watermark", watermark).
		Int("catch_up", len(reply.Messages)).
		Msg("subscribed")
}

func (s *Session) unsubscribe(streamID string) {
	s.mu.Lock()
	if sub, ok := s.subs[streamID]; ok {
		sub.stop()
		delete(s.subs, streamID)
	}
	s.mu.Unlock()
	s.bus.Registry.Unsubscribe(s, streamID)
}

func (s *Session) publish(ctx context.Context, frame *Frame) {
	if !s.limiter.Allow() {
		_ = s.send(ErrorFrame(ActionPub, "rate limited"))
		return
	}

	_, err := s.bus.Publish(ctx, frame.StreamID, "", []byte(frame.Body))
	if err != nil {
		_ = s.send(ErrorFrame(ActionPub, reason(err)))
	}
}
