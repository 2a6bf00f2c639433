// Package sundaebus implements the channel messaging bus: the connection
// registry, catch-up resolution, live fan-out from the durable log to
// websocket sessions, and membership refresh notifications.
package sundaebus

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// SentinelSequence is reserved to mean "no messages yet / nothing new".
// The first real message of a stream is assigned SentinelSequence+1.
const SentinelSequence int64 = 1

const maxIdentifierLength = 256

var (
	ErrValidation         = errors.New("validation failed")
	ErrConflict           = errors.New("sequence conflict")
	ErrDuplicate          = errors.New("duplicate dedup key")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrConnectionGone     = errors.New("connection gone")
)

// Message is a single row of the durable log.
type Message struct {
	DedupKey string `json:"dedup_key"`
	StreamID string `json:"stream_id"`
	Sequence int64  `json:"seq"`
	Body     []byte `json:"body"`
}

// Log is the durable, per-stream ordered message store. Append assigns the
// next sequence and inserts the row as one atomic step with respect to other
// appends on the same stream; a failed insert burns the assigned sequence.
type Log interface {
	Append(ctx context.Context, streamID, dedupKey string, body []byte) (int64, error)
	Range(ctx context.Context, streamID string, minSequence int64, limit int) ([]Message, error)
}

// ValidateIdentifier rejects stream ids and identities that cannot be carried
// in a frame or stored as a key.
func ValidateIdentifier(kind, id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty %v", ErrValidation, kind)
	}
	if len(id) > maxIdentifierLength {
		return fmt.Errorf("%w: %v longer than %v bytes", ErrValidation, kind, maxIdentifierLength)
	}
	for i := 0; i < len(id); i++ {
		if c := id[i]; c < 0x20 || c > 0x7e || c == '|' {
			return fmt.Errorf("%w: invalid %v %q", ErrValidation, kind, id)
		}
	}
	return nil
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

func newULID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// NewDedupKey generates a unique dedup key for publishes that carry none.
func NewDedupKey() string {
	return newULID()
}
