package sundaebus

import (
	"fmt"
	"strconv"
	"strings"
)

// Pipe-delimited frame actions. The first field of every frame is the action.
const (
	ActionSub     = "SUB"
	ActionUnsub   = "UNSUB"
	ActionPub     = "PUB"
	ActionNotify  = "NOTIFY"
	ActionMsg     = "MSG"
	ActionRefresh = "REFRESH"
	ActionErr     = "ERR"
)

const separator = "|"

// Frame is a parsed client frame.
type Frame struct {
	Action    string
	StreamID  string // SUB, UNSUB, PUB
	Sequence  int64  // SUB: last known sequence
	Identity  string // NOTIFY
	Publisher string // PUB
	Body      string // PUB: everything after the stream id
}

// ParseFrame parses a client to server frame. The body of a PUB frame is
// kept verbatim, including any separators it contains.
func ParseFrame(data string) (*Frame, error) {
	action, rest, _ := strings.Cut(data, separator)
	frame := &Frame{Action: action}

	switch action {
	case ActionSub:
		streamID, seq, _ := strings.Cut(rest, separator)
		seq, _, _ = strings.Cut(seq, separator)
		frame.StreamID = streamID
		if seq != "" {
			v, err := strconv.ParseInt(seq, 10, 64)
			if err != nil || v < 0 {
				return nil, fmt.Errorf("%w: invalid sequence %q", ErrValidation, seq)
			}
			frame.Sequence = v
		}

	case ActionUnsub:
		frame.StreamID, _, _ = strings.Cut(rest, separator)

	case ActionPub:
		streamID, body, ok := strings.Cut(rest, separator)
		if !ok {
			return nil, fmt.Errorf("%w: publish without body", ErrValidation)
		}
		frame.StreamID = streamID
		frame.Body = body
		if publisher, _, ok := strings.Cut(body, separator); ok {
			frame.Publisher = publisher
		}

	case ActionNotify:
		frame.Identity, _, _ = strings.Cut(rest, separator)
		if err := ValidateIdentifier("identity", frame.Identity); err != nil {
			return nil, err
		}
		return frame, nil

	default:
		return nil, fmt.Errorf("%w: unknown action %q", ErrValidation, action)
	}

	if err := ValidateIdentifier("stream", frame.StreamID); err != nil {
		return nil, err
	}
	return frame, nil
}

// MsgFrame formats a delivered message. An empty body with the sentinel or
// tip sequence tells the client to advance its watermark.
func MsgFrame(streamID string, seq int64, body []byte) string {
	return ActionMsg + separator + streamID + separator + strconv.FormatInt(seq, 10) + separator + string(body)
}

func RefreshFrame() string {
	return ActionRefresh
}

func ErrorFrame(action, reason string) string {
	return ActionErr + separator + action + separator + reason
}
