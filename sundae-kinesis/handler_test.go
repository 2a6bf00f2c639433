package sundaekinesis

import (
	"context"
	"errors"
	"testing"

	sundaecli "github.com/SundaeSwap-finance/sundae-bus/sundae-cli"
	"github.com/tj/assert"
)

func TestHandleRecord(t *testing.T) {
	var (
		gotData []byte
		gotSeq  interface{}
	)
	h := NewGenericHandler(sundaecli.NewService("test"), nil, "events", func(ctx context.Context, data []byte) error {
		gotData = data
		gotSeq = ctx.Value(KinesisSequenceNumberKey)
		return nil
	})

	err := h.HandleRecord(context.Background(), "42", []byte("hello"))
	assert.Nil(t, err)
	assert.Equal(t, "hello", string(gotData))
	assert.Equal(t, "42", gotSeq)
	assert.Equal(t, "events", h.StreamName)
}

func TestHandleRecordError(t *testing.T) {
	boom := errors.New("boom")
	h := NewGenericHandler(sundaecli.NewService("test"), nil, "events", func(context.Context, []byte) error {
		return boom
	})

	err := h.HandleRecord(context.Background(), "42", nil)
	assert.True(t, errors.Is(err, boom))
}

func TestIteratorOptions(t *testing.T) {
	defer func(replay bool) { KinesisOpts.Replay = replay }(KinesisOpts.Replay)

	KinesisOpts.Replay = false
	assert.Len(t, iteratorOptions(), 1)

	KinesisOpts.Replay = true
	assert.Len(t, iteratorOptions(), 1)
}
