package sundaecron

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	sundaecli "github.com/SundaeSwap-finance/sundae-bus/sundae-cli"
	"github.com/tj/assert"
)

func TestRun(t *testing.T) {
	var calls int32
	h := NewHandler(sundaecli.NewService("test"), 5*time.Millisecond, func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("boom")
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt32(&calls) < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	assert.True(t, errors.Is(<-done, context.Canceled))
	assert.True(t, atomic.LoadInt32(&calls) >= 3)
}

func TestRunDisabled(t *testing.T) {
	var calls int32
	h := NewHandler(sundaecli.NewService("test"), 0, func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.NotNil(t, h.Run(ctx))
	assert.EqualValues(t, 0, atomic.LoadInt32(&calls))
}
