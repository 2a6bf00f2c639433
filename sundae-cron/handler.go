// Package sundaecron runs scheduled tasks inside a long-lived service.
package sundaecron

import (
	"context"
	"time"

	sundaecli "github.com/SundaeSwap-finance/sundae-bus/sundae-cli"
	"github.com/rs/zerolog"
)

type RunCallback func(ctx context.Context) error

type Handler struct {
	service  sundaecli.Service
	logger   zerolog.Logger
	interval time.Duration

	runOnce RunCallback
}

func NewHandler(
	service sundaecli.Service,
	interval time.Duration,
	runOnce RunCallback,
) *Handler {
	return &Handler{
		service:  service,
		logger:   sundaecli.Logger(service),
		interval: interval,
		runOnce:  runOnce,
	}
}

func (h *Handler) RunOnce(ctx context.Context) error {
	h.logger.Trace().Msg("running scheduled task")
	return h.runOnce(ctx)
}

// Run calls the task every interval until ctx is done. A failed run is
// logged and retried on the next tick.
func (h *Handler) Run(ctx context.Context) error {
	if h.interval <= 0 {
		h.logger.Info().Msg("scheduled task disabled")
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := h.RunOnce(ctx); err != nil {
				h.logger.Warn().Err(err).Msg("scheduled task failed")
			}
		}
	}
}
