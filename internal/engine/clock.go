package engine

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/tradewire/settled/internal/domain"
)

// TickingClock is a domain.BlockClock that advances its height once per
// interval, standing in for the host chain's block production.
type TickingClock struct {
	height   atomic.Uint64
	interval time.Duration
	logger   *slog.Logger
}

// NewTickingClock creates a clock starting at the given height.
func NewTickingClock(start uint64, interval time.Duration, logger *slog.Logger) *TickingClock {
	c := &TickingClock{
		interval: interval,
		logger:   logger.With(slog.String("component", "blockclock")),
	}
	c.height.Store(start)
	return c
}

// Height returns the current block height.
func (c *TickingClock) Height() uint64 {
	return c.height.Load()
}

// Run advances the height until the context is cancelled.
func (c *TickingClock) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.logger.Info("block clock started",
		slog.Uint64("height", c.Height()),
		slog.Duration("interval", c.interval),
	)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			h := c.height.Add(1)
			c.logger.Debug("block advanced", slog.Uint64("height", h))
		}
	}
}

// ManualClock is a domain.BlockClock driven explicitly; used by tests and
// replay, where block progression comes from recorded data rather than time.
type ManualClock struct {
	height atomic.Uint64
}

// NewManualClock creates a clock fixed at the given height until advanced.
func NewManualClock(start uint64) *ManualClock {
	c := &ManualClock{}
	c.height.Store(start)
	return c
}

// Height returns the current block height.
func (c *ManualClock) Height() uint64 {
	return c.height.Load()
}

// Advance increments the height by n blocks.
func (c *ManualClock) Advance(n uint64) {
	c.height.Add(n)
}

// Set moves the clock to an absolute height.
func (c *ManualClock) Set(h uint64) {
	c.height.Store(h)
}

var (
	_ domain.BlockClock = (*TickingClock)(nil)
	_ domain.BlockClock = (*ManualClock)(nil)
)
