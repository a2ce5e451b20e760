package swap

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/monerizer/monerizerd/pkg/logging"
)

// Sweeper periodically advances every non-terminal swap. One sweep
// processes swaps with bounded parallelism; a failing swap never stalls
// the others.
type Sweeper struct {
	engine      *Engine
	registry    *Registry
	interval    time.Duration
	parallelism int
	log         *logging.Logger
}

// NewSweeper creates a sweeper. parallelism < 1 means sequential.
func NewSweeper(engine *Engine, registry *Registry, interval time.Duration, parallelism int) *Sweeper {
	if parallelism < 1 {
		parallelism = 1
	}
	return &Sweeper{
		engine:      engine,
		registry:    registry,
		interval:    interval,
		parallelism: parallelism,
		log:         logging.GetDefault().Component("sweeper"),
	}
}

// Run loops until the context is cancelled.
func (w *Sweeper) Run(ctx context.Context) {
	w.log.Info("Sweeper started", "interval", w.interval, "parallelism", w.parallelism)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("Sweeper stopped")
			return
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

// Sweep advances every non-terminal swap once.
func (w *Sweeper) Sweep(ctx context.Context) {
	var ids []string
	for _, s := range w.registry.List() {
		if !s.Terminal() {
			ids = append(ids, s.ID)
		}
	}
	if len(ids) == 0 {
		return
	}

	g := &errgroup.Group{}
	g.SetLimit(w.parallelism)
	for _, id := range ids {
		g.Go(func() error {
			if _, err := w.engine.Advance(ctx, id); err != nil && !errors.Is(err, context.Canceled) {
				w.log.Warn("Advance failed", "id", id, "error", err)
			}
			return nil
		})
	}
	g.Wait()
}
