package services

import (
	"context"
	"errors"
	"time"

	"github.com/googleapis/gax-go/v2"

	"github.com/maplecart/api/internal/repositories"
)

// ReconcilerDeps bundles collaborators required to construct the reconciler.
type ReconcilerDeps struct {
	Orders      OrderService
	Checkpoints repositories.CheckpointRepository
	// Interval between sweeps. Defaults to 30s.
	Interval time.Duration
	// BatchSize caps how many checkpoints a sweep processes. Defaults to 50.
	BatchSize int
	// MinAge keeps the reconciler away from orders whose creation request is
	// likely still in flight. Defaults to 1m.
	MinAge time.Duration
	Clock  func() time.Time
	Logger func(ctx context.Context, event string, fields map[string]any)
}

// Reconciler periodically finishes the post-commit steps of orders whose
// creation request failed partway through the tail.
type Reconciler struct {
	orders      OrderService
	checkpoints repositories.CheckpointRepository
	interval    time.Duration
	batchSize   int
	minAge      time.Duration
	clock       func() time.Time
	logger      func(context.Context, string, map[string]any)
}

// NewReconciler wires dependencies into a Reconciler.
func NewReconciler(deps ReconcilerDeps) (*Reconciler, error) {
	if deps.Orders == nil {
		return nil, errors.New("reconciler: order service is required")
	}
	if deps.Checkpoints == nil {
		return nil, errors.New("reconciler: checkpoint repository is required")
	}

	interval := deps.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	batchSize := deps.BatchSize
	if batchSize <= 0 {
		batchSize = 50
	}
	minAge := deps.MinAge
	if minAge <= 0 {
		minAge = time.Minute
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &Reconciler{
		orders:      deps.Orders,
		checkpoints: deps.Checkpoints,
		interval:    interval,
		batchSize:   batchSize,
		minAge:      minAge,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// Run sweeps until the context is cancelled. Sweep failures back off
// exponentially instead of hammering an unavailable backend.
func (r *Reconciler) Run(ctx context.Context) {
	backoff := gax.Backoff{
		Initial:    r.interval,
		Max:        10 * r.interval,
		Multiplier: 2,
	}

	timer := time.NewTimer(r.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		processed, err := r.Sweep(ctx)
		if err != nil {
			r.logger(ctx, "reconciler.sweep.failed", map[string]any{"error": err.Error()})
			timer.Reset(backoff.Pause())
			continue
		}
		if processed > 0 {
			r.logger(ctx, "reconciler.sweep.completed", map[string]any{"processed": processed})
		}
		backoff = gax.Backoff{Initial: r.interval, Max: 10 * r.interval, Multiplier: 2}
		timer.Reset(r.interval)
	}
}

// Sweep runs one reconciliation pass and reports how many orders it touched.
func (r *Reconciler) Sweep(ctx context.Context) (int, error) {
	cutoff := r.clock().Add(-r.minAge)
	checkpoints, err := r.checkpoints.ListIncomplete(ctx, cutoff, r.batchSize)
	if err != nil {
		return 0, err
	}

	processed := 0
	for _, checkpoint := range checkpoints {
		if ctx.Err() != nil {
			return processed, ctx.Err()
		}
		if err := r.orders.CompleteDeferredSteps(ctx, checkpoint.OrderID); err != nil {
			r.logger(ctx, "reconciler.order.failed", map[string]any{
				"orderId": checkpoint.OrderID,
				"error":   err.Error(),
			})
			continue
		}
		processed++
	}
	return processed, nil
}
