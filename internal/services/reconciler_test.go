package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	domain "github.com/maplecart/api/internal/domain"
)

// recordingOrderService captures CompleteDeferredSteps calls for sweep tests.
type recordingOrderService struct {
	OrderService

	mu        sync.Mutex
	completed []string
	failFor   map[string]error
}

func (s *recordingOrderService) CompleteDeferredSteps(_ context.Context, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.failFor[orderID]; ok {
		return err
	}
	s.completed = append(s.completed, orderID)
	return nil
}

func TestSweepProcessesOnlyStaleIncompleteCheckpoints(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	checkpoints := newStubCheckpointRepo()
	orders := &recordingOrderService{}

	stale := domain.OrderCheckpoint{
		OrderID:   "ord_stale",
		Completed: map[string]bool{domain.StepProfileUpsert: true},
		UpdatedAt: now.Add(-5 * time.Minute),
	}
	fresh := domain.OrderCheckpoint{
		OrderID:   "ord_fresh",
		Completed: map[string]bool{},
		UpdatedAt: now.Add(-10 * time.Second),
	}
	done := domain.OrderCheckpoint{
		OrderID:   "ord_done",
		Completed: map[string]bool{},
		UpdatedAt: now.Add(-5 * time.Minute),
	}
	for _, step := range domain.CheckpointSteps() {
		done.Completed[step] = true
	}
	for _, checkpoint := range []domain.OrderCheckpoint{stale, fresh, done} {
		if err := checkpoints.Put(context.Background(), checkpoint); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	reconciler, err := NewReconciler(ReconcilerDeps{
		Orders:      orders,
		Checkpoints: checkpoints,
		MinAge:      time.Minute,
		Clock:       func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("NewReconciler: %v", err)
	}

	processed, err := reconciler.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if processed != 1 {
		t.Errorf("processed = %d, want 1", processed)
	}
	if len(orders.completed) != 1 || orders.completed[0] != "ord_stale" {
		t.Errorf("completed = %v, want only ord_stale", orders.completed)
	}
}

func TestSweepContinuesPastFailingOrders(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	checkpoints := newStubCheckpointRepo()
	orders := &recordingOrderService{
		failFor: map[string]error{"ord_bad": errors.New("still broken")},
	}

	for _, orderID := range []string{"ord_bad", "ord_good"} {
		err := checkpoints.Put(context.Background(), domain.OrderCheckpoint{
			OrderID:   orderID,
			Completed: map[string]bool{},
			UpdatedAt: now.Add(-time.Hour),
		})
		if err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	reconciler, err := NewReconciler(ReconcilerDeps{
		Orders:      orders,
		Checkpoints: checkpoints,
		Clock:       func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("NewReconciler: %v", err)
	}

	processed, err := reconciler.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if processed != 1 {
		t.Errorf("processed = %d, want 1", processed)
	}
	if len(orders.completed) != 1 || orders.completed[0] != "ord_good" {
		t.Errorf("completed = %v, want only ord_good", orders.completed)
	}
}

func TestSweepStopsOnCancelledContext(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	checkpoints := newStubCheckpointRepo()
	orders := &recordingOrderService{}

	err := checkpoints.Put(context.Background(), domain.OrderCheckpoint{
		OrderID:   "ord_1",
		Completed: map[string]bool{},
		UpdatedAt: now.Add(-time.Hour),
	})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	reconciler, err := NewReconciler(ReconcilerDeps{
		Orders:      orders,
		Checkpoints: checkpoints,
		Clock:       func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("NewReconciler: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := reconciler.Sweep(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
	if len(orders.completed) != 0 {
		t.Errorf("completed = %v, want none", orders.completed)
	}
}

func TestNewReconcilerRequiresCollaborators(t *testing.T) {
	if _, err := NewReconciler(ReconcilerDeps{Checkpoints: newStubCheckpointRepo()}); err == nil {
		t.Error("missing order service must be rejected")
	}
	if _, err := NewReconciler(ReconcilerDeps{Orders: &recordingOrderService{}}); err == nil {
		t.Error("missing checkpoint repository must be rejected")
	}
}

func TestReconcilerEndToEndFinishesDeferredTail(t *testing.T) {
	f := newOrderFixture(t)
	f.cart.err = errors.New("cart unavailable")

	order, err := f.service.CreateOrder(context.Background(), ownerCommand())
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if _, ok := f.checkpoints.get(order.ID); !ok {
		t.Fatal("expected a lingering checkpoint")
	}

	f.cart.err = nil
	reconciler, err := NewReconciler(ReconcilerDeps{
		Orders:      f.service,
		Checkpoints: f.checkpoints,
		MinAge:      time.Minute,
		// The fixture clock is fixed, so push the sweep cutoff past it.
		Clock: func() time.Time { return time.Date(2026, 5, 1, 13, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("NewReconciler: %v", err)
	}

	processed, err := reconciler.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if processed != 1 {
		t.Errorf("processed = %d, want 1", processed)
	}
	if _, ok := f.checkpoints.get(order.ID); ok {
		t.Error("checkpoint must be deleted after the reconciler finishes the tail")
	}
	if len(f.cart.cleared) != 1 {
		t.Errorf("cart cleared %d times, want 1", len(f.cart.cleared))
	}
}
