package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/maplecart/api/internal/domain"
	pfirestore "github.com/maplecart/api/internal/platform/firestore"
)

const checkpointsCollection = "order_checkpoints"

// CheckpointRepository stores the per-order post-commit progress log.
type CheckpointRepository struct {
	col *pfirestore.Collection[checkpointDocument]
}

// NewCheckpointRepository constructs a Firestore-backed checkpoint repository.
func NewCheckpointRepository(provider *pfirestore.Provider) (*CheckpointRepository, error) {
	if provider == nil {
		return nil, errors.New("checkpoint repository: firestore provider is required")
	}
	return &CheckpointRepository{
		col: pfirestore.NewCollection[checkpointDocument](provider, checkpointsCollection),
	}, nil
}

// Put upserts the checkpoint for an order.
func (r *CheckpointRepository) Put(ctx context.Context, checkpoint domain.OrderCheckpoint) error {
	if r == nil || r.col == nil {
		return errors.New("checkpoint repository not initialised")
	}
	orderID := strings.TrimSpace(checkpoint.OrderID)
	if orderID == "" {
		return errors.New("checkpoint repository: order id is required")
	}
	return r.col.Set(ctx, orderID, encodeCheckpoint(checkpoint))
}

// Get loads the checkpoint for an order.
func (r *CheckpointRepository) Get(ctx context.Context, orderID string) (domain.OrderCheckpoint, error) {
	if r == nil || r.col == nil {
		return domain.OrderCheckpoint{}, errors.New("checkpoint repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.OrderCheckpoint{}, errors.New("checkpoint repository: order id is required")
	}
	doc, err := r.col.Get(ctx, orderID)
	if err != nil {
		return domain.OrderCheckpoint{}, err
	}
	return decodeCheckpoint(doc.ID, doc.Data), nil
}

// MarkStep flags a single step as completed and returns the updated checkpoint.
func (r *CheckpointRepository) MarkStep(ctx context.Context, orderID, step string, at time.Time) (domain.OrderCheckpoint, error) {
	if r == nil || r.col == nil {
		return domain.OrderCheckpoint{}, errors.New("checkpoint repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	step = strings.TrimSpace(step)
	if orderID == "" || step == "" {
		return domain.OrderCheckpoint{}, errors.New("checkpoint repository: order id and step are required")
	}

	if _, err := r.col.Update(ctx, orderID, []firestore.Update{
		{Path: "completed." + step, Value: true},
		{Path: "updatedAt", Value: at.UTC()},
	}); err != nil {
		return domain.OrderCheckpoint{}, err
	}
	return r.Get(ctx, orderID)
}

// RecordFailure stores the latest step error and bumps the attempt counter.
func (r *CheckpointRepository) RecordFailure(ctx context.Context, orderID, message string, at time.Time) error {
	if r == nil || r.col == nil {
		return errors.New("checkpoint repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return errors.New("checkpoint repository: order id is required")
	}
	_, err := r.col.Update(ctx, orderID, []firestore.Update{
		{Path: "lastError", Value: message},
		{Path: "attempts", Value: firestore.Increment(1)},
		{Path: "updatedAt", Value: at.UTC()},
	})
	return err
}

// ListIncomplete returns unfinished checkpoints last touched before the
// cutoff, oldest first.
func (r *CheckpointRepository) ListIncomplete(ctx context.Context, cutoff time.Time, limit int) ([]domain.OrderCheckpoint, error) {
	if r == nil || r.col == nil {
		return nil, errors.New("checkpoint repository not initialised")
	}
	if limit <= 0 {
		limit = 50
	}

	docs, err := r.col.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("done", "==", false).
			Where("updatedAt", "<=", cutoff.UTC()).
			OrderBy("updatedAt", firestore.Asc).
			Limit(limit)
	})
	if err != nil {
		return nil, err
	}

	checkpoints := make([]domain.OrderCheckpoint, 0, len(docs))
	for _, doc := range docs {
		checkpoints = append(checkpoints, decodeCheckpoint(doc.ID, doc.Data))
	}
	return checkpoints, nil
}

// Delete removes the checkpoint once every step completed.
func (r *CheckpointRepository) Delete(ctx context.Context, orderID string) error {
	if r == nil || r.col == nil {
		return errors.New("checkpoint repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return errors.New("checkpoint repository: order id is required")
	}
	return r.col.Delete(ctx, orderID)
}

type checkpointDocument struct {
	Completed map[string]bool `firestore:"completed"`
	Done      bool            `firestore:"done"`
	Attempts  int             `firestore:"attempts"`
	LastError string          `firestore:"lastError,omitempty"`
	CreatedAt time.Time       `firestore:"createdAt"`
	UpdatedAt time.Time       `firestore:"updatedAt"`
}

func encodeCheckpoint(checkpoint domain.OrderCheckpoint) checkpointDocument {
	completed := make(map[string]bool, len(checkpoint.Completed))
	for step, done := range checkpoint.Completed {
		completed[step] = done
	}
	return checkpointDocument{
		Completed: completed,
		Done:      checkpoint.Done(),
		Attempts:  checkpoint.Attempts,
		LastError: checkpoint.LastError,
		CreatedAt: checkpoint.CreatedAt.UTC(),
		UpdatedAt: checkpoint.UpdatedAt.UTC(),
	}
}

func decodeCheckpoint(orderID string, doc checkpointDocument) domain.OrderCheckpoint {
	return domain.OrderCheckpoint{
		OrderID:   orderID,
		Completed: doc.Completed,
		Attempts:  doc.Attempts,
		LastError: doc.LastError,
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	}
}
