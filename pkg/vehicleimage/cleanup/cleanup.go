// Package cleanup retries deletion of objects left behind when a rejected
// upload could not be removed right away.
package cleanup

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/tendant/vehicle-images/pkg/vehicleimage"
)

// TypeDeleteOrphan is the asynq task type for orphaned object deletion
const TypeDeleteOrphan = "vehicleimage:delete_orphan"

// OrphanPayload identifies an object to delete
type OrphanPayload struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
	Cause  string `json:"cause"`
}

// NewDeleteOrphanTask builds the task with retry defaults
func NewDeleteOrphanTask(p OrphanPayload) (*asynq.Task, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal orphan payload: %w", err)
	}
	return asynq.NewTask(TypeDeleteOrphan, payload, asynq.MaxRetry(10)), nil
}

// TaskEnqueuer is satisfied by *asynq.Client
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Sink implements vehicleimage.OrphanSink by enqueuing delete tasks
type Sink struct {
	enqueuer TaskEnqueuer
	logger   *slog.Logger
}

var _ vehicleimage.OrphanSink = (*Sink)(nil)

func NewSink(enqueuer TaskEnqueuer, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{enqueuer: enqueuer, logger: logger}
}

// NewClient creates an asynq client for redisAddr
func NewClient(redisAddr, redisPassword string) *asynq.Client {
	return asynq.NewClient(asynq.RedisClientOpt{
		Addr:     redisAddr,
		Password: redisPassword,
	})
}

func (s *Sink) RecordOrphan(ctx context.Context, bucket, key, cause string) error {
	task, err := NewDeleteOrphanTask(OrphanPayload{Bucket: bucket, Key: key, Cause: cause})
	if err != nil {
		return err
	}
	info, err := s.enqueuer.EnqueueContext(ctx, task)
	if err != nil {
		return fmt.Errorf("failed to enqueue orphan deletion: %w", err)
	}
	s.logger.InfoContext(ctx, "queued orphaned object for deletion", "bucket", bucket, "key", key, "task_id", info.ID, "queue", info.Queue)
	return nil
}

// KeyChecker reports whether metadata still references a key
type KeyChecker interface {
	KeyExists(ctx context.Context, key string) (bool, error)
}

// Handler processes delete-orphan tasks
type Handler struct {
	store  vehicleimage.ObjectStore
	keys   KeyChecker
	logger *slog.Logger
}

func NewHandler(store vehicleimage.ObjectStore, keys KeyChecker, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{store: store, keys: keys, logger: logger}
}

// Register adds the handler to mux
func (h *Handler) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeDeleteOrphan, h.HandleDeleteOrphan)
}

// HandleDeleteOrphan deletes the object unless a confirmed image now uses the key.
// Returning an error lets asynq retry with backoff.
func (h *Handler) HandleDeleteOrphan(ctx context.Context, task *asynq.Task) error {
	var p OrphanPayload
	if err := json.Unmarshal(task.Payload(), &p); err != nil {
		return fmt.Errorf("invalid orphan payload: %v: %w", err, asynq.SkipRetry)
	}
	if p.Bucket == "" || p.Key == "" {
		return fmt.Errorf("orphan payload missing bucket or key: %w", asynq.SkipRetry)
	}

	referenced, err := h.keys.KeyExists(ctx, p.Key)
	if err != nil {
		return fmt.Errorf("failed to check key: %w", err)
	}
	if referenced {
		h.logger.InfoContext(ctx, "orphan key is referenced, keeping object", "bucket", p.Bucket, "key", p.Key)
		return nil
	}

	if err := h.store.Delete(ctx, p.Bucket, p.Key); err != nil {
		h.logger.ErrorContext(ctx, "failed to delete orphaned object", "bucket", p.Bucket, "key", p.Key, "error", err)
		return err
	}
	h.logger.InfoContext(ctx, "deleted orphaned object", "bucket", p.Bucket, "key", p.Key, "cause", p.Cause)
	return nil
}
