package vehicleimage

import (
	"context"
	"log/slog"
	"time"
)

// NoopObserver is a no-operation implementation of Observer
type NoopObserver struct{}

// NewNoopObserver creates a new no-operation observer
func NewNoopObserver() Observer {
	return &NoopObserver{}
}

func (n *NoopObserver) ObserveOperation(op string, duration time.Duration, err error) {}

func (n *NoopObserver) CompensationFailed(op string) {}

// LogOrphanSink records orphaned objects in the log only.
// Operators find them by searching for "orphaned object".
type LogOrphanSink struct {
	Logger *slog.Logger
}

// NewLogOrphanSink creates an orphan sink writing to logger, or slog.Default when nil
func NewLogOrphanSink(logger *slog.Logger) OrphanSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogOrphanSink{Logger: logger}
}

func (s *LogOrphanSink) RecordOrphan(ctx context.Context, bucket, key, cause string) error {
	s.Logger.WarnContext(ctx, "orphaned object", "bucket", bucket, "key", key, "cause", cause)
	return nil
}
