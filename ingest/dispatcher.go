package ingest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spanforge/spanforge/internal/metrics"
	"github.com/spanforge/spanforge/internal/pool"
	"github.com/spanforge/spanforge/types"
)

// Dispatcher fans a batch out into independent per-event pipelines and
// assembles the multi-status result. One event's failure never blocks
// or cancels its siblings; a full worker pool degrades to inline
// processing rather than rejecting events.
type Dispatcher struct {
	normalizer *Normalizer
	reconciler *Reconciler
	pool       *pool.WorkerPool
	collector  *metrics.Collector
	logger     *zap.Logger
}

// NewDispatcher wires the dispatcher. collector may be nil.
func NewDispatcher(
	normalizer *Normalizer,
	reconciler *Reconciler,
	workerPool *pool.WorkerPool,
	collector *metrics.Collector,
	logger *zap.Logger,
) *Dispatcher {
	return &Dispatcher{
		normalizer: normalizer,
		reconciler: reconciler,
		pool:       workerPool,
		collector:  collector,
		logger:     logger.With(zap.String("component", "dispatcher")),
	}
}

// Dispatch processes every envelope of one batch and reports per-event
// outcomes in batch order. len(Successes)+len(Errors) == len(batch).
func (d *Dispatcher) Dispatch(ctx context.Context, projectID string, batch []Envelope) BatchResult {
	outcomes := make([]error, len(batch))

	var wg sync.WaitGroup
	for i := range batch {
		wg.Add(1)
		i := i
		task := func(taskCtx context.Context) error {
			defer wg.Done()
			outcomes[i] = d.processOne(taskCtx, projectID, batch[i])
			return nil
		}
		if err := d.pool.Submit(ctx, task); err != nil {
			// pool saturated or closed; the event still must be accounted for
			task(ctx)
		}
	}
	wg.Wait()

	result := BatchResult{
		Successes: make([]BatchItemSuccess, 0, len(batch)),
		Errors:    make([]BatchItemError, 0),
	}
	for i, env := range batch {
		if err := outcomes[i]; err != nil {
			result.Errors = append(result.Errors, BatchItemError{
				ID:      env.ID,
				Error:   string(types.GetErrorCode(err)),
				Message: errorMessage(err),
			})
		} else {
			result.Successes = append(result.Successes, BatchItemSuccess{ID: env.ID})
		}
	}

	if d.collector != nil {
		d.collector.RecordBatch(len(batch), len(result.Errors))
	}
	return result
}

// processOne runs a single envelope through normalize and reconcile.
// Panics convert to per-event internal errors so siblings keep going.
func (d *Dispatcher) processOne(ctx context.Context, projectID string, env Envelope) (err error) {
	start := time.Now()
	kind := "unknown"

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("event processing panicked",
				zap.String("event_id", env.ID),
				zap.Any("panic", r),
			)
			err = types.NewError(types.ErrInternalError,
				fmt.Sprintf("event processing panicked: %v", r))
		}
		if d.collector != nil {
			d.collector.RecordEvent(kind, eventStatus(err), time.Since(start))
		}
		if err != nil {
			d.logger.Warn("event failed",
				zap.String("project_id", projectID),
				zap.String("event_id", env.ID),
				zap.String("event_type", env.Type),
				zap.Error(err),
			)
		}
	}()

	ev, err := d.normalizer.Normalize(projectID, env)
	if err != nil {
		return err
	}
	if ev.Kind != "" {
		kind = string(ev.Kind)
	}
	return d.reconciler.Apply(ctx, ev)
}

func eventStatus(err error) string {
	if err == nil {
		return "ok"
	}
	return strings.ToLower(string(types.GetErrorCode(err)))
}

func errorMessage(err error) string {
	if e, ok := err.(*types.Error); ok {
		return e.Message
	}
	return err.Error()
}
