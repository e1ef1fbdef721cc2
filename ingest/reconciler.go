package ingest

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/spanforge/spanforge/internal/keylock"
	"github.com/spanforge/spanforge/internal/metrics"
	"github.com/spanforge/spanforge/store"
	"github.com/spanforge/spanforge/tokenizer"
	"github.com/spanforge/spanforge/types"
)

// Reconciler applies canonical events to durable entity state. All
// read-merge-write cycles for one (kind, id) identity run under a keyed
// lock; derivation (model match, usage, cost) recomputes from the
// merged state on every apply, so late-arriving input or model names
// converge regardless of delivery order.
type Reconciler struct {
	gateway   store.PersistenceGateway
	registry  store.ModelRegistry
	tokenizer tokenizer.Service
	matcher   *ModelMatcher
	locks     *keylock.KeyedMutex
	collector *metrics.Collector
	logger    *zap.Logger
}

// NewReconciler wires the reconciler. collector may be nil.
func NewReconciler(
	gateway store.PersistenceGateway,
	registry store.ModelRegistry,
	tok tokenizer.Service,
	lockShards int,
	collector *metrics.Collector,
	logger *zap.Logger,
) *Reconciler {
	return &Reconciler{
		gateway:   gateway,
		registry:  registry,
		tokenizer: tok,
		matcher:   NewModelMatcher(),
		locks:     keylock.New(lockShards),
		collector: collector,
		logger:    logger.With(zap.String("component", "reconciler")),
	}
}

func upstreamError(msg string, cause error) error {
	return types.NewError(types.ErrUpstream, msg).WithCause(cause).WithRetryable(true)
}

// Apply reconciles one event into durable state.
func (r *Reconciler) Apply(ctx context.Context, ev *Event) error {
	if ev.LogOnly {
		return nil
	}

	// synthesize the referenced trace before taking the entity lock;
	// the two keys may share a lock stripe
	if ev.Kind != types.KindTrace && !ev.ExternalTrace {
		if traceID, _ := ev.Fields["traceId"].(string); traceID != "" {
			if err := r.ensureTrace(ctx, ev.ProjectID, traceID); err != nil {
				return err
			}
		}
	}

	unlock := r.locks.Lock(string(ev.Kind) + ":" + ev.EntityID)
	defer unlock()

	existing, err := r.gateway.GetAny(ctx, ev.Kind, ev.EntityID)
	switch {
	case err == nil:
		if existing.ProjectID != ev.ProjectID {
			return types.NewError(types.ErrCrossTenant,
				"entity id already exists under a different project")
		}
	case errors.Is(err, store.ErrNotFound):
		existing = nil
	default:
		return upstreamError("read entity state", err)
	}

	if ev.RequireExisting && existing == nil {
		return types.NewError(types.ErrNotFound, "entity does not exist")
	}

	record := existing
	if record == nil {
		record = &store.StoredRecord{
			Kind:      ev.Kind,
			ID:        ev.EntityID,
			ProjectID: ev.ProjectID,
		}
	}
	record.Fields, record.Stamps = mergeFields(
		ev.Kind, record.Fields, record.Stamps, ev.Fields, ev.Stamp())

	if ev.Kind == types.KindObservation {
		if err := r.derive(ctx, record); err != nil {
			return err
		}
	}

	if err := r.gateway.Upsert(ctx, record); err != nil {
		return upstreamError("persist entity state", err)
	}
	return nil
}

// ensureTrace creates a minimal trace row for a dangling reference.
// Holds the trace lock only for the duration of this call.
func (r *Reconciler) ensureTrace(ctx context.Context, projectID, traceID string) error {
	unlock := r.locks.Lock(string(types.KindTrace) + ":" + traceID)
	defer unlock()

	existing, err := r.gateway.GetAny(ctx, types.KindTrace, traceID)
	switch {
	case err == nil:
		if existing.ProjectID != projectID {
			return types.NewError(types.ErrCrossTenant,
				"referenced trace exists under a different project")
		}
		return nil
	case errors.Is(err, store.ErrNotFound):
	default:
		return upstreamError("read referenced trace", err)
	}

	record := &store.StoredRecord{
		Kind:      types.KindTrace,
		ID:        traceID,
		ProjectID: projectID,
		Fields:    map[string]any{},
		Stamps:    map[string]types.FieldStamp{},
	}
	if err := r.gateway.Upsert(ctx, record); err != nil {
		return upstreamError("persist implicit trace", err)
	}

	if r.collector != nil {
		r.collector.RecordImplicitTrace()
	}
	r.logger.Debug("synthesized trace for dangling reference",
		zap.String("project_id", projectID),
		zap.String("trace_id", traceID),
	)
	return nil
}

// derive recomputes model match, usage, and cost from the merged
// fields. Pure in the merged state, so re-running after any further
// event converges to the same values.
func (r *Reconciler) derive(ctx context.Context, record *store.StoredRecord) error {
	providedUsage, hasProvided := usageFromFields(record.Fields)

	modelName, _ := record.Fields["model"].(string)
	var model *types.ModelDefinition
	if modelName != "" {
		models, err := r.registry.List(ctx)
		if err != nil {
			return upstreamError("list model registry", err)
		}
		model, err = r.matcher.Match(models, modelName, startTimeOf(record.Fields), providedUsage.Unit)
		if err != nil {
			return upstreamError("match model", err)
		}
		if r.collector != nil {
			r.collector.RecordModelMatch(model != nil)
		}
	}

	record.InternalModelID = ""
	if model != nil {
		record.InternalModelID = model.ID
	}

	usage := providedUsage
	if !hasProvided {
		usage = types.Usage{}
		if model != nil && model.TokenizerID != "" {
			derived, err := r.tokenizeContent(record.Fields, model)
			if err != nil {
				return err
			}
			usage = derived
		}
	}
	record.Usage = usage

	record.InputCost, record.OutputCost, record.TotalCost = deriveCost(model, usage)
	return nil
}

func (r *Reconciler) tokenizeContent(fields map[string]any, model *types.ModelDefinition) (types.Usage, error) {
	input, hasInput := fields["input"]
	output, hasOutput := fields["output"]
	if !hasInput && !hasOutput {
		return types.Usage{}, nil
	}

	var usage types.Usage
	if hasInput {
		n, err := r.tokenizer.Count(input, model.TokenizerID, model.TokenizerConfig)
		if err != nil {
			return usage, upstreamError("count prompt tokens", err)
		}
		usage.PromptCount = n
		if r.collector != nil {
			r.collector.RecordTokenizerCall(model.TokenizerID, "prompt")
		}
	}
	if hasOutput {
		n, err := r.tokenizer.Count(output, model.TokenizerID, model.TokenizerConfig)
		if err != nil {
			return usage, upstreamError("count completion tokens", err)
		}
		usage.CompletionCount = n
		if r.collector != nil {
			r.collector.RecordTokenizerCall(model.TokenizerID, "completion")
		}
	}

	usage.Unit = model.Unit
	if usage.Unit == "" {
		usage.Unit = types.UnitTokens
	}
	usage.TotalCount = usage.PromptCount + usage.CompletionCount
	return usage, nil
}

func startTimeOf(fields map[string]any) *time.Time {
	raw, _ := fields["startTime"].(string)
	if raw == "" {
		return nil
	}
	ts, err := parseTime(raw)
	if err != nil {
		return nil
	}
	return &ts
}
