package ingest

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spanforge/spanforge/types"
)

// Normalizer maps raw envelopes onto canonical events. Both the
// dual-phase and the legacy vocabulary normalize to identical events
// for equivalent intent, so the reconciler never sees the difference.
type Normalizer struct {
	logger *zap.Logger
}

// NewNormalizer creates a Normalizer.
func NewNormalizer(logger *zap.Logger) *Normalizer {
	return &Normalizer{logger: logger.With(zap.String("component", "normalizer"))}
}

func validationError(format string, args ...any) error {
	return types.NewError(types.ErrValidation, fmt.Sprintf(format, args...))
}

// Normalize validates and reshapes one envelope. Every returned error
// carries the VALIDATION code and affects only this envelope.
func (n *Normalizer) Normalize(projectID string, env Envelope) (*Event, error) {
	occurredAt := time.Now().UTC()
	if env.Timestamp != nil && !env.Timestamp.IsZero() {
		occurredAt = env.Timestamp.UTC()
	}

	if env.Type == EventSDKLog {
		n.logger.Info("sdk log event",
			zap.String("project_id", projectID),
			zap.String("event_id", env.ID),
			zap.Any("body", env.Body),
		)
		return &Event{ID: env.ID, ProjectID: projectID, OccurredAt: occurredAt, LogOnly: true}, nil
	}

	if env.Body == nil {
		return nil, validationError("event %s has no body", env.ID)
	}
	body := sanitizeBody(env.Body)

	base := &Event{
		ID:         env.ID,
		ProjectID:  projectID,
		OccurredAt: occurredAt,
		Fields:     make(map[string]any),
	}

	switch env.Type {
	case EventTraceCreate:
		return n.normalizeTrace(base, body, true)
	case EventTraceUpdate:
		return n.normalizeTrace(base, body, false)
	case EventSpanCreate:
		return n.normalizeObservation(base, body, types.ObservationSpan, true)
	case EventSpanUpdate:
		return n.normalizeObservation(base, body, types.ObservationSpan, false)
	case EventGenerationCreate:
		return n.normalizeObservation(base, body, types.ObservationGeneration, true)
	case EventGenerationUpdate:
		return n.normalizeObservation(base, body, types.ObservationGeneration, false)
	case EventEventCreate:
		return n.normalizeObservation(base, body, types.ObservationEvent, true)
	case EventScoreCreate:
		return n.normalizeScore(base, body)
	case EventObservationCreate, EventObservationUpdate:
		kind, err := legacyObservationKind(body)
		if err != nil {
			return nil, err
		}
		return n.normalizeObservation(base, body, kind, env.Type == EventObservationCreate)
	default:
		return nil, validationError("unknown event type %q", env.Type)
	}
}

func (n *Normalizer) normalizeTrace(ev *Event, body map[string]any, create bool) (*Event, error) {
	ev.Kind = types.KindTrace

	id, err := stringField(body, "id")
	if err != nil {
		return nil, err
	}
	if id == "" {
		if !create {
			return nil, validationError("trace update requires an id")
		}
		id = uuid.NewString()
	}
	ev.EntityID = id

	if err := copyStrings(ev.Fields, body,
		"name", "userId", "sessionId", "release", "version", "externalId"); err != nil {
		return nil, err
	}
	if err := copyTime(ev.Fields, body, "timestamp"); err != nil {
		return nil, err
	}
	if err := copyBool(ev.Fields, body, "public"); err != nil {
		return nil, err
	}
	if err := copyTags(ev.Fields, body); err != nil {
		return nil, err
	}
	if err := copyObject(ev.Fields, body, "metadata"); err != nil {
		return nil, err
	}
	copyAny(ev.Fields, body, "input", "output")

	return ev, nil
}

func (n *Normalizer) normalizeObservation(ev *Event, body map[string]any, kind types.ObservationKind, create bool) (*Event, error) {
	ev.Kind = types.KindObservation

	id, err := observationID(body, create)
	if err != nil {
		return nil, err
	}
	ev.EntityID = id
	ev.Fields["type"] = string(kind)

	if traceIDType, err := stringField(body, "traceIdType"); err != nil {
		return nil, err
	} else if strings.EqualFold(traceIDType, "EXTERNAL") {
		ev.ExternalTrace = true
	}

	if err := copyStrings(ev.Fields, body,
		"traceId", "parentObservationId", "name", "level",
		"statusMessage", "version", "model"); err != nil {
		return nil, err
	}
	if err := copyTime(ev.Fields, body, "startTime", "endTime", "completionStartTime"); err != nil {
		return nil, err
	}
	if err := copyObject(ev.Fields, body, "metadata"); err != nil {
		return nil, err
	}
	if err := copyObject(ev.Fields, body, "modelParameters"); err != nil {
		return nil, err
	}
	copyAny(ev.Fields, body, "input", "output")

	if raw, ok := body["usage"]; ok && raw != nil {
		usageMap, ok := raw.(map[string]any)
		if !ok {
			return nil, validationError("usage must be an object")
		}
		usage, err := NormalizeUsage(usageMap)
		if err != nil {
			return nil, err
		}
		ev.Fields["usage"] = usageFields(usage)
	}

	return ev, nil
}

func (n *Normalizer) normalizeScore(ev *Event, body map[string]any) (*Event, error) {
	ev.Kind = types.KindScore

	id, err := stringField(body, "id")
	if err != nil {
		return nil, err
	}
	if id == "" {
		id = uuid.NewString()
	}
	ev.EntityID = id

	traceID, err := stringField(body, "traceId")
	if err != nil {
		return nil, err
	}
	if traceID == "" {
		return nil, validationError("score requires a traceId")
	}
	name, err := stringField(body, "name")
	if err != nil {
		return nil, err
	}
	if name == "" {
		return nil, validationError("score requires a name")
	}

	value, ok := body["value"]
	if !ok || value == nil {
		return nil, validationError("score requires a value")
	}
	num, ok := value.(float64)
	if !ok {
		return nil, validationError("score value must be numeric, got %T", value)
	}

	if traceIDType, err := stringField(body, "traceIdType"); err != nil {
		return nil, err
	} else if strings.EqualFold(traceIDType, "EXTERNAL") {
		ev.ExternalTrace = true
	}

	ev.Fields["traceId"] = traceID
	ev.Fields["name"] = name
	ev.Fields["value"] = num
	if err := copyStrings(ev.Fields, body,
		"observationId", "stringValue", "dataType", "comment"); err != nil {
		return nil, err
	}

	return ev, nil
}

// legacyObservationKind reads the type discriminator from a legacy
// observation body.
func legacyObservationKind(body map[string]any) (types.ObservationKind, error) {
	raw, err := stringField(body, "type")
	if err != nil {
		return "", err
	}
	switch strings.ToUpper(raw) {
	case string(types.ObservationSpan):
		return types.ObservationSpan, nil
	case string(types.ObservationGeneration):
		return types.ObservationGeneration, nil
	case string(types.ObservationEvent):
		return types.ObservationEvent, nil
	case "":
		return "", validationError("observation event requires a type discriminator")
	default:
		return "", validationError("unknown observation type %q", raw)
	}
}

// observationID resolves the entity id across addressing styles: plain
// id, or the legacy per-entity fields generationId and spanId.
func observationID(body map[string]any, create bool) (string, error) {
	for _, key := range []string{"id", "generationId", "spanId"} {
		id, err := stringField(body, key)
		if err != nil {
			return "", err
		}
		if id != "" {
			return id, nil
		}
	}
	if create {
		return uuid.NewString(), nil
	}
	return "", validationError("observation update requires an id")
}

// field copy helpers; all treat null as absent and reject wrong types
// with VALIDATION errors.

func stringField(body map[string]any, key string) (string, error) {
	raw, ok := body[key]
	if !ok || raw == nil {
		return "", nil
	}
	s, ok := raw.(string)
	if !ok {
		return "", validationError("field %s must be a string, got %T", key, raw)
	}
	return s, nil
}

func copyStrings(dst, body map[string]any, keys ...string) error {
	for _, key := range keys {
		s, err := stringField(body, key)
		if err != nil {
			return err
		}
		if s != "" {
			dst[key] = s
		}
	}
	return nil
}

func copyBool(dst, body map[string]any, key string) error {
	raw, ok := body[key]
	if !ok || raw == nil {
		return nil
	}
	b, ok := raw.(bool)
	if !ok {
		return validationError("field %s must be a boolean, got %T", key, raw)
	}
	dst[key] = b
	return nil
}

func copyObject(dst, body map[string]any, key string) error {
	raw, ok := body[key]
	if !ok || raw == nil {
		return nil
	}
	switch raw.(type) {
	case map[string]any, []any:
		dst[key] = raw
		return nil
	default:
		return validationError("field %s must be an object or array, got %T", key, raw)
	}
}

func copyAny(dst, body map[string]any, keys ...string) {
	for _, key := range keys {
		if raw, ok := body[key]; ok && raw != nil {
			dst[key] = raw
		}
	}
}

func copyTags(dst, body map[string]any) error {
	raw, ok := body["tags"]
	if !ok || raw == nil {
		return nil
	}
	list, ok := raw.([]any)
	if !ok {
		return validationError("tags must be an array of strings, got %T", raw)
	}
	tags := make([]any, 0, len(list))
	for _, elem := range list {
		s, ok := elem.(string)
		if !ok {
			return validationError("tags must be an array of strings, got element %T", elem)
		}
		tags = append(tags, s)
	}
	dst["tags"] = tags
	return nil
}

func copyTime(dst, body map[string]any, keys ...string) error {
	for _, key := range keys {
		raw, ok := body[key]
		if !ok || raw == nil {
			continue
		}
		s, ok := raw.(string)
		if !ok {
			return validationError("field %s must be an RFC3339 timestamp string, got %T", key, raw)
		}
		ts, err := parseTime(s)
		if err != nil {
			return validationError("field %s: %v", key, err)
		}
		dst[key] = ts.UTC().Format(time.RFC3339Nano)
	}
	return nil
}

// parseTime accepts the timestamp layouts SDKs actually send.
func parseTime(s string) (time.Time, error) {
	for _, layout := range []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05.999999999",
		"2006-01-02 15:04:05.999999999Z07:00",
	} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}

// usageFields converts a canonical usage into its field-map shape.
func usageFields(u types.Usage) map[string]any {
	m := map[string]any{
		"promptCount":     float64(u.PromptCount),
		"completionCount": float64(u.CompletionCount),
		"totalCount":      float64(u.TotalCount),
	}
	if u.Unit != "" {
		m["unit"] = string(u.Unit)
	}
	return m
}
