package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/spanforge/spanforge/internal/metrics"
	"github.com/spanforge/spanforge/types"
)

// entityRecord is the gorm row mapping for reconciled entities. Merged
// fields and stamps are stored as JSON text; derived usage, model, and
// cost values get typed columns so analytics can query them directly.
type entityRecord struct {
	Kind      string `gorm:"column:kind;primaryKey"`
	ID        string `gorm:"column:id;primaryKey"`
	ProjectID string `gorm:"column:project_id;index"`

	Fields string `gorm:"column:fields"`
	Stamps string `gorm:"column:stamps"`

	InternalModelID  *string  `gorm:"column:internal_model_id"`
	UsageUnit        *string  `gorm:"column:usage_unit"`
	PromptTokens     *int     `gorm:"column:prompt_tokens"`
	CompletionTokens *int     `gorm:"column:completion_tokens"`
	TotalTokens      *int     `gorm:"column:total_tokens"`
	InputCost        *float64 `gorm:"column:input_cost"`
	OutputCost       *float64 `gorm:"column:output_cost"`
	TotalCost        *float64 `gorm:"column:total_cost"`

	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (entityRecord) TableName() string { return "entity_records" }

// GormGateway implements PersistenceGateway on a relational database.
type GormGateway struct {
	db        *gorm.DB
	collector *metrics.Collector
	logger    *zap.Logger
}

// NewGormGateway wraps an open gorm handle. The entity_records table
// must exist (see internal/migration).
func NewGormGateway(db *gorm.DB, logger *zap.Logger) *GormGateway {
	return &GormGateway{
		db:     db,
		logger: logger.With(zap.String("component", "gorm_gateway")),
	}
}

// WithCollector enables query metrics.
func (g *GormGateway) WithCollector(collector *metrics.Collector) *GormGateway {
	g.collector = collector
	return g
}

func (g *GormGateway) observe(operation string, start time.Time) {
	if g.collector != nil {
		g.collector.RecordDBQuery(g.db.Name(), operation, time.Since(start))
	}
}

// Get implements PersistenceGateway.
func (g *GormGateway) Get(ctx context.Context, projectID string, kind types.EntityKind, id string) (*StoredRecord, error) {
	defer g.observe("get", time.Now())

	var row entityRecord
	err := g.db.WithContext(ctx).
		Where("project_id = ? AND kind = ? AND id = ?", projectID, string(kind), id).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get entity record: %w", err)
	}
	return fromRow(&row)
}

// GetAny implements PersistenceGateway.
func (g *GormGateway) GetAny(ctx context.Context, kind types.EntityKind, id string) (*StoredRecord, error) {
	defer g.observe("get_any", time.Now())

	var row entityRecord
	err := g.db.WithContext(ctx).
		Where("kind = ? AND id = ?", string(kind), id).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get entity record: %w", err)
	}
	return fromRow(&row)
}

// Upsert implements PersistenceGateway. The write replaces all mutable
// columns; created_at survives conflicts.
func (g *GormGateway) Upsert(ctx context.Context, record *StoredRecord) error {
	defer g.observe("upsert", time.Now())

	row, err := toRow(record)
	if err != nil {
		return err
	}

	err = g.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "kind"}, {Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"project_id", "fields", "stamps",
			"internal_model_id", "usage_unit",
			"prompt_tokens", "completion_tokens", "total_tokens",
			"input_cost", "output_cost", "total_cost",
			"updated_at",
		}),
	}).Create(row).Error
	if err != nil {
		return fmt.Errorf("upsert entity record: %w", err)
	}
	return nil
}

func toRow(record *StoredRecord) (*entityRecord, error) {
	fields, err := json.Marshal(record.Fields)
	if err != nil {
		return nil, fmt.Errorf("serialize fields: %w", err)
	}
	stamps, err := json.Marshal(record.Stamps)
	if err != nil {
		return nil, fmt.Errorf("serialize stamps: %w", err)
	}

	now := time.Now().UTC()
	row := &entityRecord{
		Kind:      string(record.Kind),
		ID:        record.ID,
		ProjectID: record.ProjectID,
		Fields:    string(fields),
		Stamps:    string(stamps),
		CreatedAt: now,
		UpdatedAt: now,
	}

	if record.InternalModelID != "" {
		row.InternalModelID = &record.InternalModelID
	}
	if record.Usage.Unit != "" {
		unit := string(record.Usage.Unit)
		row.UsageUnit = &unit
	}
	if !record.Usage.IsZero() {
		p, c, t := record.Usage.PromptCount, record.Usage.CompletionCount, record.Usage.TotalCount
		row.PromptTokens, row.CompletionTokens, row.TotalTokens = &p, &c, &t
	}
	row.InputCost = record.InputCost
	row.OutputCost = record.OutputCost
	row.TotalCost = record.TotalCost

	return row, nil
}

func fromRow(row *entityRecord) (*StoredRecord, error) {
	record := &StoredRecord{
		Kind:       types.EntityKind(row.Kind),
		ID:         row.ID,
		ProjectID:  row.ProjectID,
		InputCost:  row.InputCost,
		OutputCost: row.OutputCost,
		TotalCost:  row.TotalCost,
		CreatedAt:  row.CreatedAt,
		UpdatedAt:  row.UpdatedAt,
	}

	if row.Fields != "" {
		if err := json.Unmarshal([]byte(row.Fields), &record.Fields); err != nil {
			return nil, fmt.Errorf("decode fields: %w", err)
		}
	}
	if row.Stamps != "" {
		if err := json.Unmarshal([]byte(row.Stamps), &record.Stamps); err != nil {
			return nil, fmt.Errorf("decode stamps: %w", err)
		}
	}

	if row.InternalModelID != nil {
		record.InternalModelID = *row.InternalModelID
	}
	if row.UsageUnit != nil {
		record.Usage.Unit = types.UsageUnit(*row.UsageUnit)
	}
	if row.PromptTokens != nil {
		record.Usage.PromptCount = *row.PromptTokens
	}
	if row.CompletionTokens != nil {
		record.Usage.CompletionCount = *row.CompletionTokens
	}
	if row.TotalTokens != nil {
		record.Usage.TotalCount = *row.TotalTokens
	}

	return record, nil
}
