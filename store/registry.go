package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"

	"github.com/spanforge/spanforge/types"
)

// ModelRegistry provides the ordered model definition list consumed by
// the model matcher. Registry order is the deterministic tie-break when
// several definitions match equally, so implementations must return a
// stable order.
type ModelRegistry interface {
	List(ctx context.Context) ([]types.ModelDefinition, error)
}

// StaticRegistry serves a fixed, ordered definition list. Used by tests
// and when models come from a YAML file instead of the database.
type StaticRegistry struct {
	models []types.ModelDefinition
}

// NewStaticRegistry creates a registry over models, preserving order.
func NewStaticRegistry(models []types.ModelDefinition) *StaticRegistry {
	return &StaticRegistry{models: models}
}

// List implements ModelRegistry.
func (r *StaticRegistry) List(ctx context.Context) ([]types.ModelDefinition, error) {
	out := make([]types.ModelDefinition, len(r.models))
	copy(out, r.models)
	return out, nil
}

// modelFileEntry is the YAML shape of one model definition.
type modelFileEntry struct {
	ID              string                `yaml:"id"`
	Name            string                `yaml:"name"`
	MatchPattern    string                `yaml:"match_pattern"`
	ValidFrom       *time.Time            `yaml:"valid_from"`
	Unit            string                `yaml:"unit"`
	TokenizerID     string                `yaml:"tokenizer_id"`
	TokenizerConfig types.TokenizerConfig `yaml:"tokenizer_config"`
	InputPrice      *float64              `yaml:"input_price"`
	OutputPrice     *float64              `yaml:"output_price"`
	TotalPrice      *float64              `yaml:"total_price"`
}

// LoadModelFile reads an ordered model definition list from a YAML file.
func LoadModelFile(path string) ([]types.ModelDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model file: %w", err)
	}

	var entries []modelFileEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse model file: %w", err)
	}

	models := make([]types.ModelDefinition, 0, len(entries))
	for i, e := range entries {
		if e.Name == "" || e.MatchPattern == "" {
			return nil, fmt.Errorf("model file entry %d: name and match_pattern are required", i)
		}
		unit := types.UsageUnit(e.Unit)
		if e.Unit == "" {
			unit = types.UnitTokens
		} else if !types.ValidUsageUnit(e.Unit) {
			return nil, fmt.Errorf("model file entry %d: invalid unit %q", i, e.Unit)
		}
		id := e.ID
		if id == "" {
			id = e.Name
		}
		models = append(models, types.ModelDefinition{
			ID:              id,
			Name:            e.Name,
			MatchPattern:    e.MatchPattern,
			ValidFrom:       e.ValidFrom,
			Unit:            unit,
			TokenizerID:     e.TokenizerID,
			TokenizerConfig: e.TokenizerConfig,
			InputPrice:      e.InputPrice,
			OutputPrice:     e.OutputPrice,
			TotalPrice:      e.TotalPrice,
		})
	}
	return models, nil
}

// modelDefinitionRow is the gorm mapping for model_definitions.
type modelDefinitionRow struct {
	ID              string     `gorm:"column:id;primaryKey"`
	ProjectID       *string    `gorm:"column:project_id"`
	Name            string     `gorm:"column:name"`
	MatchPattern    string     `gorm:"column:match_pattern"`
	ValidFrom       *time.Time `gorm:"column:valid_from"`
	Unit            string     `gorm:"column:unit"`
	TokenizerID     *string    `gorm:"column:tokenizer_id"`
	TokenizerConfig *string    `gorm:"column:tokenizer_config"`
	InputPrice      *float64   `gorm:"column:input_price"`
	OutputPrice     *float64   `gorm:"column:output_price"`
	TotalPrice      *float64   `gorm:"column:total_price"`
	RegistryPos     int        `gorm:"column:registry_pos"`
	CreatedAt       time.Time  `gorm:"column:created_at"`
}

func (modelDefinitionRow) TableName() string { return "model_definitions" }

// GormRegistry reads model definitions from the database, ordered by
// registry position.
type GormRegistry struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewGormRegistry wraps an open gorm handle.
func NewGormRegistry(db *gorm.DB, logger *zap.Logger) *GormRegistry {
	return &GormRegistry{
		db:     db,
		logger: logger.With(zap.String("component", "model_registry")),
	}
}

// List implements ModelRegistry.
func (r *GormRegistry) List(ctx context.Context) ([]types.ModelDefinition, error) {
	var rows []modelDefinitionRow
	if err := r.db.WithContext(ctx).Order("registry_pos ASC, id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list model definitions: %w", err)
	}

	models := make([]types.ModelDefinition, 0, len(rows))
	for _, row := range rows {
		def := types.ModelDefinition{
			ID:           row.ID,
			Name:         row.Name,
			MatchPattern: row.MatchPattern,
			ValidFrom:    row.ValidFrom,
			Unit:         types.UsageUnit(row.Unit),
			InputPrice:   row.InputPrice,
			OutputPrice:  row.OutputPrice,
			TotalPrice:   row.TotalPrice,
		}
		if row.TokenizerID != nil {
			def.TokenizerID = *row.TokenizerID
		}
		if row.TokenizerConfig != nil && *row.TokenizerConfig != "" {
			if err := json.Unmarshal([]byte(*row.TokenizerConfig), &def.TokenizerConfig); err != nil {
				return nil, fmt.Errorf("decode tokenizer config for model %s: %w", row.ID, err)
			}
		}
		models = append(models, def)
	}
	return models, nil
}

// Seed replaces the stored definitions with models, assigning registry
// positions from slice order. Used by the migrate subcommand.
func (r *GormRegistry) Seed(ctx context.Context, models []types.ModelDefinition) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&modelDefinitionRow{}).Error; err != nil {
			return fmt.Errorf("clear model definitions: %w", err)
		}
		for i, def := range models {
			row := modelDefinitionRow{
				ID:           def.ID,
				Name:         def.Name,
				MatchPattern: def.MatchPattern,
				ValidFrom:    def.ValidFrom,
				Unit:         string(def.Unit),
				InputPrice:   def.InputPrice,
				OutputPrice:  def.OutputPrice,
				TotalPrice:   def.TotalPrice,
				RegistryPos:  i,
				CreatedAt:    time.Now().UTC(),
			}
			if def.TokenizerID != "" {
				row.TokenizerID = &def.TokenizerID
			}
			if def.TokenizerConfig != (types.TokenizerConfig{}) {
				data, err := json.Marshal(def.TokenizerConfig)
				if err != nil {
					return fmt.Errorf("serialize tokenizer config for model %s: %w", def.ID, err)
				}
				cfg := string(data)
				row.TokenizerConfig = &cfg
			}
			if err := tx.Create(&row).Error; err != nil {
				return fmt.Errorf("insert model definition %s: %w", def.ID, err)
			}
		}
		r.logger.Info("model registry seeded", zap.Int("models", len(models)))
		return nil
	})
}
