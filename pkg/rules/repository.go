// Package rules derives reconciliation rulesets from knowledge graphs and
// persists them in the engine store.
package rules

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/reconlab/recon-engine/pkg/apperrors"
	"github.com/reconlab/recon-engine/pkg/database"
	"github.com/reconlab/recon-engine/pkg/models"
)

// Repository provides data access for rulesets.
type Repository interface {
	Save(ctx context.Context, rs *models.Ruleset) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Ruleset, error)
	GetByName(ctx context.Context, name string) (*models.Ruleset, error)
	List(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type rulesetRepository struct {
	db     *database.DB
	logger *zap.Logger
}

// NewRepository creates a ruleset Repository on the engine database.
func NewRepository(db *database.DB, logger *zap.Logger) Repository {
	return &rulesetRepository{db: db, logger: logger.Named("ruleset-repo")}
}

var _ Repository = (*rulesetRepository)(nil)

func (r *rulesetRepository) Save(ctx context.Context, rs *models.Ruleset) error {
	if rs.RulesetID == uuid.Nil {
		rs.RulesetID = uuid.New()
	}
	if rs.CreatedAt.IsZero() {
		rs.CreatedAt = time.Now()
	}
	if err := rs.CheckRuleIDsUnique(); err != nil {
		return err
	}

	schemasJSON, err := json.Marshal(rs.Schemas)
	if err != nil {
		return fmt.Errorf("failed to marshal schemas: %w", err)
	}
	rulesJSON, err := json.Marshal(rs.Rules)
	if err != nil {
		return fmt.Errorf("failed to marshal rules: %w", err)
	}

	query := `
		INSERT INTO engine_rulesets (ruleset_id, ruleset_name, schemas, rules, generated_from_kg, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (ruleset_name) DO UPDATE SET
			schemas = EXCLUDED.schemas,
			rules = EXCLUDED.rules,
			generated_from_kg = EXCLUDED.generated_from_kg`

	_, err = r.db.Pool.Exec(ctx, query,
		rs.RulesetID, rs.RulesetName, schemasJSON, rulesJSON, rs.GeneratedFromKG, rs.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save ruleset %q: %w", rs.RulesetName, err)
	}

	r.logger.Info("Saved ruleset",
		zap.String("ruleset", rs.RulesetName),
		zap.Int("rules", len(rs.Rules)))
	return nil
}

func (r *rulesetRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Ruleset, error) {
	return r.getOne(ctx, `WHERE ruleset_id = $1`, id)
}

func (r *rulesetRepository) GetByName(ctx context.Context, name string) (*models.Ruleset, error) {
	return r.getOne(ctx, `WHERE ruleset_name = $1`, name)
}

func (r *rulesetRepository) getOne(ctx context.Context, where string, arg any) (*models.Ruleset, error) {
	query := `
		SELECT ruleset_id, ruleset_name, schemas, rules, generated_from_kg, created_at
		FROM engine_rulesets ` + where

	var (
		rs          models.Ruleset
		schemasJSON []byte
		rulesJSON   []byte
	)
	err := r.db.Pool.QueryRow(ctx, query, arg).Scan(
		&rs.RulesetID, &rs.RulesetName, &schemasJSON, &rulesJSON, &rs.GeneratedFromKG, &rs.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("ruleset %v: %w", arg, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load ruleset: %w", err)
	}

	if err := json.Unmarshal(schemasJSON, &rs.Schemas); err != nil {
		return nil, fmt.Errorf("failed to unmarshal schemas: %w", err)
	}
	if err := json.Unmarshal(rulesJSON, &rs.Rules); err != nil {
		return nil, fmt.Errorf("failed to unmarshal rules: %w", err)
	}
	return &rs, nil
}

func (r *rulesetRepository) List(ctx context.Context) ([]string, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT ruleset_name FROM engine_rulesets ORDER BY ruleset_name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list rulesets: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan ruleset name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (r *rulesetRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM engine_rulesets WHERE ruleset_id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete ruleset %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("ruleset %s: %w", id, apperrors.ErrNotFound)
	}
	return nil
}

// memoryRepository is an in-process Repository for tests.
type memoryRepository struct {
	mu       sync.RWMutex
	byID     map[uuid.UUID]*models.Ruleset
	idByName map[string]uuid.UUID
}

// NewMemoryRepository creates an in-memory ruleset Repository.
func NewMemoryRepository() Repository {
	return &memoryRepository{
		byID:     make(map[uuid.UUID]*models.Ruleset),
		idByName: make(map[string]uuid.UUID),
	}
}

var _ Repository = (*memoryRepository)(nil)

func copyRuleset(rs *models.Ruleset) (*models.Ruleset, error) {
	data, err := json.Marshal(rs)
	if err != nil {
		return nil, fmt.Errorf("failed to copy ruleset: %w", err)
	}
	var out models.Ruleset
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to copy ruleset: %w", err)
	}
	return &out, nil
}

func (m *memoryRepository) Save(_ context.Context, rs *models.Ruleset) error {
	if rs.RulesetID == uuid.Nil {
		rs.RulesetID = uuid.New()
	}
	if rs.CreatedAt.IsZero() {
		rs.CreatedAt = time.Now()
	}
	if err := rs.CheckRuleIDsUnique(); err != nil {
		return err
	}

	copied, err := copyRuleset(rs)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existingID, ok := m.idByName[rs.RulesetName]; ok && existingID != rs.RulesetID {
		delete(m.byID, existingID)
	}
	m.byID[rs.RulesetID] = copied
	m.idByName[rs.RulesetName] = rs.RulesetID
	return nil
}

func (m *memoryRepository) GetByID(_ context.Context, id uuid.UUID) (*models.Ruleset, error) {
	m.mu.RLock()
	rs, ok := m.byID[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("ruleset %s: %w", id, apperrors.ErrNotFound)
	}
	return copyRuleset(rs)
}

func (m *memoryRepository) GetByName(_ context.Context, name string) (*models.Ruleset, error) {
	m.mu.RLock()
	id, ok := m.idByName[name]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("ruleset %q: %w", name, apperrors.ErrNotFound)
	}
	return m.GetByID(context.Background(), id)
}

func (m *memoryRepository) List(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.idByName))
	for name := range m.idByName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (m *memoryRepository) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rs, ok := m.byID[id]
	if !ok {
		return fmt.Errorf("ruleset %s: %w", id, apperrors.ErrNotFound)
	}
	delete(m.byID, id)
	delete(m.idByName, rs.RulesetName)
	return nil
}
