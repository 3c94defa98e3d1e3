// Package graph persists knowledge graphs and builds them from schema
// descriptors, explicit relationship pairs, and LLM enhancement.
package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/reconlab/recon-engine/pkg/apperrors"
	"github.com/reconlab/recon-engine/pkg/database"
	"github.com/reconlab/recon-engine/pkg/models"
)

// Store persists knowledge graphs by name with read-your-writes semantics.
type Store interface {
	// Put atomically replaces the KG stored under kg.Name.
	Put(ctx context.Context, kg *models.KnowledgeGraph) error
	// Get returns the KG by name, or apperrors.ErrNotFound.
	Get(ctx context.Context, name string) (*models.KnowledgeGraph, error)
	// List returns all stored KG names, sorted.
	List(ctx context.Context) ([]string, error)
	// Delete removes the KG by name, or apperrors.ErrNotFound.
	Delete(ctx context.Context, name string) error
	// Exists reports whether a KG is stored under name.
	Exists(ctx context.Context, name string) (bool, error)
}

type postgresStore struct {
	db     *database.DB
	logger *zap.Logger
}

// NewPostgresStore creates a Store backed by the engine database.
// Graphs are stored as three JSONB groupings: nodes, relationships, and
// metadata (which carries table_aliases).
func NewPostgresStore(db *database.DB, logger *zap.Logger) Store {
	return &postgresStore{db: db, logger: logger.Named("graph-store")}
}

var _ Store = (*postgresStore)(nil)

func (s *postgresStore) Put(ctx context.Context, kg *models.KnowledgeGraph) error {
	if kg.Name == "" {
		return fmt.Errorf("kg name is required: %w", apperrors.ErrInputInvalid)
	}
	if err := kg.Validate(); err != nil {
		return err
	}

	nodesJSON, err := json.Marshal(kg.Nodes)
	if err != nil {
		return fmt.Errorf("failed to marshal nodes: %w", err)
	}
	relsJSON, err := json.Marshal(kg.Relationships)
	if err != nil {
		return fmt.Errorf("failed to marshal relationships: %w", err)
	}

	metadata := make(map[string]any, len(kg.Metadata)+1)
	for k, v := range kg.Metadata {
		metadata[k] = v
	}
	metadata["table_aliases"] = kg.TableAliases
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `
		INSERT INTO engine_knowledge_graphs (name, schema_file, nodes, relationships, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		ON CONFLICT (name) DO UPDATE SET
			schema_file = EXCLUDED.schema_file,
			nodes = EXCLUDED.nodes,
			relationships = EXCLUDED.relationships,
			metadata = EXCLUDED.metadata,
			updated_at = NOW()`

	_, err = s.db.Pool.Exec(ctx, query, kg.Name, kg.SchemaFile, nodesJSON, relsJSON, metadataJSON)
	if err != nil {
		return fmt.Errorf("failed to store knowledge graph %q: %w", kg.Name, err)
	}

	s.logger.Info("Stored knowledge graph",
		zap.String("kg", kg.Name),
		zap.Int("nodes", len(kg.Nodes)),
		zap.Int("relationships", len(kg.Relationships)))
	return nil
}

func (s *postgresStore) Get(ctx context.Context, name string) (*models.KnowledgeGraph, error) {
	query := `
		SELECT name, schema_file, nodes, relationships, metadata
		FROM engine_knowledge_graphs
		WHERE name = $1`

	var (
		kg           models.KnowledgeGraph
		nodesJSON    []byte
		relsJSON     []byte
		metadataJSON []byte
	)
	err := s.db.Pool.QueryRow(ctx, query, name).Scan(
		&kg.Name, &kg.SchemaFile, &nodesJSON, &relsJSON, &metadataJSON)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("knowledge graph %q: %w", name, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load knowledge graph %q: %w", name, err)
	}

	if err := json.Unmarshal(nodesJSON, &kg.Nodes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal nodes for %q: %w", name, err)
	}
	if err := json.Unmarshal(relsJSON, &kg.Relationships); err != nil {
		return nil, fmt.Errorf("failed to unmarshal relationships for %q: %w", name, err)
	}
	if err := json.Unmarshal(metadataJSON, &kg.Metadata); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata for %q: %w", name, err)
	}

	kg.TableAliases = extractTableAliases(kg.Metadata)
	delete(kg.Metadata, "table_aliases")

	return &kg, nil
}

// extractTableAliases recovers the alias map from deserialized metadata,
// where JSON decoding produced map[string]any values.
func extractTableAliases(metadata map[string]any) map[string][]string {
	aliases := make(map[string][]string)
	raw, ok := metadata["table_aliases"].(map[string]any)
	if !ok {
		return aliases
	}
	for table, v := range raw {
		list, ok := v.([]any)
		if !ok {
			continue
		}
		for _, item := range list {
			if s, ok := item.(string); ok {
				aliases[table] = append(aliases[table], s)
			}
		}
	}
	return aliases
}

func (s *postgresStore) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.Pool.Query(ctx, `SELECT name FROM engine_knowledge_graphs ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list knowledge graphs: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan kg name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *postgresStore) Delete(ctx context.Context, name string) error {
	tag, err := s.db.Pool.Exec(ctx, `DELETE FROM engine_knowledge_graphs WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("failed to delete knowledge graph %q: %w", name, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("knowledge graph %q: %w", name, apperrors.ErrNotFound)
	}
	s.logger.Info("Deleted knowledge graph", zap.String("kg", name))
	return nil
}

func (s *postgresStore) Exists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := s.db.Pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM engine_knowledge_graphs WHERE name = $1)`, name).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check knowledge graph %q: %w", name, err)
	}
	return exists, nil
}
