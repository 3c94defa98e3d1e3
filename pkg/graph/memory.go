package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/reconlab/recon-engine/pkg/apperrors"
	"github.com/reconlab/recon-engine/pkg/models"
)

// memoryStore is an in-process Store used in tests and single-node tooling.
type memoryStore struct {
	mu     sync.RWMutex
	graphs map[string]*models.KnowledgeGraph
}

// NewMemoryStore creates an in-memory Store.
func NewMemoryStore() Store {
	return &memoryStore{graphs: make(map[string]*models.KnowledgeGraph)}
}

var _ Store = (*memoryStore)(nil)

// deepCopy isolates callers from each other through a JSON round-trip, the
// same boundary the postgres store crosses.
func deepCopy(kg *models.KnowledgeGraph) (*models.KnowledgeGraph, error) {
	data, err := json.Marshal(kg)
	if err != nil {
		return nil, fmt.Errorf("failed to copy knowledge graph: %w", err)
	}
	var out models.KnowledgeGraph
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to copy knowledge graph: %w", err)
	}
	if out.Metadata == nil {
		out.Metadata = make(map[string]any)
	}
	if out.TableAliases == nil {
		out.TableAliases = make(map[string][]string)
	}
	return &out, nil
}

func (s *memoryStore) Put(_ context.Context, kg *models.KnowledgeGraph) error {
	if kg.Name == "" {
		return fmt.Errorf("kg name is required: %w", apperrors.ErrInputInvalid)
	}
	if err := kg.Validate(); err != nil {
		return err
	}

	copied, err := deepCopy(kg)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.graphs[kg.Name] = copied
	return nil
}

func (s *memoryStore) Get(_ context.Context, name string) (*models.KnowledgeGraph, error) {
	s.mu.RLock()
	kg, ok := s.graphs[name]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("knowledge graph %q: %w", name, apperrors.ErrNotFound)
	}
	return deepCopy(kg)
}

func (s *memoryStore) List(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.graphs))
	for name := range s.graphs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *memoryStore) Delete(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.graphs[name]; !ok {
		return fmt.Errorf("knowledge graph %q: %w", name, apperrors.ErrNotFound)
	}
	delete(s.graphs, name)
	return nil
}

func (s *memoryStore) Exists(_ context.Context, name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.graphs[name]
	return ok, nil
}
