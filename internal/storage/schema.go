package storage

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/KevinKickass/OpenHeatTelemetry/internal/types"
	"go.uber.org/zap"
)

// SchemaSynchronizer keeps the pivot table's columns a superset of what
// the pollers write. It only ever creates tables and adds columns.
type SchemaSynchronizer struct {
	store  Store
	table  string
	logger *zap.Logger

	fold bool

	mu         sync.Mutex
	tableReady bool
	known      map[string]bool // keyed by columnKey
}

// columnFolder is implemented by dialects whose column names are
// case-insensitive (MySQL). Quoted Postgres identifiers match exactly.
type columnFolder interface {
	FoldsColumnNames() bool
}

func NewSchemaSynchronizer(store Store, table string, logger *zap.Logger) (*SchemaSynchronizer, error) {
	if err := ValidateIdentifier(table); err != nil {
		return nil, err
	}
	s := &SchemaSynchronizer{
		store:  store,
		table:  table,
		logger: logger,
	}
	if f, ok := store.(columnFolder); ok {
		s.fold = f.FoldsColumnNames()
	}
	return s, nil
}

func (s *SchemaSynchronizer) columnKey(name string) string {
	if s.fold {
		return strings.ToLower(name)
	}
	return name
}

func (s *SchemaSynchronizer) Table() string {
	return s.table
}

// EnsureTable creates the table if it does not exist. Idempotent.
func (s *SchemaSynchronizer) EnsureTable(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureTable(ctx)
}

func (s *SchemaSynchronizer) ensureTable(ctx context.Context) error {
	if s.tableReady {
		return nil
	}
	if err := s.store.CreateTable(ctx, s.table); err != nil {
		return fmt.Errorf("%w: %w", types.ErrSchemaMutationFailed, err)
	}
	s.tableReady = true
	return nil
}

// EnsureColumns adds every requested column the table lacks and returns
// the names that can be written to. A column that fails to be added is
// logged and left out; the error is only returned when the table itself
// cannot be introspected.
func (s *SchemaSynchronizer) EnsureColumns(ctx context.Context, columns []SchemaColumn) (map[string]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureTable(ctx); err != nil {
		return nil, err
	}

	if s.known == nil || s.missing(columns) {
		// Andere Poller koennen inzwischen Spalten angelegt haben
		existing, err := s.store.Columns(ctx, s.table)
		if err != nil {
			return nil, fmt.Errorf("failed to introspect %s: %w", s.table, err)
		}
		s.known = make(map[string]bool, len(existing))
		for _, c := range existing {
			s.known[s.columnKey(c)] = true
		}
	}

	available := make(map[string]bool, len(columns))
	for _, col := range columns {
		key := s.columnKey(col.Name)
		if s.known[key] {
			available[col.Name] = true
			continue
		}

		if err := s.store.AddColumn(ctx, s.table, col); err != nil {
			s.logger.Warn("Failed to add column",
				zap.String("table", s.table),
				zap.String("column", col.Name),
				zap.String("type", string(col.Type)),
				zap.Error(fmt.Errorf("%w: %w", types.ErrSchemaMutationFailed, err)))
			continue
		}

		s.logger.Info("Column added",
			zap.String("table", s.table),
			zap.String("column", col.Name),
			zap.String("type", string(col.Type)))
		s.known[key] = true
		available[col.Name] = true
	}

	return available, nil
}

func (s *SchemaSynchronizer) missing(columns []SchemaColumn) bool {
	for _, col := range columns {
		if !s.known[s.columnKey(col.Name)] {
			return true
		}
	}
	return false
}
