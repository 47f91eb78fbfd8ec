package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/KevinKickass/OpenHeatTelemetry/internal/types"
	"go.uber.org/zap"
)

// Field is one (name, type, value) triple of a row. A nil Value is NULL.
type Field struct {
	Name  string
	Type  ColumnType
	Value any
}

// Row is one poll flattened into columns, in the order they are written.
type Row struct {
	Timestamp time.Time
	Fields    []Field
}

func NewRow(ts time.Time) *Row {
	return &Row{Timestamp: ts}
}

// AddFloat appends a measurement; nil marks a failed or discarded read.
func (r *Row) AddFloat(name string, value *float64) {
	f := Field{Name: name, Type: ColumnFloat}
	if value != nil {
		f.Value = *value
	}
	r.Fields = append(r.Fields, f)
}

func (r *Row) AddBool(name string, value bool) {
	r.Fields = append(r.Fields, Field{Name: name, Type: ColumnBool, Value: value})
}

// AddNullBool appends a flag whose register could not be read.
func (r *Row) AddNullBool(name string) {
	r.Fields = append(r.Fields, Field{Name: name, Type: ColumnBool})
}

// Auxiliary copies the latest value of another table into every row.
type Auxiliary struct {
	Table  string
	Column string
	Key    string
	Target string
}

// PivotWriter persists one flat row per poll.
type PivotWriter struct {
	store  Store
	schema *SchemaSynchronizer
	aux    *Auxiliary
	logger *zap.Logger
}

// NewPivotWriter writes to table; aux may be nil.
func NewPivotWriter(store Store, table string, aux *Auxiliary, logger *zap.Logger) (*PivotWriter, error) {
	schema, err := NewSchemaSynchronizer(store, table, logger)
	if err != nil {
		return nil, err
	}
	if aux != nil {
		if err := validateIdentifiers(aux.Table, aux.Column, aux.Key, aux.Target); err != nil {
			return nil, fmt.Errorf("auxiliary: %w", err)
		}
	}
	return &PivotWriter{store: store, schema: schema, aux: aux, logger: logger}, nil
}

func (w *PivotWriter) Schema() *SchemaSynchronizer {
	return w.schema
}

// Write inserts row as a single statement. Fields whose column could not
// be added are dropped from the row; everything else is written even if
// the values are NULL.
func (w *PivotWriter) Write(ctx context.Context, row *Row) error {
	fields := append([]Field(nil), row.Fields...)
	if w.aux != nil {
		fields = append(fields, w.auxiliaryField(ctx))
	}

	seen := make(map[string]bool, len(fields))
	columns := make([]SchemaColumn, 0, len(fields))
	unique := fields[:0]
	for _, f := range fields {
		if f.Name == ColumnID || f.Name == ColumnTimestamp || seen[f.Name] {
			w.logger.Warn("Dropping duplicate field", zap.String("column", f.Name))
			continue
		}
		seen[f.Name] = true
		unique = append(unique, f)
		columns = append(columns, SchemaColumn{Name: f.Name, Type: f.Type})
	}

	available, err := w.schema.EnsureColumns(ctx, columns)
	if err != nil {
		return fmt.Errorf("%w: %w", types.ErrPersistenceWriteFailed, err)
	}

	names := []string{ColumnTimestamp}
	values := []any{row.Timestamp}
	for _, f := range unique {
		if !available[f.Name] {
			continue
		}
		names = append(names, f.Name)
		values = append(values, f.Value)
	}

	if err := w.store.Insert(ctx, w.schema.Table(), names, values); err != nil {
		return fmt.Errorf("%w: %w", types.ErrPersistenceWriteFailed, err)
	}
	return nil
}

func (w *PivotWriter) auxiliaryField(ctx context.Context) Field {
	f := Field{Name: w.aux.Target, Type: ColumnFloat}

	value, err := w.store.LatestValue(ctx, w.aux.Table, w.aux.Column, w.aux.Key)
	if err != nil {
		w.logger.Warn("Failed to fetch auxiliary value",
			zap.String("table", w.aux.Table),
			zap.String("column", w.aux.Column),
			zap.Error(err))
		return f
	}
	if value != nil {
		f.Value = *value
	}
	return f
}
