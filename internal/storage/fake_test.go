package storage

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// fakeStore is an in-memory Store with the additive semantics of the
// real dialects.
type fakeStore struct {
	mu      sync.Mutex
	tables  map[string][]SchemaColumn
	rows    map[string][]map[string]any
	failAdd map[string]bool
	// MySQL semantics when set, exact Postgres matching otherwise
	foldCase bool

	adds       int
	introspect int
	latest     *float64
	latestErr  error
	insertErr  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		tables:  make(map[string][]SchemaColumn),
		rows:    make(map[string][]map[string]any),
		failAdd: make(map[string]bool),
	}
}

func (f *fakeStore) CreateTable(ctx context.Context, table string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.tables[table]; !ok {
		f.tables[table] = []SchemaColumn{{Name: ColumnID}, {Name: ColumnTimestamp}}
	}
	return nil
}

func (f *fakeStore) Columns(ctx context.Context, table string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.introspect++
	cols, ok := f.tables[table]
	if !ok {
		return nil, errors.New("no such table")
	}
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	return names, nil
}

func (f *fakeStore) AddColumn(ctx context.Context, table string, column SchemaColumn) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAdd[column.Name] {
		return errors.New("permission denied")
	}
	for _, c := range f.tables[table] {
		if f.sameColumn(c.Name, column.Name) {
			return nil
		}
	}
	f.adds++
	f.tables[table] = append(f.tables[table], column)
	return nil
}

func (f *fakeStore) Insert(ctx context.Context, table string, columns []string, values []any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return f.insertErr
	}
	row := make(map[string]any, len(columns))
	for i, c := range columns {
		found := false
		for _, col := range f.tables[table] {
			if f.sameColumn(col.Name, c) {
				found = true
				break
			}
		}
		if !found {
			return errors.New("unknown column " + c)
		}
		row[c] = values[i]
	}
	f.rows[table] = append(f.rows[table], row)
	return nil
}

func (f *fakeStore) LatestValue(ctx context.Context, table, column, key string) (*float64, error) {
	return f.latest, f.latestErr
}

func (f *fakeStore) Close() error { return nil }

func (f *fakeStore) FoldsColumnNames() bool { return f.foldCase }

func (f *fakeStore) sameColumn(a, b string) bool {
	if f.foldCase {
		return strings.EqualFold(a, b)
	}
	return a == b
}

func (f *fakeStore) columnNames(table string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var names []string
	for _, c := range f.tables[table] {
		names = append(names, c.Name)
	}
	return names
}
