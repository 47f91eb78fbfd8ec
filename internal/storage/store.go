package storage

import (
	"context"
	"fmt"
	"regexp"

	"github.com/KevinKickass/OpenHeatTelemetry/internal/config"
)

type ColumnType string

const (
	ColumnFloat ColumnType = "FLOAT"
	ColumnBool  ColumnType = "BOOL"
)

// SchemaColumn is a column the pivot table is expected to have.
type SchemaColumn struct {
	Name string
	Type ColumnType
}

// Columns every pivot table is created with.
const (
	ColumnID        = "id"
	ColumnTimestamp = "timestamp"
)

// Store is the dialect-specific part of the pivot persistence. Schema
// changes are additive only: there is no way to alter or drop a column.
type Store interface {
	// CreateTable creates the table with id and timestamp if it is absent.
	CreateTable(ctx context.Context, table string) error
	Columns(ctx context.Context, table string) ([]string, error)
	// AddColumn adds a nullable column. A column that already exists,
	// e.g. added concurrently by another poller, is not an error.
	AddColumn(ctx context.Context, table string, column SchemaColumn) error
	// Insert writes one row; a nil value is stored as NULL.
	Insert(ctx context.Context, table string, columns []string, values []any) error
	// LatestValue returns column of the row with the highest key, or nil
	// when the table is empty or the value is NULL.
	LatestValue(ctx context.Context, table, column, key string) (*float64, error)
	Close() error
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// ValidateIdentifier guards every table and column name before it is
// interpolated into SQL.
func ValidateIdentifier(name string) error {
	if !identifierPattern.MatchString(name) {
		return fmt.Errorf("invalid SQL identifier %q", name)
	}
	return nil
}

func validateIdentifiers(names ...string) error {
	for _, n := range names {
		if err := ValidateIdentifier(n); err != nil {
			return err
		}
	}
	return nil
}

// Open connects to the configured database.
func Open(ctx context.Context, cfg config.DatabaseConfig) (Store, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		return NewPostgresClient(ctx, cfg)
	case config.DriverMySQL:
		return NewMySQLClient(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}
