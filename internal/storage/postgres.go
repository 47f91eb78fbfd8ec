package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/KevinKickass/OpenHeatTelemetry/internal/config"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// duplicate_column
const pgDuplicateColumn = "42701"

type PostgresClient struct {
	pool *pgxpool.Pool
}

func NewPostgresClient(ctx context.Context, cfg config.DatabaseConfig) (*PostgresClient, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse pool config: %w", err)
	}

	if cfg.MaxConnections > 0 {
		poolConfig.MaxConns = int32(cfg.MaxConnections)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	// Connection testen
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresClient{pool: pool}, nil
}

// FoldsColumnNames: quoted identifiers are case-sensitive.
func (p *PostgresClient) FoldsColumnNames() bool {
	return false
}

func (p *PostgresClient) Close() error {
	p.pool.Close()
	return nil
}

func (p *PostgresClient) CreateTable(ctx context.Context, table string) error {
	if err := ValidateIdentifier(table); err != nil {
		return err
	}

	_, err := p.pool.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id BIGSERIAL PRIMARY KEY,
			timestamp TIMESTAMPTZ NOT NULL
		)`, pgx.Identifier{table}.Sanitize()))
	if err != nil {
		return fmt.Errorf("failed to create table %s: %w", table, err)
	}
	return nil
}

func (p *PostgresClient) Columns(ctx context.Context, table string) ([]string, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT column_name
		FROM information_schema.columns
		WHERE table_schema = current_schema() AND table_name = $1
		ORDER BY ordinal_position
	`, table)
	if err != nil {
		return nil, fmt.Errorf("failed to query columns of %s: %w", table, err)
	}

	columns, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan columns of %s: %w", table, err)
	}
	return columns, nil
}

func pgColumnType(t ColumnType) (string, error) {
	switch t {
	case ColumnFloat:
		return "DOUBLE PRECISION NULL", nil
	case ColumnBool:
		return "BOOLEAN DEFAULT FALSE", nil
	default:
		return "", fmt.Errorf("unsupported column type %q", t)
	}
}

func (p *PostgresClient) AddColumn(ctx context.Context, table string, column SchemaColumn) error {
	if err := validateIdentifiers(table, column.Name); err != nil {
		return err
	}
	sqlType, err := pgColumnType(column.Type)
	if err != nil {
		return err
	}

	_, err = p.pool.Exec(ctx, fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s %s",
		pgx.Identifier{table}.Sanitize(), pgx.Identifier{column.Name}.Sanitize(), sqlType))

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgDuplicateColumn {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to add column %s.%s: %w", table, column.Name, err)
	}
	return nil
}

func (p *PostgresClient) Insert(ctx context.Context, table string, columns []string, values []any) error {
	if len(columns) != len(values) {
		return fmt.Errorf("insert into %s: %d columns but %d values", table, len(columns), len(values))
	}
	if err := validateIdentifiers(append([]string{table}, columns...)...); err != nil {
		return err
	}

	quoted := make([]string, len(columns))
	placeholders := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = pgx.Identifier{c}.Sanitize()
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		pgx.Identifier{table}.Sanitize(), strings.Join(quoted, ", "), strings.Join(placeholders, ", "))

	if _, err := p.pool.Exec(ctx, query, values...); err != nil {
		return fmt.Errorf("failed to insert into %s: %w", table, err)
	}
	return nil
}

func (p *PostgresClient) LatestValue(ctx context.Context, table, column, key string) (*float64, error) {
	if err := validateIdentifiers(table, column, key); err != nil {
		return nil, err
	}

	t := pgx.Identifier{table}.Sanitize()
	k := pgx.Identifier{key}.Sanitize()
	query := fmt.Sprintf("SELECT %s::double precision FROM %s WHERE %s = (SELECT MAX(%s) FROM %s)",
		pgx.Identifier{column}.Sanitize(), t, k, k, t)

	var value *float64
	err := p.pool.QueryRow(ctx, query).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read latest %s.%s: %w", table, column, err)
	}
	return value, nil
}
