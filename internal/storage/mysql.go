package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/KevinKickass/OpenHeatTelemetry/internal/config"
	"github.com/go-sql-driver/mysql"
)

// ER_DUP_FIELDNAME
const mysqlDuplicateColumn = 1060

// MySQLClient stores the pivot table in MySQL or MariaDB.
type MySQLClient struct {
	db *sql.DB
}

func NewMySQLClient(ctx context.Context, cfg config.DatabaseConfig) (*MySQLClient, error) {
	db, err := sql.Open("mysql", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxConnections > 0 {
		db.SetMaxOpenConns(cfg.MaxConnections)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &MySQLClient{db: db}, nil
}

func (m *MySQLClient) Close() error {
	return m.db.Close()
}

// FoldsColumnNames: MySQL column names are case-insensitive.
func (m *MySQLClient) FoldsColumnNames() bool {
	return true
}

func quoteMySQL(name string) string {
	return "`" + name + "`"
}

func (m *MySQLClient) CreateTable(ctx context.Context, table string) error {
	if err := ValidateIdentifier(table); err != nil {
		return err
	}

	_, err := m.db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id INT AUTO_INCREMENT PRIMARY KEY,
			timestamp DATETIME NOT NULL
		)`, quoteMySQL(table)))
	if err != nil {
		return fmt.Errorf("failed to create table %s: %w", table, err)
	}
	return nil
}

func (m *MySQLClient) Columns(ctx context.Context, table string) ([]string, error) {
	if err := ValidateIdentifier(table); err != nil {
		return nil, err
	}

	rows, err := m.db.QueryContext(ctx, "SHOW COLUMNS FROM "+quoteMySQL(table))
	if err != nil {
		return nil, fmt.Errorf("failed to query columns of %s: %w", table, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read column header: %w", err)
	}

	// Field, Type, Null, Key, Default, Extra
	var names []string
	for rows.Next() {
		dest := make([]any, len(cols))
		var field string
		dest[0] = &field
		for i := 1; i < len(dest); i++ {
			dest[i] = new(sql.RawBytes)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan column of %s: %w", table, err)
		}
		names = append(names, field)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate columns of %s: %w", table, err)
	}
	return names, nil
}

func mysqlColumnType(t ColumnType) (string, error) {
	switch t {
	case ColumnFloat:
		return "FLOAT NULL", nil
	case ColumnBool:
		return "TINYINT(1) DEFAULT 0", nil
	default:
		return "", fmt.Errorf("unsupported column type %q", t)
	}
}

func (m *MySQLClient) AddColumn(ctx context.Context, table string, column SchemaColumn) error {
	if err := validateIdentifiers(table, column.Name); err != nil {
		return err
	}
	sqlType, err := mysqlColumnType(column.Type)
	if err != nil {
		return err
	}

	_, err = m.db.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s",
		quoteMySQL(table), quoteMySQL(column.Name), sqlType))

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr.Number == mysqlDuplicateColumn {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to add column %s.%s: %w", table, column.Name, err)
	}
	return nil
}

func (m *MySQLClient) Insert(ctx context.Context, table string, columns []string, values []any) error {
	if len(columns) != len(values) {
		return fmt.Errorf("insert into %s: %d columns but %d values", table, len(columns), len(values))
	}
	if err := validateIdentifiers(append([]string{table}, columns...)...); err != nil {
		return err
	}

	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = quoteMySQL(c)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteMySQL(table), strings.Join(quoted, ", "), placeholders)

	if _, err := m.db.ExecContext(ctx, query, values...); err != nil {
		return fmt.Errorf("failed to insert into %s: %w", table, err)
	}
	return nil
}

func (m *MySQLClient) LatestValue(ctx context.Context, table, column, key string) (*float64, error) {
	if err := validateIdentifiers(table, column, key); err != nil {
		return nil, err
	}

	t, k := quoteMySQL(table), quoteMySQL(key)
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = (SELECT MAX(%s) FROM %s)",
		quoteMySQL(column), t, k, k, t)

	var value sql.NullFloat64
	err := m.db.QueryRowContext(ctx, query).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read latest %s.%s: %w", table, column, err)
	}
	if !value.Valid {
		return nil, nil
	}
	return &value.Float64, nil
}
