package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/querypilot/backend/pkg/config"
	"github.com/querypilot/backend/pkg/logger"
)

// ResultSet is the shape returned to the pipeline: column order preserved,
// one map per row.
type ResultSet struct {
	Columns []string
	Rows    []map[string]interface{}
}

// SelectExecutor runs validated SELECT statements against the target
// relational source.
type SelectExecutor interface {
	ExecuteSelect(ctx context.Context, sql string, params []interface{}) (*ResultSet, error)
}

// PostgresExecutor executes compiled SQL inside a read-only transaction with
// a statement timeout, so even a validated query cannot write or run away.
type PostgresExecutor struct {
	pool         *pgxpool.Pool
	queryTimeout time.Duration
}

func NewPostgresExecutor(ctx context.Context, cfg config.PostgresConfig) (*PostgresExecutor, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}

	timeout := time.Duration(cfg.QueryTimeoutMS) * time.Millisecond
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	logger.Info("Postgres executor initialized", zap.Int("max_conns", cfg.MaxConns))

	return &PostgresExecutor{pool: pool, queryTimeout: timeout}, nil
}

func (e *PostgresExecutor) Close() {
	e.pool.Close()
}

func (e *PostgresExecutor) ExecuteSelect(ctx context.Context, sql string, params []interface{}) (*ResultSet, error) {
	ctx, cancel := context.WithTimeout(ctx, e.queryTimeout)
	defer cancel()

	tx, err := e.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("failed to begin read-only transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, sql, params...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute select: %w", err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	columns := make([]string, len(fields))
	for i, f := range fields {
		columns[i] = string(f.Name)
	}

	result := &ResultSet{Columns: columns}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("failed to read row: %w", err)
		}
		row := make(map[string]interface{}, len(columns))
		for i, col := range columns {
			row[col] = values[i]
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed while iterating rows: %w", err)
	}

	logger.Debug("Select executed", zap.Int("rows", len(result.Rows)))

	return result, nil
}
