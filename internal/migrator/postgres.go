package migrator

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/lib/pq"
	"github.com/xaenox/neofeed/internal/storage"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// PostgresTarget writes into the UUID-keyed store and keeps the legacy id
// mapping in migration_id_map.
type PostgresTarget struct {
	db *sql.DB
}

// OpenPostgres connects with a lib/pq DSN or postgres:// URL.
func OpenPostgres(dsn string) (*PostgresTarget, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("error connecting to the database: %w", err)
	}
	return &PostgresTarget{db: db}, nil
}

func (t *PostgresTarget) Close() error {
	return t.db.Close()
}

// CreateSchema applies the storage schema, which also creates migration_id_map.
func (t *PostgresTarget) CreateSchema(ctx context.Context) error {
	schema, err := storage.Schema()
	if err != nil {
		return err
	}
	if _, err := t.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("error executing schema: %w", err)
	}
	return nil
}

func (t *PostgresTarget) Begin(ctx context.Context) (TargetTx, error) {
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("error starting transaction: %w", err)
	}
	return &postgresTx{tx: tx}, nil
}

type postgresTx struct {
	tx *sql.Tx
}

func (p *postgresTx) Mapping(ctx context.Context, table string) (map[int64]string, error) {
	query, args, err := psql.Select("legacy_id", "new_id").
		From("migration_id_map").
		Where(sq.Eq{"table_name": table}).
		ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := p.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error loading id map: %w", err)
	}
	defer rows.Close()

	mapping := make(map[int64]string)
	for rows.Next() {
		var (
			legacyID int64
			newID    string
		)
		if err := rows.Scan(&legacyID, &newID); err != nil {
			return nil, err
		}
		mapping[legacyID] = newID
	}
	return mapping, rows.Err()
}

// Insert runs inside a savepoint so a rejected row does not poison the
// table transaction.
func (p *postgresTx) Insert(ctx context.Context, table string, legacyID int64, columns []string, values []any) (string, error) {
	if _, err := p.tx.ExecContext(ctx, "SAVEPOINT migrate_row"); err != nil {
		return "", err
	}

	newID, err := p.insert(ctx, table, legacyID, columns, values)
	if err != nil {
		if _, rerr := p.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT migrate_row"); rerr != nil {
			return "", fmt.Errorf("%w (rollback to savepoint: %v)", err, rerr)
		}
		return "", err
	}

	if _, err := p.tx.ExecContext(ctx, "RELEASE SAVEPOINT migrate_row"); err != nil {
		return "", err
	}
	return newID, nil
}

func (p *postgresTx) insert(ctx context.Context, table string, legacyID int64, columns []string, values []any) (string, error) {
	query := fmt.Sprintf("INSERT INTO %s DEFAULT VALUES RETURNING id", table)
	var args []any
	if len(columns) > 0 {
		var err error
		query, args, err = psql.Insert(table).
			Columns(columns...).
			Values(values...).
			Suffix("RETURNING id").
			ToSql()
		if err != nil {
			return "", err
		}
	}

	var newID string
	if err := p.tx.QueryRowContext(ctx, query, args...).Scan(&newID); err != nil {
		return "", err
	}

	query, args, err := psql.Insert("migration_id_map").
		Columns("table_name", "legacy_id", "new_id").
		Values(table, legacyID, newID).
		ToSql()
	if err != nil {
		return "", err
	}
	if _, err := p.tx.ExecContext(ctx, query, args...); err != nil {
		return "", fmt.Errorf("error recording id map: %w", err)
	}
	return newID, nil
}

func (p *postgresTx) Commit() error {
	return p.tx.Commit()
}

func (p *postgresTx) Rollback() error {
	err := p.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}
