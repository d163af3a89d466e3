package migrator

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

// SQLiteSource reads the legacy integer-keyed store.
type SQLiteSource struct {
	db *sql.DB
}

// OpenSQLite opens the legacy database file. ":memory:" works for tests as
// long as the source is the only user of the handle.
func OpenSQLite(path string) (*SQLiteSource, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("error opening sqlite database: %w", err)
	}
	// one connection so an in-memory database is shared
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("error connecting to sqlite database: %w", err)
	}
	return &SQLiteSource{db: db}, nil
}

// DB exposes the handle, mainly for seeding fixtures.
func (s *SQLiteSource) DB() *sql.DB {
	return s.db
}

func (s *SQLiteSource) Close() error {
	return s.db.Close()
}

func (s *SQLiteSource) HasTable(ctx context.Context, table string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLiteSource) columns(ctx context.Context, table string) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%q)", table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var (
			cid     int
			name    string
			ctype   string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dflt, &pk); err != nil {
			return nil, err
		}
		cols[strings.ToLower(name)] = true
	}
	return cols, rows.Err()
}

func (s *SQLiteSource) Rows(ctx context.Context, table string, columns []string, fn func(legacyID int64, row map[string]any) error) error {
	have, err := s.columns(ctx, table)
	if err != nil {
		return fmt.Errorf("error reading columns of %s: %w", table, err)
	}
	if !have["id"] {
		return fmt.Errorf("table %s has no id column", table)
	}

	selected := make([]string, 0, len(columns))
	for _, c := range columns {
		if have[c] {
			selected = append(selected, c)
		}
	}

	query := "SELECT " + strings.Join(append([]string{"id"}, selected...), ", ") +
		fmt.Sprintf(" FROM %q ORDER BY id", table)
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("error reading %s: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		vals := make([]any, len(selected))
		dest := make([]any, len(selected)+1)
		dest[0] = &id
		for i := range vals {
			dest[i+1] = &vals[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return fmt.Errorf("error scanning %s: %w", table, err)
		}

		row := make(map[string]any, len(selected))
		for i, c := range selected {
			row[c] = vals[i]
		}
		if err := fn(id, row); err != nil {
			return err
		}
	}
	return rows.Err()
}
