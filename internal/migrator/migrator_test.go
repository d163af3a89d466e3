package migrator

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeRow struct {
	legacyID int64
	values   map[string]any
}

// fakeTarget keeps committed rows in memory. Writes of an open transaction
// are applied on Commit only.
type fakeTarget struct {
	rows      map[string][]fakeRow
	ids       map[string]map[int64]string
	reject    func(table string, values map[string]any) error
	commitErr map[string]error
}

func newFakeTarget() *fakeTarget {
	return &fakeTarget{
		rows: make(map[string][]fakeRow),
		ids:  make(map[string]map[int64]string),
	}
}

func (f *fakeTarget) Begin(ctx context.Context) (TargetTx, error) {
	return &fakeTx{target: f, ids: make(map[int64]string)}, nil
}

type fakeTx struct {
	target *fakeTarget
	table  string
	rows   []fakeRow
	ids    map[int64]string
}

func (tx *fakeTx) Mapping(ctx context.Context, table string) (map[int64]string, error) {
	tx.table = table
	out := make(map[int64]string)
	for k, v := range tx.target.ids[table] {
		out[k] = v
	}
	return out, nil
}

func (tx *fakeTx) Insert(ctx context.Context, table string, legacyID int64, columns []string, values []any) (string, error) {
	row := make(map[string]any, len(columns))
	for i, c := range columns {
		row[c] = values[i]
	}
	if tx.target.reject != nil {
		if err := tx.target.reject(table, row); err != nil {
			return "", err
		}
	}
	id := uuid.NewString()
	tx.rows = append(tx.rows, fakeRow{legacyID: legacyID, values: row})
	tx.ids[legacyID] = id
	return id, nil
}

func (tx *fakeTx) Commit() error {
	if err := tx.target.commitErr[tx.table]; err != nil {
		return err
	}
	tx.target.rows[tx.table] = append(tx.target.rows[tx.table], tx.rows...)
	if tx.target.ids[tx.table] == nil {
		tx.target.ids[tx.table] = make(map[int64]string)
	}
	for k, v := range tx.ids {
		tx.target.ids[tx.table][k] = v
	}
	return nil
}

func (tx *fakeTx) Rollback() error { return nil }

func newSource(t *testing.T, stmts ...string) *SQLiteSource {
	t.Helper()
	src, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { src.Close() })

	for _, stmt := range stmts {
		_, err := src.DB().Exec(stmt)
		require.NoError(t, err, stmt)
	}
	return src
}

var legacyFixture = []string{
	`CREATE TABLE users (id INTEGER PRIMARY KEY, email TEXT, telegram_id TEXT, preferences TEXT)`,
	`INSERT INTO users (id, email, telegram_id, preferences) VALUES
		(1, 'a@example.com', NULL, '{"language":"en"}'),
		(2, NULL, '4242', '')`,
	`CREATE TABLE items (id INTEGER PRIMARY KEY, user_id INTEGER, title TEXT, content TEXT, source_type TEXT, status TEXT)`,
	`INSERT INTO items (id, user_id, title, content, source_type, status) VALUES
		(10, 1, 'first', 'hello', 'manual', 'processed'),
		(11, 2, NULL, 'second', 'telegram', 'pending'),
		(12, 99, NULL, 'orphan', 'manual', 'pending')`,
	`CREATE TABLE ai_results (id INTEGER PRIMARY KEY, item_id INTEGER, user_id INTEGER, summary TEXT, category TEXT, topics TEXT, keywords TEXT, importance_score REAL)`,
	`INSERT INTO ai_results (id, item_id, user_id, summary, category, topics, keywords, importance_score) VALUES
		(100, 10, 1, 'greeting', 'Other', 'a, b', '["go","sql"]', 0.5),
		(101, 12, 1, 'lost', 'Other', '', NULL, 0.5)`,
	`CREATE TABLE tags (id INTEGER PRIMARY KEY, user_id INTEGER, name TEXT)`,
}

func findTable(r *Report, name string) TableReport {
	for _, t := range r.Tables {
		if t.Table == name {
			return t
		}
	}
	return TableReport{}
}

func TestRunMigratesInOrder(t *testing.T) {
	src := newSource(t, legacyFixture...)
	target := newFakeTarget()

	report, err := New(src, target, zap.NewNop()).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Tables, len(tables))

	users := findTable(report, "users")
	assert.Equal(t, 2, users.Read)
	assert.Equal(t, 2, users.Migrated)

	require.Len(t, target.rows["users"], 2)
	assert.Equal(t, `{"language":"en"}`, target.rows["users"][0].values["preferences"])
	assert.Nil(t, target.rows["users"][1].values["preferences"])
	assert.Equal(t, "4242", target.rows["users"][1].values["telegram_id"])

	items := findTable(report, "items")
	assert.Equal(t, 3, items.Read)
	assert.Equal(t, 2, items.Migrated)
	assert.Equal(t, 1, items.Failed)
	require.Len(t, items.Errors, 1)
	assert.Contains(t, items.Errors[0], "items#12")
	assert.Contains(t, items.Errors[0], ErrUnresolvedReference.Error())

	require.Len(t, target.rows["items"], 2)
	assert.Equal(t, target.ids["users"][1], target.rows["items"][0].values["user_id"])
	assert.Equal(t, target.ids["users"][2], target.rows["items"][1].values["user_id"])
	assert.Nil(t, target.rows["items"][1].values["title"])
	_, migrated := target.ids["items"][12]
	assert.False(t, migrated)

	results := findTable(report, "ai_results")
	assert.Equal(t, 1, results.Migrated)
	assert.Equal(t, 1, results.Failed)
	require.Len(t, target.rows["ai_results"], 1)
	res := target.rows["ai_results"][0].values
	assert.Equal(t, target.ids["items"][10], res["item_id"])
	assert.Equal(t, pq.StringArray{"a", "b"}, res["topics"])
	assert.Equal(t, pq.StringArray{"go", "sql"}, res["keywords"])
	assert.Equal(t, 0.5, res["importance_score"])

	// empty table
	tags := findTable(report, "tags")
	assert.False(t, tags.Missing)
	assert.Zero(t, tags.Read)
	assert.Empty(t, target.ids["tags"])

	// never created in the source
	for _, name := range []string{"item_tags", "weekly_reports", "report_items", "processing_logs"} {
		assert.True(t, findTable(report, name).Missing, name)
	}
	assert.Equal(t, 2, report.Failed())
}

func TestRunIsIdempotent(t *testing.T) {
	src := newSource(t, legacyFixture...)
	target := newFakeTarget()
	m := New(src, target, zap.NewNop())

	_, err := m.Run(context.Background())
	require.NoError(t, err)
	usersBefore := target.ids["users"][1]

	report, err := m.Run(context.Background())
	require.NoError(t, err)

	items := findTable(report, "items")
	assert.Equal(t, 3, items.Read)
	assert.Zero(t, items.Migrated)
	assert.Equal(t, 2, items.Skipped)
	assert.Equal(t, 1, items.Failed)

	assert.Len(t, target.rows["users"], 2)
	assert.Len(t, target.rows["items"], 2)
	assert.Len(t, target.rows["ai_results"], 1)
	assert.Equal(t, usersBefore, target.ids["users"][1])
}

func TestRunResumesAfterNewRows(t *testing.T) {
	src := newSource(t, legacyFixture...)
	target := newFakeTarget()
	m := New(src, target, zap.NewNop())

	_, err := m.Run(context.Background())
	require.NoError(t, err)

	_, err = src.DB().Exec(`INSERT INTO items (id, user_id, content, source_type, status) VALUES (13, 1, 'late', 'manual', 'pending')`)
	require.NoError(t, err)

	report, err := m.Run(context.Background())
	require.NoError(t, err)
	items := findTable(report, "items")
	assert.Equal(t, 1, items.Migrated)
	assert.Equal(t, 2, items.Skipped)
	assert.Equal(t, target.ids["users"][1], target.rows["items"][2].values["user_id"])
}

func TestRejectedRowDoesNotStopTable(t *testing.T) {
	src := newSource(t, legacyFixture...)
	target := newFakeTarget()
	target.reject = func(table string, values map[string]any) error {
		if table == "items" && values["content"] == "hello" {
			return errors.New("check constraint")
		}
		return nil
	}

	report, err := New(src, target, zap.NewNop()).Run(context.Background())
	require.NoError(t, err)

	items := findTable(report, "items")
	assert.Equal(t, 1, items.Migrated)
	assert.Equal(t, 2, items.Failed)

	// its result now points at an unmigrated item
	results := findTable(report, "ai_results")
	assert.Zero(t, results.Migrated)
	assert.Equal(t, 2, results.Failed)
}

func TestCommitFailureAbortsRun(t *testing.T) {
	src := newSource(t, legacyFixture...)
	target := newFakeTarget()
	target.commitErr = map[string]error{"items": errors.New("connection reset")}

	report, err := New(src, target, zap.NewNop()).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "items")

	assert.Len(t, target.rows["users"], 2)
	assert.Empty(t, target.rows["items"])
	assert.Len(t, report.Tables, 2)
}

func TestInvalidDocumentFailsRow(t *testing.T) {
	src := newSource(t,
		`CREATE TABLE users (id INTEGER PRIMARY KEY, email TEXT, preferences TEXT)`,
		`INSERT INTO users (id, email, preferences) VALUES (1, 'x@example.com', '{broken')`,
	)
	target := newFakeTarget()

	report, err := New(src, target, zap.NewNop()).Run(context.Background())
	require.NoError(t, err)
	users := findTable(report, "users")
	assert.Equal(t, 1, users.Failed)
	assert.Contains(t, users.Errors[0], "invalid JSON")
}

func TestConvertValue(t *testing.T) {
	mappings := map[string]map[int64]string{"users": {1: "u-1"}}

	v, err := convertValue(fk("user_id", "users"), int64(1), mappings)
	require.NoError(t, err)
	assert.Equal(t, "u-1", v)

	v, err = convertValue(fk("user_id", "users"), nil, mappings)
	require.NoError(t, err)
	assert.Nil(t, v)

	_, err = convertValue(fk("user_id", "users"), int64(2), mappings)
	assert.ErrorIs(t, err, ErrUnresolvedReference)

	_, err = convertValue(fk("user_id", "users"), "abc", mappings)
	assert.ErrorIs(t, err, ErrUnresolvedReference)

	v, err = convertValue(arr("topics"), "", mappings)
	require.NoError(t, err)
	assert.Equal(t, pq.StringArray{}, v)

	v, err = convertValue(col("title"), []byte("raw"), mappings)
	require.NoError(t, err)
	assert.Equal(t, "raw", v)
}
