package migrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

// ErrUnresolvedReference is returned for a row whose foreign key points at a
// legacy id that was never migrated.
var ErrUnresolvedReference = errors.New("unresolved reference")

type columnKind int

const (
	plain columnKind = iota
	document
	list
	reference
)

type column struct {
	name string
	kind columnKind
	ref  string
}

func col(name string) column       { return column{name: name} }
func doc(name string) column       { return column{name: name, kind: document} }
func arr(name string) column       { return column{name: name, kind: list} }
func fk(name, table string) column { return column{name: name, kind: reference, ref: table} }

type table struct {
	name    string
	columns []column
}

// tables lists the migrated tables in dependency order.
var tables = []table{
	{"users", []column{col("email"), col("telegram_id"), col("telegram_username"), doc("preferences"), col("created_at")}},
	{"items", []column{fk("user_id", "users"), col("title"), col("content"), col("url"), col("source_type"),
		doc("source_metadata"), col("word_count"), col("language"), col("status"), col("created_at")}},
	{"ai_results", []column{fk("item_id", "items"), fk("user_id", "users"), col("summary"), col("category"),
		col("sub_category"), arr("topics"), arr("keywords"), col("importance_score"), col("sentiment"),
		col("model_used"), col("processing_time_ms"), col("created_at")}},
	{"tags", []column{fk("user_id", "users"), col("name"), col("category"), col("color"), col("description"), col("created_at")}},
	{"item_tags", []column{fk("item_id", "items"), fk("tag_id", "tags"), col("created_at")}},
	{"weekly_reports", []column{fk("user_id", "users"), col("week_start"), col("week_end"), col("week_range"),
		col("title"), col("content"), col("summary"), doc("stats"), doc("clusters"), doc("insights"),
		doc("keywords_summary"), col("item_count"), col("status"), col("created_at")}},
	{"report_items", []column{fk("report_id", "weekly_reports"), fk("item_id", "items"), col("cluster_name"), col("created_at")}},
	{"processing_logs", []column{fk("item_id", "items"), col("task_type"), col("status"), col("error_message"),
		col("retry_count"), col("processing_time_ms"), col("created_at")}},
}

func (t table) columnNames() []string {
	out := make([]string, len(t.columns))
	for i, c := range t.columns {
		out[i] = c.name
	}
	return out
}

// Source reads legacy rows keyed by their integer id.
type Source interface {
	HasTable(ctx context.Context, table string) (bool, error)
	// Rows calls fn for every row in id order. Columns the legacy table
	// does not have are absent from the map.
	Rows(ctx context.Context, table string, columns []string, fn func(legacyID int64, row map[string]any) error) error
}

// Target writes migrated rows. Each table runs in its own TargetTx.
type Target interface {
	Begin(ctx context.Context) (TargetTx, error)
}

type TargetTx interface {
	// Mapping returns the legacy id -> new id pairs already recorded for table.
	Mapping(ctx context.Context, table string) (map[int64]string, error)
	// Insert writes one row and records its mapping. A failed insert must
	// leave the transaction usable for the next row.
	Insert(ctx context.Context, table string, legacyID int64, columns []string, values []any) (string, error)
	Commit() error
	Rollback() error
}

type TableReport struct {
	Table    string   `json:"table"`
	Missing  bool     `json:"missing,omitempty"`
	Read     int      `json:"read"`
	Migrated int      `json:"migrated"`
	Skipped  int      `json:"skipped"`
	Failed   int      `json:"failed"`
	Errors   []string `json:"errors,omitempty"`
}

type Report struct {
	Tables []TableReport `json:"tables"`
}

// Failed sums the failed rows over all tables.
func (r *Report) Failed() int {
	n := 0
	for _, t := range r.Tables {
		n += t.Failed
	}
	return n
}

type Migrator struct {
	source Source
	target Target
	logger *zap.Logger
}

func New(source Source, target Target, logger *zap.Logger) *Migrator {
	return &Migrator{source: source, target: target, logger: logger}
}

// Run migrates every table in order. A table-level error aborts the run;
// tables committed before it stay committed and a re-run resumes from the
// recorded mappings.
func (m *Migrator) Run(ctx context.Context) (*Report, error) {
	report := &Report{}
	mappings := make(map[string]map[int64]string, len(tables))

	for _, t := range tables {
		ok, err := m.source.HasTable(ctx, t.name)
		if err != nil {
			return report, fmt.Errorf("error inspecting %s: %w", t.name, err)
		}
		if !ok {
			m.logger.Warn("Source table missing, skipping", zap.String("table", t.name))
			report.Tables = append(report.Tables, TableReport{Table: t.name, Missing: true})
			mappings[t.name] = map[int64]string{}
			continue
		}

		tr, mapping, err := m.migrateTable(ctx, t, mappings)
		report.Tables = append(report.Tables, tr)
		if err != nil {
			return report, fmt.Errorf("error migrating %s: %w", t.name, err)
		}
		mappings[t.name] = mapping

		m.logger.Info("Table migrated",
			zap.String("table", t.name),
			zap.Int("read", tr.Read),
			zap.Int("migrated", tr.Migrated),
			zap.Int("skipped", tr.Skipped),
			zap.Int("failed", tr.Failed))
	}

	return report, nil
}

func (m *Migrator) migrateTable(ctx context.Context, t table, mappings map[string]map[int64]string) (TableReport, map[int64]string, error) {
	tr := TableReport{Table: t.name}

	tx, err := m.target.Begin(ctx)
	if err != nil {
		return tr, nil, err
	}
	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil {
				m.logger.Error("Rollback failed", zap.String("table", t.name), zap.Error(err))
			}
		}
	}()

	mapping, err := tx.Mapping(ctx, t.name)
	if err != nil {
		return tr, nil, err
	}

	err = m.source.Rows(ctx, t.name, t.columnNames(), func(legacyID int64, row map[string]any) error {
		tr.Read++
		if _, done := mapping[legacyID]; done {
			tr.Skipped++
			return nil
		}

		cols, vals, err := convertRow(t, row, mappings)
		if err == nil {
			var newID string
			newID, err = tx.Insert(ctx, t.name, legacyID, cols, vals)
			if err == nil {
				mapping[legacyID] = newID
				tr.Migrated++
				return nil
			}
		}

		tr.Failed++
		tr.Errors = append(tr.Errors, fmt.Sprintf("%s#%d: %v", t.name, legacyID, err))
		m.logger.Warn("Row failed",
			zap.String("table", t.name),
			zap.Int64("legacy_id", legacyID),
			zap.Error(err))
		return nil
	})
	if err != nil {
		return tr, nil, err
	}

	if err := tx.Commit(); err != nil {
		return tr, nil, err
	}
	committed = true
	return tr, mapping, nil
}

// convertRow turns a legacy row into target column values.
func convertRow(t table, row map[string]any, mappings map[string]map[int64]string) ([]string, []any, error) {
	cols := make([]string, 0, len(t.columns))
	vals := make([]any, 0, len(t.columns))

	for _, c := range t.columns {
		raw, ok := row[c.name]
		if !ok {
			continue
		}
		v, err := convertValue(c, raw, mappings)
		if err != nil {
			return nil, nil, err
		}
		cols = append(cols, c.name)
		vals = append(vals, v)
	}
	return cols, vals, nil
}

func convertValue(c column, raw any, mappings map[string]map[int64]string) (any, error) {
	if raw == nil {
		return nil, nil
	}

	switch c.kind {
	case document:
		text := asString(raw)
		if strings.TrimSpace(text) == "" {
			return nil, nil
		}
		if !json.Valid([]byte(text)) {
			return nil, fmt.Errorf("column %s: invalid JSON", c.name)
		}
		return text, nil

	case list:
		return splitList(asString(raw)), nil

	case reference:
		legacyID, ok := asInt64(raw)
		if !ok {
			return nil, fmt.Errorf("%w: %s=%v is not an integer id", ErrUnresolvedReference, c.name, raw)
		}
		newID, ok := mappings[c.ref][legacyID]
		if !ok {
			return nil, fmt.Errorf("%w: %s=%d not found in %s", ErrUnresolvedReference, c.name, legacyID, c.ref)
		}
		return newID, nil
	}

	if b, ok := raw.([]byte); ok {
		return string(b), nil
	}
	return raw, nil
}

// splitList reads a comma-joined list. A JSON array is accepted as well.
func splitList(text string) pq.StringArray {
	text = strings.TrimSpace(text)
	out := pq.StringArray{}
	if text == "" {
		return out
	}
	if strings.HasPrefix(text, "[") {
		var arr []string
		if err := json.Unmarshal([]byte(text), &arr); err == nil {
			return append(out, arr...)
		}
	}
	for _, part := range strings.Split(text, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func asString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return string(x)
	}
	return fmt.Sprint(v)
}

func asInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case int:
		return int64(x), true
	case float64:
		return int64(x), x == float64(int64(x))
	}
	return 0, false
}
