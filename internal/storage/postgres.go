package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/xaenox/neofeed/internal/models"
	"go.uber.org/zap"
)

//go:embed migrations.sql
var migrations embed.FS

// Schema returns the PostgreSQL DDL applied on startup.
func Schema() (string, error) {
	b, err := migrations.ReadFile("migrations.sql")
	if err != nil {
		return "", fmt.Errorf("error reading migrations file: %w", err)
	}
	return string(b), nil
}

type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DSN renders the lib/pq connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

type PostgresStorage struct {
	db     *sql.DB
	logger *zap.Logger
}

var (
	_ Storage = (*PostgresStorage)(nil)

	psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
)

const (
	itemColumns   = "i.id, i.user_id, i.title, i.content, i.url, i.source_type, i.source_metadata, i.word_count, i.language, i.status, i.created_at, i.updated_at"
	resultColumns = "a.id, a.item_id, a.user_id, a.summary, a.category, a.sub_category, a.topics, a.keywords, a.importance_score, a.sentiment, a.model_used, a.processing_time_ms, a.created_at"
	userColumns   = "id, email, telegram_id, telegram_username, preferences, created_at, updated_at"
	tagColumns    = "t.id, t.user_id, t.name, t.category, t.color, t.description, t.created_at"
	reportColumns = "id, user_id, week_start, week_end, week_range, title, content, summary, stats, clusters, insights, keywords_summary, item_count, status, created_at, published_at, sent_at"
)

func NewPostgresStorage(config DatabaseConfig, logger *zap.Logger) (*PostgresStorage, error) {
	db, err := sql.Open("postgres", config.DSN())
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(config.MaxIdleConns)
	}
	if config.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(config.ConnMaxLifetime)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("error connecting to the database: %w", err)
	}

	storage := &PostgresStorage{db: db, logger: logger}

	if err := storage.initializeSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("error initializing database schema: %w", err)
	}

	logger.Info("PostgreSQL storage ready",
		zap.String("host", config.Host),
		zap.String("db", config.DBName))

	return storage, nil
}

func (s *PostgresStorage) initializeSchema() error {
	schema, err := Schema()
	if err != nil {
		return err
	}
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("error executing migrations: %w", err)
	}
	return nil
}

func (s *PostgresStorage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStorage) Close() error {
	return s.db.Close()
}

// Users

func (s *PostgresStorage) GetOrCreateDefaultUser(ctx context.Context) (*models.User, error) {
	prefs, err := marshalDocument(models.DefaultPreferences())
	if err != nil {
		return nil, err
	}
	query := `
		INSERT INTO users (email, preferences)
		VALUES ($1, $2)
		ON CONFLICT (email) DO UPDATE SET email = EXCLUDED.email
		RETURNING ` + userColumns

	user, err := scanUser(s.db.QueryRowContext(ctx, query, models.DefaultUserEmail, prefs))
	if err != nil {
		return nil, fmt.Errorf("error getting default user: %w", mapError(err))
	}
	return user, nil
}

func (s *PostgresStorage) GetOrCreateTelegramUser(ctx context.Context, telegramID int64, username string) (*models.User, error) {
	prefs, err := marshalDocument(models.DefaultPreferences())
	if err != nil {
		return nil, err
	}
	query := `
		INSERT INTO users (telegram_id, telegram_username, preferences)
		VALUES ($1, $2, $3)
		ON CONFLICT (telegram_id) DO UPDATE
		SET telegram_username = EXCLUDED.telegram_username, updated_at = NOW()
		RETURNING ` + userColumns

	user, err := scanUser(s.db.QueryRowContext(ctx, query, strconv.FormatInt(telegramID, 10), nullString(username), prefs))
	if err != nil {
		return nil, fmt.Errorf("error getting telegram user: %w", mapError(err))
	}
	return user, nil
}

// Items

func (s *PostgresStorage) CreateItem(ctx context.Context, item models.NewItem) (string, error) {
	item, err := prepareItem(item)
	if err != nil {
		return "", err
	}
	metadata, err := marshalDocument(item.SourceMetadata)
	if err != nil {
		return "", err
	}

	query := `
		INSERT INTO items (user_id, title, content, url, source_type, source_metadata, word_count, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`

	var id string
	err = s.db.QueryRowContext(ctx, query,
		item.UserID,
		nullString(item.Title),
		item.Content,
		nullString(item.URL),
		item.SourceType,
		metadata,
		WordCount(item.Content),
		models.StatusPending,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("error creating item: %w", mapError(err))
	}
	return id, nil
}

func (s *PostgresStorage) GetItem(ctx context.Context, itemID string) (*models.Item, error) {
	if !validID(itemID) {
		return nil, fmt.Errorf("item %s: %w", itemID, models.ErrNotFound)
	}
	query := `SELECT ` + itemColumns + ` FROM items i WHERE i.id = $1`

	item, err := scanItem(s.db.QueryRowContext(ctx, query, itemID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("item %s: %w", itemID, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("error getting item: %w", err)
	}
	return item, nil
}

func (s *PostgresStorage) ListItems(ctx context.Context, userID string, opts ListOptions) ([]models.ItemWithResult, error) {
	if err := statusFilter(opts.Status); err != nil {
		return nil, err
	}
	opts = opts.Normalize()

	builder := psql.Select(itemColumns, resultColumns).
		From("items i").
		LeftJoin("ai_results a ON a.item_id = i.id").
		Where(sq.Eq{"i.user_id": userID}).
		OrderBy("i.created_at DESC", "i.id DESC").
		Limit(uint64(opts.Limit)).
		Offset(uint64(opts.Offset))
	if opts.Status != "" {
		builder = builder.Where(sq.Eq{"i.status": opts.Status})
	}

	return s.queryItemsWithResults(ctx, builder)
}

func (s *PostgresStorage) ItemsBetween(ctx context.Context, userID string, from, to time.Time, status models.Status) ([]models.ItemWithResult, error) {
	if err := statusFilter(status); err != nil {
		return nil, err
	}
	builder := psql.Select(itemColumns, resultColumns).
		From("items i").
		LeftJoin("ai_results a ON a.item_id = i.id").
		Where(sq.Eq{"i.user_id": userID}).
		Where(sq.GtOrEq{"i.created_at": from}).
		Where(sq.Lt{"i.created_at": to}).
		OrderBy("i.created_at ASC", "i.id ASC")
	if status != "" {
		builder = builder.Where(sq.Eq{"i.status": status})
	}

	return s.queryItemsWithResults(ctx, builder)
}

func (s *PostgresStorage) queryItemsWithResults(ctx context.Context, builder sq.SelectBuilder) ([]models.ItemWithResult, error) {
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("error building items query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error querying items: %w", err)
	}
	defer rows.Close()

	var items []models.ItemWithResult
	for rows.Next() {
		var res nullResult
		item, err := scanItem(rows, res.dest()...)
		if err != nil {
			return nil, fmt.Errorf("error scanning item: %w", err)
		}
		items = append(items, models.ItemWithResult{Item: *item, Result: res.result()})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating items: %w", err)
	}
	return items, nil
}

func (s *PostgresStorage) CountItems(ctx context.Context, userID string, status models.Status) (int, error) {
	if err := statusFilter(status); err != nil {
		return 0, err
	}
	builder := psql.Select("COUNT(*)").From("items").Where(sq.Eq{"user_id": userID})
	if status != "" {
		builder = builder.Where(sq.Eq{"status": status})
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return 0, fmt.Errorf("error building count query: %w", err)
	}

	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("error counting items: %w", err)
	}
	return count, nil
}

// UpdateStatus applies the transition only if the current status allows it, in one statement.
func (s *PostgresStorage) UpdateStatus(ctx context.Context, itemID string, status models.Status) error {
	if !status.Valid() {
		return fmt.Errorf("%w: unknown status %q", models.ErrValidation, status)
	}
	if !validID(itemID) {
		return fmt.Errorf("item %s: %w", itemID, models.ErrNotFound)
	}

	from := models.AllowedFrom(status)
	allowed := make([]string, len(from))
	for i, st := range from {
		allowed[i] = string(st)
	}

	query := `
		UPDATE items
		SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = ANY($3)`

	result, err := s.db.ExecContext(ctx, query, status, itemID, pq.StringArray(allowed))
	if err != nil {
		return fmt.Errorf("error updating item status: %w", mapError(err))
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("error getting rows affected: %w", err)
	}
	if rowsAffected > 0 {
		return nil
	}

	var current models.Status
	err = s.db.QueryRowContext(ctx, `SELECT status FROM items WHERE id = $1`, itemID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("item %s: %w", itemID, models.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("error reading item status: %w", err)
	}
	return models.CheckTransition(current, status)
}

func (s *PostgresStorage) GetStats(ctx context.Context, userID string, days int) (models.Stats, error) {
	var stats models.Stats
	since := time.Now().AddDate(0, 0, -days)

	query, args, err := psql.Select("status", "COUNT(*)").
		From("items").
		Where(sq.Eq{"user_id": userID}).
		Where(sq.GtOrEq{"created_at": since}).
		GroupBy("status").
		ToSql()
	if err != nil {
		return stats, fmt.Errorf("error building stats query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return stats, fmt.Errorf("error querying stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status models.Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return stats, fmt.Errorf("error scanning stats: %w", err)
		}
		stats.Add(status, count)
	}
	return stats, rows.Err()
}

// AI results

func (s *PostgresStorage) CreateResult(ctx context.Context, result *models.AIResult) (string, error) {
	if err := validateResult(result); err != nil {
		return "", err
	}

	query := `
		INSERT INTO ai_results
		(item_id, user_id, summary, category, sub_category, topics, keywords,
		 importance_score, sentiment, model_used, processing_time_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at`

	err := s.db.QueryRowContext(ctx, query,
		result.ItemID,
		result.UserID,
		result.Summary,
		result.Category,
		nullString(result.SubCategory),
		pq.StringArray(result.Topics),
		pq.StringArray(result.Keywords),
		result.ImportanceScore,
		nullString(result.Sentiment),
		result.ModelUsed,
		result.ProcessingTimeMs,
	).Scan(&result.ID, &result.CreatedAt)
	if err != nil {
		return "", fmt.Errorf("error creating ai result: %w", mapError(err))
	}
	return result.ID, nil
}

func (s *PostgresStorage) GetResultByItem(ctx context.Context, itemID string) (*models.AIResult, error) {
	if !validID(itemID) {
		return nil, fmt.Errorf("result for item %s: %w", itemID, models.ErrNotFound)
	}
	query := `SELECT ` + resultColumns + ` FROM ai_results a WHERE a.item_id = $1`

	var res nullResult
	err := s.db.QueryRowContext(ctx, query, itemID).Scan(res.dest()...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("result for item %s: %w", itemID, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("error getting ai result: %w", err)
	}
	return res.result(), nil
}

// Tags

func (s *PostgresStorage) UpsertTag(ctx context.Context, tag *models.Tag) (*models.Tag, error) {
	if tag == nil || tag.Name == "" || tag.UserID == "" {
		return nil, fmt.Errorf("%w: tag needs a user and a name", models.ErrValidation)
	}
	color := tag.Color
	if color == "" {
		color = models.DefaultTagColor
	}

	query := `
		INSERT INTO tags AS t (user_id, name, category, color, description)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, name) DO UPDATE SET name = EXCLUDED.name
		RETURNING ` + tagColumns

	out, err := scanTag(s.db.QueryRowContext(ctx, query,
		tag.UserID, tag.Name, nullString(tag.Category), color, nullString(tag.Description)))
	if err != nil {
		return nil, fmt.Errorf("error upserting tag: %w", mapError(err))
	}
	return out, nil
}

func (s *PostgresStorage) TagItem(ctx context.Context, itemID, tagID string) error {
	query := `
		INSERT INTO item_tags (item_id, tag_id)
		VALUES ($1, $2)
		ON CONFLICT (item_id, tag_id) DO NOTHING`

	if _, err := s.db.ExecContext(ctx, query, itemID, tagID); err != nil {
		return fmt.Errorf("error tagging item: %w", mapError(err))
	}
	return nil
}

func (s *PostgresStorage) ListTags(ctx context.Context, userID string) ([]models.Tag, error) {
	query := `SELECT ` + tagColumns + ` FROM tags t WHERE t.user_id = $1 ORDER BY t.name`
	return s.queryTags(ctx, query, userID)
}

func (s *PostgresStorage) ItemTags(ctx context.Context, itemID string) ([]models.Tag, error) {
	query := `
		SELECT ` + tagColumns + `
		FROM tags t
		JOIN item_tags it ON it.tag_id = t.id
		WHERE it.item_id = $1
		ORDER BY t.name`
	return s.queryTags(ctx, query, itemID)
}

func (s *PostgresStorage) queryTags(ctx context.Context, query string, arg string) ([]models.Tag, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("error querying tags: %w", err)
	}
	defer rows.Close()

	var tags []models.Tag
	for rows.Next() {
		tag, err := scanTag(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning tag: %w", err)
		}
		tags = append(tags, *tag)
	}
	return tags, rows.Err()
}

// Weekly reports

func (s *PostgresStorage) CreateReport(ctx context.Context, report *models.WeeklyReport, items []models.ReportItem) (string, error) {
	stats, err := marshalJSON(report.Stats)
	if err != nil {
		return "", err
	}
	clusters, err := marshalJSON(report.Clusters)
	if err != nil {
		return "", err
	}
	insights, err := marshalJSON(report.Insights)
	if err != nil {
		return "", err
	}
	keywords, err := marshalJSON(report.KeywordsSummary)
	if err != nil {
		return "", err
	}
	status := report.Status
	if status == "" {
		status = models.ReportDraft
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("error starting transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO weekly_reports
		(user_id, week_start, week_end, week_range, title, content, summary,
		 stats, clusters, insights, keywords_summary, item_count, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id, created_at`

	err = tx.QueryRowContext(ctx, query,
		report.UserID, report.WeekStart, report.WeekEnd, report.WeekRange,
		report.Title, report.Content, report.Summary,
		stats, clusters, insights, keywords,
		report.ItemCount, status,
	).Scan(&report.ID, &report.CreatedAt)
	if err != nil {
		return "", fmt.Errorf("error creating report: %w", mapError(err))
	}
	report.Status = status

	for _, item := range items {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO report_items (report_id, item_id, cluster_name) VALUES ($1, $2, $3)`,
			report.ID, item.ItemID, item.ClusterName)
		if err != nil {
			return "", fmt.Errorf("error linking report item %s: %w", item.ItemID, mapError(err))
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("error committing report: %w", err)
	}
	return report.ID, nil
}

func (s *PostgresStorage) GetReport(ctx context.Context, reportID string) (*models.WeeklyReport, error) {
	if !validID(reportID) {
		return nil, fmt.Errorf("report %s: %w", reportID, models.ErrNotFound)
	}
	query := `SELECT ` + reportColumns + ` FROM weekly_reports WHERE id = $1`

	report, err := scanReport(s.db.QueryRowContext(ctx, query, reportID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("report %s: %w", reportID, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("error getting report: %w", err)
	}
	return report, nil
}

func (s *PostgresStorage) ListReports(ctx context.Context, userID string, limit int) ([]models.WeeklyReport, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	query := `SELECT ` + reportColumns + ` FROM weekly_reports WHERE user_id = $1 ORDER BY week_start DESC, created_at DESC LIMIT $2`

	rows, err := s.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("error querying reports: %w", err)
	}
	defer rows.Close()

	var reports []models.WeeklyReport
	for rows.Next() {
		report, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning report: %w", err)
		}
		reports = append(reports, *report)
	}
	return reports, rows.Err()
}

func (s *PostgresStorage) ReportItems(ctx context.Context, reportID string) ([]models.ReportItem, error) {
	if !validID(reportID) {
		return nil, fmt.Errorf("report %s: %w", reportID, models.ErrNotFound)
	}
	query := `
		SELECT id, report_id, item_id, COALESCE(cluster_name, ''), created_at
		FROM report_items
		WHERE report_id = $1
		ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query, reportID)
	if err != nil {
		return nil, fmt.Errorf("error querying report items: %w", err)
	}
	defer rows.Close()

	var items []models.ReportItem
	for rows.Next() {
		var it models.ReportItem
		if err := rows.Scan(&it.ID, &it.ReportID, &it.ItemID, &it.ClusterName, &it.CreatedAt); err != nil {
			return nil, fmt.Errorf("error scanning report item: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// PublishReport freezes a draft report.
func (s *PostgresStorage) PublishReport(ctx context.Context, reportID string) error {
	if !validID(reportID) {
		return fmt.Errorf("report %s: %w", reportID, models.ErrNotFound)
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE weekly_reports
		SET status = $1, published_at = NOW()
		WHERE id = $2 AND status = $3`,
		models.ReportPublished, reportID, models.ReportDraft)
	if err != nil {
		return fmt.Errorf("error publishing report: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("error getting rows affected: %w", err)
	}
	if rowsAffected > 0 {
		return nil
	}

	var status models.ReportStatus
	err = s.db.QueryRowContext(ctx, `SELECT status FROM weekly_reports WHERE id = $1`, reportID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("report %s: %w", reportID, models.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("error reading report status: %w", err)
	}
	return fmt.Errorf("%w: report is %s", models.ErrInvalidTransition, status)
}

// Processing logs

func (s *PostgresStorage) AppendLog(ctx context.Context, entry *models.ProcessingLog) error {
	query := `
		INSERT INTO processing_logs
		(item_id, task_type, status, error_message, retry_count, processing_time_ms)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`

	err := s.db.QueryRowContext(ctx, query,
		entry.ItemID,
		entry.TaskType,
		entry.Status,
		nullString(entry.ErrorMessage),
		entry.RetryCount,
		entry.ProcessingTimeMs,
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("error appending processing log: %w", mapError(err))
	}
	return nil
}

func (s *PostgresStorage) ListLogs(ctx context.Context, itemID string) ([]models.ProcessingLog, error) {
	if !validID(itemID) {
		return nil, nil
	}
	query := `
		SELECT id, item_id, task_type, status, COALESCE(error_message, ''), retry_count,
		       COALESCE(processing_time_ms, 0), created_at
		FROM processing_logs
		WHERE item_id = $1
		ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query, itemID)
	if err != nil {
		return nil, fmt.Errorf("error querying processing logs: %w", err)
	}
	defer rows.Close()

	var logs []models.ProcessingLog
	for rows.Next() {
		var l models.ProcessingLog
		if err := rows.Scan(&l.ID, &l.ItemID, &l.TaskType, &l.Status, &l.ErrorMessage,
			&l.RetryCount, &l.ProcessingTimeMs, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("error scanning processing log: %w", err)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// Scanning helpers

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner, extra ...any) (*models.Item, error) {
	var (
		item     models.Item
		title    sql.NullString
		url      sql.NullString
		metadata []byte
		language sql.NullString
	)
	dest := append([]any{
		&item.ID, &item.UserID, &title, &item.Content, &url, &item.SourceType,
		&metadata, &item.WordCount, &language, &item.Status, &item.CreatedAt, &item.UpdatedAt,
	}, extra...)

	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	item.Title = title.String
	item.URL = url.String
	item.Language = language.String

	doc, err := unmarshalDocument(metadata)
	if err != nil {
		return nil, err
	}
	item.SourceMetadata = doc
	return &item, nil
}

// nullResult scans the LEFT JOINed ai_results columns.
type nullResult struct {
	id, itemID, userID, summary, category, subCategory, sentiment, modelUsed sql.NullString
	topics, keywords                                                          pq.StringArray
	score                                                                     sql.NullFloat64
	ms                                                                        sql.NullInt64
	createdAt                                                                 sql.NullTime
}

func (n *nullResult) dest() []any {
	return []any{
		&n.id, &n.itemID, &n.userID, &n.summary, &n.category, &n.subCategory,
		&n.topics, &n.keywords, &n.score, &n.sentiment, &n.modelUsed, &n.ms, &n.createdAt,
	}
}

func (n *nullResult) result() *models.AIResult {
	if !n.id.Valid {
		return nil
	}
	return &models.AIResult{
		ID:               n.id.String,
		ItemID:           n.itemID.String,
		UserID:           n.userID.String,
		Summary:          n.summary.String,
		Category:         n.category.String,
		SubCategory:      n.subCategory.String,
		Topics:           []string(n.topics),
		Keywords:         []string(n.keywords),
		ImportanceScore:  n.score.Float64,
		Sentiment:        n.sentiment.String,
		ModelUsed:        n.modelUsed.String,
		ProcessingTimeMs: n.ms.Int64,
		CreatedAt:        n.createdAt.Time,
	}
}

func scanUser(row rowScanner) (*models.User, error) {
	var (
		user       models.User
		email      sql.NullString
		telegramID sql.NullString
		username   sql.NullString
		prefs      []byte
	)
	if err := row.Scan(&user.ID, &email, &telegramID, &username, &prefs, &user.CreatedAt, &user.UpdatedAt); err != nil {
		return nil, err
	}
	user.Email = email.String
	user.TelegramID = telegramID.String
	user.TelegramUsername = username.String

	doc, err := unmarshalDocument(prefs)
	if err != nil {
		return nil, err
	}
	user.Preferences = doc
	return &user, nil
}

func scanTag(row rowScanner) (*models.Tag, error) {
	var (
		tag         models.Tag
		category    sql.NullString
		color       sql.NullString
		description sql.NullString
	)
	if err := row.Scan(&tag.ID, &tag.UserID, &tag.Name, &category, &color, &description, &tag.CreatedAt); err != nil {
		return nil, err
	}
	tag.Category = category.String
	tag.Color = color.String
	tag.Description = description.String
	return &tag, nil
}

func scanReport(row rowScanner) (*models.WeeklyReport, error) {
	var (
		r                                   models.WeeklyReport
		weekRange, title, content, summary  sql.NullString
		stats, clusters, insights, keywords []byte
		publishedAt, sentAt                 sql.NullTime
	)
	err := row.Scan(&r.ID, &r.UserID, &r.WeekStart, &r.WeekEnd, &weekRange, &title, &content, &summary,
		&stats, &clusters, &insights, &keywords, &r.ItemCount, &r.Status, &r.CreatedAt, &publishedAt, &sentAt)
	if err != nil {
		return nil, err
	}
	r.WeekRange = weekRange.String
	r.Title = title.String
	r.Content = content.String
	r.Summary = summary.String
	if publishedAt.Valid {
		r.PublishedAt = &publishedAt.Time
	}
	if sentAt.Valid {
		r.SentAt = &sentAt.Time
	}

	for _, f := range []struct {
		raw []byte
		dst any
	}{
		{stats, &r.Stats},
		{clusters, &r.Clusters},
		{insights, &r.Insights},
		{keywords, &r.KeywordsSummary},
	} {
		if len(f.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(f.raw, f.dst); err != nil {
			return nil, fmt.Errorf("error decoding report document: %w", err)
		}
	}
	return &r, nil
}

// Encoding helpers

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// marshalDocument returns nil for an empty document so the column stays NULL.
func marshalDocument(doc models.Document) ([]byte, error) {
	if len(doc) == 0 {
		return nil, nil
	}
	return marshalJSON(doc)
}

func marshalJSON(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: encoding document: %v", models.ErrValidation, err)
	}
	return b, nil
}

func unmarshalDocument(raw []byte) (models.Document, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var doc models.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("error decoding document: %w", err)
	}
	return doc, nil
}

// mapError translates PostgreSQL integrity violations into ErrConstraintViolation.
func mapError(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}
	switch pqErr.Code {
	case "23505", "23503", "23514", "23502":
		return fmt.Errorf("%w: %s", models.ErrConstraintViolation, pqErr.Message)
	case "22P02":
		return fmt.Errorf("%w: %s", models.ErrValidation, pqErr.Message)
	}
	return err
}
