package storage

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xaenox/neofeed/internal/models"
)

// MemoryStorage keeps everything in maps. It enforces the same uniqueness,
// foreign-key and status rules as the PostgreSQL schema.
type MemoryStorage struct {
	mu          sync.RWMutex
	now         func() time.Time
	seq         int64
	users       map[string]*models.User
	items       map[string]*memItem
	results     map[string]*models.AIResult // keyed by item id
	tags        map[string]*models.Tag
	itemTags    map[string]map[string]bool // item id -> tag ids
	reports     map[string]*models.WeeklyReport
	reportItems map[string][]models.ReportItem
	logs        []models.ProcessingLog
}

type memItem struct {
	models.Item
	seq int64
}

var _ Storage = (*MemoryStorage)(nil)

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		now:         time.Now,
		users:       make(map[string]*models.User),
		items:       make(map[string]*memItem),
		results:     make(map[string]*models.AIResult),
		tags:        make(map[string]*models.Tag),
		itemTags:    make(map[string]map[string]bool),
		reports:     make(map[string]*models.WeeklyReport),
		reportItems: make(map[string][]models.ReportItem),
	}
}

// SetClock overrides the time source; used by tests that need distinct timestamps.
func (s *MemoryStorage) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryStorage) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *MemoryStorage) Close() error {
	// Nothing to close for in-memory storage
	return nil
}

// User methods

func (s *MemoryStorage) GetOrCreateDefaultUser(ctx context.Context) (*models.User, error) {
	return s.findOrCreateUser(func(u *models.User) bool {
		return u.Email == models.DefaultUserEmail
	}, func(u *models.User) {
		u.Email = models.DefaultUserEmail
	})
}

func (s *MemoryStorage) GetOrCreateTelegramUser(ctx context.Context, telegramID int64, username string) (*models.User, error) {
	id := strconv.FormatInt(telegramID, 10)
	user, err := s.findOrCreateUser(func(u *models.User) bool {
		return u.TelegramID == id
	}, func(u *models.User) {
		u.TelegramID = id
	})
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	stored := s.users[user.ID]
	if username != "" && stored.TelegramUsername != username {
		stored.TelegramUsername = username
		stored.UpdatedAt = s.now()
	}
	out := *stored
	return &out, nil
}

func (s *MemoryStorage) findOrCreateUser(match func(*models.User) bool, init func(*models.User)) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if match(u) {
			out := *u
			return &out, nil
		}
	}

	now := s.now()
	user := &models.User{
		ID:          uuid.NewString(),
		Preferences: models.DefaultPreferences(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	init(user)
	s.users[user.ID] = user

	out := *user
	return &out, nil
}

// Item methods

func (s *MemoryStorage) CreateItem(ctx context.Context, item models.NewItem) (string, error) {
	item, err := prepareItem(item)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[item.UserID]; !ok {
		return "", fmt.Errorf("%w: user %s does not exist", models.ErrConstraintViolation, item.UserID)
	}

	now := s.now()
	s.seq++
	stored := &memItem{
		Item: models.Item{
			ID:             uuid.NewString(),
			UserID:         item.UserID,
			Title:          item.Title,
			Content:        item.Content,
			URL:            item.URL,
			SourceType:     item.SourceType,
			SourceMetadata: copyDocument(item.SourceMetadata),
			WordCount:      WordCount(item.Content),
			Language:       "zh",
			Status:         models.StatusPending,
			CreatedAt:      now,
			UpdatedAt:      now,
		},
		seq: s.seq,
	}
	s.items[stored.ID] = stored
	return stored.ID, nil
}

func (s *MemoryStorage) GetItem(ctx context.Context, itemID string) (*models.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored, ok := s.items[itemID]
	if !ok {
		return nil, fmt.Errorf("item %s: %w", itemID, models.ErrNotFound)
	}
	out := stored.Item
	out.SourceMetadata = copyDocument(stored.SourceMetadata)
	return &out, nil
}

func (s *MemoryStorage) ListItems(ctx context.Context, userID string, opts ListOptions) ([]models.ItemWithResult, error) {
	if err := statusFilter(opts.Status); err != nil {
		return nil, err
	}
	opts = opts.Normalize()

	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := s.selectItems(func(it *memItem) bool {
		return it.UserID == userID && (opts.Status == "" || it.Status == opts.Status)
	})
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].seq > matched[j].seq
	})

	if opts.Offset >= len(matched) {
		return []models.ItemWithResult{}, nil
	}
	end := opts.Offset + opts.Limit
	if end > len(matched) {
		end = len(matched)
	}
	return s.withResults(matched[opts.Offset:end]), nil
}

func (s *MemoryStorage) ItemsBetween(ctx context.Context, userID string, from, to time.Time, status models.Status) ([]models.ItemWithResult, error) {
	if err := statusFilter(status); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := s.selectItems(func(it *memItem) bool {
		return it.UserID == userID &&
			!it.CreatedAt.Before(from) && it.CreatedAt.Before(to) &&
			(status == "" || it.Status == status)
	})
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.Before(matched[j].CreatedAt)
		}
		return matched[i].seq < matched[j].seq
	})
	return s.withResults(matched), nil
}

func (s *MemoryStorage) selectItems(keep func(*memItem) bool) []*memItem {
	var out []*memItem
	for _, it := range s.items {
		if keep(it) {
			out = append(out, it)
		}
	}
	return out
}

func (s *MemoryStorage) withResults(items []*memItem) []models.ItemWithResult {
	out := make([]models.ItemWithResult, 0, len(items))
	for _, it := range items {
		row := models.ItemWithResult{Item: it.Item}
		row.SourceMetadata = copyDocument(it.SourceMetadata)
		if res, ok := s.results[it.ID]; ok {
			r := *res
			row.Result = &r
		}
		out = append(out, row)
	}
	return out
}

func (s *MemoryStorage) CountItems(ctx context.Context, userID string, status models.Status) (int, error) {
	if err := statusFilter(status); err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.selectItems(func(it *memItem) bool {
		return it.UserID == userID && (status == "" || it.Status == status)
	})), nil
}

func (s *MemoryStorage) UpdateStatus(ctx context.Context, itemID string, status models.Status) error {
	if !status.Valid() {
		return fmt.Errorf("%w: unknown status %q", models.ErrValidation, status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.items[itemID]
	if !ok {
		return fmt.Errorf("item %s: %w", itemID, models.ErrNotFound)
	}
	if err := models.CheckTransition(stored.Status, status); err != nil {
		return err
	}
	stored.Status = status
	stored.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStorage) GetStats(ctx context.Context, userID string, days int) (models.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	since := s.now().AddDate(0, 0, -days)
	var stats models.Stats
	for _, it := range s.items {
		if it.UserID == userID && !it.CreatedAt.Before(since) {
			stats.Add(it.Status, 1)
		}
	}
	return stats, nil
}

// AI result methods

func (s *MemoryStorage) CreateResult(ctx context.Context, result *models.AIResult) (string, error) {
	if err := validateResult(result); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[result.ItemID]; !ok {
		return "", fmt.Errorf("%w: item %s does not exist", models.ErrConstraintViolation, result.ItemID)
	}
	if _, ok := s.results[result.ItemID]; ok {
		return "", fmt.Errorf("%w: item %s already has an ai result", models.ErrConstraintViolation, result.ItemID)
	}

	stored := *result
	stored.ID = uuid.NewString()
	stored.CreatedAt = s.now()
	stored.Topics = append([]string(nil), result.Topics...)
	stored.Keywords = append([]string(nil), result.Keywords...)
	s.results[result.ItemID] = &stored

	result.ID = stored.ID
	result.CreatedAt = stored.CreatedAt
	return stored.ID, nil
}

func (s *MemoryStorage) GetResultByItem(ctx context.Context, itemID string) (*models.AIResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	res, ok := s.results[itemID]
	if !ok {
		return nil, fmt.Errorf("result for item %s: %w", itemID, models.ErrNotFound)
	}
	out := *res
	return &out, nil
}

// Tag methods

func (s *MemoryStorage) UpsertTag(ctx context.Context, tag *models.Tag) (*models.Tag, error) {
	if tag == nil || tag.Name == "" || tag.UserID == "" {
		return nil, fmt.Errorf("%w: tag needs a user and a name", models.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Check if tag already exists
	for _, t := range s.tags {
		if t.UserID == tag.UserID && t.Name == tag.Name {
			out := *t
			return &out, nil
		}
	}
	if _, ok := s.users[tag.UserID]; !ok {
		return nil, fmt.Errorf("%w: user %s does not exist", models.ErrConstraintViolation, tag.UserID)
	}

	stored := *tag
	stored.ID = uuid.NewString()
	stored.CreatedAt = s.now()
	if stored.Color == "" {
		stored.Color = models.DefaultTagColor
	}
	s.tags[stored.ID] = &stored

	out := stored
	return &out, nil
}

func (s *MemoryStorage) TagItem(ctx context.Context, itemID, tagID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[itemID]; !ok {
		return fmt.Errorf("%w: item %s does not exist", models.ErrConstraintViolation, itemID)
	}
	if _, ok := s.tags[tagID]; !ok {
		return fmt.Errorf("%w: tag %s does not exist", models.ErrConstraintViolation, tagID)
	}
	if s.itemTags[itemID] == nil {
		s.itemTags[itemID] = make(map[string]bool)
	}
	s.itemTags[itemID][tagID] = true
	return nil
}

func (s *MemoryStorage) ListTags(ctx context.Context, userID string) ([]models.Tag, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var tags []models.Tag
	for _, t := range s.tags {
		if t.UserID == userID {
			tags = append(tags, *t)
		}
	}
	sortTags(tags)
	return tags, nil
}

func (s *MemoryStorage) ItemTags(ctx context.Context, itemID string) ([]models.Tag, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var tags []models.Tag
	for tagID := range s.itemTags[itemID] {
		if t, ok := s.tags[tagID]; ok {
			tags = append(tags, *t)
		}
	}
	sortTags(tags)
	return tags, nil
}

func sortTags(tags []models.Tag) {
	sort.Slice(tags, func(i, j int) bool { return tags[i].Name < tags[j].Name })
}

// Report methods

func (s *MemoryStorage) CreateReport(ctx context.Context, report *models.WeeklyReport, items []models.ReportItem) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[report.UserID]; !ok {
		return "", fmt.Errorf("%w: user %s does not exist", models.ErrConstraintViolation, report.UserID)
	}
	seen := make(map[string]bool, len(items))
	for _, it := range items {
		if _, ok := s.items[it.ItemID]; !ok {
			return "", fmt.Errorf("%w: item %s does not exist", models.ErrConstraintViolation, it.ItemID)
		}
		if seen[it.ItemID] {
			return "", fmt.Errorf("%w: item %s linked twice", models.ErrConstraintViolation, it.ItemID)
		}
		seen[it.ItemID] = true
	}

	now := s.now()
	report.ID = uuid.NewString()
	report.CreatedAt = now
	if report.Status == "" {
		report.Status = models.ReportDraft
	}
	stored := *report
	s.reports[report.ID] = &stored

	linked := make([]models.ReportItem, 0, len(items))
	for _, it := range items {
		it.ID = uuid.NewString()
		it.ReportID = report.ID
		it.CreatedAt = now
		linked = append(linked, it)
	}
	s.reportItems[report.ID] = linked
	return report.ID, nil
}

func (s *MemoryStorage) GetReport(ctx context.Context, reportID string) (*models.WeeklyReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.reports[reportID]
	if !ok {
		return nil, fmt.Errorf("report %s: %w", reportID, models.ErrNotFound)
	}
	out := *r
	return &out, nil
}

func (s *MemoryStorage) ListReports(ctx context.Context, userID string, limit int) ([]models.WeeklyReport, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var reports []models.WeeklyReport
	for _, r := range s.reports {
		if r.UserID == userID {
			reports = append(reports, *r)
		}
	}
	sort.Slice(reports, func(i, j int) bool {
		if !reports[i].WeekStart.Equal(reports[j].WeekStart) {
			return reports[i].WeekStart.After(reports[j].WeekStart)
		}
		return reports[i].CreatedAt.After(reports[j].CreatedAt)
	})
	if len(reports) > limit {
		reports = reports[:limit]
	}
	return reports, nil
}

func (s *MemoryStorage) ReportItems(ctx context.Context, reportID string) ([]models.ReportItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.reports[reportID]; !ok {
		return nil, fmt.Errorf("report %s: %w", reportID, models.ErrNotFound)
	}
	return append([]models.ReportItem(nil), s.reportItems[reportID]...), nil
}

func (s *MemoryStorage) PublishReport(ctx context.Context, reportID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reports[reportID]
	if !ok {
		return fmt.Errorf("report %s: %w", reportID, models.ErrNotFound)
	}
	if r.Status != models.ReportDraft {
		return fmt.Errorf("%w: report is %s", models.ErrInvalidTransition, r.Status)
	}
	now := s.now()
	r.Status = models.ReportPublished
	r.PublishedAt = &now
	return nil
}

// Processing log methods

func (s *MemoryStorage) AppendLog(ctx context.Context, entry *models.ProcessingLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ItemID != "" {
		if _, ok := s.items[entry.ItemID]; !ok {
			return fmt.Errorf("%w: item %s does not exist", models.ErrConstraintViolation, entry.ItemID)
		}
	}
	entry.ID = uuid.NewString()
	entry.CreatedAt = s.now()
	s.logs = append(s.logs, *entry)
	return nil
}

func (s *MemoryStorage) ListLogs(ctx context.Context, itemID string) ([]models.ProcessingLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var logs []models.ProcessingLog
	for _, l := range s.logs {
		if l.ItemID == itemID {
			logs = append(logs, l)
		}
	}
	return logs, nil
}

func copyDocument(doc models.Document) models.Document {
	if len(doc) == 0 {
		return nil
	}
	out := make(models.Document, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	return out
}
