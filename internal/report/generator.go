package report

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/xaenox/neofeed/internal/classifier"
	"github.com/xaenox/neofeed/internal/models"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"go.uber.org/zap"
)

const (
	dateLayout       = "2006-01-02"
	topKeywordCount  = 5
	clusterKeywords  = 3
	maxQuotedPerItem = 140
)

type Store interface {
	ItemsBetween(ctx context.Context, userID string, from, to time.Time, status models.Status) ([]models.ItemWithResult, error)
	CreateReport(ctx context.Context, report *models.WeeklyReport, items []models.ReportItem) (string, error)
}

// Generator builds weekly digests out of processed items.
type Generator struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time
}

func NewGenerator(store Store, logger *zap.Logger) *Generator {
	return &Generator{store: store, logger: logger, now: time.Now}
}

// WeekBounds returns the Monday 00:00 starting t's week and the following Monday.
func WeekBounds(t time.Time) (time.Time, time.Time) {
	offset := (int(t.Weekday()) + 6) % 7
	start := time.Date(t.Year(), t.Month(), t.Day()-offset, 0, 0, 0, 0, t.Location())
	return start, start.AddDate(0, 0, 7)
}

// LastWeek returns the bounds of the full week before the one containing t.
func LastWeek(t time.Time) (time.Time, time.Time) {
	start, _ := WeekBounds(t)
	return start.AddDate(0, 0, -7), start
}

// Generate clusters the processed items of [from, to) by category and
// stores the resulting report as a draft.
func (g *Generator) Generate(ctx context.Context, userID string, from, to time.Time) (*models.WeeklyReport, error) {
	if !from.Before(to) {
		return nil, fmt.Errorf("%w: report range %s..%s is empty", models.ErrValidation,
			from.Format(dateLayout), to.Format(dateLayout))
	}

	items, err := g.store.ItemsBetween(ctx, userID, from, to, models.StatusProcessed)
	if err != nil {
		return nil, fmt.Errorf("load items: %w", err)
	}

	clusters, members := clusterItems(items)
	keywords := countKeywords(items)
	top := topKeywords(keywords, topKeywordCount)

	bySource := make(map[string]int)
	for _, it := range items {
		bySource[string(it.SourceType)]++
	}
	byCategory := make(map[string]int, len(clusters))
	for _, c := range clusters {
		byCategory[c.Theme] = c.ItemCount
	}

	_, week := from.ISOWeek()
	// stored bounds are inclusive days, like week_range
	lastDay := to.AddDate(0, 0, -1)
	rep := &models.WeeklyReport{
		UserID:    userID,
		WeekStart: from,
		WeekEnd:   lastDay,
		WeekRange: fmt.Sprintf("%s ~ %s", from.Format(dateLayout), lastDay.Format(dateLayout)),
		Title:     fmt.Sprintf("Week %d knowledge report", week),
		Stats: models.Document{
			"total_items":  len(items),
			"by_category":  byCategory,
			"by_source":    bySource,
			"top_keywords": top,
		},
		Clusters:        clusters,
		Insights:        buildInsights(clusters, top),
		KeywordsSummary: keywords,
		ItemCount:       len(items),
		Status:          models.ReportDraft,
	}
	rep.Summary = summarize(rep)
	rep.Content = buildMarkdown(rep, items, members, bySource, top, g.now())

	var links []models.ReportItem
	for _, c := range clusters {
		for _, it := range members[c.Theme] {
			links = append(links, models.ReportItem{ItemID: it.ID, ClusterName: c.Theme})
		}
	}

	if _, err := g.store.CreateReport(ctx, rep, links); err != nil {
		return nil, fmt.Errorf("save report: %w", err)
	}

	g.logger.Info("Weekly report generated",
		zap.String("report_id", rep.ID),
		zap.String("user_id", userID),
		zap.String("week", rep.WeekRange),
		zap.Int("items", rep.ItemCount))

	return rep, nil
}

func categoryOf(it models.ItemWithResult) string {
	if it.Result == nil || it.Result.Category == "" {
		return classifier.CategoryUncategorized
	}
	return it.Result.Category
}

func clusterItems(items []models.ItemWithResult) ([]models.Cluster, map[string][]models.ItemWithResult) {
	members := make(map[string][]models.ItemWithResult)
	for _, it := range items {
		cat := categoryOf(it)
		members[cat] = append(members[cat], it)
	}

	clusters := make([]models.Cluster, 0, len(members))
	for theme, group := range members {
		top := topKeywords(countKeywords(group), clusterKeywords)
		insight := fmt.Sprintf("%d item(s) on %s.", len(group), theme)
		if len(top) > 0 {
			insight = fmt.Sprintf("%d item(s) on %s, mostly about %s.", len(group), theme, strings.Join(top, ", "))
		}
		clusters = append(clusters, models.Cluster{
			Theme:     theme,
			ItemCount: len(group),
			Keywords:  top,
			Insight:   insight,
		})
	}

	sort.Slice(clusters, func(i, j int) bool {
		if clusters[i].ItemCount != clusters[j].ItemCount {
			return clusters[i].ItemCount > clusters[j].ItemCount
		}
		return clusters[i].Theme < clusters[j].Theme
	})
	return clusters, members
}

func countKeywords(items []models.ItemWithResult) map[string]int {
	counts := make(map[string]int)
	for _, it := range items {
		if it.Result == nil {
			continue
		}
		for _, kw := range it.Result.Keywords {
			counts[kw]++
		}
	}
	return counts
}

func topKeywords(counts map[string]int, n int) []string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})
	if len(keys) > n {
		keys = keys[:n]
	}
	return keys
}

func buildInsights(clusters []models.Cluster, top []string) []models.Insight {
	if len(clusters) == 0 {
		return []models.Insight{{Title: "Core insight", Content: "Nothing was processed this week."}}
	}

	insights := []models.Insight{{
		Title:   "Core insight",
		Content: fmt.Sprintf("Most of this week's reading was about %s (%d item(s)).", clusters[0].Theme, clusters[0].ItemCount),
	}}
	if len(top) > 0 {
		insights = append(insights, models.Insight{
			Title:   "Next week",
			Content: fmt.Sprintf("Consider writing up what you learned about %s.", top[0]),
		})
	}
	return insights
}

func summarize(rep *models.WeeklyReport) string {
	if rep.ItemCount == 0 {
		return "No processed items this week."
	}
	themes := make([]string, 0, 2)
	for i := 0; i < len(rep.Clusters) && i < 2; i++ {
		themes = append(themes, rep.Clusters[i].Theme)
	}
	return fmt.Sprintf("%d item(s) collected, focused on %s.", rep.ItemCount, strings.Join(themes, " and "))
}

func buildMarkdown(rep *models.WeeklyReport, items []models.ItemWithResult, members map[string][]models.ItemWithResult,
	bySource map[string]int, top []string, generatedAt time.Time) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# NeoFeed weekly report | %s\n\n", rep.WeekRange)

	b.WriteString("## This week\n\n")
	fmt.Fprintf(&b, "- Collected **%d** item(s)\n", len(items))
	if len(bySource) > 0 {
		sources := make([]string, 0, len(bySource))
		for src := range bySource {
			sources = append(sources, src)
		}
		sort.Strings(sources)
		parts := make([]string, 0, len(sources))
		for _, src := range sources {
			parts = append(parts, fmt.Sprintf("%s: %d", src, bySource[src]))
		}
		fmt.Fprintf(&b, "- %s\n", strings.Join(parts, " | "))
	}
	b.WriteString("\n---\n\n")

	if len(rep.Clusters) > 0 {
		b.WriteString("## Themes\n\n")
		for i, c := range rep.Clusters {
			fmt.Fprintf(&b, "### %d. %s (%d)\n\n", i+1, c.Theme, c.ItemCount)
			fmt.Fprintf(&b, "%s\n\n", c.Insight)
			for _, it := range members[c.Theme] {
				fmt.Fprintf(&b, "- %s\n", itemLine(it))
			}
			b.WriteString("\n")
		}
		b.WriteString("---\n\n")
	}

	if len(top) > 0 {
		b.WriteString("## Top keywords\n\n")
		parts := make([]string, 0, len(top))
		for _, kw := range top {
			parts = append(parts, fmt.Sprintf("%s (%d)", kw, rep.KeywordsSummary[kw]))
		}
		b.WriteString(strings.Join(parts, " | "))
		b.WriteString("\n\n---\n\n")
	}

	for _, in := range rep.Insights {
		fmt.Fprintf(&b, "## %s\n\n%s\n\n", in.Title, in.Content)
	}

	fmt.Fprintf(&b, "*Generated by NeoFeed | %s*\n", generatedAt.Format("2006-01-02 15:04"))
	return b.String()
}

func itemLine(it models.ItemWithResult) string {
	label := it.Title
	if label == "" {
		label = clip(it.Content, maxQuotedPerItem)
	}
	if it.URL != "" {
		label = fmt.Sprintf("[%s](%s)", label, it.URL)
	}
	if it.Result != nil && it.Result.Summary != "" {
		return fmt.Sprintf("%s: %s", label, it.Result.Summary)
	}
	return label
}

func clip(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}

var markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

// RenderHTML converts report markdown to HTML.
func RenderHTML(content string) (string, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(content), &buf); err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	return buf.String(), nil
}
