package models

import "time"

// ReportStatus tracks a weekly report from draft to delivery
type ReportStatus string

const (
	ReportDraft     ReportStatus = "draft"
	ReportPublished ReportStatus = "published"
	ReportSent      ReportStatus = "sent"
)

// WeeklyReport is a generated digest over a date range
type WeeklyReport struct {
	ID              string         `json:"id"`
	UserID          string         `json:"user_id"`
	WeekStart       time.Time      `json:"week_start"`
	WeekEnd         time.Time      `json:"week_end"` // inclusive
	WeekRange       string         `json:"week_range"`
	Title           string         `json:"title"`
	Content         string         `json:"content"`
	Summary         string         `json:"summary"`
	Stats           Document       `json:"stats"`
	Clusters        []Cluster      `json:"clusters"`
	Insights        []Insight      `json:"insights"`
	KeywordsSummary map[string]int `json:"keywords_summary"`
	ItemCount       int            `json:"item_count"`
	Status          ReportStatus   `json:"status"`
	CreatedAt       time.Time      `json:"created_at"`
	PublishedAt     *time.Time     `json:"published_at,omitempty"`
	SentAt          *time.Time     `json:"sent_at,omitempty"`
}

// Cluster groups report items under one theme.
type Cluster struct {
	Theme     string   `json:"theme"`
	ItemCount int      `json:"item_count"`
	Keywords  []string `json:"keywords"`
	Insight   string   `json:"insight"`
}

// Insight is a free-form observation attached to a report.
type Insight struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// ReportItem records which cluster an item was grouped under for a report
type ReportItem struct {
	ID          string    `json:"id"`
	ReportID    string    `json:"report_id"`
	ItemID      string    `json:"item_id"`
	ClusterName string    `json:"cluster_name"`
	CreatedAt   time.Time `json:"created_at"`
}

// Log task types and outcomes.
const (
	TaskSummarize       = "summarize"
	TaskClassify        = "classify"
	TaskExtractKeywords = "extract_keywords"
	TaskPersist         = "persist"

	LogSuccess = "success"
	LogFailed  = "failed"
)

// ProcessingLog is one append-only record of an enrichment sub-task attempt
type ProcessingLog struct {
	ID               string    `json:"id"`
	ItemID           string    `json:"item_id"`
	TaskType         string    `json:"task_type"`
	Status           string    `json:"status"`
	ErrorMessage     string    `json:"error_message,omitempty"`
	RetryCount       int       `json:"retry_count"`
	ProcessingTimeMs int64     `json:"processing_time_ms"`
	CreatedAt        time.Time `json:"created_at"`
}
