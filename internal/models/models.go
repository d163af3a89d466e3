package models

import (
	"encoding/json"
	"time"
)

// DefaultUserEmail identifies the single MVP user.
const DefaultUserEmail = "user@neofeed.local"

// SourceType tells where an item was captured from
type SourceType string

const (
	SourceManual   SourceType = "manual"
	SourceWeb      SourceType = "web"
	SourceGPT      SourceType = "gpt"
	SourceTelegram SourceType = "telegram"
	SourceWechat   SourceType = "wechat"
)

// Valid reports whether s is one of the known source types.
func (s SourceType) Valid() bool {
	switch s {
	case SourceManual, SourceWeb, SourceGPT, SourceTelegram, SourceWechat:
		return true
	}
	return false
}

// Document is an opaque JSON key-value blob (preferences, source metadata, report stats).
type Document map[string]any

// User represents an account owning items and everything derived from them
type User struct {
	ID               string    `json:"id"`
	Email            string    `json:"email,omitempty"`
	TelegramID       string    `json:"telegram_id,omitempty"`
	TelegramUsername string    `json:"telegram_username,omitempty"`
	Preferences      Document  `json:"preferences"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// DefaultPreferences is assigned to lazily created users.
func DefaultPreferences() Document {
	return Document{
		"language":    "zh-CN",
		"report_day":  "sunday",
		"report_time": "09:00",
	}
}

// Item is one captured unit of information
type Item struct {
	ID             string     `json:"id"`
	UserID         string     `json:"user_id"`
	Title          string     `json:"title,omitempty"`
	Content        string     `json:"content"`
	URL            string     `json:"url,omitempty"`
	SourceType     SourceType `json:"source_type"`
	SourceMetadata Document   `json:"source_metadata,omitempty"`
	WordCount      int        `json:"word_count"`
	Language       string     `json:"language"`
	Status         Status     `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// NewItem carries the caller-supplied fields of an item about to be stored.
type NewItem struct {
	UserID         string
	Content        string
	Title          string
	URL            string
	SourceType     SourceType
	SourceMetadata Document
}

// ItemWithResult is an item joined with its enrichment record, if any.
type ItemWithResult struct {
	Item
	Result *AIResult `json:"-"`
}

// MarshalJSON flattens the AI fields next to the item fields.
func (i ItemWithResult) MarshalJSON() ([]byte, error) {
	type flat struct {
		Item
		Summary         *string  `json:"summary"`
		Category        *string  `json:"category"`
		Keywords        []string `json:"keywords"`
		ImportanceScore *float64 `json:"importance_score"`
	}
	out := flat{Item: i.Item}
	if i.Result != nil {
		out.Summary = &i.Result.Summary
		out.Category = &i.Result.Category
		out.Keywords = i.Result.Keywords
		out.ImportanceScore = &i.Result.ImportanceScore
	}
	return json.Marshal(out)
}

// AIResult is the enrichment record derived from exactly one item
type AIResult struct {
	ID               string    `json:"id"`
	ItemID           string    `json:"item_id"`
	UserID           string    `json:"user_id"`
	Summary          string    `json:"summary"`
	Category         string    `json:"category"`
	SubCategory      string    `json:"sub_category,omitempty"`
	Topics           []string  `json:"topics"`
	Keywords         []string  `json:"keywords"`
	ImportanceScore  float64   `json:"importance_score"`
	Sentiment        string    `json:"sentiment,omitempty"`
	ModelUsed        string    `json:"model_used"`
	ProcessingTimeMs int64     `json:"processing_time_ms"`
	CreatedAt        time.Time `json:"created_at"`
}

// Tag is a user-scoped label
type Tag struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Name        string    `json:"name"`
	Category    string    `json:"category,omitempty"`
	Color       string    `json:"color"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// DefaultTagColor is used when a tag is created without one.
const DefaultTagColor = "#3b82f6"

// Stats counts a user's items by status over a trailing window
type Stats struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Processed  int `json:"processed"`
	Failed     int `json:"failed"`
}

// Add counts n items of the given status.
func (s *Stats) Add(status Status, n int) {
	s.Total += n
	switch status {
	case StatusPending:
		s.Pending += n
	case StatusProcessing:
		s.Processing += n
	case StatusProcessed:
		s.Processed += n
	case StatusFailed:
		s.Failed += n
	}
}
