package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"
	"github.com/patrickmn/go-cache"
	"github.com/xaenox/neofeed/internal/models"
	"go.uber.org/zap"
)

const (
	DefaultReaderURL = "https://r.jina.ai/"
	userAgent        = "Mozilla/5.0 (compatible; NeoFeed/1.0)"
	maxBodySize      = 5 << 20
)

var urlPattern = regexp.MustCompile(`https?://[^\s<>"]+`)

// IsURL reports whether text contains an http(s) URL.
func IsURL(text string) bool {
	return urlPattern.MatchString(text)
}

// ExtractURL returns the first http(s) URL in text.
func ExtractURL(text string) (string, bool) {
	u := urlPattern.FindString(text)
	if u == "" {
		return "", false
	}
	return strings.TrimRight(u, ".,;:!?)]}'"), true
}

// Domain returns the host part of rawURL, or "" when it does not parse.
func Domain(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Host
}

type Result struct {
	Title       string `json:"title"`
	Content     string `json:"content"`
	URL         string `json:"url"`
	Description string `json:"description,omitempty"`
	SiteName    string `json:"site_name,omitempty"`
}

// Metadata is the source metadata stored on an item created from r. The
// domain always describes the submitted URL; a different canonical URL is
// kept alongside it.
func (r *Result) Metadata(originalURL string) models.Document {
	doc := models.Document{
		"domain":       Domain(originalURL),
		"original_url": originalURL,
	}
	if r.URL != "" && r.URL != originalURL {
		doc["canonical_url"] = r.URL
	}
	if r.Description != "" {
		doc["description"] = r.Description
	}
	if r.SiteName != "" {
		doc["site_name"] = r.SiteName
	}
	return doc
}

type Config struct {
	ReaderURL string
	Timeout   time.Duration
	CacheTTL  time.Duration
}

// Fetcher turns a URL into readable text. It asks the hosted reader API
// first and parses the page itself when the reader has nothing.
type Fetcher struct {
	client    *http.Client
	readerURL string
	cache     *cache.Cache
	logger    *zap.Logger
}

func New(cfg Config, logger *zap.Logger) *Fetcher {
	if cfg.ReaderURL == "" {
		cfg.ReaderURL = DefaultReaderURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Hour
	}

	return &Fetcher{
		client:    &http.Client{Timeout: cfg.Timeout},
		readerURL: cfg.ReaderURL,
		cache:     cache.New(cfg.CacheTTL, 10*time.Minute),
		logger:    logger,
	}
}

func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Result, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return nil, fmt.Errorf("%w: invalid url %q", models.ErrValidation, rawURL)
	}

	if cached, found := f.cache.Get(rawURL); found {
		f.logger.Debug("Fetch cache hit", zap.String("url", rawURL))
		res := *cached.(*Result)
		return &res, nil
	}

	res, err := f.fetchReader(ctx, rawURL)
	if err != nil {
		f.logger.Warn("Reader API failed, fetching page directly",
			zap.String("url", rawURL),
			zap.Error(err))

		res, err = f.fetchDirect(ctx, parsed)
		if err != nil {
			return nil, err
		}
	}

	if res.URL == "" {
		res.URL = rawURL
	}
	f.cache.Set(rawURL, res, cache.DefaultExpiration)

	out := *res
	return &out, nil
}

type readerPayload struct {
	Title       string `json:"title"`
	Content     string `json:"content"`
	URL         string `json:"url"`
	Description string `json:"description"`
}

type readerResponse struct {
	readerPayload
	Data *readerPayload `json:"data"`
}

func (f *Fetcher) fetchReader(ctx context.Context, rawURL string) (*Result, error) {
	body, err := f.get(ctx, f.readerURL+rawURL, "application/json")
	if err != nil {
		return nil, err
	}

	var resp readerResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: decode reader response: %v", models.ErrExternalService, err)
	}

	payload := resp.readerPayload
	if resp.Data != nil {
		payload = *resp.Data
	}
	if strings.TrimSpace(payload.Content) == "" {
		return nil, fmt.Errorf("%w: reader returned no content", models.ErrExternalService)
	}

	return &Result{
		Title:       strings.TrimSpace(payload.Title),
		Content:     strings.TrimSpace(payload.Content),
		URL:         payload.URL,
		Description: payload.Description,
	}, nil
}

func (f *Fetcher) fetchDirect(ctx context.Context, pageURL *url.URL) (*Result, error) {
	body, err := f.get(ctx, pageURL.String(), "text/html")
	if err != nil {
		return nil, err
	}

	article, err := readability.FromReader(bytes.NewReader(body), pageURL)
	if err != nil {
		return nil, fmt.Errorf("%w: parse article: %v", models.ErrExternalService, err)
	}

	res := &Result{
		Title:       strings.TrimSpace(article.Title),
		Content:     strings.TrimSpace(article.TextContent),
		URL:         pageURL.String(),
		Description: strings.TrimSpace(article.Excerpt),
		SiteName:    article.SiteName,
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err == nil {
		applyPageMeta(doc, pageURL, res)
	}

	if res.Content == "" {
		return nil, fmt.Errorf("%w: page has no readable content", models.ErrExternalService)
	}
	return res, nil
}

// applyPageMeta fills gaps left by readability from the page's head.
func applyPageMeta(doc *goquery.Document, pageURL *url.URL, res *Result) {
	if href, ok := doc.Find(`link[rel="canonical"]`).Attr("href"); ok && href != "" {
		if canonical, err := pageURL.Parse(href); err == nil {
			res.URL = canonical.String()
		}
	}
	if res.Title == "" {
		if og, ok := doc.Find(`meta[property="og:title"]`).Attr("content"); ok {
			res.Title = strings.TrimSpace(og)
		} else {
			res.Title = strings.TrimSpace(doc.Find("title").First().Text())
		}
	}
	if res.Description == "" {
		if desc, ok := doc.Find(`meta[name="description"]`).Attr("content"); ok {
			res.Description = strings.TrimSpace(desc)
		}
	}
	if res.SiteName == "" {
		if site, ok := doc.Find(`meta[property="og:site_name"]`).Attr("content"); ok {
			res.SiteName = strings.TrimSpace(site)
		}
	}
}

func (f *Fetcher) get(ctx context.Context, target, accept string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", accept)
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrExternalService, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: HTTP %d from %s", models.ErrExternalService, resp.StatusCode, req.URL.Host)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", models.ErrExternalService, err)
	}
	return body, nil
}
