// Package news fetches headlines from RSS feeds, one feed per spoken
// category, and cleans them up for text-to-speech.
package news

import (
	"context"
	"encoding/xml"
	"fmt"
	"html"
	"io"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"time"

	"pibot/internal/domain"
	"pibot/internal/logger"
)

// Compile-time interface check.
var _ domain.NewsSource = (*Fetcher)(nil)

// maxSummaryLen bounds how much of a description is read out loud.
const maxSummaryLen = 220

// FetcherOption configures the Fetcher.
type FetcherOption func(*Fetcher)

// WithHTTPTimeout sets the feed request timeout.
func WithHTTPTimeout(d time.Duration) FetcherOption {
	return func(f *Fetcher) { f.http.Timeout = d }
}

// WithMaxItems caps how many items one Fetch returns.
func WithMaxItems(n int) FetcherOption {
	return func(f *Fetcher) { f.maxItems = n }
}

// Fetcher resolves a category name to its RSS feed and parses it.
type Fetcher struct {
	feeds    map[string]string
	maxItems int
	http     *http.Client
	log      *logger.Logger
}

// NewFetcher creates a news fetcher over the category -> feed URL map.
func NewFetcher(feeds map[string]string, log *logger.Logger, opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		feeds:    feeds,
		maxItems: 15,
		http:     &http.Client{Timeout: 15 * time.Second},
		log:      log,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Categories returns the configured category names, sorted.
func (f *Fetcher) Categories() []string {
	cats := make([]string, 0, len(f.feeds))
	for c := range f.feeds {
		cats = append(cats, c)
	}
	sort.Strings(cats)
	return cats
}

// rss mirrors the subset of RSS 2.0 the reader needs.
type rss struct {
	Channel struct {
		Title string `xml:"title"`
		Items []struct {
			Title       string `xml:"title"`
			Description string `xml:"description"`
			PubDate     string `xml:"pubDate"`
		} `xml:"item"`
	} `xml:"channel"`
}

// Fetch downloads and parses the feed for a category.
func (f *Fetcher) Fetch(ctx context.Context, category string) ([]domain.NewsItem, error) {
	url, ok := f.feeds[strings.ToLower(category)]
	if !ok {
		return nil, fmt.Errorf("news: %q: %w", category, domain.ErrUnknownCategory)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("news: create request: %w", err)
	}
	req.Header.Set("User-Agent", "pibot/1.0")

	resp, err := f.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("news: fetch %s: %w", category, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("news: feed %s returned %s", category, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("news: read feed: %w", err)
	}

	var doc rss
	if err := xml.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("news: parse feed %s: %w", category, err)
	}

	items := make([]domain.NewsItem, 0, len(doc.Channel.Items))
	for _, it := range doc.Channel.Items {
		title := cleanText(it.Title)
		if title == "" {
			continue
		}
		items = append(items, domain.NewsItem{
			Title:     title,
			Summary:   truncateSummary(cleanText(it.Description)),
			Published: parsePubDate(it.PubDate),
			Source:    doc.Channel.Title,
		})
		if len(items) >= f.maxItems {
			break
		}
	}

	f.log.Debug("news: %s -> %d items", category, len(items))
	return items, nil
}

var tagPattern = regexp.MustCompile(`<[^>]*>`)

// cleanText strips HTML tags and entities so the result reads well
// out loud.
func cleanText(s string) string {
	s = tagPattern.ReplaceAllString(s, " ")
	s = html.UnescapeString(s)
	s = strings.Join(strings.Fields(s), " ")
	return strings.TrimSpace(s)
}

// truncateSummary cuts a summary at a sentence or word boundary.
func truncateSummary(s string) string {
	if len(s) <= maxSummaryLen {
		return s
	}
	cut := s[:maxSummaryLen]
	if idx := strings.LastIndex(cut, ". "); idx > maxSummaryLen/2 {
		return cut[:idx+1]
	}
	if idx := strings.LastIndex(cut, " "); idx > 0 {
		cut = cut[:idx]
	}
	return cut + "..."
}

// parsePubDate tries the formats feeds actually use.
func parsePubDate(s string) time.Time {
	for _, layout := range []string{time.RFC1123Z, time.RFC1123, time.RFC822Z, time.RFC822, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
