package news

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"pibot/internal/domain"
	"pibot/internal/logger"
)

const sampleFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
<title>Test Feed</title>
<item>
<title>First &amp; foremost</title>
<description>&lt;p&gt;Something &lt;b&gt;big&lt;/b&gt; happened.&lt;/p&gt;</description>
<pubDate>Sat, 30 Aug 2026 10:00:00 +0000</pubDate>
</item>
<item>
<title>Second story</title>
<description>More details here.</description>
<pubDate>Sat, 30 Aug 2026 09:00:00 +0000</pubDate>
</item>
</channel>
</rss>`

func TestFetchParsesAndCleansFeed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Write([]byte(sampleFeed))
	}))
	defer srv.Close()

	log := logger.New(logger.LevelOff, nil)
	f := NewFetcher(map[string]string{"world": srv.URL}, log)

	items, err := f.Fetch(context.Background(), "world")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2", len(items))
	}

	if items[0].Title != "First & foremost" {
		t.Errorf("title = %q, want entities decoded", items[0].Title)
	}
	if strings.Contains(items[0].Summary, "<") {
		t.Errorf("summary %q still contains HTML", items[0].Summary)
	}
	if items[0].Summary != "Something big happened." {
		t.Errorf("summary = %q", items[0].Summary)
	}
	if items[0].Published.IsZero() {
		t.Error("pubDate was not parsed")
	}
	if items[0].Source != "Test Feed" {
		t.Errorf("source = %q, want channel title", items[0].Source)
	}
}

func TestFetchUnknownCategory(t *testing.T) {
	log := logger.New(logger.LevelOff, nil)
	f := NewFetcher(map[string]string{"world": "http://unused"}, log)

	_, err := f.Fetch(context.Background(), "sports")
	if !errors.Is(err, domain.ErrUnknownCategory) {
		t.Errorf("err = %v, want ErrUnknownCategory", err)
	}
}

func TestCategoriesSorted(t *testing.T) {
	log := logger.New(logger.LevelOff, nil)
	f := NewFetcher(map[string]string{"world": "u1", "art": "u2", "tech": "u3"}, log)

	cats := f.Categories()
	want := []string{"art", "tech", "world"}
	if len(cats) != len(want) {
		t.Fatalf("got %v", cats)
	}
	for i := range want {
		if cats[i] != want[i] {
			t.Errorf("cats[%d] = %q, want %q", i, cats[i], want[i])
		}
	}
}

func TestTruncateSummary(t *testing.T) {
	long := strings.Repeat("word ", 100)
	got := truncateSummary(long)
	if len(got) > maxSummaryLen+3 {
		t.Errorf("truncated summary is %d chars", len(got))
	}
	if !strings.HasSuffix(got, "...") {
		t.Errorf("truncated summary %q should end with ellipsis", got)
	}

	short := "Fits fine."
	if truncateSummary(short) != short {
		t.Error("short summary was modified")
	}
}
