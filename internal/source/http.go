package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"pibot/internal/domain"
	"pibot/internal/logger"
)

const maxJSONBody = 4 << 20

// HTTPSource reads events from a JSON endpoint. GET {url} returns the
// event list; POST {url}/{id}/triggered marks an event as handled so it
// is not announced again after a restart.
//
// Responses are cached by ETag: a 304 reuses the last decoded list.
type HTTPSource struct {
	url    string
	client *http.Client
	log    *logger.Logger

	mu     sync.Mutex
	etag   string
	cached []domain.Event
}

var _ domain.EventSource = (*HTTPSource)(nil)

// HTTPOption configures an HTTPSource.
type HTTPOption func(*HTTPSource)

// WithHTTPTimeout overrides the request timeout.
func WithHTTPTimeout(d time.Duration) HTTPOption {
	return func(s *HTTPSource) { s.client.Timeout = d }
}

// NewHTTPSource creates a source backed by the endpoint at url.
func NewHTTPSource(url string, log *logger.Logger, opts ...HTTPOption) *HTTPSource {
	s := &HTTPSource{
		url:    url,
		client: &http.Client{Timeout: 15 * time.Second},
		log:    log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Events fetches the current event list, reusing the cached copy when the
// server reports it unchanged.
func (s *HTTPSource) Events(ctx context.Context) ([]domain.Event, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("events: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "pibot/1.0")

	s.mu.Lock()
	if s.etag != "" {
		req.Header.Set("If-None-Match", s.etag)
	}
	s.mu.Unlock()

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("events: fetch %s: %w", s.url, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNotModified:
		s.mu.Lock()
		events := append([]domain.Event(nil), s.cached...)
		s.mu.Unlock()
		s.log.Debug("events: %s not modified, using cached list", s.url)
		return events, nil
	case http.StatusOK:
	default:
		return nil, fmt.Errorf("events: fetch %s: status %d", s.url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxJSONBody))
	if err != nil {
		return nil, fmt.Errorf("events: read body: %w", err)
	}

	var events []domain.Event
	if err := json.Unmarshal(body, &events); err != nil {
		return nil, fmt.Errorf("events: decode body: %w", err)
	}

	s.mu.Lock()
	s.etag = resp.Header.Get("ETag")
	s.cached = append([]domain.Event(nil), events...)
	s.mu.Unlock()

	s.log.Debug("events: fetched %d from %s", len(events), s.url)
	return events, nil
}

// MarkTriggered tells the server the event was announced. Failures are
// returned to the caller; the scheduler treats them as non-fatal.
func (s *HTTPSource) MarkTriggered(ctx context.Context, id string) error {
	url := fmt.Sprintf("%s/%s/triggered", s.url, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(nil))
	if err != nil {
		return fmt.Errorf("mark triggered: build request: %w", err)
	}
	req.Header.Set("User-Agent", "pibot/1.0")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("mark triggered %s: %w", id, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("mark triggered %s: status %d", id, resp.StatusCode)
	}
	return nil
}
