package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// feedRecord is the wire shape of one camera in the remote JSON feed.
type feedRecord struct {
	ID    string  `json:"id"`
	Title string  `json:"title"`
	Lat   float64 `json:"lat"`
	Lng   float64 `json:"lng"`
	URL   string  `json:"url"`
}

// Loader periodically fetches the remote camera feed and merges it into a
// Directory. Fetch failures keep the last good snapshot in place.
type Loader struct {
	log      *slog.Logger
	dir      *Directory
	url      string
	interval time.Duration
	client   *http.Client
}

// NewLoader creates a Loader refreshing dir from url every interval.
func NewLoader(dir *Directory, url string, interval time.Duration) *Loader {
	return &Loader{
		log:      slog.With("component", "directory-loader"),
		dir:      dir,
		url:      url,
		interval: interval,
		client:   &http.Client{Timeout: 15 * time.Second},
	}
}

// Run fetches once immediately, then on every interval tick until ctx is
// cancelled. Only the initial fetch's error is returned; later failures are
// logged and retried on the next tick.
func (l *Loader) Run(ctx context.Context) error {
	if err := l.refresh(ctx); err != nil {
		l.log.Warn("initial camera feed fetch failed", "url", l.url, "error", err)
	}

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := l.refresh(ctx); err != nil {
				l.log.Warn("camera feed refresh failed", "url", l.url, "error", err)
			}
		}
	}
}

func (l *Loader) refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.url, nil)
	if err != nil {
		return fmt.Errorf("build feed request: %w", err)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch feed: unexpected status %d", resp.StatusCode)
	}

	var feed []feedRecord
	if err := json.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return fmt.Errorf("decode feed: %w", err)
	}

	records := make([]Record, 0, len(feed))
	for _, f := range feed {
		if f.ID == "" {
			continue
		}
		records = append(records, Record{
			ID:            f.ID,
			Title:         f.Title,
			Lat:           f.Lat,
			Lng:           f.Lng,
			StreamAddress: f.URL,
		})
	}

	l.dir.Merge(records)
	l.log.Debug("camera feed refreshed", "cameras", len(records))
	return nil
}
