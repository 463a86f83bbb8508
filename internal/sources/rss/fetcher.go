package rss

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/hoodinformatik/openthreat/internal/errs"
	"github.com/hoodinformatik/openthreat/internal/sources"
)

// Fetcher retrieves and parses one feed document per call. RSS/Atom
// feeds carry no server-side cursor, so Fetch always returns every
// item currently published; dedup against already-seen URLs happens
// in the Store (UpsertArticle ignores a URL it already holds).
type Fetcher struct {
	http *resty.Client
}

func NewFetcher() *Fetcher {
	return &Fetcher{http: resty.New().SetTimeout(20 * time.Second)}
}

func (f *Fetcher) Fetch(ctx context.Context, feedURL string) ([]sources.FeedItem, error) {
	var lastErr error
	for attempt := 0; attempt < errs.MaxAttempts; attempt++ {
		resp, err := f.http.R().SetContext(ctx).Get(feedURL)
		if err != nil {
			lastErr = errs.ClassifyHTTP(0, err, 0)
			if waitErr := errs.Wait(ctx, attempt, 0); waitErr != nil {
				return nil, waitErr
			}
			continue
		}
		if resp.IsError() {
			classified := errs.ClassifyHTTP(resp.StatusCode(), nil, 0)
			if classified == nil || !classified.Class.Retryable() {
				return nil, fmt.Errorf("rss fetch %s failed: status %d", feedURL, resp.StatusCode())
			}
			lastErr = classified
			if waitErr := errs.Wait(ctx, attempt, 0); waitErr != nil {
				return nil, waitErr
			}
			continue
		}
		items, err := ParseFeed(resp.Body())
		if err != nil {
			return nil, fmt.Errorf("rss fetch %s: %w", feedURL, err)
		}
		return items, nil
	}
	return nil, fmt.Errorf("rss fetch %s exhausted retries: %w", feedURL, lastErr)
}
