package scheduler

import (
	"context"
	"time"

	"github.com/bytedance/sonic"

	"github.com/hoodinformatik/openthreat/internal/cache"
	"github.com/hoodinformatik/openthreat/internal/normalize"
	"github.com/hoodinformatik/openthreat/internal/sources/cisakev"
	"github.com/hoodinformatik/openthreat/internal/sources/nvd"
	"github.com/hoodinformatik/openthreat/internal/sources/rss"
	"github.com/hoodinformatik/openthreat/internal/store"
)

// NVDJob builds a RunFunc pulling pages from the NVD client, starting
// (or resuming) from the cursor the prior tick checkpointed, and
// upserting every normalized item. hasKev, when true, restricts the
// page to records NVD itself has cross-referenced against CISA KEV —
// used by the fast-moving nvd.recent job; the full nvd.backfill job
// leaves it false to walk the entire catalog.
func NVDJob(client *nvd.Client, s *store.Store, hasKev bool, pagesPerTick int) RunFunc {
	return func(ctx context.Context, cursorJSON string) (string, Counts, error) {
		var cursor *nvd.Cursor
		if cursorJSON != "" {
			var c nvd.Cursor
			if err := sonic.UnmarshalString(cursorJSON, &c); err == nil {
				cursor = &c
			}
		}
		if cursor == nil {
			cursor = &nvd.Cursor{HasKev: hasKev}
		}

		var counts Counts
		now := time.Now()

		for page := 0; page < pagesPerTick; page++ {
			items, next, _, err := client.Fetch(ctx, cursor)
			if err != nil {
				return encodeCursor(cursor), counts, err
			}
			counts.Fetched += int64(len(items))

			for _, item := range items {
				v, ok := normalize.NormalizeNVD(item)
				if !ok {
					counts.Failed++
					continue
				}
				_, outcome, err := s.UpsertVulnerability(ctx, v, now)
				if err != nil {
					counts.Failed++
					continue
				}
				if outcome == 0 {
					counts.Inserted++
				} else {
					counts.Updated++
				}
			}

			if next == nil {
				return "", counts, nil
			}
			cursor = next
		}
		return encodeCursor(cursor), counts, nil
	}
}

func encodeCursor(c *nvd.Cursor) string {
	if c == nil {
		return ""
	}
	data, err := sonic.Marshal(c)
	if err != nil {
		return ""
	}
	return string(data)
}

// CISAKEVJob refreshes the full KEV catalog every tick — the source
// has no incremental paging, so every run is a full walk and the
// cursor is always empty.
func CISAKEVJob(client *cisakev.Client, s *store.Store) RunFunc {
	return func(ctx context.Context, _ string) (string, Counts, error) {
		records, err := client.Fetch(ctx)
		if err != nil {
			return "", Counts{}, err
		}

		var counts Counts
		now := time.Now()
		counts.Fetched = int64(len(records))

		for _, rec := range records {
			v, ok := normalize.NormalizeKEV(rec)
			if !ok {
				counts.Failed++
				continue
			}
			_, outcome, err := s.UpsertVulnerability(ctx, v, now)
			if err != nil {
				counts.Failed++
				continue
			}
			if outcome == 0 {
				counts.Inserted++
			} else {
				counts.Updated++
			}
		}
		return "", counts, nil
	}
}

// RSSJob fetches a single configured feed and upserts each entry as an
// Article, tagging related CVE IDs extracted from title/summary text.
func RSSJob(fetcher *rss.Fetcher, s *store.Store, feedURL string) RunFunc {
	return func(ctx context.Context, _ string) (string, Counts, error) {
		items, err := fetcher.Fetch(ctx, feedURL)
		now := time.Now()
		if err != nil {
			_ = s.RecordFeedFetch(ctx, feedURL, now, "error", err.Error(), 0)
			return "", Counts{}, err
		}

		var counts Counts
		counts.Fetched = int64(len(items))

		for _, item := range items {
			var published *time.Time
			if t, perr := rss.ParseDate(item.PublishedAt); perr == nil {
				published = &t
			}
			article := normalize.ArticleFromFeed(item.Title, item.URL, item.Author, item.Summary, published, item.Categories)
			if uerr := s.UpsertArticle(ctx, article); uerr != nil {
				counts.Failed++
				continue
			}
			counts.Inserted++
		}

		_ = s.RecordFeedFetch(ctx, feedURL, now, "ok", "", counts.Inserted)
		return "", counts, nil
	}
}

// RSSFetchAllJob fans a tick out across every active configured feed,
// summing their counts; one feed's failure doesn't stop the others.
func RSSFetchAllJob(fetcher *rss.Fetcher, s *store.Store, feedURLs []string) RunFunc {
	return func(ctx context.Context, cursor string) (string, Counts, error) {
		var total Counts
		for _, feedURL := range feedURLs {
			job := RSSJob(fetcher, s, feedURL)
			_, counts, err := job(ctx, cursor)
			total.Fetched += counts.Fetched
			total.Inserted += counts.Inserted
			total.Failed += counts.Failed
			if err != nil {
				total.Failed++
			}
		}
		return "", total, nil
	}
}

// CacheRefreshStatsJob recomputes the dashboard aggregate and writes it
// into the cache ahead of the next request, keeping the public stats
// endpoint warm instead of computing on first hit.
func CacheRefreshStatsJob(s *store.Store, c cache.Cache, ttl time.Duration) RunFunc {
	return func(ctx context.Context, _ string) (string, Counts, error) {
		stats, err := s.AggregateStats(ctx)
		if err != nil {
			return "", Counts{}, err
		}
		data, err := sonic.Marshal(stats)
		if err != nil {
			return "", Counts{}, err
		}
		if err := c.Set(ctx, cache.DashboardStatsKey(), string(data), ttl); err != nil {
			return "", Counts{}, err
		}
		return "", Counts{Fetched: 1}, nil
	}
}
