// Package nvd wraps the NVD JSON API 2.0 as a restartable page
// iterator (resty client, fixed timeout, optional apiKey header),
// generalized from two single-shot helper methods
// (FetchCVEByID/FetchCVEs) into a cursor-driven Fetch that the
// Scheduler can call repeatedly across retries and process restarts.
package nvd

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"github.com/hoodinformatik/openthreat/internal/cache"
	"github.com/hoodinformatik/openthreat/internal/cve"
	"github.com/hoodinformatik/openthreat/internal/errs"
)

// BaseURL is the NVD CVE API v2.0 endpoint.
const BaseURL = "https://services.nvd.nist.gov/rest/json/cves/2.0"

const maxResultsPerPage = 2000

// rateWindow is the rolling window NVD's documented ceilings are
// quoted against.
const rateWindow = 30 * time.Second

// Client fetches CVE pages from NVD, honoring the documented anonymous
// vs. API-keyed rate ceilings with a process-local limiter; a second,
// distributed fixed-window counter living in the cache layer coordinates
// the same ceiling across worker instances sharing one API key.
type Client struct {
	http      *resty.Client
	apiKey    string
	limiter   *rate.Limiter
	baseURL   string
	cache     cache.Cache
	windowCap int64
	rateScope string
}

// New builds an NVD client. With no key, NVD permits roughly 5
// requests per rolling 30s window; with a key, roughly 50 per 30s. c
// may be nil, in which case only the process-local limiter applies.
func New(apiKey string, c cache.Cache) *Client {
	http := resty.New().SetTimeout(30 * time.Second)

	ceiling := int64(5)
	if apiKey != "" {
		ceiling = 50
	}
	every := rateWindow / time.Duration(ceiling)

	scope := "anonymous"
	if apiKey != "" {
		scope = "keyed"
	}

	return &Client{
		http:      http,
		apiKey:    apiKey,
		limiter:   rate.NewLimiter(rate.Every(every), 1),
		baseURL:   BaseURL,
		cache:     c,
		windowCap: ceiling,
		rateScope: scope,
	}
}

// waitDistributed blocks until the shared fixed-window counter for this
// client's scope has budget left in the current window, so multiple
// worker instances sharing one NVD API key don't collectively exceed
// the documented ceiling. A cache failure fails open: the call proceeds
// under the process-local limiter alone.
func (c *Client) waitDistributed(ctx context.Context) error {
	if c.cache == nil {
		return nil
	}
	for {
		now := time.Now()
		bucket := now.Unix() / int64(rateWindow.Seconds())
		key := cache.RateWindowKey("nvd", c.rateScope, "30s", bucket)

		count, err := c.cache.Incr(ctx, key)
		if err != nil {
			return nil
		}
		if count == 1 {
			_ = c.cache.Expire(ctx, key, rateWindow)
		}
		if count <= c.windowCap {
			return nil
		}

		windowEnd := time.Unix((bucket+1)*int64(rateWindow.Seconds()), 0)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Until(windowEnd)):
		}
	}
}

// Cursor encodes the NVD-specific paging and filter state.
type Cursor struct {
	StartIndex       int
	LastModStartDate string
	LastModEndDate   string
	HasKev           bool
}

// Fetch retrieves one page starting from cursor (nil means the
// beginning). It returns the decoded CVE items, the cursor for the
// next page (nil once exhausted), and NVD's reported total.
func (c *Client) Fetch(ctx context.Context, cursor *Cursor) ([]cve.CVEItem, *Cursor, *int, error) {
	cur := Cursor{}
	if cursor != nil {
		cur = *cursor
	}

	var resp cve.CVEResponse
	var lastErr error

	for attempt := 0; attempt < errs.MaxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, nil, nil, err
		}
		if err := c.waitDistributed(ctx); err != nil {
			return nil, nil, nil, err
		}

		req := c.http.R().
			SetContext(ctx).
			SetResult(&resp).
			SetQueryParam("startIndex", strconv.Itoa(cur.StartIndex)).
			SetQueryParam("resultsPerPage", strconv.Itoa(maxResultsPerPage))
		if c.apiKey != "" {
			req.SetHeader("apiKey", c.apiKey)
		}
		if cur.LastModStartDate != "" {
			req.SetQueryParam("lastModStartDate", cur.LastModStartDate)
		}
		if cur.LastModEndDate != "" {
			req.SetQueryParam("lastModEndDate", cur.LastModEndDate)
		}
		if cur.HasKev {
			req.SetQueryParam("hasKev", "")
		}

		httpResp, err := req.Get(c.baseURL)
		if err != nil {
			lastErr = errs.ClassifyHTTP(0, err, 0)
			if waitErr := errs.Wait(ctx, attempt, 0); waitErr != nil {
				return nil, nil, nil, waitErr
			}
			continue
		}

		if httpResp.IsError() {
			retryAfter := parseRetryAfter(httpResp.Header().Get("Retry-After"))
			classified := errs.ClassifyHTTP(httpResp.StatusCode(), nil, retryAfter)
			if classified == nil || !classified.Class.Retryable() {
				return nil, nil, nil, fmt.Errorf("nvd fetch failed: status %d", httpResp.StatusCode())
			}
			lastErr = classified
			if waitErr := errs.Wait(ctx, attempt, retryAfter); waitErr != nil {
				return nil, nil, nil, waitErr
			}
			continue
		}

		items := make([]cve.CVEItem, 0, len(resp.Vulnerabilities))
		for _, v := range resp.Vulnerabilities {
			items = append(items, v.CVE)
		}

		next := cur
		next.StartIndex = cur.StartIndex + len(items)
		var nextCursor *Cursor
		if next.StartIndex < resp.TotalResults {
			nextCursor = &next
		}
		total := resp.TotalResults
		return items, nextCursor, &total, nil
	}

	return nil, nil, nil, fmt.Errorf("nvd fetch exhausted retries: %w", lastErr)
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil {
		return time.Duration(secs) * time.Second
	}
	return 0
}
