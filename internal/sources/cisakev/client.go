// Package cisakev fetches the CISA Known Exploited Vulnerabilities
// catalog — a single JSON document refreshed wholesale on every call,
// with no cursor/paging concept.
package cisakev

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/hoodinformatik/openthreat/internal/cve"
	"github.com/hoodinformatik/openthreat/internal/errs"
)

// CatalogURL is CISA's published KEV catalog document.
const CatalogURL = "https://www.cisa.gov/sites/default/files/feeds/known_exploited_vulnerabilities.json"

// Client fetches the full KEV catalog.
type Client struct {
	http       *resty.Client
	catalogURL string
}

func New() *Client {
	return &Client{http: resty.New().SetTimeout(30 * time.Second), catalogURL: CatalogURL}
}

// Fetch always returns the entire catalog and takes or returns no
// cursor: KEV has full-refresh semantics, not incremental paging.
func (c *Client) Fetch(ctx context.Context) ([]cve.KEVRecord, error) {
	var catalog cve.KEVCatalog
	var lastErr error

	for attempt := 0; attempt < errs.MaxAttempts; attempt++ {
		resp, err := c.http.R().SetContext(ctx).SetResult(&catalog).Get(c.catalogURL)
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
				return nil, fmt.Errorf("kev fetch failed: status %d", resp.StatusCode())
			}
			lastErr = classified
			if waitErr := errs.Wait(ctx, attempt, 0); waitErr != nil {
				return nil, waitErr
			}
			continue
		}
		return catalog.Vulnerabilities, nil
	}

	return nil, fmt.Errorf("kev fetch exhausted retries: %w", lastErr)
}
