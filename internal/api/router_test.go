package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/hoodinformatik/openthreat/internal/cache"
	"github.com/hoodinformatik/openthreat/internal/logging"
	"github.com/hoodinformatik/openthreat/internal/model"
	"github.com/hoodinformatik/openthreat/internal/ratelimit"
	"github.com/hoodinformatik/openthreat/internal/store"
)

func newTestServer(t *testing.T) (*store.Store, http.Handler) {
	t.Helper()
	s, err := store.OpenSQLite(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	log := logging.Component(zerolog.Nop(), "api-test")
	limiter := ratelimit.NewClientLimiter(1000, 10000, nil)
	router := NewRouter(s, cache.NewMemoryCache(), limiter, nil, log)
	return s, router
}

func newTestServerWithCache(t *testing.T) (*store.Store, cache.Cache, http.Handler) {
	t.Helper()
	s, err := store.OpenSQLite(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	log := logging.Component(zerolog.Nop(), "api-test")
	limiter := ratelimit.NewClientLimiter(1000, 10000, nil)
	c := cache.NewMemoryCache()
	router := NewRouter(s, c, limiter, nil, log)
	return s, c, router
}

func seedVuln(t *testing.T, s *store.Store, cveID string, severity model.Severity, exploited bool, vendors []string) {
	t.Helper()
	now := time.Now()
	_, _, err := s.UpsertVulnerability(context.Background(), model.Vulnerability{
		CVEID: cveID, Title: "title " + cveID, Description: "description for " + cveID,
		Severity: severity, ExploitedInTheWild: exploited, Vendors: vendors,
		Sources: []model.Source{model.SourceNVD}, PublishedAt: &now,
	}, now)
	require.NoError(t, err)
}

func doGet(t *testing.T, router http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, path, nil)
	require.NoError(t, err)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	_, router := newTestServer(t)
	w := doGet(t, router, "/api/health")
	require.Equal(t, http.StatusOK, w.Code)
}

func TestListVulnerabilitiesReturnsEnvelope(t *testing.T) {
	s, router := newTestServer(t)
	seedVuln(t, s, "CVE-2024-1000", model.SeverityHigh, false, []string{"Acme"})

	w := doGet(t, router, "/api/vulnerabilities")
	require.Equal(t, http.StatusOK, w.Code)

	var body listEnvelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.EqualValues(t, 1, body.Total)
}

func TestGetVulnerabilityCaseInsensitive(t *testing.T) {
	s, router := newTestServer(t)
	seedVuln(t, s, "CVE-2024-1001", model.SeverityCritical, true, []string{"Acme"})

	w := doGet(t, router, "/api/vulnerabilities/cve-2024-1001")
	require.Equal(t, http.StatusOK, w.Code)
}

func TestGetVulnerabilityRejectsMalformedCVEID(t *testing.T) {
	_, router := newTestServer(t)
	w := doGet(t, router, "/api/vulnerabilities/not-a-cve")
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetVulnerabilityNotFound(t *testing.T) {
	_, router := newTestServer(t)
	w := doGet(t, router, "/api/vulnerabilities/CVE-0000-0000")
	require.Equal(t, http.StatusNotFound, w.Code)

	var body errEnvelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, 404, body.StatusCode)
}

func TestSearchRejectsShortQuery(t *testing.T) {
	_, router := newTestServer(t)
	w := doGet(t, router, "/api/search?q=a")
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSearchRejectsSQLKeywordCharacters(t *testing.T) {
	_, router := newTestServer(t)
	w := doGet(t, router, "/api/search?q="+`1%27%3B--`)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListRecentRejectsOutOfRangeDays(t *testing.T) {
	_, router := newTestServer(t)
	w := doGet(t, router, "/api/vulnerabilities/recent?days=400")
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTrendingRejectsUnknownType(t *testing.T) {
	_, router := newTestServer(t)
	w := doGet(t, router, "/api/trending?type=bogus")
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTrendingHotDegradesToPriorityOrdering(t *testing.T) {
	s, router := newTestServer(t)
	seedVuln(t, s, "CVE-2024-2000", model.SeverityLow, false, []string{"Acme"})

	w := doGet(t, router, "/api/trending?type=hot&time_range=all_time")
	require.Equal(t, http.StatusOK, w.Code)
}

func TestTopVendorsAggregatesAcrossRows(t *testing.T) {
	s, router := newTestServer(t)
	seedVuln(t, s, "CVE-2024-3000", model.SeverityHigh, false, []string{"Acme"})
	seedVuln(t, s, "CVE-2024-3001", model.SeverityHigh, false, []string{"Acme"})
	seedVuln(t, s, "CVE-2024-3002", model.SeverityHigh, false, []string{"Globex"})

	w := doGet(t, router, "/api/top-vendors")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Vendors []store.VendorCount `json:"vendors"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.NotEmpty(t, body.Vendors)
	require.Equal(t, "Acme", body.Vendors[0].Name)
	require.Equal(t, 2, body.Vendors[0].Count)
}

func TestSeverityDistributionSumsToTotal(t *testing.T) {
	s, router := newTestServer(t)
	seedVuln(t, s, "CVE-2024-4000", model.SeverityCritical, false, []string{"Acme"})
	seedVuln(t, s, "CVE-2024-4001", model.SeverityLow, false, []string{"Acme"})

	w := doGet(t, router, "/api/severity-distribution")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Total        int64 `json:"total"`
		Distribution []struct {
			Severity string `json:"severity"`
		} `json:"distribution"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.EqualValues(t, 2, body.Total)
	require.Len(t, body.Distribution, 2)
}

func TestListVulnerabilitiesServesMemoizedCountOverLiveCount(t *testing.T) {
	s, c, router := newTestServerWithCache(t)
	seedVuln(t, s, "CVE-2024-6000", model.SeverityHigh, false, []string{"Acme"})

	countKey := cache.VulnCountKey("", "any", string(store.SortPublishedDesc))
	require.NoError(t, c.Set(context.Background(), countKey, "999", time.Minute))

	w := doGet(t, router, "/api/vulnerabilities")
	require.Equal(t, http.StatusOK, w.Code)

	var body listEnvelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.EqualValues(t, 999, body.Total, "a memoized count must win over the live row count")
}

func TestListVulnerabilitiesPopulatesCountCacheOnMiss(t *testing.T) {
	s, c, router := newTestServerWithCache(t)
	seedVuln(t, s, "CVE-2024-6001", model.SeverityLow, false, []string{"Globex"})

	w := doGet(t, router, "/api/vulnerabilities")
	require.Equal(t, http.StatusOK, w.Code)

	countKey := cache.VulnCountKey("", "any", string(store.SortPublishedDesc))
	raw, err := c.Get(context.Background(), countKey)
	require.NoError(t, err)
	require.Equal(t, "1", raw)
}

func TestStatsServesFromCacheWithoutMatchingDBRows(t *testing.T) {
	_, c, router := newTestServerWithCache(t)

	cached := store.Stats{
		Total:             42,
		BySeverity:        map[string]int64{"CRITICAL": 42},
		ExploitedCount:    7,
		AverageCVSS:       9.1,
		LLMProcessedCount: 3,
	}
	data, err := sonic.Marshal(cached)
	require.NoError(t, err)
	require.NoError(t, c.Set(context.Background(), cache.DashboardStatsKey(), string(data), time.Minute))

	w := doGet(t, router, "/api/stats")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Total int64 `json:"total"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.EqualValues(t, 42, body.Total, "handler must serve the cached aggregate, not a live DB query returning zero rows")
}

func TestStatsPopulatesCacheOnMiss(t *testing.T) {
	s, c, router := newTestServerWithCache(t)
	seedVuln(t, s, "CVE-2024-5000", model.SeverityHigh, false, []string{"Acme"})

	w := doGet(t, router, "/api/stats")
	require.Equal(t, http.StatusOK, w.Code)

	raw, err := c.Get(context.Background(), cache.DashboardStatsKey())
	require.NoError(t, err)
	require.NotEmpty(t, raw, "cache miss must populate the cache for subsequent reads")

	var cached store.Stats
	require.NoError(t, sonic.UnmarshalString(raw, &cached))
	require.EqualValues(t, 1, cached.Total)
}

func TestRateLimitMiddlewareRejectsOverLimit(t *testing.T) {
	s, err := store.OpenSQLite(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	log := logging.Component(zerolog.Nop(), "api-test")
	limiter := ratelimit.NewClientLimiter(1, 1, nil)
	router := NewRouter(s, cache.NewMemoryCache(), limiter, nil, log)

	w1 := doGet(t, router, "/api/health")
	require.Equal(t, http.StatusOK, w1.Code)

	w2 := doGet(t, router, "/api/health")
	require.Equal(t, http.StatusTooManyRequests, w2.Code)
}
