package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hoodinformatik/openthreat/internal/merge"
	"github.com/hoodinformatik/openthreat/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleVuln(cveID string, severity model.Severity, exploited bool) model.Vulnerability {
	return model.Vulnerability{
		CVEID:              cveID,
		Title:              "Sample vulnerability in " + cveID,
		Description:        "A description.",
		Severity:           severity,
		ExploitedInTheWild: exploited,
		Vendors:            []string{"Acme"},
		Products:           []string{"Widget"},
		Sources:            []model.Source{model.SourceNVD},
	}
}

func TestUpsertVulnerabilityInsertsOnFirstSight(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	v, outcome, err := s.UpsertVulnerability(ctx, sampleVuln("CVE-2024-1000", model.SeverityHigh, false), time.Now())
	require.NoError(t, err)
	assert.Equal(t, merge.Inserted, outcome)
	assert.Equal(t, "CVE-2024-1000", v.CVEID)

	found, err := s.FindVulnerability(ctx, "cve-2024-1000")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "CVE-2024-1000", found.CVEID)
}

func TestUpsertVulnerabilityUpdatesOnSecondSight(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	_, outcome1, err := s.UpsertVulnerability(ctx, sampleVuln("CVE-2024-1001", model.SeverityUnknown, true), now)
	require.NoError(t, err)
	assert.Equal(t, merge.Inserted, outcome1)

	incoming := sampleVuln("CVE-2024-1001", model.SeverityCritical, false)
	incoming.Sources = []model.Source{model.SourceCISAKEV}
	merged, outcome2, err := s.UpsertVulnerability(ctx, incoming, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, merge.Updated, outcome2)
	assert.True(t, merged.ExploitedInTheWild, "exploited flag from first sighting must survive")
	assert.Equal(t, model.SeverityCritical, merged.Severity)
	assert.Contains(t, merged.Sources, model.SourceNVD)
	assert.Contains(t, merged.Sources, model.SourceCISAKEV)
}

func TestFindVulnerabilityReturnsNilWhenMissing(t *testing.T) {
	s := openTestStore(t)
	found, err := s.FindVulnerability(context.Background(), "CVE-0000-0000")
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestListVulnerabilitiesFiltersBySeverity(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	_, _, err := s.UpsertVulnerability(ctx, sampleVuln("CVE-2024-2001", model.SeverityCritical, false), now)
	require.NoError(t, err)
	_, _, err = s.UpsertVulnerability(ctx, sampleVuln("CVE-2024-2002", model.SeverityLow, false), now)
	require.NoError(t, err)

	page, err := s.ListVulnerabilities(ctx, ListFilter{Severity: "critical"})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "CVE-2024-2001", page.Items[0].CVEID)
}

func TestListVulnerabilitiesFiltersByExploited(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	_, _, err := s.UpsertVulnerability(ctx, sampleVuln("CVE-2024-2003", model.SeverityHigh, true), now)
	require.NoError(t, err)
	_, _, err = s.UpsertVulnerability(ctx, sampleVuln("CVE-2024-2004", model.SeverityHigh, false), now)
	require.NoError(t, err)

	exploited := true
	page, err := s.ListVulnerabilities(ctx, ListFilter{Exploited: &exploited})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "CVE-2024-2003", page.Items[0].CVEID)
}

func TestListVulnerabilitiesPaginates(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 5; i++ {
		_, _, err := s.UpsertVulnerability(ctx, sampleVuln(cveIDFor(i), model.SeverityMedium, false), now)
		require.NoError(t, err)
	}

	page, err := s.ListVulnerabilities(ctx, ListFilter{Page: 1, PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(5), page.Total)
	assert.Len(t, page.Items, 2)
	assert.Equal(t, 3, page.TotalPages)
}

func TestListVulnerabilitiesSortsByPriorityDesc(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	_, _, err := s.UpsertVulnerability(ctx, sampleVuln("CVE-2024-3001", model.SeverityLow, false), now)
	require.NoError(t, err)
	_, _, err = s.UpsertVulnerability(ctx, sampleVuln("CVE-2024-3002", model.SeverityCritical, true), now)
	require.NoError(t, err)

	page, err := s.ListVulnerabilities(ctx, ListFilter{Sort: SortPriorityDesc})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "CVE-2024-3002", page.Items[0].CVEID, "critical+exploited should score higher and sort first")
}

func TestAggregateStatsCountsBySeverityAndExploited(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	_, _, err := s.UpsertVulnerability(ctx, sampleVuln("CVE-2024-4001", model.SeverityCritical, true), now)
	require.NoError(t, err)
	_, _, err = s.UpsertVulnerability(ctx, sampleVuln("CVE-2024-4002", model.SeverityLow, false), now)
	require.NoError(t, err)

	stats, err := s.AggregateStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Total)
	assert.Equal(t, int64(1), stats.BySeverity["CRITICAL"])
	assert.Equal(t, int64(1), stats.BySeverity["LOW"])
	assert.Equal(t, int64(1), stats.ExploitedCount)
}

func TestTopVendorsAggregatesAcrossRows(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	a := sampleVuln("CVE-2024-5001", model.SeverityHigh, false)
	a.Vendors = []string{"Acme", "Globex"}
	b := sampleVuln("CVE-2024-5002", model.SeverityHigh, false)
	b.Vendors = []string{"Acme"}

	_, _, err := s.UpsertVulnerability(ctx, a, now)
	require.NoError(t, err)
	_, _, err = s.UpsertVulnerability(ctx, b, now)
	require.NoError(t, err)

	vendors, err := s.TopVendors(ctx, 10)
	require.NoError(t, err)
	require.NotEmpty(t, vendors)
	assert.Equal(t, "Acme", vendors[0].Name)
	assert.Equal(t, 2, vendors[0].Count)
}

func TestSelectForEnrichmentExcludesAlreadyProcessed(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	_, _, err := s.UpsertVulnerability(ctx, sampleVuln("CVE-2024-6001", model.SeverityCritical, false), now)
	require.NoError(t, err)

	require.NoError(t, s.MarkEnriched(ctx, "CVE-2024-6001", "Title", "Description", false, now))

	candidates, err := s.SelectForEnrichment(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, candidates)
}

func TestSelectForEnrichmentOrdersExploitedAndCriticalFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	_, _, err := s.UpsertVulnerability(ctx, sampleVuln("CVE-2024-6002", model.SeverityLow, false), now)
	require.NoError(t, err)
	_, _, err = s.UpsertVulnerability(ctx, sampleVuln("CVE-2024-6003", model.SeverityCritical, true), now)
	require.NoError(t, err)

	candidates, err := s.SelectForEnrichment(ctx, 10)
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	assert.Equal(t, "CVE-2024-6003", candidates[0].CVEID)
}

func TestMarkEnrichedStampsFallbackSourceTag(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	_, _, err := s.UpsertVulnerability(ctx, sampleVuln("CVE-2024-6004", model.SeverityHigh, false), now)
	require.NoError(t, err)

	require.NoError(t, s.MarkEnriched(ctx, "CVE-2024-6004", "T", "D", true, now))

	found, err := s.FindVulnerability(ctx, "CVE-2024-6004")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.True(t, found.LLMProcessed)
	assert.Equal(t, "fallback", found.SourceTags["enrichment"])
}

func TestUpsertArticleIsIdempotentOnURL(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	article := model.Article{URL: "https://example.com/a", Title: "First"}
	require.NoError(t, s.UpsertArticle(ctx, article))
	require.NoError(t, s.UpsertArticle(ctx, article))

	page, err := s.ListArticles(ctx, 1, 20, false)
	require.NoError(t, err)
	assert.Equal(t, int64(1), page.Total)
}

func cveIDFor(i int) string {
	return "CVE-2024-700" + string(rune('0'+i))
}
