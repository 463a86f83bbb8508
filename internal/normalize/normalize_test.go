package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hoodinformatik/openthreat/internal/cve"
	"github.com/hoodinformatik/openthreat/internal/model"
)

func TestValidCVEID(t *testing.T) {
	assert.True(t, ValidCVEID("CVE-2021-44228"))
	assert.True(t, ValidCVEID("cve-2021-44228"))
	assert.False(t, ValidCVEID("CVE-21-44228"))
	assert.False(t, ValidCVEID("not-a-cve"))
}

func TestExtractCWEIDsFromWeaknessesAndFreeText(t *testing.T) {
	weaknesses := []cve.Weakness{
		{Description: []cve.Description{{Lang: "en", Value: "CWE-79"}}},
	}
	ids := ExtractCWEIDs(weaknesses, "also related to CWE-89 injection and CWE-79 again")
	assert.Equal(t, []string{"CWE-79", "CWE-89"}, ids)
}

func TestExtractCVERefs(t *testing.T) {
	refs := ExtractCVERefs("See cve-2024-1234 and CVE-2024-1234 plus CVE-2023-9999.")
	assert.Equal(t, []string{"CVE-2023-9999", "CVE-2024-1234"}, refs)
}

func TestPreferredDescriptionPrefersEnglish(t *testing.T) {
	descs := []cve.Description{
		{Lang: "fr", Value: "francais"},
		{Lang: "en", Value: "english text"},
	}
	assert.Equal(t, "english text", PreferredDescription(descs))
}

func TestPreferredDescriptionFallsBackToFirst(t *testing.T) {
	descs := []cve.Description{{Lang: "de", Value: "deutsch"}}
	assert.Equal(t, "deutsch", PreferredDescription(descs))
}

func TestPreferredDescriptionTruncates(t *testing.T) {
	long := make([]byte, MaxDescriptionLen+500)
	for i := range long {
		long[i] = 'a'
	}
	descs := []cve.Description{{Lang: "en", Value: string(long)}}
	assert.Len(t, PreferredDescription(descs), MaxDescriptionLen)
}

func TestPreferredCVSSPrefersV31OverV30OverV2(t *testing.T) {
	m := &cve.Metrics{
		CvssMetricV2:  []cve.CVSSMetricV2{{CvssData: cve.CVSSDataV2{BaseScore: 5.0, VectorString: "v2vec"}}},
		CvssMetricV30: []cve.CVSSMetricV3{{CvssData: cve.CVSSDataV3{BaseScore: 6.0, VectorString: "v30vec", BaseSeverity: "MEDIUM"}}},
		CvssMetricV31: []cve.CVSSMetricV3{{CvssData: cve.CVSSDataV3{BaseScore: 9.8, VectorString: "v31vec", BaseSeverity: "CRITICAL"}}},
	}
	pick := PreferredCVSS(m)
	require.NotNil(t, pick.score)
	assert.Equal(t, 9.8, *pick.score)
	assert.Equal(t, "v31vec", pick.vector)
	assert.Equal(t, model.SeverityCritical, pick.severity)
}

func TestPreferredCVSSDerivesSeverityFromScoreWhenAbsent(t *testing.T) {
	m := &cve.Metrics{
		CvssMetricV2: []cve.CVSSMetricV2{{CvssData: cve.CVSSDataV2{BaseScore: 7.5, VectorString: "v2vec"}}},
	}
	pick := PreferredCVSS(m)
	assert.Equal(t, model.SeverityHigh, pick.severity)
}

func TestPreferredCVSSNilMetricsIsUnknown(t *testing.T) {
	pick := PreferredCVSS(nil)
	assert.Nil(t, pick.score)
	assert.Equal(t, model.SeverityUnknown, pick.severity)
}

func TestParseCPESplitsOnUnescapedColonsOnly(t *testing.T) {
	parsed, ok := ParseCPE(`cpe:2.3:a:apache:log4j:2.14.1:*:*:*:*:*:*:*`)
	require.True(t, ok)
	assert.Equal(t, "apache", parsed.Vendor)
	assert.Equal(t, "log4j", parsed.Product)
	assert.Equal(t, "2.14.1", parsed.Version)
	assert.Equal(t, "apache:log4j:2.14.1", parsed.AffectedProduct)
}

func TestParseCPEHandlesEscapedColonsWithinAComponent(t *testing.T) {
	parsed, ok := ParseCPE(`cpe:2.3:a:acme:widget\:pro:1.0:*:*:*:*:*:*:*`)
	require.True(t, ok)
	assert.Equal(t, "widget:pro", parsed.Product, "escaped colon must stay inside the product component, not split it")
}

func TestParseCPEFoldsDotsSpacesUnderscoresInMatchingKey(t *testing.T) {
	parsed, ok := ParseCPE(`cpe:2.3:a:some_vendor:my.product name:1.0:*:*:*:*:*:*:*`)
	require.True(t, ok)
	assert.Equal(t, "some-vendor", parsed.VendorKey)
	assert.Equal(t, "my-product-name", parsed.ProductKey)
	assert.Equal(t, "my.product name", parsed.Product, "display form keeps original punctuation")
}

func TestParseCPERejectsWildcardVendorOrProduct(t *testing.T) {
	_, ok := ParseCPE(`cpe:2.3:a:*:*:*:*:*:*:*:*:*:*`)
	assert.False(t, ok)
}

func TestNormalizeNVDRejectsInvalidCVEID(t *testing.T) {
	_, ok := NormalizeNVD(cve.CVEItem{ID: "not-valid"})
	assert.False(t, ok)
}

func TestNormalizeNVDFiltersNonHTTPReferences(t *testing.T) {
	item := cve.CVEItem{
		ID: "CVE-2024-9999",
		References: []cve.Reference{
			{URL: "ftp://example.com/a"},
			{URL: "https://example.com/b", Tags: []string{"Patch"}},
		},
	}
	v, ok := NormalizeNVD(item)
	require.True(t, ok)
	assert.Len(t, v.References, 1)
	assert.Equal(t, model.ReferencePatch, v.References[0].Type)
}

func TestNormalizeNVDClassifiesAdvisoryAndExploitTags(t *testing.T) {
	item := cve.CVEItem{
		ID: "CVE-2024-9998",
		References: []cve.Reference{
			{URL: "https://example.com/advisory", Tags: []string{"Vendor Advisory"}},
			{URL: "https://example.com/exploit", Tags: []string{"Exploit"}},
		},
	}
	v, ok := NormalizeNVD(item)
	require.True(t, ok)
	require.Len(t, v.References, 2)
	assert.Equal(t, model.ReferenceAdvisory, v.References[0].Type)
	assert.Equal(t, model.ReferenceExploit, v.References[1].Type)
}

func TestNormalizeNVDClassifiesReleaseNotesAndProductTagsAsVendor(t *testing.T) {
	item := cve.CVEItem{
		ID: "CVE-2024-9997",
		References: []cve.Reference{
			{URL: "https://example.com/notes", Tags: []string{"Release Notes"}},
			{URL: "https://example.com/product-page", Tags: []string{"Product"}},
		},
	}
	v, ok := NormalizeNVD(item)
	require.True(t, ok)
	require.Len(t, v.References, 2)
	assert.Equal(t, model.ReferenceVendor, v.References[0].Type)
	assert.Equal(t, model.ReferenceVendor, v.References[1].Type)
}

func TestNormalizeNVDClassifiesNVDDomainByURLWithoutTags(t *testing.T) {
	item := cve.CVEItem{
		ID: "CVE-2024-9996",
		References: []cve.Reference{
			{URL: "https://nvd.nist.gov/vuln/detail/CVE-2024-9996"},
		},
	}
	v, ok := NormalizeNVD(item)
	require.True(t, ok)
	require.Len(t, v.References, 1)
	assert.Equal(t, model.ReferenceNVD, v.References[0].Type)
}

func TestNormalizeNVDClassifiesUnknownTagsAsOther(t *testing.T) {
	item := cve.CVEItem{
		ID: "CVE-2024-9995",
		References: []cve.Reference{
			{URL: "https://example.com/mailing-list", Tags: []string{"Mailing List"}},
		},
	}
	v, ok := NormalizeNVD(item)
	require.True(t, ok)
	require.Len(t, v.References, 1)
	assert.Equal(t, model.ReferenceOther, v.References[0].Type)
}

func TestNormalizeKEVMarksExploitedAndParsesDueDate(t *testing.T) {
	rec := cve.KEVRecord{
		CveID:         "CVE-2021-34527",
		VendorProject: "Microsoft",
		Product:       "Windows Print Spooler",
		DateAdded:     "2021-11-03",
		DueDate:       "2021-11-17",
	}
	v, ok := NormalizeKEV(rec)
	require.True(t, ok)
	assert.True(t, v.ExploitedInTheWild)
	require.NotNil(t, v.CISADueDate)
	assert.Equal(t, 2021, v.CISADueDate.Year())
	assert.Equal(t, []model.Source{model.SourceCISAKEV}, v.Sources)
}

func TestArticleFromFeedExtractsRelatedCVEs(t *testing.T) {
	a := ArticleFromFeed("New exploit for CVE-2024-1234", "https://example.com/post", "jane", "discusses CVE-2024-1234 in depth", nil, nil)
	assert.Equal(t, []string{"CVE-2024-1234"}, a.RelatedCVEs)
}
