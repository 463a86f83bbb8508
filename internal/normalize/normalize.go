// Package normalize turns raw, source-shaped records (internal/cve's
// NVD/KEV wire types, RSS items) into the canonical internal/model
// shapes. It is pure and stateless: no I/O, no clock reads beyond what
// callers pass in, grounded on the validation-regex style of the
// CVE/CWE identifier patterns generalized from
// identifier validation into full-record projection.
package normalize

import (
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/hoodinformatik/openthreat/internal/cve"
	"github.com/hoodinformatik/openthreat/internal/model"
)

var (
	cveIDPattern = regexp.MustCompile(`^CVE-\d{4}-\d{4,}$`)
	cweRefPattern = regexp.MustCompile(`CWE-\d+`)
	cveRefPattern = regexp.MustCompile(`CVE-\d{4}-\d{4,}`)
)

// MaxDescriptionLen is the storable description ceiling (20 KB).
const MaxDescriptionLen = 20 * 1024

// ValidCVEID reports whether s is a well-formed CVE identifier.
func ValidCVEID(s string) bool {
	return cveIDPattern.MatchString(strings.ToUpper(s))
}

// ExtractCWEIDs pulls every CWE-\d+ token out of free text and any
// structured weakness descriptions, deduplicated and sorted.
func ExtractCWEIDs(weaknesses []cve.Weakness, freeText ...string) []string {
	seen := map[string]struct{}{}
	for _, w := range weaknesses {
		for _, d := range w.Description {
			for _, m := range cweRefPattern.FindAllString(d.Value, -1) {
				seen[m] = struct{}{}
			}
		}
	}
	for _, t := range freeText {
		for _, m := range cweRefPattern.FindAllString(t, -1) {
			seen[m] = struct{}{}
		}
	}
	return sortedKeys(seen)
}

// ExtractCVERefs pulls every CVE-\d{4}-\d{4,} token out of free text,
// used to populate Article.RelatedCVEs from RSS summaries.
func ExtractCVERefs(text string) []string {
	seen := map[string]struct{}{}
	for _, m := range cveRefPattern.FindAllString(text, -1) {
		seen[strings.ToUpper(m)] = struct{}{}
	}
	return sortedKeys(seen)
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// PreferredDescription picks an English description, falling back to
// the first available, and truncates to MaxDescriptionLen.
func PreferredDescription(descs []cve.Description) string {
	var first, english string
	for _, d := range descs {
		if first == "" {
			first = d.Value
		}
		if strings.EqualFold(d.Lang, "en") && english == "" {
			english = d.Value
		}
	}
	chosen := english
	if chosen == "" {
		chosen = first
	}
	if len(chosen) > MaxDescriptionLen {
		chosen = chosen[:MaxDescriptionLen]
	}
	return chosen
}

// cvssPick is the outcome of selecting the preferred CVSS metric.
type cvssPick struct {
	score    *float64
	vector   string
	severity model.Severity
}

// PreferredCVSS applies the v3.1 > v3.0 > v4.0 > v2.0 preference order,
// deriving severity from score when no explicit severity is carried.
func PreferredCVSS(m *cve.Metrics) cvssPick {
	if m == nil {
		return cvssPick{severity: model.SeverityUnknown}
	}
	if len(m.CvssMetricV31) > 0 {
		d := m.CvssMetricV31[0].CvssData
		return scoredPick(d.BaseScore, d.VectorString, d.BaseSeverity)
	}
	if len(m.CvssMetricV30) > 0 {
		d := m.CvssMetricV30[0].CvssData
		return scoredPick(d.BaseScore, d.VectorString, d.BaseSeverity)
	}
	if len(m.CvssMetricV40) > 0 {
		d := m.CvssMetricV40[0].CvssData
		return scoredPick(d.BaseScore, d.VectorString, d.BaseSeverity)
	}
	if len(m.CvssMetricV2) > 0 {
		d := m.CvssMetricV2[0].CvssData
		return scoredPick(d.BaseScore, d.VectorString, severityFromScore(d.BaseScore))
	}
	return cvssPick{severity: model.SeverityUnknown}
}

func scoredPick(score float64, vector, severity string) cvssPick {
	s := score
	sev := model.Severity(strings.ToUpper(severity))
	if sev == "" {
		sev = severityFromScore(score)
	}
	switch sev {
	case model.SeverityCritical, model.SeverityHigh, model.SeverityMedium, model.SeverityLow:
	default:
		sev = severityFromScore(score)
	}
	return cvssPick{score: &s, vector: vector, severity: sev}
}

func severityFromScore(score float64) model.Severity {
	switch {
	case score >= 9.0:
		return model.SeverityCritical
	case score >= 7.0:
		return model.SeverityHigh
	case score >= 4.0:
		return model.SeverityMedium
	case score > 0:
		return model.SeverityLow
	default:
		return model.SeverityUnknown
	}
}

// cpeComponents splits a CPE 2.3 formatted-string body into its
// colon-delimited components, honoring backslash-escaping: a colon
// preceded by an odd number of consecutive backslashes is literal, not
// a delimiter (CPE 2.3 binding grammar, ANSI/NIST IR 7695).
func cpeComponents(body string) []string {
	var comps []string
	var cur strings.Builder
	backslashes := 0
	for _, r := range body {
		switch r {
		case '\\':
			backslashes++
			cur.WriteRune(r)
		case ':':
			if backslashes%2 == 1 {
				cur.WriteRune(r)
			} else {
				comps = append(comps, cur.String())
				cur.Reset()
			}
			backslashes = 0
		default:
			backslashes = 0
			cur.WriteRune(r)
		}
	}
	comps = append(comps, cur.String())
	return comps
}

var cpeUnescaper = strings.NewReplacer(
	`\:`, ":", `\\`, `\`, `\.`, ".", `\-`, "-", `\_`, "_",
	`\~`, "~", `\!`, "!", `\@`, "@", `\#`, "#", `\$`, "$",
)

func cpeUnescape(s string) string { return cpeUnescaper.Replace(s) }

// foldKey lowercases and folds dots/spaces/underscores to hyphens for
// use as a matching key, distinct from the retained display form.
func foldKey(s string) string {
	s = strings.ToLower(s)
	s = strings.NewReplacer(".", "-", " ", "-", "_", "-").Replace(s)
	return s
}

// ParsedCPE is a CPE 2.3 criteria string, reduced to the
// vendor/product/version triple this system cares about.
type ParsedCPE struct {
	Vendor         string
	Product        string
	Version        string
	VendorKey      string
	ProductKey     string
	AffectedProduct string // "vendor:product[:version]"
}

// ParseCPE extracts vendor/product/version from a CPE 2.3 formatted
// string such as "cpe:2.3:a:apache:log4j:2.14.1:*:*:*:*:*:*:*".
func ParseCPE(criteria string) (ParsedCPE, bool) {
	body := criteria
	body = strings.TrimPrefix(body, "cpe:2.3:")
	body = strings.TrimPrefix(body, "cpe:/")
	comps := cpeComponents(body)
	// comps[0]=part, [1]=vendor, [2]=product, [3]=version, ...
	if len(comps) < 3 {
		return ParsedCPE{}, false
	}
	vendor := cpeUnescape(comps[1])
	product := cpeUnescape(comps[2])
	version := ""
	if len(comps) > 3 {
		version = cpeUnescape(comps[3])
	}
	if vendor == "" || vendor == "*" || product == "" || product == "*" {
		return ParsedCPE{}, false
	}
	ap := foldKey(vendor) + ":" + foldKey(product)
	if version != "" && version != "*" && version != "-" {
		ap += ":" + version
	}
	return ParsedCPE{
		Vendor: vendor, Product: product, Version: version,
		VendorKey: foldKey(vendor), ProductKey: foldKey(product),
		AffectedProduct: ap,
	}, true
}

// classifyReference assigns a ReferenceType from NVD's free-text tags,
// falling back to the reference URL's domain when no tag matches.
func classifyReference(tags []string, url string) model.ReferenceType {
	lower := make([]string, len(tags))
	for i, t := range tags {
		lower[i] = strings.ToLower(t)
	}
	has := func(want string) bool {
		for _, t := range lower {
			if t == want {
				return true
			}
		}
		return false
	}
	switch {
	case has("patch"):
		return model.ReferencePatch
	case has("vendor advisory"), has("third party advisory"):
		return model.ReferenceAdvisory
	case has("exploit"):
		return model.ReferenceExploit
	case has("release notes"), has("product"):
		return model.ReferenceVendor
	case strings.Contains(url, "nvd.nist.gov"):
		return model.ReferenceNVD
	default:
		return model.ReferenceOther
	}
}

// NormalizeNVD projects an NVD CVEItem into the canonical domain type.
// Records without a valid cve_id are rejected.
func NormalizeNVD(item cve.CVEItem) (model.Vulnerability, bool) {
	if !ValidCVEID(item.ID) {
		return model.Vulnerability{}, false
	}

	pick := PreferredCVSS(item.Metrics)

	var vendors, products, affected []string
	vendorSeen, productSeen, affectedSeen := map[string]struct{}{}, map[string]struct{}{}, map[string]struct{}{}
	for _, cfg := range item.Configurations {
		for _, node := range cfg.Nodes {
			for _, m := range node.CPEMatch {
				parsed, ok := ParseCPE(m.Criteria)
				if !ok {
					continue
				}
				if _, dup := vendorSeen[parsed.VendorKey]; !dup {
					vendorSeen[parsed.VendorKey] = struct{}{}
					vendors = append(vendors, parsed.Vendor)
				}
				if _, dup := productSeen[parsed.ProductKey]; !dup {
					productSeen[parsed.ProductKey] = struct{}{}
					products = append(products, parsed.Product)
				}
				if _, dup := affectedSeen[parsed.AffectedProduct]; !dup {
					affectedSeen[parsed.AffectedProduct] = struct{}{}
					affected = append(affected, parsed.AffectedProduct)
				}
			}
		}
	}

	var refs []model.Reference
	refSeen := map[string]struct{}{}
	for _, r := range item.References {
		if !strings.HasPrefix(r.URL, "http://") && !strings.HasPrefix(r.URL, "https://") {
			continue
		}
		if _, dup := refSeen[r.URL]; dup {
			continue
		}
		refSeen[r.URL] = struct{}{}
		refs = append(refs, model.Reference{URL: r.URL, Type: classifyReference(r.Tags, r.URL), Tags: r.Tags})
	}

	var published, modified *time.Time
	if !item.Published.IsZero() {
		t := item.Published.Time
		published = &t
	}
	if !item.LastModified.IsZero() {
		t := item.LastModified.Time
		modified = &t
	}

	var dueDate *time.Time
	if item.CisaActionDue != "" {
		if t, err := time.Parse("2006-01-02", item.CisaActionDue); err == nil {
			dueDate = &t
		}
	}

	return model.Vulnerability{
		CVEID:              strings.ToUpper(item.ID),
		Description:        PreferredDescription(item.Descriptions),
		CVSSScore:          pick.score,
		CVSSVector:         pick.vector,
		Severity:           pick.severity,
		PublishedAt:        published,
		ModifiedAt:         modified,
		ExploitedInTheWild: item.CisaExploitAdd != "",
		CISADueDate:        dueDate,
		CWEIDs:             ExtractCWEIDs(item.Weaknesses),
		Vendors:            vendors,
		Products:           products,
		AffectedProducts:   affected,
		References:         refs,
		Sources:            []model.Source{model.SourceNVD},
		SourceTags:         map[model.Source]string{model.SourceNVD: item.VulnStatus},
	}, true
}

// NormalizeKEV projects a CISA KEV catalog record into the canonical
// domain type. Presence in the catalog is itself the
// exploited-in-the-wild signal.
func NormalizeKEV(rec cve.KEVRecord) (model.Vulnerability, bool) {
	if !ValidCVEID(rec.CveID) {
		return model.Vulnerability{}, false
	}

	var dueDate *time.Time
	if t, err := time.Parse("2006-01-02", rec.DueDate); err == nil {
		dueDate = &t
	}
	var added *time.Time
	if t, err := time.Parse("2006-01-02", rec.DateAdded); err == nil {
		added = &t
	}

	var affected []string
	if rec.VendorProject != "" && rec.Product != "" {
		affected = []string{foldKey(rec.VendorProject) + ":" + foldKey(rec.Product)}
	}

	return model.Vulnerability{
		CVEID:              strings.ToUpper(rec.CveID),
		Description:        rec.ShortDescription,
		PublishedAt:        added,
		ExploitedInTheWild: true,
		CISADueDate:        dueDate,
		CWEIDs:             append([]string(nil), rec.CWEs...),
		Vendors:            nonEmpty(rec.VendorProject),
		Products:           nonEmpty(rec.Product),
		AffectedProducts:   affected,
		Sources:            []model.Source{model.SourceCISAKEV},
		SourceTags:         map[model.Source]string{model.SourceCISAKEV: rec.RequiredAction},
		Severity:           model.SeverityUnknown,
	}, true
}

func nonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	return []string{s}
}

// ArticleFromFeed builds an Article from raw RSS/Atom item fields
// already stripped of HTML by the RSS source client; it only derives
// the CVE cross-reference set.
func ArticleFromFeed(title, url, author, summary string, published *time.Time, categories []string) model.Article {
	return model.Article{
		Title:       title,
		URL:         url,
		Author:      author,
		Summary:     summary,
		PublishedAt: published,
		FetchedAt:   time.Now(),
		Categories:  categories,
		RelatedCVEs: ExtractCVERefs(title + " " + summary),
	}
}
