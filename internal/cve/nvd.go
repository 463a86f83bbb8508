// Package cve models the wire shapes of the external vulnerability
// feeds this service ingests — NVD JSON API 2.0 and CISA KEV — plus
// the CISA-overlay fields NVD records sometimes carry. These are raw,
// source-shaped boundary objects: the Normalizer (internal/normalize)
// is the only consumer, and it never leaks these types past its own
// boundary.
//
// Every CVSS data group (v2.0, v3.x, v4.0) decodes only its version,
// vector string and base score, plus the base severity where the
// group carries one; the individual metrics are not decoded. All
// versions are kept so the Normalizer's CVSS-preference rule can walk
// the v3.1/v3.0/v4.0/v2.0 ladder.
package cve

import (
	"strings"
	"time"
)

const nvdTimeFormat = "2006-01-02T15:04:05.999"

// Timestamp decodes NVD's "2021-12-10T10:15:09.143" format, falling
// back to RFC3339 for payloads that carry a zone offset.
type Timestamp struct {
	time.Time
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		t.Time = time.Time{}
		return nil
	}
	if parsed, err := time.Parse(nvdTimeFormat, s); err == nil {
		t.Time = parsed
		return nil
	}
	parsed, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return err
	}
	t.Time = parsed
	return nil
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.Time.IsZero() {
		return []byte("null"), nil
	}
	return []byte(`"` + t.Time.Format(nvdTimeFormat) + `"`), nil
}

// CVEResponse is the top-level NVD /cves/2.0 page response.
type CVEResponse struct {
	ResultsPerPage  int       `json:"resultsPerPage"`
	StartIndex      int       `json:"startIndex"`
	TotalResults    int       `json:"totalResults"`
	Timestamp       Timestamp `json:"timestamp"`
	Vulnerabilities []struct {
		CVE CVEItem `json:"cve"`
	} `json:"vulnerabilities"`
}

// CVEItem is a single CVE record as NVD represents it.
type CVEItem struct {
	ID                    string        `json:"id"`
	SourceIdentifier      string        `json:"sourceIdentifier"`
	Published             Timestamp     `json:"published"`
	LastModified          Timestamp     `json:"lastModified"`
	VulnStatus            string        `json:"vulnStatus"`
	CisaExploitAdd        string        `json:"cisaExploitAdd,omitempty"`
	CisaActionDue         string        `json:"cisaActionDue,omitempty"`
	CisaRequiredAction    string        `json:"cisaRequiredAction,omitempty"`
	CisaVulnerabilityName string        `json:"cisaVulnerabilityName,omitempty"`
	Descriptions          []Description `json:"descriptions"`
	Metrics               *Metrics      `json:"metrics,omitempty"`
	Weaknesses            []Weakness    `json:"weaknesses,omitempty"`
	Configurations        []Config      `json:"configurations,omitempty"`
	References            []Reference   `json:"references,omitempty"`
}

// Description is a single localized description string.
type Description struct {
	Lang  string `json:"lang"`
	Value string `json:"value"`
}

// Weakness carries a CVE's CWE classification(s).
type Weakness struct {
	Source      string        `json:"source"`
	Type        string        `json:"type"`
	Description []Description `json:"description"`
}

// Config is a configuration node tree of CPE applicability statements.
type Config struct {
	Operator string `json:"operator,omitempty"`
	Negate   bool   `json:"negate,omitempty"`
	Nodes    []Node `json:"nodes"`
}

// Node is one node of a Config tree.
type Node struct {
	Operator string     `json:"operator"`
	Negate   bool       `json:"negate,omitempty"`
	CPEMatch []CPEMatch `json:"cpeMatch"`
}

// CPEMatch is a single CPE criteria entry, optionally version-ranged.
type CPEMatch struct {
	Vulnerable            bool   `json:"vulnerable"`
	Criteria              string `json:"criteria"`
	VersionStartExcluding string `json:"versionStartExcluding,omitempty"`
	VersionStartIncluding string `json:"versionStartIncluding,omitempty"`
	VersionEndExcluding   string `json:"versionEndExcluding,omitempty"`
	VersionEndIncluding   string `json:"versionEndIncluding,omitempty"`
}

// Metrics groups every CVSS version NVD may report for one CVE.
type Metrics struct {
	CvssMetricV40 []CVSSMetricV40 `json:"cvssMetricV40,omitempty"`
	CvssMetricV31 []CVSSMetricV3  `json:"cvssMetricV31,omitempty"`
	CvssMetricV30 []CVSSMetricV3  `json:"cvssMetricV30,omitempty"`
	CvssMetricV2  []CVSSMetricV2  `json:"cvssMetricV2,omitempty"`
}

// CVSSMetricV3 is one CVSS v3.0/v3.1 scoring entry.
type CVSSMetricV3 struct {
	Source   string     `json:"source"`
	Type     string     `json:"type"`
	CvssData CVSSDataV3 `json:"cvssData"`
}

// CVSSDataV3 holds a CVSS v3.x entry's version, vector, base score and
// base severity; the individual base metrics are not decoded.
type CVSSDataV3 struct {
	Version      string  `json:"version"`
	VectorString string  `json:"vectorString"`
	BaseScore    float64 `json:"baseScore"`
	BaseSeverity string  `json:"baseSeverity"`
}

// CVSSMetricV2 is one CVSS v2.0 scoring entry.
type CVSSMetricV2 struct {
	Source       string     `json:"source"`
	Type         string     `json:"type"`
	CvssData     CVSSDataV2 `json:"cvssData"`
	BaseSeverity string     `json:"baseSeverity,omitempty"`
}

// CVSSDataV2 holds a CVSS v2.0 entry's version, vector and base score;
// the individual base metrics are not decoded.
type CVSSDataV2 struct {
	Version      string  `json:"version"`
	VectorString string  `json:"vectorString"`
	BaseScore    float64 `json:"baseScore"`
}

// CVSSMetricV40 is one CVSS v4.0 scoring entry.
type CVSSMetricV40 struct {
	Source   string      `json:"source"`
	Type     string      `json:"type"`
	CvssData CVSSDataV40 `json:"cvssData"`
}

// CVSSDataV40 holds a CVSS v4.0 entry's version, vector, base score and
// base severity; the individual base metrics are not decoded.
type CVSSDataV40 struct {
	Version      string  `json:"version"`
	VectorString string  `json:"vectorString"`
	BaseScore    float64 `json:"baseScore"`
	BaseSeverity string  `json:"baseSeverity"`
}

// Reference is a single NVD reference link.
type Reference struct {
	URL    string   `json:"url"`
	Source string   `json:"source,omitempty"`
	Tags   []string `json:"tags,omitempty"`
}
