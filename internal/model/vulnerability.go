// Package model defines the canonical domain types shared by the
// Normalizer, Merger, Scorer, and Store: Vulnerability, IngestionRun,
// Article, and NewsSource. These are plain Go structs with no
// persistence-framework tags; internal/store maps them to and from
// its GORM row types, keeping the pure pipeline stages free of ORM
// coupling and confining boundary objects to the edges.
package model

import "time"

// Severity is the closed enumeration
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
	SeverityUnknown  Severity = "UNKNOWN"
)

// ReferenceType is the closed enumeration used to classify reference
// URLs during normalization.
type ReferenceType string

const (
	ReferenceAdvisory ReferenceType = "advisory"
	ReferencePatch    ReferenceType = "patch"
	ReferenceVendor   ReferenceType = "vendor"
	ReferenceExploit  ReferenceType = "exploit"
	ReferenceBlog     ReferenceType = "blog"
	ReferenceNVD      ReferenceType = "nvd"
	ReferenceOther    ReferenceType = "other"
)

// Reference is a single classified reference URL.
type Reference struct {
	URL  string        `json:"url"`
	Type ReferenceType `json:"type"`
	Tags []string      `json:"tags,omitempty"`
}

// Source is a provenance tag identifying which upstream feed contributed
// to a Vulnerability. The zero value of an unset field never equals a
// real tag, so these double as map keys for source-priority lookups.
type Source string

const (
	SourceNVD         Source = "nvd"
	SourceCISAKEV     Source = "cisa_kev"
	SourceEUCVESearch Source = "eu_cve_search"
	SourceBSICERT     Source = "bsi_cert"
	SourceRSS         Source = "rss"
)

// Vulnerability is the canonical, merged record for one CVE identifier.
type Vulnerability struct {
	CVEID       string
	Title       string
	Description string

	CVSSScore  *float64
	CVSSVector string
	Severity   Severity

	PublishedAt *time.Time
	ModifiedAt  *time.Time

	ExploitedInTheWild bool
	CISADueDate        *time.Time

	CWEIDs           []string
	Vendors          []string
	Products         []string
	AffectedProducts []string

	References []Reference
	Sources    []Source
	SourceTags map[Source]string

	PriorityScore float64

	SimpleTitle       string
	SimpleDescription string
	LLMProcessed      bool
	LLMProcessedAt    *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasSource reports whether tag already appears in v.Sources.
func (v *Vulnerability) HasSource(tag Source) bool {
	for _, s := range v.Sources {
		if s == tag {
			return true
		}
	}
	return false
}

// IngestionRunStatus is the closed enumeration
type IngestionRunStatus string

const (
	RunRunning IngestionRunStatus = "running"
	RunSuccess IngestionRunStatus = "success"
	RunFailed  IngestionRunStatus = "failed"
)

// IngestionRunCounts tallies per-record outcomes for a single job run.
type IngestionRunCounts struct {
	Fetched  int64
	Inserted int64
	Updated  int64
	Failed   int64
}

// IngestionRun is the audit record created at job start and finalized
// at job end.
type IngestionRun struct {
	ID           string
	JobName      string
	Source       Source
	Status       IngestionRunStatus
	StartedAt    time.Time
	CompletedAt  *time.Time
	Counts       IngestionRunCounts
	ErrorMessage string
	Config       map[string]any
}

// Article is a news entity sharing the Vulnerability idempotence
// discipline keyed by URL.
type Article struct {
	SourceID      string
	Title         string
	URL           string
	Author        string
	Summary       string
	PublishedAt   *time.Time
	FetchedAt     time.Time
	Categories    []string
	RelatedCVEs   []string
	LLMSummary    string
	LLMKeyPoints  []string
	LLMRelevance  string
	LLMProcessed  bool
}

// NewsSource describes a configured RSS/Atom feed.
type NewsSource struct {
	Name            string
	FeedURL         string
	Active          bool
	FetchInterval   time.Duration
	LastFetchedAt   *time.Time
	LastFetchStatus string
	LastFetchError  string
	TotalArticles   int64
}
