// Package store is a GORM-over-PostgreSQL persistence layer,
// generalized from a single JSON-blob record shape into a
// fully-columned schema so severity/exploited/cvss/published
// filtering and trigram search are satisfiable — a blob column
// cannot be indexed or filtered by individual field.
package store

import (
	"time"
)

// VulnerabilityRow is the fully-columned row backing
// internal/model.Vulnerability. Set-valued fields (CWEIDs, Vendors,
// Products, AffectedProducts, References, Sources, SourceTags) are
// stored as JSON text columns — a blob would also work for these,
// since none of them need trigram/range filtering individually, unlike
// the scalar fields which do and therefore get real columns.
type VulnerabilityRow struct {
	ID        uint           `gorm:"primaryKey"`
	CVEID     string         `gorm:"uniqueIndex;not null;size:32"`
	Title     string         `gorm:"size:500"`
	Description string       `gorm:"type:text"`

	CVSSScore  *float64 `gorm:"index"`
	CVSSVector string   `gorm:"size:128"`
	Severity   string   `gorm:"index;size:16"`

	PublishedAt *time.Time `gorm:"index"`
	ModifiedAt  *time.Time `gorm:"index"`

	ExploitedInTheWild bool       `gorm:"index"`
	CISADueDate        *time.Time

	CWEIDsJSON           string `gorm:"type:text"`
	VendorsJSON          string `gorm:"type:text"`
	ProductsJSON         string `gorm:"type:text"`
	AffectedProductsJSON string `gorm:"type:text"`
	ReferencesJSON       string `gorm:"type:text"`
	SourcesJSON          string `gorm:"type:text"`
	SourceTagsJSON       string `gorm:"type:text"`

	PriorityScore float64 `gorm:"index"`

	SimpleTitle       string `gorm:"size:100"`
	SimpleDescription string `gorm:"size:300"`
	LLMProcessed      bool   `gorm:"index"`
	LLMProcessedAt    *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time `gorm:"index"`
}

func (VulnerabilityRow) TableName() string { return "vulnerabilities" }

// IngestionRunRow backs internal/model.IngestionRun.
type IngestionRunRow struct {
	ID           string `gorm:"primaryKey;size:36"`
	JobName      string `gorm:"index;size:64"`
	Source       string `gorm:"index;size:32"`
	Status       string `gorm:"index;size:16"`
	StartedAt    time.Time
	CompletedAt  *time.Time
	Fetched      int64
	Inserted     int64
	Updated      int64
	Failed       int64
	ErrorMessage string `gorm:"type:text"`
	ConfigJSON   string `gorm:"type:text"`
}

func (IngestionRunRow) TableName() string { return "ingestion_runs" }

// ArticleRow backs internal/model.Article.
type ArticleRow struct {
	ID             uint   `gorm:"primaryKey"`
	SourceID       string `gorm:"index;size:128"`
	Title          string `gorm:"size:500"`
	URL            string `gorm:"uniqueIndex;size:1000"`
	Author         string `gorm:"size:200"`
	Summary        string `gorm:"type:text"`
	PublishedAt    *time.Time `gorm:"index"`
	FetchedAt      time.Time
	CategoriesJSON string `gorm:"type:text"`
	RelatedCVEsJSON string `gorm:"type:text"`
	LLMSummary     string `gorm:"type:text"`
	LLMKeyPointsJSON string `gorm:"type:text"`
	LLMRelevance   string `gorm:"size:32"`
	LLMProcessed   bool   `gorm:"index"`
}

func (ArticleRow) TableName() string { return "news_articles" }

// NewsSourceRow backs internal/model.NewsSource.
type NewsSourceRow struct {
	ID              uint   `gorm:"primaryKey"`
	Name            string `gorm:"size:200"`
	FeedURL         string `gorm:"uniqueIndex;size:1000"`
	Active          bool   `gorm:"index"`
	FetchIntervalNs int64
	LastFetchedAt   *time.Time
	LastFetchStatus string `gorm:"size:32"`
	LastFetchError  string `gorm:"type:text"`
	TotalArticles   int64
}

func (NewsSourceRow) TableName() string { return "news_sources" }

// AllModels lists every row type for AutoMigrate.
func AllModels() []interface{} {
	return []interface{}{
		&VulnerabilityRow{}, &IngestionRunRow{}, &ArticleRow{}, &NewsSourceRow{},
	}
}
