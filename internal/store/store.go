package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/hoodinformatik/openthreat/internal/merge"
	"github.com/hoodinformatik/openthreat/internal/model"
)

// Store is the persistence layer, backed by GORM over PostgreSQL.
type Store struct {
	db *gorm.DB
}

// Open connects to Postgres, runs AutoMigrate, creates the pg_trgm
// extension and the trigram/composite indexes the search and list
// operations need, and sizes the connection pool from the caller's
// WORKERS_PER_INSTANCE/BACKEND_INSTANCES-derived figure.
func Open(dsn string, poolSize int) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("store: underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(poolSize)
	sqlDB.SetMaxIdleConns(poolSize / 2)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	if err := db.AutoMigrate(AllModels()...); err != nil {
		return nil, fmt.Errorf("store: automigrate: %w", err)
	}

	if err := applyIndexes(db); err != nil {
		return nil, fmt.Errorf("store: indexes: %w", err)
	}

	return &Store{db: db}, nil
}

// OpenSQLite backs lightweight test/smoke setups that don't need
// trigram search — the mattn/go-sqlite3 driver pair is kept in go.mod
// for exactly this purpose.
func OpenSQLite(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return nil, err
	}
	if path != ":memory:" {
		if err := applyOptimalPragmas(db); err != nil {
			return nil, err
		}
	}
	return &Store{db: db}, nil
}

func applyIndexes(db *gorm.DB) error {
	statements := []string{
		`CREATE EXTENSION IF NOT EXISTS pg_trgm`,
		`CREATE INDEX IF NOT EXISTS idx_vuln_cveid_trgm ON vulnerabilities USING GIN (cve_id gin_trgm_ops)`,
		`CREATE INDEX IF NOT EXISTS idx_vuln_title_trgm ON vulnerabilities USING GIN (title gin_trgm_ops)`,
		`CREATE INDEX IF NOT EXISTS idx_vuln_description_trgm ON vulnerabilities USING GIN (description gin_trgm_ops)`,
		`CREATE INDEX IF NOT EXISTS idx_vuln_severity_published ON vulnerabilities (severity, published_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_vuln_exploited_published ON vulnerabilities (exploited_in_the_wild, published_at DESC)`,
	}
	for _, stmt := range statements {
		if err := db.Exec(stmt).Error; err != nil {
			// Postgres-only statements (trigram extension/GIN indexes) are
			// skipped under the sqlite test driver, which doesn't support them.
			if db.Dialector.Name() != "postgres" {
				continue
			}
			return err
		}
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// UpsertVulnerability performs the Merger's read-modify-write inside a
// single transaction, row-locked via SELECT ... FOR UPDATE so
// concurrent writers for the same CVE ID serialize.
func (s *Store) UpsertVulnerability(ctx context.Context, incoming model.Vulnerability, now time.Time) (model.Vulnerability, merge.Outcome, error) {
	var result model.Vulnerability
	var outcome merge.Outcome

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row VulnerabilityRow
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("cve_id = ?", incoming.CVEID).First(&row).Error

		var existing *model.Vulnerability
		switch {
		case err == nil:
			v, mapErr := fromRow(&row)
			if mapErr != nil {
				return mapErr
			}
			existing = &v
		case err == gorm.ErrRecordNotFound:
			existing = nil
		default:
			return err
		}

		merged, out := merge.Merge(existing, incoming, now)
		outcome = out

		newRow, mapErr := toRow(&merged)
		if mapErr != nil {
			return mapErr
		}

		if existing == nil {
			if err := tx.Create(&newRow).Error; err != nil {
				return err
			}
		} else {
			newRow.ID = row.ID
			if err := tx.Save(&newRow).Error; err != nil {
				return err
			}
		}

		result = merged
		return nil
	})
	if err != nil {
		return model.Vulnerability{}, 0, err
	}
	return result, outcome, nil
}

// FindVulnerability performs a case-insensitive lookup by CVE ID.
func (s *Store) FindVulnerability(ctx context.Context, cveID string) (*model.Vulnerability, error) {
	var row VulnerabilityRow
	err := s.db.WithContext(ctx).Where("cve_id = ?", strings.ToUpper(cveID)).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	v, err := fromRow(&row)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// SortField is the closed enum ListVulnerabilities sorts by.
type SortField string

const (
	SortPublishedDesc SortField = "published_desc"
	SortPriorityDesc  SortField = "priority_desc"
	SortCVSSDesc      SortField = "cvss_desc"
	SortUpdatedDesc   SortField = "updated_desc"
)

// ListFilter carries every optional ListVulnerabilities predicate.
type ListFilter struct {
	Severity    string
	Exploited   *bool
	Vendor      string
	Product     string
	CWE         string
	CVSSMin     *float64
	CVSSMax     *float64
	PublishedAfter  *time.Time
	PublishedBefore *time.Time
	Sort     SortField
	Page     int
	PageSize int

	// KnownTotal, when set, skips the COUNT(*) query and uses this value
	// instead — populated by the API layer from a cache hit on
	// cache.VulnCountKey.
	KnownTotal *int64
}

// Page is the shared paginated-response envelope for every list-shaped
// read operation.
type Page struct {
	Total      int64
	Page       int
	PageSize   int
	TotalPages int
	Items      []model.Vulnerability
}

func (s *Store) ListVulnerabilities(ctx context.Context, f ListFilter) (Page, error) {
	q := s.db.WithContext(ctx).Model(&VulnerabilityRow{})
	q = applyFilter(q, f)

	var total int64
	if f.KnownTotal != nil {
		total = *f.KnownTotal
	} else if err := q.Count(&total).Error; err != nil {
		return Page{}, err
	}

	q = q.Order(orderClause(f.Sort))
	page, pageSize := normalizePaging(f.Page, f.PageSize)
	q = q.Offset((page - 1) * pageSize).Limit(pageSize)

	var rows []VulnerabilityRow
	if err := q.Find(&rows).Error; err != nil {
		return Page{}, err
	}

	items, err := fromRows(rows)
	if err != nil {
		return Page{}, err
	}

	return Page{
		Total: total, Page: page, PageSize: pageSize,
		TotalPages: totalPages(total, pageSize), Items: items,
	}, nil
}

// SearchVulnerabilities ranks by trigram similarity across
// cve_id/title/description (Postgres pg_trgm).
func (s *Store) SearchVulnerabilities(ctx context.Context, q string, page, pageSize int) (Page, error) {
	page, pageSize = normalizePaging(page, pageSize)

	base := s.db.WithContext(ctx).Model(&VulnerabilityRow{}).
		Where("cve_id % ? OR title % ? OR description % ?", q, q, q)

	var total int64
	if err := base.Count(&total).Error; err != nil {
		return Page{}, err
	}

	var rows []VulnerabilityRow
	err := base.
		Select("*, GREATEST(similarity(cve_id, ?), similarity(title, ?), similarity(description, ?)) AS rank", q, q, q).
		Order("rank DESC").
		Offset((page - 1) * pageSize).Limit(pageSize).
		Find(&rows).Error
	if err != nil {
		return Page{}, err
	}

	items, err := fromRows(rows)
	if err != nil {
		return Page{}, err
	}
	return Page{Total: total, Page: page, PageSize: pageSize, TotalPages: totalPages(total, pageSize), Items: items}, nil
}

// Suggest returns up to limit CVE IDs/titles matching a prefix or
// substring, for the autocomplete endpoint.
func (s *Store) Suggest(ctx context.Context, q string, limit int) ([]model.Vulnerability, error) {
	var rows []VulnerabilityRow
	like := "%" + q + "%"
	err := s.db.WithContext(ctx).
		Where("cve_id ILIKE ? OR title ILIKE ?", like, like).
		Order("priority_score DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return fromRows(rows)
}

// Stats is the AggregateStats response shape.
type Stats struct {
	Total              int64
	BySeverity         map[string]int64
	ExploitedCount     int64
	AverageCVSS        float64
	LLMProcessedCount  int64
}

func (s *Store) AggregateStats(ctx context.Context) (Stats, error) {
	var stats Stats
	stats.BySeverity = map[string]int64{}

	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return Stats{}, tx.Error
	}
	defer tx.Rollback()

	if err := tx.Model(&VulnerabilityRow{}).Count(&stats.Total).Error; err != nil {
		return Stats{}, err
	}

	type severityCount struct {
		Severity string
		Count    int64
	}
	var counts []severityCount
	if err := tx.Model(&VulnerabilityRow{}).
		Select("severity, count(*) as count").Group("severity").Find(&counts).Error; err != nil {
		return Stats{}, err
	}
	for _, c := range counts {
		stats.BySeverity[c.Severity] = c.Count
	}

	if err := tx.Model(&VulnerabilityRow{}).Where("exploited_in_the_wild = ?", true).
		Count(&stats.ExploitedCount).Error; err != nil {
		return Stats{}, err
	}

	var avg float64
	tx.Model(&VulnerabilityRow{}).Where("cvss_score IS NOT NULL").Select("AVG(cvss_score)").Scan(&avg)
	stats.AverageCVSS = avg

	if err := tx.Model(&VulnerabilityRow{}).Where("llm_processed = ?", true).
		Count(&stats.LLMProcessedCount).Error; err != nil {
		return Stats{}, err
	}

	return stats, nil
}

// TimelineBucket is one day's worth of timeline counts.
type TimelineBucket struct {
	Date  string
	Count int64
}

func (s *Store) Timeline(ctx context.Context, days int) ([]TimelineBucket, error) {
	var buckets []TimelineBucket
	err := s.db.WithContext(ctx).Model(&VulnerabilityRow{}).
		Select("to_char(published_at, 'YYYY-MM-DD') as date, count(*) as count").
		Where("published_at >= ?", time.Now().AddDate(0, 0, -days)).
		Group("date").Order("date").
		Find(&buckets).Error
	return buckets, err
}

func (s *Store) ListSources(ctx context.Context) ([]model.NewsSource, error) {
	var rows []NewsSourceRow
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]model.NewsSource, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.NewsSource{
			Name: r.Name, FeedURL: r.FeedURL, Active: r.Active,
			FetchInterval: time.Duration(r.FetchIntervalNs),
			LastFetchedAt: r.LastFetchedAt, LastFetchStatus: r.LastFetchStatus,
			LastFetchError: r.LastFetchError, TotalArticles: r.TotalArticles,
		})
	}
	return out, nil
}

func applyFilter(q *gorm.DB, f ListFilter) *gorm.DB {
	if f.Severity != "" {
		q = q.Where("severity = ?", strings.ToUpper(f.Severity))
	}
	if f.Exploited != nil {
		q = q.Where("exploited_in_the_wild = ?", *f.Exploited)
	}
	if f.Vendor != "" {
		q = q.Where("vendors_json ILIKE ?", "%"+f.Vendor+"%")
	}
	if f.Product != "" {
		q = q.Where("products_json ILIKE ?", "%"+f.Product+"%")
	}
	if f.CWE != "" {
		q = q.Where("cwe_ids_json ILIKE ?", "%"+f.CWE+"%")
	}
	if f.CVSSMin != nil {
		q = q.Where("cvss_score >= ?", *f.CVSSMin)
	}
	if f.CVSSMax != nil {
		q = q.Where("cvss_score <= ?", *f.CVSSMax)
	}
	if f.PublishedAfter != nil {
		q = q.Where("published_at >= ?", *f.PublishedAfter)
	}
	if f.PublishedBefore != nil {
		q = q.Where("published_at <= ?", *f.PublishedBefore)
	}
	return q
}

func orderClause(sort SortField) string {
	switch sort {
	case SortPriorityDesc:
		return "priority_score DESC"
	case SortCVSSDesc:
		return "cvss_score DESC NULLS LAST"
	case SortUpdatedDesc:
		return "updated_at DESC"
	default:
		return "published_at DESC NULLS LAST"
	}
}

func normalizePaging(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 200 {
		pageSize = 200
	}
	return page, pageSize
}

func totalPages(total int64, pageSize int) int {
	if pageSize == 0 {
		return 0
	}
	pages := int(total) / pageSize
	if int(total)%pageSize != 0 {
		pages++
	}
	return pages
}

func fromRows(rows []VulnerabilityRow) ([]model.Vulnerability, error) {
	out := make([]model.Vulnerability, 0, len(rows))
	for i := range rows {
		v, err := fromRow(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// UpsertArticle inserts an article, keyed by URL; a second sighting of
// the same URL is a no-op (news items aren't field-merged the way
// vulnerabilities are — the first copy wins).
func (s *Store) UpsertArticle(ctx context.Context, a model.Article) error {
	row, err := articleToRow(&a)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "url"}}, DoNothing: true}).
		Create(&row).Error
}

// ArticlePage is the paginated-response envelope for article listings.
type ArticlePage struct {
	Total      int64
	Page       int
	PageSize   int
	TotalPages int
	Items      []model.Article
}

// ListArticles returns recent articles, optionally filtered to those
// mentioning at least one related CVE.
func (s *Store) ListArticles(ctx context.Context, page, pageSize int, relatedOnly bool) (ArticlePage, error) {
	page, pageSize = normalizePaging(page, pageSize)
	q := s.db.WithContext(ctx).Model(&ArticleRow{})
	if relatedOnly {
		q = q.Where("related_cves_json != '' AND related_cves_json != 'null'")
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return ArticlePage{}, err
	}

	var rows []ArticleRow
	err := q.Order("published_at DESC NULLS LAST").
		Offset((page - 1) * pageSize).Limit(pageSize).
		Find(&rows).Error
	if err != nil {
		return ArticlePage{}, err
	}

	items := make([]model.Article, 0, len(rows))
	for i := range rows {
		a, err := articleFromRow(&rows[i])
		if err != nil {
			return ArticlePage{}, err
		}
		items = append(items, a)
	}

	return ArticlePage{
		Total: total, Page: page, PageSize: pageSize,
		TotalPages: totalPages(total, pageSize), Items: items,
	}, nil
}

// UpsertNewsSource registers or updates a configured feed's metadata.
func (s *Store) UpsertNewsSource(ctx context.Context, src model.NewsSource) error {
	row := NewsSourceRow{
		Name: src.Name, FeedURL: src.FeedURL, Active: src.Active,
		FetchIntervalNs: int64(src.FetchInterval),
		LastFetchedAt:   src.LastFetchedAt, LastFetchStatus: src.LastFetchStatus,
		LastFetchError: src.LastFetchError, TotalArticles: src.TotalArticles,
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "feed_url"}}, UpdateAll: true}).
		Create(&row).Error
}

// SelectForEnrichment returns up to limit unprocessed vulnerabilities
// ordered high-priority first: exploited-in-the-wild or CRITICAL or
// published within 7 days, then HIGH or published within 30 days,
// then everything else not yet processed — all ranked by
// priority_score within their tier.
func (s *Store) SelectForEnrichment(ctx context.Context, limit int) ([]model.Vulnerability, error) {
	var rows []VulnerabilityRow
	err := s.db.WithContext(ctx).
		Where("llm_processed = ?", false).
		Clauses(clause.OrderBy{Expression: clause.Expr{SQL: `
			CASE
				WHEN exploited_in_the_wild OR severity = 'CRITICAL' OR published_at >= ? THEN 0
				WHEN severity = 'HIGH' OR published_at >= ? THEN 1
				ELSE 2
			END ASC, priority_score DESC`, Vars: []interface{}{time.Now().AddDate(0, 0, -7), time.Now().AddDate(0, 0, -30)}}}).
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return fromRows(rows)
}

// MarkEnriched writes back a summarizer result (or fallback) and
// stamps the processed marker so the row drops out of future
// SelectForEnrichment batches.
func (s *Store) MarkEnriched(ctx context.Context, cveID, simpleTitle, simpleDescription string, fallback bool, now time.Time) error {
	updates := map[string]interface{}{
		"simple_title":       simpleTitle,
		"simple_description": simpleDescription,
		"llm_processed":      true,
		"llm_processed_at":   now,
	}
	if fallback {
		var row VulnerabilityRow
		if err := s.db.WithContext(ctx).Where("cve_id = ?", cveID).First(&row).Error; err != nil {
			return err
		}
		v, err := fromRow(&row)
		if err != nil {
			return err
		}
		if v.SourceTags == nil {
			v.SourceTags = map[model.Source]string{}
		}
		v.SourceTags["enrichment"] = "fallback"
		tagsJSON, err := marshalSourceTags(v.SourceTags)
		if err != nil {
			return err
		}
		updates["source_tags_json"] = tagsJSON
	}
	return s.db.WithContext(ctx).Model(&VulnerabilityRow{}).
		Where("cve_id = ?", cveID).Updates(updates).Error
}

// RecordFeedFetch updates a feed's last-fetch bookkeeping after a
// scheduler tick, success or failure.
func (s *Store) RecordFeedFetch(ctx context.Context, feedURL string, fetchedAt time.Time, status, fetchErr string, articleDelta int64) error {
	return s.db.WithContext(ctx).Model(&NewsSourceRow{}).
		Where("feed_url = ?", feedURL).
		Updates(map[string]interface{}{
			"last_fetched_at":   fetchedAt,
			"last_fetch_status": status,
			"last_fetch_error":  fetchErr,
			"total_articles":    gorm.Expr("total_articles + ?", articleDelta),
		}).Error
}

// VendorCount is one entry of the top-vendors ranking.
type VendorCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// TopVendors loads every row's vendor list and tallies counts in
// process, since vendors are stored as a JSON-text column rather than
// a normalized table — the same approach as counting a denormalized
// array column application-side instead of teaching SQL to unnest it.
func (s *Store) TopVendors(ctx context.Context, limit int) ([]VendorCount, error) {
	var rows []VulnerabilityRow
	if err := s.db.WithContext(ctx).Select("vendors_json").
		Where("vendors_json != '' AND vendors_json != 'null'").
		Find(&rows).Error; err != nil {
		return nil, err
	}

	counts := map[string]int{}
	for _, r := range rows {
		var vendors []string
		if r.VendorsJSON == "" {
			continue
		}
		if err := sonic.UnmarshalString(r.VendorsJSON, &vendors); err != nil {
			continue
		}
		for _, v := range vendors {
			if v == "" {
				continue
			}
			counts[v]++
		}
	}

	out := make([]VendorCount, 0, len(counts))
	for name, count := range counts {
		out = append(out, VendorCount{Name: name, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CreateIngestionRun opens the audit trail entry for one job tick,
// persisted alongside (not instead of) the scheduler's own bbolt
// checkpoint record, so a job's history is queryable over SQL.
func (s *Store) CreateIngestionRun(ctx context.Context, run model.IngestionRun) error {
	run.Status = model.RunRunning
	row, err := ingestionRunToRow(&run)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Create(&row).Error
}

// FinishIngestionRun finalizes a run started by CreateIngestionRun,
// recording its terminal status, record counts, and error message (if
// any).
func (s *Store) FinishIngestionRun(ctx context.Context, runID string, status model.IngestionRunStatus, counts model.IngestionRunCounts, errMsg string, completedAt time.Time) error {
	return s.db.WithContext(ctx).Model(&IngestionRunRow{}).
		Where("id = ?", runID).
		Updates(map[string]interface{}{
			"status":        string(status),
			"completed_at":  completedAt,
			"fetched":       counts.Fetched,
			"inserted":      counts.Inserted,
			"updated":       counts.Updated,
			"failed":        counts.Failed,
			"error_message": errMsg,
		}).Error
}

// ListIngestionRuns returns a job's most recent audit entries,
// newest first — the read-side surface backing observability into
// background ingestion failures.
func (s *Store) ListIngestionRuns(ctx context.Context, jobName string, limit int) ([]model.IngestionRun, error) {
	var rows []IngestionRunRow
	q := s.db.WithContext(ctx).Order("started_at DESC")
	if jobName != "" {
		q = q.Where("job_name = ?", jobName)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	runs := make([]model.IngestionRun, 0, len(rows))
	for i := range rows {
		run, err := ingestionRunFromRow(&rows[i])
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, nil
}
