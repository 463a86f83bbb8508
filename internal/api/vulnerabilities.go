package api

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hoodinformatik/openthreat/internal/cache"
	"github.com/hoodinformatik/openthreat/internal/config"
	"github.com/hoodinformatik/openthreat/internal/normalize"
	"github.com/hoodinformatik/openthreat/internal/store"
)

func (s *Server) listVulnerabilities(c *gin.Context) {
	f := store.ListFilter{
		Severity: c.Query("severity"),
		Vendor:   c.Query("vendor"),
		Product:  c.Query("product"),
		CWE:      c.Query("cwe"),
		Sort:     store.SortField(c.DefaultQuery("sort", string(store.SortPublishedDesc))),
		Page:     queryInt(c, "page", 1),
		PageSize: queryInt(c, "page_size", 20),
	}
	if v := c.Query("exploited"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeValidationErr(c, "exploited must be true or false")
			return
		}
		f.Exploited = &b
	}
	if v := c.Query("cvss_min"); v != "" {
		n, err := strconv.ParseFloat(v, 64)
		if err != nil {
			writeValidationErr(c, "cvss_min must be numeric")
			return
		}
		f.CVSSMin = &n
	}
	if v := c.Query("cvss_max"); v != "" {
		n, err := strconv.ParseFloat(v, 64)
		if err != nil {
			writeValidationErr(c, "cvss_max must be numeric")
			return
		}
		f.CVSSMax = &n
	}

	// The count-memoization cache only shapes the unfiltered-by-extras
	// case (severity/exploited/sort) matching cache.VulnCountKey's
	// vocabulary; a vendor/product/cwe/cvss filter always recounts.
	memoizable := f.Vendor == "" && f.Product == "" && f.CWE == "" && f.CVSSMin == nil && f.CVSSMax == nil && f.PublishedAfter == nil && f.PublishedBefore == nil
	countKey := cache.VulnCountKey(f.Severity, exploitedKeyPart(f.Exploited), string(f.Sort))
	if memoizable {
		if cached, ok := s.cachedCount(c, countKey); ok {
			f.KnownTotal = &cached
		}
	}

	page, err := s.store.ListVulnerabilities(c.Request.Context(), f)
	if err != nil {
		s.log.Error("api: list vulnerabilities: %v", err)
		writeInternalErr(c)
		return
	}
	if memoizable && f.KnownTotal == nil && s.cache != nil {
		if err := s.cache.Set(c.Request.Context(), countKey, strconv.FormatInt(page.Total, 10), config.DefaultStatsTTL); err != nil {
			s.log.Warn("api: list vulnerabilities: count cache write failed: %v", err)
		}
	}
	writePage(c, page)
}

// cachedCount reads back a memoized COUNT(*) result, if present.
func (s *Server) cachedCount(c *gin.Context, key string) (int64, bool) {
	if s.cache == nil {
		return 0, false
	}
	raw, err := s.cache.Get(c.Request.Context(), key)
	if err != nil || raw == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// exploitedKeyPart renders the tri-state exploited filter as a stable
// cache-key fragment.
func exploitedKeyPart(b *bool) string {
	if b == nil {
		return "any"
	}
	if *b {
		return "true"
	}
	return "false"
}

func (s *Server) getVulnerability(c *gin.Context) {
	cveID := c.Param("cve_id")
	if !normalize.ValidCVEID(cveID) {
		writeValidationErr(c, "cve_id must match CVE-YYYY-NNNN...")
		return
	}
	v, err := s.store.FindVulnerability(c.Request.Context(), cveID)
	if err != nil {
		s.log.Error("api: get vulnerability %s: %v", cveID, err)
		writeInternalErr(c)
		return
	}
	if v == nil {
		writeNotFound(c, "no vulnerability with that CVE ID")
		return
	}
	c.JSON(200, v)
}

func (s *Server) listExploited(c *gin.Context) {
	exploited := true
	f := store.ListFilter{
		Exploited: &exploited,
		Sort:      store.SortPriorityDesc,
		Page:      queryInt(c, "page", 1),
		PageSize:  queryInt(c, "page_size", 20),
	}
	page, err := s.store.ListVulnerabilities(c.Request.Context(), f)
	if err != nil {
		s.log.Error("api: list exploited: %v", err)
		writeInternalErr(c)
		return
	}
	writePage(c, page)
}

func (s *Server) listRecent(c *gin.Context) {
	days := queryInt(c, "days", 7)
	if days < 1 || days > 365 {
		writeValidationErr(c, "days must be between 1 and 365")
		return
	}
	since := time.Now().AddDate(0, 0, -days)
	f := store.ListFilter{
		PublishedAfter: &since,
		Sort:           store.SortPublishedDesc,
		Page:           queryInt(c, "page", 1),
		PageSize:       queryInt(c, "page_size", 20),
	}
	page, err := s.store.ListVulnerabilities(c.Request.Context(), f)
	if err != nil {
		s.log.Error("api: list recent: %v", err)
		writeInternalErr(c)
		return
	}
	writePage(c, page)
}

func (s *Server) listByVendor(c *gin.Context) {
	vendor := c.Param("vendor")
	f := store.ListFilter{
		Vendor:   vendor,
		Sort:     store.SortPublishedDesc,
		Page:     queryInt(c, "page", 1),
		PageSize: queryInt(c, "page_size", 20),
	}
	page, err := s.store.ListVulnerabilities(c.Request.Context(), f)
	if err != nil {
		s.log.Error("api: list by vendor %s: %v", vendor, err)
		writeInternalErr(c)
		return
	}
	writePage(c, page)
}

// sqlKeywordChars rejects characters that have no business in a free-text
// search term but are the building blocks of a SQL injection attempt; the
// "--" comment sequence is rejected separately so that single hyphens (as
// in CVE IDs) stay searchable. The query reaches the database through
// parameterized GORM arguments either way, but rejecting these up front
// keeps obviously-malicious input from ever being logged or passed
// downstream.
const sqlKeywordChars = ";'\"\\"

func (s *Server) search(c *gin.Context) {
	q := c.Query("q")
	if len(q) < 2 || len(q) > 500 {
		writeValidationErr(c, "q must be between 2 and 500 characters")
		return
	}
	if strings.ContainsAny(q, sqlKeywordChars) || strings.Contains(q, "--") {
		writeValidationErr(c, "q contains disallowed characters")
		return
	}

	page, err := s.store.SearchVulnerabilities(c.Request.Context(), q, queryInt(c, "page", 1), queryInt(c, "page_size", 20))
	if err != nil {
		s.log.Error("api: search %q: %v", q, err)
		writeInternalErr(c)
		return
	}
	writePage(c, page)
}

func (s *Server) suggest(c *gin.Context) {
	q := c.Query("q")
	if len(q) < 2 {
		writeValidationErr(c, "q must be at least 2 characters")
		return
	}
	limit := queryInt(c, "limit", 10)
	items, err := s.store.Suggest(c.Request.Context(), q, limit)
	if err != nil {
		s.log.Error("api: suggest %q: %v", q, err)
		writeInternalErr(c)
		return
	}
	c.JSON(200, gin.H{"items": items})
}

func writePage(c *gin.Context, p store.Page) {
	c.JSON(200, listEnvelope{
		Total: p.Total, Page: p.Page, PageSize: p.PageSize,
		TotalPages: p.TotalPages, Items: p.Items,
	})
}

func queryInt(c *gin.Context, key string, fallback int) int {
	v := c.Query(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
