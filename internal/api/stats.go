package api

import (
	"sort"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"

	"github.com/hoodinformatik/openthreat/internal/cache"
	"github.com/hoodinformatik/openthreat/internal/config"
	"github.com/hoodinformatik/openthreat/internal/store"
)

// statsFromCache returns the dashboard aggregate from the cache, or
// the zero value and false on a miss or decode failure.
func (s *Server) statsFromCache(c *gin.Context) (store.Stats, bool) {
	if s.cache == nil {
		return store.Stats{}, false
	}
	raw, err := s.cache.Get(c.Request.Context(), cache.DashboardStatsKey())
	if err != nil || raw == "" {
		return store.Stats{}, false
	}
	var st store.Stats
	if err := sonic.UnmarshalString(raw, &st); err != nil {
		return store.Stats{}, false
	}
	return st, true
}

func (s *Server) stats(c *gin.Context) {
	st, ok := s.statsFromCache(c)
	if !ok {
		var err error
		st, err = s.store.AggregateStats(c.Request.Context())
		if err != nil {
			s.log.Error("api: stats: %v", err)
			writeInternalErr(c)
			return
		}
		if s.cache != nil {
			if data, err := sonic.Marshal(st); err == nil {
				if err := s.cache.Set(c.Request.Context(), cache.DashboardStatsKey(), string(data), config.DefaultStatsTTL); err != nil {
					s.log.Warn("api: stats: cache write failed: %v", err)
				}
			}
		}
	}
	c.JSON(200, gin.H{
		"total":               st.Total,
		"by_severity":         st.BySeverity,
		"exploited_count":     st.ExploitedCount,
		"average_cvss":        st.AverageCVSS,
		"llm_processed_count": st.LLMProcessedCount,
	})
}

func (s *Server) timeline(c *gin.Context) {
	days := queryInt(c, "days", 30)
	if days < 1 || days > 365 {
		writeValidationErr(c, "days must be between 1 and 365")
		return
	}
	buckets, err := s.store.Timeline(c.Request.Context(), days)
	if err != nil {
		s.log.Error("api: timeline: %v", err)
		writeInternalErr(c)
		return
	}
	c.JSON(200, gin.H{"timeline": buckets})
}

func (s *Server) topVendors(c *gin.Context) {
	limit := queryInt(c, "limit", 20)
	vendors, err := s.store.TopVendors(c.Request.Context(), limit)
	if err != nil {
		s.log.Error("api: top vendors: %v", err)
		writeInternalErr(c)
		return
	}
	c.JSON(200, gin.H{"vendors": vendors})
}

var severityOrder = map[string]int{"CRITICAL": 0, "HIGH": 1, "MEDIUM": 2, "LOW": 3, "UNKNOWN": 4}

func (s *Server) severityDistribution(c *gin.Context) {
	st, err := s.store.AggregateStats(c.Request.Context())
	if err != nil {
		s.log.Error("api: severity distribution: %v", err)
		writeInternalErr(c)
		return
	}

	total := st.Total
	if total == 0 {
		total = 1
	}

	type entry struct {
		Severity   string  `json:"severity"`
		Count      int64   `json:"count"`
		Percentage float64 `json:"percentage"`
	}
	distribution := make([]entry, 0, len(st.BySeverity))
	for severity, count := range st.BySeverity {
		distribution = append(distribution, entry{
			Severity:   severity,
			Count:      count,
			Percentage: float64(count) / float64(total) * 100,
		})
	}
	sort.Slice(distribution, func(i, j int) bool {
		oi, oj := severityOrder[distribution[i].Severity], severityOrder[distribution[j].Severity]
		if oi != oj {
			return oi < oj
		}
		return distribution[i].Severity < distribution[j].Severity
	})

	c.JSON(200, gin.H{"distribution": distribution, "total": st.Total})
}

// trendingHotFallbackOnce gates the once-per-process Warn logged the
// first time trending(hot) degrades to priority-score ranking because
// no vote data is reachable from this service.
var trendingHotFallbackOnce sync.Once

func (s *Server) trending(c *gin.Context) {
	trendType := c.DefaultQuery("type", "top")
	if trendType != "hot" && trendType != "top" {
		writeValidationErr(c, "type must be hot or top")
		return
	}
	timeRange := c.DefaultQuery("time_range", "all_time")
	since, ok := rangeStart(timeRange)
	if !ok {
		writeValidationErr(c, "time_range must be one of today, this_week, this_month, all_time")
		return
	}

	if trendType == "hot" {
		trendingHotFallbackOnce.Do(func() {
			s.log.Warn("api: trending(hot) has no votes collaborator reachable, degrading to priority_score ranking")
		})
	}

	page, err := s.store.ListVulnerabilities(c.Request.Context(), storeFilterForTrending(since, queryInt(c, "page", 1), queryInt(c, "page_size", 20)))
	if err != nil {
		s.log.Error("api: trending: %v", err)
		writeInternalErr(c)
		return
	}
	writePage(c, page)
}

func storeFilterForTrending(since *time.Time, page, pageSize int) store.ListFilter {
	return store.ListFilter{
		PublishedAfter: since,
		Sort:           store.SortPriorityDesc,
		Page:           page,
		PageSize:       pageSize,
	}
}

func rangeStart(timeRange string) (*time.Time, bool) {
	now := time.Now()
	switch timeRange {
	case "today":
		t := now.AddDate(0, 0, -1)
		return &t, true
	case "this_week":
		t := now.AddDate(0, 0, -7)
		return &t, true
	case "this_month":
		t := now.AddDate(0, -1, 0)
		return &t, true
	case "all_time":
		return nil, true
	default:
		return nil, false
	}
}
