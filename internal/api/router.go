// Package api is the read-side HTTP surface: a Gin router exposing
// vulnerability, stats, and trending endpoints directly backed by the
// Store, rather than forwarding to a collaborator process over RPC.
package api

import (
	"os"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/hoodinformatik/openthreat/internal/cache"
	"github.com/hoodinformatik/openthreat/internal/logging"
	"github.com/hoodinformatik/openthreat/internal/ratelimit"
	"github.com/hoodinformatik/openthreat/internal/store"
)

// Server bundles everything a handler needs.
type Server struct {
	store   *store.Store
	cache   cache.Cache
	limiter *ratelimit.ClientLimiter
	log     *logging.Logger
}

// NewRouter builds the Gin engine: release mode, stderr-only logging,
// panic recovery, CORS restricted to allowedOrigins (or wide open if
// none configured), per-client rate limiting, and every read-side
// route.
func NewRouter(s *store.Store, c cache.Cache, limiter *ratelimit.ClientLimiter, allowedOrigins []string, log *logging.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	gin.DefaultWriter = os.Stderr
	gin.DefaultErrorWriter = os.Stderr

	router := gin.New()
	router.Use(gin.RecoveryWithWriter(os.Stderr))

	corsConfig := cors.DefaultConfig()
	if len(allowedOrigins) > 0 {
		corsConfig.AllowOrigins = allowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "OPTIONS"}
	router.Use(cors.New(corsConfig))

	srv := &Server{store: s, cache: c, limiter: limiter, log: log}
	router.Use(srv.rateLimitMiddleware())

	api := router.Group("/api")
	{
		api.GET("/health", srv.health)
		api.GET("/vulnerabilities", srv.listVulnerabilities)
		api.GET("/vulnerabilities/exploited", srv.listExploited)
		api.GET("/vulnerabilities/recent", srv.listRecent)
		api.GET("/vulnerabilities/:cve_id", srv.getVulnerability)
		api.GET("/vendors/:vendor/vulnerabilities", srv.listByVendor)
		api.GET("/search", srv.search)
		api.GET("/suggest", srv.suggest)
		api.GET("/stats", srv.stats)
		api.GET("/timeline", srv.timeline)
		api.GET("/top-vendors", srv.topVendors)
		api.GET("/severity-distribution", srv.severityDistribution)
		api.GET("/trending", srv.trending)
	}

	return router
}

func (s *Server) health(c *gin.Context) {
	c.JSON(200, gin.H{"status": "ok"})
}
