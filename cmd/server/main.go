// Package main wires the ingestion scheduler, the enrichment queue,
// and the read-side API into one process and runs them until a
// SIGINT/SIGTERM asks for a graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hoodinformatik/openthreat/internal/api"
	"github.com/hoodinformatik/openthreat/internal/cache"
	"github.com/hoodinformatik/openthreat/internal/config"
	"github.com/hoodinformatik/openthreat/internal/enrich"
	"github.com/hoodinformatik/openthreat/internal/logging"
	"github.com/hoodinformatik/openthreat/internal/ratelimit"
	"github.com/hoodinformatik/openthreat/internal/scheduler"
	"github.com/hoodinformatik/openthreat/internal/sources/cisakev"
	"github.com/hoodinformatik/openthreat/internal/sources/nvd"
	"github.com/hoodinformatik/openthreat/internal/sources/rss"
	"github.com/hoodinformatik/openthreat/internal/store"
)

const (
	shutdownTimeout = 10 * time.Second
	enrichInterval  = 5 * time.Minute
	enrichBatchSize = 25
)

func main() {
	cfg := config.Load()
	zl := logging.New(cfg.LogLevel, cfg.LogFile)
	log := logging.Component(zl, "main")

	s, err := store.Open(cfg.DatabaseURL, cfg.DBPoolSize())
	if err != nil {
		log.Fatal("failed to open store: %v", err)
	}
	defer s.Close()

	var c cache.Cache
	if redisCache, err := cache.New(cfg.RedisURL); err != nil {
		log.Warn("redis unavailable (%v), running with an in-process cache only", err)
		c = cache.NewMemoryCache()
	} else {
		c = redisCache
	}

	runStore, err := scheduler.OpenRunStore(cfg.CheckpointDBPath, c)
	if err != nil {
		log.Fatal("failed to open checkpoint store: %v", err)
	}
	defer runStore.Close()

	sched := registerJobs(cfg, s, c, runStore, log)
	sched.Start()
	defer sched.Stop()

	// No LLM endpoint is part of this service's documented environment —
	// the rule-based summarizer runs as both primary and fallback until
	// one is configured and swapped in via enrich.NewHTTPSummarizer.
	enrichQueue := enrich.New(s, c, enrich.RuleBasedSummarizer{}, logging.Component(zl, "enrich"))
	stopEnrich := runEnrichmentLoop(enrichQueue, log)
	defer close(stopEnrich)

	limiter := ratelimit.NewClientLimiter(cfg.RateLimitPerMinute, cfg.RateLimitPerHour, cfg.RateLimitWhitelist)
	router := api.NewRouter(s, c, limiter, cfg.AllowedOrigins, logging.Component(zl, "api"))

	httpServer := &http.Server{Addr: cfg.ListenAddr, Handler: router}
	go func() {
		log.Info("listening on %s", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error("server forced to shutdown: %v", err)
	}
}

// registerJobs builds the source clients and registers every
// ingestion/maintenance job the scheduler drives.
func registerJobs(cfg *config.Config, s *store.Store, c cache.Cache, runStore *scheduler.RunStore, log *logging.Logger) *scheduler.Scheduler {
	sched := scheduler.New(runStore, c, s, logging.Component(log.Raw(), "scheduler"), uint(cfg.WorkersPerInstance))

	nvdClient := nvd.New(cfg.NVDAPIKey, c)
	kevClient := cisakev.New()
	rssFetcher := rss.NewFetcher()

	mustRegister := func(name, spec string, timeout time.Duration, run scheduler.RunFunc) {
		if err := sched.Register(name, spec, timeout, run); err != nil {
			log.Error("failed to register job %s: %v", name, err)
		}
	}

	mustRegister("nvd.recent", "*/10 * * * *", 5*time.Minute, scheduler.NVDJob(nvdClient, s, true, 5))
	mustRegister("nvd.backfill", "0 */6 * * *", 30*time.Minute, scheduler.NVDJob(nvdClient, s, false, 20))
	mustRegister("cisa_kev.refresh", "0 * * * *", 5*time.Minute, scheduler.CISAKEVJob(kevClient, s))
	mustRegister("cache.refresh_stats", "*/5 * * * *", time.Minute, scheduler.CacheRefreshStatsJob(s, c, config.DefaultStatsTTL))

	if sources, err := s.ListSources(context.Background()); err == nil {
		feedURLs := make([]string, 0, len(sources))
		for _, src := range sources {
			if src.Active {
				feedURLs = append(feedURLs, src.FeedURL)
			}
		}
		if len(feedURLs) > 0 {
			mustRegister("rss.fetch_all", "*/15 * * * *", 10*time.Minute, scheduler.RSSFetchAllJob(rssFetcher, s, feedURLs))
		}
	} else {
		log.Warn("failed to load configured news sources, rss.fetch_all not registered: %v", err)
	}

	return sched
}

// runEnrichmentLoop ticks the enrichment queue on enrichInterval until
// the returned channel is closed.
func runEnrichmentLoop(q *enrich.Queue, log *logging.Logger) chan struct{} {
	stop := make(chan struct{})
	ticker := time.NewTicker(enrichInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
				result, err := q.Process(ctx, enrichBatchSize)
				cancel()
				if err != nil {
					log.Error("enrichment tick failed: %v", err)
					continue
				}
				log.Info("enrichment tick: selected=%d enriched=%d fallback=%d skipped=%d failed=%d",
					result.Selected, result.Enriched, result.Fallback, result.Skipped, result.Failed)
			}
		}
	}()
	return stop
}
