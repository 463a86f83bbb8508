package enrich

import (
	"context"
	"time"

	"github.com/hoodinformatik/openthreat/internal/cache"
	"github.com/hoodinformatik/openthreat/internal/logging"
	"github.com/hoodinformatik/openthreat/internal/model"
	"github.com/hoodinformatik/openthreat/internal/store"
)

// lockTTL bounds how long a single summarizer call may hold a CVE's
// enrichment lock before another worker is allowed to retry it — long
// enough for a slow model call, short enough that a crashed worker
// doesn't wedge the CVE out of rotation forever.
const lockTTL = 2 * time.Minute

// Queue selects unprocessed vulnerabilities and dispatches them to a
// Summarizer, falling back to RuleBasedSummarizer on any summarizer
// error so a flaky upstream model never blocks the write-back.
type Queue struct {
	store    *store.Store
	cache    cache.Cache
	primary  Summarizer
	fallback Summarizer
	log      *logging.Logger
}

// New builds a Queue. primary is tried first for every selected CVE;
// fallback runs only if primary returns an error.
func New(s *store.Store, c cache.Cache, primary Summarizer, log *logging.Logger) *Queue {
	return &Queue{store: s, cache: c, primary: primary, fallback: RuleBasedSummarizer{}, log: log}
}

// Result tallies one Process call's outcomes.
type Result struct {
	Selected int
	Enriched int
	Fallback int
	Skipped  int
	Failed   int
}

// Process selects up to batchSize unprocessed vulnerabilities and
// enriches each in turn, returning aggregate counts.
func (q *Queue) Process(ctx context.Context, batchSize int) (Result, error) {
	var result Result

	candidates, err := q.store.SelectForEnrichment(ctx, batchSize)
	if err != nil {
		return result, err
	}
	result.Selected = len(candidates)

	for _, v := range candidates {
		outcome := q.enrichOne(ctx, v)
		switch outcome {
		case outcomeEnriched:
			result.Enriched++
		case outcomeFallback:
			result.Fallback++
		case outcomeSkipped:
			result.Skipped++
		case outcomeFailed:
			result.Failed++
		}
	}
	return result, nil
}

type outcome int

const (
	outcomeEnriched outcome = iota
	outcomeFallback
	outcomeSkipped
	outcomeFailed
)

func (q *Queue) enrichOne(ctx context.Context, v model.Vulnerability) outcome {
	lockKey := cache.EnrichLockKey(v.CVEID)
	acquired, err := q.cache.SetNX(ctx, lockKey, "1", lockTTL)
	if err != nil {
		q.log.Warn("enrich: lock check failed for %s, proceeding without single-flight guard: %v", v.CVEID, err)
	} else if !acquired {
		return outcomeSkipped
	}
	if err == nil {
		defer func() { _ = q.cache.Del(ctx, lockKey) }()
	}

	in := toInput(v)

	out, summErr := q.primary.Summarize(ctx, in)
	fallback := false
	if summErr != nil {
		q.log.Warn("enrich: primary summarizer failed for %s, using fallback: %v", v.CVEID, summErr)
		out, summErr = q.fallback.Summarize(ctx, in)
		fallback = true
	}
	if summErr != nil {
		q.log.Error("enrich: fallback summarizer failed for %s: %v", v.CVEID, summErr)
		return outcomeFailed
	}

	if err := q.store.MarkEnriched(ctx, v.CVEID, out.SimpleTitle, out.SimpleDescription, fallback, time.Now()); err != nil {
		q.log.Error("enrich: write-back failed for %s: %v", v.CVEID, err)
		return outcomeFailed
	}

	if fallback {
		return outcomeFallback
	}
	return outcomeEnriched
}

func toInput(v model.Vulnerability) Input {
	return Input{
		CVEID: v.CVEID, OriginalTitle: v.Title, Description: v.Description,
		CVSSScore: v.CVSSScore, Severity: string(v.Severity),
		Vendors: v.Vendors, Products: v.Products, PublishedAt: v.PublishedAt,
	}
}
