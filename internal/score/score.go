// Package score computes the deterministic priority_score used to rank
// vulnerabilities across the read API and the enrichment queue's
// selection policy. Pure function, no I/O.
package score

import (
	"math"
	"time"

	"github.com/hoodinformatik/openthreat/internal/model"
)

var baseSeverityWeight = map[model.Severity]float64{
	model.SeverityCritical: 1.0,
	model.SeverityHigh:     0.7,
	model.SeverityMedium:   0.4,
	model.SeverityLow:      0.2,
	model.SeverityUnknown:  0.0,
}

// Compute derives the priority score for v as of now, per:
//
//	base_cvss = cvss_score/10 if present else severity weight table
//	recency   = 1.0 if age<=7d else 0.5 if age<=30d else 0.0 (absent => 0)
//	exploit   = 1.0 if exploited_in_the_wild else 0.0
//	score     = clamp(0.4*base_cvss + 0.2*recency + 0.4*exploit, 0, 1), rounded 3dp
func Compute(v *model.Vulnerability, now time.Time) float64 {
	baseCVSS := baseSeverityWeight[v.Severity]
	if v.CVSSScore != nil {
		baseCVSS = *v.CVSSScore / 10.0
	}

	recency := 0.0
	if v.PublishedAt != nil {
		age := now.Sub(*v.PublishedAt)
		switch {
		case age <= 7*24*time.Hour:
			recency = 1.0
		case age <= 30*24*time.Hour:
			recency = 0.5
		}
	}

	exploit := 0.0
	if v.ExploitedInTheWild {
		exploit = 1.0
	}

	raw := 0.4*baseCVSS + 0.2*recency + 0.4*exploit
	if raw < 0 {
		raw = 0
	}
	if raw > 1 {
		raw = 1
	}
	return math.Round(raw*1000) / 1000
}
