// Package merge implements field-wise reconciliation of an incoming
// Vulnerability projection into an existing stored row. Grounded on
// original_source/Data_Sample_Connectors/deduplicator.py's
// source_priority ranking, generalized from a Python dict-merge into a
// typed Go merge over internal/model.Vulnerability.
package merge

import (
	"time"

	"github.com/hoodinformatik/openthreat/internal/model"
	"github.com/hoodinformatik/openthreat/internal/score"
)

// Outcome is the result sum type a single Merge call resolves to.
type Outcome int

const (
	Inserted Outcome = iota
	Updated
)

// sourceRank ranks provenance tags by source priority (lower is
// higher priority). Merge does not consult it: scalars are resolved by
// first-non-absent-wins whatever the arriving source; rankOf exposes
// the ranking.
var sourceRank = map[model.Source]int{
	model.SourceCISAKEV:     1,
	model.SourceNVD:         2,
	model.SourceEUCVESearch: 3,
	model.SourceBSICERT:     4,
	model.SourceRSS:         5,
}

// Merge reconciles incoming into existing (nil existing means first
// sight, i.e. an insert). The returned Vulnerability is the row to
// persist; outcome reports which branch was taken. now drives
// updated_at and the recomputed priority_score.
func Merge(existing *model.Vulnerability, incoming model.Vulnerability, now time.Time) (model.Vulnerability, Outcome) {
	if existing == nil {
		incoming.CreatedAt = now
		incoming.UpdatedAt = now
		incoming.PriorityScore = score.Compute(&incoming, now)
		return incoming, Inserted
	}

	merged := *existing

	merged.Title = firstNonEmpty(merged.Title, incoming.Title)
	merged.Description = firstNonEmpty(merged.Description, incoming.Description)
	merged.CVSSVector = firstNonEmpty(merged.CVSSVector, incoming.CVSSVector)
	if merged.CVSSScore == nil && incoming.CVSSScore != nil {
		merged.CVSSScore = incoming.CVSSScore
	}
	if merged.Severity == "" || merged.Severity == model.SeverityUnknown {
		if incoming.Severity != "" {
			merged.Severity = incoming.Severity
		}
	}

	if merged.PublishedAt == nil {
		merged.PublishedAt = incoming.PublishedAt
	}
	merged.ModifiedAt = laterOf(merged.ModifiedAt, incoming.ModifiedAt)

	merged.ExploitedInTheWild = merged.ExploitedInTheWild || incoming.ExploitedInTheWild

	if merged.CISADueDate == nil {
		merged.CISADueDate = incoming.CISADueDate
	}

	merged.CWEIDs = unionStrings(merged.CWEIDs, incoming.CWEIDs)
	merged.Vendors = unionStrings(merged.Vendors, incoming.Vendors)
	merged.Products = unionStrings(merged.Products, incoming.Products)
	merged.AffectedProducts = unionStrings(merged.AffectedProducts, incoming.AffectedProducts)

	merged.References = unionReferences(merged.References, incoming.References)

	merged.Sources = unionSources(merged.Sources, incoming.Sources)

	if merged.SourceTags == nil {
		merged.SourceTags = map[model.Source]string{}
	}
	for src, tag := range incoming.SourceTags {
		merged.SourceTags[src] = tag
	}

	merged.UpdatedAt = now
	merged.PriorityScore = score.Compute(&merged, now)

	return merged, Updated
}

func firstNonEmpty(existing, incoming string) string {
	if existing != "" {
		return existing
	}
	return incoming
}

func laterOf(a, b *time.Time) *time.Time {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case b.After(*a):
		return b
	default:
		return a
	}
}

func unionStrings(existing, incoming []string) []string {
	seen := make(map[string]struct{}, len(existing))
	out := append([]string(nil), existing...)
	for _, v := range existing {
		seen[v] = struct{}{}
	}
	for _, v := range incoming {
		if _, ok := seen[v]; !ok {
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	return out
}

func unionSources(existing, incoming []model.Source) []model.Source {
	seen := make(map[model.Source]struct{}, len(existing))
	out := append([]model.Source(nil), existing...)
	for _, v := range existing {
		seen[v] = struct{}{}
	}
	for _, v := range incoming {
		if _, ok := seen[v]; !ok {
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	return out
}

// unionReferences merges by URL; on collision the entry with more tags
// (richer metadata) wins.
func unionReferences(existing, incoming []model.Reference) []model.Reference {
	byURL := make(map[string]model.Reference, len(existing))
	order := make([]string, 0, len(existing))
	for _, r := range existing {
		byURL[r.URL] = r
		order = append(order, r.URL)
	}
	for _, r := range incoming {
		cur, ok := byURL[r.URL]
		if !ok {
			byURL[r.URL] = r
			order = append(order, r.URL)
			continue
		}
		if len(r.Tags) > len(cur.Tags) {
			byURL[r.URL] = r
		}
	}
	out := make([]model.Reference, 0, len(order))
	for _, u := range order {
		out = append(out, byURL[u])
	}
	return out
}

// rankOf exposes sourceRank for callers (e.g. logging) that want to
// order same-batch arrivals by priority without affecting scalar
// selection, which Merge already resolves via first-non-absent-wins.
func rankOf(s model.Source) int {
	if r, ok := sourceRank[s]; ok {
		return r
	}
	return len(sourceRank) + 1
}
