// Package sources holds record shapes shared with the Source Clients:
// FeedItem, which the RSS/Atom client returns, and the RawRecord and
// Cursor envelopes. The NVD, CISA KEV and RSS clients each expose their
// own Fetch signature and return their own typed values; none of them
// returns RawRecord or Cursor.
package sources

import "github.com/hoodinformatik/openthreat/internal/cve"

// RawRecord carries exactly one of its typed payload fields. No client
// or Normalizer function in this repository produces or consumes it;
// the Normalizer takes the typed NVD, KEV and feed values directly.
type RawRecord struct {
	NVDItem   *cve.CVEItem
	KEVRecord *cve.KEVRecord
	FeedItem  *FeedItem
}

// FeedItem is an RSS 2.0 / Atom entry already reduced to the fields
// the Normalizer needs, with HTML stripped from title/summary.
type FeedItem struct {
	Title       string
	URL         string
	Author      string
	Summary     string
	PublishedAt string // raw date string; caller parses with the three-grammar fallback
	Categories  []string
}

// Cursor is an opaque restart token. The clients do not use it: the
// NVD client has its own nvd.Cursor, and the KEV and RSS clients have
// no cursor.
type Cursor struct {
	Opaque string
}
