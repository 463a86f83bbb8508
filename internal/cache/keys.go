package cache

import "fmt"

// Key builders for the fixed cache-key vocabulary.

func DashboardStatsKey() string { return "dashboard:stats" }

func VulnCountKey(severity, exploited, sort string) string {
	return fmt.Sprintf("vuln:count:%s:%s:%s", severity, exploited, sort)
}

func RateWindowKey(scope, key, window string, bucket int64) string {
	return fmt.Sprintf("rate:%s:%s:%s:%d", scope, key, window, bucket)
}

// JobLockKey is the single-flight key a Scheduler dispatch acquires
// before running a named job with a given argument set.
func JobLockKey(jobName, argHash string) string {
	return fmt.Sprintf("lock:job:%s:%s", jobName, argHash)
}

// EnrichLockKey is the at-most-one-in-flight-per-CVE lock the
// Enrichment Queue acquires before calling the summarizer.
func EnrichLockKey(cveID string) string {
	return fmt.Sprintf("lock:enrich:%s", cveID)
}

// CheckpointKey mirrors a job's bbolt checkpoint into the cache for
// cross-instance visibility.
func CheckpointKey(jobName string) string {
	return fmt.Sprintf("checkpoint:%s", jobName)
}
