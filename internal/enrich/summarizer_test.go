package enrich

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRuleBasedSummarizerSynthesizesTitle(t *testing.T) {
	s := RuleBasedSummarizer{}
	out, err := s.Summarize(context.Background(), Input{
		CVEID:         "CVE-2024-1234",
		OriginalTitle: "Acme Widget issue",
		Description:   "A SQL injection vulnerability allows an attacker to execute arbitrary queries.",
		Severity:      "critical",
		Vendors:       []string{"Acme"},
		Products:      []string{"Widget"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Critical SQL Injection in Acme Widget", out.SimpleTitle)
}

func TestRuleBasedSummarizerDefaultsUnknownVendorProduct(t *testing.T) {
	s := RuleBasedSummarizer{}
	out, err := s.Summarize(context.Background(), Input{Description: "generic issue", Severity: "LOW"})
	require.NoError(t, err)
	assert.Contains(t, out.SimpleTitle, "Unknown Vendor")
	assert.Contains(t, out.SimpleTitle, "Unknown Product")
}

func TestRuleBasedSummarizerTitleNeverExceeds100Chars(t *testing.T) {
	s := RuleBasedSummarizer{}
	out, err := s.Summarize(context.Background(), Input{
		Severity: "high",
		Vendors:  []string{strings.Repeat("x", 60)},
		Products: []string{strings.Repeat("y", 60)},
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, len(out.SimpleTitle), 100)
}

func TestRuleBasedSummarizerTruncatesToTwoSentences(t *testing.T) {
	s := RuleBasedSummarizer{}
	out, err := s.Summarize(context.Background(), Input{
		Description: "First sentence here. Second sentence here. Third sentence should be dropped.",
	})
	require.NoError(t, err)
	assert.Equal(t, "First sentence here. Second sentence here.", out.SimpleDescription)
}

func TestRuleBasedSummarizerDescriptionNeverExceeds300Chars(t *testing.T) {
	s := RuleBasedSummarizer{}
	out, err := s.Summarize(context.Background(), Input{
		Description: strings.Repeat("a", 500) + ".",
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, len(out.SimpleDescription), 300)
}

func TestClassifyVulnTypeFallsBackToGeneric(t *testing.T) {
	assert.Equal(t, "Vulnerability", classifyVulnType("nothing special happened here"))
	assert.Equal(t, "Cross-Site Scripting", classifyVulnType("a reflected XSS bug"))
}
