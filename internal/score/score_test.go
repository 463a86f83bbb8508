package score

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/hoodinformatik/openthreat/internal/model"
)

func TestComputeBoundary026(t *testing.T) {
	now := time.Now()
	published := now.Add(-40 * 24 * time.Hour) // outside both recency windows
	cvss := 6.5
	v := &model.Vulnerability{
		CVSSScore:          &cvss,
		Severity:           model.SeverityMedium,
		PublishedAt:        &published,
		ExploitedInTheWild: false,
	}
	// base_cvss = 0.65, recency = 0, exploit = 0 => 0.4*0.65 = 0.26
	assert.Equal(t, 0.26, Compute(v, now))
}

func TestComputeClampsToOne(t *testing.T) {
	now := time.Now()
	published := now
	cvss := 10.0
	v := &model.Vulnerability{
		CVSSScore:          &cvss,
		PublishedAt:        &published,
		ExploitedInTheWild: true,
	}
	assert.Equal(t, 1.0, Compute(v, now))
}

func TestComputeUsesSeverityWhenScoreAbsent(t *testing.T) {
	now := time.Now()
	v := &model.Vulnerability{Severity: model.SeverityCritical}
	assert.Equal(t, 0.4, Compute(v, now))
}

func TestComputeUnknownSeverityNoPublishDate(t *testing.T) {
	now := time.Now()
	v := &model.Vulnerability{Severity: model.SeverityUnknown}
	assert.Equal(t, 0.0, Compute(v, now))
}
