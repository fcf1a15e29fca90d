package alarm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudvigil/cloudvigil/internal/report"
)

func reportWith(comparison *report.Comparison, first bool) *report.ScanReport {
	return &report.ScanReport{
		ScanID:      "scan-1",
		IsFirstScan: first,
		Comparison:  comparison,
	}
}

func TestNewCriticalFires(t *testing.T) {
	e := NewEvaluator(Thresholds{})
	r := reportWith(&report.Comparison{
		NewFindings: []report.Finding{
			{Fingerprint: "a", Severity: report.SeverityCritical},
			{Fingerprint: "b", Severity: report.SeverityLow},
		},
	}, false)

	conditions := e.Evaluate(r)

	require.NotEmpty(t, conditions)
	assert.Equal(t, ConditionNewCritical, conditions[0].Type)
	assert.Equal(t, PriorityHigh, conditions[0].Priority)
	assert.Contains(t, conditions[0].Message, "1 new critical")
}

func TestNewCriticalPriorityScalesWithCount(t *testing.T) {
	e := NewEvaluator(Thresholds{})
	r := reportWith(&report.Comparison{
		NewFindings: []report.Finding{
			{Fingerprint: "a", Severity: report.SeverityCritical},
			{Fingerprint: "b", Severity: report.SeverityCritical},
			{Fingerprint: "c", Severity: report.SeverityCritical},
		},
	}, false)

	conditions := e.Evaluate(r)

	require.NotEmpty(t, conditions)
	assert.Equal(t, PriorityUrgent, conditions[0].Priority)
}

func TestDegradationFiresAboveThreshold(t *testing.T) {
	e := NewEvaluator(Thresholds{})
	r := reportWith(&report.Comparison{ChangePercentage: 35.5}, false)

	conditions := e.Evaluate(r)

	require.Len(t, conditions, 1)
	assert.Equal(t, ConditionDegradation, conditions[0].Type)
}

func TestImprovementFiresBelowThreshold(t *testing.T) {
	e := NewEvaluator(Thresholds{})
	r := reportWith(&report.Comparison{ChangePercentage: -33.3}, false)

	conditions := e.Evaluate(r)

	require.Len(t, conditions, 1)
	assert.Equal(t, ConditionImprovement, conditions[0].Type)
	assert.Equal(t, PriorityInfo, conditions[0].Priority)
}

func TestSmallDriftFiresNothing(t *testing.T) {
	e := NewEvaluator(Thresholds{})
	r := reportWith(&report.Comparison{ChangePercentage: 5}, false)

	assert.Empty(t, e.Evaluate(r))
}

func TestMultipleConditionsCanFire(t *testing.T) {
	e := NewEvaluator(Thresholds{})
	r := reportWith(&report.Comparison{
		NewFindings:      []report.Finding{{Fingerprint: "a", Severity: report.SeverityCritical}},
		ChangePercentage: 60,
	}, false)

	conditions := e.Evaluate(r)

	require.Len(t, conditions, 2)
	assert.Equal(t, ConditionNewCritical, conditions[0].Type)
	assert.Equal(t, ConditionDegradation, conditions[1].Type)
}

func TestFirstScanEmitsNoAlarms(t *testing.T) {
	e := NewEvaluator(Thresholds{})
	r := reportWith(&report.Comparison{
		NewFindings:      []report.Finding{{Fingerprint: "a", Severity: report.SeverityCritical}},
		ChangePercentage: 500,
	}, true)

	assert.Empty(t, e.Evaluate(r))
}

func TestNilComparisonEmitsNoAlarms(t *testing.T) {
	e := NewEvaluator(Thresholds{})

	assert.Empty(t, e.Evaluate(reportWith(nil, false)))
	assert.Empty(t, e.Evaluate(nil))
}
