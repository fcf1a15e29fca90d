package report

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompareFindingsIdenticalSets(t *testing.T) {
	set := []Finding{
		{Fingerprint: "a", Severity: SeverityCritical},
		{Fingerprint: "b", Severity: SeverityLow},
		{Fingerprint: "c", Severity: SeverityMedium},
	}

	cmp := CompareFindings(set, set)

	assert.Empty(t, cmp.NewFindings)
	assert.Empty(t, cmp.ResolvedFindings)
	assert.Equal(t, 3, cmp.PersistentCount)
	assert.Equal(t, 3, cmp.PreviousTotal)
	assert.Equal(t, 0.0, cmp.ChangePercentage)
}

func TestCompareFindingsDiff(t *testing.T) {
	previous := []Finding{
		{Fingerprint: "a", Severity: SeverityCritical},
		{Fingerprint: "b", Severity: SeverityLow},
	}
	current := []Finding{
		{Fingerprint: "b", Severity: SeverityLow},
		{Fingerprint: "c", Severity: SeverityHigh},
	}

	cmp := CompareFindings(current, previous)

	require.Len(t, cmp.NewFindings, 1)
	assert.Equal(t, "c", cmp.NewFindings[0].Fingerprint)
	require.Len(t, cmp.ResolvedFindings, 1)
	assert.Equal(t, "a", cmp.ResolvedFindings[0].Fingerprint)
	assert.Equal(t, 1, cmp.PersistentCount)
	assert.Equal(t, 2, cmp.PreviousTotal)

	// Weighted previous = 40+5 = 45, current = 5+25 = 30.
	assert.InDelta(t, -33.33, cmp.ChangePercentage, 0.01)
}

func TestCompareFindingsOrderIndependent(t *testing.T) {
	previous := []Finding{
		{Fingerprint: "a", Severity: SeverityCritical},
		{Fingerprint: "b", Severity: SeverityLow},
	}
	current := []Finding{
		{Fingerprint: "c", Severity: SeverityHigh},
		{Fingerprint: "b", Severity: SeverityLow},
	}
	reversed := []Finding{
		{Fingerprint: "b", Severity: SeverityLow},
		{Fingerprint: "c", Severity: SeverityHigh},
	}

	cmp1 := CompareFindings(current, previous)
	cmp2 := CompareFindings(reversed, previous)

	assert.Equal(t, cmp1.ChangePercentage, cmp2.ChangePercentage)
	assert.Equal(t, cmp1.PersistentCount, cmp2.PersistentCount)
	assert.ElementsMatch(t, cmp1.NewFindings, cmp2.NewFindings)
}

func TestCompareFindingsEmptyPrevious(t *testing.T) {
	current := []Finding{
		{Fingerprint: "a", Severity: SeverityCritical},
	}

	cmp := CompareFindings(current, nil)

	assert.Len(t, cmp.NewFindings, 1)
	assert.Empty(t, cmp.ResolvedFindings)
	assert.Equal(t, 0, cmp.PreviousTotal)
	// Denominator clamps to 1: 40/1*100.
	assert.Equal(t, 4000.0, cmp.ChangePercentage)
}

func TestCompareFindingsMissingFingerprint(t *testing.T) {
	previous := []Finding{
		{Fingerprint: "", Severity: SeverityLow},
		{Fingerprint: "a", Severity: SeverityHigh},
	}
	current := []Finding{
		{Fingerprint: "", Severity: SeverityLow},
		{Fingerprint: "a", Severity: SeverityHigh},
	}

	cmp := CompareFindings(current, previous)

	// Uncorrelatable findings are always new, never matched or resolved.
	require.Len(t, cmp.NewFindings, 1)
	assert.Equal(t, "", cmp.NewFindings[0].Fingerprint)
	assert.Empty(t, cmp.ResolvedFindings)
	assert.Equal(t, 1, cmp.PersistentCount)
}

func TestCalculateSeveritySummary(t *testing.T) {
	now := time.Now()
	findings := []Finding{
		{Fingerprint: "a", Severity: SeverityCritical},
		{Fingerprint: "b", Severity: SeverityCritical},
		{Fingerprint: "c", Severity: SeverityHigh},
		{Fingerprint: "d", Severity: SeverityMedium},
		{Fingerprint: "e", Severity: SeverityLow},
		{Fingerprint: "f", Severity: SeverityLow, ResolvedAt: &now},
	}

	s := CalculateSeveritySummary(findings)

	assert.Equal(t, 2, s.Critical)
	assert.Equal(t, 1, s.High)
	assert.Equal(t, 1, s.Medium)
	assert.Equal(t, 1, s.Low)
	assert.Equal(t, 5, s.Total)
}

func TestFingerprintDeterministic(t *testing.T) {
	fp1 := Fingerprint("123456789012", "us-east-1", "ec2-open-sg", "sg-1234")
	fp2 := Fingerprint("123456789012", "us-east-1", "ec2-open-sg", "sg-1234")
	fp3 := Fingerprint("123456789012", "us-west-2", "ec2-open-sg", "sg-1234")

	assert.Equal(t, fp1, fp2)
	assert.NotEqual(t, fp1, fp3)
	assert.Len(t, fp1, 32)
}
