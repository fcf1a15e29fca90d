package report

import "time"

// Comparison is the fingerprint set-diff between the current scan and the
// previous one, plus the severity-weighted change percentage.
type Comparison struct {
	NewFindings      []Finding `json:"new_findings"`
	ResolvedFindings []Finding `json:"resolved_findings"`
	PersistentCount  int       `json:"persistent_count"`
	PreviousTotal    int       `json:"previous_total"`
	ChangePercentage float64   `json:"change_percentage"`
}

// ScanReport is the aggregate handed to downstream email templating and
// the alarm evaluator. Immutable once constructed.
type ScanReport struct {
	ScanID           string          `json:"scan_id"`
	OrganizationName string          `json:"organization_name"`
	AccountName      string          `json:"account_name"`
	CloudProvider    string          `json:"cloud_provider"`
	ScanType         string          `json:"scan_type"`
	ExecutedAt       time.Time       `json:"executed_at"`
	IsFirstScan      bool            `json:"is_first_scan"`
	Summary          SeveritySummary `json:"summary"`
	Comparison       *Comparison     `json:"comparison,omitempty"`
}

// weightedScore sums the per-severity weight over a finding set.
func weightedScore(findings []Finding) int {
	total := 0
	for i := range findings {
		total += findings[i].Severity.Weight()
	}
	return total
}

// CompareFindings diffs the current finding set against the previous one by
// fingerprint membership. A finding with an empty fingerprint cannot be
// correlated: it is always new and never matches a previous finding, rather
// than failing the whole report.
//
// The result is a pure function of set membership: input order never affects
// the diff or the change percentage.
func CompareFindings(current, previous []Finding) Comparison {
	prevSet := make(map[string]struct{}, len(previous))
	for i := range previous {
		if fp := previous[i].Fingerprint; fp != "" {
			prevSet[fp] = struct{}{}
		}
	}
	curSet := make(map[string]struct{}, len(current))
	for i := range current {
		if fp := current[i].Fingerprint; fp != "" {
			curSet[fp] = struct{}{}
		}
	}

	comparison := Comparison{
		NewFindings:      []Finding{},
		ResolvedFindings: []Finding{},
		PreviousTotal:    len(previous),
	}

	for i := range current {
		fp := current[i].Fingerprint
		if fp == "" {
			comparison.NewFindings = append(comparison.NewFindings, current[i])
			continue
		}
		if _, ok := prevSet[fp]; !ok {
			comparison.NewFindings = append(comparison.NewFindings, current[i])
		}
	}
	for i := range previous {
		fp := previous[i].Fingerprint
		if fp == "" {
			continue
		}
		if _, ok := curSet[fp]; !ok {
			comparison.ResolvedFindings = append(comparison.ResolvedFindings, previous[i])
		}
	}

	comparison.PersistentCount = len(current) - len(comparison.NewFindings)

	currentWeighted := weightedScore(current)
	previousWeighted := weightedScore(previous)
	denominator := previousWeighted
	if denominator < 1 {
		denominator = 1
	}
	comparison.ChangePercentage = float64(currentWeighted-previousWeighted) / float64(denominator) * 100

	return comparison
}
