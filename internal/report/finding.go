package report

import (
	"crypto/sha256"
	"fmt"
	"strings"
	"time"
)

// Severity classifies how urgent a finding is.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// severityWeights are the fixed per-finding weights used when comparing
// the risk magnitude of two scans.
var severityWeights = map[Severity]int{
	SeverityCritical: 40,
	SeverityHigh:     25,
	SeverityMedium:   10,
	SeverityLow:      5,
}

// Weight returns the numeric weight for a severity. Unknown severities
// weigh zero.
func (s Severity) Weight() int {
	return severityWeights[s]
}

// Valid reports whether s is one of the known severity buckets.
func (s Severity) Valid() bool {
	_, ok := severityWeights[s]
	return ok
}

// Finding is one detected security issue for one resource. Findings are
// immutable after creation except for ResolvedAt, which is stamped when a
// prior finding disappears from the current scan.
type Finding struct {
	Fingerprint  string     `json:"fingerprint"`
	Severity     Severity   `json:"severity"`
	Title        string     `json:"title"`
	Description  string     `json:"description,omitempty"`
	Service      string     `json:"service"`
	Region       string     `json:"region"`
	ResourceID   string     `json:"resource_id,omitempty"`
	ResourceType string     `json:"resource_type,omitempty"`
	Category     string     `json:"category,omitempty"`
	CheckID      string     `json:"check_id"`
	ResolvedAt   *time.Time `json:"resolved_at,omitempty"`
}

// Active reports whether the finding is still open.
func (f *Finding) Active() bool {
	return f.ResolvedAt == nil
}

// Fingerprint derives the stable identity correlating the same underlying
// issue across scans of the same account. It must be deterministic for a
// given resource+rule combination regardless of when the scan ran.
func Fingerprint(accountID, region, checkID, resourceID string) string {
	composed := strings.Join([]string{accountID, region, checkID, resourceID}, "|")
	sum := sha256.Sum256([]byte(composed))
	return fmt.Sprintf("%x", sum[:16])
}

// SeveritySummary counts active findings by severity bucket.
type SeveritySummary struct {
	Critical int `json:"critical"`
	High     int `json:"high"`
	Medium   int `json:"medium"`
	Low      int `json:"low"`
	Total    int `json:"total"`
}

// CalculateSeveritySummary reduces a finding set to per-severity counts.
// Resolved findings are excluded from the active summary.
func CalculateSeveritySummary(findings []Finding) SeveritySummary {
	var s SeveritySummary
	for i := range findings {
		f := &findings[i]
		if !f.Active() {
			continue
		}
		switch f.Severity {
		case SeverityCritical:
			s.Critical++
		case SeverityHigh:
			s.High++
		case SeverityMedium:
			s.Medium++
		case SeverityLow:
			s.Low++
		default:
			continue
		}
		s.Total++
	}
	return s
}
