// Package alarm turns a computed scan report into the conditions that drive
// downstream notification.
package alarm

import (
	"fmt"

	"github.com/cloudvigil/cloudvigil/internal/report"
)

// ConditionType names a class of alarm.
type ConditionType string

const (
	ConditionNewCritical ConditionType = "new_critical"
	ConditionDegradation ConditionType = "degradation"
	ConditionImprovement ConditionType = "improvement"
)

// Priority levels; lower is more urgent.
const (
	PriorityUrgent = 1
	PriorityHigh   = 2
	PriorityMedium = 3
	PriorityInfo   = 4
)

// Condition is one alarm emitted for a report.
type Condition struct {
	Type     ConditionType `json:"type"`
	Priority int           `json:"priority"`
	Message  string        `json:"message"`
}

// Thresholds bound when weighted-risk drift fires an alarm.
type Thresholds struct {
	// DegradationPercent fires when changePercentage rises above it.
	DegradationPercent float64
	// ImprovementPercent fires when changePercentage falls below it.
	ImprovementPercent float64
	// UrgentCriticalCount escalates new_critical to the urgent priority.
	UrgentCriticalCount int
}

// DefaultThresholds matches the notification defaults of the SaaS layer.
func DefaultThresholds() Thresholds {
	return Thresholds{
		DegradationPercent:  20,
		ImprovementPercent:  -20,
		UrgentCriticalCount: 3,
	}
}

// Evaluator computes alarm conditions from scan reports.
type Evaluator struct {
	thresholds Thresholds
}

// NewEvaluator creates an evaluator; zero-value thresholds fall back to the
// defaults.
func NewEvaluator(thresholds Thresholds) *Evaluator {
	if thresholds == (Thresholds{}) {
		thresholds = DefaultThresholds()
	}
	return &Evaluator{thresholds: thresholds}
}

// Evaluate returns zero or more alarm conditions for a report. A first scan
// has nothing to diff against, so no comparison-based alarms fire; the
// report's IsFirstScan flag is what downstream messaging keys on instead.
func (e *Evaluator) Evaluate(r *report.ScanReport) []Condition {
	conditions := []Condition{}
	if r == nil || r.IsFirstScan || r.Comparison == nil {
		return conditions
	}

	if criticals := countCritical(r.Comparison.NewFindings); criticals > 0 {
		priority := PriorityHigh
		if criticals >= e.thresholds.UrgentCriticalCount {
			priority = PriorityUrgent
		}
		conditions = append(conditions, Condition{
			Type:     ConditionNewCritical,
			Priority: priority,
			Message:  fmt.Sprintf("%d new critical finding(s) detected", criticals),
		})
	}

	change := r.Comparison.ChangePercentage
	switch {
	case change > e.thresholds.DegradationPercent:
		conditions = append(conditions, Condition{
			Type:     ConditionDegradation,
			Priority: PriorityMedium,
			Message:  fmt.Sprintf("security posture degraded by %.1f%% since the previous scan", change),
		})
	case change < e.thresholds.ImprovementPercent:
		conditions = append(conditions, Condition{
			Type:     ConditionImprovement,
			Priority: PriorityInfo,
			Message:  fmt.Sprintf("security posture improved by %.1f%% since the previous scan", -change),
		})
	}

	return conditions
}

func countCritical(findings []report.Finding) int {
	count := 0
	for i := range findings {
		if findings[i].Severity == report.SeverityCritical {
			count++
		}
	}
	return count
}
