// Package scaling holds the in-process scaling policies that react to
// sustained scan-engine load. Policies live for the life of the process;
// evaluation mutates their lastTriggered stamp under cooldown control.
package scaling

import (
	"fmt"
	"sync"
	"time"
)

// Operator compares an aggregated metric value against a threshold.
type Operator string

const (
	OperatorGreaterThan    Operator = "gt"
	OperatorGreaterOrEqual Operator = "gte"
	OperatorLessThan       Operator = "lt"
	OperatorLessOrEqual    Operator = "lte"
)

// Aggregation collapses the samples inside a trigger's window.
type Aggregation string

const (
	AggregationAverage Aggregation = "avg"
	AggregationMax     Aggregation = "max"
	AggregationMin     Aggregation = "min"
	AggregationSum     Aggregation = "sum"
)

// ActionType names what a fired policy asks the host process to do.
type ActionType string

const (
	ActionScaleUp   ActionType = "scale_up"
	ActionScaleDown ActionType = "scale_down"
	ActionNotify    ActionType = "notify"
)

// Trigger fires when the aggregated metric over the trailing Duration
// satisfies Operator against Threshold.
type Trigger struct {
	Metric      string
	Operator    Operator
	Threshold   float64
	Duration    time.Duration
	Aggregation Aggregation
}

// Action is the adjustment a policy requests when any trigger fires.
type Action struct {
	Type       ActionType
	Target     string
	Adjustment int
}

// Policy groups triggers and actions for one resource type.
type Policy struct {
	ID             string
	ResourceType   string
	Triggers       []Trigger
	Actions        []Action
	CooldownPeriod time.Duration
	Enabled        bool
	LastTriggered  *time.Time
}

type sample struct {
	at    time.Time
	value float64
}

// Manager owns the process-wide policy set and the metric samples the
// triggers aggregate over.
type Manager struct {
	mu       sync.Mutex
	policies map[string]*Policy
	samples  map[string][]sample
	now      func() time.Time
}

// NewManager installs the given policies. Use DefaultPolicies for the
// static set created at startup.
func NewManager(policies []Policy) *Manager {
	m := &Manager{
		policies: make(map[string]*Policy, len(policies)),
		samples:  make(map[string][]sample),
		now:      time.Now,
	}
	for i := range policies {
		p := policies[i]
		m.policies[p.ID] = &p
	}
	return m
}

// DefaultPolicies is the static set installed at startup.
func DefaultPolicies() []Policy {
	return []Policy{
		{
			ID:           "scan-worker-scale-up",
			ResourceType: "scan_worker",
			Triggers: []Trigger{
				{Metric: "scan_queue_depth", Operator: OperatorGreaterThan, Threshold: 10, Duration: 5 * time.Minute, Aggregation: AggregationAverage},
				{Metric: "scan_duration_seconds", Operator: OperatorGreaterThan, Threshold: 600, Duration: 10 * time.Minute, Aggregation: AggregationMax},
			},
			Actions:        []Action{{Type: ActionScaleUp, Target: "scan_worker", Adjustment: 2}},
			CooldownPeriod: 10 * time.Minute,
			Enabled:        true,
		},
		{
			ID:           "scan-worker-scale-down",
			ResourceType: "scan_worker",
			Triggers: []Trigger{
				{Metric: "scan_queue_depth", Operator: OperatorLessThan, Threshold: 2, Duration: 15 * time.Minute, Aggregation: AggregationMax},
			},
			Actions:        []Action{{Type: ActionScaleDown, Target: "scan_worker", Adjustment: 1}},
			CooldownPeriod: 30 * time.Minute,
			Enabled:        true,
		},
		{
			ID:           "api-error-alert",
			ResourceType: "scan_worker",
			Triggers: []Trigger{
				{Metric: "aws_error_rate", Operator: OperatorGreaterOrEqual, Threshold: 0.25, Duration: 5 * time.Minute, Aggregation: AggregationAverage},
			},
			Actions:        []Action{{Type: ActionNotify, Target: "operators"}},
			CooldownPeriod: 15 * time.Minute,
			Enabled:        true,
		},
	}
}

// Record appends a metric sample. Samples older than the longest trigger
// window across all policies are pruned lazily on the next Evaluate.
func (m *Manager) Record(metric string, value float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples[metric] = append(m.samples[metric], sample{at: m.now(), value: value})
}

// Fired reports one policy firing: the trigger that tripped and the
// actions the policy requests.
type Fired struct {
	PolicyID string
	Trigger  Trigger
	Actions  []Action
}

// Evaluate checks every enabled policy against the recorded samples.
// A policy fires at most once per call, on its first satisfied trigger,
// and only if its cooldown has elapsed; firing stamps LastTriggered.
func (m *Manager) Evaluate() []Fired {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.pruneLocked(now)

	var fired []Fired
	for _, p := range m.policies {
		if !p.Enabled {
			continue
		}
		if p.LastTriggered != nil && now.Sub(*p.LastTriggered) < p.CooldownPeriod {
			continue
		}
		for _, t := range p.Triggers {
			value, ok := m.aggregateLocked(t, now)
			if !ok || !compare(t.Operator, value, t.Threshold) {
				continue
			}
			stamp := now
			p.LastTriggered = &stamp
			fired = append(fired, Fired{PolicyID: p.ID, Trigger: t, Actions: p.Actions})
			break
		}
	}
	return fired
}

// Policy returns a copy of the named policy.
func (m *Manager) Policy(id string) (Policy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.policies[id]
	if !ok {
		return Policy{}, fmt.Errorf("scaling policy %s not found", id)
	}
	return *p, nil
}

// SetEnabled toggles a policy without restarting the process.
func (m *Manager) SetEnabled(id string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.policies[id]
	if !ok {
		return fmt.Errorf("scaling policy %s not found", id)
	}
	p.Enabled = enabled
	return nil
}

func (m *Manager) aggregateLocked(t Trigger, now time.Time) (float64, bool) {
	cutoff := now.Add(-t.Duration)
	var values []float64
	for _, s := range m.samples[t.Metric] {
		if !s.at.Before(cutoff) {
			values = append(values, s.value)
		}
	}
	if len(values) == 0 {
		return 0, false
	}
	switch t.Aggregation {
	case AggregationSum:
		var sum float64
		for _, v := range values {
			sum += v
		}
		return sum, true
	case AggregationMax:
		max := values[0]
		for _, v := range values[1:] {
			if v > max {
				max = v
			}
		}
		return max, true
	case AggregationMin:
		min := values[0]
		for _, v := range values[1:] {
			if v < min {
				min = v
			}
		}
		return min, true
	default:
		var sum float64
		for _, v := range values {
			sum += v
		}
		return sum / float64(len(values)), true
	}
}

func (m *Manager) pruneLocked(now time.Time) {
	longest := time.Duration(0)
	for _, p := range m.policies {
		for _, t := range p.Triggers {
			if t.Duration > longest {
				longest = t.Duration
			}
		}
	}
	cutoff := now.Add(-longest)
	for metric, samples := range m.samples {
		kept := samples[:0]
		for _, s := range samples {
			if !s.at.Before(cutoff) {
				kept = append(kept, s)
			}
		}
		m.samples[metric] = kept
	}
}

func compare(op Operator, value, threshold float64) bool {
	switch op {
	case OperatorGreaterThan:
		return value > threshold
	case OperatorGreaterOrEqual:
		return value >= threshold
	case OperatorLessThan:
		return value < threshold
	case OperatorLessOrEqual:
		return value <= threshold
	default:
		return false
	}
}
