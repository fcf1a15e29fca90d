package parallel

import (
	"sync"
	"time"
)

// ServiceMetrics accumulates per-service-per-region scan telemetry across
// one or more invocations of the same service.
type ServiceMetrics struct {
	Duration  time.Duration
	Findings  int
	Errors    int
	ChecksRun int
}

// MetricsSummary is the cross-service rollup. TotalDuration takes the max
// across services, reflecting wall clock under parallel execution rather
// than a sum.
type MetricsSummary struct {
	TotalDuration   time.Duration
	TotalFindings   int
	TotalErrors     int
	TotalChecks     int
	ServicesScanned int
}

// MetricsCollector records metrics keyed by service:region. Scoped to one
// scan; construct a fresh collector per scan invocation instead of sharing
// process globals.
type MetricsCollector struct {
	mu       sync.Mutex
	services map[string]*ServiceMetrics
}

// NewMetricsCollector creates an empty collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		services: make(map[string]*ServiceMetrics),
	}
}

// Record accumulates one service-in-region result set onto the collector.
func (m *MetricsCollector) Record(service, region string, duration time.Duration, findings, errors, checksRun int) {
	key := service + ":" + region

	m.mu.Lock()
	defer m.mu.Unlock()

	sm, ok := m.services[key]
	if !ok {
		sm = &ServiceMetrics{}
		m.services[key] = sm
	}
	sm.Duration += duration
	sm.Findings += findings
	sm.Errors += errors
	sm.ChecksRun += checksRun
}

// Get returns a copy of the metrics for service:region, if recorded.
func (m *MetricsCollector) Get(service, region string) (ServiceMetrics, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sm, ok := m.services[service+":"+region]
	if !ok {
		return ServiceMetrics{}, false
	}
	return *sm, true
}

// GetMetricsSummary reduces the per-service metrics to scan totals.
func (m *MetricsCollector) GetMetricsSummary() MetricsSummary {
	m.mu.Lock()
	defer m.mu.Unlock()

	summary := MetricsSummary{ServicesScanned: len(m.services)}
	for _, sm := range m.services {
		if sm.Duration > summary.TotalDuration {
			summary.TotalDuration = sm.Duration
		}
		summary.TotalFindings += sm.Findings
		summary.TotalErrors += sm.Errors
		summary.TotalChecks += sm.ChecksRun
	}
	return summary
}

// Reset drops everything recorded so far.
func (m *MetricsCollector) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.services = make(map[string]*ServiceMetrics)
}
