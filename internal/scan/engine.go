// Package scan is the end-to-end orchestrator: it resolves credentials,
// fans out over regions, services and checks, persists findings in
// batches, diffs against the previous scan, and evaluates alarms.
package scan

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/cloudvigil/cloudvigil/internal/alarm"
	"github.com/cloudvigil/cloudvigil/internal/awsauth"
	"github.com/cloudvigil/cloudvigil/internal/awsclient"
	"github.com/cloudvigil/cloudvigil/internal/batch"
	"github.com/cloudvigil/cloudvigil/internal/cache"
	"github.com/cloudvigil/cloudvigil/internal/checks"
	"github.com/cloudvigil/cloudvigil/internal/config"
	"github.com/cloudvigil/cloudvigil/internal/parallel"
	"github.com/cloudvigil/cloudvigil/internal/report"
	"github.com/cloudvigil/cloudvigil/internal/scaling"
	"github.com/cloudvigil/cloudvigil/internal/store"
)

// Request is the inbound trigger payload. The engine does not care whether
// it arrived over HTTP, a queue, or a schedule.
type Request struct {
	OrganizationID string
	AccountID      string
	CloudProvider  string
	ScanType       string
	ScheduleID     string

	Credential awsauth.StoredCredential
	// Regions overrides the configured region list when non-empty.
	Regions []string
}

// Result is the engine's answer to a trigger.
type Result struct {
	Success      bool
	ScanID       string
	Report       *report.ScanReport
	Alarms       []alarm.Condition
	FailedChecks int
	Metrics      parallel.MetricsSummary
}

// Engine wires the subsystems together. One engine serves many scans.
type Engine struct {
	cfg       *config.Config
	store     store.Store
	cache     *cache.ResourceCache
	evaluator *alarm.Evaluator
	scaling   *scaling.Manager
	registry  map[awsclient.Service][]checks.Check

	newFactory func(cred awsauth.StoredCredential) *awsclient.Factory
}

// Option customizes an Engine.
type Option func(*Engine)

// WithRegistry substitutes the check registry.
func WithRegistry(registry map[awsclient.Service][]checks.Check) Option {
	return func(e *Engine) { e.registry = registry }
}

// WithFactoryFunc substitutes client-factory construction.
func WithFactoryFunc(fn func(cred awsauth.StoredCredential) *awsclient.Factory) Option {
	return func(e *Engine) { e.newFactory = fn }
}

// WithScalingManager shares a scaling manager with the host process.
func WithScalingManager(m *scaling.Manager) Option {
	return func(e *Engine) { e.scaling = m }
}

// NewEngine builds an engine over cfg and st.
func NewEngine(cfg *config.Config, st store.Store, opts ...Option) *Engine {
	e := &Engine{
		cfg:        cfg,
		store:      st,
		cache:      cache.NewResourceCache(cfg.Cache.TTL),
		evaluator:  alarm.NewEvaluator(alarm.Thresholds(cfg.Alarms)),
		scaling:    scaling.NewManager(scaling.DefaultPolicies()),
		registry:   checks.Registry(),
		newFactory: awsclient.NewFactory,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Cache exposes the engine's resource cache for invalidation hooks.
func (e *Engine) Cache() *cache.ResourceCache { return e.cache }

// RunScan executes one full scan. Credential failures are fatal; every
// other failure is captured per item and the scan completes best-effort.
func (e *Engine) RunScan(ctx context.Context, req Request) (*Result, error) {
	scanID := uuid.NewString()
	startedAt := time.Now()

	record := &store.ScanRecord{
		ID:             scanID,
		OrganizationID: req.OrganizationID,
		AccountID:      req.AccountID,
		CloudProvider:  req.CloudProvider,
		ScanType:       req.ScanType,
		Status:         store.StatusRunning,
		StartedAt:      startedAt,
	}
	if err := e.store.SaveScan(ctx, record); err != nil {
		return nil, fmt.Errorf("recording scan start: %w", err)
	}

	regions := req.Regions
	if len(regions) == 0 {
		regions = e.cfg.Regions
	}

	factory := e.newFactory(req.Credential)
	if err := e.verifyCredentials(ctx, factory, regions); err != nil {
		e.failScan(ctx, record, err)
		return nil, err
	}

	current, failedChecks, metrics := e.collect(ctx, factory, req, regions)

	rep, err := e.buildReport(ctx, scanID, req, current, startedAt)
	if err != nil {
		e.failScan(ctx, record, err)
		return nil, err
	}

	now := time.Now()
	record.Status = store.StatusCompleted
	record.CompletedAt = &now
	record.FindingsTotal = len(current)
	record.FailedChecks = failedChecks
	if err := e.store.SaveScan(ctx, record); err != nil {
		return nil, fmt.Errorf("recording scan completion: %w", err)
	}

	e.scaling.Record("scan_duration_seconds", now.Sub(startedAt).Seconds())
	if metrics.TotalChecks > 0 {
		e.scaling.Record("aws_error_rate", float64(metrics.TotalErrors)/float64(metrics.TotalChecks))
	}
	for _, fired := range e.scaling.Evaluate() {
		log.Printf("scaling policy %s fired on %s", fired.PolicyID, fired.Trigger.Metric)
	}

	return &Result{
		Success:      true,
		ScanID:       scanID,
		Report:       rep,
		Alarms:       e.evaluator.Evaluate(rep),
		FailedChecks: failedChecks,
		Metrics:      metrics,
	}, nil
}

// verifyCredentials forces credential resolution before any fan-out so a
// bad role or missing keys fails the scan up front instead of once per
// region.
func (e *Engine) verifyCredentials(ctx context.Context, factory *awsclient.Factory, regions []string) error {
	region := awsclient.GlobalRegion
	if len(regions) > 0 {
		region = regions[0]
	}
	if _, err := factory.GetClient(ctx, awsclient.ServiceSTS, region); err != nil {
		return fmt.Errorf("resolving scan credentials: %w", err)
	}
	return nil
}

// collect runs the three-level fan-out and streams findings into the store
// through the batch processor. Global services are scanned exactly once,
// outside the per-region loop.
func (e *Engine) collect(ctx context.Context, factory *awsclient.Factory, req Request, regions []string) ([]report.Finding, int, parallel.MetricsSummary) {
	fanCfg := e.fanoutConfig()
	limiter := rate.NewLimiter(rate.Limit(e.cfg.Scan.RateLimit), e.cfg.Scan.RateBurst)
	collector := parallel.NewMetricsCollector()
	var failed atomic.Int64

	regionalServices, globalServices := servicesOf(e.registry)

	runServices := func(ctx context.Context, services []string, region string) ([]report.Finding, error) {
		findings, errs, _ := parallel.ExecuteServices(ctx, services, region, fanCfg,
			func(ctx context.Context, service, region string) ([]report.Finding, error) {
				return e.runServiceChecks(ctx, factory, limiter, collector, &failed, fanCfg, awsclient.Service(service), region, req.AccountID)
			})
		failed.Add(int64(len(errs)))
		return findings, nil
	}

	var all []report.Finding

	if len(globalServices) > 0 {
		findings, _ := runServices(ctx, globalServices, awsclient.GlobalRegion)
		all = append(all, findings...)
	}

	regionFindings, regionErrs, _ := parallel.ExecuteRegions(ctx, regions, fanCfg,
		func(ctx context.Context, region string) ([]report.Finding, error) {
			return runServices(ctx, regionalServices, region)
		})
	failed.Add(int64(len(regionErrs)))
	all = append(all, regionFindings...)

	return all, int(failed.Load()), collector.GetMetricsSummary()
}

// runServiceChecks executes every check registered for one service in one
// region and records the service:region metrics.
func (e *Engine) runServiceChecks(ctx context.Context, factory *awsclient.Factory, limiter *rate.Limiter, collector *parallel.MetricsCollector, failed *atomic.Int64, fanCfg parallel.FanoutConfig, service awsclient.Service, region, accountID string) ([]report.Finding, error) {
	serviceChecks := e.registry[service]
	if len(serviceChecks) == 0 {
		return nil, nil
	}

	sc := &checks.Context{
		Factory:        factory,
		Cache:          e.cache,
		Limiter:        limiter,
		Region:         region,
		AccountID:      accountID,
		RetryAttempts:  fanCfg.RetryAttempts,
		RetryBaseDelay: fanCfg.RetryBaseDelay,
	}

	checkFuncs := make([]parallel.CheckFunc[[]report.Finding], 0, len(serviceChecks))
	for _, check := range serviceChecks {
		run := check.Run
		checkFuncs = append(checkFuncs, func(ctx context.Context) (*[]report.Finding, error) {
			findings, err := run(ctx, sc)
			if err != nil {
				return nil, err
			}
			if findings == nil {
				return nil, nil
			}
			return &findings, nil
		})
	}

	start := time.Now()
	batches, errs, _ := parallel.ExecuteChecks(ctx, checkFuncs, fanCfg)
	failed.Add(int64(len(errs)))
	for _, itemErr := range errs {
		svcErr := parallel.ClassifyError(string(service), "check", itemErr.Err)
		log.Printf("check failed in %s/%s: %s", service, region, svcErr.Message)
	}

	var findings []report.Finding
	for _, b := range batches {
		findings = append(findings, b...)
	}
	collector.Record(string(service), region, time.Since(start), len(findings), len(errs), len(checkFuncs))
	return findings, nil
}

// buildReport persists the current findings, diffs them against the most
// recent completed scan, stamps resolutions, and assembles the report.
func (e *Engine) buildReport(ctx context.Context, scanID string, req Request, current []report.Finding, executedAt time.Time) (*report.ScanReport, error) {
	processor := batch.NewProcessor(e.cfg.Scan.BatchSize, func(ctx context.Context, items []report.Finding) error {
		return e.store.CreateFindings(ctx, scanID, items)
	})
	if err := processor.AddMany(ctx, current); err != nil {
		return nil, fmt.Errorf("persisting findings: %w", err)
	}
	if err := processor.Flush(ctx); err != nil {
		return nil, fmt.Errorf("persisting findings: %w", err)
	}

	rep := &report.ScanReport{
		ScanID:           scanID,
		OrganizationName: req.OrganizationID,
		AccountName:      req.AccountID,
		CloudProvider:    req.CloudProvider,
		ScanType:         req.ScanType,
		ExecutedAt:       executedAt,
		Summary:          report.CalculateSeveritySummary(current),
	}

	previous, err := e.store.LatestCompletedScan(ctx, req.AccountID)
	if errors.Is(err, store.ErrNotFound) {
		rep.IsFirstScan = true
		return rep, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading previous scan: %w", err)
	}

	prevFindings, err := e.store.FindingsByScan(ctx, previous.ID)
	if err != nil {
		return nil, fmt.Errorf("loading previous findings: %w", err)
	}
	active := prevFindings[:0:0]
	for _, f := range prevFindings {
		if f.Active() {
			active = append(active, f)
		}
	}

	comparison := report.CompareFindings(current, active)
	rep.Comparison = &comparison

	if len(comparison.ResolvedFindings) > 0 {
		fingerprints := make([]string, 0, len(comparison.ResolvedFindings))
		for _, f := range comparison.ResolvedFindings {
			fingerprints = append(fingerprints, f.Fingerprint)
		}
		if err := e.store.ResolveFindings(ctx, previous.ID, fingerprints, time.Now()); err != nil {
			return nil, fmt.Errorf("resolving disappeared findings: %w", err)
		}
	}
	return rep, nil
}

func (e *Engine) failScan(ctx context.Context, record *store.ScanRecord, cause error) {
	now := time.Now()
	record.Status = store.StatusFailed
	record.CompletedAt = &now
	record.Error = cause.Error()
	if err := e.store.SaveScan(ctx, record); err != nil {
		log.Printf("recording scan failure for %s: %v", record.ID, err)
	}
}

func (e *Engine) fanoutConfig() parallel.FanoutConfig {
	cfg := parallel.FanoutConfig{
		RegionConcurrency:  e.cfg.Scan.RegionConcurrency,
		ServiceConcurrency: e.cfg.Scan.ServiceConcurrency,
		CheckConcurrency:   e.cfg.Scan.CheckConcurrency,
		OperationTimeout:   e.cfg.Scan.OperationTimeout,
		RetryAttempts:      e.cfg.Scan.RetryAttempts,
		RetryBaseDelay:     e.cfg.Scan.RetryBaseDelay,
	}
	def := parallel.DefaultFanoutConfig()
	if cfg.RegionConcurrency <= 0 {
		cfg.RegionConcurrency = def.RegionConcurrency
	}
	if cfg.ServiceConcurrency <= 0 {
		cfg.ServiceConcurrency = def.ServiceConcurrency
	}
	if cfg.CheckConcurrency <= 0 {
		cfg.CheckConcurrency = def.CheckConcurrency
	}
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = def.OperationTimeout
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = def.RetryAttempts
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = def.RetryBaseDelay
	}
	return cfg
}

func servicesOf(registry map[awsclient.Service][]checks.Check) (regional, global []string) {
	for service := range registry {
		if service.IsGlobal() {
			global = append(global, string(service))
		} else {
			regional = append(regional, string(service))
		}
	}
	return regional, global
}
