package parallel

import (
	"context"
	"log"
	"time"
)

// FanoutConfig carries the per-level ceilings and timing knobs for the
// region -> service -> check hierarchy.
type FanoutConfig struct {
	RegionConcurrency  int
	ServiceConcurrency int
	CheckConcurrency   int
	OperationTimeout   time.Duration
	RetryAttempts      int
	RetryBaseDelay     time.Duration
}

// DefaultFanoutConfig returns the standard ceilings: 5 regions, 10 services
// per region, 20 checks per service, 30s per operation.
func DefaultFanoutConfig() FanoutConfig {
	return FanoutConfig{
		RegionConcurrency:  DefaultRegionConcurrency,
		ServiceConcurrency: DefaultServiceConcurrency,
		CheckConcurrency:   DefaultCheckConcurrency,
		OperationTimeout:   DefaultOperationTimeout,
		RetryAttempts:      DefaultRetryAttempts,
		RetryBaseDelay:     DefaultRetryBaseDelay,
	}
}

// ExecuteRegions pools processor over regions at the region ceiling and
// flattens the per-region result slices into one list. Per-region failures
// are logged and captured, never fatal.
func ExecuteRegions[R any](ctx context.Context, regions []string, cfg FanoutConfig, processor func(ctx context.Context, region string) ([]R, error)) ([]R, []ItemError[interface{}], time.Duration) {
	res := ExecutePool(ctx, regions, processor, Options{
		Concurrency: cfg.RegionConcurrency,
		// Region-level work wraps a whole service fan-out; its budget is
		// the sum of its parts, not a single operation timeout.
		Timeout: regionBudget(cfg),
		OnError: func(err error, item interface{}) {
			log.Printf("region %v failed: %v", item, err)
		},
	})

	var flattened []R
	for _, batch := range res.Results {
		flattened = append(flattened, batch...)
	}
	return flattened, res.Errors, res.Duration
}

// ExecuteServices pools processor over services at the service ceiling,
// closing over the already-selected region.
func ExecuteServices[R any](ctx context.Context, services []string, region string, cfg FanoutConfig, processor func(ctx context.Context, service, region string) ([]R, error)) ([]R, []ItemError[interface{}], time.Duration) {
	res := ExecutePool(ctx, services, func(ctx context.Context, service string) ([]R, error) {
		return processor(ctx, service, region)
	}, Options{
		Concurrency: cfg.ServiceConcurrency,
		Timeout:     serviceBudget(cfg),
		OnError: func(err error, item interface{}) {
			log.Printf("service %v in %s failed: %v", item, region, err)
		},
	})

	var flattened []R
	for _, batch := range res.Results {
		flattened = append(flattened, batch...)
	}
	return flattened, res.Errors, res.Duration
}

// CheckFunc is one security check. A nil result with a nil error means the
// check was not applicable, which is not a failure.
type CheckFunc[R any] func(ctx context.Context) (*R, error)

// ExecuteChecks pools check functions at the check ceiling and filters out
// not-applicable results.
func ExecuteChecks[R any](ctx context.Context, checks []CheckFunc[R], cfg FanoutConfig) ([]R, []ItemError[interface{}], time.Duration) {
	res := ExecutePool(ctx, checks, func(ctx context.Context, check CheckFunc[R]) (*R, error) {
		return check(ctx)
	}, Options{
		Concurrency: cfg.CheckConcurrency,
		Timeout:     cfg.OperationTimeout,
	})

	var applicable []R
	for _, r := range res.Results {
		if r != nil {
			applicable = append(applicable, *r)
		}
	}
	return applicable, res.Errors, res.Duration
}

// serviceBudget bounds one service's check fan-out: enough for every check
// wave to run with retries without the service item timing out first.
func serviceBudget(cfg FanoutConfig) time.Duration {
	timeout := cfg.OperationTimeout
	if timeout <= 0 {
		timeout = DefaultOperationTimeout
	}
	return 10 * timeout
}

func regionBudget(cfg FanoutConfig) time.Duration {
	return 5 * serviceBudget(cfg)
}
