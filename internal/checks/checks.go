// Package checks holds the per-service security checks the scan engine
// fans out over. Every check consults the resource cache before touching
// AWS, waits on the shared rate limiter, and retries transient failures.
package checks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/smithy-go"
	"golang.org/x/time/rate"

	"github.com/cloudvigil/cloudvigil/internal/awsclient"
	"github.com/cloudvigil/cloudvigil/internal/cache"
	"github.com/cloudvigil/cloudvigil/internal/parallel"
	"github.com/cloudvigil/cloudvigil/internal/report"
)

// Context carries the shared per-scan collaborators into a check run.
type Context struct {
	Factory   *awsclient.Factory
	Cache     *cache.ResourceCache
	Limiter   *rate.Limiter
	Region    string
	AccountID string

	RetryAttempts  int
	RetryBaseDelay time.Duration
}

// Check is one security rule for one AWS service. Run returns the findings
// it produced; a nil slice with a nil error means the account is clean (or
// the check is not applicable in this region).
type Check struct {
	ID      string
	Service awsclient.Service
	Title   string
	Run     func(ctx context.Context, sc *Context) ([]report.Finding, error)
}

// Registry returns every check grouped by service. The scan engine derives
// the applicable service set per region from these keys.
func Registry() map[awsclient.Service][]Check {
	return map[awsclient.Service][]Check{
		awsclient.ServiceEC2: {
			{ID: "ec2-open-security-group", Service: awsclient.ServiceEC2, Title: "Security group open to the world", Run: checkOpenSecurityGroups},
			{ID: "ec2-unencrypted-volume", Service: awsclient.ServiceEC2, Title: "EBS volume not encrypted", Run: checkUnencryptedVolumes},
		},
		awsclient.ServiceS3: {
			{ID: "s3-public-access-block", Service: awsclient.ServiceS3, Title: "Bucket without public access block", Run: checkBucketPublicAccessBlock},
			{ID: "s3-bucket-encryption", Service: awsclient.ServiceS3, Title: "Bucket without default encryption", Run: checkBucketEncryption},
		},
		awsclient.ServiceIAM: {
			{ID: "iam-root-mfa", Service: awsclient.ServiceIAM, Title: "Root account without MFA", Run: checkRootMFA},
			{ID: "iam-user-mfa", Service: awsclient.ServiceIAM, Title: "Console user without MFA", Run: checkUserMFA},
			{ID: "iam-password-policy", Service: awsclient.ServiceIAM, Title: "Weak or missing password policy", Run: checkPasswordPolicy},
		},
		awsclient.ServiceRDS: {
			{ID: "rds-unencrypted-storage", Service: awsclient.ServiceRDS, Title: "DB instance storage not encrypted", Run: checkRDSEncryption},
			{ID: "rds-publicly-accessible", Service: awsclient.ServiceRDS, Title: "DB instance publicly accessible", Run: checkRDSPublicAccess},
		},
		awsclient.ServiceCloudTrail: {
			{ID: "cloudtrail-multi-region", Service: awsclient.ServiceCloudTrail, Title: "No multi-region trail", Run: checkMultiRegionTrail},
		},
		awsclient.ServiceKMS: {
			{ID: "kms-key-rotation", Service: awsclient.ServiceKMS, Title: "Customer key rotation disabled", Run: checkKeyRotation},
		},
		awsclient.ServiceLambda: {
			{ID: "lambda-deprecated-runtime", Service: awsclient.ServiceLambda, Title: "Function on a deprecated runtime", Run: checkDeprecatedRuntimes},
		},
		awsclient.ServiceEKS: {
			{ID: "eks-public-endpoint", Service: awsclient.ServiceEKS, Title: "Cluster API endpoint public", Run: checkPublicClusterEndpoint},
		},
		awsclient.ServiceGuardDuty: {
			{ID: "guardduty-enabled", Service: awsclient.ServiceGuardDuty, Title: "GuardDuty not enabled", Run: checkGuardDutyEnabled},
		},
		awsclient.ServiceSecurityHub: {
			{ID: "securityhub-enabled", Service: awsclient.ServiceSecurityHub, Title: "Security Hub not enabled", Run: checkSecurityHubEnabled},
		},
	}
}

// ServicesWithChecks lists the services that have at least one check,
// split into regional and global sets.
func ServicesWithChecks() (regional, global []awsclient.Service) {
	for service := range Registry() {
		if service.IsGlobal() {
			global = append(global, service)
		} else {
			regional = append(regional, service)
		}
	}
	return regional, global
}

// fetchCached runs fetch through the resource cache under key, with rate
// limiting and retry applied on the miss path only: a cache hit costs no
// quota and no wait.
func fetchCached[T any](ctx context.Context, sc *Context, key string, fetch func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	raw, err := sc.Cache.Get(ctx, key, func(ctx context.Context) (interface{}, error) {
		return parallel.ExecuteWithRetry(ctx, func(ctx context.Context) (interface{}, error) {
			if sc.Limiter != nil {
				if err := sc.Limiter.Wait(ctx); err != nil {
					return nil, err
				}
			}
			return fetch(ctx)
		}, key, sc.RetryAttempts, sc.RetryBaseDelay)
	})
	if err != nil {
		return zero, err
	}
	value, ok := raw.(T)
	if !ok {
		return zero, fmt.Errorf("cache entry %s holds %T, want %T", key, raw, zero)
	}
	return value, nil
}

// absentConfig reports whether err is the service saying the requested
// configuration does not exist, which a check reads as a finding rather
// than a failure. Throttling, access denial and transport errors do not
// match, so they propagate into the retry and classification paths
// instead of being cached as an absent configuration.
func absentConfig(err error, codes ...string) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	for _, code := range codes {
		if apiErr.ErrorCode() == code {
			return true
		}
	}
	return false
}

// newFinding stamps the scan-invariant fields onto a finding.
func (sc *Context) newFinding(checkID, resourceID, resourceType, category string, severity report.Severity, title, description string, service awsclient.Service) report.Finding {
	region := sc.Region
	if service.IsGlobal() {
		region = "global"
	}
	return report.Finding{
		Fingerprint:  report.Fingerprint(sc.AccountID, region, checkID, resourceID),
		Severity:     severity,
		Title:        title,
		Description:  description,
		Service:      string(service),
		Region:       region,
		ResourceID:   resourceID,
		ResourceType: resourceType,
		Category:     category,
		CheckID:      checkID,
	}
}
