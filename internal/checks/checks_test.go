package checks

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudvigil/cloudvigil/internal/awsclient"
	"github.com/cloudvigil/cloudvigil/internal/cache"
	"github.com/cloudvigil/cloudvigil/internal/report"
)

func testContext() *Context {
	return &Context{
		Cache:          cache.NewResourceCache(time.Minute),
		Region:         "us-east-1",
		AccountID:      "123456789012",
		RetryAttempts:  3,
		RetryBaseDelay: time.Millisecond,
	}
}

func TestRegistryShape(t *testing.T) {
	registry := Registry()

	require.NotEmpty(t, registry)
	total := 0
	for service, serviceChecks := range registry {
		require.NotEmpty(t, serviceChecks, string(service))
		for _, check := range serviceChecks {
			assert.NotEmpty(t, check.ID)
			assert.Equal(t, service, check.Service)
			assert.NotNil(t, check.Run)
		}
		total += len(serviceChecks)
	}
	assert.GreaterOrEqual(t, total, 10)
}

func TestServicesWithChecksSplit(t *testing.T) {
	regional, global := ServicesWithChecks()

	assert.Contains(t, regional, awsclient.ServiceEC2)
	assert.Contains(t, regional, awsclient.ServiceRDS)
	assert.Contains(t, global, awsclient.ServiceIAM)
	assert.Contains(t, global, awsclient.ServiceS3)
	for _, s := range regional {
		assert.False(t, s.IsGlobal(), string(s))
	}
}

func TestFetchCachedServesSecondCallFromCache(t *testing.T) {
	sc := testContext()
	calls := 0

	for i := 0; i < 2; i++ {
		v, err := fetchCached(context.Background(), sc, "ec2:us-east-1:instances",
			func(ctx context.Context) ([]string, error) {
				calls++
				return []string{"i-123"}, nil
			})
		require.NoError(t, err)
		assert.Equal(t, []string{"i-123"}, v)
	}
	assert.Equal(t, 1, calls)
}

func TestFetchCachedRetriesTransientFailures(t *testing.T) {
	sc := testContext()
	calls := 0

	v, err := fetchCached(context.Background(), sc, "rds:us-east-1:instances",
		func(ctx context.Context) (string, error) {
			calls++
			if calls < 3 {
				return "", errors.New("Throttling: Rate exceeded")
			}
			return "ok", nil
		})

	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, 3, calls)
}

func TestFetchCachedErrorNotCached(t *testing.T) {
	sc := testContext()
	sc.RetryAttempts = 1
	calls := 0

	_, err := fetchCached(context.Background(), sc, "kms:us-east-1:keys",
		func(ctx context.Context) (int, error) {
			calls++
			return 0, errors.New("access denied")
		})
	require.Error(t, err)

	v, err := fetchCached(context.Background(), sc, "kms:us-east-1:keys",
		func(ctx context.Context) (int, error) {
			calls++
			return 7, nil
		})
	require.NoError(t, err)
	assert.Equal(t, 7, v)
	assert.Equal(t, 2, calls)
}

func TestAbsentConfigMatchesOnlyNotFoundCodes(t *testing.T) {
	notFound := &smithy.GenericAPIError{Code: "NoSuchPublicAccessBlockConfiguration", Message: "not found"}
	assert.True(t, absentConfig(notFound, "NoSuchPublicAccessBlockConfiguration"))

	wrapped := fmt.Errorf("operation error S3: GetPublicAccessBlock: %w", notFound)
	assert.True(t, absentConfig(wrapped, "NoSuchPublicAccessBlockConfiguration"))

	assert.True(t, absentConfig(
		&smithy.GenericAPIError{Code: "NoSuchEntity", Message: "no policy"},
		"NoSuchEntity", "NoSuchEntityException"))

	throttled := &smithy.GenericAPIError{Code: "Throttling", Message: "Rate exceeded"}
	assert.False(t, absentConfig(throttled, "NoSuchPublicAccessBlockConfiguration"),
		"a throttled call must not read as an absent configuration")

	denied := &smithy.GenericAPIError{Code: "AccessDenied", Message: "not authorized"}
	assert.False(t, absentConfig(denied, "NoSuchEntity", "NoSuchEntityException"))

	assert.False(t, absentConfig(errors.New("connection reset"), "NoSuchEntity"))
}

func TestNewFindingFingerprintStableAcrossScans(t *testing.T) {
	sc := testContext()

	f1 := sc.newFinding("ec2-open-security-group", "sg-123", "AWS::EC2::SecurityGroup",
		"network", report.SeverityCritical, "t", "d", awsclient.ServiceEC2)
	f2 := sc.newFinding("ec2-open-security-group", "sg-123", "AWS::EC2::SecurityGroup",
		"network", report.SeverityCritical, "t", "d", awsclient.ServiceEC2)

	assert.Equal(t, f1.Fingerprint, f2.Fingerprint)
	assert.Equal(t, "us-east-1", f1.Region)
	assert.Equal(t, "ec2", f1.Service)
}

func TestNewFindingGlobalServiceRegion(t *testing.T) {
	east := testContext()
	west := testContext()
	west.Region = "us-west-2"

	f1 := east.newFinding("iam-root-mfa", "123456789012", "AWS::IAM::RootAccount",
		"identity", report.SeverityCritical, "t", "d", awsclient.ServiceIAM)
	f2 := west.newFinding("iam-root-mfa", "123456789012", "AWS::IAM::RootAccount",
		"identity", report.SeverityCritical, "t", "d", awsclient.ServiceIAM)

	assert.Equal(t, "global", f1.Region)
	assert.Equal(t, f1.Fingerprint, f2.Fingerprint,
		"global findings must not duplicate per scanned region")
}
