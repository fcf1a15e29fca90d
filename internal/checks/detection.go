package checks

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/guardduty"
	"github.com/aws/aws-sdk-go-v2/service/securityhub"

	"github.com/cloudvigil/cloudvigil/internal/awsclient"
	"github.com/cloudvigil/cloudvigil/internal/cache"
	"github.com/cloudvigil/cloudvigil/internal/report"
)

func checkGuardDutyEnabled(ctx context.Context, sc *Context) ([]report.Finding, error) {
	client, err := awsclient.Client[*guardduty.Client](ctx, sc.Factory, awsclient.ServiceGuardDuty, sc.Region)
	if err != nil {
		return nil, err
	}

	detectors, err := fetchCached(ctx, sc, cache.Key("guardduty", sc.Region, "detectors"),
		func(ctx context.Context) ([]string, error) {
			out, err := client.ListDetectors(ctx, &guardduty.ListDetectorsInput{})
			if err != nil {
				return nil, err
			}
			return out.DetectorIds, nil
		})
	if err != nil {
		return nil, err
	}

	if len(detectors) > 0 {
		return nil, nil
	}
	return []report.Finding{sc.newFinding(
		"guardduty-enabled",
		sc.Region,
		"AWS::GuardDuty::Detector",
		"detection",
		report.SeverityMedium,
		"GuardDuty not enabled",
		fmt.Sprintf("No GuardDuty detector exists in %s", sc.Region),
		awsclient.ServiceGuardDuty,
	)}, nil
}

func checkSecurityHubEnabled(ctx context.Context, sc *Context) ([]report.Finding, error) {
	client, err := awsclient.Client[*securityhub.Client](ctx, sc.Factory, awsclient.ServiceSecurityHub, sc.Region)
	if err != nil {
		return nil, err
	}

	enabled, err := fetchCached(ctx, sc, cache.Key("securityhub", sc.Region, "hub"),
		func(ctx context.Context) (bool, error) {
			// DescribeHub fails with InvalidAccessException when the hub was
			// never enabled in this region.
			_, err := client.DescribeHub(ctx, &securityhub.DescribeHubInput{})
			if err != nil {
				if absentConfig(err, "InvalidAccessException", "ResourceNotFoundException") {
					return false, nil
				}
				return false, err
			}
			return true, nil
		})
	if err != nil {
		return nil, err
	}

	if enabled {
		return nil, nil
	}
	return []report.Finding{sc.newFinding(
		"securityhub-enabled",
		sc.Region,
		"AWS::SecurityHub::Hub",
		"detection",
		report.SeverityLow,
		"Security Hub not enabled",
		fmt.Sprintf("Security Hub is not enabled in %s", sc.Region),
		awsclient.ServiceSecurityHub,
	)}, nil
}
