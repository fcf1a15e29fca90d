package checks

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	rdstypes "github.com/aws/aws-sdk-go-v2/service/rds/types"

	"github.com/cloudvigil/cloudvigil/internal/awsclient"
	"github.com/cloudvigil/cloudvigil/internal/cache"
	"github.com/cloudvigil/cloudvigil/internal/report"
)

func describeDBInstances(ctx context.Context, sc *Context) ([]rdstypes.DBInstance, error) {
	client, err := awsclient.Client[*rds.Client](ctx, sc.Factory, awsclient.ServiceRDS, sc.Region)
	if err != nil {
		return nil, err
	}
	return fetchCached(ctx, sc, cache.Key("rds", sc.Region, "instances"),
		func(ctx context.Context) ([]rdstypes.DBInstance, error) {
			out, err := client.DescribeDBInstances(ctx, &rds.DescribeDBInstancesInput{})
			if err != nil {
				return nil, err
			}
			return out.DBInstances, nil
		})
}

func checkRDSEncryption(ctx context.Context, sc *Context) ([]report.Finding, error) {
	instances, err := describeDBInstances(ctx, sc)
	if err != nil {
		return nil, err
	}

	var findings []report.Finding
	for _, instance := range instances {
		if aws.ToBool(instance.StorageEncrypted) {
			continue
		}
		id := aws.ToString(instance.DBInstanceIdentifier)
		findings = append(findings, sc.newFinding(
			"rds-unencrypted-storage",
			id,
			"AWS::RDS::DBInstance",
			"encryption",
			report.SeverityHigh,
			"DB instance storage not encrypted",
			fmt.Sprintf("DB instance %s has storage encryption disabled", id),
			awsclient.ServiceRDS,
		))
	}
	return findings, nil
}

func checkRDSPublicAccess(ctx context.Context, sc *Context) ([]report.Finding, error) {
	instances, err := describeDBInstances(ctx, sc)
	if err != nil {
		return nil, err
	}

	var findings []report.Finding
	for _, instance := range instances {
		if !aws.ToBool(instance.PubliclyAccessible) {
			continue
		}
		id := aws.ToString(instance.DBInstanceIdentifier)
		findings = append(findings, sc.newFinding(
			"rds-publicly-accessible",
			id,
			"AWS::RDS::DBInstance",
			"network",
			report.SeverityCritical,
			"DB instance publicly accessible",
			fmt.Sprintf("DB instance %s is reachable from outside the VPC", id),
			awsclient.ServiceRDS,
		))
	}
	return findings, nil
}
