package checks

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/cloudvigil/cloudvigil/internal/awsclient"
	"github.com/cloudvigil/cloudvigil/internal/cache"
	"github.com/cloudvigil/cloudvigil/internal/report"
)

func listBuckets(ctx context.Context, sc *Context) ([]s3types.Bucket, *s3.Client, error) {
	client, err := awsclient.Client[*s3.Client](ctx, sc.Factory, awsclient.ServiceS3, sc.Region)
	if err != nil {
		return nil, nil, err
	}
	buckets, err := fetchCached(ctx, sc, cache.Key("s3", "global", "buckets"),
		func(ctx context.Context) ([]s3types.Bucket, error) {
			out, err := client.ListBuckets(ctx, &s3.ListBucketsInput{})
			if err != nil {
				return nil, err
			}
			return out.Buckets, nil
		})
	return buckets, client, err
}

func checkBucketPublicAccessBlock(ctx context.Context, sc *Context) ([]report.Finding, error) {
	buckets, client, err := listBuckets(ctx, sc)
	if err != nil {
		return nil, err
	}

	var findings []report.Finding
	for _, bucket := range buckets {
		name := aws.ToString(bucket.Name)
		blocked, err := fetchCached(ctx, sc, cache.Key("s3", "global", "public-access-block", name),
			func(ctx context.Context) (bool, error) {
				out, err := client.GetPublicAccessBlock(ctx, &s3.GetPublicAccessBlockInput{
					Bucket: aws.String(name),
				})
				if err != nil {
					// No configuration at all reads as an error from S3.
					if absentConfig(err, "NoSuchPublicAccessBlockConfiguration") {
						return false, nil
					}
					return false, err
				}
				cfg := out.PublicAccessBlockConfiguration
				return cfg != nil &&
					aws.ToBool(cfg.BlockPublicAcls) && aws.ToBool(cfg.BlockPublicPolicy) &&
					aws.ToBool(cfg.IgnorePublicAcls) && aws.ToBool(cfg.RestrictPublicBuckets), nil
			})
		if err != nil {
			return findings, err
		}
		if blocked {
			continue
		}
		findings = append(findings, sc.newFinding(
			"s3-public-access-block",
			name,
			"AWS::S3::Bucket",
			"access",
			report.SeverityHigh,
			"Bucket without public access block",
			fmt.Sprintf("Bucket %s does not block all public access", name),
			awsclient.ServiceS3,
		))
	}
	return findings, nil
}

func checkBucketEncryption(ctx context.Context, sc *Context) ([]report.Finding, error) {
	buckets, client, err := listBuckets(ctx, sc)
	if err != nil {
		return nil, err
	}

	var findings []report.Finding
	for _, bucket := range buckets {
		name := aws.ToString(bucket.Name)
		encrypted, err := fetchCached(ctx, sc, cache.Key("s3", "global", "encryption", name),
			func(ctx context.Context) (bool, error) {
				out, err := client.GetBucketEncryption(ctx, &s3.GetBucketEncryptionInput{
					Bucket: aws.String(name),
				})
				if err != nil {
					// ServerSideEncryptionConfigurationNotFoundError means no
					// default encryption.
					if absentConfig(err, "ServerSideEncryptionConfigurationNotFoundError") {
						return false, nil
					}
					return false, err
				}
				return out.ServerSideEncryptionConfiguration != nil &&
					len(out.ServerSideEncryptionConfiguration.Rules) > 0, nil
			})
		if err != nil {
			return findings, err
		}
		if encrypted {
			continue
		}
		findings = append(findings, sc.newFinding(
			"s3-bucket-encryption",
			name,
			"AWS::S3::Bucket",
			"encryption",
			report.SeverityMedium,
			"Bucket without default encryption",
			fmt.Sprintf("Bucket %s has no default server-side encryption", name),
			awsclient.ServiceS3,
		))
	}
	return findings, nil
}
