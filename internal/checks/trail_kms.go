package checks

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudtrail"
	trailtypes "github.com/aws/aws-sdk-go-v2/service/cloudtrail/types"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	kmstypes "github.com/aws/aws-sdk-go-v2/service/kms/types"

	"github.com/cloudvigil/cloudvigil/internal/awsclient"
	"github.com/cloudvigil/cloudvigil/internal/cache"
	"github.com/cloudvigil/cloudvigil/internal/report"
)

func checkMultiRegionTrail(ctx context.Context, sc *Context) ([]report.Finding, error) {
	client, err := awsclient.Client[*cloudtrail.Client](ctx, sc.Factory, awsclient.ServiceCloudTrail, sc.Region)
	if err != nil {
		return nil, err
	}

	trails, err := fetchCached(ctx, sc, cache.Key("cloudtrail", sc.Region, "trails"),
		func(ctx context.Context) ([]trailtypes.Trail, error) {
			out, err := client.DescribeTrails(ctx, &cloudtrail.DescribeTrailsInput{})
			if err != nil {
				return nil, err
			}
			return out.TrailList, nil
		})
	if err != nil {
		return nil, err
	}

	for _, trail := range trails {
		if aws.ToBool(trail.IsMultiRegionTrail) {
			return nil, nil
		}
	}
	return []report.Finding{sc.newFinding(
		"cloudtrail-multi-region",
		sc.AccountID,
		"AWS::CloudTrail::Trail",
		"logging",
		report.SeverityHigh,
		"No multi-region trail",
		"No CloudTrail trail records API activity across all regions",
		awsclient.ServiceCloudTrail,
	)}, nil
}

func checkKeyRotation(ctx context.Context, sc *Context) ([]report.Finding, error) {
	client, err := awsclient.Client[*kms.Client](ctx, sc.Factory, awsclient.ServiceKMS, sc.Region)
	if err != nil {
		return nil, err
	}

	keys, err := fetchCached(ctx, sc, cache.Key("kms", sc.Region, "keys"),
		func(ctx context.Context) ([]kmstypes.KeyListEntry, error) {
			out, err := client.ListKeys(ctx, &kms.ListKeysInput{})
			if err != nil {
				return nil, err
			}
			return out.Keys, nil
		})
	if err != nil {
		return nil, err
	}

	var findings []report.Finding
	for _, key := range keys {
		keyID := aws.ToString(key.KeyId)

		metadata, err := fetchCached(ctx, sc, cache.Key("kms", sc.Region, "key", keyID),
			func(ctx context.Context) (*kmstypes.KeyMetadata, error) {
				out, err := client.DescribeKey(ctx, &kms.DescribeKeyInput{KeyId: aws.String(keyID)})
				if err != nil {
					return nil, err
				}
				return out.KeyMetadata, nil
			})
		if err != nil {
			return findings, err
		}
		// Rotation only applies to enabled customer-managed keys.
		if metadata == nil || metadata.KeyManager != kmstypes.KeyManagerTypeCustomer || !metadata.Enabled {
			continue
		}

		rotation, err := fetchCached(ctx, sc, cache.Key("kms", sc.Region, "key-rotation", keyID),
			func(ctx context.Context) (bool, error) {
				out, err := client.GetKeyRotationStatus(ctx, &kms.GetKeyRotationStatusInput{
					KeyId: aws.String(keyID),
				})
				if err != nil {
					return false, err
				}
				return out.KeyRotationEnabled, nil
			})
		if err != nil {
			return findings, err
		}
		if rotation {
			continue
		}
		findings = append(findings, sc.newFinding(
			"kms-key-rotation",
			keyID,
			"AWS::KMS::Key",
			"encryption",
			report.SeverityLow,
			"Customer key rotation disabled",
			fmt.Sprintf("KMS key %s does not rotate automatically", keyID),
			awsclient.ServiceKMS,
		))
	}
	return findings, nil
}
