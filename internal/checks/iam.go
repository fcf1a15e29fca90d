package checks

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"

	"github.com/cloudvigil/cloudvigil/internal/awsclient"
	"github.com/cloudvigil/cloudvigil/internal/cache"
	"github.com/cloudvigil/cloudvigil/internal/report"
)

const minimumPasswordLength = 14

func iamClient(ctx context.Context, sc *Context) (*iam.Client, error) {
	return awsclient.Client[*iam.Client](ctx, sc.Factory, awsclient.ServiceIAM, sc.Region)
}

func checkRootMFA(ctx context.Context, sc *Context) ([]report.Finding, error) {
	client, err := iamClient(ctx, sc)
	if err != nil {
		return nil, err
	}

	summary, err := fetchCached(ctx, sc, cache.Key("iam", "global", "account-summary"),
		func(ctx context.Context) (map[string]int32, error) {
			out, err := client.GetAccountSummary(ctx, &iam.GetAccountSummaryInput{})
			if err != nil {
				return nil, err
			}
			return out.SummaryMap, nil
		})
	if err != nil {
		return nil, err
	}

	if summary["AccountMFAEnabled"] == 1 {
		return nil, nil
	}
	return []report.Finding{sc.newFinding(
		"iam-root-mfa",
		sc.AccountID,
		"AWS::IAM::RootAccount",
		"identity",
		report.SeverityCritical,
		"Root account without MFA",
		"The root account has no MFA device enabled",
		awsclient.ServiceIAM,
	)}, nil
}

func checkUserMFA(ctx context.Context, sc *Context) ([]report.Finding, error) {
	client, err := iamClient(ctx, sc)
	if err != nil {
		return nil, err
	}

	users, err := fetchCached(ctx, sc, cache.Key("iam", "global", "users"),
		func(ctx context.Context) ([]iamtypes.User, error) {
			out, err := client.ListUsers(ctx, &iam.ListUsersInput{})
			if err != nil {
				return nil, err
			}
			return out.Users, nil
		})
	if err != nil {
		return nil, err
	}

	var findings []report.Finding
	for _, user := range users {
		// Only console users need an MFA device.
		if user.PasswordLastUsed == nil {
			continue
		}
		name := aws.ToString(user.UserName)
		devices, err := fetchCached(ctx, sc, cache.Key("iam", "global", "mfa-devices", name),
			func(ctx context.Context) ([]iamtypes.MFADevice, error) {
				out, err := client.ListMFADevices(ctx, &iam.ListMFADevicesInput{
					UserName: aws.String(name),
				})
				if err != nil {
					return nil, err
				}
				return out.MFADevices, nil
			})
		if err != nil {
			return findings, err
		}
		if len(devices) > 0 {
			continue
		}
		findings = append(findings, sc.newFinding(
			"iam-user-mfa",
			name,
			"AWS::IAM::User",
			"identity",
			report.SeverityMedium,
			"Console user without MFA",
			fmt.Sprintf("IAM user %s signs in with a password but has no MFA device", name),
			awsclient.ServiceIAM,
		))
	}
	return findings, nil
}

func checkPasswordPolicy(ctx context.Context, sc *Context) ([]report.Finding, error) {
	client, err := iamClient(ctx, sc)
	if err != nil {
		return nil, err
	}

	policy, err := fetchCached(ctx, sc, cache.Key("iam", "global", "password-policy"),
		func(ctx context.Context) (*iamtypes.PasswordPolicy, error) {
			out, err := client.GetAccountPasswordPolicy(ctx, &iam.GetAccountPasswordPolicyInput{})
			if err != nil {
				// NoSuchEntity means the account never set one.
				if absentConfig(err, "NoSuchEntity", "NoSuchEntityException") {
					return nil, nil
				}
				return nil, err
			}
			return out.PasswordPolicy, nil
		})
	if err != nil {
		return nil, err
	}

	if policy == nil {
		return []report.Finding{sc.newFinding(
			"iam-password-policy",
			sc.AccountID,
			"AWS::IAM::AccountPasswordPolicy",
			"identity",
			report.SeverityMedium,
			"Weak or missing password policy",
			"The account has no custom password policy",
			awsclient.ServiceIAM,
		)}, nil
	}

	length := aws.ToInt32(policy.MinimumPasswordLength)
	if length >= minimumPasswordLength {
		return nil, nil
	}
	return []report.Finding{sc.newFinding(
		"iam-password-policy",
		sc.AccountID,
		"AWS::IAM::AccountPasswordPolicy",
		"identity",
		report.SeverityMedium,
		"Weak or missing password policy",
		fmt.Sprintf("Minimum password length is %d, below the required %d", length, minimumPasswordLength),
		awsclient.ServiceIAM,
	)}, nil
}
