// Package awsauth resolves stored customer credentials into time-bound AWS
// credentials for one scan.
package awsauth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	ststypes "github.com/aws/aws-sdk-go-v2/service/sts/types"
)

// ErrCredentialsUnavailable means the stored record carries no usable
// credential material. Fatal for the entire scan.
var ErrCredentialsUnavailable = errors.New("no usable credential material")

// RoleAssumptionError wraps an STS assume-role failure (bad ARN, denied
// trust policy, wrong external ID). Fatal for that account's scan.
type RoleAssumptionError struct {
	RoleARN string
	Err     error
}

func (e *RoleAssumptionError) Error() string {
	return fmt.Sprintf("assuming role %s: %v", e.RoleARN, e.Err)
}

func (e *RoleAssumptionError) Unwrap() error { return e.Err }

// StoredCredential is the customer credential record as persisted by the
// surrounding application: either static keys or a role ARN with an
// optional external ID.
type StoredCredential struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	RoleARN         string
	ExternalID      string
}

// Resolved is the triple handed to the client factory.
type Resolved struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Expiration      time.Time
}

// Provider returns a static credentials provider over the resolved triple.
func (r Resolved) Provider() aws.CredentialsProvider {
	return credentials.NewStaticCredentialsProvider(r.AccessKeyID, r.SecretAccessKey, r.SessionToken)
}

// AssumeRoleAPI is the one STS operation the resolver needs. Satisfied by
// *sts.Client; tests inject a fake.
type AssumeRoleAPI interface {
	AssumeRole(ctx context.Context, params *sts.AssumeRoleInput, optFns ...func(*sts.Options)) (*sts.AssumeRoleOutput, error)
}

const (
	sessionDuration = time.Hour
	sessionPrefix   = "cloudvigil"
)

// Resolver resolves a stored credential once and caches the result for its
// own lifetime. One resolver belongs to one client factory and therefore to
// one scan: a new scan builds a new resolver so a role is re-assumed rather
// than reusing a session token past its lifetime.
type Resolver struct {
	mu     sync.Mutex
	cached *Resolved

	// newSTSClient is swappable in tests.
	newSTSClient func(cfg aws.Config) AssumeRoleAPI
}

// NewResolver creates a resolver backed by the real STS client.
func NewResolver() *Resolver {
	return &Resolver{
		newSTSClient: func(cfg aws.Config) AssumeRoleAPI {
			return sts.NewFromConfig(cfg)
		},
	}
}

// NewResolverWithSTS creates a resolver with an injected STS constructor.
func NewResolverWithSTS(newSTSClient func(cfg aws.Config) AssumeRoleAPI) *Resolver {
	return &Resolver{newSTSClient: newSTSClient}
}

// Resolve turns the stored credential into a resolved triple for region.
// Role ARNs are assumed for one hour with a timestamp-derived session name;
// static keys pass through unchanged. The result is cached: repeated calls
// within one scan are idempotent and cost no further STS traffic.
func (r *Resolver) Resolve(ctx context.Context, cred StoredCredential, region string) (Resolved, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cached != nil {
		return *r.cached, nil
	}

	resolved, err := r.resolve(ctx, cred, region)
	if err != nil {
		return Resolved{}, err
	}
	r.cached = &resolved
	return resolved, nil
}

func (r *Resolver) resolve(ctx context.Context, cred StoredCredential, region string) (Resolved, error) {
	switch {
	case cred.RoleARN != "":
		return r.assumeRole(ctx, cred, region)
	case cred.AccessKeyID != "" && cred.SecretAccessKey != "":
		return Resolved{
			AccessKeyID:     cred.AccessKeyID,
			SecretAccessKey: cred.SecretAccessKey,
			SessionToken:    cred.SessionToken,
		}, nil
	default:
		return Resolved{}, ErrCredentialsUnavailable
	}
}

func (r *Resolver) assumeRole(ctx context.Context, cred StoredCredential, region string) (Resolved, error) {
	baseCfg, err := r.baseConfig(ctx, cred, region)
	if err != nil {
		return Resolved{}, &RoleAssumptionError{RoleARN: cred.RoleARN, Err: err}
	}

	input := &sts.AssumeRoleInput{
		RoleArn:         aws.String(cred.RoleARN),
		RoleSessionName: aws.String(fmt.Sprintf("%s-%d", sessionPrefix, time.Now().Unix())),
		DurationSeconds: aws.Int32(int32(sessionDuration.Seconds())),
	}
	if cred.ExternalID != "" {
		input.ExternalId = aws.String(cred.ExternalID)
	}

	out, err := r.newSTSClient(baseCfg).AssumeRole(ctx, input)
	if err != nil {
		return Resolved{}, &RoleAssumptionError{RoleARN: cred.RoleARN, Err: err}
	}
	return resolvedFromSTS(out.Credentials)
}

// baseConfig is what the assume-role call itself authenticates with: the
// stored static keys when present, otherwise the ambient default chain.
func (r *Resolver) baseConfig(ctx context.Context, cred StoredCredential, region string) (aws.Config, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cred.AccessKeyID != "" && cred.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cred.AccessKeyID, cred.SecretAccessKey, cred.SessionToken)))
	}
	return config.LoadDefaultConfig(ctx, opts...)
}

func resolvedFromSTS(creds *ststypes.Credentials) (Resolved, error) {
	if creds == nil || creds.AccessKeyId == nil || creds.SecretAccessKey == nil {
		return Resolved{}, errors.New("sts returned no credentials")
	}
	resolved := Resolved{
		AccessKeyID:     aws.ToString(creds.AccessKeyId),
		SecretAccessKey: aws.ToString(creds.SecretAccessKey),
		SessionToken:    aws.ToString(creds.SessionToken),
	}
	if creds.Expiration != nil {
		resolved.Expiration = *creds.Expiration
	}
	return resolved, nil
}

// Reset drops the cached triple so the next Resolve performs a fresh
// resolution. Used between scans and in tests.
func (r *Resolver) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cached = nil
}
