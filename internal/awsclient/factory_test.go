package awsclient

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	ststypes "github.com/aws/aws-sdk-go-v2/service/sts/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudvigil/cloudvigil/internal/awsauth"
)

func testFactory() *Factory {
	return NewFactory(awsauth.StoredCredential{
		AccessKeyID:     "AKIAEXAMPLE",
		SecretAccessKey: "secret",
	})
}

func TestGetClientMemoization(t *testing.T) {
	f := testFactory()
	ctx := context.Background()

	first, err := f.GetClient(ctx, ServiceEC2, "us-east-1")
	require.NoError(t, err)
	second, err := f.GetClient(ctx, ServiceEC2, "us-east-1")
	require.NoError(t, err)

	assert.Same(t, first, second, "same (service, region) must return the identical instance")

	other, err := f.GetClient(ctx, ServiceEC2, "us-west-2")
	require.NoError(t, err)
	assert.NotSame(t, first, other)
	assert.Equal(t, 2, f.ClientCount())
}

func TestGlobalServicesShareOneClient(t *testing.T) {
	f := testFactory()
	ctx := context.Background()

	east, err := f.GetClient(ctx, ServiceIAM, "us-east-1")
	require.NoError(t, err)
	west, err := f.GetClient(ctx, ServiceIAM, "us-west-2")
	require.NoError(t, err)

	assert.Same(t, east, west, "global services are keyed service:global")
	assert.Equal(t, 1, f.ClientCount())
}

func TestTypedClientAccessor(t *testing.T) {
	f := testFactory()
	ctx := context.Background()

	ec2Client, err := Client[*ec2.Client](ctx, f, ServiceEC2, "us-east-1")
	require.NoError(t, err)
	assert.NotNil(t, ec2Client)

	iamClient, err := Client[*iam.Client](ctx, f, ServiceIAM, "us-east-1")
	require.NoError(t, err)
	assert.NotNil(t, iamClient)

	s3Client, err := Client[*s3.Client](ctx, f, ServiceS3, "eu-west-1")
	require.NoError(t, err)
	assert.NotNil(t, s3Client)

	// Wrong type assertion surfaces as an error, not a panic.
	_, err = Client[*s3.Client](ctx, f, ServiceEC2, "us-east-1")
	assert.Error(t, err)
}

func TestUnsupportedService(t *testing.T) {
	f := testFactory()

	_, err := f.GetClient(context.Background(), Service("simpledb"), "us-east-1")

	assert.Error(t, err)
}

func TestCredentialFailureSurfaces(t *testing.T) {
	f := NewFactory(awsauth.StoredCredential{})

	_, err := f.GetClient(context.Background(), ServiceEC2, "us-east-1")

	assert.ErrorIs(t, err, awsauth.ErrCredentialsUnavailable)
}

func TestClearClients(t *testing.T) {
	f := testFactory()
	ctx := context.Background()

	first, err := f.GetClient(ctx, ServiceEC2, "us-east-1")
	require.NoError(t, err)

	f.ClearClients()
	assert.Zero(t, f.ClientCount())

	second, err := f.GetClient(ctx, ServiceEC2, "us-east-1")
	require.NoError(t, err)
	assert.NotSame(t, first, second)
}

func TestConstructorTableCoversEveryService(t *testing.T) {
	f := testFactory()
	ctx := context.Background()

	for _, service := range Supported() {
		client, err := f.GetClient(ctx, service, "us-east-1")
		require.NoError(t, err, string(service))
		assert.NotNil(t, client, string(service))
	}
	assert.GreaterOrEqual(t, len(Supported()), 30)
}

func TestGlobalServiceSet(t *testing.T) {
	assert.True(t, ServiceIAM.IsGlobal())
	assert.True(t, ServiceS3.IsGlobal())
	assert.True(t, ServiceCloudFront.IsGlobal())
	assert.True(t, ServiceRoute53.IsGlobal())
	assert.True(t, ServiceOrganizations.IsGlobal())
	assert.False(t, ServiceEC2.IsGlobal())
}

// Ensure the factory binds regional clients to the requested region and
// pins global clients to the global signing region.
func TestRegionalConfigBinding(t *testing.T) {
	f := testFactory()
	ctx := context.Background()

	regional, err := Client[*ec2.Client](ctx, f, ServiceEC2, "eu-central-1")
	require.NoError(t, err)
	assert.Equal(t, "eu-central-1", regional.Options().Region)

	global, err := Client[*iam.Client](ctx, f, ServiceIAM, "eu-central-1")
	require.NoError(t, err)
	assert.Equal(t, "us-east-1", global.Options().Region)
}

type staticAnswerSTS struct{}

func (staticAnswerSTS) AssumeRole(ctx context.Context, params *sts.AssumeRoleInput, optFns ...func(*sts.Options)) (*sts.AssumeRoleOutput, error) {
	exp := time.Now().Add(time.Hour)
	return &sts.AssumeRoleOutput{Credentials: &ststypes.Credentials{
		AccessKeyId:     aws.String("ASIAEXAMPLE"),
		SecretAccessKey: aws.String("secret"),
		SessionToken:    aws.String("token"),
		Expiration:      &exp,
	}}, nil
}

func TestGlobalClientResolvesAgainstCallerRegion(t *testing.T) {
	var resolveRegion string
	resolver := awsauth.NewResolverWithSTS(func(cfg aws.Config) awsauth.AssumeRoleAPI {
		resolveRegion = cfg.Region
		return staticAnswerSTS{}
	})
	f := NewFactoryWithResolver(awsauth.StoredCredential{
		AccessKeyID:     "AKIAEXAMPLE",
		SecretAccessKey: "secret",
		RoleARN:         "arn:aws:iam::123456789012:role/scanner",
	}, resolver)

	client, err := Client[*iam.Client](context.Background(), f, ServiceIAM, "eu-central-1")
	require.NoError(t, err)

	assert.Equal(t, "eu-central-1", resolveRegion,
		"role assumption runs against the scanned region's STS")
	assert.Equal(t, GlobalRegion, client.Options().Region,
		"the global client itself still signs in the global region")
}
