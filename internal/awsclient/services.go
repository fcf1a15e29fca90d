package awsclient

import (
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/acm"
	"github.com/aws/aws-sdk-go-v2/service/apigatewayv2"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront"
	"github.com/aws/aws-sdk-go-v2/service/cloudtrail"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/configservice"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	"github.com/aws/aws-sdk-go-v2/service/eks"
	"github.com/aws/aws-sdk-go-v2/service/elasticache"
	"github.com/aws/aws-sdk-go-v2/service/elasticloadbalancing"
	"github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	"github.com/aws/aws-sdk-go-v2/service/glue"
	"github.com/aws/aws-sdk-go-v2/service/guardduty"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/kinesis"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/organizations"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	"github.com/aws/aws-sdk-go-v2/service/redshift"
	"github.com/aws/aws-sdk-go-v2/service/route53"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/securityhub"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// Service tags the AWS services the factory can provision.
type Service string

const (
	ServiceACM            Service = "acm"
	ServiceAPIGatewayV2   Service = "apigatewayv2"
	ServiceAutoScaling    Service = "autoscaling"
	ServiceCloudFormation Service = "cloudformation"
	ServiceCloudFront     Service = "cloudfront"
	ServiceCloudTrail     Service = "cloudtrail"
	ServiceCloudWatch     Service = "cloudwatch"
	ServiceConfig         Service = "configservice"
	ServiceDynamoDB       Service = "dynamodb"
	ServiceEC2            Service = "ec2"
	ServiceECS            Service = "ecs"
	ServiceEKS            Service = "eks"
	ServiceElastiCache    Service = "elasticache"
	ServiceELB            Service = "elasticloadbalancing"
	ServiceELBv2          Service = "elasticloadbalancingv2"
	ServiceGlue           Service = "glue"
	ServiceGuardDuty      Service = "guardduty"
	ServiceIAM            Service = "iam"
	ServiceKinesis        Service = "kinesis"
	ServiceKMS            Service = "kms"
	ServiceLambda         Service = "lambda"
	ServiceOrganizations  Service = "organizations"
	ServiceRDS            Service = "rds"
	ServiceRedshift       Service = "redshift"
	ServiceRoute53        Service = "route53"
	ServiceS3             Service = "s3"
	ServiceSecretsManager Service = "secretsmanager"
	ServiceSecurityHub    Service = "securityhub"
	ServiceSNS            Service = "sns"
	ServiceSQS            Service = "sqs"
	ServiceSSM            Service = "ssm"
	ServiceSTS            Service = "sts"
)

// constructor builds one service client from a region-bound config.
type constructor func(cfg aws.Config) interface{}

// constructors is the table the generic factory method dispatches on. One
// entry per service replaces what would otherwise be dozens of
// near-identical getXClient methods.
var constructors = map[Service]constructor{
	ServiceACM:            func(cfg aws.Config) interface{} { return acm.NewFromConfig(cfg) },
	ServiceAPIGatewayV2:   func(cfg aws.Config) interface{} { return apigatewayv2.NewFromConfig(cfg) },
	ServiceAutoScaling:    func(cfg aws.Config) interface{} { return autoscaling.NewFromConfig(cfg) },
	ServiceCloudFormation: func(cfg aws.Config) interface{} { return cloudformation.NewFromConfig(cfg) },
	ServiceCloudFront:     func(cfg aws.Config) interface{} { return cloudfront.NewFromConfig(cfg) },
	ServiceCloudTrail:     func(cfg aws.Config) interface{} { return cloudtrail.NewFromConfig(cfg) },
	ServiceCloudWatch:     func(cfg aws.Config) interface{} { return cloudwatch.NewFromConfig(cfg) },
	ServiceConfig:         func(cfg aws.Config) interface{} { return configservice.NewFromConfig(cfg) },
	ServiceDynamoDB:       func(cfg aws.Config) interface{} { return dynamodb.NewFromConfig(cfg) },
	ServiceEC2:            func(cfg aws.Config) interface{} { return ec2.NewFromConfig(cfg) },
	ServiceECS:            func(cfg aws.Config) interface{} { return ecs.NewFromConfig(cfg) },
	ServiceEKS:            func(cfg aws.Config) interface{} { return eks.NewFromConfig(cfg) },
	ServiceElastiCache:    func(cfg aws.Config) interface{} { return elasticache.NewFromConfig(cfg) },
	ServiceELB:            func(cfg aws.Config) interface{} { return elasticloadbalancing.NewFromConfig(cfg) },
	ServiceELBv2:          func(cfg aws.Config) interface{} { return elasticloadbalancingv2.NewFromConfig(cfg) },
	ServiceGlue:           func(cfg aws.Config) interface{} { return glue.NewFromConfig(cfg) },
	ServiceGuardDuty:      func(cfg aws.Config) interface{} { return guardduty.NewFromConfig(cfg) },
	ServiceIAM:            func(cfg aws.Config) interface{} { return iam.NewFromConfig(cfg) },
	ServiceKinesis:        func(cfg aws.Config) interface{} { return kinesis.NewFromConfig(cfg) },
	ServiceKMS:            func(cfg aws.Config) interface{} { return kms.NewFromConfig(cfg) },
	ServiceLambda:         func(cfg aws.Config) interface{} { return lambda.NewFromConfig(cfg) },
	ServiceOrganizations:  func(cfg aws.Config) interface{} { return organizations.NewFromConfig(cfg) },
	ServiceRDS:            func(cfg aws.Config) interface{} { return rds.NewFromConfig(cfg) },
	ServiceRedshift:       func(cfg aws.Config) interface{} { return redshift.NewFromConfig(cfg) },
	ServiceRoute53:        func(cfg aws.Config) interface{} { return route53.NewFromConfig(cfg) },
	ServiceS3:             func(cfg aws.Config) interface{} { return s3.NewFromConfig(cfg) },
	ServiceSecretsManager: func(cfg aws.Config) interface{} { return secretsmanager.NewFromConfig(cfg) },
	ServiceSecurityHub:    func(cfg aws.Config) interface{} { return securityhub.NewFromConfig(cfg) },
	ServiceSNS:            func(cfg aws.Config) interface{} { return sns.NewFromConfig(cfg) },
	ServiceSQS:            func(cfg aws.Config) interface{} { return sqs.NewFromConfig(cfg) },
	ServiceSSM:            func(cfg aws.Config) interface{} { return ssm.NewFromConfig(cfg) },
	ServiceSTS:            func(cfg aws.Config) interface{} { return sts.NewFromConfig(cfg) },
}

// globalServices are memoized under service:global and pinned to the
// us-east-1 signing region regardless of the region being scanned.
var globalServices = map[Service]bool{
	ServiceIAM:           true,
	ServiceS3:            true,
	ServiceCloudFront:    true,
	ServiceRoute53:       true,
	ServiceOrganizations: true,
}

// IsGlobal reports whether the service is region-agnostic.
func (s Service) IsGlobal() bool {
	return globalServices[s]
}

// Supported lists every service the factory can construct.
func Supported() []Service {
	services := make([]Service, 0, len(constructors))
	for s := range constructors {
		services = append(services, s)
	}
	return services
}
