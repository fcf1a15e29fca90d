package checks

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eks"
	ekstypes "github.com/aws/aws-sdk-go-v2/service/eks/types"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"

	"github.com/cloudvigil/cloudvigil/internal/awsclient"
	"github.com/cloudvigil/cloudvigil/internal/cache"
	"github.com/cloudvigil/cloudvigil/internal/report"
)

// deprecatedRuntimes no longer receive security patches.
var deprecatedRuntimes = map[lambdatypes.Runtime]bool{
	lambdatypes.RuntimePython27:      true,
	lambdatypes.RuntimePython36:      true,
	lambdatypes.RuntimePython37:      true,
	lambdatypes.RuntimeNodejs10x:     true,
	lambdatypes.RuntimeNodejs12x:     true,
	lambdatypes.RuntimeNodejs14x:     true,
	lambdatypes.RuntimeRuby25:        true,
	lambdatypes.RuntimeDotnetcore21:  true,
	lambdatypes.RuntimeGo1x:          true,
	lambdatypes.RuntimeJava8:         true,
}

func checkDeprecatedRuntimes(ctx context.Context, sc *Context) ([]report.Finding, error) {
	client, err := awsclient.Client[*lambda.Client](ctx, sc.Factory, awsclient.ServiceLambda, sc.Region)
	if err != nil {
		return nil, err
	}

	functions, err := fetchCached(ctx, sc, cache.Key("lambda", sc.Region, "functions"),
		func(ctx context.Context) ([]lambdatypes.FunctionConfiguration, error) {
			out, err := client.ListFunctions(ctx, &lambda.ListFunctionsInput{})
			if err != nil {
				return nil, err
			}
			return out.Functions, nil
		})
	if err != nil {
		return nil, err
	}

	var findings []report.Finding
	for _, fn := range functions {
		if !deprecatedRuntimes[fn.Runtime] {
			continue
		}
		name := aws.ToString(fn.FunctionName)
		findings = append(findings, sc.newFinding(
			"lambda-deprecated-runtime",
			name,
			"AWS::Lambda::Function",
			"patching",
			report.SeverityMedium,
			"Function on a deprecated runtime",
			fmt.Sprintf("Function %s runs %s, which no longer receives security updates", name, fn.Runtime),
			awsclient.ServiceLambda,
		))
	}
	return findings, nil
}

func checkPublicClusterEndpoint(ctx context.Context, sc *Context) ([]report.Finding, error) {
	client, err := awsclient.Client[*eks.Client](ctx, sc.Factory, awsclient.ServiceEKS, sc.Region)
	if err != nil {
		return nil, err
	}

	clusters, err := fetchCached(ctx, sc, cache.Key("eks", sc.Region, "clusters"),
		func(ctx context.Context) ([]string, error) {
			out, err := client.ListClusters(ctx, &eks.ListClustersInput{})
			if err != nil {
				return nil, err
			}
			return out.Clusters, nil
		})
	if err != nil {
		return nil, err
	}

	var findings []report.Finding
	for _, name := range clusters {
		cluster, err := fetchCached(ctx, sc, cache.Key("eks", sc.Region, "cluster", name),
			func(ctx context.Context) (*ekstypes.Cluster, error) {
				out, err := client.DescribeCluster(ctx, &eks.DescribeClusterInput{
					Name: aws.String(name),
				})
				if err != nil {
					return nil, err
				}
				return out.Cluster, nil
			})
		if err != nil {
			return findings, err
		}
		if cluster == nil || cluster.ResourcesVpcConfig == nil || !cluster.ResourcesVpcConfig.EndpointPublicAccess {
			continue
		}
		findings = append(findings, sc.newFinding(
			"eks-public-endpoint",
			name,
			"AWS::EKS::Cluster",
			"network",
			report.SeverityMedium,
			"Cluster API endpoint public",
			fmt.Sprintf("EKS cluster %s exposes its API server endpoint publicly", name),
			awsclient.ServiceEKS,
		))
	}
	return findings, nil
}
