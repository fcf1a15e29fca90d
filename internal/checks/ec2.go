package checks

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/cloudvigil/cloudvigil/internal/awsclient"
	"github.com/cloudvigil/cloudvigil/internal/cache"
	"github.com/cloudvigil/cloudvigil/internal/report"
)

const anyIPv4 = "0.0.0.0/0"
const anyIPv6 = "::/0"

// adminPorts are ports that should never be reachable from the internet.
var adminPorts = map[int32]string{
	22:   "SSH",
	3389: "RDP",
	3306: "MySQL",
	5432: "PostgreSQL",
}

func describeSecurityGroups(ctx context.Context, sc *Context) ([]ec2types.SecurityGroup, error) {
	client, err := awsclient.Client[*ec2.Client](ctx, sc.Factory, awsclient.ServiceEC2, sc.Region)
	if err != nil {
		return nil, err
	}
	return fetchCached(ctx, sc, cache.Key("ec2", sc.Region, "security-groups"),
		func(ctx context.Context) ([]ec2types.SecurityGroup, error) {
			out, err := client.DescribeSecurityGroups(ctx, &ec2.DescribeSecurityGroupsInput{})
			if err != nil {
				return nil, err
			}
			return out.SecurityGroups, nil
		})
}

func checkOpenSecurityGroups(ctx context.Context, sc *Context) ([]report.Finding, error) {
	groups, err := describeSecurityGroups(ctx, sc)
	if err != nil {
		return nil, err
	}

	var findings []report.Finding
	for _, group := range groups {
		for _, perm := range group.IpPermissions {
			if !openToWorld(perm) {
				continue
			}
			severity := report.SeverityHigh
			portLabel := "all ports"
			if perm.FromPort != nil {
				port := aws.ToInt32(perm.FromPort)
				portLabel = fmt.Sprintf("port %d", port)
				if service, ok := adminPorts[port]; ok {
					severity = report.SeverityCritical
					portLabel = fmt.Sprintf("%s (port %d)", service, port)
				}
			} else {
				severity = report.SeverityCritical
			}

			findings = append(findings, sc.newFinding(
				"ec2-open-security-group",
				aws.ToString(group.GroupId),
				"AWS::EC2::SecurityGroup",
				"network",
				severity,
				"Security group open to the world",
				fmt.Sprintf("Security group %s (%s) allows inbound %s from %s",
					aws.ToString(group.GroupId), aws.ToString(group.GroupName), portLabel, anyIPv4),
				awsclient.ServiceEC2,
			))
			break // one finding per group is enough
		}
	}
	return findings, nil
}

func openToWorld(perm ec2types.IpPermission) bool {
	for _, r := range perm.IpRanges {
		if aws.ToString(r.CidrIp) == anyIPv4 {
			return true
		}
	}
	for _, r := range perm.Ipv6Ranges {
		if aws.ToString(r.CidrIpv6) == anyIPv6 {
			return true
		}
	}
	return false
}

func checkUnencryptedVolumes(ctx context.Context, sc *Context) ([]report.Finding, error) {
	client, err := awsclient.Client[*ec2.Client](ctx, sc.Factory, awsclient.ServiceEC2, sc.Region)
	if err != nil {
		return nil, err
	}

	volumes, err := fetchCached(ctx, sc, cache.Key("ec2", sc.Region, "volumes"),
		func(ctx context.Context) ([]ec2types.Volume, error) {
			out, err := client.DescribeVolumes(ctx, &ec2.DescribeVolumesInput{})
			if err != nil {
				return nil, err
			}
			return out.Volumes, nil
		})
	if err != nil {
		return nil, err
	}

	var findings []report.Finding
	for _, volume := range volumes {
		if aws.ToBool(volume.Encrypted) {
			continue
		}
		findings = append(findings, sc.newFinding(
			"ec2-unencrypted-volume",
			aws.ToString(volume.VolumeId),
			"AWS::EC2::Volume",
			"encryption",
			report.SeverityMedium,
			"EBS volume not encrypted",
			fmt.Sprintf("Volume %s has encryption at rest disabled", aws.ToString(volume.VolumeId)),
			awsclient.ServiceEC2,
		))
	}
	return findings, nil
}
