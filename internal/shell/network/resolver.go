// Package network decides whether a task placed in the configured subnets
// needs a public address for registry and API egress.
package network

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	smithy "github.com/aws/smithy-go"

	"github.com/quillmed/caravel/internal/core/domain"
	"github.com/quillmed/caravel/internal/core/netplan"
)

// =============================================================================
// Network Resolver
// =============================================================================

// NetworkAPI is the slice of the network service API the resolver needs.
type NetworkAPI interface {
	DescribeSubnets(ctx context.Context, params *ec2.DescribeSubnetsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSubnetsOutput, error)
	DescribeRouteTables(ctx context.Context, params *ec2.DescribeRouteTablesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeRouteTablesOutput, error)
}

// Resolver inspects subnet routing to build the task's network plan.
type Resolver struct {
	client NetworkAPI
	region string
	logger *slog.Logger
}

// NewResolver creates a new Resolver.
func NewResolver(client NetworkAPI, region string, logger *slog.Logger) *Resolver {
	return &Resolver{
		client: client,
		region: region,
		logger: logger.With("component", "network"),
	}
}

// Resolve builds the network plan for a launch. When forced is "ENABLED" or
// "DISABLED" the caller has already decided and no lookups happen. Otherwise
// each subnet's route table (or its network's main table when the subnet has
// no explicit association) is checked for a default route to an internet
// gateway, stopping at the first subnet that has one.
func (r *Resolver) Resolve(ctx context.Context, subnets, securityGroups []string, forced string) (netplan.Plan, error) {
	plan := netplan.Plan{
		Subnets:        subnets,
		SecurityGroups: securityGroups,
	}

	if forced != "" {
		plan.AssignPublicIP = strings.EqualFold(forced, "ENABLED")
		r.logger.Info("public address policy forced by configuration", "assign_public_ip", plan.AssignPublicIP)
		return plan, nil
	}

	for _, subnetID := range subnets {
		public, err := r.subnetHasInternetRoute(ctx, subnetID)
		if err != nil {
			return netplan.Plan{}, err
		}
		if public {
			r.logger.Info("subnet routes to an internet gateway, assigning public address", "subnet", subnetID)
			plan.AssignPublicIP = true
			return plan, nil
		}
	}

	r.logger.Info("no subnet routes to an internet gateway, egress must come from elsewhere", "subnets", subnets)
	return plan, nil
}

func (r *Resolver) subnetHasInternetRoute(ctx context.Context, subnetID string) (bool, error) {
	out, err := r.client.DescribeSubnets(ctx, &ec2.DescribeSubnetsInput{
		SubnetIds: []string{subnetID},
	})
	if err != nil {
		if isSubnetNotFound(err) {
			return false, domain.NewResolutionError("subnet", subnetID, r.region, err)
		}
		return false, fmt.Errorf("failed to describe subnet %s: %w", subnetID, err)
	}
	if len(out.Subnets) == 0 {
		return false, domain.NewResolutionError("subnet", subnetID, r.region, nil)
	}
	vpcID := aws.ToString(out.Subnets[0].VpcId)

	routes, err := r.routesForSubnet(ctx, subnetID, vpcID)
	if err != nil {
		return false, err
	}
	return netplan.HasInternetRoute(routes), nil
}

// routesForSubnet returns the routes governing a subnet: its explicitly
// associated table when one exists, the network's main table otherwise.
func (r *Resolver) routesForSubnet(ctx context.Context, subnetID, vpcID string) ([]netplan.Route, error) {
	tables, err := r.client.DescribeRouteTables(ctx, &ec2.DescribeRouteTablesInput{
		Filters: []ec2types.Filter{
			{Name: aws.String("association.subnet-id"), Values: []string{subnetID}},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to find route table for subnet %s: %w", subnetID, err)
	}

	if len(tables.RouteTables) == 0 {
		tables, err = r.client.DescribeRouteTables(ctx, &ec2.DescribeRouteTablesInput{
			Filters: []ec2types.Filter{
				{Name: aws.String("vpc-id"), Values: []string{vpcID}},
				{Name: aws.String("association.main"), Values: []string{"true"}},
			},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to find main route table for %s: %w", vpcID, err)
		}
	}

	var routes []netplan.Route
	for _, table := range tables.RouteTables {
		for _, route := range table.Routes {
			routes = append(routes, netplan.Route{
				DestinationCIDR: aws.ToString(route.DestinationCidrBlock),
				GatewayID:       aws.ToString(route.GatewayId),
			})
		}
	}
	return routes, nil
}

func isSubnetNotFound(err error) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "InvalidSubnetID.NotFound"
}
