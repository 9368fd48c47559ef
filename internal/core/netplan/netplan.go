// Package netplan holds the pure decision logic for task network placement.
// This is part of the Functional Core - all functions are pure with no I/O.
package netplan

import "strings"

// =============================================================================
// Network Plan
// =============================================================================

const (
	defaultRouteCIDR      = "0.0.0.0/0"
	internetGatewayPrefix = "igw-"
)

// Route is the subset of a route-table entry the placement decision needs.
type Route struct {
	DestinationCIDR string
	GatewayID       string
}

// Plan is the resolved network configuration for one launch. Recomputed
// every run; route-table state can change between deployments.
type Plan struct {
	Subnets        []string
	SecurityGroups []string
	AssignPublicIP bool
}

// HasInternetRoute reports whether any route is a default route through an
// internet gateway. NAT-only egress has no igw route, so a NAT subnet counts
// as private and the task is launched there without a public address.
//
// Examples:
//
//	HasInternetRoute([]Route{{DestinationCIDR: "0.0.0.0/0", GatewayID: "igw-0abc"}})
//	// Returns: true
//
//	HasInternetRoute([]Route{{DestinationCIDR: "10.0.0.0/16", GatewayID: "local"}})
//	// Returns: false
func HasInternetRoute(routes []Route) bool {
	for _, r := range routes {
		if r.DestinationCIDR == defaultRouteCIDR && strings.HasPrefix(r.GatewayID, internetGatewayPrefix) {
			return true
		}
	}
	return false
}
