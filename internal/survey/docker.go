// Package survey queries the container runtime for subnets already
// allocated to existing networks, so auto-selected lab subnets never
// collide with them.
//
// A failed query aborts the whole auto-select run: proceeding without
// knowledge of in-use subnets would risk handing out colliding addresses.
package survey

import (
	"context"
	"errors"
	"fmt"
	"net/netip"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/client"
)

// ErrQuery reports a failed container runtime query
var ErrQuery = errors.New("container runtime query failed")

// Surveyor lists the subnets currently in use by the container runtime
type Surveyor interface {
	UsedSubnets(ctx context.Context) ([]netip.Prefix, error)
}

// Docker implements Surveyor against the Docker Engine API
type Docker struct {
	cli *client.Client
}

// NewDocker connects to the Docker daemon using the standard environment
// settings
func NewDocker() (*Docker, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQuery, err)
	}
	return &Docker{cli: cli}, nil
}

// Close releases the daemon connection
func (d *Docker) Close() error {
	return d.cli.Close()
}

// UsedSubnets returns every IPv4 subnet allocated to an existing Docker
// network
func (d *Docker) UsedSubnets(ctx context.Context) ([]netip.Prefix, error) {
	networks, err := d.cli.NetworkList(ctx, types.NetworkListOptions{})
	if err != nil {
		return nil, fmt.Errorf("%w: list networks: %v", ErrQuery, err)
	}
	return subnetsFromNetworks(networks), nil
}

func subnetsFromNetworks(networks []types.NetworkResource) []netip.Prefix {
	var subnets []netip.Prefix
	for _, n := range networks {
		for _, cfg := range n.IPAM.Config {
			if cfg.Subnet == "" {
				continue
			}
			p, err := netip.ParsePrefix(cfg.Subnet)
			if err != nil || !p.Addr().Is4() {
				// IPv6 and malformed entries cannot collide with the
				// IPv4 candidate pool
				continue
			}
			subnets = append(subnets, p.Masked())
		}
	}
	return subnets
}
