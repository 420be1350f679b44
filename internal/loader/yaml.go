// Package loader reads the declarative lab description into the domain
// model. The file layout follows the lab convention: a routers list, a
// links map binding each named link to one IPv4 subnet, and free-form
// metadata carried through to the rendered metadata document.
package loader

import (
	"fmt"
	"net/netip"
	"os"
	"sort"

	"labnet/internal/domain"

	"gopkg.in/yaml.v3"
)

// LabYAML represents the lab description file structure
type LabYAML struct {
	Metadata map[string]any      `yaml:"metadata"`
	Routers  []RouterYAML        `yaml:"routers"`
	Links    map[string]LinkYAML `yaml:"links"`
}

// RouterYAML represents one router entry
type RouterYAML struct {
	Name     string     `yaml:"name"`
	ASN      uint32     `yaml:"asn"`
	Role     string     `yaml:"role"`
	RouterID string     `yaml:"router_id"`
	MgmtIP   string     `yaml:"mgmt_ip"`
	Loopback string     `yaml:"loopback"`
	Networks []string   `yaml:"networks"`
	Peers    []PeerYAML `yaml:"peers"`
}

// PeerYAML represents one peering entry
type PeerYAML struct {
	Neighbor string `yaml:"neighbor"`
	Link     string `yaml:"link"`
}

// LinkYAML represents one named link
type LinkYAML struct {
	IPv4Subnet string `yaml:"ipv4_subnet"`
}

// Load reads a lab description from a YAML file
func Load(path string) (*domain.Topology, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read lab description: %w", err)
	}
	return Parse(data)
}

// Parse builds a Topology from YAML bytes
func Parse(data []byte) (*domain.Topology, error) {
	var raw LabYAML
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse lab description: %w", err)
	}

	topo := &domain.Topology{
		Metadata: raw.Metadata,
		Routers:  make([]domain.Router, 0, len(raw.Routers)),
		Links:    make([]domain.Link, 0, len(raw.Links)),
	}

	for _, r := range raw.Routers {
		loopback := r.Loopback
		if loopback == "" {
			loopback = "0.0.0.0/32"
		}
		router := domain.Router{
			Name:     r.Name,
			ASN:      r.ASN,
			Role:     domain.RouterRole(r.Role),
			RouterID: r.RouterID,
			MgmtIP:   r.MgmtIP,
			Loopback: loopback,
			Networks: r.Networks,
		}
		for _, p := range r.Peers {
			router.Peers = append(router.Peers, domain.Peer{Neighbor: p.Neighbor, Link: p.Link})
		}
		topo.Routers = append(topo.Routers, router)
	}

	// stable link order: yaml maps carry no order, so sort by name
	names := make([]string, 0, len(raw.Links))
	for name := range raw.Links {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		l := raw.Links[name]
		if l.IPv4Subnet == "" {
			return nil, fmt.Errorf("link %s missing ipv4_subnet", name)
		}
		subnet, err := netip.ParsePrefix(l.IPv4Subnet)
		if err != nil {
			return nil, fmt.Errorf("link %s has invalid subnet %q: %w", name, l.IPv4Subnet, err)
		}
		topo.Links = append(topo.Links, domain.Link{Name: name, Subnet: subnet.Masked()})
	}

	return topo, nil
}
