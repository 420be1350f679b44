package domain

import (
	"fmt"
	"net/netip"
)

// RouterRole classifies a router's position in the lab topology
type RouterRole string

const (
	RoleEdge    RouterRole = "edge"
	RoleTransit RouterRole = "transit"
	RoleStub    RouterRole = "stub"
)

// Peer is one BGP peering of a router: the neighbor it talks to and the
// link the session runs over
type Peer struct {
	Neighbor string `yaml:"neighbor"`
	Link     string `yaml:"link"`
}

// Router represents one routing element of the lab
type Router struct {
	Name     string     `yaml:"name"`
	ASN      uint32     `yaml:"asn"`
	Role     RouterRole `yaml:"role"`
	RouterID string     `yaml:"router_id"`
	MgmtIP   string     `yaml:"mgmt_ip"`
	Loopback string     `yaml:"loopback"`
	Networks []string   `yaml:"networks"`
	Peers    []Peer     `yaml:"peers"`
}

// Link is a named network segment bound to exactly one IPv4 subnet
type Link struct {
	Name   string
	Subnet netip.Prefix
}

// Topology is the complete lab description for one run
type Topology struct {
	Metadata map[string]any
	Routers  []Router
	Links    []Link
}

// Router returns the router with the given name, or nil
func (t *Topology) Router(name string) *Router {
	for i := range t.Routers {
		if t.Routers[i].Name == name {
			return &t.Routers[i]
		}
	}
	return nil
}

// Link returns the link with the given name, or nil
func (t *Topology) Link(name string) *Link {
	for i := range t.Links {
		if t.Links[i].Name == name {
			return &t.Links[i]
		}
	}
	return nil
}

// LinkMembers returns the routers attached to a link, in the order their
// peer declarations first reference it. Attachment order matters: the
// generation-path address assigner hands out host addresses in this order.
func (t *Topology) LinkMembers(link string) []string {
	var members []string
	seen := make(map[string]bool)
	for _, r := range t.Routers {
		for _, p := range r.Peers {
			if p.Link != link || seen[r.Name] {
				continue
			}
			seen[r.Name] = true
			members = append(members, r.Name)
		}
	}
	return members
}

// Validate checks referential integrity: every peer must name a declared
// router, every peering must name a declared link, and router names must
// be unique
func (t *Topology) Validate() []error {
	var errs []error
	if len(t.Routers) == 0 {
		errs = append(errs, fmt.Errorf("at least one router must be defined"))
	}
	names := make(map[string]bool)
	for _, r := range t.Routers {
		if names[r.Name] {
			errs = append(errs, fmt.Errorf("duplicate router name %q", r.Name))
		}
		names[r.Name] = true
	}
	for _, r := range t.Routers {
		for _, p := range r.Peers {
			if t.Link(p.Link) == nil {
				errs = append(errs, fmt.Errorf("router %s references undefined link %q", r.Name, p.Link))
			}
			if !names[p.Neighbor] {
				errs = append(errs, fmt.Errorf("router %s references undefined neighbor %q", r.Name, p.Neighbor))
			}
		}
	}
	return errs
}
