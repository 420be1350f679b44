package domain

import (
	"fmt"
	"net/netip"
)

// Assignments maps router name -> link name -> assigned host address
type Assignments map[string]map[string]netip.Addr

// Set records the address for a (router, link) pair
func (a Assignments) Set(router, link string, addr netip.Addr) {
	if a[router] == nil {
		a[router] = make(map[string]netip.Addr)
	}
	a[router][link] = addr
}

// Get returns the address assigned to a (router, link) pair
func (a Assignments) Get(router, link string) (netip.Addr, bool) {
	addr, ok := a[router][link]
	return addr, ok
}

// RewriteMapping pairs an old subnet with its replacement. Old and new must
// have the same prefix length so that offset translation is a bijection.
type RewriteMapping struct {
	Old netip.Prefix
	New netip.Prefix
}

// Validate rejects pairs whose sizes differ
func (m RewriteMapping) Validate() error {
	if m.Old.Bits() != m.New.Bits() {
		return fmt.Errorf("subnet size mismatch: %s -> %s", m.Old, m.New)
	}
	return nil
}
