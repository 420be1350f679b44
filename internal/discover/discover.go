// Package discover extracts the currently-live subnets and addresses out of
// already-rendered lab artifacts.
//
// The scanners are deliberately line-oriented: they must tolerate compose
// files and FRR configs that were not produced by this engine, so they
// locate declarations by shape and indentation rather than by parsing a
// full document grammar. The first two subnets found in the services
// descriptor are, by documented convention, the link A and link B subnets.
package discover

import (
	"errors"
	"fmt"
	"net/netip"
	"regexp"
	"strconv"
	"strings"
)

// ErrNoSubnets reports a services descriptor without any subnet declaration
var ErrNoSubnets = errors.New("no subnet declarations found")

var (
	subnetRe      = regexp.MustCompile(`subnet:\s*([\d.]+/\d+)`)
	ipv4AddrRe    = regexp.MustCompile(`ipv4_address:\s*([\d.]+)`)
	topKeyRe      = regexp.MustCompile(`^[a-zA-Z0-9_-]+:\s*$`)
	serviceKeyRe  = regexp.MustCompile(`^\s{2}([a-zA-Z0-9_-]+):\s*$`)
	neighborRe    = regexp.MustCompile(`neighbor\s+([\d.]+)\s+remote-as\s+(\d+)`)
	neighborAnyRe = regexp.MustCompile(`neighbor\s+([\d.]+)\s+remote-as`)
)

// StaticAddress is one explicit per-service address declaration. Service is
// empty when the declaration appears outside any recognizable service block.
// Addresses that fail to parse are carried through with Invalid true so the
// linter can report them instead of silently dropping them.
type StaticAddress struct {
	Service string
	Raw     string
	Addr    netip.Addr
	Invalid bool
}

// Subnets scans a services descriptor for subnet declarations and returns
// them in document order
func Subnets(composeText string) ([]netip.Prefix, error) {
	matches := subnetRe.FindAllStringSubmatch(composeText, -1)
	if len(matches) == 0 {
		return nil, ErrNoSubnets
	}
	subnets := make([]netip.Prefix, 0, len(matches))
	for _, m := range matches {
		p, err := netip.ParsePrefix(m[1])
		if err != nil {
			return nil, fmt.Errorf("invalid subnet declaration %q: %w", m[1], err)
		}
		subnets = append(subnets, p.Masked())
	}
	return subnets, nil
}

// StaticAddresses scans a services descriptor for ipv4_address declarations,
// tracking the owning service block by indentation
func StaticAddresses(composeText string) []StaticAddress {
	var out []StaticAddress
	var current string
	inServices := false

	for _, line := range strings.Split(composeText, "\n") {
		stripped := strings.TrimSpace(line)

		if stripped == "services:" && !strings.HasPrefix(line, " ") {
			inServices = true
			current = ""
			continue
		}
		if topKeyRe.MatchString(line) {
			// another top-level section ends the services block
			if strings.TrimSuffix(stripped, ":") != "services" {
				inServices = false
				current = ""
			}
			continue
		}
		if inServices {
			if m := serviceKeyRe.FindStringSubmatch(line); m != nil {
				current = m[1]
				continue
			}
		}

		m := ipv4AddrRe.FindStringSubmatch(stripped)
		if m == nil {
			continue
		}
		entry := StaticAddress{Service: current, Raw: m[1]}
		addr, err := netip.ParseAddr(m[1])
		if err != nil || !addr.Is4() {
			entry.Invalid = true
		} else {
			entry.Addr = addr
		}
		out = append(out, entry)
	}
	return out
}

// NeighborAddresses scans a routing configuration for declared neighbor
// addresses, in document order
func NeighborAddresses(frrText string) []string {
	matches := neighborAnyRe.FindAllStringSubmatch(frrText, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m[1])
	}
	return out
}

// NeighborsByASN groups declared neighbor addresses by their remote ASN.
// The repair path matches peers by routing identifier, not by address.
func NeighborsByASN(frrText string) map[uint32][]string {
	out := make(map[uint32][]string)
	for _, m := range neighborRe.FindAllStringSubmatch(frrText, -1) {
		asn, err := strconv.ParseUint(m[2], 10, 32)
		if err != nil {
			continue
		}
		out[uint32(asn)] = append(out[uint32(asn)], m[1])
	}
	return out
}
