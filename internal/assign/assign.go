// Package assign computes per-router, per-link host addresses and pushes
// them into the rendered artifacts.
//
// Two allocation policies live here and are deliberately kept apart. The
// repair path assumes the fixed roster from the configuration and assigns
// each router its configured offset from the link's subnet base (+10/+11 by
// convention). The generation path knows the full topology and hands out
// the first usable host after the reserved gateway, in attachment order.
// The two are never reconciled; callers pick the one their path requires.
package assign

import (
	"fmt"
	"net/netip"
	"regexp"
	"sort"
	"strings"

	"labnet/internal/config"
	"labnet/internal/discover"
	"labnet/internal/domain"
	"labnet/internal/ipcalc"
)

// Deterministic derives the repair-path address plan from the discovered
// subnets: the i-th configured link binds to the i-th discovered subnet,
// and each roster router takes its configured offset on every link it
// attaches to.
func Deterministic(cfg *config.Lab, subnets []netip.Prefix) (domain.Assignments, error) {
	if len(subnets) < len(cfg.LinkNames) {
		return nil, fmt.Errorf("need %d subnets for links %v, discovered %d",
			len(cfg.LinkNames), cfg.LinkNames, len(subnets))
	}

	linkSubnet := make(map[string]netip.Prefix, len(cfg.LinkNames))
	for i, name := range cfg.LinkNames {
		linkSubnet[name] = subnets[i]
	}

	plan := make(domain.Assignments)
	for _, r := range cfg.Routers {
		for link, offset := range r.Offsets {
			subnet := linkSubnet[link]
			// offset 0 is the network address, count-1 the broadcast
			if offset == 0 || offset >= ipcalc.AddrCount(subnet)-1 {
				return nil, fmt.Errorf("offset %d for %s@%s out of range in %s", offset, r.Name, link, subnet)
			}
			addr := ipcalc.AddrAt(subnet, offset)
			if addr == ipcalc.GatewayOf(subnet) {
				return nil, fmt.Errorf("offset %d for %s@%s collides with the gateway of %s", offset, r.Name, link, subnet)
			}
			plan.Set(r.Name, link, addr)
		}
	}
	return plan, nil
}

// ForTopology derives the generation-path address plan: on every link, the
// attached routers receive consecutive host addresses starting right after
// the reserved gateway, in first-seen attachment order.
func ForTopology(topo *domain.Topology) (domain.Assignments, error) {
	plan := make(domain.Assignments)
	for _, link := range topo.Links {
		members := topo.LinkMembers(link.Name)
		count := ipcalc.AddrCount(link.Subnet)
		// gateway is offset 1; members start at offset 2
		for i, name := range members {
			offset := uint32(i) + 2
			if offset >= count-1 {
				return nil, fmt.Errorf("link %s does not have enough usable addresses for %d routers",
					link.Name, len(members))
			}
			plan.Set(name, link.Name, ipcalc.AddrAt(link.Subnet, offset))
		}
	}
	return plan, nil
}

// PeerAddresses resolves, for one roster router, the planned address of
// every peer it can reach over a shared link, keyed by the peer's ASN.
// Peers are matched by routing identifier, never by address.
func PeerAddresses(cfg *config.Lab, router string, plan domain.Assignments) map[uint32]netip.Addr {
	self := cfg.Router(router)
	if self == nil {
		return nil
	}

	peers := make(map[uint32]netip.Addr)
	for _, other := range cfg.Routers {
		if other.Name == router {
			continue
		}
		for _, link := range cfg.LinkNames {
			if _, ok := self.Offsets[link]; !ok {
				continue
			}
			if _, ok := other.Offsets[link]; !ok {
				continue
			}
			if addr, ok := plan.Get(other.Name, link); ok {
				peers[other.ASN] = addr
				break
			}
		}
	}
	return peers
}

var addrTokenRe = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)

// AlignNeighbors rewrites a routing config so that every neighbor matched
// by remote ASN points at the peer's planned address. All occurrences of
// each stale address are replaced, keeping the whole file self-consistent.
// The old-to-new substitutions are collected from the original text and
// applied in one pass, in ascending ASN order, so a stale address that
// happens to equal another peer's newly planned address is never
// re-translated by a later replacement.
func AlignNeighbors(frrText string, peers map[uint32]netip.Addr) (string, bool) {
	byASN := discover.NeighborsByASN(frrText)
	asns := make([]uint32, 0, len(byASN))
	for asn := range byASN {
		asns = append(asns, asn)
	}
	sort.Slice(asns, func(i, j int) bool { return asns[i] < asns[j] })

	subst := make(map[string]string)
	for _, asn := range asns {
		want, ok := peers[asn]
		if !ok {
			continue
		}
		for _, old := range byASN[asn] {
			if old == want.String() {
				continue
			}
			if _, dup := subst[old]; dup {
				continue
			}
			subst[old] = want.String()
		}
	}
	if len(subst) == 0 {
		return frrText, false
	}

	out := addrTokenRe.ReplaceAllStringFunc(frrText, func(token string) string {
		if planned, ok := subst[token]; ok {
			return planned
		}
		return token
	})
	return out, true
}

var (
	networksKeyRe = regexp.MustCompile(`^\s{4}networks:\s*$`)
	propertyKeyRe = regexp.MustCompile(`^\s{4}[a-zA-Z0-9_-]+:\s*$`)
	serviceKeyRe  = regexp.MustCompile(`^\s{2}([a-zA-Z0-9_-]+):\s*$`)
	unindentedRe  = regexp.MustCompile(`^[^ \t]`)
)

// PatchCompose rewrites each roster router's service block so it declares
// exactly one static address per attached link, dropping whatever address
// declarations were there before. Lines unrelated to the configured links
// are preserved.
func PatchCompose(composeText string, cfg *config.Lab, plan domain.Assignments) (string, bool) {
	isLink := make(map[string]bool, len(cfg.LinkNames))
	for _, l := range cfg.LinkNames {
		isLink[l] = true
	}
	linkEntryRe := regexp.MustCompile(`^\s{6}-\s+([a-zA-Z0-9_-]+)\s*$`)
	linkBlockRe := regexp.MustCompile(`^\s{6}([a-zA-Z0-9_-]+):\s*$`)

	lines := strings.Split(strings.TrimSuffix(composeText, "\n"), "\n")
	var out []string
	var current string
	changed := false

	i := 0
	for i < len(lines) {
		line := lines[i]

		if m := serviceKeyRe.FindStringSubmatch(line); m != nil {
			if cfg.Router(m[1]) != nil {
				current = m[1]
			} else {
				current = ""
			}
			out = append(out, line)
			i++
			continue
		}
		if unindentedRe.MatchString(line) {
			current = ""
			out = append(out, line)
			i++
			continue
		}

		if current != "" && networksKeyRe.MatchString(line) {
			out = append(out, line)
			i++
			// drop declarations for configured links, keep the rest
			for i < len(lines) {
				next := lines[i]
				if propertyKeyRe.MatchString(next) || serviceKeyRe.MatchString(next) || unindentedRe.MatchString(next) {
					break
				}
				if m := linkEntryRe.FindStringSubmatch(next); m != nil && isLink[m[1]] {
					i++
					continue
				}
				if m := linkBlockRe.FindStringSubmatch(next); m != nil && isLink[m[1]] {
					i++
					for i < len(lines) && strings.HasPrefix(lines[i], "        ") {
						i++
					}
					continue
				}
				out = append(out, next)
				i++
			}

			for _, link := range cfg.LinkNames {
				addr, ok := plan.Get(current, link)
				if !ok {
					continue
				}
				out = append(out, "      "+link+":")
				out = append(out, "        ipv4_address: "+addr.String())
				changed = true
			}
			continue
		}

		out = append(out, line)
		i++
	}
	return strings.Join(out, "\n") + "\n", changed
}
