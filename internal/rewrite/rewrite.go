// Package rewrite performs structure-preserving address substitution across
// rendered lab artifacts.
//
// All passes work on in-memory text and only touch tokens with dotted-quad
// shape, which excludes port numbers and AS numbers by construction. Every
// token is translated at most once per run, so output addresses produced by
// one subnet mapping can never be re-translated by a later one, even when a
// new subnet overlaps another pair's old subnet.
package rewrite

import (
	"fmt"
	"net/netip"
	"regexp"
	"strings"

	"labnet/internal/domain"
	"labnet/internal/ipcalc"
)

var (
	ipv4TokenRe  = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)
	networksRe   = regexp.MustCompile(`^networks:\s*$`)
	netBlockRe   = regexp.MustCompile(`^(\s{2})([a-zA-Z0-9_-]+):\s*$`)
	unindentedRe = regexp.MustCompile(`^[^ \t]`)
)

// ReplaceIPs translates every address inside old into its offset-equivalent
// in new, leaving all other text byte-identical. Returns the rewritten text
// and whether anything changed.
func ReplaceIPs(text string, old, new netip.Prefix) (string, bool, error) {
	out, changed, err := applyMappings(text, []domain.RewriteMapping{{Old: old, New: new}})
	return out, changed, err
}

// Apply runs all mappings over the text in a single pass, in the order
// given. Each dotted-quad token is matched against the mappings in order
// and translated by the first one whose old subnet contains it.
func Apply(text string, mappings []domain.RewriteMapping) (string, bool, error) {
	return applyMappings(text, mappings)
}

func applyMappings(text string, mappings []domain.RewriteMapping) (string, bool, error) {
	for _, m := range mappings {
		if err := m.Validate(); err != nil {
			return "", false, err
		}
	}

	changed := false
	out := ipv4TokenRe.ReplaceAllStringFunc(text, func(token string) string {
		addr, err := netip.ParseAddr(token)
		if err != nil || !addr.Is4() {
			return token
		}
		for _, m := range mappings {
			if !m.Old.Contains(addr) {
				continue
			}
			translated, err := ipcalc.Translate(m.Old, m.New, addr)
			if err != nil {
				return token
			}
			changed = true
			return translated.String()
		}
		return token
	})
	return out, changed, nil
}

// safeOffset keeps reassigned addresses clear of the conventionally
// reserved low addresses: +10 in ordinary subnets, +2 in tiny ones
func safeOffset(subnet netip.Prefix) uint32 {
	if ipcalc.AddrCount(subnet) > 16 {
		return 10
	}
	return 2
}

// FixGatewayIPs rewrites every ipv4_address entry equal to a subnet's
// gateway to a safe substitute inside the same subnet, recording a finding
// per rewrite
func FixGatewayIPs(text string, subnets []netip.Prefix) (string, []domain.Finding) {
	var findings []domain.Finding

	for _, net := range subnets {
		gateway := ipcalc.GatewayOf(net)
		safe := ipcalc.AddrAt(net, safeOffset(net))

		pattern := regexp.MustCompile(`(ipv4_address:\s*)` + regexp.QuoteMeta(gateway.String()) + `\b`)
		text = pattern.ReplaceAllStringFunc(text, func(match string) string {
			findings = append(findings, domain.Finding{
				Severity:  domain.SeverityWarning,
				Component: "compose",
				Message:   fmt.Sprintf("rewrote gateway address %s to %s in subnet %s", gateway, safe, net),
			})
			return pattern.ReplaceAllString(match, "${1}"+safe.String())
		})
	}
	return text, findings
}

// DedupeNetworks drops repeated named blocks inside the top-level networks
// section, keeping the first occurrence of each name in place and every
// other line verbatim. Applying it twice yields the same text as once.
func DedupeNetworks(composeText string) string {
	lines := strings.Split(strings.TrimSuffix(composeText, "\n"), "\n")
	var out []string
	inNetworks := false
	seen := make(map[string]bool)

	i := 0
	for i < len(lines) {
		line := lines[i]
		if networksRe.MatchString(line) {
			inNetworks = true
			out = append(out, line)
			i++
			continue
		}

		if inNetworks {
			if m := netBlockRe.FindStringSubmatch(line); m != nil {
				name := m[2]
				if seen[name] {
					// drop the duplicate block and all its nested lines
					i++
					for i < len(lines) {
						next := lines[i]
						if netBlockRe.MatchString(next) || unindentedRe.MatchString(next) {
							break
						}
						i++
					}
					continue
				}
				seen[name] = true
				out = append(out, line)
				i++
				continue
			}
			if unindentedRe.MatchString(line) {
				inNetworks = false
			}
		}

		out = append(out, line)
		i++
	}
	return strings.Join(out, "\n") + "\n"
}

// InjectNetworks appends declarations for two named links bound to the
// given subnets. With an existing networks section the block lands inside
// it, otherwise at document end. Used only when discovery found no subnets
// at all; routing configs are left alone in that case since there is no
// old-to-new mapping to propagate.
func InjectNetworks(composeText, linkA, linkB string, subnetA, subnetB netip.Prefix) string {
	block := []string{
		"networks:",
		"  " + linkA + ":",
		"    driver: bridge",
		"    ipam:",
		"      config:",
		"        - subnet: " + subnetA.String(),
		"  " + linkB + ":",
		"    driver: bridge",
		"    ipam:",
		"      config:",
		"        - subnet: " + subnetB.String(),
	}

	lines := strings.Split(strings.TrimSuffix(composeText, "\n"), "\n")
	var out []string
	inserted := false

	for _, line := range lines {
		out = append(out, line)
		if !inserted && networksRe.MatchString(line) {
			out = append(out, block[1:]...)
			inserted = true
		}
	}

	if !inserted {
		if len(out) > 0 && strings.TrimSpace(out[len(out)-1]) != "" {
			out = append(out, "")
		}
		out = append(out, block...)
	}
	return strings.Join(out, "\n") + "\n"
}
