// Package lint validates address placement in rendered lab artifacts. It
// never mutates anything; every check accumulates domain.Finding values for
// the operator.
package lint

import (
	"fmt"
	"net/netip"

	"labnet/internal/discover"
	"labnet/internal/domain"
	"labnet/internal/ipcalc"
)

func serviceLabel(s string) string {
	if s == "" {
		return "?"
	}
	return s
}

// Compose checks every static service address against the discovered lab
// subnets. An address outside every subnet is a warning; an address equal
// to a subnet's gateway is reported separately, and at error severity,
// because the container runtime will claim that address itself.
func Compose(composeText string, subnets []netip.Prefix) []domain.Finding {
	var findings []domain.Finding

	for _, sa := range discover.StaticAddresses(composeText) {
		if sa.Invalid {
			findings = append(findings, domain.Finding{
				Severity:  domain.SeverityWarning,
				Component: "compose",
				Message:   fmt.Sprintf("%s: invalid ipv4_address %q", serviceLabel(sa.Service), sa.Raw),
			})
			continue
		}

		inAny := false
		var gatewayOf []netip.Prefix
		for _, net := range subnets {
			if !net.Contains(sa.Addr) {
				continue
			}
			inAny = true
			if sa.Addr == ipcalc.GatewayOf(net) {
				gatewayOf = append(gatewayOf, net)
			}
		}

		if !inAny {
			findings = append(findings, domain.Finding{
				Severity:  domain.SeverityWarning,
				Component: "compose",
				Message: fmt.Sprintf("%s: ipv4_address %s is not in any known lab subnet %v",
					serviceLabel(sa.Service), sa.Addr, subnets),
			})
		}
		for _, net := range gatewayOf {
			findings = append(findings, domain.Finding{
				Severity:  domain.SeverityError,
				Component: "compose",
				Message: fmt.Sprintf("%s: ipv4_address %s matches the Docker gateway for %s (will cause 'address already in use')",
					serviceLabel(sa.Service), sa.Addr, net),
			})
		}
	}
	return findings
}

// FRRNeighbors checks the neighbor addresses of one router's config against
// the lab subnets. Outside addresses are informational only, since
// cross-lab peering may be intentional.
func FRRNeighbors(router, frrText string, subnets []netip.Prefix) []domain.Finding {
	var findings []domain.Finding

	for _, raw := range discover.NeighborAddresses(frrText) {
		addr, err := netip.ParseAddr(raw)
		if err != nil || !addr.Is4() {
			findings = append(findings, domain.Finding{
				Severity:  domain.SeverityWarning,
				Component: "frr",
				Message:   fmt.Sprintf("%s: invalid neighbor address %q", router, raw),
			})
			continue
		}

		inAny := false
		for _, net := range subnets {
			if net.Contains(addr) {
				inAny = true
				break
			}
		}
		if !inAny {
			findings = append(findings, domain.Finding{
				Severity:  domain.SeverityInfo,
				Component: "frr",
				Message: fmt.Sprintf("%s: neighbor %s is not in any lab subnet %v (verify if intentional)",
					router, addr, subnets),
			})
		}
	}
	return findings
}
