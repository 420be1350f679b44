package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/netip"
	"time"

	"labnet/internal/artifact"
	"labnet/internal/discover"
	"labnet/internal/domain"
	"labnet/internal/ipcalc"
	"labnet/internal/rewrite"
)

type pendingWrite struct {
	path string
	text string
}

func commit(writes []pendingWrite) ([]string, error) {
	var done []string
	for _, w := range writes {
		if err := artifact.WriteAtomic(w.path, w.text); err != nil {
			return done, fmt.Errorf("write %s: %w", w.path, err)
		}
		done = append(done, w.path)
	}
	return done, nil
}

// SetNetworks rebinds the configured links to new subnets, translating every
// address in the compose file and the router configs by its offset within
// the old subnet. With fixGateways, addresses colliding with a new subnet's
// gateway are moved to a safe offset. When the compose file declares no
// subnets at all, fresh network blocks are injected instead and the router
// configs are left untouched, since there is no old-to-new mapping to apply.
func (e *Engine) SetNetworks(ctx context.Context, newSubnets []netip.Prefix, fixGateways bool) (*Report, error) {
	started := time.Now()
	report, err := e.setNetworks(newSubnets, fixGateways)
	var findings []domain.Finding
	var rewritten []string
	if report != nil {
		findings, rewritten = report.Findings, report.Rewritten
	}
	e.record(ctx, "set-networks", started, findings, rewritten, err)
	return report, err
}

func (e *Engine) setNetworks(newSubnets []netip.Prefix, fixGateways bool) (*Report, error) {
	if len(newSubnets) != len(e.cfg.LinkNames) {
		return nil, fmt.Errorf("got %d subnets for %d links %v",
			len(newSubnets), len(e.cfg.LinkNames), e.cfg.LinkNames)
	}

	composeText, err := e.readCompose()
	if err != nil {
		return nil, err
	}

	oldSubnets, err := discover.Subnets(composeText)
	if errors.Is(err, discover.ErrNoSubnets) {
		return e.injectNetworks(composeText, newSubnets)
	}
	if err != nil {
		return nil, err
	}
	if len(oldSubnets) < len(newSubnets) {
		return nil, fmt.Errorf("expected at least %d subnets in %s, found %d",
			len(newSubnets), e.cfg.ComposePath(), len(oldSubnets))
	}

	var mappings []domain.RewriteMapping
	for i, n := range newSubnets {
		m := domain.RewriteMapping{Old: oldSubnets[i], New: n}
		if m.Old == m.New {
			continue
		}
		if err := m.Validate(); err != nil {
			return nil, fmt.Errorf("link %s: %w", e.cfg.LinkNames[i], err)
		}
		mappings = append(mappings, m)
		log.Printf("[*] %s: %s -> %s", e.cfg.LinkNames[i], m.Old, m.New)
	}

	report := &Report{Subnets: newSubnets}
	var writes []pendingWrite

	updated, changed, err := rewrite.Apply(composeText, mappings)
	if err != nil {
		return nil, err
	}
	if fixGateways {
		fixed, findings := rewrite.FixGatewayIPs(updated, newSubnets)
		if len(findings) > 0 {
			updated = fixed
			changed = true
			report.Findings = append(report.Findings, findings...)
		}
	}
	updated = rewrite.DedupeNetworks(updated)
	if changed || updated != composeText {
		writes = append(writes, pendingWrite{e.cfg.ComposePath(), updated})
	}

	for _, r := range e.cfg.Routers {
		path := e.cfg.FRRConfPath(r.Name)
		if !artifact.Exists(path) {
			continue
		}
		text, err := artifact.Read(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		newText, changed, err := rewrite.Apply(text, mappings)
		if err != nil {
			return nil, err
		}
		if changed {
			writes = append(writes, pendingWrite{path, newText})
		}
	}

	report.Rewritten, err = commit(writes)
	if err != nil {
		return report, err
	}
	if len(report.Rewritten) == 0 {
		log.Printf("[!] no changes were needed")
	}
	return report, nil
}

// injectNetworks handles the no-declared-subnets case: fresh network blocks
// are appended and nothing else is touched.
func (e *Engine) injectNetworks(composeText string, newSubnets []netip.Prefix) (*Report, error) {
	if len(e.cfg.LinkNames) != 2 {
		return nil, fmt.Errorf("network injection supports exactly two links, configured %v", e.cfg.LinkNames)
	}
	log.Printf("[!] no subnet declarations found, injecting %s=%s %s=%s",
		e.cfg.LinkNames[0], newSubnets[0], e.cfg.LinkNames[1], newSubnets[1])

	updated := rewrite.InjectNetworks(composeText, e.cfg.LinkNames[0], e.cfg.LinkNames[1], newSubnets[0], newSubnets[1])
	updated = rewrite.DedupeNetworks(updated)

	report := &Report{Subnets: newSubnets}
	var err error
	report.Rewritten, err = commit([]pendingWrite{{e.cfg.ComposePath(), updated}})
	return report, err
}

// AutoNetworks surveys the container runtime for subnets already in use,
// picks free blocks from the candidate pool and applies them as SetNetworks
// would. A failed survey aborts the run: allocating without knowledge of
// in-use subnets risks colliding addresses.
func (e *Engine) AutoNetworks(ctx context.Context, fixGateways bool) (*Report, error) {
	if e.surveyor == nil {
		return nil, errors.New("no container runtime surveyor configured")
	}

	used, err := e.surveyor.UsedSubnets(ctx)
	if err != nil {
		return nil, err
	}
	log.Printf("[*] runtime currently uses %d subnets", len(used))

	pool, err := netip.ParsePrefix(e.cfg.CandidatePool)
	if err != nil {
		return nil, fmt.Errorf("invalid candidate pool %q: %w", e.cfg.CandidatePool, err)
	}
	free, err := ipcalc.FreeBlocks(pool, e.cfg.CandidatePrefixLen, used, len(e.cfg.LinkNames))
	if err != nil {
		return nil, err
	}
	for i, name := range e.cfg.LinkNames {
		log.Printf("[*] selected %s for %s", free[i], name)
	}

	return e.SetNetworks(ctx, free, fixGateways)
}
