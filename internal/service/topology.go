package service

import (
	"context"
	"fmt"
	"time"

	"labnet/internal/artifact"
	"labnet/internal/assign"
	"labnet/internal/discover"
	"labnet/internal/domain"
	"labnet/internal/rewrite"
)

// FixTopology re-derives the deterministic address plan from the configured
// offset table and the discovered link subnets, rewrites each router's
// service block to exactly one static address per attached link and realigns
// every neighbor statement to the newly planned peer addresses.
func (e *Engine) FixTopology(ctx context.Context) (*Report, error) {
	started := time.Now()
	report, err := e.fixTopology()
	var findings []domain.Finding
	var rewritten []string
	if report != nil {
		findings, rewritten = report.Findings, report.Rewritten
	}
	e.record(ctx, "fix-topology", started, findings, rewritten, err)
	return report, err
}

func (e *Engine) fixTopology() (*Report, error) {
	composeText, err := e.readCompose()
	if err != nil {
		return nil, err
	}
	subnets, err := discover.Subnets(composeText)
	if err != nil {
		return nil, fmt.Errorf("cannot fix topology: %w", err)
	}

	plan, err := assign.Deterministic(e.cfg, subnets)
	if err != nil {
		return nil, err
	}

	report := &Report{Subnets: subnets[:len(e.cfg.LinkNames)]}
	var writes []pendingWrite

	updated, changed := assign.PatchCompose(composeText, e.cfg, plan)
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
		peers := assign.PeerAddresses(e.cfg, r.Name, plan)
		newText, changed := assign.AlignNeighbors(text, peers)
		if changed {
			writes = append(writes, pendingWrite{path, newText})
		}
	}

	report.Rewritten, err = commit(writes)
	return report, err
}
