// Package service orchestrates the lint, repair and generation paths over
// the lab artifacts. Every operation discovers and validates first and only
// then commits writes, each artifact mutation computed fully in memory and
// replaced atomically.
package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/netip"
	"time"

	"labnet/internal/artifact"
	"labnet/internal/config"
	"labnet/internal/discover"
	"labnet/internal/domain"
	"labnet/internal/journal"
	"labnet/internal/lint"
	"labnet/internal/survey"
)

// ErrMissingArtifact marks a required lab artifact that does not exist.
var ErrMissingArtifact = errors.New("required artifact missing")

// Engine runs the engine's operations against one configured lab. The
// surveyor and journal are optional: a nil surveyor disables the
// auto-select path, a nil journal disables run recording.
type Engine struct {
	cfg      *config.Lab
	surveyor survey.Surveyor
	journal  *journal.Journal
}

// New creates an engine for the given lab configuration.
func New(cfg *config.Lab, sv survey.Surveyor, jr *journal.Journal) *Engine {
	return &Engine{cfg: cfg, surveyor: sv, journal: jr}
}

// Report summarizes one repair run.
type Report struct {
	Subnets   []netip.Prefix
	Findings  []domain.Finding
	Rewritten []string
}

// LinkSubnet pairs a configured link name with its discovered subnet.
type LinkSubnet struct {
	Link   string
	Subnet netip.Prefix
}

func (e *Engine) readCompose() (string, error) {
	path := e.cfg.ComposePath()
	if !artifact.Exists(path) {
		return "", fmt.Errorf("%w: %s", ErrMissingArtifact, path)
	}
	text, err := artifact.Read(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return text, nil
}

// record writes a journal row for a finished run. Journal failures are
// logged and never fail the run itself.
func (e *Engine) record(ctx context.Context, mode string, started time.Time, findings []domain.Finding, rewritten []string, runErr error) {
	run := journal.Run{
		Mode:       mode,
		StartedAt:  started,
		FinishedAt: time.Now(),
		Findings:   findings,
		Rewritten:  rewritten,
	}
	if runErr != nil {
		run.Error = runErr.Error()
	}
	if err := e.journal.Record(ctx, run); err != nil {
		log.Printf("[!] journal: recording %s run failed: %v", mode, err)
	}
}

// Lint checks the compose file and every present router config against the
// discovered lab subnets. Findings are diagnostic only; Lint never mutates.
func (e *Engine) Lint(ctx context.Context) ([]domain.Finding, error) {
	started := time.Now()

	composeText, err := e.readCompose()
	if err != nil {
		e.record(ctx, "lint", started, nil, nil, err)
		return nil, err
	}
	subnets, err := discover.Subnets(composeText)
	if err != nil {
		e.record(ctx, "lint", started, nil, nil, err)
		return nil, err
	}

	findings := lint.Compose(composeText, subnets)
	for _, r := range e.cfg.Routers {
		path := e.cfg.FRRConfPath(r.Name)
		if !artifact.Exists(path) {
			continue
		}
		text, err := artifact.Read(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		findings = append(findings, lint.FRRNeighbors(r.Name, text, subnets)...)
	}

	e.record(ctx, "lint", started, findings, nil, nil)
	return findings, nil
}

// ShowNetworks reports the subnet currently bound to each configured link,
// in declared link order.
func (e *Engine) ShowNetworks(ctx context.Context) ([]LinkSubnet, error) {
	composeText, err := e.readCompose()
	if err != nil {
		return nil, err
	}
	subnets, err := discover.Subnets(composeText)
	if err != nil {
		return nil, err
	}
	if len(subnets) < len(e.cfg.LinkNames) {
		return nil, fmt.Errorf("expected at least %d subnets for links %v, found %d",
			len(e.cfg.LinkNames), e.cfg.LinkNames, len(subnets))
	}

	out := make([]LinkSubnet, len(e.cfg.LinkNames))
	for i, name := range e.cfg.LinkNames {
		out[i] = LinkSubnet{Link: name, Subnet: subnets[i]}
	}
	return out, nil
}

// History returns the most recent journal entries, newest first.
func (e *Engine) History(ctx context.Context, limit int) ([]journal.Run, error) {
	if e.journal == nil {
		return nil, errors.New("no run journal configured")
	}
	return e.journal.Recent(ctx, limit)
}
