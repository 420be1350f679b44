package main

import (
	"fmt"
	"log"
	"net/netip"
	"path/filepath"

	"github.com/spf13/cobra"

	"labnet/internal/config"
	"labnet/internal/journal"
	"labnet/internal/service"
	"labnet/internal/survey"
)

func newRootCmd() *cobra.Command {
	var repoDir string

	cmd := &cobra.Command{
		Use:           "labnet",
		Short:         "Topology and addressing engine for the BGP lab",
		Long: `labnet inspects, repairs and generates the addressing artifacts of a
containerized multi-router BGP lab: docker-compose.yml, per-router FRR
configs and the topology metadata document.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&repoDir, "repo", ".", "path to the lab repository")

	cmd.AddCommand(
		newLintCmd(&repoDir),
		newShowCmd(&repoDir),
		newSetNetworksCmd(&repoDir),
		newAutoNetworksCmd(&repoDir),
		newFixTopologyCmd(&repoDir),
		newGenerateCmd(&repoDir),
		newHistoryCmd(&repoDir),
	)
	return cmd
}

// loadEngine builds an engine for one command invocation. The journal is
// best-effort: when it cannot be opened the run proceeds without recording.
func loadEngine(repoDir string, sv survey.Surveyor) (*service.Engine, func(), error) {
	return loadEngineWithOverrides(repoDir, sv, "", 0)
}

func newLintCmd(repoDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "lint",
		Short: "Check artifact addresses against the lab subnets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, cleanup, err := loadEngine(*repoDir, nil)
			if err != nil {
				return err
			}
			defer cleanup()

			log.Printf("[*] linting docker-compose.yml and FRR configs...")
			findings, err := eng.Lint(cmd.Context())
			if err != nil {
				return err
			}
			if len(findings) == 0 {
				log.Printf("[+] no network issues detected")
				return nil
			}
			log.Printf("[!] network lint findings:")
			for _, f := range findings {
				log.Printf("    %s", f)
			}
			return nil
		},
	}
}

func newShowCmd(repoDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the subnets currently bound to the lab links",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, cleanup, err := loadEngine(*repoDir, nil)
			if err != nil {
				return err
			}
			defer cleanup()

			links, err := eng.ShowNetworks(cmd.Context())
			if err != nil {
				return err
			}
			log.Printf("[*] current lab networks:")
			for _, l := range links {
				log.Printf("    %s: %s", l.Link, l.Subnet)
			}
			return nil
		},
	}
}

func parseSubnets(args []string) ([]netip.Prefix, error) {
	subnets := make([]netip.Prefix, len(args))
	for i, arg := range args {
		p, err := netip.ParsePrefix(arg)
		if err != nil {
			return nil, fmt.Errorf("invalid subnet %q: %w", arg, err)
		}
		if !p.Addr().Is4() {
			return nil, fmt.Errorf("subnet %q is not IPv4", arg)
		}
		subnets[i] = p.Masked()
	}
	return subnets, nil
}

func reportRewrites(report *service.Report) {
	for _, f := range report.Findings {
		log.Printf("    %s", f)
	}
	for _, path := range report.Rewritten {
		log.Printf("[+] updated %s", path)
	}
}

func newSetNetworksCmd(repoDir *string) *cobra.Command {
	var fixGateways bool

	cmd := &cobra.Command{
		Use:   "set-networks SUBNET SUBNET",
		Short: "Rebind the lab links to the given subnets",
		Long: `Rebinds each configured link, in order, to the given subnet. Every
address in docker-compose.yml and the FRR configs moves to the same offset
inside the new subnet.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			subnets, err := parseSubnets(args)
			if err != nil {
				return err
			}
			eng, cleanup, err := loadEngine(*repoDir, nil)
			if err != nil {
				return err
			}
			defer cleanup()

			report, err := eng.SetNetworks(cmd.Context(), subnets, fixGateways)
			if err != nil {
				return err
			}
			reportRewrites(report)
			log.Printf("[+] network rewrite completed")
			return nil
		},
	}
	cmd.Flags().BoolVar(&fixGateways, "fix-gateways", false, "move addresses that collide with a subnet gateway")
	return cmd
}

func newAutoNetworksCmd(repoDir *string) *cobra.Command {
	var (
		fixGateways bool
		pool        string
		prefixLen   int
	)

	cmd := &cobra.Command{
		Use:   "auto-networks",
		Short: "Pick free subnets from the candidate pool and apply them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			docker, err := survey.NewDocker()
			if err != nil {
				return err
			}
			defer docker.Close()

			eng, cleanup, err := loadEngineWithOverrides(*repoDir, docker, pool, prefixLen)
			if err != nil {
				return err
			}
			defer cleanup()

			log.Printf("[*] auto-network mode: surveying runtime subnets...")
			report, err := eng.AutoNetworks(cmd.Context(), fixGateways)
			if err != nil {
				return err
			}
			reportRewrites(report)
			log.Printf("[+] network rewrite completed")
			return nil
		},
	}
	cmd.Flags().BoolVar(&fixGateways, "fix-gateways", false, "move addresses that collide with a subnet gateway")
	cmd.Flags().StringVar(&pool, "pool", "", "candidate pool to carve subnets from (default from config)")
	cmd.Flags().IntVar(&prefixLen, "prefix", 0, "prefix length of selected subnets (default from config)")
	return cmd
}

func loadEngineWithOverrides(repoDir string, sv survey.Surveyor, pool string, prefixLen int) (*service.Engine, func(), error) {
	abs, err := filepath.Abs(repoDir)
	if err != nil {
		return nil, nil, err
	}
	cfg, err := config.Load(abs)
	if err != nil {
		return nil, nil, err
	}
	if pool != "" {
		cfg.CandidatePool = pool
	}
	if prefixLen != 0 {
		cfg.CandidatePrefixLen = prefixLen
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	var jr *journal.Journal
	if path := cfg.JournalPath(); path != "" {
		jr, err = journal.Open(path)
		if err != nil {
			log.Printf("[!] run journal unavailable: %v", err)
			jr = nil
		}
	}
	cleanup := func() {
		if err := jr.Close(); err != nil {
			log.Printf("[!] closing journal: %v", err)
		}
	}
	return service.New(cfg, sv, jr), cleanup, nil
}

func newFixTopologyCmd(repoDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "fix-topology",
		Short: "Re-derive deterministic router addresses and align neighbors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, cleanup, err := loadEngine(*repoDir, nil)
			if err != nil {
				return err
			}
			defer cleanup()

			report, err := eng.FixTopology(cmd.Context())
			if err != nil {
				return err
			}
			reportRewrites(report)
			log.Printf("[+] topology fix completed")
			return nil
		},
	}
}

func newGenerateCmd(repoDir *string) *cobra.Command {
	var (
		outputDir    string
		validateOnly bool
	)

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Render fresh lab artifacts from the declarative description",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, cleanup, err := loadEngine(*repoDir, nil)
			if err != nil {
				return err
			}
			defer cleanup()

			written, err := eng.Generate(cmd.Context(), outputDir, validateOnly)
			if err != nil {
				return err
			}
			if validateOnly {
				log.Printf("[+] lab description is valid")
				return nil
			}
			for _, path := range written {
				log.Printf("[+] wrote %s", path)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&outputDir, "output-dir", "generated_lab", "directory to write artifacts into")
	cmd.Flags().BoolVar(&validateOnly, "validate-only", false, "validate the description without writing")
	return cmd
}

func newHistoryCmd(repoDir *string) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent engine runs from the journal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, cleanup, err := loadEngine(*repoDir, nil)
			if err != nil {
				return err
			}
			defer cleanup()

			runs, err := eng.History(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				log.Printf("[*] no recorded runs")
				return nil
			}
			for _, r := range runs {
				status := "ok"
				if r.Error != "" {
					status = "failed: " + r.Error
				}
				log.Printf("[*] %s  %-14s findings=%d rewrites=%d  %s",
					r.StartedAt.Format("2006-01-02 15:04:05"), r.Mode,
					len(r.Findings), len(r.Rewritten), status)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of runs to show")
	return cmd
}
