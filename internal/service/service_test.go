package service

import (
	"context"
	"errors"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"labnet/internal/config"
	"labnet/internal/domain"
	"labnet/internal/journal"
)

const healthyCompose = `services:
  r1:
    image: frrouting/frr:v8.4.1
    networks:
      net_ab:
        ipv4_address: 172.20.0.10
  r2:
    image: frrouting/frr:v8.4.1
    networks:
      net_ab:
        ipv4_address: 172.20.0.11
      net_bc:
        ipv4_address: 172.20.1.10
  r3:
    image: frrouting/frr:v8.4.1
    dns:
      - 8.8.8.8
    networks:
      net_bc:
        ipv4_address: 172.20.1.11

networks:
  net_ab:
    driver: bridge
    ipam:
      config:
        - subnet: 172.20.0.0/24
  net_bc:
    driver: bridge
    ipam:
      config:
        - subnet: 172.20.1.0/24
`

var healthyFRR = map[string]string{
	"r1": "router bgp 65001\n neighbor 172.20.0.11 remote-as 65002\n",
	"r2": "router bgp 65002\n neighbor 172.20.0.10 remote-as 65001\n neighbor 172.20.1.11 remote-as 65003\n",
	"r3": "router bgp 65003\n neighbor 172.20.1.10 remote-as 65002\n",
}

func writeFile(t *testing.T, path, text string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		t.Fatal(err)
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func newLab(t *testing.T, compose string, frr map[string]string) (*Engine, *config.Lab) {
	t.Helper()
	cfg := config.Default()
	cfg.RepoDir = t.TempDir()
	if compose != "" {
		writeFile(t, cfg.ComposePath(), compose)
	}
	for name, text := range frr {
		writeFile(t, cfg.FRRConfPath(name), text)
	}
	return New(cfg, nil, nil), cfg
}

func TestLint(t *testing.T) {
	ctx := context.Background()

	t.Run("healthy lab has no findings", func(t *testing.T) {
		e, _ := newLab(t, healthyCompose, healthyFRR)
		findings, err := e.Lint(ctx)
		if err != nil {
			t.Fatalf("Lint: %v", err)
		}
		if len(findings) != 0 {
			t.Errorf("findings = %v, want none", findings)
		}
	})

	t.Run("gateway collision is one error and no outside warning", func(t *testing.T) {
		broken := strings.Replace(healthyCompose, "ipv4_address: 172.20.0.10", "ipv4_address: 172.20.0.1", 1)
		e, _ := newLab(t, broken, nil)
		findings, err := e.Lint(ctx)
		if err != nil {
			t.Fatalf("Lint: %v", err)
		}
		var gateway, outside int
		for _, f := range findings {
			if !strings.Contains(f.Message, "172.20.0.1 ") {
				continue
			}
			switch f.Severity {
			case domain.SeverityError:
				gateway++
			case domain.SeverityWarning:
				outside++
			}
		}
		if gateway != 1 {
			t.Errorf("gateway findings = %d, want 1 (%v)", gateway, findings)
		}
		if outside != 0 {
			t.Errorf("outside findings = %d, want 0 (%v)", outside, findings)
		}
	})

	t.Run("neighbor outside lab subnets is informational", func(t *testing.T) {
		frr := map[string]string{
			"r1": "router bgp 65001\n neighbor 192.0.2.7 remote-as 64999\n",
		}
		e, _ := newLab(t, healthyCompose, frr)
		findings, err := e.Lint(ctx)
		if err != nil {
			t.Fatalf("Lint: %v", err)
		}
		if len(findings) != 1 || findings[0].Severity != domain.SeverityInfo {
			t.Errorf("findings = %v, want one info finding", findings)
		}
	})

	t.Run("missing compose file is fatal", func(t *testing.T) {
		e, _ := newLab(t, "", nil)
		if _, err := e.Lint(ctx); !errors.Is(err, ErrMissingArtifact) {
			t.Errorf("err = %v, want ErrMissingArtifact", err)
		}
	})

	t.Run("missing compose failure is journaled", func(t *testing.T) {
		cfg := config.Default()
		cfg.RepoDir = t.TempDir()
		jr, err := journal.Open(cfg.JournalPath())
		if err != nil {
			t.Fatalf("open journal: %v", err)
		}
		defer jr.Close()

		e := New(cfg, nil, jr)
		if _, err := e.Lint(ctx); !errors.Is(err, ErrMissingArtifact) {
			t.Fatalf("err = %v, want ErrMissingArtifact", err)
		}

		runs, err := jr.Recent(ctx, 10)
		if err != nil {
			t.Fatalf("Recent: %v", err)
		}
		if len(runs) != 1 {
			t.Fatalf("runs = %+v, want one", runs)
		}
		if runs[0].Mode != "lint" || runs[0].Error == "" {
			t.Errorf("run = %+v, want failed lint entry", runs[0])
		}
	})
}

func TestShowNetworks(t *testing.T) {
	e, _ := newLab(t, healthyCompose, nil)
	got, err := e.ShowNetworks(context.Background())
	if err != nil {
		t.Fatalf("ShowNetworks: %v", err)
	}
	want := []LinkSubnet{
		{Link: "net_ab", Subnet: netip.MustParsePrefix("172.20.0.0/24")},
		{Link: "net_bc", Subnet: netip.MustParsePrefix("172.20.1.0/24")},
	}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestSetNetworks(t *testing.T) {
	ctx := context.Background()
	newSubnets := []netip.Prefix{
		netip.MustParsePrefix("10.200.5.0/24"),
		netip.MustParsePrefix("10.200.6.0/24"),
	}

	t.Run("translates compose and router configs by offset", func(t *testing.T) {
		e, cfg := newLab(t, healthyCompose, healthyFRR)
		report, err := e.SetNetworks(ctx, newSubnets, false)
		if err != nil {
			t.Fatalf("SetNetworks: %v", err)
		}
		if len(report.Rewritten) != 4 {
			t.Errorf("rewrote %v, want compose and three router configs", report.Rewritten)
		}

		compose := readFile(t, cfg.ComposePath())
		if !strings.Contains(compose, "ipv4_address: 10.200.5.10") {
			t.Errorf("r1 address not translated:\n%s", compose)
		}
		if !strings.Contains(compose, "subnet: 10.200.6.0/24") {
			t.Errorf("link B subnet not translated:\n%s", compose)
		}
		if strings.Contains(compose, "172.20.") {
			t.Errorf("old addresses survived:\n%s", compose)
		}
		if !strings.Contains(compose, "8.8.8.8") {
			t.Errorf("unrelated address was touched:\n%s", compose)
		}

		r1 := readFile(t, cfg.FRRConfPath("r1"))
		if !strings.Contains(r1, "neighbor 10.200.5.11 remote-as 65002") {
			t.Errorf("r1 neighbor not translated:\n%s", r1)
		}
		r2 := readFile(t, cfg.FRRConfPath("r2"))
		if !strings.Contains(r2, "neighbor 10.200.6.11 remote-as 65003") {
			t.Errorf("r2 neighbor not translated:\n%s", r2)
		}
	})

	t.Run("no-op when subnets already match", func(t *testing.T) {
		e, _ := newLab(t, healthyCompose, healthyFRR)
		current := []netip.Prefix{
			netip.MustParsePrefix("172.20.0.0/24"),
			netip.MustParsePrefix("172.20.1.0/24"),
		}
		report, err := e.SetNetworks(ctx, current, false)
		if err != nil {
			t.Fatalf("SetNetworks: %v", err)
		}
		if len(report.Rewritten) != 0 {
			t.Errorf("rewrote %v, want nothing", report.Rewritten)
		}
	})

	t.Run("fixes gateway collisions in the new subnets", func(t *testing.T) {
		broken := strings.Replace(healthyCompose, "ipv4_address: 172.20.0.10", "ipv4_address: 172.20.0.1", 1)
		e, cfg := newLab(t, broken, nil)
		report, err := e.SetNetworks(ctx, newSubnets, true)
		if err != nil {
			t.Fatalf("SetNetworks: %v", err)
		}
		if len(report.Findings) == 0 {
			t.Error("expected a gateway fix finding")
		}
		compose := readFile(t, cfg.ComposePath())
		if strings.Contains(compose, "ipv4_address: 10.200.5.1\n") {
			t.Errorf("gateway address survived:\n%s", compose)
		}
		if !strings.Contains(compose, "ipv4_address: 10.200.5.10") {
			t.Errorf("no safe substitute assigned:\n%s", compose)
		}
	})

	t.Run("injects fresh networks when none declared", func(t *testing.T) {
		bare := "services:\n  r1:\n    image: busybox\n"
		frr := map[string]string{"r1": healthyFRR["r1"]}
		e, cfg := newLab(t, bare, frr)
		report, err := e.SetNetworks(ctx, newSubnets, false)
		if err != nil {
			t.Fatalf("SetNetworks: %v", err)
		}
		if len(report.Rewritten) != 1 {
			t.Errorf("rewrote %v, want compose only", report.Rewritten)
		}

		compose := readFile(t, cfg.ComposePath())
		if !strings.Contains(compose, "subnet: 10.200.5.0/24") || !strings.Contains(compose, "subnet: 10.200.6.0/24") {
			t.Errorf("networks not injected:\n%s", compose)
		}
		// no old-to-new mapping exists, router configs stay untouched
		if got := readFile(t, cfg.FRRConfPath("r1")); got != healthyFRR["r1"] {
			t.Errorf("r1 config was modified:\n%s", got)
		}
	})

	t.Run("rejects mismatched subnet count", func(t *testing.T) {
		e, _ := newLab(t, healthyCompose, nil)
		if _, err := e.SetNetworks(ctx, newSubnets[:1], false); err == nil {
			t.Error("expected error for one subnet on two links")
		}
	})

	t.Run("rejects incompatible subnet sizes", func(t *testing.T) {
		e, _ := newLab(t, healthyCompose, nil)
		bad := []netip.Prefix{
			netip.MustParsePrefix("10.200.5.0/25"),
			netip.MustParsePrefix("10.200.6.0/24"),
		}
		if _, err := e.SetNetworks(ctx, bad, false); err == nil {
			t.Error("expected size mismatch error")
		}
	})
}

type fakeSurveyor struct {
	subnets []netip.Prefix
	err     error
}

func (f *fakeSurveyor) UsedSubnets(ctx context.Context) ([]netip.Prefix, error) {
	return f.subnets, f.err
}

func TestAutoNetworks(t *testing.T) {
	ctx := context.Background()

	t.Run("skips runtime-occupied blocks", func(t *testing.T) {
		_, cfg := newLab(t, healthyCompose, healthyFRR)
		sv := &fakeSurveyor{subnets: []netip.Prefix{netip.MustParsePrefix("10.200.0.0/24")}}
		e := New(cfg, sv, nil)

		report, err := e.AutoNetworks(ctx, false)
		if err != nil {
			t.Fatalf("AutoNetworks: %v", err)
		}
		want := []netip.Prefix{
			netip.MustParsePrefix("10.200.1.0/24"),
			netip.MustParsePrefix("10.200.2.0/24"),
		}
		if len(report.Subnets) != 2 || report.Subnets[0] != want[0] || report.Subnets[1] != want[1] {
			t.Errorf("selected %v, want %v", report.Subnets, want)
		}
		compose := readFile(t, cfg.ComposePath())
		if !strings.Contains(compose, "subnet: 10.200.1.0/24") {
			t.Errorf("selection not applied:\n%s", compose)
		}
	})

	t.Run("failed survey aborts without writing", func(t *testing.T) {
		_, cfg := newLab(t, healthyCompose, nil)
		sv := &fakeSurveyor{err: errors.New("daemon unreachable")}
		e := New(cfg, sv, nil)

		if _, err := e.AutoNetworks(ctx, false); err == nil {
			t.Fatal("expected survey error")
		}
		if got := readFile(t, cfg.ComposePath()); got != healthyCompose {
			t.Error("compose was modified despite failed survey")
		}
	})

	t.Run("no surveyor configured", func(t *testing.T) {
		e, _ := newLab(t, healthyCompose, nil)
		if _, err := e.AutoNetworks(ctx, false); err == nil {
			t.Error("expected error without a surveyor")
		}
	})
}

const messyCompose = `services:
  r1:
    image: frrouting/frr:v8.4.1
    networks:
      - net_ab
  r2:
    image: frrouting/frr:v8.4.1
    networks:
      - net_ab
      - net_bc
  r3:
    image: frrouting/frr:v8.4.1
    networks:
      net_bc:
        ipv4_address: 172.20.1.99

networks:
  net_ab:
    driver: bridge
    ipam:
      config:
        - subnet: 172.20.0.0/24
  net_bc:
    driver: bridge
    ipam:
      config:
        - subnet: 172.20.1.0/24
  net_ab:
    driver: bridge
    ipam:
      config:
        - subnet: 172.20.0.0/24
`

func TestFixTopology(t *testing.T) {
	frr := map[string]string{
		"r1": "router bgp 65001\n neighbor 10.9.9.2 remote-as 65002\n",
		"r2": "router bgp 65002\n neighbor 10.9.9.1 remote-as 65001\n neighbor 10.9.9.3 remote-as 65003\n",
		"r3": "router bgp 65003\n neighbor 10.9.9.2 remote-as 65002\n",
	}
	e, cfg := newLab(t, messyCompose, frr)

	report, err := e.FixTopology(context.Background())
	if err != nil {
		t.Fatalf("FixTopology: %v", err)
	}
	if len(report.Rewritten) == 0 {
		t.Fatal("expected rewrites")
	}

	compose := readFile(t, cfg.ComposePath())
	for _, addr := range []string{"172.20.0.10", "172.20.0.11", "172.20.1.10", "172.20.1.11"} {
		if !strings.Contains(compose, "ipv4_address: "+addr) {
			t.Errorf("planned address %s missing:\n%s", addr, compose)
		}
	}
	if strings.Contains(compose, "172.20.1.99") {
		t.Errorf("stale address survived:\n%s", compose)
	}
	if strings.Count(compose, "subnet: 172.20.0.0/24") != 1 {
		t.Errorf("duplicate network block survived:\n%s", compose)
	}

	r1 := readFile(t, cfg.FRRConfPath("r1"))
	if !strings.Contains(r1, "neighbor 172.20.0.11 remote-as 65002") {
		t.Errorf("r1 neighbor not aligned:\n%s", r1)
	}
	r2 := readFile(t, cfg.FRRConfPath("r2"))
	if !strings.Contains(r2, "neighbor 172.20.0.10 remote-as 65001") ||
		!strings.Contains(r2, "neighbor 172.20.1.11 remote-as 65003") {
		t.Errorf("r2 neighbors not aligned:\n%s", r2)
	}
	r3 := readFile(t, cfg.FRRConfPath("r3"))
	if !strings.Contains(r3, "neighbor 172.20.1.10 remote-as 65002") {
		t.Errorf("r3 neighbor not aligned:\n%s", r3)
	}
}

const labConfig = `metadata:
  lab_name: demo
routers:
  - name: r1
    asn: 65001
    role: edge
    router_id: 1.1.1.1
    networks:
      - 203.0.113.0/24
    peers:
      - neighbor: r2
        link: net_ab
  - name: r2
    asn: 65002
    role: transit
    router_id: 2.2.2.2
    peers:
      - neighbor: r1
        link: net_ab
      - neighbor: r3
        link: net_bc
  - name: r3
    asn: 65003
    role: edge
    router_id: 3.3.3.3
    peers:
      - neighbor: r2
        link: net_bc
links:
  net_ab:
    ipv4_subnet: 172.20.0.0/24
  net_bc:
    ipv4_subnet: 172.20.1.0/24
`

func TestGenerate(t *testing.T) {
	ctx := context.Background()

	t.Run("writes the full artifact set", func(t *testing.T) {
		e, cfg := newLab(t, "", nil)
		writeFile(t, cfg.LabConfigPath(), labConfig)
		outDir := filepath.Join(cfg.RepoDir, "generated_lab")

		written, err := e.Generate(ctx, outDir, false)
		if err != nil {
			t.Fatalf("Generate: %v", err)
		}

		for _, rel := range []string{
			"docker-compose.yml",
			"topology-metadata.json",
			filepath.Join("frr", "r1", "frr.conf"),
			filepath.Join("frr", "r1", "daemons"),
			filepath.Join("frr", "r3", "frr.conf"),
		} {
			path := filepath.Join(outDir, rel)
			if _, err := os.Stat(path); err != nil {
				t.Errorf("missing artifact %s: %v", rel, err)
			}
		}

		// metadata is fanned out next to the lab description
		fanout := filepath.Join(cfg.RepoDir, "topology-metadata.json")
		if _, err := os.Stat(fanout); err != nil {
			t.Errorf("metadata fan-out missing: %v", err)
		}
		if len(written) == 0 {
			t.Error("no written paths reported")
		}
	})

	t.Run("validate-only writes nothing", func(t *testing.T) {
		e, cfg := newLab(t, "", nil)
		writeFile(t, cfg.LabConfigPath(), labConfig)
		outDir := filepath.Join(cfg.RepoDir, "generated_lab")

		written, err := e.Generate(ctx, outDir, true)
		if err != nil {
			t.Fatalf("Generate: %v", err)
		}
		if len(written) != 0 {
			t.Errorf("wrote %v in validate-only mode", written)
		}
		if _, err := os.Stat(outDir); !os.IsNotExist(err) {
			t.Errorf("output dir exists after validate-only")
		}
	})

	t.Run("invalid description is rejected", func(t *testing.T) {
		e, cfg := newLab(t, "", nil)
		bad := strings.Replace(labConfig, "link: net_bc", "link: net_xy", 2)
		writeFile(t, cfg.LabConfigPath(), bad)

		if _, err := e.Generate(ctx, t.TempDir(), false); err == nil {
			t.Error("expected validation error")
		}
	})

	t.Run("missing description is fatal", func(t *testing.T) {
		e, _ := newLab(t, "", nil)
		if _, err := e.Generate(ctx, t.TempDir(), false); !errors.Is(err, ErrMissingArtifact) {
			t.Errorf("err = %v, want ErrMissingArtifact", err)
		}
	})
}
