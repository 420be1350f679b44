// Package config provides explicit configuration for the lab engine.
//
// Every operation receives a Lab value; nothing is read from ambient state
// mid-algorithm. Artifact locations, the router roster, the repair-path
// offset table and the auto-select candidate pool all live here.
//
// Config file locations (priority order):
//  1. $LABNET_CONFIG
//  2. <repo>/labnet.yaml
//
// With no config file, defaults describe the canonical three-router lab
// (r1 -- net_ab -- r2 -- net_bc -- r3).
package config

import (
	"fmt"
	"net/netip"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const (
	// EnvConfigPath is the environment variable for an explicit config path
	EnvConfigPath = "LABNET_CONFIG"
	// ConfigFileName is the default config file name inside the repo
	ConfigFileName = "labnet.yaml"
)

// RouterConfig names one router of the repair-path roster and binds it to
// a routing identifier and its per-link host offsets
type RouterConfig struct {
	Name string `yaml:"name"`
	ASN  uint32 `yaml:"asn"`
	// Offsets maps link name -> host offset from the subnet base. The
	// deterministic repair convention assigns +10 and +11 on each link, in
	// the link's declared attachment order.
	Offsets map[string]uint32 `yaml:"offsets"`
}

// Lab is the full engine configuration
type Lab struct {
	// RepoDir is the lab repository root holding all artifacts
	RepoDir string `yaml:"repo_dir"`
	// ComposeFile is the services descriptor, relative to RepoDir
	ComposeFile string `yaml:"compose_file"`
	// FRRDir holds per-router config directories, relative to RepoDir
	FRRDir string `yaml:"frr_dir"`
	// LabConfigFile is the declarative topology description (generation path)
	LabConfigFile string `yaml:"lab_config_file"`
	// JournalFile is the sqlite run journal, relative to RepoDir; empty
	// disables journaling
	JournalFile string `yaml:"journal_file"`

	// LinkNames are the named links in canonical order; the first two
	// discovered subnets bind to them positionally
	LinkNames []string `yaml:"link_names"`
	// Routers is the fixed roster the repair path assumes
	Routers []RouterConfig `yaml:"routers"`

	// CandidatePool is carved for fresh subnets on the auto-select path
	CandidatePool string `yaml:"candidate_pool"`
	// CandidatePrefixLen is the size of auto-selected subnets
	CandidatePrefixLen int `yaml:"candidate_prefix_len"`
}

// Load finds and loads the config file, or returns defaults if none found
func Load(repoDir string) (*Lab, error) {
	path := os.Getenv(EnvConfigPath)
	if path == "" {
		candidate := filepath.Join(repoDir, ConfigFileName)
		if _, err := os.Stat(candidate); err == nil {
			path = candidate
		}
	}
	if path == "" {
		cfg := Default()
		cfg.RepoDir = repoDir
		return cfg, nil
	}
	return LoadFromPath(path, repoDir)
}

// LoadFromPath loads config from a specific path
func LoadFromPath(path, repoDir string) (*Lab, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Lab
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	if cfg.RepoDir == "" {
		cfg.RepoDir = repoDir
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the canonical three-router lab configuration
func Default() *Lab {
	cfg := &Lab{}
	cfg.applyDefaults()
	return cfg
}

func (c *Lab) applyDefaults() {
	if c.ComposeFile == "" {
		c.ComposeFile = "docker-compose.yml"
	}
	if c.FRRDir == "" {
		c.FRRDir = "frr"
	}
	if c.LabConfigFile == "" {
		c.LabConfigFile = "lab_config.yaml"
	}
	if c.JournalFile == "" {
		c.JournalFile = "labnet.db"
	}
	if len(c.LinkNames) == 0 {
		c.LinkNames = []string{"net_ab", "net_bc"}
	}
	if len(c.Routers) == 0 {
		c.Routers = []RouterConfig{
			{Name: "r1", ASN: 65001, Offsets: map[string]uint32{"net_ab": 10}},
			{Name: "r2", ASN: 65002, Offsets: map[string]uint32{"net_ab": 11, "net_bc": 10}},
			{Name: "r3", ASN: 65003, Offsets: map[string]uint32{"net_bc": 11}},
		}
	}
	if c.CandidatePool == "" {
		c.CandidatePool = "10.200.0.0/16"
	}
	if c.CandidatePrefixLen == 0 {
		c.CandidatePrefixLen = 24
	}
}

// Validate checks internal consistency of the configuration
func (c *Lab) Validate() error {
	if _, err := netip.ParsePrefix(c.CandidatePool); err != nil {
		return fmt.Errorf("invalid candidate pool %q: %w", c.CandidatePool, err)
	}
	if c.CandidatePrefixLen < 8 || c.CandidatePrefixLen > 30 {
		return fmt.Errorf("candidate prefix length /%d out of range", c.CandidatePrefixLen)
	}
	known := make(map[string]bool, len(c.LinkNames))
	for _, l := range c.LinkNames {
		known[l] = true
	}
	for _, r := range c.Routers {
		if r.Name == "" {
			return fmt.Errorf("router with empty name in roster")
		}
		if r.ASN == 0 {
			return fmt.Errorf("router %s has no ASN", r.Name)
		}
		for link := range r.Offsets {
			if !known[link] {
				return fmt.Errorf("router %s references unknown link %q", r.Name, link)
			}
		}
	}
	return nil
}

// ComposePath is the absolute path of the services descriptor
func (c *Lab) ComposePath() string {
	return filepath.Join(c.RepoDir, c.ComposeFile)
}

// FRRConfPath is the absolute path of one router's FRR config
func (c *Lab) FRRConfPath(router string) string {
	return filepath.Join(c.RepoDir, c.FRRDir, router, "frr.conf")
}

// LabConfigPath is the absolute path of the topology description
func (c *Lab) LabConfigPath() string {
	return filepath.Join(c.RepoDir, c.LabConfigFile)
}

// JournalPath is the absolute path of the run journal, or empty when
// journaling is disabled
func (c *Lab) JournalPath() string {
	if c.JournalFile == "" {
		return ""
	}
	return filepath.Join(c.RepoDir, c.JournalFile)
}

// Router returns the roster entry with the given name, or nil
func (c *Lab) Router(name string) *RouterConfig {
	for i := range c.Routers {
		if c.Routers[i].Name == name {
			return &c.Routers[i]
		}
	}
	return nil
}

// RouterByASN returns the roster entry with the given ASN, or nil
func (c *Lab) RouterByASN(asn uint32) *RouterConfig {
	for i := range c.Routers {
		if c.Routers[i].ASN == asn {
			return &c.Routers[i]
		}
	}
	return nil
}
