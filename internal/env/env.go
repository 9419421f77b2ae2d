// Package env wires together the paths, configuration and shared caches
// that every packastack component is injected with, instead of each
// package reaching into os.Getenv or a package-global on its own.
package env

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Root is the root directory packastack operates out of: where
// packaging repository checkouts, cached release metadata and the run
// state store live, unless overridden per-subdirectory in Config.Paths.
var Root = findRoot()

func findRoot() string {
	if r := os.Getenv("PACKASTACKROOT"); r != "" {
		return r
	}
	return os.ExpandEnv("$HOME/packastack")
}

// Paths holds the on-disk layout, each defaulted relative to Root when
// left empty in the config file.
type Paths struct {
	PackagingRepos string `yaml:"packaging_repos"`
	ReleaseData    string `yaml:"release_data"`
	StateDir       string `yaml:"state_dir"`
	CacheDir       string `yaml:"cache_dir"`
	PoolDir        string `yaml:"pool_dir"`
}

func (p *Paths) applyDefaults(root string) {
	if p.PackagingRepos == "" {
		p.PackagingRepos = filepath.Join(root, "packaging")
	}
	if p.ReleaseData == "" {
		p.ReleaseData = filepath.Join(root, "releases")
	}
	if p.StateDir == "" {
		p.StateDir = filepath.Join(root, "state")
	}
	if p.CacheDir == "" {
		p.CacheDir = filepath.Join(root, "cache")
	}
	if p.PoolDir == "" {
		p.PoolDir = filepath.Join(root, "pool")
	}
}

// GitHubRegistry configures the fleet-management team repository
// authority used by internal/discovery.
type GitHubRegistry struct {
	Owner string `yaml:"owner"`
	Repo  string `yaml:"repo"`
	Path  string `yaml:"path"`
}

// Config is the top-level on-disk configuration file (packastack.yaml).
// Unknown keys are rejected at decode time (see Load), so a typo in the
// config file fails fast instead of being silently ignored.
type Config struct {
	Paths          Paths          `yaml:"paths"`
	Series         string         `yaml:"series"`
	GitHubRegistry GitHubRegistry `yaml:"github_registry"`
	Distribution   string         `yaml:"distribution"` // e.g. "noble"
	MaxParallel    int            `yaml:"max_parallel"`
	UscanPath      string         `yaml:"uscan_path"`
	SbuildPath     string         `yaml:"sbuild_path"`
	GbpPath        string         `yaml:"gbp_path"`
}

func defaultConfig() Config {
	return Config{
		Distribution: "noble",
		MaxParallel:  defaultParallelWorkers(),
		UscanPath:    "uscan",
		SbuildPath:   "sbuild",
		GbpPath:      "gbp",
	}
}

// defaultParallelWorkers mirrors the original planner's
// get_default_parallel_workers(): half the available CPUs, at least one.
func defaultParallelWorkers() int {
	n := numCPU()
	if n < 2 {
		return 1
	}
	return n / 2
}

// Load reads and validates a packastack.yaml configuration file, filling
// in path defaults relative to Root.
func Load(path string) (Config, error) {
	cfg := defaultConfig()
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("opening config %s: %w", path, err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
	}
	cfg.Paths.applyDefaults(Root)
	if cfg.Series == "" {
		return Config{}, fmt.Errorf("config %s: series is required", path)
	}
	if cfg.MaxParallel < 1 {
		cfg.MaxParallel = defaultParallelWorkers()
	}
	return cfg, nil
}

// Env is the dependency-injection root passed down into every component:
// resolved configuration plus the directories it implies. Components take
// an *Env rather than reading global state, so tests can construct one
// pointed at a temp directory.
type Env struct {
	Config Config
	Root   string
}

// New constructs an Env from a loaded Config.
func New(cfg Config) *Env {
	return &Env{Config: cfg, Root: Root}
}

// EnsureDirs creates the directories Config.Paths names, if missing.
func (e *Env) EnsureDirs() error {
	for _, dir := range []string{
		e.Config.Paths.PackagingRepos,
		e.Config.Paths.ReleaseData,
		e.Config.Paths.StateDir,
		e.Config.Paths.CacheDir,
		e.Config.Paths.PoolDir,
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	return nil
}
