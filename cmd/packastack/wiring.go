package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/google/go-github/v27/github"
	"github.com/spf13/cobra"
	"golang.org/x/oauth2"

	"github.com/canonical/packastack/internal/discovery"
	"github.com/canonical/packastack/internal/env"
	"github.com/canonical/packastack/internal/plan"
	"github.com/canonical/packastack/internal/releases"
	"github.com/canonical/packastack/internal/subprocess"
	"github.com/canonical/packastack/internal/upstream"
)

func loadEnv(cmd *cobra.Command) (*env.Env, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = filepath.Join(env.Root, "packastack.yaml")
	}
	cfg, err := env.Load(path)
	if err != nil {
		return nil, err
	}
	e := env.New(cfg)
	if err := e.EnsureDirs(); err != nil {
		return nil, err
	}
	return e, nil
}

func githubClient() *github.Client {
	token := os.Getenv("PACKASTACK_GITHUB_TOKEN")
	if token == "" {
		return github.NewClient(nil)
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	return github.NewClient(oauth2.NewClient(context.Background(), ts))
}

// basePlanRequest assembles the pieces of plan.Request that every
// subcommand shares: discovery authorities, the release metadata repo
// and the upstream project registry.
func basePlanRequest(e *env.Env, explicit []string) (plan.Request, error) {
	registry, err := upstream.Load(filepath.Join(e.Config.Paths.ReleaseData, "upstream-registry.yaml"))
	if err != nil {
		return plan.Request{}, fmt.Errorf("loading upstream registry: %w", err)
	}

	opts := discovery.Options{
		ExplicitList:  explicit,
		LocalCacheDir: e.Config.Paths.PackagingRepos,
	}
	if e.Config.GitHubRegistry.Owner != "" {
		opts.TeamRegistry = &discovery.TeamRegistryConfig{
			Client:   githubClient(),
			Owner:    e.Config.GitHubRegistry.Owner,
			Repo:     e.Config.GitHubRegistry.Repo,
			Path:     e.Config.GitHubRegistry.Path,
			CacheDir: e.Config.Paths.CacheDir,
		}
	}

	return plan.Request{
		Discovery:     opts,
		ReleasesRepo:  &releases.Repo{Path: e.Config.Paths.ReleaseData},
		Registry:      registry,
		Series:        e.Config.Series,
		BuildTypeMode: "auto",
		Parallel:      e.Config.MaxParallel,
	}, nil
}

func commandLogger() *log.Logger {
	return log.New(os.Stderr, "", log.LstdFlags)
}

func publishingTools(e *env.Env) subprocess.PackagingTools {
	return subprocess.PackagingTools{PublishDir: filepath.Join(e.Config.Paths.PoolDir, "incoming")}
}

func tarballAcquirer(e *env.Env) subprocess.TarballAcquirer {
	return subprocess.TarballAcquirer{
		GitHub: githubClient(),
		SrcDir: e.Config.Paths.PackagingRepos,
	}
}
