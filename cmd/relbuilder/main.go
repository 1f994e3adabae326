package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	gogit "github.com/go-git/go-git/v5"

	"git.home.luguber.info/inful/relbuilder/internal/config"
	"git.home.luguber.info/inful/relbuilder/internal/daemon"
	gitx "git.home.luguber.info/inful/relbuilder/internal/git"
	"git.home.luguber.info/inful/relbuilder/internal/pipeline"
	"git.home.luguber.info/inful/relbuilder/internal/publish"
	"git.home.luguber.info/inful/relbuilder/internal/runstore"
	"git.home.luguber.info/inful/relbuilder/internal/version"
	"git.home.luguber.info/inful/relbuilder/internal/workspace"
)

var CLI struct {
	Config  string `short:"c" help:"Configuration file path" default:"relbuilder.yaml"`
	Verbose bool   `short:"v" help:"Enable verbose logging"`

	Run struct {
		Repo   string `short:"r" help:"Repository path override"`
		DryRun bool   `help:"Build everything but skip uploads and announcements"`
	} `cmd:"" help:"Run the full release pipeline once"`

	Archive struct {
		Repo string `short:"r" help:"Repository path override"`
	} `cmd:"" help:"Build and upload the source archive without publishing to the index"`

	Publish struct {
		Repo string `short:"r" help:"Repository path override"`
	} `cmd:"" help:"Publish the tagged release to the package index"`

	Resolve struct {
		Repo string `short:"r" help:"Repository path override"`
	} `cmd:"" help:"Print the tag, version and artifact name for HEAD"`

	History struct {
		Limit int    `short:"n" help:"Number of runs to show" default:"20"`
		Tag   string `help:"Show only runs for this tag"`
	} `cmd:"" help:"Show recent release runs"`

	Init struct {
		Force bool `help:"Overwrite existing configuration file"`
	} `cmd:"" help:"Initialize a new configuration file"`

	Daemon struct{} `cmd:"" help:"Watch the repository and release new tags continuously"`
}

func main() {
	ctx := kong.Parse(&CLI)

	var err error
	switch ctx.Command() {
	case "run":
		err = withConfig(CLI.Run.Repo, func(cfg *config.Config) error {
			return runPipeline(cfg, true, true, CLI.Run.DryRun)
		})
	case "archive":
		err = withConfig(CLI.Archive.Repo, func(cfg *config.Config) error {
			return runPipeline(cfg, true, false, false)
		})
	case "publish":
		err = withConfig(CLI.Publish.Repo, func(cfg *config.Config) error {
			return runPipeline(cfg, false, true, false)
		})
	case "resolve":
		err = withConfig(CLI.Resolve.Repo, runResolve)
	case "history":
		err = withConfig("", func(cfg *config.Config) error {
			return runHistory(cfg, CLI.History.Limit, CLI.History.Tag)
		})
	case "init":
		setupLogging(&config.LoggingConfig{})
		err = config.Init(CLI.Config, CLI.Init.Force)
	case "daemon":
		err = withConfig("", runDaemon)
	}

	if err != nil {
		slog.Error("Command failed", "command", ctx.Command(), "error", err)
		os.Exit(1)
	}
}

// withConfig loads and validates configuration, applies the repository
// override, configures logging, then runs fn.
func withConfig(repoOverride string, fn func(*config.Config) error) error {
	cfg, err := config.Load(CLI.Config)
	if err != nil {
		// Logging is not configured yet; use a plain handler for the error.
		setupLogging(&config.LoggingConfig{})
		return err
	}
	if repoOverride != "" {
		cfg.Repository.Path = repoOverride
		cfg.Repository.URL = ""
	}
	setupLogging(&cfg.Logging)
	return fn(cfg)
}

func setupLogging(cfg *config.LoggingConfig) {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if CLI.Verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// runPipeline executes one pipeline run with the selected upload targets.
func runPipeline(cfg *config.Config, withArtifact, withIndex, dryRun bool) error {
	runCtx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client := gitx.NewClient(cfg.Repository, cfg.RetryPolicy())

	var repo *gogit.Repository
	if cfg.Repository.Path != "" {
		var err error
		repo, err = gitx.Open(cfg.Repository.Path)
		if err != nil {
			return err
		}
	} else {
		ws := workspace.NewManager("")
		if err := ws.Create(); err != nil {
			return err
		}
		defer func() {
			if err := ws.Cleanup(); err != nil {
				slog.Warn("Failed to cleanup workspace", "error", err)
			}
		}()
		var err error
		repo, err = client.Clone(runCtx, cfg.Repository.URL, ws.GetPath())
		if err != nil {
			return err
		}
	}

	opts := []pipeline.Option{pipeline.WithDryRun(dryRun)}

	if withArtifact && cfg.ArtifactHost.Enabled && !dryRun {
		token, err := publish.ResolveToken(cfg.ArtifactHost.TokenEnv, cfg.ArtifactHost.TokenFile)
		if err != nil {
			return err
		}
		opts = append(opts, pipeline.WithArtifactUploader(publish.NewArtifactHost(cfg.ArtifactHost.URL, token, cfg.RetryPolicy())))
	}
	if withIndex && cfg.Index.Enabled && !dryRun {
		token, err := publish.ResolveToken(cfg.Index.TokenEnv, cfg.Index.TokenFile)
		if err != nil {
			return err
		}
		opts = append(opts, pipeline.WithIndexUploader(publish.NewIndex(cfg.Index.URL, cfg.Index.Username, token, cfg.RetryPolicy())))
	}

	if store, err := openRunStore(cfg); err == nil {
		defer store.Close()
		opts = append(opts, pipeline.WithStore(store))
	} else {
		slog.Warn("Run store unavailable, history will not be recorded", "error", err)
	}

	runner := pipeline.NewRunner(cfg, repo, client, opts...)

	result, err := runner.Run(runCtx)
	if err != nil {
		return err
	}
	if result.Outcome == pipeline.OutcomeSkipped {
		fmt.Println("No exact tag on HEAD, nothing to release")
	}
	return nil
}

// runResolve answers "what would a release of HEAD look like" without
// touching the network.
func runResolve(cfg *config.Config) error {
	if cfg.Repository.Path == "" {
		return fmt.Errorf("resolve requires a local checkout (repository.path or --repo)")
	}
	repo, err := gitx.Open(cfg.Repository.Path)
	if err != nil {
		return err
	}

	tag, err := gitx.ExactTag(repo)
	if err != nil {
		if gitx.IsNoTag(err) {
			fmt.Println("No exact tag on HEAD, nothing to release")
			printReleaseTags(repo)
			return nil
		}
		return err
	}

	ver := version.FromTag(tag)
	fmt.Printf("tag:      %s\n", tag)
	fmt.Printf("version:  %s\n", ver)
	fmt.Printf("artifact: %s\n", version.ArchiveName(cfg.Project.Name, ver))
	return nil
}

// printReleaseTags lists the release-shaped tags known to the checkout.
func printReleaseTags(repo *gogit.Repository) {
	tags, err := gitx.ListTags(repo)
	if err != nil {
		return
	}
	var names []string
	for _, ti := range tags {
		if version.IsExact(ti.Name) {
			names = append(names, ti.Name)
		}
	}
	if len(names) > 0 {
		fmt.Printf("release tags: %s\n", strings.Join(names, ", "))
	}
}

func runHistory(cfg *config.Config, limit int, tag string) error {
	store, err := openRunStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	var runs []runstore.Run
	if tag != "" {
		runs, err = store.ByTag(ctx, tag)
	} else {
		runs, err = store.Recent(ctx, limit)
	}
	if err != nil {
		return err
	}

	if len(runs) == 0 {
		fmt.Println("No recorded runs")
		return nil
	}
	for _, run := range runs {
		line := fmt.Sprintf("%s  %-8s  %s", run.Started.Format(time.RFC3339), run.Outcome, run.Tag)
		if run.Tag == "" {
			line = fmt.Sprintf("%s  %-8s  (no tag)", run.Started.Format(time.RFC3339), run.Outcome)
		}
		if run.Artifact != "" {
			line += "  " + run.Artifact
		}
		if run.Error != "" {
			line += "  " + run.Error
		}
		fmt.Println(line)
	}
	return nil
}

func runDaemon(cfg *config.Config) error {
	slog.Info("Starting daemon mode", "data_dir", cfg.Daemon.DataDir)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	d, err := daemon.New(cfg, CLI.Config)
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	if err := d.Start(ctx); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	slog.Info("Daemon started, waiting for shutdown signal...")
	<-ctx.Done()
	slog.Info("Shutdown signal received, stopping daemon...")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()

	if err := d.Stop(stopCtx); err != nil {
		return fmt.Errorf("failed to stop daemon: %w", err)
	}

	slog.Info("Daemon stopped successfully")
	return nil
}

func openRunStore(cfg *config.Config) (*runstore.Store, error) {
	dataDir := cfg.Daemon.DataDir
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, err
	}
	return runstore.New(filepath.Join(dataDir, "runs.db"))
}
