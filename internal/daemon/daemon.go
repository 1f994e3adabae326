// Package daemon implements watch mode: poll the repository for freshly
// pushed release tags on a schedule and run the pipeline for each
// unreleased tag exactly once.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	gogit "github.com/go-git/go-git/v5"
	prom "github.com/prometheus/client_golang/prometheus"
	promcollect "github.com/prometheus/client_golang/prometheus/collectors"

	"git.home.luguber.info/inful/relbuilder/internal/announce"
	"git.home.luguber.info/inful/relbuilder/internal/config"
	gitx "git.home.luguber.info/inful/relbuilder/internal/git"
	"git.home.luguber.info/inful/relbuilder/internal/logfields"
	"git.home.luguber.info/inful/relbuilder/internal/metrics"
	"git.home.luguber.info/inful/relbuilder/internal/pipeline"
	"git.home.luguber.info/inful/relbuilder/internal/publish"
	"git.home.luguber.info/inful/relbuilder/internal/retry"
	"git.home.luguber.info/inful/relbuilder/internal/runstore"
	"git.home.luguber.info/inful/relbuilder/internal/version"
	"git.home.luguber.info/inful/relbuilder/internal/workspace"
)

// Daemon polls for new release tags and runs the pipeline.
type Daemon struct {
	mu         sync.RWMutex
	cfg        *config.Config
	configPath string

	scheduler gocron.Scheduler
	pollJob   gocron.Job
	runCtx    context.Context
	watcher   *ConfigWatcher
	server    *httpServer
	store     *runstore.Store
	workspace *workspace.Manager
	announcer *announce.Announcer

	registry *prom.Registry
	recorder *metrics.PrometheusRecorder

	pollRunning sync.Mutex // serializes polls; a slow release must not overlap the next tick
}

// New creates a daemon from a validated configuration. configPath enables
// hot reload; pass "" to disable watching.
func New(cfg *config.Config, configPath string) (*Daemon, error) {
	registry := prom.NewRegistry()
	registry.MustRegister(promcollect.NewGoCollector(), promcollect.NewProcessCollector(promcollect.ProcessCollectorOpts{}))

	ws := workspace.NewPersistentManager(cfg.Daemon.DataDir, "checkout")
	if err := ws.Create(); err != nil {
		return nil, err
	}

	store, err := runstore.New(filepath.Join(cfg.Daemon.DataDir, "runs.db"))
	if err != nil {
		return nil, fmt.Errorf("open run store: %w", err)
	}

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("create scheduler: %w", err)
	}

	d := &Daemon{
		cfg:        cfg,
		configPath: configPath,
		scheduler:  scheduler,
		store:      store,
		workspace:  ws,
		registry:   registry,
		recorder:   metrics.NewPrometheusRecorder(registry),
	}
	d.server = newHTTPServer(d)

	if cfg.Announce.Enabled {
		announcer, err := announce.New(cfg.Announce)
		if err != nil {
			slog.Warn("Announcer unavailable, continuing without announcements", logfields.Error(err))
		} else {
			d.announcer = announcer
		}
	}

	if configPath != "" {
		watcher, err := NewConfigWatcher(configPath, d)
		if err != nil {
			slog.Warn("Config watching unavailable", logfields.Error(err))
		} else {
			d.watcher = watcher
		}
	}

	return d, nil
}

// Start begins polling, config watching, and the HTTP endpoint. It returns
// once everything is running; HTTP server failures after startup are
// logged, not returned.
func (d *Daemon) Start(ctx context.Context) error {
	cfg := d.currentConfig()
	d.runCtx = ctx

	job, err := d.scheduler.NewJob(
		gocron.DurationJob(cfg.PollInterval()),
		gocron.NewTask(d.poll, ctx),
		gocron.WithName("tag-poll"),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return fmt.Errorf("schedule tag poll: %w", err)
	}
	d.pollJob = job
	d.scheduler.Start()
	slog.Info("Scheduler started", slog.Duration("poll_interval", cfg.PollInterval()))

	if d.watcher != nil {
		if err := d.watcher.Start(ctx); err != nil {
			slog.Warn("Config watcher failed to start", logfields.Error(err))
		}
	}

	if err := d.server.Start(cfg.Daemon.Listen, cfg.Daemon.MaxConns); err != nil {
		return err
	}

	return nil
}

// Stop shuts everything down gracefully.
func (d *Daemon) Stop(ctx context.Context) error {
	slog.Info("Stopping daemon")

	if d.watcher != nil {
		_ = d.watcher.Stop(ctx)
	}
	if err := d.scheduler.Shutdown(); err != nil {
		slog.Warn("Scheduler shutdown error", logfields.Error(err))
	}
	if d.server != nil {
		if err := d.server.Stop(ctx); err != nil {
			slog.Warn("HTTP server shutdown error", logfields.Error(err))
		}
	}
	if d.announcer != nil {
		d.announcer.Close()
	}
	return d.store.Close()
}

// Reload validates and swaps in a new configuration. An invalid file keeps
// the previous configuration running. A changed poll interval reschedules
// the tag poll job.
func (d *Daemon) Reload() error {
	cfg, err := config.Load(d.configPath)
	if err != nil {
		return err
	}

	d.mu.Lock()
	previous := d.cfg.PollInterval()
	d.cfg = cfg
	d.mu.Unlock()

	if cfg.PollInterval() != previous && d.pollJob != nil {
		job, err := d.scheduler.Update(
			d.pollJob.ID(),
			gocron.DurationJob(cfg.PollInterval()),
			gocron.NewTask(d.poll, d.runCtx),
			gocron.WithName("tag-poll"),
		)
		if err != nil {
			slog.Warn("Failed to reschedule tag poll, keeping previous interval", logfields.Error(err))
		} else {
			d.pollJob = job
			slog.Info("Tag poll rescheduled", slog.Duration("poll_interval", cfg.PollInterval()))
		}
	}

	slog.Info("Configuration reloaded", logfields.Path(d.configPath))
	return nil
}

func (d *Daemon) currentConfig() *config.Config {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cfg
}

// poll is one scheduler tick: refresh the checkout, check the guard, and
// release any tag that has not been released yet.
func (d *Daemon) poll(ctx context.Context) {
	if !d.pollRunning.TryLock() {
		slog.Debug("Previous poll still running, skipping tick")
		return
	}
	defer d.pollRunning.Unlock()

	cfg := d.currentConfig()
	client := gitx.NewClient(cfg.Repository, d.retryPolicy(cfg))

	repo, err := d.openOrClone(ctx, cfg, client)
	if err != nil {
		slog.Error("Repository unavailable", logfields.Error(err))
		return
	}

	if err := client.FetchTags(ctx, repo); err != nil {
		slog.Error("Tag fetch failed", logfields.Error(err))
		return
	}

	tag, err := gitx.ExactTag(repo)
	if err != nil {
		if gitx.IsNoTag(err) {
			slog.Debug("No exact tag on HEAD")
			return
		}
		slog.Error("Tag lookup failed", logfields.Error(err))
		return
	}

	if !version.IsExact(tag) {
		slog.Debug("Tag on HEAD is not a release tag, ignoring", logfields.Tag(tag))
		return
	}

	released, err := d.store.HasRelease(ctx, tag)
	if err != nil {
		slog.Error("Release lookup failed", logfields.Tag(tag), logfields.Error(err))
		return
	}
	if released {
		slog.Debug("Tag already released", logfields.Tag(tag))
		return
	}

	slog.Info("Unreleased tag detected", logfields.Tag(tag))
	d.release(ctx, cfg, repo, client)
}

// retryPolicy returns the configured backoff with retry attempts counted
// in the daemon's metrics registry.
func (d *Daemon) retryPolicy(cfg *config.Config) retry.Policy {
	p := cfg.RetryPolicy()
	p.OnRetry = d.recorder.IncRetry
	return p
}

// release builds a runner from the current config and executes it.
func (d *Daemon) release(ctx context.Context, cfg *config.Config, repo *gogit.Repository, client *gitx.Client) {
	opts := []pipeline.Option{
		pipeline.WithStore(d.store),
		pipeline.WithRecorder(d.recorder),
	}

	if cfg.ArtifactHost.Enabled {
		token, err := publish.ResolveToken(cfg.ArtifactHost.TokenEnv, cfg.ArtifactHost.TokenFile)
		if err != nil {
			slog.Error("Artifact host token unavailable", logfields.Error(err))
			return
		}
		opts = append(opts, pipeline.WithArtifactUploader(publish.NewArtifactHost(cfg.ArtifactHost.URL, token, d.retryPolicy(cfg))))
	}
	if cfg.Index.Enabled {
		token, err := publish.ResolveToken(cfg.Index.TokenEnv, cfg.Index.TokenFile)
		if err != nil {
			slog.Error("Index token unavailable", logfields.Error(err))
			return
		}
		opts = append(opts, pipeline.WithIndexUploader(publish.NewIndex(cfg.Index.URL, cfg.Index.Username, token, d.retryPolicy(cfg))))
	}
	if d.announcer != nil {
		opts = append(opts, pipeline.WithAnnouncer(d.announcer))
	}

	runner := pipeline.NewRunner(cfg, repo, client, opts...)

	runCtx, cancel := context.WithTimeout(ctx, 30*time.Minute)
	defer cancel()

	if _, err := runner.Run(runCtx); err != nil {
		slog.Error("Release run failed", logfields.Error(err))
	}
}

// openOrClone returns the tracked repository: the configured local path, or
// a clone maintained inside the daemon workspace.
func (d *Daemon) openOrClone(ctx context.Context, cfg *config.Config, client *gitx.Client) (*gogit.Repository, error) {
	if cfg.Repository.Path != "" && cfg.Repository.URL == "" {
		return gitx.Open(cfg.Repository.Path)
	}

	checkout := d.workspace.GetPath()
	if repo, err := gitx.Open(checkout); err == nil {
		return repo, nil
	}
	return client.Clone(ctx, cfg.Repository.URL, checkout)
}
