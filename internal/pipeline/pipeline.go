// Package pipeline orchestrates the release task sequence: update (refresh
// tags), archive (build and store the source archive), publish (push to the
// package index). Tasks run strictly in order and the run stops at the
// first failure. The whole sequence is gated on HEAD carrying an exact tag;
// a guard miss is a successful no-op, not an error.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/google/uuid"

	"git.home.luguber.info/inful/relbuilder/internal/announce"
	"git.home.luguber.info/inful/relbuilder/internal/archive"
	"git.home.luguber.info/inful/relbuilder/internal/changelog"
	"git.home.luguber.info/inful/relbuilder/internal/config"
	gitx "git.home.luguber.info/inful/relbuilder/internal/git"
	"git.home.luguber.info/inful/relbuilder/internal/logfields"
	"git.home.luguber.info/inful/relbuilder/internal/manifest"
	"git.home.luguber.info/inful/relbuilder/internal/metrics"
	"git.home.luguber.info/inful/relbuilder/internal/publish"
	"git.home.luguber.info/inful/relbuilder/internal/runstore"
	relver "git.home.luguber.info/inful/relbuilder/internal/version"
)

// TaskStatus is the outcome of a single task.
type TaskStatus string

const (
	StatusSuccess TaskStatus = "success"
	StatusSkipped TaskStatus = "skipped"
	StatusFailed  TaskStatus = "failed"
)

// Task names, fixed and ordered.
const (
	TaskUpdate  = "update"
	TaskArchive = "archive"
	TaskPublish = "publish"
)

// Outcome is the final status of a run.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

// TaskResult records one executed (or skipped) task.
type TaskResult struct {
	Name     string
	Status   TaskStatus
	Duration time.Duration
	Err      error
}

// Result summarizes a pipeline run.
type Result struct {
	RunID    string
	Commit   string
	Tag      string
	Version  string
	Artifact *archive.Result
	Outcome  Outcome
	Tasks    []TaskResult
	Duration time.Duration
}

// ArtifactUploader pushes the built archive to the artifact host.
type ArtifactUploader interface {
	Upload(ctx context.Context, archivePath, sha256Hex string) error
}

// IndexUploader publishes the source distribution to the package index.
type IndexUploader interface {
	Publish(ctx context.Context, meta publish.Metadata, archivePath, sha256Hex string) error
}

// Announcer broadcasts a completed release.
type Announcer interface {
	Publish(ctx context.Context, event announce.ReleaseEvent) error
}

// Runner executes the pipeline against one repository.
type Runner struct {
	cfg      *config.Config
	repo     *gogit.Repository
	client   *gitx.Client
	builder  *archive.Builder
	artifact ArtifactUploader
	index    IndexUploader
	store    *runstore.Store
	recorder metrics.Recorder
	announce Announcer
	dryRun   bool
	now      func() time.Time
}

// Option configures a Runner.
type Option func(*Runner)

// WithArtifactUploader wires the artifact host target.
func WithArtifactUploader(u ArtifactUploader) Option { return func(r *Runner) { r.artifact = u } }

// WithIndexUploader wires the package index target.
func WithIndexUploader(u IndexUploader) Option { return func(r *Runner) { r.index = u } }

// WithStore records runs into the given history store.
func WithStore(s *runstore.Store) Option { return func(r *Runner) { r.store = s } }

// WithRecorder wires a metrics recorder.
func WithRecorder(m metrics.Recorder) Option { return func(r *Runner) { r.recorder = m } }

// WithAnnouncer wires a release announcer.
func WithAnnouncer(a Announcer) Option { return func(r *Runner) { r.announce = a } }

// WithDryRun builds everything but skips uploads and announcements.
func WithDryRun(dry bool) Option { return func(r *Runner) { r.dryRun = dry } }

// NewRunner creates a pipeline runner.
func NewRunner(cfg *config.Config, repo *gogit.Repository, client *gitx.Client, opts ...Option) *Runner {
	r := &Runner{
		cfg:      cfg,
		repo:     repo,
		client:   client,
		builder:  archive.NewBuilder(cfg.Archive.OutputDir),
		recorder: metrics.NopRecorder{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes the full pipeline once. A missing exact tag yields
// OutcomeSkipped and a nil error; any task failure yields OutcomeFailed and
// the task's error.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	started := r.now()
	result := &Result{RunID: uuid.NewString()}

	slog.Info("Starting release pipeline",
		logfields.RunID(result.RunID),
		logfields.Repository(r.cfg.Project.Name))

	// update: refresh tags from the remote so the guard sees current truth.
	r.runTask(ctx, result, TaskUpdate, func() error {
		return r.client.FetchTags(ctx, r.repo)
	})
	if result.Outcome == OutcomeFailed {
		r.appendSkipped(result, TaskArchive, TaskPublish)
		return r.finish(ctx, result, started)
	}

	commit, err := gitx.Head(r.repo)
	if err != nil {
		result.Outcome = OutcomeFailed
		r.appendSkipped(result, TaskArchive, TaskPublish)
		_, _ = r.finish(ctx, result, started)
		return result, err
	}
	result.Commit = commit

	// The guard: is this commit an exact tag?
	tag, err := gitx.ExactTag(r.repo)
	if err != nil {
		if gitx.IsNoTag(err) {
			slog.Info("No exact tag on HEAD, nothing to release",
				logfields.RunID(result.RunID),
				slog.String("commit", shortHash(commit)))
			result.Outcome = OutcomeSkipped
			r.appendSkipped(result, TaskArchive, TaskPublish)
			return r.finish(ctx, result, started)
		}
		result.Outcome = OutcomeFailed
		r.appendSkipped(result, TaskArchive, TaskPublish)
		_, _ = r.finish(ctx, result, started)
		return result, err
	}

	result.Tag = tag
	result.Version = relver.FromTag(tag)
	archiveName := relver.ArchiveName(r.cfg.Project.Name, result.Version)
	prefix := r.cfg.Archive.Prefix
	if prefix == "" {
		prefix = fmt.Sprintf("%s-%s", r.cfg.Project.Name, result.Version)
	}

	slog.Info("Release tag found",
		logfields.RunID(result.RunID),
		logfields.Tag(tag),
		logfields.Version(result.Version),
		logfields.Artifact(archiveName))

	// archive: build the source archive and upload it to the artifact host.
	r.runTask(ctx, result, TaskArchive, func() error {
		commitObj, tree, err := gitx.TreeAt(r.repo, tag)
		if err != nil {
			return err
		}
		res, err := r.builder.Build(commitObj, tree, archiveName, prefix)
		if err != nil {
			return err
		}
		result.Artifact = res
		slog.Info("Archive built",
			logfields.RunID(result.RunID),
			logfields.Artifact(res.Path),
			slog.Int64("size", res.Size),
			slog.String("sha256", res.SHA256))

		if r.artifact == nil || r.dryRun {
			slog.Info("Artifact upload disabled, keeping local archive", logfields.RunID(result.RunID))
			return nil
		}
		uploadStart := r.now()
		if err := r.artifact.Upload(ctx, res.Path, res.SHA256); err != nil {
			return err
		}
		uploadDuration := r.now().Sub(uploadStart)
		r.recorder.ObserveUpload("artifact", uploadDuration)
		slog.Debug("Upload completed",
			logfields.RunID(result.RunID),
			logfields.Target("artifact"),
			logfields.DurationMS(float64(uploadDuration.Milliseconds())))
		return nil
	})
	if result.Outcome == OutcomeFailed {
		r.appendSkipped(result, TaskPublish)
		return r.finish(ctx, result, started)
	}

	// publish: push the source distribution to the package index.
	r.runTask(ctx, result, TaskPublish, func() error {
		if r.index == nil || r.dryRun {
			slog.Info("Index publishing disabled", logfields.RunID(result.RunID))
			return nil
		}
		notes, err := changelog.NotesFor(r.cfg.Project.ChangelogPath, result.Version)
		if err != nil {
			slog.Warn("Changelog extraction failed", logfields.RunID(result.RunID), logfields.Error(err))
		}
		meta := publish.Metadata{
			Name:     relver.NormalizeName(r.cfg.Project.Name),
			Version:  result.Version,
			Summary:  r.cfg.Project.Summary,
			License:  r.cfg.Project.License,
			Homepage: r.cfg.Project.Homepage,
		}.WithDescription(r.cfg.Project.ReadmePath, notes)

		uploadStart := r.now()
		if err := r.index.Publish(ctx, meta, result.Artifact.Path, result.Artifact.SHA256); err != nil {
			return err
		}
		uploadDuration := r.now().Sub(uploadStart)
		r.recorder.ObserveUpload("index", uploadDuration)
		slog.Debug("Upload completed",
			logfields.RunID(result.RunID),
			logfields.Target("index"),
			logfields.DurationMS(float64(uploadDuration.Milliseconds())))
		return nil
	})

	return r.finish(ctx, result, started)
}

// runTask executes one task, timing it and recording the result. A task is
// not run at all once the pipeline has failed.
func (r *Runner) runTask(ctx context.Context, result *Result, name string, fn func() error) {
	start := r.now()
	err := fn()
	duration := r.now().Sub(start)

	tr := TaskResult{Name: name, Duration: duration}
	if err != nil {
		tr.Status = StatusFailed
		tr.Err = err
		result.Outcome = OutcomeFailed
		slog.Error("Task failed",
			logfields.Task(name),
			logfields.TaskStatus(string(tr.Status)),
			logfields.DurationMS(float64(duration.Milliseconds())),
			logfields.Error(err))
	} else {
		tr.Status = StatusSuccess
		slog.Debug("Task completed",
			logfields.Task(name),
			logfields.TaskStatus(string(tr.Status)),
			logfields.DurationMS(float64(duration.Milliseconds())))
	}
	result.Tasks = append(result.Tasks, tr)
	r.recorder.ObserveTask(name, string(tr.Status), duration)
}

func (r *Runner) appendSkipped(result *Result, names ...string) {
	for _, name := range names {
		result.Tasks = append(result.Tasks, TaskResult{Name: name, Status: StatusSkipped})
		r.recorder.ObserveTask(name, string(StatusSkipped), 0)
	}
}

// finish settles the outcome, persists the manifest and run record, and
// announces successful releases.
func (r *Runner) finish(ctx context.Context, result *Result, started time.Time) (*Result, error) {
	if result.Outcome == "" {
		result.Outcome = OutcomeSuccess
	}
	result.Duration = r.now().Sub(started)
	r.recorder.ObserveRun(string(result.Outcome), result.Duration)

	var runErr error
	for _, tr := range result.Tasks {
		if tr.Err != nil {
			runErr = fmt.Errorf("task %s: %w", tr.Name, tr.Err)
			break
		}
	}

	if result.Artifact != nil {
		if err := r.writeManifest(result, started); err != nil {
			slog.Warn("Failed to write release manifest", logfields.RunID(result.RunID), logfields.Error(err))
		}
	}

	if r.store != nil {
		if err := r.store.Record(ctx, r.toRun(result, started, runErr)); err != nil {
			slog.Warn("Failed to record run", logfields.RunID(result.RunID), logfields.Error(err))
		}
	}

	if result.Outcome == OutcomeSuccess && result.Tag != "" && r.announce != nil && !r.dryRun {
		event := announce.ReleaseEvent{
			Repo:    r.cfg.Project.Name,
			Tag:     result.Tag,
			Version: result.Version,
			Time:    r.now().UTC(),
		}
		if result.Artifact != nil {
			event.Artifact = filepath.Base(result.Artifact.Path)
			event.SHA256 = result.Artifact.SHA256
		}
		if err := r.announce.Publish(ctx, event); err != nil {
			// Announcing is best-effort: uploads are done and not rolled back.
			slog.Warn("Release announcement failed", logfields.RunID(result.RunID), logfields.Error(err))
		}
	}

	slog.Info("Pipeline finished",
		logfields.RunID(result.RunID),
		slog.String("outcome", string(result.Outcome)),
		logfields.DurationMS(float64(result.Duration.Milliseconds())))

	return result, runErr
}

func (r *Runner) writeManifest(result *Result, started time.Time) error {
	m := &manifest.ReleaseManifest{
		ID:        result.RunID,
		Timestamp: started.UTC(),
		Inputs: manifest.Inputs{
			Repo:   r.cfg.Project.Name,
			URL:    r.cfg.Repository.URL,
			Commit: result.Commit,
			Tag:    result.Tag,
		},
		Outputs: manifest.Outputs{
			Artifact:  filepath.Base(result.Artifact.Path),
			SHA256:    result.Artifact.SHA256,
			Size:      result.Artifact.Size,
			IndexName: relver.NormalizeName(r.cfg.Project.Name),
			Version:   result.Version,
		},
		Status:     string(result.Outcome),
		DurationMS: result.Duration.Milliseconds(),
	}
	for _, tr := range result.Tasks {
		errMsg := ""
		if tr.Err != nil {
			errMsg = tr.Err.Error()
		}
		m.TaskResults = append(m.TaskResults, manifest.TaskResult{
			Name:       tr.Name,
			Status:     string(tr.Status),
			DurationMS: tr.Duration.Milliseconds(),
			Error:      errMsg,
		})
	}
	return m.WriteFile(relver.ManifestName(result.Artifact.Path))
}

func (r *Runner) toRun(result *Result, started time.Time, runErr error) runstore.Run {
	run := runstore.Run{
		ID:         result.RunID,
		Tag:        result.Tag,
		Version:    result.Version,
		Commit:     result.Commit,
		Outcome:    string(result.Outcome),
		Started:    started,
		DurationMS: result.Duration.Milliseconds(),
	}
	if result.Artifact != nil {
		run.Artifact = filepath.Base(result.Artifact.Path)
	}
	if runErr != nil {
		run.Error = runErr.Error()
	}
	return run
}

func shortHash(hash string) string {
	if len(hash) > 8 {
		return hash[:8]
	}
	return hash
}
