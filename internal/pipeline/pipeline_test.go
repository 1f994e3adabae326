package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/relbuilder/internal/announce"
	"git.home.luguber.info/inful/relbuilder/internal/config"
	gitx "git.home.luguber.info/inful/relbuilder/internal/git"
	"git.home.luguber.info/inful/relbuilder/internal/logfields"
	"git.home.luguber.info/inful/relbuilder/internal/manifest"
	"git.home.luguber.info/inful/relbuilder/internal/publish"
	"git.home.luguber.info/inful/relbuilder/internal/runstore"
)

var testSig = &object.Signature{
	Name:  "Release Bot",
	Email: "release@example.org",
	When:  time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
}

type fakeArtifactHost struct {
	calls int
	path  string
	sha   string
	err   error
}

func (f *fakeArtifactHost) Upload(_ context.Context, path, sha string) error {
	f.calls++
	f.path = path
	f.sha = sha
	return f.err
}

type fakeIndex struct {
	calls int
	meta  publish.Metadata
	err   error
}

func (f *fakeIndex) Publish(_ context.Context, meta publish.Metadata, _, _ string) error {
	f.calls++
	f.meta = meta
	return f.err
}

type fakeAnnouncer struct {
	events []announce.ReleaseEvent
	err    error
}

func (f *fakeAnnouncer) Publish(_ context.Context, e announce.ReleaseEvent) error {
	f.events = append(f.events, e)
	return f.err
}

func fixtureRepo(t *testing.T, tag string) *gogit.Repository {
	t.Helper()
	repo, err := gogit.PlainInit(t.TempDir(), false)
	require.NoError(t, err)
	wt, err := repo.Worktree()
	require.NoError(t, err)

	path := filepath.Join(wt.Filesystem.Root(), "README.md")
	require.NoError(t, os.WriteFile(path, []byte("# labxdb\n"), 0o644))
	_, err = wt.Add("README.md")
	require.NoError(t, err)
	hash, err := wt.Commit("initial", &gogit.CommitOptions{Author: testSig, Committer: testSig})
	require.NoError(t, err)

	if tag != "" {
		_, err = repo.CreateTag(tag, hash, nil)
		require.NoError(t, err)
	}
	return repo
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{
		Project: config.ProjectConfig{Name: "labxdb", Summary: "Lab database"},
		Archive: config.ArchiveConfig{OutputDir: t.TempDir(), Format: "tar.gz"},
	}
	return cfg
}

func newTestRunner(t *testing.T, tag string, opts ...Option) (*Runner, *config.Config) {
	t.Helper()
	cfg := testConfig(t)
	repo := fixtureRepo(t, tag)
	client := gitx.NewClient(config.RepositoryConfig{Remote: "origin"}, cfg.RetryPolicy())
	return NewRunner(cfg, repo, client, opts...), cfg
}

func TestRunNoTagIsSoftNoOp(t *testing.T) {
	store, err := runstore.New(":memory:")
	require.NoError(t, err)
	defer store.Close()

	host := &fakeArtifactHost{}
	idx := &fakeIndex{}
	runner, cfg := newTestRunner(t, "",
		WithArtifactUploader(host), WithIndexUploader(idx), WithStore(store))

	result, err := runner.Run(context.Background())
	require.NoError(t, err, "tag absence is success-with-no-action")
	assert.Equal(t, OutcomeSkipped, result.Outcome)
	assert.Nil(t, result.Artifact)
	assert.Zero(t, host.calls)
	assert.Zero(t, idx.calls)

	statuses := map[string]TaskStatus{}
	for _, tr := range result.Tasks {
		statuses[tr.Name] = tr.Status
	}
	assert.Equal(t, StatusSuccess, statuses[TaskUpdate])
	assert.Equal(t, StatusSkipped, statuses[TaskArchive])
	assert.Equal(t, StatusSkipped, statuses[TaskPublish])

	// No artifact must exist in the output directory.
	entries, err := os.ReadDir(cfg.Archive.OutputDir)
	require.NoError(t, err)
	assert.Empty(t, entries)

	runs, err := store.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "skipped", runs[0].Outcome)
}

func TestRunTaggedCommitReleases(t *testing.T) {
	store, err := runstore.New(":memory:")
	require.NoError(t, err)
	defer store.Close()

	host := &fakeArtifactHost{}
	idx := &fakeIndex{}
	ann := &fakeAnnouncer{}
	runner, cfg := newTestRunner(t, "v1.2.3",
		WithArtifactUploader(host), WithIndexUploader(idx), WithStore(store), WithAnnouncer(ann))

	result, err := runner.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, result.Outcome)
	assert.Equal(t, "v1.2.3", result.Tag)
	assert.Equal(t, "1.2.3", result.Version)

	require.NotNil(t, result.Artifact)
	assert.Equal(t, filepath.Join(cfg.Archive.OutputDir, "labxdb-1.2.3.tar.gz"), result.Artifact.Path)
	_, statErr := os.Stat(result.Artifact.Path)
	assert.NoError(t, statErr)

	assert.Equal(t, 1, host.calls)
	assert.Equal(t, result.Artifact.Path, host.path)
	assert.Equal(t, result.Artifact.SHA256, host.sha)

	assert.Equal(t, 1, idx.calls)
	assert.Equal(t, "labxdb", idx.meta.Name)
	assert.Equal(t, "1.2.3", idx.meta.Version)
	assert.Equal(t, "Lab database", idx.meta.Summary)

	// Manifest written next to the artifact.
	m, err := manifest.ReadFile(result.Artifact.Path + ".manifest.json")
	require.NoError(t, err)
	assert.Equal(t, "v1.2.3", m.Inputs.Tag)
	assert.Equal(t, "labxdb-1.2.3.tar.gz", m.Outputs.Artifact)
	assert.Equal(t, "success", m.Status)

	// Announced exactly once.
	require.Len(t, ann.events, 1)
	assert.Equal(t, "v1.2.3", ann.events[0].Tag)
	assert.Equal(t, "labxdb-1.2.3.tar.gz", ann.events[0].Artifact)

	ok, err := store.HasRelease(context.Background(), "v1.2.3")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRunArtifactUploadFailureStopsPipeline(t *testing.T) {
	store, err := runstore.New(":memory:")
	require.NoError(t, err)
	defer store.Close()

	host := &fakeArtifactHost{err: errors.New("host unreachable")}
	idx := &fakeIndex{}
	runner, _ := newTestRunner(t, "v1.0",
		WithArtifactUploader(host), WithIndexUploader(idx), WithStore(store))

	result, err := runner.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "task archive")
	assert.Equal(t, OutcomeFailed, result.Outcome)
	assert.Zero(t, idx.calls, "publish must not run after archive failure")

	statuses := map[string]TaskStatus{}
	for _, tr := range result.Tasks {
		statuses[tr.Name] = tr.Status
	}
	assert.Equal(t, StatusFailed, statuses[TaskArchive])
	assert.Equal(t, StatusSkipped, statuses[TaskPublish])

	runs, err := store.ByTag(context.Background(), "v1.0")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "failed", runs[0].Outcome)
	assert.Contains(t, runs[0].Error, "host unreachable")
}

func TestRunIndexFailure(t *testing.T) {
	idx := &fakeIndex{err: errors.New("invalid credentials")}
	runner, _ := newTestRunner(t, "v1.0", WithIndexUploader(idx))

	result, err := runner.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, OutcomeFailed, result.Outcome)
	assert.Contains(t, err.Error(), "task publish")
}

func TestRunDryRunSkipsUploads(t *testing.T) {
	host := &fakeArtifactHost{}
	idx := &fakeIndex{}
	ann := &fakeAnnouncer{}
	runner, _ := newTestRunner(t, "v2.0",
		WithArtifactUploader(host), WithIndexUploader(idx), WithAnnouncer(ann), WithDryRun(true))

	result, err := runner.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, result.Outcome)
	require.NotNil(t, result.Artifact, "dry run still builds the archive")
	assert.Zero(t, host.calls)
	assert.Zero(t, idx.calls)
	assert.Empty(t, ann.events)
}

func TestRunVersionStripsAllVs(t *testing.T) {
	runner, _ := newTestRunner(t, "v1.2v3", WithDryRun(true))

	result, err := runner.Run(context.Background())
	require.NoError(t, err)
	// The observed conversion removes every "v", not just the prefix.
	assert.Equal(t, "1.23", result.Version)
	assert.Equal(t, "labxdb-1.23.tar.gz", filepath.Base(result.Artifact.Path))
}

func TestRunUploadsAreOptional(t *testing.T) {
	runner, _ := newTestRunner(t, "v3.0")

	result, err := runner.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, result.Outcome)
	require.NotNil(t, result.Artifact)
}

// captureHandler collects log records so tests can assert structured
// attributes.
type captureHandler struct {
	mu      *sync.Mutex
	records *[]map[string]string
}

func newCaptureHandler() captureHandler {
	return captureHandler{mu: &sync.Mutex{}, records: &[]map[string]string{}}
}

func (h captureHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h captureHandler) Handle(_ context.Context, r slog.Record) error {
	m := map[string]string{"msg": r.Message}
	r.Attrs(func(a slog.Attr) bool {
		m[a.Key] = a.Value.String()
		return true
	})
	h.mu.Lock()
	*h.records = append(*h.records, m)
	h.mu.Unlock()
	return nil
}

func (h captureHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h captureHandler) WithGroup(string) slog.Handler      { return h }

func (h captureHandler) find(msg string) map[string]string {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, m := range *h.records {
		if m["msg"] == msg {
			return m
		}
	}
	return nil
}

func TestRunLogsCarryTaskStatusAndTarget(t *testing.T) {
	capture := newCaptureHandler()
	restore := slog.Default()
	slog.SetDefault(slog.New(capture))
	defer slog.SetDefault(restore)

	host := &fakeArtifactHost{}
	runner, _ := newTestRunner(t, "v1.0.0", WithArtifactUploader(host))

	_, err := runner.Run(context.Background())
	require.NoError(t, err)

	task := capture.find("Task completed")
	require.NotNil(t, task, "task completion log missing")
	assert.Equal(t, "success", task[logfields.KeyTaskStatus])
	assert.NotEmpty(t, task[logfields.KeyTask])

	upload := capture.find("Upload completed")
	require.NotNil(t, upload, "upload log missing")
	assert.Equal(t, "artifact", upload[logfields.KeyTarget])
}
