package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/relbuilder/internal/retry"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "relbuilder.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
project:
  name: labxdb
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "origin", cfg.Repository.Remote)
	assert.Equal(t, ".", cfg.Repository.Path)
	assert.Equal(t, "./dist", cfg.Archive.OutputDir)
	assert.Equal(t, "tar.gz", cfg.Archive.Format)
	assert.Equal(t, "__token__", cfg.Index.Username)
	assert.Equal(t, 5*time.Minute, cfg.PollInterval())
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configuration file not found")
}

func TestLoadExpandsEnvironment(t *testing.T) {
	t.Setenv("RELBUILDER_TEST_NAME", "labxdb")
	path := writeConfig(t, `
project:
  name: ${RELBUILDER_TEST_NAME}
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "labxdb", cfg.Project.Name)
}

func TestValidateRejectsIncompleteTargets(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"missing project name", func(c *Config) { c.Project.Name = "" }, "project.name"},
		{"bad format", func(c *Config) { c.Archive.Format = "zip" }, "unsupported archive format"},
		{"artifact host without url", func(c *Config) { c.ArtifactHost.Enabled = true }, "artifact_host.url"},
		{"index without url", func(c *Config) { c.Index.Enabled = true }, "index.url"},
		{"announce without nats", func(c *Config) { c.Announce.Enabled = true }, "announce.nats_url"},
		{"bad poll interval", func(c *Config) { c.Daemon.PollInterval = "often" }, "poll_interval"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := &Config{Project: ProjectConfig{Name: "p"}}
			cfg.applyDefaults()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestRetryPolicy(t *testing.T) {
	cfg := &Config{
		Retry: RetryConfig{MaxRetries: 4, Backoff: "exponential", InitialDelay: "500ms", MaxDelay: "10s"},
	}
	p := cfg.RetryPolicy()
	assert.Equal(t, retry.BackoffExponential, p.Mode)
	assert.Equal(t, 4, p.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, p.Initial)
	assert.Equal(t, 10*time.Second, p.Max)

	// Unset block falls back to the package default.
	assert.Equal(t, retry.DefaultPolicy(), (&Config{}).RetryPolicy())
}

func TestInitRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relbuilder.yaml")
	require.NoError(t, Init(path, false))

	err := Init(path, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	require.NoError(t, Init(path, true))

	// The scaffold must itself load and validate.
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "labxdb", cfg.Project.Name)
}
