package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"git.home.luguber.info/inful/relbuilder/internal/retry"
)

// Config represents the application configuration
type Config struct {
	Project      ProjectConfig      `yaml:"project"`
	Repository   RepositoryConfig   `yaml:"repository"`
	Archive      ArchiveConfig      `yaml:"archive"`
	ArtifactHost ArtifactHostConfig `yaml:"artifact_host"`
	Index        IndexConfig        `yaml:"index"`
	Announce     AnnounceConfig     `yaml:"announce"`
	Daemon       DaemonConfig       `yaml:"daemon"`
	Retry        RetryConfig        `yaml:"retry"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// ProjectConfig describes the released project as it appears on the
// package index.
type ProjectConfig struct {
	Name          string `yaml:"name"`
	Summary       string `yaml:"summary,omitempty"`
	License       string `yaml:"license,omitempty"`
	Homepage      string `yaml:"homepage,omitempty"`
	ReadmePath    string `yaml:"readme,omitempty"`
	ChangelogPath string `yaml:"changelog,omitempty"`
}

// RepositoryConfig locates the git repository to release.
type RepositoryConfig struct {
	Path   string      `yaml:"path,omitempty"` // local checkout; takes precedence over URL
	URL    string      `yaml:"url,omitempty"`  // clone source (daemon mode)
	Remote string      `yaml:"remote,omitempty"`
	Auth   *AuthConfig `yaml:"auth,omitempty"`
}

// AuthConfig represents git authentication configuration
type AuthConfig struct {
	Type     string `yaml:"type"` // "ssh", "token", "basic"
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
	Token    string `yaml:"token,omitempty"`
	KeyPath  string `yaml:"key_path,omitempty"`
}

// ArchiveConfig controls source archive creation.
type ArchiveConfig struct {
	OutputDir string `yaml:"output_dir,omitempty"`
	Format    string `yaml:"format,omitempty"` // only "tar.gz" is supported
	Prefix    string `yaml:"prefix,omitempty"` // overrides <name>-<version>/
}

// ArtifactHostConfig describes the artifact upload target.
type ArtifactHostConfig struct {
	Enabled   bool   `yaml:"enabled"`
	URL       string `yaml:"url,omitempty"`
	TokenEnv  string `yaml:"token_env,omitempty"`
	TokenFile string `yaml:"token_file,omitempty"`
}

// IndexConfig describes the package index upload target.
type IndexConfig struct {
	Enabled   bool   `yaml:"enabled"`
	URL       string `yaml:"url,omitempty"`
	Username  string `yaml:"username,omitempty"`
	TokenEnv  string `yaml:"token_env,omitempty"`
	TokenFile string `yaml:"token_file,omitempty"`
}

// AnnounceConfig configures optional release event publishing.
type AnnounceConfig struct {
	Enabled bool   `yaml:"enabled"`
	NATSURL string `yaml:"nats_url,omitempty"`
	Subject string `yaml:"subject,omitempty"`
	Stream  string `yaml:"stream,omitempty"`
}

// DaemonConfig configures watch mode.
type DaemonConfig struct {
	PollInterval string `yaml:"poll_interval,omitempty"`
	Listen       string `yaml:"listen,omitempty"`
	DataDir      string `yaml:"data_dir,omitempty"`
	MaxConns     int    `yaml:"max_conns,omitempty"`
}

// RetryConfig configures backoff for transient git/upload failures.
type RetryConfig struct {
	MaxRetries   int    `yaml:"max_retries,omitempty"`
	Backoff      string `yaml:"backoff,omitempty"` // fixed|linear|exponential
	InitialDelay string `yaml:"initial_delay,omitempty"`
	MaxDelay     string `yaml:"max_delay,omitempty"`
}

// LoggingConfig controls the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level,omitempty"`  // debug|info|warn|error
	Format string `yaml:"format,omitempty"` // text|json
}

// Load loads configuration from the specified file
func Load(configPath string) (*Config, error) {
	// Load .env file if it exists
	if err := loadEnvFile(); err != nil {
		// Don't fail if .env doesn't exist, just log it
		fmt.Fprintf(os.Stderr, "Note: .env file not found or couldn't be loaded: %v\n", err)
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s", configPath)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))

	var config Config
	if err := yaml.Unmarshal([]byte(expandedData), &config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Repository.Remote == "" {
		c.Repository.Remote = "origin"
	}
	if c.Repository.Path == "" && c.Repository.URL == "" {
		c.Repository.Path = "."
	}
	if c.Archive.OutputDir == "" {
		c.Archive.OutputDir = "./dist"
	}
	if c.Archive.Format == "" {
		c.Archive.Format = "tar.gz"
	}
	if c.Index.Username == "" {
		c.Index.Username = "__token__"
	}
	if c.Announce.Subject == "" {
		c.Announce.Subject = "releases"
	}
	if c.Announce.Stream == "" {
		c.Announce.Stream = "RELEASES"
	}
	if c.Daemon.PollInterval == "" {
		c.Daemon.PollInterval = "5m"
	}
	if c.Daemon.Listen == "" {
		c.Daemon.Listen = ":9477"
	}
	if c.Daemon.DataDir == "" {
		c.Daemon.DataDir = "./relbuilder-data"
	}
	if c.Daemon.MaxConns <= 0 {
		c.Daemon.MaxConns = 32
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks invariants that would otherwise surface mid-pipeline.
func (c *Config) Validate() error {
	if c.Project.Name == "" {
		return fmt.Errorf("project.name is required")
	}
	if c.Archive.Format != "tar.gz" {
		return fmt.Errorf("unsupported archive format %q (only tar.gz)", c.Archive.Format)
	}
	if c.ArtifactHost.Enabled && c.ArtifactHost.URL == "" {
		return fmt.Errorf("artifact_host.url is required when artifact_host.enabled")
	}
	if c.Index.Enabled && c.Index.URL == "" {
		return fmt.Errorf("index.url is required when index.enabled")
	}
	if c.Announce.Enabled && c.Announce.NATSURL == "" {
		return fmt.Errorf("announce.nats_url is required when announce.enabled")
	}
	if _, err := time.ParseDuration(c.Daemon.PollInterval); err != nil {
		return fmt.Errorf("invalid daemon.poll_interval %q: %w", c.Daemon.PollInterval, err)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("invalid logging.format %q (text|json)", c.Logging.Format)
	}
	return nil
}

// PollInterval returns the parsed daemon poll interval.
func (c *Config) PollInterval() time.Duration {
	d, err := time.ParseDuration(c.Daemon.PollInterval)
	if err != nil || d <= 0 {
		return 5 * time.Minute
	}
	return d
}

// RetryPolicy converts the raw retry block into a policy, falling back to
// defaults for unset or unparsable values.
func (c *Config) RetryPolicy() retry.Policy {
	initial, _ := time.ParseDuration(c.Retry.InitialDelay)
	maxDelay, _ := time.ParseDuration(c.Retry.MaxDelay)
	maxRetries := c.Retry.MaxRetries
	if c.Retry.MaxRetries == 0 && c.Retry.Backoff == "" && c.Retry.InitialDelay == "" {
		maxRetries = -1 // whole block unset -> policy default
	}
	return retry.NewPolicy(retry.BackoffMode(strings.ToLower(c.Retry.Backoff)), initial, maxDelay, maxRetries)
}
